package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
)

type CartService interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	SetCartContents(ctx context.Context, userID string, lines []domain.LineRequest) (*domain.Cart, error)
	RemoveLine(ctx context.Context, userID, lineID string) error
	ClearCart(ctx context.Context, userID string) error
}

type CartHandler struct {
	carts   CartService
	timeout time.Duration
}

func NewCartHandler(carts CartService, timeout time.Duration) *CartHandler {
	return &CartHandler{
		carts:   carts,
		timeout: timeout,
	}
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.GetCart(ctx, getUserIDFromContext(ctx))
	if err != nil {
		handleDomainError(ctx, w, err)
		return
	}
	respondJSON(w, http.StatusOK, convertCart(cart))
}

// PUT /api/v1/cart replaces the whole cart.
func (h *CartHandler) SetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req SetCartRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	lines := make([]domain.LineRequest, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, domain.LineRequest{
			Variant:  domain.VariantID{ProductID: l.ProductID, Size: l.Size},
			Quantity: l.Quantity,
		})
	}

	cart, err := h.carts.SetCartContents(ctx, getUserIDFromContext(ctx), lines)
	if err != nil {
		handleDomainError(ctx, w, err)
		return
	}
	respondJSON(w, http.StatusOK, convertCart(cart))
}

// DELETE /api/v1/cart/lines/{line_id}
func (h *CartHandler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.carts.RemoveLine(ctx, getUserIDFromContext(ctx), chi.URLParam(r, "line_id")); err != nil {
		handleDomainError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.carts.ClearCart(ctx, getUserIDFromContext(ctx)); err != nil {
		handleDomainError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
