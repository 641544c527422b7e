package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/storefront/internal/domain"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type CheckoutService interface {
	Checkout(ctx context.Context, req domain.CheckoutRequest) (*domain.Order, error)
}

type CheckoutHandler struct {
	checkout CheckoutService
	timeout  time.Duration
}

func NewCheckoutHandler(checkout CheckoutService, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		timeout:  timeout,
	}
}

// POST /api/v1/checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if len(key) > 255 {
		respondError(w, http.StatusBadRequest, "invalid_idempotency_key", "idempotency key is longer than 255 characters")
		return
	}

	order, err := h.checkout.Checkout(ctx, domain.CheckoutRequest{
		UserID:         getUserIDFromContext(ctx),
		IdempotencyKey: key,
	})
	if err != nil {
		handleDomainError(ctx, w, err)
		return
	}
	respondJSON(w, http.StatusCreated, convertOrder(order))
}
