package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type OrderReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	FindByUser(ctx context.Context, userID string) ([]*domain.Order, error)
}

type OrdersHandler struct {
	orders  OrderReader
	timeout time.Duration
}

func NewOrdersHandler(orders OrderReader, timeout time.Duration) *OrdersHandler {
	return &OrdersHandler{
		orders:  orders,
		timeout: timeout,
	}
}

var errOrderNotFound = errors.New("order not found")

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orders, err := h.orders.FindByUser(ctx, getUserIDFromContext(ctx))
	if err != nil {
		handleDomainError(ctx, w, domain.StorageError("list orders", err))
		return
	}

	dtos := make([]OrderResponseDTO, 0, len(orders))
	for _, o := range orders {
		dtos = append(dtos, convertOrder(o))
	}
	respondJSON(w, http.StatusOK, dtos)
}

// GET /api/v1/orders/{order_id}. Orders of other users are reported as missing.
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID, err := uuid.Parse(chi.URLParam(r, "order_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order_id must be a UUID")
		return
	}

	order, err := h.orders.FindByID(ctx, orderID)
	if err != nil {
		handleDomainError(ctx, w, domain.StorageError("get order", err))
		return
	}
	if order.UserID != getUserIDFromContext(ctx) {
		respondError(w, http.StatusNotFound, "not_found", errOrderNotFound.Error())
		return
	}
	respondJSON(w, http.StatusOK, convertOrder(order))
}
