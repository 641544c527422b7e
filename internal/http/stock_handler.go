package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/domain"
)

type StockAdmin interface {
	GetStock(ctx context.Context, variants []domain.VariantID) ([]domain.StockInfo, error)
	SetStock(ctx context.Context, variant domain.VariantID, quantity int32) error
}

type StockHandler struct {
	stock   StockAdmin
	timeout time.Duration
}

func NewStockHandler(stock StockAdmin, timeout time.Duration) *StockHandler {
	return &StockHandler{
		stock:   stock,
		timeout: timeout,
	}
}

// GET /api/v1/stock/{product_id}/{size}
func (h *StockHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := variantFromPath(w, r)
	if !ok {
		return
	}

	stocks, err := h.stock.GetStock(ctx, []domain.VariantID{id})
	if err != nil {
		handleDomainError(ctx, w, domain.StorageError("get stock", err))
		return
	}
	for _, s := range stocks {
		if s.Variant == id {
			respondJSON(w, http.StatusOK, convertStock(s))
			return
		}
	}
	respondError(w, http.StatusNotFound, "not_found", "no stock recorded for variant "+id.String())
}

// PUT /api/v1/stock/{product_id}/{size} sets the on-hand quantity.
func (h *StockHandler) SetStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := variantFromPath(w, r)
	if !ok {
		return
	}

	var req SetStockRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity == nil {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity is required")
		return
	}

	if err := h.stock.SetStock(ctx, id, *req.Quantity); err != nil {
		handleDomainError(ctx, w, domain.StorageError("set stock", err))
		return
	}

	stocks, err := h.stock.GetStock(ctx, []domain.VariantID{id})
	if err != nil || len(stocks) == 0 {
		respondJSON(w, http.StatusOK, StockResponseDTO{ProductID: id.ProductID, Size: id.Size, Total: *req.Quantity, Available: *req.Quantity})
		return
	}
	respondJSON(w, http.StatusOK, convertStock(stocks[0]))
}
