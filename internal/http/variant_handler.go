package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
)

type VariantLookup interface {
	GetVariant(ctx context.Context, id domain.VariantID) (*domain.Variant, error)
}

type VariantHandler struct {
	catalog VariantLookup
	timeout time.Duration
}

func NewVariantHandler(catalog VariantLookup, timeout time.Duration) *VariantHandler {
	return &VariantHandler{
		catalog: catalog,
		timeout: timeout,
	}
}

// GET /api/v1/variants/{product_id}/{size}
func (h *VariantHandler) GetVariant(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := variantFromPath(w, r)
	if !ok {
		return
	}

	v, err := h.catalog.GetVariant(ctx, id)
	if err != nil {
		handleDomainError(ctx, w, err)
		return
	}
	respondJSON(w, http.StatusOK, convertVariant(v))
}

// variantFromPath parses {product_id}/{size}; on failure it writes a 400 and returns false.
func variantFromPath(w http.ResponseWriter, r *http.Request) (domain.VariantID, bool) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return domain.VariantID{}, false
	}
	size := chi.URLParam(r, "size")
	if size == "" {
		respondError(w, http.StatusBadRequest, "invalid_size", "size is required")
		return domain.VariantID{}, false
	}
	return domain.VariantID{ProductID: productID, Size: size}, true
}
