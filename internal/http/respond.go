package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/pkg/logger"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

type InsufficientStockDetails struct {
	ProductID int64  `json:"product_id"`
	Size      string `json:"size"`
	Requested int32  `json:"requested"`
	Available int32  `json:"available"`
	Shortfall int32  `json:"shortfall"`
}

type ValidationDetails struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("response_encode_failed", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleDomainError maps the error taxonomy onto HTTP statuses. Infrastructure failures are
// logged here; their text is not returned to the client.
func handleDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	var stockErr *domain.InsufficientStockError
	var validationErr *domain.ValidationError

	switch {
	case errors.As(err, &stockErr):
		respondJSON(w, http.StatusConflict, ErrorResponse{
			Error: err.Error(),
			Code:  "insufficient_stock",
			Details: InsufficientStockDetails{
				ProductID: stockErr.Variant.ProductID,
				Size:      stockErr.Variant.Size,
				Requested: stockErr.Requested,
				Available: stockErr.Available,
				Shortfall: stockErr.Shortfall(),
			},
		})
	case errors.As(err, &validationErr):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   err.Error(),
			Code:    "invalid_argument",
			Details: ValidationDetails{Field: validationErr.Field, Reason: validationErr.Reason},
		})
	case errors.Is(err, domain.ErrValidation):
		respondError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrConcurrencyConflict):
		respondError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrEmptyCart):
		respondError(w, http.StatusUnprocessableEntity, "empty_cart", err.Error())
	case errors.Is(err, domain.ErrStorageTimeout), errors.Is(err, context.DeadlineExceeded):
		logger.FromContext(ctx, zap.L()).Error("request_timed_out", zap.Error(err))
		respondError(w, http.StatusGatewayTimeout, "timeout", "storage did not respond in time")
	case errors.Is(err, domain.ErrPersistFailure):
		logger.FromContext(ctx, zap.L()).Error("persist_failed", zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "service_unavailable", "could not save, try again")
	default:
		logger.FromContext(ctx, zap.L()).Error("request_failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
