package domain

import (
	"context"
	"errors"
	"fmt"
)

// Error categories shared by every component. Component errors wrap one of these so callers
// can branch with errors.Is regardless of where the failure came from.
var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrEmptyCart           = errors.New("cart is empty, nothing to checkout")
	ErrStorageTimeout      = errors.New("storage timeout")
	ErrPersistFailure      = errors.New("persist failure")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// ValidationError rejects bad input before it reaches storage.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// InsufficientStockError names the first variant that could not be satisfied.
type InsufficientStockError struct {
	Variant   VariantID
	Requested int32
	Available int32
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %s: requested %d, available %d",
		e.Variant, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Shortfall is how many units are missing to satisfy the request.
func (e *InsufficientStockError) Shortfall() int32 {
	return e.Requested - e.Available
}

// StorageError tags err with the operation name and turns deadline expiry into ErrStorageTimeout.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrStorageTimeout) {
		return fmt.Errorf("%s: %w: %w", op, ErrStorageTimeout, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
