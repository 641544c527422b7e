package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/fjod/storefront/internal/domain"
)

const (
	// DefaultReservationTTL is how long an uncommitted reservation holds stock
	DefaultReservationTTL = 15 * time.Minute

	// CleanupInterval is how often expired reservations are swept
	CleanupInterval = 30 * time.Second
)

// Common errors returned by the store
var (
	ErrProductNotFound     = fmt.Errorf("variant stock %w", domain.ErrNotFound)
	ErrReservationNotFound = fmt.Errorf("reservation %w", domain.ErrNotFound)
	ErrReservationExpired  = errors.New("reservation has expired")
	ErrInvalidStatus       = errors.New("invalid reservation status for this operation")
)

// InventoryStore is the stock ledger: the only writer of available quantities.
type InventoryStore interface {
	// GetStock returns stock for the given variants; unknown variants are omitted
	GetStock(ctx context.Context, variants []domain.VariantID) ([]domain.StockInfo, error)

	// TryReserve holds every item or none of them. The first item (by input order) that
	// cannot be satisfied fails the call with *domain.InsufficientStockError.
	TryReserve(ctx context.Context, checkoutID string, items []domain.ReservationItem) (*domain.Reservation, error)

	// Commit detaches a reservation from every rollback path. Committing twice is a no-op.
	Commit(ctx context.Context, reservationID string) error

	// Release returns held stock. Releasing a released or expired reservation is a no-op.
	Release(ctx context.Context, reservationID string) error

	// SetStock sets on-hand quantity; it cannot drop below what is currently reserved
	SetStock(ctx context.Context, variant domain.VariantID, quantity int32) error

	// Close shuts down the store and any background processes
	Close() error
}

func validateItems(items []domain.ReservationItem) error {
	if len(items) == 0 {
		return domain.NewValidationError("items", "at least one item is required")
	}
	for _, item := range items {
		if err := item.Variant.Validate(); err != nil {
			return err
		}
		if item.Quantity <= 0 {
			return domain.NewValidationError("quantity", "must be greater than 0")
		}
	}
	return nil
}

// evaluate walks items in input order and reports the first one that cannot be held.
// Repeated variants are checked against their cumulative quantity.
func evaluate(items []domain.ReservationItem, stockOf func(domain.VariantID) (domain.StockInfo, bool)) error {
	requested := make(map[domain.VariantID]int32, len(items))
	for _, item := range items {
		stock, ok := stockOf(item.Variant)
		if !ok {
			return fmt.Errorf("%w: %s", ErrProductNotFound, item.Variant)
		}
		requested[item.Variant] += item.Quantity
		if stock.Available() < requested[item.Variant] {
			return &domain.InsufficientStockError{
				Variant:   item.Variant,
				Requested: requested[item.Variant],
				Available: stock.Available(),
			}
		}
	}
	return nil
}

// totals sums quantities per variant.
func totals(items []domain.ReservationItem) map[domain.VariantID]int32 {
	out := make(map[domain.VariantID]int32, len(items))
	for _, item := range items {
		out[item.Variant] += item.Quantity
	}
	return out
}

func sortVariants(ids []domain.VariantID) {
	slices.SortFunc(ids, func(a, b domain.VariantID) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
}
