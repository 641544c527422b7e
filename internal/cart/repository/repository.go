package repository

import (
	"context"
	"fmt"

	"github.com/fjod/storefront/internal/domain"
)

var (
	ErrCartNotFound        = fmt.Errorf("cart %w", domain.ErrNotFound)
	ErrCartVersionConflict = fmt.Errorf("cart changed since it was read: %w", domain.ErrConcurrencyConflict)
)

// CartRepository defines the interface for cart data operations.
// A cart is created by its first ReplaceLines and afterwards only emptied, never deleted.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)

	// ReplaceLines stores lines as the cart's full contents, creating the cart when missing
	ReplaceLines(ctx context.Context, userID string, lines []domain.CartLine) (*domain.Cart, error)

	// SaveIfVersion writes cart.Lines only if the stored version still equals cart.Version
	SaveIfVersion(ctx context.Context, cart *domain.Cart) error

	RemoveLine(ctx context.Context, userID, lineID string) error
	ClearCart(ctx context.Context, userID string) error
}
