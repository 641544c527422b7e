package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/inventory/store"
	"go.uber.org/zap"
)

const (
	commitAttempts = 3
	commitBackoff  = 50 * time.Millisecond
)

// complete finalises a persisted order. The order is durable at this point, so nothing here
// fails the checkout: each step is retried or logged.
func (s *Service) complete(ctx context.Context, a *attempt, order *domain.Order) error {
	detached := context.WithoutCancel(ctx)

	s.commitInventory(detached, a, order.ReservationID)
	s.clearCart(detached, a, order.UserID, order.CartVersion)

	if err := a.advance(domain.CheckoutStatusCompleted); err != nil {
		return err
	}
	s.publishOrderPlaced(detached, a, order)

	a.log.Info("checkout_completed",
		zap.String("order_id", order.ID.String()),
		zap.String("total_amount", order.TotalAmount.StringFixed(2)),
		zap.Int("lines", len(order.Lines)),
	)
	return nil
}

func (s *Service) commitInventory(ctx context.Context, a *attempt, reservationID string) {
	var err error
	for i := 0; i < commitAttempts; i++ {
		if i > 0 {
			time.Sleep(time.Duration(i) * commitBackoff)
		}
		commitCtx, cancel := context.WithTimeout(ctx, s.timeouts.Storage)
		err = s.inventory.Commit(commitCtx, reservationID)
		cancel()
		if err == nil {
			return
		}
		if errors.Is(err, store.ErrReservationExpired) ||
			errors.Is(err, store.ErrInvalidStatus) ||
			errors.Is(err, domain.ErrNotFound) {
			break
		}
	}
	a.log.Error("reservation_commit_failed",
		zap.String("reservation_id", reservationID),
		zap.Error(err),
	)
}

// clearCart empties the cart the order was built from. A cart written since is kept. On
// failure the orders.placed consumer clears it later.
func (s *Service) clearCart(ctx context.Context, a *attempt, userID string, version int64) {
	clearCtx, cancel := context.WithTimeout(ctx, s.timeouts.Storage)
	defer cancel()

	err := s.carts.ClearCartIfVersion(clearCtx, userID, version)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrConcurrencyConflict):
		a.log.Info("cart_changed_during_checkout", zap.Int64("cart_version", version))
	default:
		a.log.Warn("cart_clear_failed", zap.Error(err))
	}
}

func (s *Service) publishOrderPlaced(ctx context.Context, a *attempt, order *domain.Order) {
	if s.events == nil {
		return
	}
	publishCtx, cancel := context.WithTimeout(ctx, s.timeouts.Publish)
	defer cancel()

	if err := s.events.Publish(publishCtx, domain.NewOrderPlaced(order)); err != nil {
		a.log.Warn("order_event_publish_failed",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
	}
}
