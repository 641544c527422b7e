package checkout

import (
	"context"
	"errors"

	"github.com/fjod/storefront/internal/domain"
	"go.uber.org/zap"
)

func (s *Service) reserveInventory(ctx context.Context, a *attempt, lines []domain.OrderLine) (*domain.Reservation, error) {
	items := make([]domain.ReservationItem, len(lines))
	for i, line := range lines {
		items[i] = domain.ReservationItem{Variant: line.Variant, Quantity: line.Quantity}
	}

	reserveCtx, cancel := context.WithTimeout(ctx, s.timeouts.Storage)
	defer cancel()

	reservation, err := s.inventory.TryReserve(reserveCtx, a.id.String(), items)
	if err != nil {
		var stockErr *domain.InsufficientStockError
		if errors.As(err, &stockErr) {
			a.log.Info("checkout_insufficient_stock",
				zap.Stringer("variant", stockErr.Variant),
				zap.Int32("requested", stockErr.Requested),
				zap.Int32("available", stockErr.Available),
			)
			return nil, err
		}
		return nil, domain.StorageError("reserve inventory", err)
	}

	a.log.Debug("inventory_reserved", zap.String("reservation_id", reservation.ID))
	return reservation, nil
}
