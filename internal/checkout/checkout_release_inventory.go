package checkout

import (
	"context"

	"go.uber.org/zap"
)

// releaseInventory returns held stock. It runs on a context detached from the request, so a
// client that went away still gets its reservation rolled back. A failed release is left to
// the expiry sweep.
func (s *Service) releaseInventory(ctx context.Context, a *attempt, reservationID string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeouts.Release)
	defer cancel()

	if err := s.inventory.Release(releaseCtx, reservationID); err != nil {
		a.log.Error("reservation_release_failed",
			zap.String("reservation_id", reservationID),
			zap.Error(err),
		)
		return
	}
	a.log.Info("reservation_released", zap.String("reservation_id", reservationID))
}
