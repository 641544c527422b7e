package checkout

import (
	"fmt"

	"github.com/fjod/storefront/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// attempt tracks one run of the checkout state machine.
type attempt struct {
	id     uuid.UUID
	status domain.CheckoutStatus
	log    *zap.Logger
}

func newAttempt(log *zap.Logger) *attempt {
	id := uuid.New()
	return &attempt{
		id:     id,
		status: domain.CheckoutStatusStarted,
		log:    log.With(zap.String("checkout_id", id.String())),
	}
}

func (a *attempt) advance(to domain.CheckoutStatus) error {
	if !domain.CanTransitionTo(a.status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, a.status, to)
	}
	a.log.Debug("checkout_status_changed",
		zap.Stringer("from", a.status),
		zap.Stringer("to", to),
	)
	a.status = to
	return nil
}

// abort moves a non-terminal attempt to ABORTED; terminal attempts are left alone.
func (a *attempt) abort(reason error) {
	if a.status.IsTerminal() {
		return
	}
	a.log.Info("checkout_aborted",
		zap.Stringer("from", a.status),
		zap.Error(reason),
	)
	a.status = domain.CheckoutStatusAborted
}
