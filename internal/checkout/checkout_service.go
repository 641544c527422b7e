package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/orders/repository"
	"github.com/fjod/storefront/pkg/logger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Checkout turns the user's cart into an order. Either the order is persisted with its stock
// decremented, or nothing is written and any held stock is returned. Callers retry the whole
// checkout; there is no partial resume.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (order *domain.Order, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "checkout.Checkout",
		trace.WithAttributes(attribute.String("user.id", req.UserID)))
	defer func() {
		outcome := checkoutOutcome(err)
		s.metrics.CheckoutTotal.WithLabelValues(outcome).Inc()
		s.metrics.CheckoutDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if req.UserID == "" {
		return nil, domain.NewValidationError("user_id", "must not be empty")
	}
	log := logger.WithSpan(ctx, s.logger).With(zap.String("user_id", req.UserID))

	unlock, err := s.locker.Lock(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if req.IdempotencyKey != "" {
		previous, err := s.findPrevious(ctx, req)
		if err != nil {
			return nil, err
		}
		if previous != nil {
			log.Info("checkout_replayed",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("order_id", previous.ID.String()),
			)
			return previous, nil
		}
	}

	a := newAttempt(log)
	span.SetAttributes(attribute.String("checkout.id", a.id.String()))

	order, err = s.run(ctx, a, req)
	if err != nil {
		a.abort(err)
		return nil, err
	}
	return order, nil
}

func (s *Service) run(ctx context.Context, a *attempt, req domain.CheckoutRequest) (*domain.Order, error) {
	cart, err := s.carts.LoadCart(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if cart.IsEmpty() {
		return nil, domain.ErrEmptyCart
	}

	lines, err := s.snapshot(ctx, cart)
	if err != nil {
		return nil, err
	}
	if err := a.advance(domain.CheckoutStatusValidated); err != nil {
		return nil, err
	}

	reservation, err := s.reserveInventory(ctx, a, lines)
	if err != nil {
		return nil, err
	}
	if err := a.advance(domain.CheckoutStatusReserved); err != nil {
		s.releaseInventory(ctx, a, reservation.ID)
		return nil, err
	}

	order := newOrder(a, req, cart.Version, lines, reservation.ID)
	if err := s.persistOrder(ctx, order); err != nil {
		if errors.Is(err, repository.ErrDuplicateCheckout) {
			s.releaseInventory(ctx, a, reservation.ID)
			return s.replayDuplicate(ctx, a, req)
		}
		switch s.verifyPersisted(ctx, a, order, err) {
		case orderMissing:
			s.releaseInventory(ctx, a, reservation.ID)
			return nil, err
		case orderUnknown:
			// the reservation is left to expire
			return nil, err
		}
	}
	if err := a.advance(domain.CheckoutStatusOrderPersisted); err != nil {
		return nil, err
	}

	if err := s.complete(ctx, a, order); err != nil {
		return nil, err
	}
	return order, nil
}

func newOrder(a *attempt, req domain.CheckoutRequest, cartVersion int64, lines []domain.OrderLine, reservationID string) *domain.Order {
	return &domain.Order{
		ID:             uuid.New(),
		CheckoutID:     a.id,
		UserID:         req.UserID,
		IdempotencyKey: req.IdempotencyKey,
		ReservationID:  reservationID,
		CartVersion:    cartVersion,
		Lines:          lines,
		TotalAmount:    domain.SumLines(lines),
		Currency:       domain.DefaultCurrency,
		Status:         domain.OrderStatusPlaced,
		CreatedAt:      time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (s *Service) persistOrder(ctx context.Context, order *domain.Order) error {
	storeCtx, cancel := context.WithTimeout(ctx, s.timeouts.Storage)
	defer cancel()

	if err := s.orders.Save(storeCtx, order); err != nil {
		return domain.StorageError("save order", err)
	}
	return nil
}

type persistOutcome int

const (
	orderMissing persistOutcome = iota
	orderStored
	orderUnknown
)

// verifyPersisted looks the order up after a failed save. A commit can succeed even though
// the caller saw a timeout or a cancellation.
func (s *Service) verifyPersisted(ctx context.Context, a *attempt, order *domain.Order, saveErr error) persistOutcome {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeouts.Storage)
	defer cancel()

	_, err := s.orders.FindByID(storeCtx, order.ID)
	switch {
	case err == nil:
		a.log.Warn("order_persisted_despite_error",
			zap.String("order_id", order.ID.String()),
			zap.NamedError("save_error", saveErr),
		)
		return orderStored
	case errors.Is(err, repository.ErrOrderNotFound):
		return orderMissing
	default:
		a.log.Error("order_outcome_unknown",
			zap.String("order_id", order.ID.String()),
			zap.String("reservation_id", order.ReservationID),
			zap.NamedError("save_error", saveErr),
			zap.Error(err),
		)
		return orderUnknown
	}
}

// findPrevious returns the order an earlier checkout with the same idempotency key produced.
func (s *Service) findPrevious(ctx context.Context, req domain.CheckoutRequest) (*domain.Order, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.timeouts.Storage)
	defer cancel()

	order, err := s.orders.FindByIdempotencyKey(storeCtx, req.UserID, req.IdempotencyKey)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StorageError("find order by idempotency key", err)
	}
	return order, nil
}

// replayDuplicate handles a concurrent checkout with the same key winning the insert.
func (s *Service) replayDuplicate(ctx context.Context, a *attempt, req domain.CheckoutRequest) (*domain.Order, error) {
	a.abort(repository.ErrDuplicateCheckout)
	previous, err := s.findPrevious(ctx, req)
	if err != nil {
		return nil, err
	}
	if previous == nil {
		return nil, domain.StorageError("save order", repository.ErrDuplicateCheckout)
	}
	return previous, nil
}

func checkoutOutcome(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, domain.ErrStorageTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrPersistFailure):
		return "persist_failure"
	default:
		return "error"
	}
}
