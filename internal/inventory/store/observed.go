package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// EventPublisher receives StockChanged events.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Observed wraps an InventoryStore with spans, metrics and StockChanged events.
type Observed struct {
	next    InventoryStore
	events  EventPublisher
	metrics *metrics.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer

	// open reservations by ID, so a release can report what it returned
	open sync.Map
}

type openReservation struct {
	items     []domain.ReservationItem
	expiresAt time.Time
}

// openGrace keeps an expired reservation's items around for a late release.
const openGrace = time.Minute

var _ InventoryStore = (*Observed)(nil)

func NewObserved(next InventoryStore, events EventPublisher, m *metrics.Metrics, logger *zap.Logger) *Observed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observed{
		next:    next,
		events:  events,
		metrics: metrics.Or(m),
		logger:  logger,
		tracer:  otel.Tracer("storefront/inventory"),
	}
}

func (o *Observed) GetStock(ctx context.Context, variants []domain.VariantID) ([]domain.StockInfo, error) {
	ctx, span := o.tracer.Start(ctx, "inventory.GetStock",
		trace.WithAttributes(attribute.Int("variants", len(variants))))
	defer span.End()

	stocks, err := o.next.GetStock(ctx, variants)
	recordSpanError(span, err)
	return stocks, err
}

func (o *Observed) TryReserve(ctx context.Context, checkoutID string, items []domain.ReservationItem) (*domain.Reservation, error) {
	ctx, span := o.tracer.Start(ctx, "inventory.TryReserve",
		trace.WithAttributes(
			attribute.String("checkout.id", checkoutID),
			attribute.Int("items", len(items)),
		))
	defer span.End()

	reservation, err := o.next.TryReserve(ctx, checkoutID, items)
	o.count("reserve", err)
	recordSpanError(span, err)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("reservation.id", reservation.ID))
	o.prune(time.Now())
	o.open.Store(reservation.ID, openReservation{items: reservation.Items, expiresAt: reservation.ExpiresAt})
	for id, qty := range totals(reservation.Items) {
		o.publish(ctx, id, -qty, domain.StockReserved)
	}
	return reservation, nil
}

func (o *Observed) Commit(ctx context.Context, reservationID string) error {
	ctx, span := o.tracer.Start(ctx, "inventory.Commit",
		trace.WithAttributes(attribute.String("reservation.id", reservationID)))
	defer span.End()

	err := o.next.Commit(ctx, reservationID)
	o.count("commit", err)
	recordSpanError(span, err)
	if err == nil || terminal(err) {
		o.open.Delete(reservationID)
	}
	return err
}

func (o *Observed) Release(ctx context.Context, reservationID string) error {
	ctx, span := o.tracer.Start(ctx, "inventory.Release",
		trace.WithAttributes(attribute.String("reservation.id", reservationID)))
	defer span.End()

	err := o.next.Release(ctx, reservationID)
	o.count("release", err)
	recordSpanError(span, err)
	if err != nil {
		if terminal(err) {
			o.open.Delete(reservationID)
		}
		return err
	}

	if r, ok := o.open.LoadAndDelete(reservationID); ok {
		for id, qty := range totals(r.(openReservation).items) {
			o.publish(ctx, id, qty, domain.StockReleased)
		}
	}
	return nil
}

func (o *Observed) SetStock(ctx context.Context, variant domain.VariantID, quantity int32) error {
	ctx, span := o.tracer.Start(ctx, "inventory.SetStock",
		trace.WithAttributes(
			attribute.String("variant", variant.String()),
			attribute.Int("quantity", int(quantity)),
		))
	defer span.End()

	var before int32
	if stocks, err := o.next.GetStock(ctx, []domain.VariantID{variant}); err == nil && len(stocks) == 1 {
		before = stocks[0].Total
	}

	err := o.next.SetStock(ctx, variant, quantity)
	o.count("set", err)
	recordSpanError(span, err)
	if err != nil {
		return err
	}

	if delta := quantity - before; delta != 0 {
		o.publish(ctx, variant, delta, domain.StockSet)
	}
	return nil
}

func (o *Observed) Close() error {
	return o.next.Close()
}

// prune drops reservations that expired without being committed or released.
func (o *Observed) prune(now time.Time) {
	o.open.Range(func(id, v any) bool {
		r := v.(openReservation)
		if !r.expiresAt.IsZero() && now.After(r.expiresAt.Add(openGrace)) {
			o.open.Delete(id)
		}
		return true
	})
}

// terminal reports errors after which the reservation can never be released.
func terminal(err error) bool {
	return errors.Is(err, ErrReservationExpired) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, domain.ErrNotFound)
}

func (o *Observed) publish(ctx context.Context, id domain.VariantID, delta int32, reason domain.StockChangeReason) {
	if o.events == nil {
		return
	}
	err := o.events.Publish(ctx, domain.StockChanged{
		Variant:   id,
		Delta:     delta,
		Reason:    reason,
		ChangedAt: time.Now().UTC(),
	})
	if err != nil {
		o.logger.Warn("stock_changed_publish_failed", zap.Stringer("variant", id), zap.Error(err))
	}
}

func (o *Observed) count(operation string, err error) {
	o.metrics.ReservationsTotal.WithLabelValues(operation, outcome(err)).Inc()
	if err != nil && !errors.Is(err, domain.ErrInsufficientStock) && !errors.Is(err, domain.ErrValidation) {
		o.logger.Warn("stock_ledger_operation_failed",
			zap.String("operation", operation),
			zap.Error(err),
		)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return "conflict"
	default:
		return "error"
	}
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
