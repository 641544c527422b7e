package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/kafkautil"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	clearTimeout   = 5 * time.Second
	readRetryDelay = time.Second
)

// CartClearer empties a user's cart if it has not changed since the given version.
type CartClearer interface {
	ClearCartIfVersion(ctx context.Context, userID string, version int64) error
}

// MessageReader is the subset of *kafka.Reader the poller uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Poller consumes order.placed events and clears the buyer's cart. Checkout already clears
// the cart synchronously; this covers the cases where that step failed.
type Poller struct {
	carts  CartClearer
	reader MessageReader
	logger *zap.Logger
	tracer trace.Tracer
}

func NewPoller(carts CartClearer, reader MessageReader, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		carts:  carts,
		reader: reader,
		logger: logger,
		tracer: otel.Tracer("storefront/cart-poller"),
	}
}

// Run reads until ctx is cancelled or the reader is closed.
func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		m, err := p.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			p.logger.Warn("order_event_read_failed", zap.Error(err))
			select {
			case <-time.After(readRetryDelay):
			case <-ctx.Done():
				return
			}
			continue
		}
		if err := p.handleMessage(ctx, m); err != nil {
			p.logger.Warn("order_event_skipped",
				zap.Int64("offset", m.Offset),
				zap.Error(err),
			)
		}
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.logger.Warn("error closing reader", zap.Error(err))
	}
}

func (p *Poller) handleMessage(ctx context.Context, m kafka.Message) error {
	if eventType := kafkautil.EventType(m); eventType != "" && eventType != domain.EventOrderPlaced {
		return nil
	}

	ctx = kafkautil.Extract(ctx, &m)
	ctx, span := p.tracer.Start(ctx, "cart.ClearOnOrderPlaced", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	var event domain.OrderPlaced
	if err := json.Unmarshal(m.Value, &event); err != nil {
		return fmt.Errorf("error parsing message: %w", err)
	}
	if event.UserID == "" {
		return errors.New("missing or invalid user_id")
	}
	if event.CartVersion <= 0 {
		return errors.New("missing or invalid cart_version")
	}
	span.SetAttributes(
		attribute.String("user.id", event.UserID),
		attribute.String("order.id", event.OrderID.String()),
		attribute.Int64("cart.version", event.CartVersion),
	)

	clearCtx, cancel := context.WithTimeout(ctx, clearTimeout)
	defer cancel()
	err := p.carts.ClearCartIfVersion(clearCtx, event.UserID, event.CartVersion)
	if errors.Is(err, domain.ErrConcurrencyConflict) {
		// cleared by checkout already, or written since the order
		p.logger.Info("cart_clear_skipped",
			zap.String("user_id", event.UserID),
			zap.String("order_id", event.OrderID.String()),
			zap.Int64("cart_version", event.CartVersion),
		)
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to clear cart: %w", err)
	}

	p.logger.Info("cart_cleared_on_order",
		zap.String("user_id", event.UserID),
		zap.String("order_id", event.OrderID.String()),
	)
	return nil
}
