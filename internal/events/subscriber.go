package events

import (
	"context"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/pkg/logger"
	"go.uber.org/zap"
)

// LogSubscriber writes every domain event to the structured log.
type LogSubscriber struct {
	log *zap.Logger
}

func NewLogSubscriber(log *zap.Logger) *LogSubscriber {
	return &LogSubscriber{log: log}
}

// Register subscribes to every event the core emits.
func (s *LogSubscriber) Register(b *Bus) {
	b.Subscribe(domain.EventOrderPlaced, s.Handle)
	b.Subscribe(domain.EventStockChanged, s.Handle)
}

func (s *LogSubscriber) Handle(ctx context.Context, e domain.Event) error {
	log := logger.WithSpan(ctx, s.log)

	switch ev := e.(type) {
	case domain.OrderPlaced:
		log.Info("order_placed",
			zap.String("order_id", ev.OrderID.String()),
			zap.String("user_id", ev.UserID),
			zap.String("total_amount", ev.TotalAmount.StringFixed(2)),
			zap.String("currency", ev.Currency),
			zap.Int("lines", len(ev.Lines)),
		)
	case domain.StockChanged:
		log.Info("stock_changed",
			zap.Stringer("variant", ev.Variant),
			zap.Int32("delta", ev.Delta),
			zap.String("reason", string(ev.Reason)),
		)
	default:
		log.Debug("event_received", zap.String("event", e.EventName()))
	}
	return nil
}
