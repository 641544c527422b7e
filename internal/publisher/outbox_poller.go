package publisher

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/storefront/internal/kafkautil"
	"github.com/fjod/storefront/internal/metrics"
	"github.com/fjod/storefront/internal/orders/repository"
	"github.com/fjod/storefront/pkg/circuitbreaker"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	batchSize       = 100
	processedMaxAge = 24 * time.Hour
)

// MessageWriter is the part of *kafka.Writer the poller needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OutboxPoller relays order events written by the order store to Kafka.
type OutboxPoller struct {
	timeout   time.Duration
	eventTick time.Duration
	purgeTick time.Duration
	repo      repository.OutboxRepository
	writer    MessageWriter
	breaker   *circuitbreaker.Breaker
	logger    *zap.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

func NewOutboxPoller(
	repo repository.OutboxRepository,
	writer MessageWriter,
	breaker *circuitbreaker.Breaker,
	logger *zap.Logger,
	m *metrics.Metrics,
) *OutboxPoller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if breaker == nil {
		breaker = circuitbreaker.New(circuitbreaker.DefaultSettings("kafka-outbox"), logger)
	}
	return &OutboxPoller{
		timeout:   5 * time.Second,
		eventTick: time.Second,
		purgeTick: time.Hour,
		repo:      repo,
		writer:    writer,
		breaker:   breaker,
		logger:    logger,
		metrics:   metrics.Or(m),
		tracer:    otel.Tracer("storefront/outbox"),
	}
}

// Run polls until ctx is cancelled.
func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.eventTick)
	purgeTicker := time.NewTicker(p.purgeTick)
	defer eventTicker.Stop()
	defer purgeTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-purgeTicker.C:
			p.purgeProcessedEvents(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) Close() error {
	return p.writer.Close()
}

// processUnpublishedEvents relays one batch and returns how many events were published.
func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) int {
	events, err := p.repo.GetUnprocessedEvents(ctx, batchSize)
	if err != nil {
		p.logger.Error("outbox_fetch_failed", zap.Error(err))
		return 0
	}

	published := 0
	for _, event := range events {
		errPublish := p.publish(ctx, event)
		if errors.Is(errPublish, circuitbreaker.ErrOpen) {
			p.metrics.OutboxPublished.WithLabelValues("breaker_open").Inc()
			p.logger.Warn("outbox_publish_paused", zap.Int("pending", len(events)-published))
			return published
		}
		if errPublish != nil {
			p.metrics.OutboxPublished.WithLabelValues("error").Inc()
			p.logger.Error("outbox_publish_failed", zap.Int64("event_id", event.ID), zap.Error(errPublish))
			continue
		}

		// A failed mark republishes the event on the next tick; consumers are idempotent.
		if errMark := p.repo.MarkEventAsProcessed(ctx, event.ID); errMark != nil {
			p.logger.Error("outbox_mark_failed", zap.Int64("event_id", event.ID), zap.Error(errMark))
		}
		p.metrics.OutboxPublished.WithLabelValues("ok").Inc()
		published++
	}
	return published
}

func (p *OutboxPoller) publish(ctx context.Context, event *repository.OutboxEvent) error {
	ctx, span := p.tracer.Start(ctx, "outbox.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.Int64("outbox.event_id", event.ID),
			attribute.String("event.type", event.EventType),
			attribute.String("order.id", event.AggregateID),
		))
	defer span.End()

	msg := kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: kafkautil.HeaderEventType, Value: []byte(event.EventType)},
		},
	}
	kafkautil.Inject(ctx, &msg)

	err := p.breaker.Execute(func() error {
		writeCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		return p.writer.WriteMessages(writeCtx, msg)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *OutboxPoller) purgeProcessedEvents(ctx context.Context) {
	n, err := p.repo.PurgeProcessedEvents(ctx, processedMaxAge)
	if err != nil {
		p.logger.Warn("outbox_purge_failed", zap.Error(err))
		return
	}
	if n > 0 {
		p.logger.Info("outbox_purged", zap.Int64("events", n))
	}
}
