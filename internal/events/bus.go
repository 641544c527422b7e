package events

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/metrics"
	"github.com/fjod/storefront/pkg/logger"
	"go.uber.org/zap"
)

const (
	queueSize      = 1024
	concurrency    = 8
	handlerTimeout = 30 * time.Second
)

var ErrBusStopped = errors.New("event bus stopped")

// Handler reacts to one event. Errors are logged, never propagated to the publisher.
type Handler func(ctx context.Context, e domain.Event) error

// Bus fans events out to in-process subscribers. It is not durable: events still queued when
// the bus stops are lost. Orders reach other services through the outbox instead.
type Bus struct {
	mu    sync.RWMutex
	subs  map[string][]Handler
	queue chan domain.Event

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup

	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewBus(log *zap.Logger, m *metrics.Metrics) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		subs:    make(map[string][]Handler),
		queue:   make(chan domain.Event, queueSize),
		done:    make(chan struct{}),
		log:     log.With(zap.String("component", "event_bus")),
		metrics: metrics.Or(m),
	}
}

func (b *Bus) Subscribe(eventName string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventName] = append(b.subs[eventName], h)
}

func (b *Bus) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		bg, cancel := context.WithCancel(ctx)
		b.cancel = cancel
		b.wg.Add(1)
		go b.dispatchLoop(bg)
		b.log.Info("event_bus_started")
	})
}

// Stop ends dispatching and waits for in-flight handlers.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		if b.cancel != nil {
			b.cancel()
		}
		b.wg.Wait()
		b.log.Info("event_bus_stopped")
	})
}

// Publish enqueues e. It blocks while the queue is full, until ctx is done.
func (b *Bus) Publish(ctx context.Context, e domain.Event) error {
	if e == nil {
		return nil
	}
	name := e.EventName()

	select {
	case <-b.done:
		b.metrics.EventsPublished.WithLabelValues(name, "stopped").Inc()
		return ErrBusStopped
	default:
	}

	select {
	case b.queue <- e:
		b.metrics.EventsPublished.WithLabelValues(name, "ok").Inc()
		logger.FromContext(ctx, b.log).Debug("event_enqueued", zap.String("event", name))
		return nil
	case <-b.done:
		b.metrics.EventsPublished.WithLabelValues(name, "stopped").Inc()
		return ErrBusStopped
	case <-ctx.Done():
		b.metrics.EventsPublished.WithLabelValues(name, "aborted").Inc()
		logger.FromContext(ctx, b.log).Warn("event_enqueue_aborted",
			zap.String("event", name),
			zap.Error(ctx.Err()),
		)
		return ctx.Err()
	}
}

func (b *Bus) dispatchLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-b.queue:
			b.fanout(ctx, e)
		}
	}
}

func (b *Bus) fanout(ctx context.Context, e domain.Event) {
	name := e.EventName()

	b.mu.RLock()
	handlers := append([]Handler(nil), b.subs[name]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.log.Debug("event_dropped_no_subscriber", zap.String("event", name))
		return
	}

	ctx = context.WithoutCancel(ctx)
	eventLog := b.log.With(zap.String("event", name))

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, h := range handlers {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					eventLog.Error("event_handler_panic",
						zap.Any("panic", r),
						zap.String("stack", string(debug.Stack())),
					)
				}
				<-sem
				wg.Done()
			}()

			hctx, cancel := context.WithTimeout(ctx, handlerTimeout)
			defer cancel()
			if err := h(logger.ContextWithLogger(hctx, eventLog), e); err != nil {
				eventLog.Warn("event_handler_error", zap.Error(err))
			}
		}()
	}

	wg.Wait()
	eventLog.Debug("event_fanned_out", zap.Int("handlers", len(handlers)))
}
