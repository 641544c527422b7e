package checkout

import (
	"context"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/inventory/store"
	"github.com/fjod/storefront/internal/metrics"
	"github.com/fjod/storefront/internal/orders/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CartStore is the part of the cart service checkout needs.
type CartStore interface {
	LoadCart(ctx context.Context, userID string) (*domain.Cart, error)
	ClearCartIfVersion(ctx context.Context, userID string, version int64) error
}

type CatalogLookup interface {
	GetVariant(ctx context.Context, id domain.VariantID) (*domain.Variant, error)
}

// EventPublisher delivers OrderPlaced after a completed checkout.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

type Timeouts struct {
	Storage time.Duration // order store calls
	Release time.Duration // compensating release, detached from the request
	Publish time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Storage: 2 * time.Second,
		Release: 5 * time.Second,
		Publish: 300 * time.Millisecond,
	}
}

type Service struct {
	carts     CartStore
	catalog   CatalogLookup
	inventory store.InventoryStore
	orders    repository.OrderRepository
	locker    Locker
	events    EventPublisher
	timeouts  Timeouts
	logger    *zap.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

func NewService(
	carts CartStore,
	catalog CatalogLookup,
	inventory store.InventoryStore,
	orders repository.OrderRepository,
	locker Locker,
	events EventPublisher,
	timeouts Timeouts,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locker == nil {
		locker = NewMemoryLocker(5 * time.Second)
	}
	defaults := DefaultTimeouts()
	if timeouts.Storage <= 0 {
		timeouts.Storage = defaults.Storage
	}
	if timeouts.Release <= 0 {
		timeouts.Release = defaults.Release
	}
	if timeouts.Publish <= 0 {
		timeouts.Publish = defaults.Publish
	}
	return &Service{
		carts:     carts,
		catalog:   catalog,
		inventory: inventory,
		orders:    orders,
		locker:    locker,
		events:    events,
		timeouts:  timeouts,
		logger:    logger,
		metrics:   metrics.Or(m),
		tracer:    otel.Tracer("storefront/checkout"),
	}
}
