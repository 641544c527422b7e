package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrOrderNotFound     = fmt.Errorf("order %w", domain.ErrNotFound)
	ErrDuplicateCheckout = errors.New("order for this idempotency key already exists")
)

// OrderRepository stores placed orders. Orders are written once and never updated.
type OrderRepository interface {
	// Save writes the order and all its lines atomically. Failures wrap domain.ErrPersistFailure,
	// a repeated (user, idempotency key) returns ErrDuplicateCheckout.
	Save(ctx context.Context, order *domain.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	// FindByUser lists the user's orders, newest first.
	FindByUser(ctx context.Context, userID string) ([]*domain.Order, error)
	FindByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Order, error)
	Close() error
}

// OutboxEvent is an order event waiting to be relayed to Kafka.
type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     json.RawMessage
	CreatedAt   time.Time
}

type OutboxRepository interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
	// PurgeProcessedEvents deletes rows processed before now minus olderThan.
	PurgeProcessedEvents(ctx context.Context, olderThan time.Duration) (int64, error)
}

func orderPlacedPayload(order *domain.Order) (json.RawMessage, error) {
	payload, err := json.Marshal(domain.NewOrderPlaced(order))
	if err != nil {
		return nil, fmt.Errorf("marshal order event: %w", err)
	}
	return payload, nil
}

func cloneOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Lines = append(make([]domain.OrderLine, 0, len(o.Lines)), o.Lines...)
	return &cp
}
