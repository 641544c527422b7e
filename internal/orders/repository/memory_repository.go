package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/google/uuid"
)

type idempotencyKey struct {
	userID string
	key    string
}

type memoryOutboxEvent struct {
	OutboxEvent
	processedAt *time.Time
}

// MemoryRepository keeps orders and their outbox rows in process memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]*domain.Order
	byKey  map[idempotencyKey]uuid.UUID
	outbox []*memoryOutboxEvent
	nextID int64
}

var (
	_ OrderRepository  = (*MemoryRepository)(nil)
	_ OutboxRepository = (*MemoryRepository)(nil)
)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders: make(map[uuid.UUID]*domain.Order),
		byKey:  make(map[idempotencyKey]uuid.UUID),
	}
}

func (r *MemoryRepository) Save(ctx context.Context, order *domain.Order) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	payload, err := orderPlacedPayload(order)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistFailure, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return fmt.Errorf("save order %s: %w: duplicate id", order.ID, domain.ErrPersistFailure)
	}
	if order.IdempotencyKey != "" {
		k := idempotencyKey{order.UserID, order.IdempotencyKey}
		if _, exists := r.byKey[k]; exists {
			return ErrDuplicateCheckout
		}
		r.byKey[k] = order.ID
	}
	r.orders[order.ID] = cloneOrder(order)

	r.nextID++
	r.outbox = append(r.outbox, &memoryOutboxEvent{OutboxEvent: OutboxEvent{
		ID:          r.nextID,
		AggregateID: order.ID.String(),
		EventType:   domain.EventOrderPlaced,
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	}})
	return nil
}

func (r *MemoryRepository) FindByID(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (r *MemoryRepository) FindByUser(_ context.Context, userID string) ([]*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orders := make([]*domain.Order, 0)
	for _, o := range r.orders {
		if o.UserID == userID {
			orders = append(orders, cloneOrder(o))
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

func (r *MemoryRepository) FindByIdempotencyKey(_ context.Context, userID, key string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byKey[idempotencyKey{userID, key}]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(r.orders[id]), nil
}

func (r *MemoryRepository) GetUnprocessedEvents(_ context.Context, limit int) ([]*OutboxEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := make([]*OutboxEvent, 0, limit)
	for _, e := range r.outbox {
		if len(events) == limit {
			break
		}
		if e.processedAt == nil {
			cp := e.OutboxEvent
			events = append(events, &cp)
		}
	}
	return events, nil
}

func (r *MemoryRepository) MarkEventAsProcessed(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.outbox {
		if e.ID == id {
			now := time.Now().UTC()
			e.processedAt = &now
			return nil
		}
	}
	return fmt.Errorf("outbox event %d: %w", id, domain.ErrNotFound)
}

func (r *MemoryRepository) PurgeProcessedEvents(_ context.Context, olderThan time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	kept := r.outbox[:0]
	var purged int64
	for _, e := range r.outbox {
		if e.processedAt != nil && e.processedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	r.outbox = kept
	return purged, nil
}

func (r *MemoryRepository) Close() error {
	return nil
}
