package store

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/google/uuid"
)

type stockSlot struct {
	mu    sync.Mutex
	stock domain.StockInfo
}

// MemoryStore implements InventoryStore in memory. Each variant has its own lock; a reservation
// locks its variants in VariantID order so concurrent reservations never deadlock.
type MemoryStore struct {
	mu    sync.RWMutex // guards the slots map, not the slots
	slots map[domain.VariantID]*stockSlot

	resMu        sync.Mutex
	reservations map[string]*domain.Reservation

	ttl         time.Duration
	stopCleanup chan struct{}
	wg          sync.WaitGroup
}

// NewMemoryStore creates a new in-memory stock ledger
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	s := &MemoryStore{
		slots:        make(map[domain.VariantID]*stockSlot),
		reservations: make(map[string]*domain.Reservation),
		ttl:          ttl,
		stopCleanup:  make(chan struct{}),
	}

	s.wg.Add(1)
	go s.cleanupLoop()

	return s
}

func (s *MemoryStore) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.ExpireReservations()
		case <-s.stopCleanup:
			return
		}
	}
}

// ExpireReservations returns the stock of every reservation past its TTL and reports how many
// were expired.
func (s *MemoryStore) ExpireReservations() int {
	s.resMu.Lock()
	var expired []*domain.Reservation
	for _, reservation := range s.reservations {
		if reservation.Status == domain.StatusReserved && reservation.IsExpired() {
			reservation.Status = domain.StatusExpired
			expired = append(expired, reservation)
		}
	}
	s.resMu.Unlock()

	for _, reservation := range expired {
		s.restore(reservation.Items)
	}
	return len(expired)
}

func (s *MemoryStore) GetStock(_ context.Context, variants []domain.VariantID) ([]domain.StockInfo, error) {
	result := make([]domain.StockInfo, 0, len(variants))
	for _, id := range variants {
		slot := s.slot(id)
		if slot == nil {
			continue
		}
		slot.mu.Lock()
		result = append(result, slot.stock)
		slot.mu.Unlock()
	}
	return result, nil
}

func (s *MemoryStore) TryReserve(ctx context.Context, checkoutID string, items []domain.ReservationItem) (*domain.Reservation, error) {
	if err := validateItems(items); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	held := totals(items)
	slots := make(map[domain.VariantID]*stockSlot, len(held))
	for id := range held {
		if slot := s.slot(id); slot != nil {
			slots[id] = slot
		}
	}

	unlock := lockSlots(slots)
	defer unlock()

	// First pass: validate every item in input order
	err := evaluate(items, func(id domain.VariantID) (domain.StockInfo, bool) {
		slot, ok := slots[id]
		if !ok {
			return domain.StockInfo{}, false
		}
		return slot.stock, true
	})
	if err != nil {
		return nil, err
	}

	// Second pass: hold stock for all items
	for id, qty := range held {
		slots[id].stock.Reserved += qty
		slots[id].stock.Version++
	}

	now := time.Now()
	reservation := &domain.Reservation{
		ID:         uuid.New().String(),
		CheckoutID: checkoutID,
		Items:      append([]domain.ReservationItem(nil), items...),
		Status:     domain.StatusReserved,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}

	s.resMu.Lock()
	s.reservations[reservation.ID] = reservation
	s.resMu.Unlock()

	cp := *reservation
	return &cp, nil
}

func (s *MemoryStore) Commit(_ context.Context, reservationID string) error {
	s.resMu.Lock()
	reservation, exists := s.reservations[reservationID]
	if !exists {
		s.resMu.Unlock()
		return ErrReservationNotFound
	}
	switch reservation.Status {
	case domain.StatusCommitted:
		s.resMu.Unlock()
		return nil
	case domain.StatusExpired:
		s.resMu.Unlock()
		return ErrReservationExpired
	case domain.StatusReserved:
		reservation.Status = domain.StatusCommitted
	default:
		s.resMu.Unlock()
		return ErrInvalidStatus
	}
	items := reservation.Items
	s.resMu.Unlock()

	// Held stock leaves the shelf; available quantity does not change.
	held := totals(items)
	slots := s.slotsFor(held)
	unlock := lockSlots(slots)
	defer unlock()
	for id, qty := range held {
		slots[id].stock.Total -= qty
		slots[id].stock.Reserved -= qty
		slots[id].stock.Version++
	}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, reservationID string) error {
	s.resMu.Lock()
	reservation, exists := s.reservations[reservationID]
	if !exists {
		s.resMu.Unlock()
		return ErrReservationNotFound
	}
	switch reservation.Status {
	case domain.StatusReleased, domain.StatusExpired:
		s.resMu.Unlock()
		return nil
	case domain.StatusReserved:
		reservation.Status = domain.StatusReleased
	default:
		s.resMu.Unlock()
		return ErrInvalidStatus
	}
	items := reservation.Items
	s.resMu.Unlock()

	s.restore(items)
	return nil
}

func (s *MemoryStore) SetStock(_ context.Context, variant domain.VariantID, quantity int32) error {
	if err := variant.Validate(); err != nil {
		return err
	}
	if quantity < 0 {
		return domain.NewValidationError("quantity", "must not be negative")
	}

	s.mu.Lock()
	slot, ok := s.slots[variant]
	if !ok {
		slot = &stockSlot{stock: domain.StockInfo{Variant: variant}}
		s.slots[variant] = slot
	}
	s.mu.Unlock()

	slot.mu.Lock()
	defer slot.mu.Unlock()
	if quantity < slot.stock.Reserved {
		return domain.NewValidationError("quantity", "cannot drop below reserved stock")
	}
	slot.stock.Total = quantity
	slot.stock.Version++
	return nil
}

// Close stops the background cleanup and waits for it to finish
func (s *MemoryStore) Close() error {
	close(s.stopCleanup)
	s.wg.Wait()
	return nil
}

func (s *MemoryStore) restore(items []domain.ReservationItem) {
	held := totals(items)
	slots := s.slotsFor(held)
	unlock := lockSlots(slots)
	defer unlock()
	for id, qty := range held {
		slots[id].stock.Reserved -= qty
		slots[id].stock.Version++
	}
}

func (s *MemoryStore) slot(id domain.VariantID) *stockSlot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slots[id]
}

func (s *MemoryStore) slotsFor(held map[domain.VariantID]int32) map[domain.VariantID]*stockSlot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.VariantID]*stockSlot, len(held))
	for id := range held {
		out[id] = s.slots[id]
	}
	return out
}

// lockSlots locks in VariantID order and returns the matching unlock.
func lockSlots(slots map[domain.VariantID]*stockSlot) func() {
	ids := make([]domain.VariantID, 0, len(slots))
	for id := range slots {
		ids = append(ids, id)
	}
	sortVariants(ids)
	for _, id := range ids {
		slots[id].mu.Lock()
	}
	return func() {
		for i := len(ids) - 1; i >= 0; i-- {
			slots[ids[i]].mu.Unlock()
		}
	}
}
