package repository

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/storefront/internal/domain"
)

// MemoryRepository keeps carts in process memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	carts map[string]*domain.Cart
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{carts: make(map[string]*domain.Cart)}
}

func (r *MemoryRepository) GetCart(_ context.Context, userID string) (*domain.Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cart, ok := r.carts[userID]
	if !ok {
		return nil, ErrCartNotFound
	}
	return cart.Clone(), nil
}

func (r *MemoryRepository) ReplaceLines(_ context.Context, userID string, lines []domain.CartLine) (*domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	cart, ok := r.carts[userID]
	if !ok {
		cart = &domain.Cart{UserID: userID, CreatedAt: now}
		r.carts[userID] = cart
	}
	cart.Lines = append([]domain.CartLine{}, lines...)
	cart.Version++
	cart.UpdatedAt = now

	return cart.Clone(), nil
}

func (r *MemoryRepository) SaveIfVersion(_ context.Context, in *domain.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cart, ok := r.carts[in.UserID]
	if !ok || cart.Version != in.Version {
		return ErrCartVersionConflict
	}
	cart.Lines = append([]domain.CartLine{}, in.Lines...)
	cart.Version++
	cart.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) RemoveLine(_ context.Context, userID, lineID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cart, ok := r.carts[userID]
	if !ok {
		return nil
	}
	for i, line := range cart.Lines {
		if line.ID == lineID {
			cart.Lines = append(cart.Lines[:i:i], cart.Lines[i+1:]...)
			cart.Version++
			cart.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return nil
}

func (r *MemoryRepository) ClearCart(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cart, ok := r.carts[userID]
	if !ok {
		return nil
	}
	cart.Lines = []domain.CartLine{}
	cart.Version++
	cart.UpdatedAt = time.Now().UTC()
	return nil
}
