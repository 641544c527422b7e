package cache

import (
	"context"
	"errors"

	"github.com/fjod/storefront/internal/domain"
)

// CartCache holds stored carts only. Prices are never cached.
//
// Delete is called after every store write. Until the entry is filled again by a read that
// started after that write, Set may refuse with ErrFenced.
type CartCache interface {
	Get(ctx context.Context, userID string) (*domain.Cart, error)
	Set(ctx context.Context, userID string, cart *domain.Cart) error
	Delete(ctx context.Context, userID string) error
}

var (
	ErrCacheMiss = errors.New("cache miss")
	ErrFenced    = errors.New("cache fill fenced by a recent write")
)

// NopCache always misses. It is used when no Redis is configured.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (*domain.Cart, error) { return nil, ErrCacheMiss }

func (NopCache) Set(context.Context, string, *domain.Cart) error { return nil }

func (NopCache) Delete(context.Context, string) error { return nil }
