package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL = 15 * time.Minute
	maxJitter  = 5 * time.Minute

	// DefaultFenceTTL must outlast a store read plus the cache write that follows it.
	DefaultFenceTTL = 30 * time.Second
)

// setUnfenced writes KEYS[1] unless the fence KEYS[2] is present.
var setUnfenced = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

type RedisCache struct {
	client   *redis.Client
	baseTTL  time.Duration
	fenceTTL time.Duration
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{
		client:   client,
		baseTTL:  DefaultTTL,
		fenceTTL: DefaultFenceTTL,
	}
}

func (r *RedisCache) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return &cart, nil
}

// Set stores the cart with a jittered TTL so entries written together do not expire together.
// While a fence left by Delete is live the write is dropped and ErrFenced is returned.
func (r *RedisCache) Set(ctx context.Context, userID string, cart *domain.Cart) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	ttl := r.baseTTL + time.Duration(rand.Int64N(int64(maxJitter)))
	keys := []string{cacheKey(userID), fenceKey(userID)}
	written, err := setUnfenced.Run(ctx, r.client, keys, data, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	if written == 0 {
		return ErrFenced
	}
	return nil
}

// Delete drops the entry and fences the key so a fill that read the store before the
// write cannot put the old cart back.
func (r *RedisCache) Delete(ctx context.Context, userID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, cacheKey(userID))
		pipe.Set(ctx, fenceKey(userID), 1, r.fenceTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(userID string) string {
	return fmt.Sprintf("cart:%s", userID)
}

func fenceKey(userID string) string {
	return fmt.Sprintf("cart:%s:fence", userID)
}
