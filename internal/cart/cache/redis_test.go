package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/storefront/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a miniredis server and returns a RedisCache instance
func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })

	return NewRedisCache(client), mr
}

func testCart(userID string) *domain.Cart {
	return &domain.Cart{
		UserID: userID,
		Lines: []domain.CartLine{
			{ID: "l1", Variant: domain.VariantID{ProductID: 1, Size: "M"}, Quantity: 2},
			{ID: "l2", Variant: domain.VariantID{ProductID: 2, Size: "L"}, Quantity: 3},
		},
		Version:   4,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestGet_Success(t *testing.T) {
	cache, mr := setupTestRedis(t)
	userID := "user123"

	cartJSON, err := json.Marshal(testCart(userID))
	require.NoError(t, err)
	require.NoError(t, mr.Set(cacheKey(userID), string(cartJSON)))

	result, err := cache.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, userID, result.UserID)
	assert.Equal(t, int64(4), result.Version)
	require.Len(t, result.Lines, 2)
	assert.Equal(t, domain.VariantID{ProductID: 1, Size: "M"}, result.Lines[0].Variant)
}

func TestGet_CacheMiss(t *testing.T) {
	cache, _ := setupTestRedis(t)

	result, err := cache.Get(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, result)
}

func TestGet_InvalidJSON(t *testing.T) {
	cache, mr := setupTestRedis(t)
	userID := "user123"

	cartJSON, err := json.Marshal(testCart(userID))
	require.NoError(t, err)
	require.NoError(t, mr.Set(cacheKey(userID), string(cartJSON[:10])))

	_, err = cache.Get(context.Background(), userID)
	require.ErrorContains(t, err, "unmarshal cart failed")
}

func TestSet_Success(t *testing.T) {
	cache, mr := setupTestRedis(t)
	userID := "user456"

	require.NoError(t, cache.Set(context.Background(), userID, testCart(userID)))

	stored, err := mr.Get(cacheKey(userID))
	require.NoError(t, err)

	var storedCart domain.Cart
	require.NoError(t, json.Unmarshal([]byte(stored), &storedCart))
	assert.Equal(t, userID, storedCart.UserID)
	assert.Len(t, storedCart.Lines, 2)
}

func TestSet_WithTTL(t *testing.T) {
	cache, mr := setupTestRedis(t)
	userID := "user789"

	require.NoError(t, cache.Set(context.Background(), userID, domain.NewEmptyCart(userID)))

	ttl := mr.TTL(cacheKey(userID))
	assert.GreaterOrEqual(t, ttl, DefaultTTL, "TTL should be at least base TTL")
	assert.Less(t, ttl, DefaultTTL+maxJitter, "TTL should be below base + max jitter")
}

func TestDelete_Success(t *testing.T) {
	cache, mr := setupTestRedis(t)
	userID := "user999"

	require.NoError(t, mr.Set(cacheKey(userID), `{"user_id":"user999"}`))
	assert.True(t, mr.Exists(cacheKey(userID)))

	require.NoError(t, cache.Delete(context.Background(), userID))
	assert.False(t, mr.Exists(cacheKey(userID)))
}

func TestDelete_NonExistentKey(t *testing.T) {
	cache, _ := setupTestRedis(t)

	assert.NoError(t, cache.Delete(context.Background(), "nonexistent"))
}

func TestDelete_FencesLaterSet(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()
	userID := "user321"

	stale := testCart(userID)
	require.NoError(t, cache.Delete(ctx, userID))
	assert.True(t, mr.Exists(fenceKey(userID)))
	assert.Equal(t, DefaultFenceTTL, mr.TTL(fenceKey(userID)))

	err := cache.Set(ctx, userID, stale)
	assert.ErrorIs(t, err, ErrFenced)
	assert.False(t, mr.Exists(cacheKey(userID)), "fenced fill must not be written")

	_, err = cache.Get(ctx, userID)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestSet_AfterFenceExpires(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()
	userID := "user654"

	require.NoError(t, cache.Delete(ctx, userID))
	mr.FastForward(DefaultFenceTTL + time.Second)

	require.NoError(t, cache.Set(ctx, userID, testCart(userID)))
	got, err := cache.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Version)
}

func TestNopCache_AlwaysMisses(t *testing.T) {
	var c CartCache = NopCache{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "u", testCart("u")))
	_, err := c.Get(ctx, "u")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCacheKey_Format(t *testing.T) {
	assert.Equal(t, "cart:test123", cacheKey("test123"))
	assert.Equal(t, "cart:test123:fence", fenceKey("test123"))
}
