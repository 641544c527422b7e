package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/storefront/internal/cart/cache"
	"github.com/fjod/storefront/internal/cart/repository"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var (
	teeM = domain.VariantID{ProductID: 1, Size: "M"}
	tote = domain.VariantID{ProductID: 5, Size: "ONE"}
)

type fakeCatalog struct {
	m        sync.RWMutex
	variants map[domain.VariantID]domain.Variant
	err      error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{variants: map[domain.VariantID]domain.Variant{
		teeM: {ID: teeM, ProductName: "Classic Tee", Price: decimal.RequireFromString("10.00"), Available: 5},
		tote: {ID: tote, ProductName: "Canvas Tote", Price: decimal.RequireFromString("15.50"), Available: 1},
	}}
}

func (f *fakeCatalog) GetVariant(_ context.Context, id domain.VariantID) (*domain.Variant, error) {
	f.m.RLock()
	defer f.m.RUnlock()
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.variants[id]
	if !ok {
		return nil, fmt.Errorf("variant %w", domain.ErrNotFound)
	}
	return &v, nil
}

func (f *fakeCatalog) setPrice(id domain.VariantID, price string) {
	f.m.Lock()
	defer f.m.Unlock()
	v := f.variants[id]
	v.Price = decimal.RequireFromString(price)
	f.variants[id] = v
}

func (f *fakeCatalog) remove(id domain.VariantID) {
	f.m.Lock()
	defer f.m.Unlock()
	delete(f.variants, id)
}

type mockCache struct {
	m    sync.RWMutex
	cart *domain.Cart
	err  error
}

func (m *mockCache) Get(context.Context, string) (*domain.Cart, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.cart == nil {
		return nil, cache.ErrCacheMiss
	}
	return m.cart, nil
}

func (m *mockCache) Set(_ context.Context, _ string, cart *domain.Cart) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.cart = cart
	return nil
}

func (m *mockCache) Delete(context.Context, string) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.cart = nil
	return nil
}

func (m *mockCache) getCart() *domain.Cart {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.cart
}

// gatedCache holds every Set until release is closed, then reports the result on done.
type gatedCache struct {
	cache.CartCache
	entered chan struct{}
	release chan struct{}
	done    chan error
}

func newGatedCache(next cache.CartCache) *gatedCache {
	return &gatedCache{
		CartCache: next,
		entered:   make(chan struct{}, 4),
		release:   make(chan struct{}),
		done:      make(chan error, 4),
	}
}

func (g *gatedCache) Set(ctx context.Context, userID string, cart *domain.Cart) error {
	g.entered <- struct{}{}
	<-g.release
	err := g.CartCache.Set(ctx, userID, cart)
	g.done <- err
	return err
}

// failingRepository fails or stalls every call
type failingRepository struct {
	err   error
	delay time.Duration
}

func (f failingRepository) wait(ctx context.Context) error {
	if f.delay == 0 {
		return f.err
	}
	select {
	case <-time.After(f.delay):
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f failingRepository) GetCart(ctx context.Context, _ string) (*domain.Cart, error) {
	return nil, f.wait(ctx)
}

func (f failingRepository) ReplaceLines(ctx context.Context, _ string, _ []domain.CartLine) (*domain.Cart, error) {
	return nil, f.wait(ctx)
}

func (f failingRepository) SaveIfVersion(ctx context.Context, _ *domain.Cart) error {
	return f.wait(ctx)
}

func (f failingRepository) RemoveLine(ctx context.Context, _, _ string) error {
	return f.wait(ctx)
}

func (f failingRepository) ClearCart(ctx context.Context, _ string) error {
	return f.wait(ctx)
}

func newService(repo repository.CartRepository, c cache.CartCache, catalog CatalogLookup) *CartService {
	return NewCartService(repo, c, catalog, zap.NewNop(), nil, time.Second)
}

func TestSetCartContents_ThenGetCart_UsesCurrentPrice(t *testing.T) {
	catalog := newFakeCatalog()
	sut := newService(repository.NewMemoryRepository(), &mockCache{}, catalog)
	ctx := context.Background()

	set, err := sut.SetCartContents(ctx, "123", []domain.LineRequest{{Variant: teeM, Quantity: 2}})
	require.NoError(t, err)
	require.Len(t, set.Lines, 1)
	assert.Equal(t, "20.00", set.Lines[0].PriceSnapshot.StringFixed(2))
	assert.Equal(t, "20.00", set.TotalAmount.StringFixed(2))

	catalog.setPrice(teeM, "15.00")

	got, err := sut.GetCart(ctx, "123")
	require.NoError(t, err)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, "Classic Tee", got.Lines[0].ProductName)
	assert.Equal(t, "15.00", got.Lines[0].UnitPrice.StringFixed(2))
	assert.Equal(t, "30.00", got.Lines[0].PriceSnapshot.StringFixed(2))
	assert.Equal(t, "30.00", got.TotalAmount.StringFixed(2))
}

func TestSetCartContents_OverStock_CartUnchanged(t *testing.T) {
	repo := repository.NewMemoryRepository()
	sut := newService(repo, &mockCache{}, newFakeCatalog())
	ctx := context.Background()

	_, err := sut.SetCartContents(ctx, "123", []domain.LineRequest{{Variant: teeM, Quantity: 1}})
	require.NoError(t, err)

	_, err = sut.SetCartContents(ctx, "123", []domain.LineRequest{
		{Variant: teeM, Quantity: 3},
		{Variant: tote, Quantity: 2},
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, tote, stockErr.Variant)
	assert.Equal(t, int32(1), stockErr.Shortfall())

	stored, err := repo.GetCart(ctx, "123")
	require.NoError(t, err)
	require.Len(t, stored.Lines, 1)
	assert.Equal(t, int32(1), stored.Lines[0].Quantity)
}

func TestSetCartContents_UnknownVariant(t *testing.T) {
	repo := repository.NewMemoryRepository()
	sut := newService(repo, &mockCache{}, newFakeCatalog())

	_, err := sut.SetCartContents(context.Background(), "123", []domain.LineRequest{
		{Variant: domain.VariantID{ProductID: 77, Size: "M"}, Quantity: 1},
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = repo.GetCart(context.Background(), "123")
	assert.ErrorIs(t, err, repository.ErrCartNotFound)
}

func TestSetCartContents_Validation(t *testing.T) {
	sut := newService(repository.NewMemoryRepository(), &mockCache{}, newFakeCatalog())
	ctx := context.Background()

	_, err := sut.SetCartContents(ctx, "", nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = sut.SetCartContents(ctx, "123", []domain.LineRequest{{Variant: teeM, Quantity: 0}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = sut.SetCartContents(ctx, "123", []domain.LineRequest{
		{Variant: teeM, Quantity: 1},
		{Variant: teeM, Quantity: 2},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSetCartContents_KeepsLineIDsForSameVariant(t *testing.T) {
	sut := newService(repository.NewMemoryRepository(), &mockCache{}, newFakeCatalog())
	ctx := context.Background()

	first, err := sut.SetCartContents(ctx, "123", []domain.LineRequest{{Variant: teeM, Quantity: 1}})
	require.NoError(t, err)

	second, err := sut.SetCartContents(ctx, "123", []domain.LineRequest{
		{Variant: tote, Quantity: 1},
		{Variant: teeM, Quantity: 4},
	})
	require.NoError(t, err)
	require.Len(t, second.Lines, 2)
	assert.Equal(t, first.Lines[0].ID, second.Lines[1].ID)
	assert.NotEqual(t, first.Lines[0].ID, second.Lines[0].ID)
	assert.Equal(t, int32(4), second.Lines[1].Quantity)
}

func TestSetCartContents_InvalidatesCache(t *testing.T) {
	mc := &mockCache{cart: domain.NewEmptyCart("123")}
	sut := newService(repository.NewMemoryRepository(), mc, newFakeCatalog())

	_, err := sut.SetCartContents(context.Background(), "123", []domain.LineRequest{{Variant: teeM, Quantity: 1}})
	require.NoError(t, err)
	assert.Nil(t, mc.getCart())
}

func TestGetCart_CartNotFound_ReturnsEmptyCart(t *testing.T) {
	sut := newService(repository.NewMemoryRepository(), &mockCache{}, newFakeCatalog())

	ret, err := sut.GetCart(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, "123", ret.UserID)
	assert.NotNil(t, ret.Lines)
	assert.Empty(t, ret.Lines)
	assert.True(t, ret.TotalAmount.IsZero())
}

func TestGetCart_CacheHit(t *testing.T) {
	cached := &domain.Cart{
		UserID:  "123",
		Version: 3,
		Lines:   []domain.CartLine{{ID: "l1", Variant: teeM, Quantity: 3}},
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	// the repository would fail if it were consulted
	sut := NewCartService(failingRepository{err: fmt.Errorf("database error")}, &mockCache{cart: cached}, newFakeCatalog(), zap.NewNop(), m, time.Second)

	ret, err := sut.GetCart(context.Background(), "123")
	require.NoError(t, err)
	require.Len(t, ret.Lines, 1)
	assert.Equal(t, "30.00", ret.TotalAmount.StringFixed(2))

	// the cached value is never priced in place
	assert.True(t, cached.Lines[0].UnitPrice.IsZero())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CartCacheRequests.WithLabelValues("hit")))
}

func TestGetCart_CacheMiss_PopulatesCache(t *testing.T) {
	repo := repository.NewMemoryRepository()
	mc := &mockCache{}
	sut := newService(repo, mc, newFakeCatalog())
	ctx := context.Background()

	_, err := repo.ReplaceLines(ctx, "123", []domain.CartLine{{ID: "l1", Variant: teeM, Quantity: 1}})
	require.NoError(t, err)

	_, err = sut.GetCart(ctx, "123")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return mc.getCart() != nil
	}, 100*time.Millisecond, 10*time.Millisecond, "cart was not set in cache")
	assert.True(t, mc.getCart().Lines[0].PriceSnapshot.IsZero(), "prices must not be cached")
}

func TestGetCart_CacheErrorFallsBackToStore(t *testing.T) {
	repo := repository.NewMemoryRepository()
	sut := newService(repo, &mockCache{err: fmt.Errorf("redis down")}, newFakeCatalog())
	ctx := context.Background()

	_, err := repo.ReplaceLines(ctx, "123", []domain.CartLine{{ID: "l1", Variant: teeM, Quantity: 1}})
	require.NoError(t, err)

	ret, err := sut.GetCart(ctx, "123")
	require.NoError(t, err)
	assert.Len(t, ret.Lines, 1)
}

func TestGetCart_DropsDeletedVariantAndResaves(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	catalog := newFakeCatalog()
	repo := repository.NewMemoryRepository()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	sut := NewCartService(repo, &mockCache{}, catalog, zap.New(core), m, time.Second)
	ctx := context.Background()

	_, err := sut.SetCartContents(ctx, "123", []domain.LineRequest{
		{Variant: teeM, Quantity: 1},
		{Variant: tote, Quantity: 1},
	})
	require.NoError(t, err)

	catalog.remove(tote)

	ret, err := sut.GetCart(ctx, "123")
	require.NoError(t, err)
	require.Len(t, ret.Lines, 1)
	assert.Equal(t, teeM, ret.Lines[0].Variant)
	assert.Equal(t, "10.00", ret.TotalAmount.StringFixed(2))

	stored, err := repo.GetCart(ctx, "123")
	require.NoError(t, err)
	assert.Len(t, stored.Lines, 1)

	dropped := logs.FilterMessage("cart_line_dropped").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, "5/ONE", dropped[0].ContextMap()["variant"])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CartLinesDropped))
}

func TestGetCart_CatalogErrorIsReturned(t *testing.T) {
	catalog := newFakeCatalog()
	repo := repository.NewMemoryRepository()
	sut := newService(repo, &mockCache{}, catalog)
	ctx := context.Background()

	_, err := sut.SetCartContents(ctx, "123", []domain.LineRequest{{Variant: teeM, Quantity: 1}})
	require.NoError(t, err)

	catalog.err = fmt.Errorf("catalog get variant: %w", domain.ErrStorageTimeout)
	_, err = sut.GetCart(ctx, "123")
	assert.ErrorIs(t, err, domain.ErrStorageTimeout)

	// nothing was dropped
	stored, err := repo.GetCart(ctx, "123")
	require.NoError(t, err)
	assert.Len(t, stored.Lines, 1)
}

func TestGetCart_RepoError(t *testing.T) {
	mc := &mockCache{}
	sut := newService(failingRepository{err: fmt.Errorf("database error")}, mc, newFakeCatalog())

	ret, err := sut.GetCart(context.Background(), "123")
	require.ErrorContains(t, err, "database error")
	assert.Nil(t, ret)
	assert.Nil(t, mc.getCart())
}

func TestGetCart_StorageTimeout(t *testing.T) {
	sut := NewCartService(failingRepository{delay: time.Second}, &mockCache{}, newFakeCatalog(), nil, nil, 20*time.Millisecond)

	_, err := sut.GetCart(context.Background(), "123")
	assert.ErrorIs(t, err, domain.ErrStorageTimeout)
}

func TestLoadCart_BypassesCache(t *testing.T) {
	repo := repository.NewMemoryRepository()
	stale := &domain.Cart{UserID: "123", Lines: []domain.CartLine{{ID: "old", Variant: teeM, Quantity: 1}}}
	sut := newService(repo, &mockCache{cart: stale}, newFakeCatalog())

	cart, err := sut.LoadCart(context.Background(), "123")
	require.NoError(t, err)
	assert.Empty(t, cart.Lines)
}

func TestRemoveLine_Success(t *testing.T) {
	repo := repository.NewMemoryRepository()
	mc := &mockCache{}
	sut := newService(repo, mc, newFakeCatalog())
	ctx := context.Background()

	cart, err := sut.SetCartContents(ctx, "123", []domain.LineRequest{
		{Variant: teeM, Quantity: 1},
		{Variant: tote, Quantity: 1},
	})
	require.NoError(t, err)
	mc.Set(ctx, "123", cart)

	require.NoError(t, sut.RemoveLine(ctx, "123", cart.Lines[0].ID))
	require.NoError(t, sut.RemoveLine(ctx, "123", cart.Lines[0].ID))
	require.NoError(t, sut.RemoveLine(ctx, "nobody", "x"))

	stored, err := repo.GetCart(ctx, "123")
	require.NoError(t, err)
	require.Len(t, stored.Lines, 1)
	assert.Equal(t, tote, stored.Lines[0].Variant)
	assert.Nil(t, mc.getCart(), "cache was not invalidated")

	assert.ErrorIs(t, sut.RemoveLine(ctx, "123", ""), domain.ErrValidation)
}

func TestRemoveLine_RepoError(t *testing.T) {
	sut := newService(failingRepository{err: fmt.Errorf("database error")}, &mockCache{}, newFakeCatalog())

	err := sut.RemoveLine(context.Background(), "123", "l1")
	require.ErrorContains(t, err, "database error")
}

func TestClearCart_Success(t *testing.T) {
	repo := repository.NewMemoryRepository()
	mc := &mockCache{}
	sut := newService(repo, mc, newFakeCatalog())
	ctx := context.Background()

	cart, err := sut.SetCartContents(ctx, "123", []domain.LineRequest{{Variant: teeM, Quantity: 1}})
	require.NoError(t, err)
	mc.Set(ctx, "123", cart)

	require.NoError(t, sut.ClearCart(ctx, "123"))
	require.NoError(t, sut.ClearCart(ctx, "123"))

	stored, err := repo.GetCart(ctx, "123")
	require.NoError(t, err)
	assert.Empty(t, stored.Lines)
	assert.Nil(t, mc.getCart(), "cache was not invalidated")
}

func TestClearCart_RepoError(t *testing.T) {
	sut := newService(failingRepository{err: fmt.Errorf("database error")}, &mockCache{}, newFakeCatalog())

	err := sut.ClearCart(context.Background(), "123")
	require.ErrorContains(t, err, "database error")
}

func TestGetCart_SlowFillOvertakenByWrite_ServesNewCart(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	gc := newGatedCache(cache.NewRedisCache(client))
	sut := newService(repository.NewMemoryRepository(), gc, newFakeCatalog())
	ctx := context.Background()

	_, err := sut.SetCartContents(ctx, "u1", []domain.LineRequest{{Variant: teeM, Quantity: 1}})
	require.NoError(t, err)
	mr.FastForward(cache.DefaultFenceTTL + time.Second)

	first, err := sut.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, first.Lines, 1)
	assert.Equal(t, teeM, first.Lines[0].Variant)

	select {
	case <-gc.entered:
	case <-time.After(time.Second):
		t.Fatal("cache fill was not started")
	}

	_, err = sut.SetCartContents(ctx, "u1", []domain.LineRequest{{Variant: tote, Quantity: 1}})
	require.NoError(t, err)
	close(gc.release)

	select {
	case err := <-gc.done:
		assert.ErrorIs(t, err, cache.ErrFenced)
	case <-time.After(time.Second):
		t.Fatal("cache fill did not finish")
	}

	got, err := sut.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, tote, got.Lines[0].Variant)
	assert.Equal(t, int32(1), got.Lines[0].Quantity)
}

func TestClearCartIfVersion(t *testing.T) {
	ctx := context.Background()

	t.Run("MatchingVersion_Clears", func(t *testing.T) {
		repo := repository.NewMemoryRepository()
		mc := &mockCache{}
		sut := newService(repo, mc, newFakeCatalog())

		cart, err := sut.SetCartContents(ctx, "u", []domain.LineRequest{{Variant: teeM, Quantity: 1}})
		require.NoError(t, err)
		mc.Set(ctx, "u", cart)

		require.NoError(t, sut.ClearCartIfVersion(ctx, "u", cart.Version))

		stored, err := repo.GetCart(ctx, "u")
		require.NoError(t, err)
		assert.Empty(t, stored.Lines)
		assert.Nil(t, mc.getCart(), "cache was not invalidated")
	})

	t.Run("RefilledCart_Survives", func(t *testing.T) {
		repo := repository.NewMemoryRepository()
		sut := newService(repo, &mockCache{}, newFakeCatalog())

		bought, err := sut.SetCartContents(ctx, "u", []domain.LineRequest{{Variant: teeM, Quantity: 1}})
		require.NoError(t, err)
		require.NoError(t, sut.ClearCartIfVersion(ctx, "u", bought.Version))

		_, err = sut.SetCartContents(ctx, "u", []domain.LineRequest{{Variant: tote, Quantity: 1}})
		require.NoError(t, err)

		err = sut.ClearCartIfVersion(ctx, "u", bought.Version)
		assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)

		stored, err := repo.GetCart(ctx, "u")
		require.NoError(t, err)
		require.Len(t, stored.Lines, 1)
		assert.Equal(t, tote, stored.Lines[0].Variant)
	})

	t.Run("RepoError", func(t *testing.T) {
		sut := newService(failingRepository{err: fmt.Errorf("database error")}, &mockCache{}, newFakeCatalog())

		err := sut.ClearCartIfVersion(ctx, "u", 1)
		require.ErrorContains(t, err, "database error")
	})
}
