package service

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/storefront/internal/cart/cache"
	"github.com/fjod/storefront/internal/cart/repository"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/metrics"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const cacheOpTimeout = time.Second

// CatalogLookup resolves a variant to its current price and availability.
type CatalogLookup interface {
	GetVariant(ctx context.Context, id domain.VariantID) (*domain.Variant, error)
}

type CartService struct {
	repo    repository.CartRepository
	cache   cache.CartCache
	catalog CatalogLookup
	logger  *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration
	sfg     singleflight.Group // Prevents cache stampede
}

func NewCartService(
	repo repository.CartRepository,
	cartCache cache.CartCache,
	catalog CatalogLookup,
	logger *zap.Logger,
	m *metrics.Metrics,
	storageTimeout time.Duration,
) *CartService {
	if cartCache == nil {
		cartCache = cache.NopCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CartService{
		repo:    repo,
		cache:   cartCache,
		catalog: catalog,
		logger:  logger,
		metrics: metrics.Or(m),
		timeout: storageTimeout,
	}
}

// SetCartContents replaces the cart's lines. Every line is checked against the catalog first;
// if any line fails nothing is written.
func (s *CartService) SetCartContents(ctx context.Context, userID string, requests []domain.LineRequest) (*domain.Cart, error) {
	if userID == "" {
		return nil, domain.NewValidationError("user_id", "must not be empty")
	}

	seen := make(map[domain.VariantID]struct{}, len(requests))
	for _, req := range requests {
		if err := req.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[req.Variant]; dup {
			return nil, domain.NewValidationError("lines", "variant "+req.Variant.String()+" listed more than once")
		}
		seen[req.Variant] = struct{}{}
	}

	variants := make(map[domain.VariantID]*domain.Variant, len(requests))
	for _, req := range requests {
		v, err := s.catalog.GetVariant(ctx, req.Variant)
		if err != nil {
			return nil, err
		}
		if v.Available < req.Quantity {
			return nil, &domain.InsufficientStockError{
				Variant:   req.Variant,
				Requested: req.Quantity,
				Available: v.Available,
			}
		}
		variants[req.Variant] = v
	}

	existing, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	lines := make([]domain.CartLine, 0, len(requests))
	for _, req := range requests {
		line := domain.CartLine{
			ID:       uuid.NewString(),
			Variant:  req.Variant,
			Quantity: req.Quantity,
			AddedAt:  now,
		}
		if prev, ok := existing.FindLine(req.Variant); ok {
			line.ID = prev.ID
			line.AddedAt = prev.AddedAt
		}
		lines = append(lines, line)
	}

	storeCtx, cancel := s.storageContext(ctx)
	saved, err := s.repo.ReplaceLines(storeCtx, userID, lines)
	cancel()
	if err != nil {
		s.logger.Error("cart_save_failed", zap.String("user_id", userID), zap.Error(err))
		return nil, domain.StorageError("cart replace lines", err)
	}
	s.invalidateCache(userID)

	priced := saved.Clone()
	for i := range priced.Lines {
		applyPrice(&priced.Lines[i], variants[priced.Lines[i].Variant])
	}
	priced.TotalAmount = total(priced.Lines)
	return priced, nil
}

// GetCart returns the cart priced against the current catalog. Lines whose variant no longer
// exists are dropped and the cart is saved without them.
func (s *CartService) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	if userID == "" {
		return nil, domain.NewValidationError("user_id", "must not be empty")
	}

	raw, err := s.cached(ctx, userID)
	if err != nil {
		return nil, err
	}

	cart := raw.Clone()
	kept := cart.Lines[:0]
	var dropped []domain.CartLine
	for _, line := range cart.Lines {
		v, err := s.catalog.GetVariant(ctx, line.Variant)
		if errors.Is(err, domain.ErrNotFound) {
			dropped = append(dropped, line)
			continue
		}
		if err != nil {
			return nil, err
		}
		applyPrice(&line, v)
		kept = append(kept, line)
	}
	cart.Lines = kept
	cart.TotalAmount = total(cart.Lines)

	if len(dropped) > 0 {
		s.heal(ctx, cart, dropped)
	}
	return cart, nil
}

// LoadCart returns the stored cart without pricing, read from the store rather than the cache.
func (s *CartService) LoadCart(ctx context.Context, userID string) (*domain.Cart, error) {
	return s.load(ctx, userID)
}

func (s *CartService) RemoveLine(ctx context.Context, userID, lineID string) error {
	if lineID == "" {
		return domain.NewValidationError("line_id", "must not be empty")
	}

	storeCtx, cancel := s.storageContext(ctx)
	defer cancel()
	if err := s.repo.RemoveLine(storeCtx, userID, lineID); err != nil {
		s.logger.Error("cart_remove_line_failed", zap.String("user_id", userID), zap.Error(err))
		return domain.StorageError("cart remove line", err)
	}

	s.invalidateCache(userID)
	return nil
}

func (s *CartService) ClearCart(ctx context.Context, userID string) error {
	storeCtx, cancel := s.storageContext(ctx)
	defer cancel()
	if err := s.repo.ClearCart(storeCtx, userID); err != nil {
		s.logger.Error("cart_clear_failed", zap.String("user_id", userID), zap.Error(err))
		return domain.StorageError("cart clear", err)
	}

	s.invalidateCache(userID)
	return nil
}

// ClearCartIfVersion empties the cart only while it is still at version. A cart written since
// then is left alone and an ErrConcurrencyConflict is returned.
func (s *CartService) ClearCartIfVersion(ctx context.Context, userID string, version int64) error {
	storeCtx, cancel := s.storageContext(ctx)
	defer cancel()

	err := s.repo.SaveIfVersion(storeCtx, &domain.Cart{UserID: userID, Lines: []domain.CartLine{}, Version: version})
	if errors.Is(err, domain.ErrConcurrencyConflict) {
		return err
	}
	if err != nil {
		s.logger.Error("cart_clear_failed", zap.String("user_id", userID), zap.Error(err))
		return domain.StorageError("cart clear", err)
	}

	s.invalidateCache(userID)
	return nil
}

// heal re-saves the cart without dropped lines. A concurrent write wins; the next read retries.
func (s *CartService) heal(ctx context.Context, cart *domain.Cart, dropped []domain.CartLine) {
	for _, line := range dropped {
		s.logger.Info("cart_line_dropped",
			zap.String("user_id", cart.UserID),
			zap.String("line_id", line.ID),
			zap.Stringer("variant", line.Variant),
		)
		s.metrics.CartLinesDropped.Inc()
	}

	storeCtx, cancel := s.storageContext(ctx)
	defer cancel()
	err := s.repo.SaveIfVersion(storeCtx, cart)
	switch {
	case err == nil:
		cart.Version++
	case errors.Is(err, domain.ErrConcurrencyConflict):
		s.logger.Info("cart_heal_skipped", zap.String("user_id", cart.UserID), zap.Error(err))
	default:
		s.logger.Warn("cart_heal_failed", zap.String("user_id", cart.UserID), zap.Error(err))
	}
	s.invalidateCache(cart.UserID)
}

// cached reads the stored cart through the cache. Concurrent misses for one user share a
// single store read.
func (s *CartService) cached(ctx context.Context, userID string) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			s.metrics.CartCacheRequests.WithLabelValues("hit").Inc()
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.metrics.CartCacheRequests.WithLabelValues("error").Inc()
			s.logger.Warn("cart_cache_get_failed", zap.String("user_id", userID), zap.Error(err))
		} else {
			s.metrics.CartCacheRequests.WithLabelValues("miss").Inc()
		}

		cart, err = s.load(ctx, userID)
		if err != nil {
			return nil, err
		}
		if cart.Version == 0 {
			return cart, nil // nothing stored yet
		}

		toCache := cart.Clone()
		go func() {
			setCtx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
			defer cancel()
			err := s.cache.Set(setCtx, userID, toCache)
			switch {
			case err == nil:
			case errors.Is(err, cache.ErrFenced):
				s.logger.Debug("cart_cache_fill_fenced", zap.String("user_id", userID), zap.Int64("version", toCache.Version))
			default:
				s.logger.Warn("cart_cache_set_failed", zap.String("user_id", userID), zap.Error(err))
			}
		}()
		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart), nil
}

// load reads the stored cart; a user without one gets an empty cart.
func (s *CartService) load(ctx context.Context, userID string) (*domain.Cart, error) {
	storeCtx, cancel := s.storageContext(ctx)
	defer cancel()

	cart, err := s.repo.GetCart(storeCtx, userID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return domain.NewEmptyCart(userID), nil
	}
	if err != nil {
		return nil, domain.StorageError("cart get", err)
	}
	return cart, nil
}

func (s *CartService) storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *CartService) invalidateCache(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.logger.Warn("cart_cache_invalidate_failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func applyPrice(line *domain.CartLine, v *domain.Variant) {
	line.ProductName = v.ProductName
	line.UnitPrice = v.UnitPrice()
	line.PriceSnapshot = line.UnitPrice.Mul(decimal.NewFromInt32(line.Quantity))
}

func total(lines []domain.CartLine) decimal.Decimal {
	sum := decimal.Zero
	for _, line := range lines {
		sum = sum.Add(line.PriceSnapshot)
	}
	return sum
}
