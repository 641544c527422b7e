package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/cart/cache"
	cartrepo "github.com/fjod/storefront/internal/cart/repository"
	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/checkout"
	"github.com/fjod/storefront/internal/config"
	"github.com/fjod/storefront/internal/database"
	"github.com/fjod/storefront/internal/inventory/store"
	orderrepo "github.com/fjod/storefront/internal/orders/repository"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type orderStore interface {
	orderrepo.OrderRepository
	orderrepo.OutboxRepository
}

// backends holds every storage client. Unset backends fall back to in-memory implementations.
type backends struct {
	catalog   *catalog.Repository
	inventory store.InventoryStore
	orders    orderStore
	carts     cartrepo.CartRepository
	cartCache cache.CartCache
	locker    checkout.Locker

	// seed is set when stock lives in memory and must be seeded from the catalog
	seed store.InventoryStore

	closers []func()
}

func openBackends(ctx context.Context, cfg *config.Config, log *zap.Logger) (*backends, error) {
	b := &backends{}
	if err := b.open(ctx, cfg, log); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *backends) open(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	sqliteDB, err := database.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	b.onClose(func() { _ = sqliteDB.Close() })
	if err := database.MigrateSQLite(sqliteDB, cfg.CatalogMigrationsDirPath); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	b.catalog = catalog.NewRepository(sqliteDB)
	log.Info("catalog_ready", zap.String("path", cfg.SQLitePath))

	if err := b.openLedger(ctx, cfg, log); err != nil {
		return err
	}

	if cfg.Mongo.Enabled() {
		db, err := cartrepo.ConnectMongoDB(ctx, cfg.Mongo)
		if err != nil {
			return fmt.Errorf("carts: %w", err)
		}
		b.onClose(func() { disconnectMongo(db, log) })
		b.carts = cartrepo.NewMongoRepository(db)
		log.Info("cart_store_mongo",
			zap.String("database", cfg.Mongo.DBName),
			zap.Uint64("max_pool_size", cfg.Mongo.MaxPoolSize),
		)
	} else {
		b.carts = cartrepo.NewMemoryRepository()
		log.Info("cart_store_memory")
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		b.onClose(func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		b.cartCache = cache.NewRedisCache(client)
		b.locker = checkout.NewRedisLocker(client, cfg.RequestTimeout+cfg.ReleaseTimeout, cfg.CheckoutLockTimeout, log)
		log.Info("redis_enabled", zap.String("addr", cfg.RedisAddr))
	} else {
		b.cartCache = cache.NopCache{}
		b.locker = checkout.NewMemoryLocker(cfg.CheckoutLockTimeout)
	}
	return nil
}

// openLedger opens the stock ledger and the order store; both share one postgres database.
func (b *backends) openLedger(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	if !cfg.Postgres.Enabled() {
		mem := store.NewMemoryStore(cfg.ReservationTTL)
		b.onClose(func() { _ = mem.Close() })
		b.inventory = mem
		b.seed = mem
		b.orders = orderrepo.NewMemoryRepository()
		log.Info("ledger_memory", zap.Duration("reservation_ttl", cfg.ReservationTTL))
		return nil
	}

	db, err := database.OpenPostgres(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	b.onClose(func() { _ = db.Close() })

	ledger, err := store.NewPostgresStore(db, cfg.InventoryMigrationsDirPath, cfg.ReservationTTL, log)
	if err != nil {
		return fmt.Errorf("stock ledger: %w", err)
	}
	b.onClose(func() { _ = ledger.Close() })
	b.inventory = ledger

	orders, err := orderrepo.NewPostgresRepository(db, cfg.OrdersMigrationsDirPath)
	if err != nil {
		return fmt.Errorf("order store: %w", err)
	}
	b.orders = orders
	logPool(log, db)
	return nil
}

func (b *backends) onClose(fn func()) {
	b.closers = append(b.closers, fn)
}

// Close releases backends in reverse order of opening.
func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

func disconnectMongo(db *mongo.Database, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.Client().Disconnect(ctx); err != nil {
		log.Warn("mongo_disconnect_failed", zap.Error(err))
	}
}

func logPool(log *zap.Logger, db *sql.DB) {
	stats := db.Stats()
	log.Info("ledger_postgres", zap.Int("max_open_connections", stats.MaxOpenConnections))
}
