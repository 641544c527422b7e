package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ServiceName    = "storefront"
	ServiceVersion = "0.1.0"
)

const (
	OrdersTopic      = "orders.placed"
	CartClearGroupID = "cart-service-consumer"
)

type Postgres struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

// Enabled reports whether a postgres backend was configured.
func (p Postgres) Enabled() bool {
	return p.Host != ""
}

// Mongo configures the cart store. An empty URI keeps carts in memory.
type Mongo struct {
	URI                    string
	DBName                 string
	MaxPoolSize            uint64
	MinPoolSize            uint64
	ConnectTimeout         time.Duration
	ServerSelectionTimeout time.Duration
}

func (m Mongo) Enabled() bool {
	return m.URI != ""
}

type Config struct {
	Env      string
	HTTPPort string
	GRPCPort string

	Mongo Mongo

	RedisAddr     string
	RedisPassword string

	Postgres                   Postgres
	OrdersMigrationsDirPath    string
	InventoryMigrationsDirPath string

	SQLitePath               string
	CatalogMigrationsDirPath string

	KafkaBrokers []string

	OtelEndpoint   string
	OtelAuthHeader string

	CatalogTimeout      time.Duration
	StorageTimeout      time.Duration
	ReleaseTimeout      time.Duration
	RequestTimeout      time.Duration
	ShutdownTimeout     time.Duration
	CheckoutLockTimeout time.Duration
	ReservationTTL      time.Duration
	SeedStockQuantity   int
	MaxRequestBodySize  int64
}

func Load() (*Config, error) {
	port, err := getEnvInt("POSTGRES_PORT", 5432)
	if err != nil {
		return nil, err
	}
	seed, err := getEnvInt("SEED_STOCK_QUANTITY", 50)
	if err != nil {
		return nil, err
	}
	mongoMaxPool, err := getEnvInt("MONGO_MAX_POOL_SIZE", 100)
	if err != nil {
		return nil, err
	}
	mongoMinPool, err := getEnvInt("MONGO_MIN_POOL_SIZE", 10)
	if err != nil {
		return nil, err
	}
	if mongoMaxPool <= 0 || mongoMinPool < 0 || mongoMinPool > mongoMaxPool {
		return nil, fmt.Errorf("MONGO_MIN_POOL_SIZE (%d) must be between 0 and MONGO_MAX_POOL_SIZE (%d)", mongoMinPool, mongoMaxPool)
	}

	cfg := &Config{
		Env:      getEnv("APP_ENV", "dev"),
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		GRPCPort: getEnv("GRPC_PORT", "50053"),

		Mongo: Mongo{
			URI:         os.Getenv("MONGO_URI"),
			DBName:      getEnv("MONGO_DB_NAME", "cartdb"),
			MaxPoolSize: uint64(mongoMaxPool),
			MinPoolSize: uint64(mongoMinPool),
		},

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		Postgres: Postgres{
			Host:     os.Getenv("POSTGRES_HOST"),
			Port:     port,
			User:     getEnv("POSTGRES_USER", "storefront"),
			Password: getEnv("POSTGRES_PASSWORD", "storefront"),
			DBName:   getEnv("POSTGRES_DB", "storefront"),
		},
		OrdersMigrationsDirPath:    getEnv("ORDERS_MIGRATIONS_PATH", "internal/orders/repository/migrations"),
		InventoryMigrationsDirPath: getEnv("INVENTORY_MIGRATIONS_PATH", "internal/inventory/store/migrations"),

		SQLitePath:               getEnv("CATALOG_DB_PATH", "catalog.db"),
		CatalogMigrationsDirPath: getEnv("CATALOG_MIGRATIONS_PATH", "internal/catalog/migrations"),

		KafkaBrokers: getEnvList("KAFKA_BROKERS"),

		OtelEndpoint:   os.Getenv("OTEL_ENDPOINT"),
		OtelAuthHeader: os.Getenv("OTEL_AUTH_HEADER"),

		SeedStockQuantity:  seed,
		MaxRequestBodySize: 1 << 20, // 1MB
	}

	durations := []struct {
		key    string
		def    time.Duration
		target *time.Duration
	}{
		{"CATALOG_TIMEOUT", time.Second, &cfg.CatalogTimeout},
		{"STORAGE_TIMEOUT", 2 * time.Second, &cfg.StorageTimeout},
		{"RELEASE_TIMEOUT", 5 * time.Second, &cfg.ReleaseTimeout},
		{"REQUEST_TIMEOUT", 30 * time.Second, &cfg.RequestTimeout},
		{"SHUTDOWN_TIMEOUT", 10 * time.Second, &cfg.ShutdownTimeout},
		{"CHECKOUT_LOCK_TIMEOUT", 5 * time.Second, &cfg.CheckoutLockTimeout},
		{"RESERVATION_TTL", 15 * time.Minute, &cfg.ReservationTTL},
		{"MONGO_CONNECT_TIMEOUT", 10 * time.Second, &cfg.Mongo.ConnectTimeout},
		{"MONGO_SERVER_SELECTION_TIMEOUT", 5 * time.Second, &cfg.Mongo.ServerSelectionTimeout},
	}
	for _, d := range durations {
		v, err := getEnvDuration(d.key, d.def)
		if err != nil {
			return nil, err
		}
		*d.target = v
	}

	if cfg.ReservationTTL <= cfg.ReleaseTimeout {
		return nil, fmt.Errorf("RESERVATION_TTL (%s) must exceed RELEASE_TIMEOUT (%s)", cfg.ReservationTTL, cfg.ReleaseTimeout)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
