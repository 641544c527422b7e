package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 2*time.Second, cfg.StorageTimeout)
	assert.Equal(t, 15*time.Minute, cfg.ReservationTTL)
	assert.False(t, cfg.Postgres.Enabled())
	assert.Empty(t, cfg.KafkaBrokers)

	assert.False(t, cfg.Mongo.Enabled())
	assert.Equal(t, "cartdb", cfg.Mongo.DBName)
	assert.Equal(t, uint64(100), cfg.Mongo.MaxPoolSize)
	assert.Equal(t, uint64(10), cfg.Mongo.MinPoolSize)
	assert.Equal(t, 10*time.Second, cfg.Mongo.ConnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.Mongo.ServerSelectionTimeout)
}

func TestLoad_MongoFromEnv(t *testing.T) {
	t.Setenv("MONGO_URI", "mongodb://carts:27017")
	t.Setenv("MONGO_MAX_POOL_SIZE", "20")
	t.Setenv("MONGO_MIN_POOL_SIZE", "2")
	t.Setenv("MONGO_CONNECT_TIMEOUT", "3s")
	t.Setenv("MONGO_SERVER_SELECTION_TIMEOUT", "1500ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Mongo.Enabled())
	assert.Equal(t, uint64(20), cfg.Mongo.MaxPoolSize)
	assert.Equal(t, uint64(2), cfg.Mongo.MinPoolSize)
	assert.Equal(t, 3*time.Second, cfg.Mongo.ConnectTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.Mongo.ServerSelectionTimeout)
}

func TestLoad_MongoPoolBounds(t *testing.T) {
	t.Setenv("MONGO_MAX_POOL_SIZE", "5")
	t.Setenv("MONGO_MIN_POOL_SIZE", "6")
	_, err := Load()
	require.ErrorContains(t, err, "MONGO_MIN_POOL_SIZE")
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_PORT", "6543")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("CATALOG_TIMEOUT", "250ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Postgres.Enabled())
	assert.Equal(t, 6543, cfg.Postgres.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 250*time.Millisecond, cfg.CatalogTimeout)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("POSTGRES_PORT", "not-a-port")
	_, err := Load()
	require.ErrorContains(t, err, "POSTGRES_PORT")
}

func TestLoad_ReservationTTLMustExceedReleaseTimeout(t *testing.T) {
	t.Setenv("RESERVATION_TTL", "1s")
	_, err := Load()
	require.ErrorContains(t, err, "RESERVATION_TTL")
}
