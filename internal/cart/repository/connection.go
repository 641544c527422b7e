package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/storefront/internal/config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ConnectMongoDB opens the cart database and pings it within cfg.ConnectTimeout.
func ConnectMongoDB(ctx context.Context, cfg config.Mongo) (*mongo.Database, error) {
	if !cfg.Enabled() {
		return nil, errors.New("mongo uri is empty")
	}
	if cfg.DBName == "" {
		return nil, errors.New("mongo database name is empty")
	}

	client, err := mongo.Connect(ctx, clientOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB %s: %w", cfg.DBName, err)
	}

	return client.Database(cfg.DBName), nil
}

// clientOptions leaves the driver default for every zero setting.
func clientOptions(cfg config.Mongo) *options.ClientOptions {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	if cfg.ServerSelectionTimeout > 0 {
		opts.SetServerSelectionTimeout(cfg.ServerSelectionTimeout)
	}
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	if cfg.MinPoolSize > 0 {
		opts.SetMinPoolSize(cfg.MinPoolSize)
	}
	return opts
}
