package cache

import (
	"context"
	"fmt"
	"time"

	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/profitledger/backend/internal/domain/shared"
	"github.com/profitledger/backend/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Stores bundles the shared-state stores used by the ledger
type Stores struct {
	Leases shared.LeaseStore
	Rates  domain.RateCache
	// Distributed reports whether the stores are backed by Redis
	Distributed bool
	closers     []func() error
}

// Close releases every store and the Redis client
func (s *Stores) Close() error {
	var firstErr error
	for _, c := range s.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StoreFactory creates lease and rate stores based on configuration
type StoreFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// StoreFactoryOption is a functional option for configuring the factory
type StoreFactoryOption func(*StoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to in-memory stores
// when Redis is unavailable. Default is true.
func WithInMemoryFallback(allow bool) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewStoreFactory creates a new factory
func NewStoreFactory(cfg config.RedisConfig, opts ...StoreFactoryOption) *StoreFactory {
	f := &StoreFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Connect opens and pings a Redis client
func (f *StoreFactory) Connect(ctx context.Context) (*redis.Client, error) {
	if f.redisConfig.Host == "" {
		return nil, fmt.Errorf("redis host not configured")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     f.redisConfig.Addr(),
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// CreateInMemoryStores creates process-local stores. Leases held in memory
// do not stop a second instance from running the same backfill.
func (f *StoreFactory) CreateInMemoryStores() *Stores {
	leases := NewInMemoryLeaseStore()
	rates := NewInMemoryRateCache()
	return &Stores{
		Leases:  leases,
		Rates:   rates,
		closers: []func() error{leases.Close, rates.Close},
	}
}

// CreateStores tries Redis first and falls back to in-memory stores when
// fallback is allowed
func (f *StoreFactory) CreateStores(ctx context.Context) (*Stores, error) {
	client, err := f.Connect(ctx)
	if err == nil {
		f.logger.Info("Using Redis lease store and rate cache", zap.String("addr", f.redisConfig.Addr()))
		return &Stores{
			Leases:      NewRedisLeaseStore(client, ""),
			Rates:       NewRedisRateCache(client),
			Distributed: true,
			closers:     []func() error{client.Close},
		}, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory stores. "+
		"Backfill leases are not shared across instances.",
		zap.Error(err))
	return f.CreateInMemoryStores(), nil
}
