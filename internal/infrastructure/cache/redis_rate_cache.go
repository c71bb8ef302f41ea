package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const rateKeyPrefix = "fx:rate:"

// rateKey returns fx:rate:FROM:TO
func rateKey(from, to string) string {
	return rateKeyPrefix + strings.ToUpper(from) + ":" + strings.ToUpper(to)
}

// RedisRateCache implements domain.RateCache in Redis so every instance
// converts with the same rate
type RedisRateCache struct {
	client *redis.Client
}

// NewRedisRateCache creates a rate cache on an existing client
func NewRedisRateCache(client *redis.Client) *RedisRateCache {
	return &RedisRateCache{client: client}
}

// Get returns the cached rate
func (c *RedisRateCache) Get(ctx context.Context, from, to string) (decimal.Decimal, bool, error) {
	raw, err := c.client.Get(ctx, rateKey(from, to)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to read rate %s->%s: %w", from, to, err)
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		// a corrupt entry is a miss; the next Set overwrites it
		return decimal.Zero, false, nil
	}
	return rate, true, nil
}

// Set stores the rate with ttl
func (c *RedisRateCache) Set(ctx context.Context, from, to string, rate decimal.Decimal, ttl time.Duration) error {
	if err := c.client.Set(ctx, rateKey(from, to), rate.String(), ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache rate %s->%s: %w", from, to, err)
	}
	return nil
}

var _ domain.RateCache = (*RedisRateCache)(nil)
