package cache

import (
	"context"
	"time"

	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/shopspring/decimal"
)

// InMemoryRateCache implements domain.RateCache in process memory
type InMemoryRateCache struct {
	rates *expiringMap[decimal.Decimal]
}

// NewInMemoryRateCache creates an in-memory rate cache
func NewInMemoryRateCache() *InMemoryRateCache {
	return &InMemoryRateCache{rates: newExpiringMap[decimal.Decimal](5 * time.Minute)}
}

// Get returns the cached rate for from->to
func (c *InMemoryRateCache) Get(_ context.Context, from, to string) (decimal.Decimal, bool, error) {
	rate, ok := c.rates.get(rateKey(from, to))
	return rate, ok, nil
}

// Set caches the rate for ttl
func (c *InMemoryRateCache) Set(_ context.Context, from, to string, rate decimal.Decimal, ttl time.Duration) error {
	c.rates.set(rateKey(from, to), rate, ttl)
	return nil
}

// Close stops the sweeper
func (c *InMemoryRateCache) Close() error {
	c.rates.close()
	return nil
}

var _ domain.RateCache = (*InMemoryRateCache)(nil)
