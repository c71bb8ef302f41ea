package ledger

import (
	"context"
	"time"

	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CurrencyNormalizer expresses platform amounts in shop currency
type CurrencyNormalizer struct {
	rates  domain.ExchangeRateSource
	cache  domain.RateCache
	ttl    time.Duration
	retry  RetryPolicy
	logger *zap.Logger
}

// CurrencyNormalizerConfig contains the dependencies of CurrencyNormalizer.
// Rates may be nil, in which case only same-currency amounts are usable.
type CurrencyNormalizerConfig struct {
	Rates    domain.ExchangeRateSource
	Cache    domain.RateCache
	CacheTTL time.Duration
	Retry    RetryPolicy
	Logger   *zap.Logger
}

// NewCurrencyNormalizer creates a new CurrencyNormalizer
func NewCurrencyNormalizer(cfg CurrencyNormalizerConfig) *CurrencyNormalizer {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &CurrencyNormalizer{
		rates:  cfg.Rates,
		cache:  cfg.Cache,
		ttl:    cfg.CacheTTL,
		retry:  cfg.Retry,
		logger: cfg.Logger,
	}
}

// Extract picks the amount for currency from a price set
func (c *CurrencyNormalizer) Extract(set *domain.PriceSet, currency string) (domain.Money, bool) {
	return set.Pick(currency)
}

// Convert converts amount from one currency to another. converted is false
// when no rate could be obtained; the amount is then returned unchanged.
func (c *CurrencyNormalizer) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, bool) {
	from, to = domain.NormalizeCurrency(from), domain.NormalizeCurrency(to)
	if from == to || from == "" || amount.IsZero() {
		return amount, true
	}
	rate, ok := c.rate(ctx, from, to)
	if !ok {
		return amount, false
	}
	return domain.RoundMoney(amount.Mul(rate)), true
}

// ToShop returns a price set's amount in shopCurrency. When the set is nil
// fallback is used. ok is false when the amount could not be converted.
func (c *CurrencyNormalizer) ToShop(ctx context.Context, set *domain.PriceSet, fallback domain.Money, shopCurrency string) (decimal.Decimal, bool) {
	m, found := set.Pick(shopCurrency)
	if !found {
		m = fallback
	}
	return c.Convert(ctx, m.Amount, m.CurrencyCode, shopCurrency)
}

func (c *CurrencyNormalizer) rate(ctx context.Context, from, to string) (decimal.Decimal, bool) {
	if c.cache != nil {
		if r, ok, err := c.cache.Get(ctx, from, to); err == nil && ok {
			return r, true
		} else if err != nil {
			c.logger.Warn("Rate cache read failed", zap.String("from", from), zap.String("to", to), zap.Error(err))
		}
	}
	if c.rates == nil {
		return decimal.Zero, false
	}

	var rate decimal.Decimal
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		r, err := c.rates.Rate(ctx, from, to)
		if err != nil {
			return err
		}
		rate = r
		return nil
	})
	if err != nil || !rate.IsPositive() {
		c.logger.Warn("Exchange rate unavailable",
			zap.String("from", from),
			zap.String("to", to),
			zap.Error(err))
		return decimal.Zero, false
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, from, to, rate, c.ttl); err != nil {
			c.logger.Warn("Rate cache write failed", zap.Error(err))
		}
	}
	return rate, true
}
