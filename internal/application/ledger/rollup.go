package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/profitledger/backend/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RollupAggregator rebuilds daily rollups from the orders of a day. It never
// applies deltas, so recomputing any day any number of times converges.
type RollupAggregator struct {
	orders   domain.OrderRepository
	rollups  domain.RollupRepository
	adSpend  domain.AdSpendRepository
	currency *CurrencyNormalizer
	sink     domain.RollupSink
	locks    stripedLock
	logger   *zap.Logger
}

// RollupAggregatorConfig contains the dependencies of RollupAggregator
type RollupAggregatorConfig struct {
	Orders   domain.OrderRepository
	Rollups  domain.RollupRepository
	AdSpend  domain.AdSpendRepository
	Currency *CurrencyNormalizer
	// Sink mirrors stored rollups; optional
	Sink   domain.RollupSink
	Logger *zap.Logger
}

// NewRollupAggregator creates a new RollupAggregator
func NewRollupAggregator(cfg RollupAggregatorConfig) *RollupAggregator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &RollupAggregator{
		orders:   cfg.Orders,
		rollups:  cfg.Rollups,
		adSpend:  cfg.AdSpend,
		currency: cfg.Currency,
		sink:     cfg.Sink,
		logger:   cfg.Logger,
	}
}

// Recompute rebuilds and stores the rollup of the shop's calendar date
func (a *RollupAggregator) Recompute(ctx context.Context, shop *domain.Shop, date time.Time) (*domain.DailyRollup, error) {
	date = domain.CalendarDate(date, time.UTC)
	ctx, span := telemetry.Start(ctx, "ledger.recompute_rollup",
		telemetry.AttrShopDomain.String(shop.Domain),
		telemetry.AttrDate.String(date.Format(time.DateOnly)))
	rollup, err := a.recompute(ctx, shop, date)
	if err == nil {
		span.SetAttributes(telemetry.AttrOrders.Int(rollup.OrderCount))
	}
	telemetry.End(span, &err)
	return rollup, err
}

func (a *RollupAggregator) recompute(ctx context.Context, shop *domain.Shop, date time.Time) (*domain.DailyRollup, error) {
	unlock := a.locks.lock(shop.ID.String() + "/" + date.Format(time.DateOnly))
	defer unlock()

	orders, err := a.orders.FindByEffectiveDate(ctx, shop.ID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to load orders for %s: %w", date.Format(time.DateOnly), err)
	}

	spend := decimal.Zero
	if a.adSpend != nil {
		spend, err = a.adSpend.TotalForDate(ctx, shop.ID, date)
		if err != nil {
			return nil, fmt.Errorf("failed to load ad spend: %w", err)
		}
	}

	rollup := domain.BuildRollup(shop.ID, date, orders, spend)
	if err := a.rollups.Upsert(ctx, &rollup); err != nil {
		return nil, fmt.Errorf("failed to store rollup: %w", err)
	}
	if a.sink != nil {
		if err := a.sink.WriteRollup(ctx, &rollup); err != nil {
			a.logger.Warn("Failed to mirror rollup",
				zap.String("shop", shop.Domain),
				zap.String("date", date.Format(time.DateOnly)),
				zap.Error(err))
		}
	}

	a.logger.Debug("Rollup recomputed",
		zap.String("shop", shop.Domain),
		zap.String("date", date.Format(time.DateOnly)),
		zap.Int("orders", rollup.OrderCount))
	return &rollup, nil
}

// RecomputeRange rebuilds every date in [from, to]
func (a *RollupAggregator) RecomputeRange(ctx context.Context, shop *domain.Shop, from, to time.Time) (int, error) {
	from, to = domain.CalendarDate(from, time.UTC), domain.CalendarDate(to, time.UTC)
	if to.Before(from) {
		return 0, fmt.Errorf("%w: range end before start", domain.ErrMalformedPayload)
	}
	n := 0
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if _, err := a.Recompute(ctx, shop, d); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// AdSpendEntry is one reported channel spend for a day
type AdSpendEntry struct {
	Date     time.Time       `json:"date"`
	Channel  string          `json:"channel" validate:"required,max=64"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"omitempty,len=3"`
}

// RecordAdSpend stores channel spend converted to shop currency and
// recomputes the rollups of the affected dates
func (a *RollupAggregator) RecordAdSpend(ctx context.Context, shop *domain.Shop, entries []AdSpendEntry) ([]time.Time, error) {
	if a.adSpend == nil {
		return nil, fmt.Errorf("%w: ad spend storage not configured", domain.ErrDownstreamUnavailable)
	}

	rows := make([]domain.AdSpendDaily, 0, len(entries))
	dates := map[time.Time]struct{}{}
	for i, e := range entries {
		if err := validatePayload(e); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i+1, err)
		}
		if e.Date.IsZero() {
			return nil, fmt.Errorf("entry %d: %w: date is required", i+1, domain.ErrMalformedPayload)
		}
		if e.Amount.IsNegative() {
			return nil, fmt.Errorf("entry %d: %w: negative amount", i+1, domain.ErrMalformedPayload)
		}
		cur := domain.NormalizeCurrency(e.Currency)
		if cur == "" {
			cur = shop.BaseCurrency
		}
		amount, ok := e.Amount, cur == shop.BaseCurrency
		if !ok && a.currency != nil {
			amount, ok = a.currency.Convert(ctx, e.Amount, cur, shop.BaseCurrency)
		}
		if !ok {
			return nil, fmt.Errorf("entry %d: %w: no rate for %s", i+1, domain.ErrDownstreamUnavailable, cur)
		}
		date := domain.CalendarDate(e.Date, time.UTC)
		rows = append(rows, domain.AdSpendDaily{
			ID:       uuid.New(),
			ShopID:   shop.ID,
			Date:     date,
			Channel:  strings.ToLower(strings.TrimSpace(e.Channel)),
			Amount:   domain.RoundMoney(amount),
			Currency: shop.BaseCurrency,
		})
		dates[date] = struct{}{}
	}

	if err := a.adSpend.Upsert(ctx, rows); err != nil {
		return nil, fmt.Errorf("failed to store ad spend: %w", err)
	}

	affected := make([]time.Time, 0, len(dates))
	for d := range dates {
		affected = append(affected, d)
	}
	sort.Slice(affected, func(i, j int) bool { return affected[i].Before(affected[j]) })
	for _, d := range affected {
		if _, err := a.Recompute(ctx, shop, d); err != nil {
			return affected, err
		}
	}
	return affected, nil
}
