package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/profitledger/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CostResolver finds the unit cost basis of an inventory item as of an
// order date: stored snapshot first, then a live platform fetch. It never
// invents a cost.
type CostResolver struct {
	snapshots    domain.CostSnapshotRepository
	source       domain.InventoryCostSource
	currency     *CurrencyNormalizer
	retry        RetryPolicy
	fetchTimeout time.Duration
	logger       *zap.Logger
}

// CostResolverConfig contains the dependencies of CostResolver
type CostResolverConfig struct {
	Snapshots domain.CostSnapshotRepository
	// Source may be nil to disable live fetches
	Source       domain.InventoryCostSource
	Currency     *CurrencyNormalizer
	Retry        RetryPolicy
	FetchTimeout time.Duration
	Logger       *zap.Logger
}

// NewCostResolver creates a new CostResolver
func NewCostResolver(cfg CostResolverConfig) *CostResolver {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &CostResolver{
		snapshots:    cfg.Snapshots,
		source:       cfg.Source,
		currency:     cfg.Currency,
		retry:        cfg.Retry,
		fetchTimeout: cfg.FetchTimeout,
		logger:       cfg.Logger,
	}
}

// Resolve returns the unit cost in shop currency and where it came from.
// A nil cost with CostSourceUnresolved means no basis exists.
func (r *CostResolver) Resolve(ctx context.Context, shop *domain.Shop, inventoryItemID string, orderDate time.Time) (*decimal.Decimal, domain.CostSource) {
	if inventoryItemID == "" {
		return nil, domain.CostSourceUnresolved
	}

	snap, err := r.snapshots.FindLatest(ctx, shop.ID, inventoryItemID, orderDate)
	switch {
	case err == nil:
		if cost, ok := r.toShop(ctx, shop, snap.UnitCost, snap.Currency); ok {
			return &cost, snapshotSource(snap)
		}
		return nil, domain.CostSourceUnresolved
	case !errors.Is(err, shared.ErrNotFound):
		r.logger.Warn("Cost snapshot lookup failed",
			zap.String("inventory_item_id", inventoryItemID),
			zap.Error(err))
	}

	if r.source == nil {
		return nil, domain.CostSourceUnresolved
	}

	fetched, err := r.fetch(ctx, shop, inventoryItemID)
	if err != nil {
		r.logger.Warn("Live cost fetch failed",
			zap.String("shop", shop.Domain),
			zap.String("inventory_item_id", inventoryItemID),
			zap.Error(err))
		return nil, domain.CostSourceUnresolved
	}
	if fetched == nil {
		return nil, domain.CostSourceUnresolved
	}

	currency := fetched.Currency
	if currency == "" {
		currency = shop.BaseCurrency
	}
	s := domain.NewCostSnapshot(shop.ID, inventoryItemID, time.Now(), fetched.UnitCost, currency, domain.CostSourceLiveFetch)
	if err := r.snapshots.Save(ctx, &s); err != nil {
		r.logger.Warn("Failed to store fetched cost", zap.String("inventory_item_id", inventoryItemID), zap.Error(err))
	}

	cost, ok := r.toShop(ctx, shop, fetched.UnitCost, currency)
	if !ok {
		return nil, domain.CostSourceUnresolved
	}
	return &cost, domain.CostSourceLiveFetch
}

// snapshotSource is the stored tag of a snapshot, "snapshot" when untagged
func snapshotSource(s *domain.CostSnapshot) domain.CostSource {
	if s.Source == "" || s.Source == domain.CostSourceUnresolved {
		return domain.CostSourceSnapshot
	}
	return s.Source
}

func (r *CostResolver) fetch(ctx context.Context, shop *domain.Shop, itemID string) (*domain.InventoryCost, error) {
	ctx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()

	var out *domain.InventoryCost
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		c, err := r.source.FetchUnitCost(ctx, shop, itemID)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

func (r *CostResolver) toShop(ctx context.Context, shop *domain.Shop, cost decimal.Decimal, currency string) (decimal.Decimal, bool) {
	if r.currency == nil {
		return cost, domain.NormalizeCurrency(currency) == shop.BaseCurrency
	}
	return r.currency.Convert(ctx, cost, currency, shop.BaseCurrency)
}

// CostImportRow is one row of a bulk cost import
type CostImportRow struct {
	InventoryItemID string          `json:"inventory_item_id" validate:"required"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	Currency        string          `json:"currency" validate:"omitempty,len=3"`
	EffectiveDate   time.Time       `json:"effective_date"`
}

// ImportSnapshots stores imported costs. Rows without an effective date are
// effective from the epoch so they apply to all historical orders.
func (r *CostResolver) ImportSnapshots(ctx context.Context, shop *domain.Shop, rows []CostImportRow) (int, error) {
	snaps := make([]domain.CostSnapshot, 0, len(rows))
	for i, row := range rows {
		if err := validatePayload(row); err != nil {
			return 0, fmt.Errorf("row %d: %w", i+1, err)
		}
		if row.UnitCost.IsNegative() {
			return 0, fmt.Errorf("row %d: %w: negative unit cost", i+1, domain.ErrMalformedPayload)
		}
		currency := domain.NormalizeCurrency(row.Currency)
		if currency == "" {
			currency = shop.BaseCurrency
		}
		if !domain.ValidCurrency(currency) {
			return 0, fmt.Errorf("row %d: %w: unknown currency %q", i+1, domain.ErrMalformedPayload, row.Currency)
		}
		effective := row.EffectiveDate
		if effective.IsZero() {
			effective = time.Unix(0, 0)
		}
		snaps = append(snaps, domain.NewCostSnapshot(shop.ID, row.InventoryItemID, effective, row.UnitCost, currency, domain.CostSourceImport))
	}
	if len(snaps) == 0 {
		return 0, nil
	}
	if err := r.snapshots.SaveBatch(ctx, snaps); err != nil {
		return 0, fmt.Errorf("failed to store cost import: %w", err)
	}
	r.logger.Info("Imported cost snapshots",
		zap.String("shop", shop.Domain),
		zap.Int("count", len(snaps)))
	return len(snaps), nil
}
