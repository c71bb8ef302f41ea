package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/profitledger/backend/internal/domain/shared"
	"github.com/profitledger/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormRollupRepository implements RollupRepository using GORM
type GormRollupRepository struct {
	db *gorm.DB
}

// NewGormRollupRepository creates a new GormRollupRepository
func NewGormRollupRepository(db *gorm.DB) *GormRollupRepository {
	return &GormRollupRepository{db: db}
}

// Upsert replaces the rollup for its (shop, date)
func (r *GormRollupRepository) Upsert(ctx context.Context, rollup *domain.DailyRollup) error {
	rollup.UpdatedAt = time.Now().UTC()
	model := models.DailyRollupFromDomain(*rollup)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "shop_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"order_count", "gross_revenue", "refunds", "net_revenue", "cogs",
			"fees", "shipping_cost", "ad_spend", "unallocated_ad_spend",
			"net_profit", "margin_pct", "estimated_fee_orders",
			"missing_cost_orders", "updated_at",
		}),
	}).Create(&model).Error
}

// Find returns the rollup for (shop, date)
func (r *GormRollupRepository) Find(ctx context.Context, shopID uuid.UUID, date time.Time) (*domain.DailyRollup, error) {
	var model models.DailyRollupModel
	if err := r.db.WithContext(ctx).
		Where("shop_id = ? AND date = ?", shopID, date.UTC()).
		Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	rollup := model.ToDomain()
	return &rollup, nil
}

// FindRange returns the shop's rollups between from and to inclusive
func (r *GormRollupRepository) FindRange(ctx context.Context, shopID uuid.UUID, from, to time.Time) ([]domain.DailyRollup, error) {
	var rows []models.DailyRollupModel
	if err := r.db.WithContext(ctx).
		Where("shop_id = ? AND date >= ? AND date <= ?", shopID, from.UTC(), to.UTC()).
		Order("date").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	rollups := make([]domain.DailyRollup, 0, len(rows))
	for i := range rows {
		rollups = append(rollups, rows[i].ToDomain())
	}
	return rollups, nil
}
