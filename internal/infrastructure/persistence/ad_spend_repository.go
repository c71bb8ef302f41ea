package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/profitledger/backend/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormAdSpendRepository implements AdSpendRepository using GORM
type GormAdSpendRepository struct {
	db *gorm.DB
}

// NewGormAdSpendRepository creates a new GormAdSpendRepository
func NewGormAdSpendRepository(db *gorm.DB) *GormAdSpendRepository {
	return &GormAdSpendRepository{db: db}
}

// Upsert stores rows keyed on (shop, date, channel)
func (r *GormAdSpendRepository) Upsert(ctx context.Context, rows []domain.AdSpendDaily) error {
	if len(rows) == 0 {
		return nil
	}
	records := make([]models.AdSpendDailyModel, len(rows))
	for i := range rows {
		records[i] = models.AdSpendFromDomain(rows[i])
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "shop_id"}, {Name: "date"}, {Name: "channel"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "currency"}),
	}).Create(&records).Error
}

// TotalForDate sums every channel's spend on the date
func (r *GormAdSpendRepository) TotalForDate(ctx context.Context, shopID uuid.UUID, date time.Time) (decimal.Decimal, error) {
	var amounts []decimal.Decimal
	if err := r.db.WithContext(ctx).
		Model(&models.AdSpendDailyModel{}).
		Where("shop_id = ? AND date = ?", shopID, date.UTC()).
		Pluck("amount", &amounts).Error; err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total, nil
}
