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

const costSnapshotBatchSize = 500

var costSnapshotConflict = clause.OnConflict{
	Columns:   []clause.Column{{Name: "shop_id"}, {Name: "inventory_item_id"}, {Name: "effective_date"}},
	DoUpdates: clause.AssignmentColumns([]string{"unit_cost", "currency", "source"}),
}

// GormCostSnapshotRepository implements CostSnapshotRepository using GORM
type GormCostSnapshotRepository struct {
	db *gorm.DB
}

// NewGormCostSnapshotRepository creates a new GormCostSnapshotRepository
func NewGormCostSnapshotRepository(db *gorm.DB) *GormCostSnapshotRepository {
	return &GormCostSnapshotRepository{db: db}
}

// FindLatest returns the newest snapshot effective on or before asOf
func (r *GormCostSnapshotRepository) FindLatest(ctx context.Context, shopID uuid.UUID, inventoryItemID string, asOf time.Time) (*domain.CostSnapshot, error) {
	var model models.CostSnapshotModel
	if err := r.db.WithContext(ctx).
		Where("shop_id = ? AND inventory_item_id = ? AND effective_date <= ?", shopID, inventoryItemID, asOf.UTC()).
		Order("effective_date DESC").
		Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	snapshot := model.ToDomain()
	return &snapshot, nil
}

// Save upserts one snapshot
func (r *GormCostSnapshotRepository) Save(ctx context.Context, snapshot *domain.CostSnapshot) error {
	model := models.CostSnapshotFromDomain(*snapshot)
	if err := r.db.WithContext(ctx).Clauses(costSnapshotConflict).Create(&model).Error; err != nil {
		return err
	}
	snapshot.ID = model.ID
	return nil
}

// SaveBatch upserts snapshots in batches
func (r *GormCostSnapshotRepository) SaveBatch(ctx context.Context, snapshots []domain.CostSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	rows := make([]models.CostSnapshotModel, len(snapshots))
	for i := range snapshots {
		rows[i] = models.CostSnapshotFromDomain(snapshots[i])
	}
	return r.db.WithContext(ctx).Clauses(costSnapshotConflict).CreateInBatches(&rows, costSnapshotBatchSize).Error
}
