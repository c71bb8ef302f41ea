package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/profitledger/backend/internal/domain/shared"
	"github.com/profitledger/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

const defaultBackfillHistoryLimit = 20

// GormBackfillRepository implements BackfillRepository using GORM
type GormBackfillRepository struct {
	db *gorm.DB
}

// NewGormBackfillRepository creates a new GormBackfillRepository
func NewGormBackfillRepository(db *gorm.DB) *GormBackfillRepository {
	return &GormBackfillRepository{db: db}
}

// pgUniqueViolation is the SQLSTATE of unique_violation
const pgUniqueViolation = "23505"

// Create inserts a new operation. A second active operation for the shop
// violates idx_backfill_operations_one_active and maps to ErrBackfillActive.
func (r *GormBackfillRepository) Create(ctx context.Context, op *domain.BackfillOperation) error {
	model := models.BackfillOperationFromDomain(op)
	err := r.db.WithContext(ctx).Create(&model).Error
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return domain.ErrBackfillActive
	}
	return err
}

// Update writes every mutable field of the operation
func (r *GormBackfillRepository) Update(ctx context.Context, op *domain.BackfillOperation) error {
	model := models.BackfillOperationFromDomain(op)
	result := r.db.WithContext(ctx).
		Model(&model).
		Where("shop_id = ?", op.ShopID).
		Select("*").
		Omit("id", "shop_id", "created_at").
		Updates(&model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// FindByID finds an operation of the shop
func (r *GormBackfillRepository) FindByID(ctx context.Context, shopID, id uuid.UUID) (*domain.BackfillOperation, error) {
	return r.first(r.db.WithContext(ctx).Where("shop_id = ? AND id = ?", shopID, id))
}

// FindActive returns the shop's not started or running operation
func (r *GormBackfillRepository) FindActive(ctx context.Context, shopID uuid.UUID) (*domain.BackfillOperation, error) {
	return r.first(r.db.WithContext(ctx).
		Where("shop_id = ? AND status IN ?", shopID, []string{string(domain.BackfillNotStarted), string(domain.BackfillRunning)}).
		Order("created_at DESC"))
}

func (r *GormBackfillRepository) first(query *gorm.DB) (*domain.BackfillOperation, error) {
	var model models.BackfillOperationModel
	if err := query.Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindRunning returns running operations of every shop
func (r *GormBackfillRepository) FindRunning(ctx context.Context) ([]*domain.BackfillOperation, error) {
	var rows []models.BackfillOperationModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", string(domain.BackfillRunning)).
		Order("created_at").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toBackfills(rows), nil
}

// List returns the shop's operations, newest first
func (r *GormBackfillRepository) List(ctx context.Context, shopID uuid.UUID, limit int) ([]*domain.BackfillOperation, error) {
	if limit <= 0 {
		limit = defaultBackfillHistoryLimit
	}
	var rows []models.BackfillOperationModel
	if err := r.db.WithContext(ctx).
		Where("shop_id = ?", shopID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toBackfills(rows), nil
}

func toBackfills(rows []models.BackfillOperationModel) []*domain.BackfillOperation {
	ops := make([]*domain.BackfillOperation, 0, len(rows))
	for i := range rows {
		ops = append(ops, rows[i].ToDomain())
	}
	return ops
}
