package persistence

import (
	"context"
	"errors"

	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/profitledger/backend/internal/domain/shared"
	"github.com/profitledger/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormWebhookEventRepository implements WebhookEventRepository using GORM
type GormWebhookEventRepository struct {
	db *gorm.DB
}

// NewGormWebhookEventRepository creates a new GormWebhookEventRepository
func NewGormWebhookEventRepository(db *gorm.DB) *GormWebhookEventRepository {
	return &GormWebhookEventRepository{db: db}
}

// Insert stores the event unless its dedup key is already recorded
func (r *GormWebhookEventRepository) Insert(ctx context.Context, event *domain.WebhookEvent) (bool, error) {
	model := models.WebhookEventFromDomain(event)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedup_key"}}, DoNothing: true}).
		Create(&model)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Update writes the event's processing state
func (r *GormWebhookEventRepository) Update(ctx context.Context, event *domain.WebhookEvent) error {
	result := r.db.WithContext(ctx).
		Model(&models.WebhookEventModel{}).
		Where("id = ?", event.ID).
		Updates(map[string]any{
			"status":       string(event.Status),
			"error":        event.Error,
			"attempts":     event.Attempts,
			"processed_at": event.ProcessedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ClaimFailed re-opens a failed event with a conditional update, so
// concurrent re-deliveries race on the row and one wins
func (r *GormWebhookEventRepository) ClaimFailed(ctx context.Context, key string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.WebhookEventModel{}).
		Where("dedup_key = ? AND status = ?", key, string(domain.EventStatusFailed)).
		Updates(map[string]any{
			"status":       string(domain.EventStatusPending),
			"processed_at": nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// FindByDedupKey returns the event recorded under key
func (r *GormWebhookEventRepository) FindByDedupKey(ctx context.Context, key string) (*domain.WebhookEvent, error) {
	var model models.WebhookEventModel
	if err := r.db.WithContext(ctx).Where("dedup_key = ?", key).Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}
