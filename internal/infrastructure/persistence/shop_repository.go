package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/profitledger/backend/internal/domain/shared"
	"github.com/profitledger/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TokenCipher encrypts shop credentials at rest
type TokenCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// GormShopRepository implements ShopRepository using GORM.
// A nil cipher stores credentials as given.
type GormShopRepository struct {
	db     *gorm.DB
	cipher TokenCipher
}

// NewGormShopRepository creates a new GormShopRepository
func NewGormShopRepository(db *gorm.DB, cipher TokenCipher) *GormShopRepository {
	return &GormShopRepository{db: db, cipher: cipher}
}

// FindByID finds a shop by its ID
func (r *GormShopRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Shop, error) {
	return r.find(ctx, "id = ?", id)
}

// FindByDomain finds a shop by its platform domain
func (r *GormShopRepository) FindByDomain(ctx context.Context, shopDomain string) (*domain.Shop, error) {
	return r.find(ctx, "domain = ?", domain.NormalizeDomain(shopDomain))
}

func (r *GormShopRepository) find(ctx context.Context, query string, args ...any) (*domain.Shop, error) {
	var model models.ShopModel
	if err := r.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return r.toDomain(&model)
}

// Save creates or updates a shop
func (r *GormShopRepository) Save(ctx context.Context, shop *domain.Shop) error {
	if shop.ID == uuid.Nil {
		shop.BaseEntity = shared.NewBaseEntity()
	}
	shop.UpdatedAt = time.Now().UTC()

	var model models.ShopModel
	if err := model.FromDomain(shop); err != nil {
		return fmt.Errorf("encode shop settings: %w", err)
	}
	var err error
	if model.AccessTokenEnc, err = r.encrypt(shop.AccessToken); err != nil {
		return err
	}
	if model.WebhookSecretEnc, err = r.encrypt(shop.WebhookSecret); err != nil {
		return err
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"domain", "base_currency", "timezone", "access_token_enc",
			"webhook_secret_enc", "settings", "active", "updated_at",
		}),
	}).Create(&model).Error
}

// List returns every shop ordered by domain
func (r *GormShopRepository) List(ctx context.Context) ([]*domain.Shop, error) {
	var rows []models.ShopModel
	if err := r.db.WithContext(ctx).Order("domain").Find(&rows).Error; err != nil {
		return nil, err
	}
	shops := make([]*domain.Shop, 0, len(rows))
	for i := range rows {
		shop, err := r.toDomain(&rows[i])
		if err != nil {
			return nil, err
		}
		shops = append(shops, shop)
	}
	return shops, nil
}

func (r *GormShopRepository) toDomain(model *models.ShopModel) (*domain.Shop, error) {
	shop, err := model.ToDomain()
	if err != nil {
		return nil, fmt.Errorf("decode settings of shop %s: %w", model.Domain, err)
	}
	if shop.AccessToken, err = r.decrypt(model.AccessTokenEnc); err != nil {
		return nil, fmt.Errorf("decrypt access token of shop %s: %w", model.Domain, err)
	}
	if shop.WebhookSecret, err = r.decrypt(model.WebhookSecretEnc); err != nil {
		return nil, fmt.Errorf("decrypt webhook secret of shop %s: %w", model.Domain, err)
	}
	return shop, nil
}

func (r *GormShopRepository) encrypt(s string) (string, error) {
	if r.cipher == nil || s == "" {
		return s, nil
	}
	return r.cipher.Encrypt(s)
}

func (r *GormShopRepository) decrypt(s string) (string, error) {
	if r.cipher == nil || s == "" {
		return s, nil
	}
	return r.cipher.Decrypt(s)
}
