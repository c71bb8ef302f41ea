package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/profitledger/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// RegisterShopInput describes a shop installation
type RegisterShopInput struct {
	Domain        string           `json:"domain" validate:"required,fqdn"`
	BaseCurrency  string           `json:"base_currency" validate:"required,len=3"`
	Timezone      string           `json:"timezone"`
	AccessToken   string           `json:"access_token" validate:"required"`
	WebhookSecret string           `json:"webhook_secret"`
	Settings      *domain.Settings `json:"settings"`
}

// ShopService manages shops and their accounting settings
type ShopService struct {
	shops    domain.ShopRepository
	defaults domain.Settings
	logger   *zap.Logger
}

// NewShopService creates a new ShopService. defaults seeds the settings of
// newly registered shops.
func NewShopService(shops domain.ShopRepository, defaults domain.Settings, logger *zap.Logger) *ShopService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShopService{shops: shops, defaults: defaults, logger: logger}
}

// Register creates a shop, or refreshes the credentials of an existing one
func (s *ShopService) Register(ctx context.Context, in RegisterShopInput) (*domain.Shop, error) {
	in.Domain = domain.NormalizeDomain(in.Domain)
	if err := validatePayload(in); err != nil {
		return nil, err
	}

	existing, err := s.shops.FindByDomain(ctx, in.Domain)
	switch {
	case err == nil:
		existing.AccessToken = in.AccessToken
		if in.WebhookSecret != "" {
			existing.WebhookSecret = in.WebhookSecret
		}
		existing.Active = true
		existing.Touch()
		if err := s.shops.Save(ctx, existing); err != nil {
			return nil, fmt.Errorf("failed to update shop: %w", err)
		}
		s.logger.Info("Shop credentials refreshed", zap.String("shop", existing.Domain))
		return existing, nil
	case !errors.Is(err, shared.ErrNotFound):
		return nil, fmt.Errorf("failed to load shop: %w", err)
	}

	settings := s.defaults
	if in.Settings != nil {
		settings = *in.Settings
	}
	shop, err := domain.NewShop(in.Domain, in.BaseCurrency, in.Timezone, settings)
	if err != nil {
		return nil, err
	}
	shop.AccessToken = in.AccessToken
	shop.WebhookSecret = in.WebhookSecret
	if err := s.shops.Save(ctx, shop); err != nil {
		return nil, fmt.Errorf("failed to create shop: %w", err)
	}
	s.logger.Info("Shop registered",
		zap.String("shop", shop.Domain),
		zap.String("currency", shop.BaseCurrency),
		zap.String("timezone", shop.Timezone))
	return shop, nil
}

// Get returns a shop by id
func (s *ShopService) Get(ctx context.Context, id uuid.UUID) (*domain.Shop, error) {
	shop, err := s.shops.FindByID(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, domain.ErrUnknownShop
	}
	return shop, err
}

// GetByDomain returns a shop by its platform domain
func (s *ShopService) GetByDomain(ctx context.Context, shopDomain string) (*domain.Shop, error) {
	shop, err := s.shops.FindByDomain(ctx, domain.NormalizeDomain(shopDomain))
	if errors.Is(err, shared.ErrNotFound) {
		return nil, domain.ErrUnknownShop
	}
	return shop, err
}

// UpdateSettings replaces the shop's accounting settings. Existing orders
// keep their figures until recalculated.
func (s *ShopService) UpdateSettings(ctx context.Context, shop *domain.Shop, settings domain.Settings) (*domain.Shop, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	shop.Settings = settings
	shop.Touch()
	if err := s.shops.Save(ctx, shop); err != nil {
		return nil, fmt.Errorf("failed to save settings: %w", err)
	}
	return shop, nil
}

// Deactivate stops accepting webhooks for the shop
func (s *ShopService) Deactivate(ctx context.Context, shop *domain.Shop) error {
	shop.Active = false
	shop.Touch()
	return s.shops.Save(ctx, shop)
}

// List returns all shops
func (s *ShopService) List(ctx context.Context) ([]*domain.Shop, error) {
	return s.shops.List(ctx)
}
