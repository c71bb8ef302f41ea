package models

import (
	"encoding/json"

	domain "github.com/profitledger/backend/internal/domain/ledger"
)

// ShopModel is the persistence model for the Shop domain entity.
// Credentials are stored encrypted.
type ShopModel struct {
	EntityColumns
	Domain           string `gorm:"type:varchar(255);not null;uniqueIndex"`
	BaseCurrency     string `gorm:"type:char(3);not null"`
	Timezone         string `gorm:"type:varchar(64);not null;default:'UTC'"`
	AccessTokenEnc   string `gorm:"type:text"`
	WebhookSecretEnc string `gorm:"type:text"`
	Settings         string `gorm:"type:jsonb;not null"`
	Active           bool   `gorm:"not null;default:true"`
}

// TableName returns the table name for GORM
func (ShopModel) TableName() string {
	return "shops"
}

// ToDomain converts the model to a Shop. Credentials are left encrypted;
// the repository decrypts them.
func (m *ShopModel) ToDomain() (*domain.Shop, error) {
	var settings domain.Settings
	if m.Settings != "" {
		if err := json.Unmarshal([]byte(m.Settings), &settings); err != nil {
			return nil, err
		}
	}
	return &domain.Shop{
		BaseEntity:    m.EntityColumns.entity(),
		Domain:        m.Domain,
		BaseCurrency:  m.BaseCurrency,
		Timezone:      m.Timezone,
		AccessToken:   m.AccessTokenEnc,
		WebhookSecret: m.WebhookSecretEnc,
		Settings:      settings,
		Active:        m.Active,
	}, nil
}

// FromDomain populates the model from a Shop. Credentials are copied as is.
func (m *ShopModel) FromDomain(s *domain.Shop) error {
	settings, err := json.Marshal(s.Settings)
	if err != nil {
		return err
	}
	m.EntityColumns = entityColumns(s.BaseEntity)
	m.Domain = s.Domain
	m.BaseCurrency = s.BaseCurrency
	m.Timezone = s.Timezone
	m.AccessTokenEnc = s.AccessToken
	m.WebhookSecretEnc = s.WebhookSecret
	m.Settings = string(settings)
	m.Active = s.Active
	return nil
}
