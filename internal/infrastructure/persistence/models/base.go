package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/profitledger/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// EntityColumns are the identity and timestamp columns of tables backed by a
// shared.BaseEntity
type EntityColumns struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate assigns an ID to rows built without one
func (c *EntityColumns) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

func (c EntityColumns) entity() shared.BaseEntity {
	return shared.BaseEntity{ID: c.ID, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt}
}

func entityColumns(e shared.BaseEntity) EntityColumns {
	return EntityColumns{ID: e.ID, CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt}
}
