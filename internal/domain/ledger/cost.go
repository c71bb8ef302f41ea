package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CostSnapshot is the unit cost of an inventory item effective from a point
// in time. (shop, inventory item, effective date) is unique.
type CostSnapshot struct {
	ID              uuid.UUID
	ShopID          uuid.UUID
	InventoryItemID string
	EffectiveDate   time.Time
	UnitCost        decimal.Decimal
	Currency        string
	Source          CostSource
	CreatedAt       time.Time
}

// NewCostSnapshot builds a snapshot; source must be a resolved source
func NewCostSnapshot(shopID uuid.UUID, itemID string, effective time.Time, cost decimal.Decimal, currency string, source CostSource) CostSnapshot {
	return CostSnapshot{
		ID:              uuid.New(),
		ShopID:          shopID,
		InventoryItemID: itemID,
		EffectiveDate:   effective.UTC(),
		UnitCost:        cost,
		Currency:        NormalizeCurrency(currency),
		Source:          source,
		CreatedAt:       time.Now().UTC(),
	}
}
