package models

import (
	"time"

	"github.com/google/uuid"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/shopspring/decimal"
)

// CostSnapshotModel is the persistence model for a unit cost effective from a date
type CostSnapshotModel struct {
	ID              uuid.UUID       `gorm:"type:uuid;primary_key"`
	ShopID          uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_cost_snapshots_key,priority:1"`
	InventoryItemID string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_cost_snapshots_key,priority:2"`
	EffectiveDate   time.Time       `gorm:"not null;uniqueIndex:idx_cost_snapshots_key,priority:3"`
	UnitCost        decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Currency        string          `gorm:"type:char(3);not null"`
	Source          string          `gorm:"type:varchar(16);not null"`
	CreatedAt       time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CostSnapshotModel) TableName() string {
	return "cost_snapshots"
}

// ToDomain converts the model to a CostSnapshot
func (m *CostSnapshotModel) ToDomain() domain.CostSnapshot {
	return domain.CostSnapshot{
		ID:              m.ID,
		ShopID:          m.ShopID,
		InventoryItemID: m.InventoryItemID,
		EffectiveDate:   m.EffectiveDate.UTC(),
		UnitCost:        m.UnitCost,
		Currency:        m.Currency,
		Source:          domain.CostSource(m.Source),
		CreatedAt:       m.CreatedAt.UTC(),
	}
}

// CostSnapshotFromDomain builds the model for a snapshot
func CostSnapshotFromDomain(s domain.CostSnapshot) CostSnapshotModel {
	m := CostSnapshotModel{
		ID:              s.ID,
		ShopID:          s.ShopID,
		InventoryItemID: s.InventoryItemID,
		EffectiveDate:   s.EffectiveDate.UTC(),
		UnitCost:        s.UnitCost,
		Currency:        s.Currency,
		Source:          string(s.Source),
		CreatedAt:       s.CreatedAt,
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return m
}

// DailyRollupModel is the persistence model for the per-day aggregate
type DailyRollupModel struct {
	ID                 uuid.UUID       `gorm:"type:uuid;primary_key"`
	ShopID             uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_daily_rollups_shop_date,priority:1"`
	Date               time.Time       `gorm:"not null;uniqueIndex:idx_daily_rollups_shop_date,priority:2"`
	OrderCount         int             `gorm:"not null;default:0"`
	GrossRevenue       decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Refunds            decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	NetRevenue         decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	COGS               decimal.Decimal `gorm:"column:cogs;type:decimal(18,4);not null;default:0"`
	Fees               decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	ShippingCost       decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	AdSpend            decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	UnallocatedAdSpend decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	NetProfit          decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	MarginPct          decimal.Decimal `gorm:"type:decimal(9,2);not null;default:0"`
	EstimatedFeeOrders int             `gorm:"not null;default:0"`
	MissingCostOrders  int             `gorm:"not null;default:0"`
	UpdatedAt          time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (DailyRollupModel) TableName() string {
	return "daily_rollups"
}

// ToDomain converts the model to a DailyRollup
func (m *DailyRollupModel) ToDomain() domain.DailyRollup {
	return domain.DailyRollup{
		ID:                 m.ID,
		ShopID:             m.ShopID,
		Date:               m.Date.UTC(),
		OrderCount:         m.OrderCount,
		GrossRevenue:       m.GrossRevenue,
		Refunds:            m.Refunds,
		NetRevenue:         m.NetRevenue,
		COGS:               m.COGS,
		Fees:               m.Fees,
		ShippingCost:       m.ShippingCost,
		AdSpend:            m.AdSpend,
		UnallocatedAdSpend: m.UnallocatedAdSpend,
		NetProfit:          m.NetProfit,
		MarginPct:          m.MarginPct,
		EstimatedFeeOrders: m.EstimatedFeeOrders,
		MissingCostOrders:  m.MissingCostOrders,
		UpdatedAt:          m.UpdatedAt.UTC(),
	}
}

// DailyRollupFromDomain builds the model for a rollup
func DailyRollupFromDomain(r domain.DailyRollup) DailyRollupModel {
	m := DailyRollupModel{
		ID:                 r.ID,
		ShopID:             r.ShopID,
		Date:               r.Date.UTC(),
		OrderCount:         r.OrderCount,
		GrossRevenue:       r.GrossRevenue,
		Refunds:            r.Refunds,
		NetRevenue:         r.NetRevenue,
		COGS:               r.COGS,
		Fees:               r.Fees,
		ShippingCost:       r.ShippingCost,
		AdSpend:            r.AdSpend,
		UnallocatedAdSpend: r.UnallocatedAdSpend,
		NetProfit:          r.NetProfit,
		MarginPct:          r.MarginPct,
		EstimatedFeeOrders: r.EstimatedFeeOrders,
		MissingCostOrders:  r.MissingCostOrders,
		UpdatedAt:          r.UpdatedAt,
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now().UTC()
	}
	return m
}

// AdSpendDailyModel is the persistence model for one channel's daily spend
type AdSpendDailyModel struct {
	ID       uuid.UUID       `gorm:"type:uuid;primary_key"`
	ShopID   uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_ad_spend_key,priority:1"`
	Date     time.Time       `gorm:"not null;uniqueIndex:idx_ad_spend_key,priority:2"`
	Channel  string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_ad_spend_key,priority:3"`
	Amount   decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Currency string          `gorm:"type:char(3);not null"`
}

// TableName returns the table name for GORM
func (AdSpendDailyModel) TableName() string {
	return "ad_spend_daily"
}

// AdSpendFromDomain builds the model for an ad spend row
func AdSpendFromDomain(a domain.AdSpendDaily) AdSpendDailyModel {
	m := AdSpendDailyModel{
		ID:       a.ID,
		ShopID:   a.ShopID,
		Date:     a.Date.UTC(),
		Channel:  a.Channel,
		Amount:   a.Amount,
		Currency: a.Currency,
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return m
}

// WebhookEventModel is the persistence model for an admitted webhook event
type WebhookEventModel struct {
	ID          uuid.UUID  `gorm:"type:uuid;primary_key"`
	ShopID      uuid.UUID  `gorm:"type:uuid;not null;index"`
	Topic       string     `gorm:"type:varchar(64);not null"`
	ResourceID  string     `gorm:"type:varchar(64);not null"`
	DedupKey    string     `gorm:"type:varchar(255);not null;uniqueIndex"`
	Status      string     `gorm:"type:varchar(16);not null;index"`
	Error       string     `gorm:"type:text"`
	Attempts    int        `gorm:"not null;default:0"`
	ReceivedAt  time.Time  `gorm:"not null"`
	ProcessedAt *time.Time `gorm:""`
}

// TableName returns the table name for GORM
func (WebhookEventModel) TableName() string {
	return "webhook_events"
}

// ToDomain converts the model to a WebhookEvent
func (m *WebhookEventModel) ToDomain() *domain.WebhookEvent {
	return &domain.WebhookEvent{
		ID:          m.ID,
		ShopID:      m.ShopID,
		Topic:       domain.Topic(m.Topic),
		ResourceID:  m.ResourceID,
		DedupKey:    m.DedupKey,
		Status:      domain.EventStatus(m.Status),
		Error:       m.Error,
		Attempts:    m.Attempts,
		ReceivedAt:  m.ReceivedAt.UTC(),
		ProcessedAt: m.ProcessedAt,
	}
}

// WebhookEventFromDomain builds the model for an event
func WebhookEventFromDomain(e *domain.WebhookEvent) WebhookEventModel {
	return WebhookEventModel{
		ID:          e.ID,
		ShopID:      e.ShopID,
		Topic:       string(e.Topic),
		ResourceID:  e.ResourceID,
		DedupKey:    e.DedupKey,
		Status:      string(e.Status),
		Error:       e.Error,
		Attempts:    e.Attempts,
		ReceivedAt:  e.ReceivedAt,
		ProcessedAt: e.ProcessedAt,
	}
}

// BackfillOperationModel is the persistence model for a backfill run
type BackfillOperationModel struct {
	ID                  uuid.UUID  `gorm:"type:uuid;primary_key"`
	ShopID              uuid.UUID  `gorm:"type:uuid;not null;index"`
	ExternalOperationID string     `gorm:"type:varchar(255)"`
	Days                int        `gorm:"not null"`
	Status              string     `gorm:"type:varchar(16);not null;index"`
	Progress            int        `gorm:"not null;default:0"`
	ObjectCount         int64      `gorm:"not null;default:0"`
	ProcessedOrders     int        `gorm:"not null;default:0"`
	FailedRecords       int        `gorm:"not null;default:0"`
	Cursor              int        `gorm:"not null;default:0"`
	Error               string     `gorm:"type:text"`
	ArchiveKey          string     `gorm:"type:varchar(512)"`
	CreatedAt           time.Time  `gorm:"not null"`
	StartedAt           *time.Time `gorm:""`
	CompletedAt         *time.Time `gorm:""`
	UpdatedAt           time.Time  `gorm:"not null"`
}

// TableName returns the table name for GORM
func (BackfillOperationModel) TableName() string {
	return "backfill_operations"
}

// ToDomain converts the model to a BackfillOperation
func (m *BackfillOperationModel) ToDomain() *domain.BackfillOperation {
	return &domain.BackfillOperation{
		ID:                  m.ID,
		ShopID:              m.ShopID,
		ExternalOperationID: m.ExternalOperationID,
		Days:                m.Days,
		Status:              domain.BackfillStatus(m.Status),
		Progress:            m.Progress,
		ObjectCount:         m.ObjectCount,
		ProcessedOrders:     m.ProcessedOrders,
		FailedRecords:       m.FailedRecords,
		Cursor:              m.Cursor,
		Error:               m.Error,
		ArchiveKey:          m.ArchiveKey,
		CreatedAt:           m.CreatedAt.UTC(),
		StartedAt:           m.StartedAt,
		CompletedAt:         m.CompletedAt,
		UpdatedAt:           m.UpdatedAt.UTC(),
	}
}

// BackfillOperationFromDomain builds the model for an operation
func BackfillOperationFromDomain(b *domain.BackfillOperation) BackfillOperationModel {
	return BackfillOperationModel{
		ID:                  b.ID,
		ShopID:              b.ShopID,
		ExternalOperationID: b.ExternalOperationID,
		Days:                b.Days,
		Status:              string(b.Status),
		Progress:            b.Progress,
		ObjectCount:         b.ObjectCount,
		ProcessedOrders:     b.ProcessedOrders,
		FailedRecords:       b.FailedRecords,
		Cursor:              b.Cursor,
		Error:               b.Error,
		ArchiveKey:          b.ArchiveKey,
		CreatedAt:           b.CreatedAt,
		StartedAt:           b.StartedAt,
		CompletedAt:         b.CompletedAt,
		UpdatedAt:           b.UpdatedAt,
	}
}

// All returns every ledger model in dependency order, for AutoMigrate in tests
func All() []any {
	return []any{
		&ShopModel{},
		&OrderModel{},
		&OrderLineModel{},
		&RefundLineModel{},
		&TransactionModel{},
		&TransactionFeeModel{},
		&CostSnapshotModel{},
		&DailyRollupModel{},
		&AdSpendDailyModel{},
		&WebhookEventModel{},
		&BackfillOperationModel{},
	}
}
