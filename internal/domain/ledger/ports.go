package ledger

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InventoryCost is a unit cost reported by the platform for an inventory item
type InventoryCost struct {
	UnitCost decimal.Decimal
	Currency string
}

// InventoryCostSource fetches current unit costs from the platform. It
// returns (nil, nil) when the item is untracked or has no cost.
type InventoryCostSource interface {
	FetchUnitCost(ctx context.Context, shop *Shop, inventoryItemID string) (*InventoryCost, error)
}

// ExchangeRateSource fetches the rate to convert one unit of from into to
type ExchangeRateSource interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// RateCache caches exchange rates
type RateCache interface {
	Get(ctx context.Context, from, to string) (decimal.Decimal, bool, error)
	Set(ctx context.Context, from, to string, rate decimal.Decimal, ttl time.Duration) error
}

// ExportState is the platform's view of a bulk export
type ExportState struct {
	ID          string
	Status      ExportStatus
	ObjectCount int64
	URL         string
	ErrorCode   string
}

// BulkExporter drives platform bulk exports of orders with their refunds
// and transactions
type BulkExporter interface {
	// Submit starts an export of orders created at or after since
	Submit(ctx context.Context, shop *Shop, since time.Time) (string, error)
	Poll(ctx context.Context, shop *Shop, exportID string) (*ExportState, error)
	// Open streams the completed export as JSON lines in the webhook
	// payload schema
	Open(ctx context.Context, shop *Shop, state *ExportState) (io.ReadCloser, error)
	Cancel(ctx context.Context, shop *Shop, exportID string) error
}

// ExportArchive keeps raw export files
type ExportArchive interface {
	Put(ctx context.Context, key string, body io.ReadSeeker, size int64) error
}

// OrderProfitUpdated is published after an order's profit is stored
type OrderProfitUpdated struct {
	ShopID        uuid.UUID       `json:"shop_id"`
	ShopDomain    string          `json:"shop_domain"`
	OrderID       uuid.UUID       `json:"order_id"`
	ExternalID    string          `json:"external_id"`
	EffectiveDate time.Time       `json:"effective_date"`
	NetRevenue    decimal.Decimal `json:"net_revenue"`
	NetProfit     decimal.Decimal `json:"net_profit"`
	MarginPct     decimal.Decimal `json:"margin_pct"`
	Flags         []string        `json:"flags"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// NewOrderProfitUpdated builds the event for a reconciled order
func NewOrderProfitUpdated(shop *Shop, o *Order) OrderProfitUpdated {
	return OrderProfitUpdated{
		ShopID:        shop.ID,
		ShopDomain:    shop.Domain,
		OrderID:       o.ID,
		ExternalID:    o.ExternalID,
		EffectiveDate: o.EffectiveDate,
		NetRevenue:    o.Profit.NetRevenue,
		NetProfit:     o.Profit.NetProfit,
		MarginPct:     o.Profit.MarginPct,
		Flags:         o.Flags.Names(),
		OccurredAt:    time.Now().UTC(),
	}
}

// LedgerEventPublisher announces ledger changes to other systems.
// Delivery is best effort.
type LedgerEventPublisher interface {
	PublishProfitUpdated(ctx context.Context, event OrderProfitUpdated) error
}

// RollupSink mirrors stored daily rollups into an analytics store
type RollupSink interface {
	WriteRollup(ctx context.Context, r *DailyRollup) error
}
