package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Repositories return shared.ErrNotFound when a single record lookup misses.

// ShopRepository persists shops
type ShopRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Shop, error)
	// FindByDomain looks a shop up by its normalized platform domain
	FindByDomain(ctx context.Context, domain string) (*Shop, error)
	// Save creates or updates a shop
	Save(ctx context.Context, shop *Shop) error
	List(ctx context.Context) ([]*Shop, error)
}

// OrderFilter narrows order listings
type OrderFilter struct {
	From *time.Time // effective date from, inclusive
	To   *time.Time // effective date to, inclusive
	Flag *Flag
	// SortBy and SortDir are validated by the repository; unknown values
	// fall back to newest first
	SortBy  string
	SortDir string
}

// OrderListResult is a page of orders
type OrderListResult struct {
	Items      []*Order
	TotalCount int64
	Page       int
	PageSize   int
}

// OrderRepository persists orders together with the collections they own
type OrderRepository interface {
	// FindByExternalID loads an order and all of its children
	FindByExternalID(ctx context.Context, shopID uuid.UUID, externalID string) (*Order, error)

	// FindByID loads an order and all of its children
	FindByID(ctx context.Context, shopID, id uuid.UUID) (*Order, error)

	// Save upserts the order header on (shop, external id) and its lines,
	// refunds, transactions and fees on their external ids, in one
	// transaction. order.ID and child ids are set to the stored ids.
	// Children missing from order are left untouched, and so is a stored
	// header with a later SourceUpdatedAt. order.Revision is set to the new
	// stored revision.
	Save(ctx context.Context, order *Order) error

	// UpdateProfit persists the computed breakdown, flags and the resolved
	// line costs of an already saved order. It fails with ErrOrderChanged
	// when the stored revision is no longer order.Revision.
	UpdateProfit(ctx context.Context, order *Order) error

	// FindByEffectiveDate returns the headers (with profit and flags) of all
	// orders of the shop on the given calendar date
	FindByEffectiveDate(ctx context.Context, shopID uuid.UUID, date time.Time) ([]Order, error)

	List(ctx context.Context, shopID uuid.UUID, filter OrderFilter, page, pageSize int) (*OrderListResult, error)

	// Delete removes an order and its children
	Delete(ctx context.Context, shopID, id uuid.UUID) error
}

// CostSnapshotRepository persists unit cost history
type CostSnapshotRepository interface {
	// FindLatest returns the snapshot with the greatest effective date not
	// after asOf
	FindLatest(ctx context.Context, shopID uuid.UUID, inventoryItemID string, asOf time.Time) (*CostSnapshot, error)
	// Save upserts on (shop, inventory item, effective date)
	Save(ctx context.Context, snapshot *CostSnapshot) error
	SaveBatch(ctx context.Context, snapshots []CostSnapshot) error
}

// RollupRepository persists daily rollups
type RollupRepository interface {
	// Upsert replaces the rollup for (shop, date)
	Upsert(ctx context.Context, rollup *DailyRollup) error
	Find(ctx context.Context, shopID uuid.UUID, date time.Time) (*DailyRollup, error)
	// FindRange returns rollups with from <= date <= to ordered by date
	FindRange(ctx context.Context, shopID uuid.UUID, from, to time.Time) ([]DailyRollup, error)
}

// WebhookEventRepository is the dedup ledger of admitted events
type WebhookEventRepository interface {
	// Insert stores the event unless its dedup key exists. inserted is false
	// for a re-delivery.
	Insert(ctx context.Context, event *WebhookEvent) (inserted bool, err error)
	Update(ctx context.Context, event *WebhookEvent) error
	// ClaimFailed moves the failed event under key back to pending. Only
	// one caller per failure gets claimed == true.
	ClaimFailed(ctx context.Context, key string) (claimed bool, err error)
	FindByDedupKey(ctx context.Context, key string) (*WebhookEvent, error)
}

// BackfillRepository persists backfill operations
type BackfillRepository interface {
	Create(ctx context.Context, op *BackfillOperation) error
	Update(ctx context.Context, op *BackfillOperation) error
	FindByID(ctx context.Context, shopID, id uuid.UUID) (*BackfillOperation, error)
	// FindActive returns the shop's not_started or running operation
	FindActive(ctx context.Context, shopID uuid.UUID) (*BackfillOperation, error)
	// FindRunning returns running operations of all shops (restart recovery)
	FindRunning(ctx context.Context) ([]*BackfillOperation, error)
	// List returns the shop's operations, newest first
	List(ctx context.Context, shopID uuid.UUID, limit int) ([]*BackfillOperation, error)
}

// AdSpendRepository persists daily channel spend
type AdSpendRepository interface {
	// Upsert stores rows on (shop, date, channel)
	Upsert(ctx context.Context, rows []AdSpendDaily) error
	// TotalForDate sums all channels for the shop's date
	TotalForDate(ctx context.Context, shopID uuid.UUID, date time.Time) (decimal.Decimal, error)
}
