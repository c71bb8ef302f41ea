package ledger

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/profitledger/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Flags
// ---------------------------------------------------------------------------

// Flag is a data-quality signal attached to an order. Flags are informational
// and never block reconciliation.
type Flag string

const (
	FlagFeesEstimated  Flag = "fees_estimated"
	FlagNoUnitCost     Flag = "no_unit_cost"
	FlagMultiCurrency  Flag = "multi_currency"
	FlagHasRefunds     Flag = "has_refunds"
	FlagRefundOverflow Flag = "refund_overflow"
)

// Flags is the set of flags raised on an order
type Flags map[Flag]bool

// Set raises a flag
func (f Flags) Set(flag Flag) {
	f[flag] = true
}

// Has reports whether a flag is raised
func (f Flags) Has(flag Flag) bool {
	return f[flag]
}

// Names returns the raised flags in sorted order
func (f Flags) Names() []string {
	out := make([]string, 0, len(f))
	for k, v := range f {
		if v {
			out = append(out, string(k))
		}
	}
	sort.Strings(out)
	return out
}

// ---------------------------------------------------------------------------
// Order and owned collections
// ---------------------------------------------------------------------------

// CostSource tags where a line's unit cost came from
type CostSource string

const (
	CostSourceSnapshot   CostSource = "snapshot"
	CostSourceImport     CostSource = "import"
	CostSourceLiveFetch  CostSource = "live-fetch"
	CostSourceUnresolved CostSource = "unresolved"
)

// IsResolved returns true if the source carries a real cost
func (c CostSource) IsResolved() bool {
	return c == CostSourceSnapshot || c == CostSourceImport || c == CostSourceLiveFetch
}

// OrderLine is one line item of an order, keyed by its external id
type OrderLine struct {
	ID              uuid.UUID
	OrderID         uuid.UUID
	ExternalID      string
	ProductID       string
	VariantID       string
	InventoryItemID string
	Title           string
	Quantity        int
	// UnitPrice is in the shop currency
	UnitPrice decimal.Decimal
	// UnitPricePresentment is in the order's presentment currency
	UnitPricePresentment decimal.Decimal
	DiscountTotal        decimal.Decimal
	// UnitCost is nil when no cost basis could be resolved
	UnitCost   *decimal.Decimal
	CostSource CostSource
}

// HasCost reports whether the line has a resolved unit cost
func (l *OrderLine) HasCost() bool {
	return l.UnitCost != nil && l.CostSource.IsResolved()
}

// RefundLine is one refunded line-item quantity, keyed by the external refund
// line id.
type RefundLine struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	ExternalID     string
	RefundID       string
	LineExternalID string
	Quantity       int
	// Amount is in the shop currency
	Amount            decimal.Decimal
	AmountPresentment decimal.Decimal
	CreatedAt         time.Time
}

// TransactionFee is a processing fee charged on a transaction
type TransactionFee struct {
	ID            uuid.UUID
	TransactionID uuid.UUID
	ExternalID    string
	Amount        decimal.Decimal
	Currency      string
	Estimated     bool
}

// Transaction is a payment attempt against an order
type Transaction struct {
	ID          uuid.UUID
	OrderID     uuid.UUID
	ExternalID  string
	Kind        string
	Gateway     string
	Status      string
	Amount      decimal.Decimal
	Currency    string
	ProcessedAt *time.Time
	Fees        []TransactionFee
}

// ProfitBreakdown is the computed economics of an order in shop currency
type ProfitBreakdown struct {
	GrossRevenue   decimal.Decimal `json:"gross_revenue"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	NetRevenue     decimal.Decimal `json:"net_revenue"`
	COGS           decimal.Decimal `json:"cogs"`
	Fees           decimal.Decimal `json:"fees"`
	ShippingCost   decimal.Decimal `json:"shipping_cost"`
	AdSpend        decimal.Decimal `json:"ad_spend"`
	NetProfit      decimal.Decimal `json:"net_profit"`
	MarginPct      decimal.Decimal `json:"margin_pct"`
}

// Order is one external order of a shop with the collections it owns
type Order struct {
	shared.BaseEntity
	ShopID      uuid.UUID
	ExternalID  string
	OrderNumber string
	// SourceCreatedAt / SourceUpdatedAt are the platform's timestamps
	SourceCreatedAt time.Time
	SourceUpdatedAt time.Time
	ProcessedAt     time.Time
	CancelledAt     *time.Time
	// EffectiveDate is ProcessedAt's calendar date in the shop time zone
	EffectiveDate       time.Time
	Currency            string
	PresentmentCurrency string
	GrossTotal          decimal.Decimal
	Discounts           decimal.Decimal
	Tax                 decimal.Decimal
	Duties              decimal.Decimal
	ShippingCharged     decimal.Decimal
	FinancialStatus     string
	FulfillmentStatus   string
	CustomerID          string

	Lines        []OrderLine
	Refunds      []RefundLine
	Transactions []Transaction

	Profit ProfitBreakdown
	Flags  Flags
	// Revision is bumped by every stored write. Profit writes only apply
	// to the revision they were computed from.
	Revision int64
}

// Normalize enforces the timestamp and amount invariants: processed_at is
// never before created_at and amounts are never negative. EffectiveDate is
// derived from ProcessedAt in loc.
func (o *Order) Normalize(loc *time.Location) {
	if o.ProcessedAt.IsZero() || o.ProcessedAt.Before(o.SourceCreatedAt) {
		o.ProcessedAt = o.SourceCreatedAt
	}
	if o.SourceUpdatedAt.IsZero() {
		o.SourceUpdatedAt = o.SourceCreatedAt
	}
	for _, d := range []*decimal.Decimal{&o.GrossTotal, &o.Discounts, &o.Tax, &o.Duties, &o.ShippingCharged} {
		if d.IsNegative() {
			*d = decimal.Zero
		}
	}
	if o.PresentmentCurrency == "" {
		o.PresentmentCurrency = o.Currency
	}
	o.EffectiveDate = CalendarDate(o.ProcessedAt, loc)
	if o.Flags == nil {
		o.Flags = Flags{}
	}
}

// IsStaleComparedTo reports whether o is an older platform snapshot than the
// stored order.
func (o *Order) IsStaleComparedTo(stored *Order) bool {
	return stored != nil && o.SourceUpdatedAt.Before(stored.SourceUpdatedAt)
}

// RefundedQuantities returns the refunded quantity per line external id,
// clamped to each line's ordered quantity. overflow is true when refunds
// claimed more units than were ordered or referenced an unknown line.
func (o *Order) RefundedQuantities() (qty map[string]int, overflow bool) {
	ordered := make(map[string]int, len(o.Lines))
	for _, l := range o.Lines {
		ordered[l.ExternalID] += l.Quantity
	}
	qty = make(map[string]int, len(o.Refunds))
	for _, r := range o.Refunds {
		limit, ok := ordered[r.LineExternalID]
		if !ok {
			overflow = true
			continue
		}
		next := qty[r.LineExternalID] + r.Quantity
		if next > limit {
			overflow = true
			next = limit
		}
		qty[r.LineExternalID] = next
	}
	return qty, overflow
}

// RefundedAmount sums refund amounts in shop currency
func (o *Order) RefundedAmount() decimal.Decimal {
	total := decimal.Zero
	for _, r := range o.Refunds {
		total = total.Add(r.Amount)
	}
	return total
}

// ActualFees returns recorded, non-estimated fees across all transactions
func (o *Order) ActualFees() []TransactionFee {
	var fees []TransactionFee
	for _, t := range o.Transactions {
		for _, f := range t.Fees {
			if !f.Estimated {
				fees = append(fees, f)
			}
		}
	}
	return fees
}

// LineByExternalID finds a line by its external id
func (o *Order) LineByExternalID(id string) *OrderLine {
	for i := range o.Lines {
		if o.Lines[i].ExternalID == id {
			return &o.Lines[i]
		}
	}
	return nil
}
