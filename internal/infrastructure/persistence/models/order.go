package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/shopspring/decimal"
)

// OrderModel is the persistence model for the Order header and its
// computed profit breakdown
type OrderModel struct {
	EntityColumns
	ShopID              uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_orders_shop_external,priority:1;index:idx_orders_shop_date,priority:1"`
	ExternalID          string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_orders_shop_external,priority:2"`
	OrderNumber         string          `gorm:"type:varchar(64)"`
	SourceCreatedAt     time.Time       `gorm:"not null"`
	SourceUpdatedAt     time.Time       `gorm:"not null"`
	ProcessedAt         time.Time       `gorm:"not null"`
	CancelledAt         *time.Time      `gorm:""`
	EffectiveDate       time.Time       `gorm:"not null;index:idx_orders_shop_date,priority:2"`
	Currency            string          `gorm:"type:char(3);not null"`
	PresentmentCurrency string          `gorm:"type:char(3)"`
	GrossTotal          decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Discounts           decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Tax                 decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Duties              decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	ShippingCharged     decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	FinancialStatus     string          `gorm:"type:varchar(32)"`
	FulfillmentStatus   string          `gorm:"type:varchar(32)"`
	CustomerID          string          `gorm:"type:varchar(64)"`

	GrossRevenue   decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	RefundedAmount decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	NetRevenue     decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	COGS           decimal.Decimal `gorm:"column:cogs;type:decimal(18,4);not null;default:0"`
	Fees           decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	ShippingCost   decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	AdSpend        decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	NetProfit      decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	MarginPct      decimal.Decimal `gorm:"type:decimal(9,2);not null;default:0"`
	Flags          string          `gorm:"type:text;not null;default:''"`
	Revision       int64           `gorm:"not null;default:0"`
}

// TableName returns the table name for GORM
func (OrderModel) TableName() string {
	return "orders"
}

// ToDomain converts the header to an Order without children
func (m *OrderModel) ToDomain() *domain.Order {
	return &domain.Order{
		BaseEntity:          m.EntityColumns.entity(),
		ShopID:              m.ShopID,
		ExternalID:          m.ExternalID,
		OrderNumber:         m.OrderNumber,
		SourceCreatedAt:     m.SourceCreatedAt.UTC(),
		SourceUpdatedAt:     m.SourceUpdatedAt.UTC(),
		ProcessedAt:         m.ProcessedAt.UTC(),
		CancelledAt:         m.CancelledAt,
		EffectiveDate:       m.EffectiveDate.UTC(),
		Currency:            m.Currency,
		PresentmentCurrency: m.PresentmentCurrency,
		GrossTotal:          m.GrossTotal,
		Discounts:           m.Discounts,
		Tax:                 m.Tax,
		Duties:              m.Duties,
		ShippingCharged:     m.ShippingCharged,
		FinancialStatus:     m.FinancialStatus,
		FulfillmentStatus:   m.FulfillmentStatus,
		CustomerID:          m.CustomerID,
		Profit: domain.ProfitBreakdown{
			GrossRevenue:   m.GrossRevenue,
			RefundedAmount: m.RefundedAmount,
			NetRevenue:     m.NetRevenue,
			COGS:           m.COGS,
			Fees:           m.Fees,
			ShippingCost:   m.ShippingCost,
			AdSpend:        m.AdSpend,
			NetProfit:      m.NetProfit,
			MarginPct:      m.MarginPct,
		},
		Flags:    ParseFlags(m.Flags),
		Revision: m.Revision,
	}
}

// FromDomain populates the header from an Order
func (m *OrderModel) FromDomain(o *domain.Order) {
	m.EntityColumns = entityColumns(o.BaseEntity)
	m.ShopID = o.ShopID
	m.ExternalID = o.ExternalID
	m.OrderNumber = o.OrderNumber
	m.SourceCreatedAt = o.SourceCreatedAt
	m.SourceUpdatedAt = o.SourceUpdatedAt
	m.ProcessedAt = o.ProcessedAt
	m.CancelledAt = o.CancelledAt
	m.EffectiveDate = o.EffectiveDate
	m.Currency = o.Currency
	m.PresentmentCurrency = o.PresentmentCurrency
	m.GrossTotal = o.GrossTotal
	m.Discounts = o.Discounts
	m.Tax = o.Tax
	m.Duties = o.Duties
	m.ShippingCharged = o.ShippingCharged
	m.FinancialStatus = o.FinancialStatus
	m.FulfillmentStatus = o.FulfillmentStatus
	m.CustomerID = o.CustomerID
	m.SetProfit(o.Profit, o.Flags)
}

// SetProfit copies the computed breakdown and flags
func (m *OrderModel) SetProfit(p domain.ProfitBreakdown, flags domain.Flags) {
	m.GrossRevenue = p.GrossRevenue
	m.RefundedAmount = p.RefundedAmount
	m.NetRevenue = p.NetRevenue
	m.COGS = p.COGS
	m.Fees = p.Fees
	m.ShippingCost = p.ShippingCost
	m.AdSpend = p.AdSpend
	m.NetProfit = p.NetProfit
	m.MarginPct = p.MarginPct
	m.Flags = FormatFlags(flags)
}

// FormatFlags stores flags as a sorted comma separated list
func FormatFlags(f domain.Flags) string {
	return strings.Join(f.Names(), ",")
}

// ParseFlags reads a stored flag list
func ParseFlags(s string) domain.Flags {
	f := domain.Flags{}
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			f.Set(domain.Flag(name))
		}
	}
	return f
}

// OrderLineModel is the persistence model for an order line
type OrderLineModel struct {
	ID                   uuid.UUID           `gorm:"type:uuid;primary_key"`
	OrderID              uuid.UUID           `gorm:"type:uuid;not null;uniqueIndex:idx_order_lines_order_external,priority:1"`
	ExternalID           string              `gorm:"type:varchar(64);not null;uniqueIndex:idx_order_lines_order_external,priority:2"`
	ProductID            string              `gorm:"type:varchar(64)"`
	VariantID            string              `gorm:"type:varchar(64)"`
	InventoryItemID      string              `gorm:"type:varchar(64);index"`
	Title                string              `gorm:"type:varchar(512)"`
	Quantity             int                 `gorm:"not null"`
	UnitPrice            decimal.Decimal     `gorm:"type:decimal(18,4);not null;default:0"`
	UnitPricePresentment decimal.Decimal     `gorm:"type:decimal(18,4);not null;default:0"`
	DiscountTotal        decimal.Decimal     `gorm:"type:decimal(18,4);not null;default:0"`
	UnitCost             decimal.NullDecimal `gorm:"type:decimal(18,4)"`
	CostSource           string              `gorm:"type:varchar(16);not null;default:'unresolved'"`
}

// TableName returns the table name for GORM
func (OrderLineModel) TableName() string {
	return "order_lines"
}

// ToDomain converts the model to an OrderLine
func (m *OrderLineModel) ToDomain() domain.OrderLine {
	l := domain.OrderLine{
		ID:                   m.ID,
		OrderID:              m.OrderID,
		ExternalID:           m.ExternalID,
		ProductID:            m.ProductID,
		VariantID:            m.VariantID,
		InventoryItemID:      m.InventoryItemID,
		Title:                m.Title,
		Quantity:             m.Quantity,
		UnitPrice:            m.UnitPrice,
		UnitPricePresentment: m.UnitPricePresentment,
		DiscountTotal:        m.DiscountTotal,
		CostSource:           domain.CostSource(m.CostSource),
	}
	if m.UnitCost.Valid {
		c := m.UnitCost.Decimal
		l.UnitCost = &c
	}
	return l
}

// OrderLineFromDomain builds the model for a line of orderID
func OrderLineFromDomain(orderID uuid.UUID, l domain.OrderLine) OrderLineModel {
	m := OrderLineModel{
		ID:                   l.ID,
		OrderID:              orderID,
		ExternalID:           l.ExternalID,
		ProductID:            l.ProductID,
		VariantID:            l.VariantID,
		InventoryItemID:      l.InventoryItemID,
		Title:                l.Title,
		Quantity:             l.Quantity,
		UnitPrice:            l.UnitPrice,
		UnitPricePresentment: l.UnitPricePresentment,
		DiscountTotal:        l.DiscountTotal,
		CostSource:           string(l.CostSource),
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CostSource == "" {
		m.CostSource = string(domain.CostSourceUnresolved)
	}
	if l.UnitCost != nil {
		m.UnitCost = decimal.NewNullDecimal(*l.UnitCost)
	}
	return m
}

// RefundLineModel is the persistence model for a refunded line quantity
type RefundLineModel struct {
	ID                uuid.UUID       `gorm:"type:uuid;primary_key"`
	OrderID           uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_refund_lines_order_external,priority:1"`
	ExternalID        string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_refund_lines_order_external,priority:2"`
	RefundID          string          `gorm:"type:varchar(64);not null"`
	LineExternalID    string          `gorm:"type:varchar(64);not null"`
	Quantity          int             `gorm:"not null;default:0"`
	Amount            decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	AmountPresentment decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	CreatedAt         time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (RefundLineModel) TableName() string {
	return "refund_lines"
}

// ToDomain converts the model to a RefundLine
func (m *RefundLineModel) ToDomain() domain.RefundLine {
	return domain.RefundLine{
		ID:                m.ID,
		OrderID:           m.OrderID,
		ExternalID:        m.ExternalID,
		RefundID:          m.RefundID,
		LineExternalID:    m.LineExternalID,
		Quantity:          m.Quantity,
		Amount:            m.Amount,
		AmountPresentment: m.AmountPresentment,
		CreatedAt:         m.CreatedAt.UTC(),
	}
}

// RefundLineFromDomain builds the model for a refund line of orderID
func RefundLineFromDomain(orderID uuid.UUID, r domain.RefundLine) RefundLineModel {
	m := RefundLineModel{
		ID:                r.ID,
		OrderID:           orderID,
		ExternalID:        r.ExternalID,
		RefundID:          r.RefundID,
		LineExternalID:    r.LineExternalID,
		Quantity:          r.Quantity,
		Amount:            r.Amount,
		AmountPresentment: r.AmountPresentment,
		CreatedAt:         r.CreatedAt,
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return m
}

// TransactionModel is the persistence model for a payment transaction
type TransactionModel struct {
	ID          uuid.UUID       `gorm:"type:uuid;primary_key"`
	OrderID     uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_transactions_order_external,priority:1"`
	ExternalID  string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_transactions_order_external,priority:2"`
	Kind        string          `gorm:"type:varchar(32)"`
	Gateway     string          `gorm:"type:varchar(64)"`
	Status      string          `gorm:"type:varchar(32)"`
	Amount      decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Currency    string          `gorm:"type:char(3)"`
	ProcessedAt *time.Time      `gorm:""`
}

// TableName returns the table name for GORM
func (TransactionModel) TableName() string {
	return "transactions"
}

// ToDomain converts the model to a Transaction without fees
func (m *TransactionModel) ToDomain() domain.Transaction {
	return domain.Transaction{
		ID:          m.ID,
		OrderID:     m.OrderID,
		ExternalID:  m.ExternalID,
		Kind:        m.Kind,
		Gateway:     m.Gateway,
		Status:      m.Status,
		Amount:      m.Amount,
		Currency:    m.Currency,
		ProcessedAt: m.ProcessedAt,
	}
}

// TransactionFromDomain builds the model for a transaction of orderID
func TransactionFromDomain(orderID uuid.UUID, t domain.Transaction) TransactionModel {
	m := TransactionModel{
		ID:          t.ID,
		OrderID:     orderID,
		ExternalID:  t.ExternalID,
		Kind:        t.Kind,
		Gateway:     t.Gateway,
		Status:      t.Status,
		Amount:      t.Amount,
		Currency:    t.Currency,
		ProcessedAt: t.ProcessedAt,
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return m
}

// TransactionFeeModel is the persistence model for a transaction fee
type TransactionFeeModel struct {
	ID            uuid.UUID       `gorm:"type:uuid;primary_key"`
	TransactionID uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_transaction_fees_txn_external,priority:1"`
	ExternalID    string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_transaction_fees_txn_external,priority:2"`
	Amount        decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Currency      string          `gorm:"type:char(3)"`
	Estimated     bool            `gorm:"not null;default:false"`
}

// TableName returns the table name for GORM
func (TransactionFeeModel) TableName() string {
	return "transaction_fees"
}

// ToDomain converts the model to a TransactionFee
func (m *TransactionFeeModel) ToDomain() domain.TransactionFee {
	return domain.TransactionFee{
		ID:            m.ID,
		TransactionID: m.TransactionID,
		ExternalID:    m.ExternalID,
		Amount:        m.Amount,
		Currency:      m.Currency,
		Estimated:     m.Estimated,
	}
}

// TransactionFeeFromDomain builds the model for a fee of transactionID
func TransactionFeeFromDomain(transactionID uuid.UUID, f domain.TransactionFee) TransactionFeeModel {
	m := TransactionFeeModel{
		ID:            f.ID,
		TransactionID: transactionID,
		ExternalID:    f.ExternalID,
		Amount:        f.Amount,
		Currency:      f.Currency,
		Estimated:     f.Estimated,
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return m
}
