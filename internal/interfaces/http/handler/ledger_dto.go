package handler

import (
	"time"

	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// OrderLineResponse is one line item with its resolved cost
type OrderLineResponse struct {
	ID              string           `json:"id"`
	ExternalID      string           `json:"external_id"`
	ProductID       string           `json:"product_id,omitempty"`
	VariantID       string           `json:"variant_id,omitempty"`
	InventoryItemID string           `json:"inventory_item_id,omitempty"`
	Title           string           `json:"title"`
	Quantity        int              `json:"quantity"`
	UnitPrice       decimal.Decimal  `json:"unit_price"`
	DiscountTotal   decimal.Decimal  `json:"discount_total"`
	UnitCost        *decimal.Decimal `json:"unit_cost"`
	CostSource      string           `json:"cost_source"`
}

// RefundLineResponse is one refunded line
type RefundLineResponse struct {
	RefundID       string          `json:"refund_id"`
	LineExternalID string          `json:"line_external_id"`
	Quantity       int             `json:"quantity"`
	Amount         decimal.Decimal `json:"amount"`
	CreatedAt      time.Time       `json:"created_at"`
}

// TransactionFeeResponse is one processing fee
type TransactionFeeResponse struct {
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Estimated bool            `json:"estimated"`
}

// TransactionResponse is one payment transaction
type TransactionResponse struct {
	ExternalID  string                   `json:"external_id"`
	Kind        string                   `json:"kind"`
	Gateway     string                   `json:"gateway"`
	Status      string                   `json:"status"`
	Amount      decimal.Decimal          `json:"amount"`
	Currency    string                   `json:"currency"`
	ProcessedAt *time.Time               `json:"processed_at,omitempty"`
	Fees        []TransactionFeeResponse `json:"fees"`
}

// OrderResponse is an order with its profit breakdown
type OrderResponse struct {
	ID                string                 `json:"id"`
	ExternalID        string                 `json:"external_id"`
	OrderNumber       string                 `json:"order_number"`
	EffectiveDate     string                 `json:"effective_date"`
	ProcessedAt       time.Time              `json:"processed_at"`
	CancelledAt       *time.Time             `json:"cancelled_at,omitempty"`
	Currency          string                 `json:"currency"`
	GrossTotal        decimal.Decimal        `json:"gross_total"`
	Discounts         decimal.Decimal        `json:"discounts"`
	Tax               decimal.Decimal        `json:"tax"`
	ShippingCharged   decimal.Decimal        `json:"shipping_charged"`
	FinancialStatus   string                 `json:"financial_status"`
	FulfillmentStatus string                 `json:"fulfillment_status"`
	Profit            domain.ProfitBreakdown `json:"profit"`
	Flags             []string               `json:"flags"`
	Lines             []OrderLineResponse    `json:"lines,omitempty"`
	Refunds           []RefundLineResponse   `json:"refunds,omitempty"`
	Transactions      []TransactionResponse  `json:"transactions,omitempty"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// toOrderResponse converts an order. Children are included only when
// detailed is set.
func toOrderResponse(o *domain.Order, detailed bool) OrderResponse {
	resp := OrderResponse{
		ID:                o.ID.String(),
		ExternalID:        o.ExternalID,
		OrderNumber:       o.OrderNumber,
		EffectiveDate:     o.EffectiveDate.Format(dateLayout),
		ProcessedAt:       o.ProcessedAt,
		CancelledAt:       o.CancelledAt,
		Currency:          o.Currency,
		GrossTotal:        o.GrossTotal,
		Discounts:         o.Discounts,
		Tax:               o.Tax,
		ShippingCharged:   o.ShippingCharged,
		FinancialStatus:   o.FinancialStatus,
		FulfillmentStatus: o.FulfillmentStatus,
		Profit:            o.Profit,
		Flags:             o.Flags.Names(),
		UpdatedAt:         o.UpdatedAt,
	}
	if !detailed {
		return resp
	}

	for _, l := range o.Lines {
		resp.Lines = append(resp.Lines, OrderLineResponse{
			ID:              l.ID.String(),
			ExternalID:      l.ExternalID,
			ProductID:       l.ProductID,
			VariantID:       l.VariantID,
			InventoryItemID: l.InventoryItemID,
			Title:           l.Title,
			Quantity:        l.Quantity,
			UnitPrice:       l.UnitPrice,
			DiscountTotal:   l.DiscountTotal,
			UnitCost:        l.UnitCost,
			CostSource:      string(l.CostSource),
		})
	}
	for _, r := range o.Refunds {
		resp.Refunds = append(resp.Refunds, RefundLineResponse{
			RefundID:       r.RefundID,
			LineExternalID: r.LineExternalID,
			Quantity:       r.Quantity,
			Amount:         r.Amount,
			CreatedAt:      r.CreatedAt,
		})
	}
	for _, t := range o.Transactions {
		tr := TransactionResponse{
			ExternalID:  t.ExternalID,
			Kind:        t.Kind,
			Gateway:     t.Gateway,
			Status:      t.Status,
			Amount:      t.Amount,
			Currency:    t.Currency,
			ProcessedAt: t.ProcessedAt,
			Fees:        make([]TransactionFeeResponse, 0, len(t.Fees)),
		}
		for _, f := range t.Fees {
			tr.Fees = append(tr.Fees, TransactionFeeResponse{Amount: f.Amount, Currency: f.Currency, Estimated: f.Estimated})
		}
		resp.Transactions = append(resp.Transactions, tr)
	}
	return resp
}

// RollupResponse is one day of aggregated profit
type RollupResponse struct {
	Date               string          `json:"date"`
	OrderCount         int             `json:"order_count"`
	GrossRevenue       decimal.Decimal `json:"gross_revenue"`
	Refunds            decimal.Decimal `json:"refunds"`
	NetRevenue         decimal.Decimal `json:"net_revenue"`
	COGS               decimal.Decimal `json:"cogs"`
	Fees               decimal.Decimal `json:"fees"`
	ShippingCost       decimal.Decimal `json:"shipping_cost"`
	AdSpend            decimal.Decimal `json:"ad_spend"`
	UnallocatedAdSpend decimal.Decimal `json:"unallocated_ad_spend"`
	NetProfit          decimal.Decimal `json:"net_profit"`
	MarginPct          decimal.Decimal `json:"margin_pct"`
	EstimatedFeeOrders int             `json:"estimated_fee_orders"`
	MissingCostOrders  int             `json:"missing_cost_orders"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func toRollupResponses(rollups []domain.DailyRollup) []RollupResponse {
	out := make([]RollupResponse, 0, len(rollups))
	for _, r := range rollups {
		out = append(out, RollupResponse{
			Date:               r.Date.Format(dateLayout),
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
		})
	}
	return out
}

// ShopResponse is a shop without its credentials
type ShopResponse struct {
	ID           string          `json:"id"`
	Domain       string          `json:"domain"`
	BaseCurrency string          `json:"base_currency"`
	Timezone     string          `json:"timezone"`
	Settings     domain.Settings `json:"settings"`
	Active       bool            `json:"active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func toShopResponse(s *domain.Shop) ShopResponse {
	return ShopResponse{
		ID:           s.ID.String(),
		Domain:       s.Domain,
		BaseCurrency: s.BaseCurrency,
		Timezone:     s.Timezone,
		Settings:     s.Settings,
		Active:       s.Active,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

// WebhookAckResponse acknowledges an admitted webhook
type WebhookAckResponse struct {
	EventID   string `json:"event_id"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
	OrderID   string `json:"order_id,omitempty"`
}
