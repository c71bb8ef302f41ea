package ecommerce

import (
	"encoding/json"
	"strings"
	"time"

	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// GraphQL envelope
// ---------------------------------------------------------------------------

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

type shopifyUserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

type shopifyBulkOperation struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ErrorCode   string `json:"errorCode"`
	ObjectCount string `json:"objectCount"`
	URL         string `json:"url"`
}

type bulkRunQueryData struct {
	BulkOperationRunQuery struct {
		BulkOperation *shopifyBulkOperation `json:"bulkOperation"`
		UserErrors    []shopifyUserError    `json:"userErrors"`
	} `json:"bulkOperationRunQuery"`
}

type bulkCancelData struct {
	BulkOperationCancel struct {
		BulkOperation *shopifyBulkOperation `json:"bulkOperation"`
		UserErrors    []shopifyUserError    `json:"userErrors"`
	} `json:"bulkOperationCancel"`
}

type bulkNodeData struct {
	Node *shopifyBulkOperation `json:"node"`
}

type inventoryItemData struct {
	InventoryItem *struct {
		Tracked  bool       `json:"tracked"`
		UnitCost *bulkMoney `json:"unitCost"`
	} `json:"inventoryItem"`
}

// ---------------------------------------------------------------------------
// Bulk export records (camelCase, gid ids, children linked by __parentId)
// ---------------------------------------------------------------------------

type bulkMoney struct {
	Amount       decimal.Decimal `json:"amount"`
	CurrencyCode string          `json:"currencyCode"`
}

func (m *bulkMoney) toMoney() *domain.Money {
	if m == nil {
		return nil
	}
	return &domain.Money{Amount: m.Amount, CurrencyCode: m.CurrencyCode}
}

type bulkMoneyBag struct {
	ShopMoney        *bulkMoney `json:"shopMoney"`
	PresentmentMoney *bulkMoney `json:"presentmentMoney"`
}

func (b *bulkMoneyBag) priceSet() *domain.PriceSet {
	if b == nil {
		return nil
	}
	return &domain.PriceSet{ShopMoney: b.ShopMoney.toMoney(), PresentmentMoney: b.PresentmentMoney.toMoney()}
}

func (b *bulkMoneyBag) shopAmount() decimal.Decimal {
	if b == nil || b.ShopMoney == nil {
		return decimal.Zero
	}
	return b.ShopMoney.Amount
}

type bulkRef struct {
	ID string `json:"id"`
}

type bulkOrder struct {
	ID                       string            `json:"id"`
	Name                     string            `json:"name"`
	CreatedAt                time.Time         `json:"createdAt"`
	UpdatedAt                time.Time         `json:"updatedAt"`
	ProcessedAt              *time.Time        `json:"processedAt"`
	CancelledAt              *time.Time        `json:"cancelledAt"`
	CurrencyCode             string            `json:"currencyCode"`
	PresentmentCurrencyCode  string            `json:"presentmentCurrencyCode"`
	DisplayFinancialStatus   string            `json:"displayFinancialStatus"`
	DisplayFulfillmentStatus string            `json:"displayFulfillmentStatus"`
	TotalPriceSet            *bulkMoneyBag     `json:"totalPriceSet"`
	TotalDiscountsSet        *bulkMoneyBag     `json:"totalDiscountsSet"`
	TotalTaxSet              *bulkMoneyBag     `json:"totalTaxSet"`
	CurrentTotalDutiesSet    *bulkMoneyBag     `json:"currentTotalDutiesSet"`
	TotalShippingPriceSet    *bulkMoneyBag     `json:"totalShippingPriceSet"`
	Customer                 *bulkRef          `json:"customer"`
	Refunds                  []bulkRefund      `json:"refunds"`
	Transactions             []bulkTransaction `json:"transactions"`
}

type bulkLineItem struct {
	ID       string   `json:"id"`
	ParentID string   `json:"__parentId"`
	Title    string   `json:"title"`
	Quantity int      `json:"quantity"`
	Product  *bulkRef `json:"product"`
	Variant  *struct {
		ID            string   `json:"id"`
		InventoryItem *bulkRef `json:"inventoryItem"`
	} `json:"variant"`
	OriginalUnitPriceSet *bulkMoneyBag `json:"originalUnitPriceSet"`
	TotalDiscountSet     *bulkMoneyBag `json:"totalDiscountSet"`
}

type bulkRefundLineItem struct {
	ID          string        `json:"id"`
	Quantity    int           `json:"quantity"`
	LineItem    bulkRef       `json:"lineItem"`
	SubtotalSet *bulkMoneyBag `json:"subtotalSet"`
}

// bulkRefundLineItems accepts both the edges and the nodes connection shapes
type bulkRefundLineItems struct {
	Edges []struct {
		Node bulkRefundLineItem `json:"node"`
	} `json:"edges"`
	Nodes []bulkRefundLineItem `json:"nodes"`
}

func (c bulkRefundLineItems) all() []bulkRefundLineItem {
	out := append([]bulkRefundLineItem(nil), c.Nodes...)
	for _, e := range c.Edges {
		out = append(out, e.Node)
	}
	return out
}

type bulkRefund struct {
	ID              string              `json:"id"`
	CreatedAt       time.Time           `json:"createdAt"`
	RefundLineItems bulkRefundLineItems `json:"refundLineItems"`
}

type bulkFee struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	Amount bulkMoney `json:"amount"`
}

type bulkTransaction struct {
	ID          string        `json:"id"`
	Kind        string        `json:"kind"`
	Gateway     string        `json:"gateway"`
	Status      string        `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	ProcessedAt *time.Time    `json:"processedAt"`
	AmountSet   *bulkMoneyBag `json:"amountSet"`
	Fees        []bulkFee     `json:"fees"`
}

// ---------------------------------------------------------------------------
// Webhook schema records written by Open
// ---------------------------------------------------------------------------

type webhookRef struct {
	ID string `json:"id"`
}

type webhookLineItem struct {
	ID               string           `json:"id"`
	ProductID        string           `json:"product_id,omitempty"`
	VariantID        string           `json:"variant_id,omitempty"`
	InventoryItemID  string           `json:"inventory_item_id,omitempty"`
	Title            string           `json:"title"`
	Quantity         int              `json:"quantity"`
	Price            decimal.Decimal  `json:"price"`
	PriceSet         *domain.PriceSet `json:"price_set,omitempty"`
	TotalDiscountSet *domain.PriceSet `json:"total_discount_set,omitempty"`
}

type webhookOrder struct {
	ID                    string            `json:"id"`
	Name                  string            `json:"name"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
	ProcessedAt           *time.Time        `json:"processed_at"`
	CancelledAt           *time.Time        `json:"cancelled_at"`
	Currency              string            `json:"currency"`
	PresentmentCurrency   string            `json:"presentment_currency,omitempty"`
	TotalPrice            decimal.Decimal   `json:"total_price"`
	TotalPriceSet         *domain.PriceSet  `json:"total_price_set,omitempty"`
	TotalDiscountsSet     *domain.PriceSet  `json:"total_discounts_set,omitempty"`
	TotalTaxSet           *domain.PriceSet  `json:"total_tax_set,omitempty"`
	CurrentTotalDutiesSet *domain.PriceSet  `json:"current_total_duties_set,omitempty"`
	TotalShippingPriceSet *domain.PriceSet  `json:"total_shipping_price_set,omitempty"`
	FinancialStatus       string            `json:"financial_status"`
	FulfillmentStatus     string            `json:"fulfillment_status"`
	Customer              *webhookRef       `json:"customer,omitempty"`
	LineItems             []webhookLineItem `json:"line_items"`
}

type webhookRefundLineItem struct {
	ID          string           `json:"id"`
	LineItemID  string           `json:"line_item_id"`
	Quantity    int              `json:"quantity"`
	Subtotal    decimal.Decimal  `json:"subtotal"`
	SubtotalSet *domain.PriceSet `json:"subtotal_set,omitempty"`
}

type webhookRefund struct {
	ID              string                  `json:"id"`
	OrderID         string                  `json:"order_id"`
	CreatedAt       time.Time               `json:"created_at"`
	ProcessedAt     *time.Time              `json:"processed_at"`
	RefundLineItems []webhookRefundLineItem `json:"refund_line_items"`
}

type webhookFee struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type webhookTransaction struct {
	ID          string           `json:"id"`
	OrderID     string           `json:"order_id"`
	Kind        string           `json:"kind"`
	Gateway     string           `json:"gateway"`
	Status      string           `json:"status"`
	Amount      decimal.Decimal  `json:"amount"`
	AmountSet   *domain.PriceSet `json:"amount_set,omitempty"`
	Currency    string           `json:"currency"`
	CreatedAt   time.Time        `json:"created_at"`
	ProcessedAt *time.Time       `json:"processed_at"`
	Fees        []webhookFee     `json:"fees"`
}

// gidType returns "Order" for gid://shopify/Order/1
func gidType(gid string) string {
	rest, ok := strings.CutPrefix(gid, "gid://shopify/")
	if !ok {
		return ""
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[:i]
	}
	return ""
}

// gidID returns the trailing numeric id of a gid, or s unchanged
func gidID(s string) string {
	if !strings.HasPrefix(s, "gid://") {
		return s
	}
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s = s[:i]
	}
	return s
}

func refID(r *bulkRef) string {
	if r == nil {
		return ""
	}
	return gidID(r.ID)
}
