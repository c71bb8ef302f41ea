package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/shopspring/decimal"
)

// ResourceID is a platform id. It accepts JSON numbers, strings and
// gid://shopify/Type/123 references and keeps the trailing numeric part.
type ResourceID string

// UnmarshalJSON implements json.Unmarshaler
func (r *ResourceID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*r = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = ResourceID(stripGID(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("resource id: %w", err)
	}
	*r = ResourceID(n.String())
	return nil
}

// String returns the id as a string
func (r ResourceID) String() string {
	return string(r)
}

func stripGID(s string) string {
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

// CustomerRef is the customer reference embedded in an order
type CustomerRef struct {
	ID ResourceID `json:"id"`
}

// DiscountAllocation is a discount applied to a line item
type DiscountAllocation struct {
	Amount    decimal.Decimal  `json:"amount"`
	AmountSet *domain.PriceSet `json:"amount_set"`
}

// LineItemPayload is one line of an order payload
type LineItemPayload struct {
	ID                  ResourceID           `json:"id" validate:"required"`
	ProductID           ResourceID           `json:"product_id"`
	VariantID           ResourceID           `json:"variant_id"`
	InventoryItemID     ResourceID           `json:"inventory_item_id"`
	Title               string               `json:"title"`
	Quantity            int                  `json:"quantity" validate:"gte=0"`
	Price               decimal.Decimal      `json:"price"`
	PriceSet            *domain.PriceSet     `json:"price_set"`
	TotalDiscount       decimal.Decimal      `json:"total_discount"`
	TotalDiscountSet    *domain.PriceSet     `json:"total_discount_set"`
	DiscountAllocations []DiscountAllocation `json:"discount_allocations"`
}

// RefundLineItemPayload is one refunded line quantity
type RefundLineItemPayload struct {
	ID          ResourceID       `json:"id" validate:"required"`
	LineItemID  ResourceID       `json:"line_item_id" validate:"required"`
	Quantity    int              `json:"quantity" validate:"gte=0"`
	Subtotal    decimal.Decimal  `json:"subtotal"`
	SubtotalSet *domain.PriceSet `json:"subtotal_set"`
}

// FeePayload is a processing fee reported on a transaction
type FeePayload struct {
	ID        ResourceID       `json:"id"`
	Type      string           `json:"type"`
	Amount    decimal.Decimal  `json:"amount"`
	AmountSet *domain.PriceSet `json:"amount_set"`
	Currency  string           `json:"currency"`
}

// TransactionPayload is a payment transaction, standalone or embedded
type TransactionPayload struct {
	ID          ResourceID       `json:"id" validate:"required"`
	OrderID     ResourceID       `json:"order_id"`
	Kind        string           `json:"kind"`
	Gateway     string           `json:"gateway"`
	Status      string           `json:"status"`
	Amount      decimal.Decimal  `json:"amount"`
	AmountSet   *domain.PriceSet `json:"amount_set"`
	Currency    string           `json:"currency"`
	CreatedAt   time.Time        `json:"created_at"`
	ProcessedAt *time.Time       `json:"processed_at"`
	// Fee is a single reported fee amount in the transaction currency
	Fee  *decimal.Decimal `json:"fee"`
	Fees []FeePayload     `json:"fees" validate:"dive"`
}

// RefundPayload is a refund with its line quantities
type RefundPayload struct {
	ID              ResourceID              `json:"id" validate:"required"`
	OrderID         ResourceID              `json:"order_id"`
	CreatedAt       time.Time               `json:"created_at"`
	ProcessedAt     *time.Time              `json:"processed_at"`
	RefundLineItems []RefundLineItemPayload `json:"refund_line_items" validate:"dive"`
	Transactions    []TransactionPayload    `json:"transactions" validate:"dive"`
}

// OrderPayload is an order in the platform's webhook schema
type OrderPayload struct {
	ID                    ResourceID           `json:"id" validate:"required"`
	Name                  string               `json:"name"`
	OrderNumber           ResourceID           `json:"order_number"`
	CreatedAt             time.Time            `json:"created_at"`
	UpdatedAt             time.Time            `json:"updated_at"`
	ProcessedAt           *time.Time           `json:"processed_at"`
	CancelledAt           *time.Time           `json:"cancelled_at"`
	Currency              string               `json:"currency" validate:"required,len=3"`
	PresentmentCurrency   string               `json:"presentment_currency" validate:"omitempty,len=3"`
	TotalPrice            decimal.Decimal      `json:"total_price"`
	TotalPriceSet         *domain.PriceSet     `json:"total_price_set"`
	TotalDiscounts        decimal.Decimal      `json:"total_discounts"`
	TotalDiscountsSet     *domain.PriceSet     `json:"total_discounts_set"`
	TotalTax              decimal.Decimal      `json:"total_tax"`
	TotalTaxSet           *domain.PriceSet     `json:"total_tax_set"`
	CurrentTotalDutiesSet *domain.PriceSet     `json:"current_total_duties_set"`
	TotalShippingPriceSet *domain.PriceSet     `json:"total_shipping_price_set"`
	FinancialStatus       string               `json:"financial_status"`
	FulfillmentStatus     string               `json:"fulfillment_status"`
	Customer              *CustomerRef         `json:"customer"`
	LineItems             []LineItemPayload    `json:"line_items" validate:"dive"`
	Refunds               []RefundPayload      `json:"refunds" validate:"dive"`
	Transactions          []TransactionPayload `json:"transactions" validate:"dive"`
}

var payloadValidator = validator.New()

// validatePayload runs struct validation and maps failures to
// ErrMalformedPayload
func validatePayload(v any) error {
	if err := payloadValidator.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %s", domain.ErrMalformedPayload, verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	return nil
}

// Validate checks required fields
func (p *OrderPayload) Validate() error {
	if err := validatePayload(p); err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		return fmt.Errorf("%w: order %s has no created_at", domain.ErrMalformedPayload, p.ID)
	}
	if !domain.ValidCurrency(domain.NormalizeCurrency(p.Currency)) {
		return fmt.Errorf("%w: unknown currency %q", domain.ErrMalformedPayload, p.Currency)
	}
	return nil
}

// EventTime is the timestamp that identifies this version of the order
func (p *OrderPayload) EventTime() time.Time {
	if !p.UpdatedAt.IsZero() {
		return p.UpdatedAt
	}
	return p.CreatedAt
}

// Validate checks required fields. Standalone refunds must carry order_id.
func (p *RefundPayload) Validate() error {
	if err := validatePayload(p); err != nil {
		return err
	}
	if p.OrderID == "" {
		return fmt.Errorf("%w: refund %s has no order_id", domain.ErrMalformedPayload, p.ID)
	}
	return nil
}

// EventTime is the refund creation time
func (p *RefundPayload) EventTime() time.Time {
	if p.CreatedAt.IsZero() && p.ProcessedAt != nil {
		return *p.ProcessedAt
	}
	return p.CreatedAt
}

// Validate checks required fields. Standalone transactions must carry
// order_id.
func (p *TransactionPayload) Validate() error {
	if err := validatePayload(p); err != nil {
		return err
	}
	if p.OrderID == "" {
		return fmt.Errorf("%w: transaction %s has no order_id", domain.ErrMalformedPayload, p.ID)
	}
	return nil
}

// EventTime is the transaction creation time
func (p *TransactionPayload) EventTime() time.Time {
	if p.CreatedAt.IsZero() && p.ProcessedAt != nil {
		return *p.ProcessedAt
	}
	return p.CreatedAt
}

// decodePayload decodes a JSON body into v, mapping syntax errors to
// ErrMalformedPayload
func decodePayload(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	return nil
}
