package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/profitledger/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

// ShippingRuleType selects how shipping cost is charged against an order
type ShippingRuleType string

const (
	ShippingRuleFlat       ShippingRuleType = "flat"
	ShippingRulePercentage ShippingRuleType = "percentage"
)

// IsValid returns true if the rule type is known
func (t ShippingRuleType) IsValid() bool {
	return t == ShippingRuleFlat || t == ShippingRulePercentage
}

// ShippingRule is the shop's configured shipping cost model. Value is an
// amount for flat rules and a percentage of the gross total otherwise.
type ShippingRule struct {
	Type  ShippingRuleType `json:"type"`
	Value decimal.Decimal  `json:"value"`
}

// Cost applies the rule to an order's gross total.
func (r ShippingRule) Cost(gross decimal.Decimal) decimal.Decimal {
	switch r.Type {
	case ShippingRuleFlat:
		return RoundMoney(r.Value)
	case ShippingRulePercentage:
		return RoundMoney(gross.Mul(r.Value).Div(hundred))
	default:
		return decimal.Zero
	}
}

// AdSpendMode selects how ad spend is attributed
type AdSpendMode string

const (
	// AdSpendPeriod keeps ad spend at the day level. Orders carry zero and the
	// day's spend is reported on the rollup as unallocated.
	AdSpendPeriod AdSpendMode = "period"
	// AdSpendPerOrder charges a fixed acquisition cost to every order.
	AdSpendPerOrder AdSpendMode = "per_order"
)

// AdSpendPolicy configures per-order ad spend attribution
type AdSpendPolicy struct {
	Mode     AdSpendMode     `json:"mode"`
	PerOrder decimal.Decimal `json:"per_order"`
}

// Settings are the per-shop accounting inputs consumed by the fee resolver
// and profit calculator.
type Settings struct {
	// FeePercentage is a percentage (2.9 means 2.9%)
	FeePercentage decimal.Decimal `json:"fee_percentage"`
	FeeFixed      decimal.Decimal `json:"fee_fixed"`
	Shipping      ShippingRule    `json:"shipping"`
	AdSpend       AdSpendPolicy   `json:"ad_spend"`
}

// DefaultSettings returns settings using the given fee model, no shipping
// cost and period-level ad spend.
func DefaultSettings(feePct, feeFixed decimal.Decimal) Settings {
	return Settings{
		FeePercentage: feePct,
		FeeFixed:      feeFixed,
		Shipping:      ShippingRule{Type: ShippingRuleFlat, Value: decimal.Zero},
		AdSpend:       AdSpendPolicy{Mode: AdSpendPeriod},
	}
}

// Validate checks the settings for out-of-range values
func (s Settings) Validate() error {
	if s.FeePercentage.IsNegative() || s.FeePercentage.GreaterThan(hundred) {
		return shared.NewDomainError("INVALID_SETTINGS", "fee percentage must be between 0 and 100")
	}
	if s.FeeFixed.IsNegative() {
		return shared.NewDomainError("INVALID_SETTINGS", "fixed fee cannot be negative")
	}
	if !s.Shipping.Type.IsValid() {
		return shared.NewDomainError("INVALID_SETTINGS", fmt.Sprintf("unknown shipping rule %q", s.Shipping.Type))
	}
	if s.Shipping.Value.IsNegative() {
		return shared.NewDomainError("INVALID_SETTINGS", "shipping value cannot be negative")
	}
	switch s.AdSpend.Mode {
	case AdSpendPeriod, AdSpendPerOrder:
	default:
		return shared.NewDomainError("INVALID_SETTINGS", fmt.Sprintf("unknown ad spend mode %q", s.AdSpend.Mode))
	}
	if s.AdSpend.PerOrder.IsNegative() {
		return shared.NewDomainError("INVALID_SETTINGS", "per-order ad spend cannot be negative")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Shop
// ---------------------------------------------------------------------------

// Shop is the tenant. Every other ledger entity belongs to exactly one shop.
type Shop struct {
	shared.BaseEntity
	// Domain is the platform domain, e.g. acme.myshopify.com. Unique.
	Domain string
	// BaseCurrency is the shop currency all profit figures are expressed in
	BaseCurrency string
	// Timezone is an IANA zone name used to bucket orders into calendar days
	Timezone string
	// AccessToken authenticates calls to the platform API
	AccessToken string
	// WebhookSecret overrides the global webhook signing secret when set
	WebhookSecret string
	Settings      Settings
	Active        bool
}

// NewShop creates an active shop after validating its identity fields
func NewShop(domain, baseCurrency, timezone string, settings Settings) (*Shop, error) {
	s := &Shop{
		BaseEntity:   shared.NewBaseEntity(),
		Domain:       NormalizeDomain(domain),
		BaseCurrency: NormalizeCurrency(baseCurrency),
		Timezone:     timezone,
		Settings:     settings,
		Active:       true,
	}
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the shop's invariants
func (s *Shop) Validate() error {
	if s.Domain == "" {
		return shared.NewDomainError("INVALID_SHOP", "shop domain is required")
	}
	if !ValidCurrency(s.BaseCurrency) {
		return shared.NewDomainError("INVALID_SHOP", fmt.Sprintf("unknown currency %q", s.BaseCurrency))
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return shared.NewDomainError("INVALID_SHOP", fmt.Sprintf("unknown timezone %q", s.Timezone))
	}
	return s.Settings.Validate()
}

// Location returns the shop's time zone, UTC if it cannot be loaded
func (s *Shop) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DateOf returns the shop-local calendar date of t as midnight UTC.
func (s *Shop) DateOf(t time.Time) time.Time {
	return CalendarDate(t, s.Location())
}

// CalendarDate truncates t to its calendar date in loc, expressed as
// midnight UTC so dates compare and persist without zone drift.
func CalendarDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NormalizeDomain lower-cases a shop domain and strips scheme and path
func NormalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	if i := strings.IndexByte(d, '/'); i >= 0 {
		d = d[:i]
	}
	return d
}
