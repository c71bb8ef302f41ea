package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// MoneyPlaces is the number of decimal places amounts are rounded to.
const MoneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds half away from zero to MoneyPlaces. Amounts in the ledger
// are non-negative so this is half-up.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// ValidCurrency reports whether code is a recognised ISO 4217 currency.
func ValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	_, err := currency.ParseISO(code)
	return err == nil
}

// NormalizeCurrency upper-cases a currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Money is an amount in a single currency.
type Money struct {
	Amount       decimal.Decimal `json:"amount"`
	CurrencyCode string          `json:"currency_code"`
}

// PriceSet carries the same amount expressed in the shop currency and in the
// currency presented to the customer.
type PriceSet struct {
	ShopMoney        *Money `json:"shop_money,omitempty"`
	PresentmentMoney *Money `json:"presentment_money,omitempty"`
}

// Pick returns the amount matching the requested currency. When neither side
// is in that currency it falls back to shop money, then presentment money.
// The returned Money tells the caller which currency it actually got.
func (p *PriceSet) Pick(currencyCode string) (Money, bool) {
	if p == nil {
		return Money{}, false
	}
	want := NormalizeCurrency(currencyCode)
	for _, m := range []*Money{p.ShopMoney, p.PresentmentMoney} {
		if m != nil && NormalizeCurrency(m.CurrencyCode) == want {
			return *m, true
		}
	}
	if p.ShopMoney != nil {
		return *p.ShopMoney, true
	}
	if p.PresentmentMoney != nil {
		return *p.PresentmentMoney, true
	}
	return Money{}, false
}
