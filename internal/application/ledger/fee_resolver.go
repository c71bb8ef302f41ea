package ledger

import (
	"context"
	"strings"

	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/shopspring/decimal"
)

// FeeResolver determines the processing fees of an order: recorded fees
// when any exist, otherwise the shop's fee estimate. The two are never
// mixed.
type FeeResolver struct {
	currency *CurrencyNormalizer
}

// NewFeeResolver creates a new FeeResolver
func NewFeeResolver(currency *CurrencyNormalizer) *FeeResolver {
	return &FeeResolver{currency: currency}
}

// Resolve returns the order's fees in shop currency
func (f *FeeResolver) Resolve(ctx context.Context, shop *domain.Shop, order *domain.Order) domain.FeeResult {
	actual := decimal.Zero
	unconverted := false
	for _, t := range order.Transactions {
		if !countsForFees(t) {
			continue
		}
		for _, fee := range t.Fees {
			if fee.Estimated {
				continue
			}
			cur := fee.Currency
			if cur == "" {
				cur = t.Currency
			}
			amt, ok := f.currency.Convert(ctx, fee.Amount, cur, shop.BaseCurrency)
			if !ok {
				unconverted = true
			}
			actual = actual.Add(amt)
		}
	}

	// A recorded 0.00 fee counts as no recorded fee, so it is estimated.
	if actual.IsPositive() {
		return domain.FeeResult{Amount: domain.RoundMoney(actual), Unconverted: unconverted}
	}
	return domain.FeeResult{
		Amount:    domain.EstimateFees(order.GrossTotal, shop.Settings),
		Estimated: true,
	}
}

// countsForFees reports whether a transaction's fees are charged against the
// order: successful payment transactions only
func countsForFees(t domain.Transaction) bool {
	if !strings.EqualFold(t.Status, "success") {
		return false
	}
	switch strings.ToLower(t.Kind) {
	case "refund", "void", "authorization":
		return false
	}
	return true
}
