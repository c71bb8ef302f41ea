package ledger

import (
	"github.com/shopspring/decimal"
)

// FeeResult is the outcome of fee resolution for one order
type FeeResult struct {
	Amount    decimal.Decimal
	Estimated bool
	// Unconverted is true when some fee could not be converted to shop
	// currency and was counted at face value
	Unconverted bool
}

// ProfitInput is everything the calculator needs; all amounts are already in
// shop currency.
type ProfitInput struct {
	Order *Order
	// RefundedAmountUnconverted marks refunds summed without a rate
	RefundedAmountUnconverted bool
	Fees                      FeeResult
	Shipping                  ShippingRule
	AdSpend                   decimal.Decimal
	// Unconverted marks any other amount taken at face value
	Unconverted bool
}

// CalculateProfit computes the full profit breakdown and flags for an order.
// It is pure: the same input always gives the same output.
//
//	net_revenue  = gross - refunds
//	cogs         = sum(unit_cost * (qty - refunded_qty)) over costed lines
//	net_profit   = net_revenue - cogs - fees - shipping - ad_spend
//	margin_pct   = net_profit / net_revenue * 100, 0 when net_revenue is 0
func CalculateProfit(in ProfitInput) (ProfitBreakdown, Flags) {
	o := in.Order
	flags := Flags{}

	refunded := RoundMoney(o.RefundedAmount())
	gross := RoundMoney(o.GrossTotal)
	netRevenue := gross.Sub(refunded)

	refundedQty, overflow := o.RefundedQuantities()
	if overflow {
		flags.Set(FlagRefundOverflow)
	}
	if len(o.Refunds) > 0 || refunded.IsPositive() {
		flags.Set(FlagHasRefunds)
	}

	cogs := decimal.Zero
	for i := range o.Lines {
		l := &o.Lines[i]
		if !l.HasCost() {
			flags.Set(FlagNoUnitCost)
			continue
		}
		kept := l.Quantity - refundedQty[l.ExternalID]
		if kept <= 0 {
			continue
		}
		cogs = cogs.Add(l.UnitCost.Mul(decimal.NewFromInt(int64(kept))))
	}
	cogs = RoundMoney(cogs)

	fees := RoundMoney(in.Fees.Amount)
	if in.Fees.Estimated {
		flags.Set(FlagFeesEstimated)
	}
	if in.Fees.Unconverted || in.Unconverted || in.RefundedAmountUnconverted {
		flags.Set(FlagMultiCurrency)
	}

	shipping := in.Shipping.Cost(gross)
	adSpend := RoundMoney(in.AdSpend)

	netProfit := netRevenue.Sub(cogs).Sub(fees).Sub(shipping).Sub(adSpend)

	return ProfitBreakdown{
		GrossRevenue:   gross,
		RefundedAmount: refunded,
		NetRevenue:     netRevenue,
		COGS:           cogs,
		Fees:           fees,
		ShippingCost:   shipping,
		AdSpend:        adSpend,
		NetProfit:      netProfit,
		MarginPct:      MarginPct(netProfit, netRevenue),
	}, flags
}

// MarginPct returns profit as a percentage of revenue, rounded to 2 places,
// or zero when revenue is zero.
func MarginPct(profit, revenue decimal.Decimal) decimal.Decimal {
	if revenue.IsZero() {
		return decimal.Zero
	}
	return profit.Div(revenue).Mul(hundred).Round(2)
}

// EstimateFees applies the shop fee model: total * pct/100 + fixed.
func EstimateFees(total decimal.Decimal, s Settings) decimal.Decimal {
	return RoundMoney(total.Mul(s.FeePercentage).Div(hundred).Add(s.FeeFixed))
}

// ---------------------------------------------------------------------------
// Ad spend attribution
// ---------------------------------------------------------------------------

// AdSpendAllocator decides how much ad spend an order carries. Policies must
// depend only on the order and the shop settings so that recomputing one
// order never invalidates another.
type AdSpendAllocator interface {
	Allocate(order *Order, settings Settings) decimal.Decimal
}

// AdSpendAllocatorFunc adapts a function to AdSpendAllocator
type AdSpendAllocatorFunc func(order *Order, settings Settings) decimal.Decimal

// Allocate implements AdSpendAllocator
func (f AdSpendAllocatorFunc) Allocate(order *Order, settings Settings) decimal.Decimal {
	return f(order, settings)
}

// PolicyAllocator follows the shop's AdSpendPolicy: zero for period mode,
// the configured fixed amount for per-order mode. Cancelled orders carry none.
var PolicyAllocator AdSpendAllocator = AdSpendAllocatorFunc(func(order *Order, s Settings) decimal.Decimal {
	if s.AdSpend.Mode != AdSpendPerOrder || order.CancelledAt != nil {
		return decimal.Zero
	}
	return s.AdSpend.PerOrder
})
