package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DailyRollup is the derived per-shop, per-day aggregate. It is always
// rebuilt from the orders of the day and never patched incrementally.
type DailyRollup struct {
	ID           uuid.UUID
	ShopID       uuid.UUID
	Date         time.Time
	OrderCount   int
	GrossRevenue decimal.Decimal
	Refunds      decimal.Decimal
	NetRevenue   decimal.Decimal
	COGS         decimal.Decimal
	Fees         decimal.Decimal
	ShippingCost decimal.Decimal
	// AdSpend is the ad spend attributed to the day's orders
	AdSpend decimal.Decimal
	// UnallocatedAdSpend is the day's reported channel spend not attributed
	// to any order
	UnallocatedAdSpend decimal.Decimal
	// NetProfit equals the sum of the day's order net profits
	NetProfit decimal.Decimal
	MarginPct decimal.Decimal
	// Per-day data-quality counters
	EstimatedFeeOrders int
	MissingCostOrders  int
	UpdatedAt          time.Time
}

// BuildRollup sums the given orders into a rollup for (shop, date).
// channelSpend is the total reported ad spend for the day.
func BuildRollup(shopID uuid.UUID, date time.Time, orders []Order, channelSpend decimal.Decimal) DailyRollup {
	r := DailyRollup{
		ID:                 uuid.New(),
		ShopID:             shopID,
		Date:               date,
		GrossRevenue:       decimal.Zero,
		Refunds:            decimal.Zero,
		NetRevenue:         decimal.Zero,
		COGS:               decimal.Zero,
		Fees:               decimal.Zero,
		ShippingCost:       decimal.Zero,
		AdSpend:            decimal.Zero,
		NetProfit:          decimal.Zero,
		UnallocatedAdSpend: decimal.Zero,
		UpdatedAt:          time.Now().UTC(),
	}
	for i := range orders {
		p := orders[i].Profit
		r.OrderCount++
		r.GrossRevenue = r.GrossRevenue.Add(p.GrossRevenue)
		r.Refunds = r.Refunds.Add(p.RefundedAmount)
		r.NetRevenue = r.NetRevenue.Add(p.NetRevenue)
		r.COGS = r.COGS.Add(p.COGS)
		r.Fees = r.Fees.Add(p.Fees)
		r.ShippingCost = r.ShippingCost.Add(p.ShippingCost)
		r.AdSpend = r.AdSpend.Add(p.AdSpend)
		r.NetProfit = r.NetProfit.Add(p.NetProfit)
		if orders[i].Flags.Has(FlagFeesEstimated) {
			r.EstimatedFeeOrders++
		}
		if orders[i].Flags.Has(FlagNoUnitCost) {
			r.MissingCostOrders++
		}
	}
	if unallocated := channelSpend.Sub(r.AdSpend); unallocated.IsPositive() {
		r.UnallocatedAdSpend = RoundMoney(unallocated)
	}
	r.MarginPct = MarginPct(r.NetProfit, r.NetRevenue)
	return r
}
