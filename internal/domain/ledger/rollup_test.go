package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func profitOrder(net, cogs, fees, ad string, flags ...Flag) Order {
	o := Order{
		GrossTotal: d(net),
		Lines:      []OrderLine{{ExternalID: "L", Quantity: 1, UnitCost: costPtr(cogs), CostSource: CostSourceSnapshot}},
	}
	p, f := CalculateProfit(ProfitInput{Order: &o, Fees: FeeResult{Amount: d(fees)}, AdSpend: d(ad)})
	for _, fl := range flags {
		f.Set(fl)
	}
	o.Profit = p
	o.Flags = f
	return o
}

func TestBuildRollup(t *testing.T) {
	shopID := uuid.New()
	date := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	orders := []Order{
		profitOrder("100", "40", "3.20", "0", FlagFeesEstimated),
		profitOrder("50", "20", "1.75", "0"),
		profitOrder("10", "0", "0.59", "0", FlagNoUnitCost),
	}

	r := BuildRollup(shopID, date, orders, d("25"))

	assert.Equal(t, 3, r.OrderCount)
	assert.Equal(t, "160.00", r.NetRevenue.StringFixed(2))
	assert.Equal(t, "60.00", r.COGS.StringFixed(2))
	assert.Equal(t, "5.54", r.Fees.StringFixed(2))
	assert.Equal(t, "25.00", r.UnallocatedAdSpend.StringFixed(2))
	assert.Equal(t, 1, r.EstimatedFeeOrders)
	assert.Equal(t, 1, r.MissingCostOrders)

	sum := decimal.Zero
	for _, o := range orders {
		sum = sum.Add(o.Profit.NetProfit)
	}
	assert.True(t, sum.Equal(r.NetProfit), "rollup net profit must equal the sum of order profits")
	assert.Equal(t, MarginPct(r.NetProfit, r.NetRevenue), r.MarginPct)
}

func TestBuildRollup_PerOrderAdSpend(t *testing.T) {
	orders := []Order{
		profitOrder("100", "40", "0", "5"),
		profitOrder("100", "40", "0", "5"),
	}

	t.Run("spend below allocation leaves nothing unallocated", func(t *testing.T) {
		r := BuildRollup(uuid.New(), time.Now(), orders, d("8"))
		assert.Equal(t, "10.00", r.AdSpend.StringFixed(2))
		assert.True(t, r.UnallocatedAdSpend.IsZero())
	})

	t.Run("spend above allocation reports the remainder", func(t *testing.T) {
		r := BuildRollup(uuid.New(), time.Now(), orders, d("12.5"))
		assert.Equal(t, "2.50", r.UnallocatedAdSpend.StringFixed(2))
	})
}

func TestBuildRollup_Empty(t *testing.T) {
	r := BuildRollup(uuid.New(), time.Now(), nil, decimal.Zero)

	assert.Zero(t, r.OrderCount)
	assert.True(t, r.NetProfit.IsZero())
	assert.True(t, r.MarginPct.IsZero())
}
