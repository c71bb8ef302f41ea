package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestReconciler_ReconcileOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("new order computes profit and rollup", func(t *testing.T) {
		f := newLedgerFixture(t)
		f.withSnapshot("11", "4.00")

		order, err := f.reconciler.ReconcileOrder(ctx, f.shop, sampleOrderPayload())
		require.NoError(t, err)

		assertDec(t, "20", order.Profit.GrossRevenue)
		assertDec(t, "8", order.Profit.COGS)
		assertDec(t, "0.88", order.Profit.Fees)
		assertDec(t, "11.12", order.Profit.NetProfit)
		assertDec(t, "55.6", order.Profit.MarginPct)
		assert.Empty(t, order.Flags.Names())
		assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), order.EffectiveDate)
		assert.Equal(t, domain.CostSourceImport, order.Lines[0].CostSource)

		rollup, err := f.rollups.Find(ctx, f.shop.ID, order.EffectiveDate)
		require.NoError(t, err)
		assert.Equal(t, 1, rollup.OrderCount)
		assertDec(t, "11.12", rollup.NetProfit)

		require.Len(t, f.publisher.events, 1)
		assert.Equal(t, "1001", f.publisher.events[0].ExternalID)
	})

	t.Run("replaying the same payload changes nothing", func(t *testing.T) {
		f := newLedgerFixture(t)
		f.withSnapshot("11", "4.00")

		first, err := f.reconciler.ReconcileOrder(ctx, f.shop, sampleOrderPayload())
		require.NoError(t, err)
		second, err := f.reconciler.ReconcileOrder(ctx, f.shop, sampleOrderPayload())
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 1, f.orders.count())
		assertDec(t, first.Profit.NetProfit.String(), second.Profit.NetProfit)
		assertDec(t, first.Profit.Fees.String(), second.Profit.Fees)
		assert.Len(t, second.Transactions, 1)
		assert.Len(t, second.Lines, 1)

		rollup, err := f.rollups.Find(ctx, f.shop.ID, second.EffectiveDate)
		require.NoError(t, err)
		assert.Equal(t, 1, rollup.OrderCount)
	})

	t.Run("stale snapshot only contributes children", func(t *testing.T) {
		f := newLedgerFixture(t)
		f.withSnapshot("11", "4.00")

		current := sampleOrderPayload()
		current.UpdatedAt = orderTime.Add(2 * time.Hour)
		_, err := f.reconciler.ReconcileOrder(ctx, f.shop, current)
		require.NoError(t, err)

		stale := sampleOrderPayload()
		stale.UpdatedAt = orderTime.Add(time.Hour)
		stale.TotalPrice = d("999.00")
		stale.Transactions = append(stale.Transactions, TransactionPayload{
			ID: "702", Kind: "sale", Status: "success", Amount: d("5.00"), Currency: "USD", Fee: dp("0.12"),
		})

		order, err := f.reconciler.ReconcileOrder(ctx, f.shop, stale)
		require.NoError(t, err)

		assertDec(t, "20", order.Profit.GrossRevenue)
		assertDec(t, "1.00", order.Profit.Fees)
		assertDec(t, "11.00", order.Profit.NetProfit)
		assert.Len(t, order.Transactions, 2)
		assert.True(t, orderTime.Add(2*time.Hour).Equal(order.SourceUpdatedAt))
	})

	t.Run("fees are estimated without transactions", func(t *testing.T) {
		f := newLedgerFixture(t)
		f.withSnapshot("11", "4.00")
		p := sampleOrderPayload()
		p.Transactions = nil

		order, err := f.reconciler.ReconcileOrder(ctx, f.shop, p)
		require.NoError(t, err)

		assertDec(t, "0.88", order.Profit.Fees)
		assert.True(t, order.Flags.Has(domain.FlagFeesEstimated))
	})

	t.Run("missing cost raises a flag", func(t *testing.T) {
		f := newLedgerFixture(t)

		order, err := f.reconciler.ReconcileOrder(ctx, f.shop, sampleOrderPayload())
		require.NoError(t, err)

		assert.True(t, order.Flags.Has(domain.FlagNoUnitCost))
		assert.Nil(t, order.Lines[0].UnitCost)
		assertDec(t, "0", order.Profit.COGS)
		assertDec(t, "19.12", order.Profit.NetProfit)
	})

	t.Run("foreign currency is converted", func(t *testing.T) {
		f := newLedgerFixture(t)
		f.rates.On("Rate", mock.Anything, "EUR", "USD").Return(d("1.10"), nil)

		p := sampleOrderPayload()
		p.Currency = "EUR"
		p.TotalPrice = d("100.00")
		p.LineItems[0].Quantity = 1
		p.LineItems[0].Price = d("100.00")
		p.Transactions = nil

		order, err := f.reconciler.ReconcileOrder(ctx, f.shop, p)
		require.NoError(t, err)

		assert.Equal(t, "USD", order.Currency)
		assertDec(t, "110", order.GrossTotal)
		assertDec(t, "110", order.Lines[0].UnitPrice)
		assert.False(t, order.Flags.Has(domain.FlagMultiCurrency))
	})

	t.Run("unconvertible currency is flagged", func(t *testing.T) {
		f := newLedgerFixture(t)
		f.rates.On("Rate", mock.Anything, "EUR", "USD").Return(decimal.Zero, domain.ErrDownstreamUnavailable)

		p := sampleOrderPayload()
		p.Currency = "EUR"
		p.Transactions = nil

		order, err := f.reconciler.ReconcileOrder(ctx, f.shop, p)
		require.NoError(t, err)

		assertDec(t, "20", order.GrossTotal)
		assert.True(t, order.Flags.Has(domain.FlagMultiCurrency))
	})

	t.Run("rejects payload without currency", func(t *testing.T) {
		f := newLedgerFixture(t)
		p := sampleOrderPayload()
		p.Currency = ""

		_, err := f.reconciler.ReconcileOrder(ctx, f.shop, p)
		assert.ErrorIs(t, err, domain.ErrMalformedPayload)
		assert.Equal(t, 0, f.orders.count())
	})

	t.Run("publisher failure does not fail reconciliation", func(t *testing.T) {
		f := newLedgerFixture(t)
		f.publisher.err = errors.New("broker down")

		order, err := f.reconciler.ReconcileOrder(ctx, f.shop, sampleOrderPayload())
		require.NoError(t, err)
		assert.NotNil(t, order)
		assert.Len(t, f.publisher.events, 1)
	})
}

func TestReconciler_ReconcileRefund(t *testing.T) {
	ctx := context.Background()

	refund := func() *RefundPayload {
		return &RefundPayload{
			ID:        "9001",
			OrderID:   "1001",
			CreatedAt: orderTime.Add(24 * time.Hour),
			RefundLineItems: []RefundLineItemPayload{
				{ID: "5001", LineItemID: "1", Quantity: 1, Subtotal: d("10.00")},
			},
		}
	}

	t.Run("refund reduces revenue and cogs", func(t *testing.T) {
		f := newLedgerFixture(t)
		f.withSnapshot("11", "4.00")
		_, err := f.reconciler.ReconcileOrder(ctx, f.shop, sampleOrderPayload())
		require.NoError(t, err)

		order, err := f.reconciler.ReconcileRefund(ctx, f.shop, refund())
		require.NoError(t, err)

		assertDec(t, "10", order.Profit.RefundedAmount)
		assertDec(t, "10", order.Profit.NetRevenue)
		assertDec(t, "4", order.Profit.COGS)
		assertDec(t, "5.12", order.Profit.NetProfit)
		assert.True(t, order.Flags.Has(domain.FlagHasRefunds))

		rollup, err := f.rollups.Find(ctx, f.shop.ID, order.EffectiveDate)
		require.NoError(t, err)
		assertDec(t, "10", rollup.Refunds)
	})

	t.Run("replayed refund is counted once", func(t *testing.T) {
		f := newLedgerFixture(t)
		f.withSnapshot("11", "4.00")
		_, err := f.reconciler.ReconcileOrder(ctx, f.shop, sampleOrderPayload())
		require.NoError(t, err)

		_, err = f.reconciler.ReconcileRefund(ctx, f.shop, refund())
		require.NoError(t, err)
		order, err := f.reconciler.ReconcileRefund(ctx, f.shop, refund())
		require.NoError(t, err)

		assert.Len(t, order.Refunds, 1)
		assertDec(t, "10", order.Profit.RefundedAmount)
	})

	t.Run("refund survives a later order update", func(t *testing.T) {
		f := newLedgerFixture(t)
		f.withSnapshot("11", "4.00")
		_, err := f.reconciler.ReconcileOrder(ctx, f.shop, sampleOrderPayload())
		require.NoError(t, err)
		_, err = f.reconciler.ReconcileRefund(ctx, f.shop, refund())
		require.NoError(t, err)

		update := sampleOrderPayload()
		update.UpdatedAt = orderTime.Add(48 * time.Hour)
		update.FinancialStatus = "partially_refunded"
		order, err := f.reconciler.ReconcileOrder(ctx, f.shop, update)
		require.NoError(t, err)

		assert.Equal(t, "partially_refunded", order.FinancialStatus)
		assert.Len(t, order.Refunds, 1)
		assertDec(t, "5.12", order.Profit.NetProfit)
	})

	t.Run("refund over ordered quantity is clamped", func(t *testing.T) {
		f := newLedgerFixture(t)
		f.withSnapshot("11", "4.00")
		_, err := f.reconciler.ReconcileOrder(ctx, f.shop, sampleOrderPayload())
		require.NoError(t, err)

		r := refund()
		r.RefundLineItems[0].Quantity = 5
		r.RefundLineItems[0].Subtotal = d("20.00")
		order, err := f.reconciler.ReconcileRefund(ctx, f.shop, r)
		require.NoError(t, err)

		assert.True(t, order.Flags.Has(domain.FlagRefundOverflow))
		assertDec(t, "0", order.Profit.COGS)
	})

	t.Run("refund for unknown order fails", func(t *testing.T) {
		f := newLedgerFixture(t)

		_, err := f.reconciler.ReconcileRefund(ctx, f.shop, refund())
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})

	t.Run("refund without order id is malformed", func(t *testing.T) {
		f := newLedgerFixture(t)
		r := refund()
		r.OrderID = ""

		_, err := f.reconciler.ReconcileRefund(ctx, f.shop, r)
		assert.ErrorIs(t, err, domain.ErrMalformedPayload)
	})
}

func TestReconciler_ReconcileTransaction(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	f.withSnapshot("11", "4.00")

	p := sampleOrderPayload()
	p.Transactions = nil
	order, err := f.reconciler.ReconcileOrder(ctx, f.shop, p)
	require.NoError(t, err)
	require.True(t, order.Flags.Has(domain.FlagFeesEstimated))

	order, err = f.reconciler.ReconcileTransaction(ctx, f.shop, &TransactionPayload{
		ID:       "702",
		OrderID:  "1001",
		Kind:     "SALE",
		Status:   "success",
		Amount:   d("20.00"),
		Currency: "usd",
		Fee:      dp("0.50"),
	})
	require.NoError(t, err)

	assertDec(t, "0.50", order.Profit.Fees)
	assert.False(t, order.Flags.Has(domain.FlagFeesEstimated))
	assertDec(t, "11.50", order.Profit.NetProfit)
	require.Len(t, order.Transactions, 1)
	assert.Equal(t, "sale", order.Transactions[0].Kind)

	t.Run("failed transactions carry no fees", func(t *testing.T) {
		order, err := f.reconciler.ReconcileTransaction(ctx, f.shop, &TransactionPayload{
			ID:       "703",
			OrderID:  "1001",
			Kind:     "sale",
			Status:   "failure",
			Amount:   d("20.00"),
			Currency: "USD",
			Fee:      dp("0.40"),
		})
		require.NoError(t, err)
		assertDec(t, "0.50", order.Profit.Fees)
	})
}

func TestReconciler_Recalculate(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)

	order, err := f.reconciler.ReconcileOrder(ctx, f.shop, sampleOrderPayload())
	require.NoError(t, err)
	require.True(t, order.Flags.Has(domain.FlagNoUnitCost))

	n, err := f.costs.ImportSnapshots(ctx, f.shop, []CostImportRow{
		{InventoryItemID: "11", UnitCost: d("4.00")},
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	order, err = f.reconciler.Recalculate(ctx, f.shop, order.ID)
	require.NoError(t, err)

	assert.False(t, order.Flags.Has(domain.FlagNoUnitCost))
	assertDec(t, "8", order.Profit.COGS)
	assertDec(t, "11.12", order.Profit.NetProfit)

	stored, err := f.orders.FindByID(ctx, f.shop.ID, order.ID)
	require.NoError(t, err)
	assertDec(t, "4", *stored.Lines[0].UnitCost)

	t.Run("unknown order", func(t *testing.T) {
		_, err := f.reconciler.Recalculate(ctx, f.shop, f.shop.ID)
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})
}

func TestReconciler_PerOrderAdSpend(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	f.withSnapshot("11", "4.00")
	f.shop.Settings.AdSpend = domain.AdSpendPolicy{Mode: domain.AdSpendPerOrder, PerOrder: d("3.00")}

	order, err := f.reconciler.ReconcileOrder(ctx, f.shop, sampleOrderPayload())
	require.NoError(t, err)

	assertDec(t, "3", order.Profit.AdSpend)
	assertDec(t, "8.12", order.Profit.NetProfit)
}

func TestReconciler_ConcurrentInstances(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	f.withSnapshot("11", "4.00")
	_, err := f.reconciler.ReconcileOrder(ctx, f.shop, sampleOrderPayload())
	require.NoError(t, err)

	// A second reconciler shares the store but not the in-process locks
	other := NewReconciler(ReconcilerConfig{
		Orders:   f.orders,
		Costs:    f.costs,
		Fees:     NewFeeResolver(f.currency),
		Currency: f.currency,
		Rollups:  f.aggregator,
	})
	f.orders.afterFind = func() {
		_, err := other.ReconcileTransaction(ctx, f.shop, &TransactionPayload{
			ID: "702", OrderID: "1001", Kind: "sale", Status: "success",
			Amount: d("5.00"), Currency: "USD", Fee: dp("0.12"),
		})
		assert.NoError(t, err)
	}

	order, err := f.reconciler.ReconcileRefund(ctx, f.shop, &RefundPayload{
		ID: "9001", OrderID: "1001", CreatedAt: orderTime.Add(24 * time.Hour),
		RefundLineItems: []RefundLineItemPayload{{ID: "5001", LineItemID: "1", Quantity: 1, Subtotal: d("10.00")}},
	})
	require.NoError(t, err)

	stored, err := f.orders.FindByExternalID(ctx, f.shop.ID, "1001")
	require.NoError(t, err)
	assert.Len(t, stored.Refunds, 1)
	assert.Len(t, stored.Transactions, 2)
	assertDec(t, "1.00", stored.Profit.Fees)
	assertDec(t, "10", stored.Profit.RefundedAmount)
	assertDec(t, stored.Profit.NetProfit.String(), order.Profit.NetProfit)

	rollup, err := f.rollups.Find(ctx, f.shop.ID, stored.EffectiveDate)
	require.NoError(t, err)
	assertDec(t, stored.Profit.NetProfit.String(), rollup.NetProfit)
}

func TestMergeChildren(t *testing.T) {
	dst := &domain.Order{
		Lines:        []domain.OrderLine{{ExternalID: "1", Quantity: 2}},
		Transactions: []domain.Transaction{{ExternalID: "t1", Fees: []domain.TransactionFee{{ExternalID: "f1"}}}},
	}
	src := &domain.Order{
		Lines:   []domain.OrderLine{{ExternalID: "1", Quantity: 9}, {ExternalID: "2", Quantity: 1}},
		Refunds: []domain.RefundLine{{ExternalID: "r1"}},
		Transactions: []domain.Transaction{
			{ExternalID: "t1", Fees: []domain.TransactionFee{{ExternalID: "f1"}, {ExternalID: "f2"}}},
			{ExternalID: "t2"},
		},
	}

	mergeChildren(dst, src)

	require.Len(t, dst.Lines, 2)
	assert.Equal(t, 2, dst.Lines[0].Quantity)
	assert.Len(t, dst.Refunds, 1)
	require.Len(t, dst.Transactions, 2)
	assert.Len(t, dst.Transactions[0].Fees, 2)
}
