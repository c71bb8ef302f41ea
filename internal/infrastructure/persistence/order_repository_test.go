package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/profitledger/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormOrderRepository_SaveAndLoad(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewGormOrderRepository(db)
	ctx := context.Background()
	shopID := uuid.New()
	processed := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)

	order := sampleOrder(shopID, "1001", processed)
	require.NoError(t, repo.Save(ctx, order))
	require.NotEqual(t, uuid.Nil, order.ID)

	t.Run("loads header and children", func(t *testing.T) {
		loaded, err := repo.FindByExternalID(ctx, shopID, "1001")
		require.NoError(t, err)
		assert.Equal(t, order.ID, loaded.ID)
		assert.Equal(t, "#1001", loaded.OrderNumber)
		assert.True(t, loaded.GrossTotal.Equal(d("30")))
		require.Len(t, loaded.Lines, 2)
		assert.Equal(t, "L1", loaded.Lines[0].ExternalID)
		require.NotNil(t, loaded.Lines[0].UnitCost)
		assert.True(t, loaded.Lines[0].UnitCost.Equal(d("4")))
		assert.Nil(t, loaded.Lines[1].UnitCost)
		require.Len(t, loaded.Transactions, 1)
		require.Len(t, loaded.Transactions[0].Fees, 1)
		assert.True(t, loaded.Transactions[0].Fees[0].Amount.Equal(d("1.17")))
	})

	t.Run("child ids are set to stored ids", func(t *testing.T) {
		loaded, err := repo.FindByID(ctx, shopID, order.ID)
		require.NoError(t, err)
		assert.Equal(t, order.Lines[0].ID, loaded.Lines[0].ID)
		assert.Equal(t, order.Transactions[0].ID, loaded.Transactions[0].ID)
	})

	t.Run("other shop does not see the order", func(t *testing.T) {
		_, err := repo.FindByID(ctx, uuid.New(), order.ID)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestGormOrderRepository_SaveIsIdempotent(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewGormOrderRepository(db)
	ctx := context.Background()
	shopID := uuid.New()
	processed := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)

	first := sampleOrder(shopID, "1001", processed)
	require.NoError(t, repo.Save(ctx, first))

	// A fresh snapshot of the same order with new ids and a missing line cost
	second := sampleOrder(shopID, "1001", processed)
	second.OrderNumber = "#1001-b"
	second.Lines[0].UnitCost = nil
	second.Lines[0].CostSource = domain.CostSourceUnresolved
	require.NoError(t, repo.Save(ctx, second))

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Lines[0].ID, second.Lines[0].ID)

	loaded, err := repo.FindByID(ctx, shopID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "#1001-b", loaded.OrderNumber)
	require.Len(t, loaded.Lines, 2)
	require.NotNil(t, loaded.Lines[0].UnitCost, "stored cost survives a snapshot without one")
	assert.True(t, loaded.Lines[0].UnitCost.Equal(d("4")))
	assert.Equal(t, domain.CostSourceSnapshot, loaded.Lines[0].CostSource)
	assert.Len(t, loaded.Transactions, 1)
	assert.Len(t, loaded.Transactions[0].Fees, 1)

	var count int64
	require.NoError(t, db.Table("orders").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGormOrderRepository_SaveKeepsMissingChildren(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewGormOrderRepository(db)
	ctx := context.Background()
	shopID := uuid.New()
	processed := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)

	order := sampleOrder(shopID, "1001", processed)
	require.NoError(t, repo.Save(ctx, order))

	order.Refunds = []domain.RefundLine{{ExternalID: "R1", RefundID: "RF1", LineExternalID: "L1", Quantity: 1, Amount: d("10.00")}}
	order.Transactions = nil
	require.NoError(t, repo.Save(ctx, order))

	loaded, err := repo.FindByID(ctx, shopID, order.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Refunds, 1)
	assert.Equal(t, "L1", loaded.Refunds[0].LineExternalID)
	assert.Len(t, loaded.Transactions, 1, "transactions omitted from a save are untouched")
}

func TestGormOrderRepository_UpdateProfit(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewGormOrderRepository(db)
	ctx := context.Background()
	shopID := uuid.New()

	order := sampleOrder(shopID, "1001", time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC))
	require.NoError(t, repo.Save(ctx, order))

	cost := d("2.50")
	order.Lines[1].UnitCost = &cost
	order.Lines[1].CostSource = domain.CostSourceLiveFetch
	order.Profit = domain.ProfitBreakdown{
		GrossRevenue: d("30"), NetRevenue: d("30"), COGS: d("10.5"),
		Fees: d("1.17"), NetProfit: d("18.33"), MarginPct: d("61.1"),
	}
	order.Flags = domain.Flags{}
	order.Flags.Set(domain.FlagHasRefunds)
	require.NoError(t, repo.UpdateProfit(ctx, order))

	loaded, err := repo.FindByID(ctx, shopID, order.ID)
	require.NoError(t, err)
	assert.True(t, loaded.Profit.NetProfit.Equal(d("18.33")))
	assert.True(t, loaded.Flags.Has(domain.FlagHasRefunds))
	require.NotNil(t, loaded.Lines[1].UnitCost)
	assert.Equal(t, domain.CostSourceLiveFetch, loaded.Lines[1].CostSource)

	order.ID = uuid.New()
	assert.ErrorIs(t, repo.UpdateProfit(ctx, order), shared.ErrNotFound)
}

func TestGormOrderRepository_Revisions(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewGormOrderRepository(db)
	ctx := context.Background()
	shopID := uuid.New()
	processed := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)

	order := sampleOrder(shopID, "1001", processed)
	require.NoError(t, repo.Save(ctx, order))
	assert.Equal(t, int64(1), order.Revision)

	t.Run("profit computed from a superseded revision is rejected", func(t *testing.T) {
		before, err := repo.FindByID(ctx, shopID, order.ID)
		require.NoError(t, err)

		update := sampleOrder(shopID, "1001", processed)
		update.Refunds = []domain.RefundLine{{ExternalID: "R1", RefundID: "RF1", LineExternalID: "L1", Quantity: 1, Amount: d("10.00")}}
		require.NoError(t, repo.Save(ctx, update))
		assert.Equal(t, before.Revision+1, update.Revision)

		before.Profit = domain.ProfitBreakdown{NetProfit: d("99")}
		assert.ErrorIs(t, repo.UpdateProfit(ctx, before), domain.ErrOrderChanged)

		current, err := repo.FindByID(ctx, shopID, order.ID)
		require.NoError(t, err)
		current.Profit = domain.ProfitBreakdown{NetProfit: d("8")}
		require.NoError(t, repo.UpdateProfit(ctx, current))
		assert.Equal(t, update.Revision+1, current.Revision)

		loaded, err := repo.FindByID(ctx, shopID, order.ID)
		require.NoError(t, err)
		assert.True(t, loaded.Profit.NetProfit.Equal(d("8")))
		assert.Equal(t, current.Revision, loaded.Revision)
	})

	t.Run("an older snapshot keeps the stored header", func(t *testing.T) {
		older := sampleOrder(shopID, "1001", processed.Add(-time.Hour))
		older.OrderNumber = "#stale"
		older.Refunds = []domain.RefundLine{{ExternalID: "R2", RefundID: "RF2", LineExternalID: "L2", Quantity: 1, Amount: d("10.00")}}
		require.NoError(t, repo.Save(ctx, older))

		loaded, err := repo.FindByID(ctx, shopID, order.ID)
		require.NoError(t, err)
		assert.Equal(t, "#1001", loaded.OrderNumber)
		assert.True(t, loaded.SourceUpdatedAt.Equal(processed))
		assert.Len(t, loaded.Refunds, 2, "children of an older snapshot are still merged")
	})
}

func TestGormOrderRepository_FindByEffectiveDateAndList(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewGormOrderRepository(db)
	ctx := context.Background()
	shopID := uuid.New()

	for i, ts := range []time.Time{
		time.Date(2026, 3, 4, 1, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 4, 23, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
	} {
		o := sampleOrder(shopID, string(rune('A'+i)), ts)
		if i == 2 {
			o.Flags.Set(domain.FlagNoUnitCost)
		}
		require.NoError(t, repo.Save(ctx, o))
	}
	require.NoError(t, repo.Save(ctx, sampleOrder(uuid.New(), "X", time.Date(2026, 3, 4, 2, 0, 0, 0, time.UTC))))

	orders, err := repo.FindByEffectiveDate(ctx, shopID, day(2026, 3, 4))
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "A", orders[0].ExternalID)
	assert.Equal(t, "B", orders[1].ExternalID)

	t.Run("lists newest first with paging", func(t *testing.T) {
		result, err := repo.List(ctx, shopID, domain.OrderFilter{}, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(3), result.TotalCount)
		require.Len(t, result.Items, 2)
		assert.Equal(t, "C", result.Items[0].ExternalID)
	})

	t.Run("sorts by a whitelisted column", func(t *testing.T) {
		result, err := repo.List(ctx, shopID, domain.OrderFilter{SortBy: "external_id", SortDir: "asc"}, 1, 50)
		require.NoError(t, err)
		require.Len(t, result.Items, 3)
		assert.Equal(t, "A", result.Items[0].ExternalID)
		assert.Equal(t, "C", result.Items[2].ExternalID)
	})

	t.Run("filters by date range", func(t *testing.T) {
		from, to := day(2026, 3, 4), day(2026, 3, 4)
		result, err := repo.List(ctx, shopID, domain.OrderFilter{From: &from, To: &to}, 1, 50)
		require.NoError(t, err)
		assert.Equal(t, int64(2), result.TotalCount)
	})

	t.Run("filters by flag", func(t *testing.T) {
		flag := domain.FlagNoUnitCost
		result, err := repo.List(ctx, shopID, domain.OrderFilter{Flag: &flag}, 1, 50)
		require.NoError(t, err)
		require.Len(t, result.Items, 1)
		assert.Equal(t, "C", result.Items[0].ExternalID)
	})
}

func TestGormOrderRepository_Delete(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewGormOrderRepository(db)
	ctx := context.Background()
	shopID := uuid.New()

	order := sampleOrder(shopID, "1001", time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC))
	require.NoError(t, repo.Save(ctx, order))

	assert.ErrorIs(t, repo.Delete(ctx, uuid.New(), order.ID), shared.ErrNotFound)
	require.NoError(t, repo.Delete(ctx, shopID, order.ID))

	_, err := repo.FindByID(ctx, shopID, order.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	for _, table := range []string{"order_lines", "transactions", "transaction_fees"} {
		var count int64
		require.NoError(t, db.Table(table).Count(&count).Error)
		assert.Zero(t, count, table)
	}
}
