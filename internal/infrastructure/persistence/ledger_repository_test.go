package persistence

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/profitledger/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reverseCipher struct{}

func (reverseCipher) Encrypt(s string) (string, error) { return "enc:" + reverse(s), nil }

func (reverseCipher) Decrypt(s string) (string, error) {
	if !strings.HasPrefix(s, "enc:") {
		return "", errors.New("not encrypted")
	}
	return reverse(strings.TrimPrefix(s, "enc:")), nil
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

func TestGormShopRepository(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewGormShopRepository(db, reverseCipher{})
	ctx := context.Background()

	shop, err := domain.NewShop("Acme.myshopify.com", "USD", "America/New_York", domain.DefaultSettings(d("2.9"), d("0.30")))
	require.NoError(t, err)
	shop.AccessToken = "shpat_123"
	shop.WebhookSecret = "whsec"
	require.NoError(t, repo.Save(ctx, shop))

	t.Run("credentials are encrypted at rest", func(t *testing.T) {
		var stored struct{ AccessTokenEnc string }
		require.NoError(t, db.Table("shops").Select("access_token_enc").Where("id = ?", shop.ID).Scan(&stored).Error)
		assert.Equal(t, "enc:321_tahps", stored.AccessTokenEnc)
	})

	t.Run("finds by normalized domain", func(t *testing.T) {
		found, err := repo.FindByDomain(ctx, "ACME.myshopify.com")
		require.NoError(t, err)
		assert.Equal(t, shop.ID, found.ID)
		assert.Equal(t, "shpat_123", found.AccessToken)
		assert.Equal(t, "whsec", found.WebhookSecret)
		assert.True(t, found.Settings.FeePercentage.Equal(d("2.9")))
		assert.Equal(t, domain.AdSpendPeriod, found.Settings.AdSpend.Mode)
	})

	t.Run("save updates existing shop", func(t *testing.T) {
		shop.Settings.FeeFixed = d("0.25")
		shop.Active = false
		require.NoError(t, repo.Save(ctx, shop))

		found, err := repo.FindByID(ctx, shop.ID)
		require.NoError(t, err)
		assert.True(t, found.Settings.FeeFixed.Equal(d("0.25")))
		assert.False(t, found.Active)

		shops, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Len(t, shops, 1)
	})

	t.Run("missing shop", func(t *testing.T) {
		_, err := repo.FindByID(ctx, uuid.New())
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestGormCostSnapshotRepository(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewGormCostSnapshotRepository(db)
	ctx := context.Background()
	shopID := uuid.New()

	require.NoError(t, repo.SaveBatch(ctx, []domain.CostSnapshot{
		domain.NewCostSnapshot(shopID, "I1", day(2026, 1, 1), d("3.00"), "USD", domain.CostSourceImport),
		domain.NewCostSnapshot(shopID, "I1", day(2026, 2, 1), d("3.50"), "USD", domain.CostSourceImport),
	}))

	t.Run("returns latest snapshot not after the date", func(t *testing.T) {
		snap, err := repo.FindLatest(ctx, shopID, "I1", day(2026, 1, 20))
		require.NoError(t, err)
		assert.True(t, snap.UnitCost.Equal(d("3")))

		snap, err = repo.FindLatest(ctx, shopID, "I1", day(2026, 3, 1))
		require.NoError(t, err)
		assert.True(t, snap.UnitCost.Equal(d("3.5")))
	})

	t.Run("nothing before the first snapshot", func(t *testing.T) {
		_, err := repo.FindLatest(ctx, shopID, "I1", day(2025, 12, 31))
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("save replaces the same effective date", func(t *testing.T) {
		snap := domain.NewCostSnapshot(shopID, "I1", day(2026, 2, 1), d("3.75"), "USD", domain.CostSourceLiveFetch)
		require.NoError(t, repo.Save(ctx, &snap))

		got, err := repo.FindLatest(ctx, shopID, "I1", day(2026, 2, 1))
		require.NoError(t, err)
		assert.True(t, got.UnitCost.Equal(d("3.75")))
		assert.Equal(t, domain.CostSourceLiveFetch, got.Source)
	})
}

func TestGormRollupRepository(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewGormRollupRepository(db)
	ctx := context.Background()
	shopID := uuid.New()

	for i := 1; i <= 3; i++ {
		r := domain.DailyRollup{ShopID: shopID, Date: day(2026, 3, i), OrderCount: i, NetProfit: d("10")}
		require.NoError(t, repo.Upsert(ctx, &r))
	}
	replacement := domain.DailyRollup{ShopID: shopID, Date: day(2026, 3, 2), OrderCount: 7, NetProfit: d("-4.5")}
	require.NoError(t, repo.Upsert(ctx, &replacement))

	got, err := repo.Find(ctx, shopID, day(2026, 3, 2))
	require.NoError(t, err)
	assert.Equal(t, 7, got.OrderCount)
	assert.True(t, got.NetProfit.Equal(d("-4.5")))

	rollups, err := repo.FindRange(ctx, shopID, day(2026, 3, 2), day(2026, 3, 3))
	require.NoError(t, err)
	require.Len(t, rollups, 2)
	assert.Equal(t, day(2026, 3, 2), rollups[0].Date)

	_, err = repo.Find(ctx, shopID, day(2026, 4, 1))
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGormWebhookEventRepository(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewGormWebhookEventRepository(db)
	ctx := context.Background()
	shopID := uuid.New()

	event := domain.NewWebhookEvent(shopID, domain.TopicOrdersCreate, "1001", "orders/create:acme:1001:1")
	inserted, err := repo.Insert(ctx, event)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := domain.NewWebhookEvent(shopID, domain.TopicOrdersCreate, "1001", "orders/create:acme:1001:1")
	inserted, err = repo.Insert(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	require.NoError(t, event.StartProcessing())
	require.NoError(t, event.Fail(errors.New("boom")))
	require.NoError(t, repo.Update(ctx, event))

	found, err := repo.FindByDedupKey(ctx, event.DedupKey)
	require.NoError(t, err)
	assert.Equal(t, event.ID, found.ID)
	assert.Equal(t, domain.EventStatusFailed, found.Status)
	assert.Equal(t, 1, found.Attempts)
	assert.Contains(t, found.Error, "boom")

	claimed, err := repo.ClaimFailed(ctx, event.DedupKey)
	require.NoError(t, err)
	assert.True(t, claimed)
	claimed, err = repo.ClaimFailed(ctx, event.DedupKey)
	require.NoError(t, err)
	assert.False(t, claimed, "a re-opened event can only be claimed once")

	found, err = repo.FindByDedupKey(ctx, event.DedupKey)
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusPending, found.Status)
	assert.Nil(t, found.ProcessedAt)

	claimed, err = repo.ClaimFailed(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestGormBackfillRepository(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewGormBackfillRepository(db)
	ctx := context.Background()
	shopID := uuid.New()

	done, err := domain.NewBackfillOperation(shopID, 30, 365)
	require.NoError(t, err)
	done.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, repo.Create(ctx, done))
	require.NoError(t, done.Start("gid://shopify/BulkOperation/1"))
	require.NoError(t, done.Complete())
	require.NoError(t, repo.Update(ctx, done))

	active, err := domain.NewBackfillOperation(shopID, 90, 365)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, active))
	require.NoError(t, active.Start("gid://shopify/BulkOperation/2"))
	active.Advance(4, 40, 1)
	require.NoError(t, repo.Update(ctx, active))

	found, err := repo.FindActive(ctx, shopID)
	require.NoError(t, err)
	assert.Equal(t, active.ID, found.ID)
	assert.Equal(t, 4, found.Cursor)
	assert.Equal(t, 40, found.ProcessedOrders)

	running, err := repo.FindRunning(ctx)
	require.NoError(t, err)
	require.Len(t, running, 1)

	history, err := repo.List(ctx, shopID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, active.ID, history[0].ID)
	assert.Equal(t, domain.BackfillCompleted, history[1].Status)

	_, err = repo.FindByID(ctx, uuid.New(), active.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGormAdSpendRepository(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewGormAdSpendRepository(db)
	ctx := context.Background()
	shopID := uuid.New()

	require.NoError(t, repo.Upsert(ctx, []domain.AdSpendDaily{
		{ShopID: shopID, Date: day(2026, 3, 4), Channel: "meta", Amount: d("40.10"), Currency: "USD"},
		{ShopID: shopID, Date: day(2026, 3, 4), Channel: "google", Amount: d("9.90"), Currency: "USD"},
	}))
	require.NoError(t, repo.Upsert(ctx, []domain.AdSpendDaily{
		{ShopID: shopID, Date: day(2026, 3, 4), Channel: "meta", Amount: d("50.10"), Currency: "USD"},
	}))

	total, err := repo.TotalForDate(ctx, shopID, day(2026, 3, 4))
	require.NoError(t, err)
	assert.Equal(t, "60.00", total.StringFixed(2))

	total, err = repo.TotalForDate(ctx, shopID, day(2026, 3, 5))
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}
