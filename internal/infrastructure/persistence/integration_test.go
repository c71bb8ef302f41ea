//go:build integration

package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/profitledger/backend/internal/infrastructure/migration"
	"github.com/profitledger/backend/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newPostgresTestDB starts a PostgreSQL container and applies the embedded
// migrations
func newPostgresTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("ledger_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("ledger"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	m, err := migration.New(sqlDB, migrations.FS, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Up())

	return db
}

func TestPostgres_OrderSaveConcurrentSnapshots(t *testing.T) {
	db := newPostgresTestDB(t)
	ctx := context.Background()
	repos := NewRepositories(db, nil)

	shop, err := domain.NewShop("acme.myshopify.com", "USD", "UTC", domain.DefaultSettings(d("2.9"), d("0.30")))
	require.NoError(t, err)
	require.NoError(t, repos.Shops.Save(ctx, shop))

	processed := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repos.Orders.Save(ctx, sampleOrder(shop.ID, "1001", processed))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var count int64
	require.NoError(t, db.Table("orders").Count(&count).Error)
	assert.Equal(t, int64(1), count)
	require.NoError(t, db.Table("order_lines").Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestPostgres_SingleActiveBackfill(t *testing.T) {
	db := newPostgresTestDB(t)
	ctx := context.Background()
	repos := NewRepositories(db, nil)

	shop, err := domain.NewShop("acme.myshopify.com", "USD", "UTC", domain.DefaultSettings(d("2.9"), d("0.30")))
	require.NoError(t, err)
	require.NoError(t, repos.Shops.Save(ctx, shop))

	first, err := domain.NewBackfillOperation(shop.ID, 30, 365)
	require.NoError(t, err)
	require.NoError(t, repos.Backfills.Create(ctx, first))

	second, err := domain.NewBackfillOperation(shop.ID, 30, 365)
	require.NoError(t, err)
	assert.ErrorIs(t, repos.Backfills.Create(ctx, second), domain.ErrBackfillActive)

	_, err = repos.Backfills.FindByID(ctx, shop.ID, uuid.New())
	assert.Error(t, err)
}
