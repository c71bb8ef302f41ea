package persistence

import (
	"testing"
	"time"

	"github.com/google/uuid"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/profitledger/backend/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupLedgerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	// Every connection to :memory: is a separate database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(y int, m time.Month, dd int) time.Time {
	return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
}

func sampleOrder(shopID uuid.UUID, externalID string, processed time.Time) *domain.Order {
	cost := d("4.00")
	return &domain.Order{
		ShopID:              shopID,
		ExternalID:          externalID,
		OrderNumber:         "#" + externalID,
		SourceCreatedAt:     processed,
		SourceUpdatedAt:     processed,
		ProcessedAt:         processed,
		EffectiveDate:       domain.CalendarDate(processed, time.UTC),
		Currency:            "USD",
		PresentmentCurrency: "USD",
		GrossTotal:          d("30.00"),
		FinancialStatus:     "paid",
		Lines: []domain.OrderLine{
			{ExternalID: "L1", InventoryItemID: "I1", Title: "Mug", Quantity: 2, UnitPrice: d("10.00"), UnitCost: &cost, CostSource: domain.CostSourceSnapshot},
			{ExternalID: "L2", InventoryItemID: "I2", Title: "Cap", Quantity: 1, UnitPrice: d("10.00"), CostSource: domain.CostSourceUnresolved},
		},
		Transactions: []domain.Transaction{
			{
				ExternalID: "T1", Kind: "sale", Status: "success", Gateway: "shopify_payments",
				Amount: d("30.00"), Currency: "USD",
				Fees: []domain.TransactionFee{{ExternalID: "F1", Amount: d("1.17"), Currency: "USD"}},
			},
		},
		Flags: domain.Flags{},
	}
}
