package persistence

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/profitledger/backend/internal/infrastructure/config"
	"github.com/profitledger/backend/internal/infrastructure/persistence/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// newMockDatabase creates a Database instance with a mocked SQL connection
func newMockDatabase(t *testing.T) (*Database, sqlmock.Sqlmock, *sql.DB) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	db, err := wrap(gormDB)
	require.NoError(t, err)
	return db, mock, mockDB
}

func TestDatabase_PoolAndPing(t *testing.T) {
	db, mock, _ := newMockDatabase(t)

	db.configurePool(&config.DatabaseConfig{MaxOpenConns: 7, MaxIdleConns: 3, ConnMaxLifetime: 5})
	assert.Equal(t, 7, db.sql.Stats().MaxOpenConnections)

	require.NoError(t, db.Ping(context.Background()))

	mock.ExpectClose()
	require.NoError(t, db.Close())
	assert.Error(t, db.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormWebhookEventRepository_InsertUsesDedupKey(t *testing.T) {
	db, mock, mockDB := newMockDatabase(t)
	defer mockDB.Close()
	repo := NewGormWebhookEventRepository(db.DB)

	event := domain.NewWebhookEvent(uuid.New(), domain.TopicOrdersPaid, "1001", "orders/paid:acme:1001:1")

	t.Run("first delivery inserts", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO "webhook_events" .* ON CONFLICT \("dedup_key"\) DO NOTHING`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		inserted, err := repo.Insert(context.Background(), event)
		require.NoError(t, err)
		assert.True(t, inserted)
	})

	t.Run("re-delivery affects no rows", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO "webhook_events" .* ON CONFLICT \("dedup_key"\) DO NOTHING`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		inserted, err := repo.Insert(context.Background(), event)
		require.NoError(t, err)
		assert.False(t, inserted)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderLineUpsert_PreservesStoredCost(t *testing.T) {
	db, _, mockDB := newMockDatabase(t)
	defer mockDB.Close()

	rows := []models.OrderLineModel{models.OrderLineFromDomain(uuid.New(), domain.OrderLine{ExternalID: "L1", Quantity: 1})}
	stmt := db.DB.Session(&gorm.Session{DryRun: true}).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}, {Name: "external_id"}},
		DoUpdates: append(clause.AssignmentColumns(orderLineColumns), orderLineCostAssignments...),
	}).Create(&rows).Statement

	sqlText := stmt.SQL.String()
	assert.Contains(t, sqlText, `ON CONFLICT ("order_id","external_id") DO UPDATE SET`)
	assert.Contains(t, sqlText, "COALESCE(excluded.unit_cost, order_lines.unit_cost)")
	assert.Contains(t, sqlText, "THEN order_lines.cost_source ELSE excluded.cost_source END")
}
