package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/profitledger/backend/internal/infrastructure/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const connectTimeout = 10 * time.Second

// Database is the ledger's postgres connection pool
type Database struct {
	DB  *gorm.DB
	sql *sql.DB
}

// Open connects to postgres and sizes the pool from cfg. A nil gormLogger
// discards statement logs.
func Open(ctx context.Context, cfg *config.DatabaseConfig, gormLogger logger.Interface) (*Database, error) {
	if gormLogger == nil {
		gormLogger = logger.Discard
	}
	gdb, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db, err := wrap(gdb)
	if err != nil {
		return nil, err
	}
	db.configurePool(cfg)

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func wrap(gdb *gorm.DB) (*Database, error) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return &Database{DB: gdb, sql: sqlDB}, nil
}

func (d *Database) configurePool(cfg *config.DatabaseConfig) {
	d.sql.SetMaxOpenConns(cfg.MaxOpenConns)
	d.sql.SetMaxIdleConns(cfg.MaxIdleConns)
	d.sql.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	d.sql.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)
}

// Ping reports whether the database answers. The health endpoint calls it.
func (d *Database) Ping(ctx context.Context) error {
	return d.sql.PingContext(ctx)
}

// Close closes the pool
func (d *Database) Close() error {
	return d.sql.Close()
}

// Repositories bundles the gorm-backed ledger repositories
type Repositories struct {
	Shops     *GormShopRepository
	Orders    *GormOrderRepository
	Costs     *GormCostSnapshotRepository
	Rollups   *GormRollupRepository
	Events    *GormWebhookEventRepository
	Backfills *GormBackfillRepository
	AdSpend   *GormAdSpendRepository
}

// NewRepositories builds every repository on db. cipher protects shop
// credentials at rest.
func NewRepositories(db *gorm.DB, cipher TokenCipher) *Repositories {
	return &Repositories{
		Shops:     NewGormShopRepository(db, cipher),
		Orders:    NewGormOrderRepository(db),
		Costs:     NewGormCostSnapshotRepository(db),
		Rollups:   NewGormRollupRepository(db),
		Events:    NewGormWebhookEventRepository(db),
		Backfills: NewGormBackfillRepository(db),
		AdSpend:   NewGormAdSpendRepository(db),
	}
}
