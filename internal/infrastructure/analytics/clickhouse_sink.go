// Package analytics mirrors daily rollups into ClickHouse for reporting
// outside the ledger database.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	"go.uber.org/zap"
)

// Execer is the subset of driver.Conn used by the sink
type Execer interface {
	Exec(ctx context.Context, query string, args ...any) error
}

// Config holds the ClickHouse connection settings
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

const createRollupsTable = `
CREATE TABLE IF NOT EXISTS %s.daily_rollups (
	shop_id              UUID,
	date                 Date,
	order_count          UInt32,
	gross_revenue        Decimal(18, 2),
	refunds              Decimal(18, 2),
	net_revenue          Decimal(18, 2),
	cogs                 Decimal(18, 2),
	fees                 Decimal(18, 2),
	shipping_cost        Decimal(18, 2),
	ad_spend             Decimal(18, 2),
	unallocated_ad_spend Decimal(18, 2),
	net_profit           Decimal(18, 2),
	margin_pct           Decimal(9, 2),
	estimated_fee_orders UInt32,
	missing_cost_orders  UInt32,
	updated_at           DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree(updated_at)
ORDER BY (shop_id, date)`

const insertRollup = `
INSERT INTO %s.daily_rollups (
	shop_id, date, order_count, gross_revenue, refunds, net_revenue, cogs,
	fees, shipping_cost, ad_spend, unallocated_ad_spend, net_profit,
	margin_pct, estimated_fee_orders, missing_cost_orders, updated_at
) VALUES (
	?, ?, ?, toDecimal64(?, 2), toDecimal64(?, 2), toDecimal64(?, 2), toDecimal64(?, 2),
	toDecimal64(?, 2), toDecimal64(?, 2), toDecimal64(?, 2), toDecimal64(?, 2), toDecimal64(?, 2),
	toDecimal64(?, 2), ?, ?, ?
)`

// ClickHouseSink writes every recomputed rollup as a new row version.
// ReplacingMergeTree keeps the latest version per (shop_id, date).
type ClickHouseSink struct {
	conn     Execer
	closer   func() error
	database string
	logger   *zap.Logger
}

// NewClickHouseSink connects to ClickHouse and creates the rollup table
func NewClickHouseSink(ctx context.Context, cfg Config, logger *zap.Logger) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns: 5,
		MaxIdleConns: 2,
		DialTimeout:  10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	sink := NewClickHouseSinkWithConn(conn, cfg.Database, logger)
	sink.closer = conn.Close
	if err := sink.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return sink, nil
}

// NewClickHouseSinkWithConn creates a sink over an existing connection
func NewClickHouseSinkWithConn(conn Execer, database string, logger *zap.Logger) *ClickHouseSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if database == "" {
		database = "ledger"
	}
	return &ClickHouseSink{conn: conn, database: database, logger: logger}
}

// EnsureSchema creates the rollup table if it does not exist
func (s *ClickHouseSink) EnsureSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, fmt.Sprintf(createRollupsTable, s.database)); err != nil {
		return fmt.Errorf("failed to create %s.daily_rollups: %w", s.database, err)
	}
	return nil
}

// WriteRollup implements domain.RollupSink
func (s *ClickHouseSink) WriteRollup(ctx context.Context, r *domain.DailyRollup) error {
	updatedAt := r.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	err := s.conn.Exec(ctx, fmt.Sprintf(insertRollup, s.database),
		r.ShopID,
		r.Date,
		uint32(r.OrderCount),
		r.GrossRevenue.StringFixed(2),
		r.Refunds.StringFixed(2),
		r.NetRevenue.StringFixed(2),
		r.COGS.StringFixed(2),
		r.Fees.StringFixed(2),
		r.ShippingCost.StringFixed(2),
		r.AdSpend.StringFixed(2),
		r.UnallocatedAdSpend.StringFixed(2),
		r.NetProfit.StringFixed(2),
		r.MarginPct.StringFixed(2),
		uint32(r.EstimatedFeeOrders),
		uint32(r.MissingCostOrders),
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert rollup %s: %w", r.Date.Format(time.DateOnly), err)
	}
	s.logger.Debug("Mirrored rollup",
		zap.String("shop_id", r.ShopID.String()),
		zap.String("date", r.Date.Format(time.DateOnly)))
	return nil
}

// Close closes the underlying connection when the sink owns it
func (s *ClickHouseSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

var _ domain.RollupSink = (*ClickHouseSink)(nil)
