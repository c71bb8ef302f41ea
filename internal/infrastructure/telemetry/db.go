package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const queryStartKey = "telemetry:query_start"

// DBConfig holds database instrumentation options.
type DBConfig struct {
	// TraceEnabled registers otelgorm spans
	TraceEnabled bool
	// DBName is reported on spans (default: "postgresql")
	DBName string
	// IncludeVariables keeps bound query variables in span statements
	IncludeVariables bool
	// SlowQueryThreshold logs statements slower than this (default: 200ms)
	SlowQueryThreshold time.Duration
}

// DBInstrumentation records query durations and connection pool usage.
type DBInstrumentation struct {
	config        DBConfig
	logger        *zap.Logger
	queryDuration *Histogram
}

// InstrumentDB installs tracing, query duration and pool gauges on db.
func InstrumentDB(db *gorm.DB, cfg DBConfig, meter metric.Meter, logger *zap.Logger) (*DBInstrumentation, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DBName == "" {
		cfg.DBName = "postgresql"
	}
	if cfg.SlowQueryThreshold <= 0 {
		cfg.SlowQueryThreshold = 200 * time.Millisecond
	}

	if cfg.TraceEnabled {
		opts := []otelgorm.Option{otelgorm.WithDBName(cfg.DBName)}
		if !cfg.IncludeVariables {
			opts = append(opts, otelgorm.WithoutQueryVariables())
		}
		if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
			return nil, fmt.Errorf("failed to register otelgorm: %w", err)
		}
	}

	queryDuration, err := NewHistogram(meter, HistogramOpts{
		Name:        "ledger_db_query_duration_seconds",
		Description: "Database statement duration",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	d := &DBInstrumentation{config: cfg, logger: logger, queryDuration: queryDuration}

	if err := d.registerCallbacks(db); err != nil {
		return nil, err
	}
	if err := d.registerPoolGauges(db, meter); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DBInstrumentation) registerCallbacks(db *gorm.DB) error {
	cb := db.Callback()
	register := []struct {
		name   string
		before func(string, func(*gorm.DB)) error
		after  func(string, func(*gorm.DB)) error
	}{
		{"create", cb.Create().Before("gorm:create").Register, cb.Create().After("gorm:create").Register},
		{"query", cb.Query().Before("gorm:query").Register, cb.Query().After("gorm:query").Register},
		{"update", cb.Update().Before("gorm:update").Register, cb.Update().After("gorm:update").Register},
		{"delete", cb.Delete().Before("gorm:delete").Register, cb.Delete().After("gorm:delete").Register},
		{"row", cb.Row().Before("gorm:row").Register, cb.Row().After("gorm:row").Register},
		{"raw", cb.Raw().Before("gorm:raw").Register, cb.Raw().After("gorm:raw").Register},
	}
	for _, r := range register {
		op := r.name
		if err := r.before("telemetry:before_"+op, startQuery); err != nil {
			return fmt.Errorf("failed to register %s callback: %w", op, err)
		}
		if err := r.after("telemetry:after_"+op, func(tx *gorm.DB) { d.finishQuery(tx, op) }); err != nil {
			return fmt.Errorf("failed to register %s callback: %w", op, err)
		}
	}
	return nil
}

func startQuery(tx *gorm.DB) {
	tx.InstanceSet(queryStartKey, time.Now())
}

func (d *DBInstrumentation) finishQuery(tx *gorm.DB, op string) {
	v, ok := tx.InstanceGet(queryStartKey)
	if !ok {
		return
	}
	start, ok := v.(time.Time)
	if !ok {
		return
	}
	elapsed := time.Since(start)

	ctx := tx.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	d.queryDuration.RecordDuration(ctx, elapsed, AttrDBOperation.String(op), AttrDBTable.String(tx.Statement.Table))

	if elapsed >= d.config.SlowQueryThreshold {
		d.logger.Warn("Slow query",
			zap.String("operation", op),
			zap.String("table", tx.Statement.Table),
			zap.Duration("elapsed", elapsed),
			zap.String("sql", strings.TrimSpace(tx.Statement.SQL.String())))
	}
}

func (d *DBInstrumentation) registerPoolGauges(db *gorm.DB, meter metric.Meter) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	conns, err := meter.Int64ObservableGauge("ledger_db_pool_connections",
		metric.WithDescription("Database pool connections by state"),
		metric.WithUnit("{connections}"))
	if err != nil {
		return fmt.Errorf("failed to create pool gauge: %w", err)
	}
	waits, err := meter.Int64ObservableCounter("ledger_db_pool_wait_total",
		metric.WithDescription("Connections waited for"),
		metric.WithUnit("{waits}"))
	if err != nil {
		return fmt.Errorf("failed to create pool wait counter: %w", err)
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		stats := sqlDB.Stats()
		o.ObserveInt64(conns, int64(stats.InUse), metric.WithAttributes(AttrDBState.String("in_use")))
		o.ObserveInt64(conns, int64(stats.Idle), metric.WithAttributes(AttrDBState.String("idle")))
		o.ObserveInt64(waits, stats.WaitCount)
		return nil
	}, conns, waits)
	if err != nil {
		return fmt.Errorf("failed to register pool callback: %w", err)
	}
	return nil
}
