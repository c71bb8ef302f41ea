package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	query string
	args  []any
}

type fakeConn struct {
	calls []execCall
	err   error
}

func (c *fakeConn) Exec(ctx context.Context, query string, args ...any) error {
	c.calls = append(c.calls, execCall{query: query, args: args})
	return c.err
}

func TestClickHouseSink_EnsureSchema(t *testing.T) {
	conn := &fakeConn{}
	sink := NewClickHouseSinkWithConn(conn, "analytics", nil)

	require.NoError(t, sink.EnsureSchema(context.Background()))
	require.Len(t, conn.calls, 1)
	assert.Contains(t, conn.calls[0].query, "CREATE TABLE IF NOT EXISTS analytics.daily_rollups")
	assert.Contains(t, conn.calls[0].query, "ReplacingMergeTree(updated_at)")
}

func TestClickHouseSink_WriteRollup(t *testing.T) {
	conn := &fakeConn{}
	sink := NewClickHouseSinkWithConn(conn, "", nil)

	shopID := uuid.New()
	date := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rollup := &domain.DailyRollup{
		ShopID:             shopID,
		Date:               date,
		OrderCount:         3,
		GrossRevenue:       decimal.RequireFromString("300"),
		NetRevenue:         decimal.RequireFromString("280.5"),
		NetProfit:          decimal.RequireFromString("99.999"),
		MissingCostOrders:  1,
		EstimatedFeeOrders: 2,
	}
	require.NoError(t, sink.WriteRollup(context.Background(), rollup))

	require.Len(t, conn.calls, 1)
	call := conn.calls[0]
	assert.Contains(t, call.query, "INSERT INTO ledger.daily_rollups")
	require.Len(t, call.args, 16)
	assert.Equal(t, shopID, call.args[0])
	assert.Equal(t, date, call.args[1])
	assert.Equal(t, uint32(3), call.args[2])
	assert.Equal(t, "300.00", call.args[3])
	assert.Equal(t, "280.50", call.args[5])
	assert.Equal(t, "100.00", call.args[11])
	assert.Equal(t, uint32(2), call.args[13])
	assert.Equal(t, uint32(1), call.args[14])
	assert.False(t, call.args[15].(time.Time).IsZero())
}

func TestClickHouseSink_WriteRollupError(t *testing.T) {
	conn := &fakeConn{err: errors.New("connection reset")}
	sink := NewClickHouseSinkWithConn(conn, "ledger", nil)

	err := sink.WriteRollup(context.Background(), &domain.DailyRollup{Date: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, sink.Close())
}
