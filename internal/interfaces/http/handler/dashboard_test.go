package handler

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	appledger "github.com/profitledger/backend/internal/application/ledger"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/profitledger/backend/internal/interfaces/http/dto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dashboardEngine(t *testing.T, q *fakeQueries) (*gin.Engine, *domain.Shop) {
	t.Helper()
	shop := newTestShop(t)
	h := NewDashboardHandler(q)
	engine := shopEngine(shop)
	engine.GET("/summary", h.Summary)
	engine.GET("/rollups", h.Rollups)
	engine.GET("/health", h.Health)
	return engine, shop
}

func TestDashboardHandler_Summary(t *testing.T) {
	t.Run("defaults to 30d", func(t *testing.T) {
		q := &fakeQueries{summary: &appledger.Summary{Period: appledger.Period30Days, Currency: "USD"}}
		engine, _ := dashboardEngine(t, q)

		w := doJSON(engine, http.MethodGet, "/summary", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, appledger.Period30Days, q.period)
		assert.Equal(t, "USD", decode(t, w).Data.(map[string]any)["currency"])
	})

	t.Run("passes the period through", func(t *testing.T) {
		q := &fakeQueries{summary: &appledger.Summary{}}
		engine, _ := dashboardEngine(t, q)

		doJSON(engine, http.MethodGet, "/summary?period=mtd", nil)
		assert.Equal(t, appledger.PeriodMonth, q.period)
	})

	t.Run("unknown period", func(t *testing.T) {
		q := &fakeQueries{err: domain.ErrMalformedPayload}
		engine, _ := dashboardEngine(t, q)

		w := doJSON(engine, http.MethodGet, "/summary?period=fortnight", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeMalformedPayload, decode(t, w).Error.Code)
	})
}

func TestDashboardHandler_Rollups(t *testing.T) {
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	t.Run("explicit range", func(t *testing.T) {
		q := &fakeQueries{rollups: []domain.DailyRollup{{
			Date:       day,
			OrderCount: 3,
			NetProfit:  decimal.RequireFromString("42.50"),
		}}}
		engine, _ := dashboardEngine(t, q)

		w := doJSON(engine, http.MethodGet, "/rollups?from=2024-03-01&to=2024-03-10", nil)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), q.from)
		assert.Equal(t, day, q.to)

		rows := decode(t, w).Data.([]any)
		require.Len(t, rows, 1)
		row := rows[0].(map[string]any)
		assert.Equal(t, "2024-03-10", row["date"])
		assert.Equal(t, float64(3), row["order_count"])
		assert.Equal(t, "42.5", row["net_profit"])
	})

	t.Run("default range is the last 30 days", func(t *testing.T) {
		q := &fakeQueries{}
		engine, shop := dashboardEngine(t, q)

		w := doJSON(engine, http.MethodGet, "/rollups", nil)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, shop.DateOf(time.Now()), q.to)
		assert.Equal(t, q.to.AddDate(0, 0, -29), q.from)
		assert.Empty(t, decode(t, w).Data)
	})

	t.Run("bad dates", func(t *testing.T) {
		engine, _ := dashboardEngine(t, &fakeQueries{})

		assert.Equal(t, http.StatusBadRequest, doJSON(engine, http.MethodGet, "/rollups?from=03/01/2024", nil).Code)
		assert.Equal(t, http.StatusBadRequest, doJSON(engine, http.MethodGet, "/rollups?to=tomorrow", nil).Code)
	})

	t.Run("store failure is hidden", func(t *testing.T) {
		engine, _ := dashboardEngine(t, &fakeQueries{err: errors.New("pq: relation missing")})

		w := doJSON(engine, http.MethodGet, "/rollups", nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "relation")
	})
}

func TestDashboardHandler_Health(t *testing.T) {
	q := &fakeQueries{health: &appledger.HealthReport{Days: 30, TotalOrders: 10, MissingCostOrders: 1}}
	engine, _ := dashboardEngine(t, q)

	w := doJSON(engine, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 30, q.days)
	assert.Equal(t, float64(1), decode(t, w).Data.(map[string]any)["missing_cost_orders"])

	doJSON(engine, http.MethodGet, "/health?days=7", nil)
	assert.Equal(t, 7, q.days)

	for _, bad := range []string{"0", "366", "week"} {
		w = doJSON(engine, http.MethodGet, "/health?days="+bad, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}
}
