package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appledger "github.com/profitledger/backend/internal/application/ledger"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/profitledger/backend/internal/infrastructure/auth"
	"github.com/profitledger/backend/internal/interfaces/http/dto"
	"github.com/profitledger/backend/internal/interfaces/http/middleware"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()
}

func newTestShop(t *testing.T) *domain.Shop {
	t.Helper()
	shop, err := domain.NewShop("acme.myshopify.com", "USD", "UTC",
		domain.DefaultSettings(decimal.NewFromFloat(2.9), decimal.NewFromFloat(0.3)))
	require.NoError(t, err)
	return shop
}

// shopEngine returns an engine whose requests run as shop
func shopEngine(shop *domain.Shop) *gin.Engine {
	engine := gin.New()
	engine.Use(func(c *gin.Context) {
		c.Set(middleware.ShopKey, shop)
		c.Next()
	})
	return engine
}

func doJSON(engine *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			_ = json.NewEncoder(&buf).Encode(b)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

type fakeIntake struct {
	got       appledger.Notification
	admission *appledger.Admission
	err       error
}

func (f *fakeIntake) Admit(_ context.Context, n appledger.Notification) (*appledger.Admission, error) {
	f.got = n
	return f.admission, f.err
}

type fakeBackfills struct {
	startDays int
	op        *domain.BackfillOperation
	view      *appledger.BackfillStatusView
	history   []*domain.BackfillOperation
	limit     int
	err       error
}

func (f *fakeBackfills) Start(_ context.Context, _ *domain.Shop, days int) (*domain.BackfillOperation, error) {
	f.startDays = days
	return f.op, f.err
}

func (f *fakeBackfills) CheckStatus(context.Context, *domain.Shop, uuid.UUID) (*appledger.BackfillStatusView, error) {
	return f.view, f.err
}

func (f *fakeBackfills) Resume(context.Context, *domain.Shop, uuid.UUID) (*domain.BackfillOperation, error) {
	return f.op, f.err
}

func (f *fakeBackfills) Cancel(context.Context, *domain.Shop, uuid.UUID) (*domain.BackfillOperation, error) {
	return f.op, f.err
}

func (f *fakeBackfills) History(_ context.Context, _ *domain.Shop, limit int) ([]*domain.BackfillOperation, error) {
	f.limit = limit
	return f.history, f.err
}

func (f *fakeBackfills) Estimate(days int) (domain.Estimate, error) {
	if f.err != nil {
		return domain.Estimate{}, f.err
	}
	return domain.EstimateBackfill(days), nil
}

type fakeQueries struct {
	period   string
	from, to time.Time
	filter   domain.OrderFilter
	page     int
	size     int
	days     int
	summary  *appledger.Summary
	rollups  []domain.DailyRollup
	order    *domain.Order
	orders   *domain.OrderListResult
	health   *appledger.HealthReport
	err      error
}

func (f *fakeQueries) Summary(_ context.Context, _ *domain.Shop, period string) (*appledger.Summary, error) {
	f.period = period
	return f.summary, f.err
}

func (f *fakeQueries) Rollups(_ context.Context, _ *domain.Shop, from, to time.Time) ([]domain.DailyRollup, error) {
	f.from, f.to = from, to
	return f.rollups, f.err
}

func (f *fakeQueries) Order(context.Context, *domain.Shop, uuid.UUID) (*domain.Order, error) {
	return f.order, f.err
}

func (f *fakeQueries) Orders(_ context.Context, _ *domain.Shop, filter domain.OrderFilter, page, pageSize int) (*domain.OrderListResult, error) {
	f.filter, f.page, f.size = filter, page, pageSize
	return f.orders, f.err
}

func (f *fakeQueries) DataHealth(_ context.Context, _ *domain.Shop, days int) (*appledger.HealthReport, error) {
	f.days = days
	return f.health, f.err
}

type fakeRecalculator struct {
	order *domain.Order
	err   error
}

func (f *fakeRecalculator) Recalculate(context.Context, *domain.Shop, uuid.UUID) (*domain.Order, error) {
	return f.order, f.err
}

type fakeAdSpend struct {
	entries []appledger.AdSpendEntry
	err     error
}

func (f *fakeAdSpend) RecordAdSpend(_ context.Context, _ *domain.Shop, entries []appledger.AdSpendEntry) ([]time.Time, error) {
	f.entries = entries
	if f.err != nil {
		return nil, f.err
	}
	var dates []time.Time
	seen := map[time.Time]bool{}
	for _, e := range entries {
		if !seen[e.Date] {
			seen[e.Date] = true
			dates = append(dates, e.Date)
		}
	}
	return dates, nil
}

type fakeCosts struct {
	rows []appledger.CostImportRow
	err  error
}

func (f *fakeCosts) ImportSnapshots(_ context.Context, _ *domain.Shop, rows []appledger.CostImportRow) (int, error) {
	f.rows = rows
	return len(rows), f.err
}

type fakeShopManager struct {
	shops      map[uuid.UUID]*domain.Shop
	registered appledger.RegisterShopInput
	err        error
}

func (f *fakeShopManager) Register(_ context.Context, in appledger.RegisterShopInput) (*domain.Shop, error) {
	f.registered = in
	if f.err != nil {
		return nil, f.err
	}
	return domain.NewShop(in.Domain, in.BaseCurrency, in.Timezone,
		domain.DefaultSettings(decimal.NewFromFloat(2.9), decimal.NewFromFloat(0.3)))
}

func (f *fakeShopManager) Get(_ context.Context, id uuid.UUID) (*domain.Shop, error) {
	if s, ok := f.shops[id]; ok {
		return s, nil
	}
	return nil, domain.ErrUnknownShop
}

func (f *fakeShopManager) UpdateSettings(_ context.Context, shop *domain.Shop, settings domain.Settings) (*domain.Shop, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	shop.Settings = settings
	return shop, nil
}

func (f *fakeShopManager) Deactivate(_ context.Context, shop *domain.Shop) error {
	shop.Active = false
	return f.err
}

func (f *fakeShopManager) List(context.Context) ([]*domain.Shop, error) {
	out := make([]*domain.Shop, 0, len(f.shops))
	for _, s := range f.shops {
		out = append(out, s)
	}
	return out, f.err
}

type fakeTokens struct{}

func (fakeTokens) IssueShopToken(shopID uuid.UUID, _ string) (*auth.Token, error) {
	return &auth.Token{AccessToken: "token-" + shopID.String(), TokenType: "Bearer"}, nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }
