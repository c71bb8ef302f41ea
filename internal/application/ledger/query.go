package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/profitledger/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Period names accepted by Summary
const (
	PeriodToday     = "today"
	PeriodYesterday = "yesterday"
	Period7Days     = "7d"
	Period30Days    = "30d"
	PeriodMonth     = "mtd"
)

// HealthThresholds are the ratios at which data quality degrades
type HealthThresholds struct {
	MissingCostWarning   float64
	MissingCostCritical  float64
	EstimatedFeeWarning  float64
	EstimatedFeeCritical float64
}

// DefaultHealthThresholds returns the standard thresholds
func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		MissingCostWarning:   0.10,
		MissingCostCritical:  0.20,
		EstimatedFeeWarning:  0.05,
		EstimatedFeeCritical: 0.25,
	}
}

// Summary is the profit picture of a period built from daily rollups
type Summary struct {
	Period             string          `json:"period"`
	From               time.Time       `json:"from"`
	To                 time.Time       `json:"to"`
	Currency           string          `json:"currency"`
	OrderCount         int             `json:"order_count"`
	GrossRevenue       decimal.Decimal `json:"gross_revenue"`
	Refunds            decimal.Decimal `json:"refunds"`
	NetRevenue         decimal.Decimal `json:"net_revenue"`
	COGS               decimal.Decimal `json:"cogs"`
	Fees               decimal.Decimal `json:"fees"`
	ShippingCost       decimal.Decimal `json:"shipping_cost"`
	AdSpend            decimal.Decimal `json:"ad_spend"`
	UnallocatedAdSpend decimal.Decimal `json:"unallocated_ad_spend"`
	NetProfit          decimal.Decimal `json:"net_profit"`
	// ContributionProfit is net profit less unallocated ad spend
	ContributionProfit decimal.Decimal `json:"contribution_profit"`
	MarginPct          decimal.Decimal `json:"margin_pct"`
	AverageOrderValue  decimal.Decimal `json:"average_order_value"`
	EstimatedFeeOrders int             `json:"estimated_fee_orders"`
	MissingCostOrders  int             `json:"missing_cost_orders"`
	ComputedAt         time.Time       `json:"computed_at"`
}

// HealthIssue is one data quality finding
type HealthIssue struct {
	Type     string  `json:"type"`
	Severity string  `json:"severity"`
	Ratio    float64 `json:"ratio"`
	Message  string  `json:"message"`
}

// HealthReport describes how trustworthy a shop's profit figures are
type HealthReport struct {
	Days               int           `json:"days"`
	TotalOrders        int           `json:"total_orders"`
	MissingCostOrders  int           `json:"missing_cost_orders"`
	EstimatedFeeOrders int           `json:"estimated_fee_orders"`
	CompletenessScore  float64       `json:"completeness_score"`
	Status             string        `json:"status"`
	Issues             []HealthIssue `json:"issues"`
	Recommendations    []string      `json:"recommendations"`
}

// QueryService serves the read side of the ledger
type QueryService struct {
	orders     domain.OrderRepository
	rollups    domain.RollupRepository
	thresholds HealthThresholds
	now        func() time.Time
}

// NewQueryService creates a new QueryService
func NewQueryService(orders domain.OrderRepository, rollups domain.RollupRepository, thresholds HealthThresholds) *QueryService {
	return &QueryService{
		orders:     orders,
		rollups:    rollups,
		thresholds: thresholds,
		now:        time.Now,
	}
}

// PeriodRange returns the shop-local calendar dates covered by period
func PeriodRange(period string, now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	today := domain.CalendarDate(now, loc)
	switch period {
	case "", PeriodToday:
		return today, today, nil
	case PeriodYesterday:
		y := today.AddDate(0, 0, -1)
		return y, y, nil
	case Period7Days:
		return today.AddDate(0, 0, -6), today, nil
	case Period30Days:
		return today.AddDate(0, 0, -29), today, nil
	case PeriodMonth:
		return time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC), today, nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("%w: unknown period %q", domain.ErrMalformedPayload, period)
}

// Summary aggregates the rollups of a named period
func (q *QueryService) Summary(ctx context.Context, shop *domain.Shop, period string) (*Summary, error) {
	from, to, err := PeriodRange(period, q.now(), shop.Location())
	if err != nil {
		return nil, err
	}
	rollups, err := q.rollups.FindRange(ctx, shop.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load rollups: %w", err)
	}
	if period == "" {
		period = PeriodToday
	}

	s := &Summary{
		Period:     period,
		From:       from,
		To:         to,
		Currency:   shop.BaseCurrency,
		ComputedAt: q.now().UTC(),
	}
	for _, r := range rollups {
		s.OrderCount += r.OrderCount
		s.GrossRevenue = s.GrossRevenue.Add(r.GrossRevenue)
		s.Refunds = s.Refunds.Add(r.Refunds)
		s.NetRevenue = s.NetRevenue.Add(r.NetRevenue)
		s.COGS = s.COGS.Add(r.COGS)
		s.Fees = s.Fees.Add(r.Fees)
		s.ShippingCost = s.ShippingCost.Add(r.ShippingCost)
		s.AdSpend = s.AdSpend.Add(r.AdSpend)
		s.UnallocatedAdSpend = s.UnallocatedAdSpend.Add(r.UnallocatedAdSpend)
		s.NetProfit = s.NetProfit.Add(r.NetProfit)
		s.EstimatedFeeOrders += r.EstimatedFeeOrders
		s.MissingCostOrders += r.MissingCostOrders
	}
	s.ContributionProfit = s.NetProfit.Sub(s.UnallocatedAdSpend)
	s.MarginPct = domain.MarginPct(s.NetProfit, s.NetRevenue)
	if s.OrderCount > 0 {
		s.AverageOrderValue = domain.RoundMoney(s.GrossRevenue.Div(decimal.NewFromInt(int64(s.OrderCount))))
	}
	return s, nil
}

// Rollups returns daily rollups in [from, to]
func (q *QueryService) Rollups(ctx context.Context, shop *domain.Shop, from, to time.Time) ([]domain.DailyRollup, error) {
	from, to = domain.CalendarDate(from, time.UTC), domain.CalendarDate(to, time.UTC)
	if to.Before(from) {
		return nil, fmt.Errorf("%w: range end before start", domain.ErrMalformedPayload)
	}
	if to.Sub(from) > 366*24*time.Hour {
		return nil, fmt.Errorf("%w: range longer than a year", domain.ErrMalformedPayload)
	}
	return q.rollups.FindRange(ctx, shop.ID, from, to)
}

// Order returns one order with its children and profit breakdown
func (q *QueryService) Order(ctx context.Context, shop *domain.Shop, id uuid.UUID) (*domain.Order, error) {
	o, err := q.orders.FindByID(ctx, shop.ID, id)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, domain.ErrOrderNotFound
	}
	return o, err
}

// Orders lists the shop's orders
func (q *QueryService) Orders(ctx context.Context, shop *domain.Shop, filter domain.OrderFilter, page, pageSize int) (*domain.OrderListResult, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}
	return q.orders.List(ctx, shop.ID, filter, page, pageSize)
}

// DataHealth reports missing cost and estimated fee ratios over the last
// days days
func (q *QueryService) DataHealth(ctx context.Context, shop *domain.Shop, days int) (*HealthReport, error) {
	if days <= 0 || days > 365 {
		days = 30
	}
	to := domain.CalendarDate(q.now(), shop.Location())
	from := to.AddDate(0, 0, -(days - 1))
	rollups, err := q.rollups.FindRange(ctx, shop.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load rollups: %w", err)
	}

	r := &HealthReport{Days: days, Status: "ok", Issues: []HealthIssue{}, Recommendations: []string{}}
	for _, ro := range rollups {
		r.TotalOrders += ro.OrderCount
		r.MissingCostOrders += ro.MissingCostOrders
		r.EstimatedFeeOrders += ro.EstimatedFeeOrders
	}
	r.CompletenessScore = 1
	if r.TotalOrders == 0 {
		return r, nil
	}

	missing := float64(r.MissingCostOrders) / float64(r.TotalOrders)
	estimated := float64(r.EstimatedFeeOrders) / float64(r.TotalOrders)
	r.CompletenessScore = 1 - missing

	if sev := severity(missing, q.thresholds.MissingCostWarning, q.thresholds.MissingCostCritical); sev != "" {
		r.addIssue(HealthIssue{
			Type:     "missing_costs",
			Severity: sev,
			Ratio:    missing,
			Message:  fmt.Sprintf("%d of %d orders are missing unit costs", r.MissingCostOrders, r.TotalOrders),
		})
		r.Recommendations = append(r.Recommendations, "Import unit costs for the affected inventory items.")
	}
	if sev := severity(estimated, q.thresholds.EstimatedFeeWarning, q.thresholds.EstimatedFeeCritical); sev != "" {
		r.addIssue(HealthIssue{
			Type:     "estimated_fees",
			Severity: sev,
			Ratio:    estimated,
			Message:  fmt.Sprintf("%d of %d orders use estimated fees", r.EstimatedFeeOrders, r.TotalOrders),
		})
		r.Recommendations = append(r.Recommendations, "Verify the shop fee settings match the payment provider.")
	}
	return r, nil
}

func (r *HealthReport) addIssue(issue HealthIssue) {
	r.Issues = append(r.Issues, issue)
	if issue.Severity == "critical" || r.Status == "ok" {
		r.Status = issue.Severity
	}
}

func severity(ratio, warning, critical float64) string {
	switch {
	case ratio >= critical:
		return "critical"
	case ratio >= warning:
		return "warning"
	}
	return ""
}
