package ledger

import (
	"context"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/profitledger/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "want %s, got %s", want, got.String())
}

func newTestShop(t *testing.T) *domain.Shop {
	t.Helper()
	shop, err := domain.NewShop("acme.myshopify.com", "USD", "UTC", domain.DefaultSettings(d("2.9"), d("0.30")))
	require.NoError(t, err)
	shop.WebhookSecret = ""
	return shop
}

// =============================================================================
// Shops
// =============================================================================

type memShopRepository struct {
	mu    sync.Mutex
	shops map[uuid.UUID]domain.Shop
}

func newMemShopRepository(shops ...*domain.Shop) *memShopRepository {
	r := &memShopRepository{shops: map[uuid.UUID]domain.Shop{}}
	for _, s := range shops {
		r.shops[s.ID] = *s
	}
	return r
}

func (r *memShopRepository) FindByID(_ context.Context, id uuid.UUID) (*domain.Shop, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.shops[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &s, nil
}

func (r *memShopRepository) FindByDomain(_ context.Context, shopDomain string) (*domain.Shop, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.shops {
		if s.Domain == shopDomain {
			return &s, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memShopRepository) Save(_ context.Context, shop *domain.Shop) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shops[shop.ID] = *shop
	return nil
}

func (r *memShopRepository) List(_ context.Context) ([]*domain.Shop, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Shop, 0, len(r.shops))
	for _, s := range r.shops {
		s := s
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

// =============================================================================
// Orders
// =============================================================================

// memOrderRepository mirrors the upsert rules of the SQL repository:
// children are keyed by external id, a stored unit cost survives an
// upsert that carries none, an older header never replaces a newer one, and
// profit writes are checked against the revision. Writes fail once ctx is
// done, like a database driver.
type memOrderRepository struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*domain.Order
	saves  int
	// afterFind runs once, after the next FindByID releases the lock
	afterFind func()
}

func newMemOrderRepository() *memOrderRepository {
	return &memOrderRepository{orders: map[uuid.UUID]*domain.Order{}}
}

func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Lines = append([]domain.OrderLine(nil), o.Lines...)
	for i := range c.Lines {
		if c.Lines[i].UnitCost != nil {
			v := *c.Lines[i].UnitCost
			c.Lines[i].UnitCost = &v
		}
	}
	c.Refunds = append([]domain.RefundLine(nil), o.Refunds...)
	c.Transactions = make([]domain.Transaction, len(o.Transactions))
	for i, t := range o.Transactions {
		t.Fees = append([]domain.TransactionFee(nil), t.Fees...)
		c.Transactions[i] = t
	}
	c.Flags = domain.Flags{}
	for k, v := range o.Flags {
		c.Flags[k] = v
	}
	return &c
}

func (r *memOrderRepository) findByExternal(shopID uuid.UUID, externalID string) *domain.Order {
	for _, o := range r.orders {
		if o.ShopID == shopID && o.ExternalID == externalID {
			return o
		}
	}
	return nil
}

func (r *memOrderRepository) FindByExternalID(_ context.Context, shopID uuid.UUID, externalID string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o := r.findByExternal(shopID, externalID); o != nil {
		return cloneOrder(o), nil
	}
	return nil, shared.ErrNotFound
}

func (r *memOrderRepository) FindByID(_ context.Context, shopID, id uuid.UUID) (*domain.Order, error) {
	r.mu.Lock()
	var found *domain.Order
	if o, ok := r.orders[id]; ok && o.ShopID == shopID {
		found = cloneOrder(o)
	}
	hook := r.afterFind
	r.afterFind = nil
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
	if found == nil {
		return nil, shared.ErrNotFound
	}
	return found, nil
}

func (r *memOrderRepository) Save(ctx context.Context, order *domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++

	stored := r.findByExternal(order.ShopID, order.ExternalID)
	if stored == nil {
		order.Revision = 1
		r.orders[order.ID] = cloneOrder(order)
		return nil
	}
	order.ID = stored.ID
	next := cloneOrder(order)
	if order.SourceUpdatedAt.Before(stored.SourceUpdatedAt) {
		header := cloneOrder(stored)
		header.Lines, header.Refunds, header.Transactions = next.Lines, next.Refunds, next.Transactions
		next = header
	}

	lines := map[string]domain.OrderLine{}
	for _, l := range stored.Lines {
		lines[l.ExternalID] = l
	}
	for i := range next.Lines {
		l := &next.Lines[i]
		if prev, ok := lines[l.ExternalID]; ok && !l.HasCost() && prev.HasCost() {
			l.UnitCost, l.CostSource = prev.UnitCost, prev.CostSource
		}
		delete(lines, l.ExternalID)
	}
	for _, l := range stored.Lines {
		if _, ok := lines[l.ExternalID]; ok {
			next.Lines = append(next.Lines, l)
		}
	}

	seen := map[string]bool{}
	for _, rl := range next.Refunds {
		seen[rl.ExternalID] = true
	}
	for _, rl := range stored.Refunds {
		if !seen[rl.ExternalID] {
			next.Refunds = append(next.Refunds, rl)
		}
	}

	seen = map[string]bool{}
	for _, t := range next.Transactions {
		seen[t.ExternalID] = true
	}
	for _, t := range stored.Transactions {
		if !seen[t.ExternalID] {
			next.Transactions = append(next.Transactions, t)
		}
	}

	next.Profit = stored.Profit
	next.Flags = stored.Flags
	next.Revision = stored.Revision + 1
	order.Revision = next.Revision
	r.orders[stored.ID] = next
	return nil
}

func (r *memOrderRepository) UpdateProfit(ctx context.Context, order *domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[order.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.Revision != order.Revision {
		return domain.ErrOrderChanged
	}
	stored.Revision++
	order.Revision = stored.Revision
	stored.Profit = order.Profit
	stored.Flags = cloneOrder(order).Flags
	for _, l := range order.Lines {
		for i := range stored.Lines {
			if stored.Lines[i].ExternalID == l.ExternalID && l.HasCost() {
				v := *l.UnitCost
				stored.Lines[i].UnitCost = &v
				stored.Lines[i].CostSource = l.CostSource
			}
		}
	}
	return nil
}

func (r *memOrderRepository) FindByEffectiveDate(_ context.Context, shopID uuid.UUID, date time.Time) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.orders {
		if o.ShopID == shopID && o.EffectiveDate.Equal(date) {
			out = append(out, *cloneOrder(o))
		}
	}
	return out, nil
}

func (r *memOrderRepository) List(_ context.Context, shopID uuid.UUID, filter domain.OrderFilter, page, pageSize int) (*domain.OrderListResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*domain.Order
	for _, o := range r.orders {
		if o.ShopID != shopID {
			continue
		}
		if filter.Flag != nil && !o.Flags.Has(*filter.Flag) {
			continue
		}
		all = append(all, cloneOrder(o))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ExternalID < all[j].ExternalID })
	res := &domain.OrderListResult{TotalCount: int64(len(all)), Page: page, PageSize: pageSize}
	start := (page - 1) * pageSize
	if start < len(all) {
		end := start + pageSize
		if end > len(all) {
			end = len(all)
		}
		res.Items = all[start:end]
	}
	return res, nil
}

func (r *memOrderRepository) Delete(_ context.Context, shopID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[id]; ok && o.ShopID == shopID {
		delete(r.orders, id)
	}
	return nil
}

func (r *memOrderRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

// =============================================================================
// Cost snapshots
// =============================================================================

type memCostSnapshotRepository struct {
	mu    sync.Mutex
	snaps []domain.CostSnapshot
	err   error
}

func (r *memCostSnapshotRepository) FindLatest(_ context.Context, shopID uuid.UUID, itemID string, asOf time.Time) (*domain.CostSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	var best *domain.CostSnapshot
	for i := range r.snaps {
		s := r.snaps[i]
		if s.ShopID != shopID || s.InventoryItemID != itemID || s.EffectiveDate.After(asOf) {
			continue
		}
		if best == nil || s.EffectiveDate.After(best.EffectiveDate) {
			best = &s
		}
	}
	if best == nil {
		return nil, shared.ErrNotFound
	}
	return best, nil
}

func (r *memCostSnapshotRepository) Save(_ context.Context, s *domain.CostSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, *s)
	return nil
}

func (r *memCostSnapshotRepository) SaveBatch(_ context.Context, snaps []domain.CostSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snaps...)
	return nil
}

func (r *memCostSnapshotRepository) all() []domain.CostSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.CostSnapshot(nil), r.snaps...)
}

// =============================================================================
// Rollups and ad spend
// =============================================================================

type memRollupRepository struct {
	mu      sync.Mutex
	rollups map[string]domain.DailyRollup
}

func newMemRollupRepository() *memRollupRepository {
	return &memRollupRepository{rollups: map[string]domain.DailyRollup{}}
}

func rollupKey(shopID uuid.UUID, date time.Time) string {
	return shopID.String() + "/" + date.Format(time.DateOnly)
}

func (r *memRollupRepository) Upsert(_ context.Context, rollup *domain.DailyRollup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollups[rollupKey(rollup.ShopID, rollup.Date)] = *rollup
	return nil
}

func (r *memRollupRepository) Find(_ context.Context, shopID uuid.UUID, date time.Time) (*domain.DailyRollup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ro, ok := r.rollups[rollupKey(shopID, date)]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &ro, nil
}

func (r *memRollupRepository) FindRange(_ context.Context, shopID uuid.UUID, from, to time.Time) ([]domain.DailyRollup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.DailyRollup
	for _, ro := range r.rollups {
		if ro.ShopID == shopID && !ro.Date.Before(from) && !ro.Date.After(to) {
			out = append(out, ro)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

type memAdSpendRepository struct {
	mu   sync.Mutex
	rows map[string]domain.AdSpendDaily
}

func newMemAdSpendRepository() *memAdSpendRepository {
	return &memAdSpendRepository{rows: map[string]domain.AdSpendDaily{}}
}

func (r *memAdSpendRepository) Upsert(_ context.Context, rows []domain.AdSpendDaily) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		r.rows[rollupKey(row.ShopID, row.Date)+"/"+row.Channel] = row
	}
	return nil
}

func (r *memAdSpendRepository) TotalForDate(_ context.Context, shopID uuid.UUID, date time.Time) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := decimal.Zero
	for _, row := range r.rows {
		if row.ShopID == shopID && row.Date.Equal(date) {
			total = total.Add(row.Amount)
		}
	}
	return total, nil
}

type recordingSink struct {
	mu      sync.Mutex
	rollups []domain.DailyRollup
	err     error
}

func (s *recordingSink) WriteRollup(_ context.Context, r *domain.DailyRollup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollups = append(s.rollups, *r)
	return s.err
}

// =============================================================================
// Webhook events
// =============================================================================

type memWebhookEventRepository struct {
	mu     sync.Mutex
	events map[string]domain.WebhookEvent
	// onClaim runs before ClaimFailed takes the lock
	onClaim func()
}

func newMemWebhookEventRepository() *memWebhookEventRepository {
	return &memWebhookEventRepository{events: map[string]domain.WebhookEvent{}}
}

func (r *memWebhookEventRepository) Insert(_ context.Context, e *domain.WebhookEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[e.DedupKey]; ok {
		return false, nil
	}
	r.events[e.DedupKey] = *e
	return true, nil
}

func (r *memWebhookEventRepository) Update(_ context.Context, e *domain.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[e.DedupKey] = *e
	return nil
}

func (r *memWebhookEventRepository) ClaimFailed(_ context.Context, key string) (bool, error) {
	if r.onClaim != nil {
		r.onClaim()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[key]
	if !ok || e.Retry() != nil {
		return false, nil
	}
	r.events[key] = e
	return true, nil
}

func (r *memWebhookEventRepository) FindByDedupKey(_ context.Context, key string) (*domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[key]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &e, nil
}

func (r *memWebhookEventRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// =============================================================================
// Backfills
// =============================================================================

type memBackfillRepository struct {
	mu  sync.Mutex
	ops map[uuid.UUID]domain.BackfillOperation
}

func newMemBackfillRepository() *memBackfillRepository {
	return &memBackfillRepository{ops: map[uuid.UUID]domain.BackfillOperation{}}
}

func (r *memBackfillRepository) Create(_ context.Context, op *domain.BackfillOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[op.ID] = *op
	return nil
}

func (r *memBackfillRepository) Update(_ context.Context, op *domain.BackfillOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[op.ID] = *op
	return nil
}

func (r *memBackfillRepository) FindByID(_ context.Context, shopID, id uuid.UUID) (*domain.BackfillOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok || op.ShopID != shopID {
		return nil, shared.ErrNotFound
	}
	return &op, nil
}

func (r *memBackfillRepository) FindActive(_ context.Context, shopID uuid.UUID) (*domain.BackfillOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, op := range r.ops {
		if op.ShopID == shopID && op.Status.IsActive() {
			return &op, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memBackfillRepository) FindRunning(_ context.Context) ([]*domain.BackfillOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.BackfillOperation
	for _, op := range r.ops {
		if op.Status == domain.BackfillRunning {
			op := op
			out = append(out, &op)
		}
	}
	return out, nil
}

func (r *memBackfillRepository) List(_ context.Context, shopID uuid.UUID, limit int) ([]*domain.BackfillOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.BackfillOperation
	for _, op := range r.ops {
		if op.ShopID == shopID {
			op := op
			out = append(out, &op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// =============================================================================
// Ports
// =============================================================================

type MockRateSource struct {
	mock.Mock
}

func (m *MockRateSource) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	args := m.Called(ctx, from, to)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

type MockCostSource struct {
	mock.Mock
}

func (m *MockCostSource) FetchUnitCost(ctx context.Context, shop *domain.Shop, itemID string) (*domain.InventoryCost, error) {
	args := m.Called(ctx, shop, itemID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.InventoryCost), args.Error(1)
}

type MockBulkExporter struct {
	mock.Mock
}

func (m *MockBulkExporter) Submit(ctx context.Context, shop *domain.Shop, since time.Time) (string, error) {
	args := m.Called(ctx, shop, since)
	return args.String(0), args.Error(1)
}

func (m *MockBulkExporter) Poll(ctx context.Context, shop *domain.Shop, exportID string) (*domain.ExportState, error) {
	args := m.Called(ctx, shop, exportID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ExportState), args.Error(1)
}

func (m *MockBulkExporter) Open(ctx context.Context, shop *domain.Shop, state *domain.ExportState) (io.ReadCloser, error) {
	args := m.Called(ctx, shop, state)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *MockBulkExporter) Cancel(ctx context.Context, shop *domain.Shop, exportID string) error {
	args := m.Called(ctx, shop, exportID)
	return args.Error(0)
}

type memRateCache struct {
	mu    sync.Mutex
	rates map[string]decimal.Decimal
}

func newMemRateCache() *memRateCache {
	return &memRateCache{rates: map[string]decimal.Decimal{}}
}

func (c *memRateCache) Get(_ context.Context, from, to string) (decimal.Decimal, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rates[from+to]
	return r, ok, nil
}

func (c *memRateCache) Set(_ context.Context, from, to string, rate decimal.Decimal, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rates[from+to] = rate
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OrderProfitUpdated
	err    error
}

func (p *recordingPublisher) PublishProfitUpdated(_ context.Context, e domain.OrderProfitUpdated) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

type recordingMetrics struct {
	mu        sync.Mutex
	outcomes  []string
	processed int
	failed    int
}

func (m *recordingMetrics) EventAdmitted(_ context.Context, topic, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, topic+":"+outcome)
}

func (m *recordingMetrics) ReconcileDuration(context.Context, string, time.Duration) {}

func (m *recordingMetrics) BackfillProgress(_ context.Context, processed, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed += processed
	m.failed += failed
}

// prefixVerifier accepts signatures of the form "sig:<secret>"
type prefixVerifier struct{}

func (prefixVerifier) Verify(_ []byte, signature, secret string) bool {
	return signature == "sig:"+secret
}

type memLeaseStore struct {
	mu     sync.Mutex
	leases map[string]bool
}

func newMemLeaseStore() *memLeaseStore {
	return &memLeaseStore{leases: map[string]bool{}}
}

func (s *memLeaseStore) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leases[key] {
		return false, nil
	}
	s.leases[key] = true
	return true, nil
}

func (s *memLeaseStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leases, key)
	return nil
}

func (s *memLeaseStore) Close() error { return nil }

func (s *memLeaseStore) held(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leases[key]
}

// syncRunner runs jobs inline so tests observe their outcome on return
type syncRunner struct {
	mu    sync.Mutex
	names []string
	errs  []error
}

func (r *syncRunner) Go(name string, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
	err := fn(context.Background())
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	return nil
}

// =============================================================================
// Ledger fixture
// =============================================================================

type ledgerFixture struct {
	shop       *domain.Shop
	shops      *memShopRepository
	orders     *memOrderRepository
	snapshots  *memCostSnapshotRepository
	rollups    *memRollupRepository
	adSpend    *memAdSpendRepository
	rates      *MockRateSource
	costSource *MockCostSource
	publisher  *recordingPublisher
	currency   *CurrencyNormalizer
	costs      *CostResolver
	aggregator *RollupAggregator
	reconciler *Reconciler
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	f := &ledgerFixture{
		shop:       newTestShop(t),
		orders:     newMemOrderRepository(),
		snapshots:  &memCostSnapshotRepository{},
		rollups:    newMemRollupRepository(),
		adSpend:    newMemAdSpendRepository(),
		rates:      &MockRateSource{},
		costSource: &MockCostSource{},
		publisher:  &recordingPublisher{},
	}
	f.shops = newMemShopRepository(f.shop)
	f.costSource.On("FetchUnitCost", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil).Maybe()
	f.currency = NewCurrencyNormalizer(CurrencyNormalizerConfig{Rates: f.rates})
	f.costs = NewCostResolver(CostResolverConfig{
		Snapshots: f.snapshots,
		Source:    f.costSource,
		Currency:  f.currency,
	})
	f.aggregator = NewRollupAggregator(RollupAggregatorConfig{
		Orders:   f.orders,
		Rollups:  f.rollups,
		AdSpend:  f.adSpend,
		Currency: f.currency,
	})
	f.reconciler = NewReconciler(ReconcilerConfig{
		Orders:    f.orders,
		Costs:     f.costs,
		Fees:      NewFeeResolver(f.currency),
		Currency:  f.currency,
		Rollups:   f.aggregator,
		Publisher: f.publisher,
	})
	return f
}

// withSnapshot stores a cost effective from the epoch
func (f *ledgerFixture) withSnapshot(itemID, cost string) {
	s := domain.NewCostSnapshot(f.shop.ID, itemID, time.Unix(0, 0), d(cost), "USD", domain.CostSourceImport)
	_ = f.snapshots.Save(context.Background(), &s)
}

var orderTime = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

// sampleOrderPayload is a paid order: two mugs at 10.00 with a recorded
// 0.88 processing fee
func sampleOrderPayload() *OrderPayload {
	return &OrderPayload{
		ID:              "1001",
		Name:            "#1001",
		CreatedAt:       orderTime,
		UpdatedAt:       orderTime,
		Currency:        "USD",
		TotalPrice:      d("20.00"),
		FinancialStatus: "paid",
		LineItems: []LineItemPayload{
			{ID: "1", InventoryItemID: "11", Title: "Mug", Quantity: 2, Price: d("10.00")},
		},
		Transactions: []TransactionPayload{
			{ID: "701", Kind: "sale", Status: "success", Amount: d("20.00"), Currency: "USD", Fee: dp("0.88")},
		},
	}
}
