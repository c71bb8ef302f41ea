package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/profitledger/backend/internal/domain/shared"
	"github.com/profitledger/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// TaskRunner runs background jobs. Jobs receive a context that is
// cancelled when the runner stops.
type TaskRunner interface {
	Go(name string, fn func(ctx context.Context) error) error
}

// BackfillConfig tunes the backfill coordinator
type BackfillConfig struct {
	DefaultDays  int
	MaxDays      int
	BatchSize    int
	Concurrency  int
	PollInterval time.Duration
	JobTimeout   time.Duration
	ArchiveRaw   bool
}

// BackfillStatusView is an operation with the live export state, when known
type BackfillStatusView struct {
	Operation    *domain.BackfillOperation `json:"operation"`
	ExportStatus domain.ExportStatus       `json:"export_status,omitempty"`
	Running      bool                      `json:"running"`
}

// BackfillCoordinator drives historical imports through the same reconciler
// as live webhooks, so both paths converge on the same ledger state.
type BackfillCoordinator struct {
	shops      domain.ShopRepository
	backfills  domain.BackfillRepository
	exporter   domain.BulkExporter
	archive    domain.ExportArchive
	reconciler *Reconciler
	leases     shared.LeaseStore
	runner     TaskRunner
	retry      RetryPolicy
	cfg        BackfillConfig
	metrics    Metrics
	logger     *zap.Logger

	mu      sync.Mutex
	running map[uuid.UUID]*backfillJob
}

// backfillJob is the in-process handle of a running operation. Closing stop
// wakes an export wait; batches in flight always finish.
type backfillJob struct {
	stop chan struct{}
	once sync.Once
}

func (j *backfillJob) halt() {
	j.once.Do(func() { close(j.stop) })
}

// BackfillCoordinatorConfig contains the dependencies of BackfillCoordinator
type BackfillCoordinatorConfig struct {
	Shops      domain.ShopRepository
	Backfills  domain.BackfillRepository
	Exporter   domain.BulkExporter
	Archive    domain.ExportArchive
	Reconciler *Reconciler
	Leases     shared.LeaseStore
	Runner     TaskRunner
	Retry      RetryPolicy
	Config     BackfillConfig
	Metrics    Metrics
	Logger     *zap.Logger
}

// NewBackfillCoordinator creates a new BackfillCoordinator
func NewBackfillCoordinator(cfg BackfillCoordinatorConfig) *BackfillCoordinator {
	c := cfg.Config
	if c.DefaultDays <= 0 {
		c.DefaultDays = 90
	}
	if c.MaxDays <= 0 {
		c.MaxDays = 365
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 6 * time.Hour
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &BackfillCoordinator{
		shops:      cfg.Shops,
		backfills:  cfg.Backfills,
		exporter:   cfg.Exporter,
		archive:    cfg.Archive,
		reconciler: cfg.Reconciler,
		leases:     cfg.Leases,
		runner:     cfg.Runner,
		retry:      cfg.Retry,
		cfg:        c,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		running:    make(map[uuid.UUID]*backfillJob),
	}
}

// Start submits a bulk export for the last days days and processes it in
// the background. days <= 0 uses the configured default.
func (c *BackfillCoordinator) Start(ctx context.Context, shop *domain.Shop, days int) (*domain.BackfillOperation, error) {
	if days <= 0 {
		days = c.cfg.DefaultDays
	}
	op, err := domain.NewBackfillOperation(shop.ID, days, c.cfg.MaxDays)
	if err != nil {
		return nil, err
	}

	if active, err := c.backfills.FindActive(ctx, shop.ID); err == nil && active != nil {
		return active, domain.ErrBackfillActive
	} else if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("failed to check active backfill: %w", err)
	}
	if err := c.acquire(ctx, shop.ID); err != nil {
		return nil, err
	}

	if err := c.backfills.Create(ctx, op); err != nil {
		c.release(shop.ID)
		return nil, fmt.Errorf("failed to create backfill: %w", err)
	}

	exportID, err := c.submit(ctx, shop, op)
	if err != nil {
		_ = op.Fail(err)
		c.save(op)
		c.release(shop.ID)
		return op, err
	}
	if err := op.Start(exportID); err != nil {
		c.release(shop.ID)
		return nil, err
	}
	if err := c.backfills.Update(ctx, op); err != nil {
		c.release(shop.ID)
		return nil, fmt.Errorf("failed to update backfill: %w", err)
	}

	c.logger.Info("Backfill started",
		zap.String("shop", shop.Domain),
		zap.String("operation_id", op.ID.String()),
		zap.String("export_id", exportID),
		zap.Int("days", days))

	if err := c.launch(shop, op); err != nil {
		return op, err
	}
	return op, nil
}

// CheckStatus returns the operation with the export's live state while it
// is still exporting
func (c *BackfillCoordinator) CheckStatus(ctx context.Context, shop *domain.Shop, opID uuid.UUID) (*BackfillStatusView, error) {
	op, err := c.find(ctx, shop.ID, opID)
	if err != nil {
		return nil, err
	}
	view := &BackfillStatusView{Operation: op, Running: c.isRunning(op.ID)}
	if op.Status == domain.BackfillCompleted {
		op.Progress = 100
		view.ExportStatus = domain.ExportCompleted
		return view, nil
	}
	if op.Status == domain.BackfillRunning && op.ExternalOperationID != "" && op.Cursor == 0 {
		if state, err := c.exporter.Poll(ctx, shop, op.ExternalOperationID); err == nil {
			view.ExportStatus = state.Status
			if state.ObjectCount > op.ObjectCount {
				op.ObjectCount = state.ObjectCount
			}
		} else {
			c.logger.Debug("Export poll failed", zap.String("operation_id", op.ID.String()), zap.Error(err))
		}
	}
	return view, nil
}

// Resume re-drives a failed or orphaned running operation from its cursor
func (c *BackfillCoordinator) Resume(ctx context.Context, shop *domain.Shop, opID uuid.UUID) (*domain.BackfillOperation, error) {
	op, err := c.find(ctx, shop.ID, opID)
	if err != nil {
		return nil, err
	}
	if c.isRunning(op.ID) {
		return op, nil
	}
	if err := op.Resume(); err != nil {
		return nil, err
	}
	if err := c.acquire(ctx, shop.ID); err != nil {
		return nil, err
	}
	if err := c.backfills.Update(ctx, op); err != nil {
		c.release(shop.ID)
		return nil, fmt.Errorf("failed to update backfill: %w", err)
	}

	c.logger.Info("Backfill resumed",
		zap.String("shop", shop.Domain),
		zap.String("operation_id", op.ID.String()),
		zap.Int("cursor", op.Cursor))

	if err := c.launch(shop, op); err != nil {
		return op, err
	}
	return op, nil
}

// Cancel marks an operation cancelled. A running job notices between
// batches, so no record is cut off mid-reconcile. Orders reconciled so far
// stay.
func (c *BackfillCoordinator) Cancel(ctx context.Context, shop *domain.Shop, opID uuid.UUID) (*domain.BackfillOperation, error) {
	op, err := c.find(ctx, shop.ID, opID)
	if err != nil {
		return nil, err
	}
	exporting := op.Status == domain.BackfillRunning && op.Cursor == 0
	if err := op.Cancel(); err != nil {
		return nil, err
	}
	if err := c.backfills.Update(ctx, op); err != nil {
		return nil, fmt.Errorf("failed to update backfill: %w", err)
	}

	c.mu.Lock()
	job, ok := c.running[op.ID]
	c.mu.Unlock()
	if ok {
		job.halt()
	} else {
		c.release(shop.ID)
	}

	if exporting && op.ExternalOperationID != "" {
		if err := c.exporter.Cancel(ctx, shop, op.ExternalOperationID); err != nil {
			c.logger.Warn("Failed to cancel platform export",
				zap.String("export_id", op.ExternalOperationID),
				zap.Error(err))
		}
	}

	c.logger.Info("Backfill cancelled",
		zap.String("shop", shop.Domain),
		zap.String("operation_id", op.ID.String()))
	return op, nil
}

// History lists the shop's operations, newest first
func (c *BackfillCoordinator) History(ctx context.Context, shop *domain.Shop, limit int) ([]*domain.BackfillOperation, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return c.backfills.List(ctx, shop.ID, limit)
}

// Estimate returns the expected size and duration of a backfill
func (c *BackfillCoordinator) Estimate(days int) (domain.Estimate, error) {
	if days <= 0 {
		days = c.cfg.DefaultDays
	}
	if days > c.cfg.MaxDays {
		return domain.Estimate{}, fmt.Errorf("%w: days must be between 1 and %d", domain.ErrInvalidBackfillDays, c.cfg.MaxDays)
	}
	return domain.EstimateBackfill(days), nil
}

// RecoverRunning relaunches operations left running by a previous process
func (c *BackfillCoordinator) RecoverRunning(ctx context.Context) (int, error) {
	ops, err := c.backfills.FindRunning(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list running backfills: %w", err)
	}
	n := 0
	for _, op := range ops {
		if c.isRunning(op.ID) {
			continue
		}
		shop, err := c.shops.FindByID(ctx, op.ShopID)
		if err != nil {
			c.logger.Warn("Skipping backfill of missing shop", zap.String("operation_id", op.ID.String()), zap.Error(err))
			continue
		}
		if err := c.acquire(ctx, shop.ID); err != nil {
			c.logger.Info("Backfill owned elsewhere", zap.String("operation_id", op.ID.String()))
			continue
		}
		if err := c.launch(shop, op); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Background run
// ---------------------------------------------------------------------------

func (c *BackfillCoordinator) launch(shop *domain.Shop, op *domain.BackfillOperation) error {
	err := c.runner.Go("backfill:"+op.ID.String(), func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.JobTimeout)
		job := &backfillJob{stop: make(chan struct{})}
		c.mu.Lock()
		c.running[op.ID] = job
		c.mu.Unlock()

		defer func() {
			cancel()
			c.mu.Lock()
			delete(c.running, op.ID)
			c.mu.Unlock()
			c.release(shop.ID)
		}()

		return c.run(ctx, shop, op, job)
	})
	if err != nil {
		c.release(shop.ID)
		return fmt.Errorf("failed to schedule backfill: %w", err)
	}
	return nil
}

func (c *BackfillCoordinator) run(ctx context.Context, shop *domain.Shop, op *domain.BackfillOperation, job *backfillJob) (err error) {
	ctx, span := telemetry.Start(ctx, "ledger.backfill",
		telemetry.AttrShopDomain.String(shop.Domain),
		telemetry.AttrBackfillID.String(op.ID.String()),
		telemetry.AttrDays.Int(op.Days))
	defer func() {
		span.SetAttributes(telemetry.AttrOrders.Int(op.ProcessedOrders), telemetry.AttrFailed.Int(op.FailedRecords))
		telemetry.End(span, &err)
	}()

	log := c.logger.With(zap.String("shop", shop.Domain), zap.String("operation_id", op.ID.String()))

	if op.ExternalOperationID == "" {
		exportID, err := c.submit(ctx, shop, op)
		if err != nil {
			return c.fail(op, err)
		}
		op.ExternalOperationID = exportID
		c.save(op)
	}

	state, err := c.awaitExport(ctx, shop, op, job)
	if err != nil {
		return c.interrupted(ctx, op, log, err)
	}

	if err := c.process(ctx, shop, op, state); err != nil {
		return c.interrupted(ctx, op, log, err)
	}

	if err := op.Complete(); err != nil {
		return err
	}
	c.save(op)
	log.Info("Backfill completed",
		zap.Int("processed_orders", op.ProcessedOrders),
		zap.Int("failed_records", op.FailedRecords))
	return nil
}

// interrupted settles a run that ended early. A timed out job fails the
// operation so the shop can start another; a cancelled operation or a
// runner shutdown leaves it as stored, resumable from its cursor.
func (c *BackfillCoordinator) interrupted(ctx context.Context, op *domain.BackfillOperation, log *zap.Logger, cause error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return c.fail(op, fmt.Errorf("%w: timed out after %s", domain.ErrBackfillExport, c.cfg.JobTimeout))
	}
	if c.stopped(ctx, op) {
		log.Info("Backfill stopped", zap.Int("cursor", op.Cursor))
		return nil
	}
	return c.fail(op, cause)
}

func (c *BackfillCoordinator) submit(ctx context.Context, shop *domain.Shop, op *domain.BackfillOperation) (string, error) {
	var exportID string
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		id, err := c.exporter.Submit(ctx, shop, op.Since(time.Now()))
		exportID = id
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrBackfillExport, err)
	}
	return exportID, nil
}

// awaitExport polls until the export completes, fails or the operation is
// cancelled
func (c *BackfillCoordinator) awaitExport(ctx context.Context, shop *domain.Shop, op *domain.BackfillOperation, job *backfillJob) (*domain.ExportState, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		var state *domain.ExportState
		err := c.retry.Do(ctx, func(ctx context.Context) error {
			s, err := c.exporter.Poll(ctx, shop, op.ExternalOperationID)
			state = s
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("%w: poll: %v", domain.ErrBackfillExport, err)
		}

		switch {
		case state.Status == domain.ExportCompleted:
			op.ObjectCount = state.ObjectCount
			op.SetProgress(50)
			c.save(op)
			return state, nil
		case state.Status.IsFailure():
			return nil, fmt.Errorf("%w: export %s (%s)", domain.ErrBackfillExport, state.Status, state.ErrorCode)
		}

		op.ObjectCount = state.ObjectCount
		op.SetProgress(25)
		c.save(op)

		if c.stopped(ctx, op) {
			return nil, context.Canceled
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-job.stop:
			return nil, context.Canceled
		case <-ticker.C:
		}
	}
}

// process streams the export, skipping groups before the cursor, and
// reconciles the rest in parallel batches. A batch runs to the end even if
// ctx is done; stopping is checked between batches.
func (c *BackfillCoordinator) process(ctx context.Context, shop *domain.Shop, op *domain.BackfillOperation, state *domain.ExportState) error {
	if state.URL == "" {
		return nil
	}
	file, size, err := c.download(ctx, shop, state)
	if err != nil {
		return err
	}
	defer func() {
		_ = file.Close()
		_ = os.Remove(file.Name())
	}()

	if c.archive != nil && c.cfg.ArchiveRaw && op.ArchiveKey == "" {
		key := fmt.Sprintf("backfills/%s/%s.jsonl", shop.ID, op.ID)
		if err := c.archive.Put(ctx, key, file, size); err != nil {
			c.logger.Warn("Failed to archive export", zap.String("key", key), zap.Error(err))
		} else {
			op.ArchiveKey = key
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind export: %w", err)
		}
	}

	reader := NewGroupReader(file)
	cursor, records := 0, 0
	batch := make([]*OrderGroup, 0, c.cfg.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		processed, failed := c.reconcileBatch(context.WithoutCancel(ctx), shop, batch)
		op.Advance(cursor, processed, failed)
		c.metrics.BackfillProgress(ctx, processed, failed)
		op.SetProgress(progressFor(records, op.ObjectCount))
		c.save(op)
		batch = batch[:0]
		if c.stopped(ctx, op) {
			return context.Canceled
		}
		return nil
	}

	for {
		group, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		cursor++
		records += group.Records + group.Malformed
		if cursor <= op.Cursor {
			continue
		}
		batch = append(batch, group)
		if len(batch) >= c.cfg.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// progressFor maps consumed records onto 50..99
func progressFor(records int, objects int64) int {
	if objects <= 0 {
		return 50
	}
	ratio := float64(records) / float64(objects)
	if ratio > 1 {
		ratio = 1
	}
	return 50 + int(ratio*50)
}

func (c *BackfillCoordinator) download(ctx context.Context, shop *domain.Shop, state *domain.ExportState) (*os.File, int64, error) {
	rc, err := c.exporter.Open(ctx, shop, state)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: open: %v", domain.ErrBackfillExport, err)
	}
	defer rc.Close()

	file, err := os.CreateTemp("", "backfill-*.jsonl")
	if err != nil {
		return nil, 0, fmt.Errorf("create spool file: %w", err)
	}
	size, err := io.Copy(file, rc)
	if err == nil {
		_, err = file.Seek(0, io.SeekStart)
	}
	if err != nil {
		_ = file.Close()
		_ = os.Remove(file.Name())
		return nil, 0, fmt.Errorf("%w: download: %v", domain.ErrBackfillExport, err)
	}
	return file, size, nil
}

// reconcileBatch reconciles groups concurrently. A failing group is counted
// and logged; it never stops the batch.
func (c *BackfillCoordinator) reconcileBatch(ctx context.Context, shop *domain.Shop, batch []*OrderGroup) (processed, failed int) {
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, c.cfg.Concurrency)
	)
	for _, g := range batch {
		mu.Lock()
		failed += g.Malformed
		mu.Unlock()
		if g.Records == 0 {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(g *OrderGroup) {
			defer wg.Done()
			defer func() { <-sem }()
			n := c.reconcileGroup(ctx, shop, g)
			mu.Lock()
			if n == 0 && g.Order != nil {
				processed++
			}
			failed += n
			mu.Unlock()
		}(g)
	}
	wg.Wait()
	return processed, failed
}

// reconcileGroup returns the number of records that failed
func (c *BackfillCoordinator) reconcileGroup(ctx context.Context, shop *domain.Shop, g *OrderGroup) int {
	failed := 0
	logFail := func(kind, id string, err error) {
		failed++
		c.logger.Warn("Backfill record failed",
			zap.String("shop", shop.Domain),
			zap.String("kind", kind),
			zap.String("id", id),
			zap.Error(err))
	}

	if g.Order != nil {
		if _, err := c.reconciler.ReconcileOrder(ctx, shop, g.Order); err != nil {
			logFail("order", g.Order.ID.String(), err)
			return failed + len(g.Refunds) + len(g.Transactions)
		}
	}
	for _, r := range g.Refunds {
		if r.OrderID == "" {
			r.OrderID = ResourceID(g.OrderID)
		}
		if _, err := c.reconciler.ReconcileRefund(ctx, shop, r); err != nil {
			logFail("refund", r.ID.String(), err)
		}
	}
	for _, t := range g.Transactions {
		if t.OrderID == "" {
			t.OrderID = ResourceID(g.OrderID)
		}
		if _, err := c.reconciler.ReconcileTransaction(ctx, shop, t); err != nil {
			logFail("transaction", t.ID.String(), err)
		}
	}
	return failed
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (c *BackfillCoordinator) find(ctx context.Context, shopID, opID uuid.UUID) (*domain.BackfillOperation, error) {
	op, err := c.backfills.FindByID(ctx, shopID, opID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, domain.ErrBackfillNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load backfill: %w", err)
	}
	return op, nil
}

// stopped reports whether the run should end: the context is done or the
// operation was cancelled, here or on another instance
func (c *BackfillCoordinator) stopped(ctx context.Context, op *domain.BackfillOperation) bool {
	if ctx.Err() != nil {
		return true
	}
	current, err := c.backfills.FindByID(ctx, op.ShopID, op.ID)
	return err == nil && current.Status == domain.BackfillCancelled
}

func (c *BackfillCoordinator) isRunning(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.running[id]
	return ok
}

// save persists progress. It must not overwrite a cancellation made
// through Cancel, so a cancelled stored row wins.
func (c *BackfillCoordinator) save(op *domain.BackfillOperation) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if op.Status != domain.BackfillCancelled {
		if current, err := c.backfills.FindByID(ctx, op.ShopID, op.ID); err == nil && current.Status == domain.BackfillCancelled {
			op.Status = domain.BackfillCancelled
			op.CompletedAt = current.CompletedAt
		}
	}
	if err := c.backfills.Update(ctx, op); err != nil {
		c.logger.Error("Failed to save backfill progress",
			zap.String("operation_id", op.ID.String()),
			zap.Error(err))
	}
}

func (c *BackfillCoordinator) fail(op *domain.BackfillOperation, cause error) error {
	c.logger.Error("Backfill failed",
		zap.String("operation_id", op.ID.String()),
		zap.Int("cursor", op.Cursor),
		zap.Error(cause))
	if err := op.Fail(cause); err == nil {
		c.save(op)
	}
	return cause
}

func (c *BackfillCoordinator) acquire(ctx context.Context, shopID uuid.UUID) error {
	if c.leases == nil {
		return nil
	}
	ok, err := c.leases.Acquire(ctx, leaseKey(shopID), c.cfg.JobTimeout)
	if err != nil {
		return fmt.Errorf("%w: lease: %v", domain.ErrDownstreamUnavailable, err)
	}
	if !ok {
		return domain.ErrBackfillActive
	}
	return nil
}

func (c *BackfillCoordinator) release(shopID uuid.UUID) {
	if c.leases == nil {
		return
	}
	if err := c.leases.Release(context.Background(), leaseKey(shopID)); err != nil {
		c.logger.Warn("Failed to release backfill lease", zap.String("shop_id", shopID.String()), zap.Error(err))
	}
}

func leaseKey(shopID uuid.UUID) string {
	return "backfill:" + shopID.String()
}
