package scheduler

import (
	"context"
	"sync"
	"time"

	domain "github.com/profitledger/backend/internal/domain/ledger"
	"go.uber.org/zap"
)

// ShopLister provides the shops to refresh
type ShopLister interface {
	List(ctx context.Context) ([]*domain.Shop, error)
}

// RollupRefresher recomputes stored rollups
type RollupRefresher interface {
	RecomputeRange(ctx context.Context, shop *domain.Shop, from, to time.Time) (int, error)
}

// CronTriggerConfig holds configuration for the nightly rollup refresh
type CronTriggerConfig struct {
	// RefreshHour / RefreshMinute is the UTC time of the daily run
	RefreshHour   int
	RefreshMinute int
	// LookbackDays is how many days before today are recomputed
	LookbackDays int
	// CheckInterval is how often to check if it's time to run
	CheckInterval time.Duration
}

// DefaultCronTriggerConfig returns default cron trigger configuration
func DefaultCronTriggerConfig() CronTriggerConfig {
	return CronTriggerConfig{
		RefreshHour:   3,
		RefreshMinute: 0,
		LookbackDays:  2,
		CheckInterval: time.Minute,
	}
}

// CronTrigger recomputes recent daily rollups of every active shop once a
// day, so late refunds and period ad spend settle even without new
// webhooks for the day
type CronTrigger struct {
	config  CronTriggerConfig
	runner  *Runner
	shops   ShopLister
	rollups RollupRefresher
	logger  *zap.Logger
	now     func() time.Time

	cancel      context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.Mutex
	isRunning   bool
	lastRunDate string
}

// NewCronTrigger creates a new cron trigger
func NewCronTrigger(
	config CronTriggerConfig,
	runner *Runner,
	shops ShopLister,
	rollups RollupRefresher,
	logger *zap.Logger,
) *CronTrigger {
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Minute
	}
	if config.LookbackDays <= 0 {
		config.LookbackDays = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CronTrigger{
		config:  config,
		runner:  runner,
		shops:   shops,
		rollups: rollups,
		logger:  logger,
		now:     time.Now,
	}
}

// Start starts the cron trigger
func (c *CronTrigger) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = true
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.runLoop(ctx)

	c.logger.Info("Rollup refresh trigger started",
		zap.Int("hour", c.config.RefreshHour),
		zap.Int("minute", c.config.RefreshMinute),
		zap.Int("lookback_days", c.config.LookbackDays))
	return nil
}

// Stop stops the cron trigger
func (c *CronTrigger) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("Rollup refresh trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *CronTrigger) runLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkAndTrigger()
		}
	}
}

// checkAndTrigger submits the refresh once per UTC day at the configured time
func (c *CronTrigger) checkAndTrigger() bool {
	now := c.now().UTC()
	currentDate := now.Format(time.DateOnly)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastRunDate == currentDate {
		return false
	}
	if now.Hour() != c.config.RefreshHour || now.Minute() < c.config.RefreshMinute {
		return false
	}
	c.lastRunDate = currentDate

	if err := c.runner.Go("rollup-refresh:"+currentDate, c.refreshAll); err != nil {
		c.logger.Warn("Failed to submit rollup refresh", zap.Error(err))
		return false
	}
	return true
}

// TriggerManualRefresh submits a refresh immediately
func (c *CronTrigger) TriggerManualRefresh() error {
	return c.runner.Go("rollup-refresh:manual", c.refreshAll)
}

func (c *CronTrigger) refreshAll(ctx context.Context) error {
	shops, err := c.shops.List(ctx)
	if err != nil {
		return err
	}

	refreshed := 0
	for _, shop := range shops {
		if !shop.Active {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		today := shop.DateOf(c.now())
		from := today.AddDate(0, 0, -c.config.LookbackDays)
		to := today.AddDate(0, 0, -1)
		days, err := c.rollups.RecomputeRange(ctx, shop, from, to)
		if err != nil {
			c.logger.Error("Rollup refresh failed",
				zap.String("shop", shop.Domain),
				zap.Error(err))
			continue
		}
		refreshed += days
	}

	c.logger.Info("Rollup refresh finished",
		zap.Int("shops", len(shops)),
		zap.Int("days", refreshed))
	return nil
}
