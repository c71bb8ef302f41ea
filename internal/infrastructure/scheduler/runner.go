package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RunnerConfig holds background runner configuration
type RunnerConfig struct {
	// MaxConcurrentJobs bounds how many jobs execute at once; extra jobs
	// wait for a slot
	MaxConcurrentJobs int
	// JobTimeout bounds each job; 0 means no timeout
	JobTimeout time.Duration
}

// DefaultRunnerConfig returns default runner configuration
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		MaxConcurrentJobs: 4,
		JobTimeout:        6 * time.Hour,
	}
}

// Runner runs named background jobs. A name can be active only once; jobs
// receive a context cancelled by Stop.
type Runner struct {
	config RunnerConfig
	logger *zap.Logger

	slots     chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	active    map[string]time.Time
}

// NewRunner creates a new runner
func NewRunner(config RunnerConfig, logger *zap.Logger) *Runner {
	if config.MaxConcurrentJobs <= 0 {
		config.MaxConcurrentJobs = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		config: config,
		logger: logger,
		slots:  make(chan struct{}, config.MaxConcurrentJobs),
		active: make(map[string]time.Time),
	}
}

// Start starts accepting jobs
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isRunning {
		return nil
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.isRunning = true

	r.logger.Info("Background runner started",
		zap.Int("max_concurrent_jobs", r.config.MaxConcurrentJobs),
		zap.Duration("job_timeout", r.config.JobTimeout))
	return nil
}

// Stop cancels running jobs and waits for them to return
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = false
	r.mu.Unlock()

	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("Background runner stopped gracefully")
		return nil
	case <-ctx.Done():
		r.logger.Warn("Background runner stop timed out", zap.Strings("active", r.Active()))
		return ctx.Err()
	}
}

// Go runs fn in the background under name
func (r *Runner) Go(name string, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	if _, ok := r.active[name]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobAlreadyRunning, name)
	}
	r.active[name] = time.Now()
	ctx := r.ctx
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(ctx, name, fn)
	return nil
}

func (r *Runner) run(ctx context.Context, name string, fn func(ctx context.Context) error) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		delete(r.active, name)
		r.mu.Unlock()
	}()

	select {
	case r.slots <- struct{}{}:
		defer func() { <-r.slots }()
	case <-ctx.Done():
		r.logger.Warn("Job dropped before start", zap.String("job", name))
		return
	}

	if r.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	err := r.execute(ctx, name, fn)
	if err != nil {
		r.logger.Error("Job failed",
			zap.String("job", name),
			zap.Duration("took", time.Since(start)),
			zap.Error(err))
		return
	}
	r.logger.Info("Job completed",
		zap.String("job", name),
		zap.Duration("took", time.Since(start)))
}

// execute converts a panic in fn into an error
func (r *Runner) execute(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Job panicked", zap.String("job", name), zap.Any("panic", rec), zap.Stack("stack"))
			err = fmt.Errorf("job %s panicked: %v", name, rec)
		}
	}()
	return fn(ctx)
}

// Active returns the names of queued and running jobs, sorted
func (r *Runner) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.active))
	for name := range r.active {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
