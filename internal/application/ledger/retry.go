package ledger

import (
	"context"
	"errors"
	"time"

	domain "github.com/profitledger/backend/internal/domain/ledger"
)

// RetryPolicy retries calls that fail with ErrDownstreamUnavailable using
// exponential backoff. Other errors are returned immediately.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

// Do calls fn until it succeeds, fails permanently, retries run out or ctx
// is done.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, domain.ErrDownstreamUnavailable) || attempt >= p.MaxRetries {
			return err
		}

		timer := time.NewTimer(p.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}

// backoff returns base * 2^attempt capped at MaxDelay
func (p RetryPolicy) backoff(attempt int) time.Duration {
	if attempt > 30 {
		return p.MaxDelay
	}
	delay := p.BaseDelay * time.Duration(1<<uint(attempt))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}
