package shared

import (
	"context"
	"time"
)

// LeaseStore hands out short-lived exclusive leases keyed by name. It backs
// "at most one at a time" rules that must hold across processes.
type LeaseStore interface {
	// Acquire returns true if the lease was obtained, false if another holder
	// owns it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release drops the lease. Releasing an unknown key is not an error.
	Release(ctx context.Context, key string) error

	Close() error
}
