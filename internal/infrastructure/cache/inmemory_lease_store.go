package cache

import (
	"context"
	"time"

	"github.com/profitledger/backend/internal/domain/shared"
)

// InMemoryLeaseStore implements shared.LeaseStore for a single process.
// Leases are not shared across instances.
type InMemoryLeaseStore struct {
	leases *expiringMap[struct{}]
}

// NewInMemoryLeaseStore creates a lease store that sweeps expired leases
// every five minutes
func NewInMemoryLeaseStore() *InMemoryLeaseStore {
	return &InMemoryLeaseStore{leases: newExpiringMap[struct{}](5 * time.Minute)}
}

// Acquire takes the lease unless a live holder exists
func (s *InMemoryLeaseStore) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	return s.leases.setIfAbsent(key, struct{}{}, ttl), nil
}

// Release drops the lease
func (s *InMemoryLeaseStore) Release(_ context.Context, key string) error {
	s.leases.delete(key)
	return nil
}

// Close stops the sweeper. Safe to call multiple times.
func (s *InMemoryLeaseStore) Close() error {
	s.leases.close()
	return nil
}

// Size returns the number of stored leases, expired ones included
func (s *InMemoryLeaseStore) Size() int {
	return s.leases.size()
}

var _ shared.LeaseStore = (*InMemoryLeaseStore)(nil)
