package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/profitledger/backend/internal/domain/shared"
	"github.com/redis/go-redis/v9"
)

const defaultLeasePrefix = "ledger:lease:"

// releaseScript deletes the lease only while it still carries our token,
// so an expired lease re-acquired by another process is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLeaseStore implements shared.LeaseStore with SET NX PX. Leases are
// shared by every instance pointing at the same Redis.
type RedisLeaseStore struct {
	client    *redis.Client
	keyPrefix string
	owner     string

	mu     sync.Mutex
	tokens map[string]string
}

// NewRedisLeaseStore creates a lease store on an existing client
func NewRedisLeaseStore(client *redis.Client, keyPrefix string) *RedisLeaseStore {
	if keyPrefix == "" {
		keyPrefix = defaultLeasePrefix
	}
	return &RedisLeaseStore{
		client:    client,
		keyPrefix: keyPrefix,
		owner:     uuid.NewString(),
		tokens:    make(map[string]string),
	}
}

// Acquire sets the lease key if it does not exist
func (s *RedisLeaseStore) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := s.owner + ":" + uuid.NewString()
	ok, err := s.client.SetNX(ctx, s.keyPrefix+key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	if ok {
		s.mu.Lock()
		s.tokens[key] = token
		s.mu.Unlock()
	}
	return ok, nil
}

// Release drops a lease held by this store
func (s *RedisLeaseStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	token, ok := s.tokens[key]
	delete(s.tokens, key)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := releaseScript.Run(ctx, s.client, []string{s.keyPrefix + key}, token).Err(); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; the client is owned by the factory
func (s *RedisLeaseStore) Close() error {
	return nil
}

var _ shared.LeaseStore = (*RedisLeaseStore)(nil)
