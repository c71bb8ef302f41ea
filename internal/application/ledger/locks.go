package ledger

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 256

// stripedLock serializes work on the same key within this process
type stripedLock struct {
	mu [lockStripes]sync.Mutex
}

func (l *stripedLock) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &l.mu[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
