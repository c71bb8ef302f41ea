package cache

import (
	"sync"
	"time"
)

// expiringMap is a mutex-guarded map whose entries expire. A background
// goroutine sweeps expired entries until Close.
type expiringMap[V any] struct {
	mu        sync.Mutex
	entries   map[string]expiringEntry[V]
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	now       func() time.Time
}

type expiringEntry[V any] struct {
	value     V
	expiresAt time.Time
}

func newExpiringMap[V any](sweepEvery time.Duration) *expiringMap[V] {
	m := &expiringMap[V]{
		entries:  make(map[string]expiringEntry[V]),
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
	m.wg.Add(1)
	go m.cleanupLoop(sweepEvery)
	return m
}

// get returns the live value stored under key
func (m *expiringMap[V]) get(key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || !m.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (m *expiringMap[V]) set(key string, value V, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = expiringEntry[V]{value: value, expiresAt: m.now().Add(ttl)}
}

// setIfAbsent stores value unless a live entry exists
func (m *expiringMap[V]) setIfAbsent(key string, value V, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok && m.now().Before(e.expiresAt) {
		return false
	}
	m.entries[key] = expiringEntry[V]{value: value, expiresAt: m.now().Add(ttl)}
	return true
}

func (m *expiringMap[V]) delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

func (m *expiringMap[V]) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *expiringMap[V]) close() {
	m.closeOnce.Do(func() {
		close(m.stopChan)
		m.wg.Wait()
	})
}

func (m *expiringMap[V]) cleanupLoop(every time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

func (m *expiringMap[V]) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, key)
		}
	}
}
