package storage

import (
	"context"
	"errors"
	"io"
	"sync"

	domain "github.com/profitledger/backend/internal/domain/ledger"
)

// MemoryExportArchive keeps archived exports in memory. Used in development
// and tests.
type MemoryExportArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemoryExportArchive creates an empty archive
func NewMemoryExportArchive() *MemoryExportArchive {
	return &MemoryExportArchive{objects: make(map[string][]byte)}
}

var _ domain.ExportArchive = (*MemoryExportArchive)(nil)

// Put stores the body under key
func (m *MemoryExportArchive) Put(_ context.Context, key string, body io.ReadSeeker, _ int64) error {
	if key == "" {
		return errors.New("storage key is required")
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = b
	return nil
}

// Get returns a stored object
func (m *MemoryExportArchive) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	return b, ok
}

// Len returns the number of stored objects
func (m *MemoryExportArchive) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
