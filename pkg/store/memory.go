package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/leowmjw/go-temporal-emissions/pkg/table"
)

// MemoryStore keeps artifacts in process memory. Values are copied on the
// way in and out so callers cannot alias stored data.
type MemoryStore struct {
	mu     sync.RWMutex
	blobs  map[Key][]byte
	tables map[Key]*table.Table
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs:  make(map[Key][]byte),
		tables: make(map[Key]*table.Table),
	}
}

// PutBlob stores a copy of data
func (m *MemoryStore) PutBlob(ctx context.Context, key Key, data []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blobs[key] = append([]byte(nil), data...)
	return nil
}

// GetBlob returns a copy of the stored data
func (m *MemoryStore) GetBlob(ctx context.Context, key Key) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, exists := m.blobs[key]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

// PutTable stores a deep copy of t
func (m *MemoryStore) PutTable(ctx context.Context, key Key, t *table.Table) error {
	if err := key.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tables[key] = t.Clone()
	return nil
}

// GetTable returns a deep copy of the stored table
func (m *MemoryStore) GetTable(ctx context.Context, key Key) (*table.Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, exists := m.tables[key]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return t.Clone(), nil
}

// Close is a no-op
func (m *MemoryStore) Close() error {
	return nil
}
