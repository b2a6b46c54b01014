package session

import (
	"errors"
	"sync"

	"github.com/kalambet/shopchat/internal/storage"
)

// Backend is a string key/value store holding serialized snapshots.
type Backend interface {
	Get(key string) (val string, ok bool, err error)
	Set(key, val string) error
	Delete(key string) error
}

// MemoryBackend keeps values in process memory. It plays the role of
// tab-scoped storage: everything is gone when the process exits.
type MemoryBackend struct {
	mu   sync.Mutex
	data map[string]string
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]string)}
}

func (m *MemoryBackend) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryBackend) Set(key, val string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = val
	return nil
}

func (m *MemoryBackend) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// SQLiteBackend adapts storage.Store to Backend.
type SQLiteBackend struct {
	store *storage.Store
}

// NewSQLiteBackend wraps an open storage.Store.
func NewSQLiteBackend(store *storage.Store) *SQLiteBackend {
	return &SQLiteBackend{store: store}
}

func (b *SQLiteBackend) Get(key string) (string, bool, error) {
	v, err := b.store.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (b *SQLiteBackend) Set(key, val string) error {
	return b.store.Set(key, val)
}

func (b *SQLiteBackend) Delete(key string) error {
	return b.store.Delete(key)
}
