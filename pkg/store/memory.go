package store

import (
	"context"
	"path"
	"sort"
	"sync"

	"github.com/go-training/oauth-gatekeeper/pkg/core"
)

// MemoryStore implements the core.CredentialStore interface using an in-memory map.
// It provides thread-safe storage for provider credentials.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates a new instance of MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]string),
	}
}

// Get retrieves a value from memory by its key.
// It returns core.ErrKeyNotFound if the key does not exist.
func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", core.ErrEmptyKey
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.values[key]
	if !exists {
		return "", core.ErrKeyNotFound
	}

	return value, nil
}

// Set stores a value in memory.
// An existing value is only replaced when overwrite is true.
func (m *MemoryStore) Set(ctx context.Context, key, value string, overwrite bool) error {
	if key == "" {
		return core.ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.values[key]; exists && !overwrite {
		return nil
	}

	m.values[key] = value
	return nil
}

// Remove deletes a key from memory and reports whether it existed.
func (m *MemoryStore) Remove(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, core.ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.values[key]; !exists {
		return false, nil
	}

	delete(m.values, key)
	return true, nil
}

// RemoveMany deletes every key matching the glob pattern.
// The removed keys are returned in sorted order.
func (m *MemoryStore) RemoveMany(ctx context.Context, pattern string) ([]string, error) {
	if pattern == "" {
		return nil, core.ErrEmptyPattern
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := []string{}
	for key := range m.values {
		if ok, _ := path.Match(pattern, key); ok {
			delete(m.values, key)
			removed = append(removed, key)
		}
	}
	sort.Strings(removed)

	return removed, nil
}

// Sync is a no-op for the in-memory store.
func (m *MemoryStore) Sync(ctx context.Context) error {
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
