package objectstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/cost-sentinel/cost-sentinel/internal/provider"
)

// MemoryStore implements provider.ObjectStore in memory. It exists so
// the full pipeline can be exercised in tests without a network store;
// it also backs preview-only deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// FailPut, when set, is returned by every Put. Lets tests simulate
	// primary-store outage.
	FailPut error
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Get returns the object at key, or provider.ErrNotFound.
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, provider.ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Put upserts the object at key.
func (m *MemoryStore) Put(ctx context.Context, key string, data []byte) error {
	if m.FailPut != nil {
		return m.FailPut
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	m.objects[key] = stored
	return nil
}

// Delete removes the object at key.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// List returns all keys under prefix, sorted.
func (m *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
