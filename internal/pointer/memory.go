package pointer

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is the in-process pointer backend used by tests and local
// runs without a deploy tree or database.
type MemoryStore struct {
	mu     sync.RWMutex
	active map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{active: map[string]string{}}
}

func (m *MemoryStore) Active(ctx context.Context, modelType string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versionID, ok := m.active[modelType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnset, modelType)
	}
	return versionID, nil
}

func (m *MemoryStore) Repoint(ctx context.Context, modelType, versionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[modelType] = versionID
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }
