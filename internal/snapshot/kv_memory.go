package snapshot

import (
	"context"
	"sync"
)

// memoryKV keeps everything in a map. Used by tests and the memory
// storage backend; nothing survives a restart.
type memoryKV struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory returns a Store over an in-memory map.
func NewMemory() *Store {
	return NewStore(&memoryKV{data: make(map[string]string)})
}

func (m *memoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *memoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryKV) Close() error { return nil }
