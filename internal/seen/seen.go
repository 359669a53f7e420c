// Package seen tracks which notification events were already emitted.
package seen

import (
	"context"
	"sync"
)

type Store interface {
	Has(ctx context.Context, key string) (bool, error)
	// Add records key and reports whether it was not present before.
	Add(ctx context.Context, key string) (bool, error)
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Memory is a process-lifetime set; it forgets everything on restart.
type Memory struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{keys: map[string]struct{}{}}
}

func (m *Memory) Has(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.keys[key]
	return ok, nil
}

func (m *Memory) Add(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = struct{}{}
	return true, nil
}

func (m *Memory) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.keys, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.keys = map[string]struct{}{}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}
