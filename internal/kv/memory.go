package kv

import (
	"context"
	"fmt"
	"sync"
)

type memoryBackend struct {
	mu       sync.RWMutex
	data     map[string]string
	used     int
	capacity int
}

// NewMemoryBackend returns an in-process backend. capacity bounds the sum of
// key and value lengths in bytes, the way browser storage enforces a quota;
// zero means unlimited.
func NewMemoryBackend(capacity int) Backend {
	return &memoryBackend{data: make(map[string]string), capacity: capacity}
}

func (m *memoryBackend) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (m *memoryBackend) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	used := m.used + len(value)
	if old, ok := m.data[key]; ok {
		used -= len(old)
	} else {
		used += len(key)
	}
	if m.capacity > 0 && used > m.capacity {
		return fmt.Errorf("%w: writing %q needs %d of %d bytes", ErrQuotaExceeded, key, used, m.capacity)
	}

	m.data[key] = value
	m.used = used
	return nil
}

func (m *memoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.data[key]; ok {
		m.used -= len(key) + len(old)
		delete(m.data, key)
	}
	return nil
}
