package kvstore

import (
	"context"
	"sync"
)

// Memory keeps values in a map. An optional byte quota mirrors the browser's
// per-origin storage limit so degradation paths can be exercised.
type Memory struct {
	mu       sync.RWMutex
	values   map[string]string
	quota    int
	disabled bool
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithQuota limits the total size of keys plus values in bytes. Zero means unlimited.
func WithQuota(bytes int) MemoryOption {
	return func(m *Memory) {
		if bytes > 0 {
			m.quota = bytes
		}
	}
}

// NewMemory constructs an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{values: make(map[string]string)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Disable makes every subsequent call fail with ErrUnavailable, like storage
// blocked by browser privacy settings.
func (m *Memory) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled = true
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.disabled {
		return "", ErrUnavailable
	}
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disabled {
		return ErrUnavailable
	}
	if m.quota > 0 {
		size := len(key) + len(value)
		for k, v := range m.values {
			if k != key {
				size += len(k) + len(v)
			}
		}
		if size > m.quota {
			return ErrQuotaExceeded
		}
	}
	m.values[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disabled {
		return ErrUnavailable
	}
	delete(m.values, key)
	return nil
}

func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.disabled {
		return nil, ErrUnavailable
	}
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	return keys, nil
}
