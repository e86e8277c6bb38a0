package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryProvider is an in-process Provider used by tests and cache-less
// deployments. Expired entries are dropped lazily on read.
type MemoryProvider struct {
	mu   sync.RWMutex
	data map[string]memoryItem
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryProvider creates an empty in-memory cache.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{data: make(map[string]memoryItem)}
}

// Get returns the stored bytes or ErrCacheMiss when absent or expired.
func (m *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	it, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrCacheMiss
	}
	if !it.expiresAt.IsZero() && time.Now().After(it.expiresAt) {
		m.mu.Lock()
		delete(m.data, key)
		m.mu.Unlock()
		return nil, ErrCacheMiss
	}
	// Copy so callers cannot mutate the cached bytes.
	out := append([]byte(nil), it.value...)
	return out, nil
}

// Set stores bytes with an optional TTL (ttl <= 0 means no expiry).
func (m *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = memoryItem{value: append([]byte(nil), value...), expiresAt: expiry(ttl)}
	return nil
}

// SetNX stores the value only if the key is absent or expired.
func (m *MemoryProvider) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.data[key]; ok {
		if it.expiresAt.IsZero() || time.Now().Before(it.expiresAt) {
			return false, nil
		}
	}
	m.data[key] = memoryItem{value: append([]byte(nil), value...), expiresAt: expiry(ttl)}
	return true, nil
}

// Del removes a key.
func (m *MemoryProvider) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Close is a no-op for the in-memory provider.
func (m *MemoryProvider) Close() error { return nil }

func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}
