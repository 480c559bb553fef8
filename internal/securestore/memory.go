package securestore

import (
	"context"
	"sync"
	"time"
)

// memoryEntry holds a stored value with its expiration
type memoryEntry struct {
	raw       []byte
	expiresAt time.Time // zero means no expiry
}

// MemoryBackend is the session-scoped in-memory substrate: a thread-safe map
// with per-entry TTL and lazy eviction on read.
type MemoryBackend struct {
	mu    sync.RWMutex
	items map[string]memoryEntry
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		items: make(map[string]memoryEntry),
	}
}

func (m *MemoryBackend) Set(_ context.Context, key string, raw []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memoryEntry{raw: raw}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.items[key] = entry
	return nil
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	entry, exists := m.items[key]
	m.mu.RUnlock()

	if !exists {
		return nil, ErrNotFound
	}

	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.items, key)
		m.mu.Unlock()
		return nil, ErrNotFound
	}

	return entry.raw, nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key)
	return nil
}

func (m *MemoryBackend) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[string]memoryEntry)
	return nil
}
