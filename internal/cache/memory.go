package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Get implements Cache.
func (m *MemoryCache) Get(_ context.Context, key string, target interface{}) (bool, error) {
	m.mu.Lock()
	entry, ok := m.entries[key]
	if ok && m.now().After(entry.expiresAt) {
		delete(m.entries, key)
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(entry.data, target); err != nil {
		return false, fmt.Errorf("unmarshal cached value for key %s: %w", key, err)
	}
	return true, nil
}

// SetWithTTL implements Cache.
func (m *MemoryCache) SetWithTTL(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value for key %s: %w", key, err)
	}
	m.mu.Lock()
	m.entries[key] = memoryEntry{data: data, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

// Delete implements Cache.
func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Close implements Cache; nothing to release.
func (m *MemoryCache) Close() error {
	return nil
}
