// Package cache provides short-TTL JSON caching for the update probe.
// Redis backs multi-replica deployments; the in-process store is the
// default and carries no cross-replica invalidation.
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache stores JSON-serializable values with per-key TTL.
type Cache interface {
	// Get unmarshals the cached value into target. The bool reports a hit;
	// a miss is not an error.
	Get(ctx context.Context, key string, target interface{}) (bool, error)
	// SetWithTTL stores a value that expires after ttl.
	SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Delete removes a key.
	Delete(ctx context.Context, key string) error
	// Close releases any underlying connection.
	Close() error
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryCache is a process-local Cache. Expired entries are dropped lazily
// on read.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache builds an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}
