package recovery

import (
	"context"
	"sync"
	"time"
)

// Cache is the collaborator consulted by the cache-fallback strategy and fed
// by successful recoveries. A miss is not an error.
type Cache interface {
	Get(ctx context.Context, key string) (any, bool)
	Set(ctx context.Context, key string, value any, ttl time.Duration)
}

const defaultCacheCapacity = 1024

// MemoryCache is a bounded in-memory TTL cache. Expired entries are dropped
// lazily on read; when full, an arbitrary expired entry is reclaimed first
// and the write is refused only if nothing has expired.
type MemoryCache struct {
	mu       sync.RWMutex
	entries  map[string]cacheEntry
	capacity int
	now      func() time.Time
}

type cacheEntry struct {
	value   any
	expires time.Time
}

// MemoryCacheOption customizes a MemoryCache.
type MemoryCacheOption func(*MemoryCache)

// WithCapacity bounds the number of cached entries.
func WithCapacity(n int) MemoryCacheOption {
	return func(c *MemoryCache) {
		c.capacity = n
	}
}

// WithClock overrides the cache clock, for tests.
func WithClock(now func() time.Time) MemoryCacheOption {
	return func(c *MemoryCache) {
		c.now = now
	}
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache(opts ...MemoryCacheOption) *MemoryCache {
	c := &MemoryCache{
		entries:  make(map[string]cacheEntry),
		capacity: defaultCacheCapacity,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Get returns the cached value for key, if present and unexpired.
func (c *MemoryCache) Get(_ context.Context, key string) (any, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if c.now().After(entry.expires) {
		c.mu.Lock()
		// Re-check: the entry may have been refreshed meanwhile.
		if cur, still := c.entries[key]; still && c.now().After(cur.expires) {
			delete(c.entries, key)
		}
		c.mu.Unlock()

		return nil, false
	}

	return entry.value, true
}

// Set stores value under key for ttl. A non-positive ttl is a no-op.
func (c *MemoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		if !c.reclaimLocked() {
			return
		}
	}

	c.entries[key] = cacheEntry{
		value:   value,
		expires: c.now().Add(ttl),
	}
}

// Len returns the number of entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// reclaimLocked deletes one expired entry, reporting whether space was made.
func (c *MemoryCache) reclaimLocked() bool {
	now := c.now()

	for key, entry := range c.entries {
		if now.After(entry.expires) {
			delete(c.entries, key)

			return true
		}
	}

	return false
}
