package recovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cacheClock struct {
	mu  sync.Mutex
	now time.Time
}

func newCacheClock() *cacheClock {
	return &cacheClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *cacheClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *cacheClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func TestMemoryCache_GetSet(t *testing.T) {
	t.Parallel()

	cache := NewMemoryCache()

	_, ok := cache.Get(context.Background(), "missing")
	assert.False(t, ok)

	cache.Set(context.Background(), "key", "value", time.Minute)

	got, ok := cache.Get(context.Background(), "key")
	require.True(t, ok)
	assert.Equal(t, "value", got)
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	t.Parallel()

	clock := newCacheClock()
	cache := NewMemoryCache(WithClock(clock.Now))

	cache.Set(context.Background(), "key", "value", time.Minute)

	clock.Advance(30 * time.Second)

	_, ok := cache.Get(context.Background(), "key")
	assert.True(t, ok, "entry still fresh")

	clock.Advance(31 * time.Second)

	_, ok = cache.Get(context.Background(), "key")
	assert.False(t, ok, "entry expired")
	assert.Zero(t, cache.Len(), "expired entries are dropped on read")
}

func TestMemoryCache_SetOverwrites(t *testing.T) {
	t.Parallel()

	cache := NewMemoryCache()

	cache.Set(context.Background(), "key", "old", time.Minute)
	cache.Set(context.Background(), "key", "new", time.Minute)

	got, _ := cache.Get(context.Background(), "key")
	assert.Equal(t, "new", got)
	assert.Equal(t, 1, cache.Len())
}

func TestMemoryCache_NonPositiveTTLIgnored(t *testing.T) {
	t.Parallel()

	cache := NewMemoryCache()

	cache.Set(context.Background(), "key", "value", 0)

	_, ok := cache.Get(context.Background(), "key")
	assert.False(t, ok)
}

func TestMemoryCache_CapacityReclaimsExpired(t *testing.T) {
	t.Parallel()

	clock := newCacheClock()
	cache := NewMemoryCache(WithClock(clock.Now), WithCapacity(2))

	cache.Set(context.Background(), "short", "a", time.Second)
	cache.Set(context.Background(), "long", "b", time.Hour)

	// Full, nothing expired: the write is refused.
	cache.Set(context.Background(), "extra", "c", time.Hour)

	_, ok := cache.Get(context.Background(), "extra")
	assert.False(t, ok)

	// Once an entry expires its slot is reclaimed.
	clock.Advance(2 * time.Second)
	cache.Set(context.Background(), "extra", "c", time.Hour)

	got, ok := cache.Get(context.Background(), "extra")
	require.True(t, ok)
	assert.Equal(t, "c", got)

	_, ok = cache.Get(context.Background(), "short")
	assert.False(t, ok)
}
