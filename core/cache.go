package core

import (
	"sync"
	"time"
)

type cacheEntry[V any] struct {
	value    V
	storedAt time.Time
}

// TTLCache is a string-keyed in-memory cache with lazy expiry. An entry
// older than the TTL behaves as absent; it is overwritten in place on the
// next Set rather than proactively removed. Unbounded growth is accepted:
// keys are bounded by the comic ID space.
type TTLCache[V any] struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry[V]
}

func NewTTLCache[V any](ttl time.Duration) *TTLCache[V] {
	return &TTLCache[V]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry[V]),
	}
}

// Get returns the value stored under key while it is still fresh.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if c.now().Sub(entry.storedAt) >= c.ttl {
		return zero, false
	}
	return entry.value, true
}

// Set stores value under key with a fresh timestamp, overwriting any
// previous entry.
func (c *TTLCache[V]) Set(key string, value V) {
	c.mu.Lock()
	c.entries[key] = cacheEntry[V]{value: value, storedAt: c.now()}
	c.mu.Unlock()
}

func (c *TTLCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
