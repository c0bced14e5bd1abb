package middleware

import (
	"net/http"
	"sync"
	"sync/atomic"
)

// Counters tracks how many requests each endpoint has served. Endpoints
// register lazily under the name passed to Count.
type Counters struct {
	mu     sync.RWMutex
	counts map[string]*atomic.Uint64
}

func NewCounters() *Counters {
	return &Counters{counts: make(map[string]*atomic.Uint64)}
}

func (c *Counters) counter(name string) *atomic.Uint64 {
	c.mu.RLock()
	n, ok := c.counts[name]
	c.mu.RUnlock()
	if ok {
		return n
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.counts[name]; ok {
		return n
	}
	n = &atomic.Uint64{}
	c.counts[name] = n
	return n
}

// Count increments the named endpoint counter on every request.
func (c *Counters) Count(name string, next http.Handler) http.Handler {
	n := c.counter(name)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n.Add(1)
		next.ServeHTTP(w, r)
	})
}

// Snapshot copies the current counter values.
func (c *Counters) Snapshot() map[string]uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]uint64, len(c.counts))
	for name, n := range c.counts {
		out[name] = n.Load()
	}
	return out
}
