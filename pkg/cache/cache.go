package cache

import (
	"sync"
	"time"
)

// maxEntries bounds the map between lazy sweeps.
const maxEntries = 1024

type item[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a thread-safe in-memory cache with a single TTL. Expired entries
// are dropped lazily; there is no background goroutine to stop.
type Cache[V any] struct {
	mu    sync.Mutex
	items map[string]item[V]
	ttl   time.Duration
	now   func() time.Time

	hits, misses uint64
}

// NewCache returns a cache whose entries live for ttl. A non-positive ttl
// disables caching: every lookup misses.
func NewCache[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		items: make(map[string]item[V]),
		ttl:   ttl,
		now:   time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (c *Cache[V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *Cache[V]) getLocked(key string) (V, bool) {
	it, ok := c.items[key]
	if !ok || !c.now().Before(it.expiresAt) {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	return it.value, true
}

func (c *Cache[V]) Set(key string, value V) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value)
}

func (c *Cache[V]) setLocked(key string, value V) {
	now := c.now()
	if len(c.items) >= maxEntries {
		for k, it := range c.items {
			if !now.Before(it.expiresAt) {
				delete(c.items, k)
			}
		}
	}
	c.items[key] = item[V]{value: value, expiresAt: now.Add(c.ttl)}
}

// GetOrLoad returns the cached value for key, calling load on a miss. The
// lock is held across load so concurrent misses on one cache load once.
func (c *Cache[V]) GetOrLoad(key string, load func() V) V {
	if c.ttl <= 0 {
		return load()
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.getLocked(key); ok {
		return v
	}
	v := load()
	c.setLocked(key, v)
	return v
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]item[V])
}

func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

type Stats struct {
	Size   int
	Hits   uint64
	Misses uint64
}

func (c *Cache[V]) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Size: len(c.items), Hits: c.hits, Misses: c.misses}
}
