package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(ttl time.Duration) (*Cache[int], *manualClock) {
	clock := &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewCache[int](ttl)
	c.SetClock(clock.Now)
	return c, clock
}

func TestCache_Expiry(t *testing.T) {
	c, clock := newTestCache(time.Second)

	c.Set("a", 1)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	clock.Advance(time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok)

	stats := c.GetStats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestCache_GetOrLoad(t *testing.T) {
	c, clock := newTestCache(time.Second)
	loads := 0
	load := func() int {
		loads++
		return loads
	}

	assert.Equal(t, 1, c.GetOrLoad("k", load))
	assert.Equal(t, 1, c.GetOrLoad("k", load))
	assert.Equal(t, 1, loads)

	clock.Advance(2 * time.Second)
	assert.Equal(t, 2, c.GetOrLoad("k", load))
}

func TestCache_DisabledWithoutTTL(t *testing.T) {
	c, _ := newTestCache(0)
	loads := 0

	c.Set("a", 1)
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.GetOrLoad("k", func() int { loads++; return 0 })
	c.GetOrLoad("k", func() int { loads++; return 0 })
	assert.Equal(t, 2, loads)
	assert.Equal(t, 0, c.Len())
}

func TestCache_DeleteAndClear(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestCache_SweepsExpiredWhenFull(t *testing.T) {
	c, clock := newTestCache(time.Second)
	for i := 0; i < maxEntries; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}
	assert.Equal(t, maxEntries, c.Len())

	clock.Advance(2 * time.Second)
	c.Set("fresh", 1)
	assert.Equal(t, 1, c.Len())
}
