package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/zenGate-Global/schoolspace/platform/go/tenant"
)

// Cache stores resolved spaces by principal key. Implementations must be safe for
// concurrent use; a failing backend behaves like a miss.
type Cache interface {
	Get(ctx context.Context, key string) (tenant.Space, bool)
	Set(ctx context.Context, key string, space tenant.Space, ttl time.Duration)
	Invalidate(ctx context.Context, key string) error
}

// minSweepSize is the map size below which Set never scans for expired entries.
const minSweepSize = 64

// MemoryCache is a process-local TTL cache. Expired entries are dropped on Get and
// swept from Set whenever the map has doubled since the last sweep.
type MemoryCache struct {
	mu      sync.RWMutex
	now     func() time.Time
	items   map[string]cacheItem
	sweepAt int
}

type cacheItem struct {
	space     tenant.Space
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{now: time.Now, items: make(map[string]cacheItem), sweepAt: minSweepSize}
}

func (c *MemoryCache) Get(_ context.Context, key string) (tenant.Space, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		return tenant.Space{}, false
	}
	if c.now().After(item.expiresAt) {
		c.mu.Lock()
		if cur, still := c.items[key]; still && cur.expiresAt.Equal(item.expiresAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return tenant.Space{}, false
	}
	return item.space, true
}

func (c *MemoryCache) Set(_ context.Context, key string, space tenant.Space, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if len(c.items) >= c.sweepAt {
		for k, item := range c.items {
			if now.After(item.expiresAt) {
				delete(c.items, k)
			}
		}
		c.sweepAt = max(2*len(c.items), minSweepSize)
	}
	c.items[key] = cacheItem{space: space, expiresAt: now.Add(ttl)}
}

func (c *MemoryCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return nil
}

// Len reports how many entries are held, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
