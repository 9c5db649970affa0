package routing

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Cache memoizes route lookups keyed by the coordinate pair. Route previews
// for the same meeting point repeat heavily while a lobby fills up.
type Cache struct {
	mu    sync.RWMutex
	inner Client
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	r  Route
	ts time.Time
}

func NewCache(inner Client, ttl time.Duration) *Cache {
	return &Cache{inner: inner, store: make(map[string]cacheEntry), ttl: ttl}
}

func cacheKey(fromLat, fromLon, toLat, toLon float64) string {
	return fmt.Sprintf("%.6f,%.6f->%.6f,%.6f", fromLat, fromLon, toLat, toLon)
}

func (c *Cache) Route(ctx context.Context, fromLat, fromLon, toLat, toLon float64) (Route, error) {
	k := cacheKey(fromLat, fromLon, toLat, toLon)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if ok && time.Since(e.ts) <= c.ttl {
		return e.r, nil
	}
	r, err := c.inner.Route(ctx, fromLat, fromLon, toLat, toLon)
	if err != nil {
		return Route{}, err
	}
	c.mu.Lock()
	c.store[k] = cacheEntry{r: r, ts: time.Now()}
	c.mu.Unlock()
	return r, nil
}
