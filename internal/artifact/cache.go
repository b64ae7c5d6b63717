package artifact

import (
	"context"
	"sync"
)

type cacheKey struct {
	kind Kind
	id   string
}

// Cache memoizes successful fetches of an underlying Store.
// Failures are not cached so a later retry reaches the store again.
type Cache struct {
	store Store

	mu      sync.RWMutex
	entries map[cacheKey][]byte
	hits    int
	misses  int
}

// NewCache wraps store.
func NewCache(store Store) *Cache {
	return &Cache{store: store, entries: make(map[cacheKey][]byte)}
}

// Fetch implements Store.
func (c *Cache) Fetch(ctx context.Context, kind Kind, id string) ([]byte, error) {
	key := cacheKey{kind, id}
	c.mu.RLock()
	data, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return data, nil
	}

	data, err := c.store.Fetch(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[key] = data
	c.misses++
	c.mu.Unlock()
	return data, nil
}

// Purge drops every cached artifact.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[cacheKey][]byte)
}

// Stats returns cache hits and misses.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}
