package cache

import (
	"context"
	"sync"
	"time"
)

// Loader fetches the value for a key on cache miss.
type Loader[V any] func(ctx context.Context, key string) (V, error)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a process-wide read-through cache with per-entry expiry. The cart and
// stock services use it for master data and terminal info; callers must
// tolerate entries up to one TTL stale.
type TTL[V any] struct {
	ttl   time.Duration
	clock func() time.Time

	mu      sync.Mutex
	entries map[string]entry[V]
}

// NewTTL constructs a TTL cache. A non-positive ttl disables caching entirely
// and every Get goes to the loader.
func NewTTL[V any](ttl time.Duration, clock func() time.Time) *TTL[V] {
	if clock == nil {
		clock = time.Now
	}
	return &TTL[V]{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]entry[V]),
	}
}

// Get returns the cached value for key, invoking load on miss or expiry.
// Load errors are not cached.
func (c *TTL[V]) Get(ctx context.Context, key string, load Loader[V]) (V, error) {
	if c == nil || c.ttl <= 0 {
		return load(ctx, key)
	}

	now := c.clock()
	c.mu.Lock()
	if cached, ok := c.entries[key]; ok && now.Before(cached.expiresAt) {
		value := cached.value
		c.mu.Unlock()
		return value, nil
	}
	c.mu.Unlock()

	value, err := load(ctx, key)
	if err != nil {
		return value, err
	}

	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()
	return value, nil
}

// Invalidate drops the cached entry for key.
func (c *TTL[V]) Invalidate(key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Purge drops every cached entry.
func (c *TTL[V]) Purge() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries = make(map[string]entry[V])
	c.mu.Unlock()
}
