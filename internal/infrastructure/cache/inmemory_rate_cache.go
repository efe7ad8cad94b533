package cache

import (
	"context"
	"sync"
	"time"

	"github.com/shiplabel/backend/internal/application/labels"
	"github.com/shiplabel/backend/internal/domain/shipping"
)

// InMemoryRateCache implements the rate-quote cache in process memory.
// Suitable for single-instance deployments and tests. Expired entries
// are dropped lazily on access.
type InMemoryRateCache struct {
	mu      sync.RWMutex
	entries map[string]inMemoryEntry
}

type inMemoryEntry struct {
	rates     []shipping.Rate
	expiresAt time.Time
}

// NewInMemoryRateCache creates an in-memory rate cache
func NewInMemoryRateCache() *InMemoryRateCache {
	return &InMemoryRateCache{
		entries: map[string]inMemoryEntry{},
	}
}

// Get returns the cached quotes for a key, or false on a miss
func (c *InMemoryRateCache) Get(_ context.Context, key string) ([]shipping.Rate, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.rates, true
}

// Set stores quotes under a key with a time-to-live
func (c *InMemoryRateCache) Set(_ context.Context, key string, rates []shipping.Rate, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = inMemoryEntry{
		rates:     rates,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Invalidate drops the given keys
func (c *InMemoryRateCache) Invalidate(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	return nil
}

// Len returns the number of live entries (for tests)
func (c *InMemoryRateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Ensure InMemoryRateCache implements the rate cache
var _ labels.RateCache = (*InMemoryRateCache)(nil)
