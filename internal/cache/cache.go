// Package cache stores the latest fetched record per city. Freshness is
// decided by the caller from CacheEntry.FetchedAt; storage never expires
// entries on its own except through a backend's retention TTL.
package cache

import (
	"context"
	"sort"
	"sync"

	"github.com/kjstillabower/aqi-watch/internal/models"
)

const (
	BackendMemory    = "memory"
	BackendMemcached = "memcached"
)

// Cache is the storage behind the measurement service.
type Cache interface {
	// Get returns the entry for key. ok is false on a miss.
	Get(ctx context.Context, key string) (entry models.CacheEntry, ok bool, err error)
	// Set stores entry under entry.Key, replacing any previous entry.
	Set(ctx context.Context, entry models.CacheEntry) error
	// Clear removes every entry.
	Clear(ctx context.Context) error
	// Keys returns the stored keys in sorted order.
	Keys(ctx context.Context) ([]string, error)
	// Backend names the implementation for metrics and stats.
	Backend() string
}

// InMemoryCache implements Cache with a mutex-guarded map.
type InMemoryCache struct {
	mu   sync.RWMutex
	data map[string]models.CacheEntry
}

// NewInMemoryCache creates an empty in-memory cache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{data: make(map[string]models.CacheEntry)}
}

// Get returns a copy of the stored entry.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.CacheEntry, bool, error) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return models.CacheEntry{}, false, nil
	}
	entry.Record = entry.Record.Clone()
	return entry, true, nil
}

// Set stores a copy of entry.
func (c *InMemoryCache) Set(ctx context.Context, entry models.CacheEntry) error {
	entry.Record = entry.Record.Clone()
	c.mu.Lock()
	c.data[entry.Key] = entry
	c.mu.Unlock()
	return nil
}

// Clear removes every entry.
func (c *InMemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.data = make(map[string]models.CacheEntry)
	c.mu.Unlock()
	return nil
}

// Keys returns the stored keys, sorted.
func (c *InMemoryCache) Keys(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	keys := make([]string, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	c.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

// Backend implements Cache.
func (c *InMemoryCache) Backend() string { return BackendMemory }
