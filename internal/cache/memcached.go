package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/aqi-watch/internal/models"
)

const keyPrefix = "aqi:"

// memcacheClient is the subset of *memcache.Client used here.
type memcacheClient interface {
	Get(key string) (*memcache.Item, error)
	GetMulti(keys []string) (map[string]*memcache.Item, error)
	Set(item *memcache.Item) error
	Delete(key string) error
	Ping() error
	Close() error
}

// MemcachedCache implements Cache on memcached. Memcached cannot enumerate
// keys, so the cache keeps a local index of keys it has written; Keys and
// Clear work from that index and only see this process's writes.
type MemcachedCache struct {
	client    memcacheClient
	retention time.Duration

	mu    sync.Mutex
	index map[string]struct{}
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). retention is the
// item TTL in memcached; timeout and maxIdleConns use client defaults if zero.
func NewMemcachedCache(addrs string, retention, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return newMemcachedCache(client, retention), nil
}

func newMemcachedCache(client memcacheClient, retention time.Duration) *MemcachedCache {
	return &MemcachedCache{
		client:    client,
		retention: retention,
		index:     make(map[string]struct{}),
	}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// key maps a city name to a memcached-safe key (no spaces or control bytes).
func (c *MemcachedCache) key(k string) string {
	return keyPrefix + url.QueryEscape(k)
}

// Get implements Cache.Get. Returns false, nil on cache miss; false, err on error.
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.CacheEntry, bool, error) {
	if ctx.Err() != nil {
		return models.CacheEntry{}, false, ctx.Err()
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			c.forget(key)
			return models.CacheEntry{}, false, nil
		}
		return models.CacheEntry{}, false, fmt.Errorf("memcached get %q: %w", key, err)
	}
	var entry models.CacheEntry
	if err := json.Unmarshal(item.Value, &entry); err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("memcached decode %q: %w", key, err)
	}
	return entry, true, nil
}

// Set implements Cache.Set.
func (c *MemcachedCache) Set(ctx context.Context, entry models.CacheEntry) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("memcached encode %q: %w", entry.Key, err)
	}
	if err := c.client.Set(&memcache.Item{
		Key:        c.key(entry.Key),
		Value:      raw,
		Expiration: expirationSeconds(c.retention),
	}); err != nil {
		return fmt.Errorf("memcached set %q: %w", entry.Key, err)
	}
	c.mu.Lock()
	c.index[entry.Key] = struct{}{}
	c.mu.Unlock()
	return nil
}

// Clear deletes every indexed key. Keys already evicted are ignored.
func (c *MemcachedCache) Clear(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.mu.Lock()
	keys := make([]string, 0, len(c.index))
	for k := range c.index {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	var errs []error
	for _, k := range keys {
		err := c.client.Delete(c.key(k))
		if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
			errs = append(errs, fmt.Errorf("memcached delete %q: %w", k, err))
			continue
		}
		c.forget(k)
	}
	return errors.Join(errs...)
}

// Keys returns indexed keys still present in memcached, sorted. Keys that
// memcached has evicted or expired are dropped from the index.
func (c *MemcachedCache) Keys(ctx context.Context) ([]string, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	c.mu.Lock()
	names := make(map[string]string, len(c.index))
	mcKeys := make([]string, 0, len(c.index))
	for k := range c.index {
		mk := c.key(k)
		names[mk] = k
		mcKeys = append(mcKeys, mk)
	}
	c.mu.Unlock()
	if len(mcKeys) == 0 {
		return []string{}, nil
	}

	items, err := c.client.GetMulti(mcKeys)
	if err != nil {
		return nil, fmt.Errorf("memcached get multi: %w", err)
	}
	out := make([]string, 0, len(items))
	for mk, name := range names {
		if _, ok := items[mk]; ok {
			out = append(out, name)
		} else {
			c.forget(name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (c *MemcachedCache) forget(key string) {
	c.mu.Lock()
	delete(c.index, key)
	c.mu.Unlock()
}

// Backend implements Cache.
func (c *MemcachedCache) Backend() string { return BackendMemcached }

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}

func expirationSeconds(ttl time.Duration) int32 {
	expSec := int32(ttl.Seconds())
	const maxRelativeExp = 30 * 24 * 60 * 60 // memcached treats larger values as unix timestamps
	if expSec <= 0 || expSec > maxRelativeExp {
		expSec = 3600
	}
	return expSec
}
