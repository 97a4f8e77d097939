package cachemanager

import (
	"context"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/zjrosen/simput/internal/log"
)

// Memory is a Cache backed by go-cache. Expired entries are swept every
// cleanup interval; the eviction callback runs for swept and deleted entries.
type Memory[K ~string, V any] struct {
	name  string
	cache *gocache.Cache
}

var _ Cache[string, int] = (*Memory[string, int])(nil)

// NewMemory returns an empty cache. name identifies the cache in logs.
func NewMemory[K ~string, V any](name string, defaultExpiration, cleanupInterval time.Duration) *Memory[K, V] {
	return &Memory[K, V]{
		name:  name,
		cache: gocache.New(defaultExpiration, cleanupInterval),
	}
}

// OnEvicted sets fn to run whenever an entry is removed by expiry or Delete.
// Values of the wrong type are skipped.
func (c *Memory[K, V]) OnEvicted(fn func(key K, value V)) {
	c.cache.OnEvicted(func(key string, raw any) {
		v, ok := raw.(V)
		if !ok {
			return
		}
		log.Debug(log.CatCache, "cache entry evicted", "cache", c.name, "key", key)
		fn(K(key), v)
	})
}

func (c *Memory[K, V]) Get(_ context.Context, key K) (V, bool) {
	var zero V

	raw, found := c.cache.Get(string(key))
	if !found {
		return zero, false
	}
	v, ok := raw.(V)
	if !ok {
		log.Error(log.CatCache, "cached value has unexpected type", "cache", c.name, "key", key)
		return zero, false
	}
	return v, true
}

func (c *Memory[K, V]) GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool) {
	v, found := c.Get(ctx, key)
	if !found {
		return v, false
	}
	c.cache.Set(string(key), v, ttl)
	return v, true
}

func (c *Memory[K, V]) Set(_ context.Context, key K, value V, ttl time.Duration) {
	c.cache.Set(string(key), value, ttl)
}

func (c *Memory[K, V]) Delete(_ context.Context, keys ...K) {
	for _, key := range keys {
		c.cache.Delete(string(key))
	}
}

// Keys returns the unexpired keys, sorted.
func (c *Memory[K, V]) Keys(_ context.Context) []K {
	items := c.cache.Items()
	keys := make([]K, 0, len(items))
	for k := range items {
		keys = append(keys, K(k))
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Len counts entries, including expired ones not yet swept.
func (c *Memory[K, V]) Len() int { return c.cache.ItemCount() }

// DeleteExpired sweeps expired entries now.
func (c *Memory[K, V]) DeleteExpired() { c.cache.DeleteExpired() }

// Flush drops every entry without running the eviction callback.
func (c *Memory[K, V]) Flush(_ context.Context) { c.cache.Flush() }
