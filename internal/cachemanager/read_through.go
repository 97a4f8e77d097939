package cachemanager

import (
	"context"
	"time"
)

// ReadThrough loads missing entries through a loader and caches the result.
// Loader errors are returned and nothing is cached.
type ReadThrough[K ~string, V any] struct {
	cache  Cache[K, V]
	load   func(ctx context.Context, key K) (V, error)
	ttl    time.Duration
	bypass bool
}

// NewReadThrough wraps cache with load. When bypass is set every Get calls
// load directly.
func NewReadThrough[K ~string, V any](cache Cache[K, V], load func(ctx context.Context, key K) (V, error), ttl time.Duration, bypass bool) *ReadThrough[K, V] {
	return &ReadThrough[K, V]{cache: cache, load: load, ttl: ttl, bypass: bypass}
}

func (r *ReadThrough[K, V]) Get(ctx context.Context, key K) (V, error) {
	if r.bypass {
		return r.load(ctx, key)
	}
	if v, ok := r.cache.GetWithRefresh(ctx, key, r.ttl); ok {
		return v, nil
	}

	v, err := r.load(ctx, key)
	if err != nil {
		return v, err
	}
	r.cache.Set(ctx, key, v, r.ttl)
	return v, nil
}

// Invalidate drops cached entries so the next Get reloads them.
func (r *ReadThrough[K, V]) Invalidate(ctx context.Context, keys ...K) {
	r.cache.Delete(ctx, keys...)
}
