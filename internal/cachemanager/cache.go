// Package cachemanager provides typed in-memory caches with per-entry expiry.
package cachemanager

import (
	"context"
	"time"
)

// Default expiry settings.
const (
	DefaultExpiration      = 30 * time.Minute
	DefaultCleanupInterval = 5 * time.Minute
)

// NoExpiration keeps an entry until it is deleted.
const NoExpiration time.Duration = -1

// Cache stores values by key with a time to live.
type Cache[K ~string, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	// GetWithRefresh returns the value and restarts its time to live.
	GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...K)
	Keys(ctx context.Context) []K
	Len() int
	Flush(ctx context.Context)
}
