package cache

import (
	"context"
	"time"
)

// LayeredCache implements two-level cache (L1: Memory, L2: Redis).
type LayeredCache struct {
	memCache   *MemoryCache
	redisCache *RedisCache
	memTTL     time.Duration
}

// NewLayeredCache creates a layered cache with memory and Redis.
func NewLayeredCache(redisCache *RedisCache, opts ...LayeredOption) *LayeredCache {
	cfg := &LayeredConfig{
		MemoryMaxSize: 1000,
		MemoryTTL:     time.Minute,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return &LayeredCache{
		memCache:   NewMemoryCache(WithMemoryMaxSize(cfg.MemoryMaxSize)),
		redisCache: redisCache,
		memTTL:     cfg.MemoryTTL,
	}
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	// Write-through: Redis first, then memory
	if err := lc.redisCache.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	_ = lc.memCache.Set(ctx, key, value, lc.l1TTL(expiration))
	return nil
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	// L1: Try memory first
	if err := lc.memCache.Get(ctx, key, dest); err == nil {
		return nil
	}

	// L2: Try Redis
	if err := lc.redisCache.Get(ctx, key, dest); err != nil {
		return err
	}

	// Store the dereferenced value in memory for next time
	switch d := dest.(type) {
	case *[]byte:
		_ = lc.memCache.Set(ctx, key, *d, lc.memTTL)
	case *string:
		_ = lc.memCache.Set(ctx, key, *d, lc.memTTL)
	}
	return nil
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.memCache.Delete(ctx, keys...)
	return lc.redisCache.Delete(ctx, keys...)
}

func (lc *LayeredCache) DeleteByPattern(ctx context.Context, pattern string) error {
	_ = lc.memCache.DeleteByPattern(ctx, pattern)
	return lc.redisCache.DeleteByPattern(ctx, pattern)
}

func (lc *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return lc.redisCache.TryLock(ctx, key, ttl)
}

func (lc *LayeredCache) Unlock(ctx context.Context, key string) error {
	return lc.redisCache.Unlock(ctx, key)
}

func (lc *LayeredCache) l1TTL(expiration time.Duration) time.Duration {
	if expiration > 0 && expiration < lc.memTTL {
		return expiration
	}
	return lc.memTTL
}

// Close closes both cache layers.
func (lc *LayeredCache) Close() error {
	_ = lc.memCache.Close()
	return lc.redisCache.Close()
}
