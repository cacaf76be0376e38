package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache: key not found")

// Store is a key/value cache with expiry. Values round-trip through JSON
// except for []byte, which is kept as is.
type Store interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// Locker hands out short-lived exclusive keys. TryLock reports false when
// someone else holds the key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Service is what every backend in this package implements.
type Service interface {
	Store
	Locker
	Close() error
}

var (
	_ Service = (*MemoryCache)(nil)
	_ Service = (*RedisCache)(nil)
	_ Service = (*LayeredCache)(nil)
)
