package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryItem stores cached value with expiration.
type MemoryItem struct {
	Value    interface{}
	ExpireAt time.Time
}

// IsExpired checks if item has expired.
func (m *MemoryItem) IsExpired(now time.Time) bool {
	return now.After(m.ExpireAt)
}

// MemoryCache implements Service using in-memory storage with LRU eviction.
type MemoryCache struct {
	data          map[string]*MemoryItem
	access        map[string]time.Time
	mutex         sync.RWMutex
	maxSize       int
	cleanupTicker *time.Ticker
	done          chan struct{}
	closeOnce     sync.Once
	nowFn         func() time.Time
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize:         1000,
		CleanupInterval: 5 * time.Minute,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	mc := &MemoryCache{
		data:          make(map[string]*MemoryItem),
		access:        make(map[string]time.Time),
		maxSize:       cfg.MaxSize,
		cleanupTicker: time.NewTicker(cfg.CleanupInterval),
		done:          make(chan struct{}),
		nowFn:         time.Now,
	}

	go mc.cleanupExpired()
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if _, exists := mc.data[key]; !exists && len(mc.data) >= mc.maxSize {
		mc.evictLRU()
	}

	now := mc.nowFn()
	expireAt := now.Add(expiration)
	if expiration <= 0 {
		expireAt = now.Add(7 * 24 * time.Hour) // default 7 days
	}

	if b, ok := value.([]byte); ok {
		value = append([]byte(nil), b...)
	}

	mc.data[key] = &MemoryItem{
		Value:    value,
		ExpireAt: expireAt,
	}
	mc.access[key] = now
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	now := mc.nowFn()
	item, exists := mc.data[key]
	if !exists || item.IsExpired(now) {
		if exists {
			delete(mc.data, key)
			delete(mc.access, key)
		}
		return ErrCacheMiss
	}

	mc.access[key] = now
	return assign(item.Value, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	for _, key := range keys {
		delete(mc.data, key)
		delete(mc.access, key)
	}
	return nil
}

func (mc *MemoryCache) DeleteByPattern(_ context.Context, pattern string) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	for key := range mc.data {
		if matchPattern(pattern, key) {
			delete(mc.data, key)
			delete(mc.access, key)
		}
	}
	return nil
}

func (mc *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	now := mc.nowFn()
	if item, ok := mc.data[key]; ok && !item.IsExpired(now) {
		return false, nil
	}

	mc.data[key] = &MemoryItem{Value: "locked", ExpireAt: now.Add(ttl)}
	mc.access[key] = now
	return true, nil
}

func (mc *MemoryCache) Unlock(ctx context.Context, key string) error {
	return mc.Delete(ctx, key)
}

func (mc *MemoryCache) evictLRU() {
	if len(mc.data) == 0 {
		return
	}

	var oldestKey string
	var oldestTime time.Time

	for key, accessTime := range mc.access {
		if oldestKey == "" || accessTime.Before(oldestTime) {
			oldestTime = accessTime
			oldestKey = key
		}
	}

	if oldestKey != "" {
		delete(mc.data, oldestKey)
		delete(mc.access, oldestKey)
	}
}

func (mc *MemoryCache) cleanupExpired() {
	for {
		select {
		case <-mc.done:
			return
		case <-mc.cleanupTicker.C:
		}

		mc.mutex.Lock()
		now := mc.nowFn()
		for key, item := range mc.data {
			if item.IsExpired(now) {
				delete(mc.data, key)
				delete(mc.access, key)
			}
		}
		mc.mutex.Unlock()
	}
}

// Close stops the cleanup goroutine.
func (mc *MemoryCache) Close() error {
	mc.closeOnce.Do(func() {
		mc.cleanupTicker.Stop()
		close(mc.done)
	})
	return nil
}
