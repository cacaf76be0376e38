package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements Service using Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisClient dials Redis and verifies the connection.
func NewRedisClient(opts ...RedisOption) (*redis.Client, error) {
	cfg := &RedisConfig{
		Host:         "localhost",
		Port:         6379,
		DB:           0,
		PoolSize:     10,
		PoolTimeout:  30 * time.Second,
		MinIdleConns: 2,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		PoolTimeout:  cfg.PoolTimeout,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// NewRedisCacheFromClient wraps a shared client.
func NewRedisCacheFromClient(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// Close is a no-op: the shared client is closed by whoever dialed it.
func (c *RedisCache) Close() error {
	return nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	key = c.wrapKey(key)

	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		var err error
		data, err = json.Marshal(value)
		if err != nil {
			return err
		}
	}
	return c.client.Set(ctx, key, data, expiration).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	key = c.wrapKey(key)

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return err
	}

	switch d := dest.(type) {
	case *string:
		*d = string(data)
		return nil
	case *[]byte:
		*d = data
		return nil
	}
	return json.Unmarshal(data, dest)
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	keys = c.wrapKeys(keys...)
	return c.client.Unlink(ctx, keys...).Err()
}

func (c *RedisCache) DeleteByPattern(ctx context.Context, pattern string) error {
	pattern = c.wrapKey(pattern)

	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	return c.client.Unlink(ctx, keys...).Err()
}

func (c *RedisCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	key = c.wrapKey(key)
	return c.client.SetNX(ctx, key, "locked", ttl).Result()
}

func (c *RedisCache) Unlock(ctx context.Context, key string) error {
	key = c.wrapKey(key)
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) wrapKey(key string) string {
	return fmt.Sprintf("%s:%s", c.prefix, key)
}

func (c *RedisCache) wrapKeys(keys ...string) []string {
	wrapped := make([]string, len(keys))
	for i, key := range keys {
		wrapped[i] = c.wrapKey(key)
	}
	return wrapped
}
