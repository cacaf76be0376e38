package cache

import "time"

// RedisOption configures Redis cache.
type RedisOption func(*RedisConfig)

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	PoolTimeout  time.Duration
	MinIdleConns int
}

// WithRedisHost sets Redis host.
func WithRedisHost(host string) RedisOption {
	return func(c *RedisConfig) {
		c.Host = host
	}
}

// WithRedisPort sets Redis port.
func WithRedisPort(port int) RedisOption {
	return func(c *RedisConfig) {
		c.Port = port
	}
}

// WithRedisPassword sets Redis password.
func WithRedisPassword(password string) RedisOption {
	return func(c *RedisConfig) {
		c.Password = password
	}
}

// WithRedisDB sets Redis database number.
func WithRedisDB(db int) RedisOption {
	return func(c *RedisConfig) {
		c.DB = db
	}
}

// MemoryOption configures Memory cache.
type MemoryOption func(*MemoryConfig)

// MemoryConfig holds memory cache configuration.
type MemoryConfig struct {
	MaxSize         int
	CleanupInterval time.Duration
}

// WithMemoryMaxSize sets max cache size.
func WithMemoryMaxSize(size int) MemoryOption {
	return func(c *MemoryConfig) {
		c.MaxSize = size
	}
}

// WithMemoryCleanup sets cleanup interval.
func WithMemoryCleanup(interval time.Duration) MemoryOption {
	return func(c *MemoryConfig) {
		c.CleanupInterval = interval
	}
}

// LayeredOption configures Layered cache.
type LayeredOption func(*LayeredConfig)

// LayeredConfig holds layered cache configuration.
type LayeredConfig struct {
	MemoryMaxSize int
	// MemoryTTL caps how long L1 keeps a value fetched from L2.
	MemoryTTL time.Duration
}

// WithLayeredMemorySize sets L1 cache size.
func WithLayeredMemorySize(size int) LayeredOption {
	return func(c *LayeredConfig) {
		c.MemoryMaxSize = size
	}
}

// WithLayeredMemoryTTL sets the L1 expiration for values promoted from L2.
func WithLayeredMemoryTTL(ttl time.Duration) LayeredOption {
	return func(c *LayeredConfig) {
		c.MemoryTTL = ttl
	}
}
