package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	tokens float64
	last   time.Time
}

// Limiter is a keyed token bucket. Each key starts full and refills at a fixed rate.
type Limiter struct {
	mu         sync.Mutex
	m          map[string]*bucket
	capacity   float64
	refillRate float64 // tokens per second
	nowFn      func() time.Time
}

func New(capacity, refillPerSec float64) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	return &Limiter{
		m:          make(map[string]*bucket),
		capacity:   capacity,
		refillRate: refillPerSec,
		nowFn:      time.Now,
	}
}

// Allow returns true if one token can be consumed for key.
func (l *Limiter) Allow(key string) bool {
	now := l.nowFn()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.m[key]
	if !ok {
		if len(l.m) >= 4096 {
			l.pruneLocked(now)
		}
		b = &bucket{tokens: l.capacity, last: now}
		l.m[key] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * l.refillRate
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// pruneLocked drops buckets that would be full again by now.
func (l *Limiter) pruneLocked(now time.Time) {
	for k, b := range l.m {
		if b.tokens+now.Sub(b.last).Seconds()*l.refillRate >= l.capacity {
			delete(l.m, k)
		}
	}
}
