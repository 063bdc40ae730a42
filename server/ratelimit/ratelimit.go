package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const KEY_PREFIX = "ratelimit:"

// Limiter allows at most N calls per key in each fixed window. When a call is
// refused, retryAfter is the time left until the window resets.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

type RedisLimiter struct {
	client redis.Cmdable
	limit  int64
	window time.Duration
}

func NewRedisLimiter(client redis.Cmdable, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: int64(limit), window: window}
}

func (limiter *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	redisKey := KEY_PREFIX + key

	count, err := limiter.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, 0, err
	}

	// First hit opens the window
	if count == 1 {
		if err := limiter.client.PExpire(ctx, redisKey, limiter.window).Err(); err != nil {
			return false, 0, err
		}
	}

	if count <= limiter.limit {
		return true, 0, nil
	}

	ttl, err := limiter.client.PTTL(ctx, redisKey).Result()
	if err != nil {
		return false, 0, err
	}

	// Key lost its expiry somehow; reset it so the client isn't locked out forever
	if ttl < 0 {
		ttl = limiter.window
		if err := limiter.client.PExpire(ctx, redisKey, ttl).Err(); err != nil {
			return false, 0, err
		}
	}

	return false, ttl, nil
}

type fixedWindow struct {
	count   int
	resetAt time.Time
}

type MemoryLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows map[string]*fixedWindow
	now     func() time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		windows: make(map[string]*fixedWindow),
		now:     time.Now,
	}
}

func (limiter *MemoryLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	now := limiter.now()
	current, ok := limiter.windows[key]
	if !ok || !now.Before(current.resetAt) {
		limiter.evictExpired(now)
		current = &fixedWindow{resetAt: now.Add(limiter.window)}
		limiter.windows[key] = current
	}

	current.count++
	if current.count <= limiter.limit {
		return true, 0, nil
	}

	return false, current.resetAt.Sub(now), nil
}

func (limiter *MemoryLimiter) evictExpired(now time.Time) {
	for key, w := range limiter.windows {
		if !now.Before(w.resetAt) {
			delete(limiter.windows, key)
		}
	}
}
