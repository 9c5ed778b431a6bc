package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Limiter interface {
	// Allow counts one hit against key. When the window is full it returns
	// false and how long until the window resets.
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

type RedisLimiter struct {
	rdb    *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func NewRedisLimiter(rdb *redis.Client, prefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, prefix: prefix, limit: limit, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if l.limit <= 0 {
		return true, 0, nil
	}
	k := l.prefix + key
	count, err := l.rdb.Incr(ctx, k).Result()
	if err != nil {
		return true, 0, err
	}
	if count == 1 {
		l.rdb.Expire(ctx, k, l.window)
	}
	if count <= int64(l.limit) {
		return true, 0, nil
	}
	ttl, err := l.rdb.PTTL(ctx, k).Result()
	if err != nil || ttl <= 0 {
		// Key lost its expiry; make sure the window still ends.
		l.rdb.Expire(ctx, k, l.window)
		ttl = l.window
	}
	return false, ttl, nil
}
