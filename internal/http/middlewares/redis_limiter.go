package middlewares

import (
	"context"
	"time"
)

type windowCounter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RedisLimiter shares fixed windows across API replicas.
type RedisLimiter struct {
	store  windowCounter
	prefix string
	limit  int
	window time.Duration
}

func NewRedisLimiter(store windowCounter, prefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{store: store, prefix: prefix, limit: limit, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	n, ttl, err := l.store.IncrWindow(ctx, l.prefix+key, l.window)
	if err != nil {
		return false, 0, err
	}

	if n > int64(l.limit) {
		return false, ttl, nil
	}
	return true, 0, nil
}
