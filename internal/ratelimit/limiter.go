// Package ratelimit throttles outbound verification and reset mail per
// identity with fixed-window counters in redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrLimited = errors.New("rate limited")

type Limiter interface {
	// Allow counts one event for key and returns ErrLimited once the window
	// budget is spent.
	Allow(ctx context.Context, key string) error
}

type redisLimiter struct {
	rdb    redis.UniversalClient
	prefix string
	limit  int64
	window time.Duration
}

func NewRedisLimiter(rdb redis.UniversalClient, prefix string, limit int, window time.Duration) Limiter {
	return &redisLimiter{rdb: rdb, prefix: prefix, limit: int64(limit), window: window}
}

func (l *redisLimiter) Allow(ctx context.Context, key string) error {
	k := l.prefix + ":" + key

	// INCR и EXPIRE NX одной транзакцией: ключ не останется без TTL, а окно
	// начинается с первого события и не продлевается
	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, l.window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ratelimit %s: %w", l.prefix, err)
	}
	n := incr.Val()
	if n > l.limit {
		return ErrLimited
	}
	return nil
}

type noopLimiter struct{}

// Noop never limits; used when rate limiting is disabled.
func Noop() Limiter { return noopLimiter{} }

func (noopLimiter) Allow(context.Context, string) error { return nil }
