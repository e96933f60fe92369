package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLimiter_WindowBudget(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewRedisLimiter(rdb, "otp", 2, time.Minute)
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, "a@b.c"))
	require.NoError(t, l.Allow(ctx, "a@b.c"))
	assert.ErrorIs(t, l.Allow(ctx, "a@b.c"), ErrLimited)

	// other keys are independent
	assert.NoError(t, l.Allow(ctx, "x@b.c"))

	ttl := mr.TTL("otp:a@b.c")
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)

	mr.FastForward(time.Minute + time.Second)
	assert.NoError(t, l.Allow(ctx, "a@b.c"))
}

func TestRedisLimiter_CounterWithoutTTLGetsOne(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewRedisLimiter(rdb, "otp", 5, time.Minute)
	ctx := context.Background()

	// счётчик остался без TTL после сбоя
	require.NoError(t, mr.Set("otp:a@b.c", "1"))
	require.NoError(t, l.Allow(ctx, "a@b.c"))

	ttl := mr.TTL("otp:a@b.c")
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}

func TestRedisLimiter_WindowIsNotExtended(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewRedisLimiter(rdb, "otp", 5, time.Minute)
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, "a@b.c"))
	mr.FastForward(40 * time.Second)
	require.NoError(t, l.Allow(ctx, "a@b.c"))

	assert.LessOrEqual(t, mr.TTL("otp:a@b.c"), 20*time.Second)
	v, err := mr.Get("otp:a@b.c")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}

func TestRedisLimiter_RedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	l := NewRedisLimiter(rdb, "otp", 2, time.Minute)
	mr.Close()

	err = l.Allow(context.Background(), "a@b.c")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLimited)
}

func TestNoop(t *testing.T) {
	for i := 0; i < 10; i++ {
		assert.NoError(t, Noop().Allow(context.Background(), "k"))
	}
}
