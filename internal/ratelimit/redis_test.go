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

func newRedisLimiter(t *testing.T, limit int, window time.Duration) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLimiter(client, "ratelimit:", limit, window), mr
}

func TestRedisLimiter_FixedWindow(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLimiter(t, 3, time.Minute)

	for i := range 3 {
		d, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, err := l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Positive(t, d.RetryAfter)
	assert.True(t, mr.Exists("ratelimit:1.2.3.4"))

	mr.FastForward(time.Minute)

	d, err = l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "a new window starts after expiry")
}

func TestRedisLimiter_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	l, _ := newRedisLimiter(t, 1, time.Minute)

	d, err := l.Allow(ctx, "a")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Allow(ctx, "b")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Allow(ctx, "a")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}
