package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the window counter, arms its expiry on first
// use and returns {count, pttl_ms}.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisLimiter is a fixed-window counter shared by every replica.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

// NewRedisLimiter creates a RedisLimiter allowing limit requests per window.
func NewRedisLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	raw, err := fixedWindowScript.Run(ctx, l.client,
		[]string{l.prefix + key},
		l.window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(raw) != 2 {
		return Decision{}, fmt.Errorf("unexpected rate limit script response: %v", raw)
	}

	count, ttl := raw[0], raw[1]
	d := Decision{
		Allowed:   count <= int64(l.limit),
		Remaining: max(l.limit-int(count), 0),
	}
	if !d.Allowed {
		d.RetryAfter = time.Duration(ttl) * time.Millisecond
	}
	return d, nil
}
