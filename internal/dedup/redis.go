package dedup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// recordValue is the sentinel stored under every key; only presence matters.
const recordValue = "true"

// RedisBackend stores records as plain keys with a native Redis TTL.
type RedisBackend struct {
	client redis.UniversalClient
}

// NewRedisBackend wraps client.
func NewRedisBackend(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, ttl time.Duration) error {
	return b.client.Set(ctx, key, recordValue, ttl).Err()
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}
