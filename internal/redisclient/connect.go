// Package redisclient opens the shared Redis connection used by the dedup
// store, the rate limiter and the retry queue.
package redisclient

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"webhook-proxy-go/internal/config"
)

var (
	// ErrEmptyURL is returned by Connect when no URL is configured.
	ErrEmptyURL = errors.New("empty redis connection URL")
	// ErrParseURL wraps an invalid redis:// or rediss:// URL.
	ErrParseURL = errors.New("failed to parse redis connection URL")
	// ErrRedisNotReady means every connection attempt failed to ping.
	ErrRedisNotReady = errors.New("redis did not become ready within the given time period")
	// ErrHealthcheckFailed wraps a failed ping from Healthcheck.
	ErrHealthcheckFailed = errors.New("redis healthcheck failed")
)

// Connect parses cfg.URL and pings the server, retrying up to
// cfg.RetryAttempts times within cfg.ConnectTimeoutSeconds.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, ErrEmptyURL
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Join(ErrParseURL, err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.ConnectTimeoutSeconds)*time.Second)
	defer cancel()

	attempts := max(cfg.RetryAttempts, 1)
	interval := time.Duration(cfg.RetryIntervalMS) * time.Millisecond

	var lastErr error
	for range attempts {
		client := redis.NewClient(opts)
		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(interval):
		}
	}

	return nil, errors.Join(ErrRedisNotReady, lastErr)
}

// Healthcheck returns a probe that pings client.
func Healthcheck(client redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}
