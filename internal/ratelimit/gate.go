// Package ratelimit bounds the number of requests a single client key may
// make within a rolling period.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"webhook-proxy-go/internal/config"
)

// ErrLimiterUnavailable wraps failures of the limiter backend. Callers admit
// the request when they see it.
var ErrLimiterUnavailable = errors.New("rate limiter unavailable")

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Gate admits or rejects requests. A disabled Gate admits everything
// without touching its limiter.
type Gate struct {
	limiter Limiter
	enabled bool
	logger  *slog.Logger
}

// NewGate creates a Gate over limiter using the rate_limit section of cfg.
func NewGate(cfg *config.Config, limiter Limiter, logger *slog.Logger) *Gate {
	return &Gate{
		limiter: limiter,
		enabled: cfg.RateLimit.Enabled,
		logger:  logger.With("component", "rate_limit"),
	}
}

// NewLimiter returns the limiter selected by rate_limit.backend.
// rdb may be nil unless the redis backend is selected.
func NewLimiter(cfg *config.Config, rdb redis.UniversalClient) (Limiter, error) {
	limit := cfg.RateLimit.Limit
	period := time.Duration(cfg.RateLimit.PeriodSeconds) * time.Second

	switch cfg.RateLimit.Backend {
	case config.BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("ratelimit: redis backend selected but no redis client configured")
		}
		return NewRedisLimiter(rdb, cfg.RateLimit.KeyPrefix, limit, period), nil
	case config.BackendMemory, "":
		return NewMemoryLimiter(limit, period), nil
	default:
		return nil, fmt.Errorf("ratelimit: unknown backend %q", cfg.RateLimit.Backend)
	}
}

// Enabled reports whether rate limiting is switched on.
func (g *Gate) Enabled() bool {
	return g.enabled
}

// Admit reports whether the request identified by key may proceed.
// On a limiter failure it returns a wrapped ErrLimiterUnavailable and an
// allowed decision.
func (g *Gate) Admit(ctx context.Context, key string) (Decision, error) {
	if !g.enabled {
		return Decision{Allowed: true}, nil
	}
	if g.limiter == nil {
		return Decision{Allowed: true}, ErrLimiterUnavailable
	}

	d, err := g.limiter.Allow(ctx, key)
	if err != nil {
		return Decision{Allowed: true}, fmt.Errorf("%w: %w", ErrLimiterUnavailable, err)
	}
	if !d.Allowed {
		g.logger.Debug("request rate limited", "client_key", key, "retry_after", d.RetryAfter)
	}
	return d, nil
}
