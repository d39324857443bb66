package ratelimit

import (
	"context"
	"time"

	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// MemoryLimiter is a per-process token bucket: a fresh key may spend limit
// requests at once and regains limit tokens per period.
type MemoryLimiter struct {
	store *echomw.RateLimiterMemoryStore
}

// NewMemoryLimiter creates a MemoryLimiter. Idle keys are forgotten after
// two periods.
func NewMemoryLimiter(limit int, period time.Duration) *MemoryLimiter {
	if period <= 0 {
		period = time.Minute
	}
	return &MemoryLimiter{
		store: echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(float64(limit) / period.Seconds()),
			Burst:     limit,
			ExpiresIn: 2 * period,
		}),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	ok, err := l.store.Allow(key)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: ok}, nil
}
