package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webhook-proxy-go/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(enabled bool, limit int) *config.Config {
	return &config.Config{RateLimit: config.RateLimitConfig{
		Enabled:       enabled,
		Backend:       config.BackendMemory,
		Limit:         limit,
		PeriodSeconds: 60,
		KeyPrefix:     "ratelimit:",
	}}
}

type stubLimiter struct {
	calls    int
	decision Decision
	err      error
}

func (s *stubLimiter) Allow(context.Context, string) (Decision, error) {
	s.calls++
	return s.decision, s.err
}

func TestGate_LimitPerKey(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(true, 2)
	g := NewGate(cfg, NewMemoryLimiter(2, time.Minute), discardLogger())

	for i := range 2 {
		d, err := g.Admit(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d should be admitted", i+1)
	}

	d, err := g.Admit(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "third request within the period must be rejected")

	d, err = g.Admit(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "other keys have their own bucket")
}

func TestGate_DisabledBypassesLimiter(t *testing.T) {
	stub := &stubLimiter{decision: Decision{Allowed: false}}
	g := NewGate(testConfig(false, 1), stub, discardLogger())

	for range 5 {
		d, err := g.Admit(context.Background(), "k")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	assert.Zero(t, stub.calls)
}

func TestGate_LimiterFailureAdmits(t *testing.T) {
	stub := &stubLimiter{err: errors.New("timeout")}
	g := NewGate(testConfig(true, 1), stub, discardLogger())

	d, err := g.Admit(context.Background(), "k")
	assert.ErrorIs(t, err, ErrLimiterUnavailable)
	assert.True(t, d.Allowed)
}

func TestNewLimiter(t *testing.T) {
	cfg := testConfig(true, 10)

	l, err := NewLimiter(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryLimiter{}, l)

	cfg.RateLimit.Backend = config.BackendRedis
	_, err = NewLimiter(cfg, nil)
	assert.Error(t, err)
}
