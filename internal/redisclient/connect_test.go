package redisclient

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webhook-proxy-go/internal/config"
)

func testConfig(url string) config.RedisConfig {
	return config.RedisConfig{
		URL:                   url,
		RetryAttempts:         2,
		RetryIntervalMS:       10,
		ConnectTimeoutSeconds: 2,
	}
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), testConfig("redis://"+mr.Addr()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	assert.NoError(t, Healthcheck(client)(context.Background()))
}

func TestConnect_Errors(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want error
	}{
		{"empty", "", ErrEmptyURL},
		{"bad scheme", "http://localhost:6379", ErrParseURL},
		{"unreachable", "redis://127.0.0.1:1", ErrRedisNotReady},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Connect(context.Background(), testConfig(tt.url))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHealthcheck_Down(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), testConfig("redis://"+mr.Addr()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	mr.Close()
	assert.ErrorIs(t, Healthcheck(client)(context.Background()), ErrHealthcheckFailed)
}
