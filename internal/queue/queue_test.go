package queue

import (
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webhook-proxy-go/internal/config"
	"webhook-proxy-go/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := &model.RetryEnvelope{
		URL:     "https://proxy.example.com/webhook/a?x=1",
		Method:  http.MethodPost,
		Headers: http.Header{"X-Signature": {"sha256=abc"}},
		Body:    []byte{0x00, 0xff, 'h', 'i'},
	}

	data, err := EncodeEnvelope(env)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"url":"https://proxy.example.com/webhook/a?x=1"`)
	assert.Contains(t, string(data), `"method":"POST"`)

	got, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, env, got)
}

func TestEncodeEnvelope_Nil(t *testing.T) {
	_, err := EncodeEnvelope(nil)
	assert.ErrorIs(t, err, ErrEnvelopeNil)
}

func TestDecodeEnvelope_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "{{{"},
		{"empty object", "{}"},
		{"missing method", `{"url":"https://x/webhook/a"}`},
		{"missing url", `{"method":"POST"}`},
		{"wrong type", `{"url":1,"method":"POST"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(tt.body))
			assert.ErrorIs(t, err, ErrInvalidEnvelope)
		})
	}
}

func TestNew(t *testing.T) {
	cfg := &config.Config{Queue: config.QueueConfig{Backend: config.BackendMemory, MaxRetries: 3}}
	q, err := New(cfg, nil, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &MemoryQueue{}, q)

	cfg.Queue.Backend = config.BackendRedis
	_, err = New(cfg, nil, discardLogger())
	assert.Error(t, err)

	cfg.Queue.Backend = config.BackendSQS
	cfg.Queue.SQS = config.SQSConfig{QueueURL: "https://sqs.eu-west-1.amazonaws.com/123/errors", Region: "eu-west-1"}
	q, err = New(cfg, nil, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &SQSQueue{}, q)

	cfg.Queue.Backend = "kafka"
	_, err = New(cfg, nil, discardLogger())
	assert.Error(t, err)
}
