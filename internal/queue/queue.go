// Package queue implements the durable retry queue: a producer that stores
// failed requests and a batch consumer that re-drives them.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/redis/go-redis/v9"

	"webhook-proxy-go/internal/config"
	"webhook-proxy-go/internal/model"
)

var (
	// ErrQueueNil is returned when a nil queue is provided.
	ErrQueueNil = errors.New("queue cannot be nil")

	// ErrEnvelopeNil is returned when attempting to enqueue a nil envelope.
	ErrEnvelopeNil = errors.New("envelope cannot be nil")

	// ErrInvalidEnvelope is returned when a message body is not a usable envelope.
	ErrInvalidEnvelope = errors.New("invalid retry envelope")

	// ErrNotClaimed is returned by Ack and RetryAll for messages this consumer
	// no longer holds, typically because another consumer reclaimed them.
	ErrNotClaimed = errors.New("message no longer claimed by this consumer")
)

// Message is one delivery of a queued payload.
type Message struct {
	ID       string
	Body     []byte
	Attempts int // deliveries before this one

	handle string // backend receipt: the raw list element or the SQS receipt handle
}

// Queue is an at-least-once message queue. Received messages stay invisible
// to other consumers until they are acknowledged or handed back.
type Queue interface {
	Send(ctx context.Context, body []byte) error
	Receive(ctx context.Context, max int) ([]Message, error)
	// Ack removes messages for good.
	Ack(ctx context.Context, msgs []Message) error
	// RetryAll hands every message back for redelivery.
	RetryAll(ctx context.Context, msgs []Message) error
}

// Recoverer is implemented by queues that can return messages left in
// flight by a consumer that died before acknowledging them. Recover is safe
// to call while other consumers are running.
type Recoverer interface {
	Recover(ctx context.Context) (int, error)
}

// New returns the queue selected by queue.backend.
// rdb may be nil unless the redis backend is selected.
func New(cfg *config.Config, rdb redis.UniversalClient, logger *slog.Logger) (Queue, error) {
	switch cfg.Queue.Backend {
	case config.BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("queue: redis backend selected but no redis client configured")
		}
		lease := time.Duration(cfg.Queue.LeaseSeconds) * time.Second
		return NewRedisQueue(rdb, cfg.Queue.Name, cfg.Queue.MaxRetries, lease, logger), nil
	case config.BackendSQS:
		awsCfg := aws.NewConfig()
		if cfg.Queue.SQS.Region != "" {
			awsCfg = awsCfg.WithRegion(cfg.Queue.SQS.Region)
		}
		sess, err := session.NewSession(awsCfg)
		if err != nil {
			return nil, fmt.Errorf("queue: new aws session: %w", err)
		}
		return NewSQSQueue(sqs.New(sess), cfg.Queue.SQS), nil
	case config.BackendMemory, "":
		return NewMemoryQueue(cfg.Queue.MaxRetries), nil
	default:
		return nil, fmt.Errorf("queue: unknown backend %q", cfg.Queue.Backend)
	}
}

// EncodeEnvelope serializes env as the queue payload.
func EncodeEnvelope(env *model.RetryEnvelope) ([]byte, error) {
	if env == nil {
		return nil, ErrEnvelopeNil
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses a queue payload. Payloads that are not JSON or lack
// the url or method are rejected with ErrInvalidEnvelope.
func DecodeEnvelope(data []byte) (*model.RetryEnvelope, error) {
	var env model.RetryEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	if env.URL == "" || env.Method == "" {
		return nil, fmt.Errorf("%w: url and method are required", ErrInvalidEnvelope)
	}
	return &env, nil
}
