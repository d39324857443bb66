package queue

import (
	"context"
	"fmt"
	"log/slog"

	"webhook-proxy-go/internal/model"
)

// Producer puts failed requests on the retry queue.
type Producer struct {
	queue  Queue
	logger *slog.Logger
}

// NewProducer creates a Producer over q.
func NewProducer(q Queue, logger *slog.Logger) (*Producer, error) {
	if q == nil {
		return nil, ErrQueueNil
	}
	return &Producer{
		queue:  q,
		logger: logger.With("component", "retry_producer"),
	}, nil
}

// Enqueue serializes env and sends it.
func (p *Producer) Enqueue(ctx context.Context, env *model.RetryEnvelope) error {
	data, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	if err := p.queue.Send(ctx, data); err != nil {
		return fmt.Errorf("send retry message: %w", err)
	}
	p.logger.Debug("retry message enqueued", "method", env.Method, "url", env.URL)
	return nil
}
