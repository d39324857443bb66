package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"webhook-proxy-go/internal/config"
	"webhook-proxy-go/internal/metrics"
	"webhook-proxy-go/internal/model"
)

const recoverInterval = time.Minute

// Redeliverer re-drives one queued request. A non-nil error means the
// message must be delivered again.
type Redeliverer interface {
	Redeliver(ctx context.Context, env *model.RetryEnvelope) error
}

// Consumer drains the retry queue in batches. Messages of a batch are
// processed in order; if any of them fails the whole batch is handed back
// with RetryAll, otherwise the whole batch is acknowledged.
type Consumer struct {
	queue        Queue
	target       Redeliverer
	batchSize    int
	pollInterval time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewConsumer creates a Consumer. m may be nil.
func NewConsumer(q Queue, target Redeliverer, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*Consumer, error) {
	if q == nil {
		return nil, ErrQueueNil
	}
	if target == nil {
		return nil, fmt.Errorf("queue: consumer needs a redelivery target")
	}

	batch := cfg.Queue.BatchSize
	if batch <= 0 {
		batch = 10
	}
	interval := time.Duration(cfg.Queue.PollIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}

	return &Consumer{
		queue:        q,
		target:       target,
		batchSize:    batch,
		pollInterval: interval,
		metrics:      m,
		logger:       logger.With("component", "retry_consumer"),
	}, nil
}

// ProcessBatch handles one batch. It reports whether the batch was handed
// back for redelivery. Every message is attempted even after a failure.
func (c *Consumer) ProcessBatch(ctx context.Context, msgs []Message) (retried bool, err error) {
	if len(msgs) == 0 {
		return false, nil
	}

	failed := 0
	for _, msg := range msgs {
		env, err := DecodeEnvelope(msg.Body)
		if err == nil {
			err = c.target.Redeliver(ctx, env)
		}
		if err != nil {
			failed++
			c.metrics.IncRetryMessage("failed")
			c.logger.Warn("retry message failed",
				"err", err,
				"id", msg.ID,
				"attempts", msg.Attempts,
			)
			continue
		}
		c.metrics.IncRetryMessage("delivered")
	}

	if failed > 0 {
		c.metrics.IncRetryBatch("retried")
		c.logger.Warn("retrying whole batch", "size", len(msgs), "failed", failed)
		if err := c.queue.RetryAll(ctx, msgs); err != nil {
			return true, fmt.Errorf("retry batch: %w", err)
		}
		return true, nil
	}

	c.metrics.IncRetryBatch("acked")
	if err := c.queue.Ack(ctx, msgs); err != nil {
		return false, fmt.Errorf("ack batch: %w", err)
	}
	return false, nil
}

// Poll receives one batch and processes it.
func (c *Consumer) Poll(ctx context.Context) (received int, retried bool, err error) {
	msgs, err := c.queue.Receive(ctx, c.batchSize)
	if err != nil {
		return 0, false, err
	}
	retried, err = c.ProcessBatch(ctx, msgs)
	return len(msgs), retried, err
}

// Start launches the polling loop. Messages left in flight by dead consumers
// are returned to the queue first, and again every recoverInterval, when the
// backend supports it.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return fmt.Errorf("consumer already started")
	}

	c.recover(ctx)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx, c.done)

	c.logger.Info("retry consumer started",
		"batch_size", c.batchSize,
		"poll_interval", c.pollInterval,
	)
	return nil
}

// Stop cancels the loop and waits for the current batch to finish.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	if c.cancel == nil {
		c.mu.Unlock()
		return fmt.Errorf("consumer not started")
	}
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	cancel()
	<-done
	c.logger.Info("retry consumer stopped")
	return nil
}

func (c *Consumer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	lastRecover := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if time.Since(lastRecover) >= recoverInterval {
			c.recover(ctx)
			lastRecover = time.Now()
		}

		// Drain while full batches succeed; a retried batch waits for the next tick.
		for ctx.Err() == nil {
			n, retried, err := c.Poll(ctx)
			if err != nil {
				// Backends do not all wrap context.Canceled on shutdown.
				if ctx.Err() == nil {
					c.logger.Error("retry poll failed", "err", err)
				}
				break
			}
			if retried || n < c.batchSize {
				break
			}
		}
	}
}

func (c *Consumer) recover(ctx context.Context) {
	r, ok := c.queue.(Recoverer)
	if !ok {
		return
	}
	n, err := r.Recover(ctx)
	if err != nil {
		c.logger.Error("recovering in-flight messages", "err", err)
		return
	}
	if n > 0 {
		c.logger.Info("recovered in-flight messages", "count", n)
	}
}
