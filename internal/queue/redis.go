package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultLease = 15 * time.Minute

// requeueScript moves one claimed element to another list, but only if the
// caller still holds it.
var requeueScript = redis.NewScript(`
if redis.call('LREM', KEYS[1], 1, ARGV[1]) == 0 then
	return 0
end
redis.call('LPUSH', KEYS[2], ARGV[2])
return 1
`)

// record is the list element stored in Redis.
type record struct {
	ID       string `json:"id"`
	Attempts int    `json:"attempts"`
	Body     []byte `json:"body"`
}

// RedisQueue is a reliable queue on Redis lists. Every consumer claims
// elements into its own processing list, and they only leave it on Ack or
// RetryAll. Consumers heartbeat into a registry on each Receive; Recover
// returns the processing lists of consumers silent for longer than the lease.
//
// Keys: <name> (ready, LPUSH in, taken from the right),
// <name>:processing:<consumer>, <name>:consumers (sorted set of processing
// keys scored by last heartbeat in unix ms) and <name>:dead.
type RedisQueue struct {
	client     redis.UniversalClient
	ready      string
	processing string
	registry   string
	dead       string
	maxRetries int
	lease      time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// NewRedisQueue creates a RedisQueue named name with a fresh consumer
// identity. A non-positive lease uses 15 minutes.
func NewRedisQueue(client redis.UniversalClient, name string, maxRetries int, lease time.Duration, logger *slog.Logger) *RedisQueue {
	if lease <= 0 {
		lease = defaultLease
	}
	processing := name + ":processing:" + uuid.NewString()
	return &RedisQueue{
		client:     client,
		ready:      name,
		processing: processing,
		registry:   name + ":consumers",
		dead:       name + ":dead",
		maxRetries: maxRetries,
		lease:      lease,
		now:        time.Now,
		logger:     logger.With("component", "redis_queue", "processing", processing),
	}
}

func (q *RedisQueue) Send(ctx context.Context, body []byte) error {
	raw, err := json.Marshal(record{ID: uuid.NewString(), Body: body})
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return q.client.LPush(ctx, q.ready, raw).Err()
}

func (q *RedisQueue) Receive(ctx context.Context, max int) ([]Message, error) {
	if err := q.heartbeat(ctx); err != nil {
		return nil, fmt.Errorf("receive: heartbeat: %w", err)
	}

	var msgs []Message
	for range max {
		raw, err := q.client.LMove(ctx, q.ready, q.processing, "RIGHT", "LEFT").Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			if len(msgs) > 0 {
				// Keep what was already claimed; the rest stays on the ready list.
				q.logger.Warn("partial receive", "err", err, "received", len(msgs))
				return msgs, nil
			}
			return nil, fmt.Errorf("receive: %w", err)
		}
		msgs = append(msgs, decodeRecord(raw))
	}
	return msgs, nil
}

func (q *RedisQueue) Ack(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}

	cmds := make([]*redis.IntCmd, 0, len(msgs))
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range msgs {
			cmds = append(cmds, pipe.LRem(ctx, q.processing, 1, m.handle))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack: %w", err)
	}

	lost := 0
	for _, cmd := range cmds {
		if cmd.Val() == 0 {
			lost++
		}
	}
	if lost > 0 {
		return fmt.Errorf("ack: %d of %d messages: %w", lost, len(msgs), ErrNotClaimed)
	}
	return nil
}

func (q *RedisQueue) RetryAll(ctx context.Context, msgs []Message) error {
	lost := 0
	for _, m := range msgs {
		target, payload := q.ready, m.handle
		switch {
		case m.ID == "":
			// Unparseable element: it can never succeed.
			target = q.dead
		default:
			raw, err := json.Marshal(record{ID: m.ID, Attempts: m.Attempts + 1, Body: m.Body})
			if err != nil {
				return fmt.Errorf("marshal record: %w", err)
			}
			payload = string(raw)
			if m.Attempts+1 > q.maxRetries {
				q.logger.Warn("retry message dead-lettered", "id", m.ID, "attempts", m.Attempts+1)
				target = q.dead
			}
		}

		moved, err := requeueScript.Run(ctx, q.client, []string{q.processing, target}, m.handle, payload).Int()
		if err != nil {
			return fmt.Errorf("retry all: %w", err)
		}
		if moved == 0 {
			lost++
		}
	}
	if lost > 0 {
		return fmt.Errorf("retry all: %d of %d messages: %w", lost, len(msgs), ErrNotClaimed)
	}
	return nil
}

// Recover returns the processing lists of consumers whose last heartbeat is
// older than the lease to the ready list, oldest claim first.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	cutoff := q.now().Add(-q.lease).UnixMilli()
	stale, err := q.client.ZRangeByScore(ctx, q.registry, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("recover: list consumers: %w", err)
	}

	n := 0
	for _, key := range stale {
		if key == q.processing {
			continue
		}
		moved, err := q.drain(ctx, key)
		n += moved
		if err != nil {
			return n, err
		}
		if err := q.client.ZRem(ctx, q.registry, key).Err(); err != nil {
			return n, fmt.Errorf("recover: unregister %s: %w", key, err)
		}
		q.logger.Info("reclaimed stale consumer", "consumer", key, "messages", moved)
	}
	return n, nil
}

// drain moves every element of key back to the ready list.
func (q *RedisQueue) drain(ctx context.Context, key string) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, key, q.ready, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("recover %s: %w", key, err)
		}
		n++
	}
}

func (q *RedisQueue) heartbeat(ctx context.Context) error {
	return q.client.ZAdd(ctx, q.registry, redis.Z{
		Score:  float64(q.now().UnixMilli()),
		Member: q.processing,
	}).Err()
}

func decodeRecord(raw string) Message {
	var r record
	if err := json.Unmarshal([]byte(raw), &r); err != nil || r.ID == "" {
		return Message{Body: []byte(raw), handle: raw}
	}
	return Message{ID: r.ID, Body: r.Body, Attempts: r.Attempts, handle: raw}
}
