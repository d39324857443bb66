package queue

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process queue for single-instance deployments and
// tests. Messages are lost on restart.
type MemoryQueue struct {
	mu         sync.Mutex
	ready      []Message
	inflight   map[string]Message
	dead       []Message
	maxRetries int
}

// NewMemoryQueue creates an empty MemoryQueue. A message handed back more
// than maxRetries times is moved to the dead-letter list.
func NewMemoryQueue(maxRetries int) *MemoryQueue {
	return &MemoryQueue{
		inflight:   make(map[string]Message),
		maxRetries: maxRetries,
	}
}

func (q *MemoryQueue) Send(_ context.Context, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := uuid.NewString()
	q.ready = append(q.ready, Message{ID: id, Body: append([]byte(nil), body...), handle: id})
	return nil
}

func (q *MemoryQueue) Receive(_ context.Context, max int) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := min(max, len(q.ready))
	if n <= 0 {
		return nil, nil
	}
	msgs := make([]Message, n)
	copy(msgs, q.ready[:n])
	q.ready = q.ready[n:]
	for _, m := range msgs {
		q.inflight[m.handle] = m
	}
	return msgs, nil
}

func (q *MemoryQueue) Ack(_ context.Context, msgs []Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, m := range msgs {
		delete(q.inflight, m.handle)
	}
	return nil
}

func (q *MemoryQueue) RetryAll(_ context.Context, msgs []Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, m := range msgs {
		if _, ok := q.inflight[m.handle]; !ok {
			continue
		}
		delete(q.inflight, m.handle)
		m.Attempts++
		if m.Attempts > q.maxRetries {
			q.dead = append(q.dead, m)
			continue
		}
		q.ready = append(q.ready, m)
	}
	return nil
}

// Recover returns every in-flight message to the ready list.
func (q *MemoryQueue) Recover(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.inflight)
	for h, m := range q.inflight {
		q.ready = append(q.ready, m)
		delete(q.inflight, h)
	}
	return n, nil
}

// Stats returns the number of ready, in-flight and dead-lettered messages.
func (q *MemoryQueue) Stats() (ready, inflight, dead int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready), len(q.inflight), len(q.dead)
}
