package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend keeps records in process memory. Records are not shared
// between replicas, so it only suits single-instance deployments and tests.
type MemoryBackend struct {
	mu    sync.Mutex
	items map[string]time.Time // key -> expiresAt
	now   func() time.Time

	lastSweep     time.Time
	sweepInterval time.Duration
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		items:         make(map[string]time.Time),
		now:           time.Now,
		lastSweep:     time.Now(),
		sweepInterval: time.Minute,
	}
}

func (b *MemoryBackend) Exists(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	exp, ok := b.items[key]
	if !ok {
		return false, nil
	}
	if !b.now().Before(exp) {
		delete(b.items, key)
		return false, nil
	}
	return true, nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.sweep(now)
	b.items[key] = now.Add(ttl)
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.items, key)
	return nil
}

// Len returns the number of stored records, expired or not.
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// sweep drops expired records at most once per sweepInterval. Caller holds mu.
func (b *MemoryBackend) sweep(now time.Time) {
	if now.Sub(b.lastSweep) < b.sweepInterval {
		return
	}
	for k, exp := range b.items {
		if !now.Before(exp) {
			delete(b.items, k)
		}
	}
	b.lastSweep = now
}
