// Package dedup implements the TTL-bounded duplicate suppression store used
// for write requests.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"webhook-proxy-go/internal/config"
)

// ErrBackendUnavailable wraps every failure of the backing key-value service.
// Callers treat it as "not a duplicate".
var ErrBackendUnavailable = errors.New("dedup backend unavailable")

// Backend is the key-value service records are kept in.
type Backend interface {
	Exists(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Store owns dedup records. Every operation short-circuits without I/O when
// deduplication is disabled.
type Store struct {
	backend Backend
	enabled bool
	ttl     time.Duration
	prefix  string
	logger  *slog.Logger
}

// NewStore creates a Store over backend using the dedup section of cfg.
func NewStore(cfg *config.Config, backend Backend, logger *slog.Logger) *Store {
	return &Store{
		backend: backend,
		enabled: cfg.Dedup.Enabled,
		ttl:     time.Duration(cfg.Dedup.TTLSeconds) * time.Second,
		prefix:  cfg.Dedup.KeyPrefix,
		logger:  logger.With("component", "dedup_store"),
	}
}

// NewBackend returns the backend selected by dedup.backend.
// rdb may be nil unless the redis backend is selected.
func NewBackend(cfg *config.Config, rdb redis.UniversalClient) (Backend, error) {
	switch cfg.Dedup.Backend {
	case config.BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("dedup: redis backend selected but no redis client configured")
		}
		return NewRedisBackend(rdb), nil
	case config.BackendMemory, "":
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("dedup: unknown backend %q", cfg.Dedup.Backend)
	}
}

// Enabled reports whether deduplication is switched on.
func (s *Store) Enabled() bool {
	return s.enabled
}

// TTL returns the lifetime of saved records.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Check reports whether a live record exists for fingerprint.
func (s *Store) Check(ctx context.Context, fingerprint string) (bool, error) {
	if !s.enabled {
		return false, nil
	}
	if s.backend == nil {
		return false, ErrBackendUnavailable
	}

	found, err := s.backend.Exists(ctx, s.key(fingerprint))
	if err != nil {
		return false, fmt.Errorf("%w: check %s: %w", ErrBackendUnavailable, fingerprint, err)
	}

	s.logger.Debug("dedup lookup", "fingerprint", fingerprint, "found", found)
	return found, nil
}

// Save creates or refreshes the record for fingerprint with the configured TTL.
func (s *Store) Save(ctx context.Context, fingerprint string) error {
	if !s.enabled {
		return nil
	}
	if s.backend == nil {
		return ErrBackendUnavailable
	}

	if err := s.backend.Set(ctx, s.key(fingerprint), s.ttl); err != nil {
		return fmt.Errorf("%w: save %s: %w", ErrBackendUnavailable, fingerprint, err)
	}
	return nil
}

// Delete removes the record for fingerprint, reopening the window for retries.
func (s *Store) Delete(ctx context.Context, fingerprint string) error {
	if !s.enabled {
		return nil
	}
	if s.backend == nil {
		return ErrBackendUnavailable
	}

	if err := s.backend.Delete(ctx, s.key(fingerprint)); err != nil {
		return fmt.Errorf("%w: delete %s: %w", ErrBackendUnavailable, fingerprint, err)
	}
	return nil
}

func (s *Store) key(fingerprint string) string {
	return s.prefix + fingerprint
}
