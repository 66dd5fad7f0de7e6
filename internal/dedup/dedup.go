// Package dedup decorates a DocumentSink with a Redis cache of content
// digests so redelivered events whose document is already stored with the
// same content skip the round trip to the index store.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/koraykocakaya/opensearch-kafka-consumer/internal/bridge"
	apperrors "github.com/koraykocakaya/opensearch-kafka-consumer/pkg/errors"
	pkgredis "github.com/koraykocakaya/opensearch-kafka-consumer/pkg/redis"
	"github.com/koraykocakaya/opensearch-kafka-consumer/pkg/resilience"
)

const keyPrefix = "bridge:doc:"

// Cache is the subset of the Redis client the decorator needs.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Close() error
}

// Sink skips upserts whose payload digest matches the one recorded for the
// same destination and id. The cache is advisory: any cache error falls
// through to the wrapped sink, and repeated errors open a circuit breaker so
// an unhealthy cache stops adding latency to every event.
type Sink struct {
	next    bridge.DocumentSink
	cache   Cache
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(next bridge.DocumentSink, cache Cache, ttl time.Duration) *Sink {
	return &Sink{
		next:  next,
		cache: cache,
		ttl:   ttl,
		breaker: resilience.NewCircuitBreaker("dedup-cache", resilience.BreakerConfig{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
			IsFailure:        func(err error) bool { return !pkgredis.IsNilError(err) },
		}),
		logger: slog.Default().With("component", "dedup-cache"),
	}
}

func (s *Sink) Exists(ctx context.Context, destination string) (bool, error) {
	return s.next.Exists(ctx, destination)
}

func (s *Sink) Create(ctx context.Context, destination string) error {
	return s.next.Create(ctx, destination)
}

// Upsert returns ErrDuplicate when the cached digest matches payload.
func (s *Sink) Upsert(ctx context.Context, destination, id string, payload []byte) error {
	key := buildKey(destination, id)
	digest := digestOf(payload)

	var cached string
	err := s.breaker.Execute(func() error {
		var err error
		cached, err = s.cache.Get(ctx, key)
		return err
	})
	switch {
	case err == nil && cached == digest:
		s.hits.Add(1)
		return fmt.Errorf("%s/%s: %w", destination, id, apperrors.ErrDuplicate)
	case errors.Is(err, resilience.ErrCircuitOpen):
		s.logger.Debug("dedup cache bypassed", "key", key)
	case err != nil && !pkgredis.IsNilError(err):
		s.logger.Warn("dedup lookup failed, upserting", "key", key, "error", err)
	}
	s.misses.Add(1)

	if err := s.next.Upsert(ctx, destination, id, payload); err != nil {
		return err
	}
	err = s.breaker.Execute(func() error {
		return s.cache.Set(ctx, key, digest, s.ttl)
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		s.logger.Warn("dedup record failed", "key", key, "error", err)
	}
	return nil
}

// Close closes the wrapped sink and the cache.
func (s *Sink) Close() error {
	sinkErr := s.next.Close()
	if err := s.cache.Close(); err != nil && sinkErr == nil {
		return fmt.Errorf("closing dedup cache: %w", err)
	}
	return sinkErr
}

func (s *Sink) Stats() (hits, misses int64) {
	return s.hits.Load(), s.misses.Load()
}

func buildKey(destination, id string) string {
	return keyPrefix + destination + ":" + id
}

func digestOf(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
