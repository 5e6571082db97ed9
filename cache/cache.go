/*
Package cache provides a read-through cache for day summary responses.

PURPOSE:
  Dashboard reads hit the same day documents over and over. The cache holds
  rendered JSON payloads under short TTLs and is invalidated on any write
  that touches the day. Aggregates in the store remain the source of truth;
  a cold or unavailable cache only costs latency, never correctness.

IMPLEMENTATIONS:
  Redis: production cache backed by go-redis
  Noop:  used when no Redis address is configured and in tests
*/
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrMiss is returned when a key is absent. Callers fall through to the
// store and repopulate.
var ErrMiss = errors.New("cache: miss")

// SummaryCache caches rendered response payloads keyed by endpoint and day.
type SummaryCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	// InvalidateDay drops every cached payload for one business day.
	InvalidateDay(ctx context.Context, day string) error
}

// DayKeys returns the cache keys holding payloads for a business day.
// Kept in one place so Set and InvalidateDay cannot drift.
func DayKeys(day string) []string {
	return []string{
		"summary:daily:" + day,
		"summary:staff:" + day,
		"summary:products:" + day,
	}
}

// =============================================================================
// REDIS
// =============================================================================

// Redis implements SummaryCache on a Redis client. Errors are logged and
// swallowed: cache trouble must never fail a read path.
type Redis struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedis(client *redis.Client, log *zap.Logger) *Redis {
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{client: client, log: log}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	payload, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		r.log.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return nil, ErrMiss
	}
	return payload, nil
}

func (r *Redis) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		r.log.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return nil
}

func (r *Redis) InvalidateDay(ctx context.Context, day string) error {
	if err := r.client.Del(ctx, DayKeys(day)...).Err(); err != nil {
		r.log.Warn("cache invalidate failed", zap.String("day", day), zap.Error(err))
	}
	return nil
}

// =============================================================================
// NOOP
// =============================================================================

// Noop always misses. Used when Redis is not configured.
type Noop struct{}

func (Noop) Get(ctx context.Context, key string) ([]byte, error) { return nil, ErrMiss }

func (Noop) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	return nil
}

func (Noop) InvalidateDay(ctx context.Context, day string) error { return nil }
