// Package cache provides the best-effort hot store: a typed Redis client
// fronted by a circuit breaker, plus the connectivity monitor that tracks
// liveness and drives recovery.
package cache

import (
	"context"
	"time"
)

// Client is the typed cache surface. Operations match the sync-operation
// kinds so the deferred sync queue can replay them verbatim. Every method
// returns store.ErrCacheUnavailable (wrapped) when the circuit is open or
// the transport fails.
type Client interface {
	Ping(ctx context.Context) error

	Set(ctx context.Context, key, value string) error
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Del(ctx context.Context, keys ...string) error

	HSet(ctx context.Context, key, field, value string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HIncrBy(ctx context.Context, key, field string, delta int64) error
	HIncrByFloat(ctx context.Context, key, field string, delta float64) error

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZIncrBy(ctx context.Context, key string, delta float64, member string) error

	LPush(ctx context.Context, key string, values ...string) error
	LTrim(ctx context.Context, key string, start, stop int64) error

	Expire(ctx context.Context, key string, ttl time.Duration) error

	Close() error
}

// ConnectionStatus is the monitor's view of cache liveness.
type ConnectionStatus struct {
	IsConnected bool      `json:"is_connected"`
	LastCheck   time.Time `json:"last_check"`
	LastError   string    `json:"last_error,omitempty"`
	LatencyMS   int64     `json:"latency_ms"`
}
