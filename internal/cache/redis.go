package cache

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/agentscope/internal/store"
)

// RedisConfig tunes the Redis client.
type RedisConfig struct {
	URL            string
	CommandTimeout time.Duration // per-command deadline
	ConnectTimeout time.Duration
	RetryAttempts  int           // per-call attempts, including the first
	RetryBase      time.Duration // exponential backoff base
	RetryCap       time.Duration
	Breaker        BreakerConfig
}

// DefaultRedisConfig returns the contract defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		URL:            "redis://localhost:6379/0",
		CommandTimeout: 3 * time.Second,
		ConnectTimeout: 5 * time.Second,
		RetryAttempts:  3,
		RetryBase:      time.Second,
		RetryCap:       8 * time.Second,
		Breaker:        DefaultBreakerConfig(),
	}
}

// Redis implements Client over a single go-redis connection, guarded by the
// circuit breaker with bounded per-call retries.
type Redis struct {
	rdb     *redis.Client
	breaker *Breaker
	cfg     RedisConfig
}

// NewRedis builds the client from a redis:// URL. The connection itself is
// established lazily; failures surface through the breaker.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	def := DefaultRedisConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = def.RetryAttempts
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = def.RetryCap
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse cache url: %w", err)
	}
	opts.DialTimeout = cfg.ConnectTimeout
	opts.ReadTimeout = cfg.CommandTimeout
	opts.WriteTimeout = cfg.CommandTimeout
	// Commands are sent sequentially over one connection; go-redis handles
	// reconnects on transport errors.
	opts.PoolSize = 1
	opts.MaxRetries = -1 // retries are ours, with the breaker in the loop

	return &Redis{
		rdb:     redis.NewClient(opts),
		breaker: NewBreaker(cfg.Breaker),
		cfg:     cfg,
	}, nil
}

// Breaker exposes the circuit breaker for status endpoints and the monitor.
func (r *Redis) Breaker() *Breaker { return r.breaker }

// do runs one cache command through the breaker with bounded retries.
func (r *Redis) do(ctx context.Context, fn func(context.Context) error) error {
	if !r.breaker.Allow() {
		return fmt.Errorf("circuit open: %w", store.ErrCacheUnavailable)
	}

	var err error
	backoff := r.cfg.RetryBase
	for attempt := 0; attempt < r.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			// Exponential backoff with up to 10% jitter.
			sleep := backoff + time.Duration(rand.Float64()*0.1*float64(backoff))
			select {
			case <-ctx.Done():
				r.breaker.Failure()
				return fmt.Errorf("%w: %v", store.ErrCacheUnavailable, ctx.Err())
			case <-time.After(sleep):
			}
			backoff *= 2
			if backoff > r.cfg.RetryCap {
				backoff = r.cfg.RetryCap
			}
		}

		cmdCtx, cancel := context.WithTimeout(ctx, r.cfg.CommandTimeout)
		err = fn(cmdCtx)
		cancel()
		if err == nil {
			r.breaker.Success()
			return nil
		}
	}
	r.breaker.Failure()
	return fmt.Errorf("%w: %v", store.ErrCacheUnavailable, err)
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.rdb.Ping(ctx).Err()
	})
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.rdb.Set(ctx, key, value, 0).Err()
	})
}

func (r *Redis) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.rdb.Set(ctx, key, value, ttl).Err()
	})
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := r.do(ctx, func(ctx context.Context) error {
		v, err := r.rdb.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		value, found = v, true
		return nil
	})
	return value, found, err
}

func (r *Redis) Del(ctx context.Context, keys ...string) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.rdb.Del(ctx, keys...).Err()
	})
}

func (r *Redis) HSet(ctx context.Context, key, field, value string) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.rdb.HSet(ctx, key, field, value).Err()
	})
}

func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	var out map[string]string
	err := r.do(ctx, func(ctx context.Context) error {
		m, err := r.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

func (r *Redis) HIncrBy(ctx context.Context, key, field string, delta int64) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.rdb.HIncrBy(ctx, key, field, delta).Err()
	})
}

func (r *Redis) HIncrByFloat(ctx context.Context, key, field string, delta float64) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.rdb.HIncrByFloat(ctx, key, field, delta).Err()
	})
}

func (r *Redis) SAdd(ctx context.Context, key string, members ...string) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.rdb.SAdd(ctx, key, toAny(members)...).Err()
	})
}

func (r *Redis) SRem(ctx context.Context, key string, members ...string) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.rdb.SRem(ctx, key, toAny(members)...).Err()
	})
}

func (r *Redis) SMembers(ctx context.Context, key string) ([]string, error) {
	var out []string
	err := r.do(ctx, func(ctx context.Context) error {
		m, err := r.rdb.SMembers(ctx, key).Result()
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

func (r *Redis) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
	})
}

func (r *Redis) ZIncrBy(ctx context.Context, key string, delta float64, member string) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.rdb.ZIncrBy(ctx, key, delta, member).Err()
	})
}

func (r *Redis) LPush(ctx context.Context, key string, values ...string) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.rdb.LPush(ctx, key, toAny(values)...).Err()
	})
}

func (r *Redis) LTrim(ctx context.Context, key string, start, stop int64) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.rdb.LTrim(ctx, key, start, stop).Err()
	})
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.rdb.Expire(ctx, key, ttl).Err()
	})
}

func (r *Redis) Close() error { return r.rdb.Close() }

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
