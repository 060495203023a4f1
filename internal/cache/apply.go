package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nextlevelbuilder/agentscope/internal/store"
)

// Apply replays one sync operation against the cache using its kind.
// The deferred sync queue and the write-through path share this mapping.
func Apply(ctx context.Context, c Client, op *store.SyncOperation) error {
	ttl := time.Duration(op.TTLSeconds) * time.Second
	switch op.Kind {
	case store.OpSet:
		return c.Set(ctx, op.Key, op.Value)
	case store.OpSetEx:
		return c.SetEx(ctx, op.Key, op.Value, ttl)
	case store.OpDel:
		return c.Del(ctx, op.Key)
	case store.OpHSet:
		return c.HSet(ctx, op.Key, op.Field, op.Value)
	case store.OpHIncrBy:
		n, err := strconv.ParseInt(op.Value, 10, 64)
		if err != nil {
			return fmt.Errorf("hincrby value %q: %w", op.Value, err)
		}
		return c.HIncrBy(ctx, op.Key, op.Field, n)
	case store.OpHIncrByFloat:
		f, err := strconv.ParseFloat(op.Value, 64)
		if err != nil {
			return fmt.Errorf("hincrbyfloat value %q: %w", op.Value, err)
		}
		return c.HIncrByFloat(ctx, op.Key, op.Field, f)
	case store.OpSAdd:
		return c.SAdd(ctx, op.Key, op.Value)
	case store.OpSRem:
		return c.SRem(ctx, op.Key, op.Value)
	case store.OpZAdd:
		return c.ZAdd(ctx, op.Key, op.Score, op.Value)
	case store.OpZIncrBy:
		return c.ZIncrBy(ctx, op.Key, op.Score, op.Value)
	case store.OpExpire:
		return c.Expire(ctx, op.Key, ttl)
	case store.OpLPush:
		return c.LPush(ctx, op.Key, op.Value)
	case store.OpLTrim:
		stop := int64(-1)
		if op.Value != "" {
			if v, err := strconv.ParseInt(op.Value, 10, 64); err == nil {
				stop = v
			}
		}
		return c.LTrim(ctx, op.Key, int64(op.Score), stop)
	default:
		return fmt.Errorf("unknown sync operation kind %q", op.Kind)
	}
}
