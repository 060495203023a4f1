// Package syncqueue drains deferred cache mutations back into the cache once
// connectivity returns.
package syncqueue

import (
	"context"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/agentscope/internal/cache"
	"github.com/nextlevelbuilder/agentscope/internal/store"
)

// Config tunes the drain worker.
type Config struct {
	Interval    time.Duration
	BatchSize   int
	MaxRetries  int
	SettleDelay time.Duration
}

// DefaultConfig matches the service defaults: drain every 30 seconds in
// batches of 100, give each operation 3 attempts, and wait a second after a
// reconnect before replaying.
func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		BatchSize:   100,
		MaxRetries:  3,
		SettleDelay: time.Second,
	}
}

// Worker replays queued operations against the cache. Operations for the
// same key replay in enqueue order, so the last write for a key wins.
type Worker struct {
	queue   store.SyncQueueStore
	cache   cache.Client
	monitor *cache.Monitor
	cfg     Config

	kick chan struct{}
}

// NewWorker wires a drain worker; cfg fields at zero take their defaults.
func NewWorker(queue store.SyncQueueStore, cacheClient cache.Client, monitor *cache.Monitor, cfg Config) *Worker {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = def.SettleDelay
	}
	return &Worker{
		queue:   queue,
		cache:   cacheClient,
		monitor: monitor,
		cfg:     cfg,
		kick:    make(chan struct{}, 1),
	}
}

// Run drains on the configured interval while the cache is connected, and
// immediately (after a settle delay) when connectivity returns. Blocks until
// ctx is done.
func (w *Worker) Run(ctx context.Context) {
	unsubscribe := w.monitor.Subscribe(func(status cache.ConnectionStatus) {
		if status.IsConnected {
			select {
			case w.kick <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.monitor.Status().IsConnected {
				w.DrainAll(ctx)
			}
		case <-w.kick:
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.SettleDelay):
			}
			w.DrainAll(ctx)
		}
	}
}

// Kick requests an immediate drain on the next loop iteration.
func (w *Worker) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// DrainAll replays pending batches until the queue is empty or a batch
// aborts. Returns the number of operations synced.
func (w *Worker) DrainAll(ctx context.Context) int {
	total := 0
	for {
		n, more, err := w.DrainBatch(ctx)
		total += n
		if err != nil || !more {
			break
		}
	}
	return total
}

// DrainBatch replays one batch of pending operations in created_at order.
// Once an operation for a key fails, later operations for that key stay
// pending so the next cycle replays them in enqueue order. If more than half
// of a batch fails the rest is abandoned until the next cycle, on the
// assumption that the cache went away again.
func (w *Worker) DrainBatch(ctx context.Context) (synced int, more bool, err error) {
	batch, err := w.queue.PendingBatch(ctx, w.cfg.BatchSize)
	if err != nil {
		return 0, false, err
	}
	if len(batch) == 0 {
		return 0, false, nil
	}

	failed := 0
	var lastErr error
	failedKeys := map[string]bool{}
	for i := range batch {
		op := &batch[i]
		if !failedKeys[op.Key] {
			err := cache.Apply(ctx, w.cache, op)
			if err == nil {
				if markErr := w.queue.MarkSynced(ctx, op.ID); markErr != nil {
					slog.Error("mark synced", "id", op.ID, "error", markErr)
					continue
				}
				synced++
				continue
			}
			// Later operations for this key stay pending, untouched, so the
			// next cycle replays the key from this point in enqueue order.
			failedKeys[op.Key] = true
			lastErr = err
			slog.Warn("sync replay failed", "id", op.ID, "op", op.Kind, "key", op.Key, "error", err)
			if markErr := w.queue.MarkAttempt(ctx, op.ID, w.cfg.MaxRetries); markErr != nil {
				slog.Error("mark sync attempt", "id", op.ID, "error", markErr)
			}
		}
		failed++
		if failed*2 > len(batch) {
			w.monitor.MarkDisconnected(lastErr)
			slog.Warn("sync batch aborted", "failed", failed, "batch", len(batch))
			return synced, false, nil
		}
	}

	if synced > 0 {
		slog.Info("sync queue drained", "synced", synced, "failed", failed)
	}
	return synced, len(batch) == w.cfg.BatchSize, nil
}
