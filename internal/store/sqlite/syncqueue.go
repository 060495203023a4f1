package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/agentscope/internal/store"
)

// Enqueue appends a pending cache mutation to the durable sync log.
func (s *Store) Enqueue(ctx context.Context, op *store.SyncOperation) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if op.CreatedAt == 0 {
		op.CreatedAt = time.Now().UnixMilli()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_queue (operation, key, value, field, score, ttl_seconds, created_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		op.Kind, op.Key, nilStr(op.Value), nilStr(op.Field), zeroNil(op.Score),
		nilInt(int64(op.TTLSeconds)), op.CreatedAt, store.SyncPending)
	if err != nil {
		return fmt.Errorf("enqueue sync op: %w", err)
	}
	op.ID, _ = res.LastInsertId()
	op.Status = store.SyncPending
	return nil
}

// PendingBatch returns up to limit pending operations in created_at order,
// preserving per-key FIFO.
func (s *Store) PendingBatch(ctx context.Context, limit int) ([]store.SyncOperation, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, operation, key, value, field, score, ttl_seconds, created_at, status, attempts, last_attempt
		 FROM sync_queue WHERE status = ? ORDER BY created_at, id LIMIT ?`,
		store.SyncPending, limit)
	if err != nil {
		return nil, fmt.Errorf("pending batch: %w", err)
	}
	defer rows.Close()

	var ops []store.SyncOperation
	for rows.Next() {
		var (
			op               store.SyncOperation
			value, field     *string
			score            sql.NullFloat64
			ttl, lastAttempt *int64
		)
		if err := rows.Scan(&op.ID, &op.Kind, &op.Key, &value, &field, &score, &ttl,
			&op.CreatedAt, &op.Status, &op.Attempts, &lastAttempt); err != nil {
			return nil, err
		}
		op.Value = derefStr(value)
		op.Field = derefStr(field)
		op.Score = score.Float64
		op.TTLSeconds = int(derefInt(ttl))
		op.LastAttempt = derefInt(lastAttempt)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// MarkSynced marks one operation replayed.
func (s *Store) MarkSynced(ctx context.Context, id int64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ?, last_attempt = ? WHERE id = ?`,
		store.SyncSynced, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

// MarkAttempt bumps the attempt counter; the row flips to failed once
// attempts reach maxRetries.
func (s *Store) MarkAttempt(ctx context.Context, id int64, maxRetries int) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_queue SET
			attempts = attempts + 1,
			last_attempt = ?,
			status = CASE WHEN attempts + 1 >= ? THEN ? ELSE ? END
		 WHERE id = ?`,
		time.Now().UnixMilli(), maxRetries, store.SyncFailed, store.SyncPending, id)
	if err != nil {
		return fmt.Errorf("mark attempt: %w", err)
	}
	return nil
}

// Stats counts queue rows by status.
func (s *Store) Stats(ctx context.Context) (*store.SyncQueueStats, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("sync queue stats: %w", err)
	}
	defer rows.Close()

	stats := &store.SyncQueueStats{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		switch status {
		case store.SyncPending:
			stats.Pending = n
		case store.SyncSynced:
			stats.Synced = n
		case store.SyncFailed:
			stats.Failed = n
		}
	}
	return stats, rows.Err()
}

func zeroNil(f float64) any {
	if f == 0 {
		return nil
	}
	return f
}
