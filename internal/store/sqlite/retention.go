package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Sweep deletes aged rows and handoff files. Aggregate buckets are keyed by
// formatted time strings, so the cutoff is compared against the same format.
func (s *Store) Sweep(ctx context.Context, cutoff int64) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cutoffDay := time.UnixMilli(cutoff).UTC().Format("2006-01-02")
	cutoffHour := time.UnixMilli(cutoff).UTC().Format("2006-01-02T15")
	syncedCutoff := time.Now().Add(-24 * time.Hour).UnixMilli()

	for _, q := range []struct {
		name string
		sql  string
		args []any
	}{
		{"events", `DELETE FROM events WHERE timestamp < ?`, []any{cutoff}},
		{"metric_records", `DELETE FROM metric_records WHERE timestamp < ?`, []any{cutoff}},
		{"timeline_points", `DELETE FROM timeline_points WHERE timestamp < ?`, []any{cutoff}},
		{"hourly_buckets", `DELETE FROM hourly_buckets WHERE hour < ?`, []any{cutoffHour}},
		{"daily_buckets", `DELETE FROM daily_buckets WHERE day < ?`, []any{cutoffDay}},
		{"tool_usage", `DELETE FROM tool_usage WHERE day < ?`, []any{cutoffDay}},
		{"tool_usage_agents", `DELETE FROM tool_usage_agents WHERE day < ?`, []any{cutoffDay}},
		{"sync_queue", `DELETE FROM sync_queue WHERE status = 'synced' AND created_at < ?`, []any{syncedCutoff}},
	} {
		res, err := s.db.ExecContext(ctx, q.sql, q.args...)
		if err != nil {
			return fmt.Errorf("sweep %s: %w", q.name, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			slog.Debug("retention sweep", "table", q.name, "deleted", n)
		}
	}

	return s.sweepHandoffs(cutoff)
}

// sweepHandoffs removes handoff content files older than cutoff, keeping
// every latest_ pointer.
func (s *Store) sweepHandoffs(cutoff int64) error {
	dir := filepath.Join(s.dir, "handoffs")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("sweep handoffs: %w", err)
	}
	cutoffTime := time.UnixMilli(cutoff)
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), "latest_") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoffTime) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
				slog.Warn("retention sweep: remove handoff", "file", entry.Name(), "error", err)
			}
		}
	}
	return nil
}
