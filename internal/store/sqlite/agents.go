package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/agentscope/internal/store"
)

const agentColumns = `agent_id, agent_name, agent_type, status, start_time, end_time,
	duration_ms, session_id, task_description, tools_granted, input_tokens,
	output_tokens, total_tokens, estimated_cost, performance, source_app, progress`

// InsertExecution writes a new active execution plus its terminal-status row.
func (s *Store) InsertExecution(ctx context.Context, a *store.AgentExecution) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tools, _ := json.Marshal(a.ToolsGranted)
	if a.ToolsGranted == nil {
		tools = []byte("[]")
	}
	var perf any
	if len(a.Performance) > 0 {
		perf = string(a.Performance)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO agent_executions (agent_id, agent_name, agent_type, status, start_time,
			session_id, task_description, tools_granted, input_tokens, output_tokens,
			total_tokens, estimated_cost, performance, source_app, progress)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AgentID, a.AgentName, a.AgentType, store.AgentActive, a.StartTime,
		a.SessionID, nilStr(a.TaskDescription), string(tools), a.InputTokens, a.OutputTokens,
		a.TotalTokens, a.EstimatedCost, perf, nilStr(a.SourceApp), a.Progress)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO terminal_status (agent_id, status, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (agent_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		a.AgentID, store.AgentActive, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("terminal status: %w", err)
	}
	return tx.Commit()
}

// CompleteExecution terminalizes the run. Reports done=false when the
// execution is already terminal so callers do not double-count aggregates.
func (s *Store) CompleteExecution(ctx context.Context, agentID, status string, endTime, durationMS, tokens int64) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("complete execution: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE agent_executions
		 SET status = ?, end_time = ?, duration_ms = ?, progress = 100,
		     total_tokens = MAX(total_tokens, ?)
		 WHERE agent_id = ? AND status = ?`,
		status, endTime, durationMS, tokens, agentID, store.AgentActive)
	if err != nil {
		return false, fmt.Errorf("complete execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Unknown id or already terminal; distinguish for the caller.
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM agent_executions WHERE agent_id = ?`, agentID).Scan(&exists); err == sql.ErrNoRows {
			return false, store.ErrNotFound
		} else if err != nil {
			return false, err
		}
		return false, tx.Commit()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO terminal_status (agent_id, status, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (agent_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		agentID, status, time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("terminal status: %w", err)
	}
	return true, tx.Commit()
}

// GetExecution returns the execution with the given agent id.
func (s *Store) GetExecution(ctx context.Context, agentID string) (*store.AgentExecution, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agent_executions WHERE agent_id = ?`, agentID)
	a, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return a, err
}

// ActiveExecutions returns executions still in the active state, oldest first.
func (s *Store) ActiveExecutions(ctx context.Context) ([]store.AgentExecution, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agent_executions WHERE status = ? ORDER BY start_time`,
		store.AgentActive)
	if err != nil {
		return nil, fmt.Errorf("active executions: %w", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// ActiveCount returns the number of active executions.
func (s *Store) ActiveCount(ctx context.Context) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agent_executions WHERE status = ?`, store.AgentActive).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("active count: %w", err)
	}
	return n, nil
}

// RecentTerminal returns recently terminalized executions, newest first.
func (s *Store) RecentTerminal(ctx context.Context, limit int) ([]store.AgentExecution, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agent_executions
		 WHERE status != ? ORDER BY end_time DESC LIMIT ?`,
		store.AgentActive, limit)
	if err != nil {
		return nil, fmt.Errorf("recent terminal: %w", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

func scanExecution(row rowScanner) (*store.AgentExecution, error) {
	var (
		a                     store.AgentExecution
		endTime, duration     *int64
		task, perf, sourceApp *string
		tools                 string
	)
	err := row.Scan(&a.AgentID, &a.AgentName, &a.AgentType, &a.Status, &a.StartTime, &endTime,
		&duration, &a.SessionID, &task, &tools, &a.InputTokens,
		&a.OutputTokens, &a.TotalTokens, &a.EstimatedCost, &perf, &sourceApp, &a.Progress)
	if err != nil {
		return nil, err
	}
	a.EndTime = derefInt(endTime)
	a.DurationMS = derefInt(duration)
	a.TaskDescription = derefStr(task)
	a.SourceApp = derefStr(sourceApp)
	json.Unmarshal([]byte(tools), &a.ToolsGranted)
	if perf != nil {
		a.Performance = json.RawMessage(*perf)
	}
	return &a, nil
}

func scanExecutions(rows *sql.Rows) ([]store.AgentExecution, error) {
	var out []store.AgentExecution
	for rows.Next() {
		a, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
