package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/nextlevelbuilder/agentscope/internal/store"
)

// ObserveEvent folds one event into the session projection.
func (s *Store) ObserveEvent(ctx context.Context, e *store.Event) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	sessionType := "main"
	if e.ParentSessionID != "" {
		sessionType = "subagent"
		if e.WaveID != "" {
			sessionType = "wave"
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, source_app, session_type, parent_session_id, start_time, status)
		 VALUES (?, ?, ?, ?, ?, 'active')
		 ON CONFLICT (session_id) DO NOTHING`,
		e.SessionID, e.SourceApp, sessionType, nilStr(e.ParentSessionID), e.Timestamp)
	if err != nil {
		return fmt.Errorf("observe event: %w", err)
	}

	switch e.HookEventType {
	case store.HookSessionEnd, store.HookStop:
		_, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET end_time = ?, duration_ms = ? - start_time, status = 'completed'
			 WHERE session_id = ? AND status = 'active'`,
			e.Timestamp, e.Timestamp, e.SessionID)
	case store.HookSubagentStart:
		_, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET agent_count = agent_count + 1 WHERE session_id = ?`,
			e.SessionID)
	case store.HookSubagentStop:
		var p store.EventPayload
		if jsonErr := json.Unmarshal(e.Payload, &p); jsonErr == nil && p.TokensUsed > 0 {
			_, err = s.db.ExecContext(ctx,
				`UPDATE sessions SET total_tokens = total_tokens + ? WHERE session_id = ?`,
				p.TokensUsed, e.SessionID)
		}
	}
	if err != nil {
		return fmt.Errorf("observe event: %w", err)
	}
	return nil
}

// GetSession returns the session projection row.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*store.Session, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		sess                      store.Session
		sessionType, parent, meta *string
		endTime, duration         *int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, source_app, session_type, parent_session_id, start_time,
			end_time, duration_ms, status, agent_count, total_tokens, metadata
		 FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&sess.SessionID, &sess.SourceApp, &sessionType, &parent, &sess.StartTime,
			&endTime, &duration, &sess.Status, &sess.AgentCount, &sess.TotalTokens, &meta)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.SessionType = derefStr(sessionType)
	sess.ParentSessionID = derefStr(parent)
	sess.EndTime = derefInt(endTime)
	sess.DurationMS = derefInt(duration)
	if meta != nil {
		sess.Metadata = json.RawMessage(*meta)
	}
	return &sess, nil
}
