package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/nextlevelbuilder/agentscope/internal/store"
)

const eventColumns = `id, source_app, session_id, hook_event_type, timestamp, payload,
	parent_session_id, session_depth, wave_id, delegation_context,
	correlation_id, duration_ms, error, summary`

// InsertEvent persists e and returns the assigned id.
func (s *Store) InsertEvent(ctx context.Context, e *store.Event) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	payload := e.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	var delegation any
	if len(e.DelegationContext) > 0 {
		delegation = string(e.DelegationContext)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (source_app, session_id, hook_event_type, timestamp, payload,
			parent_session_id, session_depth, wave_id, delegation_context,
			correlation_id, duration_ms, error, summary)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SourceApp, e.SessionID, e.HookEventType, e.Timestamp, string(payload),
		nilStr(e.ParentSessionID), nilInt(int64(e.SessionDepth)), nilStr(e.WaveID), delegation,
		nilStr(e.CorrelationID), nilInt(e.DurationMS), nilStr(e.Error), nilStr(e.Summary),
	)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("event id: %w", err)
	}
	e.ID = id
	return id, nil
}

// GetEvent returns the event with the given id.
func (s *Store) GetEvent(ctx context.Context, id int64) (*store.Event, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return e, err
}

// RecentEvents returns the most recent limit events in ascending id order.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]store.Event, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	// Reverse so callers see oldest first within the window.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// FilterOptions returns the distinct source apps and hook event types seen.
func (s *Store) FilterOptions(ctx context.Context) (*store.FilterOptions, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	opts := &store.FilterOptions{SourceApps: []string{}, HookEventTypes: []string{}}

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT source_app FROM events ORDER BY source_app`)
	if err != nil {
		return nil, fmt.Errorf("filter options: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var app string
		if err := rows.Scan(&app); err != nil {
			return nil, err
		}
		opts.SourceApps = append(opts.SourceApps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	typeRows, err := s.db.QueryContext(ctx, `SELECT DISTINCT hook_event_type FROM events ORDER BY hook_event_type`)
	if err != nil {
		return nil, fmt.Errorf("filter options: %w", err)
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var t string
		if err := typeRows.Scan(&t); err != nil {
			return nil, err
		}
		opts.HookEventTypes = append(opts.HookEventTypes, t)
	}
	return opts, typeRows.Err()
}

// CorrelatedEvents returns Pre/PostToolUse pairs sharing a correlation id,
// each pair's events in timestamp order.
func (s *Store) CorrelatedEvents(ctx context.Context, correlationID string, limit int) ([]store.CorrelatedPair, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		rows *sql.Rows
		err  error
	)
	if correlationID != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+eventColumns+` FROM events
			 WHERE correlation_id = ? AND hook_event_type IN (?, ?)
			 ORDER BY timestamp`,
			correlationID, store.HookPreToolUse, store.HookPostToolUse)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+eventColumns+` FROM events
			 WHERE correlation_id IS NOT NULL AND hook_event_type IN (?, ?)
			 ORDER BY timestamp DESC LIMIT ?`,
			store.HookPreToolUse, store.HookPostToolUse, limit*2)
	}
	if err != nil {
		return nil, fmt.Errorf("correlated events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*store.CorrelatedPair)
	var order []string
	for i := range events {
		e := &events[i]
		pair, ok := byID[e.CorrelationID]
		if !ok {
			pair = &store.CorrelatedPair{CorrelationID: e.CorrelationID}
			byID[e.CorrelationID] = pair
			order = append(order, e.CorrelationID)
		}
		switch e.HookEventType {
		case store.HookPreToolUse:
			pair.Pre = e
		case store.HookPostToolUse:
			pair.Post = e
		}
	}

	pairs := make([]store.CorrelatedPair, 0, len(order))
	for _, id := range order {
		pairs = append(pairs, *byID[id])
		if limit > 0 && len(pairs) >= limit {
			break
		}
	}
	// Pairs ordered by the timestamp of their earliest event.
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairTime(&pairs[i]) < pairTime(&pairs[j])
	})
	return pairs, nil
}

func pairTime(p *store.CorrelatedPair) int64 {
	if p.Pre != nil {
		return p.Pre.Timestamp
	}
	if p.Post != nil {
		return p.Post.Timestamp
	}
	return 0
}

// SessionToolEvents returns one session's tool-use events in timestamp order.
func (s *Store) SessionToolEvents(ctx context.Context, sessionID string) ([]store.Event, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE session_id = ? AND hook_event_type IN (?, ?)
		 ORDER BY timestamp`,
		sessionID, store.HookPreToolUse, store.HookPostToolUse)
	if err != nil {
		return nil, fmt.Errorf("session tool events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsByHookType returns events of one hook type newer than since,
// newest first.
func (s *Store) EventsByHookType(ctx context.Context, hookType string, since int64, limit int) ([]store.Event, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE hook_event_type = ? AND timestamp >= ?
		 ORDER BY timestamp DESC LIMIT ?`,
		hookType, since, limit)
	if err != nil {
		return nil, fmt.Errorf("events by hook type: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// HookTypeStats aggregates the event log per hook type. since bounds the
// rolling 24h measures (rate, errors, last error).
func (s *Store) HookTypeStats(ctx context.Context, since int64) ([]store.HookTypeStat, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT hook_event_type,
			COUNT(*),
			SUM(CASE WHEN timestamp >= ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN timestamp >= ? AND error IS NOT NULL AND error != '' AND error != 'false' THEN 1 ELSE 0 END),
			SUM(CASE WHEN error IS NULL OR error = '' OR error = 'false' THEN 1 ELSE 0 END),
			MAX(timestamp),
			COALESCE(AVG(CASE WHEN duration_ms > 0 THEN duration_ms END), 0)
		 FROM events GROUP BY hook_event_type`,
		since, since)
	if err != nil {
		return nil, fmt.Errorf("hook type stats: %w", err)
	}
	defer rows.Close()

	var stats []store.HookTypeStat
	for rows.Next() {
		var st store.HookTypeStat
		if err := rows.Scan(&st.HookType, &st.TotalCount, &st.Count24h, &st.ErrorCount24h,
			&st.SuccessCount, &st.LastExecution, &st.AvgDurationMS); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Latest error string within the window, one extra query per hook type
	// that saw errors recently.
	for i := range stats {
		if stats[i].ErrorCount24h == 0 {
			continue
		}
		var lastErr sql.NullString
		err := s.db.QueryRowContext(ctx,
			`SELECT error FROM events
			 WHERE hook_event_type = ? AND timestamp >= ?
			   AND error IS NOT NULL AND error != '' AND error != 'false'
			 ORDER BY timestamp DESC LIMIT 1`,
			stats[i].HookType, since).Scan(&lastErr)
		if err != nil && err != sql.ErrNoRows {
			return nil, err
		}
		stats[i].LastError = lastErr.String
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*store.Event, error) {
	var (
		e                            store.Event
		payload                      string
		parent, wave, delegation     *string
		correlation, errStr, summary *string
		depth, duration              *int64
	)
	err := row.Scan(&e.ID, &e.SourceApp, &e.SessionID, &e.HookEventType, &e.Timestamp, &payload,
		&parent, &depth, &wave, &delegation, &correlation, &duration, &errStr, &summary)
	if err != nil {
		return nil, err
	}
	e.Payload = json.RawMessage(payload)
	e.ParentSessionID = derefStr(parent)
	e.SessionDepth = int(derefInt(depth))
	e.WaveID = derefStr(wave)
	if delegation != nil {
		e.DelegationContext = json.RawMessage(*delegation)
	}
	e.CorrelationID = derefStr(correlation)
	e.DurationMS = derefInt(duration)
	e.Error = derefStr(errStr)
	e.Summary = derefStr(summary)
	return &e, nil
}

func scanEvents(rows *sql.Rows) ([]store.Event, error) {
	var events []store.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}
