package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/agentscope/internal/store"
)

// costUnit converts the stored hundredths-of-a-cent integer to dollars.
const costUnit = 10000.0

// InsertMetricRecord writes one agent-terminal metric row.
func (s *Store) InsertMetricRecord(ctx context.Context, r *store.MetricRecord) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metric_records (timestamp, session_id, agent_type, agent_name, tokens,
			duration_ms, success, estimated_cost, tool_name, source_app)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Timestamp, r.SessionID, r.AgentType, nilStr(r.AgentName), r.Tokens,
		r.DurationMS, boolInt(r.Success), r.EstimatedCost, nilStr(r.ToolName), nilStr(r.SourceApp))
	if err != nil {
		return fmt.Errorf("insert metric record: %w", err)
	}
	return nil
}

// BumpHourly adds one execution's measures to the (hour, agent_type) bucket.
func (s *Store) BumpHourly(ctx context.Context, hour, agentType string, durationMS, tokens, cost int64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hourly_buckets (hour, agent_type, count, duration_ms, tokens, cost)
		 VALUES (?, ?, 1, ?, ?, ?)
		 ON CONFLICT (hour, agent_type) DO UPDATE SET
			count = count + 1,
			duration_ms = duration_ms + excluded.duration_ms,
			tokens = tokens + excluded.tokens,
			cost = cost + excluded.cost`,
		hour, agentType, durationMS, tokens, cost)
	if err != nil {
		return fmt.Errorf("bump hourly: %w", err)
	}
	return nil
}

// BumpDaily adds one execution's measures to the day bucket.
func (s *Store) BumpDaily(ctx context.Context, day string, durationMS, tokens, cost int64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO daily_buckets (day, count, duration_ms, tokens, cost)
		 VALUES (?, 1, ?, ?, ?)
		 ON CONFLICT (day) DO UPDATE SET
			count = count + 1,
			duration_ms = duration_ms + excluded.duration_ms,
			tokens = tokens + excluded.tokens,
			cost = cost + excluded.cost`,
		day, durationMS, tokens, cost)
	if err != nil {
		return fmt.Errorf("bump daily: %w", err)
	}
	return nil
}

// BumpToolUsage counts one tool use and records the using agent for
// unique-agent statistics.
func (s *Store) BumpToolUsage(ctx context.Context, tool, day, agentID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bump tool usage: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tool_usage (tool_name, day, usage_count) VALUES (?, ?, 1)
		 ON CONFLICT (tool_name, day) DO UPDATE SET usage_count = usage_count + 1`,
		tool, day)
	if err != nil {
		return fmt.Errorf("bump tool usage: %w", err)
	}
	if agentID != "" {
		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO tool_usage_agents (tool_name, day, agent_id) VALUES (?, ?, ?)`,
			tool, day, agentID)
		if err != nil {
			return fmt.Errorf("bump tool usage agents: %w", err)
		}
	}
	return tx.Commit()
}

// InsertTimelinePoint writes a time-series sample. Zero values are skipped.
func (s *Store) InsertTimelinePoint(ctx context.Context, p *store.TimelinePoint) error {
	if p.Value == 0 {
		return nil
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO timeline_points (timestamp, metric_type, value, agent_type, source_app)
		 VALUES (?, ?, ?, ?, ?)`,
		p.Timestamp, p.MetricType, p.Value, nilStr(p.AgentType), nilStr(p.SourceApp))
	if err != nil {
		return fmt.Errorf("insert timeline point: %w", err)
	}
	return nil
}

// CurrentMetrics aggregates metric records between start and end plus the
// live active-agent count.
func (s *Store) CurrentMetrics(ctx context.Context, start, end int64) (*store.CurrentMetrics, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	m := &store.CurrentMetrics{AgentTypeBreakdown: []store.TypeBreakdown{}}

	var (
		successes int64
		costSum   int64
		avgDur    sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(success), 0),
			COALESCE(AVG(duration_ms), 0),
			COALESCE(SUM(tokens), 0),
			COALESCE(SUM(estimated_cost), 0)
		 FROM metric_records WHERE timestamp >= ? AND timestamp <= ?`,
		start, end).Scan(&m.ExecutionsToday, &successes, &avgDur, &m.TokensUsedToday, &costSum)
	if err != nil {
		return nil, fmt.Errorf("current metrics: %w", err)
	}
	if m.ExecutionsToday > 0 {
		m.SuccessRate = float64(successes) / float64(m.ExecutionsToday)
	}
	m.AvgDurationMS = avgDur.Float64
	m.EstimatedCostToday = float64(costSum) / costUnit

	if m.ActiveAgents, err = s.ActiveCount(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_type, COUNT(*), COALESCE(AVG(duration_ms), 0), COALESCE(SUM(tokens), 0)
		 FROM metric_records WHERE timestamp >= ? AND timestamp <= ?
		 GROUP BY agent_type ORDER BY COUNT(*) DESC`,
		start, end)
	if err != nil {
		return nil, fmt.Errorf("type breakdown: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var b store.TypeBreakdown
		if err := rows.Scan(&b.Type, &b.Count, &b.AvgDurationMS, &b.TotalTokens); err != nil {
			return nil, err
		}
		m.AgentTypeBreakdown = append(m.AgentTypeBreakdown, b)
	}
	return m, rows.Err()
}

// Timeline buckets metric records by hour between start and end.
func (s *Store) Timeline(ctx context.Context, start, end int64) ([]store.TimelineBucket, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	const hourMS = int64(time.Hour / time.Millisecond)

	rows, err := s.db.QueryContext(ctx,
		`SELECT (timestamp / ?) * ? AS hour_ts,
			COUNT(*),
			COALESCE(SUM(tokens), 0),
			COALESCE(SUM(estimated_cost), 0),
			COALESCE(AVG(duration_ms), 0),
			COUNT(DISTINCT agent_type)
		 FROM metric_records WHERE timestamp >= ? AND timestamp <= ?
		 GROUP BY hour_ts ORDER BY hour_ts`,
		hourMS, hourMS, start, end)
	if err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}
	defer rows.Close()

	var buckets []store.TimelineBucket
	for rows.Next() {
		var (
			b    store.TimelineBucket
			cost int64
		)
		if err := rows.Scan(&b.Timestamp, &b.Executions, &b.Tokens, &cost, &b.AvgDurationMS, &b.AgentTypesCount); err != nil {
			return nil, err
		}
		b.Cost = float64(cost) / costUnit
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Dominant type per hour.
	typeRows, err := s.db.QueryContext(ctx,
		`SELECT (timestamp / ?) * ? AS hour_ts, agent_type, COUNT(*) AS n
		 FROM metric_records WHERE timestamp >= ? AND timestamp <= ?
		 GROUP BY hour_ts, agent_type ORDER BY hour_ts, n DESC`,
		hourMS, hourMS, start, end)
	if err != nil {
		return nil, fmt.Errorf("timeline types: %w", err)
	}
	defer typeRows.Close()

	dominant := make(map[int64]string)
	for typeRows.Next() {
		var (
			ts int64
			at string
			n  int64
		)
		if err := typeRows.Scan(&ts, &at, &n); err != nil {
			return nil, err
		}
		if _, ok := dominant[ts]; !ok {
			dominant[ts] = at
		}
	}
	if err := typeRows.Err(); err != nil {
		return nil, err
	}
	for i := range buckets {
		buckets[i].DominantType = dominant[buckets[i].Timestamp]
	}
	return buckets, nil
}

// TypeDistribution reports each agent type's share of all executions.
func (s *Store) TypeDistribution(ctx context.Context) ([]store.TypeDistribution, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM metric_records`).Scan(&total); err != nil {
		return nil, fmt.Errorf("distribution total: %w", err)
	}
	if total == 0 {
		return []store.TypeDistribution{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_type, COUNT(*), COALESCE(AVG(duration_ms), 0),
			CAST(COALESCE(SUM(success), 0) AS REAL) / COUNT(*)
		 FROM metric_records GROUP BY agent_type ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, fmt.Errorf("distribution: %w", err)
	}
	defer rows.Close()

	var dist []store.TypeDistribution
	for rows.Next() {
		var d store.TypeDistribution
		if err := rows.Scan(&d.Type, &d.Count, &d.AvgDurationMS, &d.SuccessRate); err != nil {
			return nil, err
		}
		d.Percentage = float64(d.Count) / float64(total)
		d.CommonTools = []string{}
		dist = append(dist, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range dist {
		toolRows, err := s.db.QueryContext(ctx,
			`SELECT tool_name FROM metric_records
			 WHERE agent_type = ? AND tool_name IS NOT NULL
			 GROUP BY tool_name ORDER BY COUNT(*) DESC LIMIT 3`,
			dist[i].Type)
		if err != nil {
			return nil, fmt.Errorf("common tools: %w", err)
		}
		for toolRows.Next() {
			var t string
			if err := toolRows.Scan(&t); err != nil {
				toolRows.Close()
				return nil, err
			}
			dist[i].CommonTools = append(dist[i].CommonTools, t)
		}
		if err := toolRows.Err(); err != nil {
			toolRows.Close()
			return nil, err
		}
		toolRows.Close()
	}
	return dist, nil
}

// ToolUsageReport aggregates tool usage between start and end (ms).
func (s *Store) ToolUsageReport(ctx context.Context, start, end int64) (*store.ToolUsageReport, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	startDay := time.UnixMilli(start).UTC().Format("2006-01-02")
	endDay := time.UnixMilli(end).UTC().Format("2006-01-02")

	rows, err := s.db.QueryContext(ctx,
		`SELECT u.tool_name,
			SUM(u.usage_count),
			(SELECT COUNT(DISTINCT a.agent_id) FROM tool_usage_agents a
			  WHERE a.tool_name = u.tool_name AND a.day >= ? AND a.day <= ?)
		 FROM tool_usage u WHERE u.day >= ? AND u.day <= ?
		 GROUP BY u.tool_name ORDER BY SUM(u.usage_count) DESC`,
		startDay, endDay, startDay, endDay)
	if err != nil {
		return nil, fmt.Errorf("tool usage: %w", err)
	}
	defer rows.Close()

	report := &store.ToolUsageReport{Tools: []store.ToolUsage{}}
	var totalUses int64
	for rows.Next() {
		var t store.ToolUsage
		if err := rows.Scan(&t.Name, &t.UsageCount, &t.AgentTypesUsing); err != nil {
			return nil, err
		}
		if t.AgentTypesUsing > 0 {
			t.AvgPerExecution = float64(t.UsageCount) / float64(t.AgentTypesUsing)
		}
		totalUses += t.UsageCount
		report.Tools = append(report.Tools, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range report.Tools {
		if totalUses > 0 {
			report.Tools[i].Percentage = float64(report.Tools[i].UsageCount) / float64(totalUses)
		}
	}
	report.Insights.TotalUniqueTools = len(report.Tools)
	if n := len(report.Tools); n > 0 {
		report.Insights.MostUsedTool = report.Tools[0].Name
		report.Insights.LeastUsedTool = report.Tools[n-1].Name
	}
	return report, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
