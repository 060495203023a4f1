package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/agentscope/internal/store"
)

// CurrentMetrics returns the live snapshot for the window. The default
// window (start/end zero) means today UTC and is the only window served
// from the cache.
func (s *Service) CurrentMetrics(ctx context.Context, start, end int64) (*store.CurrentMetrics, error) {
	defaultWindow := start == 0 && end == 0
	if defaultWindow {
		now := time.Now().UTC()
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		start = dayStart.UnixMilli()
		end = now.UnixMilli()

		var cached store.CurrentMetrics
		if s.cacheGetJSON(ctx, keyCurrent, &cached) {
			return &cached, nil
		}
	}

	m, err := s.metrics.CurrentMetrics(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if defaultWindow {
		s.cacheSetJSON(ctx, keyCurrent, m, ttlCurrent)
	}
	return m, nil
}

// Timeline returns hourly buckets for the last hours hours, or an explicit
// start/end window when both are set. hours=0 yields an empty timeline;
// windows are clamped to 30 days.
func (s *Service) Timeline(ctx context.Context, hours int, start, end int64) ([]store.TimelineBucket, error) {
	const maxHours = 24 * 30

	if start == 0 && end == 0 {
		if hours <= 0 {
			return []store.TimelineBucket{}, nil
		}
		if hours > maxHours {
			hours = maxHours
		}

		key := fmt.Sprintf("%s%dh", keyTimelinePrefix, hours)
		var cached []store.TimelineBucket
		if s.cacheGetJSON(ctx, key, &cached) {
			return cached, nil
		}

		end = time.Now().UnixMilli()
		start = end - int64(hours)*time.Hour.Milliseconds()
		buckets, err := s.metrics.Timeline(ctx, start, end)
		if err != nil {
			return nil, err
		}
		if buckets == nil {
			buckets = []store.TimelineBucket{}
		}
		s.cacheSetJSON(ctx, key, buckets, ttlTimeline)
		return buckets, nil
	}

	if end-start > int64(maxHours)*time.Hour.Milliseconds() {
		start = end - int64(maxHours)*time.Hour.Milliseconds()
	}
	buckets, err := s.metrics.Timeline(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if buckets == nil {
		buckets = []store.TimelineBucket{}
	}
	return buckets, nil
}

// ActiveAgents returns executions still running, straight from the durable
// store; the cache copy only backs the breaker's fast path.
func (s *Service) ActiveAgents(ctx context.Context) ([]store.AgentExecution, error) {
	active, err := s.agents.ActiveExecutions(ctx)
	if err != nil {
		return nil, err
	}
	if active == nil {
		active = []store.AgentExecution{}
	}
	return active, nil
}

// RecentTerminal returns recently finished executions, newest first.
func (s *Service) RecentTerminal(ctx context.Context, limit int) ([]store.AgentExecution, error) {
	return s.agents.RecentTerminal(ctx, limit)
}

// TypeDistribution returns each agent type's share of all executions.
func (s *Service) TypeDistribution(ctx context.Context) ([]store.TypeDistribution, error) {
	var cached []store.TypeDistribution
	if s.cacheGetJSON(ctx, keyDistribution, &cached) {
		return cached, nil
	}

	dist, err := s.metrics.TypeDistribution(ctx)
	if err != nil {
		return nil, err
	}
	s.cacheSetJSON(ctx, keyDistribution, dist, ttlDistribution)
	return dist, nil
}

// ToolUsage returns the tool usage report over the last days days.
func (s *Service) ToolUsage(ctx context.Context, days int) (*store.ToolUsageReport, error) {
	if days <= 0 {
		days = 7
	}

	key := fmt.Sprintf("%s%dd", keyToolsReport, days)
	var cached store.ToolUsageReport
	if s.cacheGetJSON(ctx, key, &cached) {
		return &cached, nil
	}

	end := time.Now().UnixMilli()
	start := end - int64(days)*24*time.Hour.Milliseconds()
	report, err := s.metrics.ToolUsageReport(ctx, start, end)
	if err != nil {
		return nil, err
	}
	report.Period = fmt.Sprintf("%dd", days)
	s.cacheSetJSON(ctx, key, report, ttlToolsReport)
	return report, nil
}
