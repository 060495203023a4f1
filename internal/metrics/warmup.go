package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nextlevelbuilder/agentscope/internal/store"
)

// SyncCacheFromDatabase rebuilds the hot cache keys from the durable store:
// today's hourly and daily counters, the tool usage zset, and the active
// agent set and hashes. At most one warmup runs at a time, and warmups are
// rate-limited to one per five minutes. Partial failures are logged and the
// warmup proceeds.
func (s *Service) SyncCacheFromDatabase(ctx context.Context) error {
	if !s.warmupLimit.Allow() {
		return nil
	}
	select {
	case s.warmupBusy <- struct{}{}:
		defer func() { <-s.warmupBusy }()
	default:
		return nil
	}

	slog.Info("warming cache from database")
	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	// Hot read-back keys are stale after an outage.
	keep(s.cache.Del(ctx, keyCurrent, keyDistribution))

	// Daily counter for today from the durable bucket, reconstructed via the
	// current metrics aggregate.
	m, err := s.metrics.CurrentMetrics(ctx, dayStart.UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("warmup daily: %w", err)
	}
	day := now.Format("2006-01-02")
	dailyKey := keyDailyPrefix + day
	keep(s.cache.Del(ctx, dailyKey))
	keep(s.cache.HSet(ctx, dailyKey, "count", strconv.FormatInt(m.ExecutionsToday, 10)))
	keep(s.cache.HSet(ctx, dailyKey, "tokens", strconv.FormatInt(m.TokensUsedToday, 10)))
	keep(s.cache.HSet(ctx, dailyKey, "cost", strconv.FormatInt(int64(m.EstimatedCostToday*10000), 10)))

	// Per-type hourly counters for the current hour.
	hour := now.Format("2006-01-02T15")
	hourStart := now.Truncate(time.Hour)
	hm, err := s.metrics.CurrentMetrics(ctx, hourStart.UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("warmup hourly: %w", err)
	}
	for _, b := range hm.AgentTypeBreakdown {
		hourlyKey := keyHourlyPrefix + hour + ":" + b.Type
		keep(s.cache.Del(ctx, hourlyKey))
		keep(s.cache.HSet(ctx, hourlyKey, "count", strconv.FormatInt(b.Count, 10)))
		keep(s.cache.HSet(ctx, hourlyKey, "tokens", strconv.FormatInt(b.TotalTokens, 10)))
	}

	// Tool usage zset for today.
	report, err := s.metrics.ToolUsageReport(ctx, dayStart.UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("warmup tools: %w", err)
	}
	toolsKey := keyToolsPrefix + day
	keep(s.cache.Del(ctx, toolsKey))
	for _, t := range report.Tools {
		keep(s.cache.ZAdd(ctx, toolsKey, float64(t.UsageCount), t.Name))
	}

	// Re-register every currently-active agent.
	active, err := s.agents.ActiveExecutions(ctx)
	if err != nil {
		return fmt.Errorf("warmup active agents: %w", err)
	}
	keep(s.cache.Del(ctx, keyActiveAgents))
	for _, a := range active {
		agentKey := keyAgentPrefix + a.AgentID
		keep(s.cache.HSet(ctx, agentKey, "agent_name", a.AgentName))
		keep(s.cache.HSet(ctx, agentKey, "agent_type", a.AgentType))
		keep(s.cache.HSet(ctx, agentKey, "session_id", a.SessionID))
		keep(s.cache.HSet(ctx, agentKey, "start_time", strconv.FormatInt(a.StartTime, 10)))
		keep(s.cache.Expire(ctx, agentKey, ttlActiveAgent))
		keep(s.cache.SAdd(ctx, keyActiveAgents, a.AgentID))
	}

	if firstErr != nil {
		slog.Warn("cache warmup finished with errors", "error", firstErr)
		return fmt.Errorf("warmup: %w", firstErr)
	}
	slog.Info("cache warmup complete", "active_agents", len(active), "tools", len(report.Tools))
	return nil
}

// SyncQueueStats exposes the deferred queue counters for the admin API.
func (s *Service) SyncQueueStats(ctx context.Context) (*store.SyncQueueStats, error) {
	return s.queue.Stats(ctx)
}
