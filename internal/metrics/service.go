// Package metrics is the unified metrics service: a single read/write facade
// over the durable store and the cache. Writes go through the store first and
// best-effort to the cache; cache failures are absorbed by enqueueing the
// mutation to the deferred sync queue. Reads are cache-first with fallback to
// the store and opportunistic write-back.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/agentscope/internal/bus"
	"github.com/nextlevelbuilder/agentscope/internal/cache"
	"github.com/nextlevelbuilder/agentscope/internal/classify"
	"github.com/nextlevelbuilder/agentscope/internal/store"
)

// Cache key layout.
const (
	keyActiveAgents   = "agents:active"
	keyAgentPrefix    = "agent:active:"
	keyHourlyPrefix   = "metrics:hourly:" // + <hour>:<agent_type>
	keyDailyPrefix    = "metrics:daily:"  // + <day>
	keyToolsPrefix    = "tools:usage:"    // + <day>, zset member = tool name
	keyCurrent        = "metrics:current"
	keyDistribution   = "metrics:distribution"
	keyTimelinePrefix = "metrics:timeline:" // + <hours>h
	keyToolsReport    = "metrics:tools:"    // + <days>d
	keyHandoffPrefix  = "handoff:"          // + <project>
)

// handoffTTLSeconds keeps mirrored handoff content for 30 days.
const handoffTTLSeconds = 30 * 24 * 3600

// Read-back TTLs.
const (
	ttlCurrent      = 60 * time.Second
	ttlTimeline     = 120 * time.Second
	ttlDistribution = 180 * time.Second
	ttlToolsReport  = 300 * time.Second
	ttlActiveAgent  = 300 * time.Second
)

// costPerToken estimates spend in hundredths of a cent: $3 per million
// tokens. Good enough for dashboard trends; not a billing system.
const costPerTokenHundredths = 0.03

// Service is the unified metrics facade.
type Service struct {
	agents  store.AgentStore
	metrics store.MetricsStore
	queue   store.SyncQueueStore
	cache   cache.Client
	monitor *cache.Monitor
	bus     bus.Publisher

	warmupLimit *rate.Limiter
	warmupBusy  chan struct{}
}

// New wires the service. bus may be nil when no stream is attached.
func New(agents store.AgentStore, metricsStore store.MetricsStore, queue store.SyncQueueStore,
	cacheClient cache.Client, monitor *cache.Monitor, publisher bus.Publisher) *Service {
	return &Service{
		agents:      agents,
		metrics:     metricsStore,
		queue:       queue,
		cache:       cacheClient,
		monitor:     monitor,
		bus:         publisher,
		warmupLimit: rate.NewLimiter(rate.Every(5*time.Minute), 1),
		warmupBusy:  make(chan struct{}, 1),
	}
}

// EstimateCost converts a token count to hundredths of a cent.
func EstimateCost(tokens int64) int64 {
	return int64(float64(tokens) * costPerTokenHundredths)
}

// RecordMetric folds one event into the metric stores. Only agent-terminal
// events produce rows; everything else is a no-op. The durable write is
// fatal to the call; cache updates are best-effort and deferred on failure.
func (s *Service) RecordMetric(ctx context.Context, e *store.Event) error {
	if e.HookEventType != store.HookSubagentStop {
		return nil
	}

	var p store.EventPayload
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return fmt.Errorf("metric payload: %w", err)
		}
	}

	tokens := p.TokensUsed
	if tokens == 0 {
		tokens = p.InputTokens + p.OutputTokens
	}
	duration := p.Duration
	if duration == 0 {
		duration = e.DurationMS
	}
	success := !p.HasError() && e.Error == "" && (p.Result == nil || *p.Result)
	agentType := classify.AgentType(p.AgentType, p.AgentName, p.TaskDescription)
	cost := EstimateCost(tokens)

	rec := &store.MetricRecord{
		Timestamp:     e.Timestamp,
		SessionID:     e.SessionID,
		AgentType:     agentType,
		AgentName:     p.AgentName,
		Tokens:        tokens,
		DurationMS:    duration,
		Success:       success,
		EstimatedCost: cost,
		ToolName:      p.ToolName,
		SourceApp:     e.SourceApp,
	}
	if err := s.metrics.InsertMetricRecord(ctx, rec); err != nil {
		return err
	}

	ts := time.UnixMilli(e.Timestamp).UTC()
	hour := ts.Format("2006-01-02T15")
	day := ts.Format("2006-01-02")

	if err := s.metrics.BumpHourly(ctx, hour, agentType, duration, tokens, cost); err != nil {
		return err
	}
	if err := s.metrics.BumpDaily(ctx, day, duration, tokens, cost); err != nil {
		return err
	}
	for _, tool := range toolSet(p.ToolName, p.ToolsUsed) {
		if err := s.metrics.BumpToolUsage(ctx, tool, day, p.AgentID); err != nil {
			return err
		}
	}
	for _, point := range []store.TimelinePoint{
		{Timestamp: e.Timestamp, MetricType: store.MetricExecutions, Value: 1, AgentType: agentType, SourceApp: e.SourceApp},
		{Timestamp: e.Timestamp, MetricType: store.MetricTokens, Value: float64(tokens), AgentType: agentType, SourceApp: e.SourceApp},
		{Timestamp: e.Timestamp, MetricType: store.MetricDuration, Value: float64(duration), AgentType: agentType, SourceApp: e.SourceApp},
		{Timestamp: e.Timestamp, MetricType: store.MetricCost, Value: float64(cost), AgentType: agentType, SourceApp: e.SourceApp},
	} {
		p := point
		if err := s.metrics.InsertTimelinePoint(ctx, &p); err != nil {
			return err
		}
	}

	// Best-effort cache counters plus invalidation of the read-back keys.
	ops := []store.SyncOperation{
		{Kind: store.OpHIncrBy, Key: keyHourlyPrefix + hour + ":" + agentType, Field: "count", Value: "1"},
		{Kind: store.OpHIncrBy, Key: keyHourlyPrefix + hour + ":" + agentType, Field: "duration_ms", Value: strconv.FormatInt(duration, 10)},
		{Kind: store.OpHIncrBy, Key: keyHourlyPrefix + hour + ":" + agentType, Field: "tokens", Value: strconv.FormatInt(tokens, 10)},
		{Kind: store.OpHIncrBy, Key: keyHourlyPrefix + hour + ":" + agentType, Field: "cost", Value: strconv.FormatInt(cost, 10)},
		{Kind: store.OpHIncrBy, Key: keyDailyPrefix + day, Field: "count", Value: "1"},
		{Kind: store.OpHIncrBy, Key: keyDailyPrefix + day, Field: "duration_ms", Value: strconv.FormatInt(duration, 10)},
		{Kind: store.OpHIncrBy, Key: keyDailyPrefix + day, Field: "tokens", Value: strconv.FormatInt(tokens, 10)},
		{Kind: store.OpHIncrBy, Key: keyDailyPrefix + day, Field: "cost", Value: strconv.FormatInt(cost, 10)},
	}
	for _, tool := range toolSet(p.ToolName, p.ToolsUsed) {
		ops = append(ops, store.SyncOperation{Kind: store.OpZIncrBy, Key: keyToolsPrefix + day, Score: 1, Value: tool})
	}
	ops = append(ops,
		store.SyncOperation{Kind: store.OpDel, Key: keyCurrent},
		store.SyncOperation{Kind: store.OpDel, Key: keyDistribution},
	)
	s.applyOrQueue(ctx, ops)
	return nil
}

// MirrorHandoff mirrors saved handoff content into the cache under a
// 30-day TTL. Best-effort: when the cache is down the write is deferred to
// the sync queue like any other cache mutation.
func (s *Service) MirrorHandoff(ctx context.Context, project string, content []byte) {
	s.applyOrQueue(ctx, []store.SyncOperation{{
		Kind:       store.OpSetEx,
		Key:        keyHandoffPrefix + project,
		Value:      string(content),
		TTLSeconds: handoffTTLSeconds,
	}})
}

// applyOrQueue runs cache mutations best-effort; failures are logged and
// appended to the deferred sync queue. Once a key fails, later mutations of
// that key go straight to the queue so the drain worker replays the key in
// mutation order.
func (s *Service) applyOrQueue(ctx context.Context, ops []store.SyncOperation) {
	failedKeys := map[string]bool{}
	for i := range ops {
		op := &ops[i]
		if !failedKeys[op.Key] {
			err := cache.Apply(ctx, s.cache, op)
			if err == nil {
				continue
			}
			failedKeys[op.Key] = true
			slog.Debug("cache write deferred", "op", op.Kind, "key", op.Key, "error", err)
			if s.monitor != nil {
				s.monitor.MarkDisconnected(err)
			}
		}
		if qErr := s.queue.Enqueue(ctx, op); qErr != nil {
			slog.Error("enqueue sync op", "op", op.Kind, "key", op.Key, "error", qErr)
		}
	}
}

// cacheGetJSON reads a JSON value from the cache into dst.
func (s *Service) cacheGetJSON(ctx context.Context, key string, dst any) bool {
	v, ok, err := s.cache.Get(ctx, key)
	if err != nil || !ok {
		return false
	}
	return json.Unmarshal([]byte(v), dst) == nil
}

// cacheSetJSON opportunistically writes a JSON value back to the cache.
func (s *Service) cacheSetJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.SetEx(ctx, key, string(b), ttl); err != nil {
		slog.Debug("cache write-back failed", "key", key, "error", err)
	}
}

func toolSet(toolName string, toolsUsed []string) []string {
	seen := make(map[string]bool, len(toolsUsed)+1)
	var out []string
	for _, t := range append([]string{toolName}, toolsUsed...) {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
