package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/agentscope/internal/bus"
	"github.com/nextlevelbuilder/agentscope/internal/cache"
	"github.com/nextlevelbuilder/agentscope/internal/store"
	"github.com/nextlevelbuilder/agentscope/internal/store/sqlite"
)

func newTestService(t *testing.T) (*Service, *sqlite.Store, *fakeCache, *cache.Monitor) {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	fc := newFakeCache()
	monitor := cache.NewMonitor(fc, 0)
	monitor.Check(context.Background())
	return New(db, db, db, fc, monitor, nil), db, fc, monitor
}

func TestEstimateCost(t *testing.T) {
	tests := []struct {
		tokens int64
		want   int64
	}{
		{0, 0},
		{100, 3},
		{1_000_000, 30_000}, // $3 per million tokens
	}
	for _, tt := range tests {
		if got := EstimateCost(tt.tokens); got != tt.want {
			t.Errorf("EstimateCost(%d) = %d, want %d", tt.tokens, got, tt.want)
		}
	}
}

func TestRecordMetricIgnoresNonTerminalEvents(t *testing.T) {
	s, db, _, _ := newTestService(t)
	ctx := context.Background()

	for _, hookType := range []string{store.HookPreToolUse, store.HookSessionStart, store.HookSubagentStart} {
		e := &store.Event{SourceApp: "app", SessionID: "s", HookEventType: hookType, Timestamp: 1000}
		if err := s.RecordMetric(ctx, e); err != nil {
			t.Fatalf("RecordMetric(%s) = %v", hookType, err)
		}
	}
	m, err := db.CurrentMetrics(ctx, 0, 10_000)
	if err != nil {
		t.Fatal(err)
	}
	if m.ExecutionsToday != 0 {
		t.Errorf("non-terminal events produced %d metric rows", m.ExecutionsToday)
	}
}

func TestRecordMetricWritesDurableAndCache(t *testing.T) {
	s, db, fc, _ := newTestService(t)
	ctx := context.Background()

	// Stale read-back entries must be invalidated by the write.
	fc.Set(ctx, "metrics:current", "stale")
	fc.Set(ctx, "metrics:distribution", "stale")

	ts := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC).UnixMilli()
	e := &store.Event{
		SourceApp: "app", SessionID: "s1", HookEventType: store.HookSubagentStop, Timestamp: ts,
		Payload: json.RawMessage(`{"agent_name":"builder-bot","tokens_used":200,"duration":100,"tool_name":"write","tools_used":["write","grep"]}`),
	}
	if err := s.RecordMetric(ctx, e); err != nil {
		t.Fatalf("RecordMetric() = %v", err)
	}

	m, err := db.CurrentMetrics(ctx, 0, ts+1)
	if err != nil {
		t.Fatal(err)
	}
	if m.ExecutionsToday != 1 || m.TokensUsedToday != 200 {
		t.Errorf("durable aggregate = %+v", m)
	}
	if len(m.AgentTypeBreakdown) != 1 || m.AgentTypeBreakdown[0].Type != "builder" {
		t.Errorf("breakdown = %+v", m.AgentTypeBreakdown)
	}

	daily := fc.hash("metrics:daily:2026-08-24")
	if daily["count"] != "1" || daily["tokens"] != "200" || daily["duration_ms"] != "100" {
		t.Errorf("daily cache hash = %v", daily)
	}
	hourly := fc.hash("metrics:hourly:2026-08-24T10:builder")
	if hourly["count"] != "1" {
		t.Errorf("hourly cache hash = %v", hourly)
	}
	if fc.zscore("tools:usage:2026-08-24", "write") != 1 || fc.zscore("tools:usage:2026-08-24", "grep") != 1 {
		t.Errorf("tools zset not bumped")
	}
	if _, ok, _ := fc.Get(ctx, "metrics:current"); ok {
		t.Error("metrics:current not invalidated")
	}
	if _, ok, _ := fc.Get(ctx, "metrics:distribution"); ok {
		t.Error("metrics:distribution not invalidated")
	}
}

func TestRecordMetricDefersCacheWritesWhenDown(t *testing.T) {
	s, db, fc, monitor := newTestService(t)
	ctx := context.Background()

	fc.setFail(errors.New("connection refused"))
	ts := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC).UnixMilli()
	e := &store.Event{
		SourceApp: "app", SessionID: "s1", HookEventType: store.HookSubagentStop, Timestamp: ts,
		Payload: json.RawMessage(`{"agent_name":"builder-bot","tokens_used":50,"tool_name":"write"}`),
	}
	if err := s.RecordMetric(ctx, e); err != nil {
		t.Fatalf("RecordMetric() = %v", err)
	}

	// Durable side still written.
	m, _ := db.CurrentMetrics(ctx, 0, ts+1)
	if m.ExecutionsToday != 1 {
		t.Errorf("durable write lost: %+v", m)
	}
	// Every cache mutation deferred: 8 counters + 1 tool + 2 invalidations.
	stats, err := db.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Pending != 11 {
		t.Errorf("pending ops = %d, want 11", stats.Pending)
	}
	if monitor.Status().IsConnected {
		t.Error("cache failure did not mark the monitor disconnected")
	}
}

func TestRecordMetricQueuesWholeKeyOnPartialFailure(t *testing.T) {
	s, db, fc, _ := newTestService(t)
	ctx := context.Background()

	hourlyKey := "metrics:hourly:2026-08-24T10:builder"
	fc.failKey(hourlyKey)

	ts := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC).UnixMilli()
	e := &store.Event{
		SourceApp: "app", SessionID: "s1", HookEventType: store.HookSubagentStop, Timestamp: ts,
		Payload: json.RawMessage(`{"agent_name":"builder-bot","tokens_used":50,"duration":20,"tool_name":"write"}`),
	}
	if err := s.RecordMetric(ctx, e); err != nil {
		t.Fatalf("RecordMetric() = %v", err)
	}

	// Healthy keys still apply directly.
	daily := fc.hash("metrics:daily:2026-08-24")
	if daily["count"] != "1" || daily["tokens"] != "50" {
		t.Errorf("daily hash = %v", daily)
	}
	// Every bump of the failing key defers, preserving mutation order, so a
	// later drain cannot interleave stale and fresh counters.
	ops, err := db.PendingBatch(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 4 {
		t.Fatalf("pending ops = %d, want 4", len(ops))
	}
	wantFields := []string{"count", "duration_ms", "tokens", "cost"}
	for i, op := range ops {
		if op.Key != hourlyKey || op.Field != wantFields[i] {
			t.Errorf("op[%d] = %s %s, want %s %s", i, op.Key, op.Field, hourlyKey, wantFields[i])
		}
	}
}

func TestMirrorHandoff(t *testing.T) {
	s, db, fc, _ := newTestService(t)
	ctx := context.Background()

	s.MirrorHandoff(ctx, "proj", []byte(`{"state":"ready"}`))
	if v, ok, _ := fc.Get(ctx, "handoff:proj"); !ok || v != `{"state":"ready"}` {
		t.Errorf("cached handoff = %q/%v", v, ok)
	}

	// With the cache down the mirror defers instead of dropping the write.
	fc.setFail(errors.New("connection refused"))
	s.MirrorHandoff(ctx, "proj", []byte(`{"state":"later"}`))
	ops, err := db.PendingBatch(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 {
		t.Fatalf("pending ops = %d, want 1", len(ops))
	}
	op := ops[0]
	if op.Kind != store.OpSetEx || op.Key != "handoff:proj" || op.Value != `{"state":"later"}` {
		t.Errorf("deferred op = %+v", op)
	}
	if op.TTLSeconds != handoffTTLSeconds {
		t.Errorf("ttl = %d, want %d", op.TTLSeconds, handoffTTLSeconds)
	}
}

func TestAgentLifecycle(t *testing.T) {
	s, db, fc, _ := newTestService(t)
	ctx := context.Background()

	agentID, err := s.MarkAgentStarted(ctx, StartData{
		AgentName: "verifier-bot",
		SessionID: "s1",
		SourceApp: "app",
	})
	if err != nil {
		t.Fatalf("MarkAgentStarted() = %v", err)
	}
	if !strings.HasPrefix(agentID, "ag_") {
		t.Fatalf("agent id = %q", agentID)
	}

	exec, err := db.GetExecution(ctx, agentID)
	if err != nil {
		t.Fatalf("GetExecution() = %v", err)
	}
	if exec.Status != store.AgentActive || exec.AgentType != "tester" {
		t.Errorf("execution = %+v", exec)
	}
	if !fc.setHas("agents:active", agentID) {
		t.Error("agent not registered in active set")
	}
	agentHash := fc.hash("agent:active:" + agentID)
	if agentHash["agent_name"] != "verifier-bot" || agentHash["session_id"] != "s1" {
		t.Errorf("agent hash = %v", agentHash)
	}

	err = s.MarkAgentCompleted(ctx, CompleteData{
		AgentID: agentID, Tokens: 100, DurationMS: 50, Success: true,
	})
	if err != nil {
		t.Fatalf("MarkAgentCompleted() = %v", err)
	}
	exec, _ = db.GetExecution(ctx, agentID)
	if exec.Status != store.AgentComplete {
		t.Errorf("status = %q", exec.Status)
	}
	if fc.setHas("agents:active", agentID) {
		t.Error("completed agent still in active set")
	}

	end := time.Now().UnixMilli() + 1000
	m, _ := db.CurrentMetrics(ctx, 0, end)
	if m.ExecutionsToday != 1 || m.TokensUsedToday != 100 {
		t.Errorf("aggregates after completion = %+v", m)
	}

	// Repeat completion must not grow aggregates.
	if err := s.MarkAgentCompleted(ctx, CompleteData{AgentID: agentID, Tokens: 100, Success: false}); err != nil {
		t.Fatalf("repeat completion = %v", err)
	}
	m, _ = db.CurrentMetrics(ctx, 0, end)
	if m.ExecutionsToday != 1 {
		t.Errorf("repeat completion grew aggregates: %+v", m)
	}

	if err := s.MarkAgentCompleted(ctx, CompleteData{AgentID: ""}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("empty agent id error = %v, want ErrNotFound", err)
	}
}

func TestAgentLifecycleBroadcastsStatusUpdates(t *testing.T) {
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	fc := newFakeCache()
	monitor := cache.NewMonitor(fc, 0)
	monitor.Check(context.Background())
	rec := &frameRecorder{}
	s := New(db, db, db, fc, monitor, rec)
	ctx := context.Background()

	agentID, err := s.MarkAgentStarted(ctx, StartData{AgentName: "worker", SessionID: "s1"})
	if err != nil {
		t.Fatalf("MarkAgentStarted() = %v", err)
	}
	if err := s.MarkAgentCompleted(ctx, CompleteData{AgentID: agentID, Success: true}); err != nil {
		t.Fatalf("MarkAgentCompleted() = %v", err)
	}

	var updates []map[string]any
	for _, f := range rec.frames {
		if f.Type == bus.FrameAgentStatusUpdate {
			updates = append(updates, f.Data.(map[string]any))
		}
	}
	if len(updates) != 2 {
		t.Fatalf("status updates = %d, want 2", len(updates))
	}
	if updates[0]["agent_id"] != agentID || updates[0]["status"] != store.AgentActive || updates[0]["active_count"] != 1 {
		t.Errorf("start update = %v", updates[0])
	}
	if updates[1]["status"] != store.AgentComplete || updates[1]["active_count"] != 0 {
		t.Errorf("completion update = %v", updates[1])
	}
}

func TestCurrentMetricsCacheFirst(t *testing.T) {
	s, _, fc, _ := newTestService(t)
	ctx := context.Background()

	cached := store.CurrentMetrics{ExecutionsToday: 42, AgentTypeBreakdown: []store.TypeBreakdown{}}
	b, _ := json.Marshal(cached)
	fc.Set(ctx, "metrics:current", string(b))

	m, err := s.CurrentMetrics(ctx, 0, 0)
	if err != nil {
		t.Fatalf("CurrentMetrics() = %v", err)
	}
	if m.ExecutionsToday != 42 {
		t.Errorf("default window ignored cache: %+v", m)
	}

	// Explicit windows bypass the cache.
	m, err = s.CurrentMetrics(ctx, 1, 2)
	if err != nil {
		t.Fatalf("CurrentMetrics(window) = %v", err)
	}
	if m.ExecutionsToday != 0 {
		t.Errorf("explicit window served from cache: %+v", m)
	}
}

func TestCurrentMetricsWritesBack(t *testing.T) {
	s, _, fc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := s.CurrentMetrics(ctx, 0, 0); err != nil {
		t.Fatalf("CurrentMetrics() = %v", err)
	}
	if _, ok, _ := fc.Get(ctx, "metrics:current"); !ok {
		t.Error("default window result not written back to cache")
	}
}

func TestTimelineWindows(t *testing.T) {
	s, db, fc, _ := newTestService(t)
	ctx := context.Background()

	buckets, err := s.Timeline(ctx, 0, 0, 0)
	if err != nil {
		t.Fatalf("Timeline(0) = %v", err)
	}
	if buckets == nil || len(buckets) != 0 {
		t.Errorf("zero hours = %#v, want empty slice", buckets)
	}

	now := time.Now().UnixMilli()
	rec := &store.MetricRecord{Timestamp: now, AgentType: "builder", Tokens: 10, Success: true}
	if err := db.InsertMetricRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}

	buckets, err = s.Timeline(ctx, 2, 0, 0)
	if err != nil {
		t.Fatalf("Timeline(2h) = %v", err)
	}
	if len(buckets) != 1 || buckets[0].Executions != 1 {
		t.Errorf("buckets = %+v", buckets)
	}
	if _, ok, _ := fc.Get(ctx, "metrics:timeline:2h"); !ok {
		t.Error("timeline not written back to cache")
	}

	// Explicit window.
	buckets, err = s.Timeline(ctx, 0, now-1000, now+1000)
	if err != nil {
		t.Fatalf("Timeline(window) = %v", err)
	}
	if len(buckets) != 1 {
		t.Errorf("windowed buckets = %+v", buckets)
	}
}

func TestToolUsageDefaultPeriod(t *testing.T) {
	s, _, fc, _ := newTestService(t)
	ctx := context.Background()

	report, err := s.ToolUsage(ctx, 0)
	if err != nil {
		t.Fatalf("ToolUsage() = %v", err)
	}
	if report.Period != "7d" {
		t.Errorf("period = %q, want 7d", report.Period)
	}
	if report.Tools == nil {
		t.Error("tools must be an empty slice, not nil")
	}
	if _, ok, _ := fc.Get(ctx, "metrics:tools:7d"); !ok {
		t.Error("report not written back to cache")
	}
}

func TestSyncCacheFromDatabase(t *testing.T) {
	s, db, fc, _ := newTestService(t)
	ctx := context.Background()

	now := time.Now().UTC()
	day := now.Format("2006-01-02")
	rec := &store.MetricRecord{Timestamp: now.UnixMilli(), AgentType: "builder", Tokens: 500, Success: true}
	if err := db.InsertMetricRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := db.BumpToolUsage(ctx, "write", day, "ag_1"); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertExecution(ctx, &store.AgentExecution{
		AgentID: "ag_1", AgentName: "worker", AgentType: "builder",
		StartTime: now.UnixMilli(), SessionID: "s1",
	}); err != nil {
		t.Fatal(err)
	}
	fc.Set(ctx, "metrics:current", "stale")

	if err := s.SyncCacheFromDatabase(ctx); err != nil {
		t.Fatalf("SyncCacheFromDatabase() = %v", err)
	}

	daily := fc.hash("metrics:daily:" + day)
	if daily["count"] != "1" || daily["tokens"] != "500" {
		t.Errorf("daily hash = %v", daily)
	}
	if fc.zscore("tools:usage:"+day, "write") != 1 {
		t.Error("tools zset not rebuilt")
	}
	if !fc.setHas("agents:active", "ag_1") {
		t.Error("active agent not re-registered")
	}
	if _, ok, _ := fc.Get(ctx, "metrics:current"); ok {
		t.Error("stale read-back key survived warmup")
	}

	// Rate limited: an immediate second warmup is a no-op.
	fc.Del(ctx, "agents:active")
	if err := s.SyncCacheFromDatabase(ctx); err != nil {
		t.Fatalf("second warmup = %v", err)
	}
	if fc.setHas("agents:active", "ag_1") {
		t.Error("rate limiter did not suppress the second warmup")
	}
}
