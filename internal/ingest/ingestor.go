// Package ingest is the write path: it validates incoming hook events,
// persists them, derives lifecycle side effects, and fans updates out to
// stream subscribers.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/agentscope/internal/bus"
	"github.com/nextlevelbuilder/agentscope/internal/hookstats"
	"github.com/nextlevelbuilder/agentscope/internal/metrics"
	"github.com/nextlevelbuilder/agentscope/internal/relationships"
	"github.com/nextlevelbuilder/agentscope/internal/store"
	"github.com/nextlevelbuilder/agentscope/internal/telemetry"
)

// Ingestor drives the event write path.
type Ingestor struct {
	events   store.EventStore
	sessions store.SessionStore
	agents   store.AgentStore
	metrics  *metrics.Service
	rels     *relationships.Service
	coverage *hookstats.Aggregator
	bus      bus.Publisher
	tracer   *telemetry.Tracer
}

// SetTracer attaches the optional ingestion tracer.
func (in *Ingestor) SetTracer(t *telemetry.Tracer) { in.tracer = t }

// New wires the ingestor. bus and coverage may be nil.
func New(events store.EventStore, sessions store.SessionStore, agents store.AgentStore,
	metricsService *metrics.Service, rels *relationships.Service,
	coverage *hookstats.Aggregator, publisher bus.Publisher) *Ingestor {
	return &Ingestor{
		events:   events,
		sessions: sessions,
		agents:   agents,
		metrics:  metricsService,
		rels:     rels,
		coverage: coverage,
		bus:      publisher,
	}
}

// Ingest validates and persists one event, folds it into the session
// projection, derives relationship and agent lifecycle effects, and
// broadcasts the result. The returned event carries its assigned id.
func (in *Ingestor) Ingest(ctx context.Context, e *store.Event) (*store.Event, error) {
	ctx, span := in.tracer.StartIngestion(ctx, e.SourceApp, e.SessionID, e.HookEventType)
	defer span.End()

	if err := validate(e); err != nil {
		in.tracer.RecordError(span, err)
		return nil, err
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}

	id, err := in.events.InsertEvent(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("persist event: %w", err)
	}
	e.ID = id

	if err := in.sessions.ObserveEvent(ctx, e); err != nil {
		return nil, fmt.Errorf("session projection: %w", err)
	}

	var p store.EventPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("event payload: %w", store.ErrValidation)
	}

	switch e.HookEventType {
	case store.HookSessionStart:
		in.deriveSpawn(ctx, e, &p)
	case store.HookSessionEnd, store.HookStop:
		in.deriveSessionEnd(ctx, e)
	case store.HookSubagentStart:
		in.deriveAgentStart(ctx, e, &p)
	case store.HookSubagentStop:
		in.deriveAgentStop(ctx, e, &p)
	default:
		if err := in.metrics.RecordMetric(ctx, e); err != nil {
			return nil, err
		}
	}

	if in.bus != nil {
		in.bus.Broadcast(bus.Frame{Type: bus.FrameEvent, Data: e})
		in.broadcastCoverage(ctx)
	}
	return e, nil
}

func validate(e *store.Event) error {
	switch {
	case e.SourceApp == "":
		return fmt.Errorf("source_app required: %w", store.ErrValidation)
	case e.SessionID == "":
		return fmt.Errorf("session_id required: %w", store.ErrValidation)
	case e.HookEventType == "":
		return fmt.Errorf("hook_event_type required: %w", store.ErrValidation)
	case len(e.Payload) == 0:
		return fmt.Errorf("payload required: %w", store.ErrValidation)
	}
	if !json.Valid(e.Payload) {
		return fmt.Errorf("payload must be JSON: %w", store.ErrValidation)
	}
	return nil
}

// deriveSpawn registers the parent edge announced by a SessionStart that
// names a parent. A rejected edge (cycle, bad input) does not fail the
// ingestion; the event itself is already durable.
func (in *Ingestor) deriveSpawn(ctx context.Context, e *store.Event, p *store.EventPayload) {
	if e.ParentSessionID == "" {
		return
	}
	_, err := in.rels.RegisterSpawn(ctx, relationships.SpawnData{
		ParentSessionID: e.ParentSessionID,
		ChildSessionID:  e.SessionID,
		SpawnReason:     p.SpawnReason,
		DelegationType:  p.DelegationType,
		WaveID:          e.WaveID,
		SessionDepth:    e.SessionDepth,
		SpawnMetadata:   e.DelegationContext,
	})
	if err != nil {
		slog.Warn("spawn edge rejected",
			"parent", e.ParentSessionID, "child", e.SessionID, "error", err)
	}
}

func (in *Ingestor) deriveSessionEnd(ctx context.Context, e *store.Event) {
	if e.ParentSessionID == "" {
		return
	}
	err := in.rels.MarkChildCompleted(ctx, e.ParentSessionID, e.SessionID, e.Timestamp)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Warn("complete relationship",
			"parent", e.ParentSessionID, "child", e.SessionID, "error", err)
	}
}

// deriveAgentStart opens an execution and writes the assigned agent id back
// into the in-memory payload so stream subscribers can correlate the stop.
func (in *Ingestor) deriveAgentStart(ctx context.Context, e *store.Event, p *store.EventPayload) {
	agentID, err := in.metrics.MarkAgentStarted(ctx, metrics.StartData{
		AgentName:       p.AgentName,
		AgentType:       p.AgentType,
		SessionID:       e.SessionID,
		SourceApp:       e.SourceApp,
		TaskDescription: p.TaskDescription,
		ToolsGranted:    p.ToolsGranted,
		Timestamp:       e.Timestamp,
	})
	if err != nil {
		slog.Error("mark agent started", "session_id", e.SessionID, "error", err)
		return
	}
	var raw map[string]any
	if json.Unmarshal(e.Payload, &raw) == nil {
		raw["agent_id"] = agentID
		if b, err := json.Marshal(raw); err == nil {
			e.Payload = b
		}
	}
	p.AgentID = agentID
}

// deriveAgentStop terminalizes the execution. Tools used are recovered from
// the session's tool events when the payload omits them; a stop with no
// matching execution still feeds the metric pipeline directly.
func (in *Ingestor) deriveAgentStop(ctx context.Context, e *store.Event, p *store.EventPayload) {
	agentID := p.AgentID
	if agentID == "" {
		agentID = in.findActiveAgent(ctx, e.SessionID)
	}
	if agentID == "" {
		if err := in.metrics.RecordMetric(ctx, e); err != nil {
			slog.Error("record orphan agent stop", "session_id", e.SessionID, "error", err)
		}
		return
	}

	tools := p.ToolsUsed
	if len(tools) == 0 {
		tools = in.recoverTools(ctx, e.SessionID)
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

	err := in.metrics.MarkAgentCompleted(ctx, metrics.CompleteData{
		AgentID:    agentID,
		AgentName:  p.AgentName,
		AgentType:  p.AgentType,
		SessionID:  e.SessionID,
		SourceApp:  e.SourceApp,
		Tokens:     tokens,
		DurationMS: duration,
		Success:    success,
		ToolsUsed:  tools,
		Timestamp:  e.Timestamp,
	})
	if err != nil {
		slog.Error("mark agent completed", "agent_id", agentID, "error", err)
	}
}

// findActiveAgent picks the most recently started active execution in the
// session, for stop events that lost their agent id.
func (in *Ingestor) findActiveAgent(ctx context.Context, sessionID string) string {
	active, err := in.agents.ActiveExecutions(ctx)
	if err != nil {
		slog.Warn("list active executions", "error", err)
		return ""
	}
	var best *store.AgentExecution
	for i := range active {
		a := &active[i]
		if a.SessionID != sessionID {
			continue
		}
		if best == nil || a.StartTime > best.StartTime {
			best = a
		}
	}
	if best == nil {
		return ""
	}
	return best.AgentID
}

// recoverTools extracts distinct tool names from the session's Pre/PostToolUse
// events, in first-use order.
func (in *Ingestor) recoverTools(ctx context.Context, sessionID string) []string {
	events, err := in.events.SessionToolEvents(ctx, sessionID)
	if err != nil {
		slog.Warn("recover tools", "session_id", sessionID, "error", err)
		return nil
	}
	seen := make(map[string]bool)
	var tools []string
	for i := range events {
		var p store.EventPayload
		if json.Unmarshal(events[i].Payload, &p) != nil {
			continue
		}
		if p.ToolName == "" || seen[p.ToolName] {
			continue
		}
		seen[p.ToolName] = true
		tools = append(tools, p.ToolName)
	}
	return tools
}

func (in *Ingestor) broadcastCoverage(ctx context.Context) {
	if in.coverage == nil {
		return
	}
	cov, err := in.coverage.Snapshot(ctx)
	if err != nil {
		slog.Warn("hook coverage snapshot", "error", err)
		return
	}
	in.bus.Broadcast(bus.Frame{Type: bus.FrameHookStatusUpdate, Data: cov})
}
