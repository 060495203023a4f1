package metrics

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nextlevelbuilder/agentscope/internal/bus"
	"github.com/nextlevelbuilder/agentscope/internal/classify"
	"github.com/nextlevelbuilder/agentscope/internal/store"
)

// StartData describes a starting subagent.
type StartData struct {
	AgentName       string          `json:"agent_name"`
	AgentType       string          `json:"agent_type,omitempty"`
	SessionID       string          `json:"session_id"`
	SourceApp       string          `json:"source_app,omitempty"`
	TaskDescription string          `json:"task_description,omitempty"`
	ToolsGranted    []string        `json:"tools_granted,omitempty"`
	Performance     json.RawMessage `json:"performance,omitempty"`
	Timestamp       int64           `json:"timestamp,omitempty"`
}

// CompleteData describes a finishing subagent.
type CompleteData struct {
	AgentID    string   `json:"agent_id"`
	AgentName  string   `json:"agent_name,omitempty"`
	AgentType  string   `json:"agent_type,omitempty"`
	SessionID  string   `json:"session_id,omitempty"`
	SourceApp  string   `json:"source_app,omitempty"`
	Tokens     int64    `json:"tokens_used,omitempty"`
	DurationMS int64    `json:"duration,omitempty"`
	Success    bool     `json:"success"`
	ToolsUsed  []string `json:"tools_used,omitempty"`
	Timestamp  int64    `json:"timestamp,omitempty"`
}

// NewAgentID builds an agent identifier of the form ag_<timestamp>_<random>.
func NewAgentID(now time.Time) string {
	buf := make([]byte, 4)
	rand.Read(buf)
	return fmt.Sprintf("ag_%d_%s", now.UnixMilli(), hex.EncodeToString(buf))
}

// MarkAgentStarted registers a new active execution and returns its agent id.
// Consumers observe started before completed for any single agent id.
func (s *Service) MarkAgentStarted(ctx context.Context, data StartData) (string, error) {
	now := time.Now()
	if data.Timestamp == 0 {
		data.Timestamp = now.UnixMilli()
	}
	agentID := NewAgentID(now)
	agentType := classify.AgentType(data.AgentType, data.AgentName, data.TaskDescription)

	exec := &store.AgentExecution{
		AgentID:         agentID,
		AgentName:       data.AgentName,
		AgentType:       agentType,
		Status:          store.AgentActive,
		StartTime:       data.Timestamp,
		SessionID:       data.SessionID,
		TaskDescription: data.TaskDescription,
		ToolsGranted:    data.ToolsGranted,
		Performance:     data.Performance,
		SourceApp:       data.SourceApp,
	}
	if err := s.agents.InsertExecution(ctx, exec); err != nil {
		return "", err
	}

	agentKey := keyAgentPrefix + agentID
	s.applyOrQueue(ctx, []store.SyncOperation{
		{Kind: store.OpHSet, Key: agentKey, Field: "agent_name", Value: data.AgentName},
		{Kind: store.OpHSet, Key: agentKey, Field: "agent_type", Value: agentType},
		{Kind: store.OpHSet, Key: agentKey, Field: "session_id", Value: data.SessionID},
		{Kind: store.OpHSet, Key: agentKey, Field: "start_time", Value: strconv.FormatInt(data.Timestamp, 10)},
		{Kind: store.OpExpire, Key: agentKey, TTLSeconds: int(ttlActiveAgent / time.Second)},
		{Kind: store.OpSAdd, Key: keyActiveAgents, Value: agentID},
	})

	// Lifecycle events flow through the same metric pipeline; start events
	// carry no terminal measures so this records nothing yet.
	synthetic := s.syntheticEvent(store.HookSubagentStart, data.SessionID, data.SourceApp, data.Timestamp, map[string]any{
		"agent_id":   agentID,
		"agent_name": data.AgentName,
		"agent_type": agentType,
	})
	if err := s.RecordMetric(ctx, synthetic); err != nil {
		return "", err
	}

	if s.bus != nil {
		s.bus.Broadcast(bus.Frame{Type: bus.FrameAgentStarted, Data: exec})
		s.broadcastAgentStatus(ctx, agentID, store.AgentActive)
	}
	return agentID, nil
}

// MarkAgentCompleted terminalizes an execution and records its metrics.
// Calling it twice for the same id leaves a single terminal row and does
// not grow aggregates.
func (s *Service) MarkAgentCompleted(ctx context.Context, data CompleteData) error {
	if data.AgentID == "" {
		return fmt.Errorf("agent_id required: %w", store.ErrNotFound)
	}
	if data.Timestamp == 0 {
		data.Timestamp = time.Now().UnixMilli()
	}

	status := store.AgentComplete
	if !data.Success {
		status = store.AgentFailed
	}
	done, err := s.agents.CompleteExecution(ctx, data.AgentID, status, data.Timestamp, data.DurationMS, data.Tokens)
	if err != nil {
		return err
	}

	agentKey := keyAgentPrefix + data.AgentID
	s.applyOrQueue(ctx, []store.SyncOperation{
		{Kind: store.OpSRem, Key: keyActiveAgents, Value: data.AgentID},
		{Kind: store.OpDel, Key: agentKey},
	})

	// Already terminal: the cache cleanup above is harmless to repeat, but
	// aggregates must not grow twice.
	if !done {
		return nil
	}

	exec, err := s.agents.GetExecution(ctx, data.AgentID)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"agent_id":    data.AgentID,
		"agent_name":  firstNonEmpty(data.AgentName, exec.AgentName),
		"agent_type":  firstNonEmpty(data.AgentType, exec.AgentType),
		"tokens_used": data.Tokens,
		"duration":    data.DurationMS,
		"tools_used":  data.ToolsUsed,
		"result":      data.Success,
	}
	synthetic := s.syntheticEvent(store.HookSubagentStop,
		firstNonEmpty(data.SessionID, exec.SessionID),
		firstNonEmpty(data.SourceApp, exec.SourceApp),
		data.Timestamp, payload)
	if err := s.RecordMetric(ctx, synthetic); err != nil {
		return err
	}

	if s.bus != nil {
		s.bus.Broadcast(bus.Frame{Type: bus.FrameAgentCompleted, Data: exec})
		s.broadcastAgentStatus(ctx, data.AgentID, status)
	}
	return nil
}

// broadcastAgentStatus announces an agent's status change plus the current
// active headcount so dashboards can update their counters without a refetch.
func (s *Service) broadcastAgentStatus(ctx context.Context, agentID, status string) {
	active, err := s.agents.ActiveCount(ctx)
	if err != nil {
		active = 0
	}
	s.bus.Broadcast(bus.Frame{Type: bus.FrameAgentStatusUpdate, Data: map[string]any{
		"agent_id":     agentID,
		"status":       status,
		"active_count": active,
	}})
}

func (s *Service) syntheticEvent(hookType, sessionID, sourceApp string, ts int64, payload map[string]any) *store.Event {
	raw, _ := json.Marshal(payload)
	return &store.Event{
		SourceApp:     sourceApp,
		SessionID:     sessionID,
		HookEventType: hookType,
		Timestamp:     ts,
		Payload:       raw,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
