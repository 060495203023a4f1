package store

import "encoding/json"

// Known hook event types emitted by agent lifecycle checkpoints.
const (
	HookSessionStart     = "SessionStart"
	HookSessionEnd       = "SessionEnd"
	HookUserPromptSubmit = "UserPromptSubmit"
	HookPreToolUse       = "PreToolUse"
	HookPostToolUse      = "PostToolUse"
	HookSubagentStart    = "SubagentStart"
	HookSubagentStop     = "SubagentStop"
	HookNotification     = "Notification"
	HookPreCompact       = "PreCompact"
	HookStop             = "Stop"
)

// HookEventTypes lists every known hook type in canonical order.
var HookEventTypes = []string{
	HookSessionStart,
	HookSessionEnd,
	HookUserPromptSubmit,
	HookPreToolUse,
	HookPostToolUse,
	HookSubagentStart,
	HookSubagentStop,
	HookNotification,
	HookPreCompact,
	HookStop,
}

// Event is one ingested hook record. Immutable once persisted; the ID is
// assigned by the store in strictly increasing persistence order.
type Event struct {
	ID                int64           `json:"id"`
	SourceApp         string          `json:"source_app"`
	SessionID         string          `json:"session_id"`
	HookEventType     string          `json:"hook_event_type"`
	Timestamp         int64           `json:"timestamp"` // ms since epoch
	Payload           json.RawMessage `json:"payload"`
	ParentSessionID   string          `json:"parent_session_id,omitempty"`
	SessionDepth      int             `json:"session_depth,omitempty"` // 1-based
	WaveID            string          `json:"wave_id,omitempty"`
	DelegationContext json.RawMessage `json:"delegation_context,omitempty"`
	CorrelationID     string          `json:"correlation_id,omitempty"`
	DurationMS        int64           `json:"duration,omitempty"`
	Error             string          `json:"error,omitempty"`
	Summary           string          `json:"summary,omitempty"`
}

// EventPayload holds the well-known payload fields the core reads for
// lifecycle derivation. Everything else stays opaque in Event.Payload.
type EventPayload struct {
	AgentID         string          `json:"agent_id,omitempty"`
	AgentName       string          `json:"agent_name,omitempty"`
	AgentType       string          `json:"agent_type,omitempty"`
	TaskDescription string          `json:"task_description,omitempty"`
	ToolName        string          `json:"tool_name,omitempty"`
	ToolsUsed       []string        `json:"tools_used,omitempty"`
	ToolsGranted    []string        `json:"tools_granted,omitempty"`
	TokensUsed      int64           `json:"tokens_used,omitempty"`
	InputTokens     int64           `json:"input_tokens,omitempty"`
	OutputTokens    int64           `json:"output_tokens,omitempty"`
	Duration        int64           `json:"duration,omitempty"`
	Result          *bool           `json:"result,omitempty"`
	Error           json.RawMessage `json:"error,omitempty"`
	SpawnReason     string          `json:"spawn_reason,omitempty"`
	DelegationType  string          `json:"delegation_type,omitempty"`
}

// HasError reports whether the payload carries a truthy error value.
func (p *EventPayload) HasError() bool {
	if len(p.Error) == 0 {
		return false
	}
	s := string(p.Error)
	return s != "null" && s != "false" && s != `""`
}

// Agent execution statuses. Transitions are active -> complete | failed.
const (
	AgentActive   = "active"
	AgentComplete = "complete"
	AgentFailed   = "failed"
)

// AgentExecution is one run of a subagent, inserted at SubagentStart and
// terminalized at SubagentStop.
type AgentExecution struct {
	AgentID         string          `json:"agent_id"` // ag_<timestamp>_<random>
	AgentName       string          `json:"agent_name"`
	AgentType       string          `json:"agent_type"`
	Status          string          `json:"status"`
	StartTime       int64           `json:"start_time"`
	EndTime         int64           `json:"end_time,omitempty"`
	DurationMS      int64           `json:"duration_ms,omitempty"`
	SessionID       string          `json:"session_id"`
	TaskDescription string          `json:"task_description,omitempty"`
	ToolsGranted    []string        `json:"tools_granted,omitempty"`
	InputTokens     int64           `json:"input_tokens"`
	OutputTokens    int64           `json:"output_tokens"`
	TotalTokens     int64           `json:"total_tokens"`
	EstimatedCost   int64           `json:"estimated_cost"` // hundredths of a cent
	Performance     json.RawMessage `json:"performance,omitempty"`
	SourceApp       string          `json:"source_app,omitempty"`
	Progress        int             `json:"progress"` // 0-100
}

// MetricRecord is one row per agent-terminal event, immutable once written.
type MetricRecord struct {
	ID            int64  `json:"id"`
	Timestamp     int64  `json:"timestamp"`
	SessionID     string `json:"session_id"`
	AgentType     string `json:"agent_type"`
	AgentName     string `json:"agent_name,omitempty"`
	Tokens        int64  `json:"tokens"`
	DurationMS    int64  `json:"duration_ms"`
	Success       bool   `json:"success"`
	EstimatedCost int64  `json:"estimated_cost"` // hundredths of a cent
	ToolName      string `json:"tool_name,omitempty"`
	SourceApp     string `json:"source_app,omitempty"`
}

// Timeline metric types.
const (
	MetricExecutions = "executions"
	MetricTokens     = "tokens"
	MetricDuration   = "duration"
	MetricCost       = "cost"
)

// TimelinePoint is a single time-series sample. Zero values are never stored.
type TimelinePoint struct {
	Timestamp  int64   `json:"timestamp"`
	MetricType string  `json:"metric_type"`
	Value      float64 `json:"value"`
	AgentType  string  `json:"agent_type,omitempty"`
	SourceApp  string  `json:"source_app,omitempty"`
}

// Session is the persisted projection of events for one session.
type Session struct {
	SessionID       string          `json:"session_id"`
	SourceApp       string          `json:"source_app"`
	SessionType     string          `json:"session_type,omitempty"`
	ParentSessionID string          `json:"parent_session_id,omitempty"`
	StartTime       int64           `json:"start_time"`
	EndTime         int64           `json:"end_time,omitempty"`
	DurationMS      int64           `json:"duration_ms,omitempty"`
	Status          string          `json:"status"`
	AgentCount      int             `json:"agent_count"`
	TotalTokens     int64           `json:"total_tokens"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
}

// Relationship types between sessions.
const (
	RelParentChild = "parent/child"
	RelWaveMember  = "wave_member"
)

// Delegation types carried on a relationship edge.
const (
	DelegationIsolated = "isolated"
	DelegationShared   = "shared"
	DelegationOther    = "other"
)

// SessionRelationship is a directed parent -> child edge. A child has at
// most one parent and the induced graph is acyclic.
type SessionRelationship struct {
	ID               int64           `json:"id"`
	ParentSessionID  string          `json:"parent_session_id"`
	ChildSessionID   string          `json:"child_session_id"`
	RelationshipType string          `json:"relationship_type"`
	SpawnReason      string          `json:"spawn_reason,omitempty"`
	DelegationType   string          `json:"delegation_type,omitempty"`
	SpawnMetadata    json.RawMessage `json:"spawn_metadata,omitempty"`
	CreatedAt        int64           `json:"created_at"`
	CompletedAt      int64           `json:"completed_at,omitempty"`
	DepthLevel       int             `json:"depth_level"`            // 1-based from root
	SessionPath      string          `json:"session_path,omitempty"` // dotted ancestry
}

// Sync operation kinds, mirroring the cache primitives they replay.
const (
	OpSet          = "set"
	OpSetEx        = "setex"
	OpDel          = "del"
	OpHSet         = "hset"
	OpHIncrBy      = "hincrby"
	OpHIncrByFloat = "hincrbyfloat"
	OpSAdd         = "sadd"
	OpSRem         = "srem"
	OpZAdd         = "zadd"
	OpZIncrBy      = "zincrby"
	OpExpire       = "expire"
	OpLPush        = "lpush"
	OpLTrim        = "ltrim"
)

// Sync operation statuses.
const (
	SyncPending = "pending"
	SyncSynced  = "synced"
	SyncFailed  = "failed"
)

// SyncOperation is one deferred cache mutation, replayed in created_at order
// per key when the cache recovers.
type SyncOperation struct {
	ID          int64   `json:"id"`
	Kind        string  `json:"operation"`
	Key         string  `json:"key"`
	Value       string  `json:"value,omitempty"`
	Field       string  `json:"field,omitempty"`
	Score       float64 `json:"score,omitempty"`
	TTLSeconds  int     `json:"ttl,omitempty"`
	CreatedAt   int64   `json:"created_at"`
	Status      string  `json:"status"`
	Attempts    int     `json:"attempts"`
	LastAttempt int64   `json:"last_attempt,omitempty"`
}

// SyncQueueStats summarizes the deferred sync queue.
type SyncQueueStats struct {
	Pending int `json:"pending"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
}

// FilterOptions lists the distinct values available for event filtering.
type FilterOptions struct {
	SourceApps     []string `json:"source_apps"`
	HookEventTypes []string `json:"hook_event_types"`
}

// CorrelatedPair couples a PreToolUse and PostToolUse event sharing a
// correlation id, ordered by timestamp.
type CorrelatedPair struct {
	CorrelationID string `json:"correlation_id"`
	Pre           *Event `json:"pre,omitempty"`
	Post          *Event `json:"post,omitempty"`
}

// Handoff is a per-project content blob with a "latest" pointer.
type Handoff struct {
	Project string          `json:"project"`
	Content json.RawMessage `json:"content"`
	SavedAt int64           `json:"saved_at"`
	File    string          `json:"file,omitempty"`
}
