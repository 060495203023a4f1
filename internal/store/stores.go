package store

import "context"

// Stores is the top-level container for all storage concerns. A single
// backend (the sqlite store) implements every interface; the split lets
// services depend on just the slice they use and lets tests substitute fakes.
type Stores struct {
	Events        EventStore
	Agents        AgentStore
	Metrics       MetricsStore
	Sessions      SessionStore
	Relationships RelationshipStore
	SyncQueue     SyncQueueStore
	Handoffs      HandoffStore
	Retention     RetentionStore
}

// EventStore persists and queries ingested hook events.
type EventStore interface {
	// InsertEvent persists e and returns the assigned id. IDs are strictly
	// increasing in persistence order.
	InsertEvent(ctx context.Context, e *Event) (int64, error)
	// GetEvent returns the event with the given id, or ErrNotFound.
	GetEvent(ctx context.Context, id int64) (*Event, error)
	// RecentEvents returns the most recent limit events, newest last.
	RecentEvents(ctx context.Context, limit int) ([]Event, error)
	// FilterOptions returns the distinct source apps and hook event types.
	FilterOptions(ctx context.Context) (*FilterOptions, error)
	// CorrelatedEvents returns Pre/PostToolUse pairs. When correlationID is
	// empty the most recent limit pairs are returned.
	CorrelatedEvents(ctx context.Context, correlationID string, limit int) ([]CorrelatedPair, error)
	// SessionToolEvents returns the Pre/PostToolUse events of one session in
	// timestamp order, used to recover tools used by a stopping subagent.
	SessionToolEvents(ctx context.Context, sessionID string) ([]Event, error)
	// EventsByHookType returns events of one hook type newer than since,
	// newest first, capped at limit.
	EventsByHookType(ctx context.Context, hookType string, since int64, limit int) ([]Event, error)
	// HookTypeStats returns per-hook-type aggregates; since bounds the
	// rolling 24h measures.
	HookTypeStats(ctx context.Context, since int64) ([]HookTypeStat, error)
}

// AgentStore tracks subagent executions and their terminal status.
type AgentStore interface {
	InsertExecution(ctx context.Context, a *AgentExecution) error
	// CompleteExecution terminalizes the run. Completing an already-terminal
	// execution is a no-op and reports done=false.
	CompleteExecution(ctx context.Context, agentID, status string, endTime, durationMS int64, tokens int64) (done bool, err error)
	GetExecution(ctx context.Context, agentID string) (*AgentExecution, error)
	// ActiveExecutions returns executions still in the active state.
	ActiveExecutions(ctx context.Context) ([]AgentExecution, error)
	ActiveCount(ctx context.Context) (int, error)
	// RecentTerminal returns recently terminalized executions, newest first.
	RecentTerminal(ctx context.Context, limit int) ([]AgentExecution, error)
}

// MetricsStore persists metric records, time buckets, and timeline points,
// and answers the aggregate queries behind the metrics API.
type MetricsStore interface {
	InsertMetricRecord(ctx context.Context, r *MetricRecord) error
	// BumpHourly adds one execution's measures to the (hour, agentType)
	// bucket. Updates are associative and commutative.
	BumpHourly(ctx context.Context, hour, agentType string, durationMS, tokens, cost int64) error
	BumpDaily(ctx context.Context, day string, durationMS, tokens, cost int64) error
	BumpToolUsage(ctx context.Context, tool, day, agentID string) error
	InsertTimelinePoint(ctx context.Context, p *TimelinePoint) error

	CurrentMetrics(ctx context.Context, start, end int64) (*CurrentMetrics, error)
	Timeline(ctx context.Context, start, end int64) ([]TimelineBucket, error)
	TypeDistribution(ctx context.Context) ([]TypeDistribution, error)
	ToolUsageReport(ctx context.Context, start, end int64) (*ToolUsageReport, error)
}

// SessionStore maintains the per-session projection of the event log.
type SessionStore interface {
	// ObserveEvent folds one event into the session projection, creating
	// the session row on first sight.
	ObserveEvent(ctx context.Context, e *Event) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
}

// RelationshipStore persists parent/child session edges.
type RelationshipStore interface {
	// InsertRelationship writes the edge and returns its id. Inserting an
	// edge that would make the parent reachable from the child, or give a
	// child a second parent, fails with ErrConstraint. Re-inserting an
	// existing (parent, child) edge is a no-op returning the existing id.
	InsertRelationship(ctx context.Context, r *SessionRelationship) (int64, error)
	CompleteRelationship(ctx context.Context, parentID, childID string, ts int64) error
	// ParentEdge returns the edge whose child is sessionID, or ErrNotFound.
	ParentEdge(ctx context.Context, sessionID string) (*SessionRelationship, error)
	// ChildEdges returns edges whose parent is sessionID in insertion order.
	ChildEdges(ctx context.Context, sessionID string) ([]SessionRelationship, error)
	RelationshipStats(ctx context.Context, start, end int64) (*RelationshipStats, error)
}

// SyncQueueStore is the durable log of deferred cache mutations.
type SyncQueueStore interface {
	Enqueue(ctx context.Context, op *SyncOperation) error
	// PendingBatch returns up to limit pending operations in created_at order.
	PendingBatch(ctx context.Context, limit int) ([]SyncOperation, error)
	MarkSynced(ctx context.Context, id int64) error
	// MarkAttempt increments the attempt counter; once attempts reach
	// maxRetries the row is marked failed.
	MarkAttempt(ctx context.Context, id int64, maxRetries int) error
	Stats(ctx context.Context) (*SyncQueueStats, error)
}

// HandoffStore saves per-project handoff blobs to content files plus a
// "latest" pointer.
type HandoffStore interface {
	SaveHandoff(ctx context.Context, project string, content []byte) (*Handoff, error)
	LatestHandoff(ctx context.Context, project string) (*Handoff, error)
}

// RetentionStore prunes aged rows and files.
type RetentionStore interface {
	// Sweep deletes events, metric records, timeline points, and hour/day
	// buckets older than cutoff, synced sync-queue rows older than a day,
	// and handoff files older than cutoff except "latest" pointers.
	Sweep(ctx context.Context, cutoff int64) error
}
