package store

// TypeBreakdown is one agent type's share of the current metrics window.
type TypeBreakdown struct {
	Type          string  `json:"type"`
	Count         int64   `json:"count"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
	TotalTokens   int64   `json:"total_tokens"`
}

// CurrentMetrics is the live snapshot served by /api/agents/metrics/current.
type CurrentMetrics struct {
	ActiveAgents       int             `json:"active_agents"`
	ExecutionsToday    int64           `json:"executions_today"`
	SuccessRate        float64         `json:"success_rate"` // 0..1
	AvgDurationMS      float64         `json:"avg_duration_ms"`
	TokensUsedToday    int64           `json:"tokens_used_today"`
	EstimatedCostToday float64         `json:"estimated_cost_today"` // dollars
	AgentTypeBreakdown []TypeBreakdown `json:"agent_type_breakdown"`
}

// TimelineBucket is one hour of the execution timeline.
type TimelineBucket struct {
	Timestamp       int64   `json:"timestamp"`
	Executions      int64   `json:"executions"`
	Tokens          int64   `json:"tokens"`
	Cost            float64 `json:"cost"`
	AvgDurationMS   float64 `json:"avg_duration_ms"`
	AgentTypesCount int     `json:"agent_types_count"`
	DominantType    string  `json:"dominant_agent_type,omitempty"`
}

// TypeDistribution is one agent type's share of all executions.
type TypeDistribution struct {
	Type          string   `json:"type"`
	Count         int64    `json:"count"`
	Percentage    float64  `json:"percentage"`
	AvgDurationMS float64  `json:"avg_duration_ms"`
	SuccessRate   float64  `json:"success_rate"`
	CommonTools   []string `json:"common_tools"`
}

// ToolUsage is one tool's aggregate usage over the query period.
type ToolUsage struct {
	Name            string  `json:"name"`
	UsageCount      int64   `json:"usage_count"`
	Percentage      float64 `json:"percentage"`
	AgentTypesUsing int     `json:"agent_types_using"`
	AvgPerExecution float64 `json:"avg_per_execution"`
}

// ToolUsageInsights summarizes the tool usage report.
type ToolUsageInsights struct {
	MostUsedTool     string `json:"most_used_tool,omitempty"`
	LeastUsedTool    string `json:"least_used_tool,omitempty"`
	TotalUniqueTools int    `json:"total_unique_tools"`
}

// ToolUsageReport is the full /api/agents/tools/usage response body.
type ToolUsageReport struct {
	Period   string            `json:"period"`
	Tools    []ToolUsage       `json:"tools"`
	Insights ToolUsageInsights `json:"insights"`
}

// HookTypeStat is the per-hook-type aggregate the coverage aggregator reads.
type HookTypeStat struct {
	HookType      string  `json:"hook_type"`
	TotalCount    int64   `json:"total_count"`
	Count24h      int64   `json:"count_24h"`
	ErrorCount24h int64   `json:"error_count_24h"`
	SuccessCount  int64   `json:"success_count"` // all-time rows without error
	LastExecution int64   `json:"last_execution,omitempty"`
	AvgDurationMS float64 `json:"avg_duration_ms"`      // over rows with positive duration
	LastError     string  `json:"last_error,omitempty"` // latest error within 24h
}

// RelationshipStats aggregates the relationship graph over a time range.
type RelationshipStats struct {
	Total            int64            `json:"total"`
	ByType           map[string]int64 `json:"by_type"`
	BySpawnReason    map[string]int64 `json:"by_spawn_reason"`
	ByDelegationType map[string]int64 `json:"by_delegation_type"`
	AvgDepth         float64          `json:"avg_depth"`
	MaxDepth         int              `json:"max_depth"`
	Completed        int64            `json:"completed"`
	CompletionRate   float64          `json:"completion_rate"`
}
