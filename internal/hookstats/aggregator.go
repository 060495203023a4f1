// Package hookstats computes rolling per-hook-type coverage statistics over
// the event log.
package hookstats

import (
	"context"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/agentscope/internal/store"
)

// Hook statuses.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusError    = "error"
)

// HookStatus is one hook type's coverage snapshot.
type HookStatus struct {
	HookType             string  `json:"hook_type"`
	ExecutionCount       int64   `json:"executionCount"`
	ExecutionRate        string  `json:"executionRate"` // "N/day" over the last 24h
	LastExecution        int64   `json:"lastExecution,omitempty"`
	SuccessRate          float64 `json:"successRate"`
	AverageExecutionTime float64 `json:"averageExecutionTime"`
	Status               string  `json:"status"`
	LastError            string  `json:"lastError,omitempty"`
}

// Coverage is the full snapshot pushed after every event insertion.
type Coverage struct {
	Hooks          []HookStatus `json:"hooks"`
	ActiveCount    int          `json:"active_count"`
	InactiveCount  int          `json:"inactive_count"`
	ErrorCount     int          `json:"error_count"`
	AvgSuccessRate float64      `json:"avg_success_rate"`
	GeneratedAt    int64        `json:"generated_at"`
}

// Aggregator computes coverage on demand.
type Aggregator struct {
	events store.EventStore
	now    func() time.Time // test hook
}

// New creates an aggregator over the event store.
func New(events store.EventStore) *Aggregator {
	return &Aggregator{events: events, now: time.Now}
}

// Snapshot computes coverage for every known hook type. Types never seen in
// the log report as inactive with zero counts.
func (a *Aggregator) Snapshot(ctx context.Context) (*Coverage, error) {
	now := a.now()
	since := now.Add(-24 * time.Hour).UnixMilli()

	stats, err := a.events.HookTypeStats(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("hook coverage: %w", err)
	}
	byType := make(map[string]store.HookTypeStat, len(stats))
	for _, st := range stats {
		byType[st.HookType] = st
	}

	cov := &Coverage{GeneratedAt: now.UnixMilli()}
	var rateSum float64
	var rated int
	for _, hookType := range store.HookEventTypes {
		st := byType[hookType]
		hs := HookStatus{
			HookType:             hookType,
			ExecutionCount:       st.TotalCount,
			ExecutionRate:        fmt.Sprintf("%d/day", st.Count24h),
			LastExecution:        st.LastExecution,
			AverageExecutionTime: st.AvgDurationMS,
			LastError:            st.LastError,
		}
		if st.TotalCount > 0 {
			hs.SuccessRate = float64(st.SuccessCount) / float64(st.TotalCount)
			rateSum += hs.SuccessRate
			rated++
		}
		switch {
		case st.ErrorCount24h > 0:
			hs.Status = StatusError
			cov.ErrorCount++
		case st.TotalCount == 0:
			hs.Status = StatusInactive
			cov.InactiveCount++
		default:
			hs.Status = StatusActive
			cov.ActiveCount++
		}
		cov.Hooks = append(cov.Hooks, hs)
	}
	if rated > 0 {
		cov.AvgSuccessRate = rateSum / float64(rated)
	}
	return cov, nil
}
