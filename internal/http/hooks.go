package http

import (
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/nextlevelbuilder/agentscope/internal/hookstats"
	"github.com/nextlevelbuilder/agentscope/internal/store"
)

// HooksHandler serves hook coverage and per-hook-type drill-downs.
type HooksHandler struct {
	coverage *hookstats.Aggregator
	events   store.EventStore
}

// NewHooksHandler creates the handler.
func NewHooksHandler(coverage *hookstats.Aggregator, events store.EventStore) *HooksHandler {
	return &HooksHandler{coverage: coverage, events: events}
}

// RegisterRoutes registers the hook routes on the given mux.
func (h *HooksHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/hooks/coverage", h.handleCoverage)
	mux.HandleFunc("GET /api/hooks/{type}/events", h.handleEvents)
	mux.HandleFunc("GET /api/hooks/{type}/metrics", h.handleMetrics)
	mux.HandleFunc("GET /api/hooks/{type}/context", h.handleContext)
	mux.HandleFunc("GET /api/hooks/{type}/execution-context", h.handleExecutionContext)
}

func (h *HooksHandler) handleCoverage(w http.ResponseWriter, r *http.Request) {
	cov, err := h.coverage.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cov)
}

func (h *HooksHandler) hookType(r *http.Request) (string, error) {
	hookType := r.PathValue("type")
	if !slices.Contains(store.HookEventTypes, hookType) {
		return "", fmt.Errorf("unknown hook type %q: %w", hookType, store.ErrNotFound)
	}
	return hookType, nil
}

func (h *HooksHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	hookType, err := h.hookType(r)
	if err != nil {
		writeError(w, err)
		return
	}
	limit := queryInt(r, "limit", 50)
	since := queryInt64(r, "since", 0)
	events, err := h.events.EventsByHookType(r.Context(), hookType, since, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []store.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *HooksHandler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	hookType, err := h.hookType(r)
	if err != nil {
		writeError(w, err)
		return
	}
	since := time.Now().Add(-24 * time.Hour).UnixMilli()
	stats, err := h.events.HookTypeStats(r.Context(), since)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, st := range stats {
		if st.HookType == hookType {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
	writeJSON(w, http.StatusOK, store.HookTypeStat{HookType: hookType})
}

// handleContext returns the coverage entry for one hook type together with
// its most recent events.
func (h *HooksHandler) handleContext(w http.ResponseWriter, r *http.Request) {
	hookType, err := h.hookType(r)
	if err != nil {
		writeError(w, err)
		return
	}
	cov, err := h.coverage.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	var status *hookstats.HookStatus
	for i := range cov.Hooks {
		if cov.Hooks[i].HookType == hookType {
			status = &cov.Hooks[i]
			break
		}
	}
	events, err := h.events.EventsByHookType(r.Context(), hookType, 0, 10)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []store.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hook_type":     hookType,
		"status":        status,
		"recent_events": events,
	})
}

// handleExecutionContext returns the events a hook of this type would see:
// the last day of activity with payloads included.
func (h *HooksHandler) handleExecutionContext(w http.ResponseWriter, r *http.Request) {
	hookType, err := h.hookType(r)
	if err != nil {
		writeError(w, err)
		return
	}
	since := time.Now().Add(-24 * time.Hour).UnixMilli()
	limit := queryInt(r, "limit", 100)
	events, err := h.events.EventsByHookType(r.Context(), hookType, since, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []store.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hook_type": hookType,
		"since":     since,
		"events":    events,
	})
}
