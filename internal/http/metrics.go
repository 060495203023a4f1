package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nextlevelbuilder/agentscope/internal/metrics"
	"github.com/nextlevelbuilder/agentscope/internal/store"
)

// MetricsHandler serves the agent metrics API.
type MetricsHandler struct {
	metrics *metrics.Service
}

// NewMetricsHandler creates the handler.
func NewMetricsHandler(service *metrics.Service) *MetricsHandler {
	return &MetricsHandler{metrics: service}
}

// RegisterRoutes registers the metrics routes on the given mux.
func (h *MetricsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/agents/metrics/current", h.handleCurrent)
	mux.HandleFunc("GET /api/agents/metrics/timeline", h.handleTimeline)
	mux.HandleFunc("GET /api/agents/types/distribution", h.handleDistribution)
	mux.HandleFunc("GET /api/agents/tools/usage", h.handleToolUsage)
	mux.HandleFunc("GET /api/agents/active", h.handleActive)
	mux.HandleFunc("POST /api/agents/start", h.handleStart)
	mux.HandleFunc("POST /api/agents/complete", h.handleComplete)
}

func (h *MetricsHandler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	start := queryInt64(r, "start", 0)
	end := queryInt64(r, "end", 0)
	m, err := h.metrics.CurrentMetrics(r.Context(), start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *MetricsHandler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24)
	start := queryInt64(r, "start", 0)
	end := queryInt64(r, "end", 0)
	buckets, err := h.metrics.Timeline(r.Context(), hours, start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

func (h *MetricsHandler) handleDistribution(w http.ResponseWriter, r *http.Request) {
	dist, err := h.metrics.TypeDistribution(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dist)
}

func (h *MetricsHandler) handleToolUsage(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	report, err := h.metrics.ToolUsage(r.Context(), days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *MetricsHandler) handleActive(w http.ResponseWriter, r *http.Request) {
	active, err := h.metrics.ActiveAgents(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": active,
		"count":  len(active),
	})
}

func (h *MetricsHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	var data metrics.StartData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, fmt.Errorf("invalid JSON: %w", store.ErrValidation))
		return
	}
	if data.AgentName == "" || data.SessionID == "" {
		writeError(w, fmt.Errorf("agent_name and session_id required: %w", store.ErrValidation))
		return
	}
	agentID, err := h.metrics.MarkAgentStarted(r.Context(), data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"agent_id": agentID})
}

func (h *MetricsHandler) handleComplete(w http.ResponseWriter, r *http.Request) {
	var data metrics.CompleteData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, fmt.Errorf("invalid JSON: %w", store.ErrValidation))
		return
	}
	if data.AgentID == "" {
		writeError(w, fmt.Errorf("agent_id required: %w", store.ErrValidation))
		return
	}
	if err := h.metrics.MarkAgentCompleted(r.Context(), data); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}
