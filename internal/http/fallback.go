package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/agentscope/internal/cache"
	"github.com/nextlevelbuilder/agentscope/internal/metrics"
	"github.com/nextlevelbuilder/agentscope/internal/store"
	"github.com/nextlevelbuilder/agentscope/internal/syncqueue"
)

const maxHandoffBytes = 1 << 20

// FallbackHandler serves the dual-store admin API: connectivity status,
// manual sync triggers, and handoff storage.
type FallbackHandler struct {
	monitor      *cache.Monitor
	breakerState func() string
	metrics      *metrics.Service
	worker       *syncqueue.Worker
	handoffs     store.HandoffStore
	dbPing       func() error
}

// NewFallbackHandler creates the handler. worker may be nil in tests.
func NewFallbackHandler(monitor *cache.Monitor, breakerState func() string,
	metricsService *metrics.Service, worker *syncqueue.Worker,
	handoffs store.HandoffStore, dbPing func() error) *FallbackHandler {
	return &FallbackHandler{
		monitor:      monitor,
		breakerState: breakerState,
		metrics:      metricsService,
		worker:       worker,
		handoffs:     handoffs,
		dbPing:       dbPing,
	}
}

// RegisterRoutes registers the fallback routes on the given mux.
func (h *FallbackHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/fallback/status", h.handleStatus)
	mux.HandleFunc("GET /api/fallback/health", h.handleHealth)
	mux.HandleFunc("POST /api/fallback/test-redis", h.handleTestRedis)
	mux.HandleFunc("POST /api/fallback/sync", h.handleSync)
	mux.HandleFunc("GET /api/fallback/handoffs/{project}", h.handleGetHandoff)
	mux.HandleFunc("POST /api/fallback/handoffs/{project}", h.handleSaveHandoff)
}

func (h *FallbackHandler) mode() string {
	if h.monitor.Status().IsConnected {
		return "redis"
	}
	return "sqlite"
}

func (h *FallbackHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := h.metrics.SyncQueueStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"overall": map[string]any{
			"mode":    h.mode(),
			"breaker": h.breakerState(),
		},
		"redis":      h.monitor.Status(),
		"sync_queue": stats,
	})
}

func (h *FallbackHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	var dbErr string
	if err := h.dbPing(); err != nil {
		dbOK = false
		dbErr = err.Error()
	}
	status := h.monitor.Status()

	body := map[string]any{
		"healthy":         dbOK,
		"database":        map[string]any{"ok": dbOK, "error": dbErr},
		"redis_connected": status.IsConnected,
		"mode":            h.mode(),
		"checked_at":      time.Now().UnixMilli(),
	}
	code := http.StatusOK
	if !dbOK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, body)
}

// handleTestRedis runs the full capability probe against the cache and
// reports per-step results.
func (h *FallbackHandler) handleTestRedis(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	err := h.monitor.Probe(r.Context())
	status := h.monitor.Check(r.Context())
	body := map[string]any{
		"ok":         err == nil,
		"latency_ms": time.Since(start).Milliseconds(),
		"status":     status,
	}
	if err != nil {
		body["error"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// handleSync drains the deferred queue and rebuilds the cache from the
// durable store.
func (h *FallbackHandler) handleSync(w http.ResponseWriter, r *http.Request) {
	if !h.monitor.Status().IsConnected {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "cache not connected"})
		return
	}
	synced := 0
	if h.worker != nil {
		synced = h.worker.DrainAll(r.Context())
	}
	warmErr := h.metrics.SyncCacheFromDatabase(r.Context())
	stats, err := h.metrics.SyncQueueStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	body := map[string]any{
		"synced":     synced,
		"sync_queue": stats,
	}
	if warmErr != nil {
		body["warmup_error"] = warmErr.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *FallbackHandler) handleGetHandoff(w http.ResponseWriter, r *http.Request) {
	handoff, err := h.handoffs.LatestHandoff(r.Context(), r.PathValue("project"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, handoff)
}

func (h *FallbackHandler) handleSaveHandoff(w http.ResponseWriter, r *http.Request) {
	content, err := io.ReadAll(io.LimitReader(r.Body, maxHandoffBytes+1))
	if err != nil {
		writeError(w, err)
		return
	}
	if len(content) > maxHandoffBytes {
		writeError(w, fmt.Errorf("handoff exceeds %d bytes: %w", maxHandoffBytes, store.ErrValidation))
		return
	}
	if !json.Valid(content) {
		writeError(w, fmt.Errorf("handoff must be JSON: %w", store.ErrValidation))
		return
	}
	project := r.PathValue("project")
	handoff, err := h.handoffs.SaveHandoff(r.Context(), project, content)
	if err != nil {
		writeError(w, err)
		return
	}
	h.metrics.MirrorHandoff(r.Context(), project, content)
	writeJSON(w, http.StatusCreated, handoff)
}
