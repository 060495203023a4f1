package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/agentscope/internal/relationships"
	"github.com/nextlevelbuilder/agentscope/internal/store"
)

// SessionsHandler serves the session relationship API.
type SessionsHandler struct {
	rels     *relationships.Service
	sessions store.SessionStore
}

// NewSessionsHandler creates the handler.
func NewSessionsHandler(rels *relationships.Service, sessions store.SessionStore) *SessionsHandler {
	return &SessionsHandler{rels: rels, sessions: sessions}
}

// RegisterRoutes registers the session routes on the given mux.
func (h *SessionsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions/{id}", h.handleGet)
	mux.HandleFunc("GET /api/sessions/{id}/relationships", h.handleRelationships)
	mux.HandleFunc("GET /api/sessions/{id}/children", h.handleChildren)
	mux.HandleFunc("GET /api/sessions/{id}/tree", h.handleTree)
	mux.HandleFunc("GET /api/sessions/{id}/lineage", h.handleLineage)
	mux.HandleFunc("POST /api/sessions/spawn", h.handleSpawn)
	mux.HandleFunc("POST /api/sessions/{id}/child_completed", h.handleChildCompleted)
	mux.HandleFunc("GET /api/relationships/stats", h.handleStats)
}

func (h *SessionsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleRelationships reads includeParent/includeChildren/includeSiblings,
// with snake_case spellings accepted as aliases.
func (h *SessionsHandler) handleRelationships(w http.ResponseWriter, r *http.Request) {
	view, err := h.rels.GetView(r.Context(), r.PathValue("id"), relationships.ViewOptions{
		IncludeParent:   queryBool(r, "includeParent", queryBool(r, "include_parent", true)),
		IncludeChildren: queryBool(r, "includeChildren", queryBool(r, "include_children", true)),
		IncludeSiblings: queryBool(r, "includeSiblings", queryBool(r, "include_siblings", false)),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *SessionsHandler) handleChildren(w http.ResponseWriter, r *http.Request) {
	view, err := h.rels.GetView(r.Context(), r.PathValue("id"), relationships.ViewOptions{
		IncludeChildren: true,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	children := view.Children
	if children == nil {
		children = []store.SessionRelationship{}
	}
	writeJSON(w, http.StatusOK, children)
}

// handleTree reads maxDepth ("depth" accepted as an alias); maxDepth=0
// returns the root alone.
func (h *SessionsHandler) handleTree(w http.ResponseWriter, r *http.Request) {
	depth := queryInt(r, "maxDepth", queryInt(r, "depth", relationships.DefaultTreeDepth))
	if depth < 0 {
		depth = relationships.DefaultTreeDepth
	}
	tree, err := h.rels.BuildTree(r.Context(), r.PathValue("id"), depth)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (h *SessionsHandler) handleLineage(w http.ResponseWriter, r *http.Request) {
	lineage, err := h.rels.Lineage(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": r.PathValue("id"),
		"lineage":    lineage,
		"depth":      len(lineage),
	})
}

func (h *SessionsHandler) handleSpawn(w http.ResponseWriter, r *http.Request) {
	var data relationships.SpawnData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, fmt.Errorf("invalid JSON: %w", store.ErrValidation))
		return
	}
	rel, err := h.rels.RegisterSpawn(r.Context(), data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rel)
}

func (h *SessionsHandler) handleChildCompleted(w http.ResponseWriter, r *http.Request) {
	parentID := r.PathValue("id")
	var req struct {
		ChildSessionID string `json:"child_session_id"`
		CompletedAt    int64  `json:"completed_at,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("invalid JSON: %w", store.ErrValidation))
		return
	}
	if req.ChildSessionID == "" {
		writeError(w, fmt.Errorf("child_session_id required: %w", store.ErrValidation))
		return
	}
	if err := h.rels.MarkChildCompleted(r.Context(), parentID, req.ChildSessionID, req.CompletedAt); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}

func (h *SessionsHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	end := queryInt64(r, "end", time.Now().UnixMilli())
	start := queryInt64(r, "start", 0)
	stats, err := h.rels.Stats(r.Context(), start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
