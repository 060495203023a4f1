package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nextlevelbuilder/agentscope/internal/ingest"
	"github.com/nextlevelbuilder/agentscope/internal/store"
)

// EventsHandler serves event ingestion and event queries.
type EventsHandler struct {
	ingest      *ingest.Ingestor
	events      store.EventStore
	recentLimit int
}

// DefaultRecentLimit caps GET /events/recent.
const DefaultRecentLimit = 2000

// NewEventsHandler creates the handler; recentLimit bounds GET /events/recent.
func NewEventsHandler(ingestor *ingest.Ingestor, events store.EventStore, recentLimit int) *EventsHandler {
	if recentLimit <= 0 {
		recentLimit = DefaultRecentLimit
	}
	return &EventsHandler{ingest: ingestor, events: events, recentLimit: recentLimit}
}

// RegisterRoutes registers the event routes on the given mux.
func (h *EventsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /events", h.handleIngest)
	mux.HandleFunc("GET /events/recent", h.handleRecent)
	mux.HandleFunc("GET /events/filter-options", h.handleFilterOptions)
	mux.HandleFunc("GET /events/correlated", h.handleCorrelated)
}

func (h *EventsHandler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var e store.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, fmt.Errorf("invalid JSON: %w", store.ErrValidation))
		return
	}
	stored, err := h.ingest.Ingest(r.Context(), &e)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (h *EventsHandler) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	if limit <= 0 || limit > h.recentLimit {
		limit = h.recentLimit
	}
	events, err := h.events.RecentEvents(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []store.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *EventsHandler) handleFilterOptions(w http.ResponseWriter, r *http.Request) {
	opts, err := h.events.FilterOptions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

func (h *EventsHandler) handleCorrelated(w http.ResponseWriter, r *http.Request) {
	correlationID := r.URL.Query().Get("correlation_id")
	limit := queryInt(r, "limit", 50)
	pairs, err := h.events.CorrelatedEvents(r.Context(), correlationID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if pairs == nil {
		pairs = []store.CorrelatedPair{}
	}
	writeJSON(w, http.StatusOK, pairs)
}
