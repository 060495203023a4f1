// Package gateway is the HTTP/WebSocket front door: it owns the listener,
// the stream endpoint, and route registration for the REST handlers.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/agentscope/internal/bus"
	"github.com/nextlevelbuilder/agentscope/internal/config"
	"github.com/nextlevelbuilder/agentscope/internal/store"
)

// RouteRegistrar is implemented by the REST handlers.
type RouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// Server is the gateway server handling WebSocket and HTTP connections.
type Server struct {
	cfg      *config.Config
	bus      *bus.Bus
	events   store.EventStore
	agents   store.AgentStore
	handlers []RouteRegistrar

	upgrader   websocket.Upgrader
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a gateway server fronting the given handlers.
func NewServer(cfg *config.Config, b *bus.Bus, events store.EventStore, agents store.AgentStore, handlers ...RouteRegistrar) *Server {
	s := &Server{
		cfg:      cfg,
		bus:      b,
		events:   events,
		agents:   agents,
		handlers: handlers,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin validates the WebSocket origin against the configured
// whitelist. No configured origins means allow all; an empty Origin header
// (non-browser clients) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("stream origin rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /stream", s.handleStream)
	mux.HandleFunc("GET /health", s.handleHealth)
	for _, h := range s.handlers {
		h.RegisterRoutes(mux)
	}
	s.mux = mux
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleStream upgrades the connection, replays the initial snapshot, and
// attaches the client to the broadcast bus.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("stream upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := newClient(conn, s.cfg.Stream.BroadcastHighWater)
	slog.Info("stream client connected", "id", client.id, "remote", r.RemoteAddr)

	if err := s.sendInitial(r.Context(), client); err != nil {
		slog.Warn("initial snapshot failed", "id", client.id, "error", err)
		client.Close()
		return
	}

	s.bus.Subscribe(client.id, client.TrySend)
	go client.writePump(func() { s.bus.Unsubscribe(client.id) })
	go client.readPump(func() { s.bus.Unsubscribe(client.id) })
}

// sendInitial queues the recent-events snapshot and the terminal status
// snapshot before the client joins the live broadcast.
func (s *Server) sendInitial(ctx context.Context, c *client) error {
	limit := s.cfg.Stream.InitialRecentEvents
	if limit <= 0 {
		limit = 500
	}
	events, err := s.events.RecentEvents(ctx, limit)
	if err != nil {
		return err
	}
	if events == nil {
		events = []store.Event{}
	}
	if err := c.TrySend(bus.Frame{Type: bus.FrameInitial, Data: events}); err != nil {
		return err
	}

	active, err := s.agents.ActiveExecutions(ctx)
	if err != nil {
		return err
	}
	recent, err := s.agents.RecentTerminal(ctx, 20)
	if err != nil {
		return err
	}
	return c.TrySend(bus.Frame{Type: bus.FrameTerminalStatus, Data: map[string]any{
		"active":          active,
		"recent_terminal": recent,
	}})
}

// Start runs the HTTP server until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr(),
		Handler:           s.BuildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
