package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Monitor tracks cache liveness with periodic pings and capability probes,
// and notifies subscribers on status transitions.
type Monitor struct {
	client   Client
	interval time.Duration

	mu          sync.RWMutex
	status      ConnectionStatus
	subscribers map[string]func(ConnectionStatus)
}

// NewMonitor creates a monitor over client; interval defaults to 60s.
func NewMonitor(client Client, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Monitor{
		client:      client,
		interval:    interval,
		subscribers: make(map[string]func(ConnectionStatus)),
	}
}

// Run checks connectivity on the configured interval until ctx is done.
// The first check fires immediately.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check pings the cache once and updates the status.
func (m *Monitor) Check(ctx context.Context) ConnectionStatus {
	start := time.Now()
	err := m.client.Ping(ctx)
	status := ConnectionStatus{
		IsConnected: err == nil,
		LastCheck:   time.Now(),
		LatencyMS:   time.Since(start).Milliseconds(),
	}
	if err != nil {
		status.LastError = err.Error()
	}
	m.update(status)
	return status
}

// Probe runs the full capability probe: ping plus a minimal write of each
// primitive kind against ephemeral keys.
func (m *Monitor) Probe(ctx context.Context) error {
	if err := m.client.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	key := "probe:" + uuid.NewString()
	steps := []struct {
		name string
		fn   func() error
	}{
		{"set", func() error { return m.client.SetEx(ctx, key, "1", time.Minute) }},
		{"hset", func() error { return m.client.HSet(ctx, key+":h", "f", "1") }},
		{"hincrby", func() error { return m.client.HIncrBy(ctx, key+":h", "n", 1) }},
		{"sadd", func() error { return m.client.SAdd(ctx, key+":s", "m") }},
		{"zadd", func() error { return m.client.ZAdd(ctx, key+":z", 1, "m") }},
		{"lpush", func() error { return m.client.LPush(ctx, key+":l", "v") }},
		{"expire", func() error { return m.client.Expire(ctx, key+":h", time.Minute) }},
		{"del", func() error { return m.client.Del(ctx, key, key+":h", key+":s", key+":z", key+":l") }},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return fmt.Errorf("probe %s: %w", step.name, err)
		}
	}
	return nil
}

// Status returns the last observed connection status.
func (m *Monitor) Status() ConnectionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Subscribe registers fn for status-change notifications and returns an
// unsubscribe func.
func (m *Monitor) Subscribe(fn func(ConnectionStatus)) func() {
	id := uuid.NewString()
	m.mu.Lock()
	m.subscribers[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

// MarkDisconnected forces the status to disconnected, used when a cache
// failure is observed outside the ping loop.
func (m *Monitor) MarkDisconnected(err error) {
	status := ConnectionStatus{IsConnected: false, LastCheck: time.Now()}
	if err != nil {
		status.LastError = err.Error()
	}
	m.update(status)
}

func (m *Monitor) update(status ConnectionStatus) {
	m.mu.Lock()
	changed := m.status.IsConnected != status.IsConnected
	m.status = status
	var fns []func(ConnectionStatus)
	if changed {
		fns = make([]func(ConnectionStatus), 0, len(m.subscribers))
		for _, fn := range m.subscribers {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()

	if changed {
		slog.Info("cache connectivity changed", "connected", status.IsConnected, "error", status.LastError)
		for _, fn := range fns {
			fn(status)
		}
	}
}

// RunWithFallback returns primary's result while the cache is connected and
// primary succeeds; otherwise it invokes fallback. A primary failure marks
// the cache disconnected.
func RunWithFallback[T any](ctx context.Context, m *Monitor, primary, fallback func(context.Context) (T, error)) (T, error) {
	if m.Status().IsConnected {
		v, err := primary(ctx)
		if err == nil {
			return v, nil
		}
		m.MarkDisconnected(err)
	}
	return fallback(ctx)
}
