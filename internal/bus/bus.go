// Package bus fans server-side updates out to stream subscribers.
package bus

import (
	"log/slog"
	"sync"
)

// Frame is one message delivered over the stream.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Frame types pushed to subscribers.
const (
	FrameInitial               = "initial"
	FrameEvent                 = "event"
	FrameTerminalStatus        = "terminal_status"
	FrameAgentStatusUpdate     = "agent_status_update"
	FrameHookStatusUpdate      = "hook_status_update"
	FrameRelationshipCreated   = "relationship_created"
	FrameRelationshipUpdated   = "relationship_updated"
	FrameSessionSpawn          = "session_spawn"
	FrameChildSessionCompleted = "child_session_completed"
	FrameAgentStarted          = "agent_started"
	FrameAgentCompleted        = "agent_completed"
)

// SendFunc delivers one frame to a subscriber. A non-nil error ejects the
// subscriber from the registry.
type SendFunc func(Frame) error

// Publisher abstracts broadcast + subscription so services stay decoupled
// from the concrete bus.
type Publisher interface {
	Subscribe(id string, send SendFunc)
	Unsubscribe(id string)
	Broadcast(frame Frame)
}

// Bus is the subscriber registry. Delivery is best-effort and drop-on-error:
// a failing subscriber is removed and never retried. Sends to distinct
// subscribers are independent; ordering is strict per subscriber only.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]SendFunc
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string]SendFunc)}
}

// Subscribe registers a subscriber under id, replacing any previous one.
func (b *Bus) Subscribe(id string, send SendFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = send
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Count returns the number of registered subscribers.
func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Broadcast delivers the frame once per subscriber. Iteration happens over
// a snapshot so subscriber add/remove during delivery is safe.
func (b *Bus) Broadcast(frame Frame) {
	b.mu.RLock()
	type sub struct {
		id   string
		send SendFunc
	}
	subs := make([]sub, 0, len(b.subscribers))
	for id, send := range b.subscribers {
		subs = append(subs, sub{id, send})
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if err := s.send(frame); err != nil {
			slog.Debug("dropping subscriber", "id", s.id, "error", err)
			b.Unsubscribe(s.id)
		}
	}
}
