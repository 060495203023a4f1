package http

import (
	"net/http"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/agentscope/internal/store"
)

func postEvent(t *testing.T, e *env, body string) store.Event {
	t.Helper()
	w := e.do(t, http.MethodPost, "/events", body)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /events = %d: %s", w.Code, w.Body.String())
	}
	var out store.Event
	decodeBody(t, w, &out)
	return out
}

func TestIngestEndpoint(t *testing.T) {
	e := newTestEnv(t)

	out := postEvent(t, e, `{"source_app":"app","session_id":"s1",
		"hook_event_type":"UserPromptSubmit","payload":{"prompt":"hi"}}`)
	if out.ID == 0 || out.Timestamp == 0 {
		t.Errorf("stored event = %+v, want id and timestamp assigned", out)
	}

	tests := []struct {
		name string
		body string
	}{
		{"malformed JSON", `{"source_app":`},
		{"missing session_id", `{"source_app":"app","hook_event_type":"Stop","payload":{}}`},
		{"missing payload", `{"source_app":"app","session_id":"s1","hook_event_type":"Stop"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := e.do(t, http.MethodPost, "/events", tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("code = %d, want 400", w.Code)
			}
		})
	}
}

func TestRecentEventsEndpoint(t *testing.T) {
	e := newTestEnv(t)

	if w := e.do(t, http.MethodGet, "/events/recent", ""); strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("empty store body = %q, want []", w.Body.String())
	}

	for i := 0; i < 3; i++ {
		postEvent(t, e, `{"source_app":"app","session_id":"s1","hook_event_type":"Stop","payload":{}}`)
	}
	w := e.do(t, http.MethodGet, "/events/recent?limit=2", "")
	var events []store.Event
	decodeBody(t, w, &events)
	if len(events) != 2 {
		t.Errorf("len = %d, want limit 2", len(events))
	}

	// Out-of-range limits collapse to the handler cap rather than erroring.
	w = e.do(t, http.MethodGet, "/events/recent?limit=-5", "")
	decodeBody(t, w, &events)
	if len(events) != 3 {
		t.Errorf("len = %d, want all 3", len(events))
	}
}

func TestRecentEventsDefaultCap(t *testing.T) {
	h := NewEventsHandler(nil, nil, 0)
	if h.recentLimit != DefaultRecentLimit {
		t.Errorf("recentLimit = %d, want %d", h.recentLimit, DefaultRecentLimit)
	}
	if DefaultRecentLimit != 2000 {
		t.Errorf("DefaultRecentLimit = %d, want 2000", DefaultRecentLimit)
	}
}

func TestFilterOptionsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	postEvent(t, e, `{"source_app":"app","session_id":"s1","hook_event_type":"Stop","payload":{}}`)

	w := e.do(t, http.MethodGet, "/events/filter-options", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	var opts store.FilterOptions
	decodeBody(t, w, &opts)
	if len(opts.SourceApps) != 1 || opts.SourceApps[0] != "app" {
		t.Errorf("source apps = %v", opts.SourceApps)
	}
}

func TestCorrelatedEndpoint(t *testing.T) {
	e := newTestEnv(t)

	if w := e.do(t, http.MethodGet, "/events/correlated", ""); strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("empty store body = %q, want []", w.Body.String())
	}

	postEvent(t, e, `{"source_app":"app","session_id":"s1","hook_event_type":"PreToolUse",
		"correlation_id":"c1","payload":{"tool_name":"bash"}}`)
	postEvent(t, e, `{"source_app":"app","session_id":"s1","hook_event_type":"PostToolUse",
		"correlation_id":"c1","payload":{"tool_name":"bash"}}`)

	w := e.do(t, http.MethodGet, "/events/correlated?correlation_id=c1", "")
	var pairs []store.CorrelatedPair
	decodeBody(t, w, &pairs)
	if len(pairs) != 1 || pairs[0].Pre == nil || pairs[0].Post == nil {
		t.Fatalf("pairs = %+v", pairs)
	}
}
