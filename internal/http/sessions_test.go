package http

import (
	"net/http"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/agentscope/internal/relationships"
	"github.com/nextlevelbuilder/agentscope/internal/store"
)

func spawnSession(t *testing.T, e *env, parent, child string) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/sessions/spawn",
		`{"parent_session_id":"`+parent+`","child_session_id":"`+child+`"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("spawn %s -> %s = %d: %s", parent, child, w.Code, w.Body.String())
	}
}

func TestSpawnEndpoint(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/api/sessions/spawn",
		`{"parent_session_id":"A","child_session_id":"B","spawn_reason":"subtask"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("code = %d: %s", w.Code, w.Body.String())
	}
	var rel store.SessionRelationship
	decodeBody(t, w, &rel)
	if rel.ID == 0 || rel.ParentSessionID != "A" || rel.ChildSessionID != "B" {
		t.Errorf("rel = %+v", rel)
	}

	if w := e.do(t, http.MethodPost, "/api/sessions/spawn", `{"parent_`); w.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON = %d, want 400", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/api/sessions/spawn", `{"child_session_id":"C"}`); w.Code != http.StatusConflict {
		t.Errorf("missing parent = %d, want 409", w.Code)
	}
	// Completing the loop B -> A must be rejected.
	if w := e.do(t, http.MethodPost, "/api/sessions/spawn",
		`{"parent_session_id":"B","child_session_id":"A"}`); w.Code != http.StatusConflict {
		t.Errorf("cycle = %d, want 409", w.Code)
	}
}

func TestGetSessionEndpoint(t *testing.T) {
	e := newTestEnv(t)
	postEvent(t, e, `{"source_app":"app","session_id":"s1","hook_event_type":"SessionStart","payload":{}}`)

	w := e.do(t, http.MethodGet, "/api/sessions/s1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", w.Code, w.Body.String())
	}
	var sess store.Session
	decodeBody(t, w, &sess)
	if sess.SessionID != "s1" {
		t.Errorf("session = %+v", sess)
	}

	if w := e.do(t, http.MethodGet, "/api/sessions/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown session = %d, want 404", w.Code)
	}
}

func TestRelationshipsViewEndpoint(t *testing.T) {
	e := newTestEnv(t)
	spawnSession(t, e, "A", "B")
	spawnSession(t, e, "A", "C")
	spawnSession(t, e, "B", "D")

	w := e.do(t, http.MethodGet, "/api/sessions/B/relationships?includeSiblings=true", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	var view relationships.View
	decodeBody(t, w, &view)
	if view.Parent == nil || view.Parent.ParentSessionID != "A" {
		t.Errorf("parent = %+v", view.Parent)
	}
	if len(view.Children) != 1 || len(view.Siblings) != 1 {
		t.Errorf("children/siblings = %d/%d", len(view.Children), len(view.Siblings))
	}

	w = e.do(t, http.MethodGet, "/api/sessions/B/relationships?includeParent=false&includeChildren=false", "")
	view = relationships.View{}
	decodeBody(t, w, &view)
	if view.Parent != nil || view.Children != nil {
		t.Errorf("filtered view = %+v", view)
	}

	// snake_case spellings still work.
	w = e.do(t, http.MethodGet, "/api/sessions/B/relationships?include_siblings=true", "")
	view = relationships.View{}
	decodeBody(t, w, &view)
	if len(view.Siblings) != 1 {
		t.Errorf("snake alias siblings = %d, want 1", len(view.Siblings))
	}
}

func TestChildrenEndpoint(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/api/sessions/lonely/children", "")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("no children body = %q, want []", w.Body.String())
	}

	spawnSession(t, e, "A", "B")
	w = e.do(t, http.MethodGet, "/api/sessions/A/children", "")
	var children []store.SessionRelationship
	decodeBody(t, w, &children)
	if len(children) != 1 || children[0].ChildSessionID != "B" {
		t.Errorf("children = %+v", children)
	}
}

func TestTreeEndpoint(t *testing.T) {
	e := newTestEnv(t)
	spawnSession(t, e, "A", "B")
	spawnSession(t, e, "B", "C")

	w := e.do(t, http.MethodGet, "/api/sessions/A/tree", "")
	var tree relationships.TreeNode
	decodeBody(t, w, &tree)
	if len(tree.Children) != 1 || len(tree.Children[0].Children) != 1 {
		t.Fatalf("tree = %+v", tree)
	}

	w = e.do(t, http.MethodGet, "/api/sessions/A/tree?maxDepth=1", "")
	decodeBody(t, w, &tree)
	if len(tree.Children) != 1 || len(tree.Children[0].Children) != 0 {
		t.Errorf("maxDepth=1 tree descended too far")
	}

	w = e.do(t, http.MethodGet, "/api/sessions/A/tree?maxDepth=0", "")
	decodeBody(t, w, &tree)
	if tree.SessionID != "A" || len(tree.Children) != 0 {
		t.Errorf("maxDepth=0 tree = %+v, want bare root", tree)
	}

	// "depth" is accepted as an alias.
	w = e.do(t, http.MethodGet, "/api/sessions/A/tree?depth=1", "")
	decodeBody(t, w, &tree)
	if len(tree.Children) != 1 || len(tree.Children[0].Children) != 0 {
		t.Errorf("depth alias descended too far")
	}
}

func TestLineageEndpoint(t *testing.T) {
	e := newTestEnv(t)
	spawnSession(t, e, "A", "B")
	spawnSession(t, e, "B", "C")

	w := e.do(t, http.MethodGet, "/api/sessions/C/lineage", "")
	var resp struct {
		SessionID string   `json:"session_id"`
		Lineage   []string `json:"lineage"`
		Depth     int      `json:"depth"`
	}
	decodeBody(t, w, &resp)
	if resp.Depth != 3 || len(resp.Lineage) != 3 || resp.Lineage[0] != "A" {
		t.Errorf("lineage = %+v", resp)
	}
}

func TestChildCompletedEndpoint(t *testing.T) {
	e := newTestEnv(t)
	spawnSession(t, e, "A", "B")

	w := e.do(t, http.MethodPost, "/api/sessions/A/child_completed",
		`{"child_session_id":"B","completed_at":5000}`)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", w.Code, w.Body.String())
	}

	if w := e.do(t, http.MethodPost, "/api/sessions/A/child_completed", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing child = %d, want 400", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/api/sessions/A/child_completed",
		`{"child_session_id":"nope"}`); w.Code != http.StatusNotFound {
		t.Errorf("unknown edge = %d, want 404", w.Code)
	}
}

func TestRelationshipStatsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	spawnSession(t, e, "A", "B")

	w := e.do(t, http.MethodGet, "/api/relationships/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	var stats store.RelationshipStats
	decodeBody(t, w, &stats)
	if stats.Total != 1 {
		t.Errorf("stats = %+v", stats)
	}
}
