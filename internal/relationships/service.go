// Package relationships answers queries over the session graph: neighbors,
// trees, lineage, and spawn bookkeeping.
package relationships

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/agentscope/internal/bus"
	"github.com/nextlevelbuilder/agentscope/internal/store"
)

// DefaultTreeDepth bounds tree traversal when the caller does not say.
const DefaultTreeDepth = 10

// Service reads and mutates session relationships.
type Service struct {
	relationships store.RelationshipStore
	sessions      store.SessionStore
	bus           bus.Publisher
}

// New wires the service. publisher may be nil.
func New(relationships store.RelationshipStore, sessions store.SessionStore, publisher bus.Publisher) *Service {
	return &Service{relationships: relationships, sessions: sessions, bus: publisher}
}

// View is the neighbor view of one session.
type View struct {
	SessionID string                      `json:"session_id"`
	Parent    *store.SessionRelationship  `json:"parent,omitempty"`
	Children  []store.SessionRelationship `json:"children,omitempty"`
	Siblings  []store.SessionRelationship `json:"siblings,omitempty"`
	Depth     int                         `json:"depth"`
	Path      string                      `json:"path,omitempty"`
}

// ViewOptions selects which parts of the neighbor view to materialize.
type ViewOptions struct {
	IncludeParent   bool
	IncludeChildren bool
	IncludeSiblings bool
}

// TreeNode is one node of a session tree.
type TreeNode struct {
	SessionID        string         `json:"session_id"`
	RelationshipType string         `json:"relationship_type,omitempty"`
	SpawnReason      string         `json:"spawn_reason,omitempty"`
	Depth            int            `json:"depth"`
	CompletedAt      int64          `json:"completed_at,omitempty"`
	Session          *store.Session `json:"session,omitempty"`
	Children         []*TreeNode    `json:"children"`
}

// SpawnData registers a parent -> child edge.
type SpawnData struct {
	ParentSessionID string          `json:"parent_session_id"`
	ChildSessionID  string          `json:"child_session_id"`
	SpawnReason     string          `json:"spawn_reason,omitempty"`
	DelegationType  string          `json:"delegation_type,omitempty"`
	WaveID          string          `json:"wave_id,omitempty"`
	SessionDepth    int             `json:"session_depth,omitempty"`
	SpawnMetadata   json.RawMessage `json:"spawn_metadata,omitempty"`
}

// GetView returns the requested neighbor slices of sessionID. A session with
// no parent edge has depth 1 and a single-element path.
func (s *Service) GetView(ctx context.Context, sessionID string, opts ViewOptions) (*View, error) {
	view := &View{SessionID: sessionID, Depth: 1, Path: sessionID}

	parent, err := s.relationships.ParentEdge(ctx, sessionID)
	switch {
	case err == nil:
		view.Depth = parent.DepthLevel
		if parent.SessionPath != "" {
			view.Path = parent.SessionPath
		}
		if opts.IncludeParent {
			view.Parent = parent
		}
	case errorsIsNotFound(err):
		parent = nil
	default:
		return nil, err
	}

	if opts.IncludeChildren {
		children, err := s.relationships.ChildEdges(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		view.Children = children
	}

	if opts.IncludeSiblings && parent != nil {
		edges, err := s.relationships.ChildEdges(ctx, parent.ParentSessionID)
		if err != nil {
			return nil, err
		}
		siblings := make([]store.SessionRelationship, 0, len(edges))
		for _, e := range edges {
			if e.ChildSessionID != sessionID {
				siblings = append(siblings, e)
			}
		}
		view.Siblings = siblings
	}
	return view, nil
}

// BuildTree materializes the subtree rooted at sessionID down to maxDepth
// levels below the root; maxDepth 0 returns the root alone. Already-visited
// sessions are not descended into, so a corrupted graph cannot loop.
func (s *Service) BuildTree(ctx context.Context, sessionID string, maxDepth int) (*TreeNode, error) {
	if maxDepth < 0 {
		maxDepth = DefaultTreeDepth
	}
	visited := map[string]bool{sessionID: true}
	root := &TreeNode{SessionID: sessionID, Depth: 0, Children: []*TreeNode{}}
	s.attachSession(ctx, root)
	if err := s.expand(ctx, root, maxDepth, visited); err != nil {
		return nil, err
	}
	return root, nil
}

func (s *Service) expand(ctx context.Context, node *TreeNode, maxDepth int, visited map[string]bool) error {
	if node.Depth >= maxDepth {
		return nil
	}
	edges, err := s.relationships.ChildEdges(ctx, node.SessionID)
	if err != nil {
		return err
	}
	for _, e := range edges {
		if visited[e.ChildSessionID] {
			continue
		}
		visited[e.ChildSessionID] = true
		child := &TreeNode{
			SessionID:        e.ChildSessionID,
			RelationshipType: e.RelationshipType,
			SpawnReason:      e.SpawnReason,
			Depth:            node.Depth + 1,
			CompletedAt:      e.CompletedAt,
			Children:         []*TreeNode{},
		}
		s.attachSession(ctx, child)
		if err := s.expand(ctx, child, maxDepth, visited); err != nil {
			return err
		}
		node.Children = append(node.Children, child)
	}
	return nil
}

func (s *Service) attachSession(ctx context.Context, node *TreeNode) {
	if s.sessions == nil {
		return
	}
	sess, err := s.sessions.GetSession(ctx, node.SessionID)
	if err == nil {
		node.Session = sess
	}
}

// Lineage returns the ancestor chain of sessionID, root first, ending with
// the session itself.
func (s *Service) Lineage(ctx context.Context, sessionID string) ([]string, error) {
	chain := []string{sessionID}
	visited := map[string]bool{sessionID: true}
	current := sessionID
	for {
		edge, err := s.relationships.ParentEdge(ctx, current)
		if errorsIsNotFound(err) {
			break
		}
		if err != nil {
			return nil, err
		}
		if visited[edge.ParentSessionID] {
			return nil, fmt.Errorf("lineage of %s: %w", sessionID, store.ErrCycle)
		}
		visited[edge.ParentSessionID] = true
		chain = append([]string{edge.ParentSessionID}, chain...)
		current = edge.ParentSessionID
	}
	return chain, nil
}

// RegisterSpawn records a parent -> child edge and announces it. Depth and
// path default from the parent's edge when the caller does not supply a depth.
func (s *Service) RegisterSpawn(ctx context.Context, data SpawnData) (*store.SessionRelationship, error) {
	if data.ParentSessionID == "" || data.ChildSessionID == "" {
		return nil, fmt.Errorf("parent_session_id and child_session_id required: %w", store.ErrConstraint)
	}
	relType := store.RelParentChild
	if data.WaveID != "" {
		relType = store.RelWaveMember
	}
	rel := &store.SessionRelationship{
		ParentSessionID:  data.ParentSessionID,
		ChildSessionID:   data.ChildSessionID,
		RelationshipType: relType,
		SpawnReason:      data.SpawnReason,
		DelegationType:   data.DelegationType,
		SpawnMetadata:    data.SpawnMetadata,
		CreatedAt:        time.Now().UnixMilli(),
		DepthLevel:       data.SessionDepth,
	}
	id, err := s.relationships.InsertRelationship(ctx, rel)
	if err != nil {
		return nil, err
	}
	rel.ID = id

	if s.bus != nil {
		s.bus.Broadcast(bus.Frame{Type: bus.FrameSessionSpawn, Data: rel})
		s.bus.Broadcast(bus.Frame{Type: bus.FrameRelationshipCreated, Data: rel})
	}
	return rel, nil
}

// MarkChildCompleted stamps the edge's completion time and announces it.
// Completing an already-completed edge keeps the original timestamp.
func (s *Service) MarkChildCompleted(ctx context.Context, parentID, childID string, ts int64) error {
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	if err := s.relationships.CompleteRelationship(ctx, parentID, childID, ts); err != nil {
		return err
	}
	if s.bus != nil {
		payload := map[string]any{
			"parent_session_id": parentID,
			"child_session_id":  childID,
			"completed_at":      ts,
		}
		s.bus.Broadcast(bus.Frame{Type: bus.FrameChildSessionCompleted, Data: payload})
		s.bus.Broadcast(bus.Frame{Type: bus.FrameRelationshipUpdated, Data: payload})
	}
	return nil
}

// Stats returns aggregate relationship statistics for the window.
func (s *Service) Stats(ctx context.Context, start, end int64) (*store.RelationshipStats, error) {
	return s.relationships.RelationshipStats(ctx, start, end)
}

func errorsIsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
