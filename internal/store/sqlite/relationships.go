package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/nextlevelbuilder/agentscope/internal/store"
)

const relationshipColumns = `id, parent_session_id, child_session_id, relationship_type,
	spawn_reason, delegation_type, spawn_metadata, created_at, completed_at,
	depth_level, session_path`

// maxAncestryWalk bounds the insert-time cycle check and lineage walks.
const maxAncestryWalk = 100

// InsertRelationship writes a parent -> child edge. The edge is rejected
// with ErrConstraint when the parent is already a descendant of the child
// or the child already has a different parent. Re-inserting an existing
// (parent, child) pair returns the existing id.
func (s *Store) InsertRelationship(ctx context.Context, r *store.SessionRelationship) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if r.ParentSessionID == r.ChildSessionID {
		return 0, fmt.Errorf("self edge %s: %w", r.ChildSessionID, store.ErrConstraint)
	}

	// Ancestry check: walking up from the parent must never reach the child.
	cur := r.ParentSessionID
	for i := 0; i < maxAncestryWalk && cur != ""; i++ {
		if cur == r.ChildSessionID {
			return 0, fmt.Errorf("edge %s -> %s would create a cycle: %w",
				r.ParentSessionID, r.ChildSessionID, store.ErrConstraint)
		}
		edge, err := s.ParentEdge(ctx, cur)
		if err == store.ErrNotFound {
			break
		}
		if err != nil {
			return 0, err
		}
		cur = edge.ParentSessionID
	}

	if existing, err := s.edgeBetween(ctx, r.ParentSessionID, r.ChildSessionID); err == nil {
		return existing.ID, nil
	} else if err != store.ErrNotFound {
		return 0, err
	}

	// A child has at most one parent edge.
	if edge, err := s.ParentEdge(ctx, r.ChildSessionID); err == nil {
		return 0, fmt.Errorf("session %s already has parent %s: %w",
			r.ChildSessionID, edge.ParentSessionID, store.ErrConstraint)
	} else if err != store.ErrNotFound {
		return 0, err
	}

	if r.DepthLevel == 0 || r.SessionPath == "" {
		parentDepth := 0
		parentPath := r.ParentSessionID
		if edge, err := s.ParentEdge(ctx, r.ParentSessionID); err == nil {
			parentDepth = edge.DepthLevel
			if edge.SessionPath != "" {
				parentPath = edge.SessionPath
			}
		} else if err != store.ErrNotFound {
			return 0, err
		}
		if r.DepthLevel == 0 {
			r.DepthLevel = parentDepth + 1
		}
		if r.SessionPath == "" {
			r.SessionPath = parentPath + "." + r.ChildSessionID
		}
	}
	if r.RelationshipType == "" {
		r.RelationshipType = store.RelParentChild
	}

	var meta any
	if len(r.SpawnMetadata) > 0 {
		meta = string(r.SpawnMetadata)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO session_relationships (parent_session_id, child_session_id,
			relationship_type, spawn_reason, delegation_type, spawn_metadata,
			created_at, depth_level, session_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ParentSessionID, r.ChildSessionID, r.RelationshipType,
		nilStr(r.SpawnReason), nilStr(r.DelegationType), meta,
		r.CreatedAt, r.DepthLevel, nilStr(r.SessionPath))
	if err != nil {
		return 0, fmt.Errorf("insert relationship: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("relationship id: %w", err)
	}
	r.ID = id
	return id, nil
}

// CompleteRelationship stamps completed_at on the (parent, child) edge.
func (s *Store) CompleteRelationship(ctx context.Context, parentID, childID string, ts int64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE session_relationships SET completed_at = ?
		 WHERE parent_session_id = ? AND child_session_id = ? AND completed_at IS NULL`,
		ts, parentID, childID)
	if err != nil {
		return fmt.Errorf("complete relationship: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.edgeBetween(ctx, parentID, childID); err != nil {
			return err
		}
	}
	return nil
}

// ParentEdge returns the edge whose child is sessionID.
func (s *Store) ParentEdge(ctx context.Context, sessionID string) (*store.SessionRelationship, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+relationshipColumns+` FROM session_relationships
		 WHERE child_session_id = ? ORDER BY created_at LIMIT 1`, sessionID)
	r, err := scanRelationship(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return r, err
}

// ChildEdges returns the edges whose parent is sessionID in insertion order.
func (s *Store) ChildEdges(ctx context.Context, sessionID string) ([]store.SessionRelationship, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+relationshipColumns+` FROM session_relationships
		 WHERE parent_session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("child edges: %w", err)
	}
	defer rows.Close()

	var edges []store.SessionRelationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, *r)
	}
	return edges, rows.Err()
}

// RelationshipStats aggregates the relationship graph between start and end
// (ms, 0 = open).
func (s *Store) RelationshipStats(ctx context.Context, start, end int64) (*store.RelationshipStats, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if end == 0 {
		end = int64(1) << 62
	}

	stats := &store.RelationshipStats{
		ByType:           map[string]int64{},
		BySpawnReason:    map[string]int64{},
		ByDelegationType: map[string]int64{},
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(AVG(depth_level), 0),
			COALESCE(MAX(depth_level), 0),
			SUM(CASE WHEN completed_at IS NOT NULL THEN 1 ELSE 0 END)
		 FROM session_relationships WHERE created_at >= ? AND created_at <= ?`,
		start, end).Scan(&stats.Total, &stats.AvgDepth, &stats.MaxDepth, &stats.Completed)
	if err != nil {
		return nil, fmt.Errorf("relationship stats: %w", err)
	}
	if stats.Total > 0 {
		stats.CompletionRate = float64(stats.Completed) / float64(stats.Total)
	}

	for _, q := range []struct {
		column string
		dest   map[string]int64
	}{
		{"relationship_type", stats.ByType},
		{"spawn_reason", stats.BySpawnReason},
		{"delegation_type", stats.ByDelegationType},
	} {
		rows, err := s.db.QueryContext(ctx,
			`SELECT COALESCE(`+q.column+`, ''), COUNT(*) FROM session_relationships
			 WHERE created_at >= ? AND created_at <= ? GROUP BY `+q.column,
			start, end)
		if err != nil {
			return nil, fmt.Errorf("relationship stats by %s: %w", q.column, err)
		}
		for rows.Next() {
			var (
				key string
				n   int64
			)
			if err := rows.Scan(&key, &n); err != nil {
				rows.Close()
				return nil, err
			}
			if key != "" {
				q.dest[key] = n
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return stats, nil
}

func (s *Store) edgeBetween(ctx context.Context, parentID, childID string) (*store.SessionRelationship, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+relationshipColumns+` FROM session_relationships
		 WHERE parent_session_id = ? AND child_session_id = ?`, parentID, childID)
	r, err := scanRelationship(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return r, err
}

func scanRelationship(row rowScanner) (*store.SessionRelationship, error) {
	var (
		r                              store.SessionRelationship
		reason, delegation, meta, path *string
		completed                      *int64
	)
	err := row.Scan(&r.ID, &r.ParentSessionID, &r.ChildSessionID, &r.RelationshipType,
		&reason, &delegation, &meta, &r.CreatedAt, &completed, &r.DepthLevel, &path)
	if err != nil {
		return nil, err
	}
	r.SpawnReason = derefStr(reason)
	r.DelegationType = derefStr(delegation)
	if meta != nil {
		r.SpawnMetadata = json.RawMessage(*meta)
	}
	r.CompletedAt = derefInt(completed)
	r.SessionPath = derefStr(path)
	return &r, nil
}
