package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/nextlevelbuilder/agentscope/internal/store"
)

var projectNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// SaveHandoff writes the content file plus the latest pointer for project.
func (s *Store) SaveHandoff(ctx context.Context, project string, content []byte) (*store.Handoff, error) {
	if !projectNameRe.MatchString(project) {
		return nil, fmt.Errorf("invalid project name %q", project)
	}
	if !json.Valid(content) {
		return nil, fmt.Errorf("handoff content is not valid JSON")
	}

	now := time.Now().UTC()
	name := fmt.Sprintf("%s_%s.json", project, now.Format("2006-01-02T15-04-05"))
	dir := filepath.Join(s.dir, "handoffs")

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return nil, fmt.Errorf("write handoff: %w", err)
	}

	latest := filepath.Join(dir, "latest_"+project+".json")
	pointer, _ := json.Marshal(map[string]string{"file": name, "saved_at": now.Format(time.RFC3339)})
	if err := os.WriteFile(latest, pointer, 0o644); err != nil {
		return nil, fmt.Errorf("write latest pointer: %w", err)
	}

	return &store.Handoff{
		Project: project,
		Content: json.RawMessage(content),
		SavedAt: now.UnixMilli(),
		File:    name,
	}, nil
}

// LatestHandoff resolves the latest pointer and returns its content.
func (s *Store) LatestHandoff(ctx context.Context, project string) (*store.Handoff, error) {
	if !projectNameRe.MatchString(project) {
		return nil, fmt.Errorf("invalid project name %q", project)
	}
	dir := filepath.Join(s.dir, "handoffs")

	pointerData, err := os.ReadFile(filepath.Join(dir, "latest_"+project+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("read latest pointer: %w", err)
	}
	var pointer struct {
		File    string `json:"file"`
		SavedAt string `json:"saved_at"`
	}
	if err := json.Unmarshal(pointerData, &pointer); err != nil {
		return nil, fmt.Errorf("parse latest pointer: %w", err)
	}

	content, err := os.ReadFile(filepath.Join(dir, filepath.Base(pointer.File)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("read handoff: %w", err)
	}

	h := &store.Handoff{Project: project, Content: json.RawMessage(content), File: pointer.File}
	if t, err := time.Parse(time.RFC3339, pointer.SavedAt); err == nil {
		h.SavedAt = t.UnixMilli()
	}
	return h, nil
}
