package store

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/strongdm/promptwheel/internal/model"
)

// SaveArtifact persists a JSON blob produced during a run (spec §3 "Artifact").
func (s *Store) SaveArtifact(ctx context.Context, a model.Artifact) (model.Artifact, error) {
	if a.ID == "" {
		a.ID = ulid.Make().String()
	}
	now := nowRFC3339()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO artifacts (id, run_id, type, name, content, path, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		a.ID, a.RunID, a.Type, a.Name, a.Content, a.Path, now,
	)
	if err != nil {
		return model.Artifact{}, err
	}
	a.CreatedAt = parseTime(now)
	return a, nil
}

// ListArtifacts returns artifacts of a given type for a run.
func (s *Store) ListArtifacts(ctx context.Context, runID string, artifactType model.ArtifactType) ([]model.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, run_id, type, name, content, path, created_at FROM artifacts WHERE run_id = ? AND type = ? ORDER BY created_at ASC",
		runID, artifactType,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Artifact
	for rows.Next() {
		var a model.Artifact
		var createdAt string
		if err := rows.Scan(&a.ID, &a.RunID, &a.Type, &a.Name, &a.Content, &a.Path, &createdAt); err != nil {
			return nil, err
		}
		a.CreatedAt = parseTime(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}
