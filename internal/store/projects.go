package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/oklog/ulid/v2"

	"github.com/strongdm/promptwheel/internal/model"
)

// CreateProject inserts a new project row.
func (s *Store) CreateProject(ctx context.Context, p model.Project) (model.Project, error) {
	if p.ID == "" {
		p.ID = ulid.Make().String()
	}
	now := nowRFC3339()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO projects (id, name, repo_url, root_path, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		p.ID, p.Name, p.RepoURL, p.RootPath, now, now,
	)
	if err != nil {
		return model.Project{}, err
	}
	p.CreatedAt, p.UpdatedAt = parseTime(now), parseTime(now)
	return p, nil
}

// GetProject fetches a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (model.Project, error) {
	var p model.Project
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, repo_url, root_path, created_at, updated_at FROM projects WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &p.RepoURL, &p.RootPath, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return model.Project{}, &ErrNotFound{Entity: "project", ID: id}
	}
	if err != nil {
		return model.Project{}, err
	}
	p.CreatedAt, p.UpdatedAt = parseTime(createdAt), parseTime(updatedAt)
	return p, nil
}

// GetProjectByRootPath looks up a project by its checkout path, used by the
// CLI to find-or-create the single project row backing a given repo.Path.
func (s *Store) GetProjectByRootPath(ctx context.Context, rootPath string) (model.Project, error) {
	var p model.Project
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, repo_url, root_path, created_at, updated_at FROM projects WHERE root_path = ?", rootPath,
	).Scan(&p.ID, &p.Name, &p.RepoURL, &p.RootPath, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return model.Project{}, &ErrNotFound{Entity: "project", ID: rootPath}
	}
	if err != nil {
		return model.Project{}, err
	}
	p.CreatedAt, p.UpdatedAt = parseTime(createdAt), parseTime(updatedAt)
	return p, nil
}

// EnsureProject returns the existing project for rootPath, creating one
// named name if none exists yet.
func (s *Store) EnsureProject(ctx context.Context, name, rootPath string) (model.Project, error) {
	p, err := s.GetProjectByRootPath(ctx, rootPath)
	if err == nil {
		return p, nil
	}
	var notFound *ErrNotFound
	if !errors.As(err, &notFound) {
		return model.Project{}, err
	}
	return s.CreateProject(ctx, model.Project{Name: name, RootPath: rootPath})
}
