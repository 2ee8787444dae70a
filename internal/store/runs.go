package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/oklog/ulid/v2"

	"github.com/strongdm/promptwheel/internal/model"
)

// CreateRun inserts a new run record in RunPending status.
func (s *Store) CreateRun(ctx context.Context, r model.Run) (model.Run, error) {
	if r.ID == "" {
		r.ID = ulid.Make().String()
	}
	if r.Status == "" {
		r.Status = model.RunPending
	}
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return model.Run{}, err
	}
	now := nowRFC3339()
	var ticketID any
	if r.TicketID != "" {
		ticketID = r.TicketID
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, ticket_id, project_id, type, status, iteration, max_iterations,
			started_at, completed_at, error, metadata, pr_url, pr_number, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?, ?, ?, ?, ?)`,
		r.ID, ticketID, r.ProjectID, r.Type, r.Status, r.Iteration, r.MaxIterations,
		r.Error, string(meta), r.PRURL, r.PRNumber, now,
	)
	if err != nil {
		return model.Run{}, err
	}
	r.CreatedAt = parseTime(now)
	return r, nil
}

func scanRun(row interface{ Scan(...any) error }) (model.Run, error) {
	var r model.Run
	var ticketID, startedAt, completedAt, meta, createdAt sql.NullString
	if err := row.Scan(&r.ID, &ticketID, &r.ProjectID, &r.Type, &r.Status, &r.Iteration, &r.MaxIterations,
		&startedAt, &completedAt, &r.Error, &meta, &r.PRURL, &r.PRNumber, &createdAt); err != nil {
		return model.Run{}, err
	}
	r.TicketID = ticketID.String
	if startedAt.Valid {
		t := parseTime(startedAt.String)
		r.StartedAt = &t
	}
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		r.CompletedAt = &t
	}
	json.Unmarshal([]byte(meta.String), &r.Metadata)
	r.CreatedAt = parseTime(createdAt.String)
	return r, nil
}

const runColumns = `id, ticket_id, project_id, type, status, iteration, max_iterations,
	started_at, completed_at, error, metadata, pr_url, pr_number, created_at`

// GetRun fetches a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (model.Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return model.Run{}, &ErrNotFound{Entity: "run", ID: id}
	}
	return r, err
}

// UpdateRunStatus transitions a run's status and, for terminal states,
// stamps completed_at.
func (s *Store) UpdateRunStatus(ctx context.Context, id string, status model.RunStatus, errMsg string) error {
	var completedAt any
	if status == model.RunSuccess || status == model.RunFailure {
		completedAt = nowRFC3339()
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE runs SET status = ?, error = ?, completed_at = COALESCE(?, completed_at) WHERE id = ?",
		status, errMsg, completedAt, id,
	)
	return err
}

// MarkRunStarted stamps started_at once, when the run transitions into
// Executing.
func (s *Store) MarkRunStarted(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE runs SET started_at = COALESCE(started_at, ?) WHERE id = ?",
		nowRFC3339(), id,
	)
	return err
}

// SetRunPR records the PR opened for a run's ticket.
func (s *Store) SetRunPR(ctx context.Context, id, prURL string, prNumber int) error {
	_, err := s.db.ExecContext(ctx, "UPDATE runs SET pr_url = ?, pr_number = ? WHERE id = ?", prURL, prNumber, id)
	return err
}

// ListRunsForTicket returns all runs recorded against a ticket, most recent first.
func (s *Store) ListRunsForTicket(ctx context.Context, ticketID string) ([]model.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs WHERE ticket_id = ? ORDER BY created_at DESC", ticketID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
