package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/strongdm/promptwheel/internal/model"
)

// CreateTicket inserts a new ticket in TicketBacklog status.
func (s *Store) CreateTicket(ctx context.Context, t model.Ticket) (model.Ticket, error) {
	if t.ID == "" {
		t.ID = ulid.Make().String()
	}
	if t.Status == "" {
		t.Status = model.TicketBacklog
	}
	allowed, err := json.Marshal(t.AllowedPaths)
	if err != nil {
		return model.Ticket{}, err
	}
	forbidden, err := json.Marshal(t.ForbiddenPaths)
	if err != nil {
		return model.Ticket{}, err
	}
	verify, err := json.Marshal(t.VerificationCmds)
	if err != nil {
		return model.Ticket{}, err
	}
	now := nowRFC3339()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tickets (id, project_id, title, description, status, priority, shard, category,
			allowed_paths, forbidden_paths, verification_commands, max_retries, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.Title, t.Description, t.Status, t.Priority, t.Shard, t.Category,
		string(allowed), string(forbidden), string(verify), t.MaxRetries, t.RetryCount, now, now,
	)
	if err != nil {
		return model.Ticket{}, err
	}
	t.CreatedAt, t.UpdatedAt = parseTime(now), parseTime(now)
	return t, nil
}

func scanTicket(row interface{ Scan(...any) error }) (model.Ticket, error) {
	var t model.Ticket
	var allowed, forbidden, verify, createdAt, updatedAt string
	if err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.Shard, &t.Category,
		&allowed, &forbidden, &verify, &t.MaxRetries, &t.RetryCount, &createdAt, &updatedAt); err != nil {
		return model.Ticket{}, err
	}
	json.Unmarshal([]byte(allowed), &t.AllowedPaths)
	json.Unmarshal([]byte(forbidden), &t.ForbiddenPaths)
	json.Unmarshal([]byte(verify), &t.VerificationCmds)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return t, nil
}

const ticketColumns = `id, project_id, title, description, status, priority, shard, category,
	allowed_paths, forbidden_paths, verification_commands, max_retries, retry_count, created_at, updated_at`

// GetTicket fetches a ticket by id.
func (s *Store) GetTicket(ctx context.Context, id string) (model.Ticket, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+ticketColumns+" FROM tickets WHERE id = ?", id)
	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return model.Ticket{}, &ErrNotFound{Entity: "ticket", ID: id}
	}
	return t, err
}

// TransitionTicket validates `event` against the ticket DAG (model.NextTicketStatus)
// and issues a single-row conditional UPDATE whose WHERE clause pins the
// expected current status, so a concurrent transition loses the race instead
// of corrupting state (spec §4.C6 "All transitions are single-row conditional
// updates").
func (s *Store) TransitionTicket(ctx context.Context, id, event string) (model.Ticket, error) {
	current, err := s.GetTicket(ctx, id)
	if err != nil {
		return model.Ticket{}, err
	}
	next, ok := model.NextTicketStatus(current.Status, event)
	if !ok {
		return model.Ticket{}, fmt.Errorf("no transition %q from status %q", event, current.Status)
	}

	retryCount := current.RetryCount
	if event == "retryable_below_max" || event == "retryable_at_max" {
		retryCount++
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE tickets SET status = ?, retry_count = ?, updated_at = ? WHERE id = ? AND status = ?",
		next, retryCount, nowRFC3339(), id, current.Status,
	)
	if err != nil {
		return model.Ticket{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Ticket{}, err
	}
	if n == 0 {
		return model.Ticket{}, &ErrConflict{Entity: "ticket", ID: id, Reason: fmt.Sprintf("expected status %q no longer current", current.Status)}
	}
	return s.GetTicket(ctx, id)
}

// ListTicketsForProject returns every ticket for a project regardless of
// status, used by the proposal pipeline (spec §4.C10) to dedup new
// proposals against titles already on file.
func (s *Store) ListTicketsForProject(ctx context.Context, projectID string) ([]model.Ticket, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+ticketColumns+" FROM tickets WHERE project_id = ? ORDER BY created_at ASC",
		projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateTicketsAtomic inserts every ticket in one transaction and emits a
// TICKETS_CREATED run event listing the new ids (spec §4.C10 step 10).
func (s *Store) CreateTicketsAtomic(ctx context.Context, runID string, tickets []model.Ticket) ([]model.Ticket, error) {
	var created []model.Ticket
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, t := range tickets {
			if t.ID == "" {
				t.ID = ulid.Make().String()
			}
			if t.Status == "" {
				t.Status = model.TicketBacklog
			}
			allowed, err := json.Marshal(t.AllowedPaths)
			if err != nil {
				return err
			}
			forbidden, err := json.Marshal(t.ForbiddenPaths)
			if err != nil {
				return err
			}
			verify, err := json.Marshal(t.VerificationCmds)
			if err != nil {
				return err
			}
			now := nowRFC3339()
			_, err = tx.ExecContext(ctx, `
				INSERT INTO tickets (id, project_id, title, description, status, priority, shard, category,
					allowed_paths, forbidden_paths, verification_commands, max_retries, retry_count, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				t.ID, t.ProjectID, t.Title, t.Description, t.Status, t.Priority, t.Shard, t.Category,
				string(allowed), string(forbidden), string(verify), t.MaxRetries, t.RetryCount, now, now,
			)
			if err != nil {
				return fmt.Errorf("insert ticket %q: %w", t.Title, err)
			}
			t.CreatedAt, t.UpdatedAt = parseTime(now), parseTime(now)
			created = append(created, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if runID != "" {
		ids := make([]string, len(created))
		for i, t := range created {
			ids[i] = t.ID
		}
		if _, err := s.AppendRunEvent(ctx, runID, model.EventTicketsCreated, map[string]any{"ticket_ids": ids}); err != nil {
			return created, err
		}
	}
	return created, nil
}

// UpdateTicketAllowedPaths narrows a ticket's allowed_paths in place, used
// by the orchestrator when a recovery narrow_scope action (spec §4.C12)
// recommends retrying with a smaller concrete file set.
func (s *Store) UpdateTicketAllowedPaths(ctx context.Context, id string, allowedPaths []string) error {
	allowed, err := json.Marshal(allowedPaths)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE tickets SET allowed_paths = ?, updated_at = ? WHERE id = ?",
		string(allowed), nowRFC3339(), id,
	)
	return err
}

// ListReadyTickets returns tickets in TicketReady status for a project,
// ordered by priority descending, for callers that want visibility without
// leasing (e.g. the CLI's `tickets list`).
func (s *Store) ListReadyTickets(ctx context.Context, projectID string) ([]model.Ticket, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+ticketColumns+" FROM tickets WHERE project_id = ? AND status = ? ORDER BY priority DESC, created_at ASC",
		projectID, model.TicketReady,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
