package store

import (
	"context"
	"database/sql"

	"github.com/oklog/ulid/v2"
)

// learningRow is the storage-schema shape of a learning (spec §6 "learnings
// (id, project_id, ticket_id NULL, run_id NULL, content, source, promoted,
// created_at)"). This is distinct from model.Learning, which carries the
// richer runstate decay/consolidation fields (weight, tags, access_count);
// the store only persists the durable projection consumers query by project.
type learningRow struct {
	ID        string
	ProjectID string
	TicketID  string
	RunID     string
	Content   string
	Source    string
	Promoted  bool
}

// SaveLearning persists a learning row against a project, optionally scoped
// to a ticket/run.
func (s *Store) SaveLearning(ctx context.Context, l learningRow) (learningRow, error) {
	if l.ID == "" {
		l.ID = ulid.Make().String()
	}
	var ticketID, runID any
	if l.TicketID != "" {
		ticketID = l.TicketID
	}
	if l.RunID != "" {
		runID = l.RunID
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO learnings (id, project_id, ticket_id, run_id, content, source, promoted, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		l.ID, l.ProjectID, ticketID, runID, l.Content, l.Source, boolToInt(l.Promoted), nowRFC3339(),
	)
	if err != nil {
		return learningRow{}, err
	}
	return l, nil
}

// ListLearnings returns all learnings recorded for a project.
func (s *Store) ListLearnings(ctx context.Context, projectID string) ([]learningRow, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, project_id, ticket_id, run_id, content, source, promoted FROM learnings WHERE project_id = ?",
		projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []learningRow
	for rows.Next() {
		var l learningRow
		var ticketID, runID sql.NullString
		var promoted int
		if err := rows.Scan(&l.ID, &l.ProjectID, &ticketID, &runID, &l.Content, &l.Source, &promoted); err != nil {
			return nil, err
		}
		l.TicketID, l.RunID, l.Promoted = ticketID.String, runID.String, promoted != 0
		out = append(out, l)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
