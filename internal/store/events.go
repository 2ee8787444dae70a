package store

import (
	"context"
	"encoding/json"

	"github.com/oklog/ulid/v2"

	"github.com/strongdm/promptwheel/internal/model"
)

// AppendRunEvent records an append-only fact about a run (spec §3 "Run Event").
func (s *Store) AppendRunEvent(ctx context.Context, runID, eventType string, data map[string]any) (model.RunEvent, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return model.RunEvent{}, err
	}
	id := ulid.Make().String()
	now := nowRFC3339()
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO run_events (id, run_id, type, data, created_at) VALUES (?, ?, ?, ?, ?)",
		id, runID, eventType, string(b), now,
	)
	if err != nil {
		return model.RunEvent{}, err
	}
	return model.RunEvent{ID: id, RunID: runID, Type: eventType, Data: data, CreatedAt: parseTime(now)}, nil
}

// ListRunEvents returns all events for a run in creation order.
func (s *Store) ListRunEvents(ctx context.Context, runID string) ([]model.RunEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, run_id, type, data, created_at FROM run_events WHERE run_id = ? ORDER BY created_at ASC", runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.RunEvent
	for rows.Next() {
		var e model.RunEvent
		var data, createdAt string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Type, &data, &createdAt); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(data), &e.Data)
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
