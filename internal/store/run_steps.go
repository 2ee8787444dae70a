package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/oklog/ulid/v2"

	"github.com/strongdm/promptwheel/internal/model"
)

// CreateRunStep inserts a queued run step. The unique (run_id, attempt,
// name) and (run_id, attempt, ordinal) constraints from spec §6 make a
// duplicate insert within the same attempt a store_conflict rather than a
// silent double-record.
func (s *Store) CreateRunStep(ctx context.Context, step model.RunStep) (model.RunStep, error) {
	if step.ID == "" {
		step.ID = ulid.Make().String()
	}
	if step.Status == "" {
		step.Status = model.StepQueued
	}
	meta, err := json.Marshal(step.Meta)
	if err != nil {
		return model.RunStep{}, err
	}
	now := nowMS()
	step.CreatedAtMS, step.UpdatedAtMS = now, now
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_steps (id, run_id, attempt, ordinal, name, kind, status, cmd, cwd, timeout_ms,
			exit_code, signal, started_at_ms, ended_at_ms, duration_ms, stdout_path, stderr_path,
			stdout_bytes, stderr_bytes, stdout_truncated, stderr_truncated, stdout_tail, stderr_tail,
			error_message, meta_json, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.RunID, step.Attempt, step.Ordinal, step.Name, step.Kind, step.Status, step.Cmd, step.Cwd,
		step.TimeoutMS, step.ExitCode, step.Signal, step.StartedAtMS, step.EndedAtMS, step.DurationMS,
		nullableString(step.StdoutPath), nullableString(step.StderrPath), step.StdoutBytes, step.StderrBytes,
		boolToInt(step.StdoutTruncated), boolToInt(step.StderrTruncated),
		nullableString(step.StdoutTail), nullableString(step.StderrTail), nullableString(step.ErrorMessage),
		string(meta), step.CreatedAtMS, step.UpdatedAtMS,
	)
	if err != nil {
		return model.RunStep{}, err
	}
	return step, nil
}

// UpdateRunStepResult records a step's completion (spec §4.C7 per-step
// result recording).
func (s *Store) UpdateRunStepResult(ctx context.Context, id string, status model.RunStepStatus, exitCode int, durationMS int64, stdoutTail, stderrTail, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE run_steps
		SET status = ?, exit_code = ?, duration_ms = ?, ended_at_ms = ?,
			stdout_tail = ?, stderr_tail = ?, error_message = ?, updated_at_ms = ?
		WHERE id = ?`,
		status, exitCode, durationMS, nowMS(), stdoutTail, stderrTail, nullableString(errMsg), nowMS(), id,
	)
	return err
}

// ListRunSteps returns all steps for a run ordered by attempt then ordinal.
func (s *Store) ListRunSteps(ctx context.Context, runID string) ([]model.RunStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, attempt, ordinal, name, kind, status, cmd, cwd, timeout_ms,
			exit_code, signal, started_at_ms, ended_at_ms, duration_ms, stdout_path, stderr_path,
			stdout_bytes, stderr_bytes, stdout_truncated, stderr_truncated, stdout_tail, stderr_tail,
			error_message, meta_json, created_at_ms, updated_at_ms
		FROM run_steps WHERE run_id = ? ORDER BY attempt ASC, ordinal ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RunStep
	for rows.Next() {
		var st model.RunStep
		var stdoutPath, stderrPath, stdoutTail, stderrTail, errMsg, meta sql.NullString
		var stdoutTrunc, stderrTrunc int
		if err := rows.Scan(&st.ID, &st.RunID, &st.Attempt, &st.Ordinal, &st.Name, &st.Kind, &st.Status, &st.Cmd, &st.Cwd,
			&st.TimeoutMS, &st.ExitCode, &st.Signal, &st.StartedAtMS, &st.EndedAtMS, &st.DurationMS,
			&stdoutPath, &stderrPath, &st.StdoutBytes, &st.StderrBytes, &stdoutTrunc, &stderrTrunc,
			&stdoutTail, &stderrTail, &errMsg, &meta, &st.CreatedAtMS, &st.UpdatedAtMS); err != nil {
			return nil, err
		}
		st.StdoutPath, st.StderrPath = stdoutPath.String, stderrPath.String
		st.StdoutTail, st.StderrTail = stdoutTail.String, stderrTail.String
		st.ErrorMessage = errMsg.String
		st.StdoutTruncated, st.StderrTruncated = stdoutTrunc != 0, stderrTrunc != 0
		json.Unmarshal([]byte(meta.String), &st.Meta)
		out = append(out, st)
	}
	return out, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
