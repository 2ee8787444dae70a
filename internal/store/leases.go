package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/strongdm/promptwheel/internal/model"
)

// LeaseNextReady implements spec §4.C6 "lease_next_ready": in one
// transaction, select the highest-priority ready ticket, move it to leased,
// insert an issued lease, and return both. ok is false when no ticket is
// ready (the scheduler should treat this as "nothing to do right now", not
// an error).
func (s *Store) LeaseNextReady(ctx context.Context, projectID, agentID string, ttl time.Duration) (model.Ticket, model.Lease, bool, error) {
	var ticket model.Ticket
	var lease model.Lease
	found := false

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			"SELECT "+ticketColumns+" FROM tickets WHERE project_id = ? AND status = ? ORDER BY priority DESC, created_at ASC LIMIT 1",
			projectID, model.TicketReady,
		)
		t, err := scanTicket(row)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx,
			"UPDATE tickets SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
			model.TicketLeased, now.Format(time.RFC3339Nano), t.ID, model.TicketReady,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// lost the race to another leaser; caller retries selection
			return nil
		}
		t.Status = model.TicketLeased

		leaseID := ulid.Make().String()
		expiresAt := now.Add(ttl)
		_, err = tx.ExecContext(ctx,
			`INSERT INTO leases (id, ticket_id, run_id, agent_id, status, expires_at, heartbeat_at, created_at)
			 VALUES (?, ?, '', ?, ?, ?, ?, ?)`,
			leaseID, t.ID, agentID, model.LeaseIssued,
			expiresAt.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
		)
		if err != nil {
			return err
		}

		ticket = t
		lease = model.Lease{
			ID: leaseID, TicketID: t.ID, AgentID: agentID, Status: model.LeaseIssued,
			ExpiresAt: expiresAt, HeartbeatAt: now, CreatedAt: now,
		}
		found = true
		return nil
	})
	if err != nil {
		return model.Ticket{}, model.Lease{}, false, err
	}
	return ticket, lease, found, nil
}

// Heartbeat implements spec §4.C6 "heartbeat": extends an issued lease's
// expiry and records the heartbeat time.
func (s *Store) Heartbeat(ctx context.Context, leaseID string, extendBy time.Duration) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"UPDATE leases SET heartbeat_at = ?, expires_at = ? WHERE id = ? AND status = ?",
		now.Format(time.RFC3339Nano), now.Add(extendBy).Format(time.RFC3339Nano), leaseID, model.LeaseIssued,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &ErrConflict{Entity: "lease", ID: leaseID, Reason: "lease is not issued"}
	}
	return nil
}

// ReleaseLease marks an issued lease released, without touching the
// ticket's own status — the caller (orchestrator) is responsible for the
// ticket's own transition (success/retry/blocked) once a run concludes or
// is canceled (spec §4.C7 invariants: "release the lease").
func (s *Store) ReleaseLease(ctx context.Context, leaseID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE leases SET status = ? WHERE id = ? AND status = ?",
		model.LeaseReleased, leaseID, model.LeaseIssued,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &ErrConflict{Entity: "lease", ID: leaseID, Reason: "lease is not issued"}
	}
	return nil
}

// ReclaimExpired implements spec §4.C6 "reclaim_expired": every lease with
// status=issued and expires_at < now transitions to expired, and its ticket
// transitions back to ready, atomically per lease. Returns the ids of
// reclaimed tickets.
func (s *Store) ReclaimExpired(ctx context.Context) ([]string, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, ticket_id FROM leases WHERE status = ? AND expires_at < ?",
		model.LeaseIssued, now,
	)
	if err != nil {
		return nil, err
	}
	type expired struct{ leaseID, ticketID string }
	var candidates []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.leaseID, &e.ticketID); err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var reclaimed []string
	for _, c := range candidates {
		err := s.WithTx(ctx, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx,
				"UPDATE leases SET status = ? WHERE id = ? AND status = ?",
				model.LeaseExpired, c.leaseID, model.LeaseIssued,
			)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil || n == 0 {
				return err
			}
			_, err = tx.ExecContext(ctx,
				"UPDATE tickets SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
				model.TicketReady, nowRFC3339(), c.ticketID, model.TicketLeased,
			)
			return err
		})
		if err != nil {
			return reclaimed, err
		}
		reclaimed = append(reclaimed, c.ticketID)
	}
	return reclaimed, nil
}
