package orchestrator

import (
	"context"

	"github.com/strongdm/promptwheel/internal/model"
	"github.com/strongdm/promptwheel/internal/store"
)

// ResumeCrashedRuns implements the supplemented "Resume" feature: after a
// process restart, any ticket left "in_progress" with its most recent run
// still "running" was orphaned by the crash — there is no live process
// left to finish it. This marks that run canceled, records the canceled
// run step, and transitions the ticket back to "ready" so the pool picks
// it up again on the next lease cycle. It also reclaims any leases whose
// TTL has since expired (spec §4.C6 reclaim_expired), since those tickets
// are equally orphaned.
//
// Grounded on vsavkov-kilroy/internal/attractor/engine/resume.go's
// crash-recovery shape (read a manifest/checkpoint to find the
// interrupted run, then pick up from the last known-good state) adapted
// to this system's store-backed run state: there is no filesystem
// checkpoint here, because every state transition this package makes is
// already durable in the local store, so resuming is a matter of
// reconciling "running"/"in_progress" rows against "no process is
// actually running them anymore" rather than replaying a checkpoint file.
func ResumeCrashedRuns(ctx context.Context, s *store.Store, projectID string) (int, error) {
	if _, err := s.ReclaimExpired(ctx); err != nil {
		return 0, err
	}

	tickets, err := s.ListTicketsForProject(ctx, projectID)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, t := range tickets {
		if t.Status != model.TicketInProgress {
			continue
		}
		runs, err := s.ListRunsForTicket(ctx, t.ID)
		if err != nil {
			return resumed, err
		}
		latest, ok := mostRecentRun(runs)
		if !ok || latest.Status != model.RunRunning {
			continue
		}

		if _, err := s.CreateRunStep(ctx, model.RunStep{
			RunID: latest.ID, Attempt: 1, Ordinal: 0, Name: "resume_interrupt",
			Kind: model.StepKindInternal, Status: model.StepCanceled,
			ErrorMessage: "process restarted while this run was active",
		}); err != nil {
			return resumed, err
		}
		if err := s.UpdateRunStatus(ctx, latest.ID, model.RunFailure, "interrupted by process restart"); err != nil {
			return resumed, err
		}
		if _, err := s.TransitionTicket(ctx, t.ID, "retryable_below_max"); err != nil {
			// Another process may have already reconciled this ticket; move on.
			continue
		}
		resumed++
	}
	return resumed, nil
}

func mostRecentRun(runs []model.Run) (model.Run, bool) {
	var latest model.Run
	found := false
	for _, r := range runs {
		if !found || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
			found = true
		}
	}
	return latest, found
}
