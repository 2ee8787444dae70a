package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strongdm/promptwheel/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedProjectAndTicket(t *testing.T, s *Store) (model.Project, model.Ticket) {
	t.Helper()
	ctx := context.Background()
	p, err := s.CreateProject(ctx, model.Project{Name: "demo", RepoURL: "git@example.com:demo.git", RootPath: "/tmp/demo"})
	require.NoError(t, err)
	ticket, err := s.CreateTicket(ctx, model.Ticket{
		ProjectID: p.ID, Title: "fix bug", Category: "feature", Priority: 5, MaxRetries: 3,
	})
	require.NoError(t, err)
	return p, ticket
}

func TestMigrationsApplyOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	s1, err := Open(path)
	require.NoError(t, err)
	s1.Close()

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
}

func TestCreateAndGetTicket(t *testing.T) {
	s := newTestStore(t)
	_, ticket := seedProjectAndTicket(t, s)

	got, err := s.GetTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	require.Equal(t, model.TicketBacklog, got.Status)
	require.Equal(t, "fix bug", got.Title)
}

func TestTransitionTicketFollowsDAG(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, ticket := seedProjectAndTicket(t, s)

	got, err := s.TransitionTicket(ctx, ticket.ID, "approve")
	require.NoError(t, err)
	require.Equal(t, model.TicketReady, got.Status)

	_, err = s.TransitionTicket(ctx, ticket.ID, "non_retryable")
	require.Error(t, err) // no such edge from "ready"
}

func TestTransitionTicketConflictOnStaleExpectedStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, ticket := seedProjectAndTicket(t, s)

	_, err := s.TransitionTicket(ctx, ticket.ID, "approve")
	require.NoError(t, err)

	// Simulate a racing transition already having moved it past "ready".
	_, err = s.db.ExecContext(ctx, "UPDATE tickets SET status = ? WHERE id = ?", model.TicketLeased, ticket.ID)
	require.NoError(t, err)

	_, err = s.TransitionTicket(ctx, ticket.ID, "lease")
	require.Error(t, err)
	var conflict *ErrConflict
	require.ErrorAs(t, err, &conflict)
}

func TestLeaseNextReadyAndReclaimExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	proj, ticket := seedProjectAndTicket(t, s)

	_, err := s.TransitionTicket(ctx, ticket.ID, "approve")
	require.NoError(t, err)

	leased, lease, ok, err := s.LeaseNextReady(ctx, proj.ID, "agent-1", -time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, model.TicketLeased, leased.Status)
	require.Equal(t, model.LeaseIssued, lease.Status)

	reclaimed, err := s.ReclaimExpired(ctx)
	require.NoError(t, err)
	require.Contains(t, reclaimed, ticket.ID)

	after, err := s.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	require.Equal(t, model.TicketReady, after.Status)
}

func TestLeaseNextReadyNoneAvailable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	proj, _ := seedProjectAndTicket(t, s)

	_, _, ok, err := s.LeaseNextReady(ctx, proj.ID, "agent-1", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRunLifecycleAndEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	proj, ticket := seedProjectAndTicket(t, s)

	run, err := s.CreateRun(ctx, model.Run{ProjectID: proj.ID, TicketID: ticket.ID, Type: model.RunTypeWorker})
	require.NoError(t, err)

	require.NoError(t, s.MarkRunStarted(ctx, run.ID))
	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, model.RunSuccess, ""))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, model.RunSuccess, got.Status)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)

	_, err = s.AppendRunEvent(ctx, run.ID, model.EventQAPass, map[string]any{"ok": true})
	require.NoError(t, err)
	events, err := s.ListRunEvents(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, model.EventQAPass, events[0].Type)
}

func TestRunStepsUniqueConstraint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	proj, ticket := seedProjectAndTicket(t, s)
	run, err := s.CreateRun(ctx, model.Run{ProjectID: proj.ID, TicketID: ticket.ID, Type: model.RunTypeWorker})
	require.NoError(t, err)

	_, err = s.CreateRunStep(ctx, model.RunStep{RunID: run.ID, Attempt: 1, Ordinal: 1, Name: "build", Kind: model.StepKindCommand})
	require.NoError(t, err)

	_, err = s.CreateRunStep(ctx, model.RunStep{RunID: run.ID, Attempt: 1, Ordinal: 2, Name: "build", Kind: model.StepKindCommand})
	require.Error(t, err) // duplicate (run_id, attempt, name)

	steps, err := s.ListRunSteps(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
}

func TestArtifactsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	proj, ticket := seedProjectAndTicket(t, s)
	run, err := s.CreateRun(ctx, model.Run{ProjectID: proj.ID, TicketID: ticket.ID, Type: model.RunTypeScout})
	require.NoError(t, err)

	_, err = s.SaveArtifact(ctx, model.Artifact{RunID: run.ID, Type: model.ArtifactProposals, Name: "proposals.json", Content: []byte(`{}`)})
	require.NoError(t, err)

	got, err := s.ListArtifacts(ctx, run.ID, model.ArtifactProposals)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "proposals.json", got[0].Name)
}
