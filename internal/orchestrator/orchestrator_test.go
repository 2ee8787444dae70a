package orchestrator

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strongdm/promptwheel/internal/coder"
	"github.com/strongdm/promptwheel/internal/isolation"
	"github.com/strongdm/promptwheel/internal/ledger"
	"github.com/strongdm/promptwheel/internal/model"
	"github.com/strongdm/promptwheel/internal/scope"
	"github.com/strongdm/promptwheel/internal/spindle"
	"github.com/strongdm/promptwheel/internal/store"
	"github.com/strongdm/promptwheel/internal/vcs"
)

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=t", "GIT_AUTHOR_EMAIL=t@t.com", "GIT_COMMITTER_NAME=t", "GIT_COMMITTER_EMAIL=t@t.com")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init", "-q", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
	runGit(t, dir, "add", "-A")
	runGit(t, dir, "commit", "-q", "-m", "init")
	return dir
}

type fakeCoder struct {
	chunks   []coder.Chunk
	exitCode int
}

func (f *fakeCoder) Run(ctx context.Context, req coder.RunRequest) (*coder.RunResult, error) {
	for _, c := range f.chunks {
		if ctx.Err() != nil {
			break
		}
		if req.OnChunk != nil {
			req.OnChunk(c)
		}
	}
	return &coder.RunResult{ExitCode: f.exitCode}, nil
}

type fakePlan struct {
	plan Plan
	err  error
}

func (f fakePlan) RequestPlan(ctx context.Context, ticket model.Ticket, policy scope.Policy) (Plan, error) {
	return f.plan, f.err
}

func newFixture(t *testing.T) (*store.Store, *isolation.Manager, *ledger.Ledger, model.Project) {
	t.Helper()
	repoDir := initRepo(t)
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	proj, err := s.CreateProject(context.Background(), model.Project{Name: "demo", RepoURL: "git@example.com:demo.git", RootPath: repoDir})
	require.NoError(t, err)

	mgr := isolation.New(repoDir, "milestone/main", "")
	led := ledger.New(repoDir)
	return s, mgr, led, proj
}

func baseConfig() Config {
	return Config{
		BaseBranch:        "main",
		AgentCommand:      "true",
		StepBudget:        0,
		KillGrace:         time.Second,
		SpindleThresholds: spindle.DefaultThresholds(),
	}
}

func TestRunTicketHappyPathCompletesAndTransitionsTicketToDone(t *testing.T) {
	s, mgr, led, proj := newFixture(t)
	ctx := context.Background()

	ticket, err := s.CreateTicket(ctx, model.Ticket{
		ProjectID: proj.ID, Title: "fix docs typo", Category: "docs", Status: model.TicketLeased,
		MaxRetries: 2, VerificationCmds: []string{"true"},
	})
	require.NoError(t, err)

	o := New(baseConfig(), Deps{
		Store: s, Isolation: mgr, Ledger: led,
		Coder: &fakeCoder{exitCode: 0},
		VCS:   vcs.NewGitCollaborator(mgr.RepoDir, "origin", ""),
	})

	run, err := o.RunTicket(ctx, ticket, "", Flags{})
	require.NoError(t, err)
	require.Equal(t, model.RunSuccess, run.Status)

	got, err := s.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	require.Equal(t, model.TicketDone, got.Status)
}

func TestRunTicketQAFailureRetriesWhenBelowMaxRetries(t *testing.T) {
	s, mgr, led, proj := newFixture(t)
	ctx := context.Background()

	ticket, err := s.CreateTicket(ctx, model.Ticket{
		ProjectID: proj.ID, Title: "add feature", Category: "docs", Status: model.TicketLeased,
		MaxRetries: 3, RetryCount: 0, VerificationCmds: []string{"false"},
	})
	require.NoError(t, err)

	o := New(baseConfig(), Deps{
		Store: s, Isolation: mgr, Ledger: led,
		Coder: &fakeCoder{exitCode: 0},
		VCS:   vcs.NewGitCollaborator(mgr.RepoDir, "origin", ""),
	})

	run, err := o.RunTicket(ctx, ticket, "", Flags{})
	require.NoError(t, err)
	require.Equal(t, model.RunFailure, run.Status)
	require.Contains(t, run.Error, "FAIL:")

	got, err := s.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	require.Equal(t, model.TicketReady, got.Status)
	require.Equal(t, 1, got.RetryCount)
}

func TestRunTicketQAFailureBlocksWhenRetriesExhausted(t *testing.T) {
	s, mgr, led, proj := newFixture(t)
	ctx := context.Background()

	ticket, err := s.CreateTicket(ctx, model.Ticket{
		ProjectID: proj.ID, Title: "add feature", Category: "docs", Status: model.TicketLeased,
		MaxRetries: 1, RetryCount: 1, VerificationCmds: []string{"false"},
	})
	require.NoError(t, err)

	o := New(baseConfig(), Deps{
		Store: s, Isolation: mgr, Ledger: led,
		Coder: &fakeCoder{exitCode: 0},
		VCS:   vcs.NewGitCollaborator(mgr.RepoDir, "origin", ""),
	})

	_, err = o.RunTicket(ctx, ticket, "", Flags{})
	require.NoError(t, err)

	got, err := s.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	require.Equal(t, model.TicketBlocked, got.Status)
}

func TestRunTicketStepBudgetAbortsExecution(t *testing.T) {
	s, mgr, led, proj := newFixture(t)
	ctx := context.Background()

	ticket, err := s.CreateTicket(ctx, model.Ticket{
		ProjectID: proj.ID, Title: "add feature", Category: "docs", Status: model.TicketLeased,
		MaxRetries: 3, VerificationCmds: []string{"true"},
	})
	require.NoError(t, err)

	cfg := baseConfig()
	cfg.StepBudget = 1
	chunks := []coder.Chunk{
		{Kind: coder.ChunkToolCall, ToolName: "bash"},
		{Kind: coder.ChunkToolCall, ToolName: "bash"},
	}
	o := New(cfg, Deps{
		Store: s, Isolation: mgr, Ledger: led,
		Coder: &fakeCoder{chunks: chunks, exitCode: 0},
		VCS:   vcs.NewGitCollaborator(mgr.RepoDir, "origin", ""),
	})

	run, err := o.RunTicket(ctx, ticket, "", Flags{})
	require.NoError(t, err)
	require.Equal(t, model.RunFailure, run.Status)
	require.Equal(t, "step_budget", run.Error)
}

func TestRunTicketPlanRejectionWithoutNarrowOptionBlocksTicket(t *testing.T) {
	s, mgr, led, proj := newFixture(t)
	ctx := context.Background()

	ticket, err := s.CreateTicket(ctx, model.Ticket{
		ProjectID: proj.ID, Title: "add feature", Category: "feature", Status: model.TicketLeased,
		MaxRetries: 2, AllowedPaths: []string{"src/a.go"},
	})
	require.NoError(t, err)

	o := New(baseConfig(), Deps{
		Store: s, Isolation: mgr, Ledger: led,
		Coder: &fakeCoder{exitCode: 0},
		VCS:   vcs.NewGitCollaborator(mgr.RepoDir, "origin", ""),
		Plan:  fakePlan{plan: Plan{Files: []string{"src/b.go"}, RiskLevel: "low"}},
	})

	run, err := o.RunTicket(ctx, ticket, "", Flags{})
	require.NoError(t, err)
	require.Equal(t, model.RunFailure, run.Status)

	got, err := s.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	require.Equal(t, model.TicketBlocked, got.Status)
}

func TestRunTicketReleasesLeaseOnCompletion(t *testing.T) {
	s, mgr, led, proj := newFixture(t)
	ctx := context.Background()

	ticket, err := s.CreateTicket(ctx, model.Ticket{
		ProjectID: proj.ID, Title: "fix docs typo", Category: "docs", Status: model.TicketReady, MaxRetries: 2,
	})
	require.NoError(t, err)

	_, lease, ok, err := s.LeaseNextReady(ctx, proj.ID, "agent-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	o := New(baseConfig(), Deps{
		Store: s, Isolation: mgr, Ledger: led,
		Coder: &fakeCoder{exitCode: 0},
		VCS:   vcs.NewGitCollaborator(mgr.RepoDir, "origin", ""),
	})

	_, err = o.RunTicket(ctx, ticket, lease.ID, Flags{})
	require.NoError(t, err)

	err = s.ReleaseLease(ctx, lease.ID)
	require.Error(t, err) // already released by RunTicket; a second release is a conflict
}
