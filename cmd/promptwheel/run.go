package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/strongdm/promptwheel/internal/coder"
	"github.com/strongdm/promptwheel/internal/isolation"
	"github.com/strongdm/promptwheel/internal/ledger"
	"github.com/strongdm/promptwheel/internal/logging"
	"github.com/strongdm/promptwheel/internal/model"
	"github.com/strongdm/promptwheel/internal/orchestrator"
	"github.com/strongdm/promptwheel/internal/runstate"
	"github.com/strongdm/promptwheel/internal/spindle"
	"github.com/strongdm/promptwheel/internal/vcs"
	"go.uber.org/zap"
)

var (
	runParallel int
	runSkipQA   bool
	runCreatePR bool
	runDraftPR  bool
	runAgentID  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Lease and execute ready tickets until interrupted",
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().IntVar(&runParallel, "parallel", 0, "override config.parallel")
	runCmd.Flags().BoolVar(&runSkipQA, "skip-qa", false, "skip the Verifying state for every ticket")
	runCmd.Flags().BoolVar(&runCreatePR, "create-pr", false, "open a draft PR for each completed ticket")
	runCmd.Flags().BoolVar(&runDraftPR, "draft-pr", true, "mark opened PRs as drafts")
	runCmd.Flags().StringVar(&runAgentID, "agent-id", "promptwheel-local", "agent identity recorded on leases")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer s.Close()

	ctx, cleanup := signalCancelContext()
	defer cleanup()

	project, err := ensureProject(ctx, s, cfg)
	if err != nil {
		return fmt.Errorf("ensure project: %w", err)
	}

	resumed, err := orchestrator.ResumeCrashedRuns(ctx, s, project.ID)
	if err != nil {
		return fmt.Errorf("resume crashed runs: %w", err)
	}
	if resumed > 0 {
		logging.L().Info("reconciled orphaned in_progress tickets", zap.Int("count", resumed))
	}

	mgr := isolation.New(cfg.Repo.Path, cfg.Git.MilestoneBranch, cfg.Git.AllowedRemote)
	led := ledger.New(cfg.Repo.Path)
	rs := runstate.NewStore(cfg.Repo.Path)
	collaborator := vcs.NewGitCollaborator(cfg.Repo.Path, "origin", cfg.Git.AllowedRemote)

	learningRows, err := s.ListLearnings(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("load learnings: %w", err)
	}
	learnings := make([]model.Learning, 0, len(learningRows))
	for _, l := range learningRows {
		learnings = append(learnings, model.Learning{ID: l.ID, Text: l.Content, SourceType: l.Source})
	}

	orc := orchestrator.New(orchestrator.Config{
		BaseBranch:        cfg.Git.BaseBranch,
		AgentCommand:      cfg.Agent.Command,
		AgentArgs:         cfg.Agent.Args,
		StepBudget:        cfg.Agent.StepBudget,
		KillGrace:         time.Duration(cfg.Agent.KillGraceMS) * time.Millisecond,
		HeartbeatEvery:    time.Duration(cfg.Agent.HeartbeatMS) * time.Millisecond,
		SpindleThresholds: spindle.DefaultThresholds(),
	}, orchestrator.Deps{
		Store:     s,
		Isolation: mgr,
		Ledger:    led,
		Coder:     &coder.ProcessBackend{GracePeriod: time.Duration(cfg.Agent.KillGraceMS) * time.Millisecond},
		VCS:       collaborator,
		RunState:  rs,
		Learnings: learnings,
	})

	parallel := cfg.Parallel
	if runParallel > 0 {
		parallel = runParallel
	}

	pool := &orchestrator.Pool{
		Orchestrator: orc,
		ProjectID:    project.ID,
		AgentID:      runAgentID,
		Parallel:     parallel,
		PollInterval: time.Second,
		Flags: orchestrator.Flags{
			SkipQA:   runSkipQA,
			CreatePR: runCreatePR,
			DraftPR:  runDraftPR,
			Verbose:  verbose,
		},
		OnRunComplete: func(run model.Run, err error) {
			if err != nil {
				fmt.Printf("run %s: error: %v\n", run.ID, err)
				return
			}
			fmt.Printf("run %s: ticket %s: %s\n", run.ID, run.TicketID, run.Status)
		},
	}

	fmt.Printf("promptwheel: running with parallel=%d against %s\n", parallel, cfg.Repo.Path)
	pool.Run(ctx)
	return nil
}
