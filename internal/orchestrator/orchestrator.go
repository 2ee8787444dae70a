// Package orchestrator implements spec component C7: the single-ticket
// run state machine (Started -> PlanPending -> Executing -> Verifying ->
// Completed | Failed | Aborted), plus the bounded-concurrency dispatch loop
// that drives it over many tickets at once.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/strongdm/promptwheel/internal/coder"
	"github.com/strongdm/promptwheel/internal/isolation"
	"github.com/strongdm/promptwheel/internal/ledger"
	"github.com/strongdm/promptwheel/internal/model"
	"github.com/strongdm/promptwheel/internal/recovery"
	"github.com/strongdm/promptwheel/internal/runstate"
	"github.com/strongdm/promptwheel/internal/scope"
	"github.com/strongdm/promptwheel/internal/spindle"
	"github.com/strongdm/promptwheel/internal/store"
	"github.com/strongdm/promptwheel/internal/vcs"
)

// State is one node of the run state machine (spec §4.C7).
type State string

const (
	StateStarted     State = "started"
	StatePlanPending State = "plan_pending"
	StateExecuting   State = "executing"
	StateVerifying   State = "verifying"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateAborted     State = "aborted"
)

// Flags carries the per-run inputs spec §4.C7 lists alongside the ticket:
// "flags (skipQa, createPr, draftPr, timeoutMs, verbose, progress callback)".
type Flags struct {
	SkipQA    bool
	CreatePR  bool
	DraftPR   bool
	TimeoutMS int
	Verbose   bool
	Progress  func(Event)
}

// Event is one progress notification. The orchestrator guarantees exactly
// one Progress callback runs at a time per ticket (spec §4.C7 invariants):
// every call site in this package invokes it synchronously from the single
// goroutine driving that ticket's run.
type Event struct {
	TicketID string
	RunID    string
	State    State
	Message  string
}

// Plan is the structured change plan an agent is required to produce
// before Executing begins (spec §4.C7 PlanPending, unless plan_required is
// false).
type Plan struct {
	Files          []string
	EstimatedLines int
	RiskLevel      string // low|medium|high
}

// PlanProvider obtains a Plan for a ticket, e.g. by prompting the agent
// process for a structured-output plan before the main execution turn.
type PlanProvider interface {
	RequestPlan(ctx context.Context, ticket model.Ticket, policy scope.Policy) (Plan, error)
}

// Config is the orchestrator's tunable behavior (spec §4.C7, §5).
type Config struct {
	BaseBranch        string
	AgentCommand      string
	AgentArgs         []string
	StepBudget        int // 0 disables the budget
	KillGrace         time.Duration
	HeartbeatEvery    time.Duration
	SpindleThresholds spindle.Thresholds
	VerificationTail  int // lines of stdout/stderr tail to persist per step; default 50
}

// Deps bundles every component RunTicket drives (spec §4.C7's references
// to C5, C8, C9, C11, C12, C14, plus the store and VCS collaborator).
type Deps struct {
	Store      *store.Store
	Isolation  *isolation.Manager
	Ledger     *ledger.Ledger
	Coder      coder.Backend
	VCS        vcs.Collaborator
	Plan       PlanProvider
	RunState   *runstate.Store // optional; nil skips quality-signal recording
	Learnings  []model.Learning
}

// Orchestrator drives one ticket at a time through the state machine.
// It holds no per-run mutable state itself — RunTicket's local variables
// carry everything a single invocation needs — so one Orchestrator value
// is safe to share across concurrently-running tickets (each call gets
// its own working copy, run row, and goroutine).
type Orchestrator struct {
	cfg  Config
	deps Deps
}

// New builds an Orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.VerificationTail == 0 {
		cfg.VerificationTail = 50
	}
	if cfg.KillGrace == 0 {
		cfg.KillGrace = 10 * time.Second
	}
	return &Orchestrator{cfg: cfg, deps: deps}
}

// outcome is RunTicket's internal result before it's translated into store
// transitions; kept separate from model.Run so the state-machine logic
// doesn't have to reload the run row to decide what to do next.
type outcome struct {
	state       State
	failureKind model.FailureKind
	errText     string
}

// RunTicket drives ticket through Started -> ... -> Completed | Failed |
// Aborted exactly once, returning the resulting Run record. The caller
// (Pool, or a scheduler) is responsible for re-leasing a ticket that comes
// back in "ready" status for another attempt.
func (o *Orchestrator) RunTicket(ctx context.Context, ticket model.Ticket, leaseID string, flags Flags) (model.Run, error) {
	notify := func(st State, msg string) {
		if flags.Progress != nil {
			flags.Progress(Event{TicketID: ticket.ID, State: st, Message: msg})
		}
	}

	run, err := o.deps.Store.CreateRun(ctx, model.Run{
		ProjectID: ticket.ProjectID,
		TicketID:  ticket.ID,
		Type:      model.RunTypeWorker,
		Status:    model.RunPending,
	})
	if err != nil {
		return model.Run{}, fmt.Errorf("orchestrator: create run: %w", err)
	}
	notify(StateStarted, "run created")
	if err := o.deps.Store.MarkRunStarted(ctx, run.ID); err != nil {
		return run, fmt.Errorf("orchestrator: mark run started: %w", err)
	}

	release := func() {
		if leaseID != "" {
			_ = o.deps.Store.ReleaseLease(ctx, leaseID)
		}
	}

	if ctx.Err() != nil {
		o.recordCanceled(ctx, run.ID)
		release()
		return run, ctx.Err()
	}

	if _, err := o.deps.Store.TransitionTicket(ctx, ticket.ID, "start"); err != nil {
		_ = o.deps.Store.UpdateRunStatus(ctx, run.ID, model.RunFailure, err.Error())
		release()
		return run, fmt.Errorf("orchestrator: transition ticket to in_progress: %w", err)
	}
	ticket.Status = model.TicketInProgress

	wc, err := o.deps.Isolation.Acquire(ticket.ID, o.cfg.BaseBranch)
	if err != nil {
		_ = o.deps.Store.UpdateRunStatus(ctx, run.ID, model.RunFailure, err.Error())
		release()
		return run, fmt.Errorf("orchestrator: acquire working copy: %w", err)
	}
	defer func() { _ = o.deps.Isolation.Release(wc) }()

	policy := scope.DerivePolicy(scope.DeriveInput{
		AllowedPaths: ticket.AllowedPaths,
		Category:     ticket.Category,
		WorktreeRoot: wc.Dir,
		Learnings:    o.deps.Learnings,
	})
	notify(StateStarted, "working copy acquired at "+wc.Dir)

	oc := o.runPlanPending(ctx, run.ID, ticket, &policy, notify)
	if oc.state == StateAborted {
		o.recordCanceled(ctx, run.ID)
		release()
		return run, ctx.Err()
	}
	if oc.state == StateFailed {
		return o.finishFailed(ctx, ticket, run, oc, release)
	}

	oc = o.runExecuting(ctx, run.ID, ticket, policy, wc.Dir, flags, notify)
	if oc.state == StateAborted {
		o.recordCanceled(ctx, run.ID)
		release()
		return run, ctx.Err()
	}
	if oc.state == StateFailed {
		return o.finishFailed(ctx, ticket, run, oc, release)
	}

	if !flags.SkipQA {
		oc = o.runVerifying(ctx, run.ID, ticket, wc.Dir, notify)
		if oc.state == StateAborted {
			o.recordCanceled(ctx, run.ID)
			release()
			return run, ctx.Err()
		}
		if oc.state == StateFailed {
			return o.finishFailed(ctx, ticket, run, oc, release)
		}
	}

	return o.finishCompleted(ctx, ticket, run, wc, flags, release)
}

// runPlanPending implements the PlanPending state (spec §4.C7). When the
// policy doesn't require a plan (category "docs"), it's skipped entirely.
func (o *Orchestrator) runPlanPending(ctx context.Context, runID string, ticket model.Ticket, policy *scope.Policy, notify func(State, string)) outcome {
	if ctx.Err() != nil {
		return outcome{state: StateAborted}
	}
	if !policy.PlanRequired || o.deps.Plan == nil {
		notify(StatePlanPending, "plan not required for this category")
		return outcome{state: StatePlanPending}
	}

	plan, err := o.deps.Plan.RequestPlan(ctx, ticket, *policy)
	if err != nil {
		if ctx.Err() != nil {
			return outcome{state: StateAborted}
		}
		return outcome{state: StateFailed, failureKind: model.FailureAgentError, errText: "plan request failed: " + err.Error()}
	}

	result := scope.ValidatePlanScope(plan.Files, plan.EstimatedLines, plan.RiskLevel, *policy)
	if result.Valid {
		notify(StatePlanPending, "plan validated")
		return outcome{state: StatePlanPending}
	}

	_, _ = o.deps.Store.AppendRunEvent(ctx, runID, model.EventScopeViolation, map[string]any{
		"reason": result.Reason, "phase": "plan",
	})

	action := recovery.Classify(recovery.Input{
		Reason:    model.FailureScopeViolation,
		ErrorText: result.Reason,
		Proposal:  model.Proposal{Files: ticket.AllowedPaths, Category: ticket.Category},
	})
	if narrow, ok := action.(recovery.NarrowScope); ok && len(narrow.Files) > 0 {
		narrowed := *policy
		narrowed.AllowedPaths = narrow.Files
		plan, err = o.deps.Plan.RequestPlan(ctx, ticket, narrowed)
		if err == nil {
			retry := scope.ValidatePlanScope(plan.Files, plan.EstimatedLines, plan.RiskLevel, narrowed)
			if retry.Valid {
				*policy = narrowed
				notify(StatePlanPending, "plan validated after narrowing scope")
				return outcome{state: StatePlanPending}
			}
		}
	}

	return outcome{state: StateFailed, failureKind: model.FailureScopeViolation, errText: result.Reason}
}

// writeToolNames are tool names whose first string-valued input argument
// is treated as a candidate file path for scope enforcement. Grounded on
// the naming the teacher's own tool registry uses for its file-mutating
// tools.
var writeToolNames = map[string]bool{
	"write_file": true, "edit_file": true, "str_replace": true, "create_file": true, "delete_file": true,
}

func writeTargetPath(c coder.Chunk) (string, bool) {
	if !writeToolNames[c.ToolName] {
		return "", false
	}
	for _, key := range []string{"path", "file_path", "filename", "file"} {
		if v, ok := c.ToolInput[key].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

func estimateTokens(c coder.Chunk) int {
	// A rough 4-bytes-per-token heuristic; good enough for the spindle's
	// token-budget trigger, which only needs an order-of-magnitude signal.
	return len(c.Text) / 4
}

// runExecuting implements the Executing state (spec §4.C7): stream the
// agent process, classify every chunk, feed the spindle detector and the
// scope guard, and enforce the step budget.
func (o *Orchestrator) runExecuting(ctx context.Context, runID string, ticket model.Ticket, policy scope.Policy, workDir string, flags Flags, notify func(State, string)) outcome {
	if ctx.Err() != nil {
		return outcome{state: StateAborted}
	}

	timeout := time.Duration(flags.TimeoutMS) * time.Millisecond
	runCtx := ctx
	var cancelTimeout context.CancelFunc
	if timeout > 0 {
		runCtx, cancelTimeout = context.WithTimeout(ctx, timeout)
		defer cancelTimeout()
	}
	runCtx, cancel := context.WithCancel(runCtx)
	defer cancel()

	detector := spindle.New(o.cfg.SpindleThresholds)
	var stepCount int
	var abortKind model.FailureKind
	var abortReason string

	onChunk := func(c coder.Chunk) {
		notify(StateExecuting, chunkSummary(c))

		if c.Kind == coder.ChunkToolCall {
			stepCount++
			if path, ok := writeTargetPath(c); ok {
				abs := filepath.Join(workDir, path)
				if allowed, reason := scope.IsFileAllowed(abs, policy); !allowed {
					_, _ = o.deps.Store.AppendRunEvent(ctx, runID, model.EventScopeViolation, map[string]any{
						"file": path, "reason": reason, "phase": "execute",
					})
				}
			}
			if o.cfg.StepBudget > 0 && stepCount >= o.cfg.StepBudget && abortReason == "" {
				abortReason = "step_budget"
				cancel()
				return
			}
		}

		if abortReason != "" {
			return
		}
		ab := detector.Observe(spindle.Action{
			Kind:            string(c.Kind),
			OutputFragment:  c.Text,
			HasToolCall:     c.Kind == coder.ChunkToolCall,
			EstimatedTokens: estimateTokens(c),
		})
		if ab != nil {
			abortKind = model.FailureSpindleAbort
			abortReason = string(ab.Trigger) + ": " + ab.Reason
			_, _ = o.deps.Ledger.PutJSONArtifact(runID, model.ArtifactSpindle, map[string]any{
				"reason": ab.Reason, "trigger": string(ab.Trigger),
			})
			_, _ = o.deps.Store.AppendRunEvent(ctx, runID, model.EventSpindleAbort, map[string]any{
				"trigger": string(ab.Trigger), "reason": ab.Reason,
			})
			cancel()
		}
	}

	onStderr := func(line string) {
		if flags.Verbose {
			notify(StateExecuting, "stderr: "+line)
		}
	}

	res, err := o.deps.Coder.Run(runCtx, coder.RunRequest{
		Command:        o.cfg.AgentCommand,
		Args:           o.cfg.AgentArgs,
		Dir:            workDir,
		Stdin:          buildPrompt(ticket),
		OnChunk:        onChunk,
		OnRawStderr:    onStderr,
		HeartbeatEvery: o.cfg.HeartbeatEvery,
	})

	if ctx.Err() != nil && abortReason == "" {
		return outcome{state: StateAborted}
	}
	if abortReason == "step_budget" {
		return outcome{state: StateFailed, failureKind: model.FailureUnknown, errText: "step_budget"}
	}
	if abortKind == model.FailureSpindleAbort {
		return outcome{state: StateFailed, failureKind: model.FailureSpindleAbort, errText: abortReason}
	}
	if err != nil {
		return outcome{state: StateFailed, failureKind: model.FailureAgentError, errText: err.Error()}
	}
	if res != nil && res.TimedOut {
		return outcome{state: StateFailed, failureKind: model.FailureTimeout, errText: "agent run exceeded timeout_ms"}
	}
	if res != nil && res.ExitCode != 0 {
		return outcome{state: StateFailed, failureKind: model.FailureAgentError, errText: fmt.Sprintf("agent process exited with code %d", res.ExitCode)}
	}
	return outcome{state: StateVerifying}
}

func chunkSummary(c coder.Chunk) string {
	switch c.Kind {
	case coder.ChunkToolCall:
		return "tool_call: " + c.ToolName
	case coder.ChunkCommand:
		return "tool_result"
	case coder.ChunkReasoning:
		return "reasoning"
	case coder.ChunkTerminal:
		return "terminal"
	default:
		return "text"
	}
}

func buildPrompt(ticket model.Ticket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket: %s\n\n%s\n", ticket.Title, ticket.Description)
	if len(ticket.AllowedPaths) > 0 {
		fmt.Fprintf(&b, "\nAllowed paths:\n")
		for _, p := range ticket.AllowedPaths {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	return b.String()
}

// runVerifying implements the Verifying state (spec §4.C7): run every
// verification_command sequentially from the working copy, persisting
// each as a Run Step.
func (o *Orchestrator) runVerifying(ctx context.Context, runID string, ticket model.Ticket, workDir string, notify func(State, string)) outcome {
	for i, cmdline := range ticket.VerificationCmds {
		if ctx.Err() != nil {
			return outcome{state: StateAborted}
		}
		step, err := o.deps.Store.CreateRunStep(ctx, model.RunStep{
			RunID: runID, Attempt: 1, Ordinal: i, Name: fmt.Sprintf("verify_%d", i),
			Kind: model.StepKindCommand, Status: model.StepRunning, Cmd: cmdline, Cwd: workDir,
		})
		if err != nil {
			return outcome{state: StateFailed, failureKind: model.FailureStoreConflict, errText: err.Error()}
		}

		notify(StateVerifying, "running: "+cmdline)
		start := time.Now()
		out, exitCode, runErr := runShellCommand(ctx, workDir, cmdline)
		duration := time.Since(start).Milliseconds()
		tail := tailLines(out, o.cfg.VerificationTail)

		errMsg := ""
		status := model.StepSuccess
		if exitCode != 0 {
			status = model.StepFailed
			errMsg = fmt.Sprintf("exit code %d", exitCode)
		}
		if runErr != nil && exitCode == 0 {
			status = model.StepFailed
			errMsg = runErr.Error()
		}
		_ = o.deps.Store.UpdateRunStepResult(ctx, step.ID, status, exitCode, duration, tail, tail, errMsg)

		if status != model.StepSuccess {
			_, _ = o.deps.Store.AppendRunEvent(ctx, runID, model.EventQAFail, map[string]any{
				"command": cmdline, "exit_code": exitCode, "tail": tail,
			})
			return outcome{state: StateFailed, failureKind: model.FailureQAFailed, errText: "FAIL: " + cmdline + "\n" + tail}
		}
	}
	_, _ = o.deps.Store.AppendRunEvent(ctx, runID, model.EventQAPass, map[string]any{"commands": ticket.VerificationCmds})
	return outcome{state: StateCompleted}
}

func runShellCommand(ctx context.Context, dir, cmdline string) (output string, exitCode int, err error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", cmdline)
	cmd.Dir = dir
	out, runErr := cmd.CombinedOutput()
	exitCode = 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return string(out), -1, runErr
		}
	}
	return string(out), exitCode, nil
}

func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// finishCompleted implements the Completed state (spec §4.C7): merge onto
// the milestone branch, open a PR, mark the run success, transition the
// ticket, and record quality signals.
func (o *Orchestrator) finishCompleted(ctx context.Context, ticket model.Ticket, run model.Run, wc *isolation.WorkingCopy, flags Flags, release func()) (model.Run, error) {
	if err := o.deps.Isolation.IntegrateMilestone(wc, "ticket "+ticket.ID+": "+ticket.Title); err != nil {
		return o.finishFailed(ctx, ticket, run, outcome{failureKind: model.FailureGitError, errText: err.Error()}, release)
	}

	if flags.CreatePR && o.deps.VCS != nil {
		if err := o.deps.VCS.Push(ctx, wc.Branch); err != nil {
			return o.finishFailed(ctx, ticket, run, outcome{failureKind: model.FailurePRError, errText: err.Error()}, release)
		}
		pr, err := o.deps.VCS.CreateDraftPR(ctx, vcs.DraftPR{
			Title: ticket.Title, Body: ticket.Description, Head: wc.Branch, Base: o.cfg.BaseBranch,
		})
		if err != nil && !errors.Is(err, vcs.ErrHostingNotConfigured) {
			return o.finishFailed(ctx, ticket, run, outcome{failureKind: model.FailurePRError, errText: err.Error()}, release)
		}
		if pr != nil {
			_ = o.deps.Store.SetRunPR(ctx, run.ID, pr.URL, pr.Number)
		}
	}

	if err := o.deps.Store.UpdateRunStatus(ctx, run.ID, model.RunSuccess, ""); err != nil {
		return run, fmt.Errorf("orchestrator: mark run success: %w", err)
	}
	if _, err := o.deps.Store.TransitionTicket(ctx, ticket.ID, "success"); err != nil {
		return run, fmt.Errorf("orchestrator: transition ticket to done: %w", err)
	}
	if o.deps.RunState != nil {
		_, _ = o.deps.RunState.RecordQualitySignal(ticket.RetryCount == 0, ticket.RetryCount > 0, true)
	}
	release()
	run.Status = model.RunSuccess
	return run, nil
}

// finishFailed implements the Failed state (spec §4.C7): classify the
// failure via C12, apply its recommendation to the ticket's transition,
// and release the lease.
func (o *Orchestrator) finishFailed(ctx context.Context, ticket model.Ticket, run model.Run, oc outcome, release func()) (model.Run, error) {
	var action recovery.Action
	if oc.errText == "step_budget" {
		action = recovery.Skip{Reason: "step_budget"}
	} else {
		action = recovery.Classify(recovery.Input{
			Reason:    oc.failureKind,
			ErrorText: oc.errText,
			Proposal:  model.Proposal{Files: ticket.AllowedPaths, Category: ticket.Category},
		})
	}

	event := "non_retryable"
	switch a := action.(type) {
	case recovery.RetryWithHint:
		event = retryEvent(ticket)
	case recovery.NarrowScope:
		_ = o.deps.Store.UpdateTicketAllowedPaths(ctx, ticket.ID, a.Files)
		event = retryEvent(ticket)
	case recovery.Skip:
		event = "retryable_at_max"
	}

	_ = o.deps.Store.UpdateRunStatus(ctx, run.ID, model.RunFailure, oc.errText)
	if _, err := o.deps.Store.TransitionTicket(ctx, ticket.ID, event); err != nil {
		release()
		return run, fmt.Errorf("orchestrator: transition ticket after failure: %w", err)
	}
	if o.deps.RunState != nil {
		_, _ = o.deps.RunState.RecordQualitySignal(false, false, false)
	}
	release()
	run.Status = model.RunFailure
	run.Error = oc.errText
	return run, nil
}

func retryEvent(ticket model.Ticket) string {
	if ticket.MaxRetries > 0 && ticket.RetryCount >= ticket.MaxRetries {
		return "retryable_at_max"
	}
	return "retryable_below_max"
}

// recordCanceled persists a canceled run step and marks the run canceled
// (spec §4.C7 invariants: "persist a canceled run-step if one was active").
func (o *Orchestrator) recordCanceled(ctx context.Context, runID string) {
	// ctx is already canceled here, so use a detached context for the final
	// bookkeeping writes.
	bg := context.Background()
	_, _ = o.deps.Store.CreateRunStep(bg, model.RunStep{
		RunID: runID, Attempt: 1, Ordinal: 0, Name: "cancellation", Kind: model.StepKindInternal,
		Status: model.StepCanceled,
	})
	_ = o.deps.Store.UpdateRunStatus(bg, runID, model.RunFailure, "canceled")
}
