// Package model holds the shared value types referenced by every control-plane
// component. Tickets, Runs and Leases refer to each other by id only; nothing
// in this package holds a live pointer to another entity, so no in-memory
// reference cycle can escape a single function's scope.
package model

import "time"

// TicketStatus is a node in the ticket lifecycle DAG (spec §4.C6).
type TicketStatus string

const (
	TicketBacklog    TicketStatus = "backlog"
	TicketReady      TicketStatus = "ready"
	TicketLeased     TicketStatus = "leased"
	TicketInProgress TicketStatus = "in_progress"
	TicketBlocked    TicketStatus = "blocked"
	TicketAborted    TicketStatus = "aborted"
	TicketDone       TicketStatus = "done"
)

func (s TicketStatus) Valid() bool {
	switch s {
	case TicketBacklog, TicketReady, TicketLeased, TicketInProgress, TicketBlocked, TicketAborted, TicketDone:
		return true
	default:
		return false
	}
}

// ticketEdges is the authoritative DAG from spec §4.C6. Keys are "from:event",
// values are the resulting status. Used by store.TransitionTicket to validate
// a move before issuing the conditional UPDATE.
var ticketEdges = map[string]TicketStatus{
	"backlog:approve":                    TicketReady,
	"ready:lease":                         TicketLeased,
	"leased:start":                        TicketInProgress,
	"leased:expire":                      TicketReady,
	"in_progress:success":                TicketDone,
	"in_progress:retryable_below_max":    TicketReady,
	"in_progress:retryable_at_max":       TicketBlocked,
	"in_progress:non_retryable":          TicketAborted,
	"blocked:heal":                       TicketReady,
}

// NextTicketStatus validates a transition event against the DAG. ok is false
// when no such edge exists (the caller should treat this as store_conflict /
// programmer error, never silently no-op).
func NextTicketStatus(from TicketStatus, event string) (to TicketStatus, ok bool) {
	to, ok = ticketEdges[string(from)+":"+event]
	return
}

// RunType distinguishes scout/worker/qa runs (spec §3).
type RunType string

const (
	RunTypeScout  RunType = "scout"
	RunTypeWorker RunType = "worker"
	RunTypeQA     RunType = "qa"
)

// RunStatus is the run lifecycle (spec §3 "Run").
type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailure RunStatus = "failure"
)

// LeaseStatus tracks a lease's place in its own short lifecycle (spec §3 "Lease").
type LeaseStatus string

const (
	LeaseIssued   LeaseStatus = "issued"
	LeaseExpired  LeaseStatus = "expired"
	LeaseReleased LeaseStatus = "released"
)

// RunStepKind is the kind of a Run Step (spec §3 "Run Step").
type RunStepKind string

const (
	StepKindCommand RunStepKind = "command"
	StepKindLLMFix  RunStepKind = "llm_fix"
	StepKindGit     RunStepKind = "git"
	StepKindInternal RunStepKind = "internal"
)

// RunStepStatus is the status of a single Run Step.
type RunStepStatus string

const (
	StepQueued   RunStepStatus = "queued"
	StepRunning  RunStepStatus = "running"
	StepSuccess  RunStepStatus = "success"
	StepFailed   RunStepStatus = "failed"
	StepSkipped  RunStepStatus = "skipped"
	StepCanceled RunStepStatus = "canceled"
)

// FailureKind is the error taxonomy from spec §7. It is not a Go `error`
// itself — recovery.Classify maps a concrete error plus context to one of
// these kinds, preserving the kind across component boundaries per spec's
// "Propagation rule."
type FailureKind string

const (
	FailureSchemaInvalid     FailureKind = "schema_invalid"
	FailureScopeViolation    FailureKind = "scope_violation"
	FailureQAFailed          FailureKind = "qa_failed"
	FailureSpindleAbort      FailureKind = "spindle_abort"
	FailureTimeout           FailureKind = "timeout"
	FailureCanceled          FailureKind = "canceled"
	FailureGitError          FailureKind = "git_error"
	FailurePRError           FailureKind = "pr_error"
	FailureAgentError        FailureKind = "agent_error"
	FailureStoreConflict     FailureKind = "store_conflict"
	FailureMigrationMismatch FailureKind = "migration_mismatch"
	FailureUnknown           FailureKind = "unknown"
)

// Project is the top-level, immutable-once-created entity.
type Project struct {
	ID        string
	Name      string
	RepoURL   string
	RootPath  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Ticket is the unit of work handed to one agent run at a time (spec §3).
type Ticket struct {
	ID                  string
	ProjectID           string
	Title               string
	Description         string
	Status              TicketStatus
	Priority            int
	Shard               string
	Category            string
	AllowedPaths        []string
	ForbiddenPaths      []string
	VerificationCmds    []string
	MaxRetries          int
	RetryCount          int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Run is one invocation of a scout, worker, or qa task (spec §3).
type Run struct {
	ID            string
	ProjectID     string
	TicketID      string // empty for scout runs
	Type          RunType
	Status        RunStatus
	Iteration     int
	MaxIterations int
	StartedAt     *time.Time
	CompletedAt   *time.Time
	Error         string
	Metadata      map[string]any
	PRURL         string
	PRNumber      int
	CreatedAt     time.Time
}

// Lease is a short-lived exclusive grant over a ticket to one agent (spec §3).
type Lease struct {
	ID          string
	TicketID    string
	RunID       string
	AgentID     string
	Status      LeaseStatus
	ExpiresAt   time.Time
	HeartbeatAt time.Time
	CreatedAt   time.Time
}

// RunStep is a sub-unit of a Run (spec §3 "Run Step").
type RunStep struct {
	ID              string
	RunID           string
	Attempt         int
	Ordinal         int
	Name            string
	Kind            RunStepKind
	Status          RunStepStatus
	Cmd             string
	Cwd             string
	TimeoutMS       int
	ExitCode        int
	Signal          string
	StartedAtMS     int64
	EndedAtMS       int64
	DurationMS      int64
	StdoutPath      string
	StderrPath      string
	StdoutBytes     int64
	StderrBytes     int64
	StdoutTruncated bool
	StderrTruncated bool
	StdoutTail      string
	StderrTail      string
	ErrorMessage    string
	Meta            map[string]any
	CreatedAtMS     int64
	UpdatedAtMS     int64
}

// RunEvent is an append-only fact about a run (spec §3 "Run Event").
type RunEvent struct {
	ID        string
	RunID     string
	Type      string
	Data      map[string]any
	CreatedAt time.Time
}

// Run event type constants (spec §6 "history.ndjson", §4.C10, §4.C9, §4.C5).
const (
	EventTicketsCreated    = "TICKETS_CREATED"
	EventProposalsFiltered = "PROPOSALS_FILTERED"
	EventScopeViolation    = "SCOPE_VIOLATION"
	EventSpindleAbort      = "SPINDLE_ABORT"
	EventQAPass            = "QA_PASS"
	EventQAFail            = "QA_FAIL"
)

// ArtifactType enumerates the artifact kinds from spec §3/§6.
type ArtifactType string

const (
	ArtifactProposals  ArtifactType = "proposals"
	ArtifactExecutions ArtifactType = "executions"
	ArtifactDiffs      ArtifactType = "diffs"
	ArtifactViolations ArtifactType = "violations"
	ArtifactRuns       ArtifactType = "runs"
	ArtifactSpindle    ArtifactType = "spindle"
)

// Artifact is an on-disk JSON blob (spec §3 "Artifact").
type Artifact struct {
	ID        string
	RunID     string
	Type      ArtifactType
	Name      string
	Content   []byte
	Path      string
	CreatedAt time.Time
}

// SymbolKind enumerates export kinds (spec §3 "Module Entry").
type SymbolKind string

const (
	SymbolFunction  SymbolKind = "function"
	SymbolClass     SymbolKind = "class"
	SymbolType      SymbolKind = "type"
	SymbolInterface SymbolKind = "interface"
	SymbolEnum      SymbolKind = "enum"
	SymbolVariable  SymbolKind = "variable"
	SymbolOther     SymbolKind = "other"
)

// Export is one exported binding in a Module Entry.
type Export struct {
	Name string
	Kind SymbolKind
}

// SymbolRange is a (name, startLine, endLine) record, 1-based (spec §3, GLOSSARY).
type SymbolRange struct {
	Name      string
	StartLine int
	EndLine   int
}

// CallEdge is a caller -> callee edge, optionally tagged with the import
// source it was resolved through (spec §3 "Module Entry").
type CallEdge struct {
	Caller       string
	Callee       string
	ImportSource string
}

// ModuleEntry is a per-directory summary (spec §3, §4.C2).
type ModuleEntry struct {
	Path               string
	FileCount          int
	ProductionFileCount int
	PurposeTag         string
	ImportSpecifiers   []string
	Exports            []Export
	Complexity         int
	SymbolRanges       map[string][]SymbolRange // per file
	CallEdges          []CallEdge
}

// Proposal is a validated scout-produced change proposal (spec §3).
type Proposal struct {
	Category             string
	Title                string
	Description          string
	AcceptanceCriteria   []string
	VerificationCommands []string
	AllowedPaths         []string
	Files                []string
	Confidence           int // [0,100]
	ImpactScore          int // [1,10]
	Rationale            string
	EstimatedComplexity  string
	Risk                 string // low|medium|high
	TouchedFilesEstimate int
	RollbackNote         string
	TargetSymbols        []string
}

// Learning is a durable, decaying fact recorded by the system (spec §3).
type Learning struct {
	ID              string
	Text            string
	Category        string // pattern|warning|gotcha|context
	SourceType      string
	SourceDetail    string
	Tags            []string
	Weight          float64 // [0,100]
	CreatedAt       time.Time
	LastConfirmedAt time.Time
	AccessCount     int
}

// Sector is a directory subtree chosen as a scan unit (spec §3, §4.C13).
type Sector struct {
	Path           string
	ScanCount      int
	LastScanTime   time.Time
	ProposalYield  int
}
