// Package runstate implements spec component C11: the durable per-project
// run state that survives across cycles (formula stats, quality signals,
// deferred proposals, a recent-diffs ring buffer), plus the decaying
// learnings store it shares a directory with.
package runstate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// lockRegistry serializes read-modify-write access to a run-state file by
// path, within this process. Spec §4.C8's "Global mutable state" section
// names only the git mutex and AST cache as legitimate module-level
// state; this registry is the same shape applied to a second concern this
// repo's process boundary (spec §6) makes single-process-per-project, so
// no cross-process file lock is required (no example repo in the pack
// imports one — see DESIGN.md).
var (
	lockRegistryMu sync.Mutex
	lockRegistry   = map[string]*sync.Mutex{}
)

func lockFor(path string) *sync.Mutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()
	m, ok := lockRegistry[path]
	if !ok {
		m = &sync.Mutex{}
		lockRegistry[path] = m
	}
	return m
}

// FormulaStats tracks one formula (lens)'s outcome history (spec §4.C11).
type FormulaStats struct {
	TicketsTotal            int `json:"ticketsTotal"`
	TicketsSucceeded        int `json:"ticketsSucceeded"`
	RecentCycles            int `json:"recentCycles"`
	RecentTicketsTotal      int `json:"recentTicketsTotal"`
	RecentTicketsSucceeded  int `json:"recentTicketsSucceeded"`
}

// QualitySignals is the aggregate first-pass/retry/QA tally (spec §4.C11).
type QualitySignals struct {
	TotalTickets    int `json:"totalTickets"`
	FirstPassSuccess int `json:"firstPassSuccess"`
	RetriedSuccess  int `json:"retriedSuccess"`
	QAPassed        int `json:"qaPassed"`
	QAFailed        int `json:"qaFailed"`
}

// DeferredProposal is a proposal set aside for a later cycle/sector (spec
// §4.C11 "deferredProposals (capped)").
type DeferredProposal struct {
	Scope   string          `json:"scope"`
	Payload json.RawMessage `json:"payload"`
}

const (
	maxDeferredProposals = 50
	recentDiffsCap        = 10
)

// State is the full persisted document (spec §4.C11 "run-state (JSON,
// read-then-write-atomically with a per-file lock)").
type State struct {
	TotalCycles            int                     `json:"totalCycles"`
	LastDocsAuditCycle     int                     `json:"lastDocsAuditCycle"`
	LastRunAt              time.Time               `json:"lastRunAt"`
	FormulaStats           map[string]FormulaStats `json:"formulaStats"`
	QualitySignals         QualitySignals          `json:"qualitySignals"`
	DeferredProposals      []DeferredProposal       `json:"deferredProposals"`
	RecentDiffs            []string                `json:"recentDiffs"`
	EffectiveMinConfidence int                     `json:"effectiveMinConfidence"`
}

func newState() *State {
	return &State{FormulaStats: map[string]FormulaStats{}}
}

// Store persists State to a fixed path, serialized per-path.
type Store struct {
	Path string
}

// NewStore returns a Store backed by <repo>/.promptwheel/run-state.json.
func NewStore(repoDir string) *Store {
	return &Store{Path: filepath.Join(repoDir, ".promptwheel", "run-state.json")}
}

func (s *Store) load() (*State, error) {
	b, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return newState(), nil
	}
	if err != nil {
		return nil, err
	}
	st := newState()
	if err := json.Unmarshal(b, st); err != nil {
		return nil, err
	}
	if st.FormulaStats == nil {
		st.FormulaStats = map[string]FormulaStats{}
	}
	return st, nil
}

func (s *Store) save(st *State) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}

// mutate is the single read-modify-write choke point every exported
// mutating helper goes through, so concurrent calls never lose updates
// (spec §4.C11).
func (s *Store) mutate(fn func(*State)) (*State, error) {
	mu := lockFor(s.Path)
	mu.Lock()
	defer mu.Unlock()

	st, err := s.load()
	if err != nil {
		return nil, err
	}
	fn(st)
	if err := s.save(st); err != nil {
		return nil, err
	}
	return st, nil
}

// Load returns a snapshot of the current state without mutating it.
func (s *Store) Load() (*State, error) {
	mu := lockFor(s.Path)
	mu.Lock()
	defer mu.Unlock()
	return s.load()
}

// RecordCycle increments totalCycles, updates lastRunAt, and rolls every
// formula's recentCycles forward.
func (s *Store) RecordCycle(now time.Time) (*State, error) {
	return s.mutate(func(st *State) {
		st.TotalCycles++
		st.LastRunAt = now
		for name, fs := range st.FormulaStats {
			fs.RecentCycles++
			st.FormulaStats[name] = fs
		}
	})
}

// RecordQualitySignal folds one ticket outcome into the aggregate quality
// signals. Only completed (qaPassed) tickets count toward totalTickets and
// the quality rate it denominates (spec §8 scenario 5: 8 first_pass + 1
// retried + 1 qa_fail yields 8/9, not 8/10) — a qa_fail is not yet a
// finished ticket, so it's tallied separately rather than folded into the
// denominator.
func (s *Store) RecordQualitySignal(firstPass, retriedSuccess, qaPassed bool) (*State, error) {
	return s.mutate(func(st *State) {
		if qaPassed {
			st.QualitySignals.TotalTickets++
			st.QualitySignals.QAPassed++
			if firstPass {
				st.QualitySignals.FirstPassSuccess++
			}
			if retriedSuccess {
				st.QualitySignals.RetriedSuccess++
			}
		} else {
			st.QualitySignals.QAFailed++
		}
	})
}

// GetQualityRate returns firstPassSuccess/totalTickets, the headline signal
// spec §4.C11 calls "quality rate" (spec §8 scenario 5). Returns 0 if no
// tickets have completed yet.
func (s *Store) GetQualityRate() (float64, error) {
	st, err := s.Load()
	if err != nil {
		return 0, err
	}
	if st.QualitySignals.TotalTickets == 0 {
		return 0, nil
	}
	return float64(st.QualitySignals.FirstPassSuccess) / float64(st.QualitySignals.TotalTickets), nil
}

// RecordFormulaTicketOutcome folds one ticket's pass/fail into formula
// (named by lens) and recent-window stats.
func (s *Store) RecordFormulaTicketOutcome(formula string, succeeded bool) (*State, error) {
	return s.mutate(func(st *State) {
		fs := st.FormulaStats[formula]
		fs.TicketsTotal++
		fs.RecentTicketsTotal++
		if succeeded {
			fs.TicketsSucceeded++
			fs.RecentTicketsSucceeded++
		}
		st.FormulaStats[formula] = fs
	})
}

// DeferProposal appends a deferred proposal, dropping the oldest once the
// cap is exceeded.
func (s *Store) DeferProposal(scope string, payload json.RawMessage) (*State, error) {
	return s.mutate(func(st *State) {
		st.DeferredProposals = append(st.DeferredProposals, DeferredProposal{Scope: scope, Payload: payload})
		if len(st.DeferredProposals) > maxDeferredProposals {
			st.DeferredProposals = st.DeferredProposals[len(st.DeferredProposals)-maxDeferredProposals:]
		}
	})
}

// PopDeferredForScope removes and returns every deferred proposal matching
// scope.
func (s *Store) PopDeferredForScope(scope string) ([]DeferredProposal, error) {
	var popped []DeferredProposal
	_, err := s.mutate(func(st *State) {
		var remaining []DeferredProposal
		for _, p := range st.DeferredProposals {
			if p.Scope == scope {
				popped = append(popped, p)
			} else {
				remaining = append(remaining, p)
			}
		}
		st.DeferredProposals = remaining
	})
	if err != nil {
		return nil, err
	}
	return popped, nil
}

// PushRecentDiff appends to the recent-diffs ring buffer (cap 10).
func (s *Store) PushRecentDiff(diff string) (*State, error) {
	return s.mutate(func(st *State) {
		st.RecentDiffs = append(st.RecentDiffs, diff)
		if len(st.RecentDiffs) > recentDiffsCap {
			st.RecentDiffs = st.RecentDiffs[len(st.RecentDiffs)-recentDiffsCap:]
		}
	})
}
