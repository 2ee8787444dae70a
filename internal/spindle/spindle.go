// Package spindle implements spec component C9: observing a live execution's
// event stream and raising an abort when the agent is no longer making
// progress.
package spindle

import (
	"strings"
)

// Trigger names the reason a spindle abort fired (spec §4.C9).
type Trigger string

const (
	TriggerOscillation Trigger = "oscillation"
	TriggerSpinning    Trigger = "spinning"
	TriggerQAPingPong  Trigger = "qa_ping_pong"
	TriggerTokenBudget Trigger = "token_budget"
	TriggerStall       Trigger = "stall"
)

// Thresholds is the single configurable record exposed by the component
// (spec §4.C9 "exposes thresholds as a single configurable record; the
// defaults are part of the contract").
type Thresholds struct {
	OscillationRepeats   int     // k
	SpinningWindow       int     // m
	SpinningSimilarity   float64 // [0,1]
	TokenBudgetAbort     int
	MaxStallIterations   int
}

// DefaultThresholds are the contractual defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		OscillationRepeats: 3,
		SpinningWindow:     4,
		SpinningSimilarity: 0.85,
		TokenBudgetAbort:   120_000,
		MaxStallIterations: 6,
	}
}

// Action is one observed step in the execution stream.
type Action struct {
	Kind          string // e.g. tool name, "reasoning", "command"
	OutputFragment string
	HasToolCall   bool
	EstimatedTokens int
	FailingTests  []string // test names observed failing after this action, for qa_ping_pong
}

// Abort is emitted when a trigger fires (spec §4.C9 "spindle_abort event").
type Abort struct {
	Trigger Trigger
	Reason  string
}

// Detector accumulates observed actions for one attempt and evaluates
// triggers incrementally as each new action arrives.
type Detector struct {
	thresholds Thresholds
	actions    []Action
	tokensSum  int
	stallCount int

	// qaFailHistory tracks, per test name, the most recent pass/fail
	// observed, to detect "fixes one test, breaks another in the same set."
	qaFailHistory map[string]bool
	qaFixedOnce   map[string]bool
}

// New creates a Detector for one attempt.
func New(thresholds Thresholds) *Detector {
	return &Detector{
		thresholds:    thresholds,
		qaFailHistory: map[string]bool{},
		qaFixedOnce:   map[string]bool{},
	}
}

// Observe feeds one action into the detector and returns an Abort if a
// trigger fires. Triggers are checked in the order listed in spec §4.C9.
func (d *Detector) Observe(a Action) *Abort {
	d.actions = append(d.actions, a)
	d.tokensSum += a.EstimatedTokens

	if a.HasToolCall {
		d.stallCount = 0
	} else {
		d.stallCount++
	}

	if abort := d.checkOscillation(); abort != nil {
		return abort
	}
	if abort := d.checkSpinning(); abort != nil {
		return abort
	}
	if abort := d.checkQAPingPong(a); abort != nil {
		return abort
	}
	if d.tokensSum > d.thresholds.TokenBudgetAbort {
		return &Abort{Trigger: TriggerTokenBudget, Reason: "estimated token usage exceeded the configured budget"}
	}
	if d.stallCount >= d.thresholds.MaxStallIterations {
		return &Abort{Trigger: TriggerStall, Reason: "no tool invocation observed for the configured number of consecutive steps"}
	}
	return nil
}

// checkOscillation detects the same (A, B) action-kind pair repeated ≥ k
// times consecutively within the attempt (spec §4.C9 "oscillation").
func (d *Detector) checkOscillation() *Abort {
	k := d.thresholds.OscillationRepeats
	if k <= 0 || len(d.actions) < 2*k {
		return nil
	}
	n := len(d.actions)
	a, b := d.actions[n-2].Kind, d.actions[n-1].Kind
	if a == b {
		return nil
	}
	for i := 1; i < k; i++ {
		idx := n - 2 - 2*i
		if idx < 0 {
			return nil
		}
		if d.actions[idx].Kind != a || d.actions[idx+1].Kind != b {
			return nil
		}
	}
	return &Abort{Trigger: TriggerOscillation, Reason: "action pair (" + a + ", " + b + ") repeated without progress"}
}

// checkSpinning detects the last m output fragments having pairwise
// similarity at or above the threshold (spec §4.C9 "spinning"), using
// Jaccard similarity over whitespace-split tokens as the portable measure.
func (d *Detector) checkSpinning() *Abort {
	m := d.thresholds.SpinningWindow
	if m <= 1 || len(d.actions) < m {
		return nil
	}
	window := d.actions[len(d.actions)-m:]
	var total float64
	var pairs int
	for i := 0; i < len(window); i++ {
		for j := i + 1; j < len(window); j++ {
			total += jaccard(window[i].OutputFragment, window[j].OutputFragment)
			pairs++
		}
	}
	if pairs == 0 {
		return nil
	}
	if total/float64(pairs) >= d.thresholds.SpinningSimilarity {
		return &Abort{Trigger: TriggerSpinning, Reason: "recent output fragments are highly similar with no new progress"}
	}
	return nil
}

// checkQAPingPong detects the agent repeatedly fixing one test in a set
// while breaking another member of the same set (spec §4.C9
// "qa_ping_pong").
func (d *Detector) checkQAPingPong(a Action) *Abort {
	if len(a.FailingTests) == 0 {
		return nil
	}
	currentlyFailing := map[string]bool{}
	for _, t := range a.FailingTests {
		currentlyFailing[t] = true
	}

	var abort *Abort
	for name, wasFailing := range d.qaFailHistory {
		if wasFailing && !currentlyFailing[name] {
			d.qaFixedOnce[name] = true
		}
	}
	for name := range currentlyFailing {
		if d.qaFixedOnce[name] && !d.qaFailHistory[name] {
			abort = &Abort{Trigger: TriggerQAPingPong, Reason: "test " + name + " regressed after being fixed while others in the same set flipped"}
		}
	}

	for name := range d.qaFailHistory {
		if !currentlyFailing[name] {
			delete(d.qaFailHistory, name)
		}
	}
	for name := range currentlyFailing {
		d.qaFailHistory[name] = true
	}
	return abort
}

func jaccard(a, b string) float64 {
	sa := tokenSet(a)
	sb := tokenSet(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 1
	}
	inter, union := 0, 0
	seen := map[string]struct{}{}
	for t := range sa {
		seen[t] = struct{}{}
		if sb[t] {
			inter++
		}
	}
	for t := range sb {
		seen[t] = struct{}{}
	}
	union = len(seen)
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]bool {
	fields := strings.Fields(s)
	out := make(map[string]bool, len(fields))
	for _, f := range fields {
		out[f] = true
	}
	return out
}
