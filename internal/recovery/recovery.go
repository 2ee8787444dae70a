// Package recovery implements spec component C12: given a failed run's
// reason, error text, and originating proposal, classify the failure and
// recommend one of {retry_with_hint, narrow_scope, skip}.
package recovery

import (
	"regexp"
	"strings"

	"github.com/strongdm/promptwheel/internal/model"
)

// Action is a closed tagged sum over the three recovery outcomes (spec
// §4.C12). A closed interface is used here, rather than the
// status-string-plus-payload shape used elsewhere in this repo (see
// model.RunStep etc.), because the spec calls for exactly three fixed
// payload shapes with no extensibility point.
type Action interface {
	isAction()
}

// RetryWithHint asks the caller to retry the same ticket, feeding hint back
// to the agent as additional context.
type RetryWithHint struct {
	Hint string
}

func (RetryWithHint) isAction() {}

// NarrowScope asks the caller to retry with allowed_paths restricted to
// files.
type NarrowScope struct {
	Files []string
}

func (NarrowScope) isAction() {}

// Skip asks the caller to give up on this ticket for the current cycle.
type Skip struct {
	Reason string
}

func (Skip) isAction() {}

// Input bundles what Classify needs (spec §4.C12 "Input: the failed run's
// reason + error text + the proposal").
type Input struct {
	Reason    model.FailureKind
	ErrorText string
	Proposal  model.Proposal
}

var failTailRe = regexp.MustCompile(`(?s)FAIL:.*$`)

const genericErrorLengthThreshold = 400

// Classify implements spec §4.C12's decision table.
func Classify(in Input) Action {
	errText := strings.TrimSpace(in.ErrorText)

	switch in.Reason {
	case model.FailureSpindleAbort:
		return classifySpindleTrigger(errText)
	case model.FailureQAFailed:
		if m := failTailRe.FindString(errText); m != "" {
			return RetryWithHint{Hint: strings.TrimSpace(m)}
		}
		return RetryWithHint{Hint: "the previous attempt failed verification; review the failing command's output and fix the underlying issue"}
	case model.FailureScopeViolation:
		if files, ok := narrowableFiles(in.Proposal); ok {
			return NarrowScope{Files: files}
		}
		return Skip{Reason: "scope violation with no narrower concrete file set available"}
	case model.FailureTimeout:
		return Skip{Reason: "timeout"}
	case model.FailureGitError:
		return Skip{Reason: "git error: " + errText}
	case model.FailurePRError:
		return Skip{Reason: "pr error: " + errText}
	case model.FailureCanceled:
		return Skip{Reason: "canceled"}
	case model.FailureAgentError:
		return classifyAgentError(errText)
	}

	if errText == "" {
		return Skip{Reason: "empty error text"}
	}
	return classifyAgentError(errText)
}

// classifySpindleTrigger maps a spindle abort's trigger text to a recovery
// action (spec §4.C9's trigger names feed directly into §4.C12's table).
func classifySpindleTrigger(errText string) Action {
	lower := strings.ToLower(errText)
	switch {
	case strings.Contains(lower, "oscillation"):
		return RetryWithHint{Hint: "the previous attempt repeated the same pair of actions without making progress; try a materially different approach"}
	case strings.Contains(lower, "spinning"):
		return RetryWithHint{Hint: "the previous attempt produced repetitive output with no new progress; break the task down differently"}
	case strings.Contains(lower, "qa_ping_pong"), strings.Contains(lower, "qa ping pong"):
		return RetryWithHint{Hint: "the previous attempt kept fixing one test while breaking another in the same suite; address the shared root cause instead of patching each failure individually"}
	case strings.Contains(lower, "token_budget"):
		return Skip{Reason: "token budget exceeded"}
	case strings.Contains(lower, "stall"):
		return Skip{Reason: "agent stalled with no tool invocation"}
	default:
		return Skip{Reason: "spindle abort: " + errText}
	}
}

func classifyAgentError(errText string) Action {
	lower := strings.ToLower(errText)
	switch {
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "eacces"), strings.Contains(lower, "forbidden"):
		return RetryWithHint{Hint: "the previous attempt hit a permissions error; avoid the restricted path or command and find another way to achieve the goal"}
	case strings.Contains(lower, "no such file"), strings.Contains(lower, "not found"), strings.Contains(lower, "enoent"):
		return RetryWithHint{Hint: "the previous attempt referenced a file or path that does not exist; verify paths against the actual repository structure before writing"}
	case len(errText) > genericErrorLengthThreshold:
		return RetryWithHint{Hint: "take a different approach"}
	default:
		return Skip{Reason: errText}
	}
}

// narrowableFiles implements spec §4.C12 "narrow_scope ... when the
// proposal's file list contains both concrete paths and globs, and concrete
// is a strict subset".
func narrowableFiles(p model.Proposal) ([]string, bool) {
	var concrete []string
	hasGlob := false
	for _, f := range p.Files {
		if strings.ContainsAny(f, "*?[") {
			hasGlob = true
			continue
		}
		concrete = append(concrete, f)
	}
	if !hasGlob || len(concrete) == 0 || len(concrete) >= len(p.Files) {
		return nil, false
	}
	return concrete, true
}
