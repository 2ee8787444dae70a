package recovery

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strongdm/promptwheel/internal/model"
)

func TestClassifyQAFailedExtractsFailTail(t *testing.T) {
	action := Classify(Input{Reason: model.FailureQAFailed, ErrorText: "running tests...\nFAIL: TestFoo expected 1 got 2"})
	hint, ok := action.(RetryWithHint)
	require.True(t, ok)
	require.True(t, strings.HasPrefix(hint.Hint, "FAIL:"))
}

func TestClassifyScopeViolationNarrowsWhenConcreteSubsetExists(t *testing.T) {
	action := Classify(Input{
		Reason:   model.FailureScopeViolation,
		Proposal: model.Proposal{Files: []string{"src/a.go", "src/**/*.go"}},
	})
	narrow, ok := action.(NarrowScope)
	require.True(t, ok)
	require.Equal(t, []string{"src/a.go"}, narrow.Files)
}

func TestClassifyScopeViolationSkipsWithNoGlobs(t *testing.T) {
	action := Classify(Input{
		Reason:   model.FailureScopeViolation,
		Proposal: model.Proposal{Files: []string{"src/a.go", "src/b.go"}},
	})
	_, ok := action.(Skip)
	require.True(t, ok)
}

func TestClassifyTimeoutSkips(t *testing.T) {
	action := Classify(Input{Reason: model.FailureTimeout})
	skip, ok := action.(Skip)
	require.True(t, ok)
	require.Equal(t, "timeout", skip.Reason)
}

func TestClassifySpindleOscillationRetries(t *testing.T) {
	action := Classify(Input{Reason: model.FailureSpindleAbort, ErrorText: "trigger=oscillation action_pair=(edit,read)"})
	_, ok := action.(RetryWithHint)
	require.True(t, ok)
}

func TestClassifySpindleTokenBudgetSkips(t *testing.T) {
	action := Classify(Input{Reason: model.FailureSpindleAbort, ErrorText: "trigger=token_budget"})
	_, ok := action.(Skip)
	require.True(t, ok)
}

func TestClassifyEmptyErrorSkips(t *testing.T) {
	action := Classify(Input{})
	skip, ok := action.(Skip)
	require.True(t, ok)
	require.Equal(t, "empty error text", skip.Reason)
}

func TestClassifyAgentPermissionError(t *testing.T) {
	action := Classify(Input{Reason: model.FailureAgentError, ErrorText: "permission denied writing to /etc/passwd"})
	_, ok := action.(RetryWithHint)
	require.True(t, ok)
}

func TestClassifyAgentLongGenericErrorRetries(t *testing.T) {
	action := Classify(Input{Reason: model.FailureAgentError, ErrorText: strings.Repeat("x", 500)})
	hint, ok := action.(RetryWithHint)
	require.True(t, ok)
	require.Equal(t, "take a different approach", hint.Hint)
}
