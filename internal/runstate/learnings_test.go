package runstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strongdm/promptwheel/internal/model"
)

func TestApplyLearningsDecayBasicReduction(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	learnings := []model.Learning{
		{ID: "1", Text: "a", Weight: 50, Category: "pattern"},
	}
	out := ApplyLearningsDecay(learnings, 10, now)
	require.Len(t, out, 1)
	require.Equal(t, 40.0, out[0].Weight)
}

func TestApplyLearningsDecayHalvedForAccessedEntries(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	learnings := []model.Learning{
		{ID: "1", Text: "a", Weight: 50, AccessCount: 3},
	}
	out := ApplyLearningsDecay(learnings, 10, now)
	require.Len(t, out, 1)
	require.Equal(t, 45.0, out[0].Weight)
}

func TestApplyLearningsDecayHalvedAgainForRecentlyConfirmed(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	learnings := []model.Learning{
		{ID: "1", Text: "a", Weight: 50, AccessCount: 2, LastConfirmedAt: now.Add(-2 * time.Hour)},
	}
	out := ApplyLearningsDecay(learnings, 10, now)
	require.Len(t, out, 1)
	require.Equal(t, 47.5, out[0].Weight)
}

func TestApplyLearningsDecayCapsAtMaxWeight(t *testing.T) {
	now := time.Now()
	learnings := []model.Learning{{ID: "1", Text: "a", Weight: 200}}
	out := ApplyLearningsDecay(learnings, -1000, now) // negative rate = growth, to exercise the cap
	require.Len(t, out, 1)
	require.Equal(t, 100.0, out[0].Weight)
}

func TestApplyLearningsDecayDropsEntriesAtOrBelowZero(t *testing.T) {
	now := time.Now()
	learnings := []model.Learning{{ID: "1", Text: "a", Weight: 5}}
	out := ApplyLearningsDecay(learnings, 10, now)
	require.Empty(t, out)
}

func TestConsolidateLearningsMergesNearDuplicatesSameCategory(t *testing.T) {
	learnings := []model.Learning{
		{ID: "1", Text: "avoid calling the legacy api directly", Category: "gotcha", Weight: 50, AccessCount: 1},
		{ID: "2", Text: "avoid calling the legacy API directly!", Category: "gotcha", Weight: 80, AccessCount: 2},
		{ID: "3", Text: "unrelated fact about the build system", Category: "pattern", Weight: 30},
	}
	out := ConsolidateLearnings(learnings, 0.7)
	require.NotNil(t, out)
	require.Len(t, out, 2)
}

func TestConsolidateLearningsDoesNotMergeAcrossCategories(t *testing.T) {
	learnings := []model.Learning{
		{ID: "1", Text: "same exact text here", Category: "gotcha", Weight: 50},
		{ID: "2", Text: "same exact text here", Category: "pattern", Weight: 50},
	}
	out := ConsolidateLearnings(learnings, 0.7)
	require.Len(t, out, 2)
}

func TestConsolidateLearningsReturnsNilWhenTooAggressive(t *testing.T) {
	learnings := make([]model.Learning, 10)
	for i := range learnings {
		learnings[i] = model.Learning{ID: string(rune('a' + i)), Text: "identical text for every entry", Category: "pattern", Weight: 10}
	}
	out := ConsolidateLearnings(learnings, 0.5)
	require.Nil(t, out) // all 10 would merge into 1, below ceil(10*0.4)=4
}

func TestSelectRelevantScoresTagAndKeywordMatches(t *testing.T) {
	learnings := []model.Learning{
		{ID: "1", Text: "the auth module requires a token refresh before retry", Tags: []string{"auth"}, Weight: 10},
		{ID: "2", Text: "unrelated note about formatting", Tags: []string{"style"}, Weight: 90},
	}
	out := SelectRelevant(learnings, []string{"path:internal/auth/token.go"}, 5)
	require.NotEmpty(t, out)
	require.Equal(t, "1", out[0].ID)
}

func TestSelectRelevantBoostsGotchaWhenCommandsPresent(t *testing.T) {
	learnings := []model.Learning{
		{ID: "1", Text: "running tests needs extra flags", Category: "gotcha", Weight: 10},
		{ID: "2", Text: "running tests needs extra flags too", Category: "pattern", Weight: 10},
	}
	out := SelectRelevant(learnings, []string{"cmd:go test ./...", "running"}, 5)
	require.Len(t, out, 2)
	require.Equal(t, "1", out[0].ID)
}

func TestSelectRelevantRespectsMaxResults(t *testing.T) {
	learnings := []model.Learning{
		{ID: "1", Text: "alpha", Weight: 10},
		{ID: "2", Text: "alpha", Weight: 20},
		{ID: "3", Text: "alpha", Weight: 30},
	}
	out := SelectRelevant(learnings, []string{"alpha"}, 2)
	require.Len(t, out, 2)
}
