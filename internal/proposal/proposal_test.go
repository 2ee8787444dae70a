package proposal

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strongdm/promptwheel/internal/model"
)

func rawProposal(t *testing.T, overrides map[string]any) json.RawMessage {
	t.Helper()
	doc := map[string]any{
		"category":                "refactor",
		"title":                   "Extract shared validation helper",
		"description":             "Pull the duplicated validation logic into one function.",
		"allowed_paths":           []any{"internal/foo/foo.go"},
		"files":                   []any{"internal/foo/foo.go"},
		"confidence":              float64(70),
		"verification_commands":   []any{"go build ./..."},
		"risk":                    "low",
		"touched_files_estimate":  float64(1),
		"rollback_note":           "revert the commit",
	}
	for k, v := range overrides {
		doc[k] = v
	}
	b, err := json.Marshal(doc)
	require.NoError(t, err)
	return b
}

func baseConfig() Config {
	return Config{ConfidenceFloor: 50, AllowedCategories: []string{"refactor", "test", "bugfix"}, MaxProposalsPerScout: 10}
}

func TestRunRejectsMissingRequiredFields(t *testing.T) {
	doc := map[string]any{"category": "refactor", "title": "x"}
	b, err := json.Marshal(doc)
	require.NoError(t, err)

	res := Run(RunContext{Config: baseConfig()}, []json.RawMessage{b})
	require.Empty(t, res.Accepted)
	require.Len(t, res.Rejected, 1)
	require.Contains(t, res.Rejected[0].Reason, "missing required fields")
}

func TestRunNormalizesConfidenceAndImpactScore(t *testing.T) {
	raw := rawProposal(t, map[string]any{"confidence": float64(150)})
	res := Run(RunContext{Config: baseConfig()}, []json.RawMessage{raw})
	require.Len(t, res.Accepted, 1)
	require.Equal(t, 100, res.Accepted[0].Confidence)
	require.Equal(t, 5, res.Accepted[0].ImpactScore) // defaulted
	require.Equal(t, "moderate", res.Accepted[0].EstimatedComplexity)
}

func TestRunRejectsBelowConfidenceFloor(t *testing.T) {
	raw := rawProposal(t, map[string]any{"confidence": float64(10)})
	res := Run(RunContext{Config: baseConfig()}, []json.RawMessage{raw})
	require.Empty(t, res.Accepted)
	require.Len(t, res.Rejected, 1)
	require.Contains(t, res.Rejected[0].Reason, "below floor")
}

func TestRunRejectsDisallowedCategory(t *testing.T) {
	raw := rawProposal(t, map[string]any{"category": "rewrite-everything"})
	res := Run(RunContext{Config: baseConfig()}, []json.RawMessage{raw})
	require.Empty(t, res.Accepted)
	require.Len(t, res.Rejected, 1)
	require.Contains(t, res.Rejected[0].Reason, "category not in allowed set")
}

func TestRunDedupsAgainstExistingTickets(t *testing.T) {
	raw := rawProposal(t, nil)
	rc := RunContext{
		Config:          baseConfig(),
		ExistingTickets: []model.Ticket{{Title: "Extract shared validation helper function"}},
	}
	res := Run(rc, []json.RawMessage{raw})
	require.Empty(t, res.Accepted)
	require.Len(t, res.Rejected, 1)
	require.Contains(t, res.Rejected[0].Reason, "duplicate of existing ticket")
}

func TestRunDedupsWithinBatchKeepingInsertionOrder(t *testing.T) {
	a := rawProposal(t, map[string]any{"title": "Extract shared validation helper"})
	b := rawProposal(t, map[string]any{"title": "Extract the shared validation helper now"})
	res := Run(RunContext{Config: baseConfig()}, []json.RawMessage{a, b})
	require.Len(t, res.Accepted, 1)
	require.Equal(t, "Extract shared validation helper", res.Accepted[0].Title)
	require.Len(t, res.Rejected, 1)
	require.Contains(t, res.Rejected[0].Reason, "duplicate within batch")
}

func TestRunScoresSortsAndCaps(t *testing.T) {
	low := rawProposal(t, map[string]any{"title": "Low value change", "confidence": float64(50), "impact_score": float64(1)})
	high := rawProposal(t, map[string]any{"title": "High value change", "confidence": float64(90), "impact_score": float64(9)})
	res := Run(RunContext{Config: Config{ConfidenceFloor: 0, AllowedCategories: nil, MaxProposalsPerScout: 1}}, []json.RawMessage{low, high})
	require.Len(t, res.Accepted, 1)
	require.Equal(t, "High value change", res.Accepted[0].Title)
	require.Len(t, res.Rejected, 1)
	require.Contains(t, res.Rejected[0].Reason, "cap")
}

func TestEnrichWithSymbolsSetsUnionWhenAllFilesResolve(t *testing.T) {
	raw := rawProposal(t, map[string]any{"files": []any{"internal/foo/foo.go", "internal/foo/bar.go"}})
	symbols := SymbolMap{
		"internal/foo/foo.go": {{Name: "Foo", StartLine: 1, EndLine: 5}},
		"internal/foo/bar.go": {{Name: "Bar", StartLine: 1, EndLine: 5}, {Name: "Foo", StartLine: 10, EndLine: 12}},
	}
	res := Run(RunContext{Config: baseConfig(), Symbols: symbols}, []json.RawMessage{raw})
	require.Len(t, res.Accepted, 1)
	require.ElementsMatch(t, []string{"Foo", "Bar"}, res.Accepted[0].TargetSymbols)
}

func TestEnrichWithSymbolsLeavesUnsetWhenAnyFileUnresolved(t *testing.T) {
	raw := rawProposal(t, map[string]any{"files": []any{"internal/foo/foo.go", "internal/foo/missing.go"}})
	symbols := SymbolMap{
		"internal/foo/foo.go": {{Name: "Foo", StartLine: 1, EndLine: 5}},
	}
	res := Run(RunContext{Config: baseConfig(), Symbols: symbols}, []json.RawMessage{raw})
	require.Len(t, res.Accepted, 1)
	require.Empty(t, res.Accepted[0].TargetSymbols)
}

func TestExpandTestTargetsAddsSiblingsAndConfigFiles(t *testing.T) {
	raw := rawProposal(t, map[string]any{
		"category":      "test",
		"files":         []any{"internal/foo/foo.go"},
		"allowed_paths": []any{"internal/foo/foo.go"},
	})
	res := Run(RunContext{Config: baseConfig(), TestRoots: []string{"test"}}, []json.RawMessage{raw})
	require.Len(t, res.Accepted, 1)
	allowed := res.Accepted[0].AllowedPaths
	require.Contains(t, allowed, "internal/foo/foo.test.go")
	require.Contains(t, allowed, "internal/foo/foo.spec.go")
	require.Contains(t, allowed, "test")
	require.Contains(t, allowed, "package.json")
}

func TestExpandTestTargetsSkipsNonTestCategory(t *testing.T) {
	raw := rawProposal(t, nil)
	res := Run(RunContext{Config: baseConfig()}, []json.RawMessage{raw})
	require.Len(t, res.Accepted, 1)
	require.NotContains(t, res.Accepted[0].AllowedPaths, "package.json")
}
