package rotation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strongdm/promptwheel/internal/runstate"
)

func TestBuildCandidatesUnionsAndExcludes(t *testing.T) {
	out := BuildCandidates(
		[]string{"default", "security"},
		[]string{"perf", "security"},
		[]string{"perf"},
	)
	require.Equal(t, []string{"default", "security"}, out)
}

func TestRankLensesForcesDefaultFirst(t *testing.T) {
	stats := map[string]runstate.FormulaStats{
		"alpha": {TicketsTotal: 10, TicketsSucceeded: 9, RecentCycles: 5},
		"beta":  {TicketsTotal: 10, TicketsSucceeded: 1, RecentCycles: 5},
	}
	order := RankLenses([]string{"alpha", "default", "beta"}, 20, stats)
	require.Equal(t, "default", order[0])
	require.ElementsMatch(t, []string{"alpha", "beta"}, order[1:])
}

func TestRankLensesPrefersHigherSuccessRateAllElseEqual(t *testing.T) {
	stats := map[string]runstate.FormulaStats{
		"good": {TicketsTotal: 20, TicketsSucceeded: 18, RecentCycles: 10},
		"bad":  {TicketsTotal: 20, TicketsSucceeded: 2, RecentCycles: 10},
	}
	order := RankLenses([]string{"good", "bad"}, 20, stats)
	require.Equal(t, []string{"good", "bad"}, order)
}

func TestRankLensesGivesUnexploredLensExplorationBoost(t *testing.T) {
	stats := map[string]runstate.FormulaStats{
		"exploited": {TicketsTotal: 100, TicketsSucceeded: 60, RecentCycles: 100},
		"fresh":     {}, // never tried: alpha=1, beta=1, recentCycles defaults to 1
	}
	order := RankLenses([]string{"exploited", "fresh"}, 100, stats)
	require.Equal(t, "fresh", order[0])
}

func TestAdvanceLensSkipsFullyScannedLens(t *testing.T) {
	order := []string{"default", "alpha"}
	sectors := []string{"internal/foo", "internal/bar"}
	scanned := map[ScanKey]struct{}{
		{Lens: "default", Sector: "internal/foo"}: {},
		{Lens: "default", Sector: "internal/bar"}: {},
	}
	zero := map[ScanKey]struct{}{}
	lens, ok := AdvanceLens(order, sectors, scanned, zero)
	require.True(t, ok)
	require.Equal(t, "alpha", lens)
}

func TestAdvanceLensTreatsZeroYieldAsDone(t *testing.T) {
	order := []string{"default"}
	sectors := []string{"internal/foo"}
	scanned := map[ScanKey]struct{}{}
	zero := map[ScanKey]struct{}{
		{Lens: "default", Sector: "internal/foo"}: {},
	}
	_, ok := AdvanceLens(order, sectors, scanned, zero)
	require.False(t, ok)
}

func TestAdvanceLensReturnsFalseWhenExhausted(t *testing.T) {
	order := []string{"default"}
	sectors := []string{"internal/foo"}
	scanned := map[ScanKey]struct{}{
		{Lens: "default", Sector: "internal/foo"}: {},
	}
	_, ok := AdvanceLens(order, sectors, scanned, map[ScanKey]struct{}{})
	require.False(t, ok)
}
