// Package rotation implements spec component C13: choosing which lens
// (default scan or a user-defined formula) and which sector (directory
// subtree) the next cycle scans, via a UCB1 bandit over lens history and
// scan-count/yield heuristics over sectors.
package rotation

import (
	"math"
	"sort"

	"github.com/strongdm/promptwheel/internal/runstate"
)

// DefaultLens is always forced first in rotation order when present in the
// candidate set (spec §4.C13 "'Default' is forced first").
const DefaultLens = "default"

// BuildCandidates unions the project's default lenses with user-defined
// formulas, dropping any lens on the excluded list (lenses with their own
// cadence, scanned outside this rotation).
func BuildCandidates(defaultLenses, userFormulas, excluded []string) []string {
	excludedSet := toSet(excluded)
	seen := map[string]struct{}{}
	var out []string
	for _, name := range append(append([]string{}, defaultLenses...), userFormulas...) {
		if _, skip := excludedSet[name]; skip {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, i := range items {
		set[i] = struct{}{}
	}
	return set
}

// RankLenses sorts candidates by UCB1 score (descending), forcing
// DefaultLens to the front when present, per spec §4.C13 "Lens rotation."
func RankLenses(candidates []string, totalCycles int, stats map[string]runstate.FormulaStats) []string {
	var hasDefault bool
	type scored struct {
		name  string
		score float64
	}
	scoredRest := make([]scored, 0, len(candidates))
	for _, name := range candidates {
		if name == DefaultLens {
			hasDefault = true
			continue
		}
		scoredRest = append(scoredRest, scored{name: name, score: ucb1Score(totalCycles, stats[name])})
	}
	sort.SliceStable(scoredRest, func(i, j int) bool { return scoredRest[i].score > scoredRest[j].score })

	order := make([]string, 0, len(candidates))
	if hasDefault {
		order = append(order, DefaultLens)
	}
	for _, s := range scoredRest {
		order = append(order, s.name)
	}
	return order
}

// ucb1Score implements spec §4.C13's formula: alpha = successes+1,
// beta = (attempts - successes)+1, exploration = sqrt(2*ln(totalCycles) /
// max(recentCyclesForThisLens, 1)). The Beta-Bernoulli posterior mean
// alpha/(alpha+beta) stands in for the exploitation term UCB1 adds the
// exploration bonus to.
func ucb1Score(totalCycles int, fs runstate.FormulaStats) float64 {
	alpha := float64(fs.TicketsSucceeded + 1)
	beta := float64(fs.TicketsTotal-fs.TicketsSucceeded) + 1
	mean := alpha / (alpha + beta)

	cycles := totalCycles
	if cycles < 1 {
		cycles = 1
	}
	recent := fs.RecentCycles
	if recent < 1 {
		recent = 1
	}
	exploration := math.Sqrt(2 * math.Log(float64(cycles)) / float64(recent))
	return mean + exploration
}

// ScanKey identifies one (lens, sector) pairing in the scanned/zero-yield
// sets.
type ScanKey struct {
	Lens   string
	Sector string
}

// AdvanceLens walks the ranked lens order and returns the first lens that
// still has at least one sector neither scanned nor recorded zero-yield
// (spec §4.C13 "advance_lens… picks the next lens that still has unscanned
// sectors").
func AdvanceLens(order []string, sectorPaths []string, scanned, zeroYield map[ScanKey]struct{}) (string, bool) {
	for _, lens := range order {
		for _, sector := range sectorPaths {
			key := ScanKey{Lens: lens, Sector: sector}
			if _, done := scanned[key]; done {
				continue
			}
			if _, zero := zeroYield[key]; zero {
				continue
			}
			return lens, true
		}
	}
	return "", false
}
