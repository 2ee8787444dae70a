package isolation

import (
	"sort"

	"github.com/strongdm/promptwheel/internal/model"
)

// Verdict is the outcome of predict-merge-conflict (spec §4.C8).
type Verdict string

const (
	VerdictSafe    Verdict = "safe"
	VerdictRisky   Verdict = "risky"
	VerdictUnknown Verdict = "unknown"
)

// FileSymbols maps a file path to the names of the symbols a change
// touched within it.
type FileSymbols map[string][]string

// SymbolMap maps a file path to its full known symbol ranges, used to
// resolve line overlaps between two independently modified symbol sets.
type SymbolMap map[string][]model.SymbolRange

// PredictMergeConflict implements spec §4.C8's predict_merge_conflict: for
// each file touched by both changesets, missing symbol data yields
// unknown, a shared modified symbol name or overlapping line ranges yield
// risky, and otherwise the file is safe. The overall verdict is the most
// severe single-file verdict, in order risky > unknown > safe.
func PredictMergeConflict(filesA, filesB []string, symbolsA, symbolsB FileSymbols, symbols SymbolMap) Verdict {
	common := intersect(filesA, filesB)
	if len(common) == 0 {
		return VerdictSafe
	}

	overall := VerdictSafe
	for _, file := range common {
		v := predictFile(file, symbolsA[file], symbolsB[file], symbols[file])
		switch v {
		case VerdictRisky:
			return VerdictRisky
		case VerdictUnknown:
			overall = VerdictUnknown
		}
	}
	return overall
}

func predictFile(file string, namesA, namesB []string, ranges []model.SymbolRange) Verdict {
	if ranges == nil {
		return VerdictUnknown
	}
	byName := make(map[string]model.SymbolRange, len(ranges))
	for _, r := range ranges {
		byName[r.Name] = r
	}

	setA := make(map[string]bool, len(namesA))
	for _, n := range namesA {
		setA[n] = true
	}
	for _, n := range namesB {
		if setA[n] {
			return VerdictRisky
		}
	}

	for _, na := range namesA {
		ra, ok := byName[na]
		if !ok {
			continue
		}
		for _, nb := range namesB {
			rb, ok := byName[nb]
			if !ok {
				continue
			}
			if rangesOverlap(ra, rb) {
				return VerdictRisky
			}
		}
	}
	return VerdictSafe
}

func rangesOverlap(a, b model.SymbolRange) bool {
	return a.StartLine <= b.EndLine && b.StartLine <= a.EndLine
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, f := range a {
		set[f] = true
	}
	var out []string
	for _, f := range b {
		if set[f] {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// Candidate is one proposed change, used by OrderMergeSequence to compute
// its risky-peer count against the rest of the batch.
type Candidate struct {
	Files           []string
	ModifiedSymbols FileSymbols
}

// OrderMergeSequence implements spec §4.C8's order_merge_sequence: for each
// candidate, count how many of its peers a pairwise PredictMergeConflict
// call flags as risky, then return candidate indices sorted ascending by
// that count (stable, so ties keep their original relative order) — safer
// merges go first.
func OrderMergeSequence(candidates []Candidate, symbols SymbolMap) []int {
	n := len(candidates)
	riskyPeers := make([]int, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			v := PredictMergeConflict(candidates[i].Files, candidates[j].Files, candidates[i].ModifiedSymbols, candidates[j].ModifiedSymbols, symbols)
			if v == VerdictRisky {
				riskyPeers[i]++
			}
		}
	}
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(i, j int) bool {
		return riskyPeers[indices[i]] < riskyPeers[indices[j]]
	})
	return indices
}
