// Package wave implements spec component C4: partitioning a set of ready
// proposals into waves of mutually non-conflicting work that can execute
// concurrently.
package wave

import (
	"sort"

	"github.com/strongdm/promptwheel/internal/conflict"
)

// Item is one schedulable unit: a proposal candidate plus the priority used
// to order placement (higher first).
type Item struct {
	Candidate conflict.Candidate
	Priority  int
}

// Wave is a set of item IDs that may run concurrently.
type Wave struct {
	Items []conflict.Candidate
}

// Plan is the ordered sequence of waves produced by Partition.
type Plan struct {
	Waves []Wave
}

// Partition implements the greedy first-fit scheduler from spec §4.C4:
// items are sorted by descending priority (ties broken by original order for
// determinism), then each item is placed into the first existing wave none
// of whose members conflict with it; if none fits, a new wave is opened.
func Partition(items []Item, opts conflict.Options) Plan {
	ordered := make([]Item, len(items))
	copy(ordered, items)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	var waves []Wave
	for _, it := range ordered {
		placed := false
		for w := range waves {
			if fitsWave(it.Candidate, waves[w], opts) {
				waves[w].Items = append(waves[w].Items, it.Candidate)
				placed = true
				break
			}
		}
		if !placed {
			waves = append(waves, Wave{Items: []conflict.Candidate{it.Candidate}})
		}
	}
	return Plan{Waves: waves}
}

func fitsWave(c conflict.Candidate, w Wave, opts conflict.Options) bool {
	for _, existing := range w.Items {
		if conflict.Conflict(c, existing, opts) {
			return false
		}
	}
	return true
}

// MaxConcurrency caps the number of items any single wave may contain,
// regardless of conflict-freedom, matching spec §4.C4's concurrency ceiling.
// A wave exceeding the cap is split, preserving placement order.
func (p Plan) MaxConcurrency(cap int) Plan {
	if cap <= 0 {
		return p
	}
	var out []Wave
	for _, w := range p.Waves {
		if len(w.Items) <= cap {
			out = append(out, w)
			continue
		}
		for i := 0; i < len(w.Items); i += cap {
			end := i + cap
			if end > len(w.Items) {
				end = len(w.Items)
			}
			out = append(out, Wave{Items: append([]conflict.Candidate{}, w.Items[i:end]...)})
		}
	}
	return Plan{Waves: out}
}
