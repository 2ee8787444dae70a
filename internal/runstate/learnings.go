package runstate

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/strongdm/promptwheel/internal/model"
	"github.com/strongdm/promptwheel/internal/textsim"
)

const maxWeight = 100.0

// ApplyLearningsDecay implements spec §4.C11's apply_learnings_decay:
// every tick reduces weight by rate, with the reduction halved for
// entries that have ever been accessed and halved again for entries
// confirmed within the last day; weight is capped at 100 and entries at
// or below 0 are dropped.
func ApplyLearningsDecay(learnings []model.Learning, rate float64, now time.Time) []model.Learning {
	out := make([]model.Learning, 0, len(learnings))
	for _, l := range learnings {
		reduction := rate
		if l.AccessCount > 0 {
			reduction /= 2
		}
		if !l.LastConfirmedAt.IsZero() && now.Sub(l.LastConfirmedAt) < 24*time.Hour {
			reduction /= 2
		}
		l.Weight -= reduction
		if l.Weight > maxWeight {
			l.Weight = maxWeight
		}
		if l.Weight <= 0 {
			continue
		}
		out = append(out, l)
	}
	return out
}

// ConsolidateLearnings implements spec §4.C11's consolidate_learnings:
// merges near-duplicate entries (bigram-Jaccard ≥ threshold) within the
// same category, keeping the higher-weight entry's id/text and summing
// access counts. If the result would shrink the list below
// ceil(count*0.4), the consolidation is treated as too aggressive and nil
// is returned without mutating the input.
func ConsolidateLearnings(learnings []model.Learning, similarityMergeThreshold float64) []model.Learning {
	n := len(learnings)
	if n == 0 {
		return learnings
	}

	merged := make([]bool, n)
	var result []model.Learning
	for i := 0; i < n; i++ {
		if merged[i] {
			continue
		}
		group := []int{i}
		for j := i + 1; j < n; j++ {
			if merged[j] || learnings[j].Category != learnings[i].Category {
				continue
			}
			if textsim.JaccardSimilarity(learnings[i].Text, learnings[j].Text) >= similarityMergeThreshold {
				group = append(group, j)
				merged[j] = true
			}
		}
		result = append(result, mergeGroup(learnings, group))
	}

	minAllowed := int(math.Ceil(float64(n) * 0.4))
	if len(result) < minAllowed {
		return nil
	}
	return result
}

func mergeGroup(learnings []model.Learning, idx []int) model.Learning {
	best := learnings[idx[0]]
	accessTotal := 0
	for _, i := range idx {
		accessTotal += learnings[i].AccessCount
		if learnings[i].Weight > best.Weight {
			best = learnings[i]
		}
		if learnings[i].LastConfirmedAt.After(best.LastConfirmedAt) {
			best.LastConfirmedAt = learnings[i].LastConfirmedAt
		}
	}
	best.AccessCount = accessTotal
	return best
}

// SelectRelevant implements spec §4.C11's select_relevant: scores
// learnings by tag matches against path:/cmd: context entries, keyword
// overlap with freeform context text, and a category boost toward
// "gotcha" when commands are present in context, returning the top
// maxResults.
func SelectRelevant(learnings []model.Learning, context []string, maxResults int) []model.Learning {
	var pathCtx, cmdCtx, freeform []string
	hasCmdContext := false
	for _, c := range context {
		switch {
		case strings.HasPrefix(c, "path:"):
			pathCtx = append(pathCtx, strings.TrimPrefix(c, "path:"))
		case strings.HasPrefix(c, "cmd:"):
			cmdCtx = append(cmdCtx, strings.TrimPrefix(c, "cmd:"))
			hasCmdContext = true
		default:
			freeform = append(freeform, strings.ToLower(c))
		}
	}

	type scored struct {
		learning model.Learning
		score    float64
	}
	var results []scored
	for _, l := range learnings {
		var score float64
		for _, tag := range l.Tags {
			for _, p := range pathCtx {
				if strings.Contains(p, tag) || strings.Contains(tag, p) {
					score += 2
				}
			}
			for _, c := range cmdCtx {
				if strings.Contains(c, tag) || strings.Contains(tag, c) {
					score += 2
				}
			}
		}
		lowerText := strings.ToLower(l.Text)
		for _, kw := range freeform {
			if kw != "" && strings.Contains(lowerText, kw) {
				score++
			}
		}
		if hasCmdContext && l.Category == "gotcha" {
			score += 1.5
		}
		if score > 0 {
			results = append(results, scored{learning: l, score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].learning.Weight > results[j].learning.Weight
	})

	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}
	out := make([]model.Learning, len(results))
	for i, r := range results {
		out[i] = r.learning
	}
	return out
}
