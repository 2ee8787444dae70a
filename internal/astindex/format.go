package astindex

import (
	"fmt"
	"sort"
	"strings"
)

// tokenBudget approximates the ~800 token ceiling from spec §4.C2 step 11
// for the rendered index block; 1 token ~= 4 characters, the usual
// approximation used elsewhere in the corpus for prompt budgeting.
const tokenBudget = 800
const approxCharsPerToken = 4
const charBudget = tokenBudget * approxCharsPerToken

// section identifies which of the three rotating views is rendered first.
type section int

const (
	sectionModules section = iota
	sectionCycles
	sectionDead
	sectionCount
)

// FormatForPrompt renders a bounded summary of the index for inclusion in an
// agent prompt (spec §4.C2 step 11, "format_index_for_prompt"). It rotates
// which of {modules, cycles, dead exports} leads the output across
// successive calls so that, across a long-running session, every section
// eventually gets a turn at the front where it's least likely to be
// truncated by the budget.
func (idx *Index) FormatForPrompt(rotation int) string {
	order := rotationOrder(rotation)

	var b strings.Builder
	remaining := charBudget

	for _, sec := range order {
		if remaining <= 0 {
			break
		}
		var rendered string
		switch sec {
		case sectionModules:
			rendered = idx.renderModules()
		case sectionCycles:
			rendered = idx.renderCycles()
		case sectionDead:
			rendered = idx.renderDeadExports()
		}
		if rendered == "" {
			continue
		}
		if len(rendered) > remaining {
			rendered = truncateToBudget(rendered, remaining)
		}
		b.WriteString(rendered)
		b.WriteString("\n")
		remaining -= len(rendered)
	}
	return strings.TrimRight(b.String(), "\n")
}

func rotationOrder(rotation int) []section {
	base := []section{sectionModules, sectionCycles, sectionDead}
	n := int(sectionCount)
	r := rotation % n
	if r < 0 {
		r += n
	}
	return append(append([]section{}, base[r:]...), base[:r]...)
}

func truncateToBudget(s string, budget int) string {
	if budget <= 3 {
		return ""
	}
	if len(s) <= budget {
		return s
	}
	return s[:budget-3] + "..."
}

func (idx *Index) renderModules() string {
	paths := idx.sortedModulePaths()
	if len(paths) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Modules\n")
	for _, p := range paths {
		m := idx.Modules[p]
		label := p
		if label == "" {
			label = "."
		}
		exportNames := make([]string, 0, len(m.Exports))
		for _, e := range m.Exports {
			exportNames = append(exportNames, e.Name)
		}
		sort.Strings(exportNames)
		exportStr := strings.Join(capStrings(exportNames, 8), ", ")
		b.WriteString(fmt.Sprintf("- %s [%s] files=%d complexity=%d exports=%s\n",
			label, m.PurposeTag, m.FileCount, m.Complexity, exportStr))
	}
	return b.String()
}

func (idx *Index) renderCycles() string {
	cycles := idx.Cycles()
	if len(cycles) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Import cycles\n")
	for _, c := range cycles {
		b.WriteString("- ")
		b.WriteString(strings.Join(c, " -> "))
		b.WriteString(" -> ")
		b.WriteString(c[0])
		b.WriteString("\n")
	}
	return b.String()
}

func (idx *Index) renderDeadExports() string {
	dead := idx.DeadExports()
	if len(dead) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Possibly dead exports\n")
	for _, d := range dead {
		label := d.Module
		if label == "" {
			label = "."
		}
		b.WriteString(fmt.Sprintf("- %s.%s\n", label, d.Name))
	}
	return b.String()
}

func capStrings(in []string, n int) []string {
	if len(in) <= n {
		return in
	}
	return in[:n]
}
