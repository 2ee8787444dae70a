package astindex

import "sort"

// maxCycles caps the number of distinct cycles reported, matching the "cap
// at 10" ceiling from spec §4.C2 step 9 to keep prompt formatting bounded.
const maxCycles = 10

type cycleColor int

const (
	white cycleColor = iota
	gray
	black
)

// Cycles returns up to maxCycles import cycles found via DFS coloring
// (white/gray/black), each as the ordered list of module paths forming the
// loop (spec §4.C2 step 9).
func (idx *Index) Cycles() [][]string {
	color := map[string]cycleColor{}
	var stack []string
	var cycles [][]string

	modules := idx.sortedModulePaths()

	var visit func(m string)
	visit = func(m string) {
		if len(cycles) >= maxCycles {
			return
		}
		color[m] = gray
		stack = append(stack, m)

		neighbors := make([]string, 0, len(idx.importEdges[m]))
		for n := range idx.importEdges[m] {
			neighbors = append(neighbors, n)
		}
		sort.Strings(neighbors)

		for _, n := range neighbors {
			if len(cycles) >= maxCycles {
				break
			}
			switch color[n] {
			case white:
				visit(n)
			case gray:
				cycles = append(cycles, extractCycle(stack, n))
			case black:
				// already fully explored, no cycle through here
			}
		}

		stack = stack[:len(stack)-1]
		color[m] = black
	}

	for _, m := range modules {
		if len(cycles) >= maxCycles {
			break
		}
		if color[m] == white {
			visit(m)
		}
	}
	return cycles
}

func extractCycle(stack []string, back string) []string {
	for i, m := range stack {
		if m == back {
			cyc := make([]string, len(stack)-i)
			copy(cyc, stack[i:])
			return cyc
		}
	}
	return nil
}

func (idx *Index) sortedModulePaths() []string {
	paths := make([]string, 0, len(idx.Modules))
	for p := range idx.Modules {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// GraphMetrics summarizes the import graph's shape (spec §4.C2 step 10).
type GraphMetrics struct {
	Hubs       []string // high fan-in (afferent coupling)
	Leaves     []string // no outgoing edges
	Orphans    []string // no incoming or outgoing edges
	Instability map[string]float64 // Ce / (Ca + Ce), per module
}

// Metrics computes hub/leaf/orphan classification and coupling instability
// for every module (spec §4.C2 step 10, GLOSSARY "instability").
func (idx *Index) Metrics() GraphMetrics {
	afferent := map[string]int{} // Ca: modules that depend on this one
	efferent := map[string]int{} // Ce: modules this one depends on

	for from, tos := range idx.importEdges {
		efferent[from] += len(tos)
		for to := range tos {
			afferent[to]++
		}
	}

	var m GraphMetrics
	m.Instability = map[string]float64{}

	modules := idx.sortedModulePaths()
	for _, p := range modules {
		ca, ce := afferent[p], efferent[p]
		if ca+ce == 0 {
			m.Instability[p] = 0
		} else {
			m.Instability[p] = float64(ce) / float64(ca+ce)
		}
		if ce == 0 && ca == 0 {
			m.Orphans = append(m.Orphans, p)
			continue
		}
		if ce == 0 {
			m.Leaves = append(m.Leaves, p)
		}
		if ca >= hubThreshold(len(modules)) {
			m.Hubs = append(m.Hubs, p)
		}
	}
	return m
}

// hubThreshold scales with repo size: a module depended on by more than a
// fifth of the codebase (minimum 3) counts as a hub.
func hubThreshold(moduleCount int) int {
	t := moduleCount / 5
	if t < 3 {
		return 3
	}
	return t
}
