package astindex

import (
	"sort"
	"strings"
)

// maxDeadExports caps the number of dead-export findings surfaced per build,
// matching the "cap at 30" ceiling from spec §4.C2 step 6.
const maxDeadExports = 30

// DeadExport names a module-level export with no detected in-repo caller.
type DeadExport struct {
	Module string
	Name   string
}

// DeadExports returns up to maxDeadExports exports that appear in no other
// file's import specifiers or call edges (spec §4.C2 step 6). This is a
// conservative, cross-file heuristic: it cannot see dynamic dispatch,
// reflection-based lookups, or external consumers outside the indexed tree,
// so callers should treat the result as a prompt hint, not ground truth.
func (idx *Index) DeadExports() []DeadExport {
	calledNames := map[string]struct{}{}
	for _, e := range idx.callEdges {
		calledNames[e.Callee] = struct{}{}
	}

	referencedByImport := map[string]struct{}{}
	for _, entry := range idx.Files {
		for _, imp := range entry.Imports {
			referencedByImport[lastSegment(imp)] = struct{}{}
		}
	}

	var dead []DeadExport
	modules := idx.sortedModulePaths()
	for _, mpath := range modules {
		m := idx.Modules[mpath]
		if m == nil {
			continue
		}
		names := make([]string, 0, len(m.Exports))
		for _, ex := range m.Exports {
			names = append(names, ex.Name)
		}
		sort.Strings(names)
		for _, name := range names {
			if len(dead) >= maxDeadExports {
				return dead
			}
			if isConventionalEntrypoint(name) {
				continue
			}
			if _, ok := calledNames[name]; ok {
				continue
			}
			if _, ok := referencedByImport[name]; ok {
				continue
			}
			dead = append(dead, DeadExport{Module: mpath, Name: name})
		}
	}
	return dead
}

func lastSegment(imp string) string {
	imp = strings.TrimRight(imp, "/")
	if idx := strings.LastIndex(imp, "/"); idx != -1 {
		return imp[idx+1:]
	}
	return imp
}

// isConventionalEntrypoint excludes names that are called by the language
// runtime or a framework rather than by in-repo code, so they never show up
// as false-positive dead exports.
func isConventionalEntrypoint(name string) bool {
	switch name {
	case "main", "init", "New", "Run", "Handler", "ServeHTTP":
		return true
	}
	return strings.HasPrefix(name, "Test") || strings.HasPrefix(name, "Benchmark") || strings.HasPrefix(name, "Example")
}
