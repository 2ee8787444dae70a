// Package conflict implements spec component C3: deciding whether two
// proposals can run in the same wave.
package conflict

import (
	"path"
	"regexp"
	"strings"

	"github.com/strongdm/promptwheel/internal/pathmatch"
)

// Sensitivity controls how aggressively the detector treats proposals as
// conflicting (spec §4.C3).
type Sensitivity string

const (
	Strict  Sensitivity = "strict"
	Normal  Sensitivity = "normal"
	Relaxed Sensitivity = "relaxed"
)

// Candidate is the slice of a Proposal the conflict detector needs. It is a
// narrower type than model.Proposal so callers (e.g. the wave scheduler) can
// build it once per proposal and reuse it across many pairwise checks.
type Candidate struct {
	ID            string
	Files         []string
	TargetSymbols []string
	Category      string
	Module        string // directory this candidate's files resolve to, for graph checks
}

// Graph exposes the subset of the codebase index the detector needs for
// import-chain and call-graph conflicts (spec §4.C3 steps 4-5). Implemented
// by *astindex.Index.
type Graph interface {
	// Imports reports whether module `a` imports module `b` (directly).
	Imports(a, b string) bool
	// CallEdgeExists reports whether any symbol in `fromSymbols` calls any
	// symbol in `toSymbols` anywhere in the fused call graph.
	CallEdgeExists(fromSymbols, toSymbols []string) bool
}

// Options configures one conflict check (spec §4.C3).
type Options struct {
	Sensitivity Sensitivity
	Graph       Graph // optional; nil disables import-chain/call-graph checks
}

// CONFLICT_PRONE_FILENAMES and SHARED_DIRECTORY_PATTERNS are part of the
// contract per spec §4.C3 ("portable, language-neutral").
var conflictProneFilenames = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^index\.[a-z]+$`),
	regexp.MustCompile(`(?i)^mod\.[a-z]+$`),
	regexp.MustCompile(`(?i)^(__init__|package)\.[a-z]+$`),
	regexp.MustCompile(`(?i)^go\.mod$`),
	regexp.MustCompile(`(?i)^package\.json$`),
	regexp.MustCompile(`(?i)^(\.eslintrc|tsconfig|webpack\.config|vite\.config)\..*$`),
}

var sharedDirectoryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(^|/)shared(/|$)`),
	regexp.MustCompile(`(^|/)common(/|$)`),
	regexp.MustCompile(`(^|/)utils?(/|$)`),
	regexp.MustCompile(`(^|/)lib(/|$)`),
}

var packagePattern = regexp.MustCompile(`^(packages|apps|libs|modules)/([^/]+)`)

func isConflictProneFilename(p string) bool {
	base := path.Base(p)
	for _, re := range conflictProneFilenames {
		if re.MatchString(base) {
			return true
		}
	}
	return false
}

func isSharedDirectory(dir string) bool {
	for _, re := range sharedDirectoryPatterns {
		if re.MatchString(dir) {
			return true
		}
	}
	return false
}

func monorepoPackage(p string) (string, bool) {
	m := packagePattern.FindStringSubmatch(pathmatch.Normalize(p))
	if m == nil {
		return "", false
	}
	return m[1] + "/" + m[2], true
}

func disjoint(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, x := range a {
		set[x] = struct{}{}
	}
	for _, x := range b {
		if _, ok := set[x]; ok {
			return false
		}
	}
	return true
}

func hasSymbolData(c Candidate) bool {
	return len(c.TargetSymbols) > 0
}

// pathsOverlap implements step 1: exact match, directory containment, or
// glob-base overlap between two files lists.
func pathsOverlap(a, b []string) bool {
	for _, fa := range a {
		na := pathmatch.Normalize(fa)
		for _, fb := range b {
			nb := pathmatch.Normalize(fb)
			if na == nb {
				return true
			}
			if strings.HasPrefix(nb, na+"/") || strings.HasPrefix(na, nb+"/") {
				return true
			}
			if path.Dir(na) == path.Dir(nb) && globBase(na) == globBase(nb) && globBase(na) != "" {
				return true
			}
		}
	}
	return false
}

// globBase returns the stem of a glob pattern's last segment up to its first
// metacharacter, used to detect "glob-base overlap" (e.g. "src/*.ts" and
// "src/api*.ts" both rooted at "src/").
func globBase(p string) string {
	idx := strings.IndexAny(p, "*?[")
	if idx == -1 {
		return ""
	}
	return p[:idx]
}

func sameParentDir(a, b []string) bool {
	for _, fa := range a {
		da := path.Dir(pathmatch.Normalize(fa))
		for _, fb := range b {
			db := path.Dir(pathmatch.Normalize(fb))
			if da == db {
				return true
			}
		}
	}
	return false
}

func touchesConflictProneFilename(files []string) bool {
	for _, f := range files {
		if isConflictProneFilename(f) {
			return true
		}
	}
	return false
}

func dirSet(files []string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, f := range files {
		set[path.Dir(pathmatch.Normalize(f))] = struct{}{}
	}
	return set
}

func dirOverlapRatio(a, b []string) float64 {
	sa, sb := dirSet(a), dirSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	smaller, larger := sa, sb
	if len(sb) < len(sa) {
		smaller, larger = sb, sa
	}
	overlap := 0
	for d := range smaller {
		if _, ok := larger[d]; ok {
			overlap++
		}
	}
	return float64(overlap) / float64(len(smaller))
}

func sharedParentIsSharedDir(a, b []string) bool {
	for _, fa := range a {
		da := path.Dir(pathmatch.Normalize(fa))
		for _, fb := range b {
			db := path.Dir(pathmatch.Normalize(fb))
			if da == db && isSharedDirectory(da) {
				return true
			}
		}
	}
	return false
}

// Conflict reports whether candidates A and B cannot run in the same wave,
// at the given sensitivity (spec §4.C3). The check order and early-return
// shape is part of the contract: the first matching rule wins.
func Conflict(a, b Candidate, opts Options) bool {
	sens := opts.Sensitivity
	if sens == "" {
		sens = Normal
	}

	// Step 1: path overlap, with the AST-aware escape hatch: disjoint target
	// symbols downgrade an otherwise-overlapping pair to "not a conflict."
	if pathsOverlap(a.Files, b.Files) {
		if hasSymbolData(a) && hasSymbolData(b) && disjoint(a.TargetSymbols, b.TargetSymbols) {
			// AST-aware escape: fall through to remaining checks rather than
			// declaring a conflict on path overlap alone.
		} else {
			return true
		}
	}

	if sens == Relaxed {
		return false
	}

	// Step 2: sibling files (spec open question #1 — disjoint-symbol pairs of
	// the same category are never treated as a conflict by this check alone;
	// the loop continues into the remaining rules either way).
	if sameParentDir(a.Files, b.Files) {
		if sens == Strict {
			return true
		}
		if touchesConflictProneFilename(a.Files) || touchesConflictProneFilename(b.Files) {
			return true
		}
		if a.Category != "" && a.Category == b.Category {
			sameCategoryDisjointSymbols := hasSymbolData(a) && hasSymbolData(b) && disjoint(a.TargetSymbols, b.TargetSymbols)
			if !sameCategoryDisjointSymbols {
				return true
			}
			// disjoint symbols, same category: not a conflict from this rule;
			// continue to import-chain / call-graph / monorepo / shared-dir checks.
		}
	}

	// Step 3: directory-set overlap above threshold. A pair that reduces to
	// a single shared parent directory on both sides was already judged by
	// step 2 (sibling files); this check exists to catch broader overlap
	// across several directories, so it only applies once either side
	// actually spans more than one directory.
	if len(dirSet(a.Files)) > 1 || len(dirSet(b.Files)) > 1 {
		threshold := 0.3
		if sens == Strict {
			threshold = 0.2
		}
		if dirOverlapRatio(a.Files, b.Files) >= threshold {
			return true
		}
	}

	// Steps 4-5: import-chain / call-graph (normal+).
	if opts.Graph != nil {
		if a.Module != "" && b.Module != "" {
			if opts.Graph.Imports(a.Module, b.Module) || opts.Graph.Imports(b.Module, a.Module) {
				return true
			}
		}
		if len(a.TargetSymbols) > 0 && len(b.TargetSymbols) > 0 {
			if opts.Graph.CallEdgeExists(a.TargetSymbols, b.TargetSymbols) || opts.Graph.CallEdgeExists(b.TargetSymbols, a.TargetSymbols) {
				return true
			}
		}
	}

	// Step 6: same monorepo package (strict only).
	if sens == Strict {
		pa, oka := monorepoPackageAny(a.Files)
		pb, okb := monorepoPackageAny(b.Files)
		if oka && okb && pa == pb {
			return true
		}
	}

	// Step 7: shared parent directory that is itself a shared-code directory
	// (strict only).
	if sens == Strict && sharedParentIsSharedDir(a.Files, b.Files) {
		return true
	}

	return false
}

func monorepoPackageAny(files []string) (string, bool) {
	for _, f := range files {
		if p, ok := monorepoPackage(f); ok {
			return p, true
		}
	}
	return "", false
}
