// Package astindex implements spec component C2: the codebase index and AST
// cache. Build walks a repository tree once, reusing cached per-file
// extraction results where possible, and assembles a directory-level module
// map plus a fused call graph used by conflict detection and prompt
// formatting.
package astindex

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/strongdm/promptwheel/internal/model"
)

// Options configures one Build call (spec §4.C2 step 1).
type Options struct {
	RootDir       string
	CachePath     string   // defaults to <RootDir>/.promptwheel/ast-cache.json
	IgnoreDirs    []string // e.g. ".git", "node_modules", "vendor"
	ProductionExt []string // extensions counted toward ProductionFileCount
}

var defaultIgnoreDirs = []string{".git", "node_modules", "vendor", ".promptwheel", "dist", "build", "__pycache__"}

var defaultProductionExt = []string{".go", ".ts", ".tsx", ".js", ".jsx", ".py", ".java", ".rb", ".rs"}

// Index is the in-memory result of Build (spec §3 "Module Entry" + the fused
// call/import graph used by conflict detection and wave scheduling).
type Index struct {
	RootDir    string
	Files      map[string]*CacheEntry  // relPath -> extraction
	Modules    map[string]*model.ModuleEntry
	importEdges map[string]map[string]struct{} // module path -> imported module paths
	callEdges   []model.CallEdge

	cache *Cache
}

// Build implements the single-pass protocol from spec §4.C2 steps 1-11:
// walk the tree, consult the cache per file, extract on miss, assemble
// per-directory module entries, build the import/call graph, and persist the
// refreshed cache.
func Build(opts Options) (*Index, error) {
	if opts.CachePath == "" {
		opts.CachePath = filepath.Join(opts.RootDir, ".promptwheel", "ast-cache.json")
	}
	ignore := opts.IgnoreDirs
	if ignore == nil {
		ignore = defaultIgnoreDirs
	}
	prodExt := opts.ProductionExt
	if prodExt == nil {
		prodExt = defaultProductionExt
	}

	cache, err := LoadCache(opts.CachePath)
	if err != nil {
		return nil, err
	}

	idx := &Index{
		RootDir:     opts.RootDir,
		Files:       map[string]*CacheEntry{},
		Modules:     map[string]*model.ModuleEntry{},
		importEdges: map[string]map[string]struct{}{},
		cache:       cache,
	}

	var liveFiles []string

	err = filepath.WalkDir(opts.RootDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, rerr := filepath.Rel(opts.RootDir, p)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			base := path.Base(rel)
			for _, ig := range ignore {
				if base == ig {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if !isSourceFile(rel) {
			return nil
		}

		info, serr := d.Info()
		if serr != nil {
			return serr
		}
		mtime := info.ModTime().UnixNano()
		size := info.Size()

		liveFiles = append(liveFiles, rel)

		if entry, ok := cache.Get(rel, mtime, size); ok {
			idx.Files[rel] = entry
			return nil
		}

		content, rerr := os.ReadFile(p)
		if rerr != nil {
			return rerr
		}
		ex := extractFile(rel, content)
		entry := &CacheEntry{
			Mtime:      mtime,
			Size:       size,
			Imports:    ex.Imports,
			Exports:    ex.Exports,
			Complexity: ex.Complexity,
			Symbols:    ex.Symbols,
			CallEdges:  ex.CallEdges,
		}
		cache.Put(rel, entry)
		idx.Files[rel] = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	idx.assembleModules(prodExt)
	idx.buildGraph()

	if err := cache.Save(liveFiles); err != nil {
		return nil, err
	}
	return idx, nil
}

var sourceExtSet = map[string]struct{}{
	".go": {}, ".ts": {}, ".tsx": {}, ".js": {}, ".jsx": {}, ".py": {},
	".java": {}, ".rb": {}, ".rs": {}, ".mjs": {}, ".cjs": {},
}

func isSourceFile(rel string) bool {
	ext := strings.ToLower(path.Ext(rel))
	_, ok := sourceExtSet[ext]
	return ok
}

func isProductionFile(rel string, prodExt []string) bool {
	ext := strings.ToLower(path.Ext(rel))
	for _, e := range prodExt {
		if e == ext {
			return true
		}
	}
	return false
}

// assembleModules groups per-file extractions into per-directory
// model.ModuleEntry records (spec §4.C2 step 7, §3 "Module Entry").
func (idx *Index) assembleModules(prodExt []string) {
	for rel, entry := range idx.Files {
		dir := path.Dir(rel)
		if dir == "." {
			dir = ""
		}
		m, ok := idx.Modules[dir]
		if !ok {
			m = &model.ModuleEntry{Path: dir, SymbolRanges: map[string][]model.SymbolRange{}}
			idx.Modules[dir] = m
		}
		m.FileCount++
		if isProductionFile(rel, prodExt) {
			m.ProductionFileCount++
		}
		m.ImportSpecifiers = append(m.ImportSpecifiers, entry.Imports...)
		m.Exports = append(m.Exports, entry.Exports...)
		m.Complexity += entry.Complexity
		if len(entry.Symbols) > 0 {
			m.SymbolRanges[rel] = entry.Symbols
		}
		m.CallEdges = append(m.CallEdges, entry.CallEdges...)
		idx.callEdges = append(idx.callEdges, entry.CallEdges...)
	}
	for _, m := range idx.Modules {
		m.ImportSpecifiers = dedupStrings(m.ImportSpecifiers)
		m.PurposeTag = inferPurposeTag(m.Path)
	}
}

func dedupStrings(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// inferPurposeTag gives each module a coarse label for prompt formatting
// (spec §4.C2 step 8). It is a best-effort heuristic based on directory
// naming conventions observed across the corpus, not a precise classifier.
func inferPurposeTag(dir string) string {
	lower := strings.ToLower(dir)
	switch {
	case strings.Contains(lower, "test"):
		return "tests"
	case strings.Contains(lower, "cmd"):
		return "entrypoint"
	case strings.Contains(lower, "internal") || strings.Contains(lower, "pkg") || strings.Contains(lower, "lib"):
		return "library"
	case strings.Contains(lower, "api") || strings.Contains(lower, "handler") || strings.Contains(lower, "route"):
		return "api"
	case strings.Contains(lower, "config"):
		return "config"
	case strings.Contains(lower, "migration") || strings.Contains(lower, "schema"):
		return "schema"
	default:
		return "general"
	}
}

// buildGraph resolves raw import specifiers to in-repo module paths where
// possible, forming the directed edge set used by cycle detection, graph
// metrics, and conflict.Graph (spec §4.C2 steps 9-10).
func (idx *Index) buildGraph() {
	modulePaths := make([]string, 0, len(idx.Modules))
	for p := range idx.Modules {
		modulePaths = append(modulePaths, p)
	}
	sort.Strings(modulePaths)

	for rel, entry := range idx.Files {
		fromDir := path.Dir(rel)
		if fromDir == "." {
			fromDir = ""
		}
		for _, imp := range entry.Imports {
			target := resolveImportToModule(imp, modulePaths)
			if target == "" || target == fromDir {
				continue
			}
			if idx.importEdges[fromDir] == nil {
				idx.importEdges[fromDir] = map[string]struct{}{}
			}
			idx.importEdges[fromDir][target] = struct{}{}
		}
	}
}

// resolveImportToModule matches an import specifier against known in-repo
// module directories by suffix, the only reliable signal across Go/TS/JS
// import styles without invoking a real module resolver.
func resolveImportToModule(imp string, modulePaths []string) string {
	imp = strings.TrimPrefix(imp, "./")
	imp = strings.TrimPrefix(imp, "/")
	best := ""
	for _, m := range modulePaths {
		if m == "" {
			continue
		}
		if strings.HasSuffix(imp, m) && len(m) > len(best) {
			best = m
		}
	}
	return best
}

// Imports reports whether module a imports module b, directly, satisfying
// conflict.Graph.
func (idx *Index) Imports(a, b string) bool {
	edges, ok := idx.importEdges[a]
	if !ok {
		return false
	}
	_, ok = edges[b]
	return ok
}

// CallEdgeExists reports whether any symbol in fromSymbols calls any symbol
// in toSymbols anywhere in the fused call graph, satisfying conflict.Graph.
func (idx *Index) CallEdgeExists(fromSymbols, toSymbols []string) bool {
	toSet := make(map[string]struct{}, len(toSymbols))
	for _, s := range toSymbols {
		toSet[s] = struct{}{}
	}
	for _, e := range idx.callEdges {
		if !containsStr(fromSymbols, e.Caller) {
			continue
		}
		if _, ok := toSet[e.Callee]; ok {
			return true
		}
	}
	return false
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
