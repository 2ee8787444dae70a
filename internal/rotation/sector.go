package rotation

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/strongdm/promptwheel/internal/model"
)

var defaultIgnoreDirs = map[string]struct{}{
	".git": {}, "node_modules": {}, "vendor": {}, ".promptwheel": {},
	"dist": {}, "build": {}, "__pycache__": {},
}

// CarveSectors walks rootDir and returns one Sector per top-level directory
// plus one per directory one level below that, using the relative path as
// the sector's stable id (spec §4.C13 "carved into top-level + one-level-
// down directories with stable IDs").
func CarveSectors(rootDir string) ([]model.Sector, error) {
	top, err := os.ReadDir(rootDir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, e := range top {
		if !e.IsDir() || isIgnored(e.Name()) {
			continue
		}
		rel := e.Name()
		paths = append(paths, rel)

		nested, err := os.ReadDir(filepath.Join(rootDir, rel))
		if err != nil {
			continue
		}
		for _, n := range nested {
			if !n.IsDir() || isIgnored(n.Name()) {
				continue
			}
			paths = append(paths, filepath.Join(rel, n.Name()))
		}
	}
	sort.Strings(paths)

	out := make([]model.Sector, len(paths))
	for i, p := range paths {
		out[i] = model.Sector{Path: p}
	}
	return out, nil
}

func isIgnored(name string) bool {
	_, ignored := defaultIgnoreDirs[name]
	return ignored
}

// SelectSector applies spec §4.C13's "prefer low scan-count, then high
// proposal-yield" rule, unless pinned names a sector present in the set.
func SelectSector(sectors []model.Sector, pinned string) (model.Sector, bool) {
	if pinned != "" {
		for _, s := range sectors {
			if s.Path == pinned {
				return s, true
			}
		}
	}
	if len(sectors) == 0 {
		return model.Sector{}, false
	}
	best := sectors[0]
	for _, s := range sectors[1:] {
		if s.ScanCount < best.ScanCount {
			best = s
			continue
		}
		if s.ScanCount == best.ScanCount && s.ProposalYield > best.ProposalYield {
			best = s
		}
	}
	return best, true
}
