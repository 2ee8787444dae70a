package astindex

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/strongdm/promptwheel/internal/model"
)

// CacheEntry is the per-file cache record (spec §6 "ast-cache.json").
type CacheEntry struct {
	Mtime           int64                    `json:"mtime"`
	Size            int64                    `json:"size"`
	Imports         []string                 `json:"imports"`
	Exports         []model.Export           `json:"exports"`
	Complexity      int                      `json:"complexity"`
	Symbols         []model.SymbolRange      `json:"symbols,omitempty"`
	CallEdges       []model.CallEdge         `json:"callEdges,omitempty"`
	ImportedNames   []string                 `json:"importedNames,omitempty"`
	Findings        map[string]any           `json:"findings,omitempty"`
	FindingsVersion int                      `json:"findingsVersion,omitempty"`
	PatternVersions map[string]int           `json:"patternVersions,omitempty"`
}

// Cache is the mtime-keyed per-file AST cache (spec §4.C2, §5 "AST cache").
// It is process-owned; concurrent reads are safe, writes are serialized by mu.
type Cache struct {
	mu      sync.Mutex
	path    string
	entries map[string]*CacheEntry
}

// LoadCache reads a cache file, returning an empty cache if it does not exist.
func LoadCache(path string) (*Cache, error) {
	c := &Cache{path: path, entries: map[string]*CacheEntry{}}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(b, &c.entries); err != nil {
		// Corrupt cache: treat as empty rather than failing the build.
		c.entries = map[string]*CacheEntry{}
	}
	return c, nil
}

// Get returns the cached entry for path, and whether it is valid for the
// given (mtime, size) pair (spec §4.C2 step 3, §4.C11 "AST cache entry").
func (c *Cache) Get(relPath string, mtime, size int64) (*CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[relPath]
	if !ok {
		return nil, false
	}
	if e.Mtime != mtime || e.Size != size {
		return nil, false
	}
	return e, true
}

// Put installs/replaces the cache entry for relPath.
func (c *Cache) Put(relPath string, e *CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[relPath] = e
}

// Save writes the cache atomically (temp + rename), pruning entries whose
// paths are not in liveFiles (spec §4.C2 step 11).
func (c *Cache) Save(liveFiles []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := make(map[string]struct{}, len(liveFiles))
	for _, f := range liveFiles {
		live[f] = struct{}{}
	}
	for k := range c.entries {
		if _, ok := live[k]; !ok {
			delete(c.entries, k)
		}
	}

	b, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(c.path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}

// Len reports the number of entries currently held, for tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
