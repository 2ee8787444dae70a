// Package ledger implements spec component C14: content-addressed,
// atomically-written JSON artifact storage, plus the append-only run
// history file that lives alongside it.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/zeebo/blake3"

	"github.com/strongdm/promptwheel/internal/model"
)

// Ledger roots artifact and history storage under <repo>/.promptwheel.
type Ledger struct {
	Root string // <repo>/.promptwheel
}

// New creates a Ledger rooted at repoDir/.promptwheel.
func New(repoDir string) *Ledger {
	return &Ledger{Root: filepath.Join(repoDir, ".promptwheel")}
}

func (l *Ledger) artifactDir(t model.ArtifactType) string {
	return filepath.Join(l.Root, "artifacts", string(t))
}

func (l *Ledger) historyPath() string {
	return filepath.Join(l.Root, "history.ndjson")
}

// PutArtifact writes content atomically (temp + rename) under
// <repo>/.promptwheel/artifacts/<type>/<run-id>.json, returning the
// content's blake3 hash for correlation/dedup (spec §4.C14).
func (l *Ledger) PutArtifact(runID string, t model.ArtifactType, content []byte) (model.Artifact, error) {
	if runID == "" {
		return model.Artifact{}, fmt.Errorf("ledger: run id is required")
	}
	dir := l.artifactDir(t)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return model.Artifact{}, fmt.Errorf("ledger: prepare artifact dir: %w", err)
	}

	name := runID + ".json"
	path := filepath.Join(dir, name)
	tmp := path + ".tmp-" + ulid.Make().String()
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return model.Artifact{}, fmt.Errorf("ledger: write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return model.Artifact{}, fmt.Errorf("ledger: finalize artifact: %w", err)
	}

	sum := blake3.Sum256(content)
	return model.Artifact{
		ID:      fmt.Sprintf("%x", sum),
		RunID:   runID,
		Type:    t,
		Name:    name,
		Content: content,
		Path:    path,
	}, nil
}

// PutJSONArtifact marshals v and writes it via PutArtifact.
func (l *Ledger) PutJSONArtifact(runID string, t model.ArtifactType, v any) (model.Artifact, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return model.Artifact{}, fmt.Errorf("ledger: marshal artifact: %w", err)
	}
	return l.PutArtifact(runID, t, b)
}

// GetArtifactByRunID is the lookup the Orchestrator uses to correlate a
// failure event to its diagnosis artifact (spec §4.C14).
func (l *Ledger) GetArtifactByRunID(runID string, t model.ArtifactType) (model.Artifact, bool, error) {
	path := filepath.Join(l.artifactDir(t), runID+".json")
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return model.Artifact{}, false, nil
	}
	if err != nil {
		return model.Artifact{}, false, fmt.Errorf("ledger: read artifact: %w", err)
	}
	sum := blake3.Sum256(b)
	return model.Artifact{
		ID:      fmt.Sprintf("%x", sum),
		RunID:   runID,
		Type:    t,
		Name:    runID + ".json",
		Content: b,
		Path:    path,
	}, true, nil
}

// ListArtifacts scans <type>'s directory for run ids with a stored
// artifact (spec §4.C14 "listing scans the tree").
func (l *Ledger) ListArtifacts(t model.ArtifactType) ([]string, error) {
	entries, err := os.ReadDir(l.artifactDir(t))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: list artifacts: %w", err)
	}
	var runIDs []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		runIDs = append(runIDs, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(runIDs)
	return runIDs, nil
}

// AppendHistory appends one JSON-encoded record to history.ndjson (spec
// §4.C14 "Run history file ... lives outside the [artifact] tree").
func (l *Ledger) AppendHistory(record any) error {
	if err := os.MkdirAll(l.Root, 0o755); err != nil {
		return fmt.Errorf("ledger: prepare root: %w", err)
	}
	b, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("ledger: marshal history record: %w", err)
	}
	f, err := os.OpenFile(l.historyPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("ledger: open history file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("ledger: append history: %w", err)
	}
	return nil
}

// ReadHistory reads history.ndjson, tolerating malformed lines, and
// returns up to limit entries newest-first (limit<=0 means unlimited).
func ReadHistory(l *Ledger, limit int) ([]json.RawMessage, error) {
	b, err := os.ReadFile(l.historyPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: read history: %w", err)
	}
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	var records []json.RawMessage
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !json.Valid([]byte(line)) {
			continue
		}
		records = append(records, json.RawMessage(line))
	}
	// Reverse to newest-first.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
