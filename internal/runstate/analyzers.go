package runstate

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// IncidentRecord is one line of error-ledger.ndjson, spindle-incidents.ndjson,
// or pr-outcomes.ndjson (spec §4.C11's three NDJSON analyzers share this
// shape: a kind, an optional command, and a timestamp).
type IncidentRecord struct {
	Kind      string    `json:"kind"`
	Command   string    `json:"command"`
	Timestamp time.Time `json:"ts"`
	Detail    string    `json:"detail,omitempty"`
}

// IncidentSummary is one (kind, command) group's aggregate.
type IncidentSummary struct {
	Kind     string    `json:"kind"`
	Command  string    `json:"command"`
	Count    int       `json:"count"`
	LastSeen time.Time `json:"lastSeen"`
}

// readIncidents reads an NDJSON file, tolerating malformed lines (spec
// §4.C11's history.ndjson reading contract applied to the three incident
// ledgers too).
func readIncidents(path string) ([]IncidentRecord, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []IncidentRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec IncidentRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// summarizeIncidents groups by (kind, command) and returns the top N by
// count, each carrying its last-seen timestamp (spec §4.C11 "analyzers
// group-by-(kind, command) and return top-N with last-seen timestamps").
func summarizeIncidents(records []IncidentRecord, topN int) []IncidentSummary {
	type key struct{ kind, command string }
	groups := map[key]*IncidentSummary{}
	for _, r := range records {
		k := key{kind: r.Kind, command: r.Command}
		g, ok := groups[k]
		if !ok {
			g = &IncidentSummary{Kind: r.Kind, Command: r.Command}
			groups[k] = g
		}
		g.Count++
		if r.Timestamp.After(g.LastSeen) {
			g.LastSeen = r.Timestamp
		}
	}
	summaries := make([]IncidentSummary, 0, len(groups))
	for _, g := range groups {
		summaries = append(summaries, *g)
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Count != summaries[j].Count {
			return summaries[i].Count > summaries[j].Count
		}
		return summaries[i].LastSeen.After(summaries[j].LastSeen)
	})
	if topN > 0 && len(summaries) > topN {
		summaries = summaries[:topN]
	}
	return summaries
}

// AnalyzeErrorLedger summarizes <root>/error-ledger.ndjson.
func AnalyzeErrorLedger(root string, topN int) ([]IncidentSummary, error) {
	records, err := readIncidents(filepath.Join(root, "error-ledger.ndjson"))
	if err != nil {
		return nil, err
	}
	return summarizeIncidents(records, topN), nil
}

// AnalyzeSpindleIncidents summarizes <root>/spindle-incidents.ndjson.
func AnalyzeSpindleIncidents(root string, topN int) ([]IncidentSummary, error) {
	records, err := readIncidents(filepath.Join(root, "spindle-incidents.ndjson"))
	if err != nil {
		return nil, err
	}
	return summarizeIncidents(records, topN), nil
}

// AnalyzePROutcomes summarizes <root>/pr-outcomes.ndjson.
func AnalyzePROutcomes(root string, topN int) ([]IncidentSummary, error) {
	records, err := readIncidents(filepath.Join(root, "pr-outcomes.ndjson"))
	if err != nil {
		return nil, err
	}
	return summarizeIncidents(records, topN), nil
}
