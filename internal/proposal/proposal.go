// Package proposal implements spec component C10: validating, normalizing,
// deduping, ranking, and enriching scout-produced proposals before they are
// rewritten into tickets.
package proposal

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/strongdm/promptwheel/internal/model"
	"github.com/strongdm/promptwheel/internal/store"
	"github.com/strongdm/promptwheel/internal/textsim"
)

//go:embed schema/proposal.json
var schemaJSON []byte

var compiled *jsonschema.Schema

func init() {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("proposal.json", bytes.NewReader(schemaJSON)); err != nil {
		panic(fmt.Errorf("proposal: compile schema resource: %w", err))
	}
	s, err := c.Compile("proposal.json")
	if err != nil {
		panic(fmt.Errorf("proposal: compile schema: %w", err))
	}
	compiled = s
}

// dedupThreshold is the spec's fixed title-similarity bar for both
// against-existing-tickets and within-batch dedup (spec §4.C10 steps 5-6).
const dedupThreshold = 0.6

// Config is the subset of session configuration the pipeline consults
// (spec §4.C10 steps 3-4, 7).
type Config struct {
	ConfidenceFloor      int
	AllowedCategories    []string
	MaxProposalsPerScout int
}

func (c Config) categoryAllowed(category string) bool {
	for _, a := range c.AllowedCategories {
		if a == category {
			return true
		}
	}
	return false
}

// SymbolMap looks up per-file symbol ranges by the same file path a
// proposal's Files entries use, for the enrichment step (spec §4.C10 step 8).
type SymbolMap map[string][]model.SymbolRange

// BuildSymbolMap flattens a set of module entries into a SymbolMap keyed by
// "<module path>/<file>", matching the paths proposals reference.
func BuildSymbolMap(modules []model.ModuleEntry) SymbolMap {
	out := SymbolMap{}
	for _, m := range modules {
		for file, ranges := range m.SymbolRanges {
			key := file
			if m.Path != "" && m.Path != "." {
				key = m.Path + "/" + file
			}
			out[key] = ranges
		}
	}
	return out
}

// RunContext carries the inputs the pipeline needs beyond the raw proposals
// themselves.
type RunContext struct {
	ProjectID       string
	RunID           string
	Config          Config
	ExistingTickets []model.Ticket
	Symbols         SymbolMap
	TestRoots       []string // project test-root directories, e.g. "test", "tests"
}

// Rejection records why a raw proposal at a given batch index was dropped.
type Rejection struct {
	Index  int
	Title  string
	Reason string
}

// Result is the outcome of one pipeline run, independent of ticket creation.
type Result struct {
	Accepted []model.Proposal
	Rejected []Rejection
}

// Run executes spec §4.C10 steps 1-9 against a batch of raw (schema-shaped,
// but not yet trusted) proposal payloads, without touching storage.
func Run(rc RunContext, raw []json.RawMessage) Result {
	var res Result

	type normalized struct {
		idx int
		p   model.Proposal
	}
	var accepted []normalized

	for i, r := range raw {
		var doc map[string]any
		if err := json.Unmarshal(r, &doc); err != nil {
			res.Rejected = append(res.Rejected, Rejection{Index: i, Reason: "invalid JSON: " + err.Error()})
			continue
		}

		if missing := missingFields(doc); len(missing) > 0 {
			res.Rejected = append(res.Rejected, Rejection{
				Index:  i,
				Title:  stringField(doc, "title"),
				Reason: "missing required fields: " + strings.Join(missing, ", "),
			})
			continue
		}
		if err := compiled.Validate(doc); err != nil {
			res.Rejected = append(res.Rejected, Rejection{Index: i, Title: stringField(doc, "title"), Reason: "schema: " + err.Error()})
			continue
		}

		p := toProposal(doc)
		normalize(&p)

		if p.Confidence < rc.Config.ConfidenceFloor {
			res.Rejected = append(res.Rejected, Rejection{Index: i, Title: p.Title, Reason: fmt.Sprintf("confidence %d below floor %d", p.Confidence, rc.Config.ConfidenceFloor)})
			continue
		}
		if len(rc.Config.AllowedCategories) > 0 && !rc.Config.categoryAllowed(p.Category) {
			res.Rejected = append(res.Rejected, Rejection{Index: i, Title: p.Title, Reason: "category not in allowed set: " + p.Category})
			continue
		}

		accepted = append(accepted, normalized{idx: i, p: p})
	}

	// Step 5: dedup against existing tickets in the project.
	existingTitles := make([]string, len(rc.ExistingTickets))
	for i, t := range rc.ExistingTickets {
		existingTitles[i] = t.Title
	}
	var afterExisting []normalized
	for _, n := range accepted {
		if dup, against := nearestMatch(n.p.Title, existingTitles); dup {
			res.Rejected = append(res.Rejected, Rejection{Index: n.idx, Title: n.p.Title, Reason: "duplicate of existing ticket: " + against})
			continue
		}
		afterExisting = append(afterExisting, n)
	}

	// Step 6: dedup within the batch, insertion order kept.
	var kept []normalized
	var keptTitles []string
	for _, n := range afterExisting {
		if dup, against := nearestMatch(n.p.Title, keptTitles); dup {
			res.Rejected = append(res.Rejected, Rejection{Index: n.idx, Title: n.p.Title, Reason: "duplicate within batch of: " + against})
			continue
		}
		kept = append(kept, n)
		keptTitles = append(keptTitles, n.p.Title)
	}

	// Step 7: score, sort desc, cap.
	sort.SliceStable(kept, func(i, j int) bool {
		return score(kept[i].p) > score(kept[j].p)
	})
	maxN := rc.Config.MaxProposalsPerScout
	if maxN > 0 && len(kept) > maxN {
		for _, dropped := range kept[maxN:] {
			res.Rejected = append(res.Rejected, Rejection{Index: dropped.idx, Title: dropped.p.Title, Reason: "dropped by max_proposals_per_scout cap"})
		}
		kept = kept[:maxN]
	}

	for _, n := range kept {
		p := n.p
		enrichWithSymbols(&p, rc.Symbols)
		expandTestTargets(&p, rc.TestRoots)
		res.Accepted = append(res.Accepted, p)
	}

	return res
}

func score(p model.Proposal) int {
	return p.ImpactScore * p.Confidence
}

// nearestMatch reports whether title is a near-duplicate (bigram Jaccard
// >= dedupThreshold) of any candidate, and which one matched first.
func nearestMatch(title string, candidates []string) (bool, string) {
	for _, c := range candidates {
		if textsim.JaccardSimilarity(title, c) >= dedupThreshold {
			return true, c
		}
	}
	return false, ""
}

var requiredFields = []string{
	"category", "title", "description", "allowed_paths", "files",
	"confidence", "verification_commands", "risk", "touched_files_estimate", "rollback_note",
}

func missingFields(doc map[string]any) []string {
	var missing []string
	for _, f := range requiredFields {
		if v, ok := doc[f]; !ok || v == nil {
			missing = append(missing, f)
		}
	}
	return missing
}

func stringField(doc map[string]any, key string) string {
	if v, ok := doc[key].(string); ok {
		return v
	}
	return ""
}

func stringSlice(doc map[string]any, key string) []string {
	raw, ok := doc[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func numberField(doc map[string]any, key string, def int) int {
	switch v := doc[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func toProposal(doc map[string]any) model.Proposal {
	return model.Proposal{
		Category:             stringField(doc, "category"),
		Title:                stringField(doc, "title"),
		Description:          stringField(doc, "description"),
		AcceptanceCriteria:   stringSlice(doc, "acceptance_criteria"),
		VerificationCommands: stringSlice(doc, "verification_commands"),
		AllowedPaths:         stringSlice(doc, "allowed_paths"),
		Files:                stringSlice(doc, "files"),
		Confidence:           numberField(doc, "confidence", 0),
		ImpactScore:          numberField(doc, "impact_score", 0),
		Rationale:            stringField(doc, "rationale"),
		EstimatedComplexity:  stringField(doc, "estimated_complexity"),
		Risk:                 stringField(doc, "risk"),
		TouchedFilesEstimate: numberField(doc, "touched_files_estimate", 0),
		RollbackNote:         stringField(doc, "rollback_note"),
		TargetSymbols:        stringSlice(doc, "target_symbols"),
	}
}

// normalize applies spec §4.C10 step 2.
func normalize(p *model.Proposal) {
	if p.Confidence < 0 {
		p.Confidence = 0
	}
	if p.Confidence > 100 {
		p.Confidence = 100
	}
	if p.ImpactScore == 0 {
		p.ImpactScore = 5
	}
	if p.ImpactScore < 1 {
		p.ImpactScore = 1
	}
	if p.ImpactScore > 10 {
		p.ImpactScore = 10
	}
	if p.EstimatedComplexity == "" {
		p.EstimatedComplexity = "moderate"
	}
}

// enrichWithSymbols applies spec §4.C10 step 8: only when the proposal has
// no target symbols yet, and only when every one of its files resolves in
// the symbol map — a partial match is left alone so the conflict detector
// falls back to path-based comparison.
func enrichWithSymbols(p *model.Proposal, symbols SymbolMap) {
	if len(p.TargetSymbols) > 0 || len(p.Files) == 0 || symbols == nil {
		return
	}
	seen := map[string]struct{}{}
	var union []string
	for _, f := range p.Files {
		ranges, ok := symbols[f]
		if !ok {
			return
		}
		for _, r := range ranges {
			if _, dup := seen[r.Name]; dup {
				continue
			}
			seen[r.Name] = struct{}{}
			union = append(union, r.Name)
		}
	}
	p.TargetSymbols = union
}

var testConfigFiles = []string{"package.json", "package-lock.json", "yarn.lock", "pnpm-lock.yaml", "tsconfig.json", "jest.config.js", "jest.config.ts", "vitest.config.ts"}

// expandTestTargets applies spec §4.C10 step 9.
func expandTestTargets(p *model.Proposal, testRoots []string) {
	if p.Category != "test" {
		return
	}
	extra := map[string]struct{}{}
	for _, path := range p.AllowedPaths {
		extra[path] = struct{}{}
	}
	for _, f := range p.Files {
		if isProductionFile(f) {
			extra[siblingTestFile(f, ".test")] = struct{}{}
			extra[siblingTestFile(f, ".spec")] = struct{}{}
		}
	}
	for _, root := range testRoots {
		extra[root] = struct{}{}
	}
	for _, f := range testConfigFiles {
		extra[f] = struct{}{}
	}
	for path := range extra {
		if !containsStr(p.AllowedPaths, path) {
			p.AllowedPaths = append(p.AllowedPaths, path)
		}
	}
}

func isProductionFile(path string) bool {
	return !strings.Contains(path, ".test.") && !strings.Contains(path, ".spec.") && !strings.Contains(path, "_test.go")
}

func siblingTestFile(path, marker string) string {
	dot := strings.LastIndex(path, ".")
	if dot < 0 {
		return path + marker
	}
	return path[:dot] + marker + path[dot:]
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// CreateTickets executes spec §4.C10 step 10: atomic multi-insert plus the
// TICKETS_CREATED run event, against the accepted proposals from Run.
func CreateTickets(ctx context.Context, s *store.Store, rc RunContext, accepted []model.Proposal) ([]model.Ticket, error) {
	tickets := make([]model.Ticket, 0, len(accepted))
	for _, p := range accepted {
		tickets = append(tickets, model.Ticket{
			ProjectID:        rc.ProjectID,
			Title:            p.Title,
			Description:      p.Description,
			Category:         p.Category,
			AllowedPaths:     p.AllowedPaths,
			VerificationCmds: p.VerificationCommands,
		})
	}
	if len(tickets) == 0 {
		return nil, nil
	}
	return s.CreateTicketsAtomic(ctx, rc.RunID, tickets)
}

// EmitFiltered records a PROPOSALS_FILTERED run event summarizing how many
// raw proposals were rejected and why, for the history/artifact trail.
func EmitFiltered(ctx context.Context, s *store.Store, runID string, res Result) error {
	if runID == "" || len(res.Rejected) == 0 {
		return nil
	}
	reasons := make([]map[string]any, 0, len(res.Rejected))
	for _, r := range res.Rejected {
		reasons = append(reasons, map[string]any{"index": r.Index, "title": r.Title, "reason": r.Reason})
	}
	_, err := s.AppendRunEvent(ctx, runID, model.EventProposalsFiltered, map[string]any{
		"accepted_count": len(res.Accepted),
		"rejected_count": len(res.Rejected),
		"rejections":     reasons,
	})
	return err
}
