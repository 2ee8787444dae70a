// Package scope implements spec component C5: deriving per-ticket
// file-write policy, validating agent plans against it, and guarding
// individual writes at runtime.
package scope

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/strongdm/promptwheel/internal/model"
	"github.com/strongdm/promptwheel/internal/pathmatch"
)

// RiskLevel is the adaptive-trust classification derived from learnings
// (spec §4.C5 "Adaptive trust").
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskNormal   RiskLevel = "normal"
	RiskElevated RiskLevel = "elevated"
	RiskHigh     RiskLevel = "high"
)

// planValidRiskLevels is the set validate_plan_scope accepts for the
// risk_level parameter it is handed (distinct from RiskLevel above, which
// also includes "normal"/"elevated" for policy derivation).
var planValidRiskLevels = map[string]bool{"low": true, "medium": true, "high": true}

// Policy is the derived per-ticket write policy (spec §4.C5
// derive_scope_policy output).
type Policy struct {
	AllowedPaths    []string
	DeniedPaths     []string
	DeniedPatterns  []*regexp.Regexp
	MaxFiles        int
	MaxLines        int
	PlanRequired    bool
	WorktreeRoot    string
	RiskAssessment  RiskLevel
	Category        string
}

// alwaysDenied is the fixed deny list from spec §4.C5: credentials, VCS
// internals, dependency directories, lockfiles, env files, keys, and build
// output.
var alwaysDenied = []string{
	".git", ".git/**",
	"node_modules", "node_modules/**",
	"vendor", "vendor/**",
	"dist", "dist/**",
	"build", "build/**",
	".env", ".env.*",
	"*.pem", "*.key", "*.p12", "*.pfx",
	"package-lock.json", "yarn.lock", "pnpm-lock.yaml", "go.sum",
	"**/secrets/**", "**/credentials/**",
}

// deniedPatterns catches credential/key-like filenames regardless of
// directory (spec §4.C5 "denied_patterns").
var deniedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(^|/)\.env(\..*)?$`),
	regexp.MustCompile(`(?i)(secret|credential|private[_-]?key|apikey|api[_-]?key)s?\.[a-z0-9]+$`),
	regexp.MustCompile(`(?i)\.(pem|key|p12|pfx|crt)$`),
	regexp.MustCompile(`(?i)id_rsa(\.pub)?$`),
}

// contentSecretPatterns are checked against write content regardless of
// path (spec §4.C5 "Credential detection in content").
var contentSecretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
	regexp.MustCompile(`(?i)aws_secret_access_key\s*=`),
	regexp.MustCompile(`(?i)\bsk-[A-Za-z0-9]{20,}\b`),
	regexp.MustCompile(`(?i)\bghp_[A-Za-z0-9]{20,}\b`),
}

// docsFileType and testFileType implement spec §4.C5 "Category file-type
// restriction".
var docsFileType = regexp.MustCompile(`(?i)\.(md|mdx|txt|rst)$`)
var testFileType = regexp.MustCompile(`(?i)\.(test|spec)\.[a-z0-9]+$`)

func isTestPath(p string) bool {
	if testFileType.MatchString(p) {
		return true
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "__tests__" {
			return true
		}
	}
	return false
}

// DeriveInput is the parameter object for DerivePolicy (spec §4.C5
// derive_scope_policy).
type DeriveInput struct {
	AllowedPaths     []string
	Category         string
	MaxLinesPerTicket int // 0 means "use config default"
	WorktreeRoot     string
	Learnings        []model.Learning
}

// DerivePolicy implements spec §4.C5 "derive_scope_policy".
func DerivePolicy(in DeriveInput) Policy {
	maxFiles := 10
	maxLines := in.MaxLinesPerTicket
	if maxLines == 0 {
		if in.Category == "test" {
			maxLines = 1000
		} else {
			maxLines = 400
		}
	}
	planRequired := in.Category != "docs"

	p := Policy{
		AllowedPaths:   append([]string{}, in.AllowedPaths...),
		DeniedPaths:    append([]string{}, alwaysDenied...),
		DeniedPatterns: deniedPatterns,
		MaxFiles:       maxFiles,
		MaxLines:       maxLines,
		PlanRequired:   planRequired,
		WorktreeRoot:   in.WorktreeRoot,
		RiskAssessment: RiskNormal,
		Category:       in.Category,
	}

	if len(in.Learnings) > 0 {
		risk := assessRisk(in.Learnings)
		p.RiskAssessment = risk
		switch risk {
		case RiskLow:
			p.MaxLines = int(float64(p.MaxLines) * 1.5)
			p.MaxFiles = 15
		case RiskElevated:
			p.MaxFiles = 7
			p.PlanRequired = true
		case RiskHigh:
			p.MaxLines = int(float64(p.MaxLines) * 0.5)
			p.MaxFiles = 5
			p.PlanRequired = true
		}
	}
	return p
}

// assessRisk derives a risk level from failure-history learnings (spec
// §4.C5 "Adaptive trust"): warnings and gotchas raise risk, confirmed
// patterns with no recent warnings lower it.
func assessRisk(learnings []model.Learning) RiskLevel {
	var warnings, gotchas, patterns int
	for _, l := range learnings {
		switch l.Category {
		case "warning":
			warnings++
		case "gotcha":
			gotchas++
		case "pattern":
			patterns++
		}
	}
	switch {
	case gotchas >= 2 || warnings >= 3:
		return RiskHigh
	case warnings >= 1 || gotchas >= 1:
		return RiskElevated
	case patterns >= 1 && warnings == 0 && gotchas == 0:
		return RiskLow
	default:
		return RiskNormal
	}
}

// ValidationResult is the output of ValidatePlanScope (spec §4.C5
// validate_plan_scope).
type ValidationResult struct {
	Valid  bool
	Reason string
}

// ValidatePlanScope implements spec §4.C5 "validate_plan_scope". Failure
// conditions are checked in the documented order; the first one that
// applies is returned.
func ValidatePlanScope(files []string, estimatedLines int, riskLevel string, p Policy) ValidationResult {
	if len(files) == 0 {
		return ValidationResult{Reason: "empty files"}
	}
	if estimatedLines > p.MaxLines {
		return ValidationResult{Reason: fmt.Sprintf("estimated_lines %d exceeds max_lines %d", estimatedLines, p.MaxLines)}
	}
	if len(files) > p.MaxFiles {
		return ValidationResult{Reason: fmt.Sprintf("files count %d exceeds max_files %d", len(files), p.MaxFiles)}
	}
	if !planValidRiskLevels[riskLevel] {
		return ValidationResult{Reason: fmt.Sprintf("invalid risk_level %q", riskLevel)}
	}
	for _, f := range files {
		if pathmatch.MatchesAny(f, p.DeniedPaths) {
			return ValidationResult{Reason: fmt.Sprintf("file %q matches a denied path", f)}
		}
	}
	for _, f := range files {
		if matchesAnyPattern(f, p.DeniedPatterns) {
			return ValidationResult{Reason: fmt.Sprintf("file %q matches a denied pattern", f)}
		}
	}
	if len(p.AllowedPaths) > 0 {
		for _, f := range files {
			if !pathmatch.MatchesAny(f, p.AllowedPaths) {
				return ValidationResult{Reason: fmt.Sprintf("file %q is outside allowed_paths", f)}
			}
		}
	}
	return ValidationResult{Valid: true}
}

func matchesAnyPattern(p string, patterns []*regexp.Regexp) bool {
	np := pathmatch.Normalize(p)
	for _, re := range patterns {
		if re.MatchString(np) {
			return true
		}
	}
	return false
}

// IsFileAllowed implements spec §4.C5 "is_file_allowed": the runtime guard
// invoked on every write tool call. Checks run in the documented order:
// worktree confinement, denied paths, denied patterns, category file-type
// restriction, allowed paths.
func IsFileAllowed(absPath string, p Policy) (bool, string) {
	if p.WorktreeRoot != "" {
		np := pathmatch.Normalize(absPath)
		nroot := pathmatch.Normalize(p.WorktreeRoot)
		if np != nroot && !strings.HasPrefix(np, nroot+"/") {
			return false, "outside worktree confinement"
		}
	}
	if pathmatch.MatchesAny(absPath, p.DeniedPaths) {
		return false, "matches denied path"
	}
	if matchesAnyPattern(absPath, p.DeniedPatterns) {
		return false, "matches denied pattern"
	}
	switch p.Category {
	case "docs":
		if !docsFileType.MatchString(absPath) {
			return false, "docs category restricted to *.md/*.mdx/*.txt/*.rst"
		}
	case "test":
		if !isTestPath(absPath) {
			return false, "test category restricted to *.test.*/*.spec.* or __tests__/"
		}
	}
	if len(p.AllowedPaths) > 0 && !pathmatch.MatchesAny(absPath, p.AllowedPaths) {
		return false, "outside allowed_paths"
	}
	return true, ""
}

// ContainsSecret implements spec §4.C5 "Credential detection in content":
// a write is rejected regardless of path if its content matches a known
// key/secret pattern.
func ContainsSecret(content []byte) bool {
	for _, re := range contentSecretPatterns {
		if re.Match(content) {
			return true
		}
	}
	return false
}

// baseName is a small helper kept for callers that only have a path and
// want the leaf component, e.g. when logging a rejection.
func baseName(p string) string {
	return path.Base(pathmatch.Normalize(p))
}
