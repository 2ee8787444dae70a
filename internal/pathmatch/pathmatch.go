// Package pathmatch implements spec component C1: path normalization, glob
// matching, and hallucinated-path detection.
package pathmatch

import (
	"path"
	"regexp"
	"strings"
	"unicode"

	"github.com/bmatcuk/doublestar/v4"
)

// Normalize cleans a path into a forward-slash, repo-relative form with no
// leading "./" and no trailing slash (spec §4.C1 "normalize").
func Normalize(p string) string {
	p = strings.TrimSpace(p)
	p = filepathToSlash(p)
	p = strings.TrimPrefix(p, "./")
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	return strings.TrimPrefix(p, "/")
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// Matches reports whether path p matches pattern, where pattern is one of:
// an exact path, a directory-prefix pattern (trailing "/" or no glob chars),
// or a doublestar glob ("*" single segment, "**" any depth) — spec §4.C1.
func Matches(p, pattern string) bool {
	np := Normalize(p)
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	normPattern := Normalize(pattern)

	// Exact match.
	if np == normPattern {
		return true
	}

	// Directory-prefix match: pattern names a directory (no glob metachars),
	// and np lives under it.
	if !strings.ContainsAny(pattern, "*?[") {
		if strings.HasPrefix(np, normPattern+"/") {
			return true
		}
		return false
	}

	ok, err := doublestar.Match(normPattern, np)
	if err != nil {
		return false
	}
	return ok
}

// MatchesAny reports whether p matches any of patterns.
func MatchesAny(p string, patterns []string) bool {
	for _, pat := range patterns {
		if Matches(p, pat) {
			return true
		}
	}
	return false
}

// hallucinationRe matches a first path segment that looks like prose: it
// contains whitespace, or more than two words separated by spaces once
// punctuation is stripped.
var wordRe = regexp.MustCompile(`[A-Za-z]+`)

// DetectHallucinated reports whether path's first segment is implausible: it
// contains spaces, reads like an English sentence, or (after suffix
// stripping) does not match any real top-level directory in repoTopLevel
// (spec §4.C1 "detect_hallucinated").
func DetectHallucinated(p string, repoTopLevel []string) bool {
	np := Normalize(p)
	if np == "" {
		return true
	}
	segments := strings.Split(np, "/")
	first := segments[0]

	if strings.ContainsAny(first, " \t") {
		return true
	}
	if looksLikeSentence(first) {
		return true
	}

	stripped := stripKnownSuffixes(first)
	for _, top := range repoTopLevel {
		if strings.EqualFold(stripKnownSuffixes(top), stripped) || strings.EqualFold(top, first) {
			return false
		}
	}
	return true
}

func looksLikeSentence(s string) bool {
	words := wordRe.FindAllString(s, -1)
	if len(words) >= 3 {
		return true
	}
	for _, r := range s {
		if unicode.IsPunct(r) && r != '-' && r != '_' && r != '.' {
			return true
		}
	}
	return false
}

var knownSuffixes = []string{".go", ".ts", ".tsx", ".js", ".jsx", ".py", ".md", ".json", ".yaml", ".yml"}

func stripKnownSuffixes(s string) string {
	for _, suf := range knownSuffixes {
		s = strings.TrimSuffix(s, suf)
	}
	return s
}

// ExpansionResult is the output of AnalyzeViolationsForExpansion.
type ExpansionResult struct {
	NewAllowed []string
	Reason     string
}

// AnalyzeViolationsForExpansion implements spec §4.C1
// "analyze_violations_for_expansion": when at least `threshold` violating
// paths cluster under one sibling directory of an already-allowed path,
// propose widening scope to include that sibling.
func AnalyzeViolationsForExpansion(violations []string, allowed []string, threshold int) ExpansionResult {
	if threshold <= 0 {
		threshold = 3
	}
	bySibling := map[string][]string{}
	for _, v := range violations {
		nv := Normalize(v)
		dir := path.Dir(nv)
		for _, a := range allowed {
			na := Normalize(a)
			adir := path.Dir(na)
			if dir != adir {
				continue
			}
			bySibling[dir] = append(bySibling[dir], nv)
		}
	}
	var best string
	var bestCount int
	for dir, vs := range bySibling {
		if len(vs) > bestCount {
			best, bestCount = dir, len(vs)
		}
	}
	if bestCount >= threshold {
		return ExpansionResult{
			NewAllowed: []string{best + "/**"},
			Reason:     "violations clustered under sibling directory",
		}
	}
	return ExpansionResult{}
}
