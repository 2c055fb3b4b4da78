// Package analysis classifies source files with cheap, deterministic
// heuristics: pattern and issue tags, a complexity bucket and a catalog of
// anti-patterns.
package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

// Complexity buckets files by line count.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// IssueAnalysisFailed marks a degraded result for an unreadable file.
const IssueAnalysisFailed = "analysis-failed"

const largeFileChars = 5000

// Result is the heuristic classification of one file.
type Result struct {
	FileType        string     `json:"fileType"`
	Complexity      Complexity `json:"complexity"`
	Patterns        []string   `json:"patterns"`
	PotentialIssues []string   `json:"potentialIssues"`
	Insights        string     `json:"insights"`
	Lines           int        `json:"lines"`
}

// Failed reports whether the result is the degraded read-failure result.
func (r Result) Failed() bool {
	return slices.Contains(r.PotentialIssues, IssueAnalysisFailed)
}

type rule struct {
	tag   string
	match func(content, fileType string) bool
}

var (
	reTry          = regexp.MustCompile(`\btry\s*[{:]|\bcatch\s*\(|\bexcept\b|if err != nil`)
	reFunctional   = regexp.MustCompile(`\.map\(|\.filter\(|\.reduce\(`)
	reTypeDecl     = regexp.MustCompile(`\binterface\b|\btype `)
	reGoroutine    = regexp.MustCompile(`\bgo func\b|\bchan\b|<-`)
	reStructured   = regexp.MustCompile(`console\.log|\blogging\.|\blog\.|\bzap\.`)
	reAnyType      = regexp.MustCompile(`\bany\b`)
	reErrorSignals = regexp.MustCompile(`console\.error|throw new Error|\bpanic\(`)
	reWhileLoop    = regexp.MustCompile(`while\s*\(|\bwhile True\b|\bfor\s*\{`)
)

var patternRules = []rule{
	{"error-handling", func(c, _ string) bool { return reTry.MatchString(c) }},
	{"async-await", func(c, _ string) bool { return strings.Contains(c, "async") && strings.Contains(c, "await") }},
	{"logging", func(c, _ string) bool { return reStructured.MatchString(c) && !strings.Contains(c, "DEBUG") }},
	{"functional-programming", func(c, _ string) bool { return reFunctional.MatchString(c) }},
	{"typescript", func(c, ft string) bool { return isScript(ft) && reTypeDecl.MatchString(c) }},
	{"concurrency", func(c, ft string) bool { return ft == "go" && reGoroutine.MatchString(c) }},
}

var issueRules = []rule{
	{"loose-typing", func(c, _ string) bool { return reAnyType.MatchString(c) }},
	{"error-handling", func(c, _ string) bool { return reErrorSignals.MatchString(c) }},
	{"file-too-large", func(c, _ string) bool { return len(c) > largeFileChars }},
	{"potential-infinite-loop", func(c, _ string) bool { return reWhileLoop.MatchString(c) }},
	{"loose-comparison", func(c, ft string) bool {
		return isScript(ft) && strings.Contains(c, "==") && !strings.Contains(c, "===")
	}},
}

func isScript(fileType string) bool {
	switch fileType {
	case "ts", "tsx", "js", "jsx":
		return true
	}
	return false
}

// FileType returns the extension of path without the dot, or "unknown".
func FileType(path string) string {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "unknown"
	}
	return ext
}

// Analyze classifies content. It is pure: equal inputs give equal results.
func Analyze(path, content string) Result {
	fileType := FileType(path)
	lines := strings.Count(content, "\n") + 1

	complexity := ComplexityLow
	switch {
	case lines > 500:
		complexity = ComplexityHigh
	case lines > 200:
		complexity = ComplexityMedium
	}

	return Result{
		FileType:        fileType,
		Complexity:      complexity,
		Patterns:        applyRules(patternRules, content, fileType),
		PotentialIssues: applyRules(issueRules, content, fileType),
		Insights:        fmt.Sprintf("Analyzed %d lines of %s code", lines, fileType),
		Lines:           lines,
	}
}

// AnalyzeFile reads and analyzes path. A read failure yields a degraded
// result tagged analysis-failed instead of an error.
func AnalyzeFile(path string) Result {
	content, err := os.ReadFile(path)
	if err != nil {
		return Result{
			FileType:        FileType(path),
			Complexity:      ComplexityLow,
			Patterns:        []string{},
			PotentialIssues: []string{IssueAnalysisFailed},
			Insights:        "Analysis failed",
		}
	}
	return Analyze(path, string(content))
}

func applyRules(rules []rule, content, fileType string) []string {
	out := []string{}
	for _, r := range rules {
		if r.match(content, fileType) && !slices.Contains(out, r.tag) {
			out = append(out, r.tag)
		}
	}
	return out
}

// Signature is the canonical serialization of a result's sorted issues and
// patterns. Results that differ only in order have equal signatures.
func Signature(r Result) string {
	issues := slices.Clone(r.PotentialIssues)
	patterns := slices.Clone(r.Patterns)
	slices.Sort(issues)
	slices.Sort(patterns)
	if issues == nil {
		issues = []string{}
	}
	if patterns == nil {
		patterns = []string{}
	}
	data, _ := json.Marshal(struct {
		Issues   []string `json:"issues"`
		Patterns []string `json:"patterns"`
	}{issues, patterns})
	return string(data)
}

// ContentHash returns the hex SHA-256 of content.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
