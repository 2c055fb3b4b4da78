// Package redact removes credentials from captured command output before it
// is written to the knowledge base.
package redact

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Scrubber replaces secrets found by the Gitleaks rule set with
// [REDACTED:<rule-id>] markers.
type Scrubber struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// Result describes one scrub.
type Result struct {
	Content string
	Rules   []string
}

// Redacted reports whether anything was replaced.
func (r Result) Redacted() bool {
	return len(r.Rules) > 0
}

// NewScrubber loads the default Gitleaks configuration.
func NewScrubber() (*Scrubber, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load gitleaks rules: %w", err)
	}
	return &Scrubber{detector: detector}, nil
}

// Scrub returns content with every detected secret replaced.
func (s *Scrubber) Scrub(content string) Result {
	if s == nil || content == "" {
		return Result{Content: content}
	}

	s.mu.Lock()
	findings := s.detector.DetectString(content)
	s.mu.Unlock()

	if len(findings) == 0 {
		return Result{Content: content}
	}

	// Longest secrets first so a secret containing another is replaced whole.
	sort.Slice(findings, func(i, j int) bool {
		return len(findings[i].Secret) > len(findings[j].Secret)
	})

	seen := make(map[string]struct{})
	var rules []string
	for _, f := range findings {
		if f.Secret == "" {
			continue
		}
		content = strings.ReplaceAll(content, f.Secret, "[REDACTED:"+f.RuleID+"]")
		if _, ok := seen[f.RuleID]; !ok {
			seen[f.RuleID] = struct{}{}
			rules = append(rules, f.RuleID)
		}
	}
	sort.Strings(rules)
	return Result{Content: content, Rules: rules}
}

// ScrubString is Scrub for callers that only need the text.
func (s *Scrubber) ScrubString(content string) string {
	return s.Scrub(content).Content
}
