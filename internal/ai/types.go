// Package ai enriches heuristic findings with LLM-written explanations.
//
// Results are tagged: CodeInsight.HasWisdom and CommitInsight.IsWorthRecording tell the
// caller whether the remaining fields carry anything worth storing.
package ai

import (
	"context"
	"errors"
)

// ErrNotConfigured means no provider or API key is available. Callers skip
// enrichment.
var ErrNotConfigured = errors.New("ai enrichment not configured")

// ErrEmptyResponse is returned when the provider answered with no text.
var ErrEmptyResponse = errors.New("empty response from provider")

// CodeInsight is the result of AnalyzeCodeQuality.
type CodeInsight struct {
	HasWisdom   bool     `json:"hasWisdom"`
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Rationale   string   `json:"rationale"`
	Principle   string   `json:"principle"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Confidence  int      `json:"confidence"`
}

// CommitInsight is the result of AnalyzeCommit.
type CommitInsight struct {
	IsWorthRecording      bool     `json:"isWorthRecording"`
	Type                  string   `json:"type"`
	Title                 string   `json:"title"`
	ProblemContext        string   `json:"problemContext"`
	MentalModel           string   `json:"mentalModel"`
	ImplementationDetails string   `json:"implementationDetails"`
	Tags                  []string `json:"tags"`
	Confidence            int      `json:"confidence"`
}

// Wisdom is the result of GenerateWisdom.
type Wisdom struct {
	RootCause        string   `json:"rootCause"`
	MentalModel      string   `json:"mentalModel"`
	FixDescription   string   `json:"fixDescription"`
	Tags             []string `json:"tags"`
	FrameworkContext string   `json:"frameworkContext"`
}

// Enricher is the contract the daemon, supervisor and learner call.
type Enricher interface {
	AnalyzeCodeQuality(ctx context.Context, filename, content string) (CodeInsight, error)
	AnalyzeCommit(ctx context.Context, message, diff string) (CommitInsight, error)
	GenerateWisdom(ctx context.Context, failureOutput, successDescription string) (Wisdom, error)
}

// Completer sends one prompt and returns the raw JSON text of the reply.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// permanentError marks a provider failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perm *permanentError
	return !errors.As(err, &perm)
}
