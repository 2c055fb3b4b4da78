package analysis

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyze_PatternsAndIssues(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		content      string
		wantPatterns []string
		wantIssues   []string
	}{
		{
			name:         "typescript with async and loose typing",
			path:         "svc.ts",
			content:      "interface User {}\nasync function load(): Promise<any> {\n  const u = await fetch(url)\n  console.log(u)\n}\n",
			wantPatterns: []string{"async-await", "logging", "typescript"},
			wantIssues:   []string{"loose-typing"},
		},
		{
			name:         "go error handling and goroutines",
			path:         "main.go",
			content:      "func run() error {\n\tgo func() {}()\n\tif err != nil {\n\t\tpanic(err)\n\t}\n\tfor {\n\t}\n}\n",
			wantPatterns: []string{"error-handling", "concurrency"},
			wantIssues:   []string{"error-handling", "potential-infinite-loop"},
		},
		{
			name:         "javascript loose comparison",
			path:         "app.js",
			content:      "if (a == b) { items.map(x => x) }\nwhile (true) {}\n",
			wantPatterns: []string{"functional-programming"},
			wantIssues:   []string{"potential-infinite-loop", "loose-comparison"},
		},
		{
			name:         "debug logging is not a pattern",
			path:         "app.js",
			content:      "if (DEBUG) console.log(x) === y\n",
			wantPatterns: []string{},
			wantIssues:   []string{},
		},
		{
			name:         "go equality is not loose comparison",
			path:         "eq.go",
			content:      "return a == b\n",
			wantPatterns: []string{},
			wantIssues:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Analyze(tt.path, tt.content)
			assert.Equal(t, tt.wantPatterns, got.Patterns)
			assert.Equal(t, tt.wantIssues, got.PotentialIssues)
		})
	}
}

func TestAnalyze_ComplexityAndInsights(t *testing.T) {
	low := Analyze("a.py", strings.Repeat("x = 1\n", 10))
	assert.Equal(t, ComplexityLow, low.Complexity)
	assert.Equal(t, "py", low.FileType)
	assert.Equal(t, "Analyzed 11 lines of py code", low.Insights)

	medium := Analyze("a.py", strings.Repeat("\n", 250))
	assert.Equal(t, ComplexityMedium, medium.Complexity)

	high := Analyze("a.py", strings.Repeat("\n", 600))
	assert.Equal(t, ComplexityHigh, high.Complexity)

	large := Analyze("a.py", strings.Repeat("x", largeFileChars+1))
	assert.Contains(t, large.PotentialIssues, "file-too-large")
}

func TestAnalyze_Deterministic(t *testing.T) {
	content := "async function f() { await g(); console.error('x') }"
	assert.Equal(t, Analyze("f.js", content), Analyze("f.js", content))
}

func TestAnalyzeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ok.ts")
	require.NoError(t, os.WriteFile(path, []byte("type A = any\n"), 0600))

	got := AnalyzeFile(path)
	assert.False(t, got.Failed())
	assert.Equal(t, []string{"typescript"}, got.Patterns)

	missing := AnalyzeFile(filepath.Join(dir, "gone.ts"))
	assert.True(t, missing.Failed())
	assert.Equal(t, []string{IssueAnalysisFailed}, missing.PotentialIssues)
	assert.Equal(t, "ts", missing.FileType)
}

func TestSignature_IgnoresOrder(t *testing.T) {
	a := Result{Patterns: []string{"logging", "async-await"}, PotentialIssues: []string{"loose-typing", "error-handling"}}
	b := Result{Patterns: []string{"async-await", "logging"}, PotentialIssues: []string{"error-handling", "loose-typing"}}

	assert.Equal(t, Signature(a), Signature(b))
	assert.Equal(t, `{"issues":["error-handling","loose-typing"],"patterns":["async-await","logging"]}`, Signature(a))
	assert.Equal(t, `{"issues":[],"patterns":[]}`, Signature(Result{}))
	// Signature must not reorder the caller's slices.
	assert.Equal(t, []string{"logging", "async-await"}, a.Patterns)
}

func TestContentHash(t *testing.T) {
	assert.Equal(t, ContentHash([]byte("abc")), ContentHash([]byte("abc")))
	assert.NotEqual(t, ContentHash([]byte("abc")), ContentHash([]byte("abd")))
	assert.Len(t, ContentHash(nil), 64)
}

func TestFileType(t *testing.T) {
	assert.Equal(t, "go", FileType("/src/main.go"))
	assert.Equal(t, "unknown", FileType("/src/Makefile"))
}
