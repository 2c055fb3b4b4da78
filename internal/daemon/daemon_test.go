package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/fyrsmithlabs/devbrain/internal/ai"
	"github.com/fyrsmithlabs/devbrain/internal/analysis"
	"github.com/fyrsmithlabs/devbrain/internal/clock"
	"github.com/fyrsmithlabs/devbrain/internal/knowledge"
	"github.com/fyrsmithlabs/devbrain/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const asyncSource = `async function load(url) {
  try {
    const r = await fetch(url);
  } catch (e) {}
}
`

type memStore struct {
	mu           sync.Mutex
	fixes        []knowledge.WisdomBlock
	antiPatterns []knowledge.AntiPatternRecord
	fixErr       error
	apErr        error
}

func (m *memStore) SaveFix(_ context.Context, b knowledge.WisdomBlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fixErr != nil {
		return m.fixErr
	}
	m.fixes = append(m.fixes, b)
	return nil
}

func (m *memStore) SaveAntiPattern(_ context.Context, r knowledge.AntiPatternRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.apErr != nil {
		return m.apErr
	}
	m.antiPatterns = append(m.antiPatterns, r)
	return nil
}

func (m *memStore) fixCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fixes)
}

type stubEnricher struct {
	insight ai.CodeInsight
	err     error
	calls   int
}

func (s *stubEnricher) AnalyzeCodeQuality(context.Context, string, string) (ai.CodeInsight, error) {
	s.calls++
	return s.insight, s.err
}

func (s *stubEnricher) AnalyzeCommit(context.Context, string, string) (ai.CommitInsight, error) {
	return ai.CommitInsight{}, nil
}

func (s *stubEnricher) GenerateWisdom(context.Context, string, string) (ai.Wisdom, error) {
	return ai.Wisdom{}, nil
}

type harness struct {
	d        *Daemon
	clk      *clock.Fake
	store    *memStore
	kv       state.KV
	root     string
	outcomes []Outcome
}

func newHarness(t *testing.T, kv state.KV, opts ...Option) *harness {
	t.Helper()
	if kv == nil {
		kv = state.NewMemory()
	}
	h := &harness{
		clk:   clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
		store: &memStore{},
		kv:    kv,
		root:  t.TempDir(),
	}
	opts = append([]Option{WithClock(h.clk)}, opts...)
	d, err := New(Config{Roots: []string{h.root}, Debounce: 2 * time.Second}, h.store, kv, opts...)
	require.NoError(t, err)
	d.onProcessed = func(_ string, o Outcome) { h.outcomes = append(h.outcomes, o) }
	h.d = d
	return h
}

func (h *harness) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(h.root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (h *harness) touch(path string) {
	h.d.handleEvent(fsnotify.Event{Name: path, Op: fsnotify.Write})
}

// drain processes every queued timer firing on the calling goroutine.
func (h *harness) drain() {
	for {
		select {
		case f := <-h.d.fired:
			h.d.handleFire(context.Background(), f)
		default:
			return
		}
	}
}

func (h *harness) settle() {
	h.clk.Advance(2 * time.Second)
	h.drain()
}

func TestDebounceCollapsesBurst(t *testing.T) {
	h := newHarness(t, nil)
	path := h.write(t, "src/app.ts", asyncSource)

	for i := 0; i < 4; i++ {
		h.touch(path)
		h.clk.Advance(500 * time.Millisecond)
		h.drain()
	}
	assert.Empty(t, h.outcomes)

	// The last edit was 500ms ago; the firing is due 2s after it.
	h.clk.Advance(1499 * time.Millisecond)
	h.drain()
	assert.Empty(t, h.outcomes)

	h.clk.Advance(time.Millisecond)
	h.drain()
	assert.Equal(t, []Outcome{OutcomePersisted}, h.outcomes)
	assert.Equal(t, 1, h.store.fixCount())
	assert.Equal(t, 0, h.clk.Pending())
}

func TestIdenticalContentAnalyzedOnce(t *testing.T) {
	h := newHarness(t, nil)
	path := h.write(t, "app.ts", asyncSource)

	h.touch(path)
	h.settle()
	h.write(t, "app.ts", asyncSource)
	h.touch(path)
	h.settle()

	assert.Equal(t, []Outcome{OutcomePersisted, OutcomeDuplicate}, h.outcomes)
	assert.Equal(t, 1, h.store.fixCount())
}

func TestUnchangedSignatureSkipsStoreAcrossRestarts(t *testing.T) {
	kv := state.NewMemory()
	first := newHarness(t, kv)
	path := first.write(t, "app.ts", asyncSource)
	first.touch(path)
	first.settle()
	require.Equal(t, 1, first.store.fixCount())

	// Same findings, different bytes, fresh process sharing the state file.
	second := newHarness(t, kv)
	second.root = first.root
	second.d.cfg.Roots = first.d.cfg.Roots
	second.write(t, "app.ts", "// touched\n"+asyncSource)
	second.touch(path)
	second.settle()

	assert.Equal(t, []Outcome{OutcomeUnchanged}, second.outcomes)
	assert.Equal(t, 0, second.store.fixCount())
}

func TestHeuristicBlock(t *testing.T) {
	h := newHarness(t, nil)
	path := h.write(t, "app.ts", asyncSource)
	h.touch(path)
	h.settle()

	require.Len(t, h.store.fixes, 1)
	b := h.store.fixes[0]
	assert.Equal(t, knowledge.TypePattern, b.Type)
	assert.Equal(t, "Significant Pattern: error-handling, async-await", b.Title)
	assert.Equal(t, 70, b.Confidence)
	assert.Equal(t, filepath.Base(h.root), b.ProjectName)
	assert.Equal(t, "Analyzed 6 lines of ts code", b.Description)
	assert.Equal(t, "Review recommended for: general-review", b.AfterSnippet)
	assert.Equal(t, []string{path}, b.FilePaths)
	assert.NotEmpty(t, b.ContentHash)
	assert.Equal(t, h.clk.Now().UnixMilli(), b.CreatedAt)
	require.NoError(t, b.Validate())
}

func TestNothingToPersistStillCachesSignature(t *testing.T) {
	h := newHarness(t, nil)
	path := h.write(t, "const.ts", "export const x = 1;\n")
	h.touch(path)
	h.settle()

	assert.Equal(t, []Outcome{OutcomeNothing}, h.outcomes)
	assert.Equal(t, 0, h.store.fixCount())

	sig, ok, err := state.NewSignatureCache(h.kv).Get(path)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"issues":[],"patterns":[]}`, sig)
}

func TestStoreFailureLeavesCachesUntouched(t *testing.T) {
	h := newHarness(t, nil)
	h.store.fixErr = errors.New("disk full")
	h.store.apErr = errors.New("disk full")
	path := h.write(t, "app.ts", asyncSource)

	h.touch(path)
	h.settle()
	assert.Equal(t, []Outcome{OutcomeFailed}, h.outcomes)

	_, ok, err := state.NewSignatureCache(h.kv).Get(path)
	require.NoError(t, err)
	assert.False(t, ok)
	seen, err := state.NewSeenSet(h.kv).Has(path, "Silent Failures")
	require.NoError(t, err)
	assert.False(t, seen)

	// Once the store recovers, saving the same bytes again is not a duplicate.
	h.store.fixErr, h.store.apErr = nil, nil
	h.touch(path)
	h.settle()
	assert.Equal(t, []Outcome{OutcomeFailed, OutcomePersisted}, h.outcomes)
	assert.Equal(t, 1, h.store.fixCount())
	assert.Len(t, h.store.antiPatterns, 1)

	h.touch(path)
	h.settle()
	assert.Equal(t, OutcomeDuplicate, h.outcomes[2])
}

func TestAntiPatternFailureAllowsRetryOfSameContent(t *testing.T) {
	h := newHarness(t, nil)
	h.store.apErr = errors.New("disk full")
	path := h.write(t, "app.ts", asyncSource)

	h.touch(path)
	h.settle()
	require.Equal(t, 1, h.store.fixCount())
	assert.Empty(t, h.store.antiPatterns)

	h.store.apErr = nil
	h.touch(path)
	h.settle()
	assert.Equal(t, []Outcome{OutcomePersisted, OutcomeUnchanged}, h.outcomes)
	assert.Len(t, h.store.antiPatterns, 1)
}

func TestAntiPatternsReportedOncePerFile(t *testing.T) {
	kv := state.NewMemory()
	h := newHarness(t, kv)
	path := h.write(t, "app.ts", asyncSource)
	h.touch(path)
	h.settle()

	require.Len(t, h.store.antiPatterns, 1)
	ap := h.store.antiPatterns[0]
	assert.Equal(t, "Silent Failures", ap.PatternName)
	assert.Equal(t, []string{path}, ap.ProjectsAffected)

	h.write(t, "app.ts", asyncSource+"// more\n")
	h.touch(path)
	h.settle()
	assert.Len(t, h.store.antiPatterns, 1)
}

func TestAIEnrichment(t *testing.T) {
	enricher := &stubEnricher{insight: ai.CodeInsight{
		HasWisdom: true, Type: "principle", Title: "Never swallow errors",
		Rationale: "empty catch hides failures", Principle: "fail loudly",
		Description: "log or rethrow", Tags: []string{"errors"}, Confidence: 90,
	}}
	h := newHarness(t, nil, WithEnricher(enricher))
	path := h.write(t, "app.ts", asyncSource)
	h.touch(path)
	h.settle()

	require.Len(t, h.store.fixes, 1)
	b := h.store.fixes[0]
	assert.Equal(t, "Never swallow errors", b.Title)
	assert.Equal(t, knowledge.TypePrinciple, b.Type)
	assert.Equal(t, 90, b.Confidence)
	assert.Equal(t, "fail loudly", b.MentalModel)
	assert.Equal(t, []string{"error-handling", "async-await", "errors"}, b.Tags)
	assert.Equal(t, 1, enricher.calls)
}

func TestAIFailureDegradesToHeuristics(t *testing.T) {
	enricher := &stubEnricher{err: errors.New("quota exceeded")}
	h := newHarness(t, nil, WithEnricher(enricher))
	path := h.write(t, "loop.go", "package main\n\nfunc main() {\n\tfor {\n\t}\n}\n")
	h.touch(path)
	h.settle()

	require.Len(t, h.store.fixes, 1)
	assert.Equal(t, 85, h.store.fixes[0].Confidence)
	assert.True(t, h.store.fixes[0].HasTag("potential-infinite-loop"))
}

func TestShutdownStopsPendingTimers(t *testing.T) {
	h := newHarness(t, nil)
	path := h.write(t, "app.ts", asyncSource)
	h.touch(path)
	require.Equal(t, 1, h.clk.Pending())

	h.d.shutdown()
	assert.Equal(t, 0, h.clk.Pending())

	h.touch(path)
	h.clk.Advance(time.Minute)
	assert.Empty(t, h.d.fired)
	assert.Empty(t, h.outcomes)
}

func TestStaleFiringIsDiscarded(t *testing.T) {
	h := newHarness(t, nil)
	path := h.write(t, "app.ts", asyncSource)

	h.touch(path)
	h.clk.Advance(2 * time.Second)
	// A newer edit arrives before the queued firing is consumed.
	h.touch(path)
	h.drain()
	assert.Empty(t, h.outcomes)

	h.settle()
	assert.Equal(t, []Outcome{OutcomePersisted}, h.outcomes)
}

func TestIsCodeFile(t *testing.T) {
	h := newHarness(t, nil)
	tests := []struct {
		rel  string
		want bool
	}{
		{"src/app.ts", true},
		{"main.go", true},
		{"tool.py", true},
		{"README.md", false},
		{"node_modules/lib/index.js", false},
		{"dist/bundle.js", false},
		{".git/hooks/pre-commit.py", false},
		{".eslintrc.js", false},
		{"src/.cache/x.ts", false},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			assert.Equal(t, tt.want, h.d.isCodeFile(filepath.Join(h.root, tt.rel)))
		})
	}
	assert.False(t, h.d.isCodeFile("/elsewhere/app.ts"))
}

func TestHeuristicConfidence(t *testing.T) {
	assert.Equal(t, 85, heuristicConfidence(analysis.Result{Patterns: []string{"logging"}, PotentialIssues: []string{"loose-typing"}}))
	assert.Equal(t, 85, heuristicConfidence(analysis.Result{PotentialIssues: []string{"loose-typing"}}))
	assert.Equal(t, 70, heuristicConfidence(analysis.Result{Patterns: []string{"logging"}}))
	assert.Equal(t, 50, heuristicConfidence(analysis.Result{}))
}

func TestRun_WatchesFilesystem(t *testing.T) {
	root := t.TempDir()
	store := &memStore{}
	d, err := New(Config{Roots: []string{root}, Debounce: 50 * time.Millisecond}, store, state.NewMemory())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	path := filepath.Join(root, "app.ts")
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(asyncSource), 0o644)
		return store.fixCount() == 1
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
	assert.Equal(t, 1, store.fixCount())
}

func TestRun_NoRoots(t *testing.T) {
	d, err := New(Config{}, &memStore{}, state.NewMemory())
	require.NoError(t, err)
	assert.ErrorIs(t, d.Run(context.Background()), ErrNoRoots)
}
