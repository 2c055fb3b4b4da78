// Package supervisor runs shell commands under a pseudo-terminal, recalls
// stored fixes when they fail and records verified recoveries.
//
// A command's output is streamed to the user unchanged while a copy is
// scanned for error lines. The error lines form a fingerprint; repeated
// failures with the same fingerprint accumulate strikes. At the strike
// threshold with nothing known locally the supervisor searches the web. A
// successful run shortly after a chronic failure is stored as a verified fix.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fyrsmithlabs/devbrain/internal/ai"
	"github.com/fyrsmithlabs/devbrain/internal/clock"
	"github.com/fyrsmithlabs/devbrain/internal/events"
	"github.com/fyrsmithlabs/devbrain/internal/knowledge"
	"github.com/fyrsmithlabs/devbrain/internal/metrics"
	"github.com/fyrsmithlabs/devbrain/internal/narrate"
	"github.com/fyrsmithlabs/devbrain/internal/redact"
	"github.com/fyrsmithlabs/devbrain/internal/search"
	"github.com/fyrsmithlabs/devbrain/internal/state"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/devbrain/internal/supervisor"

const (
	snippetLimit = 1000

	escalationConfidence = 70
	escalationTimeSaved  = 30
	escalationFramework  = "web"
	communityMentalModel = "Community Solution"
	autoScrapedPrefix    = "[AUTO-SCRAPED] "

	verifiedConfidence = 95
	verifiedTimeSaved  = 10
	defaultRootCause   = "Previous execution failure context."
	defaultMentalModel = "Operational recovery pattern."
)

// Store is the subset of knowledge.Store the supervisor uses.
type Store interface {
	GetFixes(ctx context.Context) ([]knowledge.WisdomBlock, error)
	SaveFix(ctx context.Context, block knowledge.WisdomBlock) error
}

// Config tunes strike accounting and recovery detection.
type Config struct {
	// Project names the blocks this supervisor writes. Defaults to the
	// base name of the working directory.
	Project           string
	StrikeThreshold   int
	RecoveryWindow    time.Duration
	MatchDisplayLimit int
	// ResetStrikes clears a fingerprint's strikes after a recorded
	// recovery.
	ResetStrikes bool
}

// PendingFailure is the most recent failed run awaiting a recovery.
type PendingFailure struct {
	Command     string
	Output      string
	Timestamp   time.Time
	Fingerprint string
	MatchedIDs  []string
	Errors      []string
}

// Recovery classifies what a successful run did with a pending failure.
type Recovery string

const (
	RecoveryNone    Recovery = ""
	RecoveryChronic Recovery = "chronic"
	RecoveryTrivial Recovery = "trivial"
	RecoveryExpired Recovery = "expired"
)

// Report describes one supervised run.
type Report struct {
	Command     string
	ExitCode    int
	Errors      []string
	Fingerprint string
	Strikes     int
	Matches     []knowledge.WisdomBlock
	Escalated   bool
	Recovery    Recovery
	// Saved is the block written by an escalation or a chronic recovery.
	Saved *knowledge.WisdomBlock
}

// Supervisor runs commands one at a time. It is not safe for concurrent
// use; pending failure context belongs to a single interactive session.
type Supervisor struct {
	cfg       Config
	spawner   Spawner
	store     Store
	strikes   *state.StrikeTable
	enricher  ai.Enricher
	finder    search.Finder
	scrubber  *redact.Scrubber
	publisher events.Publisher
	narrator  *narrate.Narrator
	clock     clock.Clock
	out       io.Writer
	logger    *zap.Logger

	pending *PendingFailure
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithEnricher enables AI-written explanations of recoveries.
func WithEnricher(e ai.Enricher) Option { return func(s *Supervisor) { s.enricher = e } }

// WithFinder enables web escalation of chronic failures.
func WithFinder(f search.Finder) Option { return func(s *Supervisor) { s.finder = f } }

// WithScrubber redacts secrets from output before it is stored or sent out.
func WithScrubber(r *redact.Scrubber) Option { return func(s *Supervisor) { s.scrubber = r } }

// WithPublisher announces saved blocks.
func WithPublisher(p events.Publisher) Option { return func(s *Supervisor) { s.publisher = p } }

// WithNarrator prints console narration.
func WithNarrator(n *narrate.Narrator) Option { return func(s *Supervisor) { s.narrator = n } }

// WithClock overrides the time source of the recovery window.
func WithClock(c clock.Clock) Option { return func(s *Supervisor) { s.clock = c } }

// WithOutput sets where child output is forwarded. Defaults to stdout.
func WithOutput(w io.Writer) Option { return func(s *Supervisor) { s.out = w } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Supervisor) { s.logger = l } }

// New creates a supervisor. kv backs the strike table.
func New(cfg Config, spawner Spawner, store Store, kv state.KV, opts ...Option) (*Supervisor, error) {
	if spawner == nil {
		return nil, errors.New("spawner is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if kv == nil {
		return nil, errors.New("state is required")
	}
	if cfg.StrikeThreshold <= 0 {
		cfg.StrikeThreshold = 3
	}
	if cfg.RecoveryWindow <= 0 {
		cfg.RecoveryWindow = 5 * time.Minute
	}
	if cfg.MatchDisplayLimit <= 0 {
		cfg.MatchDisplayLimit = 5
	}
	if cfg.Project == "" {
		cfg.Project = "unknown"
		if wd, err := os.Getwd(); err == nil {
			cfg.Project = filepath.Base(wd)
		}
	}

	s := &Supervisor{
		cfg:       cfg,
		spawner:   spawner,
		store:     store,
		strikes:   state.NewStrikeTable(kv),
		publisher: events.Nop{},
		clock:     clock.Real(),
		out:       os.Stdout,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Pending returns a copy of the failure awaiting recovery, if any.
func (s *Supervisor) Pending() (PendingFailure, bool) {
	if s.pending == nil {
		return PendingFailure{}, false
	}
	return *s.pending, true
}

// Run executes command and returns the child's exit code.
func (s *Supervisor) Run(ctx context.Context, command string) (int, error) {
	rep, err := s.Execute(ctx, command)
	return rep.ExitCode, err
}

// Execute runs command to completion and applies failure or recovery
// handling. Only a failure to start or wait for the child is returned as an
// error; knowledge-base and network problems are logged.
func (s *Supervisor) Execute(ctx context.Context, command string) (Report, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "supervisor.run")
	defer span.End()

	rep := Report{Command: command, ExitCode: 1}
	logger := s.logger.With(zap.String("command", command))

	sess, err := s.spawner.Spawn(ctx, command)
	if err != nil {
		metrics.CommandRunsTotal.WithLabelValues("error").Inc()
		return rep, fmt.Errorf("failed to start %q: %w", command, err)
	}

	capt := newCapture()
	readErr := s.stream(sess, capt)
	capt.flush()
	if readErr != nil {
		logger.Debug("output stream ended with error", zap.Error(readErr))
	}

	code, err := sess.Wait()
	rep.ExitCode = code
	if err != nil {
		metrics.CommandRunsTotal.WithLabelValues("error").Inc()
		return rep, fmt.Errorf("failed to wait for %q: %w", command, err)
	}
	if ctx.Err() != nil {
		metrics.CommandRunsTotal.WithLabelValues("error").Inc()
		return rep, ctx.Err()
	}

	rep.Errors = capt.errors
	rep.Fingerprint = Fingerprint(capt.errors)
	span.SetAttributes(
		attribute.Int("command.exit_code", code),
		attribute.Int("command.errors", len(capt.errors)),
	)

	if code != 0 {
		metrics.CommandRunsTotal.WithLabelValues("failure").Inc()
		s.handleFailure(ctx, &rep, capt)
	} else {
		metrics.CommandRunsTotal.WithLabelValues("success").Inc()
		s.handleSuccess(ctx, &rep)
	}
	return rep, nil
}

// stream forwards output verbatim while feeding the capture. Chunks are
// handed from the reader goroutine to this one over a channel.
func (s *Supervisor) stream(sess Session, capt *capture) error {
	chunks := make(chan []byte, 16)
	var readErr error
	go func() {
		defer close(chunks)
		buf := make([]byte, 4096)
		for {
			n, err := sess.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				chunks <- chunk
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr = err
				}
				return
			}
		}
	}()

	for chunk := range chunks {
		if _, err := s.out.Write(chunk); err != nil {
			s.logger.Debug("failed to forward output", zap.Error(err))
		}
		_, _ = capt.Write(chunk)
	}
	return readErr
}

func (s *Supervisor) handleFailure(ctx context.Context, rep *Report, capt *capture) {
	logger := s.logger.With(zap.String("command", rep.Command), zap.String("fingerprint", rep.Fingerprint))

	strikes, err := s.strikes.Increment(rep.Fingerprint)
	if err != nil {
		logger.Warn("failed to record strike", zap.Error(err))
		strikes = 1
	}
	rep.Strikes = strikes
	metrics.StrikesTotal.Inc()

	if len(capt.errors) > 0 {
		rep.Matches = s.recall(ctx, capt.searchTerms())
	}

	switch {
	case strikes < s.cfg.StrikeThreshold:
		s.narrator.Evidence(strikes, s.cfg.StrikeThreshold)
	case len(rep.Matches) == 0:
		s.escalate(ctx, rep, capt)
	default:
		logger.Debug("chronic failure with known fixes, not escalating", zap.Int("matches", len(rep.Matches)))
	}

	s.pending = &PendingFailure{
		Command:     rep.Command,
		Output:      capt.text(),
		Timestamp:   s.clock.Now(),
		Fingerprint: rep.Fingerprint,
		MatchedIDs:  blockIDs(rep.Matches),
		Errors:      rep.Errors,
	}
	logger.Info("command failed",
		zap.Int("exit_code", rep.ExitCode),
		zap.Int("strikes", strikes),
		zap.Int("matches", len(rep.Matches)),
	)
}

// recall finds stored fixes for the failure and counts each hit as a use.
func (s *Supervisor) recall(ctx context.Context, terms []string) []knowledge.WisdomBlock {
	fixes, err := s.store.GetFixes(ctx)
	if err != nil {
		s.logger.Warn("failed to load fixes", zap.Error(err))
		return nil
	}
	matches := MatchFixes(fixes, terms)
	if len(matches) == 0 {
		return nil
	}
	metrics.KnowledgeMatchesTotal.Add(float64(len(matches)))

	for i := range matches {
		matches[i].UsageCount++
		if err := s.store.SaveFix(ctx, matches[i]); err != nil {
			s.logger.Warn("failed to record fix usage", zap.String("id", matches[i].ID), zap.Error(err))
		}
	}

	shown := matches[:min(len(matches), s.cfg.MatchDisplayLimit)]
	display := make([]narrate.Match, len(shown))
	for i, m := range shown {
		display[i] = narrate.Match{Title: m.Title, MentalModel: m.MentalModel, Confidence: m.Confidence}
	}
	s.narrator.Matches(display)
	return matches
}

// escalationQuery is the first captured error, else the last output line,
// else the command itself.
func escalationQuery(rep *Report, capt *capture) string {
	if len(capt.errors) > 0 {
		return capt.errors[0]
	}
	if last := capt.lastLines(); len(last) > 0 {
		return last[len(last)-1]
	}
	return rep.Command
}

func (s *Supervisor) escalate(ctx context.Context, rep *Report, capt *capture) {
	if s.finder == nil {
		return
	}
	query := s.scrubber.ScrubString(escalationQuery(rep, capt))
	rep.Escalated = true
	s.narrator.Escalating(rep.Strikes, query)

	logger := s.logger.With(zap.String("query", query))
	sol, err := s.finder.FindSolution(ctx, query)
	if err != nil {
		logger.Warn("web search failed", zap.Error(err))
		metrics.EscalationsTotal.WithLabelValues("error").Inc()
		s.narrator.NoSolution()
		return
	}
	if sol == nil {
		metrics.EscalationsTotal.WithLabelValues("not_found").Inc()
		s.narrator.NoSolution()
		return
	}

	block := knowledge.WisdomBlock{
		ID:               uuid.NewString(),
		ProjectName:      s.cfg.Project,
		Type:             knowledge.TypeBugfix,
		Title:            autoScrapedPrefix + sol.Title,
		RootCause:        "StackOverflow match for: " + query,
		MentalModel:      communityMentalModel,
		Description:      sol.Solution,
		BeforeSnippet:    query,
		AfterSnippet:     "See: " + sol.URL,
		FilePaths:        []string{sol.URL},
		Tags:             []string{knowledge.TagStackOverflow, knowledge.TagAutoScraped, knowledge.TagWebSearch},
		FrameworkContext: escalationFramework,
		CreatedAt:        s.clock.Now().UnixMilli(),
		Confidence:       escalationConfidence,
		TimeSavedMinutes: escalationTimeSaved,
		UsageCount:       1,
		SuccessCount:     1,
		ContentHash:      sol.URL,
	}
	if err := s.store.SaveFix(ctx, block); err != nil {
		logger.Error("failed to store web solution", zap.Error(err))
		metrics.EscalationsTotal.WithLabelValues("error").Inc()
		return
	}
	metrics.EscalationsTotal.WithLabelValues("saved").Inc()
	metrics.BlocksSavedTotal.WithLabelValues("escalation").Inc()
	if err := s.publisher.WisdomSaved(ctx, block); err != nil {
		logger.Warn("failed to publish wisdom event", zap.Error(err))
	}
	s.narrator.SolutionFound(sol.Title, sol.URL, sol.Votes)
	rep.Saved = &block
	logger.Info("web solution stored", zap.String("title", block.Title), zap.String("url", sol.URL))
}

func (s *Supervisor) handleSuccess(ctx context.Context, rep *Report) {
	p := s.pending
	if p == nil {
		return
	}
	s.pending = nil

	logger := s.logger.With(zap.String("command", rep.Command), zap.String("fingerprint", p.Fingerprint))

	if s.clock.Now().Sub(p.Timestamp) >= s.cfg.RecoveryWindow {
		rep.Recovery = RecoveryExpired
		logger.Debug("pending failure expired", zap.Time("failed_at", p.Timestamp))
		return
	}

	strikes, err := s.strikes.Get(p.Fingerprint)
	if err != nil {
		logger.Warn("failed to read strikes", zap.Error(err))
	}
	if strikes <= 0 {
		strikes = 1
	}
	rep.Strikes = strikes

	if strikes < s.cfg.StrikeThreshold {
		rep.Recovery = RecoveryTrivial
		metrics.RecoveriesTotal.WithLabelValues(string(RecoveryTrivial)).Inc()
		s.narrator.Trivial()
		logger.Debug("quick recovery, not recording", zap.Int("strikes", strikes))
		return
	}

	rep.Recovery = RecoveryChronic
	metrics.RecoveriesTotal.WithLabelValues(string(RecoveryChronic)).Inc()
	s.creditMatches(ctx, p.MatchedIDs)

	block := s.verifiedBlock(ctx, p, rep.Command, strikes)
	if err := s.store.SaveFix(ctx, block); err != nil {
		logger.Error("failed to store verified fix", zap.Error(err))
		return
	}
	metrics.BlocksSavedTotal.WithLabelValues("recovery").Inc()
	if err := s.publisher.WisdomSaved(ctx, block); err != nil {
		logger.Warn("failed to publish wisdom event", zap.Error(err))
	}
	rep.Saved = &block
	s.narrator.Verified(block.Title, strikes)

	if s.cfg.ResetStrikes {
		if err := s.strikes.Reset(p.Fingerprint); err != nil {
			logger.Warn("failed to reset strikes", zap.Error(err))
		}
	}
	logger.Info("verified fix stored", zap.String("title", block.Title), zap.Int("strikes", strikes))
}

// creditMatches counts a success for every fix recalled during the failure.
func (s *Supervisor) creditMatches(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	fixes, err := s.store.GetFixes(ctx)
	if err != nil {
		s.logger.Warn("failed to load fixes", zap.Error(err))
		return
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for _, f := range fixes {
		if _, ok := want[f.ID]; !ok {
			continue
		}
		f.SuccessCount++
		if err := s.store.SaveFix(ctx, f); err != nil {
			s.logger.Warn("failed to record fix success", zap.String("id", f.ID), zap.Error(err))
		}
	}
}

func (s *Supervisor) verifiedBlock(ctx context.Context, p *PendingFailure, command string, strikes int) knowledge.WisdomBlock {
	output := s.scrubber.ScrubString(p.Output)

	var wisdom ai.Wisdom
	if s.enricher != nil {
		w, err := s.enricher.GenerateWisdom(ctx, output, "User successfully ran: "+command)
		if err != nil {
			s.logger.Warn("ai explanation failed, using defaults", zap.Error(err))
		} else {
			wisdom = w
		}
	}

	framework := wisdom.FrameworkContext
	if framework == "" {
		framework = commandContext(command)
	}

	return knowledge.WisdomBlock{
		ID:               uuid.NewString(),
		ProjectName:      s.cfg.Project,
		Type:             knowledge.TypeBugfix,
		Title:            "Fixed: " + command,
		RootCause:        orDefault(wisdom.RootCause, defaultRootCause),
		MentalModel:      orDefault(wisdom.MentalModel, defaultMentalModel),
		Description:      orDefault(wisdom.FixDescription, "Verified solution via command: "+command),
		BeforeSnippet:    truncate(output, snippetLimit),
		AfterSnippet:     "Successful Execution: " + command,
		Tags:             knowledge.MergeTags([]string{knowledge.TagVerified}, wisdom.Tags),
		FrameworkContext: framework,
		CreatedAt:        s.clock.Now().UnixMilli(),
		Confidence:       verifiedConfidence,
		TimeSavedMinutes: verifiedTimeSaved,
		UsageCount:       strikes,
		SuccessCount:     1,
		ContentHash:      p.Fingerprint,
	}
}

// commandContext guesses a framework from the program a command runs.
func commandContext(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "shell"
	}
	if ext := strings.TrimPrefix(filepath.Ext(fields[len(fields)-1]), "."); ext != "" {
		return ext
	}
	return filepath.Base(fields[0])
}

func blockIDs(blocks []knowledge.WisdomBlock) []string {
	if len(blocks) == 0 {
		return nil
	}
	ids := make([]string, len(blocks))
	for i, b := range blocks {
		ids[i] = b.ID
	}
	return ids
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
