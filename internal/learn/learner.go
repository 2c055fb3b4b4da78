// Package learn turns GitHub commit history into wisdom blocks.
package learn

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/devbrain/internal/ai"
	"github.com/fyrsmithlabs/devbrain/internal/clock"
	"github.com/fyrsmithlabs/devbrain/internal/events"
	"github.com/fyrsmithlabs/devbrain/internal/github"
	"github.com/fyrsmithlabs/devbrain/internal/knowledge"
	"github.com/fyrsmithlabs/devbrain/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Tags attached to learned blocks.
const (
	TagGitHubDeep   = "github-deep"
	TagGitHubCommit = "github-commit"
	TagBulkLearn    = "bulk-learn"
)

const (
	deepDefaultConfidence  = 80
	plainConfidence        = 75
	deepTimeSavedMinutes   = 15
	plainTimeSavedMinutes  = 10
	defaultCommitsPerRepo  = 10
	frameworkContextGitLog = "git"
)

// Saver is the store subset the learner writes to.
type Saver interface {
	SaveFix(ctx context.Context, block knowledge.WisdomBlock) error
}

// Options controls one repository pass.
type Options struct {
	// Deep analyzes each commit diff with the AI enricher.
	Deep bool
	// Limit is the number of latest commits to read.
	Limit int
	// Tag marks deep blocks; defaults to TagGitHubDeep.
	Tag string
}

// Report summarises a learning pass.
type Report struct {
	Repo     string
	Analyzed int
	Saved    int
	Skipped  int
	Failed   int
}

// Learner reads commits from a Source and saves what it learns.
type Learner struct {
	source    github.Source
	enricher  ai.Enricher
	store     Saver
	publisher events.Publisher
	clock     clock.Clock
	logger    *zap.Logger
}

// Option configures a Learner.
type Option func(*Learner)

// WithEnricher enables deep mode.
func WithEnricher(e ai.Enricher) Option { return func(l *Learner) { l.enricher = e } }

// WithPublisher announces saved blocks.
func WithPublisher(p events.Publisher) Option { return func(l *Learner) { l.publisher = p } }

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option { return func(l *Learner) { l.clock = c } }

// WithLogger sets the logger.
func WithLogger(lg *zap.Logger) Option { return func(l *Learner) { l.logger = lg } }

// New creates a Learner.
func New(source github.Source, store Saver, opts ...Option) *Learner {
	l := &Learner{
		source:    source,
		store:     store,
		publisher: events.Nop{},
		clock:     clock.Real(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LearnRepo reads the latest commits of owner/repo. Deep mode records only
// commits the enricher judges worth recording; plain mode records every
// commit as a history block.
func (l *Learner) LearnRepo(ctx context.Context, owner, repo string, opts Options) (Report, error) {
	if opts.Deep && l.enricher == nil {
		return Report{}, ai.ErrNotConfigured
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultCommitsPerRepo
	}
	if opts.Tag == "" {
		opts.Tag = TagGitHubDeep
	}

	report := Report{Repo: owner + "/" + repo}
	commits, err := l.source.ListCommits(ctx, owner, repo, opts.Limit)
	if err != nil {
		return report, err
	}
	if len(commits) > opts.Limit {
		commits = commits[:opts.Limit]
	}

	logger := l.logger.With(zap.String("repo", report.Repo), zap.Bool("deep", opts.Deep))
	for _, c := range commits {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Analyzed++

		var block knowledge.WisdomBlock
		if opts.Deep {
			insight, err := l.analyze(ctx, owner, repo, c)
			if err != nil {
				logger.Warn("commit extraction failed", zap.String("sha", short(c.SHA)), zap.Error(err))
				report.Failed++
				continue
			}
			if !insight.IsWorthRecording {
				logger.Debug("no insight in commit", zap.String("sha", short(c.SHA)))
				report.Skipped++
				continue
			}
			block = l.deepBlock(owner, repo, c, insight, opts.Tag)
		} else {
			block = l.plainBlock(owner, repo, c)
		}

		if err := l.store.SaveFix(ctx, block); err != nil {
			logger.Error("failed to save commit block", zap.String("sha", short(c.SHA)), zap.Error(err))
			report.Failed++
			continue
		}
		report.Saved++
		metrics.BlocksSavedTotal.WithLabelValues("github").Inc()
		if err := l.publisher.WisdomSaved(ctx, block); err != nil {
			logger.Warn("failed to publish wisdom event", zap.Error(err))
		}
	}

	logger.Info("repository learned",
		zap.Int("analyzed", report.Analyzed),
		zap.Int("saved", report.Saved),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// LearnAll runs a deep pass over every repository of the authenticated user.
// A failing repository is logged and does not stop the others.
func (l *Learner) LearnAll(ctx context.Context, limit int) ([]Report, error) {
	if l.enricher == nil {
		return nil, ai.ErrNotConfigured
	}
	repos, err := l.source.ListUserRepos(ctx)
	if err != nil {
		return nil, err
	}

	var reports []Report
	var errs []error
	for _, r := range repos {
		rep, err := l.LearnRepo(ctx, r.Owner, r.Name, Options{Deep: true, Limit: limit, Tag: TagBulkLearn})
		if err != nil {
			if ctx.Err() != nil {
				return reports, ctx.Err()
			}
			l.logger.Warn("failed to learn repository", zap.String("repo", r.FullName), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", r.FullName, err))
			continue
		}
		reports = append(reports, rep)
	}
	if len(reports) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return reports, nil
}

func (l *Learner) analyze(ctx context.Context, owner, repo string, c github.Commit) (ai.CommitInsight, error) {
	diff, err := l.source.CommitDiff(ctx, owner, repo, c.SHA)
	if err != nil {
		return ai.CommitInsight{}, err
	}
	return l.enricher.AnalyzeCommit(ctx, c.Message, diff)
}

func (l *Learner) deepBlock(owner, repo string, c github.Commit, in ai.CommitInsight, tag string) knowledge.WisdomBlock {
	typ := knowledge.BlockType(in.Type)
	if !typ.Valid() {
		typ = knowledge.TypeBugfix
	}
	confidence := in.Confidence
	if confidence <= 0 || confidence > 100 {
		confidence = deepDefaultConfidence
	}
	return knowledge.WisdomBlock{
		ID:               uuid.NewString(),
		ProjectName:      owner + "/" + repo,
		Type:             typ,
		Title:            in.Title,
		RootCause:        in.ProblemContext,
		MentalModel:      in.MentalModel,
		Description:      in.ImplementationDetails,
		BeforeSnippet:    "SHA: " + c.SHA,
		AfterSnippet:     "Author: " + orUnknown(c.Author),
		FilePaths:        []string{commitURL(owner, repo, c.SHA)},
		Tags:             knowledge.MergeTags(in.Tags, []string{tag}),
		FrameworkContext: frameworkContextGitLog,
		CreatedAt:        l.clock.Now().UnixMilli(),
		Confidence:       confidence,
		TimeSavedMinutes: deepTimeSavedMinutes,
		ContentHash:      c.SHA,
	}
}

func (l *Learner) plainBlock(owner, repo string, c github.Commit) knowledge.WisdomBlock {
	date := "unknown"
	if !c.Date.IsZero() {
		date = c.Date.UTC().Format("2006-01-02T15:04:05Z")
	}
	return knowledge.WisdomBlock{
		ID:               uuid.NewString(),
		ProjectName:      owner + "/" + repo,
		Type:             knowledge.TypeDecision,
		Title:            "Commit: " + firstLine(c.Message),
		RootCause:        "GitHub Repository: " + owner + "/" + repo,
		MentalModel:      "Author: " + orUnknown(c.Author) + ", Approach: Git history analysis",
		Description:      c.Message,
		BeforeSnippet:    "SHA: " + c.SHA,
		AfterSnippet:     "Date: " + date,
		FilePaths:        []string{commitURL(owner, repo, c.SHA)},
		Tags:             []string{TagGitHubCommit, "repository", owner, repo},
		FrameworkContext: frameworkContextGitLog,
		CreatedAt:        l.clock.Now().UnixMilli(),
		Confidence:       plainConfidence,
		TimeSavedMinutes: plainTimeSavedMinutes,
		ContentHash:      c.SHA,
	}
}

func commitURL(owner, repo, sha string) string {
	return fmt.Sprintf("https://github.com/%s/%s/commit/%s", owner, repo, sha)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func short(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
