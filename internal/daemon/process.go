package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/devbrain/internal/ai"
	"github.com/fyrsmithlabs/devbrain/internal/analysis"
	"github.com/fyrsmithlabs/devbrain/internal/knowledge"
	"github.com/fyrsmithlabs/devbrain/internal/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const daemonTimeSavedMinutes = 5

// process analyzes one settled file. Collaborator failures are logged and
// never propagate.
func (d *Daemon) process(ctx context.Context, path string) Outcome {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "daemon.analyze")
	defer span.End()
	span.SetAttributes(attribute.String("file.path", path))

	start := d.clock.Now()
	content, err := os.ReadFile(path)
	if err != nil {
		d.logger.Warn("failed to read changed file", zap.String("path", path), zap.Error(err))
		metrics.FileAnalysesTotal.WithLabelValues(string(OutcomeFailed)).Inc()
		return OutcomeFailed
	}

	hash := analysis.ContentHash(content)
	if d.hashes[path] == hash {
		d.logger.Debug("identical content, skipping", zap.String("path", path))
		metrics.FileAnalysesTotal.WithLabelValues(string(OutcomeDuplicate)).Inc()
		return OutcomeDuplicate
	}

	outcome := d.analyze(ctx, path, content, hash)
	stored := d.detectAntiPatterns(ctx, path, string(content))
	if outcome != OutcomeFailed && stored {
		d.hashes[path] = hash
	}

	metrics.FileAnalysesTotal.WithLabelValues(string(outcome)).Inc()
	metrics.AnalysisDuration.Observe(d.clock.Now().Sub(start).Seconds())
	span.SetAttributes(attribute.String("daemon.outcome", string(outcome)))
	return outcome
}

func (d *Daemon) analyze(ctx context.Context, path string, content []byte, hash string) Outcome {
	logger := d.logger.With(zap.String("path", path))

	result := analysis.Analyze(path, string(content))
	sig := analysis.Signature(result)

	cached, ok, err := d.sigs.Get(path)
	if err != nil {
		logger.Warn("failed to read signature cache", zap.Error(err))
	}
	if ok && cached == sig {
		logger.Debug("findings unchanged", zap.String("signature", sig))
		return OutcomeUnchanged
	}

	project := d.projectName(path)
	d.narrator.FileChanged(d.relative(path), project)

	insight := d.enrich(ctx, path, content)

	if len(result.PotentialIssues) == 0 && len(result.Patterns) == 0 && !insight.HasWisdom {
		if err := d.sigs.Put(path, sig); err != nil {
			logger.Warn("failed to update signature cache", zap.Error(err))
		}
		return OutcomeNothing
	}

	title, rationale := "", ""
	if insight.HasWisdom {
		title, rationale = insight.Title, insight.Rationale
	}
	d.narrator.Insight(title, rationale, result.PotentialIssues)

	block := d.buildBlock(path, project, hash, result, insight)
	if err := d.store.SaveFix(ctx, block); err != nil {
		logger.Error("failed to store analysis", zap.Error(err))
		return OutcomeFailed
	}
	metrics.BlocksSavedTotal.WithLabelValues("daemon").Inc()
	if err := d.publisher.WisdomSaved(ctx, block); err != nil {
		logger.Warn("failed to publish wisdom event", zap.Error(err))
	}
	if err := d.sigs.Put(path, sig); err != nil {
		logger.Warn("failed to update signature cache", zap.Error(err))
	}

	logger.Info("analysis stored",
		zap.String("project", project),
		zap.String("title", block.Title),
		zap.Strings("tags", block.Tags),
		zap.Int("confidence", block.Confidence),
	)
	return OutcomePersisted
}

func (d *Daemon) enrich(ctx context.Context, path string, content []byte) ai.CodeInsight {
	if d.enricher == nil {
		return ai.CodeInsight{}
	}
	insight, err := d.enricher.AnalyzeCodeQuality(ctx, filepath.Base(path), string(content))
	if err != nil {
		d.logger.Warn("ai enrichment failed, using heuristics", zap.String("path", path), zap.Error(err))
		return ai.CodeInsight{}
	}
	return insight
}

// heuristicConfidence is 85 with issues, 70 with only patterns, else 50.
func heuristicConfidence(r analysis.Result) int {
	switch {
	case len(r.PotentialIssues) > 0:
		return 85
	case len(r.Patterns) > 0:
		return 70
	default:
		return 50
	}
}

func (d *Daemon) buildBlock(path, project, hash string, r analysis.Result, in ai.CodeInsight) knowledge.WisdomBlock {
	b := knowledge.WisdomBlock{
		ID:               uuid.NewString(),
		ProjectName:      project,
		Type:             knowledge.TypePattern,
		BeforeSnippet:    path,
		FilePaths:        []string{path},
		FrameworkContext: r.FileType,
		CreatedAt:        d.clock.Now().UnixMilli(),
		TimeSavedMinutes: daemonTimeSavedMinutes,
		ContentHash:      hash,
	}

	if in.HasWisdom {
		if t := knowledge.BlockType(in.Type); t.Valid() {
			b.Type = t
		}
		b.Title = in.Title
		b.RootCause = in.Rationale
		b.MentalModel = in.Principle
		b.Description = in.Description
		b.AfterSnippet = "Implementation Pattern: " + in.Title
		b.Tags = knowledge.MergeTags(r.Patterns, r.PotentialIssues, in.Tags)
		b.Confidence = in.Confidence
		if b.Confidence <= 0 || b.Confidence > 100 {
			b.Confidence = heuristicConfidence(r)
		}
		return b
	}

	b.Title = "Significant Pattern: " + joinOr(r.Patterns, "Code Structure")
	b.RootCause = fmt.Sprintf("Contextual analysis of %s (%s).", filepath.Base(path), r.FileType)
	b.MentalModel = "Engineering Principle: " + firstOr(r.Patterns, "Clean Code")
	// The insights line marks the block as heuristic-only for GetGenericFixes.
	b.Description = r.Insights
	b.AfterSnippet = "Review recommended for: " + joinOr(r.PotentialIssues, "general-review")
	b.Tags = knowledge.MergeTags(r.Patterns, r.PotentialIssues)
	b.Confidence = heuristicConfidence(r)
	return b
}

// detectAntiPatterns records catalog findings not yet seen for path. The
// seen set is only updated after the store accepted the record. It reports
// false when any record could not be stored.
func (d *Daemon) detectAntiPatterns(ctx context.Context, path, content string) bool {
	project := d.projectName(path)
	stored := true

	for _, ap := range analysis.DetectAntiPatterns(content) {
		logger := d.logger.With(zap.String("path", path), zap.String("pattern", ap.Name))

		seen, err := d.seen.Has(path, ap.Name)
		if err != nil {
			logger.Warn("failed to read anti-pattern cache", zap.Error(err))
			stored = false
			continue
		}
		if seen {
			continue
		}

		record := knowledge.AntiPatternRecord{
			ID:               uuid.NewString(),
			PatternName:      ap.Name,
			Symptoms:         ap.Symptoms,
			BetterApproach:   ap.BetterApproach,
			ProjectsAffected: []string{path},
			CreatedAt:        d.clock.Now().UnixMilli(),
		}
		if err := d.store.SaveAntiPattern(ctx, record); err != nil {
			logger.Error("failed to store anti-pattern", zap.Error(err))
			stored = false
			continue
		}
		if err := d.seen.Add(path, ap.Name); err != nil {
			logger.Warn("failed to update anti-pattern cache", zap.Error(err))
		}
		metrics.AntiPatternsTotal.WithLabelValues(ap.Name).Inc()
		if err := d.publisher.AntiPatternSaved(ctx, record); err != nil {
			logger.Warn("failed to publish anti-pattern event", zap.Error(err))
		}
		d.narrator.AntiPattern(ap.Name, d.relative(path))
		logger.Info("anti-pattern detected", zap.String("project", project))
	}
	return stored
}

func (d *Daemon) relative(path string) string {
	if wd, err := os.Getwd(); err == nil {
		if rel, err := filepath.Rel(wd, path); err == nil && !strings.HasPrefix(rel, "..") {
			return rel
		}
	}
	return path
}

func joinOr(items []string, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	return strings.Join(items, ", ")
}

func firstOr(items []string, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	return items[0]
}
