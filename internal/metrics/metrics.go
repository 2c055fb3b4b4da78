// Package metrics provides Prometheus metrics for the daemon and supervisor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "devbrain"

var (
	// FileAnalysesTotal counts daemon analyses.
	// Labels: result (persisted, unchanged, duplicate, failed)
	FileAnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "file_analyses_total",
			Help:      "Total number of debounced file analyses by outcome",
		},
		[]string{"result"},
	)

	// AnalysisDuration tracks how long one file analysis takes, including AI.
	AnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "analysis_duration_seconds",
			Help:      "Duration of file analyses in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// BlocksSavedTotal counts persisted wisdom blocks.
	// Labels: source (daemon, escalation, recovery, github)
	BlocksSavedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_saved_total",
			Help:      "Total number of wisdom blocks saved by source",
		},
		[]string{"source"},
	)

	// AntiPatternsTotal counts first sightings of an anti-pattern in a file.
	// Labels: pattern
	AntiPatternsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "anti_patterns_total",
			Help:      "Total number of newly detected anti-patterns",
		},
		[]string{"pattern"},
	)

	// CommandRunsTotal counts supervised commands.
	// Labels: outcome (success, failure)
	CommandRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "command_runs_total",
			Help:      "Total number of supervised command runs by outcome",
		},
		[]string{"outcome"},
	)

	// StrikesTotal counts strike increments.
	StrikesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "strikes_total",
			Help:      "Total number of recorded failure strikes",
		},
	)

	// KnowledgeMatchesTotal counts failures that matched the knowledge base.
	KnowledgeMatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "knowledge_matches_total",
			Help:      "Total number of failures with at least one matching block",
		},
	)

	// EscalationsTotal counts web searches.
	// Labels: result (saved, not_found, error)
	EscalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "escalations_total",
			Help:      "Total number of web search escalations by result",
		},
		[]string{"result"},
	)

	// RecoveriesTotal counts successes that followed a pending failure.
	// Labels: kind (chronic, trivial)
	RecoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "recoveries_total",
			Help:      "Total number of recoveries by kind",
		},
		[]string{"kind"},
	)
)
