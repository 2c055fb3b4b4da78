// Package knowledge defines the records devbrain learns and the store contract
// shared by every producer and consumer of them.
package knowledge

import (
	"context"
	"errors"
)

// BlockType classifies a WisdomBlock.
type BlockType string

const (
	TypeBugfix       BlockType = "bugfix"
	TypePattern      BlockType = "pattern"
	TypeOptimization BlockType = "optimization"
	TypePrinciple    BlockType = "principle"
	TypeRunbook      BlockType = "runbook"
	TypeDecision     BlockType = "decision"
)

// Valid reports whether t is a known block type.
func (t BlockType) Valid() bool {
	switch t {
	case TypeBugfix, TypePattern, TypeOptimization, TypePrinciple, TypeRunbook, TypeDecision:
		return true
	}
	return false
}

// Well-known tags.
const (
	TagVerified      = "verified"
	TagStackOverflow = "stackoverflow"
	TagAutoScraped   = "auto-scraped"
	TagWebSearch     = "web-search"
)

var (
	// ErrInvalidBlock is returned when a block misses its identity fields.
	ErrInvalidBlock = errors.New("invalid wisdom block")
	// ErrClosed is returned by a store used after Close.
	ErrClosed = errors.New("knowledge store is closed")
)

// WisdomBlock is one unit of learned knowledge.
// The upsert key is (ProjectName, Title, ContentHash).
type WisdomBlock struct {
	ID               string    `json:"id"`
	ProjectName      string    `json:"projectName"`
	Type             BlockType `json:"type"`
	Title            string    `json:"title"`
	RootCause        string    `json:"rootCause"`
	MentalModel      string    `json:"mentalModel"`
	Description      string    `json:"description"`
	BeforeSnippet    string    `json:"beforeSnippet"`
	AfterSnippet     string    `json:"afterSnippet"`
	FilePaths        []string  `json:"filePaths"`
	Tags             []string  `json:"tags"`
	FrameworkContext string    `json:"frameworkContext"`
	CreatedAt        int64     `json:"createdAt"`
	Confidence       int       `json:"confidence"`
	TimeSavedMinutes int       `json:"timeSavedMinutes"`
	UsageCount       int       `json:"usageCount"`
	SuccessCount     int       `json:"successCount"`
	ContentHash      string    `json:"contentHash,omitempty"`
}

// Validate checks identity fields.
func (b WisdomBlock) Validate() error {
	if b.ID == "" {
		return errors.Join(ErrInvalidBlock, errors.New("id is required"))
	}
	if b.Title == "" {
		return errors.Join(ErrInvalidBlock, errors.New("title is required"))
	}
	if !b.Type.Valid() {
		return errors.Join(ErrInvalidBlock, errors.New("unknown type "+string(b.Type)))
	}
	if b.Confidence < 0 || b.Confidence > 100 {
		return errors.Join(ErrInvalidBlock, errors.New("confidence out of range"))
	}
	return nil
}

// HasTag reports whether the block carries tag.
func (b WisdomBlock) HasTag(tag string) bool {
	for _, t := range b.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AntiPatternRecord is a catalogued code smell. PatternName is its dedup key.
type AntiPatternRecord struct {
	ID               string   `json:"id"`
	PatternName      string   `json:"patternName"`
	Symptoms         string   `json:"symptoms"`
	BetterApproach   string   `json:"betterApproach"`
	ProjectsAffected []string `json:"projectsAffected"`
	CreatedAt        int64    `json:"createdAt"`
}

// Stats summarises the knowledge base.
type Stats struct {
	TotalFixes     int      `json:"totalFixes"`
	TimeSavedHours string   `json:"timeSavedHours"`
	TopTags        []string `json:"topTags"`
	AccuracyRate   int      `json:"accuracyRate"`
}

// Store persists WisdomBlocks and AntiPatternRecords.
type Store interface {
	// GetFixes returns every block, newest first.
	GetFixes(ctx context.Context) ([]WisdomBlock, error)
	// GetGenericFixes returns heuristic-only blocks not yet enriched by AI.
	GetGenericFixes(ctx context.Context) ([]WisdomBlock, error)
	// SaveFix upserts by (ProjectName, Title, ContentHash).
	SaveFix(ctx context.Context, block WisdomBlock) error
	// GetAntiPatterns returns every record, newest first.
	GetAntiPatterns(ctx context.Context) ([]AntiPatternRecord, error)
	// SaveAntiPattern upserts by PatternName.
	SaveAntiPattern(ctx context.Context, record AntiPatternRecord) error
	GetStats(ctx context.Context) (Stats, error)
	// ClearDuplicates keeps the newest block per (ProjectName, Title) and
	// the newest record per PatternName. It returns the number of rows removed.
	ClearDuplicates(ctx context.Context) (int, error)
	Close() error
}
