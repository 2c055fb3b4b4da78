// Package store implements knowledge.Store on SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fyrsmithlabs/devbrain/internal/knowledge"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements knowledge.Store using SQLite for persistence.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

var _ knowledge.Store = (*SQLiteStore)(nil)

// New opens (creating if needed) the database at path.
// Use ":memory:" for an ephemeral store.
func New(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The daemon and supervisor may share the file; one connection per process
	// keeps writes serialized.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Debug("knowledge store opened", zap.String("path", path))
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS fixes (
		id TEXT PRIMARY KEY,
		project_name TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		root_cause TEXT,
		mental_model TEXT,
		description TEXT,
		before_snippet TEXT,
		after_snippet TEXT,
		file_paths TEXT,
		tags TEXT,
		framework_context TEXT,
		created_at INTEGER NOT NULL,
		confidence INTEGER DEFAULT 0,
		time_saved_minutes INTEGER DEFAULT 0,
		usage_count INTEGER DEFAULT 0,
		success_count INTEGER DEFAULT 0,
		content_hash TEXT NOT NULL DEFAULT '',
		UNIQUE(project_name, title, content_hash)
	);

	CREATE INDEX IF NOT EXISTS idx_fixes_created_at ON fixes(created_at);

	CREATE TABLE IF NOT EXISTS anti_patterns (
		id TEXT PRIMARY KEY,
		pattern_name TEXT NOT NULL UNIQUE,
		symptoms TEXT,
		better_approach TEXT,
		projects_affected TEXT,
		created_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const fixColumns = `id, project_name, type, title, root_cause, mental_model, description,
	before_snippet, after_snippet, file_paths, tags, framework_context, created_at,
	confidence, time_saved_minutes, usage_count, success_count, content_hash`

// GetFixes returns every block, newest first.
func (s *SQLiteStore) GetFixes(ctx context.Context) ([]knowledge.WisdomBlock, error) {
	return s.queryFixes(ctx, `SELECT `+fixColumns+` FROM fixes ORDER BY created_at DESC, rowid DESC`)
}

// GetGenericFixes returns blocks whose description is still the heuristic
// line-count summary.
func (s *SQLiteStore) GetGenericFixes(ctx context.Context) ([]knowledge.WisdomBlock, error) {
	return s.queryFixes(ctx, `SELECT `+fixColumns+` FROM fixes
		WHERE description LIKE 'Analyzed % lines of%'
		ORDER BY created_at DESC, rowid DESC`)
}

func (s *SQLiteStore) queryFixes(ctx context.Context, query string, args ...any) ([]knowledge.WisdomBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, knowledge.ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fixes: %w", err)
	}
	defer rows.Close()

	var out []knowledge.WisdomBlock
	for rows.Next() {
		var (
			b                   knowledge.WisdomBlock
			blockType           string
			rootCause, mental   sql.NullString
			desc, before, after sql.NullString
			paths, tags, fw     sql.NullString
		)
		if err := rows.Scan(&b.ID, &b.ProjectName, &blockType, &b.Title, &rootCause, &mental, &desc,
			&before, &after, &paths, &tags, &fw, &b.CreatedAt,
			&b.Confidence, &b.TimeSavedMinutes, &b.UsageCount, &b.SuccessCount, &b.ContentHash); err != nil {
			return nil, fmt.Errorf("failed to scan fix: %w", err)
		}
		b.Type = knowledge.BlockType(blockType)
		b.RootCause = rootCause.String
		b.MentalModel = mental.String
		b.Description = desc.String
		b.BeforeSnippet = before.String
		b.AfterSnippet = after.String
		b.FrameworkContext = fw.String
		if b.FilePaths, err = decodeList(paths); err != nil {
			return nil, fmt.Errorf("failed to decode file paths for %s: %w", b.ID, err)
		}
		if b.Tags, err = decodeList(tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags for %s: %w", b.ID, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SaveFix upserts by (ProjectName, Title, ContentHash). A row with the same
// key or the same ID is replaced.
func (s *SQLiteStore) SaveFix(ctx context.Context, b knowledge.WisdomBlock) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if b.CreatedAt == 0 {
		b.CreatedAt = time.Now().UnixMilli()
	}
	paths, err := encodeList(b.FilePaths)
	if err != nil {
		return fmt.Errorf("failed to marshal file paths: %w", err)
	}
	tags, err := encodeList(b.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return knowledge.ErrClosed
	}

	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO fixes (`+fixColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.ProjectName, string(b.Type), b.Title, b.RootCause, b.MentalModel, b.Description,
		b.BeforeSnippet, b.AfterSnippet, paths, tags, b.FrameworkContext, b.CreatedAt,
		b.Confidence, b.TimeSavedMinutes, b.UsageCount, b.SuccessCount, b.ContentHash)
	if err != nil {
		return fmt.Errorf("failed to save fix %q: %w", b.Title, err)
	}
	return nil
}

// GetAntiPatterns returns every record, newest first.
func (s *SQLiteStore) GetAntiPatterns(ctx context.Context) ([]knowledge.AntiPatternRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, knowledge.ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, pattern_name, symptoms, better_approach, projects_affected, created_at
		FROM anti_patterns ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query anti-patterns: %w", err)
	}
	defer rows.Close()

	var out []knowledge.AntiPatternRecord
	for rows.Next() {
		var (
			r                  knowledge.AntiPatternRecord
			symptoms, approach sql.NullString
			projects           sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.PatternName, &symptoms, &approach, &projects, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan anti-pattern: %w", err)
		}
		r.Symptoms = symptoms.String
		r.BetterApproach = approach.String
		if r.ProjectsAffected, err = decodeList(projects); err != nil {
			return nil, fmt.Errorf("failed to decode projects for %s: %w", r.PatternName, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveAntiPattern upserts by PatternName. Affected projects accumulate
// across saves; the first ID and CreatedAt are kept.
func (s *SQLiteStore) SaveAntiPattern(ctx context.Context, r knowledge.AntiPatternRecord) error {
	if r.PatternName == "" || r.ID == "" {
		return fmt.Errorf("anti-pattern requires id and pattern name")
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().UnixMilli()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return knowledge.ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT projects_affected FROM anti_patterns WHERE pattern_name = ?`, r.PatternName).Scan(&existing)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to load anti-pattern %q: %w", r.PatternName, err)
	}
	prior, err := decodeList(existing)
	if err != nil {
		return fmt.Errorf("failed to decode projects for %q: %w", r.PatternName, err)
	}
	projects, err := encodeList(knowledge.MergeTags(prior, r.ProjectsAffected))
	if err != nil {
		return fmt.Errorf("failed to marshal projects: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO anti_patterns (id, pattern_name, symptoms, better_approach, projects_affected, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(pattern_name) DO UPDATE SET
			symptoms = excluded.symptoms,
			better_approach = excluded.better_approach,
			projects_affected = excluded.projects_affected`,
		r.ID, r.PatternName, r.Symptoms, r.BetterApproach, projects, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save anti-pattern %q: %w", r.PatternName, err)
	}
	return tx.Commit()
}

// GetStats computes Stats over all blocks.
func (s *SQLiteStore) GetStats(ctx context.Context) (knowledge.Stats, error) {
	fixes, err := s.GetFixes(ctx)
	if err != nil {
		return knowledge.Stats{}, err
	}
	return knowledge.ComputeStats(fixes), nil
}

// ClearDuplicates keeps the max-created_at row per (project_name, title) and per pattern_name.
func (s *SQLiteStore) ClearDuplicates(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, knowledge.ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// SQLite returns the bare id column from the row holding MAX(created_at).
	res, err := tx.ExecContext(ctx, `DELETE FROM fixes WHERE id NOT IN (
		SELECT id FROM (SELECT id, MAX(created_at) FROM fixes GROUP BY project_name, title)
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear duplicate fixes: %w", err)
	}
	fixes, _ := res.RowsAffected()

	res, err = tx.ExecContext(ctx, `DELETE FROM anti_patterns WHERE id NOT IN (
		SELECT id FROM (SELECT id, MAX(created_at) FROM anti_patterns GROUP BY pattern_name)
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear duplicate anti-patterns: %w", err)
	}
	patterns, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit dedupe: %w", err)
	}

	removed := int(fixes + patterns)
	s.logger.Info("cleared duplicates", zap.Int("removed", removed))
	return removed, nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func encodeList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	data, err := json.Marshal(list)
	return string(data), err
}

func decodeList(raw sql.NullString) ([]string, error) {
	out := []string{}
	if !raw.Valid || raw.String == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}
