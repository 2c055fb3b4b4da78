// Package daemon watches project directories and turns settled file edits
// into wisdom blocks and anti-pattern records.
//
// All per-path state is owned by a single dispatch goroutine. Watcher events
// and debounce timer firings both arrive as messages on channels; a timer
// callback never touches daemon state directly.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/fyrsmithlabs/devbrain/internal/ai"
	"github.com/fyrsmithlabs/devbrain/internal/clock"
	"github.com/fyrsmithlabs/devbrain/internal/events"
	"github.com/fyrsmithlabs/devbrain/internal/knowledge"
	"github.com/fyrsmithlabs/devbrain/internal/narrate"
	"github.com/fyrsmithlabs/devbrain/internal/state"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/devbrain/internal/daemon"

// ErrNoRoots is returned by Run when there is nothing to watch.
var ErrNoRoots = errors.New("no directories to watch")

// Store is the subset of knowledge.Store the daemon writes to.
type Store interface {
	SaveFix(ctx context.Context, block knowledge.WisdomBlock) error
	SaveAntiPattern(ctx context.Context, record knowledge.AntiPatternRecord) error
}

// Config controls what is watched and how long edits must settle.
type Config struct {
	Roots       []string
	Debounce    time.Duration
	Extensions  []string
	IgnoredDirs []string
}

// Outcome is the result of one debounced analysis.
type Outcome string

const (
	OutcomePersisted Outcome = "persisted"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeNothing   Outcome = "nothing"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

type fire struct {
	path string
	gen  uint64
}

type pendingTimer struct {
	gen   uint64
	timer clock.Timer
}

// Daemon is the file-watch daemon.
type Daemon struct {
	cfg       Config
	store     Store
	enricher  ai.Enricher
	sigs      *state.SignatureCache
	seen      *state.SeenSet
	clock     clock.Clock
	publisher events.Publisher
	narrator  *narrate.Narrator
	logger    *zap.Logger

	// owned by the dispatch goroutine
	pending map[string]*pendingTimer
	hashes  map[string]string
	gen     uint64

	fired    chan fire
	done     chan struct{}
	stopOnce sync.Once

	// onProcessed is called after every analysis; tests use it to synchronise.
	onProcessed func(path string, outcome Outcome)
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithEnricher enables AI enrichment of changed files.
func WithEnricher(e ai.Enricher) Option { return func(d *Daemon) { d.enricher = e } }

// WithClock overrides the time source used for debouncing.
func WithClock(c clock.Clock) Option { return func(d *Daemon) { d.clock = c } }

// WithPublisher announces saved records.
func WithPublisher(p events.Publisher) Option { return func(d *Daemon) { d.publisher = p } }

// WithNarrator prints console narration.
func WithNarrator(n *narrate.Narrator) Option { return func(d *Daemon) { d.narrator = n } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(d *Daemon) { d.logger = l } }

// New creates a daemon. kv backs the signature cache and the anti-pattern
// seen set so both survive restarts.
func New(cfg Config, store Store, kv state.KV, opts ...Option) (*Daemon, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if kv == nil {
		return nil, errors.New("state is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{".ts", ".js", ".tsx", ".jsx", ".py", ".go"}
	}
	if len(cfg.IgnoredDirs) == 0 {
		cfg.IgnoredDirs = []string{"node_modules", "dist", ".git"}
	}

	roots := make([]string, 0, len(cfg.Roots))
	for _, r := range cfg.Roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", r, err)
		}
		roots = append(roots, filepath.Clean(abs))
	}
	cfg.Roots = roots

	d := &Daemon{
		cfg:       cfg,
		store:     store,
		sigs:      state.NewSignatureCache(kv),
		seen:      state.NewSeenSet(kv),
		clock:     clock.Real(),
		publisher: events.Nop{},
		logger:    zap.NewNop(),
		pending:   make(map[string]*pendingTimer),
		hashes:    make(map[string]string),
		fired:     make(chan fire, 64),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Run watches the configured roots until ctx is cancelled. On return every
// pending debounce timer is stopped and the watcher is closed.
func (d *Daemon) Run(ctx context.Context) error {
	if len(d.cfg.Roots) == 0 {
		return ErrNoRoots
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to initialize filesystem watcher: %w", err)
	}
	defer watcher.Close()

	for _, root := range d.cfg.Roots {
		if err := d.addTree(watcher, root); err != nil {
			return err
		}
	}

	d.narrator.DaemonStarting(d.cfg.Roots, d.enricher != nil)
	d.logger.Info("daemon started",
		zap.Strings("roots", d.cfg.Roots),
		zap.Duration("debounce", d.cfg.Debounce),
		zap.Bool("ai", d.enricher != nil),
	)

	err = d.loop(ctx, watcher, watcher.Events, watcher.Errors)
	d.narrator.DaemonStopping()
	d.logger.Info("daemon stopped")
	return err
}

// loop is the dispatch goroutine. It returns nil on context cancellation.
func (d *Daemon) loop(ctx context.Context, w *fsnotify.Watcher, evs <-chan fsnotify.Event, errs <-chan error) error {
	defer d.shutdown()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-evs:
			if !ok {
				return nil
			}
			if w != nil && ev.Has(fsnotify.Create) {
				d.maybeWatchDir(w, ev.Name)
			}
			d.handleEvent(ev)
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			d.logger.Warn("watcher error", zap.Error(err))
		case f := <-d.fired:
			d.handleFire(ctx, f)
		}
	}
}

// shutdown stops every pending timer. A callback already running drops its
// message because done is closed first.
func (d *Daemon) shutdown() {
	d.stopOnce.Do(func() {
		close(d.done)
		for path, p := range d.pending {
			p.timer.Stop()
			delete(d.pending, path)
		}
	})
}

// handleEvent (re)starts the debounce timer for a code file.
func (d *Daemon) handleEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}
	path := filepath.Clean(ev.Name)
	if !d.isCodeFile(path) {
		return
	}
	select {
	case <-d.done:
		return
	default:
	}

	if p, ok := d.pending[path]; ok {
		p.timer.Stop()
	}
	d.gen++
	f := fire{path: path, gen: d.gen}
	d.pending[path] = &pendingTimer{
		gen: f.gen,
		timer: d.clock.AfterFunc(d.cfg.Debounce, func() {
			select {
			case <-d.done:
			case d.fired <- f:
			}
		}),
	}
}

// handleFire runs the analysis if f is the latest timer for its path.
func (d *Daemon) handleFire(ctx context.Context, f fire) {
	p, ok := d.pending[f.path]
	if !ok || p.gen != f.gen {
		return
	}
	delete(d.pending, f.path)

	outcome := d.process(ctx, f.path)
	if d.onProcessed != nil {
		d.onProcessed(f.path, outcome)
	}
}

func (d *Daemon) addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return fmt.Errorf("failed to watch %s: %w", root, err)
			}
			d.logger.Debug("skipping unreadable path", zap.String("path", path), zap.Error(err))
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		if path != root && d.ignoredName(entry.Name()) {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			if path == root {
				return fmt.Errorf("failed to watch %s: %w", root, err)
			}
			d.logger.Warn("failed to watch directory", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
}

func (d *Daemon) maybeWatchDir(w *fsnotify.Watcher, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if _, ok := d.rootOf(path); !ok || d.inIgnoredDir(path) {
		return
	}
	if err := d.addTree(w, path); err != nil {
		d.logger.Warn("failed to watch new directory", zap.String("path", path), zap.Error(err))
	}
}

func (d *Daemon) ignoredName(name string) bool {
	return strings.HasPrefix(name, ".") || slices.Contains(d.cfg.IgnoredDirs, name)
}

// rootOf returns the most specific watched root containing path.
func (d *Daemon) rootOf(path string) (string, bool) {
	best := ""
	for _, r := range d.cfg.Roots {
		if path == r || strings.HasPrefix(path, r+string(filepath.Separator)) {
			if len(r) > len(best) {
				best = r
			}
		}
	}
	return best, best != ""
}

func (d *Daemon) inIgnoredDir(path string) bool {
	root, ok := d.rootOf(path)
	if !ok {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return true
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part != "." && d.ignoredName(part) {
			return true
		}
	}
	return false
}

// isCodeFile reports whether path has a watched extension and lies outside
// dotfiles and ignored directories.
func (d *Daemon) isCodeFile(path string) bool {
	if !slices.Contains(d.cfg.Extensions, filepath.Ext(path)) {
		return false
	}
	return !d.inIgnoredDir(path)
}

func (d *Daemon) projectName(path string) string {
	if root, ok := d.rootOf(path); ok {
		return filepath.Base(root)
	}
	return "unknown"
}
