package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/devbrain/internal/ai"
	"github.com/fyrsmithlabs/devbrain/internal/config"
	"github.com/fyrsmithlabs/devbrain/internal/events"
	"github.com/fyrsmithlabs/devbrain/internal/logging"
	"github.com/fyrsmithlabs/devbrain/internal/redact"
	"github.com/fyrsmithlabs/devbrain/internal/search"
	"github.com/fyrsmithlabs/devbrain/internal/state"
	"github.com/fyrsmithlabs/devbrain/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app holds the collaborators shared by commands.
type app struct {
	cfg       *config.Config
	log       *logging.Logger
	logger    *zap.Logger
	store     *store.SQLiteStore
	kv        *state.FileKV
	publisher events.Publisher
}

func loadConfig() (*config.Config, error) {
	return config.LoadWithFile(configPath)
}

// openApp loads configuration and opens the knowledge store and state file.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}

	logCfg, err := logging.FromSettings(level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	logCfg.Output = cmd.ErrOrStderr()
	log, err := logging.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger := log.Underlying()

	kb, err := store.New(cfg.Store.Path, logger.Named("store"))
	if err != nil {
		return nil, err
	}
	kv, err := state.Open(cfg.State.Path)
	if err != nil {
		_ = kb.Close()
		return nil, fmt.Errorf("failed to open state file: %w", err)
	}

	a := &app{
		cfg:       cfg,
		log:       log,
		logger:    logger,
		store:     kb,
		kv:        kv,
		publisher: events.Nop{},
	}
	if cfg.Events.NATSURL != "" {
		pub, err := events.Connect(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, logger.Named("events"))
		if err != nil {
			logger.Warn("event publishing disabled", zap.String("url", cfg.Events.NATSURL), zap.Error(err))
		} else {
			a.publisher = pub
		}
	}
	return a, nil
}

// enricher returns the configured AI service, or nil when enrichment is off.
func (a *app) enricher(ctx context.Context) ai.Enricher {
	svc, err := ai.New(ctx, a.cfg.AI, a.logger.Named("ai"))
	switch {
	case errors.Is(err, ai.ErrNotConfigured):
		a.logger.Debug("ai enrichment disabled")
		return nil
	case err != nil:
		a.logger.Warn("ai enrichment unavailable", zap.Error(err))
		return nil
	}
	return svc
}

// finder returns the web-solution search, or nil when disabled.
func (a *app) finder() search.Finder {
	if !a.cfg.Search.Enabled {
		return nil
	}
	return search.NewStackOverflow(search.Config{
		BaseURL:   a.cfg.Search.BaseURL,
		UserAgent: a.cfg.Search.UserAgent,
		Timeout:   a.cfg.Search.Timeout.Duration(),
	}, a.logger.Named("search"))
}

// scrubber returns the secret scrubber. A load failure disables scrubbing
// with a warning rather than blocking the command.
func (a *app) scrubber() *redact.Scrubber {
	s, err := redact.NewScrubber()
	if err != nil {
		a.logger.Warn("secret scrubbing disabled", zap.Error(err))
		return nil
	}
	return s
}

func (a *app) Close() error {
	var errs []error
	if err := a.publisher.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, err)
	}
	_ = a.log.Sync()
	return errors.Join(errs...)
}
