// Package config provides configuration loading for devbrain.
//
// Values come from three layers: built-in defaults, the YAML file at
// ~/.config/devbrain/config.yaml, and DEVBRAIN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds the complete devbrain configuration.
type Config struct {
	Daemon     DaemonConfig     `koanf:"daemon"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
	Store      StoreConfig      `koanf:"store"`
	State      StateConfig      `koanf:"state"`
	AI         AIConfig         `koanf:"ai"`
	Search     SearchConfig     `koanf:"search"`
	GitHub     GitHubConfig     `koanf:"github"`
	Server     ServerConfig     `koanf:"server"`
	Events     EventsConfig     `koanf:"events"`
	Log        LogConfig        `koanf:"log"`
}

// DaemonConfig controls the file watch daemon.
type DaemonConfig struct {
	Debounce    Duration `koanf:"debounce"`
	Extensions  []string `koanf:"extensions"`
	IgnoredDirs []string `koanf:"ignored_dirs"`
	Kernel      bool     `koanf:"kernel"`
}

// SupervisorConfig controls supervised command runs.
type SupervisorConfig struct {
	Shell                  string   `koanf:"shell"`
	StrikeThreshold        int      `koanf:"strike_threshold"`
	RecoveryWindow         Duration `koanf:"recovery_window"`
	MatchDisplayLimit      int      `koanf:"match_display_limit"`
	ResetStrikesOnRecovery bool     `koanf:"reset_strikes_on_recovery"`
	Kernel                 bool     `koanf:"kernel"`
}

// StoreConfig locates the knowledge database.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// StateConfig locates the local state file (caches, strikes, projects).
type StateConfig struct {
	Path string `koanf:"path"`
}

// AIConfig selects and tunes the enrichment provider.
type AIConfig struct {
	// Provider is one of "gemini", "openai" or "none".
	Provider          string   `koanf:"provider"`
	APIKey            Secret   `koanf:"api_key"`
	Model             string   `koanf:"model"`
	BaseURL           string   `koanf:"base_url"`
	RequestsPerMinute int      `koanf:"requests_per_minute"`
	MaxRetries        int      `koanf:"max_retries"`
	Timeout           Duration `koanf:"timeout"`
}

// SearchConfig controls web solution lookups.
type SearchConfig struct {
	Enabled   bool     `koanf:"enabled"`
	BaseURL   string   `koanf:"base_url"`
	UserAgent string   `koanf:"user_agent"`
	Timeout   Duration `koanf:"timeout"`
}

// GitHubConfig configures the commit learner.
type GitHubConfig struct {
	Token       Secret `koanf:"token"`
	CommitLimit int    `koanf:"commit_limit"`
}

// ServerConfig holds REST server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// EventsConfig enables the NATS publisher when NATSURL is set.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// LogConfig is the subset of logging options exposed to users.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			Debounce:    Duration(2 * time.Second),
			Extensions:  []string{".ts", ".js", ".tsx", ".jsx", ".py", ".go"},
			IgnoredDirs: []string{"node_modules", "dist", ".git"},
		},
		Supervisor: SupervisorConfig{
			Shell:             "/bin/sh",
			StrikeThreshold:   3,
			RecoveryWindow:    Duration(5 * time.Minute),
			MatchDisplayLimit: 5,
		},
		Store: StoreConfig{Path: "~/.devbrain/brain.db"},
		State: StateConfig{Path: "~/.devbrain/state.toml"},
		AI: AIConfig{
			Provider:          "gemini",
			Model:             "gemini-2.0-flash",
			RequestsPerMinute: 30,
			MaxRetries:        3,
			Timeout:           Duration(60 * time.Second),
		},
		Search: SearchConfig{
			Enabled:   true,
			BaseURL:   "https://stackoverflow.com",
			UserAgent: "Mozilla/5.0 (compatible; devbrain)",
			Timeout:   Duration(15 * time.Second),
		},
		GitHub: GitHubConfig{CommitLimit: 10},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            3000,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Events: EventsConfig{SubjectPrefix: "devbrain"},
		Log:    LogConfig{Level: "info", Format: "console"},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Daemon.Debounce.Duration() <= 0 {
		return errors.New("daemon debounce must be positive")
	}
	if len(c.Daemon.Extensions) == 0 {
		return errors.New("daemon extensions cannot be empty")
	}
	if c.Supervisor.StrikeThreshold < 1 {
		return fmt.Errorf("invalid strike threshold: %d (must be >= 1)", c.Supervisor.StrikeThreshold)
	}
	if c.Supervisor.RecoveryWindow.Duration() <= 0 {
		return errors.New("recovery window must be positive")
	}
	if c.Supervisor.MatchDisplayLimit < 1 {
		return fmt.Errorf("invalid match display limit: %d", c.Supervisor.MatchDisplayLimit)
	}
	if c.Supervisor.Shell == "" {
		return errors.New("supervisor shell cannot be empty")
	}
	if c.Store.Path == "" || c.State.Path == "" {
		return errors.New("store and state paths are required")
	}
	switch c.AI.Provider {
	case "gemini", "openai", "none":
	default:
		return fmt.Errorf("unknown ai provider %q (want gemini, openai or none)", c.AI.Provider)
	}
	if c.AI.RequestsPerMinute < 0 || c.AI.MaxRetries < 0 {
		return errors.New("ai rate and retry settings cannot be negative")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.GitHub.CommitLimit < 1 {
		return fmt.Errorf("invalid github commit limit: %d", c.GitHub.CommitLimit)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log format must be 'json' or 'console', got %q", c.Log.Format)
	}
	return nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
