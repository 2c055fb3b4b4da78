package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/devbrain/internal/daemon"
	"github.com/fyrsmithlabs/devbrain/internal/narrate"
	"github.com/fyrsmithlabs/devbrain/internal/state"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// daemonPaths are explicit roots; empty means the monitored project list
	daemonPaths []string
	// daemonKernel switches narration to the terse kernel style
	daemonKernel bool
)

func init() {
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.AddCommand(monitorAddCmd)
	monitorCmd.AddCommand(monitorRemoveCmd)
	monitorCmd.AddCommand(monitorListCmd)

	daemonCmd.Flags().StringArrayVarP(&daemonPaths, "path", "p", nil, "directory to watch (repeatable; default: monitored projects)")
	daemonCmd.Flags().BoolVar(&daemonKernel, "kernel", false, "kernel-style narration")
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start background monitoring daemon",
	Long: `Watch project directories and learn from code as it is saved.

Each saved code file is analysed once it has been quiet for the debounce
interval. New findings are stored as wisdom blocks, optionally enriched by AI,
and catalogued anti-patterns are recorded once per file.

Without --path the daemon watches the projects registered with
"devbrain monitor add".

Examples:
  devbrain daemon
  devbrain daemon --path ./api --path ./web --kernel`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Manage the list of monitored projects",
}

var monitorAddCmd = &cobra.Command{
	Use:   "add [path]",
	Short: "Add a project directory (default: current directory)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMonitorAdd,
}

var monitorRemoveCmd = &cobra.Command{
	Use:   "remove [path]",
	Short: "Remove a project directory (default: current directory)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMonitorRemove,
}

var monitorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List monitored project directories",
	Args:  cobra.NoArgs,
	RunE:  runMonitorList,
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	roots, err := daemonRoots(daemonPaths, state.NewProjects(a.kv))
	if err != nil {
		return err
	}

	dc := a.cfg.Daemon
	d, err := daemon.New(daemon.Config{
		Roots:       roots,
		Debounce:    dc.Debounce.Duration(),
		Extensions:  dc.Extensions,
		IgnoredDirs: dc.IgnoredDirs,
	}, a.store, a.kv,
		daemon.WithEnricher(a.enricher(cmd.Context())),
		daemon.WithPublisher(a.publisher),
		daemon.WithNarrator(narrate.New(cmd.OutOrStdout(), narrate.ModeFromFlag(daemonKernel || dc.Kernel))),
		daemon.WithLogger(a.logger.Named("daemon")),
	)
	if err != nil {
		return err
	}
	a.log.Info(cmd.Context(), "daemon configured", zap.Strings("roots", roots), zap.Duration("debounce", dc.Debounce.Duration()))
	return d.Run(cmd.Context())
}

// daemonRoots prefers explicit paths and falls back to the project list.
func daemonRoots(paths []string, projects *state.Projects) ([]string, error) {
	if len(paths) > 0 {
		return paths, nil
	}
	roots, err := projects.List()
	if err != nil {
		return nil, fmt.Errorf("failed to read monitored projects: %w", err)
	}
	if len(roots) == 0 {
		return nil, errors.New(`no projects are monitored; run "devbrain monitor add" or pass --path`)
	}
	return roots, nil
}

func projectArg(args []string) (string, error) {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	return abs, nil
}

func runMonitorAdd(cmd *cobra.Command, args []string) error {
	dir, err := projectArg(args)
	if err != nil {
		return err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	projects, err := openProjects()
	if err != nil {
		return err
	}
	added, err := projects.Add(dir)
	if err != nil {
		return err
	}
	if added {
		fmt.Fprintf(cmd.OutOrStdout(), "Now monitoring %s\n", dir)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Already monitoring %s\n", dir)
	}
	return nil
}

func runMonitorRemove(cmd *cobra.Command, args []string) error {
	dir, err := projectArg(args)
	if err != nil {
		return err
	}
	projects, err := openProjects()
	if err != nil {
		return err
	}
	removed, err := projects.Remove(dir)
	if err != nil {
		return err
	}
	if removed {
		fmt.Fprintf(cmd.OutOrStdout(), "Stopped monitoring %s\n", dir)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s was not monitored\n", dir)
	}
	return nil
}

func runMonitorList(cmd *cobra.Command, _ []string) error {
	projects, err := openProjects()
	if err != nil {
		return err
	}
	list, err := projects.List()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No projects are monitored.")
		return nil
	}
	for _, p := range list {
		fmt.Fprintln(cmd.OutOrStdout(), p)
	}
	return nil
}

// openProjects opens only the state file; monitor commands need nothing else.
func openProjects() (*state.Projects, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	kv, err := state.Open(cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state file: %w", err)
	}
	return state.NewProjects(kv), nil
}
