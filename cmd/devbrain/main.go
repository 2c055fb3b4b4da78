// Package main implements the devbrain CLI: supervised command runs, the
// file-watch daemon, and tools for browsing and growing the knowledge base.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// configPath overrides ~/.config/devbrain/config.yaml
	configPath string
	// logLevel overrides log.level from the config file
	logLevel string
	// version information
	version = "dev"
)

// exitCodeError carries a supervised child's exit status out of cobra.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	var exitErr *exitCodeError
	switch {
	case errors.As(err, &exitErr):
		os.Exit(exitErr.code)
	case err != nil:
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "devbrain",
	Short: "Intelligent local developer memory",
	Long: `devbrain watches your projects and your terminal and remembers how problems
were solved.

It supervises commands, recalls stored fixes when a failure looks familiar,
searches the web for chronic failures, and records the fix once a command
finally succeeds. The file-watch daemon turns code edits into wisdom blocks.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/devbrain/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
}
