package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/devbrain/internal/logging"
	"github.com/fyrsmithlabs/devbrain/internal/narrate"
	"github.com/fyrsmithlabs/devbrain/internal/supervisor"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// runKernel switches narration to the terse kernel style
	runKernel bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(shellCmd)

	runCmd.Flags().SetInterspersed(false)
	runCmd.Flags().BoolVar(&runKernel, "kernel", false, "kernel-style narration")
	shellCmd.Flags().BoolVar(&runKernel, "kernel", false, "kernel-style narration")
}

var runCmd = &cobra.Command{
	Use:   "run <cmd...>",
	Short: "Run a command with brain monitoring",
	Long: `Run a command under a pseudo-terminal and watch its output.

Output is passed through untouched. When the command fails, devbrain looks
for stored fixes matching the error; after repeated failures with nothing
known it searches the web. A success shortly after a chronic failure is
recorded as a verified fix. devbrain exits with the command's exit code.

Examples:
  devbrain run npm test
  devbrain run -- go test ./... -run TestStore`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Supervise every command typed into an interactive prompt",
	Long: `Start a prompt where each line is run as a supervised command.

Unlike separate "devbrain run" invocations, the shell remembers the last
failure, so a fix typed after a chronic failure is recorded as verified.
Type "exit" or press Ctrl-D to leave.`,
	Args: cobra.NoArgs,
	RunE: runShell,
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	sup, err := newSupervisor(cmd, a, &supervisor.PTYSpawner{
		Shell:    a.cfg.Supervisor.Shell,
		Stdin:    os.Stdin,
		SizeFrom: os.Stdin,
	})
	if err != nil {
		return err
	}

	command := strings.Join(args, " ")
	ctx := logging.WithRunID(logging.WithProject(cmd.Context(), currentProject()), uuid.NewString())
	a.log.Debug(ctx, "supervising command", zap.String("command", command))

	code, err := sup.Run(ctx, command)
	if err != nil {
		return err
	}
	if code != 0 {
		return &exitCodeError{code: code}
	}
	return nil
}

func runShell(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	sup, err := newSupervisor(cmd, a, &supervisor.PTYSpawner{
		Shell:    a.cfg.Supervisor.Shell,
		SizeFrom: os.Stdin,
	})
	if err != nil {
		return err
	}
	ctx := logging.WithProject(cmd.Context(), currentProject())
	a.log.Debug(ctx, "interactive shell started", zap.String("shell", a.cfg.Supervisor.Shell))
	return shellLoop(ctx, sup, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// commandRunner is the part of the supervisor the shell drives.
type commandRunner interface {
	Run(ctx context.Context, command string) (int, error)
}

// shellLoop reads commands until EOF, "exit" or cancellation. All lines
// share one runner so a later success can close out an earlier failure.
func shellLoop(ctx context.Context, sup commandRunner, in io.Reader, out, errOut io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "devbrain> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		code, err := sup.Run(ctx, line)
		if err != nil {
			fmt.Fprintln(errOut, "Error:", err)
		} else if code != 0 {
			fmt.Fprintf(out, "[exit %d]\n", code)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// currentProject names the project after the working directory.
func currentProject() string {
	wd, err := os.Getwd()
	if err != nil {
		return "unknown"
	}
	return filepath.Base(wd)
}

func newSupervisor(cmd *cobra.Command, a *app, spawner supervisor.Spawner) (*supervisor.Supervisor, error) {
	sc := a.cfg.Supervisor

	return supervisor.New(supervisor.Config{
		Project:           currentProject(),
		StrikeThreshold:   sc.StrikeThreshold,
		RecoveryWindow:    sc.RecoveryWindow.Duration(),
		MatchDisplayLimit: sc.MatchDisplayLimit,
		ResetStrikes:      sc.ResetStrikesOnRecovery,
	}, spawner, a.store, a.kv,
		supervisor.WithEnricher(a.enricher(cmd.Context())),
		supervisor.WithFinder(a.finder()),
		supervisor.WithScrubber(a.scrubber()),
		supervisor.WithPublisher(a.publisher),
		supervisor.WithNarrator(narrate.New(cmd.OutOrStdout(), narrate.ModeFromFlag(runKernel || sc.Kernel))),
		supervisor.WithOutput(cmd.OutOrStdout()),
		supervisor.WithLogger(a.logger.Named("supervisor")),
	)
}
