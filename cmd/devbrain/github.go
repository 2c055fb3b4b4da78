package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fyrsmithlabs/devbrain/internal/ai"
	"github.com/fyrsmithlabs/devbrain/internal/config"
	"github.com/fyrsmithlabs/devbrain/internal/github"
	"github.com/fyrsmithlabs/devbrain/internal/learn"
	"github.com/fyrsmithlabs/devbrain/internal/state"
	"github.com/spf13/cobra"
)

var (
	// githubDeep analyzes commit diffs with AI
	githubDeep bool
	// githubLimit is the number of commits read per repository
	githubLimit int
	// githubToken overrides github.token and GITHUB_TOKEN
	githubToken string
)

func init() {
	rootCmd.AddCommand(githubCmd)
	rootCmd.AddCommand(learnCmd)
	rootCmd.AddCommand(activateCmd)

	githubCmd.Flags().BoolVar(&githubDeep, "deep", false, "analyze each commit diff with AI")
	for _, c := range []*cobra.Command{githubCmd, learnCmd, activateCmd} {
		c.Flags().IntVar(&githubLimit, "limit", 0, "commits to read per repository (default from config)")
	}
	for _, c := range []*cobra.Command{githubCmd, learnCmd} {
		c.Flags().StringVar(&githubToken, "token", "", "GitHub token (default $GITHUB_TOKEN)")
	}
}

var githubCmd = &cobra.Command{
	Use:   "github <owner> <repo>",
	Short: "Learn from a repository's recent commits",
	Long: `Read the latest commits of a GitHub repository into the knowledge base.

Without --deep every commit is stored as a history block. With --deep each
commit diff is analysed by AI and only lessons worth recording are kept.

Examples:
  devbrain github acme api --limit 20
  devbrain github acme api --deep`,
	Args: cobra.ExactArgs(2),
	RunE: runGitHub,
}

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Deep-learn from every repository you can access",
	Args:  cobra.NoArgs,
	RunE:  runLearn,
}

var activateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Monitor the current project and learn from its history",
	Long: `Add the current directory to the monitored projects. When its origin
remote is on GitHub and a token is available, its recent commits are
learned as well.`,
	Args: cobra.NoArgs,
	RunE: runActivate,
}

func commitLimit(cfg *config.Config) int {
	if githubLimit > 0 {
		return githubLimit
	}
	return cfg.GitHub.CommitLimit
}

// githubSource returns a client, or a nil Source when no token is set.
func githubSource(ctx context.Context, a *app) (github.Source, error) {
	token := a.cfg.GitHub.Token
	if githubToken != "" {
		token = config.Secret(githubToken)
	}
	client, err := github.NewClient(ctx, token, a.logger.Named("github"))
	if errors.Is(err, github.ErrNoToken) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create github client: %w", err)
	}
	return client, nil
}

func newLearner(ctx context.Context, a *app, source github.Source) *learn.Learner {
	return learn.New(source, a.store,
		learn.WithEnricher(a.enricher(ctx)),
		learn.WithPublisher(a.publisher),
		learn.WithLogger(a.logger.Named("learn")),
	)
}

func runGitHub(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	source, err := githubSource(ctx, a)
	if err != nil {
		return err
	}

	report, err := newLearner(ctx, a, source).LearnRepo(ctx, args[0], args[1], learn.Options{
		Deep:  githubDeep,
		Limit: commitLimit(a.cfg),
	})
	if errors.Is(err, ai.ErrNotConfigured) {
		return errors.New("--deep needs AI enrichment; set GEMINI_API_KEY or ai.api_key")
	}
	if err != nil {
		return err
	}
	printReport(cmd.OutOrStdout(), report)
	return nil
}

func runLearn(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	source, err := githubSource(ctx, a)
	if err != nil {
		return err
	}

	reports, err := newLearner(ctx, a, source).LearnAll(ctx, commitLimit(a.cfg))
	for _, r := range reports {
		printReport(cmd.OutOrStdout(), r)
	}
	if errors.Is(err, ai.ErrNotConfigured) {
		return errors.New("learn needs AI enrichment; set GEMINI_API_KEY or ai.api_key")
	}
	return err
}

func runActivate(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	source, err := githubSource(ctx, a)
	if err != nil && !errors.Is(err, github.ErrNoToken) {
		return err
	}

	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	act, err := newLearner(ctx, a, source).Activate(ctx, state.NewProjects(a.kv), wd, commitLimit(a.cfg))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if act.Added {
		fmt.Fprintf(out, "Now monitoring %s\n", act.Path)
	} else {
		fmt.Fprintf(out, "Already monitoring %s\n", act.Path)
	}
	switch {
	case act.Report != nil:
		printReport(out, *act.Report)
	case act.Owner != "":
		fmt.Fprintf(out, "Found %s/%s on GitHub; set GITHUB_TOKEN to learn from its history.\n", act.Owner, act.Repo)
	}
	return nil
}

func printReport(w io.Writer, r learn.Report) {
	fmt.Fprintf(w, "%s: analyzed %d, saved %d, skipped %d, failed %d\n",
		r.Repo, r.Analyzed, r.Saved, r.Skipped, r.Failed)
}
