package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fyrsmithlabs/devbrain/internal/analysis"
	"github.com/fyrsmithlabs/devbrain/internal/knowledge"
	"github.com/spf13/cobra"
)

var (
	// analyzeJSON prints the raw analysis result
	analyzeJSON bool
)

var (
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

func init() {
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(dedupeCmd)
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the analysis as JSON")
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search your knowledge base",
	Long: `Find wisdom blocks whose title or tags contain the query.

Examples:
  devbrain search "cannot find module"
  devbrain search verified`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "View your brain metrics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Remove duplicate wisdom blocks and anti-patterns",
	Long: `Keep only the newest block per project and title, and the newest record
per anti-pattern name.`,
	Args: cobra.NoArgs,
	RunE: runDedupe,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Print the heuristic analysis of one file",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	fixes, err := a.store.GetFixes(cmd.Context())
	if err != nil {
		return err
	}
	printSearchResults(cmd.OutOrStdout(), knowledge.Search(fixes, strings.Join(args, " ")))
	return nil
}

func printSearchResults(w io.Writer, results []knowledge.WisdomBlock) {
	if len(results) == 0 {
		fmt.Fprintln(w, warnStyle.Render("No matching wisdom found."))
		return
	}
	for _, b := range results {
		title, _, _ := strings.Cut(b.Title, "\n")
		fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("\n[%s] %s", b.ProjectName, title)))
		if b.MentalModel != "" {
			fmt.Fprintln(w, dimStyle.Render("Model: "+b.MentalModel))
		}
		if len(b.Tags) > 0 {
			fmt.Fprintln(w, dimStyle.Render("Tags: "+strings.Join(b.Tags, ", ")))
		}
	}
}

func runStats(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.store.GetStats(cmd.Context())
	if err != nil {
		return err
	}
	printStats(cmd.OutOrStdout(), stats)
	return nil
}

func printStats(w io.Writer, stats knowledge.Stats) {
	fmt.Fprintln(w, lipgloss.NewStyle().Bold(true).Render("\nSYSTEM_TELEMETRY:"))
	fmt.Fprintf(w, "Blocks Indexed: %d\n", stats.TotalFixes)
	fmt.Fprintf(w, "Time Recovered: %sh\n", stats.TimeSavedHours)
	fmt.Fprintf(w, "Recall Precision: %d%%\n", stats.AccuracyRate)
	if len(stats.TopTags) > 0 {
		fmt.Fprintf(w, "Top Tags: %s\n", strings.Join(stats.TopTags, ", "))
	}
}

func runDedupe(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	removed, err := a.store.ClearDuplicates(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d duplicate(s).\n", removed)
	return nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	content, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	result := analysis.Analyze(args[0], string(content))
	antiPatterns := analysis.DetectAntiPatterns(string(content))

	w := cmd.OutOrStdout()
	if analyzeJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			analysis.Result
			Signature    string                 `json:"signature"`
			AntiPatterns []analysis.AntiPattern `json:"antiPatterns"`
		}{result, analysis.Signature(result), antiPatterns})
	}

	fmt.Fprintln(w, titleStyle.Render(result.Insights))
	fmt.Fprintf(w, "Complexity: %s\n", result.Complexity)
	fmt.Fprintf(w, "Patterns: %s\n", orNone(result.Patterns))
	fmt.Fprintf(w, "Issues: %s\n", orNone(result.PotentialIssues))
	for _, ap := range antiPatterns {
		fmt.Fprintln(w, warnStyle.Render("Anti-pattern: "+ap.Name))
		fmt.Fprintln(w, dimStyle.Render("  "+ap.BetterApproach))
	}
	return nil
}

func orNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
