package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/proctor/internal/config"
	"github.com/michaelbrown/proctor/internal/results"
	"github.com/michaelbrown/proctor/internal/storage"
	"github.com/michaelbrown/proctor/internal/storage/sqlite"
)

var (
	statusFilter   string
	suiteFilter    string
	limitFlag      int
	exportFormat   string
	exportOutput   string
	forceFlag      bool
	overrideStatus string
	overrideReason string
)

var resultsCmd = &cobra.Command{
	Use:     "results",
	Aliases: []string{"runs"},
	Short:   "Browse and manage recorded runs",
}

var resultsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs",
	RunE:  runResultsList,
}

var resultsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run's results",
	Args:  cobra.ExactArgs(1),
	RunE:  runResultsShow,
}

var resultsExportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a run as markdown or JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runResultsExport,
}

var resultsOverrideCmd = &cobra.Command{
	Use:   "override <run-id> <test-name>",
	Short: "Replace a test's computed status with a reviewer verdict",
	Args:  cobra.ExactArgs(2),
	RunE:  runResultsOverride,
}

var resultsRevertCmd = &cobra.Command{
	Use:   "revert <run-id> <test-name>",
	Short: "Undo an override, restoring the computed status",
	Args:  cobra.ExactArgs(2),
	RunE:  runResultsRevert,
}

var resultsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a run and its results",
	Args:  cobra.ExactArgs(1),
	RunE:  runResultsDelete,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
	resultsCmd.AddCommand(resultsListCmd, resultsShowCmd, resultsExportCmd,
		resultsOverrideCmd, resultsRevertCmd, resultsDeleteCmd)

	resultsListCmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (running, completed, failed)")
	resultsListCmd.Flags().StringVar(&suiteFilter, "suite", "", "Filter by suite name")
	resultsListCmd.Flags().IntVar(&limitFlag, "limit", 20, "Max runs to show")

	resultsExportCmd.Flags().StringVar(&exportFormat, "format", "md", "Export format: md or json")
	resultsExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")

	resultsOverrideCmd.Flags().StringVar(&overrideStatus, "status", "", "New status: pass or fail")
	resultsOverrideCmd.Flags().StringVar(&overrideReason, "reason", "", "Justification (prompted when omitted)")

	resultsDeleteCmd.Flags().BoolVar(&forceFlag, "force", false, "Skip confirmation")
}

func openStore() (storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return sqlite.Open(cfg.Storage.DBPath)
}

func runResultsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	opts := storage.RunListOptions{
		Status: storage.RunStatus(statusFilter),
		Suite:  suiteFilter,
		Limit:  limitFlag,
	}

	runs, err := store.ListRuns(context.Background(), opts)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No runs found.")
		return nil
	}

	// Header
	fmt.Printf("%-10s %-11s %-30s %-8s %s\n", "ID", "STATUS", "SUITE", "PASSED", "UPDATED")
	fmt.Println(strings.Repeat("─", 72))

	for _, r := range runs {
		suite := r.SuiteName
		if len(suite) > 28 {
			suite = suite[:28] + ".."
		}
		if suite == "" {
			suite = "(unnamed)"
		}

		fmt.Printf("%-10s %-11s %-30s %-8s %s\n",
			shortRunID(r.ID), r.Status, suite,
			fmt.Sprintf("%d/%d", r.Passed, r.Total), timeAgo(r.UpdatedAt))
	}

	return nil
}

func runResultsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	run, err := store.GetRun(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Run:      %s\n", run.ID)
	fmt.Printf("Suite:    %s\n", run.SuiteName)
	fmt.Printf("Status:   %s\n", run.Status)
	fmt.Printf("Passed:   %d/%d\n", run.Passed, run.Total)
	fmt.Printf("Created:  %s\n", run.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated:  %s\n", run.UpdatedAt.Format(time.RFC3339))

	rs, err := store.ListResults(ctx, run.ID)
	if err != nil {
		return err
	}

	printResultLines(rs)
	printFailures(rs)
	return nil
}

func runResultsExport(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	run, err := store.GetRun(ctx, args[0])
	if err != nil {
		return err
	}

	rs, err := store.ListResults(ctx, run.ID)
	if err != nil {
		return err
	}

	var output string
	switch exportFormat {
	case "json":
		data, err := storage.ExportJSON(run, rs)
		if err != nil {
			return err
		}
		output = string(data)
	default:
		output = storage.ExportMarkdown(run, rs)
	}

	if exportOutput != "" {
		return os.WriteFile(exportOutput, []byte(output), 0o644)
	}

	fmt.Print(output)
	return nil
}

func runResultsOverride(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	reason := overrideReason
	if strings.TrimSpace(reason) == "" {
		fmt.Printf("Override reason (at least %d characters):\n", results.MinOverrideReason)
		rl, err := readline.New("reason> ")
		if err != nil {
			return fmt.Errorf("readline: %w", err)
		}
		defer rl.Close()
		line, err := rl.Readline()
		if err != nil {
			return err
		}
		reason = line
	}

	res, err := store.OverrideResult(context.Background(), args[0], args[1],
		results.Status(overrideStatus), reason)
	if err != nil {
		return err
	}

	fmt.Printf("Overrode %s: now %s (computed %s)\n", res.TestName, res.Status, res.OriginalStatus)
	return nil
}

func runResultsRevert(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := store.RevertResult(context.Background(), args[0], args[1])
	if err != nil {
		return err
	}

	fmt.Printf("Reverted %s: back to %s\n", res.TestName, res.Status)
	return nil
}

func runResultsDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	run, err := store.GetRun(ctx, args[0])
	if err != nil {
		return err
	}

	if !forceFlag {
		suite := run.SuiteName
		if suite == "" {
			suite = "(unnamed)"
		}
		fmt.Printf("Delete run %s - %q? [y/N] ", shortRunID(run.ID), suite)
		var confirm string
		fmt.Scanln(&confirm)
		if strings.ToLower(confirm) != "y" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := store.DeleteRun(ctx, run.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted run %s\n", shortRunID(run.ID))
	return nil
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
