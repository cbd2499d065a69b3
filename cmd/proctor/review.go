package main

import (
	"github.com/spf13/cobra"

	"github.com/michaelbrown/proctor/internal/review"
)

var reviewCmd = &cobra.Command{
	Use:   "review <run-id>",
	Short: "Review a run's results in an interactive terminal UI",
	Long: `Open a two-pane browser over a run's results. The left pane lists
tests by status; the right pane shows the message, step trail, and console
output of the selected test.

Keys: o override, r revert, Enter details, q quit.`,
	Args: cobra.ExactArgs(1),
	RunE: runReview,
}

func init() {
	rootCmd.AddCommand(reviewCmd)
}

func runReview(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	return review.Show(store, args[0])
}
