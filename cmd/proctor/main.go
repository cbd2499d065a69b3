package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var verboseFlag bool

var rootCmd = &cobra.Command{
	Use:   "proctor",
	Short: "Proctor - Automated grader for student web exercises",
	Long: `Proctor grades student-submitted web exercises (HTML/CSS/JS with an
optional Python backend) in a headless browser.

It assembles a submission into a single instrumented document, drives it
with scripted interactions, captures screenshots for visual judging, and
executes backend endpoints in a sandbox. Results are stored locally for
review, override, and export.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verboseFlag {
			log.SetLevel(log.DebugLevel)
		}
	},
}

func init() {
	// Secrets like OPENAI_API_KEY may live in a local .env file.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
