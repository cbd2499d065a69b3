package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/proctor/internal/testcase"
)

var schemaFlag bool

var validateCmd = &cobra.Command{
	Use:   "validate <suite.yaml>",
	Short: "Validate a suite file without running it",
	Long: `Check a suite file against the schema and the semantic rules:
unique test names, known step actions and assertions, required fields per
test type. Warnings do not fail validation; errors do.

Examples:
  proctor validate examples/tictactoe/suite.yaml
  proctor validate --schema > suite.schema.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&schemaFlag, "schema", false, "Print the suite JSON Schema and exit")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	if schemaFlag {
		data, err := testcase.SuiteSchema()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(args) == 0 {
		return errors.New("suite file required (or --schema)")
	}

	suite, findings := testcase.ValidateFile(args[0])
	printFindings(findings)

	if testcase.HasErrors(findings) {
		return fmt.Errorf("%s: suite is not valid", args[0])
	}

	color.Green("✓ %s: %d tests (%d public), suite is valid",
		args[0], len(suite.Tests), len(suite.PublicOnly().Tests))
	return nil
}

func printFindings(findings []*testcase.ValidationError) {
	for _, f := range findings {
		if f.Severity == "warning" {
			color.Yellow("  ! %s", f.Error())
		} else {
			color.Red("  ✗ %s", f.Error())
		}
	}
}
