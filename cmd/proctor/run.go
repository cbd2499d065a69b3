package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/proctor/internal/backend"
	"github.com/michaelbrown/proctor/internal/config"
	"github.com/michaelbrown/proctor/internal/diagnostics"
	"github.com/michaelbrown/proctor/internal/engine"
	"github.com/michaelbrown/proctor/internal/harness"
	"github.com/michaelbrown/proctor/internal/judge"
	"github.com/michaelbrown/proctor/internal/results"
	"github.com/michaelbrown/proctor/internal/sandbox"
	"github.com/michaelbrown/proctor/internal/steps"
	"github.com/michaelbrown/proctor/internal/storage"
	"github.com/michaelbrown/proctor/internal/storage/sqlite"
	"github.com/michaelbrown/proctor/internal/testcase"
)

var (
	runTests      []string
	runFilter     string
	runPublicOnly bool
	runRerunOf    string
	runJSON       bool
	runHeadful    bool
)

var runCmd = &cobra.Command{
	Use:   "run <suite.yaml>",
	Short: "Run a test suite against a submission",
	Long: `Run every test in a suite file and record the results.

Selection flags narrow the run; unselected tests are recorded as skipped.
With --rerun the selection executes against an existing run and the results
of unselected tests are kept as they were.

Examples:
  proctor run examples/tictactoe/suite.yaml
  proctor run suite.yaml --test "board renders" --test "click places X"
  proctor run suite.yaml --filter 'type == "interactive"'
  proctor run suite.yaml --public-only
  proctor run suite.yaml --rerun 3f2a9c1b --test "click places X"`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringArrayVar(&runTests, "test", nil, "Run only the named test (repeatable)")
	runCmd.Flags().StringVar(&runFilter, "filter", "", `Expression over test metadata, e.g. 'type == "backend"'`)
	runCmd.Flags().BoolVar(&runPublicOnly, "public-only", false, "Skip tests not marked public")
	runCmd.Flags().StringVar(&runRerunOf, "rerun", "", "Re-execute against an existing run ID")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Emit a machine-readable summary instead of progress output")
	runCmd.Flags().BoolVar(&runHeadful, "headful", false, "Show the browser while tests run (overrides config)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	suite, findings := testcase.ValidateFile(args[0])
	if testcase.HasErrors(findings) {
		if !runJSON {
			printFindings(findings)
		}
		return fmt.Errorf("%s: suite failed validation", args[0])
	}
	if len(findings) > 0 && !runJSON {
		printFindings(findings)
	}

	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	// Ctrl+C cancels the run; the engine records the rest as skipped.
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var run *storage.Run
	if runRerunOf != "" {
		prev, err := store.GetRun(ctx, runRerunOf)
		if err != nil {
			return err
		}
		prev.Status = storage.StatusRunning
		run = prev
		if err := store.UpdateRun(ctx, run); err != nil {
			return err
		}
	} else {
		run = &storage.Run{
			ID:        uuid.New().String(),
			SuiteName: suite.Name,
			Status:    storage.StatusRunning,
			Total:     len(suite.Tests),
		}
		if err := store.CreateRun(ctx, run); err != nil {
			return err
		}
	}

	executor := newExecutor(cfg.Backend)
	judgeSvc := newJudge(cfg.Judge)

	var browser engine.Browser
	if suite.HasType(testcase.TypeInteractive) || suite.HasType(testcase.TypeVisual) {
		h, err := harness.New(ctx, executor, harness.Options{
			ChromePath:      cfg.Browser.ChromePath,
			Headful:         runHeadful || !cfg.Browser.Headless,
			Width:           cfg.Browser.Width,
			Height:          cfg.Browser.Height,
			SettleDelay:     cfg.Browser.SettleDelay(),
			RestrictNetwork: cfg.Browser.RestrictNetwork,
		})
		if err != nil {
			failStoredRun(store, run)
			return fmt.Errorf("starting browser: %w", err)
		}
		defer h.Close()
		browser = engine.HarnessBrowser(h)
	}

	progress := &runProgress{store: store, run: run, quiet: runJSON}
	eng := engine.New(engine.Options{
		Browser:     browser,
		Executor:    executor,
		Judge:       judgeSvc,
		Reporter:    progress,
		TestTimeout: cfg.Run.TestTimeout(),
	})

	start := time.Now()
	sel := engine.Selection{Names: runTests, Filter: runFilter, PublicOnly: runPublicOnly}
	rs, err := eng.RunSelected(ctx, suite, sel)
	if err != nil {
		failStoredRun(store, run)
		return err
	}
	duration := time.Since(start)

	// Totals come from the stored results so a --rerun folds into the run
	// it amended.
	stored, err := store.ListResults(context.Background(), run.ID)
	if err != nil {
		log.WithError(err).Error("listing results for summary")
		stored = rs
	}
	sum := results.Summarize(stored)
	allPassed := results.AllPassed(stored)

	run.Status = storage.StatusCompleted
	if ctx.Err() != nil {
		run.Status = storage.StatusFailed
	}
	run.AllPassed = allPassed
	run.Total = sum.Total
	run.Passed = sum.Passed
	if err := store.UpdateRun(context.Background(), run); err != nil {
		log.WithError(err).Error("updating run")
	}

	if runJSON {
		report := runReport{
			RunID:     run.ID,
			Suite:     run.SuiteName,
			AllPassed: allPassed,
			Summary:   sum,
			Results:   stored,
		}
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		printResultLines(rs)
		printFailures(rs)
		printSummary(sum, allPassed, duration)
		color.White("Run %s | proctor review %s\n", shortRunID(run.ID), shortRunID(run.ID))
	}

	if ctx.Err() != nil {
		return errors.New("run canceled")
	}
	if bad := sum.Failed + sum.Errored; bad > 0 {
		return fmt.Errorf("%d of %d tests failed", bad, sum.Total-sum.Skipped)
	}
	if !allPassed {
		return errors.New("no tests were executed")
	}
	return nil
}

// runReport is the --json output document.
type runReport struct {
	RunID     string                `json:"run_id"`
	Suite     string                `json:"suite"`
	AllPassed bool                  `json:"all_passed"`
	Summary   results.Summary       `json:"summary"`
	Results   []*results.TestResult `json:"results"`
}

func newExecutor(cfg config.BackendConfig) backend.Executor {
	switch cfg.Mode {
	case "remote":
		return backend.NewHTTPExecutor(cfg.URL, cfg.Timeout())
	case "local":
		return backend.NewLocalExecutor(sandbox.NewDockerSandbox(sandbox.DefaultPolicy()), cfg.Image)
	default:
		return nil
	}
}

func newJudge(cfg config.JudgeConfig) judge.Judge {
	switch cfg.Mode {
	case "remote":
		return judge.NewRemoteJudge(cfg.URL, 0)
	case "openai":
		return judge.NewVisionJudge(cfg.BaseURL, cfg.APIKey, cfg.Model)
	default:
		return nil
	}
}

func failStoredRun(store storage.Store, run *storage.Run) {
	run.Status = storage.StatusFailed
	if err := store.UpdateRun(context.Background(), run); err != nil {
		log.WithError(err).Error("updating failed run")
	}
}

// runProgress persists results as they arrive and keeps the progress bar
// counts current. The engine calls it from a single goroutine.
type runProgress struct {
	store storage.Store
	run   *storage.Run
	quiet bool

	bar  *progressbar.ProgressBar
	done int
	sum  results.Summary
}

func (p *runProgress) RunStarted(total int) {
	if p.quiet {
		return
	}
	color.Cyan("\n╔════════════════════════════════════════════════════════════╗")
	color.Cyan("║                     Proctor Suite Run                      ║")
	color.Cyan("╚════════════════════════════════════════════════════════════╝\n")
	color.White("Suite: %s | Tests: %d | Run: %s\n", p.run.SuiteName, total, shortRunID(p.run.ID))
	p.bar = suiteBar(total)
}

func (p *runProgress) TestStarted(name string) {}

func (p *runProgress) Diagnostic(testName string, ev diagnostics.Event) {}

func (p *runProgress) TestFinished(res *results.TestResult) {
	p.save(res)

	p.done++
	switch res.Status {
	case results.StatusPass:
		p.sum.Passed++
	case results.StatusFail:
		p.sum.Failed++
	case results.StatusError:
		p.sum.Errored++
	case results.StatusSkip:
		p.sum.Skipped++
	}
	if p.bar != nil {
		p.bar.Set(p.done)
		p.bar.Describe(barLabel(p.sum))
	}
}

func (p *runProgress) RunFinished(all []*results.TestResult, allPassed bool) {}

func (p *runProgress) save(res *results.TestResult) {
	ctx := context.Background()
	if res.Status == results.StatusSkip {
		// A selective re-run skips the rest; never clobber a real result
		// from an earlier pass over the same run.
		if _, err := p.store.GetResult(ctx, p.run.ID, res.TestName); err == nil {
			return
		}
	}
	if err := p.store.SaveResult(ctx, p.run.ID, res); err != nil {
		log.WithError(err).Error("saving result")
	}
}

func suiteBar(count int) *progressbar.ProgressBar {
	return progressbar.NewOptions(count,
		progressbar.OptionSetDescription(barLabel(results.Summary{})),
		progressbar.OptionSetWidth(50),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        color.CyanString("█"),
			SaucerHead:    color.CyanString("█"),
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionOnCompletion(func() {
			fmt.Print("\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func barLabel(sum results.Summary) string {
	return color.CyanString("Grading: ") +
		color.GreenString("[pass: %d", sum.Passed) +
		" | " +
		color.RedString("fail: %d]", sum.Failed+sum.Errored)
}

func printResultLines(rs []*results.TestResult) {
	fmt.Println()
	for _, res := range rs {
		name := res.TestName
		if res.IsOverridden {
			name += " (overridden)"
		}
		switch res.Status {
		case results.StatusPass:
			color.Green("  ✓ PASS  %s (%dms)", name, res.DurationMs)
		case results.StatusFail:
			color.Red("  ✗ FAIL  %s (%dms)", name, res.DurationMs)
		case results.StatusError:
			color.Red("  ! ERROR %s (%dms)", name, res.DurationMs)
		default:
			color.White("  - SKIP  %s", name)
		}
	}
}

func printFailures(rs []*results.TestResult) {
	var failed []*results.TestResult
	for _, res := range rs {
		if res.Status == results.StatusFail || res.Status == results.StatusError {
			failed = append(failed, res)
		}
	}
	if len(failed) == 0 {
		return
	}

	color.Red("\n╔════════════════════════════════════════════════════════════╗")
	color.Red("║                      Failed Tests                          ║")
	color.Red("╚════════════════════════════════════════════════════════════╝\n")

	for i, res := range failed {
		color.Red("%d. %s", i+1, res.TestName)
		if res.Message != "" {
			color.Yellow("   %s", res.Message)
		}
		for _, st := range res.StepResults {
			if !st.Success {
				color.Yellow("   at step: %s", stepLabel(st))
				break
			}
		}
		for _, line := range diagnosticLines(res.Diagnostics, 5) {
			fmt.Printf("   \033[90m│ %s\033[0m\n", line)
		}
		fmt.Println()
	}
}

func stepLabel(st steps.StepResult) string {
	if st.Description != "" {
		return st.Description
	}
	if st.Action != "" {
		return st.Action
	}
	return st.Assert
}

func diagnosticLines(events []diagnostics.Event, max int) []string {
	var lines []string
	for i := range events {
		if len(lines) == max {
			lines = append(lines, fmt.Sprintf("... and %d more", len(events)-max))
			break
		}
		lines = append(lines, events[i].Summary())
	}
	return lines
}

func printSummary(sum results.Summary, allPassed bool, duration time.Duration) {
	color.Cyan("╔════════════════════════════════════════════════════════════╗")
	color.Cyan("║                      Test Summary                          ║")
	color.Cyan("╚════════════════════════════════════════════════════════════╝\n")

	if sum.Passed > 0 {
		color.Green("✓ Passed: %d", sum.Passed)
	}
	if sum.Failed > 0 {
		color.Red("✗ Failed: %d", sum.Failed)
	}
	if sum.Errored > 0 {
		color.Red("! Errors: %d", sum.Errored)
	}
	if sum.Skipped > 0 {
		color.White("- Skipped: %d", sum.Skipped)
	}

	color.White("Total: %d | Duration: %s\n", sum.Total, duration.Round(time.Millisecond))

	if allPassed {
		color.Green("✓ All tests passed!\n")
	} else if bad := sum.Failed + sum.Errored; bad > 0 {
		color.Red("✗ %d test(s) did not pass\n", bad)
	}
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
