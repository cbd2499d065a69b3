package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/michaelbrown/proctor/internal/assemble"
	"github.com/michaelbrown/proctor/internal/backend"
	"github.com/michaelbrown/proctor/internal/diagnostics"
	"github.com/michaelbrown/proctor/internal/harness"
	"github.com/michaelbrown/proctor/internal/judge"
	"github.com/michaelbrown/proctor/internal/results"
	"github.com/michaelbrown/proctor/internal/steps"
	"github.com/michaelbrown/proctor/internal/testcase"
)

// Browser is the isolation host the engine runs interactive and visual tests
// against. One Browser serves a whole run; each test gets its own context.
type Browser interface {
	// Port is the loopback port the bridge endpoint listens on.
	Port() int
	// NewContext loads the assembled document into a fresh disposable context.
	NewContext(ctx context.Context, doc *assemble.Document) (BrowserContext, error)
}

// BrowserContext is one live document. The engine destroys it when the test
// finishes, whatever the outcome.
type BrowserContext interface {
	Driver() steps.Driver
	WithTimeout(d time.Duration) (context.Context, context.CancelFunc)
	TakeEvents() []diagnostics.Event
	Screenshot(ctx context.Context) (string, error)
	Destroy()
}

type harnessBrowser struct {
	h *harness.Harness
}

func (b harnessBrowser) Port() int { return b.h.Port() }

func (b harnessBrowser) NewContext(ctx context.Context, doc *assemble.Document) (BrowserContext, error) {
	return b.h.NewContext(ctx, doc)
}

// HarnessBrowser adapts a harness to the Browser interface.
func HarnessBrowser(h *harness.Harness) Browser { return harnessBrowser{h} }

const defaultTestTimeout = 30 * time.Second

// Options wires the engine's collaborators. Browser, Executor, and Judge may
// each be nil; tests that need a missing collaborator produce error results
// instead of aborting the run.
type Options struct {
	Browser     Browser
	Executor    backend.Executor
	Judge       judge.Judge
	Reporter    Reporter
	TestTimeout time.Duration
}

// Engine executes the test cases of one suite strictly sequentially, one
// live context at a time, and never lets a failure in one test abort the
// rest of the run.
type Engine struct {
	browser  Browser
	executor backend.Executor
	judge    judge.Judge
	reporter Reporter
	timeout  time.Duration
}

// New builds an engine from its collaborators.
func New(opts Options) *Engine {
	e := &Engine{
		browser:  opts.Browser,
		executor: opts.Executor,
		judge:    opts.Judge,
		reporter: opts.Reporter,
		timeout:  opts.TestTimeout,
	}
	if e.reporter == nil {
		e.reporter = NopReporter{}
	}
	if e.timeout <= 0 {
		e.timeout = defaultTestTimeout
	}
	return e
}

// RunSelected executes the selected tests of the suite in definition order
// and returns one result per test case, skips included. The only error it
// returns is an invalid selection; everything that goes wrong during a test
// is recorded in that test's result.
func (e *Engine) RunSelected(ctx context.Context, suite *testcase.Suite, sel Selection) ([]*results.TestResult, error) {
	selected, err := sel.apply(suite.Tests)
	if err != nil {
		return nil, err
	}

	e.reporter.RunStarted(len(suite.Tests))
	out := make([]*results.TestResult, 0, len(suite.Tests))
	for i := range suite.Tests {
		tc := &suite.Tests[i]
		var res *results.TestResult
		switch {
		case ctx.Err() != nil:
			res = skipResult(tc.Name, "Run canceled")
		case !selected[i]:
			res = skipResult(tc.Name, "Test not selected for this run")
		default:
			e.reporter.TestStarted(tc.Name)
			res = e.runOne(ctx, suite, tc)
		}
		out = append(out, res)
		e.reporter.TestFinished(res)
	}
	e.reporter.RunFinished(out, results.AllPassed(out))
	return out, nil
}

// runOne dispatches a single test by type. Panics in any collaborator are
// recovered here so one broken test cannot take down the run.
func (e *Engine) runOne(ctx context.Context, suite *testcase.Suite, tc *testcase.TestCase) (res *results.TestResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{"test": tc.Name, "panic": r}).Error("test run panicked")
			res = errResult(tc.Name, fmt.Sprintf("internal error: %v", r))
		}
		if res != nil {
			res.DurationMs = time.Since(start).Milliseconds()
		}
	}()

	switch tc.Type {
	case testcase.TypeInteractive:
		res = e.runInteractive(ctx, suite, tc)
	case testcase.TypeVisual:
		res = e.runVisual(ctx, suite, tc)
	case testcase.TypeBackend:
		res = e.runBackend(ctx, suite, tc)
	default:
		res = errResult(tc.Name, fmt.Sprintf("unknown test type %q", tc.Type))
	}
	return res
}

// newContext assembles the document for one test and loads it. A non-nil
// result reports why the context could not be created.
func (e *Engine) newContext(ctx context.Context, suite *testcase.Suite, tc *testcase.TestCase) (BrowserContext, *results.TestResult) {
	if e.browser == nil {
		return nil, errResult(tc.Name, "no browser configured")
	}
	port := 0
	if e.executor != nil {
		port = e.browser.Port()
	}
	doc, err := assemble.Assemble(assemble.Input{
		HTML:        suite.HTML,
		CSS:         suite.CSS,
		JS:          suite.JS,
		BackendPort: port,
		BackendCode: suite.BackendCode,
		Setup:       tc.Setup,
	})
	if err != nil {
		return nil, errResult(tc.Name, fmt.Sprintf("assembling document: %v", err))
	}
	cctx, err := e.browser.NewContext(ctx, doc)
	if err != nil {
		return nil, errResult(tc.Name, fmt.Sprintf("creating execution context: %v", err))
	}
	return cctx, nil
}

func (e *Engine) runInteractive(ctx context.Context, suite *testcase.Suite, tc *testcase.TestCase) *results.TestResult {
	cctx, res := e.newContext(ctx, suite, tc)
	if res != nil {
		return res
	}
	defer cctx.Destroy()

	runCtx, cancel := cctx.WithTimeout(e.timeout)
	defer cancel()

	outcome := steps.Run(runCtx, cctx.Driver(), tc.Steps)
	res = &results.TestResult{
		TestName:    tc.Name,
		Message:     outcome.Message,
		StepResults: outcome.StepResults,
		Diagnostics: e.drain(cctx, tc.Name),
	}
	if outcome.Success() {
		res.Status = results.StatusPass
	} else {
		res.Status = results.StatusFail
	}
	return res
}

func (e *Engine) runVisual(ctx context.Context, suite *testcase.Suite, tc *testcase.TestCase) *results.TestResult {
	if e.judge == nil {
		return errResult(tc.Name, "Judge service not configured")
	}
	cctx, res := e.newContext(ctx, suite, tc)
	if res != nil {
		return res
	}
	defer cctx.Destroy()

	runCtx, cancel := cctx.WithTimeout(e.timeout)
	defer cancel()

	shot, err := cctx.Screenshot(runCtx)
	if err != nil {
		return errResult(tc.Name, fmt.Sprintf("capturing screenshot: %v", err))
	}
	verdict, err := e.judge.Judge(runCtx, judge.Request{
		Screenshot:  shot,
		TestName:    tc.Name,
		Description: tc.Description,
		HTMLCode:    suite.HTML,
	})
	if err != nil {
		return errResult(tc.Name, fmt.Sprintf("Judge service not available: %v", err))
	}

	res = &results.TestResult{
		TestName:    tc.Name,
		Message:     verdict.Explanation,
		Screenshot:  shot,
		Diagnostics: e.drain(cctx, tc.Name),
	}
	if verdict.Passed() {
		res.Status = results.StatusPass
	} else {
		res.Status = results.StatusFail
	}
	return res
}

func (e *Engine) runBackend(ctx context.Context, suite *testcase.Suite, tc *testcase.TestCase) *results.TestResult {
	if e.executor == nil {
		return errResult(tc.Name, "Backend server not connected")
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.executor.Execute(callCtx, backend.ExecuteRequest{
		Endpoint:   tc.Endpoint,
		Args:       tc.Input,
		PythonCode: suite.BackendCode,
	})
	if err != nil {
		return errResult(tc.Name, fmt.Sprintf("Backend server not available: %v", err))
	}
	if resp.Error != "" {
		return errResult(tc.Name, resp.Error)
	}

	// Both sides go through a JSON round trip so that 3 and 3.0, or a
	// map[string]any and the decoded form of the same object, compare equal.
	expected, err := normalizeJSON(tc.Expected)
	if err != nil {
		return errResult(tc.Name, fmt.Sprintf("encoding expected value: %v", err))
	}
	actual, err := normalizeJSON(resp.Result)
	if err != nil {
		return errResult(tc.Name, fmt.Sprintf("encoding result value: %v", err))
	}

	res := &results.TestResult{TestName: tc.Name}
	if reflect.DeepEqual(expected, actual) {
		res.Status = results.StatusPass
		res.Message = "Test passed successfully"
	} else {
		res.Status = results.StatusFail
		res.Message = fmt.Sprintf("Expected %s but got %s", renderJSON(expected), renderJSON(actual))
	}
	return res
}

// drain moves buffered diagnostics out of the context and forwards each one
// to the reporter.
func (e *Engine) drain(cctx BrowserContext, testName string) []diagnostics.Event {
	events := cctx.TakeEvents()
	for _, ev := range events {
		e.reporter.Diagnostic(testName, ev)
	}
	return events
}

func skipResult(name, msg string) *results.TestResult {
	return &results.TestResult{TestName: name, Status: results.StatusSkip, Message: msg}
}

func errResult(name, msg string) *results.TestResult {
	return &results.TestResult{TestName: name, Status: results.StatusError, Message: msg}
}

// normalizeJSON round-trips a value through encoding/json so comparisons see
// only the generic decoded forms.
func normalizeJSON(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func renderJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
