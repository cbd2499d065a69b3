package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/michaelbrown/proctor/internal/backend"
	"github.com/michaelbrown/proctor/internal/config"
	"github.com/michaelbrown/proctor/internal/engine"
	"github.com/michaelbrown/proctor/internal/harness"
	"github.com/michaelbrown/proctor/internal/judge"
	"github.com/michaelbrown/proctor/internal/results"
	"github.com/michaelbrown/proctor/internal/sandbox"
	"github.com/michaelbrown/proctor/internal/storage"
	"github.com/michaelbrown/proctor/internal/storage/sqlite"
	"github.com/michaelbrown/proctor/internal/testcase"
)

func main() {
	s := server.NewMCPServer("proctor-suite-runner", "0.1.0")

	s.AddTool(mcp.Tool{
		Name:        "suite_validate",
		Description: "Validate a test suite file without running it. Reports schema and semantic findings.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path to the suite YAML or JSON file",
				},
			},
			Required: []string{"path"},
		},
	}, handleSuiteValidate)

	s.AddTool(mcp.Tool{
		Name:        "suite_run",
		Description: "Run a test suite and return the JSON summary. Results persist to the local store under the returned run_id.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path to the suite YAML or JSON file",
				},
				"filter": map[string]any{
					"type":        "string",
					"description": `Selection expression over test metadata, e.g. type == "backend" (optional)`,
				},
				"public_only": map[string]any{
					"type":        "boolean",
					"description": "Skip tests not marked public (optional)",
				},
			},
			Required: []string{"path"},
		},
	}, handleSuiteRun)

	s.AddTool(mcp.Tool{
		Name:        "run_results",
		Description: "Fetch a recorded run and its per-test results as JSON. Screenshots are omitted.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"run_id": map[string]any{
					"type":        "string",
					"description": "Run ID or unique ID prefix",
				},
			},
			Required: []string{"run_id"},
		},
	}, handleRunResults)

	if err := server.ServeStdio(s); err != nil {
		fmt.Printf("server error: %v\n", err)
	}
}

func handleSuiteValidate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	if args == nil {
		return errResult("error: invalid arguments"), nil
	}

	path, _ := args["path"].(string)
	if path == "" {
		return errResult("error: 'path' is required"), nil
	}

	suite, findings := testcase.ValidateFile(path)
	if suite == nil {
		return errResult("error: " + findingsText(findings)), nil
	}

	if len(findings) == 0 {
		return textResult(fmt.Sprintf("valid: suite %q, %d tests", suite.Name, len(suite.Tests))), nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: findingsText(findings)}},
		IsError: testcase.HasErrors(findings),
	}, nil
}

func handleSuiteRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	if args == nil {
		return errResult("error: invalid arguments"), nil
	}

	path, _ := args["path"].(string)
	filter, _ := args["filter"].(string)
	publicOnly, _ := args["public_only"].(bool)
	if path == "" {
		return errResult("error: 'path' is required"), nil
	}

	cfg, err := config.Load()
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}

	suite, findings := testcase.ValidateFile(path)
	if testcase.HasErrors(findings) {
		return errResult("error: suite failed validation\n" + findingsText(findings)), nil
	}

	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}
	defer store.Close()

	run := &storage.Run{
		ID:        uuid.New().String(),
		SuiteName: suite.Name,
		Status:    storage.StatusRunning,
		Total:     len(suite.Tests),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}

	executor := newExecutor(cfg.Backend)
	judgeSvc := newJudge(cfg.Judge)

	var browser engine.Browser
	if suite.HasType(testcase.TypeInteractive) || suite.HasType(testcase.TypeVisual) {
		h, err := harness.New(ctx, executor, harness.Options{
			ChromePath:      cfg.Browser.ChromePath,
			Headful:         false,
			Width:           cfg.Browser.Width,
			Height:          cfg.Browser.Height,
			SettleDelay:     cfg.Browser.SettleDelay(),
			RestrictNetwork: cfg.Browser.RestrictNetwork,
		})
		if err != nil {
			markFailed(store, run)
			return errResult(fmt.Sprintf("error: starting browser: %v", err)), nil
		}
		defer h.Close()
		browser = engine.HarnessBrowser(h)
	}

	eng := engine.New(engine.Options{
		Browser:     browser,
		Executor:    executor,
		Judge:       judgeSvc,
		TestTimeout: cfg.Run.TestTimeout(),
	})

	sel := engine.Selection{Filter: filter, PublicOnly: publicOnly}
	rs, err := eng.RunSelected(ctx, suite, sel)
	if err != nil {
		markFailed(store, run)
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}

	for _, res := range rs {
		if err := store.SaveResult(ctx, run.ID, res); err != nil {
			return errResult(fmt.Sprintf("error: saving result: %v", err)), nil
		}
	}

	sum := results.Summarize(rs)
	run.Status = storage.StatusCompleted
	run.AllPassed = results.AllPassed(rs)
	run.Total = sum.Total
	run.Passed = sum.Passed
	if err := store.UpdateRun(ctx, run); err != nil {
		return errResult(fmt.Sprintf("error: updating run: %v", err)), nil
	}

	out, err := json.MarshalIndent(map[string]any{
		"run_id":     run.ID,
		"suite":      run.SuiteName,
		"all_passed": run.AllPassed,
		"summary":    sum,
	}, "", "  ")
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}

	return textResult(string(out)), nil
}

func handleRunResults(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	if args == nil {
		return errResult("error: invalid arguments"), nil
	}

	runID, _ := args["run_id"].(string)
	if runID == "" {
		return errResult("error: 'run_id' is required"), nil
	}

	cfg, err := config.Load()
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}

	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}
	defer store.Close()

	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}

	rs, err := store.ListResults(ctx, run.ID)
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}

	// Screenshots are multi-hundred-KB data URLs; strip them for text output.
	for _, res := range rs {
		res.Screenshot = ""
	}

	data, err := storage.ExportJSON(run, rs)
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}

	return textResult(string(data)), nil
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

func markFailed(store storage.Store, run *storage.Run) {
	run.Status = storage.StatusFailed
	_ = store.UpdateRun(context.Background(), run)
}

func findingsText(findings []*testcase.ValidationError) string {
	var lines []string
	for _, f := range findings {
		lines = append(lines, f.Error())
	}
	return strings.Join(lines, "\n")
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
	}
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}
