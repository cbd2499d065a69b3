package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/michaelbrown/proctor/internal/config"
	"github.com/michaelbrown/proctor/internal/results"
	"github.com/michaelbrown/proctor/internal/storage"
	"github.com/michaelbrown/proctor/internal/storage/sqlite"
)

func testServer(t *testing.T) (*Server, *httptest.Server, storage.Store) {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	cfg := &config.Config{
		Backend: config.BackendConfig{Mode: "off"},
		Judge:   config.JudgeConfig{Mode: "off"},
		Run:     config.RunConfig{TestTimeoutSeconds: 5},
	}
	s := New(cfg, store)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.runs.CloseAll()
		store.Close()
	})
	return s, ts, store
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

// waitForStatus polls until the run reaches the wanted status.
func waitForStatus(t *testing.T, store storage.Store, runID string, want storage.RunStatus) *storage.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := store.GetRun(context.Background(), runID)
		if err == nil && run.Status == want {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s never reached status %q", runID, want)
	return nil
}

func backendSuiteBody(tests ...string) map[string]any {
	cases := make([]map[string]any, 0, len(tests))
	for _, name := range tests {
		cases = append(cases, map[string]any{
			"name":     name,
			"type":     "backend",
			"endpoint": "get_data",
			"input":    map[string]any{},
			"expected": 1,
		})
	}
	return map[string]any{"name": "api-suite", "tests": cases}
}

func TestHealth(t *testing.T) {
	_, ts, _ := testServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("health = %v", body)
	}
}

func TestStartRunExecutesAndPersists(t *testing.T) {
	_, ts, store := testServer(t)

	resp := postJSON(t, ts.URL+"/api/runs", map[string]any{"suite": backendSuiteBody("fetch data")})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var run storage.Run
	decodeBody(t, resp, &run)
	if run.ID == "" || run.SuiteName != "api-suite" {
		t.Fatalf("run = %+v", run)
	}

	done := waitForStatus(t, store, run.ID, storage.StatusCompleted)
	if done.AllPassed {
		t.Error("run with no executor cannot pass")
	}

	var rs []*results.TestResult
	listResp, err := http.Get(ts.URL + "/api/runs/" + run.ID + "/results")
	if err != nil {
		t.Fatalf("GET results: %v", err)
	}
	decodeBody(t, listResp, &rs)
	if len(rs) != 1 {
		t.Fatalf("got %d results, want 1", len(rs))
	}
	if rs[0].Status != results.StatusError || rs[0].Message != "Backend server not connected" {
		t.Errorf("result = %q/%q", rs[0].Status, rs[0].Message)
	}
}

func TestStartRunValidation(t *testing.T) {
	_, ts, _ := testServer(t)

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"missing suite", map[string]any{}, http.StatusBadRequest},
		{
			"suite and path together",
			map[string]any{"suite": backendSuiteBody("t"), "suite_path": "/tmp/suite.yaml"},
			http.StatusBadRequest,
		},
		{
			"invalid suite",
			map[string]any{"suite": map[string]any{"name": "", "tests": []any{}}},
			http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/api/runs", tt.body)
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestStartRunConflict(t *testing.T) {
	s, ts, _ := testServer(t)

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	ar, err := s.runs.Begin(&storage.Run{ID: "busy"}, cancel)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer s.runs.Finish(ar)

	resp := postJSON(t, ts.URL+"/api/runs", map[string]any{"suite": backendSuiteBody("t")})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestGetRunByPrefixAndNotFound(t *testing.T) {
	_, ts, store := testServer(t)

	run := &storage.Run{ID: "abcdef12-3456-7890-abcd-ef1234567890", SuiteName: "s", Status: storage.StatusCompleted}
	if err := store.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	resp, err := http.Get(ts.URL + "/api/runs/abcdef12")
	if err != nil {
		t.Fatalf("GET run: %v", err)
	}
	var got storage.Run
	decodeBody(t, resp, &got)
	if got.ID != run.ID {
		t.Errorf("resolved ID = %q", got.ID)
	}

	missing, err := http.Get(ts.URL + "/api/runs/zzzz")
	if err != nil {
		t.Fatalf("GET missing run: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", missing.StatusCode)
	}
}

func TestOverrideAndRevertEndpoints(t *testing.T) {
	_, ts, store := testServer(t)
	ctx := context.Background()

	run := &storage.Run{ID: "run-override", SuiteName: "s", Status: storage.StatusCompleted}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	res := &results.TestResult{TestName: "board renders", Status: results.StatusFail, Message: "Step 1 failed"}
	if err := store.SaveResult(ctx, run.ID, res); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	base := ts.URL + "/api/runs/run-override/results/board renders"

	resp := postJSON(t, base+"/override", overrideRequest{Status: "pass", Reason: "manually verified correct"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("override status = %d", resp.StatusCode)
	}
	var got results.TestResult
	decodeBody(t, resp, &got)
	if !got.IsOverridden || got.Status != results.StatusPass || got.OriginalStatus != results.StatusFail {
		t.Errorf("override result = %+v", got)
	}

	resp = postJSON(t, base+"/revert", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revert status = %d", resp.StatusCode)
	}
	decodeBody(t, resp, &got)
	if got.IsOverridden || got.Status != results.StatusFail {
		t.Errorf("revert result = %+v", got)
	}
	if got.OverrideReason != "manually verified correct" {
		t.Errorf("reason lost on revert: %q", got.OverrideReason)
	}

	short := postJSON(t, base+"/override", overrideRequest{Status: "pass", Reason: "ok"})
	short.Body.Close()
	if short.StatusCode != http.StatusBadRequest {
		t.Errorf("short reason status = %d, want 400", short.StatusCode)
	}

	missing := postJSON(t, ts.URL+"/api/runs/nope/results/x/override", overrideRequest{Status: "pass", Reason: "manually verified correct"})
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("missing run status = %d, want 404", missing.StatusCode)
	}
}

func TestRerunKeepsUnselectedResults(t *testing.T) {
	_, ts, store := testServer(t)

	resp := postJSON(t, ts.URL+"/api/runs", map[string]any{"suite": backendSuiteBody("a", "b")})
	var run storage.Run
	decodeBody(t, resp, &run)
	waitForStatus(t, store, run.ID, storage.StatusCompleted)

	rerun := postJSON(t, ts.URL+"/api/runs", map[string]any{
		"suite":    backendSuiteBody("a", "b"),
		"rerun_of": run.ID,
		"tests":    []string{"a"},
	})
	if rerun.StatusCode != http.StatusCreated {
		t.Fatalf("rerun status = %d", rerun.StatusCode)
	}
	var second storage.Run
	decodeBody(t, rerun, &second)
	if second.ID != run.ID {
		t.Fatalf("rerun did not reuse the run: %q vs %q", second.ID, run.ID)
	}
	waitForStatus(t, store, run.ID, storage.StatusCompleted)

	rs, err := store.ListResults(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(rs) != 2 {
		t.Fatalf("got %d results, want 2", len(rs))
	}
	for _, r := range rs {
		// "b" was unselected in the rerun; its original result must survive
		// rather than turning into a skip.
		if r.Status != results.StatusError {
			t.Errorf("result %s = %q, want error", r.TestName, r.Status)
		}
	}
}

func TestRunSocketStreamsReplay(t *testing.T) {
	_, ts, store := testServer(t)

	resp := postJSON(t, ts.URL+"/api/runs", map[string]any{"suite": backendSuiteBody("only")})
	var run storage.Run
	decodeBody(t, resp, &run)
	waitForStatus(t, store, run.ID, storage.StatusCompleted)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/runs/" + run.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	seen := map[string]int{}
	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var ev streamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("bad event %s: %v", data, err)
		}
		seen[ev.Type]++
		if ev.Type == eventRunDone {
			if ev.Summary == nil || ev.Summary.Total != 1 || ev.Summary.Errored != 1 {
				t.Errorf("run_done summary = %+v", ev.Summary)
			}
			if ev.AllPassed {
				t.Error("all_passed should be false")
			}
		}
	}

	for _, typ := range []string{eventStatus, eventTestStarted, eventTestResult, eventRunDone} {
		if seen[typ] == 0 {
			t.Errorf("never saw %s event (saw %v)", typ, seen)
		}
	}
}

func TestExecutePassthroughUnconfigured(t *testing.T) {
	_, ts, _ := testServer(t)

	resp := postJSON(t, ts.URL+"/api/execute", map[string]any{"endpoint": "f", "args": map[string]any{}})
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}

	judge := postJSON(t, ts.URL+"/api/judge", map[string]any{"screenshot": "data:,"})
	judge.Body.Close()
	if judge.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("judge status = %d, want 503", judge.StatusCode)
	}
}

func TestListRunsFilters(t *testing.T) {
	_, ts, store := testServer(t)
	ctx := context.Background()

	for i, status := range []storage.RunStatus{storage.StatusCompleted, storage.StatusFailed, storage.StatusCompleted} {
		run := &storage.Run{ID: fmt.Sprintf("run-%d", i), SuiteName: "s", Status: status}
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	resp, err := http.Get(ts.URL + "/api/runs?status=completed")
	if err != nil {
		t.Fatalf("GET runs: %v", err)
	}
	var runs []storage.Run
	decodeBody(t, resp, &runs)
	if len(runs) != 2 {
		t.Errorf("got %d completed runs, want 2", len(runs))
	}

	resp, err = http.Get(ts.URL + "/api/runs?limit=1")
	if err != nil {
		t.Fatalf("GET runs: %v", err)
	}
	decodeBody(t, resp, &runs)
	if len(runs) != 1 {
		t.Errorf("got %d runs with limit=1", len(runs))
	}
}
