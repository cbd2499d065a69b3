package sqlite

import (
	"context"
	"strings"
	"testing"

	"github.com/michaelbrown/proctor/internal/results"
	"github.com/michaelbrown/proctor/internal/steps"
	"github.com/michaelbrown/proctor/internal/storage"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening memory db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetRun(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	run := &storage.Run{
		ID:        "abc12345-0000-0000-0000-000000000000",
		SuiteName: "counter",
		Status:    storage.StatusRunning,
		Total:     3,
	}

	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}

	if got.SuiteName != "counter" {
		t.Errorf("suite = %q, want %q", got.SuiteName, "counter")
	}
	if got.Status != storage.StatusRunning {
		t.Errorf("status = %q, want %q", got.Status, storage.StatusRunning)
	}
	if got.Total != 3 {
		t.Errorf("total = %d, want 3", got.Total)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at should not be zero")
	}
}

func TestGetRunByPrefix(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, id := range []string{
		"aaaa1111-0000-0000-0000-000000000000",
		"aaab2222-0000-0000-0000-000000000000",
		"bbbb3333-0000-0000-0000-000000000000",
	} {
		if err := s.CreateRun(ctx, &storage.Run{ID: id, SuiteName: "s"}); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	got, err := s.GetRun(ctx, "bbbb")
	if err != nil {
		t.Fatalf("unique prefix: %v", err)
	}
	if got.ID != "bbbb3333-0000-0000-0000-000000000000" {
		t.Errorf("got %s", got.ID)
	}

	if _, err := s.GetRun(ctx, "aaa"); err == nil || !strings.Contains(err.Error(), "ambiguous") {
		t.Errorf("ambiguous prefix: err = %v", err)
	}

	if _, err := s.GetRun(ctx, "zzzz"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("missing run: err = %v", err)
	}
}

func TestUpdateRun(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	run := &storage.Run{ID: "run-1", SuiteName: "tictactoe", Total: 5}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	run.Status = storage.StatusCompleted
	run.AllPassed = true
	run.Passed = 5
	if err := s.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != storage.StatusCompleted || !got.AllPassed || got.Passed != 5 {
		t.Errorf("got %+v", got)
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Error("updated_at should advance past created_at")
	}
}

func TestListRuns(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, r := range []storage.Run{
		{ID: "run-a", SuiteName: "counter", Status: storage.StatusCompleted},
		{ID: "run-b", SuiteName: "tictactoe", Status: storage.StatusCompleted},
		{ID: "run-c", SuiteName: "counter", Status: storage.StatusRunning},
	} {
		r := r
		if err := s.CreateRun(ctx, &r); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	all, err := s.ListRuns(ctx, storage.RunListOptions{})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	// Most recently updated first
	if all[0].ID != "run-c" {
		t.Errorf("first = %s, want run-c", all[0].ID)
	}

	completed, err := s.ListRuns(ctx, storage.RunListOptions{Status: storage.StatusCompleted})
	if err != nil {
		t.Fatalf("ListRuns(status): %v", err)
	}
	if len(completed) != 2 {
		t.Errorf("completed = %d, want 2", len(completed))
	}

	counters, err := s.ListRuns(ctx, storage.RunListOptions{Suite: "counter", Status: storage.StatusRunning})
	if err != nil {
		t.Fatalf("ListRuns(suite+status): %v", err)
	}
	if len(counters) != 1 || counters[0].ID != "run-c" {
		t.Errorf("counters = %+v", counters)
	}

	limited, err := s.ListRuns(ctx, storage.RunListOptions{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListRuns(limit): %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limited = %d, want 1", len(limited))
	}
}

func TestSaveAndListResults(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateRun(ctx, &storage.Run{ID: "run-1", SuiteName: "counter"}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	first := &results.TestResult{
		TestName: "increments",
		Status:   results.StatusFail,
		Message:  "Step 2 failed",
		StepResults: []steps.StepResult{
			{Success: true, Action: "click"},
			{Success: false, Assert: "elementText", Error: `element "#count": expected text "1" but got "0"`},
		},
	}
	second := &results.TestResult{TestName: "renders", Status: results.StatusPass}

	if err := s.SaveResult(ctx, "run-1", first); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	if err := s.SaveResult(ctx, "run-1", second); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	// Re-running a test upserts in place without changing order.
	first.Status = results.StatusPass
	first.Message = "All steps passed"
	if err := s.SaveResult(ctx, "run-1", first); err != nil {
		t.Fatalf("SaveResult upsert: %v", err)
	}

	rs, err := s.ListResults(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(rs) != 2 {
		t.Fatalf("len = %d, want 2", len(rs))
	}
	if rs[0].TestName != "increments" || rs[1].TestName != "renders" {
		t.Errorf("order = %s, %s", rs[0].TestName, rs[1].TestName)
	}
	if rs[0].Status != results.StatusPass || rs[0].Message != "All steps passed" {
		t.Errorf("upsert not applied: %+v", rs[0])
	}
	if len(rs[0].StepResults) != 2 {
		t.Errorf("step results lost: %+v", rs[0].StepResults)
	}
}

func TestGetResultMissing(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateRun(ctx, &storage.Run{ID: "run-1"}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if _, err := s.GetResult(ctx, "run-1", "nope"); err == nil || !strings.Contains(err.Error(), "no result") {
		t.Errorf("err = %v", err)
	}
}

func TestOverrideAndRevertResult(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateRun(ctx, &storage.Run{ID: "run-1"}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	res := &results.TestResult{TestName: "board renders", Status: results.StatusFail}
	if err := s.SaveResult(ctx, "run-1", res); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	over, err := s.OverrideResult(ctx, "run-1", "board renders", results.StatusPass, "manually verified correct")
	if err != nil {
		t.Fatalf("OverrideResult: %v", err)
	}
	if over.Status != results.StatusPass || !over.IsOverridden || over.OriginalStatus != results.StatusFail {
		t.Errorf("override = %+v", over)
	}

	// The override must survive a reload.
	got, err := s.GetResult(ctx, "run-1", "board renders")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if !got.IsOverridden || got.OverrideReason != "manually verified correct" {
		t.Errorf("persisted = %+v", got)
	}

	rev, err := s.RevertResult(ctx, "run-1", "board renders")
	if err != nil {
		t.Fatalf("RevertResult: %v", err)
	}
	if rev.Status != results.StatusFail || rev.IsOverridden {
		t.Errorf("revert = %+v", rev)
	}
	if rev.OverrideReason != "manually verified correct" {
		t.Errorf("reason lost: %q", rev.OverrideReason)
	}

	if _, err := s.OverrideResult(ctx, "run-1", "board renders", results.StatusPass, "short"); err == nil {
		t.Error("short reason should be rejected")
	}
}

func TestDeleteRunRemovesResults(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateRun(ctx, &storage.Run{ID: "run-1"}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.SaveResult(ctx, "run-1", &results.TestResult{TestName: "t", Status: results.StatusPass}); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	if err := s.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if _, err := s.GetRun(ctx, "run-1"); err == nil {
		t.Error("run should be gone")
	}

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM run_results`).Scan(&n); err != nil {
		t.Fatalf("counting results: %v", err)
	}
	if n != 0 {
		t.Errorf("results left behind: %d", n)
	}
}
