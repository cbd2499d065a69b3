package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/michaelbrown/proctor/internal/backend"
	"github.com/michaelbrown/proctor/internal/engine"
	"github.com/michaelbrown/proctor/internal/judge"
	"github.com/michaelbrown/proctor/internal/results"
	"github.com/michaelbrown/proctor/internal/storage"
	"github.com/michaelbrown/proctor/internal/testcase"
)

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// storeStatus maps a store error to 404 or 500.
func storeStatus(err error) int {
	if strings.Contains(err.Error(), "not found") {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// --- Run handlers ---

type startRunRequest struct {
	SuitePath  string          `json:"suite_path"`
	Suite      *testcase.Suite `json:"suite"`
	Tests      []string        `json:"tests"`
	Filter     string          `json:"filter"`
	PublicOnly bool            `json:"public_only"`
	// RerunOf re-executes the selection against an existing run; results of
	// unselected tests are kept as they were.
	RerunOf string `json:"rerun_of"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	var suite *testcase.Suite
	switch {
	case req.Suite != nil && req.SuitePath != "":
		writeError(w, http.StatusBadRequest, "suite and suite_path are mutually exclusive")
		return
	case req.Suite != nil:
		suite = req.Suite
	case req.SuitePath != "":
		loaded, err := testcase.Load(req.SuitePath)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		suite = loaded
	default:
		writeError(w, http.StatusBadRequest, "suite or suite_path is required")
		return
	}

	if errs := testcase.Validate(suite); testcase.HasErrors(errs) {
		writeError(w, http.StatusBadRequest, errs[0].Error())
		return
	}

	var run *storage.Run
	if req.RerunOf != "" {
		prev, err := s.store.GetRun(r.Context(), req.RerunOf)
		if err != nil {
			writeError(w, storeStatus(err), err.Error())
			return
		}
		prev.Status = storage.StatusRunning
		run = prev
	} else {
		run = &storage.Run{
			ID:        uuid.New().String(),
			SuiteName: suite.Name,
			Status:    storage.StatusRunning,
			Total:     len(suite.Tests),
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ar, err := s.runs.Begin(run, cancel)
	if err != nil {
		cancel()
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	if req.RerunOf != "" {
		err = s.store.UpdateRun(r.Context(), run)
	} else {
		err = s.store.CreateRun(r.Context(), run)
	}
	if err != nil {
		s.runs.Finish(ar)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sel := engine.Selection{Names: req.Tests, Filter: req.Filter, PublicOnly: req.PublicOnly}
	go s.executeRun(runCtx, ar, suite, sel)

	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	opts := storage.RunListOptions{}

	if status := r.URL.Query().Get("status"); status != "" {
		opts.Status = storage.RunStatus(status)
	}
	if suite := r.URL.Query().Get("suite"); suite != "" {
		opts.Suite = suite
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			opts.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			opts.Offset = n
		}
	}

	runs, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if runs == nil {
		runs = []storage.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rs, err := s.store.ListResults(r.Context(), id)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}

	if rs == nil {
		rs = []*results.TestResult{}
	}
	writeJSON(w, http.StatusOK, rs)
}

// --- Override handlers ---

type overrideRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := chi.URLParam(r, "name")

	var req overrideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	res, err := s.store.OverrideResult(r.Context(), id, name, results.Status(req.Status), req.Reason)
	if err != nil {
		if strings.Contains(err.Error(), "not found") || strings.Contains(err.Error(), "no result") {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRevert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := chi.URLParam(r, "name")

	res, err := s.store.RevertResult(r.Context(), id, name)
	if err != nil {
		if strings.Contains(err.Error(), "not found") || strings.Contains(err.Error(), "no result") {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// --- Service passthroughs ---

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if s.executor == nil {
		writeError(w, http.StatusServiceUnavailable, "backend execution not configured")
		return
	}

	var req backend.ExecuteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	resp, err := s.executor.Execute(r.Context(), req)
	if err != nil {
		writeJSON(w, http.StatusOK, backend.ExecuteResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type judgeRequest struct {
	Screenshot string `json:"screenshot"`
	TestCase   struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"testCase"`
	HTMLCode string `json:"htmlCode"`
}

func (s *Server) handleJudge(w http.ResponseWriter, r *http.Request) {
	if s.judge == nil {
		writeError(w, http.StatusServiceUnavailable, "judge not configured")
		return
	}

	var req judgeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	verdict, err := s.judge.Judge(r.Context(), judge.Request{
		Screenshot:  req.Screenshot,
		TestName:    req.TestCase.Name,
		Description: req.TestCase.Description,
		HTMLCode:    req.HTMLCode,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
