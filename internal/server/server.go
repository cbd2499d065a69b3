package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/michaelbrown/proctor/internal/backend"
	"github.com/michaelbrown/proctor/internal/config"
	"github.com/michaelbrown/proctor/internal/diagnostics"
	"github.com/michaelbrown/proctor/internal/engine"
	"github.com/michaelbrown/proctor/internal/harness"
	"github.com/michaelbrown/proctor/internal/judge"
	"github.com/michaelbrown/proctor/internal/results"
	"github.com/michaelbrown/proctor/internal/sandbox"
	"github.com/michaelbrown/proctor/internal/storage"
	"github.com/michaelbrown/proctor/internal/testcase"
)

// Server is the HTTP API for starting runs and browsing their results.
type Server struct {
	cfg      *config.Config
	store    storage.Store
	executor backend.Executor
	judge    judge.Judge
	runs     *RunManager
	router   chi.Router
	http     *http.Server
}

// New creates a server. The executor and judge follow the config; the
// browser harness is per-run, created only when a suite needs it.
func New(cfg *config.Config, store storage.Store) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		executor: buildExecutor(cfg.Backend),
		judge:    buildJudge(cfg.Judge),
		runs:     NewRunManager(),
		router:   chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func buildExecutor(cfg config.BackendConfig) backend.Executor {
	switch cfg.Mode {
	case "remote":
		return backend.NewHTTPExecutor(cfg.URL, cfg.Timeout())
	case "local":
		return backend.NewLocalExecutor(sandbox.NewDockerSandbox(sandbox.DefaultPolicy()), cfg.Image)
	default:
		return nil
	}
}

func buildJudge(cfg config.JudgeConfig) judge.Judge {
	switch cfg.Mode {
	case "remote":
		return judge.NewRemoteJudge(cfg.URL, 0)
	case "openai":
		return judge.NewVisionJudge(cfg.BaseURL, cfg.APIKey, cfg.Model)
	default:
		return nil
	}
}

func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(jsonContentType)

		// Runs
		r.Post("/runs", s.handleStartRun)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Get("/runs/{id}/results", s.handleListResults)

		// Manual review
		r.Post("/runs/{id}/results/{name}/override", s.handleOverride)
		r.Post("/runs/{id}/results/{name}/revert", s.handleRevert)

		// WebSocket (no JSON content-type)
		r.Get("/runs/{id}/ws", s.handleRunSocket)

		// Service passthroughs
		r.Post("/execute", s.handleExecute)
		r.Post("/judge", s.handleJudge)
		r.Get("/health", s.handleHealth)
	})
}

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Handler exposes the route tree.
func (s *Server) Handler() http.Handler {
	return s.router
}

// executeRun drives the engine for one accepted run. It owns the browser
// harness lifecycle and releases the active-run slot when done.
func (s *Server) executeRun(ctx context.Context, ar *ActiveRun, suite *testcase.Suite, sel engine.Selection) {
	defer s.runs.Finish(ar)

	rep := &runReporter{ar: ar, store: s.store, run: ar.Run}

	var browser engine.Browser
	if suite.HasType(testcase.TypeInteractive) || suite.HasType(testcase.TypeVisual) {
		h, err := harness.New(ctx, s.executor, harness.Options{
			ChromePath:      s.cfg.Browser.ChromePath,
			Headful:         !s.cfg.Browser.Headless,
			Width:           s.cfg.Browser.Width,
			Height:          s.cfg.Browser.Height,
			SettleDelay:     s.cfg.Browser.SettleDelay(),
			RestrictNetwork: s.cfg.Browser.RestrictNetwork,
		})
		if err != nil {
			s.failRun(ar, fmt.Sprintf("starting browser: %v", err))
			return
		}
		defer h.Close()
		browser = engine.HarnessBrowser(h)
	}

	eng := engine.New(engine.Options{
		Browser:     browser,
		Executor:    s.executor,
		Judge:       s.judge,
		Reporter:    engine.Reporters{engine.LogReporter{}, rep},
		TestTimeout: s.cfg.Run.TestTimeout(),
	})

	if _, err := eng.RunSelected(ctx, suite, sel); err != nil {
		s.failRun(ar, err.Error())
		return
	}

	if ctx.Err() != nil {
		run := ar.Run
		run.Status = storage.StatusFailed
		if err := s.store.UpdateRun(context.Background(), run); err != nil {
			log.WithError(err).Error("updating canceled run")
		}
	}
}

// failRun records a run that could not execute at all.
func (s *Server) failRun(ar *ActiveRun, msg string) {
	log.WithField("run", ar.Run.ID).Error(msg)
	run := ar.Run
	run.Status = storage.StatusFailed
	if err := s.store.UpdateRun(context.Background(), run); err != nil {
		log.WithError(err).Error("updating failed run")
	}
	ar.publish(streamEvent{Type: eventStatus, RunID: run.ID, State: "idle"})
}

// runReporter persists results as they arrive and mirrors engine progress
// into the run's event stream.
type runReporter struct {
	ar    *ActiveRun
	store storage.Store
	run   *storage.Run
}

func (r *runReporter) RunStarted(total int) {
	r.ar.publish(streamEvent{Type: eventStatus, RunID: r.run.ID, State: "running"})
}

func (r *runReporter) TestStarted(name string) {
	r.ar.publish(streamEvent{Type: eventTestStarted, RunID: r.run.ID, Test: name})
}

func (r *runReporter) Diagnostic(testName string, ev diagnostics.Event) {
	e := ev
	r.ar.publish(streamEvent{Type: eventDiagnostic, RunID: r.run.ID, Test: testName, Event: &e})
}

func (r *runReporter) TestFinished(res *results.TestResult) {
	ctx := context.Background()
	if res.Status == results.StatusSkip {
		// A selective re-run skips the rest; never clobber a real result
		// from an earlier pass over the same run.
		if _, err := r.store.GetResult(ctx, r.run.ID, res.TestName); err == nil {
			r.ar.publish(streamEvent{Type: eventTestResult, RunID: r.run.ID, Test: res.TestName, Result: res})
			return
		}
	}
	if err := r.store.SaveResult(ctx, r.run.ID, res); err != nil {
		log.WithError(err).Error("saving result")
	}
	r.ar.publish(streamEvent{Type: eventTestResult, RunID: r.run.ID, Test: res.TestName, Result: res})
}

func (r *runReporter) RunFinished(all []*results.TestResult, allPassed bool) {
	ctx := context.Background()

	// The aggregate counts come from the stored results, so a selective
	// re-run folds into the totals of the run it amended.
	stored, err := r.store.ListResults(ctx, r.run.ID)
	if err != nil {
		log.WithError(err).Error("listing results for summary")
		stored = all
	}
	sum := results.Summarize(stored)

	run := r.run
	run.Status = storage.StatusCompleted
	run.AllPassed = results.AllPassed(stored)
	run.Total = sum.Total
	run.Passed = sum.Passed
	if err := r.store.UpdateRun(ctx, run); err != nil {
		log.WithError(err).Error("updating run")
	}

	r.ar.publish(streamEvent{Type: eventRunDone, RunID: run.ID, Summary: &sum, AllPassed: run.AllPassed})
	r.ar.publish(streamEvent{Type: eventStatus, RunID: run.ID, State: "idle"})
}

// Start begins listening on the given port.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	log.Infof("proctor server listening on http://localhost%s", addr)
	return s.http.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("shutting down server")
	s.runs.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.http.Shutdown(shutdownCtx)
}
