package engine

import (
	log "github.com/sirupsen/logrus"

	"github.com/michaelbrown/proctor/internal/diagnostics"
	"github.com/michaelbrown/proctor/internal/results"
)

// Reporter receives run progress as it happens. Calls arrive strictly in
// order from a single goroutine: RunStarted, then TestStarted/Diagnostic/
// TestFinished per test, then RunFinished. Implementations should return
// quickly; the engine calls them inline.
type Reporter interface {
	RunStarted(total int)
	TestStarted(name string)
	Diagnostic(testName string, ev diagnostics.Event)
	TestFinished(res *results.TestResult)
	RunFinished(all []*results.TestResult, allPassed bool)
}

// NopReporter discards all progress.
type NopReporter struct{}

func (NopReporter) RunStarted(int)                          {}
func (NopReporter) TestStarted(string)                      {}
func (NopReporter) Diagnostic(string, diagnostics.Event)    {}
func (NopReporter) TestFinished(*results.TestResult)        {}
func (NopReporter) RunFinished([]*results.TestResult, bool) {}

// LogReporter writes progress to the structured log. The server uses it
// alongside its own streaming reporter.
type LogReporter struct{}

func (LogReporter) RunStarted(total int) {
	log.WithField("tests", total).Info("run started")
}

func (LogReporter) TestStarted(name string) {
	log.WithField("test", name).Info("test started")
}

func (LogReporter) Diagnostic(testName string, ev diagnostics.Event) {
	log.WithFields(log.Fields{"test": testName, "event": ev.Type}).Debug(ev.Summary())
}

func (LogReporter) TestFinished(res *results.TestResult) {
	log.WithFields(log.Fields{
		"test":   res.TestName,
		"status": res.Status,
		"ms":     res.DurationMs,
	}).Info("test finished")
}

func (LogReporter) RunFinished(all []*results.TestResult, allPassed bool) {
	log.WithFields(log.Fields{"tests": len(all), "allPassed": allPassed}).Info("run finished")
}

// Reporters fans progress out to several reporters in order.
type Reporters []Reporter

func (rs Reporters) RunStarted(total int) {
	for _, r := range rs {
		r.RunStarted(total)
	}
}

func (rs Reporters) TestStarted(name string) {
	for _, r := range rs {
		r.TestStarted(name)
	}
}

func (rs Reporters) Diagnostic(testName string, ev diagnostics.Event) {
	for _, r := range rs {
		r.Diagnostic(testName, ev)
	}
}

func (rs Reporters) TestFinished(res *results.TestResult) {
	for _, r := range rs {
		r.TestFinished(res)
	}
}

func (rs Reporters) RunFinished(all []*results.TestResult, allPassed bool) {
	for _, r := range rs {
		r.RunFinished(all, allPassed)
	}
}
