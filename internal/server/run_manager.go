package server

import (
	"context"
	"errors"
	"sync"

	"github.com/michaelbrown/proctor/internal/diagnostics"
	"github.com/michaelbrown/proctor/internal/results"
	"github.com/michaelbrown/proctor/internal/storage"
)

// ErrRunActive is returned when a run is requested while another is live.
// The engine drives one browser context at a time, so runs queue behind the
// client, not the server.
var ErrRunActive = errors.New("a run is already in progress")

// streamEvent is one item in a run's progress stream, delivered over the
// run's WebSocket and replayed to late subscribers.
type streamEvent struct {
	Type      string               `json:"type"`
	RunID     string               `json:"run_id,omitempty"`
	State     string               `json:"state,omitempty"`
	Test      string               `json:"test,omitempty"`
	Result    *results.TestResult  `json:"result,omitempty"`
	Event     *diagnostics.Event   `json:"event,omitempty"`
	Summary   *results.Summary     `json:"summary,omitempty"`
	AllPassed bool                 `json:"all_passed,omitempty"`
}

// Stream event types.
const (
	eventStatus      = "status"
	eventTestStarted = "test_started"
	eventDiagnostic  = "diagnostic"
	eventTestResult  = "test_result"
	eventRunDone     = "run_done"
)

// ActiveRun tracks one engine run in memory: its cancel handle, the events
// published so far, and the subscribers waiting for more.
type ActiveRun struct {
	Run    *storage.Run
	Cancel context.CancelFunc

	mu     sync.Mutex
	events []streamEvent
	subs   map[chan streamEvent]bool
	done   bool
}

// publish appends the event to the replay buffer and fans it out. A
// subscriber that cannot keep up loses live events but keeps its slot.
func (ar *ActiveRun) publish(ev streamEvent) {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	if ar.done {
		return
	}
	ar.events = append(ar.events, ev)
	for ch := range ar.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// subscribe returns everything published so far plus a channel for the rest.
// The channel closes when the run finishes.
func (ar *ActiveRun) subscribe() ([]streamEvent, chan streamEvent, func()) {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	replay := make([]streamEvent, len(ar.events))
	copy(replay, ar.events)

	ch := make(chan streamEvent, 64)
	if ar.done {
		close(ch)
		return replay, ch, func() {}
	}
	ar.subs[ch] = true
	cancel := func() {
		ar.mu.Lock()
		defer ar.mu.Unlock()
		if ar.subs[ch] {
			delete(ar.subs, ch)
		}
	}
	return replay, ch, cancel
}

// finish seals the run: no more events, all subscriber channels closed.
func (ar *ActiveRun) finish() {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	if ar.done {
		return
	}
	ar.done = true
	for ch := range ar.subs {
		close(ch)
		delete(ar.subs, ch)
	}
}

// RunManager enforces the one-live-run rule and keeps finished runs around
// so their event streams can still be replayed.
type RunManager struct {
	mu     sync.Mutex
	active *ActiveRun
	runs   map[string]*ActiveRun
}

// NewRunManager creates an empty manager.
func NewRunManager() *RunManager {
	return &RunManager{
		runs: make(map[string]*ActiveRun),
	}
}

// Begin registers a new active run. It fails with ErrRunActive while
// another run is still executing.
func (rm *RunManager) Begin(run *storage.Run, cancel context.CancelFunc) (*ActiveRun, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.active != nil {
		return nil, ErrRunActive
	}
	ar := &ActiveRun{
		Run:    run,
		Cancel: cancel,
		subs:   make(map[chan streamEvent]bool),
	}
	rm.active = ar
	rm.runs[run.ID] = ar
	return ar, nil
}

// Get returns the tracked run by full ID.
func (rm *RunManager) Get(runID string) (*ActiveRun, bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	ar, ok := rm.runs[runID]
	return ar, ok
}

// Finish releases the active slot and seals the run's event stream.
func (rm *RunManager) Finish(ar *ActiveRun) {
	rm.mu.Lock()
	if rm.active == ar {
		rm.active = nil
	}
	rm.mu.Unlock()
	ar.finish()
}

// CloseAll cancels the active run, if any, and seals every stream.
func (rm *RunManager) CloseAll() {
	rm.mu.Lock()
	runs := make([]*ActiveRun, 0, len(rm.runs))
	for _, ar := range rm.runs {
		runs = append(runs, ar)
	}
	rm.active = nil
	rm.mu.Unlock()

	for _, ar := range runs {
		if ar.Cancel != nil {
			ar.Cancel()
		}
		ar.finish()
	}
}
