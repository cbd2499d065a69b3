package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/michaelbrown/proctor/internal/results"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local grading tool, same-host clients
	},
}

// handleRunSocket streams a run's events. A subscriber that connects late
// first receives a replay of everything published so far; for runs from an
// earlier server process the stored results stand in for the live stream.
func (s *Server) handleRunSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	ar, tracked := s.runs.Get(run.ID)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Error("websocket upgrade")
		return
	}
	defer conn.Close()

	if !tracked {
		s.replayStored(conn, run.ID)
		return
	}

	replay, ch, unsubscribe := ar.subscribe()
	defer unsubscribe()

	// Drain (and discard) client frames so closes are noticed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, ev := range replay {
		if !wsWriteJSON(conn, ev) {
			return
		}
	}
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if !wsWriteJSON(conn, ev) {
				return
			}
		case <-closed:
			return
		}
	}
}

// replayStored reconstructs the stream for a finished run that this process
// never executed.
func (s *Server) replayStored(conn *websocket.Conn, runID string) {
	rs, err := s.store.ListResults(context.Background(), runID)
	if err != nil {
		wsWriteJSON(conn, streamEvent{Type: eventStatus, RunID: runID, State: "idle"})
		return
	}
	for _, res := range rs {
		if !wsWriteJSON(conn, streamEvent{Type: eventTestResult, RunID: runID, Test: res.TestName, Result: res}) {
			return
		}
	}
	sum := results.Summarize(rs)
	wsWriteJSON(conn, streamEvent{Type: eventRunDone, RunID: runID, Summary: &sum, AllPassed: results.AllPassed(rs)})
	wsWriteJSON(conn, streamEvent{Type: eventStatus, RunID: runID, State: "idle"})
}

func wsWriteJSON(conn *websocket.Conn, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).Error("websocket marshal")
		return false
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.WithError(err).Debug("websocket write")
		return false
	}
	return true
}
