package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPExecutorSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ExecuteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.Endpoint != "get_user" || req.PythonCode == "" {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"id": 1}})
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(srv.URL, time.Second)
	resp, err := exec.Execute(context.Background(), ExecuteRequest{
		Endpoint:   "get_user",
		Args:       map[string]any{"name": "alice"},
		PythonCode: "def get_user(name):\n    return {'id': 1}\n",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Error != "" {
		t.Errorf("Error = %q, want empty", resp.Error)
	}
	m, ok := resp.Result.(map[string]any)
	if !ok || m["id"] != float64(1) {
		t.Errorf("Result = %#v", resp.Result)
	}
}

func TestHTTPExecutorServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"error": "NameError: name 'x' is not defined"})
	}))
	defer srv.Close()

	resp, err := NewHTTPExecutor(srv.URL, time.Second).Execute(context.Background(), ExecuteRequest{Endpoint: "f"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(resp.Error, "NameError") {
		t.Errorf("Error = %q", resp.Error)
	}
}

func TestHTTPExecutorNonOKStatuses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantSub string
	}{
		{"error field", http.StatusInternalServerError, `{"error":"exec blew up"}`, "exec blew up"},
		{"detail field", http.StatusUnprocessableEntity, `{"detail":"missing endpoint"}`, "missing endpoint"},
		{"garbage body falls back to status", http.StatusBadGateway, `<html>nope</html>`, "502"},
		{"empty body falls back to status", http.StatusNotFound, ``, "404"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			resp, err := NewHTTPExecutor(srv.URL, time.Second).Execute(context.Background(), ExecuteRequest{Endpoint: "f"})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if !strings.Contains(resp.Error, tt.wantSub) {
				t.Errorf("Error = %q, want substring %q", resp.Error, tt.wantSub)
			}
		})
	}
}

func TestHTTPExecutorTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // already closed: connection refused

	_, err := NewHTTPExecutor(srv.URL, time.Second).Execute(context.Background(), ExecuteRequest{Endpoint: "f"})
	if err == nil {
		t.Fatal("expected transport error")
	}
	if !strings.Contains(err.Error(), "calling execution service") {
		t.Errorf("err = %v", err)
	}
}
