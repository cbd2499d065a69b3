package bridge

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/michaelbrown/proctor/internal/backend"
)

// Path is the bridge route on the harness document server. The shim posts
// here from inside the page; same origin, so no CORS involved.
const Path = "/api/bridge"

// NotConnectedMessage is what callAPI returns when no backend is configured.
const NotConnectedMessage = "Backend server not connected"

//go:embed shim.js
var shimJS string

// ShimScript renders the callAPI shim for an assembled document. port is the
// harness server the bridge listens on; 0 means no backend is connected and
// the shim answers every call with NotConnectedMessage without touching the
// network. backendCode rides along in every bridge call.
func ShimScript(port int, backendCode string) string {
	js := shimJS
	if port > 0 {
		js = strings.ReplaceAll(js, "__PROCTOR_CONNECTED__", "true")
	} else {
		js = strings.ReplaceAll(js, "__PROCTOR_CONNECTED__", "false")
	}
	js = strings.ReplaceAll(js, "__PROCTOR_BRIDGE_URL__", fmt.Sprintf("http://127.0.0.1:%d%s", port, Path))

	// Encode the code as a JS string literal; json escaping keeps it on one line.
	encoded, err := json.Marshal(backendCode)
	if err != nil {
		encoded = []byte(`""`)
	}
	return strings.Replace(js, `"__PROCTOR_BACKEND_CODE__"`, string(encoded), 1)
}

// CallResult is the uniform envelope callAPI resolves to.
type CallResult struct {
	Success bool    `json:"success"`
	Data    any     `json:"data"`
	Error   *string `json:"error"`
}

func failure(msg string) CallResult {
	return CallResult{Success: false, Data: nil, Error: &msg}
}

// Map folds an execution outcome into the callAPI envelope: transport
// failures become "Backend server not available", service-reported errors
// pass through, and everything else is a success carrying the result.
func Map(resp *backend.ExecuteResponse, err error) CallResult {
	switch {
	case err != nil:
		return failure("Backend server not available: " + err.Error())
	case resp == nil:
		return failure(NotConnectedMessage)
	case resp.Error != "":
		return failure(resp.Error)
	default:
		return CallResult{Success: true, Data: resp.Result, Error: nil}
	}
}

// Handler serves bridge calls from inside assembled documents. Responses are
// always 200 with a CallResult body; the shim never has to interpret HTTP
// failures beyond "the bridge itself is gone".
func Handler(exec backend.Executor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var result CallResult

		var req backend.ExecuteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			result = failure("Backend server not available: invalid bridge request")
		} else if exec == nil {
			result = failure(NotConnectedMessage)
		} else {
			resp, err := exec.Execute(r.Context(), req)
			result = Map(resp, err)
			if err != nil {
				log.WithFields(log.Fields{"endpoint": req.Endpoint}).Warn("bridge call failed: ", err)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(result); err != nil {
			log.Warn("writing bridge response: ", err)
		}
	}
}
