package backend

import "context"

// ExecuteRequest is the payload sent to the execution service for every
// call. The student's backend code rides along each time; the service holds
// no state between calls.
type ExecuteRequest struct {
	Endpoint   string         `json:"endpoint"`
	Args       map[string]any `json:"args"`
	PythonCode string         `json:"pythonCode"`
}

// ExecuteResponse is the service's reply: a result on success, or the error
// raised while loading or running the student's code.
type ExecuteResponse struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Executor runs one endpoint call against the student's backend code.
// Implementations return a Go error only for transport-level failures
// (service unreachable, sandbox broken); errors raised by the student's
// code come back inside the response.
type Executor interface {
	Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error)
}
