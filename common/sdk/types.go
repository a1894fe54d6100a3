package sdk

import (
	"encoding/json"
	"time"
)

// ExecuteRequest starts an execution from a stored diagram (by ID) or an
// inline source document in any supported format.
type ExecuteRequest struct {
	DiagramID string                 `json:"diagram_id,omitempty"`
	Diagram   string                 `json:"diagram,omitempty"`
	Format    string                 `json:"format,omitempty"`
	Variables map[string]interface{} `json:"variables,omitempty"`

	// CLISession marks the execution as driven by an attached CLI so the
	// server can report it as a foreground run.
	CLISession bool `json:"cli_session,omitempty"`
}

// ExecuteResponse carries the assigned execution ID.
type ExecuteResponse struct {
	ExecutionID string `json:"execution_id"`
}

// Control actions accepted by the control endpoint.
const (
	ActionPause    = "PAUSE"
	ActionResume   = "RESUME"
	ActionAbort    = "ABORT"
	ActionSkipNode = "SKIP_NODE"
)

// ControlRequest applies a control action to a running execution.
type ControlRequest struct {
	Action string `json:"action"`
	NodeID string `json:"node_id,omitempty"`
}

// UploadDiagramRequest stores a diagram for later execution. Format is
// auto-detected when empty.
type UploadDiagramRequest struct {
	ID      string `json:"id,omitempty"`
	Format  string `json:"format,omitempty"`
	Content string `json:"content"`
}

// UploadDiagramResponse describes the stored diagram.
type UploadDiagramResponse struct {
	DiagramID string `json:"diagram_id"`
	Format    string `json:"format"`
	Nodes     int    `json:"nodes"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// EventFrame is one subscription event on the wire.
type EventFrame struct {
	ExecutionID string          `json:"execution_id"`
	EventType   string          `json:"event_type"`
	Sequence    int64           `json:"sequence"`
	Timestamp   time.Time       `json:"timestamp"`
	Data        json.RawMessage `json:"data,omitempty"`
}
