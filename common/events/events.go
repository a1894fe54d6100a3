package events

import (
	"time"

	"github.com/dipeo/dipeo/common/ids"
)

// Type enumerates every domain event the core emits. The GraphQL adapter
// maps these one-to-one onto wire event_type strings.
type Type string

const (
	ExecutionStarted   Type = "EXECUTION_STARTED"
	ExecutionUpdated   Type = "EXECUTION_UPDATED"
	ExecutionCompleted Type = "EXECUTION_COMPLETED"
	ExecutionFailed    Type = "EXECUTION_FAILED"
	ExecutionAborted   Type = "EXECUTION_ABORTED"
	NodeStarted        Type = "NODE_STARTED"
	NodeRunning        Type = "NODE_RUNNING"
	NodeCompleted      Type = "NODE_COMPLETED"
	NodeFailed         Type = "NODE_FAILED"
	NodeSkipped        Type = "NODE_SKIPPED"
	NodePaused         Type = "NODE_PAUSED"
	MetricsCollected   Type = "METRICS_COLLECTED"
	InteractivePrompt  Type = "INTERACTIVE_PROMPT"
	InteractiveResp    Type = "INTERACTIVE_RESPONSE"
)

// ExecutionTerminal reports whether the event ends an execution's stream.
func (t Type) ExecutionTerminal() bool {
	switch t {
	case ExecutionCompleted, ExecutionFailed, ExecutionAborted:
		return true
	}
	return false
}

// Event is one state change. Sequence is strictly monotonic per execution
// and assigned by the bus at publish time.
type Event struct {
	Type        Type                   `json:"type"`
	ExecutionID ids.ExecutionID        `json:"execution_id"`
	Sequence    int64                  `json:"sequence"`
	Timestamp   time.Time              `json:"timestamp"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
}
