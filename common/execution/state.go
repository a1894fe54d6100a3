package execution

import (
	"time"

	"github.com/dipeo/dipeo/common/envelope"
	"github.com/dipeo/dipeo/common/ids"
)

// Status is shared by executions and nodes. PAUSED is a modifier reachable
// from RUNNING; MAXITER_REACHED is a success-ish terminal state.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusRunning        Status = "RUNNING"
	StatusPaused         Status = "PAUSED"
	StatusCompleted      Status = "COMPLETED"
	StatusFailed         Status = "FAILED"
	StatusAborted        Status = "ABORTED"
	StatusSkipped        Status = "SKIPPED"
	StatusMaxIterReached Status = "MAXITER_REACHED"
)

// Terminal reports whether the status ends an execution or node.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAborted, StatusSkipped, StatusMaxIterReached:
		return true
	}
	return false
}

// TokenUsage aggregates LLM token counts.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Cached int `json:"cached"`
	Total  int `json:"total"`
}

// Add accumulates another usage into the receiver.
func (t *TokenUsage) Add(other TokenUsage) {
	t.Input += other.Input
	t.Output += other.Output
	t.Cached += other.Cached
	t.Total += other.Total
}

// NodeState is the per-node execution record.
type NodeState struct {
	Status     Status     `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	ExecCount  int        `json:"exec_count"`
	TokenUsage TokenUsage `json:"token_usage"`
}

// State is the per-execution record. The state store exclusively owns
// mutation; everyone else reads snapshots.
type State struct {
	ID         ids.ExecutionID                   `json:"id"`
	DiagramID  ids.DiagramID                     `json:"diagram_id,omitempty"`
	Status     Status                            `json:"status"`
	StartedAt  time.Time                         `json:"started_at"`
	EndedAt    *time.Time                        `json:"ended_at,omitempty"`
	Error      string                            `json:"error,omitempty"`
	NodeStates map[ids.NodeID]*NodeState         `json:"node_states"`
	Outputs    map[ids.NodeID]*envelope.Envelope `json:"node_outputs"`
	Variables  map[string]interface{}            `json:"variables,omitempty"`
	TokenUsage TokenUsage                        `json:"token_usage"`
}

// NewState creates a PENDING execution record.
func NewState(id ids.ExecutionID, diagramID ids.DiagramID, variables map[string]interface{}) *State {
	if variables == nil {
		variables = map[string]interface{}{}
	}
	return &State{
		ID:         id,
		DiagramID:  diagramID,
		Status:     StatusPending,
		StartedAt:  time.Now().UTC(),
		NodeStates: make(map[ids.NodeID]*NodeState),
		Outputs:    make(map[ids.NodeID]*envelope.Envelope),
		Variables:  variables,
	}
}

// NodeState returns the record for a node, creating a PENDING one on first
// touch.
func (s *State) NodeState(id ids.NodeID) *NodeState {
	ns, ok := s.NodeStates[id]
	if !ok {
		ns = &NodeState{Status: StatusPending}
		s.NodeStates[id] = ns
	}
	return ns
}

// Clone returns a deep-enough copy for stale-consistent readers: maps are
// copied, envelopes are shared (immutable once emitted).
func (s *State) Clone() *State {
	clone := *s
	clone.NodeStates = make(map[ids.NodeID]*NodeState, len(s.NodeStates))
	for id, ns := range s.NodeStates {
		nsCopy := *ns
		clone.NodeStates[id] = &nsCopy
	}
	clone.Outputs = make(map[ids.NodeID]*envelope.Envelope, len(s.Outputs))
	for id, env := range s.Outputs {
		clone.Outputs[id] = env
	}
	clone.Variables = make(map[string]interface{}, len(s.Variables))
	for k, v := range s.Variables {
		clone.Variables[k] = v
	}
	return &clone
}

// Filter narrows list queries on the repository.
type Filter struct {
	Status    Status
	DiagramID ids.DiagramID
	Limit     int
	Offset    int
}
