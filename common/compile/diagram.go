package compile

import (
	"encoding/json"
	"fmt"

	"github.com/dipeo/dipeo/common/diagram"
	"github.com/dipeo/dipeo/common/ids"
)

// ExecutableEdge is a resolved, transform-annotated arrow. The scheduler
// consumes edges, never raw arrows.
type ExecutableEdge struct {
	ID                     ids.ArrowID            `json:"id"`
	SourceNode             ids.NodeID             `json:"source_node"`
	TargetNode             ids.NodeID             `json:"target_node"`
	SourceOutputLabel      string                 `json:"source_output_label"`
	TargetInputLabel       string                 `json:"target_input_label"`
	ContentType            string                 `json:"content_type,omitempty"`
	Label                  string                 `json:"label,omitempty"`
	TransformRules         map[string]interface{} `json:"transform_rules,omitempty"`
	IsConditional          bool                   `json:"is_conditional,omitempty"`
	RequiresFirstExecution bool                   `json:"requires_first_execution,omitempty"`
	ContinueOnError        bool                   `json:"continue_on_error,omitempty"`
	Metadata               map[string]interface{} `json:"metadata,omitempty"`
}

// ExecutionHints annotate cycles the compiler deliberately left in place.
type ExecutionHints struct {
	// LoopNodes are nodes that participate in an iteration-bounded cycle and
	// may re-run after reaching a terminal state.
	LoopNodes []ids.NodeID `json:"loop_nodes,omitempty"`
}

// ExecutableDiagram is the compiled, runtime-ready form. A distinct on-disk
// format from diagram files; loading one skips re-validation.
type ExecutableDiagram struct {
	ID             ids.DiagramID                   `json:"id,omitempty"`
	Nodes          []*ExecutableNode               `json:"nodes"`
	Edges          []*ExecutableEdge               `json:"edges"`
	ExecutionOrder []ids.NodeID                    `json:"execution_order"`
	Hints          ExecutionHints                  `json:"execution_hints,omitempty"`
	Persons        map[ids.PersonID]diagram.Person `json:"persons,omitempty"`
	Metadata       map[string]interface{}          `json:"metadata,omitempty"`
	// APIKeys snapshots the key IDs the diagram's persons reference, mapped
	// to the service they authenticate. IDs name environment variables; the
	// values themselves are never embedded.
	APIKeys map[ids.ApiKeyID]string `json:"api_keys,omitempty"`
}

// NodeByID looks up a compiled node.
func (d *ExecutableDiagram) NodeByID(id ids.NodeID) (*ExecutableNode, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return nil, false
}

// IncomingEdges returns the edges targeting a node, in compile order.
func (d *ExecutableDiagram) IncomingEdges(id ids.NodeID) []*ExecutableEdge {
	var edges []*ExecutableEdge
	for _, e := range d.Edges {
		if e.TargetNode == id {
			edges = append(edges, e)
		}
	}
	return edges
}

// OutgoingEdges returns the edges sourced at a node, in compile order.
func (d *ExecutableDiagram) OutgoingEdges(id ids.NodeID) []*ExecutableEdge {
	var edges []*ExecutableEdge
	for _, e := range d.Edges {
		if e.SourceNode == id {
			edges = append(edges, e)
		}
	}
	return edges
}

// StartNode returns the diagram's single start node, nil when compiled as a
// sub-diagram without one.
func (d *ExecutableDiagram) StartNode() *ExecutableNode {
	for _, n := range d.Nodes {
		if n.Type == diagram.NodeTypeStart {
			return n
		}
	}
	return nil
}

// IsLoopNode reports whether the compiler marked the node as a loop
// participant.
func (d *ExecutableDiagram) IsLoopNode(id ids.NodeID) bool {
	for _, n := range d.Hints.LoopNodes {
		if n == id {
			return true
		}
	}
	return false
}

// Serialize writes the on-disk executable format. The output is stable for a
// given diagram: node and edge order is the compile order, which itself is
// derived deterministically from the source document.
func (d *ExecutableDiagram) Serialize() ([]byte, error) {
	out, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("compile: serialize executable: %w", err)
	}
	return append(out, '\n'), nil
}

// DeserializeExecutable reconstructs an ExecutableDiagram, re-deriving each
// node's typed config from its {type, data} pair. Validation is not re-run;
// the format preserves compilation.
func DeserializeExecutable(content []byte) (*ExecutableDiagram, error) {
	var d ExecutableDiagram
	if err := json.Unmarshal(content, &d); err != nil {
		return nil, fmt.Errorf("compile: deserialize executable: %w", err)
	}
	for _, n := range d.Nodes {
		cfg, err := decodeConfig(n.Type, n.Data)
		if err != nil {
			return nil, fmt.Errorf("compile: node %s: %w", n.ID, err)
		}
		n.Config = cfg
	}
	return &d, nil
}
