package engine

import (
	"github.com/dipeo/dipeo/common/compile"
	"github.com/dipeo/dipeo/common/diagram"
	"github.com/dipeo/dipeo/common/envelope"
	"github.com/dipeo/dipeo/common/execution"
	"github.com/dipeo/dipeo/common/ids"
)

// tracker holds the per-execution scheduling state: node statuses, output
// versions and the per-edge watermarks that implement the freshness rule.
// All access is serialized by the driving loop; handlers never touch it.
type tracker struct {
	diagram *compile.ExecutableDiagram

	statuses   map[ids.NodeID]execution.Status
	execCounts map[ids.NodeID]int

	// versions counts completed runs per source node. An edge is fresh for
	// its target when the source version is ahead of what the target consumed
	// at its last run.
	versions map[ids.NodeID]int64
	consumed map[ids.NodeID]map[ids.ArrowID]int64

	// delivered holds the latest envelope routed onto each edge.
	delivered map[ids.ArrowID]*envelope.Envelope

	// branches records each condition node's last selected output label.
	branches map[ids.NodeID]string
}

func newTracker(d *compile.ExecutableDiagram) *tracker {
	t := &tracker{
		diagram:    d,
		statuses:   make(map[ids.NodeID]execution.Status, len(d.Nodes)),
		execCounts: make(map[ids.NodeID]int, len(d.Nodes)),
		versions:   make(map[ids.NodeID]int64, len(d.Nodes)),
		consumed:   make(map[ids.NodeID]map[ids.ArrowID]int64, len(d.Nodes)),
		delivered:  make(map[ids.ArrowID]*envelope.Envelope),
		branches:   make(map[ids.NodeID]string),
	}
	for _, n := range d.Nodes {
		t.statuses[n.ID] = execution.StatusPending
	}
	return t
}

// contributes applies the edge activation rules for a target node.
func (t *tracker) contributes(e *compile.ExecutableEdge) bool {
	if e.RequiresFirstExecution && t.execCounts[e.TargetNode] > 0 {
		return false
	}
	if e.IsConditional && t.branches[e.SourceNode] != e.SourceOutputLabel {
		return false
	}
	return true
}

// fresh reports whether the edge carries an envelope produced since the
// target's last run.
func (t *tracker) fresh(e *compile.ExecutableEdge) bool {
	return t.versions[e.SourceNode] > t.consumed[e.TargetNode][e.ID]
}

// candidate reports whether the node's status allows another run: PENDING,
// or a terminal state on a loop participant with iteration budget left.
func (t *tracker) candidate(n *compile.ExecutableNode) bool {
	status := t.statuses[n.ID]
	if status == execution.StatusPending {
		return true
	}
	if !status.Terminal() || status == execution.StatusFailed || status == execution.StatusSkipped {
		return false
	}
	if !t.diagram.IsLoopNode(n.ID) {
		return false
	}
	if pj, ok := n.Config.(*compile.PersonJobConfig); ok {
		return t.execCounts[n.ID] < pj.MaxIteration
	}
	return true
}

// ready computes the set of nodes eligible for dispatch, in execution order.
func (t *tracker) ready() []*compile.ExecutableNode {
	var out []*compile.ExecutableNode
	for _, id := range t.diagram.ExecutionOrder {
		n, ok := t.diagram.NodeByID(id)
		if !ok || !t.candidate(n) {
			continue
		}

		incoming := t.diagram.IncomingEdges(n.ID)
		var contributing []*compile.ExecutableEdge
		for _, e := range incoming {
			if t.contributes(e) {
				contributing = append(contributing, e)
			}
		}

		if len(incoming) > 0 && len(contributing) == 0 {
			// Every inbound edge is inactive: a conditional target whose
			// branch was not selected, or a first-run input already spent.
			continue
		}

		eligible := true
		for _, e := range contributing {
			if n.Type == diagram.NodeTypeEndpoint {
				// Endpoints fire once everything routed to them has arrived
				// at least once; they do not track freshness.
				if t.delivered[e.ID] == nil {
					eligible = false
					break
				}
				continue
			}
			if !t.fresh(e) {
				eligible = false
				break
			}
		}
		if eligible {
			out = append(out, n)
		}
	}
	return out
}

// beginRun marks the watermarks consumed, bumps the execution counter, and
// collects the node's input envelopes keyed by target input label.
func (t *tracker) beginRun(n *compile.ExecutableNode) map[string]*envelope.Envelope {
	t.statuses[n.ID] = execution.StatusRunning
	t.execCounts[n.ID]++

	inputs := make(map[string]*envelope.Envelope)
	for _, e := range t.diagram.IncomingEdges(n.ID) {
		if !t.contributes(e) {
			continue
		}
		if t.consumed[n.ID] == nil {
			t.consumed[n.ID] = make(map[ids.ArrowID]int64)
		}
		t.consumed[n.ID][e.ID] = t.versions[e.SourceNode]
		if env := t.delivered[e.ID]; env != nil {
			inputs[e.TargetInputLabel] = env
		}
	}
	return inputs
}

// complete records a successful run and routes the output envelope onto every
// outgoing edge whose source label matches the envelope's output label.
func (t *tracker) complete(n *compile.ExecutableNode, status execution.Status, out *envelope.Envelope) {
	t.statuses[n.ID] = status
	t.versions[n.ID]++
	if out == nil {
		return
	}

	label := out.OutputLabel()
	if n.Type == diagram.NodeTypeCondition {
		t.branches[n.ID] = label
	}
	for _, e := range t.diagram.OutgoingEdges(n.ID) {
		if e.SourceOutputLabel == label {
			t.delivered[e.ID] = out
		}
	}
}

// fail records a failed run. When tolerated, the error envelope is routed
// downstream like a normal output so continue_on_error targets still fire.
func (t *tracker) fail(n *compile.ExecutableNode, errEnv *envelope.Envelope, tolerated bool) {
	t.statuses[n.ID] = execution.StatusFailed
	t.versions[n.ID]++
	if !tolerated || errEnv == nil {
		return
	}
	for _, e := range t.diagram.OutgoingEdges(n.ID) {
		t.delivered[e.ID] = errEnv
	}
}

// skip marks a node SKIPPED and delivers an empty envelope downstream so
// successors are not starved.
func (t *tracker) skip(n *compile.ExecutableNode, execID ids.ExecutionID) {
	t.statuses[n.ID] = execution.StatusSkipped
	t.versions[n.ID]++
	empty := envelope.Text("", n.ID, execID)
	for _, e := range t.diagram.OutgoingEdges(n.ID) {
		t.delivered[e.ID] = empty
	}
}

// failureTolerated reports whether a node's failure may be absorbed: no
// successors, or every outgoing edge opted in via continue_on_error.
func (t *tracker) failureTolerated(n *compile.ExecutableNode) bool {
	edges := t.diagram.OutgoingEdges(n.ID)
	if len(edges) == 0 {
		return true
	}
	for _, e := range edges {
		if !e.ContinueOnError {
			return false
		}
	}
	return true
}

// execCount returns the node's completed-or-started run count.
func (t *tracker) execCount(id ids.NodeID) int {
	return t.execCounts[id]
}
