package compile

import (
	"fmt"

	"github.com/dipeo/dipeo/common/diagram"
	"github.com/dipeo/dipeo/common/ids"
)

// executionOrder computes a topological ordering used by the scheduler as a
// tie-breaker. Cycles are tolerated only when every strongly connected
// component contains a condition node and an iteration-bounded participant;
// such components are annotated as loop nodes and ordered by declaration.
func executionOrder(nodes []*ExecutableNode, edges []*ExecutableEdge) ([]ids.NodeID, []ids.NodeID, error) {
	succ := make(map[ids.NodeID][]ids.NodeID)
	indegree := make(map[ids.NodeID]int, len(nodes))
	for _, n := range nodes {
		indegree[n.ID] = 0
	}
	for _, e := range edges {
		succ[e.SourceNode] = append(succ[e.SourceNode], e.TargetNode)
		indegree[e.TargetNode]++
	}

	// Kahn's algorithm with declaration order as the deterministic tie-break.
	var order []ids.NodeID
	remaining := make(map[ids.NodeID]int, len(nodes))
	for id, deg := range indegree {
		remaining[id] = deg
	}
	done := make(map[ids.NodeID]bool, len(nodes))

	for len(order) < len(nodes) {
		next := ids.NodeID("")
		for _, n := range nodes {
			if !done[n.ID] && remaining[n.ID] == 0 {
				next = n.ID
				break
			}
		}
		if next == "" {
			break // only cycle members remain
		}
		done[next] = true
		order = append(order, next)
		for _, t := range succ[next] {
			remaining[t]--
		}
	}

	if len(order) == len(nodes) {
		return order, nil, nil
	}

	// Remaining nodes sit on cycles. Each cycle must be iteration-bounded:
	// a condition node to exit through and a participant whose spec permits
	// revisits.
	var loopNodes []ids.NodeID
	byID := make(map[ids.NodeID]*ExecutableNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	components := stronglyConnected(nodes, succ)
	for _, comp := range components {
		if len(comp) == 1 && !selfLoop(comp[0], succ) {
			continue
		}
		hasCondition := false
		hasBounded := false
		for _, id := range comp {
			n := byID[id]
			if n.Type == diagram.NodeTypeCondition {
				hasCondition = true
			}
			if cfg, ok := n.Config.(*PersonJobConfig); ok && cfg.MaxIteration > 1 {
				hasBounded = true
			}
		}
		if !hasCondition || !hasBounded {
			return nil, nil, &ValidationError{Issues: []string{
				fmt.Sprintf("cycle through %v has no bounded exit (needs a condition node and an iteration-bounded participant)", comp),
			}}
		}
		loopNodes = append(loopNodes, comp...)
	}

	// Append cycle members in declaration order; the scheduler is data-driven
	// and only uses this as a hint.
	for _, n := range nodes {
		if !done[n.ID] {
			order = append(order, n.ID)
		}
	}

	return order, loopNodes, nil
}

func selfLoop(id ids.NodeID, succ map[ids.NodeID][]ids.NodeID) bool {
	for _, t := range succ[id] {
		if t == id {
			return true
		}
	}
	return false
}

// stronglyConnected returns Tarjan SCCs in deterministic node order.
func stronglyConnected(nodes []*ExecutableNode, succ map[ids.NodeID][]ids.NodeID) [][]ids.NodeID {
	var (
		counter  int
		stack    []ids.NodeID
		onStack  = make(map[ids.NodeID]bool)
		indexOf  = make(map[ids.NodeID]int)
		lowlink  = make(map[ids.NodeID]int)
		result   [][]ids.NodeID
		strongly func(v ids.NodeID)
	)

	strongly = func(v ids.NodeID) {
		indexOf[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range succ[v] {
			if _, seen := indexOf[w]; !seen {
				strongly(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] && indexOf[w] < lowlink[v] {
				lowlink[v] = indexOf[w]
			}
		}

		if lowlink[v] == indexOf[v] {
			var comp []ids.NodeID
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			result = append(result, comp)
		}
	}

	for _, n := range nodes {
		if _, seen := indexOf[n.ID]; !seen {
			strongly(n.ID)
		}
	}
	return result
}
