package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/dipeo/dipeo/common/compile"
	"github.com/dipeo/dipeo/common/diagram"
	"github.com/dipeo/dipeo/common/engine"
	"github.com/dipeo/dipeo/common/envelope"
	"github.com/dipeo/dipeo/common/execution"
	"github.com/dipeo/dipeo/common/handle"
	"github.com/dipeo/dipeo/common/ids"
	"github.com/dipeo/dipeo/common/ports"
	"github.com/dipeo/dipeo/common/registry"
)

// Condition evaluates one of four condition kinds and routes its boolean
// result onto the condtrue or condfalse branch.
type Condition struct {
	engine.Base
	eval *Evaluator
}

// NewCondition shares one expression cache across all condition nodes.
func NewCondition(eval *Evaluator) *Condition {
	if eval == nil {
		eval = NewEvaluator()
	}
	return &Condition{eval: eval}
}

func (*Condition) NodeType() string { return diagram.NodeTypeCondition }

func (*Condition) Requires() []string {
	return []string{registry.StateService.Name}
}

func (c *Condition) Run(ctx context.Context, inputs map[string]interface{}, req *engine.Request) (interface{}, error) {
	cfg, ok := req.Node.Config.(*compile.ConditionConfig)
	if !ok {
		return nil, fmt.Errorf("node %s has no condition config", req.Node.ID)
	}

	switch cfg.ConditionType {
	case compile.ConditionTypeCustom:
		return c.eval.EvalBool(cfg.Expression, inputs, req.Variables)
	case compile.ConditionTypeDetectMaxIteration:
		return c.detectMaxIterations(ctx, req)
	case compile.ConditionTypeNodesExecuted:
		return c.nodesExecuted(ctx, cfg, req)
	case compile.ConditionTypeLLMDecision:
		return c.llmDecision(ctx, cfg, inputs, req)
	default:
		return nil, fmt.Errorf("unknown condition type %q", cfg.ConditionType)
	}
}

// detectMaxIterations is true once every looping person_job in the diagram
// has used up its iteration budget.
func (c *Condition) detectMaxIterations(ctx context.Context, req *engine.Request) (bool, error) {
	states, err := c.nodeStates(ctx, req)
	if err != nil {
		return false, err
	}

	found := false
	for _, id := range req.Diagram.Hints.LoopNodes {
		n, ok := req.Diagram.NodeByID(id)
		if !ok {
			continue
		}
		pj, ok := n.Config.(*compile.PersonJobConfig)
		if !ok {
			continue
		}
		found = true
		ns := states[id]
		if ns == nil || ns.ExecCount < pj.MaxIteration {
			return false, nil
		}
	}
	if !found {
		return false, fmt.Errorf("detect_max_iterations condition without an iterating person_job in the loop")
	}
	return true, nil
}

// nodesExecuted is true when every referenced node has completed at least
// once. References may be node IDs or labels.
func (c *Condition) nodesExecuted(ctx context.Context, cfg *compile.ConditionConfig, req *engine.Request) (bool, error) {
	if len(cfg.NodeIndices) == 0 {
		return false, fmt.Errorf("check_nodes_executed condition with no node references")
	}
	states, err := c.nodeStates(ctx, req)
	if err != nil {
		return false, err
	}

	for _, ref := range cfg.NodeIndices {
		id := resolveNodeRef(req.Diagram, ref)
		if id == "" {
			return false, fmt.Errorf("unknown node reference %q", ref)
		}
		ns := states[id]
		if ns == nil || ns.ExecCount == 0 || !ns.Status.Terminal() {
			return false, nil
		}
	}
	return true, nil
}

// llmDecision asks the node's person a yes/no question about its input.
func (c *Condition) llmDecision(ctx context.Context, cfg *compile.ConditionConfig, inputs map[string]interface{}, req *engine.Request) (bool, error) {
	llm, err := registry.Get(req.Services, registry.LLMService)
	if err != nil {
		return false, err
	}

	person, ok := req.Diagram.Persons[cfg.Person]
	if !ok {
		return false, fmt.Errorf("condition references unknown person %q", cfg.Person)
	}

	question := interpolate(cfg.JudgeBy, mergeScopes(req.Variables, inputs))
	res, err := llm.Complete(ctx, ports.CompletionRequest{
		Model:    person.LLMConfig.Model,
		APIKeyID: person.LLMConfig.APIKeyID,
		Messages: []ports.Message{
			{Role: "system", Content: "Answer with exactly YES or NO."},
			{Role: "user", Content: question},
		},
	})
	if err != nil {
		return false, fmt.Errorf("llm decision: %w", err)
	}

	answer := strings.ToLower(strings.TrimSpace(res.Text))
	return strings.HasPrefix(answer, "yes") || strings.HasPrefix(answer, "true"), nil
}

func (c *Condition) nodeStates(ctx context.Context, req *engine.Request) (map[ids.NodeID]*execution.NodeState, error) {
	svc, err := registry.Get(req.Services, registry.StateService)
	if err != nil {
		return nil, err
	}
	st, err := svc.GetExecution(ctx, req.ExecutionID)
	if err != nil {
		return nil, err
	}
	return st.NodeStates, nil
}

// SerializeOutput emits the boolean on the selected branch.
func (*Condition) SerializeOutput(result interface{}, req *engine.Request) (*envelope.Envelope, error) {
	value, ok := result.(bool)
	if !ok {
		return nil, fmt.Errorf("condition produced %T, want bool", result)
	}
	env, err := envelope.JSON(value, req.Node.ID, req.ExecutionID)
	if err != nil {
		return nil, err
	}
	label := handle.LabelCondFalse
	if value {
		label = handle.LabelCondTrue
	}
	return env.WithMeta(envelope.MetaOutputLabel, label), nil
}

func resolveNodeRef(d *compile.ExecutableDiagram, ref string) ids.NodeID {
	if _, ok := d.NodeByID(ids.NodeID(ref)); ok {
		return ids.NodeID(ref)
	}
	for _, n := range d.Nodes {
		if n.Label == ref {
			return n.ID
		}
	}
	return ""
}
