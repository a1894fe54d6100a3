package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dipeo/dipeo/common/compile"
	"github.com/dipeo/dipeo/common/diagram"
	"github.com/dipeo/dipeo/common/diagram/format"
	"github.com/dipeo/dipeo/common/engine"
	"github.com/dipeo/dipeo/common/envelope"
	"github.com/dipeo/dipeo/common/execution"
	"github.com/dipeo/dipeo/common/ports"
	"github.com/dipeo/dipeo/common/registry"
)

// subExecutionVar marks child executions so nested sub_diagram nodes with
// ignore_if_sub become passthroughs.
const subExecutionVar = "__sub_execution"

// SubDiagram compiles and runs a child diagram through the engine, renaming
// values across the boundary via input/output mappings. Parent and child get
// separate execution IDs and event streams.
type SubDiagram struct {
	engine.Base
}

func (SubDiagram) NodeType() string { return diagram.NodeTypeSubDiagram }

func (SubDiagram) Requires() []string {
	return []string{engine.RunnerKey.Name}
}

// PreExecute short-circuits ignore_if_sub nodes inside a child execution.
func (SubDiagram) PreExecute(_ context.Context, req *engine.Request) (*envelope.Envelope, error) {
	cfg := req.Node.Config.(*compile.SubDiagramConfig)
	if !cfg.IgnoreIfSub {
		return nil, nil
	}
	if isSub, _ := req.Variables[subExecutionVar].(bool); !isSub {
		return nil, nil
	}
	// Nested: forward the default input untouched.
	if env, ok := req.Inputs["default"]; ok {
		return env, nil
	}
	return envelope.Text("", req.Node.ID, req.ExecutionID), nil
}

func (h SubDiagram) Run(ctx context.Context, inputs map[string]interface{}, req *engine.Request) (interface{}, error) {
	cfg := req.Node.Config.(*compile.SubDiagramConfig)

	child, err := h.loadChild(cfg, req)
	if err != nil {
		return nil, err
	}
	runner, err := registry.Get(req.Services, engine.RunnerKey)
	if err != nil {
		return nil, err
	}

	childVars := map[string]interface{}{subExecutionVar: true}
	scope := mergeScopes(req.Variables, inputs)
	if cfg.IsolateConversation {
		scope = stripConversation(scope, req.Inputs)
	}
	if len(cfg.InputMapping) == 0 {
		for k, v := range scope {
			childVars[k] = v
		}
	} else {
		for from, to := range cfg.InputMapping {
			if value, ok := resolvePath(scope, from); ok {
				childVars[to] = value
			}
		}
	}

	st, err := runner.Execute(ctx, engine.ExecuteOpts{
		Diagram:   child,
		Variables: childVars,
		Parent:    req.ExecutionID,
	})
	if err != nil {
		return nil, fmt.Errorf("run child diagram: %w", err)
	}
	if st.Status != execution.StatusCompleted && st.Status != execution.StatusMaxIterReached {
		return nil, fmt.Errorf("child execution %s ended %s: %s", st.ID, st.Status, st.Error)
	}

	childResult, err := collectChildOutputs(child, st)
	if err != nil {
		return nil, err
	}
	if len(cfg.OutputMapping) == 0 {
		return childResult, nil
	}

	asMap, _ := childResult.(map[string]interface{})
	mapped := make(map[string]interface{}, len(cfg.OutputMapping))
	for from, to := range cfg.OutputMapping {
		if from == "default" || asMap == nil {
			mapped[to] = childResult
			continue
		}
		if value, ok := resolvePath(asMap, from); ok {
			mapped[to] = value
		}
	}
	return mapped, nil
}

func (SubDiagram) SerializeOutput(result interface{}, req *engine.Request) (*envelope.Envelope, error) {
	return envelope.JSON(result, req.Node.ID, req.ExecutionID)
}

// loadChild resolves the child diagram from inline data or a workspace file.
func (SubDiagram) loadChild(cfg *compile.SubDiagramConfig, req *engine.Request) (*compile.ExecutableDiagram, error) {
	var (
		domain *diagram.DomainDiagram
		path   string
	)

	if cfg.DiagramData != nil {
		raw, err := json.Marshal(cfg.DiagramData)
		if err != nil {
			return nil, fmt.Errorf("encode diagram_data: %w", err)
		}
		domain, _, err = format.Detect(raw, "")
		if err != nil {
			return nil, fmt.Errorf("parse inline diagram: %w", err)
		}
	} else {
		fs, err := registry.Get(req.Services, registry.FileSystemAdapter)
		if err != nil {
			return nil, err
		}
		path, err = findDiagramFile(fs, cfg.DiagramName)
		if err != nil {
			return nil, err
		}
		content, err := fs.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read child diagram %q: %w", path, err)
		}
		domain, _, err = format.Detect(content, path)
		if err != nil {
			return nil, fmt.Errorf("parse child diagram %q: %w", path, err)
		}
	}

	compiler := compile.New(compile.Options{DiagramPath: path})
	child, err := compiler.Compile(domain)
	if err != nil {
		return nil, fmt.Errorf("compile child diagram: %w", err)
	}
	return child, nil
}

// Well-known locations for named child diagrams, tried in order.
var diagramSearchPatterns = []string{
	"diagrams/%s.json",
	"diagrams/%s.light.yaml",
	"diagrams/%s.readable.yaml",
	"%s",
}

func findDiagramFile(fs ports.FileSystem, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("sub_diagram has no diagram_name")
	}
	for _, pattern := range diagramSearchPatterns {
		path := fmt.Sprintf(pattern, name)
		if fs.Exists(path) {
			return path, nil
		}
	}
	return "", fmt.Errorf("child diagram %q not found in workspace", name)
}

// stripConversation drops conversation-carrying values from the parent scope
// so an isolate_conversation child starts with a fresh conversation.
func stripConversation(scope map[string]interface{}, inputs map[string]*envelope.Envelope) map[string]interface{} {
	out := make(map[string]interface{}, len(scope))
	for k, v := range scope {
		if k == "_conversation" {
			continue
		}
		if env, ok := inputs[k]; ok && env.ContentType == envelope.ContentConversation {
			continue
		}
		out[k] = v
	}
	return out
}

// collectChildOutputs gathers the child's endpoint envelopes: one endpoint
// yields its value directly, several merge under their node labels.
func collectChildOutputs(child *compile.ExecutableDiagram, st *execution.State) (interface{}, error) {
	type endpointOut struct {
		label string
		value interface{}
	}
	var outs []endpointOut
	for _, n := range child.Nodes {
		if n.Type != diagram.NodeTypeEndpoint {
			continue
		}
		env, ok := st.Outputs[n.ID]
		if !ok {
			continue
		}
		value, err := env.Value()
		if err != nil {
			return nil, fmt.Errorf("decode child output %s: %w", n.ID, err)
		}
		outs = append(outs, endpointOut{label: n.Label, value: value})
	}

	switch len(outs) {
	case 0:
		return nil, nil
	case 1:
		return outs[0].value, nil
	default:
		merged := make(map[string]interface{}, len(outs))
		for _, o := range outs {
			merged[o.label] = o.value
		}
		return merged, nil
	}
}
