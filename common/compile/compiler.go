package compile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dipeo/dipeo/common/diagram"
	"github.com/dipeo/dipeo/common/handle"
	"github.com/dipeo/dipeo/common/ids"
)

// ValidationError aggregates every structural invariant a diagram broke.
// Reported at compile time; a diagram that compiles never fails these checks
// at runtime.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("diagram validation failed: %s", strings.Join(e.Issues, "; "))
}

func (e *ValidationError) add(format string, args ...interface{}) {
	e.Issues = append(e.Issues, fmt.Sprintf(format, args...))
}

// Options tunes a compilation.
type Options struct {
	// DiagramPath anchors relative prompt_file references.
	DiagramPath string

	// ReadFile loads prompt files during pre-compilation. Defaults to
	// os.ReadFile; tests inject a fake.
	ReadFile func(path string) ([]byte, error)

	// AsSubDiagram relaxes the exactly-one-start invariant: a child diagram
	// may receive its inputs directly.
	AsSubDiagram bool
}

// Compiler lowers a DomainDiagram into an ExecutableDiagram.
type Compiler struct {
	opts Options
}

// New creates a compiler.
func New(opts Options) *Compiler {
	if opts.ReadFile == nil {
		opts.ReadFile = os.ReadFile
	}
	return &Compiler{opts: opts}
}

// Compile validates the diagram, generates missing handles, resolves arrows
// into transform-annotated edges, pre-compiles prompts and computes the
// execution order. Same diagram bytes compile to the same executable bytes.
func (c *Compiler) Compile(d *diagram.DomainDiagram) (*ExecutableDiagram, error) {
	verr := &ValidationError{}

	c.validateStructure(d, verr)
	if len(verr.Issues) > 0 {
		return nil, verr
	}

	generateMissingHandles(d)

	nodes, err := c.buildNodes(d)
	if err != nil {
		return nil, err
	}

	edges, err := c.buildEdges(d, nodes)
	if err != nil {
		return nil, err
	}

	order, loopNodes, err := executionOrder(nodes, edges)
	if err != nil {
		return nil, err
	}

	exec := &ExecutableDiagram{
		Nodes:          nodes,
		Edges:          edges,
		ExecutionOrder: order,
		Hints:          ExecutionHints{LoopNodes: loopNodes},
		Persons:        make(map[ids.PersonID]diagram.Person, len(d.Persons)),
	}
	if d.Metadata != nil {
		exec.ID = d.Metadata.ID
		exec.Metadata = map[string]interface{}{"name": d.Metadata.Name}
	}
	for _, p := range d.Persons {
		exec.Persons[p.ID] = p
		if p.LLMConfig.APIKeyID != "" {
			if exec.APIKeys == nil {
				exec.APIKeys = make(map[ids.ApiKeyID]string)
			}
			exec.APIKeys[p.LLMConfig.APIKeyID] = p.LLMConfig.Service
		}
	}

	if err := c.precompilePrompts(exec); err != nil {
		return nil, err
	}

	return exec, nil
}

// validateStructure enforces the domain invariants that must hold before any
// lowering happens.
func (c *Compiler) validateStructure(d *diagram.DomainDiagram, verr *ValidationError) {
	if len(d.Nodes) == 0 {
		verr.add("diagram has no nodes")
		return
	}

	seen := make(map[ids.NodeID]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		if seen[n.ID] {
			verr.add("duplicate node id %q", n.ID)
		}
		seen[n.ID] = true
		if !handle.KnownNodeType(n.Type) {
			verr.add("node %q has unknown type %q", n.ID, n.Type)
		}
	}

	starts := d.StartNodes()
	if !c.opts.AsSubDiagram && len(starts) != 1 {
		verr.add("diagram must have exactly one start node, found %d", len(starts))
	}
	if c.opts.AsSubDiagram && len(starts) > 1 {
		verr.add("sub-diagram may have at most one start node, found %d", len(starts))
	}

	// Declared handles must sit on existing nodes with consistent IDs.
	for _, h := range d.Handles {
		if _, ok := d.NodeByID(h.NodeID); !ok {
			verr.add("handle %q references unknown node %q", h.ID, h.NodeID)
			continue
		}
		if parsed, err := handle.Parse(h.ID); err != nil {
			verr.add("handle %q: %v", h.ID, err)
		} else if parsed.NodeID != h.NodeID || parsed.Label != h.Label || parsed.Direction != h.Direction {
			verr.add("handle %q disagrees with its declared node/label/direction", h.ID)
		}
	}

	// Arrow endpoints must parse, resolve, and match direction to role.
	for _, a := range d.Arrows {
		src, err := handle.Parse(a.Source)
		if err != nil {
			verr.add("arrow %q source: %v", a.ID, err)
			continue
		}
		dst, err := handle.Parse(a.Target)
		if err != nil {
			verr.add("arrow %q target: %v", a.ID, err)
			continue
		}
		if src.Direction != handle.DirectionOutput {
			verr.add("arrow %q source %q is not an output handle", a.ID, a.Source)
		}
		if dst.Direction != handle.DirectionInput {
			verr.add("arrow %q target %q is not an input handle", a.ID, a.Target)
		}
		if _, ok := d.NodeByID(src.NodeID); !ok {
			verr.add("arrow %q source references unknown node %q", a.ID, src.NodeID)
		}
		if _, ok := d.NodeByID(dst.NodeID); !ok {
			verr.add("arrow %q target references unknown node %q", a.ID, dst.NodeID)
		}
		if !diagram.ValidContentType(a.ContentType) {
			verr.add("arrow %q has unknown content_type %q", a.ID, a.ContentType)
		}
	}

	// person_job nodes must reference known persons.
	for _, n := range d.Nodes {
		if n.Type != diagram.NodeTypePersonJob || n.Data == nil {
			continue
		}
		ref, ok := n.Data["person"].(string)
		if !ok || ref == "" {
			continue
		}
		if _, ok := d.PersonByID(ids.PersonID(ref)); !ok {
			verr.add("node %q references unknown person %q", n.ID, ref)
		}
	}
}

// generateMissingHandles materializes the required handles from the specs
// table for nodes declared without explicit handles.
func generateMissingHandles(d *diagram.DomainDiagram) {
	for _, n := range d.Nodes {
		spec, ok := handle.Specs[n.Type]
		if !ok {
			continue
		}
		for _, decl := range spec.Required {
			d.EnsureHandle(n.ID, decl.Label, decl.Direction, decl.DataType)
		}
	}
}

func (c *Compiler) buildNodes(d *diagram.DomainDiagram) ([]*ExecutableNode, error) {
	nodes := make([]*ExecutableNode, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		cfg, err := decodeConfig(n.Type, n.Data)
		if err != nil {
			return nil, &ValidationError{Issues: []string{fmt.Sprintf("node %q: %v", n.ID, err)}}
		}
		nodes = append(nodes, &ExecutableNode{
			ID:     n.ID,
			Type:   n.Type,
			Label:  n.Label(),
			Data:   n.Data,
			Config: cfg,
		})
	}
	return nodes, nil
}

// buildEdges resolves each arrow into an ExecutableEdge and derives its
// transform rules from the endpoint node types and labels.
func (c *Compiler) buildEdges(d *diagram.DomainDiagram, nodes []*ExecutableNode) ([]*ExecutableEdge, error) {
	byID := make(map[ids.NodeID]*ExecutableNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	edges := make([]*ExecutableEdge, 0, len(d.Arrows))
	for _, a := range d.Arrows {
		src, _ := handle.Parse(a.Source)
		dst, _ := handle.Parse(a.Target)
		sourceNode := byID[src.NodeID]
		targetNode := byID[dst.NodeID]

		edge := &ExecutableEdge{
			ID:                a.ID,
			SourceNode:        src.NodeID,
			TargetNode:        dst.NodeID,
			SourceOutputLabel: src.Label,
			TargetInputLabel:  dst.Label,
			ContentType:       a.ContentType,
			Label:             a.Label,
		}

		rules := map[string]interface{}{}

		// The conversation output handle is sugar: person_job emits one
		// envelope per run, so the edge folds into the default output with
		// conversation_state content, which the serializer honors.
		if sourceNode.Type == diagram.NodeTypePersonJob && src.Label == handle.LabelConversation {
			edge.SourceOutputLabel = handle.LabelDefault
			edge.ContentType = diagram.ContentConversationState
		}

		// Branch edges contribute only when the condition last selected them.
		if sourceNode.Type == diagram.NodeTypeCondition &&
			(src.Label == handle.LabelCondTrue || src.Label == handle.LabelCondFalse) {
			edge.IsConditional = true
			rules["branch"] = src.Label
		}

		// Arrows into *_first inputs only feed the target's first run.
		if dst.Label == handle.LabelFirst {
			edge.RequiresFirstExecution = true
		}

		// person_job → code_job carrying conversation_state passes the
		// message array rather than the flattened text.
		if sourceNode.Type == diagram.NodeTypePersonJob &&
			targetNode.Type == diagram.NodeTypeCodeJob &&
			edge.ContentType == diagram.ContentConversationState {
			rules["conversation"] = true
		}

		if a.Data != nil {
			if b, ok := a.Data["branch"].(string); ok {
				rules["branch"] = "cond" + b
				edge.IsConditional = true
			}
			if v, ok := a.Data["requires_first_execution"].(bool); ok && v {
				edge.RequiresFirstExecution = true
			}
			if v, ok := a.Data["continue_on_error"].(bool); ok && v {
				edge.ContinueOnError = true
			}
		}

		if len(rules) > 0 {
			edge.TransformRules = rules
		}
		edges = append(edges, edge)
	}

	propagateConditionContentTypes(byID, edges)
	return edges, nil
}

// propagateConditionContentTypes makes a condition's branch outputs inherit
// the content type of its inputs when all inputs agree. Conditions forward
// the selected input envelope, so the type travels with it.
func propagateConditionContentTypes(nodes map[ids.NodeID]*ExecutableNode, edges []*ExecutableEdge) {
	inbound := make(map[ids.NodeID]map[string]bool)
	for _, e := range edges {
		if nodes[e.TargetNode].Type != diagram.NodeTypeCondition {
			continue
		}
		if inbound[e.TargetNode] == nil {
			inbound[e.TargetNode] = make(map[string]bool)
		}
		inbound[e.TargetNode][e.ContentType] = true
	}

	for _, e := range edges {
		if !e.IsConditional || e.ContentType != "" {
			continue
		}
		types := inbound[e.SourceNode]
		if len(types) != 1 {
			continue
		}
		for ct := range types {
			e.ContentType = ct
		}
	}
}

// precompilePrompts inlines prompt_file contents for person_job nodes so the
// runtime never touches the filesystem for prompts.
func (c *Compiler) precompilePrompts(d *ExecutableDiagram) error {
	for _, n := range d.Nodes {
		cfg, ok := n.Config.(*PersonJobConfig)
		if !ok || cfg.PromptFile == "" {
			continue
		}
		path := cfg.PromptFile
		if !filepath.IsAbs(path) && c.opts.DiagramPath != "" {
			path = filepath.Join(filepath.Dir(c.opts.DiagramPath), path)
		}
		content, err := c.opts.ReadFile(path)
		if err != nil {
			return fmt.Errorf("compile: node %s: read prompt file: %w", n.ID, err)
		}
		cfg.ResolvedPrompt = string(content)
		if cfg.FirstPrompt != "" {
			cfg.ResolvedFirstPrompt = cfg.FirstPrompt
		}
	}
	return nil
}
