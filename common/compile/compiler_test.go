package compile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo/common/diagram"
	"github.com/dipeo/dipeo/common/handle"
	"github.com/dipeo/dipeo/common/ids"
)

func linearDiagram(tb testing.TB) *diagram.DomainDiagram {
	tb.Helper()
	d := &diagram.DomainDiagram{
		Nodes: []diagram.Node{
			{ID: "start1", Type: diagram.NodeTypeStart, Data: map[string]interface{}{"label": "Begin"}},
			{ID: "code1", Type: diagram.NodeTypeCodeJob, Data: map[string]interface{}{
				"label": "Work", "code": `{"x": 1}`,
			}},
			{ID: "end1", Type: diagram.NodeTypeEndpoint, Data: map[string]interface{}{"label": "Done"}},
		},
		Arrows: []diagram.Arrow{
			{ID: "a1", Source: handle.Create("start1", handle.LabelDefault, handle.DirectionOutput),
				Target: handle.Create("code1", handle.LabelDefault, handle.DirectionInput)},
			{ID: "a2", Source: handle.Create("code1", handle.LabelDefault, handle.DirectionOutput),
				Target: handle.Create("end1", handle.LabelDefault, handle.DirectionInput)},
		},
	}
	return d
}

func TestCompileLinear(t *testing.T) {
	exec, err := New(Options{}).Compile(linearDiagram(t))
	require.NoError(t, err)

	require.Len(t, exec.Nodes, 3)
	require.Len(t, exec.Edges, 2)
	assert.Equal(t, []ids.NodeID{"start1", "code1", "end1"}, exec.ExecutionOrder)
	assert.Empty(t, exec.Hints.LoopNodes)

	// required handles were generated
	work, ok := exec.NodeByID("code1")
	require.True(t, ok)
	assert.Equal(t, "Work", work.Label)
	_, ok = work.Config.(*CodeJobConfig)
	require.True(t, ok)
}

func TestCompileRejectsEmptyDiagram(t *testing.T) {
	_, err := New(Options{}).Compile(&diagram.DomainDiagram{})
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestCompileRequiresExactlyOneStart(t *testing.T) {
	d := linearDiagram(t)
	d.Nodes = append(d.Nodes, diagram.Node{ID: "start2", Type: diagram.NodeTypeStart})
	_, err := New(Options{}).Compile(d)
	require.Error(t, err)

	// as sub-diagram, zero starts is fine
	sub := &diagram.DomainDiagram{
		Nodes: []diagram.Node{
			{ID: "c", Type: diagram.NodeTypeCodeJob, Data: map[string]interface{}{"code": "1"}},
		},
	}
	_, err = New(Options{AsSubDiagram: true}).Compile(sub)
	require.NoError(t, err)
}

func TestCompileRejectsDanglingArrow(t *testing.T) {
	d := linearDiagram(t)
	d.Arrows = append(d.Arrows, diagram.Arrow{
		ID:     "bad",
		Source: handle.Create("ghost", handle.LabelDefault, handle.DirectionOutput),
		Target: handle.Create("end1", handle.LabelDefault, handle.DirectionInput),
	})
	_, err := New(Options{}).Compile(d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestCompileRejectsDirectionMismatch(t *testing.T) {
	d := linearDiagram(t)
	// input handle used as an arrow source
	d.Arrows[0].Source = handle.Create("start1", handle.LabelDefault, handle.DirectionInput)
	_, err := New(Options{}).Compile(d)
	require.Error(t, err)
}

func TestCompileRejectsUnknownPerson(t *testing.T) {
	d := linearDiagram(t)
	d.Nodes = append(d.Nodes, diagram.Node{
		ID: "pj", Type: diagram.NodeTypePersonJob,
		Data: map[string]interface{}{"person": "person_nobody"},
	})
	d.Arrows = append(d.Arrows, diagram.Arrow{
		ID:     "a3",
		Source: handle.Create("start1", handle.LabelDefault, handle.DirectionOutput),
		Target: handle.Create("pj", handle.LabelDefault, handle.DirectionInput),
	})
	_, err := New(Options{}).Compile(d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "person_nobody")
}

func TestCompileSnapshotsAPIKeys(t *testing.T) {
	d := conditionLoopDiagram(t, 1)
	d.Persons[0].LLMConfig.APIKeyID = "APIKEY_WRITER"

	exec, err := New(Options{}).Compile(d)
	require.NoError(t, err)
	assert.Equal(t, map[ids.ApiKeyID]string{"APIKEY_WRITER": "openai"}, exec.APIKeys)

	// no referenced keys, no snapshot
	exec, err = New(Options{}).Compile(linearDiagram(t))
	require.NoError(t, err)
	assert.Nil(t, exec.APIKeys)
}

func conditionLoopDiagram(tb testing.TB, maxIteration int) *diagram.DomainDiagram {
	tb.Helper()
	return &diagram.DomainDiagram{
		Persons: []diagram.Person{
			{ID: "person_a", Label: "A", LLMConfig: diagram.LLMConfig{Service: "openai", Model: "gpt-4o-mini"}},
		},
		Nodes: []diagram.Node{
			{ID: "start1", Type: diagram.NodeTypeStart},
			{ID: "pj", Type: diagram.NodeTypePersonJob, Data: map[string]interface{}{
				"person": "person_a", "max_iteration": maxIteration, "default_prompt": "go",
			}},
			{ID: "cond", Type: diagram.NodeTypeCondition, Data: map[string]interface{}{
				"condition_type": ConditionTypeDetectMaxIteration,
			}},
			{ID: "end1", Type: diagram.NodeTypeEndpoint},
		},
		Arrows: []diagram.Arrow{
			{ID: "a1", Source: handle.Create("start1", handle.LabelDefault, handle.DirectionOutput),
				Target: handle.Create("pj", handle.LabelFirst, handle.DirectionInput)},
			{ID: "a2", Source: handle.Create("pj", handle.LabelDefault, handle.DirectionOutput),
				Target: handle.Create("cond", handle.LabelDefault, handle.DirectionInput)},
			{ID: "a3", Source: handle.Create("cond", handle.LabelCondFalse, handle.DirectionOutput),
				Target: handle.Create("pj", handle.LabelDefault, handle.DirectionInput)},
			{ID: "a4", Source: handle.Create("cond", handle.LabelCondTrue, handle.DirectionOutput),
				Target: handle.Create("end1", handle.LabelDefault, handle.DirectionInput)},
		},
	}
}

func TestCompileLoopAnnotatesHints(t *testing.T) {
	exec, err := New(Options{}).Compile(conditionLoopDiagram(t, 3))
	require.NoError(t, err)

	assert.Contains(t, exec.Hints.LoopNodes, ids.NodeID("pj"))
	assert.Contains(t, exec.Hints.LoopNodes, ids.NodeID("cond"))
	assert.True(t, exec.IsLoopNode("pj"))
	assert.False(t, exec.IsLoopNode("start1"))

	// edge annotations
	var firstEdge, branchTrue, branchFalse *ExecutableEdge
	for _, e := range exec.Edges {
		switch e.ID {
		case "a1":
			firstEdge = e
		case "a3":
			branchFalse = e
		case "a4":
			branchTrue = e
		}
	}
	require.NotNil(t, firstEdge)
	assert.True(t, firstEdge.RequiresFirstExecution)
	require.NotNil(t, branchTrue)
	assert.True(t, branchTrue.IsConditional)
	assert.Equal(t, handle.LabelCondTrue, branchTrue.TransformRules["branch"])
	require.NotNil(t, branchFalse)
	assert.True(t, branchFalse.IsConditional)
}

func TestCompileRejectsUnboundedCycle(t *testing.T) {
	d := conditionLoopDiagram(t, 1) // max_iteration 1 cannot revisit
	_, err := New(Options{}).Compile(d)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	// cycle with no condition at all
	d2 := linearDiagram(t)
	d2.Arrows = append(d2.Arrows, diagram.Arrow{
		ID:     "back",
		Source: handle.Create("end1", handle.LabelDefault, handle.DirectionOutput),
		Target: handle.Create("code1", handle.LabelDefault, handle.DirectionInput),
	})
	_, err = New(Options{}).Compile(d2)
	require.Error(t, err)
}

func TestConversationHandleFoldsToDefaultOutput(t *testing.T) {
	d := conditionLoopDiagram(t, 3)
	d.Arrows = append(d.Arrows, diagram.Arrow{
		ID:     "conv",
		Source: handle.Create("pj", handle.LabelConversation, handle.DirectionOutput),
		Target: handle.Create("end1", handle.LabelDefault, handle.DirectionInput),
	})
	exec, err := New(Options{}).Compile(d)
	require.NoError(t, err)

	var conv *ExecutableEdge
	for _, e := range exec.Edges {
		if e.ID == "conv" {
			conv = e
		}
	}
	require.NotNil(t, conv)
	// Folded onto the default output so the single emitted envelope reaches it.
	assert.Equal(t, handle.LabelDefault, conv.SourceOutputLabel)
	assert.Equal(t, diagram.ContentConversationState, conv.ContentType)
}

func TestConditionInheritsContentType(t *testing.T) {
	d := conditionLoopDiagram(t, 3)
	d.Arrows[1].ContentType = diagram.ContentRawText // pj → cond
	exec, err := New(Options{}).Compile(d)
	require.NoError(t, err)

	for _, e := range exec.Edges {
		if e.IsConditional {
			assert.Equal(t, diagram.ContentRawText, e.ContentType, "edge %s", e.ID)
		}
	}
}

func TestPromptPrecompilation(t *testing.T) {
	d := conditionLoopDiagram(t, 3)
	d.Nodes[1].Data["prompt_file"] = "prompts/ask.txt"

	var readPath string
	c := New(Options{
		DiagramPath: "/diagrams/loop.light.yaml",
		ReadFile: func(path string) ([]byte, error) {
			readPath = path
			return []byte("resolved prompt body"), nil
		},
	})
	exec, err := c.Compile(d)
	require.NoError(t, err)

	assert.Equal(t, "/diagrams/prompts/ask.txt", readPath)
	pj, _ := exec.NodeByID("pj")
	cfg := pj.Config.(*PersonJobConfig)
	assert.Equal(t, "resolved prompt body", cfg.ResolvedPrompt)
}

func TestSerializeDeserializeIdempotent(t *testing.T) {
	exec, err := New(Options{}).Compile(conditionLoopDiagram(t, 3))
	require.NoError(t, err)

	first, err := exec.Serialize()
	require.NoError(t, err)

	back, err := DeserializeExecutable(first)
	require.NoError(t, err)

	second, err := back.Serialize()
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))

	// typed configs were reconstructed
	pj, ok := back.NodeByID("pj")
	require.True(t, ok)
	cfg, ok := pj.Config.(*PersonJobConfig)
	require.True(t, ok)
	assert.Equal(t, 3, cfg.MaxIteration)
}

func TestCompileDeterministic(t *testing.T) {
	a, err := New(Options{}).Compile(conditionLoopDiagram(t, 3))
	require.NoError(t, err)
	b, err := New(Options{}).Compile(conditionLoopDiagram(t, 3))
	require.NoError(t, err)

	ab, err := a.Serialize()
	require.NoError(t, err)
	bb, err := b.Serialize()
	require.NoError(t, err)
	assert.Equal(t, string(ab), string(bb))
}

func BenchmarkCompileLoop(b *testing.B) {
	d := conditionLoopDiagram(b, 3)
	c := New(Options{})
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Compile(d); err != nil {
			b.Fatal(err)
		}
	}
}
