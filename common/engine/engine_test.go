package engine_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo/common/compile"
	"github.com/dipeo/dipeo/common/diagram"
	"github.com/dipeo/dipeo/common/engine"
	"github.com/dipeo/dipeo/common/engine/handlers"
	"github.com/dipeo/dipeo/common/envelope"
	"github.com/dipeo/dipeo/common/events"
	"github.com/dipeo/dipeo/common/execution"
	"github.com/dipeo/dipeo/common/handle"
	"github.com/dipeo/dipeo/common/ids"
	"github.com/dipeo/dipeo/common/ports"
	"github.com/dipeo/dipeo/common/registry"
	"github.com/dipeo/dipeo/common/state"
)

// eventLog captures bus traffic for ordering assertions. Delivery is async,
// so tests wait for the terminal event before inspecting the snapshot.
type eventLog struct {
	mu   sync.Mutex
	list []events.Event
}

func (l *eventLog) record(e events.Event) {
	l.mu.Lock()
	l.list = append(l.list, e)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.Event, len(l.list))
	copy(out, l.list)
	return out
}

func (l *eventLog) hasType(t events.Type) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.list {
		if e.Type == t {
			return true
		}
	}
	return false
}

func (l *eventLog) awaitTerminal(t *testing.T) []events.Event {
	t.Helper()
	require.Eventually(t, func() bool {
		return l.hasType(events.ExecutionCompleted) ||
			l.hasType(events.ExecutionFailed) ||
			l.hasType(events.ExecutionAborted)
	}, 2*time.Second, 5*time.Millisecond)
	return l.snapshot()
}

type testStack struct {
	bus      *events.Bus
	state    *state.Service
	services *registry.Registry
	engine   *engine.Engine
	llm      *ports.StaticLLM
	log      *eventLog
}

func newStack(t *testing.T, opts engine.Opts) *testStack {
	t.Helper()

	bus := events.NewBus(events.BusOpts{})
	svc := state.NewService(state.ServiceOpts{Bus: bus})
	services := registry.New()
	llm := &ports.StaticLLM{Response: "ok"}

	registry.Set(services, registry.StateService, svc)
	registry.Set(services, registry.EventBus, bus)
	registry.Set(services, registry.LLMService, llm)

	if opts.Handlers == nil {
		reg := engine.NewHandlerRegistry()
		handlers.RegisterAll(reg, handlers.Opts{})
		opts.Handlers = reg
	}
	opts.Services = services
	opts.State = svc

	eng, err := engine.New(opts)
	require.NoError(t, err)
	registry.Set(services, engine.RunnerKey, eng)

	log := &eventLog{}
	sub := bus.Subscribe(nil, log.record)

	t.Cleanup(func() {
		sub.Close()
		eng.Close()
		bus.Close()
	})
	return &testStack{bus: bus, state: svc, services: services, engine: eng, llm: llm, log: log}
}

func mustCompile(t *testing.T, d *diagram.DomainDiagram) *compile.ExecutableDiagram {
	t.Helper()
	exec, err := compile.New(compile.Options{}).Compile(d)
	require.NoError(t, err)
	return exec
}

func linearDiagram(t *testing.T) *diagram.DomainDiagram {
	t.Helper()
	return &diagram.DomainDiagram{
		Nodes: []diagram.Node{
			{ID: "start1", Type: diagram.NodeTypeStart},
			{ID: "code1", Type: diagram.NodeTypeCodeJob, Data: map[string]interface{}{
				"code": `{"x": 1}`,
			}},
			{ID: "end1", Type: diagram.NodeTypeEndpoint},
		},
		Arrows: []diagram.Arrow{
			{ID: "a1", Source: handle.Create("start1", handle.LabelDefault, handle.DirectionOutput),
				Target: handle.Create("code1", handle.LabelDefault, handle.DirectionInput)},
			{ID: "a2", Source: handle.Create("code1", handle.LabelDefault, handle.DirectionOutput),
				Target: handle.Create("end1", handle.LabelDefault, handle.DirectionInput)},
		},
	}
}

func TestExecuteLinearDiagram(t *testing.T) {
	s := newStack(t, engine.Opts{})
	exec := mustCompile(t, linearDiagram(t))

	final, err := s.engine.Execute(context.Background(), engine.ExecuteOpts{Diagram: exec})
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, final.Status)
	assert.Empty(t, final.Error)

	for _, id := range []ids.NodeID{"start1", "code1", "end1"} {
		ns := final.NodeStates[id]
		require.NotNil(t, ns, "node %s has no state", id)
		assert.Equal(t, execution.StatusCompleted, ns.Status, "node %s", id)
		assert.Equal(t, 1, ns.ExecCount, "node %s", id)
	}

	// the endpoint forwards the code output verbatim
	out := final.Outputs["end1"]
	require.NotNil(t, out)
	value, err := out.Value()
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"x": float64(1)}, value)

	evts := s.log.awaitTerminal(t)
	require.NotEmpty(t, evts)
	assert.Equal(t, events.ExecutionStarted, evts[0].Type)
	assert.Equal(t, events.ExecutionCompleted, evts[len(evts)-1].Type)

	var startedOrder []string
	for _, e := range evts {
		if e.Type == events.NodeStarted {
			startedOrder = append(startedOrder, e.Payload["node_id"].(string))
		}
	}
	assert.Equal(t, []string{"start1", "code1", "end1"}, startedOrder)

	// sequences are strictly increasing within the execution
	for i := 1; i < len(evts); i++ {
		assert.Greater(t, evts[i].Sequence, evts[i-1].Sequence)
	}
}

func TestConditionSelectsBranch(t *testing.T) {
	s := newStack(t, engine.Opts{})
	d := &diagram.DomainDiagram{
		Nodes: []diagram.Node{
			{ID: "start1", Type: diagram.NodeTypeStart},
			{ID: "cond", Type: diagram.NodeTypeCondition, Data: map[string]interface{}{
				"condition_type": compile.ConditionTypeCustom,
				"expression":     "x > 5",
			}},
			{ID: "yes", Type: diagram.NodeTypeCodeJob, Data: map[string]interface{}{"code": `"took-true"`}},
			{ID: "no", Type: diagram.NodeTypeCodeJob, Data: map[string]interface{}{"code": `"took-false"`}},
		},
		Arrows: []diagram.Arrow{
			{ID: "a1", Source: handle.Create("start1", handle.LabelDefault, handle.DirectionOutput),
				Target: handle.Create("cond", handle.LabelDefault, handle.DirectionInput)},
			{ID: "a2", Source: handle.Create("cond", handle.LabelCondTrue, handle.DirectionOutput),
				Target: handle.Create("yes", handle.LabelDefault, handle.DirectionInput)},
			{ID: "a3", Source: handle.Create("cond", handle.LabelCondFalse, handle.DirectionOutput),
				Target: handle.Create("no", handle.LabelDefault, handle.DirectionInput)},
		},
	}

	final, err := s.engine.Execute(context.Background(), engine.ExecuteOpts{
		Diagram:   mustCompile(t, d),
		Variables: map[string]interface{}{"x": 10},
	})
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, final.Status)

	condOut := final.Outputs["cond"]
	require.NotNil(t, condOut)
	assert.Equal(t, handle.LabelCondTrue, condOut.OutputLabel())

	require.NotNil(t, final.NodeStates["yes"])
	assert.Equal(t, execution.StatusCompleted, final.NodeStates["yes"].Status)

	// the unselected branch never runs
	_, touched := final.NodeStates["no"]
	assert.False(t, touched)
	_, produced := final.Outputs["no"]
	assert.False(t, produced)

	text, err := final.Outputs["yes"].AsText()
	require.NoError(t, err)
	assert.Equal(t, "took-true", text)
}

func loopDiagram(t *testing.T, maxIteration int) *diagram.DomainDiagram {
	t.Helper()
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
				"condition_type": compile.ConditionTypeDetectMaxIteration,
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

func TestLoopRunsUntilMaxIteration(t *testing.T) {
	s := newStack(t, engine.Opts{})
	s.llm.Response = "keep going"
	s.llm.Usage = execution.TokenUsage{Input: 7, Output: 3, Total: 10}

	final, err := s.engine.Execute(context.Background(), engine.ExecuteOpts{
		Diagram: mustCompile(t, loopDiagram(t, 3)),
	})
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, final.Status)

	require.NotNil(t, final.NodeStates["pj"])
	assert.Equal(t, 3, final.NodeStates["pj"].ExecCount)
	assert.Equal(t, 3, final.NodeStates["cond"].ExecCount)
	assert.Len(t, s.llm.Calls, 3)

	// token accounting rolled up across iterations
	assert.Equal(t, 21, final.TokenUsage.Input)
	assert.Equal(t, 9, final.TokenUsage.Output)
	assert.Equal(t, 30, final.TokenUsage.Total)

	// the endpoint received the condtrue verdict
	value, err := final.Outputs["end1"].Value()
	require.NoError(t, err)
	assert.Equal(t, true, value)
}

func TestSubDiagramMapsInputsAndOutputs(t *testing.T) {
	s := newStack(t, engine.Opts{})

	child := &diagram.DomainDiagram{
		Nodes: []diagram.Node{
			{ID: "cstart", Type: diagram.NodeTypeStart},
			{ID: "ccode", Type: diagram.NodeTypeCodeJob, Data: map[string]interface{}{
				"code": `{"doubled": seed * 2}`,
			}},
			{ID: "cend", Type: diagram.NodeTypeEndpoint},
		},
		Arrows: []diagram.Arrow{
			{ID: "c1", Source: handle.Create("cstart", handle.LabelDefault, handle.DirectionOutput),
				Target: handle.Create("ccode", handle.LabelDefault, handle.DirectionInput)},
			{ID: "c2", Source: handle.Create("ccode", handle.LabelDefault, handle.DirectionOutput),
				Target: handle.Create("cend", handle.LabelDefault, handle.DirectionInput)},
		},
	}
	raw, err := json.Marshal(child)
	require.NoError(t, err)
	var childData map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &childData))

	parent := &diagram.DomainDiagram{
		Nodes: []diagram.Node{
			{ID: "start1", Type: diagram.NodeTypeStart},
			{ID: "sub1", Type: diagram.NodeTypeSubDiagram, Data: map[string]interface{}{
				"diagram_data":   childData,
				"input_mapping":  map[string]interface{}{"x": "seed"},
				"output_mapping": map[string]interface{}{"doubled": "result"},
			}},
			{ID: "end1", Type: diagram.NodeTypeEndpoint},
		},
		Arrows: []diagram.Arrow{
			{ID: "a1", Source: handle.Create("start1", handle.LabelDefault, handle.DirectionOutput),
				Target: handle.Create("sub1", handle.LabelDefault, handle.DirectionInput)},
			{ID: "a2", Source: handle.Create("sub1", handle.LabelDefault, handle.DirectionOutput),
				Target: handle.Create("end1", handle.LabelDefault, handle.DirectionInput)},
		},
	}

	final, err := s.engine.Execute(context.Background(), engine.ExecuteOpts{
		Diagram:   mustCompile(t, parent),
		Variables: map[string]interface{}{"x": 10},
	})
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, final.Status)

	value, err := final.Outputs["end1"].Value()
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"result": float64(20)}, value)

	// parent and child ran as separate executions
	all, err := s.state.ListExecutions(context.Background(), execution.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	var childState *execution.State
	for _, st := range all {
		if st.ID != final.ID {
			childState = st
		}
	}
	require.NotNil(t, childState)
	assert.Equal(t, execution.StatusCompleted, childState.Status)
	assert.Equal(t, 10, asInt(childState.Variables["seed"]))
	assert.Equal(t, true, childState.Variables["__sub_execution"])
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return -1
}

func TestSubDiagramIsolatesConversation(t *testing.T) {
	child := &diagram.DomainDiagram{
		Nodes: []diagram.Node{
			{ID: "cstart", Type: diagram.NodeTypeStart},
			{ID: "ccode", Type: diagram.NodeTypeCodeJob, Data: map[string]interface{}{
				"code": `"done"`,
			}},
			{ID: "cend", Type: diagram.NodeTypeEndpoint},
		},
		Arrows: []diagram.Arrow{
			{ID: "c1", Source: handle.Create("cstart", handle.LabelDefault, handle.DirectionOutput),
				Target: handle.Create("ccode", handle.LabelDefault, handle.DirectionInput)},
			{ID: "c2", Source: handle.Create("ccode", handle.LabelDefault, handle.DirectionOutput),
				Target: handle.Create("cend", handle.LabelDefault, handle.DirectionInput)},
		},
	}
	raw, err := json.Marshal(child)
	require.NoError(t, err)
	var childData map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &childData))

	// pj feeds the sub_diagram a conversation_state envelope.
	build := func(isolate bool) *diagram.DomainDiagram {
		return &diagram.DomainDiagram{
			Persons: []diagram.Person{
				{ID: "person_a", LLMConfig: diagram.LLMConfig{Service: "openai", Model: "gpt-4o-mini"}},
			},
			Nodes: []diagram.Node{
				{ID: "start1", Type: diagram.NodeTypeStart},
				{ID: "pj", Type: diagram.NodeTypePersonJob, Data: map[string]interface{}{
					"person": "person_a", "default_prompt": "go",
				}},
				{ID: "sub1", Type: diagram.NodeTypeSubDiagram, Data: map[string]interface{}{
					"diagram_data":         childData,
					"isolate_conversation": isolate,
				}},
			},
			Arrows: []diagram.Arrow{
				{ID: "a1", Source: handle.Create("start1", handle.LabelDefault, handle.DirectionOutput),
					Target: handle.Create("pj", handle.LabelDefault, handle.DirectionInput)},
				{ID: "a2", Source: handle.Create("pj", handle.LabelDefault, handle.DirectionOutput),
					Target: handle.Create("sub1", handle.LabelDefault, handle.DirectionInput),
					ContentType: diagram.ContentConversationState},
			},
		}
	}

	for _, tc := range []struct {
		name    string
		isolate bool
	}{
		{"shared by default", false},
		{"isolated", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := newStack(t, engine.Opts{})
			final, err := s.engine.Execute(context.Background(), engine.ExecuteOpts{
				Diagram: mustCompile(t, build(tc.isolate)),
			})
			require.NoError(t, err)
			assert.Equal(t, execution.StatusCompleted, final.Status)

			all, err := s.state.ListExecutions(context.Background(), execution.Filter{})
			require.NoError(t, err)
			require.Len(t, all, 2)
			var childState *execution.State
			for _, st := range all {
				if st.ID != final.ID {
					childState = st
				}
			}
			require.NotNil(t, childState)

			_, leaked := childState.Variables["default"]
			if tc.isolate {
				assert.False(t, leaked, "conversation leaked into isolated child")
			} else {
				assert.True(t, leaked, "conversation should reach the child scope")
			}
		})
	}
}

func TestNodeFailureFailsExecution(t *testing.T) {
	s := newStack(t, engine.Opts{})
	d := linearDiagram(t)
	d.Nodes[1].Data["code"] = `undefined_var + 1`

	final, err := s.engine.Execute(context.Background(), engine.ExecuteOpts{
		Diagram: mustCompile(t, d),
	})
	require.NoError(t, err)
	assert.Equal(t, execution.StatusFailed, final.Status)
	assert.Contains(t, final.Error, "code1")

	require.NotNil(t, final.NodeStates["code1"])
	assert.Equal(t, execution.StatusFailed, final.NodeStates["code1"].Status)

	// downstream of a fatal failure never runs
	_, touched := final.NodeStates["end1"]
	assert.False(t, touched)

	evts := s.log.awaitTerminal(t)
	assert.Equal(t, events.ExecutionFailed, evts[len(evts)-1].Type)
}

func TestContinueOnErrorRoutesErrorDownstream(t *testing.T) {
	s := newStack(t, engine.Opts{})
	d := &diagram.DomainDiagram{
		Nodes: []diagram.Node{
			{ID: "start1", Type: diagram.NodeTypeStart},
			{ID: "boom", Type: diagram.NodeTypeCodeJob, Data: map[string]interface{}{
				"code": `undefined_var + 1`,
			}},
			{ID: "rescue", Type: diagram.NodeTypeCodeJob, Data: map[string]interface{}{
				"code": `"recovered"`,
			}},
		},
		Arrows: []diagram.Arrow{
			{ID: "a1", Source: handle.Create("start1", handle.LabelDefault, handle.DirectionOutput),
				Target: handle.Create("boom", handle.LabelDefault, handle.DirectionInput)},
			{ID: "a2", Source: handle.Create("boom", handle.LabelDefault, handle.DirectionOutput),
				Target: handle.Create("rescue", handle.LabelDefault, handle.DirectionInput),
				Data:   map[string]interface{}{"continue_on_error": true}},
		},
	}

	final, err := s.engine.Execute(context.Background(), engine.ExecuteOpts{
		Diagram: mustCompile(t, d),
	})
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, final.Status)
	assert.Empty(t, final.Error)

	assert.Equal(t, execution.StatusFailed, final.NodeStates["boom"].Status)
	assert.Equal(t, execution.StatusCompleted, final.NodeStates["rescue"].Status)

	require.NotNil(t, final.Outputs["boom"])
	assert.True(t, final.Outputs["boom"].IsError())

	text, err := final.Outputs["rescue"].AsText()
	require.NoError(t, err)
	assert.Equal(t, "recovered", text)
}

func TestMaxIterationBudgetStopsDispatch(t *testing.T) {
	s := newStack(t, engine.Opts{MaxIterations: 2})

	final, err := s.engine.Execute(context.Background(), engine.ExecuteOpts{
		Diagram: mustCompile(t, linearDiagram(t)),
	})
	require.NoError(t, err)
	assert.Equal(t, execution.StatusMaxIterReached, final.Status)

	_, touched := final.NodeStates["end1"]
	assert.False(t, touched)
}

// blockingHandler replaces code_job with a handler that parks until its
// context dies, so tests can abort mid-flight deterministically.
type blockingHandler struct {
	engine.Base
	started chan struct{}
}

func (*blockingHandler) NodeType() string { return diagram.NodeTypeCodeJob }

func (h *blockingHandler) Run(ctx context.Context, _ map[string]interface{}, _ *engine.Request) (interface{}, error) {
	select {
	case h.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (*blockingHandler) SerializeOutput(result interface{}, req *engine.Request) (*envelope.Envelope, error) {
	return envelope.Text("", req.Node.ID, req.ExecutionID), nil
}

func TestAbortMidExecution(t *testing.T) {
	reg := engine.NewHandlerRegistry()
	handlers.RegisterAll(reg, handlers.Opts{})
	block := &blockingHandler{started: make(chan struct{}, 1)}
	reg.Register(block)

	s := newStack(t, engine.Opts{Handlers: reg})

	id, err := s.engine.Start(context.Background(), engine.ExecuteOpts{
		Diagram: mustCompile(t, linearDiagram(t)),
	})
	require.NoError(t, err)

	select {
	case <-block.started:
	case <-time.After(2 * time.Second):
		t.Fatal("blocking node never started")
	}

	require.NoError(t, s.engine.Control(id, engine.ActionAbort, ""))

	final, err := s.engine.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusAborted, final.Status)
	assert.Equal(t, execution.StatusFailed, final.NodeStates["code1"].Status)

	// abort after completion is a no-op
	assert.NoError(t, s.engine.Control(id, engine.ActionAbort, ""))

	evts := s.log.awaitTerminal(t)
	assert.Equal(t, events.ExecutionAborted, evts[len(evts)-1].Type)
}

func TestControlValidation(t *testing.T) {
	s := newStack(t, engine.Opts{})

	err := s.engine.Control("nope", engine.ActionResume, "")
	assert.ErrorIs(t, err, engine.ErrUnknownExecution)

	assert.NoError(t, s.engine.Control("nope", engine.ActionAbort, ""))

	err = s.engine.Control("nope", "EXPLODE", "")
	assert.ErrorContains(t, err, "unknown control action")
}

func TestBatchPartialFailure(t *testing.T) {
	s := newStack(t, engine.Opts{})
	scripted := &ports.ScriptedLLM{Responses: []ports.CompletionResult{
		{Text: "r1"}, {Text: "r2"},
	}}
	registry.Set(s.services, registry.LLMService, scripted)

	d := &diagram.DomainDiagram{
		Persons: []diagram.Person{
			{ID: "person_a", LLMConfig: diagram.LLMConfig{Service: "openai", Model: "gpt-4o-mini"}},
		},
		Nodes: []diagram.Node{
			{ID: "start1", Type: diagram.NodeTypeStart},
			{ID: "pj", Type: diagram.NodeTypePersonJob, Data: map[string]interface{}{
				"person":         "person_a",
				"default_prompt": "say {{item}}",
				"batch":          map[string]interface{}{"enabled": true},
			}},
		},
		Arrows: []diagram.Arrow{
			{ID: "a1", Source: handle.Create("start1", handle.LabelDefault, handle.DirectionOutput),
				Target: handle.Create("pj", handle.LabelDefault, handle.DirectionInput)},
		},
	}

	final, err := s.engine.Execute(context.Background(), engine.ExecuteOpts{
		Diagram:   mustCompile(t, d),
		Variables: map[string]interface{}{"items": []interface{}{"a", "b", "c"}},
	})
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, final.Status)

	value, err := final.Outputs["pj"].Value()
	require.NoError(t, err)
	results, ok := value.([]interface{})
	require.True(t, ok)
	require.Len(t, results, 3)

	first := results[0].(map[string]interface{})
	assert.Equal(t, true, first["ok"])
	assert.Equal(t, "r1", first["value"])

	second := results[1].(map[string]interface{})
	assert.Equal(t, true, second["ok"])
	assert.Equal(t, "r2", second["value"])

	// the third item fails without failing the node
	third := results[2].(map[string]interface{})
	assert.Equal(t, false, third["ok"])
	assert.Contains(t, third["error"], "exhausted")
}
