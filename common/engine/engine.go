package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/dipeo/dipeo/common/compile"
	"github.com/dipeo/dipeo/common/envelope"
	"github.com/dipeo/dipeo/common/execution"
	"github.com/dipeo/dipeo/common/ids"
	"github.com/dipeo/dipeo/common/logger"
	"github.com/dipeo/dipeo/common/registry"
	"github.com/dipeo/dipeo/common/state"
)

// Control actions accepted by Control.
const (
	ActionPause    = "PAUSE"
	ActionResume   = "RESUME"
	ActionAbort    = "ABORT"
	ActionSkipNode = "SKIP_NODE"
)

// ErrUnknownExecution is returned by control operations on executions the
// engine is not driving.
var ErrUnknownExecution = errors.New("engine: unknown execution")

// Runner starts a diagram execution. The engine implements it; sub_diagram
// handlers resolve it through the registry to recurse without a direct
// dependency.
type Runner interface {
	Execute(ctx context.Context, opts ExecuteOpts) (*execution.State, error)
}

// RunnerKey is the registry slot the engine binds itself under.
var RunnerKey = registry.NewKey[Runner]("DIAGRAM_RUNNER")

// HandlerRegistryKey exposes the handler registry through the service
// registry for handlers that need catalog introspection.
var HandlerRegistryKey = registry.NewKey[*HandlerRegistry]("HANDLER_REGISTRY")

// Opts configures an Engine.
type Opts struct {
	Handlers *HandlerRegistry
	Services *registry.Registry
	State    *state.Service
	Logger   *logger.Logger

	// MaxConcurrent bounds parallel handlers per execution. Default 8.
	MaxConcurrent int
	// MaxIterations bounds total node dispatches per execution. Default 100.
	MaxIterations int
	// ExecutionTimeout bounds one execution wall-clock. Default 10m.
	ExecutionTimeout time.Duration
	// NodeTimeout bounds one handler invocation. Default 2m.
	NodeTimeout time.Duration
	// PoolSize is the shared worker pool capacity across executions.
	// Default 64.
	PoolSize int
}

// Engine drives compiled diagrams: one driving goroutine per execution
// dispatching handlers onto a shared bounded worker pool.
type Engine struct {
	opts Opts
	pool *ants.Pool

	mu   sync.Mutex
	runs map[ids.ExecutionID]*run
}

type run struct {
	id      ids.ExecutionID
	cancel  context.CancelFunc
	control chan controlMsg
	done    chan struct{}
}

type controlMsg struct {
	action string
	nodeID ids.NodeID
	reply  chan error
}

type completion struct {
	node    *compile.ExecutableNode
	output  *envelope.Envelope
	usage   execution.TokenUsage
	err     error
	errKind string
}

// New creates an engine and its worker pool.
func New(opts Opts) (*Engine, error) {
	if opts.Handlers == nil {
		return nil, errors.New("engine: handler registry is required")
	}
	if opts.State == nil {
		return nil, errors.New("engine: state service is required")
	}
	if opts.Services == nil {
		opts.Services = registry.New()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 8
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 100
	}
	if opts.ExecutionTimeout <= 0 {
		opts.ExecutionTimeout = 10 * time.Minute
	}
	if opts.NodeTimeout <= 0 {
		opts.NodeTimeout = 2 * time.Minute
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = 64
	}

	pool, err := ants.NewPool(opts.PoolSize, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("engine: create worker pool: %w", err)
	}
	return &Engine{
		opts: opts,
		pool: pool,
		runs: make(map[ids.ExecutionID]*run),
	}, nil
}

// Close releases the worker pool. Running executions should be aborted first.
func (e *Engine) Close() {
	e.pool.Release()
}

// ExecuteOpts parameterizes one execution.
type ExecuteOpts struct {
	Diagram   *compile.ExecutableDiagram
	Variables map[string]interface{}

	// ExecutionID is assigned when empty.
	ExecutionID ids.ExecutionID

	// Parent marks sub-diagram executions; they inherit cancellation from the
	// caller's context rather than installing their own timeout.
	Parent ids.ExecutionID
}

// Execute drives a diagram to a terminal state and returns the final
// execution record. Blocks; use Start for fire-and-forget.
func (e *Engine) Execute(ctx context.Context, opts ExecuteOpts) (*execution.State, error) {
	id, err := e.Start(ctx, opts)
	if err != nil {
		return nil, err
	}
	return e.Wait(ctx, id)
}

// Start launches an execution and returns its ID immediately.
func (e *Engine) Start(ctx context.Context, opts ExecuteOpts) (ids.ExecutionID, error) {
	if opts.Diagram == nil {
		return "", errors.New("engine: diagram is required")
	}
	if err := e.verifyServices(opts.Diagram); err != nil {
		return "", err
	}

	id := opts.ExecutionID
	if id == "" {
		id = ids.NewExecutionID()
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if opts.Parent != "" {
		// Sub-diagram executions inherit the parent handler's cancellation
		// and its node timeout instead of installing a fresh global one.
		runCtx, cancel = context.WithCancel(ctx)
	} else {
		runCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), e.opts.ExecutionTimeout)
	}

	r := &run{
		id:      id,
		cancel:  cancel,
		control: make(chan controlMsg),
		done:    make(chan struct{}),
	}
	e.mu.Lock()
	e.runs[id] = r
	e.mu.Unlock()

	if _, err := e.opts.State.StartExecution(runCtx, id, opts.Diagram.ID, opts.Variables); err != nil {
		cancel()
		e.removeRun(id)
		return "", err
	}

	go e.drive(runCtx, r, opts)
	return id, nil
}

// Wait blocks until the execution finishes and returns its final record.
func (e *Engine) Wait(ctx context.Context, id ids.ExecutionID) (*execution.State, error) {
	e.mu.Lock()
	r, ok := e.runs[id]
	e.mu.Unlock()
	if ok {
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return e.opts.State.GetExecution(ctx, id)
}

// Control applies a control action to a running execution.
func (e *Engine) Control(id ids.ExecutionID, action string, nodeID ids.NodeID) error {
	switch action {
	case ActionPause, ActionResume, ActionAbort, ActionSkipNode:
	default:
		return fmt.Errorf("engine: unknown control action %q", action)
	}

	e.mu.Lock()
	r, ok := e.runs[id]
	e.mu.Unlock()
	if !ok {
		// Cancel-after-completion is a no-op, not an error.
		if action == ActionAbort {
			return nil
		}
		return ErrUnknownExecution
	}

	msg := controlMsg{action: action, nodeID: nodeID, reply: make(chan error, 1)}
	select {
	case r.control <- msg:
		return <-msg.reply
	case <-r.done:
		if action == ActionAbort {
			return nil
		}
		return ErrUnknownExecution
	}
}

// verifyServices checks every handler's declared service requirements against
// the registry before the first node runs.
func (e *Engine) verifyServices(d *compile.ExecutableDiagram) error {
	required := make(map[string]bool)
	for _, n := range d.Nodes {
		h, err := e.opts.Handlers.Lookup(n.Type)
		if err != nil {
			return err
		}
		for _, name := range h.Requires() {
			required[name] = true
		}
	}
	names := make([]string, 0, len(required))
	for name := range required {
		names = append(names, name)
	}
	return e.opts.Services.Verify(names...)
}

func (e *Engine) removeRun(id ids.ExecutionID) {
	e.mu.Lock()
	delete(e.runs, id)
	e.mu.Unlock()
}

// drive is the per-execution loop: compute ready set, dispatch, absorb
// completions and control messages, finish on drain or failure.
func (e *Engine) drive(ctx context.Context, r *run, opts ExecuteOpts) {
	log := e.opts.Logger.WithExecutionID(string(r.id))
	t := newTracker(opts.Diagram)
	completions := make(chan completion, len(opts.Diagram.Nodes)+1)
	sem := make(chan struct{}, e.opts.MaxConcurrent)

	var (
		dispatched int
		running    int
		paused     bool
		fatalErr   string
		finalState = execution.StatusCompleted
	)

	finish := func() {
		if _, err := e.opts.State.FinishExecution(ctx, r.id, finalState, fatalErr); err != nil {
			log.Error("failed to finish execution", "error", err)
		}
		r.cancel()
		e.removeRun(r.id)
		close(r.done)
	}
	defer finish()

	vars := opts.Variables
	if vars == nil {
		vars = map[string]interface{}{}
	}

	for {
		if ctx.Err() != nil {
			e.drainAborted(ctx, t, r.id, running, completions, log)
			if fatalErr == "" {
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					finalState, fatalErr = execution.StatusFailed, "execution timeout"
				} else {
					finalState = execution.StatusAborted
				}
			}
			return
		}

		if !paused {
			for _, n := range t.ready() {
				if dispatched >= e.opts.MaxIterations {
					finalState = execution.StatusMaxIterReached
					if running == 0 {
						return
					}
					break
				}
				dispatched++
				running++
				e.dispatch(ctx, t, r.id, n, vars, sem, completions, log)
			}
		}

		if running == 0 {
			if finalState == execution.StatusMaxIterReached {
				return
			}
			if paused {
				// Nothing in flight; block until resumed or aborted.
				select {
				case msg := <-r.control:
					paused = e.handleControl(ctx, t, r.id, msg, paused, log)
				case <-ctx.Done():
				}
				continue
			}
			if len(t.ready()) == 0 {
				if fatalErr != "" {
					finalState = execution.StatusFailed
				}
				return
			}
			continue
		}

		select {
		case c := <-completions:
			running--
			if failed := e.absorb(ctx, t, r.id, c, log); failed != "" && fatalErr == "" {
				fatalErr = failed
				finalState = execution.StatusFailed
				if running == 0 {
					return
				}
				// Let in-flight handlers drain, then fail.
				r.cancel()
			}
		case msg := <-r.control:
			paused = e.handleControl(ctx, t, r.id, msg, paused, log)
		case <-ctx.Done():
		}
	}
}

// dispatch marks the node RUNNING and submits its handler to the pool.
func (e *Engine) dispatch(ctx context.Context, t *tracker, execID ids.ExecutionID, n *compile.ExecutableNode, vars map[string]interface{}, sem chan struct{}, completions chan completion, log *logger.Logger) {
	inputs := t.beginRun(n)
	iteration := t.execCount(n.ID)
	if _, err := e.opts.State.UpdateNodeStatus(ctx, execID, n.ID, execution.StatusRunning, ""); err != nil {
		log.Error("failed to mark node running", "node_id", n.ID, "error", err)
	}

	req := &Request{
		Node:        n,
		Diagram:     t.diagram,
		ExecutionID: execID,
		Services:    e.opts.Services,
		Logger:      log.WithNodeID(string(n.ID)),
		Inputs:      inputs,
		Variables:   vars,
		Iteration:   iteration,
	}

	submit := func() {
		sem <- struct{}{}
		defer func() { <-sem }()
		completions <- e.invoke(ctx, req)
	}
	if err := e.pool.Submit(submit); err != nil {
		// Pool rejected the task; run inline so the node is not lost.
		go submit()
	}
}

// invoke runs the full handler lifecycle for one node.
func (e *Engine) invoke(ctx context.Context, req *Request) (c completion) {
	c.node = req.Node
	defer func() {
		if r := recover(); r != nil {
			c.output = nil
			c.err = fmt.Errorf("handler panicked: %v", r)
			c.errKind = ErrKindHandler
		}
	}()

	h, err := e.opts.Handlers.Lookup(req.Node.Type)
	if err != nil {
		c.err, c.errKind = err, ErrKindMissingHandler
		return c
	}

	if err := h.Validate(req); err != nil {
		c.err, c.errKind = err, ErrKindValidation
		return c
	}

	nodeCtx, cancel := context.WithTimeout(ctx, e.opts.NodeTimeout)
	defer cancel()

	out, err := h.PreExecute(nodeCtx, req)
	if err != nil {
		c.err, c.errKind = err, classifyErr(nodeCtx, err)
		return c
	}

	if out == nil {
		out, err = e.runPhases(nodeCtx, h, req)
		if err != nil {
			c.err, c.errKind = err, classifyErr(nodeCtx, err)
			return c
		}
	}

	if post, ok := h.(PostExecutor); ok && out != nil {
		out, err = post.PostExecute(nodeCtx, req, out)
		if err != nil {
			c.err, c.errKind = err, classifyErr(nodeCtx, err)
			return c
		}
	}

	c.output = out
	c.usage = usageFromEnvelope(out)
	return c
}

// runPhases executes prepare_inputs, run and serialize_output, with batch
// fan-out when the node opts in.
func (e *Engine) runPhases(ctx context.Context, h Handler, req *Request) (*envelope.Envelope, error) {
	inputs, err := h.PrepareInputs(ctx, req)
	if err != nil {
		return nil, err
	}

	if batch, ok := batchConfig(req.Node); ok && batch.Enabled {
		return e.runBatch(ctx, h, req, inputs, batch)
	}

	result, err := h.Run(ctx, inputs, req)
	if err != nil {
		return nil, err
	}
	return h.SerializeOutput(result, req)
}

func classifyErr(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return ErrKindTimeout
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return ErrKindCancelled
	default:
		return ErrKindHandler
	}
}

// absorb applies one handler completion to the tracker and the state store.
// Returns a non-empty error string when the failure is fatal to the
// execution.
func (e *Engine) absorb(ctx context.Context, t *tracker, execID ids.ExecutionID, c completion, log *logger.Logger) string {
	if c.usage.Total > 0 {
		if _, err := e.opts.State.AppendTokenUsage(ctx, execID, c.node.ID, c.usage); err != nil {
			log.Error("failed to record token usage", "node_id", c.node.ID, "error", err)
		}
	}

	if c.err == nil {
		t.complete(c.node, execution.StatusCompleted, c.output)
		if c.output != nil {
			if _, err := e.opts.State.UpdateNodeOutput(ctx, execID, c.node.ID, c.output); err != nil {
				log.Error("failed to record node output", "node_id", c.node.ID, "error", err)
			}
		}
		if _, err := e.opts.State.UpdateNodeStatus(ctx, execID, c.node.ID, execution.StatusCompleted, ""); err != nil {
			log.Error("failed to mark node completed", "node_id", c.node.ID, "error", err)
		}
		return ""
	}

	errEnv := envelope.Error(c.err.Error(), c.errKind, c.node.ID, execID).
		WithMeta(envelope.MetaErrorKind, c.errKind)
	tolerated := t.failureTolerated(c.node)
	t.fail(c.node, errEnv, tolerated)

	if _, err := e.opts.State.UpdateNodeOutput(ctx, execID, c.node.ID, errEnv); err != nil {
		log.Error("failed to record node error output", "node_id", c.node.ID, "error", err)
	}
	if _, err := e.opts.State.UpdateNodeStatus(ctx, execID, c.node.ID, execution.StatusFailed, c.err.Error()); err != nil {
		log.Error("failed to mark node failed", "node_id", c.node.ID, "error", err)
	}

	log.Warn("node failed",
		"node_id", c.node.ID,
		"error_kind", c.errKind,
		"tolerated", tolerated,
		"error", c.err)
	if tolerated {
		return ""
	}
	return fmt.Sprintf("node %s failed: %s", c.node.ID, c.err)
}

// drainAborted waits for in-flight handlers after cancellation and records
// them as FAILED/cancelled.
func (e *Engine) drainAborted(ctx context.Context, t *tracker, execID ids.ExecutionID, running int, completions chan completion, log *logger.Logger) {
	for ; running > 0; running-- {
		c := <-completions
		kind := c.errKind
		if kind == "" {
			kind = ErrKindCancelled
		}
		msg := "execution aborted"
		if c.err != nil {
			msg = c.err.Error()
		}
		t.fail(c.node, nil, false)
		if _, err := e.opts.State.UpdateNodeStatus(ctx, execID, c.node.ID, execution.StatusFailed, msg); err != nil {
			log.Error("failed to mark aborted node", "node_id", c.node.ID, "error", err)
		}
	}
}

// handleControl applies one control message; returns the new paused state.
func (e *Engine) handleControl(ctx context.Context, t *tracker, execID ids.ExecutionID, msg controlMsg, paused bool, log *logger.Logger) bool {
	var err error
	switch msg.action {
	case ActionPause:
		paused = true
		_, err = e.opts.State.UpdateStatus(ctx, execID, execution.StatusPaused)
	case ActionResume:
		paused = false
		_, err = e.opts.State.UpdateStatus(ctx, execID, execution.StatusRunning)
	case ActionAbort:
		e.mu.Lock()
		r := e.runs[execID]
		e.mu.Unlock()
		if r != nil {
			r.cancel()
		}
	case ActionSkipNode:
		n, ok := t.diagram.NodeByID(msg.nodeID)
		switch {
		case !ok:
			err = fmt.Errorf("engine: unknown node %q", msg.nodeID)
		case t.statuses[n.ID] != execution.StatusPending:
			err = fmt.Errorf("engine: node %q is not pending", msg.nodeID)
		default:
			t.skip(n, execID)
			_, err = e.opts.State.UpdateNodeStatus(ctx, execID, n.ID, execution.StatusSkipped, "")
		}
	}
	if err != nil {
		log.Error("control action failed", "action", msg.action, "error", err)
	}
	msg.reply <- err
	return paused
}

// batchConfig extracts batch settings from the node types that support them.
func batchConfig(n *compile.ExecutableNode) (compile.BatchConfig, bool) {
	switch cfg := n.Config.(type) {
	case *compile.PersonJobConfig:
		return cfg.Batch, true
	case *compile.SubDiagramConfig:
		return cfg.Batch, true
	}
	return compile.BatchConfig{}, false
}

// usageFromEnvelope lifts token accounting the handler attached to its
// output metadata.
func usageFromEnvelope(env *envelope.Envelope) execution.TokenUsage {
	if env == nil || env.Meta == nil {
		return execution.TokenUsage{}
	}
	in := metaInt(env.Meta[envelope.MetaTokensIn])
	out := metaInt(env.Meta[envelope.MetaTokensOut])
	if in == 0 && out == 0 {
		return execution.TokenUsage{}
	}
	return execution.TokenUsage{Input: in, Output: out, Total: in + out}
}

func metaInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
