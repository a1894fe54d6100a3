package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/dipeo/dipeo/common/compile"
	"github.com/dipeo/dipeo/common/envelope"
	"github.com/dipeo/dipeo/common/ids"
	"github.com/dipeo/dipeo/common/logger"
	"github.com/dipeo/dipeo/common/registry"
)

// Error kinds attached to node failures.
const (
	ErrKindTimeout        = "timeout"
	ErrKindCancelled      = "cancelled"
	ErrKindHandler        = "handler_error"
	ErrKindMissingHandler = "missing_handler"
	ErrKindValidation     = "validation"
)

// Request is what a handler sees for one node invocation.
type Request struct {
	Node        *compile.ExecutableNode
	Diagram     *compile.ExecutableDiagram
	ExecutionID ids.ExecutionID
	Services    *registry.Registry
	Logger      *logger.Logger

	// Inputs maps target input labels to the envelopes delivered on the
	// node's contributing edges for this run.
	Inputs map[string]*envelope.Envelope

	// Variables is the execution-scoped variable set, read-only for handlers.
	Variables map[string]interface{}

	// Iteration is the node's 1-based execution count for this run.
	Iteration int
}

// Handler executes one node type through the phased lifecycle. The engine
// invokes phases in order: Validate, PreExecute, PrepareInputs, Run,
// SerializeOutput, and PostExecute when the handler also implements
// PostExecutor. PreExecute returning a non-nil envelope short-circuits
// PrepareInputs and Run.
type Handler interface {
	NodeType() string

	// Requires lists the service names this handler resolves from the
	// registry. Verified before the first node of an execution runs.
	Requires() []string

	Validate(req *Request) error
	PreExecute(ctx context.Context, req *Request) (*envelope.Envelope, error)
	PrepareInputs(ctx context.Context, req *Request) (map[string]interface{}, error)
	Run(ctx context.Context, inputs map[string]interface{}, req *Request) (interface{}, error)
	SerializeOutput(result interface{}, req *Request) (*envelope.Envelope, error)
}

// PostExecutor is the optional sixth phase.
type PostExecutor interface {
	PostExecute(ctx context.Context, req *Request, output *envelope.Envelope) (*envelope.Envelope, error)
}

// Base provides the no-op defaults so handlers only implement the phases
// they care about.
type Base struct{}

func (Base) Requires() []string { return nil }

func (Base) Validate(*Request) error { return nil }

func (Base) PreExecute(context.Context, *Request) (*envelope.Envelope, error) {
	return nil, nil
}

// PrepareInputs decodes every input envelope to its natural value.
func (Base) PrepareInputs(_ context.Context, req *Request) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(req.Inputs))
	for label, env := range req.Inputs {
		value, err := env.Value()
		if err != nil {
			return nil, fmt.Errorf("decode input %q: %w", label, err)
		}
		out[label] = value
	}
	return out, nil
}

// NoHandlerError reports a node type with no registered handler.
type NoHandlerError struct {
	NodeType string
}

func (e *NoHandlerError) Error() string {
	return fmt.Sprintf("engine: no handler registered for node type %q", e.NodeType)
}

// HandlerRegistry maps node types to handlers. Registration happens at
// startup; lookups during execution are read-only.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register binds a handler to its node type, replacing any previous binding.
func (r *HandlerRegistry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.NodeType()] = h
}

// Lookup resolves the handler for a node type.
func (r *HandlerRegistry) Lookup(nodeType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[nodeType]
	if !ok {
		return nil, &NoHandlerError{NodeType: nodeType}
	}
	return h, nil
}

// Types lists registered node types.
func (r *HandlerRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}
