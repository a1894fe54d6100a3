package observers

import (
	"context"

	"github.com/dipeo/dipeo/common/events"
	"github.com/dipeo/dipeo/common/logger"
	"github.com/dipeo/dipeo/common/router"
	"github.com/dipeo/dipeo/common/state"
)

// StateStoreObserver persists executions when their event stream ends.
// In-flight state lives in the state service's cache; the durable repository
// only sees the record on the terminal transition.
type StateStoreObserver struct {
	svc *state.Service
	log *logger.Logger
	sub *events.Subscription
}

// NewStateStoreObserver wires the observer; call Attach to start consuming.
func NewStateStoreObserver(svc *state.Service, log *logger.Logger) *StateStoreObserver {
	if log == nil {
		log = logger.Discard()
	}
	return &StateStoreObserver{svc: svc, log: log}
}

// Attach subscribes to the terminal execution events.
func (o *StateStoreObserver) Attach(bus *events.Bus) {
	o.sub = bus.Subscribe([]events.Type{
		events.ExecutionCompleted,
		events.ExecutionFailed,
		events.ExecutionAborted,
	}, o.handle)
}

// Detach stops consuming.
func (o *StateStoreObserver) Detach() {
	if o.sub != nil {
		o.sub.Close()
	}
}

func (o *StateStoreObserver) handle(e events.Event) {
	if err := o.svc.PersistFinal(context.Background(), e.ExecutionID); err != nil {
		o.log.Error("failed to persist terminal execution",
			"execution_id", e.ExecutionID,
			"event_type", e.Type,
			"error", err)
		return
	}
	o.log.Debug("persisted terminal execution",
		"execution_id", e.ExecutionID,
		"event_type", e.Type)
}

// StreamingObserver forwards every event to the message router, which fans
// it out to the websocket and CLI subscribers of that execution.
type StreamingObserver struct {
	router *router.Router
	sub    *events.Subscription
}

// NewStreamingObserver wires the observer; call Attach to start consuming.
func NewStreamingObserver(r *router.Router) *StreamingObserver {
	return &StreamingObserver{router: r}
}

// Attach subscribes to all event types.
func (o *StreamingObserver) Attach(bus *events.Bus) {
	o.sub = bus.Subscribe(nil, o.router.Route)
}

// Detach stops consuming.
func (o *StreamingObserver) Detach() {
	if o.sub != nil {
		o.sub.Close()
	}
}
