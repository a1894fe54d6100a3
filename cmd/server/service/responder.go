package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dipeo/dipeo/common/events"
	"github.com/dipeo/dipeo/common/ids"
	"github.com/dipeo/dipeo/common/logger"
)

// InteractiveResponder bridges user_response nodes to API clients. Ask
// publishes an INTERACTIVE_PROMPT event and parks the node until an answer
// arrives through the respond endpoint or the timeout fires.
type InteractiveResponder struct {
	bus *events.Bus
	log *logger.Logger

	mu      sync.Mutex
	waiting map[string]chan string
}

// NewInteractiveResponder creates the responder.
func NewInteractiveResponder(bus *events.Bus, log *logger.Logger) *InteractiveResponder {
	if log == nil {
		log = logger.Discard()
	}
	return &InteractiveResponder{
		bus:     bus,
		log:     log,
		waiting: make(map[string]chan string),
	}
}

func promptKey(execID ids.ExecutionID, nodeID ids.NodeID) string {
	return string(execID) + "/" + string(nodeID)
}

// Ask publishes the prompt and blocks until Respond delivers an answer, the
// timeout elapses, or the execution is cancelled.
func (r *InteractiveResponder) Ask(ctx context.Context, execID ids.ExecutionID, nodeID ids.NodeID, prompt string, timeout time.Duration) (string, error) {
	key := promptKey(execID, nodeID)
	ch := make(chan string, 1)

	r.mu.Lock()
	if _, exists := r.waiting[key]; exists {
		r.mu.Unlock()
		return "", fmt.Errorf("prompt already pending for node %s", nodeID)
	}
	r.waiting[key] = ch
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.waiting, key)
		r.mu.Unlock()
	}()

	r.bus.Publish(ctx, events.Event{
		Type:        events.InteractivePrompt,
		ExecutionID: execID,
		Payload: map[string]interface{}{
			"node_id":         string(nodeID),
			"prompt":          prompt,
			"timeout_seconds": int(timeout.Seconds()),
		},
	})

	select {
	case answer := <-ch:
		r.bus.Publish(ctx, events.Event{
			Type:        events.InteractiveResp,
			ExecutionID: execID,
			Payload: map[string]interface{}{
				"node_id": string(nodeID),
			},
		})
		return answer, nil
	case <-time.After(timeout):
		return "", fmt.Errorf("prompt timed out after %s", timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Respond delivers an answer to a pending prompt.
func (r *InteractiveResponder) Respond(execID ids.ExecutionID, nodeID ids.NodeID, answer string) error {
	r.mu.Lock()
	ch, ok := r.waiting[promptKey(execID, nodeID)]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending prompt for execution %s node %s", execID, nodeID)
	}

	select {
	case ch <- answer:
		return nil
	default:
		return fmt.Errorf("prompt for node %s already answered", nodeID)
	}
}

// Pending lists executions with at least one open prompt.
func (r *InteractiveResponder) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.waiting))
	for key := range r.waiting {
		out = append(out, key)
	}
	return out
}
