package router

import (
	"fmt"
	"sync"

	"github.com/dipeo/dipeo/common/events"
	"github.com/dipeo/dipeo/common/ids"
	"github.com/dipeo/dipeo/common/logger"
)

// Connection is one attached consumer: a websocket client, an SSE stream, or
// an in-process CLI watcher. Send must not block indefinitely; a failed send
// gets the connection removed from the router.
type Connection interface {
	ID() string
	Send(event events.Event) error
	Close() error
}

// Opts configures a Router.
type Opts struct {
	Logger *logger.Logger
}

// Router fans events out to the connections subscribed to each execution.
// It is transport-agnostic: the websocket hub and the CLI both register
// plain Connections.
type Router struct {
	log *logger.Logger

	mu          sync.RWMutex
	connections map[string]Connection
	// execution id -> set of connection ids
	subscriptions map[ids.ExecutionID]map[string]bool
	// connection id -> set of execution ids, for cheap unregister
	reverse map[string]map[ids.ExecutionID]bool

	sessMu sync.RWMutex
	// executions driven by an attached CLI session
	cliSessions map[ids.ExecutionID]bool
}

// New creates a router.
func New(opts Opts) *Router {
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &Router{
		log:           opts.Logger,
		connections:   make(map[string]Connection),
		subscriptions: make(map[ids.ExecutionID]map[string]bool),
		reverse:       make(map[string]map[ids.ExecutionID]bool),
		cliSessions:   make(map[ids.ExecutionID]bool),
	}
}

// Register attaches a connection. Idempotent on the connection ID: a second
// registration replaces the first.
func (r *Router) Register(conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[conn.ID()] = conn
	if r.reverse[conn.ID()] == nil {
		r.reverse[conn.ID()] = make(map[ids.ExecutionID]bool)
	}
}

// Unregister detaches a connection and drops all of its subscriptions.
func (r *Router) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(connID)
}

func (r *Router) removeLocked(connID string) {
	for execID := range r.reverse[connID] {
		delete(r.subscriptions[execID], connID)
		if len(r.subscriptions[execID]) == 0 {
			delete(r.subscriptions, execID)
		}
	}
	delete(r.reverse, connID)
	delete(r.connections, connID)
}

// Subscribe routes an execution's events to a registered connection.
func (r *Router) Subscribe(connID string, execID ids.ExecutionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[connID]; !ok {
		return fmt.Errorf("router: unknown connection %q", connID)
	}
	if r.subscriptions[execID] == nil {
		r.subscriptions[execID] = make(map[string]bool)
	}
	r.subscriptions[execID][connID] = true
	r.reverse[connID][execID] = true
	return nil
}

// Unsubscribe stops routing an execution to a connection.
func (r *Router) Unsubscribe(connID string, execID ids.ExecutionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscriptions[execID], connID)
	if len(r.subscriptions[execID]) == 0 {
		delete(r.subscriptions, execID)
	}
	if r.reverse[connID] != nil {
		delete(r.reverse[connID], execID)
	}
}

// Route delivers an event to every connection subscribed to its execution.
// Connections whose Send fails are removed and closed; delivery to the rest
// continues.
func (r *Router) Route(event events.Event) {
	r.mu.RLock()
	targets := make([]Connection, 0, len(r.subscriptions[event.ExecutionID]))
	for connID := range r.subscriptions[event.ExecutionID] {
		if conn, ok := r.connections[connID]; ok {
			targets = append(targets, conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range targets {
		if err := conn.Send(event); err != nil {
			r.log.Warn("dropping connection after failed send",
				"connection_id", conn.ID(),
				"execution_id", event.ExecutionID,
				"error", err)
			r.mu.Lock()
			r.removeLocked(conn.ID())
			r.mu.Unlock()
			_ = conn.Close()
		}
	}
}

// SubscriberCount reports how many connections follow an execution.
func (r *Router) SubscriberCount(execID ids.ExecutionID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscriptions[execID])
}

// RegisterCLISession marks an execution as driven by an attached CLI, so the
// server surface can distinguish it from API-triggered runs.
func (r *Router) RegisterCLISession(execID ids.ExecutionID) {
	r.sessMu.Lock()
	defer r.sessMu.Unlock()
	r.cliSessions[execID] = true
}

// UnregisterCLISession removes the CLI marker.
func (r *Router) UnregisterCLISession(execID ids.ExecutionID) {
	r.sessMu.Lock()
	defer r.sessMu.Unlock()
	delete(r.cliSessions, execID)
}

// IsCLISession reports whether the execution has an attached CLI.
func (r *Router) IsCLISession(execID ids.ExecutionID) bool {
	r.sessMu.RLock()
	defer r.sessMu.RUnlock()
	return r.cliSessions[execID]
}

// ActiveCLISessions lists executions with an attached CLI.
func (r *Router) ActiveCLISessions() []ids.ExecutionID {
	r.sessMu.RLock()
	defer r.sessMu.RUnlock()
	out := make([]ids.ExecutionID, 0, len(r.cliSessions))
	for id := range r.cliSessions {
		out = append(out, id)
	}
	return out
}
