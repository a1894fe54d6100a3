package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dipeo/dipeo/common/envelope"
	"github.com/dipeo/dipeo/common/events"
	"github.com/dipeo/dipeo/common/execution"
	"github.com/dipeo/dipeo/common/ids"
	"github.com/dipeo/dipeo/common/logger"
)

// ServiceOpts configures a Service.
type ServiceOpts struct {
	Repository Repository
	Bus        *events.Bus
	Logger     *logger.Logger
	// MaxLive bounds the in-process cache of running executions. Default 256.
	MaxLive int
}

// Service owns every mutation of execution state. Mutations apply to the live
// cache synchronously, then publish the matching event; the durable repository
// only sees the record when PersistFinal runs on a terminal transition (or an
// LRU eviction forces an early flush).
type Service struct {
	repo  Repository
	bus   *events.Bus
	log   *logger.Logger
	cache *cache
}

// NewService wires a state service.
func NewService(opts ServiceOpts) *Service {
	if opts.Repository == nil {
		opts.Repository = NewMemoryRepository()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &Service{
		repo:  opts.Repository,
		bus:   opts.Bus,
		log:   opts.Logger,
		cache: newCache(opts.MaxLive),
	}
}

// StartExecution creates a RUNNING record in the cache and announces it.
func (s *Service) StartExecution(ctx context.Context, id ids.ExecutionID, diagramID ids.DiagramID, variables map[string]interface{}) (*execution.State, error) {
	if _, ok := s.cache.get(id); ok {
		return nil, fmt.Errorf("state: execution %s already running", id)
	}

	st := execution.NewState(id, diagramID, variables)
	st.Status = execution.StatusRunning
	if evicted := s.cache.put(st); evicted != nil {
		// Forced out a live record; flush it so nothing is lost.
		if err := s.repo.Save(ctx, evicted); err != nil {
			s.log.Error("failed to flush evicted execution", "execution_id", evicted.ID, "error", err)
		}
	}

	s.publish(ctx, events.Event{
		Type:        events.ExecutionStarted,
		ExecutionID: id,
		Payload: map[string]interface{}{
			"diagram_id": string(diagramID),
			"variables":  variables,
		},
	})
	return st.Clone(), nil
}

// UpdateStatus transitions the execution-level status.
func (s *Service) UpdateStatus(ctx context.Context, id ids.ExecutionID, status execution.Status) (*execution.State, error) {
	snap, ok := s.cache.update(id, func(st *execution.State) {
		st.Status = status
	})
	if !ok {
		return nil, ErrNotFound
	}
	s.publish(ctx, events.Event{
		Type:        events.ExecutionUpdated,
		ExecutionID: id,
		Payload:     map[string]interface{}{"status": string(status)},
	})
	return snap, nil
}

// UpdateNodeStatus transitions a node's status, stamping timestamps and the
// execution counter.
func (s *Service) UpdateNodeStatus(ctx context.Context, id ids.ExecutionID, nodeID ids.NodeID, status execution.Status, nodeErr string) (*execution.State, error) {
	now := time.Now().UTC()
	snap, ok := s.cache.update(id, func(st *execution.State) {
		ns := st.NodeState(nodeID)
		ns.Status = status
		ns.Error = nodeErr
		switch {
		case status == execution.StatusRunning:
			ns.StartedAt = &now
			ns.ExecCount++
		case status.Terminal():
			ns.EndedAt = &now
		}
	})
	if !ok {
		return nil, ErrNotFound
	}

	s.publish(ctx, events.Event{
		Type:        nodeEventType(status),
		ExecutionID: id,
		Payload: map[string]interface{}{
			"node_id": string(nodeID),
			"status":  string(status),
			"error":   nodeErr,
		},
	})
	return snap, nil
}

// UpdateNodeOutput records a node's output envelope.
func (s *Service) UpdateNodeOutput(ctx context.Context, id ids.ExecutionID, nodeID ids.NodeID, out *envelope.Envelope) (*execution.State, error) {
	snap, ok := s.cache.update(id, func(st *execution.State) {
		st.Outputs[nodeID] = out
	})
	if !ok {
		return nil, ErrNotFound
	}
	return snap, nil
}

// AppendTokenUsage accumulates LLM usage at both node and execution level.
func (s *Service) AppendTokenUsage(ctx context.Context, id ids.ExecutionID, nodeID ids.NodeID, usage execution.TokenUsage) (*execution.State, error) {
	snap, ok := s.cache.update(id, func(st *execution.State) {
		st.NodeState(nodeID).TokenUsage.Add(usage)
		st.TokenUsage.Add(usage)
	})
	if !ok {
		return nil, ErrNotFound
	}
	return snap, nil
}

// SetVariable writes an execution-scoped variable.
func (s *Service) SetVariable(ctx context.Context, id ids.ExecutionID, key string, value interface{}) error {
	_, ok := s.cache.update(id, func(st *execution.State) {
		st.Variables[key] = value
	})
	if !ok {
		return ErrNotFound
	}
	return nil
}

// FinishExecution applies the terminal status and publishes the matching
// terminal event. Durable persistence is the StateStoreObserver's job, so
// every subscriber of the terminal event sees the final in-cache state.
func (s *Service) FinishExecution(ctx context.Context, id ids.ExecutionID, status execution.Status, execErr string) (*execution.State, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("state: %s is not a terminal status", status)
	}
	now := time.Now().UTC()
	snap, ok := s.cache.update(id, func(st *execution.State) {
		st.Status = status
		st.EndedAt = &now
		st.Error = execErr
	})
	if !ok {
		return nil, ErrNotFound
	}

	s.publish(ctx, events.Event{
		Type:        terminalEventType(status),
		ExecutionID: id,
		Payload: map[string]interface{}{
			"status": string(status),
			"error":  execErr,
		},
	})
	return snap, nil
}

// PersistFinal flushes the cached record to the durable repository, then
// evicts it from the cache. The record stays live until the save succeeds, so
// readers never hit a window where a terminal execution is in neither place.
func (s *Service) PersistFinal(ctx context.Context, id ids.ExecutionID) error {
	st, ok := s.cache.get(id)
	if !ok {
		return ErrNotFound
	}
	if err := s.repo.Save(ctx, st); err != nil {
		// Record remains cached; a later flush can retry.
		return fmt.Errorf("state: persist %s: %w", id, err)
	}
	s.cache.evict(id)
	return nil
}

// GetExecution reads cache first, repository second, so there is no window
// where a just-persisted execution is invisible.
func (s *Service) GetExecution(ctx context.Context, id ids.ExecutionID) (*execution.State, error) {
	if st, ok := s.cache.get(id); ok {
		return st, nil
	}
	return s.repo.Get(ctx, id)
}

// ListExecutions merges live and persisted records, newest first. Live
// records win on ID collision.
func (s *Service) ListExecutions(ctx context.Context, filter execution.Filter) ([]*execution.State, error) {
	persisted, err := s.repo.List(ctx, execution.Filter{Status: filter.Status, DiagramID: filter.DiagramID})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	seen := make(map[ids.ExecutionID]bool)
	var out []*execution.State
	for _, st := range s.cache.live() {
		if matches(st, filter) {
			out = append(out, st)
			seen[st.ID] = true
		}
	}
	for _, st := range persisted {
		if !seen[st.ID] {
			out = append(out, st)
		}
	}
	sortByStartedAt(out)
	return paginate(out, filter), nil
}

// Cleanup removes persisted terminal executions older than cutoff.
func (s *Service) Cleanup(ctx context.Context, cutoff time.Time) (int, error) {
	return s.repo.CleanupOlderThan(ctx, cutoff)
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, event)
}

func nodeEventType(status execution.Status) events.Type {
	switch status {
	case execution.StatusRunning:
		return events.NodeStarted
	case execution.StatusCompleted, execution.StatusMaxIterReached:
		return events.NodeCompleted
	case execution.StatusFailed:
		return events.NodeFailed
	case execution.StatusSkipped:
		return events.NodeSkipped
	case execution.StatusPaused:
		return events.NodePaused
	}
	return events.NodeRunning
}

func terminalEventType(status execution.Status) events.Type {
	switch status {
	case execution.StatusFailed:
		return events.ExecutionFailed
	case execution.StatusAborted:
		return events.ExecutionAborted
	}
	return events.ExecutionCompleted
}
