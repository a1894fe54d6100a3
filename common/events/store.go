package events

import (
	"sync"

	"github.com/dipeo/dipeo/common/ids"
)

// Store retains the last N events per execution so a late subscriber can
// cold-replay from sequence+1 before switching to the live stream.
type Store struct {
	mu     sync.RWMutex
	window int
	events map[ids.ExecutionID][]Event
}

// NewStore creates a store retaining window events per execution.
func NewStore(window int) *Store {
	return &Store{
		window: window,
		events: make(map[ids.ExecutionID][]Event),
	}
}

// Append records an event, evicting the oldest beyond the window.
func (s *Store) Append(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := append(s.events[event.ExecutionID], event)
	if len(buf) > s.window {
		buf = buf[len(buf)-s.window:]
	}
	s.events[event.ExecutionID] = buf
}

// Since returns events for an execution with sequence > since, in order.
func (s *Store) Since(executionID ids.ExecutionID, since int64) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := s.events[executionID]
	var out []Event
	for _, e := range buf {
		if e.Sequence > since {
			out = append(out, e)
		}
	}
	return out
}

// EvictExecution drops one execution's retained events.
func (s *Store) EvictExecution(executionID ids.ExecutionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, executionID)
}
