package state

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dipeo/dipeo/common/execution"
	"github.com/dipeo/dipeo/common/ids"
)

// ErrNotFound is returned when an execution is unknown to a repository.
var ErrNotFound = errors.New("state: execution not found")

// Repository is the durable store for execution records. Implementations:
// memory, file, redis, postgres.
type Repository interface {
	Create(ctx context.Context, s *execution.State) error
	Get(ctx context.Context, id ids.ExecutionID) (*execution.State, error)
	List(ctx context.Context, filter execution.Filter) ([]*execution.State, error)
	Save(ctx context.Context, s *execution.State) error
	Delete(ctx context.Context, id ids.ExecutionID) error
	// CleanupOlderThan removes terminal executions that ended before cutoff
	// and returns how many were removed.
	CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryRepository keeps everything in process. The default for tests and
// single-shot CLI runs.
type MemoryRepository struct {
	mu   sync.RWMutex
	data map[ids.ExecutionID]*execution.State
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{data: make(map[ids.ExecutionID]*execution.State)}
}

func (r *MemoryRepository) Create(_ context.Context, s *execution.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[s.ID] = s.Clone()
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id ids.ExecutionID) (*execution.State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (r *MemoryRepository) List(_ context.Context, filter execution.Filter) ([]*execution.State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*execution.State
	for _, s := range r.data {
		if matches(s, filter) {
			out = append(out, s.Clone())
		}
	}
	sortByStartedAt(out)
	return paginate(out, filter), nil
}

func (r *MemoryRepository) Save(_ context.Context, s *execution.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[s.ID] = s.Clone()
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id ids.ExecutionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, id)
	return nil
}

func (r *MemoryRepository) CleanupOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, s := range r.data {
		if s.Status.Terminal() && s.EndedAt != nil && s.EndedAt.Before(cutoff) {
			delete(r.data, id)
			removed++
		}
	}
	return removed, nil
}

func matches(s *execution.State, filter execution.Filter) bool {
	if filter.Status != "" && s.Status != filter.Status {
		return false
	}
	if filter.DiagramID != "" && s.DiagramID != filter.DiagramID {
		return false
	}
	return true
}

func sortByStartedAt(list []*execution.State) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].StartedAt.Equal(list[j].StartedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].StartedAt.After(list[j].StartedAt)
	})
}

func paginate(list []*execution.State, filter execution.Filter) []*execution.State {
	if filter.Offset > 0 {
		if filter.Offset >= len(list) {
			return nil
		}
		list = list[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(list) {
		list = list[:filter.Limit]
	}
	return list
}
