package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo/common/envelope"
	"github.com/dipeo/dipeo/common/events"
	"github.com/dipeo/dipeo/common/execution"
	"github.com/dipeo/dipeo/common/ids"
)

func newTestService(t *testing.T) (*Service, *events.Bus) {
	t.Helper()
	bus := events.NewBus(events.BusOpts{})
	t.Cleanup(bus.Close)
	return NewService(ServiceOpts{Bus: bus}), bus
}

func TestStartExecutionPublishesAndCaches(t *testing.T) {
	svc, bus := newTestService(t)
	ctx := context.Background()

	var mu sync.Mutex
	var got []events.Event
	sub := bus.Subscribe(nil, func(e events.Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})
	defer sub.Close()

	st, err := svc.StartExecution(ctx, "exec1", "diag1", map[string]interface{}{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, execution.StatusRunning, st.Status)

	// duplicate start rejected
	_, err = svc.StartExecution(ctx, "exec1", "diag1", nil)
	assert.Error(t, err)

	// visible through the read path without persistence
	read, err := svc.GetExecution(ctx, "exec1")
	require.NoError(t, err)
	assert.Equal(t, ids.ExecutionID("exec1"), read.ID)
	assert.Equal(t, "v", read.Variables["k"])

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got)
	assert.Equal(t, events.ExecutionStarted, got[0].Type)
}

func TestNodeLifecycleUpdates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.StartExecution(ctx, "exec1", "diag1", nil)
	require.NoError(t, err)

	st, err := svc.UpdateNodeStatus(ctx, "exec1", "node1", execution.StatusRunning, "")
	require.NoError(t, err)
	ns := st.NodeStates["node1"]
	require.NotNil(t, ns)
	assert.Equal(t, execution.StatusRunning, ns.Status)
	assert.Equal(t, 1, ns.ExecCount)
	assert.NotNil(t, ns.StartedAt)

	out := envelope.Text("done", "node1", "exec1")
	_, err = svc.UpdateNodeOutput(ctx, "exec1", "node1", out)
	require.NoError(t, err)

	st, err = svc.UpdateNodeStatus(ctx, "exec1", "node1", execution.StatusCompleted, "")
	require.NoError(t, err)
	ns = st.NodeStates["node1"]
	assert.Equal(t, execution.StatusCompleted, ns.Status)
	assert.NotNil(t, ns.EndedAt)
	assert.Same(t, out, st.Outputs["node1"])

	// second run bumps the counter
	st, err = svc.UpdateNodeStatus(ctx, "exec1", "node1", execution.StatusRunning, "")
	require.NoError(t, err)
	assert.Equal(t, 2, st.NodeStates["node1"].ExecCount)
}

func TestTokenUsageAccumulates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.StartExecution(ctx, "exec1", "diag1", nil)
	require.NoError(t, err)

	_, err = svc.AppendTokenUsage(ctx, "exec1", "node1", execution.TokenUsage{Input: 10, Output: 5, Total: 15})
	require.NoError(t, err)
	st, err := svc.AppendTokenUsage(ctx, "exec1", "node2", execution.TokenUsage{Input: 3, Output: 2, Total: 5})
	require.NoError(t, err)

	assert.Equal(t, 13, st.TokenUsage.Input)
	assert.Equal(t, 20, st.TokenUsage.Total)
	assert.Equal(t, 15, st.NodeStates["node1"].TokenUsage.Total)
	assert.Equal(t, 5, st.NodeStates["node2"].TokenUsage.Total)
}

func TestFinishAndPersistFinal(t *testing.T) {
	repo := NewMemoryRepository()
	bus := events.NewBus(events.BusOpts{})
	defer bus.Close()
	svc := NewService(ServiceOpts{Repository: repo, Bus: bus})
	ctx := context.Background()

	_, err := svc.StartExecution(ctx, "exec1", "diag1", nil)
	require.NoError(t, err)

	// non-terminal status rejected
	_, err = svc.FinishExecution(ctx, "exec1", execution.StatusRunning, "")
	assert.Error(t, err)

	st, err := svc.FinishExecution(ctx, "exec1", execution.StatusCompleted, "")
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, st.Status)
	require.NotNil(t, st.EndedAt)

	// not yet durable
	_, err = repo.Get(ctx, "exec1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.PersistFinal(ctx, "exec1"))

	persisted, err := repo.Get(ctx, "exec1")
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, persisted.Status)

	// still readable through the service after eviction
	read, err := svc.GetExecution(ctx, "exec1")
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, read.Status)

	// second persist has nothing to flush
	assert.ErrorIs(t, svc.PersistFinal(ctx, "exec1"), ErrNotFound)
}

// slowRepo blocks Save until released so tests can observe the persist window.
type slowRepo struct {
	*MemoryRepository
	entered chan struct{}
	release chan struct{}
}

func (r *slowRepo) Save(ctx context.Context, s *execution.State) error {
	close(r.entered)
	<-r.release
	return r.MemoryRepository.Save(ctx, s)
}

func TestPersistFinalKeepsExecutionVisible(t *testing.T) {
	repo := &slowRepo{
		MemoryRepository: NewMemoryRepository(),
		entered:          make(chan struct{}),
		release:          make(chan struct{}),
	}
	svc := NewService(ServiceOpts{Repository: repo})
	ctx := context.Background()

	_, err := svc.StartExecution(ctx, "exec1", "diag1", nil)
	require.NoError(t, err)
	_, err = svc.FinishExecution(ctx, "exec1", execution.StatusCompleted, "")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- svc.PersistFinal(ctx, "exec1") }()

	// Mid-save the record must still be readable from the cache.
	<-repo.entered
	read, err := svc.GetExecution(ctx, "exec1")
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, read.Status)

	close(repo.release)
	require.NoError(t, <-done)

	// After eviction it reads from the repository.
	read, err = svc.GetExecution(ctx, "exec1")
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, read.Status)
}

func TestListExecutionsMergesLiveAndPersisted(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(ServiceOpts{Repository: repo})
	ctx := context.Background()

	old := execution.NewState("exec_old", "diag1", nil)
	old.Status = execution.StatusCompleted
	old.StartedAt = time.Now().Add(-time.Hour)
	require.NoError(t, repo.Save(ctx, old))

	_, err := svc.StartExecution(ctx, "exec_live", "diag1", nil)
	require.NoError(t, err)

	all, err := svc.ListExecutions(ctx, execution.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, ids.ExecutionID("exec_live"), all[0].ID)
	assert.Equal(t, ids.ExecutionID("exec_old"), all[1].ID)

	running, err := svc.ListExecutions(ctx, execution.Filter{Status: execution.StatusRunning})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, ids.ExecutionID("exec_live"), running[0].ID)
}

func TestUnknownExecutionErrors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.UpdateNodeStatus(ctx, "missing", "node1", execution.StatusRunning, "")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.GetExecution(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, svc.SetVariable(ctx, "missing", "k", 1), ErrNotFound)
}

func TestCacheEvictionFlushesToRepository(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(ServiceOpts{Repository: repo, MaxLive: 2})
	ctx := context.Background()

	_, err := svc.StartExecution(ctx, "exec1", "diag1", nil)
	require.NoError(t, err)
	_, err = svc.StartExecution(ctx, "exec2", "diag1", nil)
	require.NoError(t, err)
	_, err = svc.StartExecution(ctx, "exec3", "diag1", nil)
	require.NoError(t, err)

	// exec1 was least recently used and got flushed on eviction
	persisted, err := repo.Get(ctx, "exec1")
	require.NoError(t, err)
	assert.Equal(t, ids.ExecutionID("exec1"), persisted.ID)
}

func TestFileRepositoryRoundTrip(t *testing.T) {
	repo, err := NewFileRepository(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	st := execution.NewState("exec1", "diag1", map[string]interface{}{"k": "v"})
	st.Status = execution.StatusCompleted
	now := time.Now().UTC()
	st.EndedAt = &now
	st.Outputs["node1"] = envelope.Text("hello", "node1", "exec1")
	require.NoError(t, repo.Save(ctx, st))

	got, err := repo.Get(ctx, "exec1")
	require.NoError(t, err)
	assert.Equal(t, st.ID, got.ID)
	assert.Equal(t, execution.StatusCompleted, got.Status)
	text, err := got.Outputs["node1"].AsText()
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	list, err := repo.List(ctx, execution.Filter{})
	require.NoError(t, err)
	require.Len(t, list, 1)

	cutoff := time.Now().Add(time.Minute)
	removed, err := repo.CleanupOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = repo.Get(ctx, "exec1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJanitorSweepsExpiredExecutions(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(ServiceOpts{Repository: repo})
	ctx := context.Background()

	old := execution.NewState("exec_old", "diag1", nil)
	old.Status = execution.StatusCompleted
	ended := time.Now().Add(-2 * time.Hour)
	old.EndedAt = &ended
	require.NoError(t, repo.Save(ctx, old))

	jctx, cancel := context.WithCancel(ctx)
	defer cancel()
	janitor := NewJanitor(JanitorOpts{
		Service:  svc,
		Interval: 10 * time.Millisecond,
		Retain:   time.Hour,
	})
	go janitor.Start(jctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := repo.Get(ctx, "exec_old"); err != nil {
			assert.ErrorIs(t, err, ErrNotFound)
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("expired execution was not removed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
