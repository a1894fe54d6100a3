package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestPublishAssignsMonotonicSequences(t *testing.T) {
	bus := NewBus(BusOpts{})
	defer bus.Close()

	var mu sync.Mutex
	var got []int64
	sub := bus.Subscribe(nil, func(e Event) {
		mu.Lock()
		got = append(got, e.Sequence)
		mu.Unlock()
	})
	defer sub.Close()

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		bus.Publish(ctx, Event{Type: ExecutionUpdated, ExecutionID: "exec1"})
	}
	// a second execution gets its own sequence space
	e := bus.Publish(ctx, Event{Type: ExecutionStarted, ExecutionID: "exec2"})
	assert.Equal(t, int64(1), e.Sequence)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 51
	})

	mu.Lock()
	defer mu.Unlock()
	var last int64
	for _, seq := range got[:50] {
		assert.Greater(t, seq, last)
		last = seq
	}
}

func TestSubscribeFiltersTypes(t *testing.T) {
	bus := NewBus(BusOpts{})
	defer bus.Close()

	var mu sync.Mutex
	var got []Type
	sub := bus.Subscribe([]Type{NodeCompleted}, func(e Event) {
		mu.Lock()
		got = append(got, e.Type)
		mu.Unlock()
	})
	defer sub.Close()

	ctx := context.Background()
	bus.Publish(ctx, Event{Type: NodeStarted, ExecutionID: "exec1"})
	bus.Publish(ctx, Event{Type: NodeCompleted, ExecutionID: "exec1"})
	bus.Publish(ctx, Event{Type: ExecutionCompleted, ExecutionID: "exec1"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	mu.Lock()
	assert.Equal(t, NodeCompleted, got[0])
	mu.Unlock()
}

func TestSlowSubscriberDropsOldestWithoutBlockingPublisher(t *testing.T) {
	bus := NewBus(BusOpts{QueueSize: 8})
	defer bus.Close()

	release := make(chan struct{})
	var mu sync.Mutex
	var got []int64
	slow := bus.Subscribe(nil, func(e Event) {
		<-release
		mu.Lock()
		got = append(got, e.Sequence)
		mu.Unlock()
	})
	defer slow.Close()

	var fastMu sync.Mutex
	var fastGot []int64
	fast := bus.Subscribe(nil, func(e Event) {
		fastMu.Lock()
		fastGot = append(fastGot, e.Sequence)
		fastMu.Unlock()
	})
	defer fast.Close()

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			bus.Publish(ctx, Event{Type: ExecutionUpdated, ExecutionID: "exec1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}

	close(release)
	waitFor(t, func() bool {
		fastMu.Lock()
		defer fastMu.Unlock()
		return len(fastGot) == 200
	})

	assert.Greater(t, slow.Dropped(), int64(0))

	// whatever the slow subscriber sees is still in order
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0 && len(got)+int(slow.Dropped()) >= 200
	})
	mu.Lock()
	defer mu.Unlock()
	var last int64
	for _, seq := range got {
		assert.Greater(t, seq, last)
		last = seq
	}

	// fast subscriber observed everything
	fastMu.Lock()
	defer fastMu.Unlock()
	assert.Len(t, fastGot, 200)
}

func TestHandlerPanicDoesNotKillBus(t *testing.T) {
	bus := NewBus(BusOpts{})
	defer bus.Close()

	var mu sync.Mutex
	count := 0
	sub := bus.Subscribe(nil, func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
		if count == 1 {
			panic("subscriber bug")
		}
	})
	defer sub.Close()

	ctx := context.Background()
	bus.Publish(ctx, Event{Type: ExecutionUpdated, ExecutionID: "exec1"})
	bus.Publish(ctx, Event{Type: ExecutionUpdated, ExecutionID: "exec1"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 2
	})
}

func TestColdReplay(t *testing.T) {
	bus := NewBus(BusOpts{ReplayWindow: 10})
	defer bus.Close()

	ctx := context.Background()
	for i := 0; i < 25; i++ {
		bus.Publish(ctx, Event{Type: ExecutionUpdated, ExecutionID: "exec1"})
	}

	// window keeps the last 10 (sequences 16..25)
	replay := bus.Replay("exec1", 0)
	require.Len(t, replay, 10)
	assert.Equal(t, int64(16), replay[0].Sequence)

	// replay from a midpoint
	replay = bus.Replay("exec1", 20)
	require.Len(t, replay, 5)
	assert.Equal(t, int64(21), replay[0].Sequence)

	// no window configured
	bare := NewBus(BusOpts{})
	defer bare.Close()
	bare.Publish(ctx, Event{Type: ExecutionUpdated, ExecutionID: "exec1"})
	assert.Empty(t, bare.Replay("exec1", 0))
}

func TestTerminalEventReclaimsStream(t *testing.T) {
	bus := NewBus(BusOpts{ReplayWindow: 10, Retention: 20 * time.Millisecond})
	defer bus.Close()

	ctx := context.Background()
	bus.Publish(ctx, Event{Type: ExecutionStarted, ExecutionID: "exec1"})
	bus.Publish(ctx, Event{Type: ExecutionCompleted, ExecutionID: "exec1"})
	require.Len(t, bus.Replay("exec1", 0), 2)

	waitFor(t, func() bool {
		return len(bus.Replay("exec1", 0)) == 0
	})

	// the sequence space was reclaimed with the buffer
	e := bus.Publish(ctx, Event{Type: ExecutionStarted, ExecutionID: "exec1"})
	assert.Equal(t, int64(1), e.Sequence)
}

func BenchmarkPublishFanout(b *testing.B) {
	bus := NewBus(BusOpts{QueueSize: 4096})
	defer bus.Close()

	for i := 0; i < 4; i++ {
		sub := bus.Subscribe(nil, func(Event) {})
		defer sub.Close()
	}

	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bus.Publish(ctx, Event{Type: ExecutionUpdated, ExecutionID: "bench"})
	}
}
