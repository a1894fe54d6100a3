package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo/common/events"
)

func newBusWithLog(t *testing.T) (*events.Bus, func() []events.Event) {
	t.Helper()
	bus := events.NewBus(events.BusOpts{QueueSize: 64, ReplayWindow: 64})
	t.Cleanup(bus.Close)

	var mu sync.Mutex
	var log []events.Event
	sub := bus.Subscribe(nil, func(e events.Event) {
		mu.Lock()
		log = append(log, e)
		mu.Unlock()
	})
	t.Cleanup(sub.Close)

	return bus, func() []events.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]events.Event(nil), log...)
	}
}

func TestAskDeliversAnswer(t *testing.T) {
	bus, snapshot := newBusWithLog(t)
	r := NewInteractiveResponder(bus, nil)

	answered := make(chan struct{})
	go func() {
		defer close(answered)
		require.Eventually(t, func() bool {
			return r.Respond("exec-1", "node-1", "yes") == nil
		}, 2*time.Second, 10*time.Millisecond)
	}()

	answer, err := r.Ask(context.Background(), "exec-1", "node-1", "continue?", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "yes", answer)
	<-answered

	var sawPrompt, sawResponse bool
	require.Eventually(t, func() bool {
		for _, e := range snapshot() {
			switch e.Type {
			case events.InteractivePrompt:
				sawPrompt = true
				assert.Equal(t, "continue?", e.Payload["prompt"])
			case events.InteractiveResp:
				sawResponse = true
			}
		}
		return sawPrompt && sawResponse
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAskTimesOut(t *testing.T) {
	bus, _ := newBusWithLog(t)
	r := NewInteractiveResponder(bus, nil)

	_, err := r.Ask(context.Background(), "exec-1", "node-1", "anyone?", 20*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestAskCancelledByContext(t *testing.T) {
	bus, _ := newBusWithLog(t)
	r := NewInteractiveResponder(bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := r.Ask(ctx, "exec-1", "node-1", "anyone?", time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRespondWithoutPendingPrompt(t *testing.T) {
	bus, _ := newBusWithLog(t)
	r := NewInteractiveResponder(bus, nil)

	err := r.Respond("exec-1", "node-1", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pending prompt")
}

func TestDuplicatePromptRejected(t *testing.T) {
	bus, _ := newBusWithLog(t)
	r := NewInteractiveResponder(bus, nil)

	started := make(chan struct{})
	go func() {
		close(started)
		r.Ask(context.Background(), "exec-1", "node-1", "first", time.Second)
	}()
	<-started

	require.Eventually(t, func() bool {
		return len(r.Pending()) == 1
	}, time.Second, 5*time.Millisecond)

	_, err := r.Ask(context.Background(), "exec-1", "node-1", "second", time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already pending")

	require.NoError(t, r.Respond("exec-1", "node-1", "done"))
}
