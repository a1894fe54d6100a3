package router

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo/common/events"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	got    []events.Event
	fail   bool
	closed bool
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(event events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("write: broken pipe")
	}
	c.got = append(c.got, event)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) events() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Event(nil), c.got...)
}

func TestRouteDeliversOnlyToSubscribers(t *testing.T) {
	r := New(Opts{})

	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}
	r.Register(a)
	r.Register(b)
	require.NoError(t, r.Subscribe("a", "exec1"))
	require.NoError(t, r.Subscribe("b", "exec2"))

	r.Route(events.Event{Type: events.NodeCompleted, ExecutionID: "exec1", Sequence: 1})

	require.Len(t, a.events(), 1)
	assert.Empty(t, b.events())
	assert.Equal(t, 1, r.SubscriberCount("exec1"))
}

func TestSubscribeUnknownConnection(t *testing.T) {
	r := New(Opts{})
	assert.Error(t, r.Subscribe("ghost", "exec1"))
}

func TestFailedSendRemovesConnection(t *testing.T) {
	r := New(Opts{})

	broken := &fakeConn{id: "broken", fail: true}
	healthy := &fakeConn{id: "healthy"}
	r.Register(broken)
	r.Register(healthy)
	require.NoError(t, r.Subscribe("broken", "exec1"))
	require.NoError(t, r.Subscribe("healthy", "exec1"))

	r.Route(events.Event{Type: events.NodeCompleted, ExecutionID: "exec1", Sequence: 1})

	assert.True(t, broken.closed)
	assert.Equal(t, 1, r.SubscriberCount("exec1"))
	require.Len(t, healthy.events(), 1)

	// the removed connection gets nothing further
	r.Route(events.Event{Type: events.NodeCompleted, ExecutionID: "exec1", Sequence: 2})
	require.Len(t, healthy.events(), 2)
	assert.Empty(t, broken.events())
}

func TestUnregisterDropsAllSubscriptions(t *testing.T) {
	r := New(Opts{})
	a := &fakeConn{id: "a"}
	r.Register(a)
	require.NoError(t, r.Subscribe("a", "exec1"))
	require.NoError(t, r.Subscribe("a", "exec2"))

	r.Unregister("a")
	assert.Equal(t, 0, r.SubscriberCount("exec1"))
	assert.Equal(t, 0, r.SubscriberCount("exec2"))

	r.Route(events.Event{Type: events.NodeCompleted, ExecutionID: "exec1"})
	assert.Empty(t, a.events())
}

func TestCLISessionRegistry(t *testing.T) {
	r := New(Opts{})

	assert.False(t, r.IsCLISession("exec1"))
	r.RegisterCLISession("exec1")
	assert.True(t, r.IsCLISession("exec1"))
	assert.Equal(t, 1, len(r.ActiveCLISessions()))

	r.UnregisterCLISession("exec1")
	assert.False(t, r.IsCLISession("exec1"))
	assert.Empty(t, r.ActiveCLISessions())
}
