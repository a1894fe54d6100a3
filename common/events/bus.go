package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dipeo/dipeo/common/ids"
	"github.com/dipeo/dipeo/common/logger"
)

// Handler consumes one event. Handlers run on a bus-owned worker and must
// not block on the scheduler.
type Handler func(Event)

// BusOpts tunes a bus.
type BusOpts struct {
	// QueueSize bounds each subscriber's queue. Overflow drops the oldest
	// event and bumps the subscription's Dropped counter; publishers never
	// block. Default 1000.
	QueueSize int

	// ReplayWindow is how many events per execution the store retains for
	// late subscribers. 0 disables cold replay.
	ReplayWindow int

	// Retention is how long a finished execution's replay buffer and
	// sequence counter stay around for late readers. Default 60s.
	Retention time.Duration

	Logger *logger.Logger
}

// Bus is the in-memory publish/subscribe fabric. Events for one execution
// are sequenced and delivered in order to every subscriber; there is no
// ordering across executions.
type Bus struct {
	opts BusOpts

	mu          sync.RWMutex
	subscribers map[int64]*Subscription
	nextSubID   int64

	seqMu     sync.Mutex
	sequences map[ids.ExecutionID]int64

	store *Store
}

// Subscription is a live attachment to the bus.
type Subscription struct {
	id      int64
	types   map[Type]bool // nil means all types
	queue   chan Event
	dropped atomic.Int64
	done    chan struct{}
	once    sync.Once
	bus     *Bus
}

// NewBus creates a bus.
func NewBus(opts BusOpts) *Bus {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1000
	}
	if opts.Retention <= 0 {
		opts.Retention = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	b := &Bus{
		opts:        opts,
		subscribers: make(map[int64]*Subscription),
		sequences:   make(map[ids.ExecutionID]int64),
	}
	if opts.ReplayWindow > 0 {
		b.store = NewStore(opts.ReplayWindow)
	}
	return b
}

// Publish assigns the event's per-execution sequence and fans it out.
// Never blocks: lagging subscribers lose their oldest queued events.
func (b *Bus) Publish(_ context.Context, event Event) Event {
	b.seqMu.Lock()
	b.sequences[event.ExecutionID]++
	event.Sequence = b.sequences[event.ExecutionID]
	b.seqMu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if b.store != nil {
		b.store.Append(event)
	}
	if event.Type.ExecutionTerminal() {
		// The terminal event is the last publish for this execution; reclaim
		// its replay buffer and sequence counter after the retention window.
		execID := event.ExecutionID
		time.AfterFunc(b.opts.Retention, func() {
			if b.store != nil {
				b.store.EvictExecution(execID)
			}
			b.seqMu.Lock()
			delete(b.sequences, execID)
			b.seqMu.Unlock()
		})
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		if sub.types != nil && !sub.types[event.Type] {
			continue
		}
		sub.offer(event, b.opts.Logger)
	}
	return event
}

// Subscribe attaches a handler for the given event types (nil or empty means
// every type). The handler runs on a dedicated goroutine fed by a bounded
// queue.
func (b *Bus) Subscribe(types []Type, handler Handler) *Subscription {
	sub := &Subscription{
		queue: make(chan Event, b.opts.QueueSize),
		done:  make(chan struct{}),
		bus:   b,
	}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	b.nextSubID++
	sub.id = b.nextSubID
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	go sub.dispatch(handler, b.opts.Logger)
	return sub
}

// Replay returns stored events for an execution with sequence > since.
// Empty when the replay window is disabled.
func (b *Bus) Replay(executionID ids.ExecutionID, since int64) []Event {
	if b.store == nil {
		return nil
	}
	return b.store.Since(executionID, since)
}

// Close detaches every subscriber.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}

// offer enqueues without blocking, dropping the oldest queued event on
// overflow.
func (s *Subscription) offer(event Event, log *logger.Logger) {
	for {
		select {
		case s.queue <- event:
			return
		default:
		}
		select {
		case dropped := <-s.queue:
			s.dropped.Add(1)
			log.Warn("event subscriber lagging, dropped oldest",
				"execution_id", dropped.ExecutionID,
				"sequence", dropped.Sequence)
		default:
		}
	}
}

func (s *Subscription) dispatch(handler Handler, log *logger.Logger) {
	for {
		select {
		case <-s.done:
			return
		case event := <-s.queue:
			s.invoke(handler, event, log)
		}
	}
}

// invoke isolates handler panics: a dying subscriber must not kill the bus
// or the executions feeding it.
func (s *Subscription) invoke(handler Handler, event Event, log *logger.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("event handler panicked", "panic", r, "event_type", event.Type)
		}
	}()
	handler(event)
}

// Dropped reports how many events this subscriber lost to overflow.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close detaches the subscription from the bus.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subscribers, s.id)
		s.bus.mu.Unlock()
		close(s.done)
	})
}
