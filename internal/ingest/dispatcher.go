// Package ingest serializes interaction processing per user behind bounded queues.
package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/adaptly/pkg/models"
)

// DefaultQueueCapacity is the number of pending events held per user.
const DefaultQueueCapacity = 100

// ErrClosed is returned when enqueueing into a closed dispatcher.
var ErrClosed = errors.New("dispatcher closed")

// Handler processes one event. Calls for the same user never overlap.
type Handler func(ctx context.Context, userID string, event models.InteractionEvent)

// DropFunc is notified when a queued event is evicted to make room.
type DropFunc func(userID string, event models.InteractionEvent)

// pending is a queued event, or a flush barrier when barrier is non-nil.
type pending struct {
	barrier chan struct{}
	event   models.InteractionEvent
}

// userQueue holds the pending work of one user.
type userQueue struct {
	items   []pending
	events  int
	running bool
}

// Dispatcher runs at most one worker goroutine per user with pending work.
// A worker exits as soon as its queue is empty.
type Dispatcher struct {
	ctx      context.Context
	handler  Handler
	onDrop   DropFunc
	queues   map[string]*userQueue
	cancel   context.CancelFunc
	log      zerolog.Logger
	capacity int
	wg       sync.WaitGroup
	mu       sync.Mutex
	closed   bool

	enqueued  atomic.Int64
	processed atomic.Int64
	dropped   atomic.Int64
}

// NewDispatcher creates a dispatcher invoking handler for every event.
func NewDispatcher(handler Handler, capacity int) *Dispatcher {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		ctx:      ctx,
		cancel:   cancel,
		handler:  handler,
		capacity: capacity,
		queues:   make(map[string]*userQueue),
		log:      log.With().Str("component", "ingest").Logger(),
	}
}

// SetOnDrop sets a callback for evicted events. Call before the first Enqueue.
func (d *Dispatcher) SetOnDrop(fn DropFunc) {
	d.onDrop = fn
}

// Enqueue queues event for userID. When the user's queue is full the oldest
// pending event is dropped. Flush barriers are never dropped.
func (d *Dispatcher) Enqueue(userID string, event models.InteractionEvent) error {
	var (
		evicted models.InteractionEvent
		didDrop bool
	)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	q := d.queueLocked(userID)
	if q.events >= d.capacity {
		for i, it := range q.items {
			if it.barrier == nil {
				evicted = it.event
				q.items = append(q.items[:i], q.items[i+1:]...)
				q.events--
				didDrop = true
				break
			}
		}
	}
	q.items = append(q.items, pending{event: event})
	q.events++
	depth := q.events
	d.startLocked(userID, q)
	d.mu.Unlock()

	d.enqueued.Add(1)
	if didDrop {
		d.dropped.Add(1)
		d.log.Warn().Str("user", userID).Str("dropped", evicted.ID).Int("capacity", d.capacity).Msg("Ingest queue full, dropped oldest event")
		if d.onDrop != nil {
			d.onDrop(userID, evicted)
		}
	}
	d.log.Debug().Str("user", userID).Int("queueDepth", depth).Msg("Event queued")
	return nil
}

// Flush blocks until every event queued for userID before the call has been processed.
func (d *Dispatcher) Flush(ctx context.Context, userID string) error {
	d.mu.Lock()
	q, ok := d.queues[userID]
	if !ok {
		d.mu.Unlock()
		return nil
	}
	barrier := make(chan struct{})
	q.items = append(q.items, pending{barrier: barrier})
	d.startLocked(userID, q)
	d.mu.Unlock()

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) queueLocked(userID string) *userQueue {
	q, ok := d.queues[userID]
	if !ok {
		q = &userQueue{items: make([]pending, 0, 8)}
		d.queues[userID] = q
	}
	return q
}

func (d *Dispatcher) startLocked(userID string, q *userQueue) {
	if q.running {
		return
	}
	q.running = true
	d.wg.Add(1)
	go d.run(userID, q)
}

// run drains q, then removes it and exits.
func (d *Dispatcher) run(userID string, q *userQueue) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(q.items) == 0 {
			q.running = false
			delete(d.queues, userID)
			d.mu.Unlock()
			return
		}
		it := q.items[0]
		q.items[0] = pending{}
		q.items = q.items[1:]
		if it.barrier == nil {
			q.events--
		}
		d.mu.Unlock()

		if it.barrier != nil {
			close(it.barrier)
			continue
		}
		d.process(userID, it.event)
	}
}

func (d *Dispatcher) process(userID string, e models.InteractionEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Str("user", userID).Str("event", e.ID).Msg("Event handler panicked")
		}
	}()
	d.handler(d.ctx, userID, e)
	d.processed.Add(1)
}

// Close stops accepting events and waits for queued work to finish or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}

// Stats reports queue activity.
type Stats struct {
	ActiveUsers int   `json:"active_users"`
	QueueDepth  int   `json:"queue_depth"`
	Enqueued    int64 `json:"enqueued"`
	Processed   int64 `json:"processed"`
	Dropped     int64 `json:"dropped"`
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	active := len(d.queues)
	depth := 0
	for _, q := range d.queues {
		depth += q.events
	}
	d.mu.Unlock()
	return Stats{
		ActiveUsers: active,
		QueueDepth:  depth,
		Enqueued:    d.enqueued.Load(),
		Processed:   d.processed.Load(),
		Dropped:     d.dropped.Load(),
	}
}
