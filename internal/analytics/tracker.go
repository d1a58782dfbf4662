package analytics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Tracker defaults.
const (
	DefaultBufferSize  = 1024
	DefaultEmitTimeout = 2 * time.Second
)

// Tracker delivers events to a sink from a background goroutine.
// Track never blocks: when the buffer is full the event is dropped and counted.
type Tracker struct {
	sink    Sink
	log     zerolog.Logger
	events  chan Event
	doneCh  chan struct{}
	timeout time.Duration
	mu      sync.RWMutex
	closed  bool

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewTracker starts a tracker delivering to sink. bufferSize <= 0 uses DefaultBufferSize.
func NewTracker(sink Sink, bufferSize int) *Tracker {
	if sink == nil {
		sink = NopSink{}
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	t := &Tracker{
		sink:    sink,
		log:     log.With().Str("component", "analytics-tracker").Logger(),
		events:  make(chan Event, bufferSize),
		doneCh:  make(chan struct{}),
		timeout: DefaultEmitTimeout,
	}
	go t.run()
	return t
}

// Track queues e for delivery.
func (t *Tracker) Track(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		t.dropped.Add(1)
		return
	}
	select {
	case t.events <- e:
	default:
		t.dropped.Add(1)
		t.log.Warn().Str("type", e.Type).Str("user", e.UserID).Msg("Analytics buffer full, dropping event")
	}
}

func (t *Tracker) run() {
	defer close(t.doneCh)
	for e := range t.events {
		t.deliver(e)
	}
}

func (t *Tracker) deliver(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			t.failed.Add(1)
			t.log.Error().Interface("panic", r).Str("type", e.Type).Msg("Analytics sink panicked")
		}
	}()

	if err := t.sink.Emit(ctx, e); err != nil {
		t.failed.Add(1)
		t.log.Warn().Err(err).Str("type", e.Type).Str("user", e.UserID).Msg("Analytics sink failed")
		return
	}
	t.delivered.Add(1)
}

// Close stops accepting events and waits for queued events to be delivered or ctx to end.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.events)
	}
	t.mu.Unlock()

	select {
	case <-t.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrackerStats reports delivery outcomes.
type TrackerStats struct {
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Queued    int   `json:"queued"`
}

// Stats returns the current delivery counters.
func (t *Tracker) Stats() TrackerStats {
	return TrackerStats{
		Delivered: t.delivered.Load(),
		Failed:    t.failed.Load(),
		Dropped:   t.dropped.Load(),
		Queued:    len(t.events),
	}
}
