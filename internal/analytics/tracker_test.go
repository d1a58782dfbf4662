package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/goleak"
)

// recordingSink stores delivered events.
type recordingSink struct {
	events []Event
	mu     sync.Mutex
}

func (s *recordingSink) Emit(_ context.Context, e Event) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

func TestTracker_DeliversInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &recordingSink{}
	tr := NewTracker(sink, 16)
	tr.Track(Event{Type: EventInteractionRecorded, UserID: "u1"})
	tr.Track(Event{Type: EventGateEvaluated, UserID: "u1"})
	require.NoError(t, tr.Close(context.Background()))

	assert.Equal(t, []string{EventInteractionRecorded, EventGateEvaluated}, sink.types())
	assert.Equal(t, TrackerStats{Delivered: 2}, tr.Stats())
	for _, e := range sink.events {
		assert.False(t, e.At.IsZero())
	}
}

func TestTracker_SinkErrorsAreSwallowed(t *testing.T) {
	defer goleak.VerifyNone(t)

	calls := 0
	tr := NewTracker(SinkFunc(func(context.Context, Event) error {
		calls++
		if calls == 1 {
			return errors.New("collector offline")
		}
		if calls == 2 {
			panic("bad sink")
		}
		return nil
	}), 8)
	for i := 0; i < 3; i++ {
		tr.Track(Event{Type: EventGateUnlocked})
	}
	require.NoError(t, tr.Close(context.Background()))

	stats := tr.Stats()
	assert.EqualValues(t, 2, stats.Failed)
	assert.EqualValues(t, 1, stats.Delivered)
}

func TestTracker_DropsWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	tr := NewTracker(SinkFunc(func(context.Context, Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}), 2)

	tr.Track(Event{Type: "first"})
	<-started // the worker holds "first"; the buffer is empty again
	tr.Track(Event{Type: "a"})
	tr.Track(Event{Type: "b"})
	tr.Track(Event{Type: "overflow"})

	assert.EqualValues(t, 1, tr.Stats().Dropped)
	close(release)
	require.NoError(t, tr.Close(context.Background()))
	assert.EqualValues(t, 3, tr.Stats().Delivered)
}

func TestTracker_TrackAfterCloseIsDropped(t *testing.T) {
	defer goleak.VerifyNone(t)

	tr := NewTracker(nil, 0)
	require.NoError(t, tr.Close(context.Background()))
	require.NoError(t, tr.Close(context.Background()))

	tr.Track(Event{Type: "late"})
	assert.EqualValues(t, 1, tr.Stats().Dropped)
}

func TestTracker_CloseHonorsContext(t *testing.T) {
	release := make(chan struct{})
	tr := NewTracker(SinkFunc(func(context.Context, Event) error {
		<-release
		return nil
	}), 4)
	tr.Track(Event{Type: "slow"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tr.Close(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, tr.Close(context.Background()))
}

func TestMultiSink_JoinsErrors(t *testing.T) {
	good := &recordingSink{}
	boom := errors.New("boom")
	m := MultiSink{
		good,
		SinkFunc(func(context.Context, Event) error { return boom }),
		NopSink{},
	}

	err := m.Emit(context.Background(), Event{Type: "x"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"x"}, good.types())
}

func TestLogSink(t *testing.T) {
	s := NewLogSink(zerolog.Nop())
	assert.NoError(t, s.Emit(context.Background(), Event{Type: "x", Properties: map[string]any{"k": 1}}))
}

func TestMetrics_NoopProvider(t *testing.T) {
	m, err := NewMetrics(noop.NewMeterProvider())
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordInteraction(ctx, "view")
	m.RecordDropped(ctx, 2)
	m.RecordRecommendations(ctx, 10, 4, true)
	m.RecordGateDecision(ctx, "g1", false, "age-restriction")
	m.RecordUnlock(ctx, "g1")
}

func TestMetrics_GlobalProvider(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)
	assert.NotNil(t, m)
}
