// Package analytics forwards engine events to external analytics sinks.
// Sink failures are logged and discarded; they never reach engine callers.
package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Event types emitted by the engine.
const (
	EventInteractionRecorded   = "interaction_recorded"
	EventInteractionDropped    = "interaction_dropped"
	EventRecommendationsServed = "recommendations_served"
	EventGateEvaluated         = "gate_evaluated"
	EventGateIntroduced        = "gate_introduced"
	EventGateUnlocked          = "gate_unlocked"
	EventEngagementGenerated   = "engagement_generated"
)

// Event is one analytics record.
type Event struct {
	At         time.Time      `json:"at"`
	Properties map[string]any `json:"properties,omitempty"`
	Type       string         `json:"type"`
	UserID     string         `json:"user_id"`
}

// Sink receives analytics events.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// NopSink discards every event.
type NopSink struct{}

// Emit does nothing.
func (NopSink) Emit(context.Context, Event) error { return nil }

// LogSink writes events to a zerolog logger at debug level.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink creates a sink logging through log.
func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "analytics").Logger()}
}

// Emit logs e.
func (s *LogSink) Emit(_ context.Context, e Event) error {
	s.log.Debug().
		Str("type", e.Type).
		Str("user", e.UserID).
		Time("at", e.At).
		Fields(e.Properties).
		Msg("Analytics event")
	return nil
}

// MultiSink fans events out to several sinks. Every sink is attempted;
// the returned error joins the individual failures.
type MultiSink []Sink

// Emit forwards e to every sink.
func (m MultiSink) Emit(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
