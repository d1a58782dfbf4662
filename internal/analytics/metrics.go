package analytics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName scopes every instrument this package creates.
const meterName = "github.com/thebtf/adaptly"

// Metrics holds the engine's OpenTelemetry instruments.
// With no MeterProvider installed the global provider is a no-op.
type Metrics struct {
	interactions    metric.Int64Counter
	dropped         metric.Int64Counter
	recommendations metric.Int64Counter
	fallbacks       metric.Int64Counter
	gateDecisions   metric.Int64Counter
	unlocks         metric.Int64Counter
	batchSize       metric.Int64Histogram
}

// NewMetrics creates instruments from provider, or the global provider when nil.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	var (
		m   Metrics
		err error
	)
	if m.interactions, err = meter.Int64Counter("adaptly.interactions",
		metric.WithDescription("Interaction events accepted into the ledger")); err != nil {
		return nil, err
	}
	if m.dropped, err = meter.Int64Counter("adaptly.interactions.dropped",
		metric.WithDescription("Interaction events dropped from a full ingest queue")); err != nil {
		return nil, err
	}
	if m.recommendations, err = meter.Int64Counter("adaptly.recommendations",
		metric.WithDescription("Recommendations returned to callers")); err != nil {
		return nil, err
	}
	if m.fallbacks, err = meter.Int64Counter("adaptly.recommendations.fallback",
		metric.WithDescription("Recommendation batches answered with the cold-start fallback")); err != nil {
		return nil, err
	}
	if m.gateDecisions, err = meter.Int64Counter("adaptly.gate.decisions",
		metric.WithDescription("Gate eligibility evaluations")); err != nil {
		return nil, err
	}
	if m.unlocks, err = meter.Int64Counter("adaptly.gate.unlocks",
		metric.WithDescription("Gates unlocked")); err != nil {
		return nil, err
	}
	if m.batchSize, err = meter.Int64Histogram("adaptly.recommendations.candidates",
		metric.WithDescription("Candidates considered per recommendation batch")); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordInteraction counts an accepted event.
func (m *Metrics) RecordInteraction(ctx context.Context, action string) {
	m.interactions.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

// RecordDropped counts events evicted from an ingest queue.
func (m *Metrics) RecordDropped(ctx context.Context, n int) {
	m.dropped.Add(ctx, int64(n))
}

// RecordRecommendations counts a served batch.
func (m *Metrics) RecordRecommendations(ctx context.Context, candidates, served int, fallback bool) {
	m.batchSize.Record(ctx, int64(candidates))
	m.recommendations.Add(ctx, int64(served))
	if fallback {
		m.fallbacks.Add(ctx, 1)
	}
}

// RecordGateDecision counts an evaluation; reason is empty for eligible decisions.
func (m *Metrics) RecordGateDecision(ctx context.Context, gateID string, eligible bool, reason string) {
	m.gateDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("gate", gateID),
		attribute.Bool("eligible", eligible),
		attribute.String("reason", reason),
	))
}

// RecordUnlock counts an unlock.
func (m *Metrics) RecordUnlock(ctx context.Context, gateID string) {
	m.unlocks.Add(ctx, 1, metric.WithAttributes(attribute.String("gate", gateID)))
}
