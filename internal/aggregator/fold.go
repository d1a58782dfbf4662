// Package aggregator derives usage patterns from a user's interaction ledger.
package aggregator

import (
	"math"
	"time"

	"github.com/thebtf/adaptly/pkg/models"
)

// dayLayout keys the active-day histogram.
const dayLayout = "2006-01-02"

// Rebuild folds events into a fresh UsagePattern.
// The result depends only on events and cfg, never on the wall clock.
func Rebuild(userID string, events []models.InteractionEvent, cfg models.AggregatorConfig) *models.UsagePattern {
	p := models.NewUsagePattern(userID)
	for i := range events {
		accumulate(p, &events[i])
	}
	finalize(p, cfg)
	return p
}

// Apply folds one more event into p in place. Apply(Rebuild(xs), x) equals Rebuild(append(xs, x)).
func Apply(p *models.UsagePattern, event models.InteractionEvent, cfg models.AggregatorConfig) {
	accumulate(p, &event)
	finalize(p, cfg)
}

func accumulate(p *models.UsagePattern, e *models.InteractionEvent) {
	ts := e.Timestamp.UTC()

	p.TotalEvents++
	p.TimeSlots.Add(models.SlotForHour(ts.Hour()))

	device := e.Device
	if device == "" {
		device = models.DeviceUnknown
	}
	p.Devices[string(device)]++

	if f := e.Feature(); f != "" {
		p.FeatureUsage[f]++
	}
	if c := e.Category(); c != "" {
		p.CategoryPreferences[c]++
	}
	if e.SessionID != "" {
		p.Sessions[e.SessionID]++
	}

	if e.Success {
		p.SuccessfulEvents++
		if e.Context != "" {
			p.CompletionRates[e.Context]++
		}
	} else {
		element := e.Target
		if element == "" {
			element = string(e.Action)
		}
		p.AbandonmentPoints[element]++
	}

	if e.Timestamp.IsZero() {
		return
	}
	p.ActiveDays[ts.Format(dayLayout)]++
	if p.FirstSeen.IsZero() || ts.Before(p.FirstSeen) {
		p.FirstSeen = ts
	}
	if ts.After(p.LastSeen) {
		p.LastSeen = ts
	}
}

// finalize recomputes the fields that depend on the whole fold.
func finalize(p *models.UsagePattern, cfg models.AggregatorConfig) {
	p.EngagementTrend = Trend(p.TotalEvents, cfg)
	p.ReturnFrequency = float64(p.TotalEvents) / SpanDays(p.FirstSeen, p.LastSeen)
}

// Trend classifies an event volume against the configured thresholds.
func Trend(total int, cfg models.AggregatorConfig) models.EngagementTrend {
	switch {
	case total >= cfg.IncreasingAt:
		return models.TrendIncreasing
	case total < cfg.DecreasingBelow:
		return models.TrendDecreasing
	default:
		return models.TrendStable
	}
}

// SpanDays returns the whole number of days covered by [first, last], at least one.
func SpanDays(first, last time.Time) float64 {
	if first.IsZero() || !last.After(first) {
		return 1
	}
	return math.Max(1, math.Ceil(last.Sub(first).Hours()/24))
}
