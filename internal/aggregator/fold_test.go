package aggregator

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/adaptly/pkg/models"
)

var base = time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

func mixedEvents(n int) []models.InteractionEvent {
	actions := []models.ActionType{models.ActionView, models.ActionFeatureUse, models.ActionComplete, models.ActionAbandon}
	devices := []models.DeviceClass{models.DeviceDesktop, models.DeviceMobile, models.DeviceTablet}
	events := make([]models.InteractionEvent, 0, n)
	for i := 0; i < n; i++ {
		e := models.InteractionEvent{
			ID:        fmt.Sprintf("e%d", i),
			UserID:    "u1",
			Action:    actions[i%len(actions)],
			Target:    fmt.Sprintf("feature-%d", i%7),
			Context:   fmt.Sprintf("ctx-%d", i%3),
			Device:    devices[i%len(devices)],
			SessionID: fmt.Sprintf("s%d", i/4),
			Timestamp: base.Add(time.Duration(i) * 5 * time.Hour),
			Success:   i%5 != 0,
		}
		e.Normalize()
		events = append(events, e)
	}
	return events
}

func TestRebuild_EqualsIncrementalApply(t *testing.T) {
	cfg := models.DefaultAggregatorConfig()
	events := mixedEvents(60)

	incremental := models.NewUsagePattern("u1")
	for _, e := range events {
		Apply(incremental, e, cfg)
	}
	rebuilt := Rebuild("u1", events, cfg)

	if diff := cmp.Diff(rebuilt, incremental); diff != "" {
		t.Fatalf("incremental pattern diverged from rebuild (-rebuild +incremental):\n%s", diff)
	}
}

func TestRebuild_Deterministic(t *testing.T) {
	cfg := models.DefaultAggregatorConfig()
	events := mixedEvents(33)

	first := Rebuild("u1", events, cfg)
	second := Rebuild("u1", events, cfg)
	assert.Empty(t, cmp.Diff(first, second))
}

func TestRebuild_CompletionAndAbandonment(t *testing.T) {
	events := make([]models.InteractionEvent, 0, 25)
	for i := 0; i < 25; i++ {
		events = append(events, models.InteractionEvent{
			Action:    models.ActionFeatureUse,
			Target:    fmt.Sprintf("step-%d", i%4),
			Context:   "calculator",
			Success:   i < 18,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}

	p := Rebuild("u1", events, models.DefaultAggregatorConfig())

	assert.Equal(t, 18, p.CompletionRates["calculator"])
	assert.Equal(t, 7, p.TotalAbandonments())
	assert.Equal(t, 25, p.TotalEvents)
	assert.Equal(t, models.TrendStable, p.EngagementTrend)
}

func TestRebuild_TimeSlotsUseUTC(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	events := []models.InteractionEvent{
		// 07:00 local is 12:00 UTC.
		{Action: models.ActionView, Timestamp: time.Date(2026, 1, 1, 7, 0, 0, 0, est)},
		{Action: models.ActionView, Timestamp: time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)},
		{Action: models.ActionView, Timestamp: time.Date(2026, 1, 1, 21, 59, 0, 0, time.UTC)},
		{Action: models.ActionView, Timestamp: time.Date(2026, 1, 1, 22, 0, 0, 0, time.UTC)},
	}

	p := Rebuild("u1", events, models.DefaultAggregatorConfig())

	assert.Equal(t, models.TimeSlotHistogram{Morning: 1, Afternoon: 1, Evening: 1, Night: 1}, p.TimeSlots)
	assert.Equal(t, models.TrendDecreasing, p.EngagementTrend)
}

func TestTrend_Thresholds(t *testing.T) {
	cfg := models.DefaultAggregatorConfig()
	tests := []struct {
		total int
		want  models.EngagementTrend
	}{
		{0, models.TrendDecreasing},
		{9, models.TrendDecreasing},
		{10, models.TrendStable},
		{49, models.TrendStable},
		{50, models.TrendIncreasing},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.total), func(t *testing.T) {
			assert.Equal(t, tt.want, Trend(tt.total, cfg))
		})
	}
}

func TestReturnFrequency(t *testing.T) {
	events := []models.InteractionEvent{
		{Action: models.ActionView, Timestamp: base},
		{Action: models.ActionView, Timestamp: base.Add(30 * time.Hour)},
		{Action: models.ActionView, Timestamp: base.Add(47 * time.Hour)},
		{Action: models.ActionView, Timestamp: base.Add(48*time.Hour + time.Minute)},
	}

	p := Rebuild("u1", events, models.DefaultAggregatorConfig())

	// Span is just over two days, rounded up to three.
	assert.InDelta(t, 4.0/3.0, p.ReturnFrequency, 1e-9)
	assert.Equal(t, base, p.FirstSeen)
	assert.Len(t, p.ActiveDays, 3)
}

func TestReturnFrequency_SingleDay(t *testing.T) {
	events := []models.InteractionEvent{
		{Action: models.ActionView, Timestamp: base},
		{Action: models.ActionView, Timestamp: base.Add(time.Hour)},
	}
	p := Rebuild("u1", events, models.DefaultAggregatorConfig())
	assert.InDelta(t, 2.0, p.ReturnFrequency, 1e-9)
}

func TestRebuild_Empty(t *testing.T) {
	p := Rebuild("u1", nil, models.DefaultAggregatorConfig())
	require.NotNil(t, p)
	assert.Equal(t, 0, p.TotalEvents)
	assert.InDelta(t, 0.0, p.ReturnFrequency, 1e-9)
	assert.Equal(t, models.TrendDecreasing, p.EngagementTrend)
	assert.NotNil(t, p.FeatureUsage)
}

func TestRebuild_FeatureKeyFromDetail(t *testing.T) {
	e := models.InteractionEvent{
		Action:   models.ActionFeatureUse,
		Target:   "toolbar",
		Metadata: map[string]string{"feature": "unit-converter", "category": "tools"},
		Success:  true,
	}
	e.Normalize()

	p := Rebuild("u1", []models.InteractionEvent{e}, models.DefaultAggregatorConfig())

	assert.Equal(t, map[string]int{"unit-converter": 1}, p.FeatureUsage)
	assert.Equal(t, map[string]int{"tools": 1}, p.CategoryPreferences)
}
