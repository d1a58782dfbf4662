package models

import (
	"maps"
	"time"
)

// TimeSlot is a coarse bucket of the day.
type TimeSlot string

const (
	SlotMorning   TimeSlot = "morning"
	SlotAfternoon TimeSlot = "afternoon"
	SlotEvening   TimeSlot = "evening"
	SlotNight     TimeSlot = "night"
)

// SlotForHour maps an hour of day to its time slot:
// [6,12) morning, [12,18) afternoon, [18,22) evening, everything else night.
func SlotForHour(hour int) TimeSlot {
	switch {
	case hour >= 6 && hour < 12:
		return SlotMorning
	case hour >= 12 && hour < 18:
		return SlotAfternoon
	case hour >= 18 && hour < 22:
		return SlotEvening
	default:
		return SlotNight
	}
}

// EngagementTrend is the heuristic direction of a user's activity.
type EngagementTrend string

const (
	TrendIncreasing EngagementTrend = "increasing"
	TrendDecreasing EngagementTrend = "decreasing"
	TrendStable     EngagementTrend = "stable"
)

// TimeSlotHistogram counts events per time slot.
type TimeSlotHistogram struct {
	Morning   int `json:"morning"`
	Afternoon int `json:"afternoon"`
	Evening   int `json:"evening"`
	Night     int `json:"night"`
}

// Add increments the counter for slot.
func (h *TimeSlotHistogram) Add(slot TimeSlot) {
	switch slot {
	case SlotMorning:
		h.Morning++
	case SlotAfternoon:
		h.Afternoon++
	case SlotEvening:
		h.Evening++
	default:
		h.Night++
	}
}

// Total returns the number of bucketed events.
func (h TimeSlotHistogram) Total() int {
	return h.Morning + h.Afternoon + h.Evening + h.Night
}

// UsagePattern is the statistical profile derived from a user's ledger.
// It holds no state that cannot be rebuilt from the ledger contents.
type UsagePattern struct {
	FirstSeen           time.Time         `json:"first_seen"`
	LastSeen            time.Time         `json:"last_seen"`
	Devices             map[string]int    `json:"devices"`
	FeatureUsage        map[string]int    `json:"feature_usage"`
	CategoryPreferences map[string]int    `json:"category_preferences"`
	CompletionRates     map[string]int    `json:"completion_rates"`
	AbandonmentPoints   map[string]int    `json:"abandonment_points"`
	Sessions            map[string]int    `json:"sessions"`
	ActiveDays          map[string]int    `json:"active_days"`
	UserID              string            `json:"user_id"`
	EngagementTrend     EngagementTrend   `json:"engagement_trend"`
	TimeSlots           TimeSlotHistogram `json:"time_slots"`
	TotalEvents         int               `json:"total_events"`
	SuccessfulEvents    int               `json:"successful_events"`
	ReturnFrequency     float64           `json:"return_frequency"`
}

// NewUsagePattern returns an empty pattern with every map allocated.
func NewUsagePattern(userID string) *UsagePattern {
	return &UsagePattern{
		UserID:              userID,
		Devices:             make(map[string]int),
		FeatureUsage:        make(map[string]int),
		CategoryPreferences: make(map[string]int),
		CompletionRates:     make(map[string]int),
		AbandonmentPoints:   make(map[string]int),
		Sessions:            make(map[string]int),
		ActiveDays:          make(map[string]int),
		EngagementTrend:     TrendDecreasing,
	}
}

// SessionCount returns the number of distinct sessions observed.
func (p *UsagePattern) SessionCount() int {
	return len(p.Sessions)
}

// DistinctFeatures returns the number of distinct features used.
func (p *UsagePattern) DistinctFeatures() int {
	return len(p.FeatureUsage)
}

// TotalFeatureUsage returns the summed feature usage volume.
func (p *UsagePattern) TotalFeatureUsage() int {
	total := 0
	for _, n := range p.FeatureUsage {
		total += n
	}
	return total
}

// TotalAbandonments returns the summed abandonment counts.
func (p *UsagePattern) TotalAbandonments() int {
	total := 0
	for _, n := range p.AbandonmentPoints {
		total += n
	}
	return total
}

// TotalCompletions returns the summed completion counts.
func (p *UsagePattern) TotalCompletions() int {
	total := 0
	for _, n := range p.CompletionRates {
		total += n
	}
	return total
}

// AbandonmentRate is the share of events that ended unsuccessfully.
func (p *UsagePattern) AbandonmentRate() float64 {
	if p.TotalEvents == 0 {
		return 0
	}
	return float64(p.TotalAbandonments()) / float64(p.TotalEvents)
}

// Clone returns a deep copy safe to hand to readers.
func (p *UsagePattern) Clone() *UsagePattern {
	if p == nil {
		return nil
	}
	c := *p
	c.Devices = maps.Clone(p.Devices)
	c.FeatureUsage = maps.Clone(p.FeatureUsage)
	c.CategoryPreferences = maps.Clone(p.CategoryPreferences)
	c.CompletionRates = maps.Clone(p.CompletionRates)
	c.AbandonmentPoints = maps.Clone(p.AbandonmentPoints)
	c.Sessions = maps.Clone(p.Sessions)
	c.ActiveDays = maps.Clone(p.ActiveDays)
	return &c
}
