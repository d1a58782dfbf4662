package gating

import (
	"sync/atomic"

	"github.com/thebtf/adaptly/pkg/models"
)

// reasons lists every ineligibility reason in check order.
var reasons = []string{
	models.ReasonInsufficientSkill,
	models.ReasonInsufficientExperience,
	models.ReasonAgeRestriction,
	models.ReasonRegionRestricted,
	models.ReasonOutsideWindow,
	models.ReasonMissingDependencies,
}

// Counters tracks per-gate analytics. All fields are updated atomically.
type Counters struct {
	ineligible    map[string]*atomic.Int64
	Evaluations   atomic.Int64
	Eligible      atomic.Int64
	Introductions atomic.Int64
	Views         atomic.Int64
	Unlocks       atomic.Int64
}

func newCounters() *Counters {
	c := &Counters{ineligible: make(map[string]*atomic.Int64, len(reasons))}
	for _, r := range reasons {
		c.ineligible[r] = new(atomic.Int64)
	}
	return c
}

func (c *Counters) recordDecision(d models.GateDecision) {
	c.Evaluations.Add(1)
	if d.Eligible {
		c.Eligible.Add(1)
		return
	}
	if n, ok := c.ineligible[d.Reason]; ok {
		n.Add(1)
	}
}

// CounterSnapshot is a point-in-time copy of Counters.
type CounterSnapshot struct {
	Ineligible    map[string]int64 `json:"ineligible"`
	Evaluations   int64            `json:"evaluations"`
	Eligible      int64            `json:"eligible"`
	Introductions int64            `json:"introductions"`
	Views         int64            `json:"views"`
	Unlocks       int64            `json:"unlocks"`
}

// Snapshot copies the current counter values.
func (c *Counters) Snapshot() CounterSnapshot {
	s := CounterSnapshot{
		Ineligible:    make(map[string]int64, len(c.ineligible)),
		Evaluations:   c.Evaluations.Load(),
		Eligible:      c.Eligible.Load(),
		Introductions: c.Introductions.Load(),
		Views:         c.Views.Load(),
		Unlocks:       c.Unlocks.Load(),
	}
	for r, n := range c.ineligible {
		if v := n.Load(); v > 0 {
			s.Ineligible[r] = v
		}
	}
	return s
}
