package models

import "time"

// EngagementTiming is when a proposed action should fire.
type EngagementTiming string

const (
	EngageImmediate EngagementTiming = "immediate"
	EngageDelayed   EngagementTiming = "delayed"
	EngageScheduled EngagementTiming = "scheduled"
)

// Priority ranks proposals for the notification collaborator.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// EngagementOpportunity is a proposed re-engagement action.
type EngagementOpportunity struct {
	ID       string           `json:"id"`
	Rule     string           `json:"rule"`
	Strategy string           `json:"strategy"`
	Timing   EngagementTiming `json:"timing"`
	Priority Priority         `json:"priority"`
	Reason   string           `json:"reason"`
	Delay    time.Duration    `json:"delay_ns,omitempty"`
}

// AbandonmentRisk is a proposed recovery plan for an element users give up on.
type AbandonmentRisk struct {
	ID       string   `json:"id"`
	Element  string   `json:"element"`
	Strategy string   `json:"strategy"`
	Priority Priority `json:"priority"`
	Actions  []string `json:"actions"`
	Count    int      `json:"count"`
	Rate     float64  `json:"rate"`
}

// EngagementPlan bundles every proposal generated for one user.
type EngagementPlan struct {
	GeneratedAt   time.Time               `json:"generated_at"`
	UserID        string                  `json:"user_id"`
	Opportunities []EngagementOpportunity `json:"engagement_opportunities"`
	Risks         []AbandonmentRisk       `json:"abandonment_risks"`
}

// Empty reports whether the plan proposes nothing.
func (p *EngagementPlan) Empty() bool {
	return len(p.Opportunities) == 0 && len(p.Risks) == 0
}
