package models

import (
	"fmt"
	"time"
)

// GateType classifies what a gate guards.
type GateType string

const (
	GateTypeFeature   GateType = "feature"
	GateTypeContent   GateType = "content"
	GateTypeTool      GateType = "tool"
	GateTypeCommunity GateType = "community"
)

// IntroductionMethod is how a gated feature is introduced.
type IntroductionMethod string

const (
	MethodGradual      IntroductionMethod = "gradual"
	MethodImmediate    IntroductionMethod = "immediate"
	MethodNotification IntroductionMethod = "notification"
	MethodGuided       IntroductionMethod = "guided"
	MethodContextual   IntroductionMethod = "contextual"
)

// IntroductionTiming is when an introduction is shown.
type IntroductionTiming string

const (
	TimingOnDemand       IntroductionTiming = "on-demand"
	TimingAfterMilestone IntroductionTiming = "after-milestone"
	TimingTimeBased      IntroductionTiming = "time-based"
	TimingBehavioral     IntroductionTiming = "behavioral"
)

// Presentation is the visual form of an introduction.
type Presentation string

const (
	PresentationTooltip   Presentation = "tooltip"
	PresentationModal     Presentation = "modal"
	PresentationHighlight Presentation = "highlight"
	PresentationInline    Presentation = "inline"
)

// ValidMethod reports whether m is a known introduction method.
func ValidMethod(m IntroductionMethod) bool {
	switch m {
	case MethodGradual, MethodImmediate, MethodNotification, MethodGuided, MethodContextual:
		return true
	}
	return false
}

// ValidTiming reports whether t is a known introduction timing.
func ValidTiming(t IntroductionTiming) bool {
	switch t {
	case TimingOnDemand, TimingAfterMilestone, TimingTimeBased, TimingBehavioral:
		return true
	}
	return false
}

// ValidPresentation reports whether p is a known presentation.
func ValidPresentation(p Presentation) bool {
	switch p {
	case PresentationTooltip, PresentationModal, PresentationHighlight, PresentationInline:
		return true
	}
	return false
}

// TimeWindow bounds when a gate may open. Zero values mean unbounded.
type TimeWindow struct {
	Start time.Time `yaml:"start" json:"start"`
	End   time.Time `yaml:"end" json:"end"`
}

// Contains reports whether t falls inside the window.
func (w *TimeWindow) Contains(t time.Time) bool {
	if w == nil {
		return true
	}
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && !t.Before(w.End) {
		return false
	}
	return true
}

// EligibilityConditions must all hold for a gate to become eligible.
type EligibilityConditions struct {
	Window         *TimeWindow `yaml:"window,omitempty" json:"window,omitempty"`
	BlockedRegions []string    `yaml:"blocked_regions,omitempty" json:"blocked_regions,omitempty"`
	Dependencies   []string    `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	MinSkill       SkillLevel  `yaml:"min_skill" json:"min_skill"`
	MinSessions    int         `yaml:"min_sessions" json:"min_sessions"`
	MinAge         int         `yaml:"min_age,omitempty" json:"min_age,omitempty"`
	MaxAge         int         `yaml:"max_age,omitempty" json:"max_age,omitempty"`
}

// IntroductionStrategy describes how and when a feature is presented.
type IntroductionStrategy struct {
	Method           IntroductionMethod `yaml:"method" json:"method"`
	Timing           IntroductionTiming `yaml:"timing" json:"timing"`
	Presentation     Presentation       `yaml:"presentation" json:"presentation"`
	MessageTemplate  string             `yaml:"message" json:"message"`
	QualifyingAction ActionType         `yaml:"qualifying_action,omitempty" json:"qualifying_action,omitempty"`
	OnboardingSteps  []string           `yaml:"onboarding_steps,omitempty" json:"onboarding_steps,omitempty"`
}

// IsZero reports whether no strategy was configured.
func (s IntroductionStrategy) IsZero() bool {
	return s.Method == "" && s.Timing == "" && s.Presentation == "" && s.MessageTemplate == ""
}

// Validate checks enum fields that are set.
func (s IntroductionStrategy) Validate() error {
	if s.Method != "" && !ValidMethod(s.Method) {
		return fmt.Errorf("unknown introduction method %q", s.Method)
	}
	if s.Timing != "" && !ValidTiming(s.Timing) {
		return fmt.Errorf("unknown introduction timing %q", s.Timing)
	}
	if s.Presentation != "" && !ValidPresentation(s.Presentation) {
		return fmt.Errorf("unknown presentation %q", s.Presentation)
	}
	return nil
}

// ContentPayload points at the content unlocked by a gate.
type ContentPayload struct {
	Kind string `yaml:"kind" json:"kind"`
	Ref  string `yaml:"ref" json:"ref"`
}

// ContentGate is a static gate definition loaded once at startup.
type ContentGate struct {
	ID           string                `yaml:"id" json:"id"`
	Name         string                `yaml:"name" json:"name"`
	Category     string                `yaml:"category" json:"category"`
	Type         GateType              `yaml:"type" json:"type"`
	Payload      ContentPayload        `yaml:"payload" json:"payload"`
	Introduction IntroductionStrategy  `yaml:"introduction" json:"introduction"`
	Conditions   EligibilityConditions `yaml:"conditions" json:"conditions"`
}

// GateStatus is the per-user position in the gate state machine.
type GateStatus string

const (
	GateLocked     GateStatus = "locked"
	GateEligible   GateStatus = "eligible"
	GateIntroduced GateStatus = "introduced"
	GateUnlocked   GateStatus = "unlocked"
)

// rank orders statuses along the state machine.
func (s GateStatus) rank() int {
	switch s {
	case GateEligible:
		return 1
	case GateIntroduced:
		return 2
	case GateUnlocked:
		return 3
	default:
		return 0
	}
}

// Before reports whether s comes earlier than o in the state machine.
func (s GateStatus) Before(o GateStatus) bool {
	return s.rank() < o.rank()
}

// UserGateState is the persisted gating record for one user and gate.
// Once Unlocked is true it is never reset.
type UserGateState struct {
	UnlockedAt   time.Time          `json:"unlocked_at"`
	IntroducedAt time.Time          `json:"introduced_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	UserID       string             `json:"user_id"`
	GateID       string             `json:"gate_id"`
	Status       GateStatus         `json:"status"`
	Method       IntroductionMethod `json:"method,omitempty"`
	Views        int                `json:"views"`
	Unlocked     bool               `json:"unlocked"`
}

// Ineligibility reasons. These are soft: callers may re-check later.
const (
	ReasonInsufficientSkill      = "insufficient-skill-level"
	ReasonInsufficientExperience = "insufficient-experience"
	ReasonAgeRestriction         = "age-restriction"
	ReasonRegionRestricted       = "region-restricted"
	ReasonOutsideWindow          = "outside-time-window"
	ReasonMissingDependencies    = "missing-dependencies"
)

// GateDecision is the result of an eligibility check.
type GateDecision struct {
	GateID    string     `json:"gate_id"`
	Reason    string     `json:"reason,omitempty"`
	Status    GateStatus `json:"status"`
	Missing   []string   `json:"missing,omitempty"`
	Readiness float64    `json:"readiness"`
	Eligible  bool       `json:"eligible"`
}

// IntroductionResult is the outcome of introducing a gated feature.
type IntroductionResult struct {
	Strategy   IntroductionStrategy `json:"strategy"`
	GateID     string               `json:"gate_id"`
	ID         string               `json:"id,omitempty"`
	Reason     string               `json:"reason,omitempty"`
	Message    string               `json:"message,omitempty"`
	Status     GateStatus           `json:"status"`
	Steps      []string             `json:"steps,omitempty"`
	Introduced bool                 `json:"introduced"`
	Unlocked   bool                 `json:"unlocked"`
	Repeat     bool                 `json:"repeat,omitempty"`
}
