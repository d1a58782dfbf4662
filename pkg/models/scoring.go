package models

import (
	"fmt"
	"math"
)

// WeightTolerance is how far the factor weights may drift from a sum of 1.0.
const WeightTolerance = 1e-9

// FactorWeights holds the weight of each recommendation factor.
type FactorWeights struct {
	Taste      float64 `json:"taste"`
	Dietary    float64 `json:"dietary"`
	Cultural   float64 `json:"cultural"`
	Seasonal   float64 `json:"seasonal"`
	Budget     float64 `json:"budget"`
	Skill      float64 `json:"skill"`
	Behavioral float64 `json:"behavioral"`
}

// Sum returns the total weight.
func (w FactorWeights) Sum() float64 {
	return w.Taste + w.Dietary + w.Cultural + w.Seasonal + w.Budget + w.Skill + w.Behavioral
}

// Apply returns the weighted sum of scores.
func (w FactorWeights) Apply(f FactorScores) float64 {
	return f.Taste*w.Taste +
		f.Dietary*w.Dietary +
		f.Cultural*w.Cultural +
		f.Seasonal*w.Seasonal +
		f.Budget*w.Budget +
		f.Skill*w.Skill +
		f.Behavioral*w.Behavioral
}

// ReasonThresholds is the minimum factor score that earns a reason phrase.
type ReasonThresholds struct {
	Taste      float64 `json:"taste"`
	Dietary    float64 `json:"dietary"`
	Cultural   float64 `json:"cultural"`
	Seasonal   float64 `json:"seasonal"`
	Budget     float64 `json:"budget"`
	Skill      float64 `json:"skill"`
	Behavioral float64 `json:"behavioral"`
}

// ScoringConfig contains all recommendation weights and thresholds.
type ScoringConfig struct {
	// Weights must sum to 1.0 within WeightTolerance.
	Weights FactorWeights `json:"weights"`

	// Reasons controls which factors are explained to the user.
	Reasons ReasonThresholds `json:"reasons"`

	// InclusionThreshold drops items whose overall score is below it.
	InclusionThreshold float64 `json:"inclusion_threshold"`

	// DefaultCount is used when a request does not ask for a count.
	DefaultCount int `json:"default_count"`

	// Parallelism bounds concurrent item scoring within one batch.
	Parallelism int `json:"parallelism"`

	// FallbackReason is shown when no factor qualifies for a reason.
	FallbackReason string `json:"fallback_reason"`
}

// DefaultScoringConfig returns the default scoring configuration.
func DefaultScoringConfig() *ScoringConfig {
	return &ScoringConfig{
		Weights: FactorWeights{
			Taste:      0.25,
			Dietary:    0.20,
			Cultural:   0.15,
			Seasonal:   0.10,
			Budget:     0.10,
			Skill:      0.10,
			Behavioral: 0.10,
		},
		Reasons: ReasonThresholds{
			Taste:      0.8,
			Dietary:    0.8,
			Cultural:   0.7,
			Seasonal:   0.8,
			Budget:     0.8,
			Skill:      0.7,
			Behavioral: 0.7,
		},
		InclusionThreshold: 0.3,
		DefaultCount:       10,
		Parallelism:        8,
		FallbackReason:     "Recommended to help you discover something new",
	}
}

// Validate checks the configuration invariants. A failure here is fatal at startup.
func (c *ScoringConfig) Validate() error {
	w := c.Weights
	for name, v := range map[string]float64{
		FactorTaste: w.Taste, FactorDietary: w.Dietary, FactorCultural: w.Cultural,
		FactorSeasonal: w.Seasonal, FactorBudget: w.Budget, FactorSkill: w.Skill,
		FactorBehavioral: w.Behavioral,
	} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("%w: weight %s = %v", ErrInvalidConfig, name, v)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1.0) > WeightTolerance {
		return fmt.Errorf("%w: factor weights sum to %v, want 1.0", ErrInvalidConfig, sum)
	}
	if c.InclusionThreshold < 0 || c.InclusionThreshold > 1 {
		return fmt.Errorf("%w: inclusion threshold %v outside [0,1]", ErrInvalidConfig, c.InclusionThreshold)
	}
	if c.DefaultCount <= 0 {
		return fmt.Errorf("%w: default count must be positive", ErrInvalidConfig)
	}
	return nil
}

// AggregatorConfig holds the tunable engagement trend cutoffs.
type AggregatorConfig struct {
	// IncreasingAt is the bucketed usage total at or above which the trend is increasing.
	IncreasingAt int `json:"increasing_at"`
	// DecreasingBelow is the total below which the trend is decreasing.
	DecreasingBelow int `json:"decreasing_below"`
}

// DefaultAggregatorConfig returns the default trend cutoffs.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{IncreasingAt: 50, DecreasingBelow: 10}
}

// Validate checks the cutoffs are ordered.
func (c AggregatorConfig) Validate() error {
	if c.DecreasingBelow < 0 || c.IncreasingAt < c.DecreasingBelow {
		return fmt.Errorf("%w: trend cutoffs decreasing<%d increasing>=%d", ErrInvalidConfig, c.DecreasingBelow, c.IncreasingAt)
	}
	return nil
}

// SkillTier is one row of the ordered skill rule table.
type SkillTier struct {
	Level       SkillLevel `json:"level"`
	MinSessions int        `json:"min_sessions"` // strictly greater than
	MinFeatures int        `json:"min_features"` // strictly greater than
	Confidence  float64    `json:"confidence"`
}

// JourneyTier is one row of the ordered journey rule table.
type JourneyTier struct {
	Stage       JourneyStage         `json:"stage"`
	Features    []string             `json:"features"`
	Strategy    IntroductionStrategy `json:"strategy"`
	MinSessions int                  `json:"min_sessions"` // strictly greater than
	MinUsage    int                  `json:"min_usage"`    // strictly greater than
}

// AssessorConfig holds the rule tables for skill and journey classification.
type AssessorConfig struct {
	// SkillTiers are evaluated in order; the first match wins.
	SkillTiers []SkillTier `json:"skill_tiers"`
	// BaselineConfidence applies when no tier matches (beginner).
	BaselineConfidence float64 `json:"baseline_confidence"`
	// JourneyTiers are evaluated in order; the last entry is the catch-all.
	JourneyTiers []JourneyTier `json:"journey_tiers"`
	// NextTierFeatures lists what to suggest to a user at each level.
	NextTierFeatures map[SkillLevel][]string `json:"next_tier_features"`
}

// DefaultAssessorConfig returns the default rule tables.
func DefaultAssessorConfig() *AssessorConfig {
	return &AssessorConfig{
		SkillTiers: []SkillTier{
			{Level: SkillExpert, MinSessions: 20, MinFeatures: 10, Confidence: 0.9},
			{Level: SkillAdvanced, MinSessions: 10, MinFeatures: 5, Confidence: 0.8},
			{Level: SkillIntermediate, MinSessions: 3, MinFeatures: 2, Confidence: 0.7},
		},
		BaselineConfidence: 0.5,
		JourneyTiers: []JourneyTier{
			{
				Stage:       StagePowerUser,
				MinSessions: 20,
				MinUsage:    100,
				Features:    []string{"automation", "bulk-planning", "api-export", "custom-collections"},
				Strategy: IntroductionStrategy{
					Method: MethodImmediate, Timing: TimingOnDemand, Presentation: PresentationInline,
					MessageTemplate: "{feature} is now available in {category}.",
				},
			},
			{
				Stage:       StageRegularUse,
				MinSessions: 10,
				MinUsage:    30,
				Features:    []string{"meal-planner", "shopping-list", "nutrition-insights"},
				Strategy: IntroductionStrategy{
					Method: MethodGradual, Timing: TimingAfterMilestone, Presentation: PresentationHighlight,
					MessageTemplate: "You've unlocked {feature}. Give it a try.",
				},
			},
			{
				Stage:       StageExploration,
				MinSessions: 2,
				MinUsage:    5,
				Features:    []string{"favorites", "filters", "calculator"},
				Strategy: IntroductionStrategy{
					Method: MethodContextual, Timing: TimingBehavioral, Presentation: PresentationTooltip,
					MessageTemplate: "Tip: {feature} can help with what you're doing.",
				},
			},
			{
				Stage:       StageDiscovery,
				MinSessions: -1,
				MinUsage:    -1,
				Features:    []string{"search", "browse", "profile-setup"},
				Strategy: IntroductionStrategy{
					Method: MethodGuided, Timing: TimingOnDemand, Presentation: PresentationModal,
					MessageTemplate: "Welcome! Let us show you {feature}.",
				},
			},
		},
		NextTierFeatures: map[SkillLevel][]string{
			SkillBeginner:     {"filters", "favorites", "calculator"},
			SkillIntermediate: {"meal-planner", "shopping-list", "substitutions"},
			SkillAdvanced:     {"nutrition-insights", "custom-collections", "batch-cooking"},
			SkillExpert:       {"automation", "api-export", "recipe-authoring"},
		},
	}
}

// Validate checks the rule tables are usable.
func (c *AssessorConfig) Validate() error {
	for i, t := range c.SkillTiers {
		if !t.Level.Valid() {
			return fmt.Errorf("%w: skill tier %d has invalid level", ErrInvalidConfig, i)
		}
		if t.Confidence < 0 || t.Confidence > 1 {
			return fmt.Errorf("%w: skill tier %d confidence %v outside [0,1]", ErrInvalidConfig, i, t.Confidence)
		}
	}
	if len(c.JourneyTiers) == 0 {
		return fmt.Errorf("%w: no journey tiers", ErrInvalidConfig)
	}
	for i, t := range c.JourneyTiers {
		if err := t.Strategy.Validate(); err != nil {
			return fmt.Errorf("%w: journey tier %d: %v", ErrInvalidConfig, i, err)
		}
	}
	return nil
}

// EngagementConfig holds the trigger thresholds of the engagement rules.
type EngagementConfig struct {
	// AbandonmentRate above which a simplification plan is proposed.
	AbandonmentRate float64 `json:"abandonment_rate"`
	// LowReturnFrequency below which a reminder is proposed (events/day).
	LowReturnFrequency float64 `json:"low_return_frequency"`
	// MinEventsForDiscovery gates the feature-discovery rule.
	MinEventsForDiscovery int `json:"min_events_for_discovery"`
	// NarrowFeatureCount is the distinct feature count considered narrow usage.
	NarrowFeatureCount int `json:"narrow_feature_count"`
	// ChallengeCompletionRatio of completions to events that triggers a challenge.
	ChallengeCompletionRatio float64 `json:"challenge_completion_ratio"`
	// MinCompletionsForChallenge gates the challenge rule.
	MinCompletionsForChallenge int `json:"min_completions_for_challenge"`
	// MaxRisks caps the number of abandonment plans per user.
	MaxRisks int `json:"max_risks"`
}

// DefaultEngagementConfig returns the default engagement thresholds.
func DefaultEngagementConfig() EngagementConfig {
	return EngagementConfig{
		AbandonmentRate:            0.3,
		LowReturnFrequency:         0.5,
		MinEventsForDiscovery:      10,
		NarrowFeatureCount:         3,
		ChallengeCompletionRatio:   0.8,
		MinCompletionsForChallenge: 10,
		MaxRisks:                   3,
	}
}
