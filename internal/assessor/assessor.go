// Package assessor classifies users into skill levels and journey stages.
package assessor

import (
	"fmt"
	"math"
	"slices"

	"github.com/thebtf/adaptly/internal/aggregator"
	"github.com/thebtf/adaptly/pkg/models"
)

// Assessor applies the configured rule tables to usage patterns.
// It holds no per-user state and is safe for concurrent use.
type Assessor struct {
	cfg *models.AssessorConfig
}

// New validates cfg and returns an Assessor. A nil cfg uses the defaults.
func New(cfg *models.AssessorConfig) (*Assessor, error) {
	if cfg == nil {
		cfg = models.DefaultAssessorConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("assessor config: %w", err)
	}
	return &Assessor{cfg: cfg}, nil
}

// Config returns the rule tables in use.
func (a *Assessor) Config() *models.AssessorConfig {
	return a.cfg
}

// Skill classifies p. The first tier whose session and distinct-feature
// counts are both strictly exceeded wins; otherwise the user is a beginner.
func (a *Assessor) Skill(p *models.UsagePattern) models.SkillAssessment {
	sessions := p.SessionCount()
	features := p.DistinctFeatures()

	level := models.SkillBeginner
	confidence := a.cfg.BaselineConfidence
	for _, tier := range a.cfg.SkillTiers {
		if sessions > tier.MinSessions && features > tier.MinFeatures {
			level = tier.Level
			confidence = tier.Confidence
			break
		}
	}

	return models.SkillAssessment{
		UserID:       p.UserID,
		Level:        level,
		Confidence:   confidence,
		Indicators:   indicators(p),
		Progression:  progression(p),
		NextFeatures: a.nextFeatures(level, p),
	}
}

// Journey places p on the product journey. The last tier is the catch-all.
func (a *Assessor) Journey(p *models.UsagePattern) models.JourneyAssessment {
	sessions := p.SessionCount()
	usage := p.TotalFeatureUsage()

	tiers := a.cfg.JourneyTiers
	tier := tiers[len(tiers)-1]
	for _, t := range tiers {
		if sessions > t.MinSessions && usage > t.MinUsage {
			tier = t
			break
		}
	}

	return models.JourneyAssessment{
		UserID:              p.UserID,
		Stage:               tier.Stage,
		RecommendedFeatures: unused(tier.Features, p),
		DefaultStrategy:     tier.Strategy,
		Sessions:            sessions,
		FeatureUsage:        usage,
	}
}

func indicators(p *models.UsagePattern) models.SkillIndicators {
	rates := make(map[string]float64, len(p.CompletionRates))
	for ctx, done := range p.CompletionRates {
		seen := max(p.CategoryPreferences[ctx], done)
		rates[ctx] = float64(done) / float64(seen)
	}
	return models.SkillIndicators{
		FeatureUsage:     p.FeatureUsage,
		CompletionRates:  rates,
		DistinctFeatures: p.DistinctFeatures(),
		Sessions:         p.SessionCount(),
	}
}

func progression(p *models.UsagePattern) models.ProgressionMetrics {
	var m models.ProgressionMetrics
	if n := p.SessionCount(); n > 0 {
		m.LearningVelocity = float64(p.DistinctFeatures()) / float64(n)
	}
	if len(p.ActiveDays) > 0 {
		span := aggregator.SpanDays(p.FirstSeen, p.LastSeen)
		m.RetentionRate = math.Min(1, float64(len(p.ActiveDays))/span)
	}
	if p.TotalEvents > 0 {
		m.SkillApplication = float64(p.SuccessfulEvents) / float64(p.TotalEvents)
	}
	return m
}

func (a *Assessor) nextFeatures(level models.SkillLevel, p *models.UsagePattern) []string {
	return unused(a.cfg.NextTierFeatures[level], p)
}

// unused filters out the features p already shows usage of, keeping order.
func unused(features []string, p *models.UsagePattern) []string {
	out := make([]string, 0, len(features))
	for _, f := range features {
		if p.FeatureUsage[f] > 0 || slices.Contains(out, f) {
			continue
		}
		out = append(out, f)
	}
	return out
}
