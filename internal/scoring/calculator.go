// Package scoring provides multi-factor recommendation scoring for catalog items.
package scoring

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/thebtf/adaptly/pkg/models"
)

// Reason phrases, one per factor, in the order they are reported.
const (
	ReasonTaste      = "Matches your taste preferences"
	ReasonDietary    = "Fits your dietary needs"
	ReasonCultural   = "Reflects your cultural preferences"
	ReasonSeasonal   = "Perfect for the season"
	ReasonBudget     = "Within your budget"
	ReasonSkill      = "Right for your skill level"
	ReasonBehavioral = "Similar to what you enjoy"
)

// Neutral factor values used when the profile carries no signal.
const (
	neutralScore      = 0.5
	noBudgetScore     = 0.7
	allYearScore      = 0.7
	offSeasonScore    = 0.2
	culturalMissScore = 0.3
	belowBudgetScore  = 0.8

	// confidenceEvents is the event volume at which behavioral evidence is considered complete.
	confidenceEvents = 50.0
)

// Input is everything needed to score one item for one user.
type Input struct {
	Now     time.Time
	Item    *models.CandidateItem
	Profile *models.UserProfile
	Pattern *models.UsagePattern
	Skill   models.SkillLevel
}

// Calculator computes recommendation scores.
type Calculator struct {
	config *models.ScoringConfig
}

// NewCalculator creates a calculator after validating the factor weights.
// If config is nil, uses the default configuration.
func NewCalculator(config *models.ScoringConfig) (*Calculator, error) {
	if config == nil {
		config = models.DefaultScoringConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("scoring config: %w", err)
	}
	return &Calculator{config: config}, nil
}

// Score computes the recommendation for one item.
//
// The scoring formula:
//
//	Score = Σ weight_f × factor_f   over the seven factors
//
// Each factor lies in [0,1] and the weights sum to 1, so Score does too.
func (c *Calculator) Score(in Input) models.Recommendation {
	factors := c.Factors(in)
	score := clamp01(c.config.Weights.Apply(factors))

	return models.Recommendation{
		Item:       in.Item,
		Score:      score,
		Factors:    factors,
		Reasons:    c.Reasons(factors),
		Confidence: confidence(in),
	}
}

// Factors returns the individual factor scores for an item.
// Useful for debugging and explaining scores to users.
func (c *Calculator) Factors(in Input) models.FactorScores {
	profile := in.Profile
	if profile == nil {
		profile = models.DefaultProfile("")
	}
	return models.FactorScores{
		Taste:      tasteScore(in.Item, profile),
		Dietary:    dietaryScore(in.Item, profile),
		Cultural:   culturalScore(in.Item, profile),
		Seasonal:   seasonalScore(in.Item, profile, in.Now),
		Budget:     budgetScore(in.Item, profile),
		Skill:      skillScore(in.Item.Difficulty, in.Skill),
		Behavioral: behavioralScore(in.Item, in.Pattern),
	}
}

// Reasons lists the explanation phrases earned by f, in factor order.
// When no factor qualifies, the configured fallback reason is returned alone.
func (c *Calculator) Reasons(f models.FactorScores) []string {
	t := c.config.Reasons
	reasons := make([]string, 0, 3)
	add := func(score, threshold float64, reason string) {
		if score >= threshold {
			reasons = append(reasons, reason)
		}
	}
	add(f.Taste, t.Taste, ReasonTaste)
	add(f.Dietary, t.Dietary, ReasonDietary)
	add(f.Cultural, t.Cultural, ReasonCultural)
	add(f.Seasonal, t.Seasonal, ReasonSeasonal)
	add(f.Budget, t.Budget, ReasonBudget)
	add(f.Skill, t.Skill, ReasonSkill)
	add(f.Behavioral, t.Behavioral, ReasonBehavioral)

	if len(reasons) == 0 {
		reasons = append(reasons, c.config.FallbackReason)
	}
	return reasons
}

// Included reports whether a score passes the inclusion threshold.
func (c *Calculator) Included(score float64) bool {
	return score >= c.config.InclusionThreshold
}

// GetConfig returns the current scoring configuration.
func (c *Calculator) GetConfig() *models.ScoringConfig {
	return c.config
}

// tasteScore averages the user's affinity for the item's tags.
func tasteScore(item *models.CandidateItem, p *models.UserProfile) float64 {
	sum, n := 0.0, 0
	for _, tag := range item.Tags {
		if v, ok := p.TastePreferences[tag]; ok {
			sum += clamp01(v)
			n++
		}
	}
	if n == 0 {
		return neutralScore
	}
	return sum / float64(n)
}

// dietaryScore is the share of the user's restrictions the item satisfies.
func dietaryScore(item *models.CandidateItem, p *models.UserProfile) float64 {
	if len(p.DietaryRestrictions) == 0 {
		return 1
	}
	met := 0
	for _, r := range p.DietaryRestrictions {
		if models.ContainsFold(item.DietaryFlags, r) {
			met++
		}
	}
	return float64(met) / float64(len(p.DietaryRestrictions))
}

func culturalScore(item *models.CandidateItem, p *models.UserProfile) float64 {
	if len(p.CulturalPreferences) == 0 {
		return neutralScore
	}
	for _, pref := range p.CulturalPreferences {
		if item.Region != "" && strings.EqualFold(item.Region, pref) {
			return 1
		}
		if models.ContainsFold(item.Tags, pref) {
			return 1
		}
	}
	return culturalMissScore
}

func seasonalScore(item *models.CandidateItem, p *models.UserProfile, now time.Time) float64 {
	if len(item.SeasonalTags) == 0 {
		return neutralScore
	}
	season := models.SeasonAt(now, p.Southern())
	if models.ContainsFold(item.SeasonalTags, string(season)) {
		return 1
	}
	if models.ContainsFold(item.SeasonalTags, models.AllYearTag) {
		return allYearScore
	}
	return offSeasonScore
}

// budgetScore decays linearly once the price exceeds the user's maximum.
func budgetScore(item *models.CandidateItem, p *models.UserProfile) float64 {
	if p.BudgetMax <= 0 {
		return noBudgetScore
	}
	price := item.PriceEstimate
	switch {
	case price > p.BudgetMax:
		return clamp01(1 - (price-p.BudgetMax)/p.BudgetMax)
	case price < p.BudgetMin:
		return belowBudgetScore
	default:
		return 1
	}
}

// skillScore prefers items at the user's level; harder items fall off faster than easier ones.
func skillScore(difficulty, level models.SkillLevel) float64 {
	gap := int(difficulty) - int(level)
	if gap <= 0 {
		return math.Max(0.4, 1+0.2*float64(gap))
	}
	return clamp01(1 - 0.4*float64(gap))
}

// behavioralScore is the item category's share relative to the user's favorite category.
func behavioralScore(item *models.CandidateItem, p *models.UsagePattern) float64 {
	if p == nil || len(p.CategoryPreferences) == 0 {
		return neutralScore
	}
	top := 0
	for _, n := range p.CategoryPreferences {
		top = max(top, n)
	}
	return float64(p.CategoryPreferences[item.Category]) / float64(top)
}

// confidence blends profile completeness with the volume of behavioral evidence.
func confidence(in Input) float64 {
	profile := 0.0
	if in.Profile != nil {
		profile = in.Profile.Completeness()
	}
	behavior := 0.0
	if in.Pattern != nil {
		behavior = math.Min(1, float64(in.Pattern.TotalEvents)/confidenceEvents)
	}
	return clamp01(0.5*profile + 0.5*behavior)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
