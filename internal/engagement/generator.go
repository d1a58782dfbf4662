// Package engagement turns usage patterns into re-engagement and abandonment-recovery proposals.
package engagement

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/thebtf/adaptly/internal/idgen"
	"github.com/thebtf/adaptly/pkg/models"
)

// Strategy names emitted by the default rules.
const (
	StrategyPersonalization  = "personalization"
	StrategyReminder         = "reminder"
	StrategyFeatureDiscovery = "feature-discovery"
	StrategyChallenge        = "challenge"
	StrategySimplification   = "simplification"
)

// reengagementDelay is how long a delayed proposal waits before firing.
const reengagementDelay = 24 * time.Hour

// simplificationActions are the recovery steps proposed for an abandoned element.
var simplificationActions = []string{"reduce-steps", "add-inline-help", "offer-assistance"}

// Rule maps a condition on a usage pattern to a proposed opportunity.
type Rule struct {
	When  func(p *models.UsagePattern) bool
	Build func(p *models.UsagePattern) models.EngagementOpportunity
	Name  string
}

// DefaultRules returns the built-in rules in evaluation order.
func DefaultRules(cfg models.EngagementConfig) []Rule {
	return []Rule{
		{
			Name: "declining-engagement",
			When: func(p *models.UsagePattern) bool {
				return p.EngagementTrend == models.TrendDecreasing
			},
			Build: func(p *models.UsagePattern) models.EngagementOpportunity {
				return models.EngagementOpportunity{
					Strategy: StrategyPersonalization,
					Timing:   models.EngageDelayed,
					Delay:    reengagementDelay,
					Priority: models.PriorityHigh,
					Reason:   fmt.Sprintf("engagement is decreasing (%d events)", p.TotalEvents),
				}
			},
		},
		{
			Name: "infrequent-returns",
			When: func(p *models.UsagePattern) bool {
				return p.TotalEvents > 0 && p.ReturnFrequency < cfg.LowReturnFrequency
			},
			Build: func(p *models.UsagePattern) models.EngagementOpportunity {
				return models.EngagementOpportunity{
					Strategy: StrategyReminder,
					Timing:   models.EngageScheduled,
					Priority: models.PriorityMedium,
					Reason:   fmt.Sprintf("returns %.2f times per day", p.ReturnFrequency),
				}
			},
		},
		{
			Name: "narrow-feature-use",
			When: func(p *models.UsagePattern) bool {
				return p.TotalEvents >= cfg.MinEventsForDiscovery && p.DistinctFeatures() < cfg.NarrowFeatureCount
			},
			Build: func(p *models.UsagePattern) models.EngagementOpportunity {
				return models.EngagementOpportunity{
					Strategy: StrategyFeatureDiscovery,
					Timing:   models.EngageImmediate,
					Priority: models.PriorityMedium,
					Reason:   fmt.Sprintf("uses only %d features", p.DistinctFeatures()),
				}
			},
		},
		{
			Name: "high-completion",
			When: func(p *models.UsagePattern) bool {
				done := p.TotalCompletions()
				return done >= cfg.MinCompletionsForChallenge && p.TotalEvents > 0 &&
					float64(done)/float64(p.TotalEvents) >= cfg.ChallengeCompletionRatio
			},
			Build: func(p *models.UsagePattern) models.EngagementOpportunity {
				return models.EngagementOpportunity{
					Strategy: StrategyChallenge,
					Timing:   models.EngageImmediate,
					Priority: models.PriorityLow,
					Reason:   fmt.Sprintf("completed %d of %d activities", p.TotalCompletions(), p.TotalEvents),
				}
			},
		},
	}
}

// Generator evaluates rules against a pattern. It never mutates state.
type Generator struct {
	ids   idgen.Generator
	rules []Rule
	cfg   models.EngagementConfig
}

// NewGenerator creates a generator with the default rules.
func NewGenerator(cfg models.EngagementConfig, ids idgen.Generator) *Generator {
	if ids == nil {
		ids = idgen.UUID{}
	}
	return &Generator{cfg: cfg, ids: ids, rules: DefaultRules(cfg)}
}

// WithRules replaces the opportunity rules.
func (g *Generator) WithRules(rules ...Rule) *Generator {
	g.rules = rules
	return g
}

// Generate builds the engagement plan for p.
func (g *Generator) Generate(p *models.UsagePattern, now time.Time) models.EngagementPlan {
	plan := models.EngagementPlan{
		UserID:        p.UserID,
		GeneratedAt:   now,
		Opportunities: []models.EngagementOpportunity{},
		Risks:         []models.AbandonmentRisk{},
	}

	for _, r := range g.rules {
		if !r.When(p) {
			continue
		}
		op := r.Build(p)
		op.ID = g.ids.NewID()
		op.Rule = r.Name
		plan.Opportunities = append(plan.Opportunities, op)
	}

	if p.AbandonmentRate() > g.cfg.AbandonmentRate {
		plan.Risks = g.risks(p)
	}
	return plan
}

// risks proposes a simplification plan for each of the most abandoned elements,
// ordered by count descending then element name.
func (g *Generator) risks(p *models.UsagePattern) []models.AbandonmentRisk {
	type point struct {
		element string
		count   int
	}
	points := make([]point, 0, len(p.AbandonmentPoints))
	for el, n := range p.AbandonmentPoints {
		points = append(points, point{el, n})
	}
	slices.SortFunc(points, func(a, b point) int {
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		return cmp.Compare(a.element, b.element)
	})
	if g.cfg.MaxRisks > 0 && len(points) > g.cfg.MaxRisks {
		points = points[:g.cfg.MaxRisks]
	}

	priority := models.PriorityMedium
	if p.AbandonmentRate() > 2*g.cfg.AbandonmentRate {
		priority = models.PriorityHigh
	}

	out := make([]models.AbandonmentRisk, 0, len(points))
	for _, pt := range points {
		out = append(out, models.AbandonmentRisk{
			ID:       g.ids.NewID(),
			Element:  pt.element,
			Strategy: StrategySimplification,
			Priority: priority,
			Actions:  slices.Clone(simplificationActions),
			Count:    pt.count,
			Rate:     float64(pt.count) / float64(p.TotalEvents),
		})
	}
	return out
}
