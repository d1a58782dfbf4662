package models

import (
	"strings"
	"time"
)

// Season is a meteorological season.
type Season string

const (
	SeasonSpring Season = "spring"
	SeasonSummer Season = "summer"
	SeasonAutumn Season = "autumn"
	SeasonWinter Season = "winter"
)

// AllYearTag marks an item as seasonally neutral.
const AllYearTag = "all-year"

// SeasonAt returns the season for t. Southern hemisphere seasons are shifted by six months.
func SeasonAt(t time.Time, southern bool) Season {
	month := int(t.UTC().Month())
	if southern {
		month = (month+5)%12 + 1
	}
	switch month {
	case 3, 4, 5:
		return SeasonSpring
	case 6, 7, 8:
		return SeasonSummer
	case 9, 10, 11:
		return SeasonAutumn
	default:
		return SeasonWinter
	}
}

// CandidateItem is a catalog entry with its scoring attributes.
// The catalog owns these records; the engine only reads them.
type CandidateItem struct {
	AddedAt       time.Time  `json:"added_at"`
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Category      string     `json:"category"`
	Region        string     `json:"region"`
	Tags          []string   `json:"tags"`
	DietaryFlags  []string   `json:"dietary_flags"`
	SeasonalTags  []string   `json:"seasonal_tags"`
	PriceEstimate float64    `json:"price_estimate"`
	Difficulty    SkillLevel `json:"difficulty"`
}

// CandidateFilter narrows a catalog listing.
type CandidateFilter struct {
	Category            string   `json:"category,omitempty"`
	DietaryRestrictions []string `json:"dietary_restrictions,omitempty"`
	BudgetMin           float64  `json:"budget_min,omitempty"`
	BudgetMax           float64  `json:"budget_max,omitempty"`
}

// Matches reports whether item passes the filter.
func (f CandidateFilter) Matches(item *CandidateItem) bool {
	if f.Category != "" && item.Category != f.Category {
		return false
	}
	for _, r := range f.DietaryRestrictions {
		if !ContainsFold(item.DietaryFlags, r) {
			return false
		}
	}
	if f.BudgetMax > 0 && item.PriceEstimate > f.BudgetMax {
		return false
	}
	if f.BudgetMin > 0 && item.PriceEstimate < f.BudgetMin {
		return false
	}
	return true
}

// UserProfile is the stored preference record read from the profile store.
type UserProfile struct {
	TastePreferences    map[string]float64 `json:"taste_preferences"`
	UserID              string             `json:"user_id"`
	Region              string             `json:"region"`
	Hemisphere          string             `json:"hemisphere"`
	CulturalPreferences []string           `json:"cultural_preferences"`
	DietaryRestrictions []string           `json:"dietary_restrictions"`
	Age                 int                `json:"age"`
	BudgetMin           float64            `json:"budget_min"`
	BudgetMax           float64            `json:"budget_max"`
}

// DefaultProfile returns the fallback profile used when the store has no record.
// An age of zero means unknown.
func DefaultProfile(userID string) *UserProfile {
	return &UserProfile{
		UserID:              userID,
		TastePreferences:    map[string]float64{},
		CulturalPreferences: []string{},
		DietaryRestrictions: []string{},
		Hemisphere:          "north",
	}
}

// Southern reports whether the profile lives in the southern hemisphere.
func (p *UserProfile) Southern() bool {
	return p.Hemisphere == "south"
}

// Completeness is the share of optional profile sections that are filled in.
func (p *UserProfile) Completeness() float64 {
	filled := 0
	if len(p.TastePreferences) > 0 {
		filled++
	}
	if len(p.CulturalPreferences) > 0 {
		filled++
	}
	if len(p.DietaryRestrictions) > 0 {
		filled++
	}
	if p.BudgetMax > 0 {
		filled++
	}
	if p.Region != "" {
		filled++
	}
	return float64(filled) / 5.0
}

// RecommendationContext is the caller-supplied scope of a recommendation request.
type RecommendationContext struct {
	Now    time.Time       `json:"now"`
	Filter CandidateFilter `json:"filter"`
	Count  int             `json:"count"`
}

// Factor names in weight order.
const (
	FactorTaste      = "taste"
	FactorDietary    = "dietary"
	FactorCultural   = "cultural"
	FactorSeasonal   = "seasonal"
	FactorBudget     = "budget"
	FactorSkill      = "skill"
	FactorBehavioral = "behavioral"
)

// FactorScores is the seven-factor breakdown of a recommendation score.
type FactorScores struct {
	Taste      float64 `json:"taste"`
	Dietary    float64 `json:"dietary"`
	Cultural   float64 `json:"cultural"`
	Seasonal   float64 `json:"seasonal"`
	Budget     float64 `json:"budget"`
	Skill      float64 `json:"skill"`
	Behavioral float64 `json:"behavioral"`
}

// Recommendation is a scored catalog item with its explanation.
type Recommendation struct {
	Item       *CandidateItem `json:"item"`
	Reasons    []string       `json:"reasons"`
	Factors    FactorScores   `json:"factors"`
	Score      float64        `json:"score"`
	Confidence float64        `json:"confidence"`
	Fallback   bool           `json:"fallback,omitempty"`
}

// ContainsFold reports whether list contains v, ignoring case.
func ContainsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
