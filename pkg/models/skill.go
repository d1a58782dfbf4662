package models

import (
	"fmt"
	"strings"
)

// SkillLevel is an assessed proficiency tier. Levels form a total order.
type SkillLevel int

const (
	SkillBeginner SkillLevel = iota
	SkillIntermediate
	SkillAdvanced
	SkillExpert
)

var skillNames = [...]string{"beginner", "intermediate", "advanced", "expert"}

// String returns the lowercase level name.
func (l SkillLevel) String() string {
	if l < SkillBeginner || l > SkillExpert {
		return fmt.Sprintf("skill(%d)", int(l))
	}
	return skillNames[l]
}

// Valid reports whether l is one of the four defined levels.
func (l SkillLevel) Valid() bool {
	return l >= SkillBeginner && l <= SkillExpert
}

// AtLeast reports whether l satisfies a requirement of r.
func (l SkillLevel) AtLeast(r SkillLevel) bool {
	return l >= r
}

// ParseSkillLevel parses a level name.
func ParseSkillLevel(s string) (SkillLevel, error) {
	for i, name := range skillNames {
		if strings.EqualFold(s, name) {
			return SkillLevel(i), nil
		}
	}
	return SkillBeginner, fmt.Errorf("unknown skill level %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (l SkillLevel) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid skill level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *SkillLevel) UnmarshalText(b []byte) error {
	v, err := ParseSkillLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// SkillIndicators is the evidence an assessment was based on.
type SkillIndicators struct {
	FeatureUsage     map[string]int     `json:"feature_usage"`
	CompletionRates  map[string]float64 `json:"completion_rates"`
	DistinctFeatures int                `json:"distinct_features"`
	Sessions         int                `json:"sessions"`
}

// ProgressionMetrics summarizes how a user is advancing.
type ProgressionMetrics struct {
	LearningVelocity float64 `json:"learning_velocity"`
	RetentionRate    float64 `json:"retention_rate"`
	SkillApplication float64 `json:"skill_application"`
}

// SkillAssessment is the classification of a user's proficiency.
type SkillAssessment struct {
	UserID       string             `json:"user_id"`
	NextFeatures []string           `json:"next_features"`
	Indicators   SkillIndicators    `json:"indicators"`
	Progression  ProgressionMetrics `json:"progression"`
	Level        SkillLevel         `json:"level"`
	Confidence   float64            `json:"confidence"`
}

// JourneyStage is a coarse lifecycle bucket.
type JourneyStage string

const (
	StageDiscovery   JourneyStage = "discovery"
	StageExploration JourneyStage = "exploration"
	StageRegularUse  JourneyStage = "regular_use"
	StagePowerUser   JourneyStage = "power_user"
)

// JourneyAssessment places a user on the product journey.
type JourneyAssessment struct {
	UserID              string               `json:"user_id"`
	Stage               JourneyStage         `json:"stage"`
	RecommendedFeatures []string             `json:"recommended_features"`
	DefaultStrategy     IntroductionStrategy `json:"default_strategy"`
	Sessions            int                  `json:"sessions"`
	FeatureUsage        int                  `json:"feature_usage"`
}
