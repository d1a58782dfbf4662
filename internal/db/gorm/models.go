package gorm

import (
	"time"

	"github.com/thebtf/adaptly/pkg/models"
)

// GORM Models

// Profile is a stored user profile.
type Profile struct {
	UpdatedAt           time.Time
	TastePreferences    models.JSONFloatMap    `gorm:"type:text"`
	UserID              string                 `gorm:"primaryKey"`
	Region              string                 `gorm:"index"`
	Hemisphere          string                 `gorm:"default:'north'"`
	CulturalPreferences models.JSONStringArray `gorm:"type:text"`
	DietaryRestrictions models.JSONStringArray `gorm:"type:text"`
	Age                 int
	BudgetMin           float64
	BudgetMax           float64
}

func (Profile) TableName() string { return "user_profiles" }

// CatalogItem is a candidate item row.
type CatalogItem struct {
	AddedAt       time.Time `gorm:"index:idx_catalog_added,sort:desc"`
	ID            string    `gorm:"primaryKey"`
	Title         string    `gorm:"not null;default:''"`
	Category      string    `gorm:"index"`
	Region        string
	Tags          models.JSONStringArray `gorm:"type:text"`
	DietaryFlags  models.JSONStringArray `gorm:"type:text"`
	SeasonalTags  models.JSONStringArray `gorm:"type:text"`
	PriceEstimate float64                `gorm:"index"`
	Difficulty    int                    `gorm:"default:0"`
}

func (CatalogItem) TableName() string { return "catalog_items" }

// UsagePattern stores the JSON-encoded pattern snapshot of a user.
type UsagePattern struct {
	UpdatedAt   time.Time
	UserID      string `gorm:"primaryKey"`
	Data        string `gorm:"type:text;not null"`
	TotalEvents int    `gorm:"not null;default:0"`
}

func (UsagePattern) TableName() string { return "usage_patterns" }

// GateState is the per-user gate record.
type GateState struct {
	UnlockedAt   *time.Time
	IntroducedAt *time.Time
	UpdatedAt    time.Time
	UserID       string `gorm:"primaryKey"`
	GateID       string `gorm:"primaryKey;index"`
	Status       string `gorm:"type:text;check:status IN ('locked', 'eligible', 'introduced', 'unlocked');not null"`
	Method       string
	Views        int  `gorm:"default:0"`
	Unlocked     bool `gorm:"default:false;index"`
}

func (GateState) TableName() string { return "user_gate_states" }

// InteractionEvent is one row of the append-only event log.
// Seq orders events per user by arrival.
type InteractionEvent struct {
	Metadata   models.JSONStringMap `gorm:"type:text"`
	EventID    string               `gorm:"uniqueIndex;not null"`
	UserID     string               `gorm:"index:idx_events_user_seq,priority:1;not null"`
	Action     string               `gorm:"not null"`
	Target     string
	Context    string
	Device     string
	SessionID  string `gorm:"index"`
	Seq        int64  `gorm:"primaryKey;autoIncrement;index:idx_events_user_seq,priority:2,sort:desc"`
	OccurredAt int64  `gorm:"not null"` // unix nanoseconds
	DurationNS int64
	Success    bool
}

func (InteractionEvent) TableName() string { return "interaction_events" }
