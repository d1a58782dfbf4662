package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/adaptly/pkg/models"
)

// ProfileStore provides profile operations using GORM.
type ProfileStore struct {
	db *gorm.DB
}

// NewProfileStore creates a new profile store.
func NewProfileStore(store *Store) *ProfileStore {
	return &ProfileStore{db: store.DB}
}

// GetProfile loads the profile for userID.
func (s *ProfileStore) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	ctx, cancel := withTimeout(ctx, "get_profile")
	defer cancel()

	var row Profile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("profile %s: %w", userID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, err)
	}

	p := &models.UserProfile{
		UserID:              row.UserID,
		Age:                 row.Age,
		Region:              row.Region,
		Hemisphere:          row.Hemisphere,
		CulturalPreferences: []string(row.CulturalPreferences),
		DietaryRestrictions: []string(row.DietaryRestrictions),
		TastePreferences:    map[string]float64(row.TastePreferences),
		BudgetMin:           row.BudgetMin,
		BudgetMax:           row.BudgetMax,
	}
	if p.TastePreferences == nil {
		p.TastePreferences = map[string]float64{}
	}
	return p, nil
}

// PutProfile inserts or replaces p.
func (s *ProfileStore) PutProfile(ctx context.Context, p *models.UserProfile) error {
	ctx, cancel := withTimeout(ctx, "put_profile")
	defer cancel()

	row := &Profile{
		UserID:              p.UserID,
		Age:                 p.Age,
		Region:              p.Region,
		Hemisphere:          p.Hemisphere,
		CulturalPreferences: models.JSONStringArray(p.CulturalPreferences),
		DietaryRestrictions: models.JSONStringArray(p.DietaryRestrictions),
		TastePreferences:    models.JSONFloatMap(p.TastePreferences),
		BudgetMin:           p.BudgetMin,
		BudgetMax:           p.BudgetMax,
		UpdatedAt:           time.Now().UTC(),
	}
	if row.Hemisphere == "" {
		row.Hemisphere = "north"
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(row).Error
}
