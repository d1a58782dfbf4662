package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/adaptly/pkg/models"
)

// PatternStore persists usage pattern snapshots as JSON documents.
type PatternStore struct {
	db *gorm.DB
}

// NewPatternStore creates a new pattern store.
func NewPatternStore(store *Store) *PatternStore {
	return &PatternStore{db: store.DB}
}

// Get loads the stored pattern for userID.
func (s *PatternStore) Get(ctx context.Context, userID string) (*models.UsagePattern, error) {
	ctx, cancel := withTimeout(ctx, "get_pattern")
	defer cancel()

	var row UsagePattern
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("pattern %s: %w", userID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get pattern %s: %w", userID, err)
	}

	p := models.NewUsagePattern(userID)
	if err := json.Unmarshal([]byte(row.Data), p); err != nil {
		return nil, fmt.Errorf("decode pattern %s: %w", userID, err)
	}
	return p, nil
}

// Put replaces the stored pattern for p.UserID.
func (s *PatternStore) Put(ctx context.Context, p *models.UsagePattern) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode pattern %s: %w", p.UserID, err)
	}

	ctx, cancel := withTimeout(ctx, "put_pattern")
	defer cancel()

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&UsagePattern{
			UserID:      p.UserID,
			Data:        string(data),
			TotalEvents: p.TotalEvents,
			UpdatedAt:   time.Now().UTC(),
		}).Error
}
