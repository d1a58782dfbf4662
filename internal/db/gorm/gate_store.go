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

// GateStore persists per-user gate state. An unlock is never cleared.
type GateStore struct {
	db *gorm.DB
}

// NewGateStore creates a new gate state store.
func NewGateStore(store *Store) *GateStore {
	return &GateStore{db: store.DB}
}

// Get loads the state of gateID for userID.
func (s *GateStore) Get(ctx context.Context, userID, gateID string) (*models.UserGateState, error) {
	ctx, cancel := withTimeout(ctx, "get_gate_state")
	defer cancel()

	var row GateState
	err := s.db.WithContext(ctx).Where("user_id = ? AND gate_id = ?", userID, gateID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("gate state %s/%s: %w", userID, gateID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get gate state %s/%s: %w", userID, gateID, err)
	}
	st := toGateState(&row)
	return &st, nil
}

// Put upserts st. A stored unlock survives a write that does not carry it.
func (s *GateStore) Put(ctx context.Context, st *models.UserGateState) error {
	ctx, cancel := withTimeout(ctx, "put_gate_state")
	defer cancel()

	row := fromGateState(st)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prev GateState
		err := tx.Where("user_id = ? AND gate_id = ?", row.UserID, row.GateID).First(&prev).Error
		switch {
		case err == nil && prev.Unlocked && !row.Unlocked:
			row.Unlocked = true
			row.UnlockedAt = prev.UnlockedAt
			row.Status = string(models.GateUnlocked)
		case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
	})
}

// ListForUser returns every stored state of userID ordered by gate id.
func (s *GateStore) ListForUser(ctx context.Context, userID string) ([]models.UserGateState, error) {
	ctx, cancel := withTimeout(ctx, "list_gate_states")
	defer cancel()

	var rows []GateState
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("gate_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list gate states %s: %w", userID, err)
	}
	out := make([]models.UserGateState, 0, len(rows))
	for i := range rows {
		out = append(out, toGateState(&rows[i]))
	}
	return out, nil
}

func fromGateState(st *models.UserGateState) *GateState {
	row := &GateState{
		UserID:    st.UserID,
		GateID:    st.GateID,
		Status:    string(st.Status),
		Method:    string(st.Method),
		Views:     st.Views,
		Unlocked:  st.Unlocked,
		UpdatedAt: st.UpdatedAt.UTC(),
	}
	if row.Status == "" {
		row.Status = string(models.GateLocked)
	}
	row.UnlockedAt = timePtr(st.UnlockedAt)
	row.IntroducedAt = timePtr(st.IntroducedAt)
	return row
}

func toGateState(row *GateState) models.UserGateState {
	st := models.UserGateState{
		UserID:    row.UserID,
		GateID:    row.GateID,
		Status:    models.GateStatus(row.Status),
		Method:    models.IntroductionMethod(row.Method),
		Views:     row.Views,
		Unlocked:  row.Unlocked,
		UpdatedAt: row.UpdatedAt.UTC(),
	}
	if row.UnlockedAt != nil {
		st.UnlockedAt = row.UnlockedAt.UTC()
	}
	if row.IntroducedAt != nil {
		st.IntroducedAt = row.IntroducedAt.UTC()
	}
	return st
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
