package gorm

import (
	"context"
	"fmt"
	"slices"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/adaptly/pkg/models"
)

// EventStore is the durable interaction log.
type EventStore struct {
	db *gorm.DB
}

// NewEventStore creates a new event store.
func NewEventStore(store *Store) *EventStore {
	return &EventStore{db: store.DB}
}

// Append records e. Re-appending an event id is a no-op.
func (s *EventStore) Append(ctx context.Context, e models.InteractionEvent) error {
	ctx, cancel := withTimeout(ctx, "append_event")
	defer cancel()

	row := &InteractionEvent{
		EventID:    e.ID,
		UserID:     e.UserID,
		Action:     string(e.Action),
		Target:     e.Target,
		Context:    e.Context,
		Device:     string(e.Device),
		SessionID:  e.SessionID,
		OccurredAt: e.Timestamp.UnixNano(),
		DurationNS: int64(e.Duration),
		Success:    e.Success,
		Metadata:   models.JSONStringMap(e.Metadata),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).
		Create(row).Error
}

// Recent returns up to limit of the user's newest events, oldest first.
// A non-positive limit returns everything.
func (s *EventStore) Recent(ctx context.Context, userID string, limit int) ([]models.InteractionEvent, error) {
	ctx, cancel := withTimeout(ctx, "recent_events")
	defer cancel()

	q := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []InteractionEvent
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("recent events %s: %w", userID, err)
	}
	slices.Reverse(rows)

	out := make([]models.InteractionEvent, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		e := models.InteractionEvent{
			ID:        r.EventID,
			UserID:    r.UserID,
			Action:    models.ActionType(r.Action),
			Target:    r.Target,
			Context:   r.Context,
			Device:    models.DeviceClass(r.Device),
			SessionID: r.SessionID,
			Timestamp: time.Unix(0, r.OccurredAt).UTC(),
			Duration:  time.Duration(r.DurationNS),
			Success:   r.Success,
			Metadata:  map[string]string(r.Metadata),
		}
		e.Normalize()
		out = append(out, e)
	}
	return out, nil
}

// Count returns the number of logged events for userID.
func (s *EventStore) Count(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&InteractionEvent{}).Where("user_id = ?", userID).Count(&n).Error
	return n, err
}
