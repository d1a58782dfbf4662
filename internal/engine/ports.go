package engine

import (
	"context"

	"github.com/thebtf/adaptly/internal/gating"
	"github.com/thebtf/adaptly/internal/scoring"
	"github.com/thebtf/adaptly/pkg/models"
)

// ProfileStore supplies user profiles. A missing profile is reported with models.ErrNotFound.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
}

// CatalogStore lists and fetches candidate items.
type CatalogStore = scoring.Catalog

// PatternRepository persists usage pattern snapshots.
type PatternRepository interface {
	Get(ctx context.Context, userID string) (*models.UsagePattern, error)
	Put(ctx context.Context, p *models.UsagePattern) error
}

// GateStateRepository persists per-user gate state.
type GateStateRepository = gating.StateRepository

// EventLog is the durable interaction history used to rebuild the ledger after a restart.
type EventLog interface {
	Append(ctx context.Context, e models.InteractionEvent) error
	Recent(ctx context.Context, userID string, limit int) ([]models.InteractionEvent, error)
}
