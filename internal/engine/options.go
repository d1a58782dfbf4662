package engine

import (
	"time"

	"github.com/thebtf/adaptly/internal/analytics"
	"github.com/thebtf/adaptly/internal/cache"
	"github.com/thebtf/adaptly/internal/gating"
	"github.com/thebtf/adaptly/internal/idgen"
	"github.com/thebtf/adaptly/internal/ingest"
	"github.com/thebtf/adaptly/internal/ledger"
	"github.com/thebtf/adaptly/pkg/models"
)

// Options holds the engine tunables.
type Options struct {
	Scoring          *models.ScoringConfig
	Assessor         *models.AssessorConfig
	Aggregator       models.AggregatorConfig
	Engagement       models.EngagementConfig
	ProfileTTL       time.Duration
	LedgerCapacity   int
	QueueCapacity    int
	ProfileCacheSize int
	AnalyticsBuffer  int
}

// DefaultOptions returns the default engine tunables.
func DefaultOptions() Options {
	return Options{
		Scoring:          models.DefaultScoringConfig(),
		Assessor:         models.DefaultAssessorConfig(),
		Aggregator:       models.DefaultAggregatorConfig(),
		Engagement:       models.DefaultEngagementConfig(),
		ProfileTTL:       5 * time.Minute,
		LedgerCapacity:   ledger.DefaultCapacity,
		QueueCapacity:    ingest.DefaultQueueCapacity,
		ProfileCacheSize: 10000,
		AnalyticsBuffer:  analytics.DefaultBufferSize,
	}
}

// Deps are the collaborators the engine is built from.
// Profiles, Catalog, Patterns, GateStates, Events and Gates are required.
type Deps struct {
	Profiles   ProfileStore
	Catalog    CatalogStore
	Patterns   PatternRepository
	GateStates GateStateRepository
	Events     EventLog
	Gates      *gating.Registry
	Sink       analytics.Sink
	Metrics    *analytics.Metrics
	IDs        idgen.Generator
	Clock      cache.Clock
}
