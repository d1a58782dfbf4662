package aggregator

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/thebtf/adaptly/pkg/models"
)

// Source is the read side of the interaction ledger.
type Source interface {
	Snapshot(userID string) []models.InteractionEvent
	Len(userID string) int
}

// entry holds the published snapshot for one user.
// mu serializes writers; readers only load snap.
type entry struct {
	snap atomic.Pointer[models.UsagePattern]
	mu   sync.Mutex
}

// Aggregator keeps an immutable UsagePattern snapshot per user.
// Readers never observe a partially applied event.
type Aggregator struct {
	source  Source
	log     zerolog.Logger
	entries map[string]*entry
	group   singleflight.Group
	cfg     models.AggregatorConfig
	mu      sync.RWMutex

	rebuilds    atomic.Int64
	incremental atomic.Int64
}

// New creates an aggregator reading from source.
func New(source Source, cfg models.AggregatorConfig) *Aggregator {
	return &Aggregator{
		source:  source,
		cfg:     cfg,
		entries: make(map[string]*entry),
		log:     log.With().Str("component", "aggregator").Logger(),
	}
}

func (a *Aggregator) lookup(userID string) *entry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.entries[userID]
}

func (a *Aggregator) entryFor(userID string) *entry {
	if e := a.lookup(userID); e != nil {
		return e
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[userID]
	if ok {
		return e
	}
	e = &entry{}
	a.entries[userID] = e
	return e
}

// Observe publishes a new snapshot after event was appended to the ledger.
// When the ledger evicted to make room, or no snapshot exists yet, it rebuilds
// from the ledger instead of applying incrementally.
func (a *Aggregator) Observe(userID string, event models.InteractionEvent) *models.UsagePattern {
	e := a.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.snap.Load()
	if cur != nil && a.source.Len(userID) == cur.TotalEvents+1 {
		next := cur.Clone()
		Apply(next, event, a.cfg)
		e.snap.Store(next)
		a.incremental.Add(1)
		return next
	}
	return a.rebuildLocked(userID, e)
}

func (a *Aggregator) rebuildLocked(userID string, e *entry) *models.UsagePattern {
	p := Rebuild(userID, a.source.Snapshot(userID), a.cfg)
	e.snap.Store(p)
	a.rebuilds.Add(1)
	a.log.Debug().Str("user", userID).Int("events", p.TotalEvents).Msg("Rebuilt usage pattern")
	return p
}

// Get returns the current snapshot for userID, building it on first access.
// Concurrent first reads share one rebuild. A user with no ledger history gets
// an empty pattern that is not retained. The returned pattern must not be mutated.
func (a *Aggregator) Get(userID string) *models.UsagePattern {
	e := a.lookup(userID)
	if e == nil {
		if a.source.Len(userID) == 0 {
			return Rebuild(userID, nil, a.cfg)
		}
		e = a.entryFor(userID)
	}
	if p := e.snap.Load(); p != nil {
		return p
	}

	v, _, _ := a.group.Do(userID, func() (any, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if p := e.snap.Load(); p != nil {
			return p, nil
		}
		return a.rebuildLocked(userID, e), nil
	})
	return v.(*models.UsagePattern)
}

// Invalidate drops the snapshot for userID so the next Get rebuilds.
func (a *Aggregator) Invalidate(userID string) {
	e := a.lookup(userID)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.snap.Store(nil)
	e.mu.Unlock()
}

// Stats reports how snapshots were produced.
func (a *Aggregator) Stats() map[string]any {
	a.mu.RLock()
	users := len(a.entries)
	a.mu.RUnlock()
	return map[string]any{
		"users":       users,
		"rebuilds":    a.rebuilds.Load(),
		"incremental": a.incremental.Load(),
	}
}
