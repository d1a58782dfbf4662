// Package memory provides in-process implementations of the engine's repositories.
// They back tests and single-node deployments without a database.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/thebtf/adaptly/pkg/models"
)

// ProfileStore keeps user profiles in a map.
type ProfileStore struct {
	profiles map[string]models.UserProfile
	mu       sync.RWMutex
}

// NewProfileStore creates an empty profile store.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{profiles: make(map[string]models.UserProfile)}
}

// GetProfile returns a copy of the stored profile.
func (s *ProfileStore) GetProfile(_ context.Context, userID string) (*models.UserProfile, error) {
	s.mu.RLock()
	p, ok := s.profiles[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", userID, models.ErrNotFound)
	}
	p.TastePreferences = maps.Clone(p.TastePreferences)
	p.CulturalPreferences = slices.Clone(p.CulturalPreferences)
	p.DietaryRestrictions = slices.Clone(p.DietaryRestrictions)
	return &p, nil
}

// PutProfile stores or replaces a profile.
func (s *ProfileStore) PutProfile(_ context.Context, p *models.UserProfile) error {
	s.mu.Lock()
	s.profiles[p.UserID] = *p
	s.mu.Unlock()
	return nil
}

// Catalog keeps candidate items in a map.
type Catalog struct {
	items map[string]*models.CandidateItem
	mu    sync.RWMutex
}

// NewCatalog creates a catalog holding items.
func NewCatalog(items ...*models.CandidateItem) *Catalog {
	c := &Catalog{items: make(map[string]*models.CandidateItem, len(items))}
	for _, it := range items {
		c.items[it.ID] = it
	}
	return c
}

// PutItem stores or replaces an item.
func (c *Catalog) PutItem(_ context.Context, item *models.CandidateItem) error {
	c.mu.Lock()
	c.items[item.ID] = item
	c.mu.Unlock()
	return nil
}

// ListCandidates returns the ids of items passing filter, sorted.
func (c *Catalog) ListCandidates(_ context.Context, filter models.CandidateFilter) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.items))
	for id, it := range c.items {
		if filter.Matches(it) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// GetItem returns the item with id.
func (c *Catalog) GetItem(_ context.Context, id string) (*models.CandidateItem, error) {
	c.mu.RLock()
	it, ok := c.items[id]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("item %s: %w", id, models.ErrNotFound)
	}
	return it, nil
}

// PatternRepository keeps the last persisted usage pattern per user.
type PatternRepository struct {
	patterns map[string]*models.UsagePattern
	mu       sync.RWMutex
}

// NewPatternRepository creates an empty pattern repository.
func NewPatternRepository() *PatternRepository {
	return &PatternRepository{patterns: make(map[string]*models.UsagePattern)}
}

// Get returns a copy of the stored pattern.
func (r *PatternRepository) Get(_ context.Context, userID string) (*models.UsagePattern, error) {
	r.mu.RLock()
	p, ok := r.patterns[userID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("pattern %s: %w", userID, models.ErrNotFound)
	}
	return p.Clone(), nil
}

// Put stores a copy of p.
func (r *PatternRepository) Put(_ context.Context, p *models.UsagePattern) error {
	r.mu.Lock()
	r.patterns[p.UserID] = p.Clone()
	r.mu.Unlock()
	return nil
}

type gateKey struct {
	user string
	gate string
}

// GateStates keeps gate state per (user, gate). An unlocked record is never relocked.
type GateStates struct {
	states map[gateKey]models.UserGateState
	mu     sync.RWMutex
}

// NewGateStates creates an empty gate state repository.
func NewGateStates() *GateStates {
	return &GateStates{states: make(map[gateKey]models.UserGateState)}
}

// Get returns the state for (userID, gateID).
func (g *GateStates) Get(_ context.Context, userID, gateID string) (*models.UserGateState, error) {
	g.mu.RLock()
	st, ok := g.states[gateKey{userID, gateID}]
	g.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("gate state %s/%s: %w", userID, gateID, models.ErrNotFound)
	}
	return &st, nil
}

// Put stores st, keeping an existing unlock.
func (g *GateStates) Put(_ context.Context, st *models.UserGateState) error {
	key := gateKey{st.UserID, st.GateID}
	g.mu.Lock()
	defer g.mu.Unlock()
	next := *st
	if prev, ok := g.states[key]; ok && prev.Unlocked && !next.Unlocked {
		next.Unlocked = true
		next.UnlockedAt = prev.UnlockedAt
		next.Status = models.GateUnlocked
	}
	g.states[key] = next
	return nil
}

// ListForUser returns the user's states sorted by gate id.
func (g *GateStates) ListForUser(_ context.Context, userID string) ([]models.UserGateState, error) {
	g.mu.RLock()
	out := make([]models.UserGateState, 0)
	for key, st := range g.states {
		if key.user == userID {
			out = append(out, st)
		}
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].GateID < out[j].GateID })
	return out, nil
}

// EventLog keeps every appended event per user, oldest first.
type EventLog struct {
	events map[string][]models.InteractionEvent
	mu     sync.RWMutex
}

// NewEventLog creates an empty event log.
func NewEventLog() *EventLog {
	return &EventLog{events: make(map[string][]models.InteractionEvent)}
}

// Append records e.
func (l *EventLog) Append(_ context.Context, e models.InteractionEvent) error {
	l.mu.Lock()
	l.events[e.UserID] = append(l.events[e.UserID], e)
	l.mu.Unlock()
	return nil
}

// Recent returns up to limit of the user's newest events, oldest first.
func (l *EventLog) Recent(_ context.Context, userID string, limit int) ([]models.InteractionEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	all := l.events[userID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return slices.Clone(all), nil
}
