package gorm

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/thebtf/adaptly/pkg/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(Config{
		Driver:   DriverSQLite,
		DSN:      filepath.Join(t.TempDir(), "adaptly.db"),
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewStore_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adaptly.db")
	cfg := Config{Driver: DriverSQLite, DSN: path, LogLevel: logger.Silent}

	first, err := NewStore(cfg)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewStore(cfg)
	require.NoError(t, err)
	defer second.Close()

	for _, table := range []string{"user_profiles", "catalog_items", "usage_patterns", "user_gate_states", "interaction_events"} {
		assert.True(t, second.DB.Migrator().HasTable(table), table)
	}
	assert.Equal(t, DriverSQLite, second.Driver())
}

func TestNewStore_UnknownDriver(t *testing.T) {
	_, err := NewStore(Config{Driver: "oracle"})
	assert.Error(t, err)
}

func TestStore_Health(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	h := store.Health(ctx)
	assert.NotEqual(t, "down", h.Status)
	assert.Equal(t, DriverSQLite, h.Driver)
	if h.Status == "ok" {
		assert.Empty(t, h.Detail)
	}
	assert.Same(t, h, store.Health(ctx), "fresh result is reused")
	assert.NoError(t, store.Ping(ctx))
}

func TestStore_HealthAfterClose(t *testing.T) {
	store, err := NewStore(Config{
		Driver:   DriverSQLite,
		DSN:      filepath.Join(t.TempDir(), "closed.db"),
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	h := store.Health(context.Background())
	assert.Equal(t, "down", h.Status)
	assert.NotEmpty(t, h.Detail)
}

func TestProfileStore(t *testing.T) {
	ctx := context.Background()
	profiles := NewProfileStore(testStore(t))

	_, err := profiles.GetProfile(ctx, "u1")
	require.ErrorIs(t, err, models.ErrNotFound)

	want := &models.UserProfile{
		UserID:              "u1",
		Age:                 31,
		Region:              "eu",
		Hemisphere:          "south",
		CulturalPreferences: []string{"thai"},
		DietaryRestrictions: []string{"vegan"},
		TastePreferences:    map[string]float64{"spicy": 0.8},
		BudgetMin:           5,
		BudgetMax:           25,
	}
	require.NoError(t, profiles.PutProfile(ctx, want))

	got, err := profiles.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(want, got))

	want.Region = "us"
	require.NoError(t, profiles.PutProfile(ctx, want))
	got, err = profiles.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "us", got.Region)
}

func TestCatalogStore(t *testing.T) {
	ctx := context.Background()
	catalog := NewCatalogStore(testStore(t))
	added := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		require.NoError(t, catalog.PutItem(ctx, &models.CandidateItem{
			ID:            fmt.Sprintf("item-%d", i),
			Category:      []string{"dinner", "dessert"}[i%2],
			Tags:          []string{"spicy"},
			DietaryFlags:  [][]string{{"vegan"}, nil, {"Vegan", "gluten-free"}}[i%3],
			PriceEstimate: float64(10 * (i + 1)),
			Difficulty:    models.SkillAdvanced,
			AddedAt:       added,
		}))
	}

	ids, err := catalog.ListCandidates(ctx, models.CandidateFilter{})
	require.NoError(t, err)
	assert.Len(t, ids, 6)

	ids, err = catalog.ListCandidates(ctx, models.CandidateFilter{Category: "dinner", BudgetMax: 40})
	require.NoError(t, err)
	assert.Equal(t, []string{"item-0", "item-2"}, ids)

	ids, err = catalog.ListCandidates(ctx, models.CandidateFilter{DietaryRestrictions: []string{"vegan"}, BudgetMin: 25})
	require.NoError(t, err)
	assert.Equal(t, []string{"item-2", "item-3", "item-5"}, ids)

	item, err := catalog.GetItem(ctx, "item-4")
	require.NoError(t, err)
	assert.Equal(t, models.SkillAdvanced, item.Difficulty)
	assert.True(t, added.Equal(item.AddedAt))

	_, err = catalog.GetItem(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPatternStore(t *testing.T) {
	ctx := context.Background()
	patterns := NewPatternStore(testStore(t))

	_, err := patterns.Get(ctx, "u1")
	require.ErrorIs(t, err, models.ErrNotFound)

	p := models.NewUsagePattern("u1")
	p.TotalEvents = 3
	p.SuccessfulEvents = 2
	p.FeatureUsage["search"] = 3
	p.CompletionRates["calculator"] = 2
	p.AbandonmentPoints["checkout"] = 1
	p.Sessions["s1"] = 3
	p.TimeSlots.Morning = 3
	p.EngagementTrend = models.TrendDecreasing
	p.ReturnFrequency = 3
	p.FirstSeen = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	p.LastSeen = p.FirstSeen.Add(time.Hour)
	require.NoError(t, patterns.Put(ctx, p))

	got, err := patterns.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(p, got))

	p.TotalEvents = 4
	require.NoError(t, patterns.Put(ctx, p))
	got, err = patterns.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, got.TotalEvents)
}

func TestGateStore_UnlockIsSticky(t *testing.T) {
	ctx := context.Background()
	gates := NewGateStore(testStore(t))
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	_, err := gates.Get(ctx, "u1", "g1")
	require.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, gates.Put(ctx, &models.UserGateState{
		UserID: "u1", GateID: "g1", Status: models.GateUnlocked,
		Unlocked: true, UnlockedAt: now, IntroducedAt: now, Method: models.MethodImmediate, Views: 1,
	}))
	require.NoError(t, gates.Put(ctx, &models.UserGateState{
		UserID: "u1", GateID: "g1", Status: models.GateIntroduced, Views: 2,
	}))

	st, err := gates.Get(ctx, "u1", "g1")
	require.NoError(t, err)
	assert.True(t, st.Unlocked)
	assert.Equal(t, models.GateUnlocked, st.Status)
	assert.True(t, now.Equal(st.UnlockedAt))
	assert.Equal(t, 2, st.Views)

	require.NoError(t, gates.Put(ctx, &models.UserGateState{UserID: "u1", GateID: "a0", Status: models.GateLocked}))
	require.NoError(t, gates.Put(ctx, &models.UserGateState{UserID: "u2", GateID: "g1", Status: models.GateEligible}))

	states, err := gates.ListForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "a0", states[0].GateID)
	assert.True(t, states[0].UnlockedAt.IsZero())
	assert.Equal(t, "g1", states[1].GateID)
}

func TestEventStore(t *testing.T) {
	ctx := context.Background()
	events := NewEventStore(testStore(t))
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, events.Append(ctx, models.InteractionEvent{
			ID:        fmt.Sprintf("e%d", i),
			UserID:    "u1",
			Action:    models.ActionFeatureUse,
			Target:    "calculator",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Duration:  2 * time.Second,
			Success:   i%2 == 0,
			Metadata:  map[string]string{"n": fmt.Sprint(i)},
		}))
	}
	// Duplicate ids are ignored.
	require.NoError(t, events.Append(ctx, models.InteractionEvent{ID: "e4", UserID: "u1", Action: models.ActionView}))

	n, err := events.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	recent, err := events.Recent(ctx, "u1", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "e2", recent[0].ID)
	assert.Equal(t, "e4", recent[2].ID)
	assert.True(t, base.Add(4*time.Minute).Equal(recent[2].Timestamp))
	assert.Equal(t, 2*time.Second, recent[2].Duration)
	assert.Equal(t, models.FeatureUseDetail{Feature: "calculator"}, recent[2].Detail)
	assert.Equal(t, "4", recent[2].Metadata["n"])

	all, err := events.Recent(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	none, err := events.Recent(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
