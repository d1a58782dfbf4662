// Package engine wires the ledger, aggregator, assessor, scorer, gate evaluator
// and engagement generator into the operations exposed to callers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/adaptly/internal/aggregator"
	"github.com/thebtf/adaptly/internal/analytics"
	"github.com/thebtf/adaptly/internal/assessor"
	"github.com/thebtf/adaptly/internal/cache"
	"github.com/thebtf/adaptly/internal/engagement"
	"github.com/thebtf/adaptly/internal/gating"
	"github.com/thebtf/adaptly/internal/idgen"
	"github.com/thebtf/adaptly/internal/ingest"
	"github.com/thebtf/adaptly/internal/ledger"
	"github.com/thebtf/adaptly/internal/scoring"
	"github.com/thebtf/adaptly/pkg/models"
)

// Notification types delivered to listeners.
const (
	NotifyGateUnlocked = "gate_unlocked"
	NotifyEngagement   = "engagement"
)

// Notification is pushed to listeners when something user-visible happens.
type Notification struct {
	Data   any    `json:"data"`
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// Listener receives notifications. It must not block.
type Listener func(Notification)

// Engine is the personalization and gating service.
type Engine struct {
	deps        Deps
	opts        Options
	ledger      *ledger.Ledger
	aggregator  *aggregator.Aggregator
	assessor    *assessor.Assessor
	recommender *scoring.Recommender
	evaluator   *gating.Evaluator
	generator   *engagement.Generator
	dispatcher  *ingest.Dispatcher
	tracker     *analytics.Tracker
	metrics     *analytics.Metrics
	profiles    *cache.TTL[string, *models.UserProfile]
	log         zerolog.Logger
	listeners   []Listener
	listenersMu sync.RWMutex
}

// New validates opts and builds an engine. Configuration errors wrap models.ErrInvalidConfig.
func New(deps Deps, opts Options) (*Engine, error) {
	switch {
	case deps.Profiles == nil, deps.Catalog == nil, deps.Patterns == nil,
		deps.GateStates == nil, deps.Events == nil, deps.Gates == nil:
		return nil, fmt.Errorf("%w: engine dependencies incomplete", models.ErrInvalidConfig)
	}
	if err := opts.Aggregator.Validate(); err != nil {
		return nil, err
	}

	calc, err := scoring.NewCalculator(opts.Scoring)
	if err != nil {
		return nil, err
	}
	assess, err := assessor.New(opts.Assessor)
	if err != nil {
		return nil, err
	}

	if deps.IDs == nil {
		deps.IDs = idgen.UUID{}
	}
	if deps.Clock == nil {
		deps.Clock = cache.SystemClock{}
	}
	if deps.Sink == nil {
		deps.Sink = analytics.NopSink{}
	}
	if deps.Metrics == nil {
		if deps.Metrics, err = analytics.NewMetrics(nil); err != nil {
			return nil, fmt.Errorf("create metrics: %w", err)
		}
	}

	led := ledger.New(opts.LedgerCapacity)
	e := &Engine{
		deps:        deps,
		opts:        opts,
		ledger:      led,
		aggregator:  aggregator.New(led, opts.Aggregator),
		assessor:    assess,
		recommender: scoring.NewRecommender(deps.Catalog, calc).WithClock(deps.Clock.Now),
		evaluator:   gating.NewEvaluator(deps.Gates, deps.GateStates, deps.IDs).WithClock(deps.Clock.Now),
		generator:   engagement.NewGenerator(opts.Engagement, deps.IDs),
		tracker:     analytics.NewTracker(deps.Sink, opts.AnalyticsBuffer),
		metrics:     deps.Metrics,
		profiles:    cache.NewTTL[string, *models.UserProfile](opts.ProfileTTL, opts.ProfileCacheSize, deps.Clock),
		log:         log.With().Str("component", "engine").Logger(),
	}
	e.dispatcher = ingest.NewDispatcher(e.process, opts.QueueCapacity)
	e.dispatcher.SetOnDrop(e.dropped)
	e.evaluator.OnUnlock(e.unlocked)
	return e, nil
}

// Subscribe registers a notification listener.
func (e *Engine) Subscribe(l Listener) {
	e.listenersMu.Lock()
	e.listeners = append(e.listeners, l)
	e.listenersMu.Unlock()
}

func (e *Engine) notify(n Notification) {
	e.listenersMu.RLock()
	defer e.listenersMu.RUnlock()
	for _, l := range e.listeners {
		l(n)
	}
}

func (e *Engine) track(typ, userID string, props map[string]any) {
	e.tracker.Track(analytics.Event{Type: typ, UserID: userID, At: e.deps.Clock.Now().UTC(), Properties: props})
}

// RecordInteraction validates event and queues it for userID. Invalid events are
// rejected with an error wrapping models.ErrInvalidEvent and never queued.
// The returned event carries the assigned id and timestamp.
func (e *Engine) RecordInteraction(ctx context.Context, userID string, event models.InteractionEvent) (models.InteractionEvent, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return event, fmt.Errorf("%w: empty user id", models.ErrInvalidArgument)
	}
	if err := event.Validate(); err != nil {
		return event, err
	}
	if err := ctx.Err(); err != nil {
		return event, err
	}

	event.UserID = userID
	if event.ID == "" {
		event.ID = e.deps.IDs.NewID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.deps.Clock.Now().UTC()
	}
	event.Normalize()

	if err := e.dispatcher.Enqueue(userID, event); err != nil {
		return event, fmt.Errorf("enqueue event: %w", err)
	}
	return event, nil
}

// process runs on the user's ingest worker.
func (e *Engine) process(ctx context.Context, userID string, event models.InteractionEvent) {
	if err := e.hydrate(ctx, userID); err != nil {
		e.log.Warn().Err(err).Str("user", userID).Msg("Ledger hydration failed, continuing with in-memory history")
	}
	if err := e.ledger.Append(userID, event); err != nil {
		e.log.Warn().Err(err).Str("user", userID).Str("event", event.ID).Msg("Ledger rejected event")
		return
	}

	p := e.aggregator.Observe(userID, event)
	if err := e.deps.Patterns.Put(ctx, p); err != nil {
		e.log.Warn().Err(err).Str("user", userID).Msg("Failed to persist usage pattern")
	}
	if err := e.deps.Events.Append(ctx, event); err != nil {
		e.log.Warn().Err(err).Str("user", userID).Str("event", event.ID).Msg("Failed to append event log")
	}

	e.metrics.RecordInteraction(ctx, string(event.Action))
	e.track(analytics.EventInteractionRecorded, userID, map[string]any{
		"event_id": event.ID,
		"action":   string(event.Action),
		"target":   event.Target,
	})
	e.engageFromEvent(ctx, userID, event)
}

// engageFromEvent unlocks introduced gates the event qualifies for: an engage event
// naming a gate, or any event matching a gate's configured qualifying action.
func (e *Engine) engageFromEvent(ctx context.Context, userID string, event models.InteractionEvent) {
	if d, ok := event.Detail.(models.EngageDetail); ok && d.GateID != "" {
		if _, err := e.evaluator.Engage(ctx, userID, d.GateID, event.Action); err != nil {
			e.log.Debug().Err(err).Str("user", userID).Str("gate", d.GateID).Msg("Engage event ignored")
		}
		return
	}

	states, err := e.evaluator.States(ctx, userID)
	if err != nil {
		e.log.Warn().Err(err).Str("user", userID).Msg("Failed to list gate states")
		return
	}
	for _, st := range states {
		if st.Status != models.GateIntroduced {
			continue
		}
		gate, err := e.deps.Gates.Get(st.GateID)
		if err != nil || gate.Introduction.QualifyingAction != event.Action {
			continue
		}
		if _, err := e.evaluator.Engage(ctx, userID, st.GateID, event.Action); err != nil {
			e.log.Warn().Err(err).Str("user", userID).Str("gate", st.GateID).Msg("Failed to engage gate")
		}
	}
}

func (e *Engine) dropped(userID string, event models.InteractionEvent) {
	e.metrics.RecordDropped(context.Background(), 1)
	e.track(analytics.EventInteractionDropped, userID, map[string]any{"event_id": event.ID})
}

func (e *Engine) unlocked(st models.UserGateState) {
	e.metrics.RecordUnlock(context.Background(), st.GateID)
	e.track(analytics.EventGateUnlocked, st.UserID, map[string]any{"gate_id": st.GateID})
	e.notify(Notification{Type: NotifyGateUnlocked, UserID: st.UserID, Data: st})
}

// hydrate seeds the ledger from the event log the first time a user with history
// is touched. The pattern is rebuilt from the hydrated ledger under the current
// aggregator config and written back, replacing whatever the repository held.
// Users without history leave no state behind.
func (e *Engine) hydrate(ctx context.Context, userID string) error {
	if e.ledger.Has(userID) {
		return nil
	}
	events, err := e.deps.Events.Recent(ctx, userID, e.ledger.Capacity())
	if err != nil {
		return fmt.Errorf("load event log for %s: %w", userID, err)
	}
	if !e.ledger.Hydrate(userID, events) {
		return nil
	}

	p := e.aggregator.Get(userID)
	if err := e.deps.Patterns.Put(ctx, p); err != nil {
		e.log.Warn().Err(err).Str("user", userID).Msg("Failed to refresh usage pattern")
	}
	e.log.Debug().Str("user", userID).Int("events", p.TotalEvents).Msg("Hydrated ledger")
	return nil
}

func (e *Engine) pattern(ctx context.Context, userID string) (*models.UsagePattern, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: empty user id", models.ErrInvalidArgument)
	}
	if err := e.hydrate(ctx, userID); err != nil {
		return nil, err
	}
	return e.aggregator.Get(userID), nil
}

// GetUsagePattern returns a copy of the user's current usage pattern.
// Events still queued for the user are not reflected until processed; see Flush.
func (e *Engine) GetUsagePattern(ctx context.Context, userID string) (*models.UsagePattern, error) {
	p, err := e.pattern(ctx, userID)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// AssessSkill classifies the user's skill tier.
func (e *Engine) AssessSkill(ctx context.Context, userID string) (models.SkillAssessment, error) {
	p, err := e.pattern(ctx, userID)
	if err != nil {
		return models.SkillAssessment{}, err
	}
	return e.assessor.Skill(p), nil
}

// AssessJourney places the user on the product journey.
func (e *Engine) AssessJourney(ctx context.Context, userID string) (models.JourneyAssessment, error) {
	p, err := e.pattern(ctx, userID)
	if err != nil {
		return models.JourneyAssessment{}, err
	}
	return e.assessor.Journey(p), nil
}

// profile returns the cached profile, loading it on a miss.
// A user without a stored profile gets the default profile.
func (e *Engine) profile(ctx context.Context, userID string) (*models.UserProfile, error) {
	if p, ok := e.profiles.Get(userID); ok {
		return p, nil
	}
	p, err := e.deps.Profiles.GetProfile(ctx, userID)
	switch {
	case errors.Is(err, models.ErrNotFound) || (err == nil && p == nil):
		p = models.DefaultProfile(userID)
	case err != nil:
		return nil, fmt.Errorf("load profile %s: %w", userID, err)
	}
	e.profiles.Put(userID, p)
	return p, nil
}

// InvalidateProfile drops the cached profile so the next read reloads it.
func (e *Engine) InvalidateProfile(userID string) {
	e.profiles.Delete(userID)
}

// GetRecommendations scores the catalog for userID. On cancellation it returns the
// items scored so far together with the context error.
func (e *Engine) GetRecommendations(ctx context.Context, userID string, rc models.RecommendationContext) ([]models.Recommendation, error) {
	p, err := e.pattern(ctx, userID)
	if err != nil {
		return nil, err
	}
	profile, err := e.profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	skill := e.assessor.Skill(p)

	start := time.Now()
	recs, stats, err := e.recommender.Recommend(ctx, scoring.Subject{
		UserID:  userID,
		Profile: profile,
		Pattern: p,
		Skill:   skill.Level,
	}, rc)

	e.metrics.RecordRecommendations(ctx, stats.Candidates, len(recs), stats.Fallback)
	e.track(analytics.EventRecommendationsServed, userID, map[string]any{
		"candidates": stats.Candidates,
		"skipped":    stats.Skipped,
		"served":     len(recs),
		"fallback":   stats.Fallback,
	})
	e.log.Debug().
		Str("user", userID).
		Int("candidates", stats.Candidates).
		Int("served", len(recs)).
		Dur("took", time.Since(start)).
		Msg("Served recommendations")
	return recs, err
}

// subject builds the gate subject from the user's profile and assessments.
func (e *Engine) subject(ctx context.Context, userID string) (gating.Subject, error) {
	p, err := e.pattern(ctx, userID)
	if err != nil {
		return gating.Subject{}, err
	}
	profile, err := e.profile(ctx, userID)
	if err != nil {
		return gating.Subject{}, err
	}
	journey := e.assessor.Journey(p)
	return gating.Subject{
		Now:      e.deps.Clock.Now(),
		UserID:   userID,
		Region:   profile.Region,
		Age:      profile.Age,
		Skill:    e.assessor.Skill(p).Level,
		Sessions: p.SessionCount(),
		Journey:  &journey,
	}, nil
}

// EvaluateGate checks whether userID may see gateID.
func (e *Engine) EvaluateGate(ctx context.Context, userID, gateID string) (models.GateDecision, error) {
	if _, err := e.deps.Gates.Get(gateID); err != nil {
		return models.GateDecision{}, err
	}
	s, err := e.subject(ctx, userID)
	if err != nil {
		return models.GateDecision{}, err
	}
	d, err := e.evaluator.Evaluate(ctx, s, gateID)
	if err != nil {
		return models.GateDecision{}, err
	}
	e.metrics.RecordGateDecision(ctx, gateID, d.Eligible, d.Reason)
	e.track(analytics.EventGateEvaluated, userID, map[string]any{
		"gate_id":  gateID,
		"eligible": d.Eligible,
		"reason":   d.Reason,
	})
	return d, nil
}

// IntroduceFeature introduces gateID to userID when eligible. A non-empty method
// overrides the configured introduction method.
func (e *Engine) IntroduceFeature(ctx context.Context, userID, gateID string, method models.IntroductionMethod) (models.IntroductionResult, error) {
	if _, err := e.deps.Gates.Get(gateID); err != nil {
		return models.IntroductionResult{}, err
	}
	s, err := e.subject(ctx, userID)
	if err != nil {
		return models.IntroductionResult{}, err
	}
	res, err := e.evaluator.Introduce(ctx, s, gateID, method)
	if err != nil {
		return models.IntroductionResult{}, err
	}
	if res.Introduced && !res.Repeat {
		e.track(analytics.EventGateIntroduced, userID, map[string]any{
			"gate_id": gateID,
			"method":  string(res.Strategy.Method),
		})
	}
	return res, nil
}

// RecordGateEngagement applies a caller-supplied unlock signal for an introduced gate.
func (e *Engine) RecordGateEngagement(ctx context.Context, userID, gateID string, action models.ActionType) (models.UserGateState, error) {
	if strings.TrimSpace(userID) == "" {
		return models.UserGateState{}, fmt.Errorf("%w: empty user id", models.ErrInvalidArgument)
	}
	return e.evaluator.Engage(ctx, userID, gateID, action)
}

// GateStates lists the stored gate states for userID.
func (e *Engine) GateStates(ctx context.Context, userID string) ([]models.UserGateState, error) {
	return e.evaluator.States(ctx, userID)
}

// Gates returns the gate registry.
func (e *Engine) Gates() *gating.Registry {
	return e.deps.Gates
}

// GenerateEngagement builds the engagement plan for userID.
func (e *Engine) GenerateEngagement(ctx context.Context, userID string) (models.EngagementPlan, error) {
	p, err := e.pattern(ctx, userID)
	if err != nil {
		return models.EngagementPlan{}, err
	}
	plan := e.generator.Generate(p, e.deps.Clock.Now().UTC())
	if !plan.Empty() {
		e.track(analytics.EventEngagementGenerated, userID, map[string]any{
			"opportunities": len(plan.Opportunities),
			"risks":         len(plan.Risks),
		})
	}
	return plan, nil
}

// PublishEngagement generates the plan for userID and notifies listeners when it is not empty.
func (e *Engine) PublishEngagement(ctx context.Context, userID string) (models.EngagementPlan, error) {
	plan, err := e.GenerateEngagement(ctx, userID)
	if err != nil {
		return plan, err
	}
	if !plan.Empty() {
		e.notify(Notification{Type: NotifyEngagement, UserID: userID, Data: plan})
	}
	return plan, nil
}

// Users lists every user with in-memory history, sorted.
func (e *Engine) Users() []string {
	return e.ledger.Users()
}

// Flush waits until every event queued for userID has been processed.
func (e *Engine) Flush(ctx context.Context, userID string) error {
	return e.dispatcher.Flush(ctx, userID)
}

// ExpireProfiles drops expired cached profiles and returns how many were removed.
func (e *Engine) ExpireProfiles() int {
	return e.profiles.Expire()
}

// Close drains queued events and stops background delivery.
func (e *Engine) Close(ctx context.Context) error {
	err := e.dispatcher.Close(ctx)
	return errors.Join(err, e.tracker.Close(ctx))
}

// Stats reports engine internals for the health endpoint.
func (e *Engine) Stats() map[string]any {
	return map[string]any{
		"ingest":     e.dispatcher.Stats(),
		"aggregator": e.aggregator.Stats(),
		"analytics":  e.tracker.Stats(),
		"ledger": map[string]any{
			"users":    len(e.ledger.Users()),
			"evicted":  e.ledger.Evicted(),
			"capacity": e.ledger.Capacity(),
		},
		"profiles_cached": e.profiles.Len(),
		"gates":           e.deps.Gates.Len(),
	}
}
