package gating

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/adaptly/internal/idgen"
	"github.com/thebtf/adaptly/pkg/models"
)

// stripeCount is the number of per-user write locks.
const stripeCount = 64

// StateRepository persists per-user gate state.
// Get returns an error wrapping models.ErrNotFound when no record exists.
type StateRepository interface {
	Get(ctx context.Context, userID, gateID string) (*models.UserGateState, error)
	Put(ctx context.Context, state *models.UserGateState) error
	ListForUser(ctx context.Context, userID string) ([]models.UserGateState, error)
}

// Subject is the assessed view of a user that gate conditions are checked against.
type Subject struct {
	Now      time.Time
	Journey  *models.JourneyAssessment
	UserID   string
	Region   string
	Skill    models.SkillLevel
	Sessions int
	Age      int
}

// UnlockHook is called after a gate is unlocked for a user.
type UnlockHook func(state models.UserGateState)

// fallbackStrategy applies when neither the gate nor the journey supplies one.
var fallbackStrategy = models.IntroductionStrategy{
	Method:          models.MethodGuided,
	Timing:          models.TimingOnDemand,
	Presentation:    models.PresentationModal,
	MessageTemplate: "{feature} is now available.",
}

// Evaluator runs the per-user gate state machine:
// locked -> eligible -> introduced -> unlocked. Unlock is terminal.
type Evaluator struct {
	registry *Registry
	states   StateRepository
	ids      idgen.Generator
	onUnlock UnlockHook
	log      zerolog.Logger
	now      func() time.Time
	stripes  [stripeCount]sync.Mutex
}

// NewEvaluator creates an evaluator over registry and states.
func NewEvaluator(registry *Registry, states StateRepository, ids idgen.Generator) *Evaluator {
	if ids == nil {
		ids = idgen.UUID{}
	}
	return &Evaluator{
		registry: registry,
		states:   states,
		ids:      ids,
		log:      log.With().Str("component", "gating").Logger(),
		now:      time.Now,
	}
}

// OnUnlock registers a hook invoked after every unlock. Not safe to call concurrently with evaluation.
func (e *Evaluator) OnUnlock(hook UnlockHook) {
	e.onUnlock = hook
}

// WithClock overrides the time source used when a Subject carries no Now.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// Registry returns the gate definitions in use.
func (e *Evaluator) Registry() *Registry {
	return e.registry
}

func (e *Evaluator) lock(userID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	mu := &e.stripes[h.Sum32()%stripeCount]
	mu.Lock()
	return mu.Unlock
}

func (e *Evaluator) timeOf(s Subject) time.Time {
	if !s.Now.IsZero() {
		return s.Now
	}
	return e.now()
}

// load returns the stored state or a fresh locked record.
func (e *Evaluator) load(ctx context.Context, userID, gateID string) (*models.UserGateState, bool, error) {
	st, err := e.states.Get(ctx, userID, gateID)
	if err == nil && st != nil {
		return st, false, nil
	}
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, false, fmt.Errorf("load gate state %s/%s: %w", userID, gateID, err)
	}
	return &models.UserGateState{UserID: userID, GateID: gateID, Status: models.GateLocked}, true, nil
}

func (e *Evaluator) save(ctx context.Context, st *models.UserGateState, now time.Time) error {
	st.UpdatedAt = now
	if err := e.states.Put(ctx, st); err != nil {
		return fmt.Errorf("save gate state %s/%s: %w", st.UserID, st.GateID, err)
	}
	return nil
}

// Evaluate checks whether subject may see gateID. Ineligibility is reported in the
// decision, not as an error. Once unlocked, a gate stays eligible.
func (e *Evaluator) Evaluate(ctx context.Context, subject Subject, gateID string) (models.GateDecision, error) {
	gate, err := e.registry.Get(gateID)
	if err != nil {
		return models.GateDecision{}, err
	}

	unlock := e.lock(subject.UserID)
	defer unlock()

	d, _, err := e.evaluateLocked(ctx, subject, gate)
	return d, err
}

func (e *Evaluator) evaluateLocked(ctx context.Context, subject Subject, gate *models.ContentGate) (models.GateDecision, *models.UserGateState, error) {
	now := e.timeOf(subject)
	st, created, err := e.load(ctx, subject.UserID, gate.ID)
	if err != nil {
		return models.GateDecision{}, nil, err
	}

	var d models.GateDecision
	if st.Unlocked {
		d = models.GateDecision{GateID: gate.ID, Eligible: true, Status: models.GateUnlocked, Readiness: 1}
	} else {
		d, err = e.check(ctx, subject, gate, now)
		if err != nil {
			return models.GateDecision{}, nil, err
		}
		// Only unlock is permanent: eligibility follows the current check.
		changed := created
		switch {
		case d.Eligible && st.Status == models.GateLocked:
			st.Status = models.GateEligible
			changed = true
		case !d.Eligible && st.Status == models.GateEligible:
			st.Status = models.GateLocked
			changed = true
		}
		if changed {
			if err := e.save(ctx, st, now); err != nil {
				return models.GateDecision{}, nil, err
			}
		}
		d.Status = st.Status
	}

	e.registry.Counters(gate.ID).recordDecision(d)
	e.log.Debug().
		Str("user", subject.UserID).
		Str("gate", gate.ID).
		Bool("eligible", d.Eligible).
		Str("reason", d.Reason).
		Msg("Evaluated gate")
	return d, st, nil
}

// check applies the eligibility conditions in a fixed order and reports the first failure.
func (e *Evaluator) check(ctx context.Context, s Subject, gate *models.ContentGate, now time.Time) (models.GateDecision, error) {
	c := gate.Conditions
	d := models.GateDecision{GateID: gate.ID}

	missing, err := e.missingDependencies(ctx, s.UserID, c.Dependencies)
	if err != nil {
		return d, err
	}

	switch {
	case !s.Skill.AtLeast(c.MinSkill):
		d.Reason = models.ReasonInsufficientSkill
	case s.Sessions < c.MinSessions:
		d.Reason = models.ReasonInsufficientExperience
	case !ageAllowed(s.Age, c):
		d.Reason = models.ReasonAgeRestriction
	case s.Region != "" && models.ContainsFold(c.BlockedRegions, s.Region):
		d.Reason = models.ReasonRegionRestricted
	case !c.Window.Contains(now):
		d.Reason = models.ReasonOutsideWindow
	case len(missing) > 0:
		d.Reason = models.ReasonMissingDependencies
	default:
		d.Eligible = true
	}

	d.Missing = missing
	d.Readiness = readiness(s, gate, len(c.Dependencies)-len(missing), d)
	return d, nil
}

// ageAllowed treats an unknown age (zero) as failing a minimum bound.
func ageAllowed(age int, c models.EligibilityConditions) bool {
	if c.MinAge > 0 && age < c.MinAge {
		return false
	}
	if c.MaxAge > 0 && age > c.MaxAge {
		return false
	}
	return true
}

func (e *Evaluator) missingDependencies(ctx context.Context, userID string, deps []string) ([]string, error) {
	var missing []string
	for _, dep := range deps {
		st, err := e.states.Get(ctx, userID, dep)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("load dependency %s/%s: %w", userID, dep, err)
		}
		if st == nil || !st.Unlocked {
			missing = append(missing, dep)
		}
	}
	return missing, nil
}

// readiness estimates how prepared the subject is for gate, in [0,1].
// Hard restrictions (age, region, window) zero it; otherwise it averages
// progress towards the skill, session and dependency requirements.
func readiness(s Subject, gate *models.ContentGate, depsMet int, d models.GateDecision) float64 {
	if d.Eligible {
		return 1
	}
	switch d.Reason {
	case models.ReasonAgeRestriction, models.ReasonRegionRestricted, models.ReasonOutsideWindow:
		return 0
	}

	c := gate.Conditions
	skill := math.Min(1, float64(s.Skill+1)/float64(c.MinSkill+1))
	sessions := 1.0
	if c.MinSessions > 0 {
		sessions = math.Min(1, float64(s.Sessions)/float64(c.MinSessions))
	}
	deps := 1.0
	if n := len(c.Dependencies); n > 0 {
		deps = float64(depsMet) / float64(n)
	}
	return (skill + sessions + deps) / 3
}

// Introduce moves an eligible gate to introduced and renders its message.
// Re-introducing only bumps the view counter. The immediate method unlocks at once.
func (e *Evaluator) Introduce(ctx context.Context, subject Subject, gateID string, override models.IntroductionMethod) (models.IntroductionResult, error) {
	gate, err := e.registry.Get(gateID)
	if err != nil {
		return models.IntroductionResult{}, err
	}
	if override != "" && !models.ValidMethod(override) {
		return models.IntroductionResult{}, fmt.Errorf("%w: unknown introduction method %q", models.ErrInvalidArgument, override)
	}

	unlock := e.lock(subject.UserID)
	defer unlock()

	d, st, err := e.evaluateLocked(ctx, subject, gate)
	if err != nil {
		return models.IntroductionResult{}, err
	}
	res := models.IntroductionResult{GateID: gate.ID, Status: d.Status}
	if !d.Eligible {
		res.Reason = d.Reason
		return res, nil
	}

	now := e.timeOf(subject)
	counters := e.registry.Counters(gate.ID)
	strategy := e.strategyFor(gate, subject, override)
	if st.Method != "" && override == "" {
		strategy.Method = st.Method
	}
	res.Strategy = strategy
	res.Message = renderMessage(strategy.MessageTemplate, gate, subject.UserID)
	res.Steps = strategy.OnboardingSteps

	if st.Status == models.GateIntroduced || st.Unlocked {
		st.Views++
		if err := e.save(ctx, st, now); err != nil {
			return models.IntroductionResult{}, err
		}
		counters.Views.Add(1)
		res.Introduced = true
		res.Repeat = true
		res.Unlocked = st.Unlocked
		res.Status = st.Status
		return res, nil
	}

	st.Status = models.GateIntroduced
	st.IntroducedAt = now
	st.Method = strategy.Method
	st.Views = 1
	unlocked := false
	if strategy.Method == models.MethodImmediate {
		unlocked = e.unlockState(st, now)
	}
	if err := e.save(ctx, st, now); err != nil {
		return models.IntroductionResult{}, err
	}
	counters.Introductions.Add(1)
	counters.Views.Add(1)
	if unlocked {
		e.notifyUnlock(st)
	}

	res.ID = e.ids.NewID()
	res.Introduced = true
	res.Unlocked = st.Unlocked
	res.Status = st.Status
	e.log.Info().
		Str("user", subject.UserID).
		Str("gate", gate.ID).
		Str("method", string(strategy.Method)).
		Msg("Introduced gate")
	return res, nil
}

// Engage records a caller-supplied unlock signal. An introduced gate unlocks when
// action matches its qualifying action, or on any action when none is configured.
// It returns the resulting state; gates that are not yet introduced are left as they are.
func (e *Evaluator) Engage(ctx context.Context, userID, gateID string, action models.ActionType) (models.UserGateState, error) {
	gate, err := e.registry.Get(gateID)
	if err != nil {
		return models.UserGateState{}, err
	}

	unlock := e.lock(userID)
	defer unlock()

	st, _, err := e.load(ctx, userID, gateID)
	if err != nil {
		return models.UserGateState{}, err
	}
	if st.Unlocked || st.Status != models.GateIntroduced {
		return *st, nil
	}
	if q := gate.Introduction.QualifyingAction; q != "" && q != action {
		return *st, nil
	}

	now := e.now()
	e.unlockState(st, now)
	if err := e.save(ctx, st, now); err != nil {
		return models.UserGateState{}, err
	}
	e.notifyUnlock(st)
	return *st, nil
}

// unlockState marks st unlocked. Unlock is terminal and never reverted.
func (e *Evaluator) unlockState(st *models.UserGateState, now time.Time) bool {
	if st.Unlocked {
		return false
	}
	st.Unlocked = true
	st.UnlockedAt = now
	st.Status = models.GateUnlocked
	e.registry.Counters(st.GateID).Unlocks.Add(1)
	return true
}

func (e *Evaluator) notifyUnlock(st *models.UserGateState) {
	e.log.Info().Str("user", st.UserID).Str("gate", st.GateID).Msg("Unlocked gate")
	if e.onUnlock != nil {
		e.onUnlock(*st)
	}
}

// States lists the stored gate states for a user.
func (e *Evaluator) States(ctx context.Context, userID string) ([]models.UserGateState, error) {
	return e.states.ListForUser(ctx, userID)
}

// strategyFor picks the gate's own strategy, else the journey default, else a guided fallback.
func (e *Evaluator) strategyFor(gate *models.ContentGate, s Subject, override models.IntroductionMethod) models.IntroductionStrategy {
	var strategy models.IntroductionStrategy
	switch {
	case !gate.Introduction.IsZero():
		strategy = gate.Introduction
		if strategy.MessageTemplate == "" && s.Journey != nil {
			strategy.MessageTemplate = s.Journey.DefaultStrategy.MessageTemplate
		}
	case s.Journey != nil && !s.Journey.DefaultStrategy.IsZero():
		strategy = s.Journey.DefaultStrategy
		strategy.QualifyingAction = gate.Introduction.QualifyingAction
		strategy.OnboardingSteps = gate.Introduction.OnboardingSteps
	default:
		strategy = fallbackStrategy
	}

	if strategy.Method == "" {
		strategy.Method = fallbackStrategy.Method
	}
	if strategy.Timing == "" {
		strategy.Timing = fallbackStrategy.Timing
	}
	if strategy.Presentation == "" {
		strategy.Presentation = fallbackStrategy.Presentation
	}
	if strategy.MessageTemplate == "" {
		strategy.MessageTemplate = fallbackStrategy.MessageTemplate
	}
	if override != "" {
		strategy.Method = override
	}
	return strategy
}

// renderMessage fills the {feature}, {category} and {user} placeholders.
func renderMessage(template string, gate *models.ContentGate, userID string) string {
	return strings.NewReplacer(
		"{feature}", gate.Name,
		"{category}", gate.Category,
		"{user}", userID,
	).Replace(template)
}
