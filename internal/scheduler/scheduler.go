// Package scheduler runs periodic engine upkeep: the engagement sweep and the
// profile cache janitor.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/adaptly/pkg/models"
)

// Engine is the subset of engine methods the scheduler drives.
type Engine interface {
	Users() []string
	PublishEngagement(ctx context.Context, userID string) (models.EngagementPlan, error)
	ExpireProfiles() int
}

// Config contains the schedule and sweep limits.
type Config struct {
	// EngagementSchedule is a standard cron spec or descriptor; empty disables the sweep.
	EngagementSchedule string `json:"engagement_schedule"`
	// JanitorInterval is the period between profile cache expiry passes; zero disables it.
	JanitorInterval time.Duration `json:"janitor_interval"`
	// Concurrency bounds how many users are swept at once.
	Concurrency int `json:"concurrency"`
	// SweepTimeout bounds one full sweep.
	SweepTimeout time.Duration `json:"sweep_timeout"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		EngagementSchedule: "@every 15m",
		JanitorInterval:    time.Minute,
		Concurrency:        4,
		SweepTimeout:       5 * time.Minute,
	}
}

// SweepResult summarizes one engagement sweep.
type SweepResult struct {
	Started   time.Time     `json:"started"`
	Duration  time.Duration `json:"duration"`
	Users     int           `json:"users"`
	Published int           `json:"published"`
	Failed    int           `json:"failed"`
}

// Service schedules the engagement sweep and the janitor.
type Service struct {
	engine     Engine
	cron       *cron.Cron
	log        zerolog.Logger
	lastSweep  SweepResult
	stopCh     chan struct{}
	config     Config
	wg         sync.WaitGroup
	sweeps     int64
	expired    int64
	sweepEntry cron.EntryID
	mu         sync.Mutex
	running    bool
	stopped    bool
}

// NewService validates cfg and creates a scheduler. It does not start anything.
func NewService(engine Engine, cfg Config, log zerolog.Logger) (*Service, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = DefaultConfig().SweepTimeout
	}

	s := &Service{
		engine: engine,
		config: cfg,
		log:    log.With().Str("component", "scheduler").Logger(),
		stopCh: make(chan struct{}),
	}
	s.cron = cron.New(
		cron.WithLogger(cronLogger{s.log}),
		cron.WithChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log})),
	)

	if cfg.EngagementSchedule != "" {
		id, err := s.cron.AddFunc(cfg.EngagementSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.config.SweepTimeout)
			defer cancel()
			s.RunNow(ctx)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: engagement schedule %q: %v", models.ErrInvalidConfig, cfg.EngagementSchedule, err)
		}
		s.sweepEntry = id
	}
	return s, nil
}

// Start begins the cron scheduler and the janitor loop. ctx cancellation stops the janitor.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running || s.stopped {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.cron.Start()
	s.log.Info().
		Str("engagement_schedule", s.config.EngagementSchedule).
		Dur("janitor_interval", s.config.JanitorInterval).
		Msg("Scheduler started")

	if s.config.JanitorInterval > 0 {
		s.wg.Add(1)
		go s.janitor(ctx)
	}
}

func (s *Service) janitor(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if n := s.engine.ExpireProfiles(); n > 0 {
				s.mu.Lock()
				s.expired += int64(n)
				s.mu.Unlock()
				s.log.Debug().Int("expired", n).Msg("Expired cached profiles")
			}
		}
	}
}

// Stop halts scheduling and waits for a running sweep and the janitor to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	if wasRunning {
		<-s.cron.Stop().Done()
	}
	s.wg.Wait()
	s.log.Info().Msg("Scheduler stopped")
}

// RunNow sweeps every known user synchronously and publishes non-empty engagement plans.
func (s *Service) RunNow(ctx context.Context) SweepResult {
	res := SweepResult{Started: time.Now()}
	users := s.engine.Users()
	res.Users = len(users)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for _, userID := range users {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			plan, err := s.engine.PublishEngagement(gctx, userID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				res.Failed++
				s.log.Warn().Err(err).Str("user", userID).Msg("Engagement sweep failed for user")
			case !plan.Empty():
				res.Published++
			}
			// Per-user failures never abort the sweep.
			return nil
		})
	}
	_ = g.Wait()
	res.Duration = time.Since(res.Started)

	s.mu.Lock()
	s.sweeps++
	s.lastSweep = res
	s.mu.Unlock()

	s.log.Info().
		Int("users", res.Users).
		Int("published", res.Published).
		Int("failed", res.Failed).
		Dur("took", res.Duration).
		Msg("Engagement sweep finished")
	return res
}

// NextSweep reports when the next scheduled sweep runs. The zero time means none is scheduled.
func (s *Service) NextSweep() time.Time {
	if s.sweepEntry == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.sweepEntry).Next
}

// Stats returns scheduler statistics.
func (s *Service) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]any{
		"engagement_schedule": s.config.EngagementSchedule,
		"janitor_interval":    s.config.JanitorInterval.String(),
		"running":             s.running,
		"sweeps":              s.sweeps,
		"last_sweep":          s.lastSweep,
		"profiles_expired":    s.expired,
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
