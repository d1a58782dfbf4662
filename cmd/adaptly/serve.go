package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm/logger"

	"github.com/thebtf/adaptly/internal/analytics"
	"github.com/thebtf/adaptly/internal/config"
	gormdb "github.com/thebtf/adaptly/internal/db/gorm"
	"github.com/thebtf/adaptly/internal/engine"
	"github.com/thebtf/adaptly/internal/gating"
	"github.com/thebtf/adaptly/internal/scheduler"
	"github.com/thebtf/adaptly/internal/worker"
)

const shutdownTimeout = 30 * time.Second

// app holds everything serve starts, in the order it must be torn down.
type app struct {
	store     *gormdb.Store
	redis     *analytics.RedisSink
	engine    *engine.Engine
	service   *worker.Service
	scheduler *scheduler.Service
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := setupLogging(cfg.LogLevel, cfg.LogFormat, os.Stderr); err != nil {
		return err
	}

	log.Info().
		Str("version", Version).
		Str("db_driver", cfg.DBDriver).
		Str("gates", cfg.GatesPath).
		Msg("Starting adaptly")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}

	if err := a.service.Start(); err != nil {
		a.close(context.Background())
		return fmt.Errorf("start http service: %w", err)
	}
	a.scheduler.Start(ctx)

	<-ctx.Done()
	log.Info().Msg("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.close(shutdownCtx)

	log.Info().Msg("Shutdown complete")
	return nil
}

// buildApp opens storage, loads gates and wires the engine, HTTP service and scheduler.
// Nothing is started.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	registry, err := gating.LoadFile(cfg.GatesPath)
	if err != nil {
		return nil, fmt.Errorf("load gates: %w", err)
	}

	store, err := gormdb.NewStore(gormdb.Config{
		Driver:   cfg.DBDriver,
		DSN:      cfg.DBDSN,
		MaxConns: cfg.MaxConns,
		LogLevel: gormLogLevel(),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &app{store: store}

	sinks := analytics.MultiSink{analytics.NewLogSink(log.Logger)}
	if cfg.RedisURL != "" {
		a.redis, err = analytics.NewRedisSink(ctx, cfg.RedisURL, cfg.RedisStream)
		if err != nil {
			a.close(context.Background())
			return nil, fmt.Errorf("connect analytics stream: %w", err)
		}
		sinks = append(sinks, a.redis)
	}

	metrics, err := analytics.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		a.close(context.Background())
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	opts := engine.DefaultOptions()
	opts.Scoring = cfg.ScoringConfig()
	opts.Aggregator = cfg.AggregatorConfig()
	opts.LedgerCapacity = cfg.LedgerCapacity
	opts.QueueCapacity = cfg.QueueCapacity
	opts.ProfileTTL = cfg.ProfileCacheTTL

	a.engine, err = engine.New(engine.Deps{
		Profiles:   gormdb.NewProfileStore(store),
		Catalog:    gormdb.NewCatalogStore(store),
		Patterns:   gormdb.NewPatternStore(store),
		GateStates: gormdb.NewGateStore(store),
		Events:     gormdb.NewEventStore(store),
		Gates:      registry,
		Sink:       sinks,
		Metrics:    metrics,
	}, opts)
	if err != nil {
		a.close(context.Background())
		return nil, err
	}

	probes := map[string]worker.Probe{
		"database": func(ctx context.Context) any { return a.store.Health(ctx) },
	}
	if a.redis != nil {
		probes["redis"] = func(ctx context.Context) any {
			if err := a.redis.Ping(ctx); err != nil {
				return map[string]string{"status": "down", "detail": err.Error()}
			}
			return map[string]string{"status": "ok"}
		}
	}
	a.service = worker.NewService(a.engine, Version, worker.Options{
		Probes:    probes,
		Addr:      cfg.Addr(),
		APIToken:  cfg.APIToken,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
	})

	schedCfg := scheduler.DefaultConfig()
	schedCfg.EngagementSchedule = cfg.EngagementSchedule
	a.scheduler, err = scheduler.NewService(a.engine, schedCfg, log.Logger)
	if err != nil {
		a.close(context.Background())
		return nil, err
	}
	return a, nil
}

// close tears down whatever was built. It is safe on a partially built app.
func (a *app) close(ctx context.Context) {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.service != nil {
		if err := a.service.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("HTTP shutdown error")
		}
	}
	if a.engine != nil {
		if err := a.engine.Close(ctx); err != nil {
			log.Error().Err(err).Msg("Engine shutdown error")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("Redis close error")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Database close error")
		}
	}
}

func gormLogLevel() logger.LogLevel {
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		return logger.Warn
	}
	return logger.Silent
}
