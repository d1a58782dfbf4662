// Package worker serves the adaptly HTTP API.
package worker

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/adaptly/internal/engine"
	"github.com/thebtf/adaptly/internal/worker/sse"
)

// Service configuration constants
const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultMaxBodyBytes caps request bodies.
	DefaultMaxBodyBytes = 1 << 20

	// notificationBuffer is how many engine notifications may wait for SSE delivery.
	notificationBuffer = 256
)

// Probe reports the state of a dependency for /health.
type Probe func(ctx context.Context) any

// Options configures the HTTP service.
type Options struct {
	Probes         map[string]Probe // listed under "checks" in /health
	Addr           string
	APIToken       string  // empty disables token auth
	RateLimit      float64 // requests per second per client, 0 disables
	RateBurst      int
	MaxBodyBytes   int64
	AllowedOrigins []string // CORS origins, nil means DefaultAllowedOrigins
}

// Service is the HTTP front of the engine.
type Service struct {
	startTime time.Time
	engine    *engine.Engine
	router    *chi.Mux
	server    *http.Server
	events    *sse.Hub
	limiter   *ClientLimiter
	notes     chan engine.Notification
	stop      chan struct{}
	log       zerolog.Logger
	version   string
	opts      Options
	wg        sync.WaitGroup
	dropped   atomic.Int64
	ready     atomic.Bool
	stopOnce  sync.Once
}

// NewService builds the router and subscribes to engine notifications.
// The service reports not-ready until Start binds its listener.
func NewService(eng *engine.Engine, version string, opts Options) *Service {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.AllowedOrigins == nil {
		opts.AllowedOrigins = DefaultAllowedOrigins
	}

	s := &Service{
		startTime: time.Now(),
		engine:    eng,
		router:    chi.NewRouter(),
		events:    sse.NewHub(sse.DefaultHeartbeat),
		notes:     make(chan engine.Notification, notificationBuffer),
		stop:      make(chan struct{}),
		log:       log.With().Str("component", "http").Logger(),
		version:   version,
		opts:      opts,
	}
	if opts.RateLimit > 0 {
		s.limiter = NewClientLimiter(opts.RateLimit, opts.RateBurst)
	}

	s.setupMiddleware()
	s.setupRoutes()

	eng.Subscribe(s.enqueueNotification)
	s.wg.Add(1)
	go s.pumpNotifications()

	return s
}

func (s *Service) setupMiddleware() {
	s.router.Use(middleware.RealIP)
	s.router.Use(RequestID)
	s.router.Use(RequestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(SecurityHeaders)
	s.router.Use(CORS(s.opts.AllowedOrigins))
	if s.opts.APIToken != "" {
		s.router.Use(RequireToken(s.opts.APIToken, "/health"))
	}
	if s.limiter != nil {
		s.router.Use(s.limiter.Limit)
	}
}

func (s *Service) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	// SSE stays outside the request timeout.
	s.router.With(s.requireReady).Handle("/api/events", s.events)

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireReady)
		r.Use(middleware.Timeout(DefaultHTTPTimeout))
		r.Use(LimitBody(s.opts.MaxBodyBytes))
		r.Use(RequireJSONContentType)

		r.Get("/api/gates", s.handleListGates)

		r.Route("/api/users/{userID}", func(r chi.Router) {
			r.Use(validateURLParams)

			r.Post("/interactions", s.handleRecordInteraction)
			r.Get("/pattern", s.handleGetPattern)
			r.Get("/skill", s.handleAssessSkill)
			r.Get("/journey", s.handleAssessJourney)
			r.Post("/recommendations", s.handleRecommendations)
			r.Get("/engagement", s.handleEngagement)

			r.Get("/gates", s.handleGateStates)
			r.Get("/gates/{gateID}", s.handleEvaluateGate)
			r.Post("/gates/{gateID}/introduce", s.handleIntroduce)
			r.Post("/gates/{gateID}/engage", s.handleEngage)
		})
	})
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background.
func (s *Service) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln in the background and marks the service ready.
func (s *Service) Serve(ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.ready.Store(true)
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Bool("auth", s.opts.APIToken != "").
		Bool("rate_limited", s.limiter != nil).
		Msg("HTTP server started")
	return nil
}

// Shutdown stops accepting requests, drains in-flight ones and stops SSE delivery.
// The engine is owned by the caller and is not closed here.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)

	s.events.CloseAll()

	var err error
	if s.server != nil {
		if err = s.server.Shutdown(ctx); err != nil {
			s.log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}

	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()

	s.log.Info().
		Int64("notifications_dropped", s.dropped.Load()).
		Msg("HTTP service shutdown complete")
	return err
}

// enqueueNotification is the engine listener. It never blocks.
func (s *Service) enqueueNotification(n engine.Notification) {
	select {
	case s.notes <- n:
	default:
		s.dropped.Add(1)
		s.log.Warn().Str("type", n.Type).Str("user", n.UserID).Msg("Notification buffer full, dropping")
	}
}

func (s *Service) pumpNotifications() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case n := <-s.notes:
			s.events.Publish(n.Type, n.UserID, n)
		}
	}
}
