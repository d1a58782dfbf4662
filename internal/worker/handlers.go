package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/adaptly/internal/gating"
	"github.com/thebtf/adaptly/internal/ingest"
	"github.com/thebtf/adaptly/pkg/models"
)

// InteractionRequest is the request body for recording an interaction.
type InteractionRequest struct {
	Timestamp  time.Time          `json:"timestamp"`
	Metadata   map[string]string  `json:"metadata,omitempty"`
	Action     models.ActionType  `json:"action"`
	Target     string             `json:"target"`
	Context    string             `json:"context"`
	Device     models.DeviceClass `json:"device"`
	SessionID  string             `json:"session_id"`
	DurationMS int64              `json:"duration_ms"`
	Success    bool               `json:"success"`
}

// maxDurationMS is the largest duration_ms that still fits a time.Duration.
const maxDurationMS = math.MaxInt64 / int64(time.Millisecond)

func (r InteractionRequest) event() (models.InteractionEvent, error) {
	if r.DurationMS > maxDurationMS || r.DurationMS < -maxDurationMS {
		return models.InteractionEvent{}, fmt.Errorf("%w: duration_ms %d out of range", models.ErrInvalidEvent, r.DurationMS)
	}
	return models.InteractionEvent{
		Timestamp: r.Timestamp,
		Metadata:  r.Metadata,
		Action:    r.Action,
		Target:    r.Target,
		Context:   r.Context,
		Device:    r.Device,
		SessionID: r.SessionID,
		Duration:  time.Duration(r.DurationMS) * time.Millisecond,
		Success:   r.Success,
	}, nil
}

// IntroduceRequest optionally overrides the gate's introduction method.
type IntroduceRequest struct {
	Method models.IntroductionMethod `json:"method"`
}

// EngageRequest names the action that engaged the gated feature.
type EngageRequest struct {
	Action models.ActionType `json:"action"`
}

// GateInfo is one entry of the gate listing.
type GateInfo struct {
	Gate  *models.ContentGate    `json:"gate"`
	Stats gating.CounterSnapshot `json:"stats"`
}

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidEvent), errors.Is(err, models.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnknownGate), errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errUnsupportedMedia):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ingest.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to a status and writes it as JSON. Server errors are logged.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("path", r.URL.Path).
			Str("request_id", GetRequestID(r.Context())).
			Msg("Request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), RequestID: GetRequestID(r.Context())})
}

// decodeBody decodes an optional JSON body into dst. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: decode body: %v", models.ErrInvalidArgument, err)
}

// validateURLParams rejects malformed user and gate ids before they reach the engine.
func validateURLParams(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := ValidateIdentifier("user", chi.URLParam(r, "userID")); err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func gateParam(r *http.Request) (string, error) {
	id := chi.URLParam(r, "gateID")
	if err := ValidateIdentifier("gate", id); err != nil {
		return "", err
	}
	return id, nil
}

// handleHealth reports liveness and engine internals. It answers even when not ready.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "starting"
	if s.ready.Load() {
		status = "ready"
	}
	body := map[string]any{
		"status":                status,
		"version":               s.version,
		"uptime_seconds":        int64(time.Since(s.startTime).Seconds()),
		"engine":                s.engine.Stats(),
		"sse":                   s.events.Stats(),
		"notifications_dropped": s.dropped.Load(),
	}
	if s.limiter != nil {
		body["rate_limit"] = s.limiter.Stats()
	}
	if len(s.opts.Probes) > 0 {
		checks := make(map[string]any, len(s.opts.Probes))
		for name, probe := range s.opts.Probes {
			checks[name] = probe(r.Context())
		}
		body["checks"] = checks
	}
	writeJSON(w, http.StatusOK, body)
}

// requireReady is middleware that returns 503 until the service is serving.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{
				Error:     "service not ready",
				RequestID: GetRequestID(r.Context()),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleRecordInteraction validates and queues an event. With ?wait=true the
// response is sent only after the event has been applied.
func (s *Service) handleRecordInteraction(w http.ResponseWriter, r *http.Request) {
	var req InteractionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	in, err := req.event()
	if err != nil {
		writeError(w, r, err)
		return
	}
	userID := chi.URLParam(r, "userID")
	event, err := s.engine.RecordInteraction(r.Context(), userID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		if err := s.engine.Flush(r.Context(), userID); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, event)
		return
	}
	writeJSON(w, http.StatusAccepted, event)
}

func (s *Service) handleGetPattern(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.GetUsagePattern(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Service) handleAssessSkill(w http.ResponseWriter, r *http.Request) {
	a, err := s.engine.AssessSkill(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Service) handleAssessJourney(w http.ResponseWriter, r *http.Request) {
	a, err := s.engine.AssessJourney(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleRecommendations scores the catalog. The body is an optional RecommendationContext.
func (s *Service) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	var rc models.RecommendationContext
	if err := decodeBody(r, &rc); err != nil {
		writeError(w, r, err)
		return
	}
	if rc.Count < 0 {
		writeError(w, r, fmt.Errorf("%w: negative count", models.ErrInvalidArgument))
		return
	}

	recs, err := s.engine.GetRecommendations(r.Context(), chi.URLParam(r, "userID"), rc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []models.Recommendation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"recommendations": recs,
		"count":           len(recs),
	})
}

func (s *Service) handleEngagement(w http.ResponseWriter, r *http.Request) {
	plan, err := s.engine.GenerateEngagement(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Service) handleGateStates(w http.ResponseWriter, r *http.Request) {
	states, err := s.engine.GateStates(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if states == nil {
		states = []models.UserGateState{}
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Service) handleEvaluateGate(w http.ResponseWriter, r *http.Request) {
	gateID, err := gateParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	d, err := s.engine.EvaluateGate(r.Context(), chi.URLParam(r, "userID"), gateID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Service) handleIntroduce(w http.ResponseWriter, r *http.Request) {
	gateID, err := gateParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req IntroduceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.engine.IntroduceFeature(r.Context(), chi.URLParam(r, "userID"), gateID, req.Method)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) handleEngage(w http.ResponseWriter, r *http.Request) {
	gateID, err := gateParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req EngageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	st, err := s.engine.RecordGateEngagement(r.Context(), chi.URLParam(r, "userID"), gateID, req.Action)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleListGates lists gate definitions with their analytics counters.
func (s *Service) handleListGates(w http.ResponseWriter, r *http.Request) {
	reg := s.engine.Gates()
	stats := reg.Stats()
	out := make([]GateInfo, 0, reg.Len())
	for _, g := range reg.List() {
		out = append(out, GateInfo{Gate: g, Stats: stats[g.ID]})
	}
	writeJSON(w, http.StatusOK, out)
}
