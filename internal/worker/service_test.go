package worker

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/adaptly/internal/cache"
	"github.com/thebtf/adaptly/internal/engine"
	"github.com/thebtf/adaptly/internal/gating"
	"github.com/thebtf/adaptly/internal/idgen"
	"github.com/thebtf/adaptly/internal/store/memory"
	"github.com/thebtf/adaptly/pkg/models"
)

// ServiceSuite exercises the HTTP API against an engine over in-memory stores.
type ServiceSuite struct {
	suite.Suite
	engine  *engine.Engine
	service *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.engine = s.newEngine()
	s.service = NewService(s.engine, "test", Options{})
	s.service.ready.Store(true)
}

func (s *ServiceSuite) TearDownTest() {
	s.NoError(s.service.Shutdown(context.Background()))
	s.NoError(s.engine.Close(context.Background()))
}

func (s *ServiceSuite) newEngine() *engine.Engine {
	reg, err := gating.NewRegistry([]models.ContentGate{
		{
			ID:   "tour",
			Name: "Kitchen Tour",
			Introduction: models.IntroductionStrategy{
				Method:          models.MethodGuided,
				MessageTemplate: "Take the {feature}",
				OnboardingSteps: []string{"open", "explore"},
			},
		},
		{
			ID: "pantry",
			Conditions: models.EligibilityConditions{
				MinSkill:     models.SkillAdvanced,
				Dependencies: []string{"tour"},
			},
		},
	})
	s.Require().NoError(err)

	items := make([]*models.CandidateItem, 0, 6)
	for i := 0; i < 6; i++ {
		items = append(items, &models.CandidateItem{
			ID:            fmt.Sprintf("dish-%d", i),
			Category:      "dinner",
			PriceEstimate: float64(5 + i),
		})
	}

	eng, err := engine.New(engine.Deps{
		Profiles:   memory.NewProfileStore(),
		Catalog:    memory.NewCatalog(items...),
		Patterns:   memory.NewPatternRepository(),
		GateStates: memory.NewGateStates(),
		Events:     memory.NewEventLog(),
		Gates:      reg,
		IDs:        idgen.NewCounter("id"),
		Clock:      cache.NewManualClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)),
	}, engine.DefaultOptions())
	s.Require().NoError(err)
	return eng
}

func (s *ServiceSuite) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.service.Handler().ServeHTTP(rr, req)
	return rr
}

func (s *ServiceSuite) decode(rr *httptest.ResponseRecorder, dst any) {
	s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), dst), rr.Body.String())
}

// =============================================================================
// GOOD SCENARIOS
// =============================================================================

func (s *ServiceSuite) TestHealth() {
	rr := s.do("GET", "/health", "")
	s.Equal(http.StatusOK, rr.Code)

	var body map[string]any
	s.decode(rr, &body)
	s.Equal("ready", body["status"])
	s.Equal("test", body["version"])
	s.Contains(body, "engine")
	s.Contains(body, "sse")
	s.NotContains(body, "rate_limit")
}

func (s *ServiceSuite) TestRecordInteraction_WaitThenReadPattern() {
	rr := s.do("POST", "/api/users/u1/interactions?wait=true",
		`{"action":"feature_use","target":"timer","context":"dinner","duration_ms":1500,"success":true,"session_id":"s1"}`)
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())

	var event models.InteractionEvent
	s.decode(rr, &event)
	s.Equal("id-1", event.ID)
	s.Equal("u1", event.UserID)
	s.Equal(1500*time.Millisecond, event.Duration)

	rr = s.do("GET", "/api/users/u1/pattern", "")
	s.Require().Equal(http.StatusOK, rr.Code)
	var p models.UsagePattern
	s.decode(rr, &p)
	s.Equal(1, p.TotalEvents)
	s.Equal(1, p.FeatureUsage["timer"])
}

func (s *ServiceSuite) TestRecordInteraction_Accepted() {
	rr := s.do("POST", "/api/users/u1/interactions", `{"action":"view","target":"home"}`)
	s.Equal(http.StatusAccepted, rr.Code)
	s.NoError(s.engine.Flush(context.Background(), "u1"))
}

func (s *ServiceSuite) TestAssessments() {
	rr := s.do("GET", "/api/users/u1/skill", "")
	s.Require().Equal(http.StatusOK, rr.Code)
	var skill models.SkillAssessment
	s.decode(rr, &skill)
	s.Equal(models.SkillBeginner, skill.Level)

	rr = s.do("GET", "/api/users/u1/journey", "")
	s.Require().Equal(http.StatusOK, rr.Code)
	var journey models.JourneyAssessment
	s.decode(rr, &journey)
	s.Equal(models.StageDiscovery, journey.Stage)
}

func (s *ServiceSuite) TestRecommendations() {
	rr := s.do("POST", "/api/users/u1/recommendations", `{"count":3}`)
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())

	var body struct {
		Recommendations []models.Recommendation `json:"recommendations"`
		Count           int                     `json:"count"`
	}
	s.decode(rr, &body)
	s.Equal(3, body.Count)
	s.Len(body.Recommendations, 3)
}

func (s *ServiceSuite) TestRecommendations_EmptyBodyUsesDefaults() {
	rr := s.do("POST", "/api/users/u1/recommendations", "")
	s.Equal(http.StatusOK, rr.Code, rr.Body.String())
}

func (s *ServiceSuite) TestGateFlow_IntroduceThenEngage() {
	rr := s.do("GET", "/api/users/u1/gates/tour", "")
	s.Require().Equal(http.StatusOK, rr.Code)
	var d models.GateDecision
	s.decode(rr, &d)
	s.True(d.Eligible)

	rr = s.do("POST", "/api/users/u1/gates/tour/introduce", "")
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	var res models.IntroductionResult
	s.decode(rr, &res)
	s.True(res.Introduced)
	s.False(res.Unlocked)
	s.Equal(models.MethodGuided, res.Strategy.Method)
	s.Equal([]string{"open", "explore"}, res.Steps)

	rr = s.do("POST", "/api/users/u1/gates/tour/engage", `{"action":"click"}`)
	s.Require().Equal(http.StatusOK, rr.Code)
	var st models.UserGateState
	s.decode(rr, &st)
	s.True(st.Unlocked)
	s.Equal(models.GateUnlocked, st.Status)

	rr = s.do("GET", "/api/users/u1/gates", "")
	s.Require().Equal(http.StatusOK, rr.Code)
	var states []models.UserGateState
	s.decode(rr, &states)
	s.Require().Len(states, 1)
	s.Equal("tour", states[0].GateID)
}

func (s *ServiceSuite) TestGateIneligibleIsNotAnError() {
	rr := s.do("GET", "/api/users/u1/gates/pantry", "")
	s.Require().Equal(http.StatusOK, rr.Code)

	var d models.GateDecision
	s.decode(rr, &d)
	s.False(d.Eligible)
	s.Equal(models.ReasonInsufficientSkill, d.Reason)
}

func (s *ServiceSuite) TestListGates() {
	s.do("GET", "/api/users/u1/gates/tour", "")

	rr := s.do("GET", "/api/gates", "")
	s.Require().Equal(http.StatusOK, rr.Code)
	var gates []GateInfo
	s.decode(rr, &gates)
	s.Require().Len(gates, 2)
	s.Equal("pantry", gates[0].Gate.ID)
	s.Equal("tour", gates[1].Gate.ID)
	s.EqualValues(1, gates[1].Stats.Evaluations)
}

func (s *ServiceSuite) TestEngagement() {
	rr := s.do("GET", "/api/users/u1/engagement", "")
	s.Equal(http.StatusOK, rr.Code)
}

func (s *ServiceSuite) TestEvents_StreamsUnlockForUser() {
	ts := httptest.NewServer(s.service.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/events?user=u1", nil)
	s.Require().NoError(err)
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer func() { _ = resp.Body.Close() }()
	s.Equal("text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	waitFor := func(prefix string) string {
		for lines.Scan() {
			if strings.HasPrefix(lines.Text(), prefix) {
				return lines.Text()
			}
		}
		s.FailNow("stream ended before " + prefix)
		return ""
	}
	waitFor("event: connected")

	s.Equal(http.StatusOK, s.do("POST", "/api/users/u1/gates/tour/introduce", "").Code)
	s.Equal(http.StatusOK, s.do("POST", "/api/users/u1/gates/tour/engage", "").Code)

	waitFor("event: " + engine.NotifyGateUnlocked)
	data := waitFor("data: ")
	s.Contains(data, `"gate_id":"tour"`)
	s.Contains(data, `"user_id":"u1"`)
}

// =============================================================================
// WORSE SCENARIOS
// =============================================================================

func (s *ServiceSuite) TestRecordInteraction_InvalidEvent() {
	rr := s.do("POST", "/api/users/u1/interactions", `{"action":"view","duration_ms":-5}`)
	s.Equal(http.StatusBadRequest, rr.Code)

	var body errorResponse
	s.decode(rr, &body)
	s.Contains(body.Error, "invalid event")
}

func (s *ServiceSuite) TestRecordInteraction_DurationOutOfRange() {
	// Multiplied by a millisecond, these would wrap around and flip sign.
	for _, ms := range []string{"9223372036855", "-9223372036855", "9223372036854775807"} {
		rr := s.do("POST", "/api/users/u1/interactions?wait=true", `{"action":"view","duration_ms":`+ms+`}`)
		s.Equal(http.StatusBadRequest, rr.Code, ms)

		var body errorResponse
		s.decode(rr, &body)
		s.Contains(body.Error, "duration_ms", ms)
	}

	p, err := s.engine.GetUsagePattern(context.Background(), "u1")
	s.Require().NoError(err)
	s.Zero(p.TotalEvents)
}

func (s *ServiceSuite) TestRecordInteraction_MissingAction() {
	rr := s.do("POST", "/api/users/u1/interactions", `{"target":"home"}`)
	s.Equal(http.StatusBadRequest, rr.Code)
}

func (s *ServiceSuite) TestRecordInteraction_MalformedBody() {
	rr := s.do("POST", "/api/users/u1/interactions", `{"action":`)
	s.Equal(http.StatusBadRequest, rr.Code)
}

func (s *ServiceSuite) TestRecordInteraction_WrongContentType() {
	req := httptest.NewRequest("POST", "/api/users/u1/interactions", strings.NewReader("action=view"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	s.service.Handler().ServeHTTP(rr, req)
	s.Equal(http.StatusUnsupportedMediaType, rr.Code)
}

func (s *ServiceSuite) TestInvalidUserID() {
	rr := s.do("GET", "/api/users/bad!id/pattern", "")
	s.Equal(http.StatusBadRequest, rr.Code)
}

func (s *ServiceSuite) TestUnknownGate() {
	s.Equal(http.StatusNotFound, s.do("GET", "/api/users/u1/gates/nope", "").Code)
	s.Equal(http.StatusNotFound, s.do("POST", "/api/users/u1/gates/nope/introduce", "").Code)
	s.Equal(http.StatusNotFound, s.do("POST", "/api/users/u1/gates/nope/engage", "").Code)
}

func (s *ServiceSuite) TestIntroduce_UnknownMethod() {
	rr := s.do("POST", "/api/users/u1/gates/tour/introduce", `{"method":"carrier-pigeon"}`)
	s.Equal(http.StatusBadRequest, rr.Code)
}

func (s *ServiceSuite) TestRecommendations_NegativeCount() {
	rr := s.do("POST", "/api/users/u1/recommendations", `{"count":-1}`)
	s.Equal(http.StatusBadRequest, rr.Code)
}

func (s *ServiceSuite) TestNotReady() {
	s.service.ready.Store(false)

	rr := s.do("GET", "/api/gates", "")
	s.Equal(http.StatusServiceUnavailable, rr.Code)

	rr = s.do("GET", "/health", "")
	s.Equal(http.StatusOK, rr.Code)
	var body map[string]any
	s.decode(rr, &body)
	s.Equal("starting", body["status"])
}

func (s *ServiceSuite) TestRecordInteraction_AfterEngineClosed() {
	s.Require().NoError(s.engine.Close(context.Background()))

	rr := s.do("POST", "/api/users/u1/interactions", `{"action":"view"}`)
	s.Equal(http.StatusServiceUnavailable, rr.Code)
}

func TestService_TokenAuth(t *testing.T) {
	st := new(ServiceSuite)
	st.SetT(t)
	eng := st.newEngine()
	defer func() { _ = eng.Close(context.Background()) }()

	svc := NewService(eng, "test", Options{APIToken: "s3cret"})
	defer func() { _ = svc.Shutdown(context.Background()) }()
	svc.ready.Store(true)

	rr := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/api/gates", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("without token: status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}

	req := httptest.NewRequest("GET", "/api/gates", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rr = httptest.NewRecorder()
	svc.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("with token: status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestService_RateLimit(t *testing.T) {
	st := new(ServiceSuite)
	st.SetT(t)
	eng := st.newEngine()
	defer func() { _ = eng.Close(context.Background()) }()

	svc := NewService(eng, "test", Options{RateLimit: 0.001, RateBurst: 2})
	defer func() { _ = svc.Shutdown(context.Background()) }()
	svc.ready.Store(true)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		svc.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/health", nil))
		codes = append(codes, rr.Code)
		if rr.Code == http.StatusTooManyRequests && rr.Header().Get("Retry-After") == "" {
			t.Error("429 without Retry-After")
		}
	}
	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("request %d: status = %d, want %d", i, codes[i], want[i])
		}
	}
}
