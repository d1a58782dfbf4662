package aggregator

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/adaptly/internal/ledger"
	"github.com/thebtf/adaptly/pkg/models"
)

type AggregatorSuite struct {
	suite.Suite
	ledger *ledger.Ledger
	agg    *Aggregator
	cfg    models.AggregatorConfig
}

func (s *AggregatorSuite) SetupTest() {
	s.ledger = ledger.New(20)
	s.cfg = models.DefaultAggregatorConfig()
	s.agg = New(s.ledger, s.cfg)
}

func TestAggregatorSuite(t *testing.T) {
	suite.Run(t, new(AggregatorSuite))
}

func (s *AggregatorSuite) record(e models.InteractionEvent) *models.UsagePattern {
	s.Require().NoError(s.ledger.Append("u1", e))
	return s.agg.Observe("u1", e)
}

// =============================================================================
// GOOD SCENARIOS
// =============================================================================

func (s *AggregatorSuite) TestObserve_MatchesRebuild() {
	var last *models.UsagePattern
	for _, e := range mixedEvents(15) {
		last = s.record(e)
	}

	want := Rebuild("u1", s.ledger.Snapshot("u1"), s.cfg)
	s.Empty(cmp.Diff(want, last))
	s.EqualValues(1, s.agg.Stats()["rebuilds"])
	s.EqualValues(14, s.agg.Stats()["incremental"])
}

func (s *AggregatorSuite) TestObserve_RebuildsAfterEviction() {
	var last *models.UsagePattern
	for _, e := range mixedEvents(30) {
		last = s.record(e)
	}

	s.Equal(20, last.TotalEvents)
	want := Rebuild("u1", s.ledger.Snapshot("u1"), s.cfg)
	s.Empty(cmp.Diff(want, last))
}

func (s *AggregatorSuite) TestSnapshotsAreImmutable() {
	events := mixedEvents(3)
	first := s.record(events[0])
	s.record(events[1])

	s.Equal(1, first.TotalEvents, "published snapshot must not change")
	s.Equal(2, s.agg.Get("u1").TotalEvents)
}

func (s *AggregatorSuite) TestGet_BuildsLazily() {
	for _, e := range mixedEvents(5) {
		s.Require().NoError(s.ledger.Append("u1", e))
	}

	p := s.agg.Get("u1")
	s.Equal(5, p.TotalEvents)
	s.Same(p, s.agg.Get("u1"))
}

func (s *AggregatorSuite) TestGet_ConcurrentReadersShareSnapshot() {
	for _, e := range mixedEvents(10) {
		s.Require().NoError(s.ledger.Append("u1", e))
	}

	var wg sync.WaitGroup
	results := make([]*models.UsagePattern, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.agg.Get("u1")
		}(i)
	}
	wg.Wait()

	for _, p := range results {
		s.Same(results[0], p)
	}
}

func (s *AggregatorSuite) TestInvalidate() {
	s.record(mixedEvents(1)[0])
	s.agg.Invalidate("u1")
	s.Equal(1, s.agg.Get("u1").TotalEvents)
	s.EqualValues(2, s.agg.Stats()["rebuilds"])
}

// =============================================================================
// WORSE SCENARIOS
// =============================================================================

func (s *AggregatorSuite) TestGet_UnknownUserIsEmpty() {
	p := s.agg.Get("ghost")
	s.Equal(0, p.TotalEvents)
	s.Equal("ghost", p.UserID)

	s.agg.Invalidate("ghost")
	s.Equal(0, s.agg.Stats()["users"], "cold reads keep no entry")
	s.EqualValues(0, s.agg.Stats()["rebuilds"])
}
