package scoring

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/adaptly/pkg/models"
)

// Catalog is the read side of the catalog store needed to build recommendations.
type Catalog interface {
	ListCandidates(ctx context.Context, filter models.CandidateFilter) ([]string, error)
	GetItem(ctx context.Context, id string) (*models.CandidateItem, error)
}

// Subject is the per-user state a batch is scored against.
type Subject struct {
	Profile *models.UserProfile
	Pattern *models.UsagePattern
	UserID  string
	Skill   models.SkillLevel
}

// BatchStats describes how a batch went.
type BatchStats struct {
	Candidates int
	Scored     int
	Skipped    int
	Included   int
	Fallback   bool
}

// Recommender scores a catalog candidate set in parallel.
type Recommender struct {
	catalog Catalog
	calc    *Calculator
	log     zerolog.Logger
	now     func() time.Time
}

// NewRecommender creates a recommender over catalog.
func NewRecommender(catalog Catalog, calc *Calculator) *Recommender {
	return &Recommender{
		catalog: catalog,
		calc:    calc,
		log:     log.With().Str("component", "recommender").Logger(),
		now:     time.Now,
	}
}

// WithClock overrides the time source used when the request carries no Now.
func (r *Recommender) WithClock(now func() time.Time) *Recommender {
	r.now = now
	return r
}

// Recommend returns up to rc.Count ranked recommendations for subject.
//
// Items the catalog cannot return are skipped. If ctx is cancelled mid-batch,
// the items scored so far are returned, ranked, together with ctx.Err().
// When no item reaches the inclusion threshold, the best candidates are returned
// flagged as fallback so a cold user still gets suggestions.
func (r *Recommender) Recommend(ctx context.Context, subject Subject, rc models.RecommendationContext) ([]models.Recommendation, BatchStats, error) {
	var stats BatchStats

	count := rc.Count
	if count <= 0 {
		count = r.calc.GetConfig().DefaultCount
	}
	now := rc.Now
	if now.IsZero() {
		now = r.now()
	}
	profile := subject.Profile
	if profile == nil {
		profile = models.DefaultProfile(subject.UserID)
	}

	ids, err := r.catalog.ListCandidates(ctx, rc.Filter)
	if err != nil {
		return nil, stats, err
	}
	stats.Candidates = len(ids)

	var (
		mu     sync.Mutex
		scored = make([]models.Recommendation, 0, len(ids))
	)

	g := new(errgroup.Group)
	g.SetLimit(max(1, r.calc.GetConfig().Parallelism))

schedule:
	for _, id := range ids {
		select {
		case <-ctx.Done():
			break schedule
		default:
		}

		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			item, err := r.catalog.GetItem(ctx, id)
			if err != nil || item == nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					r.log.Warn().Err(err).Str("item", id).Str("user", subject.UserID).Msg("Skipping catalog item")
				}
				mu.Lock()
				stats.Skipped++
				mu.Unlock()
				return nil
			}
			if !rc.Filter.Matches(item) {
				return nil
			}

			rec := r.calc.Score(Input{
				Now:     now,
				Item:    item,
				Profile: profile,
				Pattern: subject.Pattern,
				Skill:   subject.Skill,
			})

			mu.Lock()
			scored = append(scored, rec)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	stats.Scored = len(scored)
	Rank(scored)

	included := make([]models.Recommendation, 0, min(count, len(scored)))
	for _, rec := range scored {
		if r.calc.Included(rec.Score) {
			included = append(included, rec)
		}
	}
	stats.Included = len(included)

	if err := ctx.Err(); err != nil {
		return truncate(included, count), stats, err
	}

	if len(included) == 0 && len(scored) > 0 {
		stats.Fallback = true
		fallback := truncate(scored, count)
		reason := r.calc.GetConfig().FallbackReason
		for i := range fallback {
			fallback[i].Fallback = true
			fallback[i].Reasons = []string{reason}
		}
		return fallback, stats, nil
	}

	return truncate(included, count), stats, nil
}

// Rank sorts recommendations by score descending, then by catalog recency,
// then by item id, giving a total deterministic order.
func Rank(recs []models.Recommendation) {
	slices.SortStableFunc(recs, func(a, b models.Recommendation) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := b.Item.AddedAt.Compare(a.Item.AddedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Item.ID, b.Item.ID)
	})
}

func truncate(recs []models.Recommendation, n int) []models.Recommendation {
	if len(recs) > n {
		return recs[:n]
	}
	return recs
}
