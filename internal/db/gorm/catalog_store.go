package gorm

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/adaptly/pkg/models"
)

// CatalogStore serves candidate items from the catalog_items table.
type CatalogStore struct {
	db *gorm.DB
}

// NewCatalogStore creates a new catalog store.
func NewCatalogStore(store *Store) *CatalogStore {
	return &CatalogStore{db: store.DB}
}

// PutItem inserts or replaces item.
func (s *CatalogStore) PutItem(ctx context.Context, item *models.CandidateItem) error {
	ctx, cancel := withTimeout(ctx, "put_item")
	defer cancel()

	row := &CatalogItem{
		ID:            item.ID,
		Title:         item.Title,
		Category:      item.Category,
		Region:        item.Region,
		Tags:          models.JSONStringArray(item.Tags),
		DietaryFlags:  models.JSONStringArray(item.DietaryFlags),
		SeasonalTags:  models.JSONStringArray(item.SeasonalTags),
		PriceEstimate: item.PriceEstimate,
		Difficulty:    int(item.Difficulty),
		AddedAt:       item.AddedAt.UTC(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(row).Error
}

// ListCandidates returns the ids of items matching filter, sorted.
// Category and budget narrow the query; dietary flags are checked in memory.
func (s *CatalogStore) ListCandidates(ctx context.Context, filter models.CandidateFilter) ([]string, error) {
	ctx, cancel := withTimeout(ctx, "list_candidates")
	defer cancel()

	q := s.db.WithContext(ctx).Model(&CatalogItem{})
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	if filter.BudgetMax > 0 {
		q = q.Where("price_estimate <= ?", filter.BudgetMax)
	}
	if filter.BudgetMin > 0 {
		q = q.Where("price_estimate >= ?", filter.BudgetMin)
	}

	var rows []CatalogItem
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	ids := make([]string, 0, len(rows))
	for i := range rows {
		if filter.Matches(toItem(&rows[i])) {
			ids = append(ids, rows[i].ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// GetItem loads a single item.
func (s *CatalogStore) GetItem(ctx context.Context, id string) (*models.CandidateItem, error) {
	ctx, cancel := withTimeout(ctx, "get_item")
	defer cancel()

	var row CatalogItem
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("item %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", id, err)
	}
	return toItem(&row), nil
}

func toItem(row *CatalogItem) *models.CandidateItem {
	return &models.CandidateItem{
		ID:            row.ID,
		Title:         row.Title,
		Category:      row.Category,
		Region:        row.Region,
		Tags:          []string(row.Tags),
		DietaryFlags:  []string(row.DietaryFlags),
		SeasonalTags:  []string(row.SeasonalTags),
		PriceEstimate: row.PriceEstimate,
		Difficulty:    models.SkillLevel(row.Difficulty),
		AddedAt:       row.AddedAt.UTC(),
	}
}
