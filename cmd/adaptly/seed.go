package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm/logger"

	gormdb "github.com/thebtf/adaptly/internal/db/gorm"
	"github.com/thebtf/adaptly/pkg/models"
)

// seedFile is the layout accepted by the seed command.
type seedFile struct {
	Items    []models.CandidateItem `json:"items"`
	Profiles []models.UserProfile   `json:"profiles"`
}

// parseSeed decodes YAML (or JSON, which is valid YAML) into a seedFile.
// Documents go through JSON so the models' json tags and text codecs apply.
func parseSeed(data []byte) (*seedFile, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var sf seedFile
	if err := json.Unmarshal(buf, &sf); err != nil {
		return nil, err
	}

	for i := range sf.Items {
		item := &sf.Items[i]
		if item.ID == "" {
			return nil, fmt.Errorf("%w: item %d has no id", models.ErrInvalidArgument, i)
		}
		if !item.Difficulty.Valid() {
			return nil, fmt.Errorf("%w: item %s has invalid difficulty", models.ErrInvalidArgument, item.ID)
		}
	}
	for i := range sf.Profiles {
		if sf.Profiles[i].UserID == "" {
			return nil, fmt.Errorf("%w: profile %d has no user_id", models.ErrInvalidArgument, i)
		}
	}
	return &sf, nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	sf, err := parseSeed(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}

	store, err := gormdb.NewStore(gormdb.Config{
		Driver:   cfg.DBDriver,
		DSN:      cfg.DBDSN,
		MaxConns: cfg.MaxConns,
		LogLevel: logger.Silent,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	items, profiles, err := seed(cmd.Context(), store, sf, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "seeded %d items and %d profiles\n", items, profiles)
	return nil
}

// seed upserts the file's items and profiles. Items without an added_at get now.
func seed(ctx context.Context, store *gormdb.Store, sf *seedFile, now time.Time) (int, int, error) {
	catalog := gormdb.NewCatalogStore(store)
	for i := range sf.Items {
		item := &sf.Items[i]
		if item.AddedAt.IsZero() {
			item.AddedAt = now
		}
		if err := catalog.PutItem(ctx, item); err != nil {
			return i, 0, fmt.Errorf("put item %s: %w", item.ID, err)
		}
	}

	profiles := gormdb.NewProfileStore(store)
	for i := range sf.Profiles {
		if err := profiles.PutProfile(ctx, &sf.Profiles[i]); err != nil {
			return len(sf.Items), i, fmt.Errorf("put profile %s: %w", sf.Profiles[i].UserID, err)
		}
	}
	return len(sf.Items), len(sf.Profiles), nil
}
