package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// tableMigration creates the tables for models and drops them on rollback.
func tableMigration(id string, models ...any) *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: id,
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(models...)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(models...)
		},
	}
}

// migrations is append-only; ids are recorded in the migrations table.
var migrations = []*gormigrate.Migration{
	tableMigration("001_profiles_catalog", &Profile{}, &CatalogItem{}),
	tableMigration("002_usage_patterns", &UsagePattern{}),
	tableMigration("003_user_gate_states", &GateState{}),
	tableMigration("004_interaction_events", &InteractionEvent{}),
}

func runMigrations(db *gorm.DB) error {
	return gormigrate.New(db, gormigrate.DefaultOptions, migrations).Migrate()
}
