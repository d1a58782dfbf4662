package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/adaptly/pkg/models"
)

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultHTTPPort, cfg.HTTPPort)
	assert.Equal(t, 1000, cfg.LedgerCapacity)
	assert.Equal(t, 100, cfg.QueueCapacity)
	assert.InDelta(t, 0.3, cfg.InclusionThreshold, 1e-9)
	assert.Equal(t, models.DefaultAggregatorConfig(), cfg.AggregatorConfig())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, Default().HTTPPort, cfg.HTTPPort)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := writeSettings(t, `{
  "ADAPTLY_HTTP_PORT": 9000,
  "ADAPTLY_DB_DRIVER": "postgres",
  "ADAPTLY_DB_DSN": "postgres://localhost/adaptly",
  "ADAPTLY_INCLUSION_THRESHOLD": 0.4,
  "ADAPTLY_PROFILE_CACHE_TTL_SECONDS": 30
}`)
	t.Setenv("ADAPTLY_HTTP_PORT", "9100")
	t.Setenv("ADAPTLY_ENGAGEMENT_SCHEDULE", "*/5 * * * *")
	t.Setenv("ADAPTLY_LOG_FORMAT", "json")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.HTTPPort)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, "postgres://localhost/adaptly", cfg.DBDSN)
	assert.Equal(t, 30*time.Second, cfg.ProfileCacheTTL)
	assert.Equal(t, "*/5 * * * *", cfg.EngagementSchedule)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.InDelta(t, 0.4, cfg.ScoringConfig().InclusionThreshold, 1e-9)
	assert.Equal(t, "127.0.0.1:9100", cfg.Addr())
}

func TestLoad_DataDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ADAPTLY_DATA_DIR", dir)

	require.NoError(t, EnsureAll())
	assert.FileExists(t, filepath.Join(dir, "settings.json"))

	cfg, err := Load(SettingsPath())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "adaptly.db"), cfg.DBDSN)
	assert.Equal(t, "sqlite", cfg.DBDriver)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"wrong type", `{"ADAPTLY_HTTP_PORT": "eighty"}`},
		{"unknown driver", `{"ADAPTLY_DB_DRIVER": "oracle"}`},
		{"threshold range", `{"ADAPTLY_INCLUSION_THRESHOLD": 1.5}`},
		{"bad schedule", `{"ADAPTLY_ENGAGEMENT_SCHEDULE": "every now and then"}`},
		{"inverted trend", `{"ADAPTLY_TREND_DECREASING_BELOW": 80}`},
		{"zero ledger", `{"ADAPTLY_LEDGER_CAPACITY": 0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeSettings(t, tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrInvalidConfig)
		})
	}
}
