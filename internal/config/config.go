// Package config provides configuration management for adaptly.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/robfig/cron/v3"

	"github.com/thebtf/adaptly/pkg/models"
)

const (
	// DefaultHTTPPort is the default HTTP port for the API server.
	DefaultHTTPPort = 38080

	// DefaultEngagementSchedule runs the engagement sweep every quarter hour.
	DefaultEngagementSchedule = "@every 15m"

	// EnvPrefix prefixes every settings key and environment override.
	EnvPrefix = "ADAPTLY_"
)

// Config holds the application configuration.
type Config struct {
	// HTTP settings
	HTTPHost  string  `json:"http_host"`
	HTTPPort  int     `json:"http_port"`
	RateLimit float64 `json:"rate_limit"` // requests per second per client, 0 disables
	RateBurst int     `json:"rate_burst"`
	APIToken  string  `json:"api_token"` // empty disables token auth

	// Database settings
	DBDriver string `json:"db_driver"` // postgres or sqlite
	DBDSN    string `json:"db_dsn"`
	MaxConns int    `json:"max_conns"`

	// Gate definitions
	GatesPath string `json:"gates_path"`

	// Engine settings
	LedgerCapacity       int           `json:"ledger_capacity"`
	QueueCapacity        int           `json:"queue_capacity"`
	InclusionThreshold   float64       `json:"inclusion_threshold"`
	ScoringParallelism   int           `json:"scoring_parallelism"`
	TrendIncreasingAt    int           `json:"trend_increasing_at"`
	TrendDecreasingBelow int           `json:"trend_decreasing_below"`
	ProfileCacheTTL      time.Duration `json:"profile_cache_ttl"`

	// Analytics settings
	RedisURL    string `json:"redis_url"` // empty disables the Redis sink
	RedisStream string `json:"redis_stream"`

	// Engagement sweep (cron spec, empty disables)
	EngagementSchedule string `json:"engagement_schedule"`

	// Logging
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"` // console or json
}

// DataDir returns the data directory path (~/.adaptly), or ADAPTLY_DATA_DIR when set.
func DataDir() string {
	if dir := os.Getenv(EnvPrefix + "DATA_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".adaptly")
}

// DBPath returns the default sqlite database path.
func DBPath() string {
	return filepath.Join(DataDir(), "adaptly.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// GatesPath returns the default gate definitions path.
func GatesPath() string {
	return filepath.Join(DataDir(), "gates.yaml")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings creates a default settings file if it doesn't exist.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	defaultSettings := `{
  "ADAPTLY_HTTP_PORT": 38080,
  "ADAPTLY_DB_DRIVER": "sqlite",
  "ADAPTLY_LEDGER_CAPACITY": 1000,
  "ADAPTLY_QUEUE_CAPACITY": 100,
  "ADAPTLY_ENGAGEMENT_SCHEDULE": "@every 15m",
  "ADAPTLY_LOG_LEVEL": "info"
}
`
	return os.WriteFile(path, []byte(defaultSettings), 0600)
}

// EnsureAll ensures all required directories and files exist.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Default returns a Config with default values.
func Default() *Config {
	agg := models.DefaultAggregatorConfig()
	return &Config{
		HTTPHost:             "127.0.0.1",
		HTTPPort:             DefaultHTTPPort,
		RateLimit:            50,
		RateBurst:            100,
		DBDriver:             "sqlite",
		DBDSN:                DBPath(),
		MaxConns:             10,
		GatesPath:            GatesPath(),
		LedgerCapacity:       1000,
		QueueCapacity:        100,
		InclusionThreshold:   models.DefaultScoringConfig().InclusionThreshold,
		ScoringParallelism:   models.DefaultScoringConfig().Parallelism,
		TrendIncreasingAt:    agg.IncreasingAt,
		TrendDecreasingBelow: agg.DecreasingBelow,
		ProfileCacheTTL:      5 * time.Minute,
		RedisStream:          "adaptly:analytics",
		EngagementSchedule:   DefaultEngagementSchedule,
		LogLevel:             "info",
		LogFormat:            "console",
	}
}

// Load merges defaults, the settings file at path and ADAPTLY_* environment
// variables, in that order. A missing settings file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	settings := map[string]any{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &settings); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", models.ErrInvalidConfig, path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}

	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		settings[key] = envValue(value)
	}

	if err := cfg.apply(settings); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envValue decodes numbers and booleans, leaving everything else a string.
func envValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		switch v.(type) {
		case float64, bool:
			return v
		}
	}
	return s
}

func (c *Config) apply(settings map[string]any) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := settings[EnvPrefix+key]; ok {
			switch s := v.(type) {
			case string:
				*dst = s
			case float64:
				// Numeric-looking environment values, e.g. a bare port or stream id.
				*dst = strconv.FormatFloat(s, 'f', -1, 64)
			default:
				errs = append(errs, fmt.Errorf("%s%s: want string, got %T", EnvPrefix, key, v))
			}
		}
	}
	num := func(key string, set func(float64)) {
		if v, ok := settings[EnvPrefix+key]; ok {
			f, isNum := v.(float64)
			if !isNum {
				errs = append(errs, fmt.Errorf("%s%s: want number, got %T", EnvPrefix, key, v))
				return
			}
			set(f)
		}
	}

	str("HTTP_HOST", &c.HTTPHost)
	num("HTTP_PORT", func(f float64) { c.HTTPPort = int(f) })
	num("RATE_LIMIT", func(f float64) { c.RateLimit = f })
	num("RATE_BURST", func(f float64) { c.RateBurst = int(f) })
	str("API_TOKEN", &c.APIToken)
	str("DB_DRIVER", &c.DBDriver)
	str("DB_DSN", &c.DBDSN)
	num("MAX_CONNS", func(f float64) { c.MaxConns = int(f) })
	str("GATES_PATH", &c.GatesPath)
	num("LEDGER_CAPACITY", func(f float64) { c.LedgerCapacity = int(f) })
	num("QUEUE_CAPACITY", func(f float64) { c.QueueCapacity = int(f) })
	num("INCLUSION_THRESHOLD", func(f float64) { c.InclusionThreshold = f })
	num("SCORING_PARALLELISM", func(f float64) { c.ScoringParallelism = int(f) })
	num("TREND_INCREASING_AT", func(f float64) { c.TrendIncreasingAt = int(f) })
	num("TREND_DECREASING_BELOW", func(f float64) { c.TrendDecreasingBelow = int(f) })
	num("PROFILE_CACHE_TTL_SECONDS", func(f float64) { c.ProfileCacheTTL = time.Duration(f * float64(time.Second)) })
	str("REDIS_URL", &c.RedisURL)
	str("REDIS_STREAM", &c.RedisStream)
	str("ENGAGEMENT_SCHEDULE", &c.EngagementSchedule)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", models.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		problems = append(problems, fmt.Sprintf("http_port %d out of range", c.HTTPPort))
	}
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		problems = append(problems, fmt.Sprintf("unknown db_driver %q", c.DBDriver))
	}
	if c.DBDSN == "" {
		problems = append(problems, "db_dsn is empty")
	}
	if c.LedgerCapacity <= 0 {
		problems = append(problems, "ledger_capacity must be positive")
	}
	if c.QueueCapacity <= 0 {
		problems = append(problems, "queue_capacity must be positive")
	}
	if c.InclusionThreshold < 0 || c.InclusionThreshold > 1 {
		problems = append(problems, fmt.Sprintf("inclusion_threshold %.2f outside [0,1]", c.InclusionThreshold))
	}
	if c.TrendDecreasingBelow > c.TrendIncreasingAt {
		problems = append(problems, "trend_decreasing_below exceeds trend_increasing_at")
	}
	if c.RateLimit < 0 {
		problems = append(problems, "rate_limit is negative")
	}
	if c.EngagementSchedule != "" {
		if _, err := cron.ParseStandard(c.EngagementSchedule); err != nil {
			problems = append(problems, fmt.Sprintf("engagement_schedule: %v", err))
		}
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("unknown log_format %q", c.LogFormat))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", models.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTPHost, c.HTTPPort)
}

// ScoringConfig returns the scoring defaults with the configured overrides applied.
func (c *Config) ScoringConfig() *models.ScoringConfig {
	s := models.DefaultScoringConfig()
	s.InclusionThreshold = c.InclusionThreshold
	if c.ScoringParallelism > 0 {
		s.Parallelism = c.ScoringParallelism
	}
	return s
}

// AggregatorConfig returns the configured trend thresholds.
func (c *Config) AggregatorConfig() models.AggregatorConfig {
	return models.AggregatorConfig{
		IncreasingAt:    c.TrendIncreasingAt,
		DecreasingBelow: c.TrendDecreasingBelow,
	}
}
