package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/saferoute/internal/model"
	"github.com/sells-group/saferoute/internal/scoring"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "saferoute.db", cfg.Store.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.InDelta(t, 0.005, cfg.Grid.CellSizeDegrees, 1e-12)
	assert.Equal(t, 48*time.Hour, cfg.Reports.FreshnessWindow)
	assert.Equal(t, 3, cfg.Reports.MinUpvotes)
	assert.Equal(t, "osrm", cfg.Directions.Provider)
	assert.Equal(t, 512, cfg.Cache.Size)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 2, cfg.Planner.Retry.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Planner.Retry.AttemptTimeout)
	assert.Equal(t, 5, cfg.Planner.Breaker.FailureThreshold)
	assert.True(t, cfg.Planner.AllowStale)
	assert.Len(t, cfg.Places.Categories, 4)
	assert.False(t, cfg.Places.Enabled())

	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  dsn: postgres://localhost/saferoute
log:
  level: debug
  format: console
server:
  port: 9090
grid:
  cell_size_degrees: 0.002
  bounds:
    min_lat: 43.5
    max_lat: 43.9
    min_lng: -79.8
    max_lng: -79.1
reports:
  base_impact:
    blocked_path: -40
planner:
  retry:
    max_attempts: 1
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.InDelta(t, 0.002, cfg.Grid.CellSizeDegrees, 1e-12)
	assert.InDelta(t, 43.9, cfg.Grid.Bounds.MaxLat, 1e-12)
	assert.Equal(t, -40.0, cfg.Reports.BaseImpact[model.ReportBlockedPath])
	assert.Equal(t, 1, cfg.Planner.Retry.MaxAttempts)
	// Defaults still apply for unset values
	assert.Equal(t, 300*time.Millisecond, cfg.Planner.Retry.InitialBackoff)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("SAFEROUTE_STORE_DRIVER", "sqlite")
	t.Setenv("SAFEROUTE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("SAFEROUTE_SERVER_PORT", "3000")
	t.Setenv("SAFEROUTE_PLANNER_ALLOW_STALE", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.False(t, cfg.Planner.AllowStale)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func validDefaults(t *testing.T) *Config {
	t.Helper()
	chdirTemp(t)
	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestValidate_Violations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 70000 }, "Server.Port fails lte=65535"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "Log.Format fails oneof"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, `log.level "loud"`},
		{"store driver", func(c *Config) { c.Store.Driver = "mysql" }, "Store.Driver fails oneof"},
		{"cell size", func(c *Config) { c.Grid.CellSizeDegrees = 0 }, "Grid.CellSizeDegrees fails gt=0"},
		{"bounds", func(c *Config) { c.Grid.Bounds = model.BBox{MinLat: 44, MaxLat: 43, MinLng: -80, MaxLng: -79} }, "grid.bounds"},
		{"google key", func(c *Config) { c.Directions.Provider = "google" }, "google_key is required"},
		{"provider", func(c *Config) { c.Directions.Provider = "here" }, "Directions.Provider fails oneof"},
		{"attempts", func(c *Config) { c.Planner.Retry.MaxAttempts = 0 }, "max_attempts must be at least 1"},
		{"attempts cap", func(c *Config) { c.Planner.Retry.MaxAttempts = 3 }, "Planner.Retry.MaxAttempts fails lte=2"},
		{"cache", func(c *Config) { c.Cache.Size = 0 }, "Cache.Size fails gte=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ReportsAllViolations(t *testing.T) {
	cfg := validDefaults(t)
	cfg.Server.Port = 0
	cfg.Cache.Size = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Server.Port")
	assert.Contains(t, err.Error(), "Cache.Size")
}

func TestPlannerConfig(t *testing.T) {
	cfg := validDefaults(t)
	cfg.Cache.Size = 32
	cfg.Planner.AllowStale = false

	pc, err := cfg.PlannerConfig()
	require.NoError(t, err)
	assert.Equal(t, 32, pc.CacheSize)
	assert.Equal(t, 2, pc.Retry.MaxAttempts)
	assert.False(t, pc.AllowStale)
	assert.Equal(t, scoring.DefaultProfile().Weights, pc.Profile.Weights)

	cfg.Scoring.ProfilePath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = cfg.PlannerConfig()
	assert.Error(t, err)
}

func TestProfile_FromFile(t *testing.T) {
	cfg := validDefaults(t)
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte("weights:\n  crime: 0.5\n  lighting: 0.5\n"), 0o644))
	cfg.Scoring.ProfilePath = path

	p, err := cfg.Profile()
	require.NoError(t, err)
	assert.Equal(t, 0.5, p.Weights.Crime)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
