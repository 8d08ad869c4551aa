package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/saferoute/internal/model"
	"github.com/sells-group/saferoute/internal/planner"
	"github.com/sells-group/saferoute/internal/reports"
	"github.com/sells-group/saferoute/internal/resilience"
	"github.com/sells-group/saferoute/internal/scoring"
	"github.com/sells-group/saferoute/internal/store"
	"github.com/sells-group/saferoute/pkg/directions"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig         `yaml:"log" mapstructure:"log"`
	Server     ServerConfig      `yaml:"server" mapstructure:"server"`
	Store      store.Config      `yaml:"store" mapstructure:"store"`
	Grid       GridConfig        `yaml:"grid" mapstructure:"grid"`
	Scoring    ScoringConfig     `yaml:"scoring" mapstructure:"scoring"`
	Reports    reports.Config    `yaml:"reports" mapstructure:"reports"`
	Directions directions.Config `yaml:"directions" mapstructure:"directions"`
	Places     PlacesConfig      `yaml:"places" mapstructure:"places"`
	Cache      CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Planner    PlannerConfig     `yaml:"planner" mapstructure:"planner"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port            int           `yaml:"port" mapstructure:"port" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// GridConfig describes the area covered by safety grids.
type GridConfig struct {
	Bounds          model.BBox `yaml:"bounds" mapstructure:"bounds"`
	CellSizeDegrees float64    `yaml:"cell_size_degrees" mapstructure:"cell_size_degrees" validate:"gt=0,lte=1"`
	// Reload is how often serve re-reads the latest grids from the store.
	// Zero disables reloading.
	Reload time.Duration `yaml:"reload" mapstructure:"reload"`
}

// ScoringConfig points at an optional scoring profile file.
type ScoringConfig struct {
	ProfilePath string `yaml:"profile_path" mapstructure:"profile_path"`
}

// PlacesConfig configures nearby-place enrichment.
type PlacesConfig struct {
	Key          string   `yaml:"key" mapstructure:"key"`
	RadiusMeters int      `yaml:"radius_meters" mapstructure:"radius_meters" validate:"gte=0,lte=50000"`
	RateLimit    float64  `yaml:"rate_limit" mapstructure:"rate_limit" validate:"gte=0"`
	Categories   []string `yaml:"categories" mapstructure:"categories"`
}

// Enabled reports whether a places key is configured.
func (p PlacesConfig) Enabled() bool {
	return p.Key != ""
}

// CacheConfig configures the comparison cache.
type CacheConfig struct {
	Size int           `yaml:"size" mapstructure:"size" validate:"gte=1"`
	TTL  time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// PlannerConfig configures provider calls and client sessions.
type PlannerConfig struct {
	Retry          resilience.Policy        `yaml:"retry" mapstructure:"retry"`
	Breaker        resilience.BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
	RequestTimeout time.Duration            `yaml:"request_timeout" mapstructure:"request_timeout"`
	AllowStale     bool                     `yaml:"allow_stale" mapstructure:"allow_stale"`
	MaxSessions    int                      `yaml:"max_sessions" mapstructure:"max_sessions" validate:"gte=0"`
	SessionIdle    time.Duration            `yaml:"session_idle" mapstructure:"session_idle"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SAFEROUTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "45s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "saferoute.db")
	v.SetDefault("grid.cell_size_degrees", 0.005)
	v.SetDefault("grid.reload", "0s")
	v.SetDefault("reports.freshness_window", "48h")
	v.SetDefault("reports.min_upvotes", 3)
	v.SetDefault("reports.min_confidence", 50)
	v.SetDefault("reports.radius_meters", 50)
	v.SetDefault("directions.provider", "osrm")
	v.SetDefault("directions.rate_limit", 10)
	v.SetDefault("places.radius_meters", 500)
	v.SetDefault("places.rate_limit", 5)
	v.SetDefault("places.categories", []string{"police", "hospital", "pharmacy", "convenience_store"})
	v.SetDefault("cache.size", 512)
	v.SetDefault("cache.ttl", "10m")
	v.SetDefault("planner.retry.max_attempts", 2)
	v.SetDefault("planner.retry.attempt_timeout", "10s")
	v.SetDefault("planner.retry.initial_backoff", "300ms")
	v.SetDefault("planner.retry.max_backoff", "5s")
	v.SetDefault("planner.retry.multiplier", 2.0)
	v.SetDefault("planner.retry.jitter_fraction", 0.2)
	v.SetDefault("planner.breaker.failure_threshold", 5)
	v.SetDefault("planner.breaker.cooldown", "30s")
	v.SetDefault("planner.breaker.probes", 1)
	v.SetDefault("planner.request_timeout", "30s")
	v.SetDefault("planner.allow_stale", true)
	v.SetDefault("planner.max_sessions", 1024)
	v.SetDefault("planner.session_idle", "30m")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks struct tags and cross-field rules and reports every
// violation at once.
func (c *Config) Validate() error {
	var errs []string

	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !eris.As(err, &verrs) {
			return eris.Wrap(err, "config: validate")
		}
		for _, fe := range verrs {
			errs = append(errs, describe(fe))
		}
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Sprintf("log.level %q is not a valid level", c.Log.Level))
	}
	if c.Grid.Bounds != (model.BBox{}) {
		if err := c.Grid.Bounds.Validate(); err != nil {
			errs = append(errs, "grid.bounds: "+err.Error())
		}
	}
	if c.Directions.Provider == "google" && c.Directions.GoogleKey == "" {
		errs = append(errs, "directions.google_key is required for the google provider")
	}
	if c.Planner.Retry.MaxAttempts < 1 {
		errs = append(errs, "planner.retry.max_attempts must be at least 1")
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	name := fe.Namespace()
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	if fe.Param() != "" {
		return fmt.Sprintf("%s fails %s=%s (got %v)", name, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s fails %s (got %v)", name, fe.Tag(), fe.Value())
}

// Profile loads the scoring profile, or returns the default when no file is
// configured.
func (c *Config) Profile() (scoring.Profile, error) {
	if c.Scoring.ProfilePath == "" {
		return scoring.DefaultProfile(), nil
	}
	return scoring.LoadProfile(c.Scoring.ProfilePath)
}

// PlannerConfig assembles the planner settings.
func (c *Config) PlannerConfig() (planner.Config, error) {
	profile, err := c.Profile()
	if err != nil {
		return planner.Config{}, err
	}
	pc := planner.DefaultConfig()
	pc.Retry = c.Planner.Retry
	pc.Breaker = c.Planner.Breaker
	if c.Planner.RequestTimeout > 0 {
		pc.RequestTimeout = c.Planner.RequestTimeout
	}
	if c.Cache.Size > 0 {
		pc.CacheSize = c.Cache.Size
	}
	if c.Cache.TTL > 0 {
		pc.CacheTTL = c.Cache.TTL
	}
	pc.AllowStale = c.Planner.AllowStale
	pc.Reports = c.Reports
	pc.Profile = profile
	return pc, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
