// Package config loads runtime configuration: defaults, then an optional YAML file,
// then environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/movie-backfill/pkg/ratelimit"
	"github.com/Sternrassler/movie-backfill/pkg/tmdb"
)

const (
	// PathEnv names the environment variable holding the YAML config path.
	PathEnv = "BACKFILL_CONFIG"

	databaseURLEnv  = "DATABASE_URL"
	tmdbBaseURLEnv  = "TMDB_BASE_URL"
	tmdbTokenEnvEnv = "TMDB_TOKEN_ENV"
	redisURLEnv     = "REDIS_URL"
	batchSizeEnv    = "BATCH_SIZE"
	logLevelEnv     = "LOG_LEVEL"
	metricsAddrEnv  = "METRICS_ADDR"
	throttleModeEnv = "THROTTLE_MODE"

	defaultBatchSize = 40
)

// Config is the complete runtime configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	TMDB     TMDBConfig     `yaml:"tmdb"`
	Throttle ThrottleConfig `yaml:"throttle"`
	Redis    RedisConfig    `yaml:"redis"`
	Backfill BackfillConfig `yaml:"backfill"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// DatabaseConfig describes the Postgres connection.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"maxConns"`
}

// TMDBConfig describes the metadata API.
type TMDBConfig struct {
	BaseURL  string `yaml:"baseUrl"`
	TokenEnv string `yaml:"tokenEnv"`
	Language string `yaml:"language"`

	// Timeout of 0 leaves per-call duration to the transport.
	Timeout time.Duration `yaml:"timeout"`

	// RequestsPerSecond of 0 disables call spacing.
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`

	// MaxConcurrency of 0 fans out one call per id.
	MaxConcurrency int `yaml:"maxConcurrency"`
}

// ThrottleConfig configures the batch coalescer.
type ThrottleConfig struct {
	Window time.Duration `yaml:"window"`
	Mode   string        `yaml:"mode"`
}

// RedisConfig enables the response cache when URL is set.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// BackfillConfig configures the driver loop.
type BackfillConfig struct {
	BatchSize int `yaml:"batchSize"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		TMDB: TMDBConfig{
			BaseURL:  tmdb.DefaultBaseURL,
			TokenEnv: tmdb.DefaultTokenEnv,
		},
		Throttle: ThrottleConfig{
			Window: ratelimit.DefaultWindow,
			Mode:   string(ratelimit.ModeCoalesce),
		},
		Backfill: BackfillConfig{
			BatchSize: defaultBatchSize,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration. An empty path falls back to $BACKFILL_CONFIG; when
// neither is set only defaults and environment overrides apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(PathEnv)
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv(databaseURLEnv); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv(tmdbBaseURLEnv); v != "" {
		c.TMDB.BaseURL = v
	}
	if v := os.Getenv(tmdbTokenEnvEnv); v != "" {
		c.TMDB.TokenEnv = v
	}
	if v := os.Getenv(redisURLEnv); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv(batchSizeEnv); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", batchSizeEnv, v, err)
		}
		c.Backfill.BatchSize = n
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(metricsAddrEnv); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv(throttleModeEnv); v != "" {
		c.Throttle.Mode = v
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Backfill.BatchSize <= 0 {
		return fmt.Errorf("backfill.batchSize must be > 0 (got %d)", c.Backfill.BatchSize)
	}
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("database.url is required (or set %s)", databaseURLEnv)
	}
	if _, err := ratelimit.ParseMode(c.Throttle.Mode); err != nil {
		return fmt.Errorf("throttle.mode: %w", err)
	}
	if c.Throttle.Window < 0 {
		return fmt.Errorf("throttle.window must be >= 0 (got %s)", c.Throttle.Window)
	}
	if c.TMDB.Timeout < 0 {
		return fmt.Errorf("tmdb.timeout must be >= 0 (got %s)", c.TMDB.Timeout)
	}
	if c.TMDB.RequestsPerSecond < 0 {
		return fmt.Errorf("tmdb.requestsPerSecond must be >= 0 (got %v)", c.TMDB.RequestsPerSecond)
	}
	return nil
}

// ThrottleOptions converts the throttle section into coalescer options.
func (c Config) ThrottleOptions() (ratelimit.Options, error) {
	mode, err := ratelimit.ParseMode(c.Throttle.Mode)
	if err != nil {
		return ratelimit.Options{}, err
	}
	return ratelimit.Options{Window: c.Throttle.Window, Mode: mode}, nil
}
