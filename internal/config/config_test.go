package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/movie-backfill/pkg/ratelimit"
)

// clearEnv unsets every override for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		PathEnv, databaseURLEnv, tmdbBaseURLEnv, tmdbTokenEnvEnv, redisURLEnv,
		batchSizeEnv, logLevelEnv, metricsAddrEnv, throttleModeEnv,
	} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Backfill.BatchSize != 40 {
		t.Errorf("BatchSize = %d, want 40", cfg.Backfill.BatchSize)
	}
	if cfg.Throttle.Window != time.Second {
		t.Errorf("Window = %s, want 1s", cfg.Throttle.Window)
	}
	if cfg.Throttle.Mode != "coalesce" {
		t.Errorf("Mode = %q, want coalesce", cfg.Throttle.Mode)
	}
	if cfg.TMDB.BaseURL != "https://api.themoviedb.org/3/movie" {
		t.Errorf("BaseURL = %q", cfg.TMDB.BaseURL)
	}
	if cfg.TMDB.TokenEnv != "TMDB_ACCESS_TOKEN" {
		t.Errorf("TokenEnv = %q", cfg.TMDB.TokenEnv)
	}
	if cfg.TMDB.Timeout != 0 || cfg.TMDB.RequestsPerSecond != 0 {
		t.Errorf("expected no timeout and no rps limit, got %s / %v", cfg.TMDB.Timeout, cfg.TMDB.RequestsPerSecond)
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, `
database:
  url: postgres://file@localhost/movies
tmdb:
  language: en-US
  timeout: 5s
  requestsPerSecond: 20
throttle:
  window: 250ms
  mode: queue
backfill:
  batchSize: 10
`)

	t.Setenv(batchSizeEnv, "25")
	t.Setenv(redisURLEnv, "redis://localhost:6379/0")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.URL != "postgres://file@localhost/movies" {
		t.Errorf("Database.URL = %q", cfg.Database.URL)
	}
	if cfg.TMDB.Timeout != 5*time.Second {
		t.Errorf("Timeout = %s, want 5s", cfg.TMDB.Timeout)
	}
	if cfg.TMDB.RequestsPerSecond != 20 {
		t.Errorf("RequestsPerSecond = %v, want 20", cfg.TMDB.RequestsPerSecond)
	}
	if cfg.Throttle.Window != 250*time.Millisecond || cfg.Throttle.Mode != "queue" {
		t.Errorf("Throttle = %+v", cfg.Throttle)
	}
	if cfg.Backfill.BatchSize != 25 {
		t.Errorf("BatchSize = %d, env override should win", cfg.Backfill.BatchSize)
	}
	if cfg.Redis.URL != "redis://localhost:6379/0" {
		t.Errorf("Redis.URL = %q", cfg.Redis.URL)
	}
	// Untouched by the file.
	if cfg.TMDB.TokenEnv != "TMDB_ACCESS_TOKEN" {
		t.Errorf("TokenEnv = %q, default should survive", cfg.TMDB.TokenEnv)
	}
}

func TestLoad_PathFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(PathEnv, writeConfig(t, "backfill:\n  batchSize: 7\n"))

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backfill.BatchSize != 7 {
		t.Errorf("BatchSize = %d, want 7", cfg.Backfill.BatchSize)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) string
		wantErr string
	}{
		{
			name:    "missing file",
			setup:   func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.yaml") },
			wantErr: "read config",
		},
		{
			name:    "malformed yaml",
			setup:   func(t *testing.T) string { return writeConfig(t, "backfill: [") },
			wantErr: "parse config",
		},
		{
			name: "bad batch size env",
			setup: func(t *testing.T) string {
				t.Setenv(batchSizeEnv, "forty")
				return ""
			},
			wantErr: "BATCH_SIZE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Load(tt.setup(t))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Database.URL = "postgres://localhost/movies"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "zero window allowed", mutate: func(c *Config) { c.Throttle.Window = 0 }},
		{name: "zero batch size", mutate: func(c *Config) { c.Backfill.BatchSize = 0 }, wantErr: true},
		{name: "empty dsn", mutate: func(c *Config) { c.Database.URL = " " }, wantErr: true},
		{name: "unknown mode", mutate: func(c *Config) { c.Throttle.Mode = "burst" }, wantErr: true},
		{name: "negative window", mutate: func(c *Config) { c.Throttle.Window = -time.Second }, wantErr: true},
		{name: "negative rps", mutate: func(c *Config) { c.TMDB.RequestsPerSecond = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestThrottleOptions(t *testing.T) {
	cfg := Default()
	cfg.Throttle.Mode = "Queue"
	cfg.Throttle.Window = 2 * time.Second

	opts, err := cfg.ThrottleOptions()
	if err != nil {
		t.Fatalf("ThrottleOptions() error = %v", err)
	}
	if opts.Mode != ratelimit.ModeQueue || opts.Window != 2*time.Second {
		t.Errorf("ThrottleOptions() = %+v", opts)
	}
}
