package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10000, cfg.API.DailyQuota)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 10, cfg.Collector.CheckpointInterval)
	assert.Equal(t, "file", cfg.Cache.Backend)
	assert.Equal(t, ModeSnapshot, cfg.Collector.Mode)
}

func TestLoadFile(t *testing.T) {
	tests := []struct {
		name        string
		yaml        string
		env         map[string]string
		wantErr     bool
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "no file no env",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, Default(), cfg)
			},
		},
		{
			name: "yaml overrides defaults",
			yaml: "api:\n  daily_quota: 500\n  min_interval: 250ms\nretry:\n  max_attempts: 5\ncache:\n  backend: sqlite\n",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 500, cfg.API.DailyQuota)
				assert.Equal(t, 250*time.Millisecond, cfg.API.MinInterval)
				assert.Equal(t, 5, cfg.Retry.MaxAttempts)
				assert.Equal(t, "sqlite", cfg.Cache.Backend)
				assert.Equal(t, 10*time.Second, cfg.Retry.MaxDelay)
			},
		},
		{
			name: "env overrides yaml",
			yaml: "api:\n  daily_quota: 500\n",
			env: map[string]string{
				"IPO_API_DAILY_QUOTA": "42",
				"IPO_API_APP_KEY":     "secret",
				"IPO_LOGGING_LEVEL":   "debug",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 42, cfg.API.DailyQuota)
				assert.Equal(t, "secret", cfg.API.AppKey)
				assert.Equal(t, "debug", cfg.Logging.Level)
			},
		},
		{
			name: "entity mode from env",
			env: map[string]string{
				"IPO_COLLECTOR_MODE":          "entity",
				"IPO_ENTITY_API_APP_KEY":      "kis-key",
				"IPO_ENTITY_API_MIN_INTERVAL": "50ms",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, ModeEntity, cfg.Collector.Mode)
				assert.Equal(t, "kis-key", cfg.EntityAPI.AppKey)
				assert.Equal(t, 50*time.Millisecond, cfg.EntityAPI.MinInterval)
				assert.NotEmpty(t, cfg.EntityAPI.AuthURL)
				assert.Empty(t, cfg.API.AppKey, "sections are independent")
			},
		},
		{
			name:    "invalid backend rejected",
			yaml:    "cache:\n  backend: redis\n",
			wantErr: true,
		},
		{
			name:    "invalid yaml rejected",
			yaml:    "api: [",
			wantErr: true,
		},
		{
			name:    "bad env value rejected",
			env:     map[string]string{"IPO_API_DAILY_QUOTA": "lots"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := ""
			if tt.yaml != "" {
				path = filepath.Join(t.TempDir(), "config.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0644))
			}

			cfg, err := LoadFile(path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.validateCfg != nil {
				tt.validateCfg(t, cfg)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty base url", func(c *Config) { c.API.BaseURL = " " }},
		{"zero quota", func(c *Config) { c.API.DailyQuota = 0 }},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"base above max", func(c *Config) { c.Retry.BaseDelay = time.Minute }},
		{"zero checkpoint interval", func(c *Config) { c.Collector.CheckpointInterval = 0 }},
		{"unknown mode", func(c *Config) { c.Collector.Mode = "bulk" }},
		{"entity mode without base url", func(c *Config) {
			c.Collector.Mode = ModeEntity
			c.EntityAPI.BaseURL = ""
		}},
		{"entity mode without quota", func(c *Config) {
			c.Collector.Mode = ModeEntity
			c.EntityAPI.DailyQuota = 0
		}},
		{"bad default start", func(c *Config) { c.Collector.DefaultStart = "2024/01/01" }},
		{"bad export format", func(c *Config) { c.Export.Format = "parquet" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"sheets without id", func(c *Config) { c.Sheets.Enabled = true }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"negative rate limit", func(c *Config) { c.Server.RateLimit = -1 }},
		{"scheduler without interval", func(c *Config) {
			c.Scheduler.Enabled = true
			c.Scheduler.Interval = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDefaultStartDate(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

	cfg := Default()
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), cfg.DefaultStartDate(now))

	cfg.Collector.DefaultStart = "2024-03-01"
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), cfg.DefaultStartDate(now))
}

func TestResolvePaths(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Paths.DataDir = dir
	cfg.Paths.OutputDir = filepath.Join(dir, "elsewhere")

	paths, err := cfg.ResolvePaths()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "cache"), paths.CacheDir)
	assert.Equal(t, filepath.Join(dir, "checkpoint.json"), paths.CheckpointFile)
	assert.Equal(t, filepath.Join(dir, ".last_run.json"), paths.LastRunFile)
	assert.Equal(t, filepath.Join(dir, "elsewhere"), paths.OutputDir)
	assert.Equal(t, filepath.Join(dir, "elsewhere", "ipo_prices.csv"), paths.OutputFile("ipo_prices", "csv"))

	require.NoError(t, paths.EnsureDirectories())
	for _, d := range []string{paths.CacheDir, paths.OutputDir} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
