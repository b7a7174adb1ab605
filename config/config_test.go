package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	start, end, err := cfg.Stats.HeadwayWindow()
	require.NoError(t, err)
	assert.Equal(t, 7*3600, start)
	assert.Equal(t, 19*3600, end)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yml", `
feed:
  url: https://example.com/gtfs.zip
  headers:
    Authorization: Bearer abc
  refresh_interval: 1h
storage:
  backend: sqlite
  sqlite_dir: /tmp/gtfs
stats:
  unit: mi
  headway_start: "06:00:00"
  freq: 15
  split_directions: true
log:
  format: text
`)

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/gtfs.zip", cfg.Feed.Source())
	assert.Equal(t, map[string]string{"Authorization": "Bearer abc"}, cfg.Feed.Headers)
	assert.Equal(t, time.Hour, cfg.Feed.RefreshInterval)
	assert.Equal(t, 60*time.Second, cfg.Feed.Timeout)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/gtfs", cfg.Storage.SQLiteDir)
	assert.Equal(t, "mi", cfg.Stats.Unit)
	assert.Equal(t, 15, cfg.Stats.Freq)
	assert.True(t, cfg.Stats.SplitDirections)
	assert.Equal(t, 400.0, cfg.Stats.LoopThreshold)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)

	start, _, err := cfg.Stats.HeadwayWindow()
	require.NoError(t, err)
	assert.Equal(t, 6*3600, start)
}

func TestEnvOverrides(t *testing.T) {
	path := writeFile(t, "config.yml", `
storage:
  backend: sqlite
stats:
  freq: 15
`)
	envFile := writeFile(t, ".env", "GTFSSTATS_STATS_WORKERS=3\n")

	t.Setenv("GTFSSTATS_STORAGE_BACKEND", "postgres")
	t.Setenv("GTFSSTATS_STORAGE_POSTGRES_DSN", "postgres://localhost/gtfs")
	t.Setenv("GTFSSTATS_STATS_FREQ", "30")
	t.Setenv("GTFSSTATS_STATS_LOOP_THRESHOLD", "250.5")
	t.Setenv("GTFSSTATS_FEED_CACHE_TTL", "5m")
	t.Setenv("GTFSSTATS_FEED_HEADERS", "X-Key: abc; X-Other: def")
	t.Setenv("GTFSSTATS_STATS_SPLIT_DIRECTIONS", "true")

	// Set by the .env file, and restored after the test
	t.Setenv("GTFSSTATS_STATS_WORKERS", "")
	os.Unsetenv("GTFSSTATS_STATS_WORKERS")

	cfg, err := Load(path, envFile)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.Backend)
	assert.Equal(t, "postgres://localhost/gtfs", cfg.Storage.PostgresDSN)
	assert.Equal(t, 30, cfg.Stats.Freq)
	assert.Equal(t, 250.5, cfg.Stats.LoopThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Feed.CacheTTL)
	assert.Equal(t, map[string]string{"X-Key": "abc", "X-Other": "def"}, cfg.Feed.Headers)
	assert.True(t, cfg.Stats.SplitDirections)
	assert.Equal(t, 3, cfg.Stats.Workers)
}

func TestLoadMissingEnvFile(t *testing.T) {
	_, err := Load("", filepath.Join(t.TempDir(), ".env"))
	assert.NoError(t, err)
}

func TestInvalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "backend", yaml: "storage:\n  backend: mongo\n"},
		{name: "postgres without dsn", yaml: "storage:\n  backend: postgres\n"},
		{name: "unit", yaml: "stats:\n  unit: furlongs\n"},
		{name: "freq range", yaml: "stats:\n  freq: 0\n"},
		{name: "freq divides day", yaml: "stats:\n  freq: 7\n"},
		{name: "headway time", yaml: "stats:\n  headway_start: noon\n"},
		{name: "headway order", yaml: "stats:\n  headway_start: \"20:00:00\"\n"},
		{name: "url", yaml: "feed:\n  url: not a url\n"},
		{name: "log level", yaml: "log:\n  level: loud\n"},
		{name: "malformed yaml", yaml: "stats: [\n"},
		{name: "env int", env: map[string]string{"GTFSSTATS_STATS_FREQ": "often"}},
		{name: "env duration", env: map[string]string{"GTFSSTATS_FEED_TIMEOUT": "soon"}},
		{name: "env headers", env: map[string]string{"GTFSSTATS_FEED_HEADERS": "nocolon"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			path := ""
			if tc.yaml != "" {
				path = writeFile(t, "config.yml", tc.yaml)
			}
			_, err := Load(path, "")
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"), "")
	assert.Error(t, err)
}
