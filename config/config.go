// Package config loads gtfsstats settings from a YAML file, with
// overrides from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tidbyt.dev/gtfsstats/gtfstime"
)

// Environment variables are named EnvPrefix + upper cased YAML path,
// e.g. GTFSSTATS_STORAGE_BACKEND.
const EnvPrefix = "GTFSSTATS_"

type Config struct {
	Feed    FeedConfig    `yaml:"feed"`
	Storage StorageConfig `yaml:"storage"`
	Stats   StatsConfig   `yaml:"stats"`
	Log     LogConfig     `yaml:"log"`
	Server  ServerConfig  `yaml:"server"`
}

// FeedConfig locates the GTFS zip, either on disk or by URL.
type FeedConfig struct {
	Path            string            `yaml:"path"`
	URL             string            `yaml:"url" validate:"omitempty,url"`
	Headers         map[string]string `yaml:"headers"`
	RefreshInterval time.Duration     `yaml:"refresh_interval" validate:"gte=0"`
	Timeout         time.Duration     `yaml:"timeout" validate:"gte=0"`

	// Downloads are cached in this file when set.
	CachePath string        `yaml:"cache_path"`
	CacheTTL  time.Duration `yaml:"cache_ttl" validate:"gte=0"`

	LenientTimes bool `yaml:"lenient_times"`
}

type StorageConfig struct {
	Backend     string `yaml:"backend" validate:"oneof=memory sqlite postgres"`
	SQLiteDir   string `yaml:"sqlite_dir"`
	PostgresDSN string `yaml:"postgres_dsn" validate:"required_if=Backend postgres"`
	ClearDB     bool   `yaml:"clear_db"`
}

type StatsConfig struct {
	Unit            string  `yaml:"unit" validate:"oneof=m km mi ft"`
	LoopThreshold   float64 `yaml:"loop_threshold" validate:"gte=0"`
	DistanceSlack   float64 `yaml:"distance_slack" validate:"gte=0"`
	HeadwayStart    string  `yaml:"headway_start" validate:"required"`
	HeadwayEnd      string  `yaml:"headway_end" validate:"required"`
	Freq            int     `yaml:"freq" validate:"gte=1,lte=1440"`
	Workers         int     `yaml:"workers" validate:"gte=0"`
	SplitDirections bool    `yaml:"split_directions"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

// Default returns the configuration used for anything not set in
// the file or environment.
func Default() *Config {
	return &Config{
		Feed: FeedConfig{
			RefreshInterval: 12 * time.Hour,
			Timeout:         60 * time.Second,
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Stats: StatsConfig{
			Unit:          "km",
			LoopThreshold: 400,
			DistanceSlack: 100,
			HeadwayStart:  "07:00:00",
			HeadwayEnd:    "19:00:00",
			Freq:          60,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Load reads the YAML file at path, if path is not empty, on top of
// the defaults. Variables from envFile, if it exists, are added to
// the environment, and the environment overrides the file.
func Load(path string, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if envFile != "" {
		err := godotenv.Load(envFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks field constraints and the headway window.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	start, end, err := c.Stats.HeadwayWindow()
	if err != nil {
		return err
	}
	if end < start {
		return fmt.Errorf("invalid config: headway window ends before it starts")
	}
	if 1440%c.Stats.Freq != 0 {
		return fmt.Errorf("invalid config: freq %d does not divide a day", c.Stats.Freq)
	}

	return nil
}

// HeadwayWindow returns the headway window in seconds past
// midnight.
func (s StatsConfig) HeadwayWindow() (int, int, error) {
	start, err := gtfstime.ParseTime(s.HeadwayStart)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid config: headway_start: %w", err)
	}
	end, err := gtfstime.ParseTime(s.HeadwayEnd)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid config: headway_end: %w", err)
	}
	return start, end, nil
}

// Source is the feed URL, or file path if no URL is set.
func (f FeedConfig) Source() string {
	if f.URL != "" {
		return f.URL
	}
	return f.Path
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	strs := map[string]*string{
		"FEED_PATH":            &c.Feed.Path,
		"FEED_URL":             &c.Feed.URL,
		"FEED_CACHE_PATH":      &c.Feed.CachePath,
		"STORAGE_BACKEND":      &c.Storage.Backend,
		"STORAGE_SQLITE_DIR":   &c.Storage.SQLiteDir,
		"STORAGE_POSTGRES_DSN": &c.Storage.PostgresDSN,
		"STATS_UNIT":           &c.Stats.Unit,
		"STATS_HEADWAY_START":  &c.Stats.HeadwayStart,
		"STATS_HEADWAY_END":    &c.Stats.HeadwayEnd,
		"LOG_LEVEL":            &c.Log.Level,
		"LOG_FORMAT":           &c.Log.Format,
		"SERVER_ADDR":          &c.Server.Addr,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"FEED_REFRESH_INTERVAL": &c.Feed.RefreshInterval,
		"FEED_TIMEOUT":          &c.Feed.Timeout,
		"FEED_CACHE_TTL":        &c.Feed.CacheTTL,
	}
	for name, dst := range durations {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parsing %s%s: %w", EnvPrefix, name, err)
			}
			*dst = d
		}
	}

	floats := map[string]*float64{
		"STATS_LOOP_THRESHOLD": &c.Stats.LoopThreshold,
		"STATS_DISTANCE_SLACK": &c.Stats.DistanceSlack,
	}
	for name, dst := range floats {
		if v, ok := lookup(EnvPrefix + name); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("parsing %s%s: %w", EnvPrefix, name, err)
			}
			*dst = f
		}
	}

	ints := map[string]*int{
		"STATS_FREQ":    &c.Stats.Freq,
		"STATS_WORKERS": &c.Stats.Workers,
	}
	for name, dst := range ints {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parsing %s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"FEED_LENIENT_TIMES":     &c.Feed.LenientTimes,
		"STORAGE_CLEAR_DB":       &c.Storage.ClearDB,
		"STATS_SPLIT_DIRECTIONS": &c.Stats.SplitDirections,
	}
	for name, dst := range bools {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("parsing %s%s: %w", EnvPrefix, name, err)
			}
			*dst = b
		}
	}

	// Headers as "Name: value" pairs separated by semicolons
	if v, ok := lookup(EnvPrefix + "FEED_HEADERS"); ok {
		headers := map[string]string{}
		for _, pair := range strings.Split(v, ";") {
			if strings.TrimSpace(pair) == "" {
				continue
			}
			name, value, found := strings.Cut(pair, ":")
			if !found {
				return fmt.Errorf("parsing %sFEED_HEADERS: malformed header '%s'", EnvPrefix, pair)
			}
			headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
		c.Feed.Headers = headers
	}

	return nil
}
