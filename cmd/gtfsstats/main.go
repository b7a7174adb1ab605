package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	gtfs "tidbyt.dev/gtfsstats"
	"tidbyt.dev/gtfsstats/config"
	"tidbyt.dev/gtfsstats/downloader"
	"tidbyt.dev/gtfsstats/geometry"
	"tidbyt.dev/gtfsstats/gtfstime"
	"tidbyt.dev/gtfsstats/logging"
	"tidbyt.dev/gtfsstats/metrics"
	"tidbyt.dev/gtfsstats/storage"
)

var rootCmd = &cobra.Command{
	Use:          "gtfsstats",
	Short:        "GTFS feed statistics",
	Long:         "Computes trip, route and stop statistics for GTFS feeds",
	SilenceUsage: true,
}

var (
	configPath  string
	envFile     string
	feedSource  string
	feedHeaders []string
	backend     string
	sqliteDir   string
	postgresDSN string
	unit        string
	datesFlag   string
	format      string
	outputPath  string
	logLevel    string
	logFormat   string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "YAML config file")
	flags.StringVarP(&envFile, "env-file", "", ".env", "File with environment overrides")
	flags.StringVarP(&feedSource, "feed", "f", "", "GTFS zip, as a path or URL")
	flags.StringSliceVarP(&feedHeaders, "header", "", []string{}, "HTTP header for feed downloads")
	flags.StringVarP(&backend, "storage", "", "", "Storage backend (memory, sqlite, postgres)")
	flags.StringVarP(&sqliteDir, "sqlite-dir", "", "", "Directory for on-disk SQLite storage")
	flags.StringVarP(&postgresDSN, "postgres-dsn", "", "", "Postgres connection string")
	flags.StringVarP(&unit, "unit", "u", "", "Distance unit (m, km, mi, ft)")
	flags.StringVarP(&datesFlag, "dates", "d", "", "Comma separated YYYYMMDD dates, or 'all' (default first week)")
	flags.StringVarP(&format, "format", "", "csv", "Output format (csv, json)")
	flags.StringVarP(&outputPath, "output", "o", "", "Output file (default stdout)")
	flags.StringVarP(&logLevel, "log-level", "", "", "Log level (debug, info, warn, error)")
	flags.StringVarP(&logFormat, "log-format", "", "", "Log format (json, text)")

	rootCmd.AddCommand(
		tripStatsCmd,
		routeStatsCmd,
		stopStatsCmd,
		routeTimeSeriesCmd,
		stopTimeSeriesCmd,
		activityCmd,
		busiestDateCmd,
		locateCmd,
		appendDistCmd,
		shapesCmd,
		serveCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func parseHeaders(headers []string) (map[string]string, error) {
	parsed := map[string]string{}
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("'%s' is not on form <key>:<value>", header)
		}
		parsed[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return parsed, nil
}

// loadConfig reads the config file and environment, then applies
// any flags given on the command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("feed") {
		if isURL(feedSource) {
			cfg.Feed.URL = feedSource
			cfg.Feed.Path = ""
		} else {
			cfg.Feed.Path = feedSource
			cfg.Feed.URL = ""
		}
	}
	if flags.Changed("header") {
		headers, err := parseHeaders(feedHeaders)
		if err != nil {
			return nil, fmt.Errorf("invalid header: %w", err)
		}
		if cfg.Feed.Headers == nil {
			cfg.Feed.Headers = map[string]string{}
		}
		for k, v := range headers {
			cfg.Feed.Headers[k] = v
		}
	}
	if flags.Changed("storage") {
		cfg.Storage.Backend = backend
	}
	if flags.Changed("sqlite-dir") {
		cfg.Storage.SQLiteDir = sqliteDir
	}
	if flags.Changed("postgres-dsn") {
		cfg.Storage.PostgresDSN = postgresDSN
	}
	if flags.Changed("unit") {
		cfg.Stats.Unit = unit
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(os.Stderr, cfg.Log.Format, level)
}

func newStorage(cfg *config.Config) (storage.Storage, func(), error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		s, err := storage.NewSQLiteStorage(storage.SQLiteConfig{
			OnDisk:    cfg.Storage.SQLiteDir != "",
			Directory: cfg.Storage.SQLiteDir,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("creating sqlite storage: %w", err)
		}
		return s, func() {}, nil
	case "postgres":
		s, err := storage.NewPSQLStorage(cfg.Storage.PostgresDSN, cfg.Storage.ClearDB)
		if err != nil {
			return nil, nil, fmt.Errorf("creating postgres storage: %w", err)
		}
		return s, func() { s.Close() }, nil
	default:
		return storage.NewMemoryStorage(), func() {}, nil
	}
}

// app carries everything a command needs once the feed is loaded.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Collector
	manager *gtfs.Manager
	feed    *gtfs.Feed
	close   func()
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	u, err := geometry.ParseUnit(cfg.Stats.Unit)
	if err != nil {
		return nil, err
	}

	s, closeStorage, err := newStorage(cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.NewCollector()
	manager := gtfs.NewManager(s)
	manager.StaticTimeout = cfg.Feed.Timeout
	manager.StaticRefreshInterval = cfg.Feed.RefreshInterval
	manager.DownloadCacheTTL = cfg.Feed.CacheTTL
	manager.ParseOptions.LenientTimes = cfg.Feed.LenientTimes
	manager.FeedOptions = []gtfs.Option{gtfs.WithUnit(u)}
	manager.Logger = logger
	manager.Metrics = m

	if cfg.Feed.CachePath != "" {
		fs, err := downloader.NewFilesystem(cfg.Feed.CachePath)
		if err != nil {
			closeStorage()
			return nil, fmt.Errorf("creating download cache: %w", err)
		}
		fs.Logger = logger
		manager.Downloader = fs
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		manager: manager,
		close:   closeStorage,
	}, nil
}

// load fetches the configured feed.
func (a *app) load(ctx context.Context) (*gtfs.Feed, error) {
	if a.cfg.Feed.URL != "" {
		return a.manager.LoadURL(ctx, a.cfg.Feed.URL, a.cfg.Feed.Headers)
	}
	if a.cfg.Feed.Path != "" {
		return a.manager.LoadFile(a.cfg.Feed.Path)
	}
	return nil, fmt.Errorf("feed path or URL is required")
}

// withFeed sets up the app, loads the feed and calls fn.
func withFeed(cmd *cobra.Command, fn func(a *app) error) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	a.feed, err = a.load(cmd.Context())
	if err != nil {
		return err
	}

	return fn(a)
}

// resolveDates turns the --dates flag into dates. Empty means the
// first week of the feed and "all" every date it covers.
func resolveDates(raw string, feed *gtfs.Feed) ([]gtfstime.Date, error) {
	switch strings.TrimSpace(raw) {
	case "":
		return feed.FirstWeek(), nil
	case "all":
		return feed.Dates(), nil
	}
	dates, err := gtfstime.ParseDates(strings.Split(raw, ",")...)
	if err != nil {
		return nil, fmt.Errorf("invalid dates: %w", err)
	}
	return dates, nil
}

func openOutput() (io.Writer, func() error, error) {
	if outputPath == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return nil, nil, fmt.Errorf("creating output: %w", err)
	}
	return f, f.Close, nil
}
