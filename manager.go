package gtfs

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"tidbyt.dev/gtfsstats/downloader"
	"tidbyt.dev/gtfsstats/logging"
	"tidbyt.dev/gtfsstats/metrics"
	"tidbyt.dev/gtfsstats/parse"
	"tidbyt.dev/gtfsstats/storage"
)

const (
	DefaultStaticRefreshInterval = 12 * time.Hour
	DefaultStaticTimeout         = 60 * time.Second
	DefaultStaticMaxSize         = 800 << 20 // 800 MB
)

var ErrNoFeed = errors.New("no feed found")

// Manager loads GTFS feeds into storage, and builds Feed snapshots
// from them. A feed is parsed once per distinct content hash.
type Manager struct {
	StaticTimeout         time.Duration
	StaticMaxSize         int
	StaticRefreshInterval time.Duration
	Downloader            downloader.Downloader

	// Downloads are cached by the Downloader for this long. Zero
	// disables caching.
	DownloadCacheTTL time.Duration

	ParseOptions parse.ParseOptions
	FeedOptions  []Option
	Logger       *slog.Logger
	Metrics      *metrics.Collector

	storage storage.Storage
	timeNow func() time.Time
}

// Creates a new Manager of GTFS data, on top of the given storage.
func NewManager(s storage.Storage) *Manager {
	return &Manager{
		StaticTimeout:         DefaultStaticTimeout,
		StaticMaxSize:         DefaultStaticMaxSize,
		StaticRefreshInterval: DefaultStaticRefreshInterval,
		Downloader:            downloader.NewMemoryDownloader(),

		storage: s,
		timeNow: time.Now,
	}
}

// Loads a feed from a zip file on disk. The feed is recorded in
// storage under a file:// URL.
func (m *Manager) LoadFile(path string) (*Feed, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	body, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading feed: %w", err)
	}

	return m.load("file://"+filepath.ToSlash(abs), body)
}

// Loads a feed from a URL.
//
// If storage holds a feed for this URL retrieved within
// StaticRefreshInterval, it is used without downloading.
func (m *Manager) LoadURL(ctx context.Context, url string, headers map[string]string) (*Feed, error) {
	feeds, err := m.storage.ListFeeds(storage.ListFeedsFilter{URL: url})
	if err != nil {
		return nil, fmt.Errorf("listing feeds: %w", err)
	}
	if len(feeds) > 0 && feeds[0].RetrievedAt.Add(m.StaticRefreshInterval).After(m.timeNow()) {
		return m.open(feeds[0], "storage")
	}

	body, err := m.Downloader.Get(ctx, url, headers, downloader.GetOptions{
		Cache:    m.DownloadCacheTTL > 0,
		CacheTTL: m.DownloadCacheTTL,
		Timeout:  m.StaticTimeout,
		MaxSize:  m.StaticMaxSize,
	})
	if err != nil {
		return nil, fmt.Errorf("downloading feed at %s: %w", url, err)
	}

	return m.load(url, body)
}

// Loads the most recently retrieved feed for a URL from storage,
// without downloading. Returns ErrNoFeed if there is none.
func (m *Manager) LoadStored(url string) (*Feed, error) {
	feeds, err := m.storage.ListFeeds(storage.ListFeedsFilter{URL: url})
	if err != nil {
		return nil, fmt.Errorf("listing feeds: %w", err)
	}
	if len(feeds) == 0 {
		return nil, ErrNoFeed
	}
	return m.open(feeds[0], "storage")
}

// Stores the feed in body under url, parsing it unless data with
// the same hash is already in storage.
func (m *Manager) load(url string, body []byte) (*Feed, error) {
	hash := fmt.Sprintf("%x", sha256.Sum256(body))
	now := m.timeNow().UTC()

	feeds, err := m.storage.ListFeeds(storage.ListFeedsFilter{Hash: hash})
	if err != nil {
		return nil, fmt.Errorf("listing feeds: %w", err)
	}

	if len(feeds) > 0 {
		// Already parsed, possibly for a different URL. Record
		// (or refresh) the metadata for this URL.
		metadata := *feeds[0]
		metadata.URL = url
		metadata.RetrievedAt = now
		err = m.storage.WriteFeedMetadata(&metadata)
		if err != nil {
			return nil, fmt.Errorf("writing metadata: %w", err)
		}
		return m.open(&metadata, "storage")
	}

	writer, err := m.storage.GetWriter(hash)
	if err != nil {
		return nil, fmt.Errorf("getting writer: %w", err)
	}

	// ParseStatic closes the writer on success.
	metadata, err := parse.ParseStatic(writer, body, m.ParseOptions)
	if err != nil {
		logging.SafeClose(writer, m.Logger, "closing feed writer")
		return nil, fmt.Errorf("parsing: %w", err)
	}

	metadata.Hash = hash
	metadata.URL = url
	metadata.RetrievedAt = now
	err = m.storage.WriteFeedMetadata(metadata)
	if err != nil {
		return nil, fmt.Errorf("writing metadata: %w", err)
	}

	return m.open(metadata, "parsed")
}

func (m *Manager) open(metadata *storage.FeedMetadata, source string) (*Feed, error) {
	reader, err := m.storage.GetReader(metadata.Hash)
	if err != nil {
		return nil, fmt.Errorf("getting reader: %w", err)
	}

	feed, err := NewFeed(reader, metadata, m.FeedOptions...)
	if err != nil {
		return nil, fmt.Errorf("creating feed: %w", err)
	}

	m.Metrics.FeedLoaded(source, len(feed.Trips()))
	logging.LogOperation(m.Logger, "feed_loaded",
		slog.String("url", metadata.URL),
		slog.String("hash", metadata.Hash),
		slog.String("source", source),
		slog.Int("num_trips", len(feed.Trips())),
	)

	return feed, nil
}
