package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tidbyt.dev/gtfsstats/logging"
)

// Filesystem caches downloaded feeds in a single JSON file, so that
// repeated CLI runs don't download the same zip again.
type Filesystem struct {
	Path    string
	Logger  *slog.Logger
	TimeNow func() time.Time

	mutex   sync.Mutex
	records map[string]fsRecord
}

// Bodies are base64 encoded by encoding/json.
type fsRecord struct {
	URL         string    `json:"url"`
	Body        []byte    `json:"body"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

func NewFilesystem(path string) (*Filesystem, error) {
	fs := &Filesystem{
		Path:    path,
		TimeNow: time.Now,
		records: map[string]fsRecord{},
	}

	err := fs.load()
	if err != nil {
		return nil, err
	}

	return fs, nil
}

func (f *Filesystem) Get(
	ctx context.Context,
	url string,
	headers map[string]string,
	options GetOptions,
) ([]byte, error) {
	logger := logging.OrDiscard(f.Logger)
	key := cacheKey(url, headers)

	f.mutex.Lock()
	defer f.mutex.Unlock()

	if options.Cache {
		if record, found := f.records[key]; found {
			if record.RetrievedAt.Add(options.CacheTTL).After(f.TimeNow()) {
				logger.Debug("cache hit", slog.String("url", url))
				return record.Body, nil
			}
			logger.Debug("cache expired", slog.String("url", url))
		}
	}

	body, err := HTTPGet(ctx, url, headers, options)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}

	if options.Cache {
		f.records[key] = fsRecord{
			URL:         url,
			Body:        body,
			RetrievedAt: f.TimeNow().UTC(),
		}
		err = f.save()
		if err != nil {
			return nil, fmt.Errorf("saving: %w", err)
		}
	}

	return body, nil
}

func (f *Filesystem) load() error {
	buf, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading: %w", err)
	}

	err = json.Unmarshal(buf, &f.records)
	if err != nil {
		return fmt.Errorf("unmarshalling: %w", err)
	}

	return nil
}

// Written to a temp file and renamed into place.
func (f *Filesystem) save() error {
	buf, err := json.Marshal(f.records)
	if err != nil {
		return fmt.Errorf("marshalling: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.Path), filepath.Base(f.Path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return fmt.Errorf("writing: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing: %w", err)
	}

	return os.Rename(tmp.Name(), f.Path)
}
