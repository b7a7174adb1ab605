package downloader

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// MemoryDownloader caches feeds in memory. Concurrent requests for
// the same URL and headers share a single download.
type MemoryDownloader struct {
	TimeNow func() time.Time

	mutex sync.Mutex
	cache map[string]memoryEntry
	group singleflight.Group
}

func NewMemoryDownloader() *MemoryDownloader {
	return &MemoryDownloader{
		TimeNow: time.Now,
		cache:   map[string]memoryEntry{},
	}
}

type memoryEntry struct {
	body    []byte
	expires time.Time
}

func (d *MemoryDownloader) Get(
	ctx context.Context,
	url string,
	headers map[string]string,
	options GetOptions,
) ([]byte, error) {
	key := cacheKey(url, headers)

	if options.Cache {
		if body, ok := d.lookup(key); ok {
			return body, nil
		}
	}

	v, err, _ := d.group.Do(key, func() (interface{}, error) {
		body, err := HTTPGet(ctx, url, headers, options)
		if err != nil {
			return nil, err
		}
		if options.Cache {
			d.mutex.Lock()
			d.cache[key] = memoryEntry{
				body:    body,
				expires: d.TimeNow().Add(options.CacheTTL),
			}
			d.mutex.Unlock()
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}

	return v.([]byte), nil
}

func (d *MemoryDownloader) lookup(key string) ([]byte, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	entry, ok := d.cache[key]
	if !ok {
		return nil, false
	}
	if !entry.expires.After(d.TimeNow()) {
		delete(d.cache, key)
		return nil, false
	}
	return entry.body, true
}

// Purge drops all cached feeds.
func (d *MemoryDownloader) Purge() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.cache = map[string]memoryEntry{}
}
