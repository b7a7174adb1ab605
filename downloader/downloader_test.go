package downloader_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/gtfsstats/downloader"
)

func countingServer(t *testing.T, body string) (*httptest.Server, *int32) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Header.Get("X-Key") != "secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func TestHTTPGet(t *testing.T) {
	server, _ := countingServer(t, "0123456789")
	headers := map[string]string{"X-Key": "secret"}

	body, err := downloader.HTTPGet(context.Background(), server.URL, headers, downloader.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(body))

	body, err = downloader.HTTPGet(context.Background(), server.URL, headers, downloader.GetOptions{MaxSize: 10})
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(body))

	_, err = downloader.HTTPGet(context.Background(), server.URL, headers, downloader.GetOptions{MaxSize: 4})
	assert.ErrorIs(t, err, downloader.ErrTooLarge)

	_, err = downloader.HTTPGet(context.Background(), server.URL, nil, downloader.GetOptions{})
	assert.ErrorContains(t, err, "status 403")
	var statusErr *downloader.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
}

func TestMemoryDownloaderCache(t *testing.T) {
	server, hits := countingServer(t, "feed")
	headers := map[string]string{"X-Key": "secret"}

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d := downloader.NewMemoryDownloader()
	d.TimeNow = func() time.Time { return now }

	opts := downloader.GetOptions{Cache: true, CacheTTL: time.Minute}
	for i := 0; i < 3; i++ {
		body, err := d.Get(context.Background(), server.URL, headers, opts)
		require.NoError(t, err)
		assert.Equal(t, "feed", string(body))
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))

	now = now.Add(2 * time.Minute)
	_, err := d.Get(context.Background(), server.URL, headers, opts)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))

	// Uncached requests always hit the server
	_, err = d.Get(context.Background(), server.URL, headers, downloader.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(hits))

	// Headers are part of the cache key
	_, err = d.Get(context.Background(), server.URL, nil, opts)
	assert.ErrorContains(t, err, "status 403")
	assert.Equal(t, int32(4), atomic.LoadInt32(hits))

	d.Purge()
	_, err = d.Get(context.Background(), server.URL, headers, opts)
	require.NoError(t, err)
	assert.Equal(t, int32(5), atomic.LoadInt32(hits))
}

func TestFilesystemCache(t *testing.T) {
	server, hits := countingServer(t, "feed")
	headers := map[string]string{"X-Key": "secret"}
	path := filepath.Join(t.TempDir(), "cache.json")

	fs, err := downloader.NewFilesystem(path)
	require.NoError(t, err)

	opts := downloader.GetOptions{Cache: true, CacheTTL: time.Hour}
	body, err := fs.Get(context.Background(), server.URL, headers, opts)
	require.NoError(t, err)
	assert.Equal(t, "feed", string(body))

	// A new instance reads the cache from disk
	fs, err = downloader.NewFilesystem(path)
	require.NoError(t, err)
	body, err = fs.Get(context.Background(), server.URL, headers, opts)
	require.NoError(t, err)
	assert.Equal(t, "feed", string(body))
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))

	// Expired
	fs.TimeNow = func() time.Time { return time.Now().Add(2 * time.Hour) }
	body, err = fs.Get(context.Background(), server.URL, headers, opts)
	require.NoError(t, err)
	assert.Equal(t, "feed", string(body))
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))
}
