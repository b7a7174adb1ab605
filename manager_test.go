package gtfs

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/gtfsstats/metrics"
	"tidbyt.dev/gtfsstats/storage"
)

type MockGTFSServer struct {
	Feeds    map[string][]byte
	Requests []string
	Headers  []http.Header
	Server   *httptest.Server

	mutex sync.Mutex
}

func (m *MockGTFSServer) handler(w http.ResponseWriter, r *http.Request) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.Requests = append(m.Requests, r.URL.Path)
	m.Headers = append(m.Headers, r.Header.Clone())
	if feed, found := m.Feeds[r.URL.Path]; found {
		w.Write(feed)
	} else {
		w.WriteHeader(http.StatusNotFound)
	}
}

func managerFixture() *MockGTFSServer {
	m := &MockGTFSServer{
		Feeds:    map[string][]byte{},
		Requests: []string{},
	}

	m.Server = httptest.NewServer(http.HandlerFunc(m.handler))

	return m
}

func validFeed() map[string][]string {
	return map[string][]string{
		"agency.txt": []string{
			"agency_timezone,agency_name,agency_url",
			"America/Los_Angeles,Fake Agency,http://agency/index.html",
		},
		"routes.txt": []string{
			"route_id,route_short_name,route_type",
			"r,R,3",
		},
		"calendar.txt": []string{
			"service_id,monday,start_date,end_date",
			"mondays,1,20190101,20190301",
		},
		"calendar_dates.txt": []string{
			"service_id,date,exception_type",
			"mondays,20190302,1",
		},
		"trips.txt": []string{
			"route_id,service_id,trip_id",
			"r,mondays,t",
		},
		"stops.txt": []string{
			"stop_id,stop_name,stop_lat,stop_lon",
			"s,S,12,34",
		},
		"stop_times.txt": []string{
			"trip_id,arrival_time,departure_time,stop_id,stop_sequence",
			"t,12:00:00,12:00:00,s,1",
		},
	}
}

// validFeed, with the single stop renamed.
func validFeedWithStop(stopID string) map[string][]string {
	files := validFeed()
	files["stops.txt"] = []string{
		"stop_id,stop_name,stop_lat,stop_lon",
		stopID + ",S,12,34",
	}
	files["stop_times.txt"] = []string{
		"trip_id,arrival_time,departure_time,stop_id,stop_sequence",
		"t,12:00:00,12:00:00," + stopID + ",1",
	}
	return files
}

func buildZip(t *testing.T, files map[string][]string) []byte {
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for filename, content := range files {
		f, err := w.Create(filename)
		require.NoError(t, err)
		_, err = f.Write([]byte(strings.Join(content, "\n")))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	return buf.Bytes()
}

func TestManagerLoadSingleFeed(t *testing.T) {
	server := managerFixture()
	defer server.Server.Close()

	server.Feeds["/static.zip"] = buildZip(t, validFeed())

	s := storage.NewMemoryStorage()
	m := NewManager(s)

	feed, err := m.LoadURL(
		context.Background(),
		server.Server.URL+"/static.zip",
		map[string]string{"X-Api-Key": "secret"},
	)
	require.NoError(t, err)

	// feed loaded and serves data
	stop, found := feed.Stop("s")
	require.True(t, found)
	assert.Equal(t, "S", stop.Name)
	assert.Equal(t, "America/Los_Angeles", feed.Metadata.Timezone)
	assert.Equal(t, "20190101", feed.Metadata.CalendarStartDate)
	assert.Equal(t, "20190302", feed.Metadata.CalendarEndDate)
	assert.Equal(t, server.Server.URL+"/static.zip", feed.Metadata.URL)

	// headers were passed along
	require.Equal(t, 1, len(server.Headers))
	assert.Equal(t, "secret", server.Headers[0].Get("X-Api-Key"))

	// and metadata was recorded
	feeds, err := s.ListFeeds(storage.ListFeedsFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, len(feeds))
	assert.Equal(t, feed.Metadata.Hash, feeds[0].Hash)
	assert.Equal(t, 64, len(feeds[0].Hash))
}

func TestManagerLoadMultipleURLs(t *testing.T) {
	server := managerFixture()
	defer server.Server.Close()

	// Two different feeds, served on different URLs. A third URL
	// serves the same data as the first.
	server.Feeds["/static1.zip"] = buildZip(t, validFeed())
	server.Feeds["/static2.zip"] = buildZip(t, validFeedWithStop("s2"))
	server.Feeds["/static3.zip"] = server.Feeds["/static1.zip"]

	s := storage.NewMemoryStorage()
	m := NewManager(s)
	f1, err := m.LoadURL(context.Background(), server.Server.URL+"/static1.zip", nil)
	require.NoError(t, err)
	f2, err := m.LoadURL(context.Background(), server.Server.URL+"/static2.zip", nil)
	require.NoError(t, err)
	f3, err := m.LoadURL(context.Background(), server.Server.URL+"/static3.zip", nil)
	require.NoError(t, err)

	// And can be read simultaneously
	_, found := f1.Stop("s")
	assert.True(t, found)
	_, found = f2.Stop("s2")
	assert.True(t, found)
	_, found = f3.Stop("s")
	assert.True(t, found)

	// Identical data is stored once, but recorded for both URLs
	assert.Equal(t, f1.Metadata.Hash, f3.Metadata.Hash)
	assert.NotEqual(t, f1.Metadata.Hash, f2.Metadata.Hash)
	feeds, err := s.ListFeeds(storage.ListFeedsFilter{Hash: f1.Metadata.Hash})
	require.NoError(t, err)
	assert.Equal(t, 2, len(feeds))
}

func TestManagerLoadWithRefresh(t *testing.T) {
	server := managerFixture()
	defer server.Server.Close()

	feed1Zip := buildZip(t, validFeed())
	feed2Zip := buildZip(t, validFeedWithStop("s2"))

	now := time.Date(2019, 2, 1, 0, 0, 0, 0, time.UTC)

	s := storage.NewMemoryStorage()
	m := NewManager(s)
	m.timeNow = func() time.Time { return now }
	url := server.Server.URL + "/static.zip"

	// Load the first version of the feed
	server.Feeds["/static.zip"] = feed1Zip
	f, err := m.LoadURL(context.Background(), url, nil)
	require.NoError(t, err)
	_, found := f.Stop("s")
	assert.True(t, found)

	// Replace the feed data served. Too little time has passed
	// for the manager to go out and retrieve new data.
	server.Feeds["/static.zip"] = feed2Zip
	now = now.Add(time.Hour)
	f, err = m.LoadURL(context.Background(), url, nil)
	require.NoError(t, err)
	_, found = f.Stop("s")
	assert.True(t, found)
	assert.Equal(t, []string{"/static.zip"}, server.Requests)

	// Past the refresh interval, the new data is retrieved
	now = now.Add(DefaultStaticRefreshInterval)
	f, err = m.LoadURL(context.Background(), url, nil)
	require.NoError(t, err)
	_, found = f.Stop("s2")
	assert.True(t, found)
	assert.Equal(t, []string{"/static.zip", "/static.zip"}, server.Requests)

	feeds, err := s.ListFeeds(storage.ListFeedsFilter{URL: url})
	require.NoError(t, err)
	require.Equal(t, 2, len(feeds))
	assert.Equal(t, f.Metadata.Hash, feeds[0].Hash)

	// The stored version is the most recent one
	f, err = m.LoadStored(url)
	require.NoError(t, err)
	_, found = f.Stop("s2")
	assert.True(t, found)
}

// A broken feed is never recorded in storage, and each load
// attempt retries the download.
func TestManagerBrokenData(t *testing.T) {
	server := managerFixture()
	defer server.Server.Close()

	goodZip := buildZip(t, validFeed())
	badZip := buildZip(t, map[string][]string{"parse": []string{"fail"}})

	server.Feeds["/static.zip"] = badZip

	s, err := storage.NewSQLiteStorage()
	require.NoError(t, err)
	m := NewManager(s)
	url := server.Server.URL + "/static.zip"

	_, err = m.LoadURL(context.Background(), url, nil)
	require.Error(t, err)
	_, err = m.LoadURL(context.Background(), url, nil)
	require.Error(t, err)
	assert.Equal(t, []string{"/static.zip", "/static.zip"}, server.Requests)

	feeds, err := s.ListFeeds(storage.ListFeedsFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, len(feeds))

	// Serve valid data and it gets loaded
	server.Feeds["/static.zip"] = goodZip
	f, err := m.LoadURL(context.Background(), url, nil)
	require.NoError(t, err)
	_, found := f.Stop("s")
	assert.True(t, found)

	feeds, err = s.ListFeeds(storage.ListFeedsFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, len(feeds))
}

func TestManagerMissingFeed(t *testing.T) {
	server := managerFixture()
	defer server.Server.Close()

	m := NewManager(storage.NewMemoryStorage())

	_, err := m.LoadURL(context.Background(), server.Server.URL+"/nope.zip", nil)
	assert.Error(t, err)

	_, err = m.LoadStored(server.Server.URL + "/nope.zip")
	assert.True(t, errors.Is(err, ErrNoFeed))
}

func TestManagerLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.zip")
	require.NoError(t, os.WriteFile(path, buildZip(t, validFeed()), 0644))

	s := storage.NewMemoryStorage()
	m := NewManager(s)
	m.Metrics = metrics.NewCollector()

	f, err := m.LoadFile(path)
	require.NoError(t, err)
	_, found := f.Trip("t")
	assert.True(t, found)
	assert.True(t, strings.HasPrefix(f.Metadata.URL, "file://"))

	// Loading again reuses the parsed data
	f2, err := m.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, f.Metadata.Hash, f2.Metadata.Hash)

	feeds, err := s.ListFeeds(storage.ListFeedsFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, len(feeds))

	// And the stored copy is available by URL
	f3, err := m.LoadStored(f.Metadata.URL)
	require.NoError(t, err)
	assert.Equal(t, f.Metadata.Hash, f3.Metadata.Hash)

	_, err = m.LoadFile(filepath.Join(t.TempDir(), "missing.zip"))
	assert.Error(t, err)
}
