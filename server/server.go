// Package server serves feed statistics as JSON over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/julienschmidt/httprouter"

	gtfs "tidbyt.dev/gtfsstats"
	"tidbyt.dev/gtfsstats/gtfstime"
	"tidbyt.dev/gtfsstats/logging"
	"tidbyt.dev/gtfsstats/metrics"
	"tidbyt.dev/gtfsstats/stats"
)

type Options struct {
	TripStats    stats.TripStatsOptions
	HeadwayStart int
	HeadwayEnd   int

	// Default time series bin width, in minutes.
	Freq int

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// Server answers stats queries against the current feed. The feed
// can be swapped at any time with SetFeed.
type Server struct {
	opts Options
	feed atomic.Pointer[gtfs.Feed]

	mutex     sync.Mutex
	statsFeed *gtfs.Feed
	tripStats []stats.TripStats
}

func New(feed *gtfs.Feed, opts Options) *Server {
	if opts.Freq <= 0 {
		opts.Freq = 60
	}
	opts.TripStats.Logger = opts.Logger
	opts.TripStats.Metrics = opts.Metrics

	s := &Server{opts: opts}
	s.feed.Store(feed)
	return s
}

// SetFeed replaces the feed served.
func (s *Server) SetFeed(feed *gtfs.Feed) {
	s.feed.Store(feed)
}

func (s *Server) Handler() http.Handler {
	router := httprouter.New()

	router.GET("/healthz", s.wrap("healthz", s.healthzHandler))
	router.GET("/trips/stats", s.wrap("trip_stats", s.tripStatsHandler))
	router.GET("/trips/activity", s.wrap("trip_activity", s.tripActivityHandler))
	router.GET("/trips/locations", s.wrap("trip_locations", s.tripLocationsHandler))
	router.GET("/routes/stats", s.wrap("route_stats", s.routeStatsHandler))
	router.GET("/routes/timeseries", s.wrap("route_timeseries", s.routeTimeSeriesHandler))
	router.GET("/stops/stats", s.wrap("stop_stats", s.stopStatsHandler))
	router.GET("/stops/timeseries", s.wrap("stop_timeseries", s.stopTimeSeriesHandler))
	router.GET("/dates/busiest", s.wrap("busiest_date", s.busiestDateHandler))
	router.GET("/shapes/:id", s.wrap("shape", s.shapeHandler))

	if s.opts.Metrics != nil {
		router.Handler(http.MethodGet, "/metrics", s.opts.Metrics.Handler())
	}

	return router
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) wrap(name string, handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		handler(rec, r.WithContext(logging.WithLogger(r.Context(), s.opts.Logger)), ps)

		s.opts.Metrics.HTTPRequest(name, strconv.Itoa(rec.status))
		logging.LogHTTPRequest(s.opts.Logger, r.Method, r.URL.Path, rec.status, time.Since(start))
	}
}

// errBadRequest marks errors caused by the request.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func (s *Server) sendJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.LogError(logging.FromContext(r.Context()), "encoding response", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, gtfs.ErrNoFeed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, stats.ErrNoShapeDistTraveled):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		logging.LogError(logging.FromContext(r.Context()), "request failed", err,
			slog.String("path", r.URL.Path),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func (s *Server) currentFeed() (*gtfs.Feed, error) {
	feed := s.feed.Load()
	if feed == nil {
		return nil, gtfs.ErrNoFeed
	}
	return feed, nil
}

// tripStatsFor computes trip stats for all routes once per feed.
func (s *Server) tripStatsFor(ctx context.Context, feed *gtfs.Feed) ([]stats.TripStats, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.statsFeed == feed {
		return s.tripStats, nil
	}

	opts := s.opts.TripStats
	opts.RouteIDs = nil
	rows, _, err := stats.ComputeTripStats(ctx, feed, opts)
	if err != nil {
		return nil, err
	}
	s.statsFeed = feed
	s.tripStats = rows
	return rows, nil
}

// Query parameter helpers.

// queryDates parses the comma separated "dates" parameter. Defaults to
// the first week of the feed.
func queryDates(r *http.Request, feed *gtfs.Feed) ([]gtfstime.Date, error) {
	raw := r.URL.Query().Get("dates")
	if raw == "" {
		return feed.FirstWeek(), nil
	}
	dates, err := gtfstime.ParseDates(strings.Split(raw, ",")...)
	if err != nil {
		return nil, badRequest("dates: %s", err)
	}
	return dates, nil
}

func queryBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, badRequest("%s: '%s' is not a boolean", name, raw)
	}
	return b, nil
}

// queryList returns nil when the parameter is absent.
func queryList(r *http.Request, name string) []string {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}
