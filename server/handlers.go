package server

import (
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/paulmach/orb/planar"

	"tidbyt.dev/gtfsstats/geometry"
	"tidbyt.dev/gtfsstats/gtfstime"
	"tidbyt.dev/gtfsstats/stats"
)

type healthResponse struct {
	Status   string `json:"status"`
	FeedHash string `json:"feed_hash,omitempty"`
	FeedURL  string `json:"feed_url,omitempty"`
	NumTrips int    `json:"num_trips"`
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	feed, err := s.currentFeed()
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, r, healthResponse{
		Status:   "ok",
		FeedHash: feed.Metadata.Hash,
		FeedURL:  feed.Metadata.URL,
		NumTrips: len(feed.Trips()),
	})
}

// GET /trips/stats?route_id=a,b
func (s *Server) tripStatsHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	feed, err := s.currentFeed()
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	rows, err := s.tripStatsFor(r.Context(), feed)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	routeIDs := queryList(r, "route_id")
	if routeIDs == nil {
		s.sendJSON(w, r, rows)
		return
	}
	keep := map[string]bool{}
	for _, id := range routeIDs {
		keep[id] = true
	}
	filtered := []stats.TripStats{}
	for _, row := range rows {
		if keep[row.RouteID] {
			filtered = append(filtered, row)
		}
	}
	s.sendJSON(w, r, filtered)
}

type activityResponse struct {
	Dates []string            `json:"dates"`
	Trips []stats.ActivityRow `json:"trips"`
}

// GET /trips/activity?dates=20240101,20240102
func (s *Server) tripActivityHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	feed, err := s.currentFeed()
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	dates, err := queryDates(r, feed)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	activity := stats.ComputeTripActivity(feed, queryList(r, "trip_id"), dates)
	s.sendJSON(w, r, activityResponse{
		Dates: gtfstime.DateStrings(dates),
		Trips: activity.Rows(),
	})
}

// GET /trips/locations?date=20240101&times=08:00:00,08:05:00
func (s *Server) tripLocationsHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	feed, err := s.currentFeed()
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	date, err := gtfstime.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		s.sendError(w, r, badRequest("date: %s", err))
		return
	}
	times := []int{}
	for _, raw := range queryList(r, "times") {
		t, err := gtfstime.ParseTime(raw)
		if err != nil {
			s.sendError(w, r, badRequest("times: %s", err))
			return
		}
		times = append(times, t)
	}

	positions, err := stats.LocateTrips(feed, date, times)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, r, positions)
}

// GET /routes/stats?dates=...&split=true&by_date=true
func (s *Server) routeStatsHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	feed, err := s.currentFeed()
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	dates, err := queryDates(r, feed)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	split, err := queryBool(r, "split")
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	byDate, err := queryBool(r, "by_date")
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	tripStats, err := s.tripStatsFor(r.Context(), feed)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	opts := stats.RouteStatsOptions{
		SplitDirections: split,
		HeadwayStart:    s.opts.HeadwayStart,
		HeadwayEnd:      s.opts.HeadwayEnd,
		Logger:          s.opts.Logger,
		Metrics:         s.opts.Metrics,
	}

	if byDate {
		rows, err := stats.ComputeRouteStatsByDate(feed, tripStats, dates, opts)
		if err != nil {
			s.sendError(w, r, err)
			return
		}
		s.sendJSON(w, r, rows)
		return
	}

	rows, err := stats.ComputeRouteStats(feed, tripStats, dates, opts)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, r, rows)
}

func (s *Server) queryFreq(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("freq")
	if raw == "" {
		return s.opts.Freq, nil
	}
	freq, err := strconv.Atoi(raw)
	if err != nil || freq <= 0 || gtfstime.MinutesPerDay%freq != 0 {
		return 0, badRequest("freq: '%s' is not a divisor of 1440", raw)
	}
	return freq, nil
}

type timeSeriesResponse struct {
	Freq       int                     `json:"freq"`
	Keys       []string                `json:"keys"`
	Indicators []string                `json:"indicators"`
	Points     []stats.TimeSeriesPoint `json:"points"`
}

func newTimeSeriesResponse(ts *stats.TimeSeries) timeSeriesResponse {
	return timeSeriesResponse{
		Freq:       ts.Freq,
		Keys:       ts.Keys,
		Indicators: ts.Indicators,
		Points:     ts.Points(),
	}
}

// GET /routes/timeseries?dates=...&split=true&freq=60
func (s *Server) routeTimeSeriesHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	feed, err := s.currentFeed()
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	dates, err := queryDates(r, feed)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	split, err := queryBool(r, "split")
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	freq, err := s.queryFreq(r)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	tripStats, err := s.tripStatsFor(r.Context(), feed)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	ts, err := stats.ComputeRouteTimeSeries(feed, tripStats, dates, stats.TimeSeriesOptions{
		Freq:            freq,
		SplitDirections: split,
		Logger:          s.opts.Logger,
		Metrics:         s.opts.Metrics,
	})
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, r, newTimeSeriesResponse(ts))
}

// GET /stops/stats?dates=...&split=true&stop_id=a,b
func (s *Server) stopStatsHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	feed, err := s.currentFeed()
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	dates, err := queryDates(r, feed)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	split, err := queryBool(r, "split")
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	rows, err := stats.ComputeStopStats(feed, dates, stats.StopStatsOptions{
		StopIDs:         queryList(r, "stop_id"),
		SplitDirections: split,
		HeadwayStart:    s.opts.HeadwayStart,
		HeadwayEnd:      s.opts.HeadwayEnd,
		Logger:          s.opts.Logger,
		Metrics:         s.opts.Metrics,
	})
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, r, rows)
}

// GET /stops/timeseries?dates=...&stop_id=a,b&freq=60
func (s *Server) stopTimeSeriesHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	feed, err := s.currentFeed()
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	dates, err := queryDates(r, feed)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	split, err := queryBool(r, "split")
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	freq, err := s.queryFreq(r)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	ts, err := stats.ComputeStopTimeSeries(feed, dates, queryList(r, "stop_id"), stats.TimeSeriesOptions{
		Freq:            freq,
		SplitDirections: split,
		Logger:          s.opts.Logger,
		Metrics:         s.opts.Metrics,
	})
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, r, newTimeSeriesResponse(ts))
}

type busiestDateResponse struct {
	Date string `json:"date"`
}

// GET /dates/busiest?dates=...
func (s *Server) busiestDateHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	feed, err := s.currentFeed()
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	dates, err := queryDates(r, feed)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	if r.URL.Query().Get("dates") == "" {
		dates = feed.Dates()
	}

	date, err := stats.BusiestDate(feed, dates)
	if err != nil {
		s.sendError(w, r, badRequest("%s", err))
		return
	}
	s.sendJSON(w, r, busiestDateResponse{Date: date.String()})
}

type shapeResponse struct {
	ShapeID   string  `json:"shape_id"`
	Polyline  string  `json:"polyline"`
	NumPoints int     `json:"num_points"`
	Length    float64 `json:"length"`
	Unit      string  `json:"unit"`
	IsSimple  bool    `json:"is_simple"`
}

// GET /shapes/:id
func (s *Server) shapeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	feed, err := s.currentFeed()
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	id := ps.ByName("id")
	shape, found := feed.Shape(id)
	if !found {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"shape not found"}` + "\n"))
		return
	}

	projected, _ := feed.Geometry().Shape(id, true)
	s.sendJSON(w, r, shapeResponse{
		ShapeID:   id,
		Polyline:  geometry.EncodePolyline(shape),
		NumPoints: len(shape),
		Length:    feed.Unit().FromMeters(planar.Length(projected)),
		Unit:      string(feed.Unit()),
		IsSimple:  feed.Geometry().IsSimple(id),
	})
}
