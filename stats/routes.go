package stats

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	gtfs "tidbyt.dev/gtfsstats"
	"tidbyt.dev/gtfsstats/gtfstime"
	"tidbyt.dev/gtfsstats/logging"
	"tidbyt.dev/gtfsstats/metrics"
	"tidbyt.dev/gtfsstats/model"
)

const (
	DefaultHeadwayStart = 7 * gtfstime.SecondsPerHour
	DefaultHeadwayEnd   = 19 * gtfstime.SecondsPerHour
)

type RouteStatsOptions struct {
	// Group by direction_id as well as route_id.
	SplitDirections bool

	// Headways are computed from trips starting within
	// [HeadwayStart, HeadwayEnd], in seconds past midnight. If
	// both are zero, 07:00:00 to 19:00:00 is used.
	HeadwayStart int
	HeadwayEnd   int

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

func headwayWindow(start, end int) (int, int, error) {
	if start == 0 && end == 0 {
		return DefaultHeadwayStart, DefaultHeadwayEnd, nil
	}
	if start < 0 || end < start {
		return 0, 0, fmt.Errorf("invalid headway window %s-%s", gtfstime.FormatTime(start), gtfstime.FormatTime(end))
	}
	return start, end, nil
}

// RouteStats aggregates the trips of a route, or of one direction
// of a route, over a set of dates. Counts and service totals are
// daily averages. Headways are in seconds.
//
// Routes whose trips run on none of the dates get a row with zero
// counts and null statistics.
type RouteStats struct {
	RouteID          string          `json:"route_id"`
	RouteShortName   string          `json:"route_short_name"`
	RouteType        model.RouteType `json:"route_type"`
	DirectionID      *int8           `json:"direction_id,omitempty"`
	NumTrips         float64         `json:"num_trips"`
	NumTripStarts    float64         `json:"num_trip_starts"`
	NumTripEnds      float64         `json:"num_trip_ends"`
	IsBidirectional  bool            `json:"is_bidirectional"`
	IsLoop           bool            `json:"is_loop"`
	StartTime        *gtfstime.Time  `json:"start_time"`
	EndTime          *gtfstime.Time  `json:"end_time"`
	MaxHeadway       *int            `json:"max_headway"`
	MinHeadway       *int            `json:"min_headway"`
	MeanHeadway      *int            `json:"mean_headway"`
	PeakNumTrips     *float64        `json:"peak_num_trips"`
	PeakStartTime    *gtfstime.Time  `json:"peak_start_time"`
	PeakEndTime      *gtfstime.Time  `json:"peak_end_time"`
	ServiceDuration  *float64        `json:"service_duration"`
	ServiceDistance  *float64        `json:"service_distance"`
	ServiceSpeed     *float64        `json:"service_speed"`
	MeanTripDistance *float64        `json:"mean_trip_distance"`
	MeanTripDuration *float64        `json:"mean_trip_duration"`
}

var routeStatsColumns = []string{
	"route_id", "route_short_name", "route_type", "direction_id",
	"num_trips", "num_trip_starts", "num_trip_ends",
	"is_bidirectional", "is_loop", "start_time", "end_time",
	"max_headway", "min_headway", "mean_headway",
	"peak_num_trips", "peak_start_time", "peak_end_time",
	"service_duration", "service_distance", "service_speed",
	"mean_trip_distance", "mean_trip_duration",
}

// RouteStatsColumns is the column schema of route stats. The
// direction_id column is only present when split by direction.
func RouteStatsColumns(split bool) []string {
	if split {
		return append([]string{}, routeStatsColumns...)
	}
	cols := append([]string{}, routeStatsColumns[:3]...)
	return append(cols, routeStatsColumns[4:]...)
}

// Record formats the row according to RouteStatsColumns(split).
// Nulls are empty strings.
func (r RouteStats) Record(split bool) []string {
	rec := []string{r.RouteID, r.RouteShortName, strconv.Itoa(int(r.RouteType))}
	if split {
		rec = append(rec, formatInt8(r.DirectionID))
	}
	return append(rec,
		formatFloat(&r.NumTrips),
		formatFloat(&r.NumTripStarts),
		formatFloat(&r.NumTripEnds),
		strconv.FormatBool(r.IsBidirectional),
		strconv.FormatBool(r.IsLoop),
		formatTime(r.StartTime),
		formatTime(r.EndTime),
		formatInt(r.MaxHeadway),
		formatInt(r.MinHeadway),
		formatInt(r.MeanHeadway),
		formatFloat(r.PeakNumTrips),
		formatTime(r.PeakStartTime),
		formatTime(r.PeakEndTime),
		formatFloat(r.ServiceDuration),
		formatFloat(r.ServiceDistance),
		formatFloat(r.ServiceSpeed),
		formatFloat(r.MeanTripDistance),
		formatFloat(r.MeanTripDuration),
	)
}

type groupKey struct {
	id        string
	direction int8
	hasDir    bool
}

func newGroupKey(id string, direction *int8, split bool) groupKey {
	if !split || direction == nil {
		return groupKey{id: id}
	}
	return groupKey{id: id, direction: *direction, hasDir: true}
}

func (k groupKey) directionID() *int8 {
	if !k.hasDir {
		return nil
	}
	return model.Int8(k.direction)
}

func (k groupKey) less(o groupKey) bool {
	if k.id != o.id {
		return k.id < o.id
	}
	if k.hasDir != o.hasDir {
		return !k.hasDir
	}
	return k.direction < o.direction
}

// weightedTrip is a trip stats row with the number of dates it runs
// on.
type weightedTrip struct {
	*TripStats
	count int
}

// ComputeRouteStats aggregates tripStats by route over the dates.
// A trip's weight is the fraction of the dates it runs on. Trips
// running on none of the dates are ignored, unless no trip runs at
// all, in which case every route gets a null row.
func ComputeRouteStats(
	feed *gtfs.Feed,
	tripStats []TripStats,
	dates []gtfstime.Date,
	opts RouteStatsOptions,
) ([]RouteStats, error) {
	hwStart, hwEnd, err := headwayWindow(opts.HeadwayStart, opts.HeadwayEnd)
	if err != nil {
		return nil, err
	}
	defer opts.Metrics.ObserveDuration("route_stats", time.Now())

	if len(dates) == 0 || len(tripStats) == 0 {
		return []RouteStats{}, nil
	}

	tripIDs := make([]string, len(tripStats))
	for i, ts := range tripStats {
		tripIDs[i] = ts.TripID
	}
	activity := ComputeTripActivity(feed, tripIDs, dates)

	groups := map[groupKey][]weightedTrip{}
	directions := map[string][2]bool{}
	for i := range tripStats {
		ts := &tripStats[i]
		count := activity.Count(ts.TripID)
		if count == 0 {
			continue
		}
		key := newGroupKey(ts.RouteID, ts.DirectionID, opts.SplitDirections)
		groups[key] = append(groups[key], weightedTrip{ts, count})

		if ts.DirectionID != nil && (*ts.DirectionID == 0 || *ts.DirectionID == 1) {
			d := directions[ts.RouteID]
			d[*ts.DirectionID] = true
			directions[ts.RouteID] = d
		}
	}

	if len(groups) == 0 {
		logging.LogOperation(opts.Logger, "route_stats_computed",
			slog.Int("num_routes", 0),
			slog.String("note", "no active trips"),
		)
		return nullRouteStats(tripStats, opts.SplitDirections), nil
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })

	rows := make([]RouteStats, 0, len(keys))
	for _, key := range keys {
		row := routeStats(groups[key], activity, hwStart, hwEnd)
		row.DirectionID = key.directionID()
		d := directions[key.id]
		row.IsBidirectional = d[0] && d[1]
		rows = append(rows, row)
	}

	logging.LogOperation(opts.Logger, "route_stats_computed",
		slog.Int("num_routes", len(rows)),
		slog.Int("num_dates", len(dates)),
	)

	return rows, nil
}

func nullRouteStats(tripStats []TripStats, split bool) []RouteStats {
	seen := map[groupKey]RouteStats{}
	for _, ts := range tripStats {
		key := newGroupKey(ts.RouteID, ts.DirectionID, split)
		if _, found := seen[key]; found {
			continue
		}
		seen[key] = RouteStats{
			RouteID:        ts.RouteID,
			RouteShortName: ts.RouteShortName,
			RouteType:      ts.RouteType,
			DirectionID:    key.directionID(),
		}
	}

	keys := make([]groupKey, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })

	rows := make([]RouteStats, len(keys))
	for i, k := range keys {
		rows[i] = seen[k]
	}
	return rows
}

func routeStats(trips []weightedTrip, activity *Activity, hwStart, hwEnd int) RouteStats {
	n := float64(len(activity.Dates))
	first := trips[0]

	row := RouteStats{
		RouteID:        first.RouteID,
		RouteShortName: first.RouteShortName,
		RouteType:      first.RouteType,
	}

	total, starts, ends := 0, 0, 0
	var duration, distance float64
	hasDuration, hasDistance := false, false
	spans := []span{}
	startsByDate := make([][]int, len(activity.Dates))

	for _, t := range trips {
		total += t.count
		row.IsLoop = row.IsLoop || t.IsLoop

		if t.StartTime != nil {
			starts += t.count
			if row.StartTime == nil || *t.StartTime < *row.StartTime {
				row.StartTime = gtfstime.NewTime(int(*t.StartTime))
			}
			for i := range activity.Dates {
				if activity.IsActive(t.TripID, i) {
					startsByDate[i] = append(startsByDate[i], int(*t.StartTime))
				}
			}
		}
		if t.EndTime != nil {
			if *t.EndTime < gtfstime.SecondsPerDay {
				ends += t.count
			}
			if row.EndTime == nil || *t.EndTime > *row.EndTime {
				row.EndTime = gtfstime.NewTime(int(*t.EndTime))
			}
		}
		if t.StartTime != nil && t.EndTime != nil {
			spans = append(spans, span{int(*t.StartTime), int(*t.EndTime), t.count})
		}
		if t.Duration != nil {
			duration += *t.Duration * float64(t.count)
			hasDuration = true
		}
		if t.Distance != nil {
			distance += *t.Distance * float64(t.count)
			hasDistance = true
		}
	}

	row.NumTrips = float64(total) / n
	row.NumTripStarts = float64(starts) / n
	row.NumTripEnds = float64(ends) / n

	if h, ok := computeHeadways(startsByDate, hwStart, hwEnd); ok {
		row.MaxHeadway = &h.max
		row.MinHeadway = &h.min
		row.MeanHeadway = &h.mean
	}

	if p, ok := findPeak(spans); ok {
		count := float64(p.count) / n
		row.PeakNumTrips = &count
		row.PeakStartTime = gtfstime.NewTime(p.start)
		row.PeakEndTime = gtfstime.NewTime(p.end)
	} else {
		zero := 0.0
		row.PeakNumTrips = &zero
	}

	if hasDuration {
		d := duration / n
		row.ServiceDuration = &d
		mean := d / row.NumTrips
		row.MeanTripDuration = &mean
	}
	if hasDistance {
		d := distance / n
		row.ServiceDistance = &d
		mean := d / row.NumTrips
		row.MeanTripDistance = &mean
	}
	if hasDuration && hasDistance && *row.ServiceDuration != 0 {
		s := *row.ServiceDistance / *row.ServiceDuration
		row.ServiceSpeed = &s
	}

	return row
}

// RouteStatsByDate is a row of route stats for a single date.
type RouteStatsByDate struct {
	Date string `json:"date"`
	RouteStats
}

// RouteStatsByDateColumns is RouteStatsColumns prefixed by date.
func RouteStatsByDateColumns(split bool) []string {
	return append([]string{"date"}, RouteStatsColumns(split)...)
}

func (r RouteStatsByDate) Record(split bool) []string {
	return append([]string{r.Date}, r.RouteStats.Record(split)...)
}

// ComputeRouteStatsByDate computes route stats separately for each
// date, in the given order.
func ComputeRouteStatsByDate(
	feed *gtfs.Feed,
	tripStats []TripStats,
	dates []gtfstime.Date,
	opts RouteStatsOptions,
) ([]RouteStatsByDate, error) {
	rows := []RouteStatsByDate{}
	for _, d := range dates {
		dayRows, err := ComputeRouteStats(feed, tripStats, []gtfstime.Date{d}, opts)
		if err != nil {
			return nil, err
		}
		for _, r := range dayRows {
			rows = append(rows, RouteStatsByDate{Date: d.String(), RouteStats: r})
		}
	}
	return rows, nil
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatInt8(v *int8) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(int(*v))
}

func formatTime(v *gtfstime.Time) string {
	if v == nil {
		return ""
	}
	return v.String()
}
