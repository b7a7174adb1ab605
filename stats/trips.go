package stats

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"github.com/paulmach/orb/planar"
	"golang.org/x/sync/errgroup"

	gtfs "tidbyt.dev/gtfsstats"
	"tidbyt.dev/gtfsstats/gtfstime"
	"tidbyt.dev/gtfsstats/logging"
	"tidbyt.dev/gtfsstats/metrics"
	"tidbyt.dev/gtfsstats/model"
)

const (
	DefaultLoopThreshold = 400.0
	DefaultDistanceSlack = 100.0
)

type TripStatsOptions struct {
	// Restricts the result to trips on these routes. Nil means
	// all routes.
	RouteIDs []string

	// Compute distances from shapes even if stop times carry
	// shape_dist_traveled.
	ComputeDistFromShapes bool

	// Max distance in meters between first and last stop for a
	// trip to count as a loop.
	LoopThreshold float64

	// Meters a projected trip distance may exceed its shape's
	// length before the shape length is used instead.
	DistanceSlack float64

	Workers int
	Logger  *slog.Logger
	Metrics *metrics.Collector
}

func (o TripStatsOptions) withDefaults() TripStatsOptions {
	if o.LoopThreshold <= 0 {
		o.LoopThreshold = DefaultLoopThreshold
	}
	if o.DistanceSlack <= 0 {
		o.DistanceSlack = DefaultDistanceSlack
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	return o
}

// TripStats describes a single trip. Distance is in the feed's
// unit, duration in hours and speed in distance units per hour.
type TripStats struct {
	TripID         string          `csv:"trip_id" json:"trip_id"`
	RouteID        string          `csv:"route_id" json:"route_id"`
	RouteShortName string          `csv:"route_short_name" json:"route_short_name"`
	RouteType      model.RouteType `csv:"route_type" json:"route_type"`
	DirectionID    *int8           `csv:"direction_id" json:"direction_id"`
	ShapeID        string          `csv:"shape_id" json:"shape_id"`
	NumStops       int             `csv:"num_stops" json:"num_stops"`
	StartTime      *gtfstime.Time  `csv:"start_time" json:"start_time"`
	EndTime        *gtfstime.Time  `csv:"end_time" json:"end_time"`
	StartStopID    string          `csv:"start_stop_id" json:"start_stop_id"`
	EndStopID      string          `csv:"end_stop_id" json:"end_stop_id"`
	IsLoop         bool            `csv:"is_loop" json:"is_loop"`
	Distance       *float64        `csv:"distance" json:"distance"`
	Duration       *float64        `csv:"duration" json:"duration"`
	Speed          *float64        `csv:"speed" json:"speed"`
}

// ComputeTripStats computes stats for every trip with stop times.
// Rows are ordered by route_id, direction_id and start_time.
//
// Problems with individual trips are collected in the returned
// Report. The error is only non-nil if ctx is cancelled.
func ComputeTripStats(ctx context.Context, feed *gtfs.Feed, opts TripStatsOptions) ([]TripStats, *Report, error) {
	opts = opts.withDefaults()
	defer opts.Metrics.ObserveDuration("trip_stats", time.Now())

	report := newReport(opts.Logger, opts.Metrics)

	var routeFilter map[string]bool
	if opts.RouteIDs != nil {
		routeFilter = make(map[string]bool, len(opts.RouteIDs))
		for _, id := range opts.RouteIDs {
			routeFilter[id] = true
		}
	}

	trips := []model.Trip{}
	for _, t := range feed.Trips() {
		if routeFilter != nil && !routeFilter[t.RouteID] {
			continue
		}
		if len(feed.StopTimes(t.ID)) == 0 {
			continue
		}
		trips = append(trips, t)
	}

	useDistTraveled := feed.HasShapeDistTraveled() && !opts.ComputeDistFromShapes

	rows := make([]TripStats, len(trips))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i := range trips {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rows[i] = tripStats(feed, trips[i], useDistTraveled, opts, report)
			opts.Metrics.TripProcessed()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("computing trip stats: %w", err)
	}

	SortTripStats(rows)

	logging.LogOperation(opts.Logger, "trip_stats_computed",
		slog.Int("num_trips", len(rows)),
		slog.Int("num_issues", report.Len()),
	)

	return rows, report, nil
}

// SortTripStats orders rows by route_id, direction_id and
// start_time, with nulls first, then trip_id.
func SortTripStats(rows []TripStats) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.RouteID != b.RouteID {
			return a.RouteID < b.RouteID
		}
		if c := compareInt8(a.DirectionID, b.DirectionID); c != 0 {
			return c < 0
		}
		if c := compareTime(a.StartTime, b.StartTime); c != 0 {
			return c < 0
		}
		return a.TripID < b.TripID
	})
}

func compareInt8(a, b *int8) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return int(*a) - int(*b)
}

func compareTime(a, b *gtfstime.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return int(*a) - int(*b)
}

// The departure of a stop time, or its arrival if departure is
// blank.
func stopTimeTime(st model.StopTime) *int {
	if st.Departure != nil {
		return st.Departure
	}
	return st.Arrival
}

func tripStats(
	feed *gtfs.Feed,
	trip model.Trip,
	useDistTraveled bool,
	opts TripStatsOptions,
	report *Report,
) TripStats {
	stopTimes := feed.StopTimes(trip.ID)
	first, last := stopTimes[0], stopTimes[len(stopTimes)-1]

	route, _ := feed.Route(trip.RouteID)
	row := TripStats{
		TripID:         trip.ID,
		RouteID:        trip.RouteID,
		RouteShortName: route.ShortName,
		RouteType:      route.Type,
		DirectionID:    trip.DirectionID,
		ShapeID:        trip.ShapeID,
		NumStops:       len(stopTimes),
		StartStopID:    first.StopID,
		EndStopID:      last.StopID,
	}

	if t := stopTimeTime(first); t != nil {
		row.StartTime = gtfstime.NewTime(*t)
	}
	if t := stopTimeTime(last); t != nil {
		row.EndTime = gtfstime.NewTime(*t)
	}

	prev := -1
	for _, st := range stopTimes {
		if st.Departure == nil {
			continue
		}
		if *st.Departure < prev {
			report.add(&DataQualityWarning{
				TripID: trip.ID,
				Kind:   WarningNonMonotonicTimes,
				Detail: fmt.Sprintf("departure decreases at stop_sequence %d", st.StopSequence),
			})
			break
		}
		prev = *st.Departure
	}

	if row.StartTime != nil && row.EndTime != nil {
		d := float64(*row.EndTime-*row.StartTime) / gtfstime.SecondsPerHour
		row.Duration = &d
		if d < 0 {
			report.add(&DataQualityWarning{
				TripID: trip.ID,
				Kind:   WarningNegativeDuration,
				Detail: fmt.Sprintf("ends at %s, before start at %s", row.EndTime, row.StartTime),
			})
		}
	}

	geom := feed.Geometry()
	startPt, startOK := geom.Stop(first.StopID, true)
	endPt, endOK := geom.Stop(last.StopID, true)
	if startOK && endOK {
		row.IsLoop = planar.Distance(startPt, endPt) < opts.LoopThreshold
	}

	if useDistTraveled {
		row.Distance = maxDistTraveled(stopTimes)
	}
	if row.Distance == nil && trip.ShapeID != "" {
		meters, ok := geom.TravelDistance(trip.ShapeID, startPt, endPt, opts.DistanceSlack)
		if ok && startOK && endOK {
			d := feed.Unit().FromMeters(meters)
			row.Distance = &d
		} else {
			report.add(&MissingGeometryError{TripID: trip.ID, ShapeID: trip.ShapeID})
		}
	}

	if row.Distance != nil && row.Duration != nil && *row.Duration != 0 {
		s := *row.Distance / *row.Duration
		row.Speed = &s
	}

	return row
}

func maxDistTraveled(stopTimes []model.StopTime) *float64 {
	var max *float64
	for _, st := range stopTimes {
		if st.ShapeDistTraveled == nil {
			continue
		}
		if max == nil || *st.ShapeDistTraveled > *max {
			d := *st.ShapeDistTraveled
			max = &d
		}
	}
	return max
}
