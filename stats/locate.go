package stats

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/paulmach/orb/planar"

	gtfs "tidbyt.dev/gtfsstats"
	"tidbyt.dev/gtfsstats/geometry"
	"tidbyt.dev/gtfsstats/gtfstime"
	"tidbyt.dev/gtfsstats/metrics"
	"tidbyt.dev/gtfsstats/model"
)

// AppendDistToStopTimes returns all stop times of the feed with
// shape_dist_traveled set to the distance of each stop along its
// trip's shape, in the feed's unit. When the shape runs opposite to
// the trip the distances of the trip are reversed. Stop times of
// trips without usable geometry keep their original value.
func AppendDistToStopTimes(feed *gtfs.Feed, logger *slog.Logger, m *metrics.Collector) ([]model.StopTime, *Report) {
	report := newReport(logger, m)
	geom := feed.Geometry()

	out := []model.StopTime{}
	for _, trip := range feed.Trips() {
		stopTimes := feed.StopTimes(trip.ID)
		if len(stopTimes) == 0 {
			continue
		}

		updated := make([]model.StopTime, len(stopTimes))
		copy(updated, stopTimes)
		out = append(out, updated...)
		start := len(out) - len(updated)

		if trip.ShapeID == "" {
			continue
		}
		shape, found := geom.Shape(trip.ShapeID, true)
		if !found {
			report.add(&MissingGeometryError{TripID: trip.ID, ShapeID: trip.ShapeID})
			continue
		}

		dists := make([]float64, len(stopTimes))
		ok := true
		for i, st := range stopTimes {
			p, found := geom.Stop(st.StopID, true)
			if !found {
				report.add(&MissingGeometryError{TripID: trip.ID, StopID: st.StopID})
				ok = false
				break
			}
			dists[i] = math.Round(geometry.Project(shape, p)*100) / 100
		}
		if !ok {
			continue
		}

		if dists[0] > dists[len(dists)-1] {
			for i, j := 0, len(dists)-1; i < j; i, j = i+1, j-1 {
				dists[i], dists[j] = dists[j], dists[i]
			}
		}
		if !sort.Float64sAreSorted(dists) {
			report.add(&DataQualityWarning{
				TripID: trip.ID,
				Kind:   WarningNonMonotonicDist,
				Detail: fmt.Sprintf("stops are not in order along shape '%s'", trip.ShapeID),
			})
		}

		for i, d := range dists {
			v := feed.Unit().FromMeters(d)
			out[start+i].ShapeDistTraveled = &v
		}
	}

	return out, report
}

// TripPosition is the location of a trip at a point in time.
// RelDist is the fraction of the trip's distance covered. Lon and
// Lat are nil for trips without a shape.
type TripPosition struct {
	TripID      string        `csv:"trip_id" json:"trip_id"`
	RouteID     string        `csv:"route_id" json:"route_id"`
	DirectionID *int8         `csv:"direction_id" json:"direction_id"`
	Time        gtfstime.Time `csv:"time" json:"time"`
	RelDist     float64       `csv:"rel_dist" json:"rel_dist"`
	Lon         *float64      `csv:"lon" json:"lon"`
	Lat         *float64      `csv:"lat" json:"lat"`
}

// LocateTrips estimates the position of every trip active on date
// at each of the times (seconds past midnight) falling within the
// trip's first and last departure. Positions are interpolated
// linearly between the trip's departures and shape_dist_traveled
// values.
//
// Returns ErrNoShapeDistTraveled if no stop time has
// shape_dist_traveled; see AppendDistToStopTimes.
func LocateTrips(feed *gtfs.Feed, date gtfstime.Date, times []int) ([]TripPosition, error) {
	if !feed.HasShapeDistTraveled() {
		return nil, ErrNoShapeDistTraveled
	}

	samples := append([]int{}, times...)
	sort.Ints(samples)

	positions := []TripPosition{}
	for _, trip := range ActiveTrips(feed, date, nil) {
		var deps, dists []float64
		for _, st := range feed.StopTimes(trip.ID) {
			if st.Departure == nil || st.ShapeDistTraveled == nil {
				continue
			}
			deps = append(deps, float64(*st.Departure))
			dists = append(dists, *st.ShapeDistTraveled)
		}
		if len(deps) == 0 {
			continue
		}
		sort.Float64s(deps)
		sort.Float64s(dists)
		total := dists[len(dists)-1]

		shape, hasShape := feed.Shape(trip.ShapeID)
		length := 0.0
		if hasShape {
			length = planar.Length(shape)
		}

		for _, t := range samples {
			if float64(t) < deps[0] || float64(t) > deps[len(deps)-1] {
				continue
			}
			pos := TripPosition{
				TripID:      trip.ID,
				RouteID:     trip.RouteID,
				DirectionID: trip.DirectionID,
				Time:        gtfstime.Time(t),
			}
			if total != 0 {
				pos.RelDist = interpolate(float64(t), deps, dists) / total
			}
			if hasShape {
				p := geometry.Interpolate(shape, pos.RelDist*length)
				lon, lat := p.Lon(), p.Lat()
				pos.Lon = &lon
				pos.Lat = &lat
			}
			positions = append(positions, pos)
		}
	}

	sort.SliceStable(positions, func(i, j int) bool {
		if positions[i].TripID != positions[j].TripID {
			return positions[i].TripID < positions[j].TripID
		}
		return positions[i].Time < positions[j].Time
	})

	return positions, nil
}

// interpolate evaluates the piecewise linear function through (xs,
// ys) at x. xs must be sorted and x within its range.
func interpolate(x float64, xs, ys []float64) float64 {
	i := sort.SearchFloat64s(xs, x)
	if i < len(xs) && xs[i] == x {
		return ys[i]
	}
	if i == 0 {
		return ys[0]
	}
	if i == len(xs) {
		return ys[len(ys)-1]
	}
	x0, x1 := xs[i-1], xs[i]
	y0, y1 := ys[i-1], ys[i]
	return y0 + (y1-y0)*(x-x0)/(x1-x0)
}
