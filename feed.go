package gtfs

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"

	"tidbyt.dev/gtfsstats/calendar"
	"tidbyt.dev/gtfsstats/geometry"
	"tidbyt.dev/gtfsstats/gtfstime"
	"tidbyt.dev/gtfsstats/model"
	"tidbyt.dev/gtfsstats/storage"
)

// DefaultUnit is the distance unit assumed for shape_dist_traveled
// and used for reported distances, unless WithUnit says otherwise.
// Feeds default to kilometers.
const DefaultUnit = geometry.Kilometers

// Feed is an immutable snapshot of a static GTFS feed. All tables
// are read from storage once, when the Feed is created. A Feed is
// safe for concurrent use.
type Feed struct {
	Metadata *storage.FeedMetadata

	agencies []model.Agency
	routes   []model.Route
	trips    []model.Trip
	stops    []model.Stop

	routeByID       map[string]int
	tripByID        map[string]int
	stopByID        map[string]int
	stopTimesByTrip map[string][]model.StopTime

	hasShapeDistTraveled bool
	unit                 geometry.Unit

	calendar *calendar.Resolver
	geometry *geometry.Index
}

type Option func(*Feed)

// WithUnit sets the distance unit of the feed. This is the unit of
// shape_dist_traveled values, and the unit distances are reported
// in. Without it, distances are in kilometers.
func WithUnit(unit geometry.Unit) Option {
	return func(f *Feed) {
		f.unit = unit
	}
}

// NewFeed loads all records from reader. Records referencing routes,
// trips or stops missing from the feed are rejected.
func NewFeed(reader storage.FeedReader, metadata *storage.FeedMetadata, opts ...Option) (*Feed, error) {
	if metadata == nil {
		metadata = &storage.FeedMetadata{}
	}

	f := &Feed{
		Metadata:        metadata,
		routeByID:       map[string]int{},
		tripByID:        map[string]int{},
		stopByID:        map[string]int{},
		stopTimesByTrip: map[string][]model.StopTime{},
		unit:            DefaultUnit,
	}
	for _, opt := range opts {
		opt(f)
	}
	if _, err := geometry.ParseUnit(string(f.unit)); err != nil {
		return nil, err
	}

	var err error

	f.agencies, err = reader.Agencies()
	if err != nil {
		return nil, fmt.Errorf("reading agencies: %w", err)
	}

	f.routes, err = reader.Routes()
	if err != nil {
		return nil, fmt.Errorf("reading routes: %w", err)
	}
	sort.Slice(f.routes, func(i, j int) bool {
		return f.routes[i].ID < f.routes[j].ID
	})
	for i, r := range f.routes {
		f.routeByID[r.ID] = i
	}

	f.stops, err = reader.Stops()
	if err != nil {
		return nil, fmt.Errorf("reading stops: %w", err)
	}
	sort.Slice(f.stops, func(i, j int) bool {
		return f.stops[i].ID < f.stops[j].ID
	})
	for i, s := range f.stops {
		f.stopByID[s.ID] = i
	}

	f.trips, err = reader.Trips()
	if err != nil {
		return nil, fmt.Errorf("reading trips: %w", err)
	}
	sort.Slice(f.trips, func(i, j int) bool {
		return f.trips[i].ID < f.trips[j].ID
	})
	for i, t := range f.trips {
		if _, found := f.routeByID[t.RouteID]; !found {
			return nil, fmt.Errorf("trip '%s' references unknown route '%s'", t.ID, t.RouteID)
		}
		f.tripByID[t.ID] = i
	}

	stopTimes, err := reader.StopTimes()
	if err != nil {
		return nil, fmt.Errorf("reading stop times: %w", err)
	}
	for _, st := range stopTimes {
		if _, found := f.tripByID[st.TripID]; !found {
			return nil, fmt.Errorf("stop time references unknown trip '%s'", st.TripID)
		}
		if _, found := f.stopByID[st.StopID]; !found {
			return nil, fmt.Errorf("stop time references unknown stop '%s'", st.StopID)
		}
		if st.ShapeDistTraveled != nil {
			f.hasShapeDistTraveled = true
		}
		f.stopTimesByTrip[st.TripID] = append(f.stopTimesByTrip[st.TripID], st)
	}
	for _, sts := range f.stopTimesByTrip {
		sort.Slice(sts, func(i, j int) bool {
			return sts[i].StopSequence < sts[j].StopSequence
		})
	}

	calendars, err := reader.Calendars()
	if err != nil {
		return nil, fmt.Errorf("reading calendars: %w", err)
	}
	calendarDates, err := reader.CalendarDates()
	if err != nil {
		return nil, fmt.Errorf("reading calendar dates: %w", err)
	}
	f.calendar = calendar.NewResolver(calendars, calendarDates)

	shapePoints, err := reader.ShapePoints()
	if err != nil {
		return nil, fmt.Errorf("reading shapes: %w", err)
	}
	f.geometry = geometry.NewIndex(shapePoints, f.stops)

	return f, nil
}

func (f *Feed) Agencies() []model.Agency {
	return f.agencies
}

// Routes returns all routes, ordered by route_id. The slice must
// not be modified.
func (f *Feed) Routes() []model.Route {
	return f.routes
}

func (f *Feed) Route(id string) (model.Route, bool) {
	i, found := f.routeByID[id]
	if !found {
		return model.Route{}, false
	}
	return f.routes[i], true
}

// Trips returns all trips, ordered by trip_id. The slice must not
// be modified.
func (f *Feed) Trips() []model.Trip {
	return f.trips
}

func (f *Feed) Trip(id string) (model.Trip, bool) {
	i, found := f.tripByID[id]
	if !found {
		return model.Trip{}, false
	}
	return f.trips[i], true
}

// StopTimes returns the stop times of a trip, ordered by
// stop_sequence.
func (f *Feed) StopTimes(tripID string) []model.StopTime {
	return f.stopTimesByTrip[tripID]
}

// Stops returns all stops, ordered by stop_id.
func (f *Feed) Stops() []model.Stop {
	return f.stops
}

func (f *Feed) Stop(id string) (model.Stop, bool) {
	i, found := f.stopByID[id]
	if !found {
		return model.Stop{}, false
	}
	return f.stops[i], true
}

// Shape returns the unprojected (lon, lat) linestring of a shape.
func (f *Feed) Shape(id string) (orb.LineString, bool) {
	return f.geometry.Shape(id, false)
}

func (f *Feed) Calendar() *calendar.Resolver {
	return f.calendar
}

func (f *Feed) Geometry() *geometry.Index {
	return f.geometry
}

func (f *Feed) Unit() geometry.Unit {
	return f.unit
}

// HasShapeDistTraveled reports whether at least one stop time
// carries shape_dist_traveled.
func (f *Feed) HasShapeDistTraveled() bool {
	return f.hasShapeDistTraveled
}

// IsActiveTrip reports whether the trip's service runs on the date.
// Unknown trips are inactive.
func (f *Feed) IsActiveTrip(tripID string, date gtfstime.Date) bool {
	trip, found := f.Trip(tripID)
	if !found {
		return false
	}
	return f.calendar.IsActive(trip.ServiceID, date)
}

// Dates lists every date covered by calendar.txt and
// calendar_dates.txt.
func (f *Feed) Dates() []gtfstime.Date {
	return f.calendar.Dates()
}

// FirstWeek is the first Monday through Sunday of the feed's dates.
func (f *Feed) FirstWeek() []gtfstime.Date {
	return f.calendar.FirstWeek()
}

// WithStopTimes returns a copy of the feed with its stop times
// replaced. The other tables are shared with f.
func (f *Feed) WithStopTimes(stopTimes []model.StopTime) (*Feed, error) {
	g := *f
	g.hasShapeDistTraveled = false
	g.stopTimesByTrip = map[string][]model.StopTime{}
	for _, st := range stopTimes {
		if _, found := f.tripByID[st.TripID]; !found {
			return nil, fmt.Errorf("stop time references unknown trip '%s'", st.TripID)
		}
		if _, found := f.stopByID[st.StopID]; !found {
			return nil, fmt.Errorf("stop time references unknown stop '%s'", st.StopID)
		}
		if st.ShapeDistTraveled != nil {
			g.hasShapeDistTraveled = true
		}
		g.stopTimesByTrip[st.TripID] = append(g.stopTimesByTrip[st.TripID], st)
	}
	for _, sts := range g.stopTimesByTrip {
		sort.Slice(sts, func(i, j int) bool {
			return sts[i].StopSequence < sts[j].StopSequence
		})
	}
	return &g, nil
}
