package stats

import (
	"encoding/json"
	"fmt"

	gtfs "tidbyt.dev/gtfsstats"
	"tidbyt.dev/gtfsstats/gtfstime"
	"tidbyt.dev/gtfsstats/model"
)

// Activity is a trip by date matrix marking the dates each trip
// runs on.
type Activity struct {
	Dates []gtfstime.Date

	rows    []ActivityRow
	byTrip  map[string]int
	counts  []int
	perDate []int
}

// ActivityRow is one trip's row of the matrix. Active cells encode
// as 0 or 1 in JSON.
type ActivityRow struct {
	TripID  string `json:"trip_id"`
	RouteID string `json:"route_id"`
	Active  []bool `json:"active"`
}

func (r ActivityRow) MarshalJSON() ([]byte, error) {
	cells := make([]int, len(r.Active))
	for i, active := range r.Active {
		if active {
			cells[i] = 1
		}
	}
	return json.Marshal(struct {
		TripID  string `json:"trip_id"`
		RouteID string `json:"route_id"`
		Active  []int  `json:"active"`
	}{r.TripID, r.RouteID, cells})
}

// ComputeTripActivity evaluates every trip in tripIDs (all trips if
// nil) on every date, in the given order. Unknown trip IDs are
// skipped. With no dates or no trips the matrix is empty.
func ComputeTripActivity(feed *gtfs.Feed, tripIDs []string, dates []gtfstime.Date) *Activity {
	a := &Activity{
		Dates:   dates,
		rows:    []ActivityRow{},
		byTrip:  map[string]int{},
		perDate: make([]int, len(dates)),
	}
	if len(dates) == 0 {
		return a
	}

	var trips []model.Trip
	if tripIDs == nil {
		trips = feed.Trips()
	} else {
		for _, id := range tripIDs {
			if t, found := feed.Trip(id); found {
				trips = append(trips, t)
			}
		}
	}

	// Services are shared by many trips.
	byService := map[string][]bool{}
	for _, t := range trips {
		if _, found := a.byTrip[t.ID]; found {
			continue
		}

		active, found := byService[t.ServiceID]
		if !found {
			active = make([]bool, len(dates))
			for i, d := range dates {
				active[i] = feed.Calendar().IsActive(t.ServiceID, d)
			}
			byService[t.ServiceID] = active
		}

		count := 0
		for i, on := range active {
			if on {
				count++
				a.perDate[i]++
			}
		}

		a.byTrip[t.ID] = len(a.rows)
		a.rows = append(a.rows, ActivityRow{TripID: t.ID, RouteID: t.RouteID, Active: active})
		a.counts = append(a.counts, count)
	}

	return a
}

// Rows returns one row per trip. Rows share the Active slices of
// trips with the same service; they must not be modified.
func (a *Activity) Rows() []ActivityRow {
	return a.rows
}

func (a *Activity) IsActive(tripID string, date int) bool {
	i, found := a.byTrip[tripID]
	if !found || date < 0 || date >= len(a.Dates) {
		return false
	}
	return a.rows[i].Active[date]
}

// Count is the number of dates the trip is active on.
func (a *Activity) Count(tripID string) int {
	i, found := a.byTrip[tripID]
	if !found {
		return 0
	}
	return a.counts[i]
}

// Weight is the fraction of dates the trip is active on.
func (a *Activity) Weight(tripID string) float64 {
	if len(a.Dates) == 0 {
		return 0
	}
	return float64(a.Count(tripID)) / float64(len(a.Dates))
}

// NumActive is the number of active trips per date.
func (a *Activity) NumActive() []int {
	return a.perDate
}

// BusiestDate returns the first of the dates with the most active
// trips.
func BusiestDate(feed *gtfs.Feed, dates []gtfstime.Date) (gtfstime.Date, error) {
	if len(dates) == 0 {
		return gtfstime.Date{}, fmt.Errorf("no dates given")
	}

	counts := ComputeTripActivity(feed, nil, dates).NumActive()
	best := 0
	for i, c := range counts {
		if c > counts[best] {
			best = i
		}
	}
	return dates[best], nil
}

// ActiveTrips returns the trips active on a date. If at is given,
// only trips running at that time, i.e. with first departure <= at
// <= last departure, are included.
func ActiveTrips(feed *gtfs.Feed, date gtfstime.Date, at *int) []model.Trip {
	trips := []model.Trip{}
	for _, t := range feed.Trips() {
		if !feed.IsActiveTrip(t.ID, date) {
			continue
		}
		if at != nil {
			start, end, ok := departureSpan(feed.StopTimes(t.ID))
			if !ok || *at < start || *at > end {
				continue
			}
		}
		trips = append(trips, t)
	}
	return trips
}

// Earliest and latest departure among stop times.
func departureSpan(stopTimes []model.StopTime) (int, int, bool) {
	start, end, ok := 0, 0, false
	for _, st := range stopTimes {
		if st.Departure == nil {
			continue
		}
		if !ok || *st.Departure < start {
			start = *st.Departure
		}
		if !ok || *st.Departure > end {
			end = *st.Departure
		}
		ok = true
	}
	return start, end, ok
}
