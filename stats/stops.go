package stats

import (
	"log/slog"
	"sort"
	"strconv"
	"time"

	gtfs "tidbyt.dev/gtfsstats"
	"tidbyt.dev/gtfsstats/gtfstime"
	"tidbyt.dev/gtfsstats/logging"
	"tidbyt.dev/gtfsstats/metrics"
)

type StopStatsOptions struct {
	// Restricts the result to these stops. Nil means all stops
	// visited by some trip.
	StopIDs []string

	// Group by direction_id of the visiting trips as well.
	SplitDirections bool

	// Same as RouteStatsOptions.
	HeadwayStart int
	HeadwayEnd   int

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// StopStats aggregates the trips visiting a stop over a set of
// dates. NumTrips is the daily average number of visits.
type StopStats struct {
	StopID      string         `json:"stop_id"`
	DirectionID *int8          `json:"direction_id,omitempty"`
	NumRoutes   int            `json:"num_routes"`
	NumTrips    float64        `json:"num_trips"`
	MaxHeadway  *int           `json:"max_headway"`
	MinHeadway  *int           `json:"min_headway"`
	MeanHeadway *int           `json:"mean_headway"`
	StartTime   *gtfstime.Time `json:"start_time"`
	EndTime     *gtfstime.Time `json:"end_time"`
}

func StopStatsColumns(split bool) []string {
	cols := []string{"stop_id"}
	if split {
		cols = append(cols, "direction_id")
	}
	return append(cols,
		"num_routes", "num_trips",
		"max_headway", "min_headway", "mean_headway",
		"start_time", "end_time",
	)
}

func (s StopStats) Record(split bool) []string {
	rec := []string{s.StopID}
	if split {
		rec = append(rec, formatInt8(s.DirectionID))
	}
	return append(rec,
		strconv.Itoa(s.NumRoutes),
		formatFloat(&s.NumTrips),
		formatInt(s.MaxHeadway),
		formatInt(s.MinHeadway),
		formatInt(s.MeanHeadway),
		formatTime(s.StartTime),
		formatTime(s.EndTime),
	)
}

type stopAccumulator struct {
	routes map[string]bool
	visits int
	start  *int
	end    *int
	byDate [][]int
}

// ComputeStopStats aggregates stop times by stop over the dates.
// Stops visited only by trips running on none of the dates are
// left out, unless no trip runs at all, in which case every stop
// gets a null row.
func ComputeStopStats(feed *gtfs.Feed, dates []gtfstime.Date, opts StopStatsOptions) ([]StopStats, error) {
	hwStart, hwEnd, err := headwayWindow(opts.HeadwayStart, opts.HeadwayEnd)
	if err != nil {
		return nil, err
	}
	defer opts.Metrics.ObserveDuration("stop_stats", time.Now())

	if len(dates) == 0 {
		return []StopStats{}, nil
	}

	var stopFilter map[string]bool
	if opts.StopIDs != nil {
		stopFilter = make(map[string]bool, len(opts.StopIDs))
		for _, id := range opts.StopIDs {
			stopFilter[id] = true
		}
	}

	activity := ComputeTripActivity(feed, nil, dates)

	visited := map[groupKey]bool{}
	acc := map[groupKey]*stopAccumulator{}
	for _, trip := range feed.Trips() {
		count := activity.Count(trip.ID)
		for _, st := range feed.StopTimes(trip.ID) {
			if stopFilter != nil && !stopFilter[st.StopID] {
				continue
			}
			key := newGroupKey(st.StopID, trip.DirectionID, opts.SplitDirections)
			visited[key] = true
			if count == 0 {
				continue
			}

			a, found := acc[key]
			if !found {
				a = &stopAccumulator{
					routes: map[string]bool{},
					byDate: make([][]int, len(dates)),
				}
				acc[key] = a
			}
			a.routes[trip.RouteID] = true
			a.visits += count

			t := stopTimeTime(st)
			if t == nil {
				continue
			}
			if a.start == nil || *t < *a.start {
				a.start = t
			}
			if a.end == nil || *t > *a.end {
				a.end = t
			}
			for i := range dates {
				if activity.IsActive(trip.ID, i) {
					a.byDate[i] = append(a.byDate[i], *t)
				}
			}
		}
	}

	var keys []groupKey
	if len(acc) == 0 {
		for k := range visited {
			keys = append(keys, k)
		}
	} else {
		for k := range acc {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })

	n := float64(len(dates))
	rows := make([]StopStats, 0, len(keys))
	for _, key := range keys {
		row := StopStats{StopID: key.id, DirectionID: key.directionID()}
		a, found := acc[key]
		if !found {
			rows = append(rows, row)
			continue
		}

		row.NumRoutes = len(a.routes)
		row.NumTrips = float64(a.visits) / n
		if a.start != nil {
			row.StartTime = gtfstime.NewTime(*a.start)
			row.EndTime = gtfstime.NewTime(*a.end)
		}
		if h, ok := computeHeadways(a.byDate, hwStart, hwEnd); ok {
			row.MaxHeadway = &h.max
			row.MinHeadway = &h.min
			row.MeanHeadway = &h.mean
		}
		rows = append(rows, row)
	}

	logging.LogOperation(opts.Logger, "stop_stats_computed",
		slog.Int("num_stops", len(rows)),
		slog.Int("num_dates", len(dates)),
	)

	return rows, nil
}
