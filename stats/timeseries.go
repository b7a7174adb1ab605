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
)

// Time series indicators.
const (
	IndicatorNumTripStarts   = "num_trip_starts"
	IndicatorNumTripEnds     = "num_trip_ends"
	IndicatorNumTrips        = "num_trips"
	IndicatorServiceDistance = "service_distance"
	IndicatorServiceDuration = "service_duration"
	IndicatorServiceSpeed    = "service_speed"
)

var routeIndicators = []string{
	IndicatorNumTripStarts,
	IndicatorNumTripEnds,
	IndicatorNumTrips,
	IndicatorServiceDistance,
	IndicatorServiceDuration,
	IndicatorServiceSpeed,
}

type TimeSeriesOptions struct {
	// Bin width in minutes. Must divide 1440. Defaults to 1.
	Freq int

	// Key route series by "route_id-direction_id".
	SplitDirections bool

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// TimeSeries holds per key daily average indicators over a 24h day
// split into bins of Freq minutes. Times past midnight wrap around
// to the start of the day.
type TimeSeries struct {
	Freq       int
	Keys       []string
	Indicators []string

	// indicator -> key index -> bin
	values map[string][][]float64

	// indicators averaged rather than summed on resample
	averaged map[string]bool
}

func newTimeSeries(keys []string, stored []string, averaged ...string) *TimeSeries {
	ts := &TimeSeries{
		Freq:     1,
		Keys:     keys,
		values:   map[string][][]float64{},
		averaged: map[string]bool{},
	}
	for _, ind := range stored {
		series := make([][]float64, len(keys))
		for i := range series {
			series[i] = make([]float64, gtfstime.MinutesPerDay)
		}
		ts.values[ind] = series
	}
	for _, ind := range averaged {
		ts.averaged[ind] = true
	}
	return ts
}

func (ts *TimeSeries) NumBins() int {
	return gtfstime.MinutesPerDay / ts.Freq
}

// BinStart is the time of day bin i starts at.
func (ts *TimeSeries) BinStart(i int) gtfstime.Time {
	return gtfstime.Time(i * ts.Freq * gtfstime.SecondsPerMinute)
}

// Series returns the values of an indicator for a key. Speed is
// derived from distance and duration and is nil in bins without
// service. ok is false for unknown indicators or keys.
func (ts *TimeSeries) Series(indicator, key string) (series []*float64, ok bool) {
	k := sort.SearchStrings(ts.Keys, key)
	if k == len(ts.Keys) || ts.Keys[k] != key {
		return nil, false
	}

	if indicator == IndicatorServiceSpeed {
		dist, okDist := ts.values[IndicatorServiceDistance]
		dur, okDur := ts.values[IndicatorServiceDuration]
		if !okDist || !okDur {
			return nil, false
		}
		series = make([]*float64, ts.NumBins())
		for i := range series {
			if dur[k][i] != 0 {
				s := dist[k][i] / dur[k][i]
				series[i] = &s
			}
		}
		return series, true
	}

	values, found := ts.values[indicator]
	if !found {
		return nil, false
	}
	series = make([]*float64, ts.NumBins())
	for i := range series {
		v := values[k][i]
		series[i] = &v
	}
	return series, true
}

// Total sums an indicator over all keys and bins. Not meaningful
// for speed.
func (ts *TimeSeries) Total(indicator string) float64 {
	total := 0.0
	for _, series := range ts.values[indicator] {
		for _, v := range series {
			total += v
		}
	}
	return total
}

// Resample returns a copy with bins of freq minutes. freq must be a
// multiple of the current frequency and divide 1440. Counts and
// totals are summed; the number of trips in service at route level
// is averaged, and speed is recomputed.
func (ts *TimeSeries) Resample(freq int) (*TimeSeries, error) {
	if freq <= 0 || freq%ts.Freq != 0 || gtfstime.MinutesPerDay%freq != 0 {
		return nil, fmt.Errorf("can't resample %d minute bins to %d minutes", ts.Freq, freq)
	}

	factor := freq / ts.Freq
	bins := gtfstime.MinutesPerDay / freq
	out := &TimeSeries{
		Freq:       freq,
		Keys:       ts.Keys,
		Indicators: ts.Indicators,
		values:     make(map[string][][]float64, len(ts.values)),
		averaged:   ts.averaged,
	}

	for ind, series := range ts.values {
		resampled := make([][]float64, len(series))
		for k, values := range series {
			resampled[k] = make([]float64, bins)
			for i, v := range values {
				resampled[k][i/factor] += v
			}
			if ts.averaged[ind] {
				for i := range resampled[k] {
					resampled[k][i] /= float64(factor)
				}
			}
		}
		out.values[ind] = resampled
	}

	return out, nil
}

// TimeSeriesPoint is a single value of a time series in long
// format.
type TimeSeriesPoint struct {
	Time      gtfstime.Time `csv:"time" json:"time"`
	Key       string        `csv:"key" json:"key"`
	Indicator string        `csv:"indicator" json:"indicator"`
	Value     *float64      `csv:"value" json:"value"`
}

// Points flattens the series, ordered by indicator, key and time.
func (ts *TimeSeries) Points() []TimeSeriesPoint {
	points := make([]TimeSeriesPoint, 0, len(ts.Indicators)*len(ts.Keys)*ts.NumBins())
	for _, ind := range ts.Indicators {
		for _, key := range ts.Keys {
			series, _ := ts.Series(ind, key)
			for i, v := range series {
				points = append(points, TimeSeriesPoint{
					Time:      ts.BinStart(i),
					Key:       key,
					Indicator: ind,
					Value:     v,
				})
			}
		}
	}
	return points
}

// WideColumns and WideRecords render one indicator as a table with
// a time column and one column per key.
func (ts *TimeSeries) WideColumns() []string {
	return append([]string{"time"}, ts.Keys...)
}

func (ts *TimeSeries) WideRecords(indicator string) ([][]string, error) {
	all := make([][]*float64, len(ts.Keys))
	for k, key := range ts.Keys {
		series, ok := ts.Series(indicator, key)
		if !ok {
			return nil, fmt.Errorf("unknown indicator '%s'", indicator)
		}
		all[k] = series
	}

	records := make([][]string, ts.NumBins())
	for i := range records {
		rec := make([]string, 0, len(ts.Keys)+1)
		rec = append(rec, ts.BinStart(i).String())
		for k := range ts.Keys {
			rec = append(rec, formatFloat(all[k][i]))
		}
		records[i] = rec
	}
	return records, nil
}

func (o TimeSeriesOptions) freq() int {
	if o.Freq <= 0 {
		return 1
	}
	return o.Freq
}

func seriesKey(id string, direction *int8, split bool) string {
	if !split || direction == nil {
		return id
	}
	return id + "-" + strconv.Itoa(int(*direction))
}

// ComputeRouteTimeSeries bins tripStats by minute of day, averaged
// over the dates. A trip is in service in every minute from its
// start up to, not including, the minute of its end, and at least
// its start minute. Its distance and duration are spread evenly over
// those minutes.
func ComputeRouteTimeSeries(
	feed *gtfs.Feed,
	tripStats []TripStats,
	dates []gtfstime.Date,
	opts TimeSeriesOptions,
) (*TimeSeries, error) {
	freq := opts.freq()
	if gtfstime.MinutesPerDay%freq != 0 {
		return nil, fmt.Errorf("frequency %d does not divide a day", freq)
	}
	defer opts.Metrics.ObserveDuration("route_time_series", time.Now())

	keySet := map[string]bool{}
	for _, t := range tripStats {
		keySet[seriesKey(t.RouteID, t.DirectionID, opts.SplitDirections)] = true
	}
	if len(dates) == 0 {
		keySet = map[string]bool{}
	}
	keys := sortedKeys(keySet)

	ts := newTimeSeries(
		keys,
		[]string{
			IndicatorNumTripStarts,
			IndicatorNumTripEnds,
			IndicatorNumTrips,
			IndicatorServiceDistance,
			IndicatorServiceDuration,
		},
		IndicatorNumTrips,
	)
	ts.Indicators = routeIndicators

	if len(keys) > 0 {
		tripIDs := make([]string, len(tripStats))
		for i, t := range tripStats {
			tripIDs[i] = t.TripID
		}
		activity := ComputeTripActivity(feed, tripIDs, dates)
		n := float64(len(dates))

		starts := ts.values[IndicatorNumTripStarts]
		ends := ts.values[IndicatorNumTripEnds]
		inService := ts.values[IndicatorNumTrips]
		distance := ts.values[IndicatorServiceDistance]
		duration := ts.values[IndicatorServiceDuration]

		for _, t := range tripStats {
			count := activity.Count(t.TripID)
			if count == 0 || t.StartTime == nil || t.EndTime == nil {
				continue
			}
			w := float64(count) / n
			k := sort.SearchStrings(keys, seriesKey(t.RouteID, t.DirectionID, opts.SplitDirections))

			startMin := int(*t.StartTime) / gtfstime.SecondsPerMinute
			endMin := int(*t.EndTime) / gtfstime.SecondsPerMinute
			numBins := endMin - startMin
			if numBins < 1 {
				numBins = 1
			}
			if numBins > gtfstime.MinutesPerDay {
				numBins = gtfstime.MinutesPerDay
			}

			starts[k][gtfstime.Minute(int(*t.StartTime))] += w
			// Trips ending past midnight don't end on this day.
			if *t.EndTime < gtfstime.SecondsPerDay {
				ends[k][gtfstime.Minute(int(*t.EndTime))] += w
			}

			var distPerBin, durPerBin float64
			if t.Distance != nil {
				distPerBin = w * *t.Distance / float64(numBins)
			}
			if t.Duration != nil && *t.Duration > 0 {
				durPerBin = w * *t.Duration / float64(numBins)
			}
			for b := 0; b < numBins; b++ {
				m := (startMin + b) % gtfstime.MinutesPerDay
				inService[k][m] += w
				distance[k][m] += distPerBin
				duration[k][m] += durPerBin
			}
		}
	}

	logging.LogOperation(opts.Logger, "route_time_series_computed",
		slog.Int("num_keys", len(keys)),
		slog.Int("freq", freq),
	)

	if freq == 1 {
		return ts, nil
	}
	return ts.Resample(freq)
}

// ComputeStopTimeSeries counts, per stop and minute of day, the
// daily average number of trips visiting the stop. Resampling sums.
func ComputeStopTimeSeries(
	feed *gtfs.Feed,
	dates []gtfstime.Date,
	stopIDs []string,
	opts TimeSeriesOptions,
) (*TimeSeries, error) {
	freq := opts.freq()
	if gtfstime.MinutesPerDay%freq != 0 {
		return nil, fmt.Errorf("frequency %d does not divide a day", freq)
	}
	defer opts.Metrics.ObserveDuration("stop_time_series", time.Now())

	var stopFilter map[string]bool
	if stopIDs != nil {
		stopFilter = make(map[string]bool, len(stopIDs))
		for _, id := range stopIDs {
			stopFilter[id] = true
		}
	}

	keySet := map[string]bool{}
	if len(dates) > 0 {
		for _, trip := range feed.Trips() {
			for _, st := range feed.StopTimes(trip.ID) {
				if stopFilter == nil || stopFilter[st.StopID] {
					keySet[seriesKey(st.StopID, trip.DirectionID, opts.SplitDirections)] = true
				}
			}
		}
	}
	keys := sortedKeys(keySet)

	ts := newTimeSeries(keys, []string{IndicatorNumTrips})
	ts.Indicators = []string{IndicatorNumTrips}

	if len(keys) > 0 {
		activity := ComputeTripActivity(feed, nil, dates)
		n := float64(len(dates))
		visits := ts.values[IndicatorNumTrips]

		for _, trip := range feed.Trips() {
			count := activity.Count(trip.ID)
			if count == 0 {
				continue
			}
			w := float64(count) / n
			for _, st := range feed.StopTimes(trip.ID) {
				if stopFilter != nil && !stopFilter[st.StopID] {
					continue
				}
				t := stopTimeTime(st)
				if t == nil {
					continue
				}
				k := sort.SearchStrings(keys, seriesKey(st.StopID, trip.DirectionID, opts.SplitDirections))
				visits[k][gtfstime.Minute(*t)] += w
			}
		}
	}

	logging.LogOperation(opts.Logger, "stop_time_series_computed",
		slog.Int("num_keys", len(keys)),
		slog.Int("freq", freq),
	)

	if freq == 1 {
		return ts, nil
	}
	return ts.Resample(freq)
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
