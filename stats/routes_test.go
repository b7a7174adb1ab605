package stats_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gtfs "tidbyt.dev/gtfsstats"
	"tidbyt.dev/gtfsstats/gtfstime"
	"tidbyt.dev/gtfsstats/model"
	"tidbyt.dev/gtfsstats/stats"
	"tidbyt.dev/gtfsstats/testutil"
)

func computeTripStats(t *testing.T, feed *gtfs.Feed) []stats.TripStats {
	rows, _, err := stats.ComputeTripStats(context.Background(), feed, stats.TripStatsOptions{})
	require.NoError(t, err)
	return rows
}

func TestRouteStats(t *testing.T) {
	for _, backend := range testutil.Backends() {
		t.Run(backend, func(t *testing.T) {
			feed := buildNetwork(t, backend)
			tripStats := computeTripStats(t, feed)

			// A Monday and a Tuesday
			dates, err := gtfstime.ParseDates("20240101", "20240102")
			require.NoError(t, err)

			rows, err := stats.ComputeRouteStats(feed, tripStats, dates, stats.RouteStatsOptions{})
			require.NoError(t, err)
			require.Equal(t, 2, len(rows))

			r1 := rows[0]
			assert.Equal(t, "R1", r1.RouteID)
			assert.Equal(t, "1", r1.RouteShortName)
			assert.Equal(t, model.RouteTypeBus, r1.RouteType)
			assert.Nil(t, r1.DirectionID)
			assert.Equal(t, 3.0, r1.NumTrips)
			assert.Equal(t, 3.0, r1.NumTripStarts)
			assert.Equal(t, 3.0, r1.NumTripEnds)
			assert.True(t, r1.IsBidirectional)
			assert.False(t, r1.IsLoop)
			assert.Equal(t, gtfstime.NewTime(8*3600), r1.StartTime)
			assert.Equal(t, gtfstime.NewTime(9*3600), r1.EndTime)

			// Departures at 08:00, 08:15 and 08:30 on each date
			assert.Equal(t, model.Int(900), r1.MinHeadway)
			assert.Equal(t, model.Int(900), r1.MaxHeadway)
			assert.Equal(t, model.Int(900), r1.MeanHeadway)

			// t1 and t3 overlap 08:15-08:20, t3 and t2 08:30-08:35
			require.NotNil(t, r1.PeakNumTrips)
			assert.Equal(t, 2.0, *r1.PeakNumTrips)
			assert.Equal(t, gtfstime.NewTime(8*3600+15*60), r1.PeakStartTime)
			assert.Equal(t, gtfstime.NewTime(8*3600+20*60), r1.PeakEndTime)

			assert.InDelta(t, 70.0/60, *r1.ServiceDuration, 1e-9)
			assert.InDelta(t, 6.6, *r1.ServiceDistance, 1e-9)
			assert.InDelta(t, 6.6/(70.0/60), *r1.ServiceSpeed, 1e-9)
			assert.InDelta(t, 2.2, *r1.MeanTripDistance, 1e-9)
			assert.InDelta(t, 70.0/180, *r1.MeanTripDuration, 1e-9)

			// t4 runs on the Monday only, ending past midnight
			r2 := rows[1]
			assert.Equal(t, "R2", r2.RouteID)
			assert.Equal(t, 0.5, r2.NumTrips)
			assert.Equal(t, 0.5, r2.NumTripStarts)
			assert.Equal(t, 0.0, r2.NumTripEnds)
			assert.False(t, r2.IsBidirectional)
			assert.Equal(t, gtfstime.NewTime(23*3600+30*60), r2.StartTime)
			assert.Equal(t, gtfstime.NewTime(25*3600), r2.EndTime)
			assert.Nil(t, r2.MinHeadway)
			assert.Nil(t, r2.MaxHeadway)
			assert.Nil(t, r2.MeanHeadway)
			assert.Equal(t, 0.5, *r2.PeakNumTrips)
			assert.Equal(t, gtfstime.NewTime(23*3600+30*60), r2.PeakStartTime)
			assert.Equal(t, gtfstime.NewTime(25*3600), r2.PeakEndTime)
			assert.InDelta(t, 0.75, *r2.ServiceDuration, 1e-9)
			assert.InDelta(t, 1.1, *r2.ServiceDistance, 1e-9)

			// Totals are trip totals weighted by activity
			weighted := 0.0
			activity := stats.ComputeTripActivity(feed, nil, dates)
			for _, ts := range tripStats {
				weighted += *ts.Distance * activity.Weight(ts.TripID)
			}
			assert.InDelta(t, weighted, *r1.ServiceDistance+*r2.ServiceDistance, 1e-9)
		})
	}
}

func TestRouteStatsSplitDirections(t *testing.T) {
	feed := buildNetwork(t, "memory")
	tripStats := computeTripStats(t, feed)

	rows, err := stats.ComputeRouteStats(feed, tripStats, []gtfstime.Date{gtfstime.MustParseDate("20240102")}, stats.RouteStatsOptions{
		SplitDirections: true,
	})
	require.NoError(t, err)

	// R2 doesn't run on Tuesdays
	require.Equal(t, 2, len(rows))
	assert.Equal(t, "R1", rows[0].RouteID)
	assert.Equal(t, model.Int8(0), rows[0].DirectionID)
	assert.Equal(t, 2.0, rows[0].NumTrips)
	assert.True(t, rows[0].IsBidirectional)
	assert.Equal(t, model.Int(900), rows[0].MeanHeadway)
	assert.Equal(t, "R1", rows[1].RouteID)
	assert.Equal(t, model.Int8(1), rows[1].DirectionID)
	assert.Equal(t, 1.0, rows[1].NumTrips)
	assert.Nil(t, rows[1].MeanHeadway)

	cols := stats.RouteStatsColumns(true)
	assert.Equal(t, len(cols), len(rows[0].Record(true)))
	assert.Equal(t, "direction_id", cols[3])
	assert.Equal(t, "0", rows[0].Record(true)[3])
}

func TestRouteStatsHeadwayWindow(t *testing.T) {
	feed := buildNetwork(t, "memory")
	tripStats := computeTripStats(t, feed)
	dates := []gtfstime.Date{gtfstime.MustParseDate("20240102")}

	rows, err := stats.ComputeRouteStats(feed, tripStats, dates, stats.RouteStatsOptions{
		HeadwayStart: 8 * 3600,
		HeadwayEnd:   8*3600 + 15*60,
	})
	require.NoError(t, err)
	assert.Equal(t, model.Int(900), rows[0].MaxHeadway)

	_, err = stats.ComputeRouteStats(feed, tripStats, dates, stats.RouteStatsOptions{
		HeadwayStart: 10 * 3600,
		HeadwayEnd:   9 * 3600,
	})
	assert.Error(t, err)
}

func TestRouteStatsNoService(t *testing.T) {
	feed := buildNetwork(t, "memory")
	tripStats := computeTripStats(t, feed)

	// A Saturday
	saturday := []gtfstime.Date{gtfstime.MustParseDate("20240106")}

	rows, err := stats.ComputeRouteStats(feed, tripStats, saturday, stats.RouteStatsOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, len(rows))
	for _, r := range rows {
		assert.Equal(t, 0.0, r.NumTrips)
		assert.Nil(t, r.StartTime)
		assert.Nil(t, r.MeanHeadway)
		assert.Nil(t, r.PeakNumTrips)
		assert.Nil(t, r.ServiceDistance)
	}
	assert.Equal(t, "R1", rows[0].RouteID)
	assert.Equal(t, "R2", rows[1].RouteID)

	rows, err = stats.ComputeRouteStats(feed, tripStats, saturday, stats.RouteStatsOptions{SplitDirections: true})
	require.NoError(t, err)
	assert.Equal(t, 3, len(rows))

	// Null fields are blank in records
	rec := rows[0].Record(true)
	assert.Equal(t, "0", rec[4])
	assert.Equal(t, "", rec[9])
}

func TestRouteStatsEmpty(t *testing.T) {
	feed := buildNetwork(t, "memory")
	tripStats := computeTripStats(t, feed)

	rows, err := stats.ComputeRouteStats(feed, tripStats, nil, stats.RouteStatsOptions{})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)

	rows, err = stats.ComputeRouteStats(feed, nil, []gtfstime.Date{gtfstime.MustParseDate("20240102")}, stats.RouteStatsOptions{})
	require.NoError(t, err)
	assert.Empty(t, rows)

	assert.Equal(t, 21, len(stats.RouteStatsColumns(false)))
	assert.Equal(t, 22, len(stats.RouteStatsColumns(true)))
	assert.NotContains(t, stats.RouteStatsColumns(false), "direction_id")
}

func TestRouteStatsByDate(t *testing.T) {
	feed := buildNetwork(t, "memory")
	tripStats := computeTripStats(t, feed)

	dates, err := gtfstime.ParseDates("20240108", "20240101")
	require.NoError(t, err)

	rows, err := stats.ComputeRouteStatsByDate(feed, tripStats, dates, stats.RouteStatsOptions{})
	require.NoError(t, err)

	// t4 is removed on 2024-01-08
	require.Equal(t, 3, len(rows))
	assert.Equal(t, "20240108", rows[0].Date)
	assert.Equal(t, "R1", rows[0].RouteID)
	assert.Equal(t, "20240101", rows[1].Date)
	assert.Equal(t, "R1", rows[1].RouteID)
	assert.Equal(t, "20240101", rows[2].Date)
	assert.Equal(t, "R2", rows[2].RouteID)
	assert.Equal(t, 1.0, rows[2].NumTrips)

	assert.Equal(t, "date", stats.RouteStatsByDateColumns(false)[0])
	assert.Equal(t, len(stats.RouteStatsByDateColumns(false)), len(rows[0].Record(false)))
}
