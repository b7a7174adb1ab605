package main

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/gtfsstats/gtfstime"
	"tidbyt.dev/gtfsstats/stats"
	"tidbyt.dev/gtfsstats/testutil"
)

var feedFiles = map[string][]string{
	"routes.txt": {
		"route_id,route_short_name,route_type",
		"R1,1,3",
	},
	"calendar.txt": {
		"service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date",
		"wk,1,1,1,1,1,0,0,20240101,20240131",
	},
	"trips.txt": {
		"route_id,service_id,trip_id,direction_id,shape_id",
		"R1,wk,t1,0,up",
		"R1,wk,t2,1,up",
	},
	"stops.txt": {
		"stop_id,stop_name,stop_lat,stop_lon",
		"A,A,40.00,-74.0",
		"C,C,40.02,-74.0",
	},
	"stop_times.txt": {
		"trip_id,arrival_time,departure_time,stop_id,stop_sequence",
		"t1,08:00:00,08:00:00,A,1",
		"t1,08:20:00,08:20:00,C,2",
		"t2,08:30:00,08:30:00,C,1",
		"t2,09:00:00,09:00:00,A,2",
	},
	"shapes.txt": {
		"shape_id,shape_pt_lat,shape_pt_lon,shape_pt_sequence",
		"up,40.00,-74.0,1",
		"up,40.02,-74.0,2",
	},
}

func TestParseHeaders(t *testing.T) {
	headers, err := parseHeaders([]string{"Authorization: Bearer x", "X-Key:abc"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Authorization": "Bearer x", "X-Key": "abc"}, headers)

	_, err = parseHeaders([]string{"nocolon"})
	assert.Error(t, err)
}

func TestResolveDates(t *testing.T) {
	feed := testutil.BuildFeed(t, "memory", feedFiles)

	dates, err := resolveDates("", feed)
	require.NoError(t, err)
	assert.Equal(t, gtfstime.DateStrings(feed.FirstWeek()), gtfstime.DateStrings(dates))

	dates, err = resolveDates("all", feed)
	require.NoError(t, err)
	assert.Equal(t, 31, len(dates))

	dates, err = resolveDates("20240102,20240101", feed)
	require.NoError(t, err)
	assert.Equal(t, []string{"20240102", "20240101"}, gtfstime.DateStrings(dates))

	_, err = resolveDates("tomorrow", feed)
	assert.Error(t, err)
}

func TestActivityRecords(t *testing.T) {
	dates := []gtfstime.Date{gtfstime.MustParseDate("20240105"), gtfstime.MustParseDate("20240106")}
	header, records := activityRecords(dates, []stats.ActivityRow{
		{TripID: "t1", RouteID: "R1", Active: []bool{true, false}},
	})
	assert.Equal(t, []string{"trip_id", "route_id", "20240105", "20240106"}, header)
	assert.Equal(t, [][]string{{"t1", "R1", "1", "0"}}, records)
}

func TestIsURL(t *testing.T) {
	assert.True(t, isURL("https://example.com/gtfs.zip"))
	assert.True(t, isURL("http://example.com/gtfs.zip"))
	assert.False(t, isURL("./gtfs.zip"))
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "gtfs.zip")
	require.NoError(t, os.WriteFile(zipPath, testutil.BuildZip(t, testutil.WithDefaults(feedFiles)), 0644))

	// Route stats as CSV
	out := filepath.Join(dir, "routes.csv")
	rootCmd.SetArgs([]string{
		"route-stats",
		"--feed", zipPath,
		"--env-file", filepath.Join(dir, ".env"),
		"--dates", "20240101",
		"--log-level", "error",
		"--output", out,
	})
	require.NoError(t, rootCmd.Execute())

	f, err := os.Open(out)
	require.NoError(t, err)
	records, err := csv.NewReader(f).ReadAll()
	f.Close()
	require.NoError(t, err)
	require.Equal(t, 2, len(records))
	assert.Equal(t, stats.RouteStatsColumns(false), records[0])
	assert.Equal(t, "R1", records[1][0])
	assert.Equal(t, "2", records[1][3])

	// Trip stats as JSON
	out = filepath.Join(dir, "trips.json")
	rootCmd.SetArgs([]string{
		"trip-stats",
		"--feed", zipPath,
		"--env-file", filepath.Join(dir, ".env"),
		"--format", "json",
		"--log-level", "error",
		"--output", out,
	})
	require.NoError(t, rootCmd.Execute())

	buf, err := os.ReadFile(out)
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(buf, &rows))
	require.Equal(t, 2, len(rows))
	assert.Equal(t, "t1", rows[0]["trip_id"])
	assert.Equal(t, "08:00:00", rows[0]["start_time"])
	assert.InDelta(t, 2.22, rows[0]["distance"], 0.01)

	// Bad input fails before loading the feed
	rootCmd.SetArgs([]string{"locate", "--feed", zipPath, "--date", "someday", "--times", "08:00:00"})
	assert.Error(t, rootCmd.Execute())
}
