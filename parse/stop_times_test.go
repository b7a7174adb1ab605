package parse

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/gtfsstats/model"
	"tidbyt.dev/gtfsstats/storage"
)

func hms(h, m, s int) *int {
	return model.Int(h*3600 + m*60 + s)
}

func TestParseStopTimes(t *testing.T) {
	for _, tc := range []struct {
		name      string
		content   string
		trips     map[string]bool
		stops     map[string]bool
		opts      ParseOptions
		err       bool
		stopTimes []model.StopTime
		summary   StopTimesSummary
	}{
		{
			"minimal",
			`
trip_id,arrival_time,departure_time,stop_id,stop_sequence
t,10:00:00,10:00:01,s,1`,
			map[string]bool{"t": true},
			map[string]bool{"s": true},
			ParseOptions{},
			false,
			[]model.StopTime{
				{
					TripID:       "t",
					Arrival:      hms(10, 0, 0),
					Departure:    hms(10, 0, 1),
					StopID:       "s",
					StopSequence: 1,
				},
			},
			StopTimesSummary{MaxArrival: 36000, MaxDeparture: 36001},
		},

		{
			"all_fields_set_and_multiple_records",
			`
trip_id,arrival_time,departure_time,stop_id,stop_sequence,stop_headsign,shape_dist_traveled
t,10:00:00,10:00:01,s1,1,sh1,0
t,10:00:02,10:00:03,s2,2,sh2,1.25
`,
			map[string]bool{"t": true},
			map[string]bool{"s1": true, "s2": true},
			ParseOptions{},
			false,
			[]model.StopTime{
				{
					TripID:            "t",
					Arrival:           hms(10, 0, 0),
					Departure:         hms(10, 0, 1),
					StopID:            "s1",
					StopSequence:      1,
					Headsign:          "sh1",
					ShapeDistTraveled: model.Float64(0),
				},
				{
					TripID:            "t",
					Arrival:           hms(10, 0, 2),
					Departure:         hms(10, 0, 3),
					StopID:            "s2",
					StopSequence:      2,
					Headsign:          "sh2",
					ShapeDistTraveled: model.Float64(1.25),
				},
			},
			StopTimesSummary{MaxArrival: 36002, MaxDeparture: 36003, HasShapeDistTraveled: true},
		},

		{
			"times above 24h",
			`
trip_id,arrival_time,departure_time,stop_id,stop_sequence
t,25:00:00,25:00:01,s,1`,
			map[string]bool{"t": true},
			map[string]bool{"s": true},
			ParseOptions{},
			false,
			[]model.StopTime{
				{
					TripID:       "t",
					Arrival:      hms(25, 0, 0),
					Departure:    hms(25, 0, 1),
					StopID:       "s",
					StopSequence: 1,
				},
			},
			StopTimesSummary{MaxArrival: 90000, MaxDeparture: 90001},
		},

		{
			"blank times are null",
			`
trip_id,arrival_time,departure_time,stop_id,stop_sequence
t,08:00:00,08:00:00,s1,1
t,,,s2,2
t,08:10:00,,s3,3`,
			map[string]bool{"t": true},
			map[string]bool{"s1": true, "s2": true, "s3": true},
			ParseOptions{},
			false,
			[]model.StopTime{
				{
					TripID:       "t",
					Arrival:      hms(8, 0, 0),
					Departure:    hms(8, 0, 0),
					StopID:       "s1",
					StopSequence: 1,
				},
				{
					TripID:       "t",
					StopID:       "s2",
					StopSequence: 2,
				},
				{
					TripID:       "t",
					Arrival:      hms(8, 10, 0),
					StopID:       "s3",
					StopSequence: 3,
				},
			},
			StopTimesSummary{MaxArrival: 29400, MaxDeparture: 28800},
		},

		{
			"missing time columns",
			`
trip_id,stop_id,stop_sequence
t,s,1`,
			map[string]bool{"t": true},
			map[string]bool{"s": true},
			ParseOptions{},
			false,
			[]model.StopTime{
				{
					TripID:       "t",
					StopID:       "s",
					StopSequence: 1,
				},
			},
			StopTimesSummary{},
		},

		{
			"malformed time tolerated when lenient",
			`
trip_id,arrival_time,departure_time,stop_id,stop_sequence
t,10:00:derp,10:00:01,s,1`,
			map[string]bool{"t": true},
			map[string]bool{"s": true},
			ParseOptions{LenientTimes: true},
			false,
			[]model.StopTime{
				{
					TripID:       "t",
					Departure:    hms(10, 0, 1),
					StopID:       "s",
					StopSequence: 1,
				},
			},
			StopTimesSummary{MaxDeparture: 36001},
		},

		{
			"missing trip_id",
			`
arrival_time,departure_time,stop_id,stop_sequence
10:00:00,10:00:01,s,1`,
			nil, nil, ParseOptions{}, true, nil, StopTimesSummary{},
		},

		{
			"missing stop_id",
			`
trip_id,arrival_time,departure_time,stop_sequence
t,10:00:00,10:00:01,1`,
			map[string]bool{"t": true},
			map[string]bool{"s": true},
			ParseOptions{}, true, nil, StopTimesSummary{},
		},

		{
			"unknown trip",
			`
trip_id,arrival_time,departure_time,stop_id,stop_sequence
t,10:00:00,10:00:01,s,1`,
			map[string]bool{"t2": true},
			map[string]bool{"s": true},
			ParseOptions{}, true, nil, StopTimesSummary{},
		},

		{
			"unknown stop",
			`
trip_id,arrival_time,departure_time,stop_id,stop_sequence
t,10:00:00,10:00:01,s,1`,
			map[string]bool{"t": true},
			map[string]bool{"s2": true},
			ParseOptions{}, true, nil, StopTimesSummary{},
		},

		{
			"invalid arrival_time",
			`
trip_id,arrival_time,departure_time,stop_id,stop_sequence
t,10:00:derp,10:00:01,s,1`,
			map[string]bool{"t": true},
			map[string]bool{"s": true},
			ParseOptions{}, true, nil, StopTimesSummary{},
		},

		{
			"invalid departure_time",
			`
trip_id,arrival_time,departure_time,stop_id,stop_sequence
t,10:00:00,10:61:00,s,1`,
			map[string]bool{"t": true},
			map[string]bool{"s": true},
			ParseOptions{}, true, nil, StopTimesSummary{},
		},

		{
			"invalid shape_dist_traveled",
			`
trip_id,arrival_time,departure_time,stop_id,stop_sequence,shape_dist_traveled
t,10:00:00,10:00:00,s,1,far`,
			map[string]bool{"t": true},
			map[string]bool{"s": true},
			ParseOptions{}, true, nil, StopTimesSummary{},
		},

		{
			"duplicate stop_sequence",
			`
trip_id,arrival_time,departure_time,stop_id,stop_sequence
t,10:00:00,10:00:00,s,1
t,10:05:00,10:05:00,s,1`,
			map[string]bool{"t": true},
			map[string]bool{"s": true},
			ParseOptions{}, true, nil, StopTimesSummary{},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := storage.NewMemoryStorage()
			writer, err := s.GetWriter("test")
			require.NoError(t, err)

			require.NoError(t, writer.BeginStopTimes())
			summary, err := ParseStopTimes(
				writer,
				bytes.NewBufferString(tc.content),
				tc.trips,
				tc.stops,
				tc.opts,
			)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NoError(t, writer.EndStopTimes())

			assert.Equal(t, tc.summary, *summary)

			reader, err := s.GetReader("test")
			require.NoError(t, err)
			stopTimes, err := reader.StopTimes()
			require.NoError(t, err)
			sort.Slice(stopTimes, func(i, j int) bool {
				return stopTimes[i].StopSequence < stopTimes[j].StopSequence
			})
			assert.Equal(t, tc.stopTimes, stopTimes)
		})
	}
}
