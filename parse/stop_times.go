package parse

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"tidbyt.dev/gtfsstats/gtfstime"
	"tidbyt.dev/gtfsstats/model"
	"tidbyt.dev/gtfsstats/storage"
)

type StopTimeCSV struct {
	TripID            string `csv:"trip_id"`
	StopID            string `csv:"stop_id"`
	StopSequence      uint32 `csv:"stop_sequence"`
	ArrivalTime       string `csv:"arrival_time"`
	DepartureTime     string `csv:"departure_time"`
	Headsign          string `csv:"stop_headsign"`
	ShapeDistTraveled string `csv:"shape_dist_traveled"`
}

// Blank times are legal for stops that aren't timepoints and map to
// nil. Malformed times are errors, unless lenient.
func parseStopTimeTime(s string, lenient bool) (*int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	n, err := gtfstime.ParseTime(s)
	if err != nil {
		if lenient {
			return nil, nil
		}
		return nil, err
	}
	return &n, nil
}

func parseOptionalFloat(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// StopTimesSummary holds facts about stop_times.txt gathered while
// parsing.
type StopTimesSummary struct {
	MaxArrival           int
	MaxDeparture         int
	HasShapeDistTraveled bool
}

func ParseStopTimes(
	writer storage.FeedWriter,
	data io.Reader,
	trips map[string]bool,
	stops map[string]bool,
	opts ParseOptions,
) (*StopTimesSummary, error) {

	summary := &StopTimesSummary{}
	stopSeq := map[string]map[uint32]bool{}

	i := -1
	err := gocsv.UnmarshalToCallbackWithError(data, func(st *StopTimeCSV) error {
		i += 1
		if !trips[st.TripID] {
			return fmt.Errorf("unknown trip_id: '%s' (row %d)", st.TripID, i+1)
		}
		if st.StopID == "" {
			return fmt.Errorf("missing stop_id (row %d)", i+1)
		}
		if !stops[st.StopID] {
			return fmt.Errorf("unknown stop_id: '%s' (row %d)", st.StopID, i+1)
		}

		arrival, err := parseStopTimeTime(st.ArrivalTime, opts.LenientTimes)
		if err != nil {
			return errors.Wrapf(err, "parsing arrival_time (row %d)", i+1)
		}

		departure, err := parseStopTimeTime(st.DepartureTime, opts.LenientTimes)
		if err != nil {
			return errors.Wrapf(err, "parsing departure_time (row %d)", i+1)
		}

		dist, err := parseOptionalFloat(st.ShapeDistTraveled)
		if err != nil {
			return errors.Wrapf(err, "parsing shape_dist_traveled (row %d)", i+1)
		}

		seen, found := stopSeq[st.TripID]
		if !found {
			seen = map[uint32]bool{}
			stopSeq[st.TripID] = seen
		}
		if seen[st.StopSequence] {
			return fmt.Errorf("duplicate stop_sequence %d for trip_id '%s'", st.StopSequence, st.TripID)
		}
		seen[st.StopSequence] = true

		if arrival != nil && *arrival > summary.MaxArrival {
			summary.MaxArrival = *arrival
		}
		if departure != nil && *departure > summary.MaxDeparture {
			summary.MaxDeparture = *departure
		}
		if dist != nil {
			summary.HasShapeDistTraveled = true
		}

		err = writer.WriteStopTime(model.StopTime{
			TripID:            st.TripID,
			StopID:            st.StopID,
			Headsign:          st.Headsign,
			StopSequence:      st.StopSequence,
			Arrival:           arrival,
			Departure:         departure,
			ShapeDistTraveled: dist,
		})
		if err != nil {
			return errors.Wrapf(err, "writing stop_time (row %d)", i+1)
		}

		return nil
	})

	if err != nil {
		return nil, errors.Wrap(err, "unmarshaling stop_times csv")
	}

	return summary, nil
}
