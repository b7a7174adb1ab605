package main

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb/planar"
	"github.com/spf13/cobra"

	"tidbyt.dev/gtfsstats/geometry"
	"tidbyt.dev/gtfsstats/gtfstime"
	"tidbyt.dev/gtfsstats/model"
	"tidbyt.dev/gtfsstats/stats"
)

var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "Locates active trips at given times of a date",
	Args:  cobra.NoArgs,
	RunE:  locate,
}

var appendDistCmd = &cobra.Command{
	Use:   "append-dist",
	Short: "Writes stop_times with shape_dist_traveled computed from shapes",
	Args:  cobra.NoArgs,
	RunE:  appendDist,
}

var shapesCmd = &cobra.Command{
	Use:   "shapes [shape_id]",
	Short: "Lists shapes as encoded polylines",
	Args:  cobra.MaximumNArgs(1),
	RunE:  shapes,
}

var (
	locateDate  string
	locateTimes []string
)

func init() {
	locateCmd.Flags().StringVarP(&locateDate, "date", "", "", "Date as YYYYMMDD")
	locateCmd.Flags().StringSliceVarP(&locateTimes, "times", "t", nil, "Times as HH:MM:SS")
	locateCmd.MarkFlagRequired("date")
	locateCmd.MarkFlagRequired("times")
}

func locate(cmd *cobra.Command, args []string) error {
	date, err := gtfstime.ParseDate(locateDate)
	if err != nil {
		return fmt.Errorf("invalid date: %w", err)
	}
	times := make([]int, 0, len(locateTimes))
	for _, raw := range locateTimes {
		t, err := gtfstime.ParseTime(raw)
		if err != nil {
			return fmt.Errorf("invalid time: %w", err)
		}
		times = append(times, t)
	}

	return withFeed(cmd, func(a *app) error {
		positions, err := stats.LocateTrips(a.feed, date, times)
		if err != nil {
			return err
		}
		return writeRows(positions)
	})
}

// stopTimeRow is a stop_times.txt row.
type stopTimeRow struct {
	TripID            string `csv:"trip_id" json:"trip_id"`
	ArrivalTime       string `csv:"arrival_time" json:"arrival_time"`
	DepartureTime     string `csv:"departure_time" json:"departure_time"`
	StopID            string `csv:"stop_id" json:"stop_id"`
	StopSequence      uint32 `csv:"stop_sequence" json:"stop_sequence"`
	StopHeadsign      string `csv:"stop_headsign" json:"stop_headsign"`
	ShapeDistTraveled string `csv:"shape_dist_traveled" json:"shape_dist_traveled"`
}

func newStopTimeRow(st model.StopTime) stopTimeRow {
	row := stopTimeRow{
		TripID:        st.TripID,
		ArrivalTime:   gtfstime.FormatTimeOrEmpty(st.Arrival),
		DepartureTime: gtfstime.FormatTimeOrEmpty(st.Departure),
		StopID:        st.StopID,
		StopSequence:  st.StopSequence,
		StopHeadsign:  st.Headsign,
	}
	if st.ShapeDistTraveled != nil {
		row.ShapeDistTraveled = fmt.Sprintf("%g", *st.ShapeDistTraveled)
	}
	return row
}

func appendDist(cmd *cobra.Command, args []string) error {
	return withFeed(cmd, func(a *app) error {
		stopTimes, report := stats.AppendDistToStopTimes(a.feed, a.logger, a.metrics)
		if report.Len() > 0 {
			a.logger.Warn("distances computed with issues", "issues", report.Len())
		}

		rows := make([]stopTimeRow, len(stopTimes))
		for i, st := range stopTimes {
			rows[i] = newStopTimeRow(st)
		}
		return writeRows(rows)
	})
}

type shapeRow struct {
	ShapeID   string  `csv:"shape_id" json:"shape_id"`
	NumPoints int     `csv:"num_points" json:"num_points"`
	Length    float64 `csv:"length" json:"length"`
	IsSimple  bool    `csv:"is_simple" json:"is_simple"`
	Polyline  string  `csv:"polyline" json:"polyline"`
}

func shapes(cmd *cobra.Command, args []string) error {
	return withFeed(cmd, func(a *app) error {
		geom := a.feed.Geometry()

		ids := []string{}
		if len(args) == 1 {
			if _, found := a.feed.Shape(args[0]); !found {
				return fmt.Errorf("shape '%s' not found", args[0])
			}
			ids = append(ids, args[0])
		} else {
			for id := range geom.Shapes(false) {
				ids = append(ids, id)
			}
			sort.Strings(ids)
		}

		rows := make([]shapeRow, 0, len(ids))
		for _, id := range ids {
			shape, _ := a.feed.Shape(id)
			projected, _ := geom.Shape(id, true)
			rows = append(rows, shapeRow{
				ShapeID:   id,
				NumPoints: len(shape),
				Length:    a.feed.Unit().FromMeters(planar.Length(projected)),
				IsSimple:  geom.IsSimple(id),
				Polyline:  geometry.EncodePolyline(shape),
			})
		}
		return writeRows(rows)
	})
}
