package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tidbyt.dev/gtfsstats/gtfstime"
	"tidbyt.dev/gtfsstats/stats"
)

var tripStatsCmd = &cobra.Command{
	Use:   "trip-stats",
	Short: "Computes per trip stats",
	Args:  cobra.NoArgs,
	RunE:  tripStats,
}

var routeStatsCmd = &cobra.Command{
	Use:   "route-stats",
	Short: "Computes per route stats over a set of dates",
	Args:  cobra.NoArgs,
	RunE:  routeStats,
}

var stopStatsCmd = &cobra.Command{
	Use:   "stop-stats",
	Short: "Computes per stop stats over a set of dates",
	Args:  cobra.NoArgs,
	RunE:  stopStats,
}

var routeTimeSeriesCmd = &cobra.Command{
	Use:   "route-timeseries",
	Short: "Computes route indicators binned over the day",
	Args:  cobra.NoArgs,
	RunE:  routeTimeSeries,
}

var stopTimeSeriesCmd = &cobra.Command{
	Use:   "stop-timeseries",
	Short: "Computes stop visits binned over the day",
	Args:  cobra.NoArgs,
	RunE:  stopTimeSeries,
}

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Lists which trips are active on which dates",
	Args:  cobra.NoArgs,
	RunE:  activity,
}

var busiestDateCmd = &cobra.Command{
	Use:   "busiest-date",
	Short: "Prints the date with the most active trips",
	Args:  cobra.NoArgs,
	RunE:  busiestDate,
}

var (
	routeIDs   []string
	stopIDs    []string
	tripIDs    []string
	fromShapes bool
	split      bool
	byDate     bool
	freq       int
	wide       string
)

func init() {
	tripStatsCmd.Flags().StringSliceVarP(&routeIDs, "route-id", "r", nil, "Restrict to these routes")
	tripStatsCmd.Flags().BoolVarP(&fromShapes, "from-shapes", "", false, "Compute distances from shapes even if stop times have shape_dist_traveled")

	for _, cmd := range []*cobra.Command{routeStatsCmd, stopStatsCmd, routeTimeSeriesCmd, stopTimeSeriesCmd} {
		cmd.Flags().BoolVarP(&split, "split", "s", false, "Split by direction_id")
	}
	routeStatsCmd.Flags().BoolVarP(&fromShapes, "from-shapes", "", false, "Compute distances from shapes even if stop times have shape_dist_traveled")
	routeStatsCmd.Flags().BoolVarP(&byDate, "by-date", "", false, "One set of rows per date")
	routeTimeSeriesCmd.Flags().BoolVarP(&fromShapes, "from-shapes", "", false, "Compute distances from shapes even if stop times have shape_dist_traveled")

	stopStatsCmd.Flags().StringSliceVarP(&stopIDs, "stop-id", "", nil, "Restrict to these stops")
	stopTimeSeriesCmd.Flags().StringSliceVarP(&stopIDs, "stop-id", "", nil, "Restrict to these stops")

	for _, cmd := range []*cobra.Command{routeTimeSeriesCmd, stopTimeSeriesCmd} {
		cmd.Flags().IntVarP(&freq, "freq", "", 0, "Bin width in minutes (default from config)")
		cmd.Flags().StringVarP(&wide, "wide", "", "", "Output one indicator as a time x key table")
	}

	activityCmd.Flags().StringSliceVarP(&tripIDs, "trip-id", "", nil, "Restrict to these trips")
}

func (a *app) tripStatsOptions() stats.TripStatsOptions {
	return stats.TripStatsOptions{
		ComputeDistFromShapes: fromShapes,
		LoopThreshold:         a.cfg.Stats.LoopThreshold,
		DistanceSlack:         a.cfg.Stats.DistanceSlack,
		Workers:               a.cfg.Stats.Workers,
		Logger:                a.logger,
		Metrics:               a.metrics,
	}
}

func (a *app) computeTripStats(cmd *cobra.Command) ([]stats.TripStats, error) {
	rows, report, err := stats.ComputeTripStats(cmd.Context(), a.feed, a.tripStatsOptions())
	if err != nil {
		return nil, err
	}
	if report.Len() > 0 {
		a.logger.Warn("trip stats computed with issues", "issues", report.Len())
	}
	return rows, nil
}

func tripStats(cmd *cobra.Command, args []string) error {
	return withFeed(cmd, func(a *app) error {
		opts := a.tripStatsOptions()
		opts.RouteIDs = routeIDs

		rows, report, err := stats.ComputeTripStats(cmd.Context(), a.feed, opts)
		if err != nil {
			return err
		}
		if report.Len() > 0 {
			a.logger.Warn("trip stats computed with issues", "issues", report.Len())
		}
		return writeRows(rows)
	})
}

func routeStats(cmd *cobra.Command, args []string) error {
	return withFeed(cmd, func(a *app) error {
		dates, err := resolveDates(datesFlag, a.feed)
		if err != nil {
			return err
		}
		start, end, err := a.cfg.Stats.HeadwayWindow()
		if err != nil {
			return err
		}
		tripStats, err := a.computeTripStats(cmd)
		if err != nil {
			return err
		}

		opts := stats.RouteStatsOptions{
			SplitDirections: split || a.cfg.Stats.SplitDirections,
			HeadwayStart:    start,
			HeadwayEnd:      end,
			Logger:          a.logger,
			Metrics:         a.metrics,
		}

		if byDate {
			rows, err := stats.ComputeRouteStatsByDate(a.feed, tripStats, dates, opts)
			if err != nil {
				return err
			}
			records := make([][]string, len(rows))
			for i, row := range rows {
				records[i] = row.Record(opts.SplitDirections)
			}
			return writeTable(stats.RouteStatsByDateColumns(opts.SplitDirections), records, rows)
		}

		rows, err := stats.ComputeRouteStats(a.feed, tripStats, dates, opts)
		if err != nil {
			return err
		}
		records := make([][]string, len(rows))
		for i, row := range rows {
			records[i] = row.Record(opts.SplitDirections)
		}
		return writeTable(stats.RouteStatsColumns(opts.SplitDirections), records, rows)
	})
}

func stopStats(cmd *cobra.Command, args []string) error {
	return withFeed(cmd, func(a *app) error {
		dates, err := resolveDates(datesFlag, a.feed)
		if err != nil {
			return err
		}
		start, end, err := a.cfg.Stats.HeadwayWindow()
		if err != nil {
			return err
		}

		opts := stats.StopStatsOptions{
			StopIDs:         stopIDs,
			SplitDirections: split || a.cfg.Stats.SplitDirections,
			HeadwayStart:    start,
			HeadwayEnd:      end,
			Logger:          a.logger,
			Metrics:         a.metrics,
		}
		rows, err := stats.ComputeStopStats(a.feed, dates, opts)
		if err != nil {
			return err
		}
		records := make([][]string, len(rows))
		for i, row := range rows {
			records[i] = row.Record(opts.SplitDirections)
		}
		return writeTable(stats.StopStatsColumns(opts.SplitDirections), records, rows)
	})
}

func (a *app) timeSeriesOptions() stats.TimeSeriesOptions {
	f := freq
	if f <= 0 {
		f = a.cfg.Stats.Freq
	}
	return stats.TimeSeriesOptions{
		Freq:            f,
		SplitDirections: split || a.cfg.Stats.SplitDirections,
		Logger:          a.logger,
		Metrics:         a.metrics,
	}
}

func writeTimeSeries(ts *stats.TimeSeries) error {
	if wide != "" {
		records, err := ts.WideRecords(wide)
		if err != nil {
			return err
		}
		return writeTable(ts.WideColumns(), records, ts.Points())
	}
	return writeRows(ts.Points())
}

func routeTimeSeries(cmd *cobra.Command, args []string) error {
	return withFeed(cmd, func(a *app) error {
		dates, err := resolveDates(datesFlag, a.feed)
		if err != nil {
			return err
		}
		tripStats, err := a.computeTripStats(cmd)
		if err != nil {
			return err
		}

		ts, err := stats.ComputeRouteTimeSeries(a.feed, tripStats, dates, a.timeSeriesOptions())
		if err != nil {
			return err
		}
		return writeTimeSeries(ts)
	})
}

func stopTimeSeries(cmd *cobra.Command, args []string) error {
	return withFeed(cmd, func(a *app) error {
		dates, err := resolveDates(datesFlag, a.feed)
		if err != nil {
			return err
		}

		ts, err := stats.ComputeStopTimeSeries(a.feed, dates, stopIDs, a.timeSeriesOptions())
		if err != nil {
			return err
		}
		return writeTimeSeries(ts)
	})
}

// activityRecords renders each trip's activity as 0/1 columns.
func activityRecords(dates []gtfstime.Date, rows []stats.ActivityRow) ([]string, [][]string) {
	header := append([]string{"trip_id", "route_id"}, gtfstime.DateStrings(dates)...)
	records := make([][]string, len(rows))
	for i, row := range rows {
		rec := make([]string, 0, len(header))
		rec = append(rec, row.TripID, row.RouteID)
		for _, active := range row.Active {
			if active {
				rec = append(rec, "1")
			} else {
				rec = append(rec, "0")
			}
		}
		records[i] = rec
	}
	return header, records
}

func activity(cmd *cobra.Command, args []string) error {
	return withFeed(cmd, func(a *app) error {
		dates, err := resolveDates(datesFlag, a.feed)
		if err != nil {
			return err
		}

		rows := stats.ComputeTripActivity(a.feed, tripIDs, dates).Rows()
		header, records := activityRecords(dates, rows)
		return writeTable(header, records, rows)
	})
}

func busiestDate(cmd *cobra.Command, args []string) error {
	return withFeed(cmd, func(a *app) error {
		dates := a.feed.Dates()
		if strings.TrimSpace(datesFlag) != "" {
			var err error
			dates, err = resolveDates(datesFlag, a.feed)
			if err != nil {
				return err
			}
		}

		date, err := stats.BusiestDate(a.feed, dates)
		if err != nil {
			return err
		}
		fmt.Println(date.String())
		return nil
	})
}
