package storage

import (
	"database/sql"
	"fmt"
	"sort"

	"tidbyt.dev/gtfsstats/model"
)

// sqlReader reads feed tables over database/sql. The SQLite and
// Postgres readers differ only in how rows are scoped to a feed.
type sqlReader struct {
	db *sql.DB

	// Appended to every query, with its args, to select the rows
	// of a single feed.
	scope     string
	scopeArgs []interface{}
}

// queryRows selects the table's columns in declaration order.
func queryRows[T any](r *sqlReader, t sqlTable, scan func(rows *sql.Rows, v *T) error) ([]T, error) {
	table := t.name
	rows, err := r.db.Query("SELECT "+t.selectList()+" FROM "+table+r.scope, r.scopeArgs...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		var v T
		if err := scan(rows, &v); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", table, err)
		}
		out = append(out, v)
	}

	return out, rows.Err()
}

func (r *sqlReader) Agencies() ([]model.Agency, error) {
	return queryRows(r, agencyTable, func(rows *sql.Rows, a *model.Agency) error {
		return rows.Scan(&a.ID, &a.Name, &a.URL, &a.Timezone)
	})
}

func (r *sqlReader) Stops() ([]model.Stop, error) {
	return queryRows(r, stopsTable, func(rows *sql.Rows, s *model.Stop) error {
		var parentStation sql.NullString
		err := rows.Scan(
			&s.ID,
			&s.Code,
			&s.Name,
			&s.Desc,
			&s.Lat,
			&s.Lon,
			&s.URL,
			&s.LocationType,
			&parentStation,
			&s.PlatformCode,
		)
		s.ParentStation = parentStation.String
		return err
	})
}

func (r *sqlReader) Routes() ([]model.Route, error) {
	return queryRows(r, routesTable, func(rows *sql.Rows, route *model.Route) error {
		return rows.Scan(
			&route.ID,
			&route.AgencyID,
			&route.ShortName,
			&route.LongName,
			&route.Desc,
			&route.Type,
			&route.URL,
			&route.Color,
			&route.TextColor,
		)
	})
}

func (r *sqlReader) Trips() ([]model.Trip, error) {
	return queryRows(r, tripsTable, func(rows *sql.Rows, t *model.Trip) error {
		var directionID sql.NullInt16
		err := rows.Scan(
			&t.ID,
			&t.RouteID,
			&t.ServiceID,
			&t.Headsign,
			&t.ShortName,
			&directionID,
			&t.ShapeID,
		)
		if directionID.Valid {
			t.DirectionID = model.Int8(int8(directionID.Int16))
		}
		return err
	})
}

func (r *sqlReader) StopTimes() ([]model.StopTime, error) {
	return queryRows(r, stopTimesTable, func(rows *sql.Rows, st *model.StopTime) error {
		var arrival, departure sql.NullInt64
		var dist sql.NullFloat64
		err := rows.Scan(
			&st.TripID,
			&st.StopID,
			&st.Headsign,
			&st.StopSequence,
			&arrival,
			&departure,
			&dist,
		)
		st.Arrival = intFromNull(arrival)
		st.Departure = intFromNull(departure)
		st.ShapeDistTraveled = floatFromNull(dist)
		return err
	})
}

func (r *sqlReader) ShapePoints() ([]model.ShapePoint, error) {
	return queryRows(r, shapesTable, func(rows *sql.Rows, p *model.ShapePoint) error {
		var dist sql.NullFloat64
		err := rows.Scan(&p.ShapeID, &p.Lat, &p.Lon, &p.Sequence, &dist)
		p.DistTraveled = floatFromNull(dist)
		return err
	})
}

func (r *sqlReader) Calendars() ([]model.Calendar, error) {
	return queryRows(r, calendarTable, func(rows *sql.Rows, c *model.Calendar) error {
		var days [7]int
		err := rows.Scan(
			&c.ServiceID,
			&c.StartDate,
			&c.EndDate,
			&days[0], &days[1], &days[2], &days[3], &days[4], &days[5], &days[6],
		)
		set := [7]bool{}
		for i, d := range days {
			set[i] = d == 1
		}
		c.Weekday = weekdayMask(set)
		return err
	})
}

func (r *sqlReader) CalendarDates() ([]model.CalendarDate, error) {
	return queryRows(r, calendarDatesTable, func(rows *sql.Rows, cd *model.CalendarDate) error {
		return rows.Scan(&cd.ServiceID, &cd.Date, &cd.ExceptionType)
	})
}

// serviceIDs runs a query returning service IDs, and sorts them.
func (r *sqlReader) serviceIDs(query string, args ...interface{}) ([]string, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying for active services: %w", err)
	}
	defer rows.Close()

	services := []string{}
	for rows.Next() {
		var serviceID string
		if err := rows.Scan(&serviceID); err != nil {
			return nil, fmt.Errorf("scanning active services: %w", err)
		}
		services = append(services, serviceID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Strings(services)
	return services, nil
}
