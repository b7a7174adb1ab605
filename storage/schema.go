package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"tidbyt.dev/gtfsstats/model"
)

type columnKind int

const (
	kindText columnKind = iota
	kindInt
	kindSmallInt
	kindReal
	kindBool
	kindTime
)

type sqlColumn struct {
	name    string
	kind    columnKind
	notNull bool
}

type sqlIndex struct {
	name    string
	columns []string
}

// sqlTable describes one table of the SQL backends. Both SQLite and
// Postgres create, fill and query their tables from these.
type sqlTable struct {
	name       string
	columns    []sqlColumn
	primaryKey []string
	indexes    []sqlIndex
}

func (t sqlTable) columnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.name
	}
	return names
}

// selectList is the table's column list, in declaration order.
func (t sqlTable) selectList() string {
	return strings.Join(t.columnNames(), ", ")
}

var feedTable = sqlTable{
	name: "feed",
	columns: []sqlColumn{
		{"hash", kindText, false},
		{"url", kindText, true},
		{"retrieved_at", kindTime, true},
		{"calendar_start", kindText, true},
		{"calendar_end", kindText, true},
		{"timezone", kindText, true},
		{"max_arrival", kindText, true},
		{"max_departure", kindText, true},
		{"num_shapes", kindInt, true},
		{"num_missing_shapes", kindInt, true},
		{"has_shape_dist_traveled", kindBool, true},
	},
	primaryKey: []string{"hash", "url"},
}

var (
	agencyTable = sqlTable{
		name: "agency",
		columns: []sqlColumn{
			{"id", kindText, true},
			{"name", kindText, true},
			{"url", kindText, true},
			{"timezone", kindText, true},
		},
		primaryKey: []string{"id"},
	}

	stopsTable = sqlTable{
		name: "stops",
		columns: []sqlColumn{
			{"id", kindText, true},
			{"code", kindText, false},
			{"name", kindText, true},
			{"description", kindText, false},
			{"lat", kindReal, true},
			{"lon", kindReal, true},
			{"url", kindText, false},
			{"location_type", kindInt, true},
			{"parent_station", kindText, false},
			{"platform_code", kindText, false},
		},
		primaryKey: []string{"id"},
	}

	routesTable = sqlTable{
		name: "routes",
		columns: []sqlColumn{
			{"id", kindText, true},
			{"agency_id", kindText, false},
			{"short_name", kindText, false},
			{"long_name", kindText, true},
			{"description", kindText, false},
			{"type", kindInt, true},
			{"url", kindText, false},
			{"color", kindText, false},
			{"text_color", kindText, false},
		},
		primaryKey: []string{"id"},
	}

	tripsTable = sqlTable{
		name: "trips",
		columns: []sqlColumn{
			{"id", kindText, true},
			{"route_id", kindText, true},
			{"service_id", kindText, true},
			{"headsign", kindText, false},
			{"short_name", kindText, false},
			{"direction_id", kindSmallInt, false},
			{"shape_id", kindText, false},
		},
		primaryKey: []string{"id"},
		indexes:    []sqlIndex{{"trips_route_id", []string{"route_id"}}},
	}

	stopTimesTable = sqlTable{
		name: "stop_times",
		columns: []sqlColumn{
			{"trip_id", kindText, true},
			{"stop_id", kindText, true},
			{"headsign", kindText, false},
			{"stop_sequence", kindInt, true},
			{"arrival_time", kindInt, false},
			{"departure_time", kindInt, false},
			{"shape_dist_traveled", kindReal, false},
		},
		primaryKey: []string{"trip_id", "stop_sequence"},
		indexes:    []sqlIndex{{"stop_times_stop_id", []string{"stop_id"}}},
	}

	shapesTable = sqlTable{
		name: "shapes",
		columns: []sqlColumn{
			{"shape_id", kindText, true},
			{"lat", kindReal, true},
			{"lon", kindReal, true},
			{"sequence", kindInt, true},
			{"dist_traveled", kindReal, false},
		},
		primaryKey: []string{"shape_id", "sequence"},
	}

	calendarTable = sqlTable{
		name: "calendar",
		columns: []sqlColumn{
			{"service_id", kindText, true},
			{"start_date", kindText, true},
			{"end_date", kindText, true},
			{"monday", kindInt, true},
			{"tuesday", kindInt, true},
			{"wednesday", kindInt, true},
			{"thursday", kindInt, true},
			{"friday", kindInt, true},
			{"saturday", kindInt, true},
			{"sunday", kindInt, true},
		},
		primaryKey: []string{"service_id"},
	}

	calendarDatesTable = sqlTable{
		name: "calendar_dates",
		columns: []sqlColumn{
			{"service_id", kindText, true},
			{"date", kindText, true},
			{"exception_type", kindInt, true},
		},
		primaryKey: []string{"service_id", "date"},
	}
)

// feedTables hold the records of a single feed.
var feedTables = []sqlTable{
	agencyTable,
	stopsTable,
	routesTable,
	tripsTable,
	stopTimesTable,
	shapesTable,
	calendarTable,
	calendarDatesTable,
}

// dialect renders table definitions and statements for one SQL
// backend.
type dialect struct {
	types       map[columnKind]string
	placeholder func(n int) string

	// If set, feed tables are shared by all feeds and carry this
	// leading key column.
	scopeColumn string
}

var sqliteDialect = dialect{
	types: map[columnKind]string{
		kindText:     "TEXT",
		kindInt:      "INTEGER",
		kindSmallInt: "INTEGER",
		kindReal:     "REAL",
		kindBool:     "INTEGER",
		kindTime:     "TIMESTAMP",
	},
	placeholder: func(int) string { return "?" },
}

var postgresDialect = dialect{
	types: map[columnKind]string{
		kindText:     "TEXT",
		kindInt:      "INTEGER",
		kindSmallInt: "SMALLINT",
		kindReal:     "DOUBLE PRECISION",
		kindBool:     "BOOLEAN",
		kindTime:     "TIMESTAMPTZ",
	},
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	scopeColumn: "hash",
}

// scoped adds the scope column to a feed table.
func (d dialect) scoped(t sqlTable) sqlTable {
	if d.scopeColumn == "" {
		return t
	}

	scoped := sqlTable{
		name:       t.name,
		columns:    append([]sqlColumn{{d.scopeColumn, kindText, true}}, t.columns...),
		primaryKey: append([]string{d.scopeColumn}, t.primaryKey...),
	}
	for _, idx := range t.indexes {
		scoped.indexes = append(scoped.indexes, sqlIndex{
			name:    idx.name,
			columns: append([]string{d.scopeColumn}, idx.columns...),
		})
	}
	return scoped
}

func (d dialect) createTable(t sqlTable) string {
	defs := make([]string, 0, len(t.columns)+1)
	for _, c := range t.columns {
		def := c.name + " " + d.types[c.kind]
		if c.notNull {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	defs = append(defs, "PRIMARY KEY ("+strings.Join(t.primaryKey, ", ")+")")

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n    %s\n);", t.name, strings.Join(defs, ",\n    "))
	for _, idx := range t.indexes {
		fmt.Fprintf(&b, "\nCREATE INDEX IF NOT EXISTS %s ON %s (%s);", idx.name, t.name, strings.Join(idx.columns, ", "))
	}
	return b.String()
}

func (d dialect) placeholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = d.placeholder(i + 1)
	}
	return strings.Join(ph, ", ")
}

func (d dialect) insert(t sqlTable) string {
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		t.name,
		t.selectList(),
		d.placeholders(len(t.columns)),
	)
}

// upsert inserts a row, replacing the non-key columns on conflict.
func (d dialect) upsert(t sqlTable) string {
	key := map[string]bool{}
	for _, k := range t.primaryKey {
		key[k] = true
	}

	set := []string{}
	for _, c := range t.columns {
		if !key[c.name] {
			set = append(set, fmt.Sprintf("%s = excluded.%s", c.name, c.name))
		}
	}

	return fmt.Sprintf(
		"%s ON CONFLICT (%s) DO UPDATE SET %s",
		d.insert(t),
		strings.Join(t.primaryKey, ", "),
		strings.Join(set, ", "),
	)
}

// Row values for each feed table, in column order.

func agencyRow(a model.Agency) []interface{} {
	return []interface{}{a.ID, a.Name, a.URL, a.Timezone}
}

func stopRow(s model.Stop) []interface{} {
	return []interface{}{
		s.ID,
		s.Code,
		s.Name,
		s.Desc,
		s.Lat,
		s.Lon,
		s.URL,
		s.LocationType,
		sql.NullString{String: s.ParentStation, Valid: s.ParentStation != ""},
		s.PlatformCode,
	}
}

func routeRow(r model.Route) []interface{} {
	return []interface{}{
		r.ID,
		r.AgencyID,
		r.ShortName,
		r.LongName,
		r.Desc,
		r.Type,
		r.URL,
		r.Color,
		r.TextColor,
	}
}

func tripRow(t model.Trip) []interface{} {
	return []interface{}{
		t.ID,
		t.RouteID,
		t.ServiceID,
		t.Headsign,
		t.ShortName,
		nullInt8(t.DirectionID),
		t.ShapeID,
	}
}

func stopTimeRow(st model.StopTime) []interface{} {
	return []interface{}{
		st.TripID,
		st.StopID,
		st.Headsign,
		st.StopSequence,
		nullInt(st.Arrival),
		nullInt(st.Departure),
		nullFloat(st.ShapeDistTraveled),
	}
}

func shapePointRow(p model.ShapePoint) []interface{} {
	return []interface{}{p.ShapeID, p.Lat, p.Lon, p.Sequence, nullFloat(p.DistTraveled)}
}

func calendarRow(c model.Calendar) []interface{} {
	row := []interface{}{c.ServiceID, c.StartDate, c.EndDate}
	for _, d := range weekdayColumns(c.Weekday) {
		row = append(row, d)
	}
	return row
}

func calendarDateRow(cd model.CalendarDate) []interface{} {
	return []interface{}{cd.ServiceID, cd.Date, cd.ExceptionType}
}

func feedRow(f *FeedMetadata) []interface{} {
	return []interface{}{
		f.Hash,
		f.URL,
		f.RetrievedAt.UTC(),
		f.CalendarStartDate,
		f.CalendarEndDate,
		f.Timezone,
		f.MaxArrival,
		f.MaxDeparture,
		f.NumShapes,
		f.NumMissingShapes,
		f.HasShapeDistTraveled,
	}
}

// listFeeds implements Storage.ListFeeds for the SQL backends.
func listFeeds(db *sql.DB, d dialect, filter ListFeedsFilter) ([]*FeedMetadata, error) {
	query := "SELECT " + feedTable.selectList() + " FROM feed"

	conditions := []string{}
	params := []interface{}{}
	if filter.URL != "" {
		params = append(params, filter.URL)
		conditions = append(conditions, "url = "+d.placeholder(len(params)))
	}
	if filter.Hash != "" {
		params = append(params, filter.Hash)
		conditions = append(conditions, "hash = "+d.placeholder(len(params)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY retrieved_at DESC"

	rows, err := db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("listing feeds: %w", err)
	}
	defer rows.Close()

	feeds := []*FeedMetadata{}
	for rows.Next() {
		var feed FeedMetadata
		err := rows.Scan(
			&feed.Hash,
			&feed.URL,
			&feed.RetrievedAt,
			&feed.CalendarStartDate,
			&feed.CalendarEndDate,
			&feed.Timezone,
			&feed.MaxArrival,
			&feed.MaxDeparture,
			&feed.NumShapes,
			&feed.NumMissingShapes,
			&feed.HasShapeDistTraveled,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning feed: %w", err)
		}
		feed.RetrievedAt = feed.RetrievedAt.UTC()
		feeds = append(feeds, &feed)
	}

	return feeds, rows.Err()
}

func writeFeedMetadata(db *sql.DB, d dialect, feed *FeedMetadata) error {
	_, err := db.Exec(d.upsert(feedTable), feedRow(feed)...)
	if err != nil {
		return fmt.Errorf("writing feed metadata: %w", err)
	}
	return nil
}

func deleteFeedMetadata(db *sql.DB, d dialect, url string, hash string) error {
	_, err := db.Exec(
		"DELETE FROM feed WHERE url = "+d.placeholder(1)+" AND hash = "+d.placeholder(2),
		url, hash,
	)
	if err != nil {
		return fmt.Errorf("deleting feed metadata: %w", err)
	}
	return nil
}
