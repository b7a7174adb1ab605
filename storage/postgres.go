package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"tidbyt.dev/gtfsstats/model"
)

const (
	PSQLTripBatchSize       = 10000
	PSQLStopTimeBatchSize   = 5000
	PSQLShapePointBatchSize = 10000
)

type PSQLStorage struct {
	db *sql.DB
}

type PSQLFeedWriter struct {
	id string
	db *sql.DB

	trips     copyBuffer
	stopTimes copyBuffer
	shapes    copyBuffer
}

type PSQLFeedReader struct {
	sqlReader
	id string
}

// Creates a new Postgres Storage using the provided connection string.
// All feeds share one set of tables, keyed by feed hash.
//
// If clearDB is true, the database will be cleared on startup. You
// probably only want this for testing.
func NewPSQLStorage(connStr string, clearDB bool) (*PSQLStorage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if clearDB {
		for _, table := range append([]sqlTable{feedTable}, feedTables...) {
			_, err = db.Exec("DROP TABLE IF EXISTS " + table.name)
			if err != nil {
				db.Close()
				return nil, fmt.Errorf("dropping %s: %w", table.name, err)
			}
		}
	}

	_, err = db.Exec(postgresDialect.createTable(feedTable))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating feed table: %w", err)
	}

	for _, table := range feedTables {
		_, err = db.Exec(postgresDialect.createTable(postgresDialect.scoped(table)))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("creating %s table: %w", table.name, err)
		}
	}

	return &PSQLStorage{
		db: db,
	}, nil
}

func (s *PSQLStorage) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close db: %w", err)
	}
	return nil
}

func (s *PSQLStorage) ListFeeds(filter ListFeedsFilter) ([]*FeedMetadata, error) {
	return listFeeds(s.db, postgresDialect, filter)
}

func (s *PSQLStorage) WriteFeedMetadata(feed *FeedMetadata) error {
	return writeFeedMetadata(s.db, postgresDialect, feed)
}

func (s *PSQLStorage) DeleteFeedMetadata(url string, hash string) error {
	return deleteFeedMetadata(s.db, postgresDialect, url, hash)
}

func (s *PSQLStorage) GetReader(hash string) (FeedReader, error) {
	return &PSQLFeedReader{
		sqlReader: sqlReader{
			db:        s.db,
			scope:     " WHERE hash = $1",
			scopeArgs: []interface{}{hash},
		},
		id: hash,
	}, nil
}

// Records already stored under the hash are deleted.
func (s *PSQLStorage) GetWriter(hash string) (FeedWriter, error) {
	for _, table := range feedTables {
		_, err := s.db.Exec(`DELETE FROM `+table.name+` WHERE hash = $1`, hash)
		if err != nil {
			return nil, fmt.Errorf("deleting %s records: %w", table.name, err)
		}
	}

	return &PSQLFeedWriter{
		id: hash,
		db: s.db,
	}, nil
}

func (w *PSQLFeedWriter) exec(table sqlTable, row []interface{}) error {
	_, err := w.db.Exec(
		postgresDialect.insert(postgresDialect.scoped(table)),
		append([]interface{}{w.id}, row...)...,
	)
	if err != nil {
		return fmt.Errorf("inserting into %s: %w", table.name, err)
	}
	return nil
}

func (w *PSQLFeedWriter) WriteAgency(a model.Agency) error {
	return w.exec(agencyTable, agencyRow(a))
}

func (w *PSQLFeedWriter) WriteStop(stop model.Stop) error {
	return w.exec(stopsTable, stopRow(stop))
}

func (w *PSQLFeedWriter) WriteRoute(route model.Route) error {
	return w.exec(routesTable, routeRow(route))
}

func (w *PSQLFeedWriter) WriteCalendar(cal model.Calendar) error {
	return w.exec(calendarTable, calendarRow(cal))
}

func (w *PSQLFeedWriter) WriteCalendarDate(cd model.CalendarDate) error {
	return w.exec(calendarDatesTable, calendarDateRow(cd))
}

// Runs a COPY of buffered rows into table within a single
// transaction.
func (w *PSQLFeedWriter) copyIn(table sqlTable, rows [][]interface{}) error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	columns := postgresDialect.scoped(table).columnNames()
	stmt, err := tx.Prepare(pq.CopyIn(table.name, columns...))
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err = stmt.Exec(append([]interface{}{w.id}, row...)...)
		if err != nil {
			return fmt.Errorf("COPY %s: %w", table.name, err)
		}
	}

	_, err = stmt.Exec()
	if err != nil {
		return fmt.Errorf("executing statement: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	return nil
}

// copyBuffer collects rows for one table and flushes them with COPY
// once batchSize is reached.
type copyBuffer struct {
	table     sqlTable
	batchSize int
	rows      [][]interface{}
}

func (w *PSQLFeedWriter) add(buf *copyBuffer, row []interface{}) error {
	buf.rows = append(buf.rows, row)
	if len(buf.rows) >= buf.batchSize {
		return w.flush(buf)
	}
	return nil
}

func (w *PSQLFeedWriter) flush(buf *copyBuffer) error {
	if len(buf.rows) == 0 {
		return nil
	}
	err := w.copyIn(buf.table, buf.rows)
	if err != nil {
		return fmt.Errorf("flushing %s: %w", buf.table.name, err)
	}
	buf.rows = nil
	return nil
}

func (w *PSQLFeedWriter) BeginTrips() error {
	w.trips = copyBuffer{table: tripsTable, batchSize: PSQLTripBatchSize}
	return nil
}

func (w *PSQLFeedWriter) WriteTrip(trip model.Trip) error {
	return w.add(&w.trips, tripRow(trip))
}

func (w *PSQLFeedWriter) EndTrips() error {
	return w.flush(&w.trips)
}

func (w *PSQLFeedWriter) BeginStopTimes() error {
	w.stopTimes = copyBuffer{table: stopTimesTable, batchSize: PSQLStopTimeBatchSize}
	return nil
}

func (w *PSQLFeedWriter) WriteStopTime(stopTime model.StopTime) error {
	return w.add(&w.stopTimes, stopTimeRow(stopTime))
}

func (w *PSQLFeedWriter) EndStopTimes() error {
	return w.flush(&w.stopTimes)
}

func (w *PSQLFeedWriter) BeginShapes() error {
	w.shapes = copyBuffer{table: shapesTable, batchSize: PSQLShapePointBatchSize}
	return nil
}

func (w *PSQLFeedWriter) WriteShapePoint(p model.ShapePoint) error {
	return w.add(&w.shapes, shapePointRow(p))
}

func (w *PSQLFeedWriter) EndShapes() error {
	return w.flush(&w.shapes)
}

func (w *PSQLFeedWriter) Close() error {
	_, err := w.db.Exec(`ANALYZE`)
	if err != nil {
		return fmt.Errorf("analyzing: %w", err)
	}
	return nil
}

func (r *PSQLFeedReader) ActiveServices(date string) ([]string, error) {
	parsedDate, err := time.Parse("20060102", date)
	if err != nil {
		return nil, fmt.Errorf("invalid date: %s", date)
	}

	weekday := weekdayColumn[parsedDate.Weekday()]

	return r.serviceIDs(`
WITH
Exceptions AS (
        SELECT service_id, exception_type
        FROM calendar_dates
        WHERE hash = $1 AND
              date = $2
),
Regular AS (
        SELECT service_id
        FROM calendar
        WHERE hash = $1 AND
              `+weekday+` = 1 AND
              start_date <= $2 AND
              end_date >= $2
)
SELECT service_id FROM Regular
WHERE service_id NOT IN (SELECT service_id FROM Exceptions)
UNION
SELECT service_id FROM Exceptions
WHERE exception_type = 1
`, r.id, date)
}
