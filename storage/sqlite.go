package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tidbyt.dev/gtfsstats/model"
)

type SQLiteConfig struct {
	OnDisk    bool
	Directory string
}

type SQLiteStorage struct {
	SQLiteConfig

	mutex  sync.Mutex
	feedDB *sql.DB
	feeds  map[string]*sql.DB
}

type SQLiteFeedWriter struct {
	db *sql.DB

	// Open between Begin* and End* of trips, stop times and
	// shapes.
	tx   *sql.Tx
	stmt *sql.Stmt
}

type SQLiteFeedReader struct {
	sqlReader
}

func newSQLiteFeedReader(db *sql.DB) *SQLiteFeedReader {
	return &SQLiteFeedReader{sqlReader{db: db}}
}

func NewSQLiteStorage(cfg ...SQLiteConfig) (*SQLiteStorage, error) {
	config := SQLiteConfig{}
	if len(cfg) > 0 {
		config = cfg[0]
	}

	db, err := openSQLite(config.path("gtfsstats"), config.OnDisk)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(sqliteDialect.createTable(feedTable))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating feed table: %w", err)
	}

	return &SQLiteStorage{
		SQLiteConfig: config,
		feedDB:       db,
		feeds:        map[string]*sql.DB{},
	}, nil
}

// path is the database file for name, or an in-memory database.
func (c SQLiteConfig) path(name string) string {
	if !c.OnDisk {
		return ":memory:"
	}
	return filepath.Join(c.Directory, name+".db")
}

func openSQLite(sourceName string, onDisk bool) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", sourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// An in-memory database lives and dies with its connection.
	if !onDisk {
		db.SetMaxOpenConns(1)
	}

	return db, nil
}

func (s *SQLiteStorage) ListFeeds(filter ListFeedsFilter) ([]*FeedMetadata, error) {
	return listFeeds(s.feedDB, sqliteDialect, filter)
}

func (s *SQLiteStorage) WriteFeedMetadata(feed *FeedMetadata) error {
	return writeFeedMetadata(s.feedDB, sqliteDialect, feed)
}

func (s *SQLiteStorage) DeleteFeedMetadata(url string, hash string) error {
	return deleteFeedMetadata(s.feedDB, sqliteDialect, url, hash)
}

func (s *SQLiteStorage) GetReader(feedID string) (FeedReader, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	db, found := s.feeds[feedID]
	if found {
		return newSQLiteFeedReader(db), nil
	}
	if !s.OnDisk {
		return nil, fmt.Errorf("feed %s does not exist", feedID)
	}

	sourceName := s.path(feedID)
	if _, err := os.Stat(sourceName); os.IsNotExist(err) {
		return nil, fmt.Errorf("feed %s does not exist at %s", feedID, sourceName)
	}

	db, err := openSQLite(sourceName, true)
	if err != nil {
		return nil, err
	}
	s.feeds[feedID] = db

	return newSQLiteFeedReader(db), nil
}

// Each feed gets a database of its own. On disk, an existing
// database for the feed is replaced.
func (s *SQLiteStorage) GetWriter(feedID string) (FeedWriter, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	sourceName := s.path(feedID)
	if s.OnDisk {
		err := os.Remove(sourceName)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing existing database: %w", err)
		}
	}

	db, err := openSQLite(sourceName, s.OnDisk)
	if err != nil {
		return nil, err
	}

	for _, table := range feedTables {
		_, err = db.Exec(sqliteDialect.createTable(table))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("creating %s table: %w", table.name, err)
		}
	}

	s.feeds[feedID] = db

	return &SQLiteFeedWriter{
		db: db,
	}, nil
}

func (f *SQLiteFeedWriter) exec(table sqlTable, row []interface{}) error {
	_, err := f.db.Exec(sqliteDialect.insert(table), row...)
	if err != nil {
		return fmt.Errorf("inserting into %s: %w", table.name, err)
	}
	return nil
}

func (f *SQLiteFeedWriter) WriteAgency(a model.Agency) error {
	return f.exec(agencyTable, agencyRow(a))
}

func (f *SQLiteFeedWriter) WriteStop(stop model.Stop) error {
	return f.exec(stopsTable, stopRow(stop))
}

func (f *SQLiteFeedWriter) WriteRoute(route model.Route) error {
	return f.exec(routesTable, routeRow(route))
}

func (f *SQLiteFeedWriter) WriteCalendar(cal model.Calendar) error {
	return f.exec(calendarTable, calendarRow(cal))
}

func (f *SQLiteFeedWriter) WriteCalendarDate(cd model.CalendarDate) error {
	return f.exec(calendarDatesTable, calendarDateRow(cd))
}

// Trips, stop times and shape points are inserted within a single
// transaction per table, through a prepared statement.
func (f *SQLiteFeedWriter) begin(table sqlTable) error {
	if f.tx != nil {
		return fmt.Errorf("beginning %s: another insert is in progress", table.name)
	}

	var err error
	f.tx, err = f.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning %s transaction: %w", table.name, err)
	}

	f.stmt, err = f.tx.Prepare(sqliteDialect.insert(table))
	if err != nil {
		f.tx.Rollback()
		f.tx = nil
		return fmt.Errorf("preparing %s insert: %w", table.name, err)
	}

	return nil
}

func (f *SQLiteFeedWriter) insert(table sqlTable, row []interface{}) error {
	if f.stmt == nil {
		return fmt.Errorf("inserting into %s outside of transaction", table.name)
	}
	_, err := f.stmt.Exec(row...)
	if err != nil {
		f.abort()
		return fmt.Errorf("inserting into %s: %w", table.name, err)
	}
	return nil
}

func (f *SQLiteFeedWriter) abort() {
	f.stmt.Close()
	f.tx.Rollback()
	f.tx = nil
	f.stmt = nil
}

func (f *SQLiteFeedWriter) end(table sqlTable) error {
	if f.tx == nil {
		return fmt.Errorf("no open %s transaction", table.name)
	}
	f.stmt.Close()
	err := f.tx.Commit()
	f.tx = nil
	f.stmt = nil
	if err != nil {
		return fmt.Errorf("committing %s transaction: %w", table.name, err)
	}
	return nil
}

func (f *SQLiteFeedWriter) BeginTrips() error {
	return f.begin(tripsTable)
}

func (f *SQLiteFeedWriter) WriteTrip(trip model.Trip) error {
	return f.insert(tripsTable, tripRow(trip))
}

func (f *SQLiteFeedWriter) EndTrips() error {
	return f.end(tripsTable)
}

func (f *SQLiteFeedWriter) BeginStopTimes() error {
	return f.begin(stopTimesTable)
}

func (f *SQLiteFeedWriter) WriteStopTime(stopTime model.StopTime) error {
	return f.insert(stopTimesTable, stopTimeRow(stopTime))
}

func (f *SQLiteFeedWriter) EndStopTimes() error {
	return f.end(stopTimesTable)
}

func (f *SQLiteFeedWriter) BeginShapes() error {
	return f.begin(shapesTable)
}

func (f *SQLiteFeedWriter) WriteShapePoint(p model.ShapePoint) error {
	return f.insert(shapesTable, shapePointRow(p))
}

func (f *SQLiteFeedWriter) EndShapes() error {
	return f.end(shapesTable)
}

func (f *SQLiteFeedWriter) Close() error {
	if f.tx != nil {
		f.abort()
	}

	_, err := f.db.Exec(`ANALYZE;`)
	if err != nil {
		return fmt.Errorf("analyzing database: %w", err)
	}

	return nil
}

func (r *SQLiteFeedReader) ActiveServices(date string) ([]string, error) {
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
	WHERE date = ?
),
Regular AS (
	SELECT service_id
	FROM calendar
	WHERE `+weekday+` = 1 AND
	      start_date <= ? AND
	      end_date >= ?
)
SELECT service_id FROM Regular
WHERE service_id NOT IN (SELECT service_id FROM Exceptions)
UNION
SELECT service_id FROM Exceptions
WHERE exception_type = 1
`, date, date, date)
}
