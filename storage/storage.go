package storage

import (
	"time"

	"tidbyt.dev/gtfsstats/model"
)

type Storage interface {
	// Retrieves all feed metadata records matching the given
	// filter, most recently retrieved first.
	ListFeeds(filter ListFeedsFilter) ([]*FeedMetadata, error)

	// Writes a FeedMetadata record. If a record with the same URL
	// and hash exists, it is updated.
	WriteFeedMetadata(metadata *FeedMetadata) error

	DeleteFeedMetadata(url string, hash string) error

	// Gets a reader for the feed with the given hash.
	GetReader(feed string) (FeedReader, error)

	// Gets a writer for the feed with the given hash. Any data
	// already stored under the hash is replaced.
	GetWriter(feed string) (FeedWriter, error)
}

type ListFeedsFilter struct {
	// If set, only include feeds with the given URL.
	URL string

	// If set, only include feeds with the given hash.
	Hash string
}

// Metadata for a static GTFS feed. The parsed data can be accessed
// via FeedReader.
//
// URL is the source of the feed: an HTTP URL, or a file:// URL for
// feeds loaded from disk.
type FeedMetadata struct {
	URL                  string
	Hash                 string
	RetrievedAt          time.Time
	Timezone             string
	CalendarStartDate    string
	CalendarEndDate      string
	MaxArrival           string
	MaxDeparture         string
	NumShapes            int
	NumMissingShapes     int
	HasShapeDistTraveled bool
}

// Writes GTFS records for a single feed.
//
// As stop_times.txt and shapes.txt tend to be very large, Begin*()
// and End*() are called before and after all calls to
// WriteStopTime() and WriteShapePoint(), allowing
// transactions/batching/whathaveyou.
type FeedWriter interface {
	WriteAgency(agency model.Agency) error
	WriteStop(stop model.Stop) error
	WriteRoute(route model.Route) error
	WriteTrip(trip model.Trip) error
	BeginTrips() error
	EndTrips() error
	WriteCalendar(cal model.Calendar) error
	WriteCalendarDate(caldate model.CalendarDate) error
	WriteStopTime(stopTime model.StopTime) error
	BeginStopTimes() error
	EndStopTimes() error
	WriteShapePoint(point model.ShapePoint) error
	BeginShapes() error
	EndShapes() error
	Close() error
}

// Reads the GTFS records of a single feed. Order of returned
// records is unspecified.
type FeedReader interface {
	Agencies() ([]model.Agency, error)
	Stops() ([]model.Stop, error)
	Routes() ([]model.Route, error)
	Trips() ([]model.Trip, error)
	StopTimes() ([]model.StopTime, error)
	Calendars() ([]model.Calendar, error)
	CalendarDates() ([]model.CalendarDate, error)
	ShapePoints() ([]model.ShapePoint, error)

	// Services IDs for all services active on the given
	// date. Date is given as YYYYMMDD.
	ActiveServices(date string) ([]string, error)
}
