package parse

import (
	"io"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"tidbyt.dev/gtfsstats/gtfstime"
	"tidbyt.dev/gtfsstats/model"
	"tidbyt.dev/gtfsstats/storage"
)

type CalendarDateCSV struct {
	ServiceID     string `csv:"service_id"`
	Date          string `csv:"date"`
	ExceptionType int8   `csv:"exception_type"`
}

type serviceDate struct {
	serviceID string
	date      string
}

// ParseCalendarDates writes the exceptions of calendar_dates.txt.
// Only the first exception for a service and date is kept.
func ParseCalendarDates(writer storage.FeedWriter, data io.Reader) (*ServicePeriod, error) {
	period := newServicePeriod()
	seen := map[serviceDate]bool{}

	row := 0
	err := gocsv.UnmarshalToCallbackWithError(data, func(cd *CalendarDateCSV) error {
		row++

		exceptionType := model.ExceptionType(cd.ExceptionType)
		if exceptionType != model.ExceptionTypeAdded && exceptionType != model.ExceptionTypeRemoved {
			return errors.Errorf("illegal exception_type: '%d' (row %d)", cd.ExceptionType, row)
		}

		date, err := gtfstime.ParseDate(cd.Date)
		if err != nil {
			return errors.Wrapf(err, "parsing date (row %d)", row)
		}

		key := serviceDate{cd.ServiceID, date.String()}
		if seen[key] {
			return nil
		}
		seen[key] = true
		period.Services[cd.ServiceID] = true
		period.extend(date, date)

		err = writer.WriteCalendarDate(model.CalendarDate{
			ServiceID:     cd.ServiceID,
			Date:          date.String(),
			ExceptionType: exceptionType,
		})
		if err != nil {
			return errors.Wrapf(err, "writing calendar date (row %d)", row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return period, nil
}
