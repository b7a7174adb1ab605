package parse

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"tidbyt.dev/gtfsstats/gtfstime"
	"tidbyt.dev/gtfsstats/model"
	"tidbyt.dev/gtfsstats/storage"
)

type CalendarCSV struct {
	ServiceID string `csv:"service_id"`
	StartDate string `csv:"start_date"`
	EndDate   string `csv:"end_date"`
	Monday    int8   `csv:"monday"`
	Tuesday   int8   `csv:"tuesday"`
	Wednesday int8   `csv:"wednesday"`
	Thursday  int8   `csv:"thursday"`
	Friday    int8   `csv:"friday"`
	Saturday  int8   `csv:"saturday"`
	Sunday    int8   `csv:"sunday"`
}

// ServicePeriod holds the service IDs defined by the calendar files
// and the range of dates they cover. Start and End are zero if no
// dates were seen.
type ServicePeriod struct {
	Services map[string]bool
	Start    gtfstime.Date
	End      gtfstime.Date
}

func newServicePeriod() *ServicePeriod {
	return &ServicePeriod{Services: map[string]bool{}}
}

func (p *ServicePeriod) extend(start, end gtfstime.Date) {
	if p.Start.IsZero() || start.Before(p.Start) {
		p.Start = start
	}
	if p.End.IsZero() || end.After(p.End) {
		p.End = end
	}
}

// Merge adds the services of o, widening the date range to cover
// both periods.
func (p *ServicePeriod) Merge(o *ServicePeriod) {
	for serviceID := range o.Services {
		p.Services[serviceID] = true
	}
	if !o.Start.IsZero() {
		p.extend(o.Start, o.End)
	}
}

func (c *CalendarCSV) weekday() (int8, error) {
	days := []struct {
		day   time.Weekday
		value int8
	}{
		{time.Monday, c.Monday},
		{time.Tuesday, c.Tuesday},
		{time.Wednesday, c.Wednesday},
		{time.Thursday, c.Thursday},
		{time.Friday, c.Friday},
		{time.Saturday, c.Saturday},
		{time.Sunday, c.Sunday},
	}

	var weekday int8
	for _, d := range days {
		switch d.value {
		case 0:
		case 1:
			weekday |= 1 << d.day
		default:
			return 0, fmt.Errorf("invalid %s value '%d'", strings.ToLower(d.day.String()), d.value)
		}
	}
	return weekday, nil
}

func ParseCalendar(writer storage.FeedWriter, data io.Reader) (*ServicePeriod, error) {
	period := newServicePeriod()

	row := 0
	err := gocsv.UnmarshalToCallbackWithError(data, func(c *CalendarCSV) error {
		row++

		if c.ServiceID == "" {
			return errors.Errorf("empty service_id (row %d)", row)
		}
		if period.Services[c.ServiceID] {
			return fmt.Errorf("repeated service_id '%s'", c.ServiceID)
		}
		period.Services[c.ServiceID] = true

		weekday, err := c.weekday()
		if err != nil {
			return errors.Wrapf(err, "service_id '%s'", c.ServiceID)
		}

		start, err := gtfstime.ParseDate(c.StartDate)
		if err != nil {
			return errors.Wrapf(err, "parsing start_date (row %d)", row)
		}
		end, err := gtfstime.ParseDate(c.EndDate)
		if err != nil {
			return errors.Wrapf(err, "parsing end_date (row %d)", row)
		}
		if end.Before(start) {
			return fmt.Errorf("service_id '%s' ends before it starts", c.ServiceID)
		}
		period.extend(start, end)

		err = writer.WriteCalendar(model.Calendar{
			ServiceID: c.ServiceID,
			StartDate: start.String(),
			EndDate:   end.String(),
			Weekday:   weekday,
		})
		if err != nil {
			return errors.Wrapf(err, "writing calendar (row %d)", row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return period, nil
}
