// Package calendar decides which services run on which dates.
package calendar

import (
	"sort"
	"time"

	"tidbyt.dev/gtfsstats/gtfstime"
	"tidbyt.dev/gtfsstats/model"
)

type serviceDate struct {
	serviceID string
	date      string
}

type weekly struct {
	start   string
	end     string
	weekday int8
}

// Resolver answers service activity queries from calendar.txt and
// calendar_dates.txt. It is immutable once built and safe for
// concurrent use.
type Resolver struct {
	exceptions map[serviceDate]model.ExceptionType
	regular    map[string]weekly
	services   []string

	first gtfstime.Date
	last  gtfstime.Date
}

// NewResolver indexes calendars and calendar dates. If more than
// one exception exists for a (service_id, date), the first one wins.
func NewResolver(calendars []model.Calendar, calendarDates []model.CalendarDate) *Resolver {
	r := &Resolver{
		exceptions: make(map[serviceDate]model.ExceptionType, len(calendarDates)),
		regular:    make(map[string]weekly, len(calendars)),
	}

	services := map[string]bool{}
	minDate, maxDate := "", ""
	span := func(start, end string) {
		if minDate == "" || start < minDate {
			minDate = start
		}
		if maxDate == "" || end > maxDate {
			maxDate = end
		}
	}

	for _, c := range calendars {
		if _, found := r.regular[c.ServiceID]; found {
			continue
		}
		r.regular[c.ServiceID] = weekly{c.StartDate, c.EndDate, c.Weekday}
		services[c.ServiceID] = true
		span(c.StartDate, c.EndDate)
	}

	for _, cd := range calendarDates {
		k := serviceDate{cd.ServiceID, cd.Date}
		if _, found := r.exceptions[k]; found {
			continue
		}
		r.exceptions[k] = cd.ExceptionType
		services[cd.ServiceID] = true
		span(cd.Date, cd.Date)
	}

	for s := range services {
		r.services = append(r.services, s)
	}
	sort.Strings(r.services)

	if minDate != "" {
		// Both dates were validated at ingestion. Errors here
		// leave the span empty.
		first, err1 := gtfstime.ParseDate(minDate)
		last, err2 := gtfstime.ParseDate(maxDate)
		if err1 == nil && err2 == nil {
			r.first, r.last = first, last
		}
	}

	return r
}

// IsActive reports whether the service runs on the date. Exceptions
// override the weekly calendar. Unknown services are inactive.
func (r *Resolver) IsActive(serviceID string, date gtfstime.Date) bool {
	key := date.String()

	if et, found := r.exceptions[serviceDate{serviceID, key}]; found {
		return et == model.ExceptionTypeAdded
	}

	w, found := r.regular[serviceID]
	if !found {
		return false
	}
	if key < w.start || key > w.end {
		return false
	}
	return w.weekday&(1<<date.Weekday()) != 0
}

// ActiveServices lists, sorted, all service IDs running on the date.
func (r *Resolver) ActiveServices(date gtfstime.Date) []string {
	active := []string{}
	for _, s := range r.services {
		if r.IsActive(s, date) {
			active = append(active, s)
		}
	}
	return active
}

// Span is the earliest and latest date mentioned by the calendar
// tables. ok is false if they are empty.
func (r *Resolver) Span() (first, last gtfstime.Date, ok bool) {
	if r.first.IsZero() {
		return gtfstime.Date{}, gtfstime.Date{}, false
	}
	return r.first, r.last, true
}

// Dates lists every date in Span.
func (r *Resolver) Dates() []gtfstime.Date {
	first, last, ok := r.Span()
	if !ok {
		return []gtfstime.Date{}
	}
	return gtfstime.DateRange(first, last)
}

// FirstWeek returns the first Monday through Sunday inside Span. If
// fewer than 7 days follow that Monday, the covered part of the week
// is returned. Empty if the span holds no Monday.
func (r *Resolver) FirstWeek() []gtfstime.Date {
	dates := r.Dates()
	for i, d := range dates {
		if d.Weekday() != time.Monday {
			continue
		}
		end := i + 7
		if end > len(dates) {
			end = len(dates)
		}
		return dates[i:end]
	}
	return []gtfstime.Date{}
}
