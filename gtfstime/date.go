package gtfstime

import (
	"time"
)

const dateLayout = "20060102"

// Date is a service day. The zero value is invalid.
type Date struct {
	key string
	t   time.Time
}

// ParseDate parses a YYYYMMDD string.
func ParseDate(s string) (Date, error) {
	if len(s) != 8 {
		return Date{}, &ParseError{s, "date must be YYYYMMDD"}
	}
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return Date{}, &ParseError{s, err.Error()}
	}
	return Date{key: s, t: t}, nil
}

// MustParseDate is ParseDate for constants. Panics on error.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// ParseDates accepts either a single YYYYMMDD string or a list of
// them, and returns the parsed dates in the given order.
func ParseDates(dates ...string) ([]Date, error) {
	parsed := make([]Date, 0, len(dates))
	for _, s := range dates {
		d, err := ParseDate(s)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, d)
	}
	return parsed, nil
}

func DateFromTime(t time.Time) Date {
	t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return Date{key: t.Format(dateLayout), t: t}
}

// String returns the YYYYMMDD form, which sorts lexically.
func (d Date) String() string {
	return d.key
}

func (d Date) IsZero() bool {
	return d.key == ""
}

func (d Date) Weekday() time.Weekday {
	return d.t.Weekday()
}

func (d Date) Time() time.Time {
	return d.t
}

func (d Date) AddDays(n int) Date {
	return DateFromTime(d.t.AddDate(0, 0, n))
}

func (d Date) Before(o Date) bool {
	return d.key < o.key
}

func (d Date) After(o Date) bool {
	return d.key > o.key
}

// DateRange lists every date from start to end, inclusive.
func DateRange(start, end Date) []Date {
	dates := []Date{}
	if start.IsZero() || end.IsZero() {
		return dates
	}
	for d := start; !d.After(end); d = d.AddDays(1) {
		dates = append(dates, d)
	}
	return dates
}

func DateStrings(dates []Date) []string {
	s := make([]string, len(dates))
	for i, d := range dates {
		s[i] = d.String()
	}
	return s
}
