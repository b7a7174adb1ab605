package calendar_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tidbyt.dev/gtfsstats/calendar"
	"tidbyt.dev/gtfsstats/gtfstime"
	"tidbyt.dev/gtfsstats/model"
)

func d(s string) gtfstime.Date {
	return gtfstime.MustParseDate(s)
}

func TestResolverIsActive(t *testing.T) {
	r := calendar.NewResolver(
		[]model.Calendar{
			{ServiceID: "mon", StartDate: "20240101", EndDate: "20241231", Weekday: 1 << time.Monday},
			{ServiceID: "wkend", StartDate: "20240101", EndDate: "20240131", Weekday: 1<<time.Saturday | 1<<time.Sunday},
		},
		[]model.CalendarDate{
			{ServiceID: "mon", Date: "20240108", ExceptionType: model.ExceptionTypeRemoved},
			{ServiceID: "mon", Date: "20240110", ExceptionType: model.ExceptionTypeAdded},
			{ServiceID: "extra", Date: "20240201", ExceptionType: model.ExceptionTypeAdded},
			// Duplicate, first wins
			{ServiceID: "extra", Date: "20240201", ExceptionType: model.ExceptionTypeRemoved},
		},
	)

	for _, tc := range []struct {
		service  string
		date     string
		expected bool
	}{
		{"mon", "20240101", true},
		{"mon", "20240108", false},
		{"mon", "20240115", true},
		{"mon", "20240102", false},
		{"mon", "20240110", true},
		{"mon", "20250106", false},
		{"wkend", "20240106", true},
		{"wkend", "20240107", true},
		{"wkend", "20240203", false},
		{"extra", "20240201", true},
		{"extra", "20240202", false},
		{"unknown", "20240101", false},
	} {
		t.Run(tc.service+"_"+tc.date, func(t *testing.T) {
			assert.Equal(t, tc.expected, r.IsActive(tc.service, d(tc.date)))
			// Deterministic
			assert.Equal(t, tc.expected, r.IsActive(tc.service, d(tc.date)))
		})
	}

	assert.Equal(t, []string{"mon"}, r.ActiveServices(d("20240101")))
	assert.Equal(t, []string{"extra"}, r.ActiveServices(d("20240201")))
	assert.Equal(t, []string{}, r.ActiveServices(d("20240108")))
}

func TestResolverSpan(t *testing.T) {
	r := calendar.NewResolver(
		[]model.Calendar{
			{ServiceID: "a", StartDate: "20240103", EndDate: "20240112", Weekday: 0x7f},
		},
		[]model.CalendarDate{
			{ServiceID: "b", Date: "20240102", ExceptionType: model.ExceptionTypeAdded},
		},
	)

	first, last, ok := r.Span()
	assert.True(t, ok)
	assert.Equal(t, "20240102", first.String())
	assert.Equal(t, "20240112", last.String())
	assert.Len(t, r.Dates(), 11)

	// 20240108 is the first Monday; only 5 days remain after it.
	week := r.FirstWeek()
	assert.Equal(t, []string{"20240108", "20240109", "20240110", "20240111", "20240112"}, gtfstime.DateStrings(week))

	empty := calendar.NewResolver(nil, nil)
	_, _, ok = empty.Span()
	assert.False(t, ok)
	assert.Empty(t, empty.Dates())
	assert.Empty(t, empty.FirstWeek())

	noMonday := calendar.NewResolver(
		[]model.Calendar{{ServiceID: "a", StartDate: "20240102", EndDate: "20240104", Weekday: 0x7f}},
		nil,
	)
	assert.Empty(t, noMonday.FirstWeek())
}
