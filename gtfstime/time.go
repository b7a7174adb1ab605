// Package gtfstime converts between GTFS time and date strings and
// the integer and calendar values used for computation.
//
// GTFS times are given as H:MM:SS relative to noon minus 12h of the
// service day, so the hour field is unbounded: a trip departing at
// 1am the following morning is written 25:00:00.
package gtfstime

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	SecondsPerMinute = 60
	SecondsPerHour   = 3600
	SecondsPerDay    = 24 * SecondsPerHour
	MinutesPerDay    = 24 * 60
)

// ParseError is returned for malformed time or date strings.
type ParseError struct {
	Value  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing '%s': %s", e.Value, e.Reason)
}

// ParseTime returns the number of seconds past midnight for a
// H:MM:SS string.
func ParseTime(s string) (int, error) {
	trimmed := strings.TrimSpace(s)
	split := strings.Split(trimmed, ":")
	if len(split) != 3 {
		return 0, &ParseError{s, fmt.Sprintf("found %d parts", len(split))}
	}

	hms := [3]int{}
	for i, str := range split {
		if str == "" || (i > 0 && len(str) != 2) {
			return 0, &ParseError{s, fmt.Sprintf("bad field at pos %d", i)}
		}
		if strings.IndexFunc(str, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
			return 0, &ParseError{s, fmt.Sprintf("non-digit at pos %d", i)}
		}
		j, err := strconv.Atoi(str)
		if err != nil {
			return 0, &ParseError{s, fmt.Sprintf("non-integer at pos %d", i)}
		}
		hms[i] = j
	}

	if hms[1] > 59 {
		return 0, &ParseError{s, "invalid minute"}
	}
	if hms[2] > 59 {
		return 0, &ParseError{s, "invalid second"}
	}

	return hms[0]*SecondsPerHour + hms[1]*SecondsPerMinute + hms[2], nil
}

// ParseTimeOrNil is the lenient variant of ParseTime. Blank and
// malformed strings map to nil.
func ParseTimeOrNil(s string) *int {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	n, err := ParseTime(s)
	if err != nil {
		return nil
	}
	return &n
}

// FormatTime is the inverse of ParseTime. The hour is zero padded to
// two digits but not bounded.
func FormatTime(n int) string {
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	h := n / SecondsPerHour
	m := (n % SecondsPerHour) / SecondsPerMinute
	s := n % SecondsPerMinute
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, h, m, s)
}

// FormatTimeOrEmpty formats a nullable time, with nil as "".
func FormatTimeOrEmpty(n *int) string {
	if n == nil {
		return ""
	}
	return FormatTime(*n)
}

// Mod24Seconds wraps seconds into [0, 24h).
func Mod24Seconds(n int) int {
	r := n % SecondsPerDay
	if r < 0 {
		r += SecondsPerDay
	}
	return r
}

// Mod24 reduces the hour of a time string modulo 24, keeping minutes
// and seconds.
func Mod24(s string) (string, error) {
	n, err := ParseTime(s)
	if err != nil {
		return "", err
	}
	return FormatTime(Mod24Seconds(n)), nil
}

// Minute returns the minute of day (0..1439) a time falls into once
// wrapped modulo 24h.
func Minute(n int) int {
	return Mod24Seconds(n) / SecondsPerMinute
}

// Time is a number of seconds past midnight that encodes as
// HH:MM:SS in CSV, JSON and YAML.
type Time int

// NewTime returns a pointer to t, for nullable fields.
func NewTime(n int) *Time {
	t := Time(n)
	return &t
}

func (t Time) String() string {
	return FormatTime(int(t))
}

func (t Time) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Time) UnmarshalText(b []byte) error {
	n, err := ParseTime(string(b))
	if err != nil {
		return err
	}
	*t = Time(n)
	return nil
}
