package gtfstime

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTime(t *testing.T) {
	for _, tc := range []struct {
		in       string
		expected int
		err      bool
	}{
		{"00:00:00", 0, false},
		{"08:00:00", 8 * 3600, false},
		{"8:00:00", 8 * 3600, false},
		{"23:59:59", 86399, false},
		{"25:00:00", 90000, false},
		{"120:00:01", 120*3600 + 1, false},
		{" 10:11:12 ", 10*3600 + 11*60 + 12, false},
		{"", 0, true},
		{"10:00", 0, true},
		{"10:00:00:00", 0, true},
		{"10:60:00", 0, true},
		{"10:00:60", 0, true},
		{"10:0:00", 0, true},
		{"10:00:derp", 0, true},
		{"-1:00:00", 0, true},
		{"+8:00:00", 0, true},
		{"08:+1:00", 0, true},
		{"08:00:+1", 0, true},
	} {
		t.Run(tc.in, func(t *testing.T) {
			n, err := ParseTime(tc.in)
			if tc.err {
				var perr *ParseError
				require.ErrorAs(t, err, &perr)
				assert.Nil(t, ParseTimeOrNil(tc.in))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, n)
			require.NotNil(t, ParseTimeOrNil(tc.in))
			assert.Equal(t, tc.expected, *ParseTimeOrNil(tc.in))
		})
	}
}

func TestTimeRoundTrip(t *testing.T) {
	for h := 0; h < 48; h++ {
		for _, ms := range []string{"00:00", "07:30", "59:59"} {
			s := fmt.Sprintf("%02d:%s", h, ms)
			n, err := ParseTime(s)
			require.NoError(t, err)
			assert.Equal(t, s, FormatTime(n))
		}
	}
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "00:00:00", FormatTime(0))
	assert.Equal(t, "25:00:00", FormatTime(90000))
	assert.Equal(t, "100:00:05", FormatTime(100*3600+5))
	assert.Equal(t, "", FormatTimeOrEmpty(nil))
	v := 61
	assert.Equal(t, "00:01:01", FormatTimeOrEmpty(&v))
}

func TestTimeEncoding(t *testing.T) {
	v := NewTime(25*3600 + 61)
	assert.Equal(t, "25:01:01", v.String())

	b, err := json.Marshal(struct {
		Start *Time `json:"start"`
		End   *Time `json:"end"`
	}{Start: v})
	require.NoError(t, err)
	assert.Equal(t, `{"start":"25:01:01","end":null}`, string(b))

	var parsed Time
	require.NoError(t, parsed.UnmarshalText([]byte("07:30:00")))
	assert.Equal(t, Time(7*3600+30*60), parsed)
	assert.Error(t, parsed.UnmarshalText([]byte("7:3")))
}

func TestMod24(t *testing.T) {
	for _, tc := range []struct {
		in       string
		expected string
	}{
		{"00:00:00", "00:00:00"},
		{"23:59:59", "23:59:59"},
		{"24:00:00", "00:00:00"},
		{"25:10:03", "01:10:03"},
		{"49:00:00", "01:00:00"},
	} {
		out, err := Mod24(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.expected, out)
	}

	_, err := Mod24("derp")
	assert.Error(t, err)

	assert.Equal(t, 0, Minute(24*3600))
	assert.Equal(t, 61, Minute(25*3600+60+59))
	assert.Equal(t, 86399, Mod24Seconds(-1))
}

func TestParseDates(t *testing.T) {
	d, err := ParseDate("20240108")
	require.NoError(t, err)
	assert.Equal(t, time.Monday, d.Weekday())
	assert.Equal(t, "20240108", d.String())
	assert.Equal(t, "20240109", d.AddDays(1).String())

	_, err = ParseDate("2024-01-08")
	assert.Error(t, err)
	_, err = ParseDate("20241308")
	assert.Error(t, err)

	dates, err := ParseDates("20240103", "20240101")
	require.NoError(t, err)
	assert.Equal(t, []string{"20240103", "20240101"}, DateStrings(dates))

	single, err := ParseDates("20240101")
	require.NoError(t, err)
	assert.Len(t, single, 1)

	_, err = ParseDates("20240101", "nope")
	assert.Error(t, err)

	r := DateRange(MustParseDate("20231230"), MustParseDate("20240102"))
	assert.Equal(t, []string{"20231230", "20231231", "20240101", "20240102"}, DateStrings(r))
	assert.Empty(t, DateRange(MustParseDate("20240102"), MustParseDate("20240101")))
}
