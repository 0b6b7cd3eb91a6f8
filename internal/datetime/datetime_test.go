package datetime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mexico(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Mexico_City")
	if err != nil {
		t.Skip("tzdata not available")
	}
	return loc
}

func TestToInstantIgnoresDateSuffix(t *testing.T) {
	loc := mexico(t)
	base := ToInstant("2025-05-01", "14:30", loc)
	require.True(t, Valid(base))

	for _, date := range []string{
		"2025-05-01T00:00:00Z",
		"2025-05-01T00:00:00",
		"2025-05-01T23:59:59.000-06:00",
		" 2025-05-01 ",
	} {
		t.Run(date, func(t *testing.T) {
			assert.True(t, base.Equal(ToInstant(date, "14:30", loc)))
		})
	}
	assert.Equal(t, time.Date(2025, 5, 1, 14, 30, 0, 0, loc), base)
}

func TestToInstantAcceptsSeconds(t *testing.T) {
	loc := mexico(t)
	assert.Equal(t, time.Date(2025, 6, 10, 9, 0, 0, 0, loc), ToInstant("2025-06-10", "09:00:00", loc))
}

func TestToInstantMalformedYieldsSentinel(t *testing.T) {
	loc := mexico(t)
	for _, tc := range []struct{ date, clock string }{
		{"", "10:00"},
		{"2025-13-01", "10:00"},
		{"10/06/2025", "10:00"},
		{"2025-06-10", ""},
		{"2025-06-10", "25:00"},
		{"2025-06-10", "nine"},
	} {
		got := ToInstant(tc.date, tc.clock, loc)
		assert.False(t, Valid(got), "%q %q", tc.date, tc.clock)
	}
}

func TestDateKey(t *testing.T) {
	assert.Equal(t, "2025-06-10", DateKey("2025-06-10T00:00:00Z"))
	assert.Equal(t, "2025-06-10", DateKey("2025-06-10"))
	assert.Equal(t, "2025-06-10", DayKey(time.Date(2025, 6, 10, 23, 0, 0, 0, time.UTC)))
}

func TestFormatDayLabel(t *testing.T) {
	loc := mexico(t)
	now := time.Date(2025, 6, 9, 22, 15, 0, 0, loc)

	assert.Equal(t, "Hoy", FormatDayLabel(time.Date(2025, 6, 9, 23, 0, 0, 0, loc), now))
	assert.Equal(t, "Mañana", FormatDayLabel(time.Date(2025, 6, 10, 8, 0, 0, 0, loc), now))
	assert.Equal(t, "mié, 11 jun", FormatDayLabel(time.Date(2025, 6, 11, 8, 0, 0, 0, loc), now))
	assert.Equal(t, "", FormatDayLabel(time.Time{}, now))

	// month rollover
	endOfMonth := time.Date(2025, 1, 31, 12, 0, 0, 0, loc)
	assert.Equal(t, "Mañana", FormatDayLabel(time.Date(2025, 2, 1, 9, 0, 0, 0, loc), endOfMonth))
}

func TestFormatTime12h(t *testing.T) {
	tests := map[string]string{
		"00:05":    "12:05 AM",
		"09:00":    "9:00 AM",
		"12:00":    "12:00 PM",
		"14:30":    "2:30 PM",
		"23:59":    "11:59 PM",
		"16:45:00": "4:45 PM",
		"bad":      "bad",
		"24:00":    "24:00",
		"9:5":      "9:5",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatTime12h(in), in)
	}
}

func TestFormatFullDateAndHeader(t *testing.T) {
	loc := mexico(t)
	assert.Equal(t, "martes, 10 de junio de 2025", FormatFullDate(time.Date(2025, 6, 10, 0, 0, 0, 0, loc)))
	assert.Equal(t, "Septiembre 2025", FormatMonthYear(2025, time.September))
	assert.Equal(t, "Mié", WeekdayShort(time.Wednesday))
}

func TestGreeting(t *testing.T) {
	day := func(h int) time.Time { return time.Date(2025, 6, 10, h, 0, 0, 0, time.UTC) }
	assert.Equal(t, "Buenos días", Greeting(day(7)))
	assert.Equal(t, "Buenas tardes", Greeting(day(12)))
	assert.Equal(t, "Buenas noches", Greeting(day(18)))
}

func TestParseDay(t *testing.T) {
	loc := mexico(t)
	d, err := ParseDay("2025-06-10T00:00:00Z", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 10, 0, 0, 0, 0, loc), d)

	_, err = ParseDay("june", loc)
	assert.Error(t, err)
}
