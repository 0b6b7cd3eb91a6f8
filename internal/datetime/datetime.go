// Package datetime turns the API's loosely formatted date and time strings
// into comparable instants and formats them for es-MX display.
package datetime

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	dateLayout = "2006-01-02"
	clockHM    = "15:04"
	clockHMS   = "15:04:05"
)

var (
	weekdaysLong  = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}
	weekdaysShort = [...]string{"dom", "lun", "mar", "mié", "jue", "vie", "sáb"}
	monthsLong    = [...]string{"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"}
	monthsShort   = [...]string{"ene", "feb", "mar", "abr", "may", "jun", "jul", "ago", "sept", "oct", "nov", "dic"}
)

// DateKey returns the YYYY-MM-DD portion of an API date string, dropping
// any "T..." suffix.
func DateKey(date string) string {
	date = strings.TrimSpace(date)
	if i := strings.IndexByte(date, 'T'); i >= 0 {
		return date[:i]
	}
	return date
}

// DayKey formats a calendar day the same way DateKey normalizes API dates.
func DayKey(t time.Time) string {
	return t.Format(dateLayout)
}

// ToInstant combines an API date (with or without time suffix) and an
// "HH:mm" clock into an instant in loc. Malformed input returns the zero
// time; check with Valid.
func ToInstant(date, clock string, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	key := DateKey(date)
	clock = strings.TrimSpace(clock)

	layout := dateLayout + " " + clockHM
	if strings.Count(clock, ":") == 2 {
		layout = dateLayout + " " + clockHMS
	}
	t, err := time.ParseInLocation(layout, key+" "+clock, loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ParseDay parses a YYYY-MM-DD key (suffix tolerated) as local midnight.
func ParseDay(date string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(dateLayout, DateKey(date), loc)
}

// Valid reports whether t is a usable instant rather than the sentinel.
func Valid(t time.Time) bool {
	return !t.IsZero()
}

// StartOfDay truncates t to local midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDay compares calendar days in a's location.
func SameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// FormatDayLabel returns "Hoy", "Mañana" or a short date like "mar, 10 jun".
func FormatDayLabel(t, now time.Time) string {
	if !Valid(t) {
		return ""
	}
	today := StartOfDay(now.In(t.Location()))
	switch {
	case SameDay(t, today):
		return "Hoy"
	case SameDay(t, today.AddDate(0, 0, 1)):
		return "Mañana"
	}
	return fmt.Sprintf("%s, %d %s", weekdaysShort[t.Weekday()], t.Day(), monthsShort[t.Month()-1])
}

// FormatTime12h converts "HH:mm" (or "HH:mm:ss") into "h:mm AM/PM".
// Malformed input is returned unchanged.
func FormatTime12h(clock string) string {
	parts := strings.Split(strings.TrimSpace(clock), ":")
	if len(parts) < 2 || len(parts[1]) != 2 {
		return clock
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return clock
	}
	if _, err := strconv.Atoi(parts[1]); err != nil {
		return clock
	}
	suffix := "AM"
	if hour >= 12 {
		suffix = "PM"
	}
	hour12 := hour % 12
	if hour12 == 0 {
		hour12 = 12
	}
	return fmt.Sprintf("%d:%s %s", hour12, parts[1], suffix)
}

// FormatFullDate renders "martes, 10 de junio de 2025".
func FormatFullDate(t time.Time) string {
	if !Valid(t) {
		return ""
	}
	return fmt.Sprintf("%s, %d de %s de %d", weekdaysLong[t.Weekday()], t.Day(), monthsLong[t.Month()-1], t.Year())
}

// FormatMonthYear renders the calendar header, e.g. "Junio 2025".
func FormatMonthYear(year int, month time.Month) string {
	name := monthsLong[month-1]
	return strings.ToUpper(name[:1]) + name[1:] + " " + strconv.Itoa(year)
}

// WeekdayShort returns the column header for a weekday ("Lun").
func WeekdayShort(d time.Weekday) string {
	name := weekdaysShort[d]
	return strings.ToUpper(name[:1]) + name[1:]
}

// Greeting picks the dashboard salutation by local hour.
func Greeting(now time.Time) string {
	switch h := now.Hour(); {
	case h < 12:
		return "Buenos días"
	case h < 18:
		return "Buenas tardes"
	default:
		return "Buenas noches"
	}
}
