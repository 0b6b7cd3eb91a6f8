// Package calendar is the month view state: which month is displayed,
// which day is selected and how the grid of day cells is laid out.
package calendar

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/teambition/rrule-go"

	"clinicweb/internal/classify"
	"clinicweb/internal/datetime"
	appLog "clinicweb/internal/log"
	"clinicweb/internal/model"
)

// ErrPastDay is returned when selecting a day before today.
var ErrPastDay = errors.New("calendar: day is in the past")

// ParseWeekStart maps the config value to a weekday. Anything other than
// "monday" starts weeks on Sunday.
func ParseWeekStart(s string) time.Weekday {
	if strings.EqualFold(strings.TrimSpace(s), "monday") {
		return time.Monday
	}
	return time.Sunday
}

// Cell is one square of the month grid. Blank cells pad the first and last
// week and carry no day.
type Cell struct {
	Blank    bool
	Day      time.Time
	Key      string
	Number   int
	Today    bool
	Past     bool
	Selected bool
	Counts   classify.DayCount
}

// Month is a rendered month grid.
type Month struct {
	Year     int
	Month    time.Month
	Title    string
	Weekdays []string
	Weeks    [][]Cell
}

// Selection is the result of picking a day.
type Selection struct {
	Day          time.Time
	Key          string
	Appointments []model.Appointment
}

// View holds the displayed month and selected day.
type View struct {
	loc       *time.Location
	weekStart time.Weekday
	now       func() time.Time

	mu       sync.Mutex
	year     int
	month    time.Month
	selected time.Time
}

// New starts on the current month. A nil now uses time.Now.
func New(loc *time.Location, weekStart time.Weekday, now func() time.Time) *View {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	v := &View{loc: loc, weekStart: weekStart, now: now}
	v.JumpToToday()
	return v
}

// Current returns the displayed year and month.
func (v *View) Current() (int, time.Month) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.year, v.month
}

// Selected returns the selected day, if any.
func (v *View) Selected() (time.Time, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.selected, !v.selected.IsZero()
}

// PreviousMonth moves one month back, wrapping the year.
func (v *View) PreviousMonth() {
	v.shift(-1)
}

// NextMonth moves one month forward, wrapping the year.
func (v *View) NextMonth() {
	v.shift(1)
}

func (v *View) shift(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	t := time.Date(v.year, v.month+time.Month(n), 1, 0, 0, 0, 0, v.loc)
	v.year, v.month = t.Year(), t.Month()
}

// JumpToToday shows the current month.
func (v *View) JumpToToday() {
	now := v.now().In(v.loc)
	v.mu.Lock()
	v.year, v.month = now.Year(), now.Month()
	v.mu.Unlock()
}

// Show displays an explicit month. Out of range months are normalized the
// way time.Date does (month 13 is January of the next year).
func (v *View) Show(year int, month time.Month) {
	t := time.Date(year, month, 1, 0, 0, 0, 0, v.loc)
	v.mu.Lock()
	v.year, v.month = t.Year(), t.Month()
	v.mu.Unlock()
}

// ClearSelection drops the selected day.
func (v *View) ClearSelection() {
	v.mu.Lock()
	v.selected = time.Time{}
	v.mu.Unlock()
}

// SelectDay selects day and returns its non-cancelled appointments. Days
// before today are rejected with ErrPastDay and leave the selection as is.
func (v *View) SelectDay(day time.Time, list []model.Appointment) (Selection, error) {
	day = datetime.StartOfDay(day.In(v.loc))
	today := datetime.StartOfDay(v.now().In(v.loc))
	if day.Before(today) {
		return Selection{}, ErrPastDay
	}

	v.mu.Lock()
	v.selected = day
	v.mu.Unlock()

	return Selection{
		Day:          day,
		Key:          datetime.DayKey(day),
		Appointments: classify.OnDay(list, day),
	}, nil
}

// Grid lays out the displayed month. Every week has seven cells; leading
// and trailing blanks align the first day with the configured week start.
func (v *View) Grid(list []model.Appointment) Month {
	v.mu.Lock()
	year, month, selected := v.year, v.month, v.selected
	v.mu.Unlock()

	today := datetime.StartOfDay(v.now().In(v.loc))
	first := time.Date(year, month, 1, 0, 0, 0, 0, v.loc)
	last := first.AddDate(0, 1, -1)

	m := Month{
		Year:     year,
		Month:    month,
		Title:    datetime.FormatMonthYear(year, month),
		Weekdays: make([]string, 7),
	}
	for i := range m.Weekdays {
		m.Weekdays[i] = datetime.WeekdayShort((v.weekStart + time.Weekday(i)) % 7)
	}

	week := make([]Cell, 0, 7)
	for i := 0; i < v.leading(first.Weekday()); i++ {
		week = append(week, Cell{Blank: true})
	}
	for _, d := range monthDays(first, last) {
		week = append(week, Cell{
			Day:      d,
			Key:      datetime.DayKey(d),
			Number:   d.Day(),
			Today:    datetime.SameDay(d, today),
			Past:     d.Before(today),
			Selected: !selected.IsZero() && datetime.SameDay(d, selected),
			Counts:   classify.DayCounts(list, d),
		})
		if len(week) == 7 {
			m.Weeks = append(m.Weeks, week)
			week = make([]Cell, 0, 7)
		}
	}
	if len(week) > 0 {
		for len(week) < 7 {
			week = append(week, Cell{Blank: true})
		}
		m.Weeks = append(m.Weeks, week)
	}
	return m
}

// leading is the number of blank cells before a month whose first day
// falls on wd.
func (v *View) leading(wd time.Weekday) int {
	return int((wd - v.weekStart + 7) % 7)
}

// monthDays enumerates every day from first to last with a DAILY rule.
func monthDays(first, last time.Time) []time.Time {
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:    rrule.DAILY,
		Dtstart: first,
		Until:   last,
	})
	if err != nil {
		appLog.Error("calendar: build day rule failed; falling back to date loop", err, "month", first.Format("2006-01"))
		var days []time.Time
		for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
			days = append(days, d)
		}
		return days
	}
	return r.All()
}
