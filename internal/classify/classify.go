// Package classify derives calendar and dashboard views from the raw
// appointment list. All functions are pure and never modify their input.
package classify

import (
	"sort"
	"time"

	"clinicweb/internal/datetime"
	"clinicweb/internal/model"
)

// DayCount holds the per-status dots shown on a calendar cell.
type DayCount struct {
	Confirmed int
	Scheduled int
}

// Total is the number of active appointments on the day.
func (d DayCount) Total() int {
	return d.Confirmed + d.Scheduled
}

// OnDay returns the non-cancelled appointments whose normalized date falls on
// day, in input order.
func OnDay(list []model.Appointment, day time.Time) []model.Appointment {
	key := datetime.DayKey(day)
	out := make([]model.Appointment, 0)
	for _, a := range list {
		if a.Status == model.StatusCancelled {
			continue
		}
		if datetime.DateKey(a.Date) == key {
			out = append(out, a)
		}
	}
	return out
}

// Active returns scheduled/confirmed appointments sorted by instant. The
// sort is stable; entries whose date/time cannot be parsed keep their input
// order after every valid one.
func Active(list []model.Appointment, loc *time.Location) []model.Appointment {
	type keyed struct {
		a  model.Appointment
		at time.Time
	}
	tmp := make([]keyed, 0, len(list))
	for _, a := range list {
		if a.Status.Active() {
			tmp = append(tmp, keyed{a: a, at: datetime.ToInstant(a.Date, a.Time, loc)})
		}
	}
	sort.SliceStable(tmp, func(i, j int) bool {
		vi, vj := datetime.Valid(tmp[i].at), datetime.Valid(tmp[j].at)
		if vi != vj {
			return vi
		}
		if !vi {
			return false
		}
		return tmp[i].at.Before(tmp[j].at)
	})

	out := make([]model.Appointment, len(tmp))
	for i := range tmp {
		out[i] = tmp[i].a
	}
	return out
}

// NextUpcoming returns the earliest active appointment strictly after now,
// or nil. Unparsable appointments are never upcoming.
func NextUpcoming(list []model.Appointment, now time.Time, loc *time.Location) *model.Appointment {
	for _, a := range Active(list, loc) {
		at := datetime.ToInstant(a.Date, a.Time, loc)
		if datetime.Valid(at) && at.After(now) {
			next := a
			return &next
		}
	}
	return nil
}

// CountByStatus counts appointments with the given status. Date validity is
// not considered.
func CountByStatus(list []model.Appointment, status model.Status) int {
	n := 0
	for _, a := range list {
		if a.Status == status {
			n++
		}
	}
	return n
}

// DayCounts tallies confirmed and scheduled appointments on day.
func DayCounts(list []model.Appointment, day time.Time) DayCount {
	var c DayCount
	for _, a := range OnDay(list, day) {
		switch a.Status {
		case model.StatusConfirmed:
			c.Confirmed++
		case model.StatusScheduled:
			c.Scheduled++
		}
	}
	return c
}

// ByDay groups non-cancelled appointments by their YYYY-MM-DD key.
func ByDay(list []model.Appointment) map[string][]model.Appointment {
	out := make(map[string][]model.Appointment)
	for _, a := range list {
		if a.Status == model.StatusCancelled {
			continue
		}
		key := datetime.DateKey(a.Date)
		out[key] = append(out[key], a)
	}
	return out
}
