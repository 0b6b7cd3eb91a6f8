// Package ics exports the patient's active appointments as an iCalendar
// feed so they can be subscribed to from a phone or desktop calendar.
package ics

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"clinicweb/internal/classify"
	"clinicweb/internal/datetime"
	appLog "clinicweb/internal/log"
	"clinicweb/internal/model"
)

const (
	defaultProdID   = "-//clinicweb//Citas//ES"
	defaultName     = "Mis citas"
	defaultDuration = 30 * time.Minute
	defaultUIDHost  = "clinicweb"
)

// ExportConfig controls the generated calendar.
type ExportConfig struct {
	// Location interprets the zone-less appointment times. If nil,
	// time.Local is used.
	Location *time.Location

	// Name is shown by calendar apps (X-WR-CALNAME).
	Name string

	// Duration of each event; appointments carry no end time.
	Duration time.Duration

	// UIDHost is the right-hand side of every event UID.
	UIDHost string

	// Now stamps DTSTAMP. If nil, time.Now is used.
	Now func() time.Time
}

func (c *ExportConfig) normalize() {
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.Name == "" {
		c.Name = defaultName
	}
	if c.Duration <= 0 {
		c.Duration = defaultDuration
	}
	if c.UIDHost == "" {
		c.UIDHost = defaultUIDHost
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// ExportResult reports what went into the feed.
type ExportResult struct {
	Events int
	// Skipped holds IDs of active appointments whose date or time could
	// not be parsed.
	Skipped []int
}

// Export writes one VEVENT per active appointment to w, in start order.
func Export(w io.Writer, list []model.Appointment, cfg ExportConfig) (ExportResult, error) {
	var res ExportResult
	if w == nil {
		return res, errors.New("ics: nil writer")
	}
	cfg.normalize()
	stamp := cfg.Now().UTC()

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(defaultProdID)
	cal.SetXWRCalName(cfg.Name)
	cal.SetXWRTimezone(cfg.Location.String())

	for _, a := range classify.Active(list, cfg.Location) {
		start := datetime.ToInstant(a.Date, a.Time, cfg.Location)
		if !datetime.Valid(start) {
			res.Skipped = append(res.Skipped, a.ID)
			continue
		}

		ev := cal.AddEvent(EventUID(a.ID, cfg.UIDHost))
		ev.SetDtStampTime(stamp)
		ev.SetStartAt(start)
		ev.SetEndAt(start.Add(cfg.Duration))
		ev.SetSummary(summary(a))
		ev.SetDescription(description(a))
		if a.Status == model.StatusConfirmed {
			ev.SetStatus(ical.ObjectStatusConfirmed)
		} else {
			ev.SetStatus(ical.ObjectStatusTentative)
		}
		res.Events++
	}

	if len(res.Skipped) > 0 {
		appLog.Error("ics export skipped appointments", errors.New("unparsable date or time"), "ids", fmt.Sprint(res.Skipped))
	}
	if err := cal.SerializeTo(w); err != nil {
		return res, fmt.Errorf("ics: serialize: %w", err)
	}
	appLog.Debug("ics export completed", "events", res.Events)
	return res, nil
}

// EventUID is the stable UID of an appointment's event, so re-imports
// update instead of duplicating.
func EventUID(id int, host string) string {
	if host == "" {
		host = defaultUIDHost
	}
	return fmt.Sprintf("cita-%d@%s", id, host)
}

func summary(a model.Appointment) string {
	if s := strings.TrimSpace(a.Service); s != "" {
		return "Cita: " + s
	}
	return "Cita médica"
}

func description(a model.Appointment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Paciente: %s\n", a.PatientName)
	fmt.Fprintf(&b, "Estado: %s\n", a.Status.Label())
	if a.Phone != "" {
		fmt.Fprintf(&b, "Teléfono: %s\n", a.Phone)
	}
	if a.Note != "" {
		fmt.Fprintf(&b, "Notas: %s\n", a.Note)
	}
	return strings.TrimRight(b.String(), "\n")
}
