// Package booking is the per-day dialog: it lists the appointments of the
// selected day, submits new ones and cancels existing ones.
package booking

import (
	"context"
	"errors"
	"sync"
	"time"

	"clinicweb/internal/classify"
	"clinicweb/internal/datetime"
	appLog "clinicweb/internal/log"
	"clinicweb/internal/model"
)

// Mode is what the dialog currently shows.
type Mode int

const (
	Viewing Mode = iota
	Creating
)

func (m Mode) String() string {
	if m == Creating {
		return "creating"
	}
	return "viewing"
}

var (
	// ErrNotConfirmed is returned by Cancel when the patient did not confirm.
	ErrNotConfirmed = errors.New("booking: cancellation not confirmed")
	// ErrClosed is returned when acting on a dialog that was never opened.
	ErrClosed = errors.New("booking: dialog is not open")
)

// Store is what the dialog needs from the appointment store.
type Store interface {
	Create(ctx context.Context, req model.CreateAppointmentRequest) (model.Appointment, error)
	Cancel(ctx context.Context, id int) error
	Snapshot() []model.Appointment
}

// Dialog holds the state of the booking dialog for one selected day.
type Dialog struct {
	store Store

	mu      sync.Mutex
	open    bool
	day     time.Time
	appts   []model.Appointment
	mode    Mode
	success bool
	err     error
}

func New(store Store) *Dialog {
	return &Dialog{store: store}
}

// Open shows day with its appointments. The dialog starts in Creating when
// none of them is active.
func (d *Dialog) Open(day time.Time, appts []model.Appointment) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	d.day = datetime.StartOfDay(day)
	d.appts = append([]model.Appointment(nil), appts...)
	d.success = false
	d.err = nil
	d.mode = Viewing
	if countActive(d.appts) == 0 {
		d.mode = Creating
	}
}

// Refresh replaces the day's list while the dialog stays open. The chosen
// mode is kept, except that a day left without active appointments shows
// the form and a day that just gained one shows the list.
func (d *Dialog) Refresh(appts []model.Appointment) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return
	}
	before := countActive(d.appts)
	d.appts = append([]model.Appointment(nil), appts...)
	switch after := countActive(d.appts); {
	case after == 0:
		d.mode = Creating
	case before == 0:
		d.mode = Viewing
	}
}

// Close hides the dialog and forgets its state.
func (d *Dialog) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	d.day = time.Time{}
	d.appts = nil
	d.mode = Viewing
	d.success = false
	d.err = nil
}

func (d *Dialog) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *Dialog) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

func (d *Dialog) Day() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.day
}

// Appointments returns a copy of the day's list.
func (d *Dialog) Appointments() []model.Appointment {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.Appointment(nil), d.appts...)
}

// Success reports a create that has not been acknowledged yet.
func (d *Dialog) Success() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.success
}

// Err is the last submit or cancel error, cleared by the next attempt.
func (d *Dialog) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Acknowledge clears the success flag.
func (d *Dialog) Acknowledge() {
	d.mu.Lock()
	d.success = false
	d.mu.Unlock()
}

// BookAnother switches to the form.
func (d *Dialog) BookAnother() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		d.mode = Creating
	}
}

// ShowExisting returns to the list, but only if there is something to list.
func (d *Dialog) ShowExisting() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open && len(d.appts) > 0 {
		d.mode = Viewing
	}
}

// Submit books req on the selected day regardless of the date it carries.
// On success the dialog goes back to Viewing with the refreshed list. On
// failure the error is kept and the mode does not change.
func (d *Dialog) Submit(ctx context.Context, req model.CreateAppointmentRequest) (model.Appointment, error) {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return model.Appointment{}, ErrClosed
	}
	day := d.day
	d.err = nil
	d.success = false
	d.mu.Unlock()

	req.Date = datetime.DayKey(day)
	created, err := d.store.Create(ctx, req)

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.err = err
		return model.Appointment{}, err
	}
	d.appts = classify.OnDay(d.store.Snapshot(), day)
	d.success = true
	d.mode = Viewing
	appLog.Debug("booking: submitted", "day", req.Date, "id", created.ID)
	return created, nil
}

// Cancel cancels appointment id once the patient confirmed. The list is
// refreshed either way; with no active appointment left the dialog falls
// back to the form.
func (d *Dialog) Cancel(ctx context.Context, id int, confirmed bool) error {
	if !confirmed {
		return ErrNotConfirmed
	}
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return ErrClosed
	}
	day := d.day
	d.err = nil
	d.mu.Unlock()

	err := d.store.Cancel(ctx, id)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.appts = classify.OnDay(d.store.Snapshot(), day)
	if err != nil {
		d.err = err
		return err
	}
	if countActive(d.appts) == 0 {
		d.mode = Creating
	}
	return nil
}

func countActive(list []model.Appointment) int {
	n := 0
	for _, a := range list {
		if a.Status.Active() {
			n++
		}
	}
	return n
}
