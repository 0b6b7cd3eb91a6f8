// Package dashboard builds the patient's landing summary and keeps the
// appointment list fresh while the dashboard is mounted.
package dashboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"clinicweb/internal/classify"
	"clinicweb/internal/datetime"
	appLog "clinicweb/internal/log"
	"clinicweb/internal/model"
)

// DefaultRefresh is used when no cron spec is configured.
const DefaultRefresh = "@every 10s"

// Source is the appointment store as seen by the dashboard.
type Source interface {
	FetchAll(ctx context.Context) ([]model.Appointment, error)
	Snapshot() []model.Appointment
	LastError() error
	FetchedAt() time.Time
}

// Item is an appointment decorated with its display labels.
type Item struct {
	model.Appointment
	DayLabel    string
	TimeLabel   string
	FullDate    string
	StatusLabel string
	StatusStyle string
}

// Summary is everything the dashboard page renders.
type Summary struct {
	Greeting  string
	UserName  string
	Next      *Item
	Pending   int
	Confirmed int
	Completed int
	Upcoming  []Item
	FetchedAt time.Time
	// Stale is set when the last refresh failed and the list shown is the
	// last one that loaded.
	Stale error
}

// Dashboard owns the refresh schedule.
type Dashboard struct {
	src  Source
	loc  *time.Location
	spec string
	now  func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// New creates a dashboard. An empty spec uses DefaultRefresh and a nil now
// uses time.Now.
func New(src Source, loc *time.Location, spec string, now func() time.Time) *Dashboard {
	if loc == nil {
		loc = time.Local
	}
	if spec == "" {
		spec = DefaultRefresh
	}
	if now == nil {
		now = time.Now
	}
	return &Dashboard{src: src, loc: loc, spec: spec, now: now}
}

// Summary derives the dashboard view from the current snapshot.
func (d *Dashboard) Summary(user model.User) Summary {
	now := d.now().In(d.loc)
	list := d.src.Snapshot()

	s := Summary{
		Greeting:  datetime.Greeting(now),
		UserName:  user.FullName(),
		Pending:   classify.CountByStatus(list, model.StatusScheduled),
		Confirmed: classify.CountByStatus(list, model.StatusConfirmed),
		Completed: classify.CountByStatus(list, model.StatusCompleted),
		FetchedAt: d.src.FetchedAt(),
		Stale:     d.src.LastError(),
	}
	if next := classify.NextUpcoming(list, now, d.loc); next != nil {
		it := d.decorate(*next, now)
		s.Next = &it
	}
	for _, a := range classify.Active(list, d.loc) {
		s.Upcoming = append(s.Upcoming, d.decorate(a, now))
	}
	return s
}

// Decorate attaches display labels to a single appointment.
func (d *Dashboard) Decorate(a model.Appointment) Item {
	return d.decorate(a, d.now().In(d.loc))
}

func (d *Dashboard) decorate(a model.Appointment, now time.Time) Item {
	at := datetime.ToInstant(a.Date, a.Time, d.loc)
	return Item{
		Appointment: a,
		DayLabel:    datetime.FormatDayLabel(at, now),
		TimeLabel:   datetime.FormatTime12h(a.Time),
		FullDate:    datetime.FormatFullDate(at),
		StatusLabel: a.Status.Label(),
		StatusStyle: a.Status.Style(),
	}
}

// Mounted reports whether the refresh schedule is running.
func (d *Dashboard) Mounted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cron != nil
}

// Mount fetches once and starts the periodic refresh. Jobs run with ctx,
// so cancelling it aborts in-flight refreshes. Calling Mount while mounted
// does nothing.
func (d *Dashboard) Mount(ctx context.Context) error {
	d.mu.Lock()
	if d.cron != nil {
		d.mu.Unlock()
		return nil
	}
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(d.loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(d.spec, func() { d.refresh(ctx, "scheduled") }); err != nil {
		d.mu.Unlock()
		return err
	}
	d.cron = c
	c.Start()
	d.mu.Unlock()

	appLog.Info("dashboard mounted", "refresh", d.spec)
	d.refresh(ctx, "mount")
	return nil
}

// Refresh re-fetches immediately, independent of the schedule.
func (d *Dashboard) Refresh(ctx context.Context) error {
	_, err := d.src.FetchAll(ctx)
	return err
}

// Stop halts the schedule without waiting for a running refresh. It is
// safe to call from inside a refresh, e.g. from a session teardown hook.
func (d *Dashboard) Stop() {
	if c := d.detach(); c != nil {
		c.Stop()
		appLog.Info("dashboard stopped")
	}
}

// Unmount halts the schedule and waits for a running refresh to finish.
func (d *Dashboard) Unmount() {
	if c := d.detach(); c != nil {
		<-c.Stop().Done()
		appLog.Info("dashboard unmounted")
	}
}

func (d *Dashboard) detach() *cron.Cron {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.cron
	d.cron = nil
	return c
}

func (d *Dashboard) refresh(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	list, err := d.src.FetchAll(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			appLog.Error("dashboard refresh failed", err, "reason", reason)
		}
		return
	}
	appLog.Debug("dashboard refreshed", "reason", reason, "count", len(list))
}

// cronLogger routes cron's own messages through the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
