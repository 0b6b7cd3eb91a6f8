// Package store owns the in-memory appointment list of the signed-in
// patient. Every mutation goes through the Store and is followed by a
// reconciling re-fetch; the server stays the source of truth.
package store

import (
	"context"
	"sync"
	"time"

	appLog "clinicweb/internal/log"
	"clinicweb/internal/model"
)

// API is the part of the clinic API the store drives.
type API interface {
	ListAppointments(ctx context.Context) ([]model.Appointment, error)
	CreateAppointment(ctx context.Context, req model.CreateAppointmentRequest) (model.Appointment, error)
	GetAppointment(ctx context.Context, id int) (model.Appointment, error)
	CancelAppointment(ctx context.Context, id int) error
	ConfirmAppointment(ctx context.Context, id int) error
}

// Store holds the authoritative list for the session.
//
// Fetch failures keep the last-known list and record the error, so a
// transient outage during periodic refresh does not blank the calendar.
type Store struct {
	api API

	mu        sync.RWMutex
	list      []model.Appointment
	loaded    bool
	lastErr   error
	fetchedAt time.Time
}

func New(api API) *Store {
	return &Store{api: api}
}

// Snapshot returns a copy of the current list.
func (s *Store) Snapshot() []model.Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Appointment(nil), s.list...)
}

// Loaded reports whether at least one fetch succeeded.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// LastError is the error of the most recent fetch, nil after a success.
func (s *Store) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// FetchedAt is when the list was last replaced from the server.
func (s *Store) FetchedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetchedAt
}

// Reset drops all state; used when the session ends.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = nil
	s.loaded = false
	s.lastErr = nil
	s.fetchedAt = time.Time{}
}

// FetchAll replaces the list with the server's. On failure the previous list
// is kept and the error is recorded and returned.
func (s *Store) FetchAll(ctx context.Context) ([]model.Appointment, error) {
	list, err := s.api.ListAppointments(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastErr = err
		appLog.Error("appointments fetch failed; keeping last-known list", err, "kept", len(s.list))
		return append([]model.Appointment(nil), s.list...), err
	}
	s.list = append([]model.Appointment(nil), list...)
	s.loaded = true
	s.lastErr = nil
	s.fetchedAt = time.Now()
	appLog.Debug("appointments fetched", "count", len(list))
	return append([]model.Appointment(nil), s.list...), nil
}

// Create validates and submits req, appends the returned record and then
// re-fetches. A failed re-fetch is recorded but does not fail the create.
func (s *Store) Create(ctx context.Context, req model.CreateAppointmentRequest) (model.Appointment, error) {
	if err := req.Validate(); err != nil {
		return model.Appointment{}, err
	}
	created, err := s.api.CreateAppointment(ctx, req)
	if err != nil {
		return model.Appointment{}, err
	}

	s.mu.Lock()
	s.list = append(s.list, created)
	s.mu.Unlock()
	appLog.Info("appointment created", "id", created.ID, "date", created.Date, "time", created.Time)

	s.reconcile(ctx)
	return created, nil
}

// Cancel marks id cancelled locally, asks the server, rolls back on
// failure and re-fetches once the request has settled.
func (s *Store) Cancel(ctx context.Context, id int) error {
	return s.transition(ctx, id, model.StatusCancelled, s.api.CancelAppointment)
}

// Confirm is symmetric to Cancel with the confirmed status.
func (s *Store) Confirm(ctx context.Context, id int) error {
	return s.transition(ctx, id, model.StatusConfirmed, s.api.ConfirmAppointment)
}

// Get fetches a single appointment straight from the API.
func (s *Store) Get(ctx context.Context, id int) (model.Appointment, error) {
	return s.api.GetAppointment(ctx, id)
}

func (s *Store) transition(ctx context.Context, id int, to model.Status, call func(context.Context, int) error) error {
	prev, found := s.setStatus(id, to)

	err := call(ctx, id)
	if err != nil {
		if found {
			s.restoreStatus(id, to, prev)
		}
		appLog.Error("appointment transition failed", err, "id", id, "to", to)
	} else {
		appLog.Info("appointment transitioned", "id", id, "to", to)
	}

	// Only after the mutation settled, so the optimistic state is never
	// overwritten by a list that predates it.
	s.reconcile(ctx)
	return err
}

// setStatus applies an optimistic status and returns the previous one.
func (s *Store) setStatus(id int, to model.Status) (model.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.list {
		if s.list[i].ID == id {
			prev := s.list[i].Status
			s.list[i].Status = to
			return prev, true
		}
	}
	return "", false
}

// restoreStatus rolls back only if nothing else changed the entry since.
func (s *Store) restoreStatus(id int, applied, prev model.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.list {
		if s.list[i].ID == id && s.list[i].Status == applied {
			s.list[i].Status = prev
			return
		}
	}
}

func (s *Store) reconcile(ctx context.Context) {
	if _, err := s.FetchAll(ctx); err != nil {
		appLog.Error("reconcile fetch failed", err)
	}
}
