package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"clinicweb/internal/api"
	"clinicweb/internal/calendar"
	"clinicweb/internal/capture"
	"clinicweb/internal/classify"
	"clinicweb/internal/dashboard"
	"clinicweb/internal/datetime"
	"clinicweb/internal/ics"
	appLog "clinicweb/internal/log"
	"clinicweb/internal/model"
)

type appointmentsResponse struct {
	Appointments []model.Appointment `json:"appointments"`
	FetchedAt    time.Time           `json:"fetched_at"`
	Stale        string              `json:"stale,omitempty"`
}

// handleAppointmentsJSON returns the store snapshot.
//
// GET /api/appointments?refresh=1
//   - refresh: re-fetch from the clinic API before answering
func (s *Server) handleAppointmentsJSON(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	if r.URL.Query().Get("refresh") == "1" {
		_, err = s.store.FetchAll(ctx)
	} else {
		err = s.ensureLoaded(ctx)
	}
	if errors.Is(err, api.ErrUnauthorized) {
		writeError(w, http.StatusUnauthorized, api.UserMessage(err, ""))
		return
	}

	resp := appointmentsResponse{
		Appointments: s.store.Snapshot(),
		FetchedAt:    s.store.FetchedAt(),
	}
	if resp.Appointments == nil {
		resp.Appointments = []model.Appointment{}
	}
	if last := s.store.LastError(); last != nil {
		resp.Stale = api.UserMessage(last, "")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	if err := s.ensureLoaded(r.Context()); errors.Is(err, api.ErrUnauthorized) {
		writeError(w, http.StatusUnauthorized, api.UserMessage(err, ""))
		return
	}

	var buf bytes.Buffer
	res, err := ics.Export(&buf, s.store.Snapshot(), ics.ExportConfig{Location: s.loc, Now: s.now})
	if err != nil {
		appLog.Error("ics export failed", err)
		writeError(w, http.StatusInternalServerError, "no se pudo exportar el calendario")
		return
	}
	appLog.Debug("ics served", "events", res.Events, "skipped", len(res.Skipped))
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="citas.ics"`)
	_, _ = buf.WriteTo(w)
}

type printPage struct {
	Month    calendar.Month
	UserName string
	DayItems map[string][]dashboard.Item
}

// handlePrint renders a standalone month sheet. It uses its own view so
// printing never moves the patient's calendar.
//
// GET /calendar/print?year=2025&month=6
func (s *Server) handlePrint(w http.ResponseWriter, r *http.Request) {
	if err := s.ensureLoaded(r.Context()); signedOut(w, r, err) {
		return
	}
	year, month := s.view.Current()
	if y, m, ok := parseYearMonth(r.URL.Query()); ok {
		year, month = y, m
	}

	v := calendar.New(s.loc, calendar.ParseWeekStart(s.cfg.WeekStart), s.now)
	v.Show(year, month)
	list := s.store.Snapshot()

	p := printPage{
		Month:    v.Grid(list),
		DayItems: map[string][]dashboard.Item{},
	}
	if u, ok := s.session.User(); ok {
		p.UserName = u.FullName()
	}
	for key, appts := range classify.ByDay(list) {
		items := make([]dashboard.Item, 0, len(appts))
		for _, a := range s.byClock(appts) {
			items = append(items, s.dash.Decorate(a))
		}
		p.DayItems[key] = items
	}
	s.pages.render(w, http.StatusOK, "print.html", p)
}

// byClock orders one day's appointments by start time. Entries with an
// unparsable time go last in input order.
func (s *Server) byClock(appts []model.Appointment) []model.Appointment {
	out := append([]model.Appointment(nil), appts...)
	at := func(a model.Appointment) time.Time { return datetime.ToInstant(a.Date, a.Time, s.loc) }
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := at(out[i]), at(out[j])
		if datetime.Valid(ti) != datetime.Valid(tj) {
			return datetime.Valid(ti)
		}
		return ti.Before(tj)
	})
	return out
}

// PrintURL is the address Chromium loads to snapshot a month.
func (s *Server) PrintURL(year int, month time.Month) string {
	host := s.cfg.Listen
	if strings.HasPrefix(host, ":") {
		host = "127.0.0.1" + host
	}
	return fmt.Sprintf("http://%s/calendar/print?year=%d&month=%d", host, year, int(month))
}

// Snapshot captures the displayed month to the configured snapshot path.
// The server must be listening.
func (s *Server) Snapshot(ctx context.Context) error {
	year, month := s.view.Current()
	opts := capture.Options{
		URL:        s.PrintURL(year, month),
		OutputPath: s.cfg.SnapshotPath,
	}
	if s.basicAuthEnabled() {
		opts.Username = s.cfg.BasicAuth.Username
		opts.Password = s.cfg.BasicAuth.Password
	}
	return capture.Snapshot(ctx, opts)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.Snapshot(r.Context()); err != nil {
		appLog.Error("calendar snapshot failed", err)
		writeError(w, http.StatusInternalServerError, "no se pudo generar la vista previa")
		return
	}
	http.Redirect(w, r, "/preview.png", http.StatusSeeOther)
}

// handlePreview serves the last snapshot from disk.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, s.cfg.SnapshotPath)
}
