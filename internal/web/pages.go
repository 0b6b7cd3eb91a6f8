package web

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"clinicweb/internal/api"
	"clinicweb/internal/booking"
	"clinicweb/internal/calendar"
	"clinicweb/internal/dashboard"
	"clinicweb/internal/datetime"
	appLog "clinicweb/internal/log"
	"clinicweb/internal/model"
)

const (
	msgTooManyAttempts = "Demasiados intentos. Espera un momento e intenta de nuevo."
	msgPastDay         = "No puedes agendar citas en días pasados."
	msgBadDate         = "La fecha no es válida."
)

// page is the data handed to every layout template.
type page struct {
	Title    string
	Signed   bool
	UserName string
	Error    string
	Notice   string

	Email    string
	Register model.RegisterRequest

	Summary dashboard.Summary
	Month   calendar.Month
	Dialog  *dialogView
	Confirm *confirmView
}

type dialogView struct {
	Key             string
	Title           string
	Creating        bool
	Success         bool
	HasAppointments bool
	Items           []dashboard.Item
	ConfirmCancel   int
	Form            model.CreateAppointmentRequest
	Services        []string
}

// confirmView backs the confirm-by-link page. Outcome is one of
// "confirmed", "already", "closed" or "missing".
type confirmView struct {
	Outcome string
	Item    *dashboard.Item
}

func (s *Server) basePage(title string) page {
	p := page{Title: title}
	if u, ok := s.session.User(); ok {
		p.Signed = true
		p.UserName = u.FullName()
	}
	return p
}

// statusFor maps an error to the HTTP status of the page that reports it.
func statusFor(err error) int {
	var (
		verr     *model.ValidationError
		apiErr   *api.APIError
		transErr *api.TransportError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, api.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.As(err, &apiErr):
		if apiErr.Status >= 400 && apiErr.Status < 500 {
			return apiErr.Status
		}
		return http.StatusBadGateway
	case errors.As(err, &transErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// signedOut handles an error that ended the session. The teardown hook has
// already dropped the patient state; all that is left is the redirect.
func signedOut(w http.ResponseWriter, r *http.Request, err error) bool {
	if !errors.Is(err, api.ErrUnauthorized) {
		return false
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
	return true
}

func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	if s.session.Authenticated() {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	s.pages.render(w, http.StatusOK, "login.html", s.basePage("Iniciar sesión"))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.FormValue("email"))
	if err := s.session.Login(r.Context(), email, r.FormValue("password")); err != nil {
		p := s.basePage("Iniciar sesión")
		p.Email = email
		p.Error = api.UserMessage(err, "No se pudo iniciar sesión")
		s.pages.render(w, statusFor(err), "login.html", p)
		return
	}
	s.afterSignIn(w, r)
}

func (s *Server) denyLogin(w http.ResponseWriter, r *http.Request) {
	p := s.basePage("Iniciar sesión")
	p.Email = strings.TrimSpace(r.FormValue("email"))
	p.Error = msgTooManyAttempts
	s.pages.render(w, http.StatusTooManyRequests, "login.html", p)
}

func (s *Server) handleRegisterForm(w http.ResponseWriter, r *http.Request) {
	if s.session.Authenticated() {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	s.pages.render(w, http.StatusOK, "register.html", s.basePage("Crear cuenta"))
}

func registerForm(r *http.Request) model.RegisterRequest {
	return model.RegisterRequest{
		Name:     strings.TrimSpace(r.FormValue("nombre")),
		Surname:  strings.TrimSpace(r.FormValue("apellido")),
		Email:    strings.TrimSpace(r.FormValue("email")),
		Password: r.FormValue("password"),
		Phone:    strings.TrimSpace(r.FormValue("telefono")),
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	req := registerForm(r)
	if err := s.session.Register(r.Context(), req); err != nil {
		p := s.basePage("Crear cuenta")
		req.Password = ""
		p.Register = req
		p.Error = api.UserMessage(err, "No se pudo crear la cuenta")
		s.pages.render(w, statusFor(err), "register.html", p)
		return
	}
	s.afterSignIn(w, r)
}

func (s *Server) denyRegister(w http.ResponseWriter, r *http.Request) {
	p := s.basePage("Crear cuenta")
	req := registerForm(r)
	req.Password = ""
	p.Register = req
	p.Error = msgTooManyAttempts
	s.pages.render(w, http.StatusTooManyRequests, "register.html", p)
}

func (s *Server) afterSignIn(w http.ResponseWriter, r *http.Request) {
	if err := s.dash.Mount(s.baseCtx); err != nil {
		appLog.Error("dashboard mount failed", err)
	}
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.session.Logout()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// ensureLoaded makes sure the refresh job runs and the store has been
// filled at least once. Only ErrUnauthorized is worth acting on; other
// fetch errors surface as the stale banner.
func (s *Server) ensureLoaded(ctx context.Context) error {
	if !s.dash.Mounted() {
		if err := s.dash.Mount(s.baseCtx); err != nil {
			appLog.Error("dashboard mount failed", err)
		}
	}
	if s.store.Loaded() {
		return nil
	}
	_, err := s.store.FetchAll(ctx)
	return err
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch q.Get("nav") {
	case "prev":
		s.view.PreviousMonth()
	case "next":
		s.view.NextMonth()
	case "today":
		s.view.JumpToToday()
	}
	if y, m, ok := parseYearMonth(q); ok {
		s.view.Show(y, m)
	}
	s.dialog.Close()
	s.view.ClearSelection()

	if err := s.ensureLoaded(r.Context()); signedOut(w, r, err) {
		return
	}
	s.renderDashboard(w, http.StatusOK, s.basePage("Mis citas"), nil)
}

func (s *Server) renderDashboard(w http.ResponseWriter, status int, p page, dv *dialogView) {
	u, _ := s.session.User()
	p.Summary = s.dash.Summary(u)
	p.Month = s.view.Grid(s.store.Snapshot())
	p.Dialog = dv
	s.pages.render(w, status, "dashboard.html", p)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.dash.Refresh(r.Context()); signedOut(w, r, err) {
		return
	}
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// dayFromRequest parses the {date} route variable in the clinic timezone.
func (s *Server) dayFromRequest(r *http.Request) (time.Time, error) {
	return datetime.ParseDay(mux.Vars(r)["date"], s.loc)
}

// openDay selects day and opens the dialog on it. When the dialog already
// shows that day only its list is refreshed, so the mode survives.
func (s *Server) openDay(day time.Time) error {
	sel, err := s.view.SelectDay(day, s.store.Snapshot())
	if err != nil {
		return err
	}
	s.view.Show(sel.Day.Year(), sel.Day.Month())
	if s.dialog.IsOpen() && datetime.SameDay(s.dialog.Day(), sel.Day) {
		s.dialog.Refresh(sel.Appointments)
		return nil
	}
	s.dialog.Open(sel.Day, sel.Appointments)
	return nil
}

// prepareDay runs the steps shared by every day route. It writes the
// response itself and returns false when the request cannot go on.
func (s *Server) prepareDay(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	day, err := s.dayFromRequest(r)
	if err != nil {
		p := s.basePage("Mis citas")
		p.Error = msgBadDate
		s.renderDashboard(w, http.StatusBadRequest, p, nil)
		return time.Time{}, false
	}
	if err := s.ensureLoaded(r.Context()); signedOut(w, r, err) {
		return time.Time{}, false
	}
	if err := s.openDay(day); err != nil {
		p := s.basePage("Mis citas")
		p.Error = msgPastDay
		if !errors.Is(err, calendar.ErrPastDay) {
			p.Error = api.UserMessage(err, "")
		}
		s.renderDashboard(w, http.StatusUnprocessableEntity, p, nil)
		return time.Time{}, false
	}
	return day, true
}

func (s *Server) dialogView(form *model.CreateAppointmentRequest, confirmID int) *dialogView {
	day := s.dialog.Day()
	appts := s.dialog.Appointments()
	items := make([]dashboard.Item, 0, len(appts))
	for _, a := range appts {
		items = append(items, s.dash.Decorate(a))
	}

	dv := &dialogView{
		Key:             datetime.DayKey(day),
		Title:           datetime.FormatFullDate(day),
		Creating:        s.dialog.Mode() == booking.Creating,
		Success:         s.dialog.Success(),
		HasAppointments: len(items) > 0,
		Items:           items,
		ConfirmCancel:   confirmID,
		Services:        model.Services,
	}
	if form != nil {
		dv.Form = *form
	} else if u, ok := s.session.User(); ok {
		dv.Form = model.CreateAppointmentRequest{PatientName: u.FullName(), Email: u.Email, Phone: u.Phone}
	}
	return dv
}

func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.prepareDay(w, r); !ok {
		return
	}
	switch r.URL.Query().Get("mode") {
	case "create":
		s.dialog.BookAnother()
	case "view":
		s.dialog.ShowExisting()
	}
	s.renderDashboard(w, http.StatusOK, s.basePage("Mis citas"), s.dialogView(nil, 0))
	// the success banner is shown once
	s.dialog.Acknowledge()
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	day, ok := s.prepareDay(w, r)
	if !ok {
		return
	}
	req := model.CreateAppointmentRequest{
		PatientName: strings.TrimSpace(r.FormValue("nombre_paciente")),
		Phone:       strings.TrimSpace(r.FormValue("telefono")),
		Email:       strings.TrimSpace(r.FormValue("email")),
		Service:     strings.TrimSpace(r.FormValue("servicio")),
		Time:        strings.TrimSpace(r.FormValue("hora_cita")),
		Note:        strings.TrimSpace(r.FormValue("mensaje")),
	}
	s.dialog.BookAnother()
	if _, err := s.dialog.Submit(r.Context(), req); err != nil {
		if signedOut(w, r, err) {
			return
		}
		p := s.basePage("Mis citas")
		p.Error = api.UserMessage(err, "No se pudo agendar la cita")
		s.renderDashboard(w, statusFor(err), p, s.dialogView(&req, 0))
		return
	}
	http.Redirect(w, r, "/dashboard/day/"+datetime.DayKey(day), http.StatusSeeOther)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	day, ok := s.prepareDay(w, r)
	if !ok {
		return
	}
	id, _ := strconv.Atoi(mux.Vars(r)["id"])

	err := s.dialog.Cancel(r.Context(), id, r.FormValue("confirm") == "yes")
	switch {
	case errors.Is(err, booking.ErrNotConfirmed):
		s.renderDashboard(w, http.StatusOK, s.basePage("Mis citas"), s.dialogView(nil, id))
	case err != nil:
		if signedOut(w, r, err) {
			return
		}
		p := s.basePage("Mis citas")
		p.Error = api.UserMessage(err, "No se pudo cancelar la cita")
		s.renderDashboard(w, statusFor(err), p, s.dialogView(nil, 0))
	default:
		http.Redirect(w, r, "/dashboard/day/"+datetime.DayKey(day), http.StatusSeeOther)
	}
}

// handleConfirmLink confirms an appointment from the link sent to the
// patient. Opening the link twice reports the appointment as already
// confirmed instead of calling the API again.
func (s *Server) handleConfirmLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, _ := strconv.Atoi(mux.Vars(r)["id"])
	if err := s.ensureLoaded(ctx); signedOut(w, r, err) {
		return
	}

	p := s.basePage("Confirmar cita")
	a, err := s.store.Get(ctx, id)
	switch {
	case err == nil:
	case signedOut(w, r, err):
		return
	case api.IsNotFound(err):
		p.Confirm = &confirmView{Outcome: "missing"}
		s.pages.render(w, http.StatusNotFound, "confirm.html", p)
		return
	default:
		p.Error = api.UserMessage(err, "No se pudo consultar la cita")
		p.Confirm = &confirmView{Outcome: "missing"}
		s.pages.render(w, statusFor(err), "confirm.html", p)
		return
	}

	outcome := "already"
	switch {
	case a.Status == model.StatusConfirmed:
	case a.Status.Terminal():
		outcome = "closed"
	default:
		if err := s.store.Confirm(ctx, id); err != nil {
			if signedOut(w, r, err) {
				return
			}
			item := s.dash.Decorate(a)
			p.Error = api.UserMessage(err, "No se pudo confirmar la cita")
			p.Confirm = &confirmView{Outcome: "missing", Item: &item}
			s.pages.render(w, statusFor(err), "confirm.html", p)
			return
		}
		a.Status = model.StatusConfirmed
		outcome = "confirmed"
	}
	item := s.dash.Decorate(a)
	p.Confirm = &confirmView{Outcome: outcome, Item: &item}
	s.pages.render(w, http.StatusOK, "confirm.html", p)
}

// parseYearMonth reads ?year=&month= (1-12).
func parseYearMonth(q url.Values) (int, time.Month, bool) {
	y, err := strconv.Atoi(q.Get("year"))
	if err != nil || y < 1 {
		return 0, 0, false
	}
	m, err := strconv.Atoi(q.Get("month"))
	if err != nil || m < 1 || m > 12 {
		return 0, 0, false
	}
	return y, time.Month(m), true
}
