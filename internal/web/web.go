// Package web serves the patient UI: login and registration, the month
// calendar with the booking dialog, and a few machine-readable endpoints.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"clinicweb/internal/api"
	"clinicweb/internal/booking"
	"clinicweb/internal/calendar"
	"clinicweb/internal/config"
	"clinicweb/internal/dashboard"
	appLog "clinicweb/internal/log"
	"clinicweb/internal/session"
	"clinicweb/internal/store"
)

// Options wires the server to the rest of the application.
type Options struct {
	Config    *config.Config
	API       *api.Client
	Session   *session.Session
	Store     *store.Store
	Dashboard *dashboard.Dashboard

	// BaseContext scopes background work started by handlers, such as the
	// dashboard refresh job. Defaults to context.Background().
	BaseContext context.Context

	// Now is the clock used by the calendar. Defaults to time.Now.
	Now func() time.Time

	Debug bool
}

// Server is the HTTP front of the application.
type Server struct {
	cfg     *config.Config
	loc     *time.Location
	api     *api.Client
	session *session.Session
	store   *store.Store
	dash    *dashboard.Dashboard
	view    *calendar.View
	dialog  *booking.Dialog
	limiter *clientLimiter
	pages   *renderer
	baseCtx context.Context
	now     func() time.Time
	debug   bool

	router *mux.Router
}

// NewServer builds the server and registers the session teardown hook that
// drops all per-patient state.
func NewServer(opts Options) (*Server, error) {
	if opts.Config == nil || opts.API == nil || opts.Session == nil || opts.Store == nil || opts.Dashboard == nil {
		return nil, errors.New("web: incomplete options")
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	loc, err := opts.Config.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", opts.Config.Timezone)
	}

	limiter, err := newClientLimiter(opts.Config.LoginRateLimit)
	if err != nil {
		return nil, fmt.Errorf("web: rate limiter: %w", err)
	}
	pages, err := newRenderer()
	if err != nil {
		return nil, fmt.Errorf("web: templates: %w", err)
	}

	s := &Server{
		cfg:     opts.Config,
		loc:     loc,
		api:     opts.API,
		session: opts.Session,
		store:   opts.Store,
		dash:    opts.Dashboard,
		view:    calendar.New(loc, calendar.ParseWeekStart(opts.Config.WeekStart), opts.Now),
		dialog:  booking.New(opts.Store),
		limiter: limiter,
		pages:   pages,
		baseCtx: opts.BaseContext,
		now:     opts.Now,
		debug:   opts.Debug,
		router:  mux.NewRouter(),
	}
	s.session.OnTeardown(s.resetPatientState)
	s.registerRoutes()
	return s, nil
}

// resetPatientState runs whenever the session ends.
func (s *Server) resetPatientState() {
	s.dash.Stop()
	s.store.Reset()
	s.dialog.Close()
	s.view.ClearSelection()
	s.view.JumpToToday()
}

// Handler returns the full middleware chain: recovery, access log and,
// when configured, basic auth.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	h = handlers.CombinedLoggingHandler(appLog.Writer(), h)
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{}),
		handlers.PrintRecoveryStack(s.debug),
	)(h)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen, "debug", s.debug)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web: shutdown: %w", err)
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	r := s.router
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/", s.handleLanding).Methods(http.MethodGet)
	r.HandleFunc("/login", s.limiter.wrap(s.handleLogin, s.denyLogin)).Methods(http.MethodPost)
	r.HandleFunc("/register", s.handleRegisterForm).Methods(http.MethodGet)
	r.HandleFunc("/register", s.limiter.wrap(s.handleRegister, s.denyRegister)).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)

	const (
		dayPattern = "{date:[0-9]{4}-[0-9]{2}-[0-9]{2}}"
		idPattern  = "{id:[0-9]+}"
	)
	authed := r.NewRoute().Subrouter()
	authed.Use(s.requireSession)
	authed.HandleFunc("/dashboard", s.handleDashboard).Methods(http.MethodGet)
	authed.HandleFunc("/dashboard/refresh", s.handleRefresh).Methods(http.MethodPost)
	authed.HandleFunc("/dashboard/day/"+dayPattern, s.handleDay).Methods(http.MethodGet)
	authed.HandleFunc("/dashboard/day/"+dayPattern+"/appointments", s.handleCreate).Methods(http.MethodPost)
	authed.HandleFunc("/dashboard/day/"+dayPattern+"/appointments/"+idPattern+"/cancel", s.handleCancel).Methods(http.MethodPost)
	authed.HandleFunc("/confirm-appointment/confirm/"+idPattern, s.handleConfirmLink).Methods(http.MethodGet)
	authed.HandleFunc("/api/appointments", s.handleAppointmentsJSON).Methods(http.MethodGet)
	authed.HandleFunc("/calendar.ics", s.handleICS).Methods(http.MethodGet)
	authed.HandleFunc("/calendar/print", s.handlePrint).Methods(http.MethodGet)
	authed.HandleFunc("/calendar/snapshot", s.handleSnapshot).Methods(http.MethodPost)
	authed.HandleFunc("/preview.png", s.handlePreview).Methods(http.MethodGet)
}

// requireSession sends signed-out visitors to the login page; machine
// endpoints get a JSON 401 instead.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.session.Authenticated() {
			next.ServeHTTP(w, r)
			return
		}
		if wantsJSON(r) {
			writeError(w, http.StatusUnauthorized, "no autenticado")
			return
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
	})
}

func wantsJSON(r *http.Request) bool {
	switch r.URL.Path {
	case "/api/appointments", "/calendar.ics", "/preview.png":
		return true
	}
	return false
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables it.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Clinica", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

type healthResponse struct {
	Status        string `json:"status"`
	API           string `json:"api"`
	Authenticated bool   `json:"authenticated"`
}

// handleHealth reports process liveness and whether the clinic API answers.
// It always returns 200 so a slow API does not restart the frontend.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", API: "ok", Authenticated: s.session.Authenticated()}
	if err := s.api.Health(ctx); err != nil {
		appLog.Debug("health: API unreachable", "err", err.Error())
		resp.API = "unreachable"
	}
	writeJSON(w, http.StatusOK, resp)
}

// recoveryLogger sends recovered panics to the app log.
type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	appLog.Error("panic recovered in HTTP handler", errors.New(fmt.Sprint(v...)))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
