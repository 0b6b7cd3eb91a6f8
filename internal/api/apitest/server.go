// Package apitest provides an in-memory clinic API for tests.
package apitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"

	"clinicweb/internal/model"
)

const (
	DefaultEmail    = "ana@example.com"
	DefaultPassword = "secreto123"
	DefaultToken    = "token-ana"
)

type failure struct {
	method string
	path   string
	status int
	msg    string
}

// Server is a fake clinic API backed by memory. One patient account exists
// from the start; register adds more.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	users        map[string]model.User // by token
	passwords    map[string]string     // email -> password
	tokens       map[string]string     // email -> token
	accounts     map[string]model.User // by email
	appointments map[string][]model.Appointment
	nextID       int
	failures     []failure
	requests     []string
}

// New starts a fake API and closes it when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		users:        map[string]model.User{},
		passwords:    map[string]string{},
		tokens:       map[string]string{},
		accounts:     map[string]model.User{},
		appointments: map[string][]model.Appointment{},
		nextID:       100,
	}
	s.addUser(model.User{ID: 1, Name: "Ana", Surname: "López", Email: DefaultEmail}, DefaultPassword, DefaultToken)

	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.HandleFunc("/api/auth/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/me", s.authed(s.handleMe)).Methods(http.MethodGet)
	r.HandleFunc("/api/appointments", s.authed(s.handleList)).Methods(http.MethodGet)
	r.HandleFunc("/api/appointments", s.authed(s.handleCreate)).Methods(http.MethodPost)
	r.HandleFunc("/api/appointments/{id:[0-9]+}", s.authed(s.handleGet)).Methods(http.MethodGet)
	r.HandleFunc("/api/appointments/{id:[0-9]+}", s.authed(s.handleCancel)).Methods(http.MethodDelete)
	r.HandleFunc("/api/appointments/{id:[0-9]+}/confirm", s.handleConfirm).Methods(http.MethodPost)

	s.Server = httptest.NewServer(s.intercept(r))
	t.Cleanup(s.Close)
	return s
}

func (s *Server) addUser(u model.User, password, token string) {
	s.users[token] = u
	s.accounts[u.Email] = u
	s.passwords[u.Email] = password
	s.tokens[u.Email] = token
}

// Seed replaces the appointments of the user owning token.
func (s *Server) Seed(token string, list ...model.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appointments[token] = append([]model.Appointment(nil), list...)
}

// Appointments returns a copy of the stored appointments for token.
func (s *Server) Appointments(token string) []model.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Appointment(nil), s.appointments[token]...)
}

// FailNext makes the next request matching method and path prefix answer
// status with {"error": msg}.
func (s *Server) FailNext(method, pathPrefix string, status int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{method: method, path: pathPrefix, status: status, msg: msg})
}

// RevokeToken invalidates a token so later calls answer 401.
func (s *Server) RevokeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, token)
}

// Requests returns "METHOD /path" for every request received.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// CountRequests counts received requests equal to "METHOD /path".
func (s *Server) CountRequests(line string) int {
	n := 0
	for _, r := range s.Requests() {
		if r == line {
			n++
		}
	}
	return n
}

func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		for i, f := range s.failures {
			if f.method == r.Method && strings.HasPrefix(r.URL.Path, f.path) {
				s.failures = append(s.failures[:i], s.failures[i+1:]...)
				s.mu.Unlock()
				writeJSON(w, f.status, map[string]string{"error": f.msg})
				return
			}
		}
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

type ctxHandler func(w http.ResponseWriter, r *http.Request, token string, u model.User)

func (s *Server) authed(h ctxHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		u, ok := s.users[tok]
		s.mu.Unlock()
		if tok == "" || !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "token inválido"})
			return
		}
		h(w, r, tok, u)
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Validate() != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "datos inválidos"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.passwords[req.Email]; exists {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "el email ya está registrado"})
		return
	}
	s.nextID++
	u := model.User{ID: s.nextID, Name: req.Name, Surname: req.Surname, Email: req.Email, Phone: req.Phone}
	tok := "token-" + strconv.Itoa(u.ID)
	s.addUser(u, req.Password, tok)
	writeJSON(w, http.StatusCreated, model.AuthResponse{Token: tok, User: u})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "datos inválidos"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if pw, ok := s.passwords[req.Email]; !ok || pw != req.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "credenciales inválidas"})
		return
	}
	tok := s.tokens[req.Email]
	u := s.accounts[req.Email]
	// logging in again revives a revoked token
	s.users[tok] = u
	writeJSON(w, http.StatusOK, model.AuthResponse{Token: tok, User: u})
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, _ string, u model.User) {
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request, tok string, _ model.User) {
	s.mu.Lock()
	list := append([]model.Appointment{}, s.appointments[tok]...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, tok string, _ model.User) {
	var req model.CreateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Validate() != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "faltan campos obligatorios"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	a := model.Appointment{
		ID:          s.nextID,
		PatientName: req.PatientName,
		Phone:       req.Phone,
		Email:       req.Email,
		Service:     req.Service,
		// the real API answers dates with a time suffix
		Date:      req.Date + "T00:00:00Z",
		Time:      req.Time,
		Status:    model.StatusScheduled,
		Note:      req.Note,
		CreatedAt: "2025-06-01T10:00:00Z",
	}
	s.appointments[tok] = append(s.appointments[tok], a)
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) find(tok string, r *http.Request) (int, bool) {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])
	for i, a := range s.appointments[tok] {
		if a.ID == id {
			return i, true
		}
	}
	return 0, false
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, tok string, _ model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.find(tok, r)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "cita no encontrada"})
		return
	}
	writeJSON(w, http.StatusOK, s.appointments[tok][i])
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, tok string, _ model.User) {
	s.setStatus(w, r, tok, model.StatusCancelled)
}

// handleConfirm is public, like the link in the reminder email. A token,
// when sent, must still be valid.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if tok != "" {
		s.authed(func(w http.ResponseWriter, r *http.Request, tok string, _ model.User) {
			s.setStatus(w, r, tok, model.StatusConfirmed)
		})(w, r)
		return
	}
	s.mu.Lock()
	for owner := range s.appointments {
		if _, ok := s.find(owner, r); ok {
			tok = owner
			break
		}
	}
	s.mu.Unlock()
	s.setStatus(w, r, tok, model.StatusConfirmed)
}

func (s *Server) setStatus(w http.ResponseWriter, r *http.Request, tok string, st model.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.find(tok, r)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "cita no encontrada"})
		return
	}
	s.appointments[tok][i].Status = st
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
