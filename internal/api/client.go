// Package api is the HTTP client for the clinic REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	appLog "clinicweb/internal/log"
	"clinicweb/internal/model"
)

const defaultTimeout = 15 * time.Second

// maxErrorBody caps how much of an error response is read for its message.
const maxErrorBody = 64 << 10

// TokenSource supplies the bearer token for authenticated calls. An empty
// token means there is no session.
type TokenSource interface {
	Token() string
}

// Client talks to the clinic API. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client

	mu             sync.RWMutex
	tokens         TokenSource
	onUnauthorized func()
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// NewClient creates a Client for baseURL (e.g. "http://localhost:8080").
func NewClient(baseURL string, opts ...Option) *Client {
	for len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetTokenSource wires the session that owns the bearer token.
func (c *Client) SetTokenSource(ts TokenSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = ts
}

// OnUnauthorized registers the hook run when an authenticated call gets a 401.
func (c *Client) OnUnauthorized(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = fn
}

func (c *Client) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tokens == nil {
		return ""
	}
	return c.tokens.Token()
}

func (c *Client) unauthorized() {
	c.mu.RLock()
	fn := c.onUnauthorized
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Register creates an account and returns its token.
func (c *Client) Register(ctx context.Context, req model.RegisterRequest) (model.AuthResponse, error) {
	var out model.AuthResponse
	err := c.do(ctx, "register", http.MethodPost, "/api/auth/register", req, &out, noAuth)
	return out, err
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, req model.LoginRequest) (model.AuthResponse, error) {
	var out model.AuthResponse
	err := c.do(ctx, "login", http.MethodPost, "/api/auth/login", req, &out, noAuth)
	return out, err
}

// Me returns the user that owns the current token.
func (c *Client) Me(ctx context.Context) (model.User, error) {
	var out model.User
	err := c.do(ctx, "me", http.MethodGet, "/api/auth/me", nil, &out, requireAuth)
	return out, err
}

// ListAppointments returns every appointment of the session's user. A body
// that is not a JSON array is treated as an empty list.
func (c *Client) ListAppointments(ctx context.Context) ([]model.Appointment, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "list appointments", http.MethodGet, "/api/appointments", nil, &raw, requireAuth); err != nil {
		return nil, err
	}
	out := []model.Appointment{}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return out, nil
	}
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, &TransportError{Op: "list appointments", Err: err}
	}
	return out, nil
}

// CreateAppointment submits a new appointment; the server assigns id and
// the initial status.
func (c *Client) CreateAppointment(ctx context.Context, req model.CreateAppointmentRequest) (model.Appointment, error) {
	var out model.Appointment
	err := c.do(ctx, "create appointment", http.MethodPost, "/api/appointments", req, &out, requireAuth)
	return out, err
}

// GetAppointment fetches a single appointment.
func (c *Client) GetAppointment(ctx context.Context, id int) (model.Appointment, error) {
	var out model.Appointment
	err := c.do(ctx, "get appointment", http.MethodGet, appointmentPath(id), nil, &out, requireAuth)
	return out, err
}

// ConfirmAppointment moves an appointment to confirmed. The route is public
// (it backs the link in the reminder email); the token is sent when held.
func (c *Client) ConfirmAppointment(ctx context.Context, id int) error {
	return c.do(ctx, "confirm appointment", http.MethodPost, appointmentPath(id)+"/confirm", nil, nil, optionalAuth)
}

// CancelAppointment soft-cancels an appointment.
func (c *Client) CancelAppointment(ctx context.Context, id int) error {
	return c.do(ctx, "cancel appointment", http.MethodDelete, appointmentPath(id), nil, nil, requireAuth)
}

// Health pings the API's /health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, "health", http.MethodGet, "/health", nil, nil, noAuth)
}

func appointmentPath(id int) string {
	return "/api/appointments/" + strconv.Itoa(id)
}

// authMode says whether a call carries the bearer token.
type authMode int

const (
	noAuth authMode = iota
	// optionalAuth sends the token when one is held.
	optionalAuth
	// requireAuth fails fast without a token.
	requireAuth
)

func (c *Client) do(ctx context.Context, op, method, path string, body, out any, auth authMode) error {
	var tok string
	if auth != noAuth {
		tok = c.token()
	}
	if auth == requireAuth && tok == "" {
		return fmt.Errorf("api %s: %w", op, ErrUnauthorized)
	}

	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api %s: encode: %w", op, err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		appLog.Error("api request failed", err, "op", op, "method", method, "path", path, "request_id", reqID)
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	appLog.Debug("api request",
		"op", op,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", reqID,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	// only a rejected token ends the session
	if resp.StatusCode == http.StatusUnauthorized && tok != "" {
		appLog.Info("api rejected session token", "op", op, "request_id", reqID)
		c.unauthorized()
		return fmt.Errorf("api %s: %w", op, ErrUnauthorized)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Op: op, Status: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return &TransportError{Op: op, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

// readErrorMessage pulls {"error": "..."} (or {"message": "..."}) out of an
// error body.
func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) != nil {
		return ""
	}
	if body.Error != "" {
		return body.Error
	}
	return body.Message
}
