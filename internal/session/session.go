// Package session holds the authenticated patient and the lifecycle of the
// bearer token. A Session is created once by main and injected wherever
// identity is needed.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"clinicweb/internal/api"
	appLog "clinicweb/internal/log"
	"clinicweb/internal/model"
)

// AuthAPI is the part of the clinic API the session needs.
type AuthAPI interface {
	Login(ctx context.Context, req model.LoginRequest) (model.AuthResponse, error)
	Register(ctx context.Context, req model.RegisterRequest) (model.AuthResponse, error)
	Me(ctx context.Context) (model.User, error)
}

// Session is the process-wide identity. It implements api.TokenSource.
type Session struct {
	api    AuthAPI
	tokens TokenStore
	now    func() time.Time

	mu    sync.RWMutex
	token string
	user  *model.User

	listeners []func()
}

// New creates an empty session. Call Hydrate to restore a persisted token.
func New(authAPI AuthAPI, tokens TokenStore) *Session {
	return &Session{api: authAPI, tokens: tokens, now: time.Now}
}

// Token implements api.TokenSource.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns the signed-in user.
func (s *Session) User() (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return model.User{}, false
	}
	return *s.user, true
}

// Authenticated reports whether a user is signed in.
func (s *Session) Authenticated() bool {
	_, ok := s.User()
	return ok
}

// OnTeardown registers fn to run after the session is cleared by Logout or
// an unauthorized API answer (e.g. to drop cached appointments).
func (s *Session) OnTeardown(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Hydrate restores the persisted token. Expired JWTs are discarded without
// a network call; otherwise /api/auth/me decides. Any failure leaves the
// session signed out with the token cleared.
func (s *Session) Hydrate(ctx context.Context) error {
	tok, err := s.tokens.Load()
	if err != nil {
		return fmt.Errorf("session: load token: %w", err)
	}
	if tok == "" {
		return nil
	}

	if expired(tok, s.now()) {
		appLog.Info("session token expired; clearing")
		s.clear()
		return nil
	}

	s.mu.Lock()
	s.token = tok
	s.mu.Unlock()

	u, err := s.api.Me(ctx)
	if err != nil {
		appLog.Error("session hydrate failed; clearing token", err)
		s.clear()
		if errors.Is(err, api.ErrUnauthorized) {
			return nil
		}
		return err
	}

	s.mu.Lock()
	s.user = &u
	s.mu.Unlock()
	appLog.Info("session restored", "user_id", u.ID)
	return nil
}

// Login authenticates and persists the token.
func (s *Session) Login(ctx context.Context, email, password string) error {
	req := model.LoginRequest{Email: email, Password: password}
	if err := req.Validate(); err != nil {
		return err
	}
	res, err := s.api.Login(ctx, req)
	if err != nil {
		return err
	}
	return s.establish(res)
}

// Register creates the account and signs in.
func (s *Session) Register(ctx context.Context, req model.RegisterRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	res, err := s.api.Register(ctx, req)
	if err != nil {
		return err
	}
	return s.establish(res)
}

func (s *Session) establish(res model.AuthResponse) error {
	if res.Token == "" {
		return errors.New("session: API returned an empty token")
	}
	if err := s.tokens.Save(res.Token); err != nil {
		return fmt.Errorf("session: save token: %w", err)
	}
	u := res.User
	s.mu.Lock()
	s.token = res.Token
	s.user = &u
	s.mu.Unlock()
	appLog.Info("session established", "user_id", u.ID)
	return nil
}

// Logout clears the session on user request.
func (s *Session) Logout() {
	appLog.Info("session logout")
	s.clear()
}

// Teardown is wired as the API client's unauthorized hook.
func (s *Session) Teardown() {
	appLog.Info("session torn down after unauthorized response")
	s.clear()
}

func (s *Session) clear() {
	if err := s.tokens.Clear(); err != nil {
		appLog.Error("session: clear token failed", err)
	}
	s.mu.Lock()
	had := s.token != "" || s.user != nil
	s.token = ""
	s.user = nil
	listeners := append([]func(){}, s.listeners...)
	s.mu.Unlock()

	if !had {
		return
	}
	for _, fn := range listeners {
		fn()
	}
}

// expired reports whether tok is a JWT whose exp claim is in the past.
// Opaque tokens and JWTs without exp are left for the API to judge.
func expired(tok string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !exp.After(now)
}
