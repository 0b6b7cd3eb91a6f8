package session_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicweb/internal/api"
	"clinicweb/internal/api/apitest"
	"clinicweb/internal/model"
	"clinicweb/internal/session"
)

func setup(t *testing.T) (*apitest.Server, *api.Client, *session.Session, *session.FileTokenStore, string) {
	t.Helper()
	srv := apitest.New(t)
	client := api.NewClient(srv.URL)
	path := filepath.Join(t.TempDir(), "clinica_token")
	store := session.NewFileTokenStore(path)
	sess := session.New(client, store)
	client.SetTokenSource(sess)
	client.OnUnauthorized(sess.Teardown)
	return srv, client, sess, store, path
}

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestLoginPersistsToken(t *testing.T) {
	_, _, sess, _, path := setup(t)

	require.NoError(t, sess.Login(context.Background(), apitest.DefaultEmail, apitest.DefaultPassword))
	assert.True(t, sess.Authenticated())
	assert.Equal(t, apitest.DefaultToken, sess.Token())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, apitest.DefaultToken+"\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoginValidationSkipsAPI(t *testing.T) {
	srv, _, sess, _, _ := setup(t)

	err := sess.Login(context.Background(), apitest.DefaultEmail, "")
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, srv.Requests())
	assert.False(t, sess.Authenticated())
}

func TestRegisterSignsIn(t *testing.T) {
	_, _, sess, _, _ := setup(t)

	err := sess.Register(context.Background(), model.RegisterRequest{
		Name: "Luis", Surname: "Pérez", Email: "luis@example.com", Password: "secreto123",
	})
	require.NoError(t, err)
	u, ok := sess.User()
	require.True(t, ok)
	assert.Equal(t, "Luis Pérez", u.FullName())
}

func TestHydrateRestoresUser(t *testing.T) {
	_, _, sess, store, _ := setup(t)
	require.NoError(t, store.Save(apitest.DefaultToken))

	require.NoError(t, sess.Hydrate(context.Background()))
	u, ok := sess.User()
	require.True(t, ok)
	assert.Equal(t, apitest.DefaultEmail, u.Email)
}

func TestHydrateWithoutTokenStaysSignedOut(t *testing.T) {
	srv, _, sess, _, _ := setup(t)

	require.NoError(t, sess.Hydrate(context.Background()))
	assert.False(t, sess.Authenticated())
	assert.Empty(t, srv.Requests())
}

func TestHydrateExpiredJWTClearsWithoutNetwork(t *testing.T) {
	srv, _, sess, store, path := setup(t)
	require.NoError(t, store.Save(signed(t, time.Now().Add(-time.Hour))))

	require.NoError(t, sess.Hydrate(context.Background()))
	assert.False(t, sess.Authenticated())
	assert.Empty(t, srv.Requests())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestHydrateRejectedTokenIsCleared(t *testing.T) {
	srv, _, sess, store, _ := setup(t)
	// a JWT that has not expired but the API does not know
	require.NoError(t, store.Save(signed(t, time.Now().Add(time.Hour))))

	require.NoError(t, sess.Hydrate(context.Background()))
	assert.False(t, sess.Authenticated())
	assert.Equal(t, 1, srv.CountRequests("GET /api/auth/me"))

	tok, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, tok)
}

func TestUnauthorizedResponseTearsDownSession(t *testing.T) {
	srv, client, sess, store, _ := setup(t)
	ctx := context.Background()
	require.NoError(t, sess.Login(ctx, apitest.DefaultEmail, apitest.DefaultPassword))

	torn := 0
	sess.OnTeardown(func() { torn++ })
	srv.RevokeToken(apitest.DefaultToken)

	_, err := client.ListAppointments(ctx)
	require.ErrorIs(t, err, api.ErrUnauthorized)
	assert.False(t, sess.Authenticated())
	assert.Equal(t, 1, torn)
	tok, _ := store.Load()
	assert.Empty(t, tok)

	// no further protected calls reach the API until re-authentication
	before := len(srv.Requests())
	_, err = client.ListAppointments(ctx)
	require.ErrorIs(t, err, api.ErrUnauthorized)
	_, err = client.Me(ctx)
	require.ErrorIs(t, err, api.ErrUnauthorized)
	assert.Len(t, srv.Requests(), before)

	require.NoError(t, sess.Login(ctx, apitest.DefaultEmail, apitest.DefaultPassword))
	_, err = client.ListAppointments(ctx)
	assert.NoError(t, err)
}

func TestLogoutRunsListenersOnce(t *testing.T) {
	_, _, sess, _, _ := setup(t)
	require.NoError(t, sess.Login(context.Background(), apitest.DefaultEmail, apitest.DefaultPassword))

	calls := 0
	sess.OnTeardown(func() { calls++ })
	sess.Logout()
	sess.Logout()
	assert.Equal(t, 1, calls)
	assert.Empty(t, sess.Token())
}

func TestMemoryTokenStore(t *testing.T) {
	var m session.MemoryTokenStore
	require.NoError(t, m.Save("abc"))
	tok, _ := m.Load()
	assert.Equal(t, "abc", tok)
	require.NoError(t, m.Clear())
	tok, _ = m.Load()
	assert.Empty(t, tok)
}
