package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicweb/internal/api"
	"clinicweb/internal/api/apitest"
	"clinicweb/internal/model"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func newClient(t *testing.T, srv *apitest.Server, tok string) *api.Client {
	t.Helper()
	c := api.NewClient(srv.URL+"/", api.WithTimeout(2*time.Second))
	c.SetTokenSource(staticToken(tok))
	return c
}

func sampleRequest() model.CreateAppointmentRequest {
	return model.CreateAppointmentRequest{
		PatientName: "Ana López",
		Phone:       "5512345678",
		Email:       "ana@example.com",
		Service:     "Pediatría",
		Date:        "2025-06-10",
		Time:        "14:30",
		Note:        "control anual",
	}
}

func TestLoginAndMe(t *testing.T) {
	srv := apitest.New(t)
	c := newClient(t, srv, apitest.DefaultToken)
	ctx := context.Background()

	res, err := c.Login(ctx, model.LoginRequest{Email: apitest.DefaultEmail, Password: apitest.DefaultPassword})
	require.NoError(t, err)
	assert.Equal(t, apitest.DefaultToken, res.Token)
	assert.Equal(t, "Ana", res.User.Name)

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, apitest.DefaultEmail, me.Email)
}

func TestLoginBadCredentialsIsAPIError(t *testing.T) {
	srv := apitest.New(t)
	unauthorizedCalls := 0
	c := newClient(t, srv, "")
	c.OnUnauthorized(func() { unauthorizedCalls++ })

	_, err := c.Login(context.Background(), model.LoginRequest{Email: apitest.DefaultEmail, Password: "nope"})
	var apiErr *api.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "credenciales inválidas", apiErr.Message)
	assert.Zero(t, unauthorizedCalls, "login 401 is not a session teardown")
}

func TestCreateThenListRoundTrip(t *testing.T) {
	srv := apitest.New(t)
	c := newClient(t, srv, apitest.DefaultToken)
	ctx := context.Background()

	req := sampleRequest()
	created, err := c.CreateAppointment(ctx, req)
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, model.StatusScheduled, created.Status)

	list, err := c.ListAppointments(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	got := list[0]
	assert.Equal(t, req.PatientName, got.PatientName)
	assert.Equal(t, req.Phone, got.Phone)
	assert.Equal(t, req.Email, got.Email)
	assert.Equal(t, req.Service, got.Service)
	assert.Equal(t, req.Date, got.Date[:10])
	assert.Equal(t, req.Time, got.Time)
	assert.Equal(t, req.Note, got.Note)

	one, err := c.GetAppointment(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, one.ID)
}

func TestConfirmAndCancel(t *testing.T) {
	srv := apitest.New(t)
	srv.Seed(apitest.DefaultToken,
		model.Appointment{ID: 1, Date: "2025-06-10", Time: "09:00", Status: model.StatusScheduled},
		model.Appointment{ID: 2, Date: "2025-06-11", Time: "09:00", Status: model.StatusScheduled},
	)
	c := newClient(t, srv, apitest.DefaultToken)
	ctx := context.Background()

	require.NoError(t, c.ConfirmAppointment(ctx, 1))
	require.NoError(t, c.CancelAppointment(ctx, 2))

	stored := srv.Appointments(apitest.DefaultToken)
	assert.Equal(t, model.StatusConfirmed, stored[0].Status)
	assert.Equal(t, model.StatusCancelled, stored[1].Status, "cancel is a soft delete")

	err := c.CancelAppointment(ctx, 99)
	assert.True(t, api.IsNotFound(err))
	assert.Equal(t, "cita no encontrada", api.UserMessage(err, "x"))
}

func TestUnauthorizedTriggersHook(t *testing.T) {
	srv := apitest.New(t)
	srv.RevokeToken(apitest.DefaultToken)

	var hooks int32
	c := newClient(t, srv, apitest.DefaultToken)
	c.OnUnauthorized(func() { atomic.AddInt32(&hooks, 1) })

	_, err := c.ListAppointments(context.Background())
	require.ErrorIs(t, err, api.ErrUnauthorized)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hooks))
}

func TestProtectedCallWithoutTokenSkipsNetwork(t *testing.T) {
	srv := apitest.New(t)
	c := newClient(t, srv, "")

	_, err := c.ListAppointments(context.Background())
	require.ErrorIs(t, err, api.ErrUnauthorized)
	assert.Empty(t, srv.Requests())
}

func TestConfirmWithoutSessionStillCallsAPI(t *testing.T) {
	srv := apitest.New(t)
	srv.Seed(apitest.DefaultToken,
		model.Appointment{ID: 7, Date: "2025-06-10", Time: "09:00", Status: model.StatusScheduled},
	)
	var hooks int32
	c := newClient(t, srv, "")
	c.OnUnauthorized(func() { atomic.AddInt32(&hooks, 1) })

	require.NoError(t, c.ConfirmAppointment(context.Background(), 7))
	assert.Equal(t, 1, srv.CountRequests("POST /api/appointments/7/confirm"))
	assert.Equal(t, model.StatusConfirmed, srv.Appointments(apitest.DefaultToken)[0].Status)
	assert.Zero(t, atomic.LoadInt32(&hooks))

	err := c.ConfirmAppointment(context.Background(), 99)
	assert.True(t, api.IsNotFound(err))
}

func TestConfirmSendsHeldToken(t *testing.T) {
	var auth string
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(hs.Close)

	c := api.NewClient(hs.URL)
	c.SetTokenSource(staticToken("abc"))
	require.NoError(t, c.ConfirmAppointment(context.Background(), 3))
	assert.Equal(t, "Bearer abc", auth)
}

func TestListToleratesNonArrayBody(t *testing.T) {
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": null}`))
	}))
	defer hs.Close()

	c := api.NewClient(hs.URL)
	c.SetTokenSource(staticToken("tok"))
	list, err := c.ListAppointments(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestServerErrorWithoutMessage(t *testing.T) {
	srv := apitest.New(t)
	srv.FailNext(http.MethodPost, "/api/appointments", http.StatusInternalServerError, "")
	c := newClient(t, srv, apitest.DefaultToken)

	_, err := c.CreateAppointment(context.Background(), sampleRequest())
	var apiErr *api.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "Error al crear la cita", api.UserMessage(err, "Error al crear la cita"))
}

func TestTransportError(t *testing.T) {
	srv := apitest.New(t)
	c := newClient(t, srv, apitest.DefaultToken)
	srv.Close()

	_, err := c.ListAppointments(context.Background())
	var terr *api.TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "list appointments", terr.Op)
	assert.Equal(t, "No se pudo conectar con el servidor. Intenta de nuevo.", api.UserMessage(err, ""))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "", api.UserMessage(nil, "x"))
	assert.Equal(t, "Completa el campo obligatorio: hora",
		api.UserMessage(&model.ValidationError{Field: "hora_cita", Reason: "required"}, ""))
	assert.Equal(t, "Tu sesión expiró. Inicia sesión nuevamente.", api.UserMessage(api.ErrUnauthorized, ""))
	assert.Equal(t, "Ocurrió un error inesperado", api.UserMessage(errors.New("weird"), ""))
}

func TestHealth(t *testing.T) {
	srv := apitest.New(t)
	c := newClient(t, srv, "")
	assert.NoError(t, c.Health(context.Background()))
}
