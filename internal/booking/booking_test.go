package booking_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicweb/internal/api"
	"clinicweb/internal/api/apitest"
	"clinicweb/internal/booking"
	"clinicweb/internal/classify"
	"clinicweb/internal/model"
	"clinicweb/internal/store"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

var june12 = time.Date(2025, time.June, 12, 0, 0, 0, 0, time.UTC)

func setup(t *testing.T, seed ...model.Appointment) (*apitest.Server, *store.Store, *booking.Dialog) {
	t.Helper()
	srv := apitest.New(t)
	srv.Seed(apitest.DefaultToken, seed...)
	client := api.NewClient(srv.URL)
	client.SetTokenSource(staticToken(apitest.DefaultToken))
	st := store.New(client)
	_, err := st.FetchAll(context.Background())
	require.NoError(t, err)
	return srv, st, booking.New(st)
}

func openDay(st *store.Store, d *booking.Dialog) {
	d.Open(june12, classify.OnDay(st.Snapshot(), june12))
}

func form() model.CreateAppointmentRequest {
	return model.CreateAppointmentRequest{
		PatientName: "Ana López",
		Phone:       "5512345678",
		Email:       apitest.DefaultEmail,
		Service:     "Consulta general",
		Date:        "1999-01-01",
		Time:        "10:30",
	}
}

func TestOpenEmptyDayStartsInCreating(t *testing.T) {
	_, st, d := setup(t)
	openDay(st, d)
	assert.True(t, d.IsOpen())
	assert.Equal(t, booking.Creating, d.Mode())

	// nothing to show
	d.ShowExisting()
	assert.Equal(t, booking.Creating, d.Mode())
}

func TestOpenDayWithOnlyCompletedStartsInCreating(t *testing.T) {
	_, st, d := setup(t, model.Appointment{ID: 1, Date: "2025-06-12", Time: "09:00", Status: model.StatusCompleted})
	openDay(st, d)
	assert.Equal(t, booking.Creating, d.Mode())
	require.Len(t, d.Appointments(), 1)

	d.ShowExisting()
	assert.Equal(t, booking.Viewing, d.Mode())
}

func TestBookAnotherAndBack(t *testing.T) {
	_, st, d := setup(t, model.Appointment{ID: 1, Date: "2025-06-12", Time: "09:00", Status: model.StatusScheduled})
	openDay(st, d)
	assert.Equal(t, booking.Viewing, d.Mode())

	d.BookAnother()
	assert.Equal(t, booking.Creating, d.Mode())
	d.ShowExisting()
	assert.Equal(t, booking.Viewing, d.Mode())
}

func TestSubmitForcesSelectedDayAndReturnsToViewing(t *testing.T) {
	srv, st, d := setup(t)
	openDay(st, d)

	created, err := d.Submit(context.Background(), form())
	require.NoError(t, err)
	assert.Equal(t, "2025-06-12T00:00:00Z", created.Date)
	assert.True(t, d.Success())
	assert.Equal(t, booking.Viewing, d.Mode())
	require.Len(t, d.Appointments(), 1)
	assert.Equal(t, "Ana López", d.Appointments()[0].PatientName)

	stored := srv.Appointments(apitest.DefaultToken)
	require.Len(t, stored, 1)
	assert.Equal(t, "2025-06-12T00:00:00Z", stored[0].Date)

	d.Acknowledge()
	assert.False(t, d.Success())
}

func TestSubmitErrorStaysInForm(t *testing.T) {
	srv, st, d := setup(t)
	openDay(st, d)
	srv.FailNext(http.MethodPost, "/api/appointments", http.StatusConflict, "horario no disponible")

	_, err := d.Submit(context.Background(), form())
	require.Error(t, err)
	assert.Equal(t, booking.Creating, d.Mode())
	assert.False(t, d.Success())
	assert.Equal(t, "horario no disponible", api.UserMessage(d.Err(), ""))
}

func TestSubmitValidationError(t *testing.T) {
	srv, st, d := setup(t)
	openDay(st, d)
	req := form()
	req.Phone = ""

	_, err := d.Submit(context.Background(), req)
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "telefono", verr.Field)
	assert.Zero(t, srv.CountRequests("POST /api/appointments"))
}

func TestCancelRequiresConfirmation(t *testing.T) {
	srv, st, d := setup(t, model.Appointment{ID: 7, Date: "2025-06-12", Time: "09:00", Status: model.StatusScheduled})
	openDay(st, d)

	err := d.Cancel(context.Background(), 7, false)
	require.ErrorIs(t, err, booking.ErrNotConfirmed)
	assert.Zero(t, srv.CountRequests("DELETE /api/appointments/7"))
	assert.Equal(t, booking.Viewing, d.Mode())
}

func TestCancellingOnlyActiveAppointmentSwitchesToCreating(t *testing.T) {
	srv, st, d := setup(t, model.Appointment{ID: 7, Date: "2025-06-12", Time: "09:00", Status: model.StatusScheduled})
	openDay(st, d)
	require.Equal(t, booking.Viewing, d.Mode())

	require.NoError(t, d.Cancel(context.Background(), 7, true))
	assert.Equal(t, booking.Creating, d.Mode())
	assert.Empty(t, d.Appointments())
	assert.Equal(t, model.StatusCancelled, srv.Appointments(apitest.DefaultToken)[0].Status)
}

func TestCancelWithOthersRemainingStaysViewing(t *testing.T) {
	_, st, d := setup(t,
		model.Appointment{ID: 7, Date: "2025-06-12", Time: "09:00", Status: model.StatusScheduled},
		model.Appointment{ID: 8, Date: "2025-06-12", Time: "11:00", Status: model.StatusConfirmed},
	)
	openDay(st, d)

	require.NoError(t, d.Cancel(context.Background(), 7, true))
	assert.Equal(t, booking.Viewing, d.Mode())
	require.Len(t, d.Appointments(), 1)
	assert.Equal(t, 8, d.Appointments()[0].ID)
}

func TestCancelFailureKeepsAppointment(t *testing.T) {
	srv, st, d := setup(t, model.Appointment{ID: 7, Date: "2025-06-12", Time: "09:00", Status: model.StatusScheduled})
	openDay(st, d)
	srv.FailNext(http.MethodDelete, "/api/appointments/7", http.StatusInternalServerError, "")

	err := d.Cancel(context.Background(), 7, true)
	require.Error(t, err)
	assert.Equal(t, booking.Viewing, d.Mode())
	require.Len(t, d.Appointments(), 1)
	assert.Equal(t, model.StatusScheduled, d.Appointments()[0].Status)
	assert.Error(t, d.Err())
}

func TestClosedDialogRejectsActions(t *testing.T) {
	_, _, d := setup(t)
	_, err := d.Submit(context.Background(), form())
	require.ErrorIs(t, err, booking.ErrClosed)
	require.ErrorIs(t, d.Cancel(context.Background(), 1, true), booking.ErrClosed)

	d.Open(june12, nil)
	d.Close()
	assert.False(t, d.IsOpen())
}

func TestRefreshFollowsNewList(t *testing.T) {
	_, _, d := setup(t)
	d.Open(june12, nil)
	require.Equal(t, booking.Creating, d.Mode())

	scheduled := model.Appointment{ID: 1, Date: "2025-06-12", Time: "09:00", Status: model.StatusScheduled}
	d.Refresh([]model.Appointment{scheduled})
	assert.Equal(t, booking.Viewing, d.Mode(), "a day that gained an appointment shows it")
	require.Len(t, d.Appointments(), 1)

	// an explicit switch to the form survives a refresh with the same list
	d.BookAnother()
	d.Refresh([]model.Appointment{scheduled})
	assert.Equal(t, booking.Creating, d.Mode())

	d.ShowExisting()
	cancelled := scheduled
	cancelled.Status = model.StatusCancelled
	d.Refresh([]model.Appointment{cancelled})
	assert.Equal(t, booking.Creating, d.Mode())
}

func TestRefreshIgnoredWhenClosed(t *testing.T) {
	_, _, d := setup(t)
	d.Refresh([]model.Appointment{{ID: 1, Status: model.StatusScheduled}})
	assert.False(t, d.IsOpen())
	assert.Empty(t, d.Appointments())
}
