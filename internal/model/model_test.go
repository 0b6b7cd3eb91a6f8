package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusMappingIsExhaustive(t *testing.T) {
	seenLabels := map[string]bool{}
	seenStyles := map[string]bool{}
	for _, s := range AllStatuses {
		assert.True(t, s.Known(), s)
		assert.NotEqual(t, string(s), s.Label(), "status %q has no label", s)
		assert.NotEqual(t, "status-unknown", s.Style(), "status %q has no style", s)
		assert.False(t, seenLabels[s.Label()], "duplicate label %q", s.Label())
		assert.False(t, seenStyles[s.Style()], "duplicate style %q", s.Style())
		seenLabels[s.Label()] = true
		seenStyles[s.Style()] = true
	}

	unknown := Status("reprogramada")
	assert.False(t, unknown.Known())
	assert.Equal(t, "reprogramada", unknown.Label())
	assert.Equal(t, "status-unknown", unknown.Style())
}

func TestStatusPredicates(t *testing.T) {
	tests := []struct {
		status      Status
		active      bool
		terminal    bool
		cancellable bool
	}{
		{StatusScheduled, true, false, true},
		{StatusConfirmed, true, false, true},
		{StatusCancelled, false, true, false},
		{StatusCompleted, false, true, false},
		{StatusInProgress, false, false, true},
		{StatusNoShow, false, false, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.active, tt.status.Active())
			assert.Equal(t, tt.terminal, tt.status.Terminal())
			assert.Equal(t, tt.cancellable, tt.status.Cancellable())
		})
	}
}

func TestAppointmentDecodesWireFormat(t *testing.T) {
	raw := `{"id":12,"nombre_paciente":"Ana López","telefono":"5512345678","email":"ana@example.com",
	"servicio":"Pediatría","fecha_cita":"2025-06-10T00:00:00Z","hora_cita":"09:30","estado":"confirmada",
	"mensaje":"primera visita","created_at":"2025-06-01T10:00:00Z"}`

	var a Appointment
	require.NoError(t, json.Unmarshal([]byte(raw), &a))
	assert.Equal(t, 12, a.ID)
	assert.Equal(t, "Ana López", a.PatientName)
	assert.Equal(t, "2025-06-10T00:00:00Z", a.Date)
	assert.Equal(t, StatusConfirmed, a.Status)
	assert.Equal(t, "primera visita", a.Note)
}

func TestCreateRequestValidate(t *testing.T) {
	valid := CreateAppointmentRequest{
		PatientName: "Ana", Phone: "55", Email: "a@b.mx",
		Service: "Pediatría", Date: "2025-06-10", Time: "09:00",
	}
	require.NoError(t, valid.Validate())

	missing := valid
	missing.Time = "  "
	err := missing.Validate()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "hora_cita", verr.Field)

	noNote := valid
	noNote.Note = ""
	assert.NoError(t, noNote.Validate())
}

func TestRegisterAndLoginValidate(t *testing.T) {
	assert.Error(t, RegisterRequest{Name: "Ana", Email: "a@b.mx", Password: "x"}.Validate())
	assert.NoError(t, RegisterRequest{Name: "Ana", Surname: "López", Email: "a@b.mx", Password: "x"}.Validate())
	assert.Error(t, LoginRequest{Email: "a@b.mx"}.Validate())
}

func TestUserFullName(t *testing.T) {
	assert.Equal(t, "Ana López", User{Name: "Ana", Surname: "López"}.FullName())
	assert.Equal(t, "Ana", User{Name: "Ana"}.FullName())
}
