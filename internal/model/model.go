package model

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of an Appointment. Values are the strings
// the clinic API sends on the wire.
type Status string

const (
	StatusScheduled  Status = "programada"
	StatusConfirmed  Status = "confirmada"
	StatusCancelled  Status = "cancelada"
	StatusCompleted  Status = "completada"
	StatusInProgress Status = "en_curso"
	StatusNoShow     Status = "no_asistio"
)

// AllStatuses lists every known status in display order.
var AllStatuses = []Status{
	StatusScheduled,
	StatusConfirmed,
	StatusInProgress,
	StatusCompleted,
	StatusNoShow,
	StatusCancelled,
}

// Active reports whether the appointment still occupies the calendar.
func (s Status) Active() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// Cancellable reports whether the patient may still cancel.
func (s Status) Cancellable() bool {
	return !s.Terminal()
}

// Known reports whether s is one of the closed set of statuses.
func (s Status) Known() bool {
	for _, k := range AllStatuses {
		if s == k {
			return true
		}
	}
	return false
}

// Label is the patient-facing Spanish label.
func (s Status) Label() string {
	switch s {
	case StatusScheduled:
		return "Programada"
	case StatusConfirmed:
		return "Confirmada"
	case StatusCancelled:
		return "Cancelada"
	case StatusCompleted:
		return "Completada"
	case StatusInProgress:
		return "En curso"
	case StatusNoShow:
		return "No asistió"
	default:
		return string(s)
	}
}

// Style is the CSS class used for status badges.
func (s Status) Style() string {
	switch s {
	case StatusScheduled:
		return "status-scheduled"
	case StatusConfirmed:
		return "status-confirmed"
	case StatusCancelled:
		return "status-cancelled"
	case StatusCompleted:
		return "status-completed"
	case StatusInProgress:
		return "status-in-progress"
	case StatusNoShow:
		return "status-no-show"
	default:
		return "status-unknown"
	}
}

// Appointment is one scheduled patient visit as returned by the API.
// Date may arrive as "YYYY-MM-DD" or with a time suffix; see the datetime
// package before comparing it.
type Appointment struct {
	ID          int    `json:"id"`
	PatientName string `json:"nombre_paciente"`
	Phone       string `json:"telefono"`
	Email       string `json:"email"`
	Service     string `json:"servicio"`
	Date        string `json:"fecha_cita"`
	Time        string `json:"hora_cita"`
	Status      Status `json:"estado"`
	Note        string `json:"mensaje,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// CreateAppointmentRequest is the body of POST /api/appointments.
type CreateAppointmentRequest struct {
	PatientName string `json:"nombre_paciente"`
	Phone       string `json:"telefono"`
	Email       string `json:"email"`
	Service     string `json:"servicio"`
	Date        string `json:"fecha_cita"`
	Time        string `json:"hora_cita"`
	Note        string `json:"mensaje,omitempty"`
}

// Validate performs the required-field checks done before submission.
func (r CreateAppointmentRequest) Validate() error {
	return requireFields(
		field{"nombre_paciente", r.PatientName},
		field{"telefono", r.Phone},
		field{"email", r.Email},
		field{"servicio", r.Service},
		field{"fecha_cita", r.Date},
		field{"hora_cita", r.Time},
	)
}

// User is the authenticated patient account.
type User struct {
	ID        int    `json:"id"`
	Name      string `json:"nombre"`
	Surname   string `json:"apellido"`
	Email     string `json:"email"`
	Phone     string `json:"telefono,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// FullName joins name and surname for headers.
func (u User) FullName() string {
	return strings.TrimSpace(u.Name + " " + u.Surname)
}

// RegisterRequest is the body of POST /api/auth/register.
type RegisterRequest struct {
	Name     string `json:"nombre"`
	Surname  string `json:"apellido"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"telefono,omitempty"`
}

func (r RegisterRequest) Validate() error {
	return requireFields(
		field{"nombre", r.Name},
		field{"apellido", r.Surname},
		field{"email", r.Email},
		field{"password", r.Password},
	)
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r LoginRequest) Validate() error {
	return requireFields(field{"email", r.Email}, field{"password", r.Password})
}

// AuthResponse is returned by login and register.
type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Services offered in the booking form. The API also accepts free text.
var Services = []string{
	"Consulta general",
	"Odontología",
	"Pediatría",
	"Ginecología",
	"Dermatología",
	"Nutrición",
	"Psicología",
	"Laboratorio",
}

// ValidationError reports a missing or malformed required field. It is
// raised before anything is sent to the API.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

type field struct {
	name  string
	value string
}

func requireFields(fields ...field) error {
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Field: f.name, Reason: "required"}
		}
	}
	return nil
}
