package api

import (
	"errors"
	"fmt"

	"clinicweb/internal/model"
)

// ErrUnauthorized is returned when the API answers 401 on an authenticated
// call, or when a protected call is attempted without a session token. It
// is the only error with a global effect: the session is torn down.
var ErrUnauthorized = errors.New("api: unauthorized")

// TransportError means the API could not be reached or the response could
// not be read.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("api %s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError is a non-2xx answer carrying the server's message.
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("api %s: status %d: %s", e.Op, e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == 404
}

// UserMessage converts any error from the client, store or form validation
// into a message that can be shown to the patient. fallback is used for
// API errors without a message and for unknown errors.
func UserMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	if fallback == "" {
		fallback = "Ocurrió un error inesperado"
	}

	var (
		verr     *model.ValidationError
		apiErr   *APIError
		transErr *TransportError
	)
	switch {
	case errors.As(err, &verr):
		return "Completa el campo obligatorio: " + fieldLabel(verr.Field)
	case errors.Is(err, ErrUnauthorized):
		return "Tu sesión expiró. Inicia sesión nuevamente."
	case errors.As(err, &apiErr):
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return fallback
	case errors.As(err, &transErr):
		return "No se pudo conectar con el servidor. Intenta de nuevo."
	default:
		return fallback
	}
}

func fieldLabel(field string) string {
	switch field {
	case "nombre_paciente":
		return "nombre del paciente"
	case "telefono":
		return "teléfono"
	case "email":
		return "correo electrónico"
	case "servicio":
		return "servicio"
	case "fecha_cita":
		return "fecha"
	case "hora_cita":
		return "hora"
	case "nombre":
		return "nombre"
	case "apellido":
		return "apellido"
	case "password":
		return "contraseña"
	default:
		return field
	}
}
