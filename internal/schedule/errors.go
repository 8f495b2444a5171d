package schedule

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrInvalidTime    = errors.New("invalid time of day")
	ErrInvalidWeekday = errors.New("invalid weekday")
	ErrQuotaExceeded  = errors.New("schedule quota exceeded")
	ErrNotFound       = errors.New("schedule not found")
	ErrPersistence    = errors.New("schedule persistence failure")
)

// Error is a validation failure meant to be shown to the user as-is.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }
func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// QuotaError reports that the owner already created max schedules.
func QuotaError(max int) error {
	return newError(ErrQuotaExceeded, "Límite alcanzado (%d schedules máximo)", max)
}

// NotFoundError reports a missing or inactive schedule id.
func NotFoundError(id int) error {
	return newError(ErrNotFound, "Schedule #%d no encontrado", id)
}

// NoSchedulesError is returned when the owner never created a schedule.
func NoSchedulesError() error {
	return newError(ErrNotFound, "No tienes schedules")
}

// UserMessage returns the user-facing text of err. Non-validation errors get a generic text.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	if err == nil {
		return ""
	}
	return "Error creando schedule: " + err.Error()
}
