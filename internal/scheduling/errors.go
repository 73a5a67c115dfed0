package scheduling

import (
	"errors"
	"fmt"

	"github.com/clinicore/scheduling/internal/interval"
)

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrWindowNotFound      = errors.New("availability window not found")
	ErrBlackoutNotFound    = errors.New("blackout period not found")

	// ErrReasonRequired rejects a cancellation without a cancel reason.
	ErrReasonRequired = errors.New("cancel reason is required")

	// ErrImmutable rejects edits to completed or cancelled appointments.
	ErrImmutable = errors.New("appointment is in a terminal state and cannot be edited")

	// ErrScheduleLocked means the per-(doctor,date) lock could not be
	// acquired within the configured wait. Callers may retry with backoff.
	ErrScheduleLocked = errors.New("schedule is locked by another booking, please retry")
)

// ValidationError reports malformed input on a single field.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Detail)
}

func invalidf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Detail: fmt.Sprintf(format, args...)}
}

// SlotUnavailableError rejects a booking that overlaps blocked time. It
// carries the conflicting spans so the caller can render alternatives.
type SlotUnavailableError struct {
	Requested interval.Span
	Conflicts []interval.Span
}

func (e *SlotUnavailableError) Error() string {
	return fmt.Sprintf("slot [%d,%d) overlaps %d blocked period(s)", e.Requested.Start, e.Requested.End, len(e.Conflicts))
}

// InvalidTransitionError rejects an illegal status change.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition appointment from %s to %s", e.From, e.To)
}
