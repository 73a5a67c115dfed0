package scheduling

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ListFilter narrows an appointment listing. Nil fields are ignored.
type ListFilter struct {
	DoctorID *uuid.UUID
	Status   *Status
	Date     *time.Time
	From     *time.Time
	To       *time.Time
}

// Store contains all persistence the scheduling service needs. Reads taken
// through Store see committed state only; anything feeding a conflict
// decision must instead go through the Tx obtained from InTx.
type Store interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)

	ListWindows(ctx context.Context, doctorID uuid.UUID, dayOfWeek int) ([]AvailabilityWindow, error)
	ListDoctorWindows(ctx context.Context, doctorID uuid.UUID) ([]AvailabilityWindow, error)
	CreateWindow(ctx context.Context, w AvailabilityWindow) (*AvailabilityWindow, error)
	DeleteWindow(ctx context.Context, doctorID, windowID uuid.UUID) error

	// ListBlackouts returns the doctor's blackout periods, optionally
	// restricted to one date.
	ListBlackouts(ctx context.Context, doctorID uuid.UUID, date *time.Time) ([]BlackoutPeriod, error)
	CreateBlackout(ctx context.Context, b BlackoutPeriod) (*BlackoutPeriod, error)
	DeleteBlackout(ctx context.Context, doctorID, blackoutID uuid.UUID) error

	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// ListActiveAppointments returns non-cancelled appointments for the
	// doctor/date, ordered by start minute.
	ListActiveAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error)

	ListAppointments(ctx context.Context, f ListFilter, limit int, cursor string) ([]Appointment, string, error)

	// InTx runs fn inside a single transaction. Any error from fn rolls the
	// whole transaction back.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional scope for mutating operations. LockSchedule must
// be called before any read that feeds a conflict decision.
type Tx interface {
	// LockSchedule takes the write-intent lock for (doctorID, date). The
	// wait is bounded; on timeout it returns ErrScheduleLocked.
	LockSchedule(ctx context.Context, doctorID uuid.UUID, date time.Time) error

	// GetAppointment reads the appointment and holds a row lock on it until
	// the transaction ends, so status transitions on the same appointment
	// serialize.
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)

	ListActiveAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error)
	ListBlackouts(ctx context.Context, doctorID uuid.UUID, date *time.Time) ([]BlackoutPeriod, error)

	InsertAppointment(ctx context.Context, a *Appointment) error
	UpdateAppointment(ctx context.Context, a *Appointment) error
	InsertVisit(ctx context.Context, v *Visit) error
}

// Cursor marks the last row of a page. Appointment listings paginate on
// (date, start_min, id).
type Cursor struct {
	Date     time.Time
	StartMin int
	ID       uuid.UUID
}

func EncodeCursor(a Appointment) string {
	raw := fmt.Sprintf("%s|%d|%s", a.Date.Format(DateLayout), a.StartMin, a.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(s string) (*Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, invalidf("cursor", "not base64url: %v", err)
	}
	parts := strings.SplitN(string(raw), "|", 3)
	if len(parts) != 3 {
		return nil, invalidf("cursor", "malformed")
	}
	date, err := time.Parse(DateLayout, parts[0])
	if err != nil {
		return nil, invalidf("cursor", "bad date: %v", err)
	}
	startMin, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, invalidf("cursor", "bad start minute: %v", err)
	}
	id, err := uuid.Parse(parts[2])
	if err != nil {
		return nil, invalidf("cursor", "bad id: %v", err)
	}
	return &Cursor{Date: date, StartMin: startMin, ID: id}, nil
}
