package scheduling

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/scheduling/internal/interval"
)

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusCheckedIn  Status = "checked_in"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// DateLayout is the wire and storage format for appointment dates. The
// clinic operates in a single zone, so a calendar date plus minute-of-day
// spans is the whole time model.
const DateLayout = "2006-01-02"

type Doctor struct {
	ID         uuid.UUID
	Name       string
	Department string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AvailabilityWindow is a recurring weekly range in which a doctor is
// schedulable. Multiple, possibly disjoint windows per weekday are allowed.
type AvailabilityWindow struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	DayOfWeek int // 0 = Sunday, matching time.Weekday
	StartMin  int
	EndMin    int
	CreatedAt time.Time
}

// BlackoutPeriod is an ad hoc, date-specific range in which a doctor is not
// schedulable regardless of recurring windows.
type BlackoutPeriod struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	StartMin  int
	EndMin    int
	Reason    *string
	CreatedAt time.Time
}

type Appointment struct {
	ID           uuid.UUID
	DoctorID     uuid.UUID
	PatientID    *uuid.UUID // nil for guest bookings
	GuestName    *string
	Department   string
	Date         time.Time
	StartMin     int
	EndMin       int
	Status       Status
	Reason       *string
	Location     *string
	CancelReason *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Span returns the appointment's booked range as a minute-of-day span.
func (a *Appointment) Span() interval.Span {
	return interval.Span{Start: a.StartMin, End: a.EndMin}
}

// Terminal reports whether the appointment reached a final status.
func (a *Appointment) Terminal() bool {
	return a.Status == StatusCompleted || a.Status == StatusCancelled
}

// Visit is the clinical record materialized when an appointment completes.
// The scheduling service creates it; everything after creation belongs to the
// clinical-documentation subsystem.
type Visit struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	PatientID     *uuid.UUID
	DoctorID      uuid.UUID
	VisitDate     time.Time
	Department    string
	CreatedAt     time.Time
}

// Availability is the full availability picture for a doctor on one date.
// All three views are returned so a caller can tell "nothing configured"
// apart from "fully booked".
type Availability struct {
	Windows []interval.Span
	Blocked []interval.Span
	Free    []interval.Span
}

// StatusChange is the result of a status transition. Exactly one field is
// set: VisitID when the transition was to Completed (the booking workflow
// redirects straight to the new visit), Appointment otherwise.
type StatusChange struct {
	Appointment *Appointment
	VisitID     *uuid.UUID
}
