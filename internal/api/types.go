package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/scheduling/internal/interval"
	"github.com/clinicore/scheduling/internal/scheduling"
)

type CreateAppointmentRequest struct {
	DoctorID   string  `json:"doctor_id"`
	PatientID  *string `json:"patient_id,omitempty"`
	GuestName  *string `json:"guest_name,omitempty"`
	Department string  `json:"department"`
	Date       string  `json:"date"`
	StartMin   int     `json:"start_min"`
	EndMin     int     `json:"end_min"`
	Reason     *string `json:"reason,omitempty"`
	Location   *string `json:"location,omitempty"`
}

type UpdateAppointmentRequest struct {
	DoctorID   *string `json:"doctor_id,omitempty"`
	PatientID  *string `json:"patient_id,omitempty"`
	GuestName  *string `json:"guest_name,omitempty"`
	Department *string `json:"department,omitempty"`
	Date       *string `json:"date,omitempty"`
	StartMin   *int    `json:"start_min,omitempty"`
	EndMin     *int    `json:"end_min,omitempty"`
	Reason     *string `json:"reason,omitempty"`
	Location   *string `json:"location,omitempty"`
}

type PatchStatusRequest struct {
	Status       string `json:"status"`
	CancelReason string `json:"cancel_reason,omitempty"`
}

type CreateWindowRequest struct {
	DayOfWeek int `json:"day_of_week"`
	StartMin  int `json:"start_min"`
	EndMin    int `json:"end_min"`
}

type CreateBlackoutRequest struct {
	Date     string  `json:"date"`
	StartMin int     `json:"start_min"`
	EndMin   int     `json:"end_min"`
	Reason   *string `json:"reason,omitempty"`
}

type AppointmentResponse struct {
	ID           uuid.UUID  `json:"id"`
	DoctorID     uuid.UUID  `json:"doctor_id"`
	PatientID    *uuid.UUID `json:"patient_id,omitempty"`
	GuestName    *string    `json:"guest_name,omitempty"`
	Department   string     `json:"department"`
	Date         string     `json:"date"`
	StartMin     int        `json:"start_min"`
	EndMin       int        `json:"end_min"`
	Status       string     `json:"status"`
	Reason       *string    `json:"reason,omitempty"`
	Location     *string    `json:"location,omitempty"`
	CancelReason *string    `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:           a.ID,
		DoctorID:     a.DoctorID,
		PatientID:    a.PatientID,
		GuestName:    a.GuestName,
		Department:   a.Department,
		Date:         a.Date.Format(scheduling.DateLayout),
		StartMin:     a.StartMin,
		EndMin:       a.EndMin,
		Status:       string(a.Status),
		Reason:       a.Reason,
		Location:     a.Location,
		CancelReason: a.CancelReason,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

type AvailabilityResponse struct {
	Availability []interval.Span `json:"availability"`
	Blocked      []interval.Span `json:"blocked"`
	FreeSlots    []interval.Span `json:"free_slots"`
}

type AppointmentListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	NextCursor   string                `json:"next_cursor,omitempty"`
}

// VisitRefResponse is the body of a status patch that completed an
// appointment; the caller is expected to follow visit_id instead of reading
// an appointment back.
type VisitRefResponse struct {
	VisitID uuid.UUID `json:"visit_id"`
}

type WindowResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	DayOfWeek int       `json:"day_of_week"`
	StartMin  int       `json:"start_min"`
	EndMin    int       `json:"end_min"`
}

func toWindowResponse(w *scheduling.AvailabilityWindow) WindowResponse {
	return WindowResponse{
		ID:        w.ID,
		DoctorID:  w.DoctorID,
		DayOfWeek: w.DayOfWeek,
		StartMin:  w.StartMin,
		EndMin:    w.EndMin,
	}
}

type BlackoutResponse struct {
	ID       uuid.UUID `json:"id"`
	DoctorID uuid.UUID `json:"doctor_id"`
	Date     string    `json:"date"`
	StartMin int       `json:"start_min"`
	EndMin   int       `json:"end_min"`
	Reason   *string   `json:"reason,omitempty"`
}

func toBlackoutResponse(b *scheduling.BlackoutPeriod) BlackoutResponse {
	return BlackoutResponse{
		ID:       b.ID,
		DoctorID: b.DoctorID,
		Date:     b.Date.Format(scheduling.DateLayout),
		StartMin: b.StartMin,
		EndMin:   b.EndMin,
		Reason:   b.Reason,
	}
}

type ErrorResponse struct {
	Error     string          `json:"error"`
	Details   string          `json:"details,omitempty"`
	Conflicts []interval.Span `json:"conflicts,omitempty"`
}
