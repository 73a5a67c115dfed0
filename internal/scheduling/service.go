package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/scheduling/internal/config"
	"github.com/clinicore/scheduling/internal/events"
	"github.com/clinicore/scheduling/internal/interval"
)

// Service is the scheduling façade. It owns the transaction boundary for
// every mutating operation; conflict decisions only ever read state through
// a transaction that already holds the per-(doctor,date) lock.
type Service struct {
	store Store
	sink  events.Publisher
	cfg   config.Config
}

func NewService(store Store, sink events.Publisher, cfg config.Config) *Service {
	return &Service{
		store: store,
		sink:  sink,
		cfg:   cfg,
	}
}

// NormalizeDate strips the clock from t so dates compare as calendar days.
func NormalizeDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// blockedReader is the subset of Store/Tx the aggregator needs; both satisfy
// it, so free-slot reads and in-transaction conflict reads share one path.
type blockedReader interface {
	ListActiveAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error)
	ListBlackouts(ctx context.Context, doctorID uuid.UUID, date *time.Time) ([]BlackoutPeriod, error)
}

// resolveWindows merges the doctor's recurring windows for the date's
// weekday, falling back to the configured clinic-wide default when none are
// configured so that unconfigured doctors are not silently unbookable.
func (s *Service) resolveWindows(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]interval.Span, error) {
	windows, err := s.store.ListWindows(ctx, doctorID, int(date.Weekday()))
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}

	if len(windows) == 0 {
		if s.cfg.DefaultWindow == nil {
			return nil, nil
		}
		return []interval.Span{*s.cfg.DefaultWindow}, nil
	}

	spans := make([]interval.Span, 0, len(windows))
	for _, w := range windows {
		spans = append(spans, interval.Span{Start: w.StartMin, End: w.EndMin})
	}
	return interval.Merge(spans), nil
}

// aggregateBlocked merges blackout periods and non-cancelled appointments
// for the doctor/date into one blocked set. excludeID lets an update
// re-validate without colliding with its own row.
func aggregateBlocked(ctx context.Context, r blockedReader, doctorID uuid.UUID, date time.Time, excludeID uuid.UUID) ([]interval.Span, error) {
	appts, err := r.ListActiveAppointments(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	blackouts, err := r.ListBlackouts(ctx, doctorID, &date)
	if err != nil {
		return nil, fmt.Errorf("list blackouts: %w", err)
	}

	spans := make([]interval.Span, 0, len(appts)+len(blackouts))
	for _, a := range appts {
		if a.ID == excludeID {
			continue
		}
		spans = append(spans, a.Span())
	}
	for _, b := range blackouts {
		spans = append(spans, interval.Span{Start: b.StartMin, End: b.EndMin})
	}
	return interval.Merge(spans), nil
}

// checkConflict is the conflict guard: the proposed span must not overlap
// any span in the blocked set.
func checkConflict(proposed interval.Span, blocked []interval.Span) error {
	var conflicts []interval.Span
	for _, b := range blocked {
		if proposed.Overlaps(b) {
			conflicts = append(conflicts, b)
		}
	}
	if len(conflicts) > 0 {
		return &SlotUnavailableError{Requested: proposed, Conflicts: conflicts}
	}
	return nil
}

// Availability computes the doctor's schedule picture for one date: the
// merged recurring windows, the blocked set, and the free slots left after
// subtraction. Always computed fresh; a cached result can go stale within
// seconds under concurrent bookings.
func (s *Service) Availability(ctx context.Context, doctorID uuid.UUID, date time.Time) (*Availability, error) {
	if _, err := s.store.GetDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	date = NormalizeDate(date)

	windows, err := s.resolveWindows(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	blocked, err := aggregateBlocked(ctx, s.store, doctorID, date, uuid.Nil)
	if err != nil {
		return nil, err
	}

	return &Availability{
		Windows: windows,
		Blocked: blocked,
		Free:    interval.Subtract(windows, blocked),
	}, nil
}

type CreateParams struct {
	DoctorID   uuid.UUID
	PatientID  *uuid.UUID
	GuestName  *string
	Department string
	Date       time.Time
	StartMin   int
	EndMin     int
	Reason     *string
	Location   *string
}

func (p *CreateParams) validate() error {
	if p.DoctorID == uuid.Nil {
		return invalidf("doctor_id", "required")
	}
	if p.Department == "" {
		return invalidf("department", "required")
	}
	if p.PatientID == nil && (p.GuestName == nil || *p.GuestName == "") {
		return invalidf("patient_id", "either patient_id or guest_name is required")
	}
	if p.Date.IsZero() {
		return invalidf("date", "required")
	}
	span := interval.Span{Start: p.StartMin, End: p.EndMin}
	if !span.Valid() {
		return invalidf("start_min", "[%d,%d) is not a valid minute-of-day range", p.StartMin, p.EndMin)
	}
	return nil
}

// Create books an appointment. Inside a single transaction it locks the
// doctor's day, re-reads the blocked set, runs the conflict guard, and
// inserts. Two concurrent creates for overlapping spans cannot both commit.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Appointment, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if _, err := s.store.GetDoctor(ctx, p.DoctorID); err != nil {
		return nil, err
	}
	if p.PatientID != nil {
		if _, err := s.store.GetPatient(ctx, *p.PatientID); err != nil {
			return nil, err
		}
	}

	date := NormalizeDate(p.Date)
	appt := &Appointment{
		ID:         uuid.New(),
		DoctorID:   p.DoctorID,
		PatientID:  p.PatientID,
		GuestName:  p.GuestName,
		Department: p.Department,
		Date:       date,
		StartMin:   p.StartMin,
		EndMin:     p.EndMin,
		Status:     StatusScheduled,
		Reason:     p.Reason,
		Location:   p.Location,
	}

	err := s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.LockSchedule(ctx, p.DoctorID, date); err != nil {
			return err
		}
		blocked, err := aggregateBlocked(ctx, tx, p.DoctorID, date, uuid.Nil)
		if err != nil {
			return err
		}
		if err := checkConflict(appt.Span(), blocked); err != nil {
			return err
		}
		return tx.InsertAppointment(ctx, appt)
	})
	if err != nil {
		return nil, err
	}

	s.sink.Publish(ctx, events.AppointmentCreated, appointmentPayload(appt))
	return appt, nil
}

type UpdateParams struct {
	DoctorID   *uuid.UUID
	PatientID  *uuid.UUID
	GuestName  *string
	Department *string
	Date       *time.Time
	StartMin   *int
	EndMin     *int
	Reason     *string
	Location   *string
}

func (p *UpdateParams) apply(a *Appointment) {
	if p.DoctorID != nil {
		a.DoctorID = *p.DoctorID
	}
	if p.PatientID != nil {
		a.PatientID = p.PatientID
	}
	if p.GuestName != nil {
		a.GuestName = p.GuestName
	}
	if p.Department != nil {
		a.Department = *p.Department
	}
	if p.Date != nil {
		a.Date = NormalizeDate(*p.Date)
	}
	if p.StartMin != nil {
		a.StartMin = *p.StartMin
	}
	if p.EndMin != nil {
		a.EndMin = *p.EndMin
	}
	if p.Reason != nil {
		a.Reason = p.Reason
	}
	if p.Location != nil {
		a.Location = p.Location
	}
}

// Update edits a non-terminal appointment. Validation order is fixed:
// terminal-state check first, then field validation, then the conflict
// guard against the new slot.
func (s *Service) Update(ctx context.Context, id uuid.UUID, p UpdateParams) (*Appointment, error) {
	var updated *Appointment

	err := s.store.InTx(ctx, func(tx Tx) error {
		current, err := tx.GetAppointment(ctx, id)
		if err != nil {
			return err
		}
		if current.Terminal() {
			return ErrImmutable
		}

		// Directory lookups come after the terminal check so an edit of a
		// closed appointment answers immutable even when the new doctor or
		// patient is also unknown.
		if p.DoctorID != nil {
			if _, err := s.store.GetDoctor(ctx, *p.DoctorID); err != nil {
				return err
			}
		}
		if p.PatientID != nil {
			if _, err := s.store.GetPatient(ctx, *p.PatientID); err != nil {
				return err
			}
		}

		next := *current
		p.apply(&next)

		span := next.Span()
		if !span.Valid() {
			return invalidf("start_min", "[%d,%d) is not a valid minute-of-day range", next.StartMin, next.EndMin)
		}
		if next.PatientID == nil && (next.GuestName == nil || *next.GuestName == "") {
			return invalidf("patient_id", "either patient_id or guest_name is required")
		}

		if err := tx.LockSchedule(ctx, next.DoctorID, next.Date); err != nil {
			return err
		}
		blocked, err := aggregateBlocked(ctx, tx, next.DoctorID, next.Date, next.ID)
		if err != nil {
			return err
		}
		if err := checkConflict(span, blocked); err != nil {
			return err
		}

		if err := tx.UpdateAppointment(ctx, &next); err != nil {
			return err
		}
		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.sink.Publish(ctx, events.AppointmentUpdated, appointmentPayload(updated))
	return updated, nil
}

// PatchStatus applies a lifecycle transition. The Completed transition
// materializes a Visit in the same transaction and the result carries the
// visit ID instead of the appointment; callers branch on the result shape.
func (s *Service) PatchStatus(ctx context.Context, id uuid.UUID, to Status, cancelReason string) (*StatusChange, error) {
	if !ValidStatus(to) {
		return nil, invalidf("status", "unknown status %q", to)
	}

	var (
		appt  *Appointment
		visit *Visit
	)

	err := s.store.InTx(ctx, func(tx Tx) error {
		current, err := tx.GetAppointment(ctx, id)
		if err != nil {
			return err
		}
		if err := CheckTransition(current.Status, to, cancelReason); err != nil {
			return err
		}

		next := *current
		next.Status = to
		if to == StatusCancelled {
			next.CancelReason = &cancelReason
		}

		if to == StatusCompleted {
			v := &Visit{
				ID:            uuid.New(),
				AppointmentID: next.ID,
				PatientID:     next.PatientID,
				DoctorID:      next.DoctorID,
				VisitDate:     next.Date,
				Department:    next.Department,
			}
			if err := tx.InsertVisit(ctx, v); err != nil {
				return err
			}
			visit = v
		}

		if err := tx.UpdateAppointment(ctx, &next); err != nil {
			return err
		}
		appt = &next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.sink.Publish(ctx, statusEvent(to), appointmentPayload(appt))

	if visit != nil {
		s.sink.Publish(ctx, events.VisitCreated, map[string]any{
			"visit_id":       visit.ID.String(),
			"appointment_id": visit.AppointmentID.String(),
			"doctor_id":      visit.DoctorID.String(),
			"visit_date":     visit.VisitDate.Format(DateLayout),
		})
		visitID := visit.ID
		return &StatusChange{VisitID: &visitID}, nil
	}
	return &StatusChange{Appointment: appt}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.store.GetAppointment(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit int, cursor string) ([]Appointment, string, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if f.Status != nil && !ValidStatus(*f.Status) {
		return nil, "", invalidf("status", "unknown status %q", *f.Status)
	}
	return s.store.ListAppointments(ctx, f, limit, cursor)
}

// Window administration (direct input to the availability resolver).

func (s *Service) ListWindows(ctx context.Context, doctorID uuid.UUID) ([]AvailabilityWindow, error) {
	if _, err := s.store.GetDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	return s.store.ListDoctorWindows(ctx, doctorID)
}

func (s *Service) AddWindow(ctx context.Context, doctorID uuid.UUID, dayOfWeek, startMin, endMin int) (*AvailabilityWindow, error) {
	if _, err := s.store.GetDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	if dayOfWeek < 0 || dayOfWeek > 6 {
		return nil, invalidf("day_of_week", "must be 0-6, got %d", dayOfWeek)
	}
	span := interval.Span{Start: startMin, End: endMin}
	if !span.Valid() {
		return nil, invalidf("start_min", "[%d,%d) is not a valid minute-of-day range", startMin, endMin)
	}
	return s.store.CreateWindow(ctx, AvailabilityWindow{
		DoctorID:  doctorID,
		DayOfWeek: dayOfWeek,
		StartMin:  startMin,
		EndMin:    endMin,
	})
}

func (s *Service) RemoveWindow(ctx context.Context, doctorID, windowID uuid.UUID) error {
	return s.store.DeleteWindow(ctx, doctorID, windowID)
}

// Blackout administration.

func (s *Service) ListBlackouts(ctx context.Context, doctorID uuid.UUID, date *time.Time) ([]BlackoutPeriod, error) {
	if _, err := s.store.GetDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	if date != nil {
		d := NormalizeDate(*date)
		date = &d
	}
	return s.store.ListBlackouts(ctx, doctorID, date)
}

func (s *Service) AddBlackout(ctx context.Context, doctorID uuid.UUID, date time.Time, startMin, endMin int, reason *string) (*BlackoutPeriod, error) {
	if _, err := s.store.GetDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	span := interval.Span{Start: startMin, End: endMin}
	if !span.Valid() {
		return nil, invalidf("start_min", "[%d,%d) is not a valid minute-of-day range", startMin, endMin)
	}
	return s.store.CreateBlackout(ctx, BlackoutPeriod{
		DoctorID: doctorID,
		Date:     NormalizeDate(date),
		StartMin: startMin,
		EndMin:   endMin,
		Reason:   reason,
	})
}

func (s *Service) RemoveBlackout(ctx context.Context, doctorID, blackoutID uuid.UUID) error {
	return s.store.DeleteBlackout(ctx, doctorID, blackoutID)
}

func statusEvent(to Status) string {
	switch to {
	case StatusCheckedIn:
		return events.AppointmentCheckedIn
	case StatusInProgress:
		return events.AppointmentStarted
	case StatusCompleted:
		return events.AppointmentCompleted
	case StatusCancelled:
		return events.AppointmentCancelled
	default:
		return events.AppointmentUpdated
	}
}

func appointmentPayload(a *Appointment) map[string]any {
	payload := map[string]any{
		"appointment_id": a.ID.String(),
		"doctor_id":      a.DoctorID.String(),
		"date":           a.Date.Format(DateLayout),
		"start_min":      a.StartMin,
		"end_min":        a.EndMin,
		"status":         string(a.Status),
	}
	if a.PatientID != nil {
		payload["patient_id"] = a.PatientID.String()
	}
	return payload
}

// IsRetryable reports whether the caller should retry the operation with
// backoff. Only lock-acquire timeouts qualify.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrScheduleLocked)
}
