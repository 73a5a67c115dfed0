package scheduling_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/scheduling/internal/config"
	"github.com/clinicore/scheduling/internal/events"
	"github.com/clinicore/scheduling/internal/interval"
	"github.com/clinicore/scheduling/internal/scheduling"
	"github.com/clinicore/scheduling/internal/scheduling/schedulingtest"
)

// captureSink records published events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []string
}

func (c *captureSink) Publish(_ context.Context, event string, _ map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureSink) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

type fixture struct {
	svc       *scheduling.Service
	store     *schedulingtest.MemStore
	sink      *captureSink
	doctorID  uuid.UUID
	patientID uuid.UUID
	date      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := schedulingtest.New()
	sink := &captureSink{}
	cfg := config.Config{
		DefaultWindow: &interval.Span{Start: 540, End: 1020},
	}

	f := &fixture{
		svc:       scheduling.NewService(store, sink, cfg),
		store:     store,
		sink:      sink,
		doctorID:  store.AddDoctor("Dr. Reyes", "Cardiology"),
		patientID: store.AddPatient("Ana Costa"),
		date:      time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC),
	}

	// One morning window on the fixture date's weekday: 9:00-12:00.
	_, err := f.svc.AddWindow(context.Background(), f.doctorID, int(f.date.Weekday()), 540, 720)
	require.NoError(t, err)

	return f
}

func (f *fixture) create(t *testing.T, startMin, endMin int) *scheduling.Appointment {
	t.Helper()
	appt, err := f.svc.Create(context.Background(), scheduling.CreateParams{
		DoctorID:   f.doctorID,
		PatientID:  &f.patientID,
		Department: "Cardiology",
		Date:       f.date,
		StartMin:   startMin,
		EndMin:     endMin,
	})
	require.NoError(t, err)
	return appt
}

func TestAvailabilityEmptySchedule(t *testing.T) {
	f := newFixture(t)

	avail, err := f.svc.Availability(context.Background(), f.doctorID, f.date)
	require.NoError(t, err)

	assert.Equal(t, []interval.Span{{Start: 540, End: 720}}, avail.Windows)
	assert.Empty(t, avail.Blocked)
	assert.Equal(t, []interval.Span{{Start: 540, End: 720}}, avail.Free)
}

func TestAvailabilityWithBooking(t *testing.T) {
	f := newFixture(t)
	f.create(t, 600, 660)

	avail, err := f.svc.Availability(context.Background(), f.doctorID, f.date)
	require.NoError(t, err)

	assert.Equal(t, []interval.Span{{Start: 600, End: 660}}, avail.Blocked)
	assert.Equal(t, []interval.Span{{Start: 540, End: 600}, {Start: 660, End: 720}}, avail.Free)
}

func TestAvailabilityWithBlackout(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AddBlackout(context.Background(), f.doctorID, f.date, 540, 600, nil)
	require.NoError(t, err)
	f.create(t, 600, 660)

	avail, err := f.svc.Availability(context.Background(), f.doctorID, f.date)
	require.NoError(t, err)

	// Blackout and booking are adjacent, so the blocked set merges them.
	assert.Equal(t, []interval.Span{{Start: 540, End: 660}}, avail.Blocked)
	assert.Equal(t, []interval.Span{{Start: 660, End: 720}}, avail.Free)
}

func TestAvailabilityDefaultWindowFallback(t *testing.T) {
	f := newFixture(t)
	unconfigured := f.store.AddDoctor("Dr. Okafor", "Dermatology")

	avail, err := f.svc.Availability(context.Background(), unconfigured, f.date)
	require.NoError(t, err)

	assert.Equal(t, []interval.Span{{Start: 540, End: 1020}}, avail.Windows)
	assert.Equal(t, []interval.Span{{Start: 540, End: 1020}}, avail.Free)
}

func TestAvailabilityNoDefaultMeansUnbookable(t *testing.T) {
	store := schedulingtest.New()
	svc := scheduling.NewService(store, &captureSink{}, config.Config{DefaultWindow: nil})
	doctorID := store.AddDoctor("Dr. Varga", "ENT")

	avail, err := svc.Availability(context.Background(), doctorID, time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Empty(t, avail.Windows)
	assert.Empty(t, avail.Free)
}

func TestAvailabilityUnknownDoctor(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Availability(context.Background(), uuid.New(), f.date)
	assert.ErrorIs(t, err, scheduling.ErrDoctorNotFound)
}

func TestAvailabilityIdempotentRead(t *testing.T) {
	f := newFixture(t)
	f.create(t, 600, 660)

	first, err := f.svc.Availability(context.Background(), f.doctorID, f.date)
	require.NoError(t, err)
	second, err := f.svc.Availability(context.Background(), f.doctorID, f.date)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestCreateConflictRejected(t *testing.T) {
	f := newFixture(t)
	f.create(t, 600, 660)

	_, err := f.svc.Create(context.Background(), scheduling.CreateParams{
		DoctorID:   f.doctorID,
		PatientID:  &f.patientID,
		Department: "Cardiology",
		Date:       f.date,
		StartMin:   630,
		EndMin:     690,
	})

	var unavailable *scheduling.SlotUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, interval.Span{Start: 630, End: 690}, unavailable.Requested)
	assert.Equal(t, []interval.Span{{Start: 600, End: 660}}, unavailable.Conflicts)
}

func TestCreateAdjacentSlotsAllowed(t *testing.T) {
	f := newFixture(t)
	f.create(t, 600, 660)

	// Half-open semantics: touching at 660 is not a conflict.
	f.create(t, 660, 720)
}

func TestCreateGuestBooking(t *testing.T) {
	f := newFixture(t)
	guest := "Walk-in: J. Silva"

	appt, err := f.svc.Create(context.Background(), scheduling.CreateParams{
		DoctorID:   f.doctorID,
		GuestName:  &guest,
		Department: "Cardiology",
		Date:       f.date,
		StartMin:   540,
		EndMin:     570,
	})
	require.NoError(t, err)
	assert.Nil(t, appt.PatientID)
	assert.Equal(t, &guest, appt.GuestName)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var verr *scheduling.ValidationError

	_, err := f.svc.Create(ctx, scheduling.CreateParams{
		DoctorID: f.doctorID, PatientID: &f.patientID, Department: "Cardiology",
		Date: f.date, StartMin: 660, EndMin: 600,
	})
	require.ErrorAs(t, err, &verr, "start >= end")

	_, err = f.svc.Create(ctx, scheduling.CreateParams{
		DoctorID: f.doctorID, PatientID: &f.patientID,
		Date: f.date, StartMin: 600, EndMin: 660,
	})
	require.ErrorAs(t, err, &verr, "missing department")

	_, err = f.svc.Create(ctx, scheduling.CreateParams{
		DoctorID: f.doctorID, Department: "Cardiology",
		Date: f.date, StartMin: 600, EndMin: 660,
	})
	require.ErrorAs(t, err, &verr, "neither patient nor guest")

	unknown := uuid.New()
	_, err = f.svc.Create(ctx, scheduling.CreateParams{
		DoctorID: f.doctorID, PatientID: &unknown, Department: "Cardiology",
		Date: f.date, StartMin: 600, EndMin: 660,
	})
	assert.ErrorIs(t, err, scheduling.ErrPatientNotFound)
}

func TestConcurrentCreatesOnlyOneWins(t *testing.T) {
	f := newFixture(t)

	const attempts = 8
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Create(context.Background(), scheduling.CreateParams{
				DoctorID:   f.doctorID,
				PatientID:  &f.patientID,
				Department: "Cardiology",
				Date:       f.date,
				StartMin:   600,
				EndMin:     660,
			})
			errs[i] = err
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		var unavailable *scheduling.SlotUnavailableError
		if !assert.ErrorAs(t, err, &unavailable) {
			t.Logf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent create must succeed")

	appts, err := f.store.ListActiveAppointments(context.Background(), f.doctorID, f.date)
	require.NoError(t, err)
	require.Len(t, appts, 1)
}

func TestUpdateReschedule(t *testing.T) {
	f := newFixture(t)
	appt := f.create(t, 600, 660)
	f.create(t, 660, 720)

	// Sliding within its own slot is fine: the row does not conflict with
	// itself.
	start, end := 610, 650
	updated, err := f.svc.Update(context.Background(), appt.ID, scheduling.UpdateParams{StartMin: &start, EndMin: &end})
	require.NoError(t, err)
	assert.Equal(t, 610, updated.StartMin)

	// Moving onto the other booking is rejected.
	start2, end2 := 650, 700
	_, err = f.svc.Update(context.Background(), appt.ID, scheduling.UpdateParams{StartMin: &start2, EndMin: &end2})
	var unavailable *scheduling.SlotUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, []interval.Span{{Start: 660, End: 720}}, unavailable.Conflicts)
}

func TestUpdateMoveToAnotherDoctor(t *testing.T) {
	f := newFixture(t)
	other := f.store.AddDoctor("Dr. Lindqvist", "Cardiology")
	_, err := f.svc.AddWindow(context.Background(), other, int(f.date.Weekday()), 540, 720)
	require.NoError(t, err)

	appt := f.create(t, 600, 660)

	updated, err := f.svc.Update(context.Background(), appt.ID, scheduling.UpdateParams{DoctorID: &other})
	require.NoError(t, err)
	assert.Equal(t, other, updated.DoctorID)

	// The original doctor's slot is free again.
	avail, err := f.svc.Availability(context.Background(), f.doctorID, f.date)
	require.NoError(t, err)
	assert.Equal(t, []interval.Span{{Start: 540, End: 720}}, avail.Free)
}

func TestUpdateTerminalIsImmutable(t *testing.T) {
	f := newFixture(t)
	appt := f.create(t, 600, 660)
	completeAppointment(t, f, appt.ID)

	// The immutable-state check wins even when the requested change is also
	// invalid in other ways.
	badStart, badEnd := 900, 800
	_, err := f.svc.Update(context.Background(), appt.ID, scheduling.UpdateParams{StartMin: &badStart, EndMin: &badEnd})
	assert.ErrorIs(t, err, scheduling.ErrImmutable)

	// Same tie-break for an unknown doctor or patient on the change.
	ghost := uuid.New()
	_, err = f.svc.Update(context.Background(), appt.ID, scheduling.UpdateParams{DoctorID: &ghost})
	assert.ErrorIs(t, err, scheduling.ErrImmutable)
}

func TestUpdateUnknownAppointment(t *testing.T) {
	f := newFixture(t)
	loc := "Room 4"
	_, err := f.svc.Update(context.Background(), uuid.New(), scheduling.UpdateParams{Location: &loc})
	assert.ErrorIs(t, err, scheduling.ErrAppointmentNotFound)
}

func completeAppointment(t *testing.T, f *fixture, id uuid.UUID) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	_, err := f.svc.PatchStatus(ctx, id, scheduling.StatusCheckedIn, "")
	require.NoError(t, err)
	_, err = f.svc.PatchStatus(ctx, id, scheduling.StatusInProgress, "")
	require.NoError(t, err)
	change, err := f.svc.PatchStatus(ctx, id, scheduling.StatusCompleted, "")
	require.NoError(t, err)
	require.NotNil(t, change.VisitID)
	return *change.VisitID
}

func TestLifecycleCompletionCreatesVisit(t *testing.T) {
	f := newFixture(t)
	appt := f.create(t, 600, 660)

	visitID := completeAppointment(t, f, appt.ID)

	visit, ok := f.store.Visit(visitID)
	require.True(t, ok, "visit must exist after completion")
	assert.Equal(t, appt.ID, visit.AppointmentID)
	assert.Equal(t, f.doctorID, visit.DoctorID)
	assert.Equal(t, "Cardiology", visit.Department)
	assert.True(t, visit.VisitDate.Equal(appt.Date))

	stored, err := f.svc.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.StatusCompleted, stored.Status)

	assert.Contains(t, f.sink.names(), events.AppointmentCompleted)
	assert.Contains(t, f.sink.names(), events.VisitCreated)
}

func TestPatchStatusIntermediateReturnsAppointment(t *testing.T) {
	f := newFixture(t)
	appt := f.create(t, 600, 660)

	change, err := f.svc.PatchStatus(context.Background(), appt.ID, scheduling.StatusCheckedIn, "")
	require.NoError(t, err)
	require.NotNil(t, change.Appointment)
	assert.Nil(t, change.VisitID)
	assert.Equal(t, scheduling.StatusCheckedIn, change.Appointment.Status)
}

func TestPatchStatusTerminalRejected(t *testing.T) {
	f := newFixture(t)
	appt := f.create(t, 600, 660)
	completeAppointment(t, f, appt.ID)

	_, err := f.svc.PatchStatus(context.Background(), appt.ID, scheduling.StatusCancelled, "no-show")

	var invalid *scheduling.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, scheduling.StatusCompleted, invalid.From)
	assert.Equal(t, scheduling.StatusCancelled, invalid.To)
}

func TestPatchStatusCancelRequiresReason(t *testing.T) {
	f := newFixture(t)
	appt := f.create(t, 600, 660)

	_, err := f.svc.PatchStatus(context.Background(), appt.ID, scheduling.StatusCancelled, "")
	assert.ErrorIs(t, err, scheduling.ErrReasonRequired)

	change, err := f.svc.PatchStatus(context.Background(), appt.ID, scheduling.StatusCancelled, "patient request")
	require.NoError(t, err)
	require.NotNil(t, change.Appointment)
	require.NotNil(t, change.Appointment.CancelReason)
	assert.Equal(t, "patient request", *change.Appointment.CancelReason)
}

func TestCancelledSlotBecomesBookable(t *testing.T) {
	f := newFixture(t)
	appt := f.create(t, 600, 660)

	_, err := f.svc.PatchStatus(context.Background(), appt.ID, scheduling.StatusCancelled, "patient request")
	require.NoError(t, err)

	// Cancellation is a status, not a deletion; the slot frees up anyway.
	f.create(t, 600, 660)
}

func TestCompletionAtomicity(t *testing.T) {
	f := newFixture(t)
	appt := f.create(t, 600, 660)

	_, err := f.svc.PatchStatus(context.Background(), appt.ID, scheduling.StatusCheckedIn, "")
	require.NoError(t, err)
	_, err = f.svc.PatchStatus(context.Background(), appt.ID, scheduling.StatusInProgress, "")
	require.NoError(t, err)

	injected := errors.New("injected storage failure")
	f.store.FailVisitInsert = injected
	_, err = f.svc.PatchStatus(context.Background(), appt.ID, scheduling.StatusCompleted, "")
	require.ErrorIs(t, err, injected)

	// The whole transition rolled back: no visit, status unchanged.
	assert.Zero(t, f.store.VisitCount())
	stored, err := f.svc.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.StatusInProgress, stored.Status)

	// Retry after the fault clears.
	f.store.FailVisitInsert = nil
	change, err := f.svc.PatchStatus(context.Background(), appt.ID, scheduling.StatusCompleted, "")
	require.NoError(t, err)
	assert.NotNil(t, change.VisitID)
}

func TestStatusTransitionsSerializeOnAppointment(t *testing.T) {
	f := newFixture(t)
	appt := f.create(t, 600, 660)
	ctx := context.Background()

	_, err := f.svc.PatchStatus(ctx, appt.ID, scheduling.StatusCheckedIn, "")
	require.NoError(t, err)

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	// A cancellation transaction that holds the appointment's row lock
	// between its read and its write.
	go func() {
		done <- f.store.InTx(ctx, func(tx scheduling.Tx) error {
			current, err := tx.GetAppointment(ctx, appt.ID)
			if err != nil {
				return err
			}
			close(locked)
			<-release

			next := *current
			next.Status = scheduling.StatusCancelled
			reason := "clinic closure"
			next.CancelReason = &reason
			return tx.UpdateAppointment(ctx, &next)
		})
	}()

	<-locked

	// While the cancellation holds the row, a competing transition cannot
	// validate against the stale pre-state; it waits and times out.
	_, err = f.svc.PatchStatus(ctx, appt.ID, scheduling.StatusInProgress, "")
	assert.ErrorIs(t, err, scheduling.ErrScheduleLocked)

	close(release)
	require.NoError(t, <-done)

	// After the cancellation commits, the transition sees the terminal
	// state and is rejected instead of resurrecting the appointment.
	_, err = f.svc.PatchStatus(ctx, appt.ID, scheduling.StatusInProgress, "")
	var invalid *scheduling.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, scheduling.StatusCancelled, invalid.From)

	stored, err := f.svc.Get(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.StatusCancelled, stored.Status)
}

func TestCreateTimesOutWhenScheduleLocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- f.store.InTx(ctx, func(tx scheduling.Tx) error {
			if err := tx.LockSchedule(ctx, f.doctorID, f.date); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()

	<-locked

	_, err := f.svc.Create(ctx, scheduling.CreateParams{
		DoctorID:   f.doctorID,
		PatientID:  &f.patientID,
		Department: "Cardiology",
		Date:       f.date,
		StartMin:   600,
		EndMin:     660,
	})
	require.ErrorIs(t, err, scheduling.ErrScheduleLocked)
	assert.True(t, scheduling.IsRetryable(err))

	close(release)
	require.NoError(t, <-done)

	// Once the holder commits, the same booking goes through.
	f.create(t, 600, 660)
}

func TestPatchStatusUnknownStatus(t *testing.T) {
	f := newFixture(t)
	appt := f.create(t, 600, 660)

	_, err := f.svc.PatchStatus(context.Background(), appt.ID, scheduling.Status("archived"), "")
	var verr *scheduling.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestListPagination(t *testing.T) {
	f := newFixture(t)
	f.create(t, 540, 570)
	f.create(t, 600, 660)
	f.create(t, 660, 690)

	filter := scheduling.ListFilter{DoctorID: &f.doctorID}

	page1, next, err := f.svc.List(context.Background(), filter, 2, "")
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.NotEmpty(t, next)
	assert.Equal(t, 540, page1[0].StartMin)
	assert.Equal(t, 600, page1[1].StartMin)

	page2, next2, err := f.svc.List(context.Background(), filter, 2, next)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Empty(t, next2)
	assert.Equal(t, 660, page2[0].StartMin)
}

func TestListFilters(t *testing.T) {
	f := newFixture(t)
	appt := f.create(t, 600, 660)
	_, err := f.svc.PatchStatus(context.Background(), appt.ID, scheduling.StatusCancelled, "conflict")
	require.NoError(t, err)
	f.create(t, 600, 660)

	cancelled := scheduling.StatusCancelled
	got, _, err := f.svc.List(context.Background(), scheduling.ListFilter{Status: &cancelled}, 10, "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, appt.ID, got[0].ID)

	bogus := scheduling.Status("archived")
	_, _, err = f.svc.List(context.Background(), scheduling.ListFilter{Status: &bogus}, 10, "")
	var verr *scheduling.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestWindowAdminValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var verr *scheduling.ValidationError

	_, err := f.svc.AddWindow(ctx, f.doctorID, 7, 540, 720)
	require.ErrorAs(t, err, &verr)

	_, err = f.svc.AddWindow(ctx, f.doctorID, 1, 720, 540)
	require.ErrorAs(t, err, &verr)

	_, err = f.svc.AddWindow(ctx, uuid.New(), 1, 540, 720)
	assert.ErrorIs(t, err, scheduling.ErrDoctorNotFound)

	err = f.svc.RemoveWindow(ctx, f.doctorID, uuid.New())
	assert.ErrorIs(t, err, scheduling.ErrWindowNotFound)
}

func TestBlackoutAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.svc.AddBlackout(ctx, f.doctorID, f.date, 540, 600, nil)
	require.NoError(t, err)

	listed, err := f.svc.ListBlackouts(ctx, f.doctorID, &f.date)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	require.NoError(t, f.svc.RemoveBlackout(ctx, f.doctorID, b.ID))
	assert.ErrorIs(t, f.svc.RemoveBlackout(ctx, f.doctorID, b.ID), scheduling.ErrBlackoutNotFound)
}

func TestCreatePublishesEvent(t *testing.T) {
	f := newFixture(t)
	f.create(t, 600, 660)

	assert.Equal(t, []string{events.AppointmentCreated}, f.sink.names())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, scheduling.IsRetryable(scheduling.ErrScheduleLocked))
	assert.False(t, scheduling.IsRetryable(scheduling.ErrImmutable))
	assert.False(t, scheduling.IsRetryable(nil))
}
