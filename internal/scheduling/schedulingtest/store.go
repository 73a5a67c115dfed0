// Package schedulingtest provides an in-memory scheduling.Store for tests.
// It mirrors the Postgres store's observable behavior: per-(doctor,date)
// locking with a bounded wait, and transactional writes that become visible
// only at commit, while the lock is still held.
package schedulingtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/scheduling/internal/scheduling"
)

type MemStore struct {
	mu           sync.Mutex
	doctors      map[uuid.UUID]scheduling.Doctor
	patients     map[uuid.UUID]scheduling.Patient
	windows      map[uuid.UUID]scheduling.AvailabilityWindow
	blackouts    map[uuid.UUID]scheduling.BlackoutPeriod
	appointments map[uuid.UUID]scheduling.Appointment
	visits       map[uuid.UUID]scheduling.Visit

	locks    map[string]chan struct{}
	LockWait time.Duration

	// FailVisitInsert, when set, makes every visit insert fail with it.
	FailVisitInsert error
}

var _ scheduling.Store = (*MemStore)(nil)

func New() *MemStore {
	return &MemStore{
		doctors:      make(map[uuid.UUID]scheduling.Doctor),
		patients:     make(map[uuid.UUID]scheduling.Patient),
		windows:      make(map[uuid.UUID]scheduling.AvailabilityWindow),
		blackouts:    make(map[uuid.UUID]scheduling.BlackoutPeriod),
		appointments: make(map[uuid.UUID]scheduling.Appointment),
		visits:       make(map[uuid.UUID]scheduling.Visit),
		locks:        make(map[string]chan struct{}),
		LockWait:     200 * time.Millisecond,
	}
}

// Fixture helpers

func (m *MemStore) AddDoctor(name, department string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.doctors[id] = scheduling.Doctor{ID: id, Name: name, Department: department}
	return id
}

func (m *MemStore) AddPatient(name string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.patients[id] = scheduling.Patient{ID: id, Name: name}
	return id
}

// Visit returns the stored visit, if any.
func (m *MemStore) Visit(id uuid.UUID) (scheduling.Visit, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[id]
	return v, ok
}

// VisitCount reports the number of stored visits.
func (m *MemStore) VisitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.visits)
}

// Store implementation

func (m *MemStore) GetDoctor(_ context.Context, id uuid.UUID) (*scheduling.Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, scheduling.ErrDoctorNotFound
	}
	return &d, nil
}

func (m *MemStore) GetPatient(_ context.Context, id uuid.UUID) (*scheduling.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, scheduling.ErrPatientNotFound
	}
	return &p, nil
}

func (m *MemStore) ListWindows(_ context.Context, doctorID uuid.UUID, dayOfWeek int) ([]scheduling.AvailabilityWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []scheduling.AvailabilityWindow
	for _, w := range m.windows {
		if w.DoctorID == doctorID && w.DayOfWeek == dayOfWeek {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartMin < out[j].StartMin })
	return out, nil
}

func (m *MemStore) ListDoctorWindows(_ context.Context, doctorID uuid.UUID) ([]scheduling.AvailabilityWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []scheduling.AvailabilityWindow
	for _, w := range m.windows {
		if w.DoctorID == doctorID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DayOfWeek != out[j].DayOfWeek {
			return out[i].DayOfWeek < out[j].DayOfWeek
		}
		return out[i].StartMin < out[j].StartMin
	})
	return out, nil
}

func (m *MemStore) CreateWindow(_ context.Context, w scheduling.AvailabilityWindow) (*scheduling.AvailabilityWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w.ID = uuid.New()
	w.CreatedAt = time.Now()
	m.windows[w.ID] = w
	return &w, nil
}

func (m *MemStore) DeleteWindow(_ context.Context, doctorID, windowID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[windowID]
	if !ok || w.DoctorID != doctorID {
		return scheduling.ErrWindowNotFound
	}
	delete(m.windows, windowID)
	return nil
}

func (m *MemStore) ListBlackouts(_ context.Context, doctorID uuid.UUID, date *time.Time) ([]scheduling.BlackoutPeriod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []scheduling.BlackoutPeriod
	for _, b := range m.blackouts {
		if b.DoctorID != doctorID {
			continue
		}
		if date != nil && !b.Date.Equal(*date) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].StartMin < out[j].StartMin
	})
	return out, nil
}

func (m *MemStore) CreateBlackout(_ context.Context, b scheduling.BlackoutPeriod) (*scheduling.BlackoutPeriod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.ID = uuid.New()
	b.CreatedAt = time.Now()
	m.blackouts[b.ID] = b
	return &b, nil
}

func (m *MemStore) DeleteBlackout(_ context.Context, doctorID, blackoutID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blackouts[blackoutID]
	if !ok || b.DoctorID != doctorID {
		return scheduling.ErrBlackoutNotFound
	}
	delete(m.blackouts, blackoutID)
	return nil
}

func (m *MemStore) GetAppointment(_ context.Context, id uuid.UUID) (*scheduling.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, scheduling.ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *MemStore) ListActiveAppointments(_ context.Context, doctorID uuid.UUID, date time.Time) ([]scheduling.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []scheduling.Appointment
	for _, a := range m.appointments {
		if a.DoctorID == doctorID && a.Date.Equal(date) && a.Status != scheduling.StatusCancelled {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartMin < out[j].StartMin })
	return out, nil
}

func (m *MemStore) ListAppointments(_ context.Context, f scheduling.ListFilter, limit int, cursorStr string) ([]scheduling.Appointment, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []scheduling.Appointment
	for _, a := range m.appointments {
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		if f.Date != nil && !a.Date.Equal(*f.Date) {
			continue
		}
		if f.From != nil && a.Date.Before(*f.From) {
			continue
		}
		if f.To != nil && a.Date.After(*f.To) {
			continue
		}
		all = append(all, a)
	}

	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.StartMin != b.StartMin {
			return a.StartMin < b.StartMin
		}
		return a.ID.String() < b.ID.String()
	})

	if cursorStr != "" {
		after, err := scheduling.DecodeCursor(cursorStr)
		if err != nil {
			return nil, "", err
		}
		idx := sort.Search(len(all), func(i int) bool {
			a := all[i]
			if !a.Date.Equal(after.Date) {
				return a.Date.After(after.Date)
			}
			if a.StartMin != after.StartMin {
				return a.StartMin > after.StartMin
			}
			return a.ID.String() > after.ID.String()
		})
		all = all[idx:]
	}

	next := ""
	if len(all) > limit {
		all = all[:limit]
		next = scheduling.EncodeCursor(all[limit-1])
	}
	return all, next, nil
}

func lockKey(doctorID uuid.UUID, date time.Time) string {
	return doctorID.String() + "|" + date.Format(scheduling.DateLayout)
}

func rowLockKey(id uuid.UUID) string {
	return "appointment|" + id.String()
}

func (m *MemStore) acquire(ctx context.Context, key string) error {
	m.mu.Lock()
	ch, ok := m.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[key] = ch
	}
	wait := m.LockWait
	m.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return nil
	case <-time.After(wait):
		return scheduling.ErrScheduleLocked
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MemStore) release(key string) {
	m.mu.Lock()
	ch := m.locks[key]
	m.mu.Unlock()
	<-ch
}

// memTx buffers writes and applies them only when fn succeeds, before any
// held schedule locks are released.
type memTx struct {
	store   *MemStore
	held    []string
	pending []func()
}

func (m *MemStore) InTx(_ context.Context, fn func(tx scheduling.Tx) error) error {
	tx := &memTx{store: m}
	defer func() {
		for _, key := range tx.held {
			m.release(key)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	for _, apply := range tx.pending {
		apply()
	}
	m.mu.Unlock()
	return nil
}

func (t *memTx) holds(key string) bool {
	for _, h := range t.held {
		if h == key {
			return true
		}
	}
	return false
}

func (t *memTx) lock(ctx context.Context, key string) error {
	if t.holds(key) {
		return nil
	}
	if err := t.store.acquire(ctx, key); err != nil {
		return err
	}
	t.held = append(t.held, key)
	return nil
}

func (t *memTx) LockSchedule(ctx context.Context, doctorID uuid.UUID, date time.Time) error {
	return t.lock(ctx, lockKey(doctorID, date))
}

// GetAppointment takes the per-appointment lock before reading, matching
// the SELECT ... FOR UPDATE the Postgres store does, so concurrent
// transitions on the same appointment serialize.
func (t *memTx) GetAppointment(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error) {
	if err := t.lock(ctx, rowLockKey(id)); err != nil {
		return nil, err
	}
	return t.store.GetAppointment(ctx, id)
}

func (t *memTx) ListActiveAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]scheduling.Appointment, error) {
	return t.store.ListActiveAppointments(ctx, doctorID, date)
}

func (t *memTx) ListBlackouts(ctx context.Context, doctorID uuid.UUID, date *time.Time) ([]scheduling.BlackoutPeriod, error) {
	return t.store.ListBlackouts(ctx, doctorID, date)
}

func (t *memTx) InsertAppointment(_ context.Context, a *scheduling.Appointment) error {
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	saved := *a
	t.pending = append(t.pending, func() {
		t.store.appointments[saved.ID] = saved
	})
	return nil
}

func (t *memTx) UpdateAppointment(_ context.Context, a *scheduling.Appointment) error {
	a.UpdatedAt = time.Now()
	saved := *a
	t.pending = append(t.pending, func() {
		t.store.appointments[saved.ID] = saved
	})
	return nil
}

func (t *memTx) InsertVisit(_ context.Context, v *scheduling.Visit) error {
	if t.store.FailVisitInsert != nil {
		return t.store.FailVisitInsert
	}
	v.CreatedAt = time.Now()
	saved := *v
	t.pending = append(t.pending, func() {
		t.store.visits[saved.ID] = saved
	})
	return nil
}
