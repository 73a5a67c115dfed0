package scheduling

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// lockTimeoutCode is Postgres SQLSTATE 55P03 (lock_not_available), raised
// when lock_timeout expires while waiting on the advisory lock.
const lockTimeoutCode = "55P03"

type PgStore struct {
	pool     *pgxpool.Pool
	lockWait time.Duration
}

func NewPgStore(pool *pgxpool.Pool, lockWait time.Duration) *PgStore {
	if lockWait <= 0 {
		lockWait = 3 * time.Second
	}
	return &PgStore{pool: pool, lockWait: lockWait}
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so the scan-based
// reads below can run inside or outside a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Scan helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.Name, &d.Department, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanWindow(row pgx.Row) (*AvailabilityWindow, error) {
	var w AvailabilityWindow
	err := row.Scan(&w.ID, &w.DoctorID, &w.DayOfWeek, &w.StartMin, &w.EndMin, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWindowNotFound
		}
		return nil, err
	}
	return &w, nil
}

func scanBlackout(row pgx.Row) (*BlackoutPeriod, error) {
	var b BlackoutPeriod
	err := row.Scan(&b.ID, &b.DoctorID, &b.Date, &b.StartMin, &b.EndMin, &b.Reason, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBlackoutNotFound
		}
		return nil, err
	}
	return &b, nil
}

const appointmentColumns = `id, doctor_id, patient_id, guest_name, department, date, start_min, end_min, status, reason, location, cancel_reason, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.GuestName,
		&a.Department,
		&a.Date,
		&a.StartMin,
		&a.EndMin,
		&a.Status,
		&a.Reason,
		&a.Location,
		&a.CancelReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

// Directory lookups

func (s *PgStore) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, department, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (s *PgStore) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

// Availability windows

func (s *PgStore) ListWindows(ctx context.Context, doctorID uuid.UUID, dayOfWeek int) ([]AvailabilityWindow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, doctor_id, day_of_week, start_min, end_min, created_at
		FROM availability_windows
		WHERE doctor_id = $1 AND day_of_week = $2
		ORDER BY start_min
	`, doctorID, dayOfWeek)
	if err != nil {
		return nil, err
	}
	return collectWindows(rows)
}

func (s *PgStore) ListDoctorWindows(ctx context.Context, doctorID uuid.UUID) ([]AvailabilityWindow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, doctor_id, day_of_week, start_min, end_min, created_at
		FROM availability_windows
		WHERE doctor_id = $1
		ORDER BY day_of_week, start_min
	`, doctorID)
	if err != nil {
		return nil, err
	}
	return collectWindows(rows)
}

func collectWindows(rows pgx.Rows) ([]AvailabilityWindow, error) {
	defer rows.Close()

	var result []AvailabilityWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *w)
	}
	return result, rows.Err()
}

func (s *PgStore) CreateWindow(ctx context.Context, w AvailabilityWindow) (*AvailabilityWindow, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO availability_windows (id, doctor_id, day_of_week, start_min, end_min, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING id, doctor_id, day_of_week, start_min, end_min, created_at
	`, uuid.New(), w.DoctorID, w.DayOfWeek, w.StartMin, w.EndMin)
	return scanWindow(row)
}

func (s *PgStore) DeleteWindow(ctx context.Context, doctorID, windowID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM availability_windows
		WHERE id = $1 AND doctor_id = $2
	`, windowID, doctorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWindowNotFound
	}
	return nil
}

// Blackout periods

const blackoutColumns = `id, doctor_id, date, start_min, end_min, reason, created_at`

func listBlackouts(ctx context.Context, q querier, doctorID uuid.UUID, date *time.Time) ([]BlackoutPeriod, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if date != nil {
		rows, err = q.Query(ctx, `
			SELECT `+blackoutColumns+`
			FROM blackout_periods
			WHERE doctor_id = $1 AND date = $2
			ORDER BY start_min
		`, doctorID, *date)
	} else {
		rows, err = q.Query(ctx, `
			SELECT `+blackoutColumns+`
			FROM blackout_periods
			WHERE doctor_id = $1
			ORDER BY date, start_min
		`, doctorID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []BlackoutPeriod
	for rows.Next() {
		b, err := scanBlackout(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	return result, rows.Err()
}

func (s *PgStore) ListBlackouts(ctx context.Context, doctorID uuid.UUID, date *time.Time) ([]BlackoutPeriod, error) {
	return listBlackouts(ctx, s.pool, doctorID, date)
}

func (s *PgStore) CreateBlackout(ctx context.Context, b BlackoutPeriod) (*BlackoutPeriod, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO blackout_periods (id, doctor_id, date, start_min, end_min, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING `+blackoutColumns+`
	`, uuid.New(), b.DoctorID, b.Date, b.StartMin, b.EndMin, b.Reason)
	return scanBlackout(row)
}

func (s *PgStore) DeleteBlackout(ctx context.Context, doctorID, blackoutID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM blackout_periods
		WHERE id = $1 AND doctor_id = $2
	`, blackoutID, doctorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBlackoutNotFound
	}
	return nil
}

// Appointments

func (s *PgStore) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func listActiveAppointments(ctx context.Context, q querier, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1 AND date = $2 AND status <> 'cancelled'
		ORDER BY start_min
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (s *PgStore) ListActiveAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	return listActiveAppointments(ctx, s.pool, doctorID, date)
}

func (s *PgStore) ListAppointments(ctx context.Context, f ListFilter, limit int, cursorStr string) ([]Appointment, string, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE 1=1`
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.DoctorID != nil {
		query += ` AND doctor_id = ` + arg(*f.DoctorID)
	}
	if f.Status != nil {
		query += ` AND status = ` + arg(*f.Status)
	}
	if f.Date != nil {
		query += ` AND date = ` + arg(*f.Date)
	}
	if f.From != nil {
		query += ` AND date >= ` + arg(*f.From)
	}
	if f.To != nil {
		query += ` AND date <= ` + arg(*f.To)
	}

	if cursorStr != "" {
		cur, err := DecodeCursor(cursorStr)
		if err != nil {
			return nil, "", err
		}
		query += ` AND (date, start_min, id) > (` + arg(cur.Date) + `, ` + arg(cur.StartMin) + `, ` + arg(cur.ID) + `)`
	}

	query += ` ORDER BY date, start_min, id LIMIT ` + arg(limit+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", err
	}
	result, err := collectAppointments(rows)
	if err != nil {
		return nil, "", err
	}

	next := ""
	if len(result) > limit {
		result = result[:limit]
		next = EncodeCursor(result[limit-1])
	}
	return result, next, nil
}

// Transactions

type pgTx struct {
	tx       pgx.Tx
	lockWait time.Duration
}

func (s *PgStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx, lockWait: s.lockWait})
	})
}

// scheduleLockKey hashes (doctorID, date) into the advisory lock keyspace.
func scheduleLockKey(doctorID uuid.UUID, date time.Time) int64 {
	h := fnv.New64a()
	h.Write(doctorID[:])
	h.Write([]byte(date.Format(DateLayout)))
	return int64(h.Sum64())
}

// LockSchedule takes the transaction-scoped advisory lock for the doctor's
// day. The lock is released automatically at commit or rollback. Waiting is
// bounded by lock_timeout so a stuck holder cannot wedge all bookings.
func (t *pgTx) LockSchedule(ctx context.Context, doctorID uuid.UUID, date time.Time) error {
	if _, err := t.tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", t.lockWait.Milliseconds())); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}

	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, scheduleLockKey(doctorID, date))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == lockTimeoutCode {
			return ErrScheduleLocked
		}
		return fmt.Errorf("acquire schedule lock: %w", err)
	}
	return nil
}

// GetAppointment reads the row FOR UPDATE. Transition and edit decisions
// validate against this state, so concurrent transactions on the same
// appointment must serialize here; without the row lock two transitions
// could both see the pre-state and the later commit would resurrect a
// terminal appointment.
func (t *pgTx) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

func (t *pgTx) ListActiveAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	return listActiveAppointments(ctx, t.tx, doctorID, date)
}

func (t *pgTx) ListBlackouts(ctx context.Context, doctorID uuid.UUID, date *time.Time) ([]BlackoutPeriod, error) {
	return listBlackouts(ctx, t.tx, doctorID, date)
}

func (t *pgTx) InsertAppointment(ctx context.Context, a *Appointment) error {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		RETURNING `+appointmentColumns+`
	`, a.ID, a.DoctorID, a.PatientID, a.GuestName, a.Department, a.Date, a.StartMin, a.EndMin, a.Status, a.Reason, a.Location, a.CancelReason)

	saved, err := scanAppointment(row)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	*a = *saved
	return nil
}

func (t *pgTx) UpdateAppointment(ctx context.Context, a *Appointment) error {
	row := t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET doctor_id = $2,
		    patient_id = $3,
		    guest_name = $4,
		    department = $5,
		    date = $6,
		    start_min = $7,
		    end_min = $8,
		    status = $9,
		    reason = $10,
		    location = $11,
		    cancel_reason = $12,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, a.ID, a.DoctorID, a.PatientID, a.GuestName, a.Department, a.Date, a.StartMin, a.EndMin, a.Status, a.Reason, a.Location, a.CancelReason)

	saved, err := scanAppointment(row)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	*a = *saved
	return nil
}

func (t *pgTx) InsertVisit(ctx context.Context, v *Visit) error {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO visits (id, appointment_id, patient_id, doctor_id, visit_date, department, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING id, appointment_id, patient_id, doctor_id, visit_date, department, created_at
	`, v.ID, v.AppointmentID, v.PatientID, v.DoctorID, v.VisitDate, v.Department)

	var saved Visit
	err := row.Scan(&saved.ID, &saved.AppointmentID, &saved.PatientID, &saved.DoctorID, &saved.VisitDate, &saved.Department, &saved.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert visit: %w", err)
	}
	*v = saved
	return nil
}
