package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation     = "23505"
	pgExclusionViolation  = "23P01"
	pgForeignKeyViolation = "23503"

	constraintActiveSlot    = "appointments_active_slot_uniq"
	constraintActiveOverlap = "appointments_active_no_overlap"
	constraintIdempotency   = "appointments_idempotency_uniq"
)

// DBTX is the subset of *pgxpool.Pool the repository needs.
type DBTX interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool DBTX
}

func NewPgRepository(pool DBTX) *PgRepository {
	return &PgRepository{pool: pool}
}

const (
	patientColumns      = `id, name, email, created_at, updated_at`
	practitionerColumns = `id, name, specialty, custom_specialty, created_at, updated_at`
	windowColumns       = `id, practitioner_id, date, start_minute, end_minute, granularity, created_at`
	appointmentColumns  = `id, practitioner_id, patient_id, patient_name, date, slot_start, duration, status,
		confirmation_message, cancellation_message, idempotency_key, seq, created_at, updated_at`
)

// Helpers

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

func scanPractitioner(row pgx.Row) (*Practitioner, error) {
	var p Practitioner
	var specialty string

	err := row.Scan(&p.ID, &p.Name, &specialty, &p.CustomSpecialty, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPractitionerNotFound
		}
		return nil, err
	}

	p.Specialty, _ = ParseSpecialty(specialty)
	return &p, nil
}

func scanWindow(row pgx.Row) (*AvailabilityWindow, error) {
	var w AvailabilityWindow
	var start, end int

	err := row.Scan(&w.ID, &w.PractitionerID, &w.Date, &start, &end, &w.Granularity, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWindowNotFound
		}
		return nil, err
	}

	w.Date = DateOf(w.Date)
	w.Start, w.End = TimeOfDay(start), TimeOfDay(end)
	return &w, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var slotStart int
	var status string

	err := row.Scan(
		&a.ID,
		&a.PractitionerID,
		&a.PatientID,
		&a.PatientName,
		&a.Date,
		&slotStart,
		&a.Duration,
		&status,
		&a.ConfirmationMessage,
		&a.CancellationMessage,
		&a.IdempotencyKey,
		&a.Seq,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = DateOf(a.Date)
	a.SlotStart = TimeOfDay(slotStart)
	a.Status = AppointmentStatus(status)
	return &a, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// pgError maps driver failures onto the package's errors. Constraint violations
// become domain errors; timeouts and broken connections become
// ErrStoreUnavailable.
func pgError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgExclusionViolation:
			if pgErr.ConstraintName == constraintActiveOverlap {
				return ErrSlotTaken
			}
			return ErrOverlap
		case pgUniqueViolation:
			if pgErr.ConstraintName == constraintActiveSlot {
				return ErrSlotTaken
			}
		case pgForeignKeyViolation:
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var connErr *pgconn.ConnectError
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) || errors.As(err, &connErr) {
		return unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConstraint(err error, name string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == name
}

// limitArg turns a zero limit into NULL, which Postgres reads as LIMIT ALL.
func limitArg(p Page) *int {
	if p.Limit <= 0 {
		return nil
	}
	l := p.Limit
	return &l
}

// Directory

func (r *PgRepository) CreatePatient(ctx context.Context, p Patient) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO patients (id, name, email, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, updated_at = now()
		RETURNING `+patientColumns, p.ID, p.Name, p.Email)
	out, err := scanPatient(row)
	if err != nil {
		return nil, pgError("insert patient", err)
	}
	return out, nil
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id)
	p, err := scanPatient(row)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, pgError("get patient", err)
	}
	return p, nil
}

func (r *PgRepository) CreatePractitioner(ctx context.Context, p Practitioner) (*Practitioner, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO practitioners (id, name, specialty, custom_specialty, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name, specialty = EXCLUDED.specialty,
			    custom_specialty = EXCLUDED.custom_specialty, updated_at = now()
		RETURNING `+practitionerColumns, p.ID, p.Name, p.Specialty.String(), p.CustomSpecialty)
	out, err := scanPractitioner(row)
	if err != nil {
		return nil, pgError("insert practitioner", err)
	}
	return out, nil
}

func (r *PgRepository) UpdatePractitioner(ctx context.Context, p Practitioner) (*Practitioner, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE practitioners
		SET name = $2, specialty = $3, custom_specialty = $4, updated_at = now()
		WHERE id = $1
		RETURNING `+practitionerColumns, p.ID, p.Name, p.Specialty.String(), p.CustomSpecialty)
	out, err := scanPractitioner(row)
	if err != nil {
		if errors.Is(err, ErrPractitionerNotFound) {
			return nil, err
		}
		return nil, pgError("update practitioner", err)
	}
	return out, nil
}

func (r *PgRepository) GetPractitionerByID(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+practitionerColumns+` FROM practitioners WHERE id = $1`, id)
	p, err := scanPractitioner(row)
	if err != nil {
		if errors.Is(err, ErrPractitionerNotFound) {
			return nil, err
		}
		return nil, pgError("get practitioner", err)
	}
	return p, nil
}

func (r *PgRepository) ListPractitioners(ctx context.Context, specialty *Specialty) ([]Practitioner, error) {
	var filter *string
	if specialty != nil {
		name := specialty.String()
		filter = &name
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+practitionerColumns+`
		FROM practitioners
		WHERE $1::text IS NULL OR specialty = $1
		ORDER BY name, id
	`, filter)
	if err != nil {
		return nil, pgError("list practitioners", err)
	}
	out, err := collect(rows, scanPractitioner)
	if err != nil {
		return nil, pgError("list practitioners", err)
	}
	return out, nil
}

// Availability

func (r *PgRepository) InsertWindow(ctx context.Context, w AvailabilityWindow) (*AvailabilityWindow, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO availability_windows (id, practitioner_id, date, start_minute, end_minute, granularity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING `+windowColumns, w.ID, w.PractitionerID, w.Date, int(w.Start), int(w.End), w.Granularity)
	out, err := scanWindow(row)
	if err != nil {
		return nil, pgError("insert window", err)
	}
	return out, nil
}

func (r *PgRepository) GetWindowByID(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+windowColumns+` FROM availability_windows WHERE id = $1`, id)
	w, err := scanWindow(row)
	if err != nil {
		if errors.Is(err, ErrWindowNotFound) {
			return nil, err
		}
		return nil, pgError("get window", err)
	}
	return w, nil
}

func (r *PgRepository) ListWindows(ctx context.Context, practitionerID uuid.UUID, date time.Time) ([]AvailabilityWindow, error) {
	return listWindows(ctx, r.pool, practitionerID, date)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listWindows(ctx context.Context, q querier, practitionerID uuid.UUID, date time.Time) ([]AvailabilityWindow, error) {
	rows, err := q.Query(ctx, `
		SELECT `+windowColumns+`
		FROM availability_windows
		WHERE practitioner_id = $1 AND date = $2
		ORDER BY start_minute
	`, practitionerID, date)
	if err != nil {
		return nil, pgError("list windows", err)
	}
	out, err := collect(rows, scanWindow)
	if err != nil {
		return nil, pgError("list windows", err)
	}
	return out, nil
}

func (r *PgRepository) RevokeWindow(ctx context.Context, windowID uuid.UUID, cancel func(a Appointment) Transition) ([]Appointment, []Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, pgError("begin revoke", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck

	var practitionerID uuid.UUID
	var date time.Time
	err = tx.QueryRow(ctx, `
		DELETE FROM availability_windows WHERE id = $1
		RETURNING practitioner_id, date
	`, windowID).Scan(&practitionerID, &date)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrWindowNotFound
	}
	if err != nil {
		return nil, nil, pgError("delete window", err)
	}
	date = DateOf(date)

	remaining, err := listWindows(ctx, tx, practitionerID, date)
	if err != nil {
		return nil, nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1 AND date = $2 AND status IN ('requested', 'confirmed')
		ORDER BY slot_start, seq
		FOR UPDATE
	`, practitionerID, date)
	if err != nil {
		return nil, nil, pgError("lock appointments", err)
	}
	active, err := collect(rows, scanAppointment)
	if err != nil {
		return nil, nil, pgError("lock appointments", err)
	}

	var cancelled, retained []Appointment
	for _, a := range active {
		if covered(remaining, a) {
			continue
		}
		if a.Status == StatusConfirmed {
			retained = append(retained, a)
			continue
		}
		updated, err := transitionTx(ctx, tx, cancel(a))
		if err != nil {
			return nil, nil, err
		}
		cancelled = append(cancelled, *updated)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, pgError("commit revoke", err)
	}
	return cancelled, retained, nil
}

// Appointments

func (r *PgRepository) CreateAppointment(ctx context.Context, in NewAppointment) (*Appointment, error) {
	a := in.Appointment

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, pgError("begin create appointment", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck

	if a.IdempotencyKey != nil {
		existing, err := r.findByIdempotencyKey(ctx, tx, a.PatientID, *a.IdempotencyKey)
		if err == nil {
			return existing, ErrIdempotentReplay
		}
		if !errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
	}

	// The share lock makes a concurrent revoke of this window wait for us, or
	// makes us see that it is gone.
	var one int
	err = tx.QueryRow(ctx, `SELECT 1 FROM availability_windows WHERE id = $1 FOR SHARE`, in.WindowID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSlotNotAvailable
	}
	if err != nil {
		return nil, pgError("lock window", err)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, practitioner_id, patient_id, patient_name, date, slot_start, duration,
			status, confirmation_message, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.PractitionerID, a.PatientID, a.PatientName, a.Date, int(a.SlotStart), a.Duration,
		string(a.Status), a.ConfirmationMessage, a.IdempotencyKey)
	created, err := scanAppointment(row)
	if err != nil {
		if a.IdempotencyKey != nil && isConstraint(err, constraintIdempotency) {
			// lost a race against a retry carrying the same key
			existing, findErr := r.findByIdempotencyKey(ctx, r.pool, a.PatientID, *a.IdempotencyKey)
			if findErr != nil {
				return nil, findErr
			}
			return existing, ErrIdempotentReplay
		}
		return nil, pgError("insert appointment", err)
	}

	if err := insertAudit(ctx, tx, in.Audit); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, pgError("commit create appointment", err)
	}
	return created, nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *PgRepository) FindByIdempotencyKey(ctx context.Context, patientID uuid.UUID, key string) (*Appointment, error) {
	return r.findByIdempotencyKey(ctx, r.pool, patientID, key)
}

func (r *PgRepository) findByIdempotencyKey(ctx context.Context, q rowQuerier, patientID uuid.UUID, key string) (*Appointment, error) {
	row := q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1 AND idempotency_key = $2
	`, patientID, key)
	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, pgError("find by idempotency key", err)
	}
	return a, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, pgError("get appointment", err)
	}
	return a, nil
}

func (r *PgRepository) GetActiveAppointmentOverlapping(ctx context.Context, practitionerID uuid.UUID, date time.Time, start, end TimeOfDay) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1 AND date = $2
		  AND slot_start < $4 AND slot_start + duration > $3
		  AND status IN ('requested', 'confirmed')
		ORDER BY slot_start
		LIMIT 1
	`, practitionerID, date, int(start), int(end))
	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, pgError("get active appointment", err)
	}
	return a, nil
}

func (r *PgRepository) TransitionAppointment(ctx context.Context, t Transition) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, pgError("begin transition", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck

	updated, err := transitionTx(ctx, tx, t)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, pgError("commit transition", err)
	}
	return updated, nil
}

// transitionTx is the compare-and-set on status plus its audit entry.
func transitionTx(ctx context.Context, tx pgx.Tx, t Transition) (*Appointment, error) {
	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    confirmation_message = CASE WHEN $2 = 'confirmed' THEN COALESCE($4, confirmation_message) ELSE confirmation_message END,
		    cancellation_message = CASE WHEN $2 = 'cancelled' THEN COALESCE($4, cancellation_message) ELSE cancellation_message END,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns, t.AppointmentID, string(t.To), string(t.From), t.Message)
	updated, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, t.AppointmentID).Scan(&exists); err != nil {
			return nil, pgError("check appointment", err)
		}
		if exists {
			return nil, ErrStatusChanged
		}
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, pgError("update appointment status", err)
	}

	if err := insertAudit(ctx, tx, t.Audit); err != nil {
		return nil, err
	}
	return updated, nil
}

func insertAudit(ctx context.Context, tx pgx.Tx, e AuditEntry) error {
	var from *string
	if e.From != "" {
		f := string(e.From)
		from = &f
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO appointment_audit (appointment_id, at, actor, from_status, to_status, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.AppointmentID, e.At, e.Actor, from, string(e.To), e.Reason)
	if err != nil {
		return pgError("insert audit entry", err)
	}
	return nil
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, page Page) ([]Appointment, error) {
	return r.listAppointments(ctx, "list by patient", `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY date, slot_start, seq
		LIMIT $2 OFFSET $3
	`, patientID, limitArg(page), page.Offset)
}

func (r *PgRepository) ListAppointmentsByPractitioner(ctx context.Context, practitionerID uuid.UUID, page Page) ([]Appointment, error) {
	return r.listAppointments(ctx, "list by practitioner", `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1
		ORDER BY date, slot_start, seq
		LIMIT $2 OFFSET $3
	`, practitionerID, limitArg(page), page.Offset)
}

func (r *PgRepository) ListAppointmentsForDate(ctx context.Context, practitionerID uuid.UUID, date time.Time) ([]Appointment, error) {
	return r.listAppointments(ctx, "list for date", `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1 AND date = $2
		ORDER BY slot_start, seq
	`, practitionerID, date)
}

func (r *PgRepository) FindStaleRequested(ctx context.Context, before time.Time) ([]Appointment, error) {
	return r.listAppointments(ctx, "find stale requested", `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'requested'
		  AND date::timestamp + slot_start * interval '1 minute' < $1::timestamp
		ORDER BY date, slot_start, seq
	`, before.UTC())
}

func (r *PgRepository) listAppointments(ctx context.Context, op, sql string, args ...any) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, pgError(op, err)
	}
	out, err := collect(rows, scanAppointment)
	if err != nil {
		return nil, pgError(op, err)
	}
	return out, nil
}

func (r *PgRepository) ListAudit(ctx context.Context, appointmentID uuid.UUID) ([]AuditEntry, error) {
	if _, err := r.GetAppointmentByID(ctx, appointmentID); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, at, actor, from_status, to_status, reason
		FROM appointment_audit
		WHERE appointment_id = $1
		ORDER BY id
	`, appointmentID)
	if err != nil {
		return nil, pgError("list audit", err)
	}
	out, err := collect(rows, func(row pgx.Row) (*AuditEntry, error) {
		var e AuditEntry
		var from *string
		var to string
		if err := row.Scan(&e.ID, &e.AppointmentID, &e.At, &e.Actor, &from, &to, &e.Reason); err != nil {
			return nil, err
		}
		if from != nil {
			e.From = AppointmentStatus(*from)
		}
		e.To = AppointmentStatus(to)
		return &e, nil
	})
	if err != nil {
		return nil, pgError("list audit", err)
	}
	return out, nil
}
