package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var appointmentCols = []string{
	"id", "practitioner_id", "patient_id", "patient_name", "date", "slot_start", "duration", "status",
	"confirmation_message", "cancellation_message", "idempotency_key", "seq", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PgRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPgRepository(mock)
}

func appointmentRows(list ...Appointment) *pgxmock.Rows {
	rows := pgxmock.NewRows(appointmentCols)
	for _, a := range list {
		rows.AddRow(a.ID, a.PractitionerID, a.PatientID, a.PatientName, a.Date, int(a.SlotStart), a.Duration,
			string(a.Status), a.ConfirmationMessage, a.CancellationMessage, a.IdempotencyKey, a.Seq, a.CreatedAt, a.UpdatedAt)
	}
	return rows
}

func sampleAppointment(status AppointmentStatus) Appointment {
	now := time.Now().UTC()
	return Appointment{
		ID:             uuid.New(),
		PractitionerID: uuid.New(),
		PatientID:      uuid.New(),
		PatientName:    "Alice",
		Date:           testDate,
		SlotStart:      MustTimeOfDay("09:00"),
		Duration:       30,
		Status:         status,
		Seq:            1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestPgRepository_GetPatientByID(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("FROM patients WHERE id").WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "email", "created_at", "updated_at"}).AddRow(id, "Alice", nil, now, now))
	p, err := repo.GetPatientByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Alice", p.Name)
	assert.Nil(t, p.Email)

	mock.ExpectQuery("FROM patients WHERE id").WithArgs(id).WillReturnError(pgx.ErrNoRows)
	_, err = repo.GetPatientByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrPatientNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_GetPractitionerParsesSpecialty(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("FROM practitioners WHERE id").WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "specialty", "custom_specialty", "created_at", "updated_at"}).
			AddRow(id, "Dr. D", "Dermatologist", "", now, now))

	p, err := repo.GetPractitionerByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, SpecialtyDermatologist, p.Specialty)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_InsertWindowOverlap(t *testing.T) {
	mock, repo := newMockRepo(t)
	w := AvailabilityWindow{ID: uuid.New(), PractitionerID: uuid.New(), Date: testDate, Start: 540, End: 600, Granularity: 30}

	mock.ExpectQuery("INSERT INTO availability_windows").
		WithArgs(w.ID, w.PractitionerID, w.Date, 540, 600, 30).
		WillReturnError(&pgconn.PgError{Code: "23P01", ConstraintName: "availability_windows_no_overlap"})

	_, err := repo.InsertWindow(context.Background(), w)
	assert.ErrorIs(t, err, ErrOverlap)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_CreateAppointment(t *testing.T) {
	mock, repo := newMockRepo(t)
	key := "req-1"
	a := sampleAppointment(StatusRequested)
	a.IdempotencyKey = &key
	windowID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("idempotency_key = \\$2").WithArgs(a.PatientID, key).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT 1 FROM availability_windows").WithArgs(windowID).
		WillReturnRows(pgxmock.NewRows([]string{"one"}).AddRow(1))
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(a.ID, a.PractitionerID, a.PatientID, "Alice", testDate, 540, 30, "requested", a.ConfirmationMessage, a.IdempotencyKey).
		WillReturnRows(appointmentRows(a))
	mock.ExpectExec("INSERT INTO appointment_audit").
		WithArgs(a.ID, pgxmock.AnyArg(), a.PatientID.String(), pgxmock.AnyArg(), "requested", "booked").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	created, err := repo.CreateAppointment(context.Background(), NewAppointment{
		Appointment: a,
		WindowID:    windowID,
		Audit:       AuditEntry{AppointmentID: a.ID, Actor: a.PatientID.String(), To: StatusRequested, Reason: "booked"},
	})
	require.NoError(t, err)
	assert.Equal(t, a.ID, created.ID)
	assert.Equal(t, MustTimeOfDay("09:00"), created.SlotStart)
	assert.Equal(t, StatusRequested, created.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_CreateAppointmentSlotTaken(t *testing.T) {
	mock, repo := newMockRepo(t)
	a := sampleAppointment(StatusRequested)
	windowID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM availability_windows").WithArgs(windowID).
		WillReturnRows(pgxmock.NewRows([]string{"one"}).AddRow(1))
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(insertArgs(a)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "appointments_active_slot_uniq"})
	mock.ExpectRollback()

	_, err := repo.CreateAppointment(context.Background(), NewAppointment{Appointment: a, WindowID: windowID})
	assert.ErrorIs(t, err, ErrSlotTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_CreateAppointmentOverlapsActive(t *testing.T) {
	mock, repo := newMockRepo(t)
	a := sampleAppointment(StatusRequested)
	a.SlotStart = MustTimeOfDay("09:30")
	windowID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM availability_windows").WithArgs(windowID).
		WillReturnRows(pgxmock.NewRows([]string{"one"}).AddRow(1))
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(insertArgs(a)...).
		WillReturnError(&pgconn.PgError{Code: "23P01", ConstraintName: "appointments_active_no_overlap"})
	mock.ExpectRollback()

	_, err := repo.CreateAppointment(context.Background(), NewAppointment{Appointment: a, WindowID: windowID})
	assert.ErrorIs(t, err, ErrSlotTaken)
	assert.NotErrorIs(t, err, ErrOverlap)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_GetActiveAppointmentOverlapping(t *testing.T) {
	mock, repo := newMockRepo(t)
	a := sampleAppointment(StatusConfirmed)
	a.Duration = 60

	mock.ExpectQuery("slot_start \\+ duration > \\$3").
		WithArgs(a.PractitionerID, testDate, 570, 600).
		WillReturnRows(appointmentRows(a))
	got, err := repo.GetActiveAppointmentOverlapping(context.Background(), a.PractitionerID, testDate, MustTimeOfDay("09:30"), MustTimeOfDay("10:00"))
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	mock.ExpectQuery("slot_start \\+ duration > \\$3").
		WithArgs(a.PractitionerID, testDate, 600, 630).
		WillReturnError(pgx.ErrNoRows)
	_, err = repo.GetActiveAppointmentOverlapping(context.Background(), a.PractitionerID, testDate, MustTimeOfDay("10:00"), MustTimeOfDay("10:30"))
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_FindByIdempotencyKey(t *testing.T) {
	mock, repo := newMockRepo(t)
	key := "req-7"
	a := sampleAppointment(StatusCancelled)
	a.IdempotencyKey = &key

	mock.ExpectQuery("idempotency_key = \\$2").WithArgs(a.PatientID, key).WillReturnRows(appointmentRows(a))
	got, err := repo.FindByIdempotencyKey(context.Background(), a.PatientID, key)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	mock.ExpectQuery("idempotency_key = \\$2").WithArgs(a.PatientID, "other").WillReturnError(pgx.ErrNoRows)
	_, err = repo.FindByIdempotencyKey(context.Background(), a.PatientID, "other")
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func insertArgs(a Appointment) []any {
	return []any{a.ID, a.PractitionerID, a.PatientID, a.PatientName, a.Date, int(a.SlotStart), a.Duration,
		string(a.Status), a.ConfirmationMessage, a.IdempotencyKey}
}

func TestPgRepository_CreateAppointmentWindowGone(t *testing.T) {
	mock, repo := newMockRepo(t)
	a := sampleAppointment(StatusRequested)
	windowID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM availability_windows").WithArgs(windowID).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.CreateAppointment(context.Background(), NewAppointment{Appointment: a, WindowID: windowID})
	assert.ErrorIs(t, err, ErrSlotNotAvailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_CreateAppointmentReplay(t *testing.T) {
	mock, repo := newMockRepo(t)
	key := "req-1"
	existing := sampleAppointment(StatusConfirmed)
	existing.IdempotencyKey = &key

	retry := sampleAppointment(StatusRequested)
	retry.PatientID = existing.PatientID
	retry.IdempotencyKey = &key

	mock.ExpectBegin()
	mock.ExpectQuery("idempotency_key = \\$2").WithArgs(existing.PatientID, key).WillReturnRows(appointmentRows(existing))
	mock.ExpectRollback()

	got, err := repo.CreateAppointment(context.Background(), NewAppointment{Appointment: retry, WindowID: uuid.New()})
	assert.ErrorIs(t, err, ErrIdempotentReplay)
	require.NotNil(t, got)
	assert.Equal(t, existing.ID, got.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_TransitionLostRace(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()
	msg := "confirmed"

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(id, "confirmed", "requested", pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT EXISTS").WithArgs(id).WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := repo.TransitionAppointment(context.Background(), Transition{
		AppointmentID: id, From: StatusRequested, To: StatusConfirmed, Message: &msg,
	})
	assert.ErrorIs(t, err, ErrStatusChanged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_TransitionUnknown(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(id, "cancelled", "requested", pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT EXISTS").WithArgs(id).WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := repo.TransitionAppointment(context.Background(), Transition{AppointmentID: id, From: StatusRequested, To: StatusCancelled})
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_Transition(t *testing.T) {
	mock, repo := newMockRepo(t)
	a := sampleAppointment(StatusCancelled)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(a.ID, "cancelled", "requested", pgxmock.AnyArg()).
		WillReturnRows(appointmentRows(a))
	mock.ExpectExec("INSERT INTO appointment_audit").
		WithArgs(a.ID, pgxmock.AnyArg(), "system", pgxmock.AnyArg(), "cancelled", "expired").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	got, err := repo.TransitionAppointment(context.Background(), Transition{
		AppointmentID: a.ID,
		From:          StatusRequested,
		To:            StatusCancelled,
		Audit:         AuditEntry{AppointmentID: a.ID, At: time.Now(), Actor: SystemActor, From: StatusRequested, To: StatusCancelled, Reason: "expired"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_RevokeWindow(t *testing.T) {
	mock, repo := newMockRepo(t)
	windowID := uuid.New()
	confirmed := sampleAppointment(StatusConfirmed)
	requested := sampleAppointment(StatusRequested)
	requested.PractitionerID = confirmed.PractitionerID
	requested.SlotStart = MustTimeOfDay("09:30")
	requested.Seq = 2
	cancelled := requested
	cancelled.Status = StatusCancelled

	mock.ExpectBegin()
	mock.ExpectQuery("DELETE FROM availability_windows").WithArgs(windowID).
		WillReturnRows(pgxmock.NewRows([]string{"practitioner_id", "date"}).AddRow(confirmed.PractitionerID, testDate))
	mock.ExpectQuery("ORDER BY start_minute").WithArgs(confirmed.PractitionerID, testDate).
		WillReturnRows(pgxmock.NewRows([]string{"id", "practitioner_id", "date", "start_minute", "end_minute", "granularity", "created_at"}))
	mock.ExpectQuery("FOR UPDATE").WithArgs(confirmed.PractitionerID, testDate).
		WillReturnRows(appointmentRows(confirmed, requested))
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(requested.ID, "cancelled", "requested", pgxmock.AnyArg()).
		WillReturnRows(appointmentRows(cancelled))
	mock.ExpectExec("INSERT INTO appointment_audit").
		WithArgs(requested.ID, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "cancelled", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	gotCancelled, gotRetained, err := repo.RevokeWindow(context.Background(), windowID, func(a Appointment) Transition {
		return Transition{AppointmentID: a.ID, From: a.Status, To: StatusCancelled, Audit: AuditEntry{AppointmentID: a.ID, To: StatusCancelled}}
	})
	require.NoError(t, err)
	require.Len(t, gotCancelled, 1)
	assert.Equal(t, requested.ID, gotCancelled[0].ID)
	require.Len(t, gotRetained, 1)
	assert.Equal(t, confirmed.ID, gotRetained[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_RevokeUnknownWindow(t *testing.T) {
	mock, repo := newMockRepo(t)

	windowID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("DELETE FROM availability_windows").WithArgs(windowID).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, _, err := repo.RevokeWindow(context.Background(), windowID, nil)
	assert.ErrorIs(t, err, ErrWindowNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_ListByPatientUnbounded(t *testing.T) {
	mock, repo := newMockRepo(t)
	a := sampleAppointment(StatusRequested)

	mock.ExpectQuery("WHERE patient_id = \\$1").WithArgs(a.PatientID, pgxmock.AnyArg(), 0).WillReturnRows(appointmentRows(a))

	got, err := repo.ListAppointmentsByPatient(context.Background(), a.PatientID, Page{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_TimeoutIsUnavailable(t *testing.T) {
	mock, repo := newMockRepo(t)

	id := uuid.New()

	mock.ExpectQuery("FROM appointments WHERE id").WithArgs(id).WillReturnError(context.DeadlineExceeded)

	_, err := repo.GetAppointmentByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}
