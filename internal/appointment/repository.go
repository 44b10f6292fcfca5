package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("not found")

	ErrPatientNotFound      = fmt.Errorf("patient %w", ErrNotFound)
	ErrPractitionerNotFound = fmt.Errorf("practitioner %w", ErrNotFound)
	ErrWindowNotFound       = fmt.Errorf("availability window %w", ErrNotFound)
	ErrAppointmentNotFound  = fmt.Errorf("appointment %w", ErrNotFound)

	// ErrStatusChanged is returned by TransitionAppointment when the stored status
	// no longer matches the expected one.
	ErrStatusChanged = errors.New("appointment status changed concurrently")

	// ErrIdempotentReplay is returned together with the original appointment when a
	// create carries an idempotency key the patient already used.
	ErrIdempotentReplay = errors.New("idempotent replay")
)

// NewAppointment is the precondition-checked create handed to the store.
type NewAppointment struct {
	Appointment Appointment
	WindowID    uuid.UUID
	Audit       AuditEntry
}

// Transition is a compare-and-set of an appointment's status. Message, when
// set, becomes the confirmation message of a confirm and the cancellation
// message of a cancel; the other message is left as it was.
type Transition struct {
	AppointmentID uuid.UUID
	From          AppointmentStatus
	To            AppointmentStatus
	Message       *string
	Audit         AuditEntry
}

// Repository is the authoritative backing store. Every method is atomic.
type Repository interface {
	// Directory
	CreatePatient(ctx context.Context, p Patient) (*Patient, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	CreatePractitioner(ctx context.Context, p Practitioner) (*Practitioner, error)
	UpdatePractitioner(ctx context.Context, p Practitioner) (*Practitioner, error)
	GetPractitionerByID(ctx context.Context, id uuid.UUID) (*Practitioner, error)
	ListPractitioners(ctx context.Context, specialty *Specialty) ([]Practitioner, error)

	// Availability. InsertWindow fails with ErrOverlap if w overlaps another
	// window of the same practitioner and date.
	InsertWindow(ctx context.Context, w AvailabilityWindow) (*AvailabilityWindow, error)
	GetWindowByID(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error)
	ListWindows(ctx context.Context, practitionerID uuid.UUID, date time.Time) ([]AvailabilityWindow, error)

	// RevokeWindow deletes the window and, in the same unit of work, applies
	// cancel to every Requested appointment of that practitioner and date whose
	// slot no longer lies inside a remaining window. It returns the cancelled and
	// the retained (Confirmed, now uncovered) appointments.
	RevokeWindow(ctx context.Context, windowID uuid.UUID, cancel func(a Appointment) Transition) (cancelled, retained []Appointment, err error)

	// Appointments. CreateAppointment checks idempotency, that the window still
	// exists (ErrSlotNotAvailable) and that no active appointment overlaps
	// [SlotStart, SlotStart+Duration) (ErrSlotTaken) before inserting the
	// appointment and its audit entry.
	CreateAppointment(ctx context.Context, in NewAppointment) (*Appointment, error)
	FindByIdempotencyKey(ctx context.Context, patientID uuid.UUID, key string) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetActiveAppointmentOverlapping returns an active appointment of the
	// practitioner on date that intersects [start, end), or ErrAppointmentNotFound.
	GetActiveAppointmentOverlapping(ctx context.Context, practitionerID uuid.UUID, date time.Time, start, end TimeOfDay) (*Appointment, error)
	TransitionAppointment(ctx context.Context, t Transition) (*Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, page Page) ([]Appointment, error)
	ListAppointmentsByPractitioner(ctx context.Context, practitionerID uuid.UUID, page Page) ([]Appointment, error)
	ListAppointmentsForDate(ctx context.Context, practitionerID uuid.UUID, date time.Time) ([]Appointment, error)

	// Expiry worker
	FindStaleRequested(ctx context.Context, before time.Time) ([]Appointment, error)

	// Audit trail
	ListAudit(ctx context.Context, appointmentID uuid.UUID) ([]AuditEntry, error)
}
