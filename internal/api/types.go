package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-engine/internal/appointment"
)

type RegisterPractitionerRequest struct {
	Name      string `json:"name" validate:"required,max=200"`
	Specialty string `json:"specialty" validate:"required,max=100"`
}

type RegisterPatientRequest struct {
	Name  string  `json:"name" validate:"required,max=200"`
	Email *string `json:"email,omitempty" validate:"omitempty,email"`
}

type DeclareAvailabilityRequest struct {
	Date               string `json:"date" validate:"required,datetime=2006-01-02"`
	Start              string `json:"start" validate:"required"`
	End                string `json:"end" validate:"required"`
	GranularityMinutes int    `json:"granularity_minutes" validate:"omitempty,min=1,max=1440"`
}

type BookAppointmentRequest struct {
	PractitionerID string `json:"practitioner_id" validate:"required,uuid"`
	Date           string `json:"date" validate:"required,datetime=2006-01-02"`
	SlotStart      string `json:"slot_start" validate:"required"`
	IdempotencyKey string `json:"idempotency_key,omitempty" validate:"omitempty,max=128"`
}

type ConfirmRequest struct {
	Message string `json:"message,omitempty" validate:"max=500"`
}

type CancelRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

type PractitionerResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Specialty string    `json:"specialty"`
}

type PatientResponse struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email *string   `json:"email,omitempty"`
}

type WindowResponse struct {
	ID                 uuid.UUID `json:"id"`
	PractitionerID     uuid.UUID `json:"practitioner_id"`
	Date               string    `json:"date"`
	Start              string    `json:"start"`
	End                string    `json:"end"`
	GranularityMinutes int       `json:"granularity_minutes"`
}

type SlotResponse struct {
	Start     string    `json:"start"`
	End       string    `json:"end"`
	WindowID  uuid.UUID `json:"window_id"`
	Available bool      `json:"available"`
}

type SlotAvailabilityResponse struct {
	PractitionerID uuid.UUID `json:"practitioner_id"`
	Date           string    `json:"date"`
	SlotStart      string    `json:"slot_start"`
	Available      bool      `json:"available"`
}

type AppointmentResponse struct {
	ID                  uuid.UUID `json:"id"`
	PractitionerID      uuid.UUID `json:"practitioner_id"`
	PatientID           uuid.UUID `json:"patient_id"`
	PatientName         string    `json:"patient_name"`
	Date                string    `json:"date"`
	SlotStart           string    `json:"slot_start"`
	DurationMinutes     int       `json:"duration_minutes"`
	Status              string    `json:"status"`
	ConfirmationMessage *string   `json:"confirmation_message,omitempty"`
	CancellationMessage *string   `json:"cancellation_message,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

type RevokeResponse struct {
	Window    WindowResponse        `json:"window"`
	Cancelled []AppointmentResponse `json:"cancelled"`
	Retained  []AppointmentResponse `json:"retained"`
}

type AuditEntryResponse struct {
	At     time.Time `json:"at"`
	Actor  string    `json:"actor"`
	From   string    `json:"from,omitempty"`
	To     string    `json:"to"`
	Reason string    `json:"reason,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type ValidationErrorResponse struct {
	Error  string            `json:"error"`
	Fields []FieldValidation `json:"fields"`
}

type FieldValidation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func toPractitioner(p appointment.Practitioner) PractitionerResponse {
	return PractitionerResponse{ID: p.ID, Name: p.Name, Specialty: p.SpecialtyLabel()}
}

func toPatient(p appointment.Patient) PatientResponse {
	return PatientResponse{ID: p.ID, Name: p.Name, Email: p.Email}
}

func toWindow(w appointment.AvailabilityWindow) WindowResponse {
	return WindowResponse{
		ID:                 w.ID,
		PractitionerID:     w.PractitionerID,
		Date:               appointment.FormatDate(w.Date),
		Start:              w.Start.String(),
		End:                w.End.String(),
		GranularityMinutes: w.Granularity,
	}
}

func toAppointment(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                  a.ID,
		PractitionerID:      a.PractitionerID,
		PatientID:           a.PatientID,
		PatientName:         a.PatientName,
		Date:                appointment.FormatDate(a.Date),
		SlotStart:           a.SlotStart.String(),
		DurationMinutes:     a.Duration,
		Status:              string(a.Status),
		ConfirmationMessage: a.ConfirmationMessage,
		CancellationMessage: a.CancellationMessage,
		CreatedAt:           a.CreatedAt,
		UpdatedAt:           a.UpdatedAt,
	}
}

func toAppointments(list []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(list))
	for _, a := range list {
		out = append(out, toAppointment(a))
	}
	return out
}
