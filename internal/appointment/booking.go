package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const maxIdempotencyKeyLen = 128

// BookAppointment reserves a slot for a patient, creating a Requested
// appointment. Concurrent requests for the same slot are serialized by the slot
// lock and the store's conditional create, so exactly one of them wins and the
// others get ErrSlotTaken. A request repeating a patient's idempotency key
// returns the appointment created the first time.
func (s *Service) BookAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "booking.book_appointment")
	defer span.End()
	span.SetAttributes(
		attribute.String("practitioner_id", req.PractitionerID.String()),
		attribute.String("slot_start", req.SlotStart.String()),
	)

	appt, err := s.book(ctx, req)
	s.metrics.ObserveBooking(bookingOutcome(err))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return appt, nil
}

func (s *Service) book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	key := strings.TrimSpace(req.IdempotencyKey)
	if len(key) > maxIdempotencyKeyLen {
		return nil, fmt.Errorf("%w: idempotency key longer than %d", ErrInvalidInput, maxIdempotencyKeyLen)
	}
	if req.PatientID == uuid.Nil || req.PractitionerID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient and practitioner are required", ErrInvalidInput)
	}
	if !req.SlotStart.Valid() {
		return nil, fmt.Errorf("%w: slot start %d", ErrInvalidInput, req.SlotStart)
	}
	date := DateOf(req.Date)

	// A retry is answered from its first outcome, even when the slot or its
	// window has changed since.
	if key != "" {
		storeCtx, cancel := s.storeCtx(ctx)
		existing, err := s.repo.FindByIdempotencyKey(storeCtx, req.PatientID, key)
		cancel()
		if err == nil {
			s.log.Debug().Str("appointment_id", existing.ID.String()).Msg("booking replayed by idempotency key")
			return existing, nil
		}
		if !errors.Is(err, ErrAppointmentNotFound) {
			return nil, s.classify("find by idempotency key", err)
		}
	}

	storeCtx, cancel := s.storeCtx(ctx)
	patient, err := s.repo.GetPatientByID(storeCtx, req.PatientID)
	cancel()
	if err != nil {
		return nil, s.classify("load patient", err)
	}
	if _, err := s.loadPractitioner(ctx, req.PractitionerID); err != nil {
		return nil, err
	}

	windows, err := s.ListWindows(ctx, req.PractitionerID, date)
	if err != nil {
		return nil, err
	}
	window, ok := containingWindow(windows, req.SlotStart)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrSlotNotAvailable, FormatDate(date), req.SlotStart)
	}

	appt := Appointment{
		ID:             uuid.New(),
		PractitionerID: req.PractitionerID,
		PatientID:      patient.ID,
		PatientName:    patient.Name,
		Date:           date,
		SlotStart:      req.SlotStart,
		Duration:       window.Granularity,
		Status:         StatusRequested,
	}
	if key != "" {
		appt.IdempotencyKey = &key
	}

	var created *Appointment
	replay := false
	err = s.withLock(ctx, "slot", slotLockKey(appt.Key()), func(lockCtx context.Context) error {
		storeCtx, cancel := s.storeCtx(lockCtx)
		defer cancel()

		res, err := s.repo.CreateAppointment(storeCtx, NewAppointment{
			Appointment: appt,
			WindowID:    window.ID,
			Audit:       s.audit(appt.ID, patient.ID.String(), "", StatusRequested, "booked"),
		})
		if errors.Is(err, ErrIdempotentReplay) {
			created, replay = res, true
			return nil
		}
		if err != nil {
			return s.classify("create appointment", err)
		}
		created = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	if replay {
		s.log.Debug().Str("appointment_id", created.ID.String()).Msg("booking replayed by idempotency key")
		return created, nil
	}

	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("practitioner_id", created.PractitionerID.String()).
		Str("patient_id", created.PatientID.String()).
		Str("date", FormatDate(created.Date)).
		Str("slot", created.SlotStart.String()).
		Msg("appointment requested")
	s.publish(ctx, s.appointmentChange(EventAppointmentCreated, *created))
	return created, nil
}

func bookingOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrSlotTaken):
		return "slot_taken"
	case errors.Is(err, ErrSlotNotAvailable):
		return "slot_not_available"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	}
	return "error"
}
