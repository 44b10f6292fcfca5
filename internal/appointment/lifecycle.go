package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// maxTransitionAttempts bounds how often a transition is re-evaluated after
// losing a compare-and-set race.
const maxTransitionAttempts = 3

// decision is what a transition rule wants to do with the current appointment.
type decision struct {
	to      AppointmentStatus
	message string
	reason  string
	role    string // practitioner, patient or system
	noop    bool
}

type rule func(a Appointment) (decision, error)

// Confirm moves a Requested appointment to Confirmed. Only the practitioner the
// appointment was booked with may confirm. Confirming twice returns the already
// confirmed appointment without recording anything.
func (s *Service) Confirm(ctx context.Context, appointmentID, practitionerID uuid.UUID, message string) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.confirm")
	defer span.End()
	span.SetAttributes(attribute.String("appointment_id", appointmentID.String()))

	message = strings.TrimSpace(message)
	if message == "" {
		message = DefaultConfirmedMessage
	}

	return s.transition(ctx, appointmentID, practitionerID.String(), func(a Appointment) (decision, error) {
		if a.PractitionerID != practitionerID {
			return decision{}, ErrNotOwner
		}
		switch a.Status {
		case StatusConfirmed:
			return decision{noop: true}, nil
		case StatusCancelled:
			return decision{}, ErrTerminalState
		}
		return decision{to: StatusConfirmed, message: message, reason: "confirmed by practitioner", role: "practitioner"}, nil
	})
}

// Cancel moves a Requested or Confirmed appointment to Cancelled, which releases
// its slot. Either party of the appointment may cancel.
func (s *Service) Cancel(ctx context.Context, appointmentID, callerID uuid.UUID, reason string) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("appointment_id", appointmentID.String()))

	reason = strings.TrimSpace(reason)

	return s.transition(ctx, appointmentID, callerID.String(), func(a Appointment) (decision, error) {
		var role string
		switch callerID {
		case a.PractitionerID:
			role = "practitioner"
		case a.PatientID:
			role = "patient"
		default:
			return decision{}, ErrNotAuthorized
		}
		if a.Status == StatusCancelled {
			return decision{}, ErrTerminalState
		}
		r := reason
		if r == "" {
			r = "cancelled by " + role
		}
		return decision{to: StatusCancelled, message: DefaultCancelledMessage, reason: r, role: role}, nil
	})
}

// SystemCancel cancels an active appointment on behalf of the engine itself.
func (s *Service) SystemCancel(ctx context.Context, appointmentID uuid.UUID, reason string) (*Appointment, error) {
	return s.transition(ctx, appointmentID, SystemActor, func(a Appointment) (decision, error) {
		if a.Status == StatusCancelled {
			return decision{}, ErrTerminalState
		}
		return decision{to: StatusCancelled, message: "Your appointment was cancelled: " + reason, reason: reason, role: SystemActor}, nil
	})
}

// transition loads the appointment, applies the rule and writes the result as a
// compare-and-set on the loaded status. A lost race re-reads and re-evaluates
// the rule against the fresh state instead of overwriting it.
func (s *Service) transition(ctx context.Context, id uuid.UUID, actor string, apply rule) (*Appointment, error) {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		storeCtx, cancel := s.storeCtx(ctx)
		current, err := s.repo.GetAppointmentByID(storeCtx, id)
		cancel()
		if err != nil {
			return nil, s.classify("load appointment", err)
		}

		d, err := apply(*current)
		if err != nil {
			return nil, err
		}
		if d.noop {
			return current, nil
		}

		msg := d.message
		storeCtx, cancel = s.storeCtx(ctx)
		updated, err := s.repo.TransitionAppointment(storeCtx, Transition{
			AppointmentID: id,
			From:          current.Status,
			To:            d.to,
			Message:       &msg,
			Audit:         s.audit(id, actor, current.Status, d.to, d.reason),
		})
		cancel()
		if errors.Is(err, ErrStatusChanged) {
			s.log.Debug().Str("appointment_id", id.String()).Int("attempt", attempt+1).Msg("transition raced, re-evaluating")
			continue
		}
		if err != nil {
			return nil, s.classify("transition appointment", err)
		}

		s.metrics.ObserveTransition(string(current.Status), string(d.to), d.role)
		s.log.Info().
			Str("appointment_id", id.String()).
			Str("actor", actor).
			Str("from", string(current.Status)).
			Str("to", string(d.to)).
			Msg("appointment transitioned")

		event := EventAppointmentCancelled
		if d.to == StatusConfirmed {
			event = EventAppointmentConfirmed
		}
		s.publish(ctx, s.appointmentChange(event, *updated))
		return updated, nil
	}
	return nil, unavailable("transition appointment", fmt.Errorf("status of %s kept changing", id))
}

// GetAppointment returns an appointment to one of its parties.
func (s *Service) GetAppointment(ctx context.Context, appointmentID, callerID uuid.UUID) (*Appointment, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	a, err := s.repo.GetAppointmentByID(storeCtx, appointmentID)
	if err != nil {
		return nil, s.classify("get appointment", err)
	}
	if callerID != a.PatientID && callerID != a.PractitionerID {
		return nil, ErrNotAuthorized
	}
	return a, nil
}

// History returns the append-only audit trail of an appointment.
func (s *Service) History(ctx context.Context, appointmentID, callerID uuid.UUID) ([]AuditEntry, error) {
	if _, err := s.GetAppointment(ctx, appointmentID, callerID); err != nil {
		return nil, err
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	entries, err := s.repo.ListAudit(storeCtx, appointmentID)
	if err != nil {
		return nil, s.classify("list audit", err)
	}
	return entries, nil
}
