package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// DeclareAvailability adds a bookable window for a practitioner. A zero
// granularity uses the configured default. Declarations for one practitioner and
// date are serialized; other practitioners are unaffected.
func (s *Service) DeclareAvailability(ctx context.Context, practitionerID uuid.UUID, date time.Time, start, end TimeOfDay, granularity int) (*AvailabilityWindow, error) {
	ctx, span := tracer.Start(ctx, "registry.declare_availability")
	defer span.End()
	span.SetAttributes(attribute.String("practitioner_id", practitionerID.String()))

	if granularity == 0 {
		granularity = s.cfg.GranularityMinutes()
	}
	if err := validateRange(start, end, granularity); err != nil {
		s.metrics.ObserveWindow("declare", "invalid_range")
		return nil, err
	}
	date = DateOf(date)

	if _, err := s.loadPractitioner(ctx, practitionerID); err != nil {
		return nil, err
	}

	w := AvailabilityWindow{
		ID:             uuid.New(),
		PractitionerID: practitionerID,
		Date:           date,
		Start:          start,
		End:            end,
		Granularity:    granularity,
	}

	var created *AvailabilityWindow
	err := s.withLock(ctx, "window", windowLockKey(practitionerID, date), func(lockCtx context.Context) error {
		storeCtx, cancel := s.storeCtx(lockCtx)
		defer cancel()

		existing, err := s.repo.ListWindows(storeCtx, practitionerID, date)
		if err != nil {
			return s.classify("list windows", err)
		}
		for _, other := range existing {
			if other.Overlaps(start, end) {
				return fmt.Errorf("%w: %s-%s", ErrOverlap, other.Start, other.End)
			}
		}

		created, err = s.repo.InsertWindow(storeCtx, w)
		if err != nil {
			return s.classify("insert window", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrOverlap) {
			s.metrics.ObserveWindow("declare", "overlap")
		}
		return nil, err
	}

	s.metrics.ObserveWindow("declare", "success")
	s.log.Info().
		Str("window_id", created.ID.String()).
		Str("practitioner_id", practitionerID.String()).
		Str("date", FormatDate(date)).
		Str("start", start.String()).
		Str("end", end.String()).
		Msg("availability declared")

	windowID := created.ID
	s.publish(ctx, Change{
		Type:           EventWindowDeclared,
		WindowID:       &windowID,
		PractitionerID: practitionerID,
		Date:           FormatDate(date),
		At:             s.now().UTC(),
	})
	return created, nil
}

func validateRange(start, end TimeOfDay, granularity int) error {
	if !start.Valid() || !end.Valid() || start >= end {
		return fmt.Errorf("%w: %s-%s", ErrInvalidRange, start, end)
	}
	if granularity <= 0 || granularity > int(end-start) {
		return fmt.Errorf("%w: granularity %dm does not fit %s-%s", ErrInvalidRange, granularity, start, end)
	}
	return nil
}

// ListWindows returns the practitioner's windows on date ordered by start time.
func (s *Service) ListWindows(ctx context.Context, practitionerID uuid.UUID, date time.Time) ([]AvailabilityWindow, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	windows, err := s.repo.ListWindows(storeCtx, practitionerID, DateOf(date))
	if err != nil {
		return nil, s.classify("list windows", err)
	}
	return windows, nil
}

// IsSlotAvailable is a read path answer; booking re-checks under the slot lock.
func (s *Service) IsSlotAvailable(ctx context.Context, practitionerID uuid.UUID, date time.Time, slotStart TimeOfDay) (bool, error) {
	date = DateOf(date)
	windows, err := s.ListWindows(ctx, practitionerID, date)
	if err != nil {
		return false, err
	}
	w, ok := containingWindow(windows, slotStart)
	if !ok {
		return false, nil
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	end := slotStart + TimeOfDay(w.Granularity)
	_, err = s.repo.GetActiveAppointmentOverlapping(storeCtx, practitionerID, date, slotStart, end)
	switch {
	case errors.Is(err, ErrAppointmentNotFound):
		return true, nil
	case err != nil:
		return false, s.classify("get active appointment", err)
	}
	return false, nil
}

// ListSlots enumerates every aligned slot of the practitioner's windows on date.
func (s *Service) ListSlots(ctx context.Context, practitionerID uuid.UUID, date time.Time) ([]Slot, error) {
	date = DateOf(date)
	windows, err := s.ListWindows(ctx, practitionerID, date)
	if err != nil {
		return nil, err
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	appts, err := s.repo.ListAppointmentsForDate(storeCtx, practitionerID, date)
	if err != nil {
		return nil, s.classify("list appointments for date", err)
	}

	var out []Slot
	for _, w := range windows {
		for _, start := range w.Slots() {
			end := start + TimeOfDay(w.Granularity)
			out = append(out, Slot{
				Start:     start,
				End:       end,
				WindowID:  w.ID,
				Available: !occupied(appts, start, end),
			})
		}
	}
	return out, nil
}

func occupied(appts []Appointment, start, end TimeOfDay) bool {
	for _, a := range appts {
		if a.Occupies(start, end) {
			return true
		}
	}
	return false
}

// RevokeWindow removes a window. Requested appointments left without covering
// availability are cancelled by the system; Confirmed ones are kept and reported
// in the result as retained commitments.
func (s *Service) RevokeWindow(ctx context.Context, windowID, practitionerID uuid.UUID) (*RevokeResult, error) {
	ctx, span := tracer.Start(ctx, "registry.revoke_window")
	defer span.End()
	span.SetAttributes(attribute.String("window_id", windowID.String()))

	storeCtx, cancel := s.storeCtx(ctx)
	w, err := s.repo.GetWindowByID(storeCtx, windowID)
	cancel()
	if err != nil {
		return nil, s.classify("get window", err)
	}
	if w.PractitionerID != practitionerID {
		s.metrics.ObserveWindow("revoke", "not_owner")
		return nil, ErrNotOwner
	}

	message := "Your appointment was cancelled: " + ReasonWindowRevoked
	result := &RevokeResult{Window: *w}
	err = s.withLock(ctx, "window", windowLockKey(w.PractitionerID, w.Date), func(lockCtx context.Context) error {
		storeCtx, cancel := s.storeCtx(lockCtx)
		defer cancel()

		cancelled, retained, err := s.repo.RevokeWindow(storeCtx, windowID, func(a Appointment) Transition {
			return Transition{
				AppointmentID: a.ID,
				From:          a.Status,
				To:            StatusCancelled,
				Message:       &message,
				Audit:         s.audit(a.ID, SystemActor, a.Status, StatusCancelled, ReasonWindowRevoked),
			}
		})
		if err != nil {
			return s.classify("revoke window", err)
		}
		result.Cancelled, result.Retained = cancelled, retained
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveWindow("revoke", "success")
	for _, a := range result.Cancelled {
		s.metrics.ObserveTransition(string(StatusRequested), string(StatusCancelled), SystemActor)
		s.publish(ctx, s.appointmentChange(EventAppointmentCancelled, a))
	}
	s.log.Info().
		Str("window_id", windowID.String()).
		Int("cancelled", len(result.Cancelled)).
		Int("retained", len(result.Retained)).
		Msg("availability revoked")

	s.publish(ctx, Change{
		Type:           EventWindowRevoked,
		WindowID:       &windowID,
		PractitionerID: w.PractitionerID,
		Date:           FormatDate(w.Date),
		At:             s.now().UTC(),
	})
	return result, nil
}

func containingWindow(windows []AvailabilityWindow, slotStart TimeOfDay) (AvailabilityWindow, bool) {
	for _, w := range windows {
		if w.Contains(slotStart) {
			return w, true
		}
	}
	return AvailabilityWindow{}, false
}

func (s *Service) loadPractitioner(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	p, err := s.repo.GetPractitionerByID(storeCtx, id)
	if err != nil {
		return nil, s.classify("load practitioner", err)
	}
	return p, nil
}
