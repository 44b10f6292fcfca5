package appointment

import (
	"context"
	"errors"
	"fmt"
)

// ExpireStaleRequests is intended to be called by the worker periodically. It
// cancels Requested appointments whose slot has already started without the
// practitioner confirming them, and returns how many it cancelled.
func (s *Service) ExpireStaleRequests(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "expiry.expire_stale_requests")
	defer span.End()

	storeCtx, cancel := s.storeCtx(ctx)
	candidates, err := s.repo.FindStaleRequested(storeCtx, s.now().UTC())
	cancel()
	if err != nil {
		return 0, s.classify("find stale requests", err)
	}

	expired := 0
	var errs []error
	for _, appt := range candidates {
		changed := false
		_, err := s.transition(ctx, appt.ID, SystemActor, func(a Appointment) (decision, error) {
			// confirmed or cancelled since the scan: leave it alone
			if a.Status != StatusRequested {
				changed = false
				return decision{noop: true}, nil
			}
			changed = true
			return decision{
				to:      StatusCancelled,
				message: "Your appointment was cancelled: " + ReasonRequestExpired,
				reason:  ReasonRequestExpired,
				role:    SystemActor,
			}, nil
		})
		if err != nil {
			s.log.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to expire appointment")
			errs = append(errs, fmt.Errorf("expire %s: %w", appt.ID, err))
			continue
		}
		if changed {
			expired++
		}
	}
	return expired, errors.Join(errs...)
}
