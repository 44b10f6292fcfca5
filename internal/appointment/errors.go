package appointment

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidRange     = errors.New("availability start must be before end")
	ErrOverlap          = errors.New("availability window overlaps an existing window")
	ErrSlotNotAvailable = errors.New("slot is not inside any availability window")
	ErrSlotTaken        = errors.New("slot already has an active appointment")
	ErrNotOwner         = errors.New("caller does not own this resource")
	ErrNotAuthorized    = errors.New("caller is not a party to this appointment")
	ErrTerminalState    = errors.New("appointment is cancelled")

	// ErrStoreUnavailable marks timeouts and outages of the backing store or lock
	// service. It is the only retryable error.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// IsRetryable reports whether the caller may retry the failed operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// unavailable wraps err as ErrStoreUnavailable while keeping its message.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

// storeError classifies an error returned by the store for operation op. Domain
// errors pass through; deadline expiry becomes ErrStoreUnavailable; caller
// cancellation is returned as is.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrStoreUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return unavailable(op, err)
	case errors.Is(err, context.Canceled):
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
