package domain

import (
	"errors"
	"fmt"
)

var (
	ErrBookingNotFound = errors.New("booking not found")
	// ErrVersionConflict signals a concurrent transition won the
	// conditional update. Callers refetch and retry or surface a
	// conflict; they never overwrite.
	ErrVersionConflict = errors.New("booking was modified concurrently")
	// ErrInvalidState is the confirmation race outcome: the booking
	// left reserved before confirmation landed (e.g. the hold lapsed).
	ErrInvalidState = errors.New("booking is not in a confirmable state")
)

// InvalidTransitionError reports an illegal state-machine edge.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}
