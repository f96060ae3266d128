package scheduling

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrCancelCompleted   = errors.New("cannot cancel a completed appointment")
	ErrAlreadyCancelled  = errors.New("appointment is already cancelled")
	ErrTerminalStatus    = errors.New("appointment is in a terminal status")
	ErrUnknownStatus     = errors.New("unknown appointment status")
)

// transitions is the full lifecycle table. BOOKED is initial; COMPLETED,
// CANCELLED and NO_SHOW are terminal. RESCHEDULED is a persisted
// non-terminal status that behaves like BOOKED for onward transitions, so
// a rescheduled appointment can still be confirmed, completed, cancelled,
// marked no-show or rescheduled again.
var transitions = map[Status][]Status{
	StatusBooked:      {StatusConfirmed, StatusCancelled, StatusNoShow, StatusRescheduled},
	StatusConfirmed:   {StatusCompleted, StatusCancelled, StatusNoShow, StatusRescheduled},
	StatusRescheduled: {StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow, StatusRescheduled},
	StatusCompleted:   {},
	StatusCancelled:   {},
	StatusNoShow:      {},
}

// Terminal reports whether no further transition out of s is allowed.
func Terminal(s Status) bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// CanTransition reports whether from -> to is an allowed lifecycle move.
func CanTransition(from, to Status) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// ValidateTransition checks from -> to and returns the most specific error
// for the disallowed cases callers care about. Cancelling a COMPLETED
// appointment is a validation failure; cancelling an already-CANCELLED one
// is its own error.
func ValidateTransition(from, to Status) error {
	if _, ok := transitions[from]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, from)
	}
	if _, ok := transitions[to]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, to)
	}

	if to == StatusCancelled {
		switch from {
		case StatusCompleted:
			return ErrCancelCompleted
		case StatusCancelled:
			return ErrAlreadyCancelled
		}
	}

	if Terminal(from) {
		return fmt.Errorf("%w: %s", ErrTerminalStatus, from)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
