package errors

import "errors"

var (
	// ErrAlreadyLatched is returned when Latch is called on a key that is
	// already held. It indicates a protocol bug in the caller, not a
	// condition to retry.
	ErrAlreadyLatched = errors.New("already latched")
	// ErrNotLatched is returned when Unlatch is called on a key that is
	// not held.
	ErrNotLatched = errors.New("not latched")
	// ErrBusClosed is returned when publishing or subscribing on a bus
	// that has been closed.
	ErrBusClosed = errors.New("bus closed")
)
