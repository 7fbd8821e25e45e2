package session

import (
	"errors"
	"fmt"
)

// busyError rejects a call while another operation is in flight.
type busyError struct {
	requested Kind
	inFlight  Kind
}

func (e busyError) Error() string {
	return fmt.Sprintf("session busy: %s in flight, %s rejected", e.inFlight, e.requested)
}

// IsBusy reports whether err rejected an overlapping operation.
func IsBusy(err error) bool {
	var b busyError
	return errors.As(err, &b)
}

// invalidStateError is an ordering error: the call is not allowed from the
// current state (e.g. generate without a loaded model).
type invalidStateError struct {
	op    Kind
	state State
}

func (e invalidStateError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.op, e.state)
}

// IsInvalidState reports whether err is an ordering error.
func IsInvalidState(err error) bool {
	var s invalidStateError
	return errors.As(err, &s)
}

// EngineError carries a native failure. Error returns the engine's message
// verbatim.
type EngineError struct {
	Kind Kind
	Err  error
}

func (e *EngineError) Error() string { return e.Err.Error() }

func (e *EngineError) Unwrap() error { return e.Err }

// IsEngineError reports whether err came from the native engine.
func IsEngineError(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee)
}

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("session closed")
