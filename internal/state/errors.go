package state

import "errors"

// Error is a user-recoverable state machine error. It is reported to the
// controller in-band and never terminates the connection.
type Error struct {
	Detail string
}

func (e *Error) Error() string { return e.Detail }

var (
	ErrIncrementOverflow = &Error{Detail: "Cannot tick. Already at the end of event."}
	ErrDecrementOverflow = &Error{Detail: "Cannot untick. Already at the start of event."}
	ErrNotManual         = &Error{Detail: "Cannot modify state, not manually controlled."}
)

// Timer phase misuse is reported as a plain in-band error rather than a
// state machine error, matching the wire format.
var (
	ErrTimerAlreadyStarted = errors.New("Timer already started")
	ErrTimerAlreadyStopped = errors.New("Timer already stopped")
)
