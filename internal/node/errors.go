package node

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure reported by the engine is surfaced as an
// *Error whose Kind is one of these, so callers can use errors.Is.
var (
	// ErrConfiguration is returned when a setter is rejected.
	ErrConfiguration = errors.New("configuration error")
	// ErrCreationFailed is returned when the engine cannot allocate a node.
	ErrCreationFailed = errors.New("node creation failed")
	// ErrBringUpFailed is returned when authentication or the control
	// plane connection fails.
	ErrBringUpFailed = errors.New("bring-up failed")
	// ErrListen is returned when a listener cannot be bound.
	ErrListen = errors.New("listen failed")
	// ErrListenerClosed is returned by Accept once the listener is closed.
	ErrListenerClosed = errors.New("listener closed")
	// ErrAccept is returned when a listener faults while accepting.
	ErrAccept = errors.New("accept failed")
	// ErrStream is returned by reads and writes on a closed or broken
	// connection.
	ErrStream = errors.New("stream error")
	// ErrDial is returned when an outbound connection cannot be made.
	ErrDial = errors.New("dial failed")
)

var errNodeClosed = errors.New("node is closed")

// Error records a failed node, listener or connection operation.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op string, kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}
