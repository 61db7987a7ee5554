package bus

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout matches any receive timeout, including *TimeoutError.
	ErrTimeout = errors.New("bus: receive timeout")

	// ErrClosed is returned by operations on a closed port or connection.
	ErrClosed = errors.New("bus: connection closed")

	// ErrBusy is returned when a second session tries to claim a connection.
	ErrBusy = errors.New("bus: connection already claimed by another session")
)

// TransportError is a connection-level failure: the port is closed, the
// adapter rejected the frame, or the controller went bus-off. It is never
// worth retrying at the protocol level.
type TransportError struct {
	Op  string // "send" or "receive"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// TimeoutError reports that no frame with the expected identifier arrived in
// time.
type TimeoutError struct {
	ID        uint32        // identifier that was awaited
	Timeout   time.Duration // budget that elapsed
	Discarded int           // frames with other identifiers seen meanwhile
}

func (e *TimeoutError) Error() string {
	if e.Discarded > 0 {
		return fmt.Sprintf("no frame with ID 0x%03X within %s (%d unrelated frames discarded)",
			e.ID, e.Timeout, e.Discarded)
	}
	return fmt.Sprintf("no frame with ID 0x%03X within %s", e.ID, e.Timeout)
}

// Is makes errors.Is(err, ErrTimeout) match.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// IsTimeout reports whether err is a receive timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsTransportError reports whether err is a connection-level failure.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
