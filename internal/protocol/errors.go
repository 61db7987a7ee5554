package protocol

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// MalformedResponseError reports a response payload that does not match any
// known encoding for the message being awaited.
type MalformedResponseError struct {
	// Message names what was being decoded ("status", "echo", ...)
	Message string

	// Payload is a copy of the offending payload
	Payload []byte

	// Reason describes the mismatch
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed %s response [%s]: %s",
		e.Message, hex.EncodeToString(e.Payload), e.Reason)
}

// IsMalformedResponse returns true if err is or wraps a MalformedResponseError.
func IsMalformedResponse(err error) bool {
	var me *MalformedResponseError
	return errors.As(err, &me)
}

func malformed(message string, payload []byte, format string, args ...interface{}) error {
	p := make([]byte, len(payload))
	copy(p, payload)
	return &MalformedResponseError{
		Message: message,
		Payload: p,
		Reason:  fmt.Sprintf(format, args...),
	}
}
