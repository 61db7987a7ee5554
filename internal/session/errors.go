package session

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind represents the category of a session failure
type ErrorKind int

const (
	// ErrTransport indicates the bus connection failed or rejected a frame
	ErrTransport ErrorKind = iota
	// ErrNoResponse indicates the device stayed silent after all retries
	ErrNoResponse
	// ErrAuthenticationRejected indicates the device refused the password
	ErrAuthenticationRejected
	// ErrMalformedResponse indicates a response that could not be decoded
	ErrMalformedResponse
	// ErrChecksumMismatch indicates the device's checksum did not match the image
	ErrChecksumMismatch
	// ErrTransferAborted indicates a data block exhausted its retry budget
	ErrTransferAborted
	// ErrCancelled indicates the caller aborted the session
	ErrCancelled
	// ErrProtocol indicates the device answered out of protocol
	ErrProtocol
)

// String returns a human-readable name for the error kind
func (k ErrorKind) String() string {
	switch k {
	case ErrTransport:
		return "TransportError"
	case ErrNoResponse:
		return "NoResponseError"
	case ErrAuthenticationRejected:
		return "AuthenticationRejectedError"
	case ErrMalformedResponse:
		return "MalformedResponseError"
	case ErrChecksumMismatch:
		return "ChecksumMismatchError"
	case ErrTransferAborted:
		return "TransferAbortedError"
	case ErrCancelled:
		return "CancelledError"
	case ErrProtocol:
		return "ProtocolError"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is the terminal error of a failed session
type Error struct {
	Kind      ErrorKind // Category of failure
	Phase     Phase     // Phase in which the session failed
	Attempts  int       // Sends of the failing request
	BytesSent int       // Acknowledged image bytes at the time of failure
	Message   string    // Human-readable detail
	Err       error     // Underlying error (if any)
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s during %s: %s", e.Kind, e.Phase, e.Message)
	if e.Err != nil {
		msg = fmt.Sprintf("%s (caused by: %v)", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether restarting the whole session may succeed.
// Authentication and transport failures need user action first.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case ErrNoResponse, ErrTransferAborted, ErrChecksumMismatch, ErrMalformedResponse:
		return true
	default:
		return false
	}
}

// ExitCode returns the process exit code for the error kind.
func (e *Error) ExitCode() int {
	switch e.Kind {
	case ErrTransport:
		return 2
	case ErrNoResponse:
		return 3
	case ErrAuthenticationRejected:
		return 4
	case ErrProtocol, ErrMalformedResponse:
		return 5
	case ErrTransferAborted:
		return 6
	case ErrChecksumMismatch:
		return 7
	case ErrCancelled:
		return 8
	default:
		return 1
	}
}

// KindOf returns the kind of a session error and whether err is one.
func KindOf(err error) (ErrorKind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}

func isKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsTransportError checks if err is a session transport failure
func IsTransportError(err error) bool { return isKind(err, ErrTransport) }

// IsNoResponse checks if err is a session that got no answer
func IsNoResponse(err error) bool { return isKind(err, ErrNoResponse) }

// IsAuthenticationRejected checks if err is a rejected password
func IsAuthenticationRejected(err error) bool { return isKind(err, ErrAuthenticationRejected) }

// IsChecksumMismatch checks if err is a failed final verification
func IsChecksumMismatch(err error) bool { return isKind(err, ErrChecksumMismatch) }

// IsTransferAborted checks if err is an exhausted block retry budget
func IsTransferAborted(err error) bool { return isKind(err, ErrTransferAborted) }

// IsCancelled checks if err is a caller abort
func IsCancelled(err error) bool { return isKind(err, ErrCancelled) }

// IsProtocolError checks if err is an out-of-protocol answer
func IsProtocolError(err error) bool { return isKind(err, ErrProtocol) }

// ExitCode maps any error to a process exit code: 0 for nil, the kind's code
// for session errors and 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var se *Error
	if errors.As(err, &se) {
		return se.ExitCode()
	}
	return 1
}

// TroubleshootingHint returns user-friendly troubleshooting advice for an error
func TroubleshootingHint(err error) string {
	var se *Error
	if !errors.As(err, &se) {
		return "An unexpected error occurred. Run again with --log-level debug for details."
	}

	switch se.Kind {
	case ErrTransport:
		return strings.Join([]string{
			"The CAN interface could not be used.",
			"Troubleshooting:",
			"  • Check the interface and channel names (e.g. socketcan can0)",
			"  • Make sure the interface is up: ip link set can0 up type can bitrate 500000",
			"  • Check that no other program holds the adapter",
		}, "\n")

	case ErrNoResponse:
		if se.Phase == PhaseSyncing || se.Phase == PhaseAuthenticating {
			return strings.Join([]string{
				"The device never answered.",
				"Troubleshooting:",
				"  • Reset the target with the boot configuration pins set for serial boot",
				"  • Check the bitrate matches the crystal the BAM autobauds from",
				"  • Check CAN termination and that the transceiver is powered",
				"  • Try --profile bam for a stock device without a RAM monitor",
			}, "\n")
		}
		return strings.Join([]string{
			"The device stopped answering mid-session.",
			"Troubleshooting:",
			"  • Check the bus for errors (candump -e can0)",
			"  • Increase the timeouts with --block-timeout / --final-timeout",
			"  • Power-cycle the target and load again",
		}, "\n")

	case ErrAuthenticationRejected:
		return strings.Join([]string{
			"The device rejected the password.",
			"Troubleshooting:",
			"  • The public password is FEEDFACECAFEBEEF",
			"  • Censored devices need the flash password set in the shadow row",
			"  • Power-cycle the target before trying again",
		}, "\n")

	case ErrChecksumMismatch:
		return strings.Join([]string{
			"The image arrived corrupted.",
			"Troubleshooting:",
			"  • Restart the load from scratch",
			"  • Check for bus errors and noise on the CAN lines",
			"  • Lower the bitrate",
		}, "\n")

	case ErrTransferAborted:
		return strings.Join([]string{
			"A data block was repeatedly not acknowledged.",
			"Troubleshooting:",
			"  • Check for other nodes transmitting on the bus",
			"  • Increase --block-retries or --block-timeout",
			"  • Check the image fits the target RAM",
		}, "\n")

	case ErrProtocol, ErrMalformedResponse:
		return strings.Join([]string{
			"The device answered out of protocol.",
			"Troubleshooting:",
			"  • Check the --profile matches the device (bam or monitor)",
			"  • Check the entry address is inside target RAM",
		}, "\n")

	case ErrCancelled:
		return "The load was cancelled. The target may hold a partial image; reset it before retrying."

	default:
		return "An error occurred. Please check the error message for details."
	}
}

// ShortMessage returns a concise, user-friendly error message
func ShortMessage(err error) string {
	var se *Error
	if !errors.As(err, &se) {
		return err.Error()
	}

	switch se.Kind {
	case ErrTransport:
		return "CAN interface failure"
	case ErrNoResponse:
		return fmt.Sprintf("Device not responding during %s", se.Phase)
	case ErrAuthenticationRejected:
		return "Password rejected by device"
	case ErrChecksumMismatch:
		return "Checksum mismatch after transfer"
	case ErrTransferAborted:
		return fmt.Sprintf("Transfer aborted after %d bytes", se.BytesSent)
	case ErrCancelled:
		return "Load cancelled"
	case ErrProtocol, ErrMalformedResponse:
		return fmt.Sprintf("Unexpected response during %s", se.Phase)
	default:
		return se.Error()
	}
}
