package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/muurk/bamload/internal/bus"
)

// DecodeStatus parses a one-byte status response (sync acknowledgement).
// Empty payloads and unknown codes are malformed.
func DecodeStatus(f bus.Frame) (Status, error) {
	payload := f.Payload()
	if len(payload) == 0 {
		return StatusUnknown, malformed("status", payload, "empty payload")
	}
	switch s := Status(payload[0]); s {
	case StatusAck, StatusNack, StatusChecksumFail:
		return s, nil
	default:
		return StatusUnknown, malformed("status", payload, "unknown status code 0x%02X", payload[0])
	}
}

// DecodeEcho compares a device echo with the frame that was sent.
//
//   - identical payload on the echo identifier: StatusAck
//   - same length, different bytes: StatusNack
//   - wrong identifier or length: *MalformedResponseError
func DecodeEcho(sent, resp bus.Frame) (Status, error) {
	want, ok := EchoID(sent.ID)
	if !ok {
		return StatusUnknown, fmt.Errorf("frame ID 0x%03X has no echo", sent.ID)
	}
	payload := resp.Payload()
	if resp.ID != want {
		return StatusUnknown, malformed("echo", payload,
			"identifier 0x%03X, expected 0x%03X", resp.ID, want)
	}
	if resp.Len != sent.Len {
		return StatusUnknown, malformed("echo", payload,
			"%d bytes, expected %d", resp.Len, sent.Len)
	}
	if bytes.Equal(payload, sent.Payload()) {
		return StatusAck, nil
	}
	return StatusNack, nil
}

// DecodeFinalStatus parses the final status report: a status byte followed by
// the device's checksum, big-endian.
func DecodeFinalStatus(f bus.Frame) (Status, uint32, error) {
	payload := f.Payload()
	if len(payload) != 5 {
		return StatusUnknown, 0, malformed("final status", payload,
			"%d bytes, expected 5", len(payload))
	}
	switch s := Status(payload[0]); s {
	case StatusAck, StatusNack, StatusChecksumFail:
		return s, binary.BigEndian.Uint32(payload[1:5]), nil
	default:
		return StatusUnknown, 0, malformed("final status", payload,
			"unknown status code 0x%02X", payload[0])
	}
}

// DecodeHeader reassembles the address/size message from its frames. The
// frames must all carry IDHeader and together hold exactly 8 bytes.
func DecodeHeader(frames []bus.Frame) (Header, error) {
	raw, err := join("header", IDHeader, frames, 8)
	if err != nil {
		return Header{}, err
	}
	size := binary.BigEndian.Uint32(raw[4:8])
	h := Header{
		EntryAddress: binary.BigEndian.Uint32(raw[0:4]),
		Length:       size &^ VLEFlag,
		VLE:          size&VLEFlag != 0,
	}
	if h.Length == 0 {
		return Header{}, malformed("header", raw, "zero length")
	}
	return h, nil
}

// DecodePassword reassembles a password from its frames.
func DecodePassword(frames []bus.Frame) (Password, error) {
	var p Password
	raw, err := join("password", IDPassword, frames, PasswordSize)
	if err != nil {
		return p, err
	}
	copy(p[:], raw)
	return p, nil
}

// DecodeExecute returns the entry address carried by an execute frame.
func DecodeExecute(f bus.Frame) (uint32, error) {
	payload := f.Payload()
	if f.ID != IDExecute || len(payload) != 4 {
		return 0, malformed("execute", payload, "frame %s is not an execute command", f)
	}
	return binary.BigEndian.Uint32(payload), nil
}

func join(message string, id uint32, frames []bus.Frame, size int) ([]byte, error) {
	raw := make([]byte, 0, size)
	for _, f := range frames {
		if f.ID != id {
			return nil, malformed(message, f.Payload(),
				"identifier 0x%03X, expected 0x%03X", f.ID, id)
		}
		raw = append(raw, f.Payload()...)
	}
	if len(raw) != size {
		return nil, malformed(message, raw, "%d bytes, expected %d", len(raw), size)
	}
	return raw, nil
}
