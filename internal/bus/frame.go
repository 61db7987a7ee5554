package bus

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// MaxPayload is the payload capacity of a classical CAN frame.
const MaxPayload = 8

// Identifier limits
const (
	MaxStandardID = 0x7FF
	MaxExtendedID = 0x1FFFFFFF
)

var (
	ErrInvalidID  = errors.New("bus: invalid identifier")
	ErrInvalidLen = errors.New("bus: invalid data length")
)

// Frame is a classical CAN frame (11-bit or 29-bit identifier, 0-8 data bytes).
type Frame struct {
	ID       uint32
	Extended bool
	Len      uint8
	Data     [MaxPayload]byte
}

// NewFrame builds a frame from an identifier and payload. Identifiers above
// the 11-bit range are marked extended. Payload bytes beyond MaxPayload are
// dropped; use Validate-checked construction (MakeFrame) when that matters.
func NewFrame(id uint32, payload []byte) Frame {
	f := Frame{ID: id, Extended: id > MaxStandardID}
	n := copy(f.Data[:], payload)
	f.Len = uint8(n)
	return f
}

// MakeFrame is like NewFrame but rejects payloads longer than MaxPayload and
// identifiers outside the 29-bit range.
func MakeFrame(id uint32, payload []byte) (Frame, error) {
	if len(payload) > MaxPayload {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrInvalidLen, len(payload))
	}
	f := NewFrame(id, payload)
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Validate returns an error if the frame is not a valid classical CAN frame.
func (f Frame) Validate() error {
	if f.Len > MaxPayload {
		return ErrInvalidLen
	}
	limit := uint32(MaxStandardID)
	if f.Extended {
		limit = MaxExtendedID
	}
	if f.ID > limit {
		return ErrInvalidID
	}
	return nil
}

// Payload returns a copy of the frame's data bytes.
func (f Frame) Payload() []byte {
	n := int(f.Len)
	if n > MaxPayload {
		n = MaxPayload
	}
	out := make([]byte, n)
	copy(out, f.Data[:n])
	return out
}

// Equal reports whether two frames carry the same identifier and payload.
func (f Frame) Equal(o Frame) bool {
	if f.ID != o.ID || f.Extended != o.Extended || f.Len != o.Len {
		return false
	}
	return bytes.Equal(f.Payload(), o.Payload())
}

// String returns a candump-style representation, e.g. "011#FEEDFACECAFEBEEF".
func (f Frame) String() string {
	id := fmt.Sprintf("%03X", f.ID)
	if f.Extended {
		id = fmt.Sprintf("%08X", f.ID)
	}
	return id + "#" + fmt.Sprintf("%X", f.Payload())
}

// GatewayFrameSize is the size of one frame in the CAN gateway wire format.
const GatewayFrameSize = 13

// Gateway header flags
const (
	gatewayValid    = 0x80
	gatewayExtended = 0x20
	gatewayRemote   = 0x10
	gatewayDLCMask  = 0x0F
)

// MarshalGatewayFrame encodes a frame in the 13-byte gateway layout:
//
//	0     header: 0x80 | flags | DLC
//	1..4  identifier, big-endian
//	5..12 data bytes, zero padded
func MarshalGatewayFrame(f Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, GatewayFrameSize)
	header := byte(gatewayValid | (f.Len & gatewayDLCMask))
	if f.Extended {
		header |= gatewayExtended
	}
	buf[0] = header
	binary.BigEndian.PutUint32(buf[1:5], f.ID)
	copy(buf[5:], f.Data[:])
	return buf, nil
}

// UnmarshalGatewayFrame decodes a frame from the 13-byte gateway layout.
// Remote frames are rejected; the boot protocol never uses them.
func UnmarshalGatewayFrame(raw []byte) (Frame, error) {
	if len(raw) != GatewayFrameSize {
		return Frame{}, fmt.Errorf("invalid gateway frame size %d", len(raw))
	}
	header := raw[0]
	if header&gatewayValid == 0 {
		return Frame{}, fmt.Errorf("invalid gateway frame header 0x%02x", header)
	}
	if header&gatewayRemote != 0 {
		return Frame{}, fmt.Errorf("remote frames are not supported (header 0x%02x)", header)
	}
	f := Frame{
		ID:       binary.BigEndian.Uint32(raw[1:5]),
		Extended: header&gatewayExtended != 0,
		Len:      header & gatewayDLCMask,
	}
	if f.Len > MaxPayload {
		return Frame{}, fmt.Errorf("gateway frame %s: %w", hex.EncodeToString(raw), ErrInvalidLen)
	}
	copy(f.Data[:f.Len], raw[5:])
	if err := f.Validate(); err != nil {
		return Frame{}, fmt.Errorf("gateway frame %s: %w", hex.EncodeToString(raw), err)
	}
	return f, nil
}
