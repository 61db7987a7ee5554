// Package socketcan implements bus.Port on Linux SocketCAN raw sockets.
//
// The bitrate of a SocketCAN interface is configured by the OS
// (ip link set can0 type can bitrate 500000) and is only logged here.
package socketcan

import (
	"encoding/binary"
	"fmt"

	"github.com/muurk/bamload/internal/bus"
)

// FrameSize is the size of struct can_frame.
const FrameSize = 16

// can_id flags and masks
const (
	effFlag = 0x80000000
	rtrFlag = 0x40000000
	errFlag = 0x20000000
	effMask = 0x1FFFFFFF
	sffMask = 0x7FF
)

// MarshalFrame encodes f as struct can_frame:
//
//	0..3   can_id with EFF flag, host byte order
//	4      can_dlc
//	5..7   padding
//	8..15  data
func MarshalFrame(f bus.Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	id := f.ID
	if f.Extended {
		id |= effFlag
	}
	buf := make([]byte, FrameSize)
	binary.NativeEndian.PutUint32(buf[0:4], id)
	buf[4] = f.Len
	copy(buf[8:], f.Data[:f.Len])
	return buf, nil
}

// UnmarshalFrame decodes struct can_frame. Error and remote frames are
// reported as errors; callers skip them.
func UnmarshalFrame(raw []byte) (bus.Frame, error) {
	if len(raw) < FrameSize {
		return bus.Frame{}, fmt.Errorf("socketcan: need %d bytes, got %d", FrameSize, len(raw))
	}
	id := binary.NativeEndian.Uint32(raw[0:4])
	if id&errFlag != 0 {
		return bus.Frame{}, fmt.Errorf("socketcan: error frame 0x%08X", id)
	}
	if id&rtrFlag != 0 {
		return bus.Frame{}, fmt.Errorf("socketcan: remote frame 0x%08X", id)
	}

	f := bus.Frame{Extended: id&effFlag != 0, Len: raw[4]}
	if f.Extended {
		f.ID = id & effMask
	} else {
		f.ID = id & sffMask
	}
	if f.Len > bus.MaxPayload {
		return bus.Frame{}, fmt.Errorf("socketcan: DLC %d: %w", f.Len, bus.ErrInvalidLen)
	}
	copy(f.Data[:f.Len], raw[8:])
	return f, nil
}
