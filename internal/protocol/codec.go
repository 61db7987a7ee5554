package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/muurk/bamload/internal/bus"
)

// Header is the decoded address/size message.
type Header struct {
	EntryAddress uint32
	Length       uint32
	VLE          bool
}

// Codec encodes boot messages into CAN frames. A Codec is an immutable value;
// all methods are pure.
type Codec struct {
	// Profile selects the optional monitor frames
	Profile Profile

	// Capacity is the payload bytes per frame (1-8, default 8)
	Capacity int
}

// NewCodec returns a codec for profile with full classical CAN capacity.
func NewCodec(profile Profile) Codec {
	return Codec{Profile: profile, Capacity: FrameCapacity}
}

// BlockCapacity returns the effective payload bytes per frame.
func (c Codec) BlockCapacity() int {
	if c.Capacity <= 0 || c.Capacity > FrameCapacity {
		return FrameCapacity
	}
	return c.Capacity
}

// EncodeSync builds the one-byte sync probe.
func (c Codec) EncodeSync() bus.Frame {
	return bus.NewFrame(IDSync, []byte{SyncMarker})
}

// EncodePassword builds the password message. With full capacity this is a
// single frame; smaller capacities split the 8 bytes in order.
func (c Codec) EncodePassword(pw Password) []bus.Frame {
	return c.split(IDPassword, pw[:])
}

// EncodeHeader builds the address/size message:
//
//	[0-3]  entry address, big-endian
//	[4-7]  VLE flag (bit 31) | length, big-endian
//
// Returns an error for empty images and lengths that collide with the VLE bit.
func (c Codec) EncodeHeader(entry uint32, length int, vle bool) ([]bus.Frame, error) {
	if length <= 0 {
		return nil, fmt.Errorf("image length must be positive, got %d", length)
	}
	if length > MaxImageLength {
		return nil, fmt.Errorf("image length %d exceeds maximum %d", length, MaxImageLength)
	}

	size := uint32(length)
	if vle {
		size |= VLEFlag
	}

	payload := make([]byte, 8)
	binary.BigEndian.PutUint32(payload[0:4], entry)
	binary.BigEndian.PutUint32(payload[4:8], size)

	return c.split(IDHeader, payload), nil
}

// EncodeDataBlock builds the data frame starting at offset. The block holds
// min(len(data)-offset, capacity) bytes; the count is returned alongside the
// frame. An offset outside data yields an empty frame and 0.
func (c Codec) EncodeDataBlock(data []byte, offset int) (bus.Frame, int) {
	if offset < 0 || offset >= len(data) {
		return bus.Frame{}, 0
	}
	n := len(data) - offset
	if capacity := c.BlockCapacity(); n > capacity {
		n = capacity
	}
	return bus.NewFrame(IDData, data[offset:offset+n]), n
}

// EncodeExecute builds the one-shot execute command carrying the entry address.
func (c Codec) EncodeExecute(entry uint32) bus.Frame {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, entry)
	return bus.NewFrame(IDExecute, payload)
}

// BlockCount returns how many data frames an image of length bytes needs.
func (c Codec) BlockCount(length int) int {
	return BlockCount(length, c.BlockCapacity())
}

// BlockCount returns ceil(length / capacity).
func BlockCount(length, capacity int) int {
	if length <= 0 || capacity <= 0 {
		return 0
	}
	return (length + capacity - 1) / capacity
}

// split cuts payload into frames of at most BlockCapacity bytes.
func (c Codec) split(id uint32, payload []byte) []bus.Frame {
	capacity := c.BlockCapacity()
	frames := make([]bus.Frame, 0, BlockCount(len(payload), capacity))
	for off := 0; off < len(payload); off += capacity {
		end := off + capacity
		if end > len(payload) {
			end = len(payload)
		}
		frames = append(frames, bus.NewFrame(id, payload[off:end]))
	}
	return frames
}

// EchoID returns the identifier on which the device answers a host frame.
func EchoID(hostID uint32) (uint32, bool) {
	switch hostID {
	case IDPassword:
		return IDPasswordEcho, true
	case IDHeader:
		return IDHeaderEcho, true
	case IDData:
		return IDDataEcho, true
	case IDSync:
		return IDSyncAck, true
	default:
		return 0, false
	}
}

// EncodeEcho builds the device's echo of a host frame. Used by the simulator.
func EncodeEcho(f bus.Frame) (bus.Frame, error) {
	id, ok := EchoID(f.ID)
	if !ok {
		return bus.Frame{}, fmt.Errorf("frame ID 0x%03X has no echo", f.ID)
	}
	echo := f
	echo.ID = id
	return echo, nil
}

// EncodeStatus builds a one-byte status frame on id.
func EncodeStatus(id uint32, status Status) bus.Frame {
	return bus.NewFrame(id, []byte{byte(status)})
}

// EncodeFinalStatus builds the final status report: status byte followed by
// the device's checksum, big-endian.
func EncodeFinalStatus(status Status, checksum uint32) bus.Frame {
	payload := make([]byte, 5)
	payload[0] = byte(status)
	binary.BigEndian.PutUint32(payload[1:5], checksum)
	return bus.NewFrame(IDFinalStatus, payload)
}
