// Package simulator implements the device side of the boot protocol on a bus
// port. It behaves like the MPC56xx BAM (or a RAM monitor with the monitor
// profile) and can be told to misbehave so host retry paths can be exercised
// without hardware.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/bamload/internal/bus"
	"github.com/muurk/bamload/internal/protocol"
)

// Behavior configures how the simulated device answers.
type Behavior struct {
	// Profile selects the optional monitor frames (default: protocol.ProfileBAM)
	Profile protocol.Profile

	// Password is the password the device accepts (default: protocol.DefaultPassword)
	Password protocol.Password

	// DropSyncReplies ignores this many sync probes before answering
	DropSyncReplies int

	// IgnoreBlocks maps a data block index to the number of times that block
	// is ignored (no echo, nothing stored), as if the frame was lost.
	IgnoreBlocks map[int]int

	// NackBlocks maps a data block index to the number of times that block
	// is answered with a corrupted echo and not stored.
	NackBlocks map[int]int

	// CorruptChecksum reports checksum-fail in the final status
	CorruptChecksum bool

	// WrongChecksum reports ok in the final status with a checksum that does
	// not match the stored image
	WrongChecksum bool

	// SkipFinalStatus never sends the final status
	SkipFinalStatus bool

	// Silent ignores every frame
	Silent bool
}

// Phase is the device-side protocol phase.
type Phase int

const (
	PhaseSync Phase = iota
	PhasePassword
	PhaseHeader
	PhaseData
	PhaseLoaded
	PhaseRunning
	PhaseLocked
)

// String returns a human-readable phase name
func (p Phase) String() string {
	switch p {
	case PhaseSync:
		return "sync"
	case PhasePassword:
		return "password"
	case PhaseHeader:
		return "header"
	case PhaseData:
		return "data"
	case PhaseLoaded:
		return "loaded"
	case PhaseRunning:
		return "running"
	case PhaseLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// pollInterval bounds each port read so Run notices cancellation.
const pollInterval = 20 * time.Millisecond

// Device is a simulated boot monitor attached to a bus port.
type Device struct {
	port     bus.Port
	logger   *zap.Logger
	behavior Behavior

	mu       sync.Mutex
	phase    Phase
	password []byte
	header   []byte
	hdr      protocol.Header
	memory   []byte
	blocks   int
	ignore   map[int]int
	nack     map[int]int
	dropSync int
	entry    uint32
	executed bool
	received int
	sessions int
}

// New creates a device answering on port. A nil logger disables logging.
func New(port bus.Port, behavior Behavior, logger *zap.Logger) *Device {
	if behavior.Profile.Name == "" {
		behavior.Profile = protocol.ProfileBAM
	}
	if behavior.Password == (protocol.Password{}) {
		behavior.Password = protocol.DefaultPassword
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Device{
		port:     port,
		logger:   logger.With(zap.String("component", "simulator")),
		behavior: behavior,
	}
	d.reset()
	return d
}

// Run answers frames until ctx is cancelled or the port is closed.
func (d *Device) Run(ctx context.Context) error {
	d.logger.Debug("simulated device listening",
		zap.String("profile", d.behavior.Profile.Name))

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		f, err := d.port.ReadFrame(pollInterval)
		if err != nil {
			if errors.Is(err, bus.ErrTimeout) {
				continue
			}
			if errors.Is(err, bus.ErrClosed) {
				return nil
			}
			return err
		}
		if err := d.Handle(f); err != nil {
			d.logger.Warn("failed to answer frame", zap.Stringer("frame", f), zap.Error(err))
		}
	}
}

// Handle processes one host frame and writes any reply.
func (d *Device) Handle(f bus.Frame) error {
	replies := d.process(f)
	for _, r := range replies {
		if err := d.port.WriteFrame(r); err != nil {
			return err
		}
		d.logger.Debug("device reply", zap.Stringer("frame", r))
	}
	return nil
}

func (d *Device) process(f bus.Frame) []bus.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.received++
	if d.behavior.Silent {
		return nil
	}

	// A new boot attempt after a completed load starts over.
	if (d.phase == PhaseRunning || d.phase == PhaseLoaded || d.phase == PhaseLocked) &&
		(f.ID == protocol.IDSync || f.ID == protocol.IDPassword) {
		d.reset()
	}

	switch f.ID {
	case protocol.IDSync:
		return d.onSync(f)
	case protocol.IDPassword:
		return d.onPassword(f)
	case protocol.IDHeader:
		return d.onHeader(f)
	case protocol.IDData:
		return d.onData(f)
	case protocol.IDExecute:
		return d.onExecute(f)
	default:
		return nil
	}
}

func (d *Device) onSync(f bus.Frame) []bus.Frame {
	if !d.behavior.Profile.SyncProbe || d.phase != PhaseSync {
		return nil
	}
	if d.dropSync > 0 {
		d.dropSync--
		d.logger.Debug("dropping sync probe", zap.Int("remaining", d.dropSync))
		return nil
	}
	status := protocol.StatusAck
	if p := f.Payload(); len(p) != 1 || p[0] != protocol.SyncMarker {
		status = protocol.StatusNack
	} else {
		d.phase = PhasePassword
	}
	return []bus.Frame{protocol.EncodeStatus(protocol.IDSyncAck, status)}
}

func (d *Device) onPassword(f bus.Frame) []bus.Frame {
	if d.phase != PhasePassword {
		return nil
	}
	payload := f.Payload()
	start := len(d.password)
	if start+len(payload) > protocol.PasswordSize {
		return []bus.Frame{corrupt(f)}
	}
	want := d.behavior.Password[start : start+len(payload)]
	for i := range payload {
		if payload[i] != want[i] {
			d.phase = PhaseLocked
			d.logger.Debug("password rejected")
			return []bus.Frame{corrupt(f)}
		}
	}
	d.password = append(d.password, payload...)
	if len(d.password) == protocol.PasswordSize {
		d.phase = PhaseHeader
	}
	return []bus.Frame{echo(f)}
}

func (d *Device) onHeader(f bus.Frame) []bus.Frame {
	if d.phase != PhaseHeader {
		return nil
	}
	d.header = append(d.header, f.Payload()...)
	if len(d.header) < 8 {
		return []bus.Frame{echo(f)}
	}

	hdr, err := protocol.DecodeHeader([]bus.Frame{bus.NewFrame(protocol.IDHeader, d.header)})
	if err != nil {
		d.header = d.header[:0]
		return []bus.Frame{corrupt(f)}
	}
	d.hdr = hdr
	d.memory = make([]byte, 0, min(int(hdr.Length), 1<<20))
	d.phase = PhaseData
	d.logger.Debug("header accepted",
		zap.String("entry", hexAddr(hdr.EntryAddress)),
		zap.Uint32("length", hdr.Length),
		zap.Bool("vle", hdr.VLE))
	return []bus.Frame{echo(f)}
}

func (d *Device) onData(f bus.Frame) []bus.Frame {
	if d.phase != PhaseData {
		return nil
	}
	block := d.blocks
	if d.ignore[block] > 0 {
		d.ignore[block]--
		return nil
	}
	if d.nack[block] > 0 {
		d.nack[block]--
		return []bus.Frame{corrupt(f)}
	}

	payload := f.Payload()
	remaining := int(d.hdr.Length) - len(d.memory)
	if len(payload) > remaining {
		return []bus.Frame{corrupt(f)}
	}
	d.memory = append(d.memory, payload...)
	d.blocks++

	replies := []bus.Frame{echo(f)}
	if len(d.memory) < int(d.hdr.Length) {
		return replies
	}

	// Image complete.
	d.phase = PhaseLoaded
	if d.behavior.Profile.FinalStatus && !d.behavior.SkipFinalStatus {
		sum := protocol.ComputeChecksum(d.memory)
		status := protocol.StatusAck
		switch {
		case d.behavior.CorruptChecksum:
			status = protocol.StatusChecksumFail
		case d.behavior.WrongChecksum:
			sum++
		}
		replies = append(replies, protocol.EncodeFinalStatus(status, sum))
	}
	if !d.behavior.Profile.Execute {
		d.start(d.hdr.EntryAddress)
	}
	return replies
}

func (d *Device) onExecute(f bus.Frame) []bus.Frame {
	if d.phase != PhaseLoaded || !d.behavior.Profile.Execute {
		return nil
	}
	entry, err := protocol.DecodeExecute(f)
	if err != nil {
		d.logger.Debug("ignoring execute frame", zap.Error(err))
		return nil
	}
	d.start(entry)
	return nil
}

func (d *Device) start(entry uint32) {
	d.entry = entry
	d.executed = true
	d.phase = PhaseRunning
	d.sessions++
	d.logger.Debug("image started", zap.String("entry", hexAddr(entry)))
}

func (d *Device) reset() {
	d.phase = PhasePassword
	if d.behavior.Profile.SyncProbe {
		d.phase = PhaseSync
	}
	d.password = nil
	d.header = nil
	d.hdr = protocol.Header{}
	d.memory = nil
	d.blocks = 0
	d.entry = 0
	d.executed = false
	d.dropSync = d.behavior.DropSyncReplies
	d.ignore = copyCounts(d.behavior.IgnoreBlocks)
	d.nack = copyCounts(d.behavior.NackBlocks)
}

// Phase returns the current device phase.
func (d *Device) Phase() Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phase
}

// Memory returns a copy of the image bytes stored so far.
func (d *Device) Memory() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, len(d.memory))
	copy(out, d.memory)
	return out
}

// Header returns the last accepted header.
func (d *Device) Header() protocol.Header {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hdr
}

// Executed reports whether the image was started and at which address.
func (d *Device) Executed() (uint32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.entry, d.executed
}

// Received returns the number of host frames seen, including ignored ones.
func (d *Device) Received() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.received
}

// Sessions returns the number of images started since creation.
func (d *Device) Sessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions
}

func echo(f bus.Frame) bus.Frame {
	e, err := protocol.EncodeEcho(f)
	if err != nil {
		return bus.Frame{}
	}
	return e
}

// corrupt returns an echo of f with every payload bit inverted. An empty
// payload cannot be corrupted and is echoed unchanged.
func corrupt(f bus.Frame) bus.Frame {
	e := echo(f)
	for i := 0; i < int(e.Len); i++ {
		e.Data[i] = ^e.Data[i]
	}
	return e
}

func copyCounts(m map[int]int) map[int]int {
	out := make(map[int]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func hexAddr(v uint32) string {
	return fmt.Sprintf("0x%08X", v)
}
