// Package slcan implements bus.Port for serial-line CAN adapters speaking the
// Lawicel ASCII protocol (CANable, CANUSB, USBtin and compatibles).
//
// Commands and frames are ASCII lines terminated by '\r':
//
//	S6      set bitrate (S0=10k ... S8=1M)
//	O / C   open / close the channel
//	tIIILDD...     standard frame: 3 hex ID digits, DLC, data
//	TIIIIIIIILDD... extended frame: 8 hex ID digits, DLC, data
//
// The adapter answers commands with '\r' (ok) or '\a' (error) and transmit
// requests with "z\r" / "Z\r"; those are skipped while reading frames.
package slcan

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/muurk/bamload/internal/bus"
)

// DefaultBaudRate is the serial speed used when none is given. USB adapters
// ignore it.
const DefaultBaudRate = 115200

// rxQueue is the number of decoded frames buffered between the reader and
// ReadFrame.
const rxQueue = 256

var bitrateCodes = map[int]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

// BitrateCommand returns the Sn command for bitrate.
func BitrateCommand(bitrate int) (string, error) {
	code, ok := bitrateCodes[bitrate]
	if !ok {
		return "", fmt.Errorf("unsupported SLCAN bitrate %d (want 10k, 20k, 50k, 100k, 125k, 250k, 500k, 800k or 1M)", bitrate)
	}
	return "S" + string(code), nil
}

// EncodeFrame returns the transmit line for f, without the trailing '\r'.
func EncodeFrame(f bus.Frame) (string, error) {
	if err := f.Validate(); err != nil {
		return "", err
	}
	var b bytes.Buffer
	if f.Extended {
		fmt.Fprintf(&b, "T%08X", f.ID)
	} else {
		fmt.Fprintf(&b, "t%03X", f.ID)
	}
	fmt.Fprintf(&b, "%d%X", f.Len, f.Payload())
	return b.String(), nil
}

// DecodeFrame parses a received t/T line (without '\r').
func DecodeFrame(line string) (bus.Frame, error) {
	if line == "" {
		return bus.Frame{}, errors.New("empty line")
	}
	idDigits := 0
	switch line[0] {
	case 't':
		idDigits = 3
	case 'T':
		idDigits = 8
	default:
		return bus.Frame{}, fmt.Errorf("not a data frame: %q", line)
	}
	if len(line) < 1+idDigits+1 {
		return bus.Frame{}, fmt.Errorf("truncated frame: %q", line)
	}

	id, err := strconv.ParseUint(line[1:1+idDigits], 16, 32)
	if err != nil {
		return bus.Frame{}, fmt.Errorf("bad identifier in %q: %w", line, err)
	}
	dlc := int(line[1+idDigits] - '0')
	if dlc < 0 || dlc > bus.MaxPayload {
		return bus.Frame{}, fmt.Errorf("bad DLC in %q", line)
	}
	dataHex := line[2+idDigits:]
	if len(dataHex) < 2*dlc {
		return bus.Frame{}, fmt.Errorf("frame %q shorter than DLC %d", line, dlc)
	}
	data, err := hex.DecodeString(dataHex[:2*dlc])
	if err != nil {
		return bus.Frame{}, fmt.Errorf("bad data in %q: %w", line, err)
	}

	f := bus.NewFrame(uint32(id), data)
	f.Extended = line[0] == 'T'
	if err := f.Validate(); err != nil {
		return bus.Frame{}, fmt.Errorf("frame %q: %w", line, err)
	}
	return f, nil
}

// Port is an open SLCAN channel.
type Port struct {
	rw     io.ReadWriteCloser
	logger *zap.Logger

	writeMu sync.Mutex
	frames  chan bus.Frame

	closeOnce sync.Once
	done      chan struct{}
	readErr   error
	readDone  chan struct{}
}

// Open opens the serial device at path, sets the bitrate and opens the CAN
// channel.
func Open(path string, bitrate, baudRate int, logger *zap.Logger) (*Port, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	sp, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("slcan: failed to open %s: %w", path, err)
	}
	if err := sp.SetReadTimeout(100 * time.Millisecond); err != nil {
		sp.Close()
		return nil, fmt.Errorf("slcan: failed to set timeout: %w", err)
	}

	p, err := New(sp, bitrate, logger)
	if err != nil {
		sp.Close()
		return nil, err
	}
	p.logger.Info("SLCAN channel open", zap.String("device", path), zap.Int("bitrate", bitrate))
	return p, nil
}

// New runs the SLCAN open sequence on an already opened byte stream.
func New(rw io.ReadWriteCloser, bitrate int, logger *zap.Logger) (*Port, error) {
	cmd, err := BitrateCommand(bitrate)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Port{
		rw:       rw,
		logger:   logger.With(zap.String("adapter", "slcan")),
		frames:   make(chan bus.Frame, rxQueue),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}

	// Close first in case the channel was left open by a previous run.
	for _, c := range []string{"C", cmd, "O"} {
		if err := p.command(c); err != nil {
			return nil, fmt.Errorf("slcan: %s: %w", c, err)
		}
	}

	go p.readLoop()
	return p, nil
}

func (p *Port) command(c string) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_, err := io.WriteString(p.rw, c+"\r")
	return err
}

// WriteFrame transmits f.
func (p *Port) WriteFrame(f bus.Frame) error {
	select {
	case <-p.done:
		return bus.ErrClosed
	default:
	}
	line, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	return p.command(line)
}

// ReadFrame returns the next received frame.
func (p *Port) ReadFrame(timeout time.Duration) (bus.Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-p.frames:
		return f, nil
	case <-p.readDone:
		// Drain what was decoded before the reader stopped.
		select {
		case f := <-p.frames:
			return f, nil
		default:
		}
		if p.readErr != nil {
			return bus.Frame{}, p.readErr
		}
		return bus.Frame{}, bus.ErrClosed
	case <-timer.C:
		return bus.Frame{}, bus.ErrTimeout
	}
}

// Close closes the CAN channel and the serial device.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		p.command("C")
		err = p.rw.Close()
	})
	return err
}

func (p *Port) readLoop() {
	defer close(p.readDone)

	buf := make([]byte, 256)
	var line []byte
	for {
		n, err := p.rw.Read(buf)
		for _, b := range buf[:n] {
			switch b {
			case '\r', '\n':
				p.handleLine(string(line))
				line = line[:0]
			case '\a':
				p.logger.Debug("adapter reported an error")
				line = line[:0]
			default:
				line = append(line, b)
			}
		}
		if err != nil {
			select {
			case <-p.done:
			default:
				if !errors.Is(err, io.EOF) {
					p.readErr = fmt.Errorf("slcan: read failed: %w", err)
				}
			}
			return
		}
		// A serial read timeout returns no data and no error.
		select {
		case <-p.done:
			return
		default:
		}
	}
}

func (p *Port) handleLine(line string) {
	if line == "" || line == "z" || line == "Z" {
		return
	}
	if line[0] != 't' && line[0] != 'T' {
		p.logger.Debug("ignoring adapter line", zap.String("line", line))
		return
	}
	f, err := DecodeFrame(line)
	if err != nil {
		p.logger.Debug("dropping bad frame", zap.Error(err))
		return
	}
	select {
	case p.frames <- f:
	default:
		p.logger.Warn("receive queue full, dropping frame", zap.Stringer("frame", f))
	}
}
