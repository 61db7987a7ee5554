//go:build linux

package socketcan

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/muurk/bamload/internal/bus"
)

// Supported reports whether SocketCAN is available on this platform.
const Supported = true

// Port is a raw CAN socket bound to one interface.
type Port struct {
	fd     int
	iface  string
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Open binds a raw CAN socket to the interface named iface (e.g. "can0").
func Open(iface string, bitrate int, logger *zap.Logger) (*Port, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan: interface %s: %w", iface, err)
	}
	if ifi.Flags&net.FlagUp == 0 {
		return nil, fmt.Errorf("socketcan: interface %s is down (ip link set %s up type can bitrate %d)",
			iface, iface, bitrate)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socketcan: socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("socketcan: bind %s: %w", iface, err)
	}

	p := &Port{
		fd:     fd,
		iface:  iface,
		logger: logger.With(zap.String("adapter", "socketcan"), zap.String("interface", iface)),
	}
	// The OS owns the bit timing; a mismatch only shows up as silence.
	p.logger.Info("SocketCAN interface open", zap.Int("bitrate", bitrate))
	return p, nil
}

// WriteFrame transmits f.
func (p *Port) WriteFrame(f bus.Frame) error {
	fd, err := p.descriptor()
	if err != nil {
		return err
	}
	raw, err := MarshalFrame(f)
	if err != nil {
		return err
	}
	for {
		_, err = unix.Write(fd, raw)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("socketcan: write on %s: %w", p.iface, err)
	}
	return nil
}

// ReadFrame waits up to timeout for the next data frame. Error and remote
// frames are skipped.
func (p *Port) ReadFrame(timeout time.Duration) (bus.Frame, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, FrameSize)

	for {
		fd, err := p.descriptor()
		if err != nil {
			return bus.Frame{}, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return bus.Frame{}, bus.ErrTimeout
		}
		ms := int(remaining / time.Millisecond)
		if ms == 0 {
			ms = 1
		}

		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, ms)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return bus.Frame{}, fmt.Errorf("socketcan: poll on %s: %w", p.iface, err)
		}
		if n == 0 {
			return bus.Frame{}, bus.ErrTimeout
		}

		read, err := unix.Read(fd, buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			return bus.Frame{}, fmt.Errorf("socketcan: read on %s: %w", p.iface, err)
		}
		f, err := UnmarshalFrame(buf[:read])
		if err != nil {
			p.logger.Debug("skipping frame", zap.Error(err))
			continue
		}
		return f, nil
	}
}

// Close closes the socket.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return unix.Close(p.fd)
}

func (p *Port) descriptor() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return -1, bus.ErrClosed
	}
	return p.fd, nil
}
