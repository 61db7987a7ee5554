//go:build !linux

package socketcan

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/bamload/internal/bus"
)

// Supported reports whether SocketCAN is available on this platform.
const Supported = false

// ErrUnsupported is returned by Open on platforms without SocketCAN.
var ErrUnsupported = errors.New("socketcan: only available on Linux (use slcan or ws instead)")

// Port is never instantiated on this platform.
type Port struct{}

// Open always fails on this platform.
func Open(iface string, bitrate int, logger *zap.Logger) (*Port, error) {
	return nil, ErrUnsupported
}

func (p *Port) WriteFrame(bus.Frame) error                 { return ErrUnsupported }
func (p *Port) ReadFrame(time.Duration) (bus.Frame, error) { return bus.Frame{}, ErrUnsupported }
func (p *Port) Close() error                               { return nil }
