// Package adapter opens a bus.Port from the interface, channel and bitrate
// given on the command line.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/muurk/bamload/internal/bus"
	"github.com/muurk/bamload/internal/bus/slcan"
	"github.com/muurk/bamload/internal/bus/socketcan"
	"github.com/muurk/bamload/internal/bus/virtual"
	"github.com/muurk/bamload/internal/bus/wsgateway"
	"github.com/muurk/bamload/internal/simulator"
)

// Interface names
const (
	SocketCAN = "socketcan"
	SLCAN     = "slcan"
	WebSocket = "ws"
	Virtual   = "virtual"
)

// DefaultSerialBaud is the serial line speed used for SLCAN adapters.
const DefaultSerialBaud = slcan.DefaultBaudRate

// ErrUnknownInterface is returned for interface names Open does not know.
var ErrUnknownInterface = errors.New("unknown bus interface")

// Params selects and configures an adapter.
type Params struct {
	// Interface is one of socketcan, slcan, ws or virtual
	Interface string

	// Channel is the interface-specific target: a network interface
	// ("can0"), a serial device ("/dev/ttyACM0"), a gateway URL or name, or
	// a simulator behavior for virtual ("monitor,lose=3")
	Channel string

	// Bitrate is the CAN bitrate in bit/s
	Bitrate int

	// SerialBaud overrides DefaultSerialBaud for slcan
	SerialBaud int

	// ResolveURL maps a ws channel to a URL (optional; URLs pass through)
	ResolveURL func(channel string) (string, error)

	// Logger is passed to the adapter (optional)
	Logger *zap.Logger
}

// Interfaces lists the supported interface names.
func Interfaces() []string {
	names := []string{SLCAN, WebSocket, Virtual}
	if socketcan.Supported {
		names = append(names, SocketCAN)
	}
	sort.Strings(names)
	return names
}

// Validate checks the parameters without opening anything.
func (p Params) Validate() error {
	switch p.Interface {
	case SocketCAN, SLCAN, WebSocket, Virtual:
	default:
		return fmt.Errorf("%w %q (want %s)", ErrUnknownInterface, p.Interface, strings.Join(Interfaces(), ", "))
	}
	if p.Channel == "" && p.Interface != Virtual {
		return fmt.Errorf("%s: channel is required", p.Interface)
	}
	if p.Bitrate <= 0 {
		return fmt.Errorf("bitrate must be positive, got %d", p.Bitrate)
	}
	if p.Interface == SLCAN {
		if _, err := slcan.BitrateCommand(p.Bitrate); err != nil {
			return err
		}
	}
	return nil
}

// Open opens the adapter described by p. ctx bounds connection setup only.
func Open(ctx context.Context, p Params) (bus.Port, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	switch p.Interface {
	case SocketCAN:
		port, err := socketcan.Open(p.Channel, p.Bitrate, logger)
		if err != nil {
			return nil, err
		}
		return port, nil

	case SLCAN:
		port, err := slcan.Open(p.Channel, p.Bitrate, p.SerialBaud, logger)
		if err != nil {
			return nil, err
		}
		return port, nil

	case WebSocket:
		url := p.Channel
		if p.ResolveURL != nil {
			resolved, err := p.ResolveURL(p.Channel)
			if err != nil {
				return nil, err
			}
			url = resolved
		}
		port, err := wsgateway.Dial(ctx, url, logger)
		if err != nil {
			return nil, err
		}
		return port, nil

	default:
		behavior, err := simulator.ParseBehavior(p.Channel)
		if err != nil {
			return nil, err
		}
		return OpenSimulated(behavior, logger), nil
	}
}

// SimulatedPort is the host end of a virtual bus with a simulated device
// attached. Closing it stops the device.
type SimulatedPort struct {
	*virtual.Node

	Device *simulator.Device

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// OpenSimulated attaches a simulated device to a fresh virtual bus and
// returns the host node.
func OpenSimulated(behavior simulator.Behavior, logger *zap.Logger) *SimulatedPort {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := virtual.New()
	host := b.Attach("host")
	devNode := b.Attach("device")
	dev := simulator.New(devNode, behavior, logger)

	ctx, cancel := context.WithCancel(context.Background())
	p := &SimulatedPort{
		Node:   host,
		Device: dev,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		defer devNode.Close()
		if err := dev.Run(ctx); err != nil {
			logger.Warn("simulated device stopped", zap.Error(err))
		}
	}()
	logger.Info("Virtual bus open with simulated device")
	return p
}

// Close stops the simulated device and detaches the host node.
func (p *SimulatedPort) Close() error {
	p.once.Do(func() {
		p.cancel()
		<-p.done
	})
	return p.Node.Close()
}
