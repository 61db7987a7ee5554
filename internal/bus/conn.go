package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval bounds how long a single port read may block, so that
// context cancellation is noticed while waiting for a response.
const DefaultPollInterval = 50 * time.Millisecond

// Transport is the frame primitive consumed by the handshake. Send transmits
// one frame. Receive blocks until a frame with the given identifier arrives or
// timeout elapses; frames with other identifiers are discarded.
type Transport interface {
	Send(ctx context.Context, f Frame) error
	Receive(ctx context.Context, id uint32, timeout time.Duration) (Frame, error)
}

// Port is the raw contract implemented by bus adapters.
type Port interface {
	// WriteFrame transmits one frame.
	WriteFrame(f Frame) error

	// ReadFrame returns the next frame seen on the bus. It returns an error
	// matching ErrTimeout if nothing arrived within timeout.
	ReadFrame(timeout time.Duration) (Frame, error)

	// Close releases the adapter.
	Close() error
}

// Conn adapts a Port to the Transport contract.
//
// Conn is owned by one session at a time; see Claim.
type Conn struct {
	port         Port
	logger       *zap.Logger
	pollInterval time.Duration

	claimed atomic.Bool
	closeMu sync.Mutex
	closed  bool
}

// NewConn wraps port. A nil logger disables logging.
func NewConn(port Port, logger *zap.Logger) *Conn {
	if port == nil {
		panic("port cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{
		port:         port,
		logger:       logger,
		pollInterval: DefaultPollInterval,
	}
}

// SetPollInterval changes the maximum time a single port read may block.
func (c *Conn) SetPollInterval(d time.Duration) {
	if d > 0 {
		c.pollInterval = d
	}
}

// Claim marks the connection as owned by a session. A second Claim before
// Release fails with ErrBusy.
func (c *Conn) Claim() error {
	if !c.claimed.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

// Release gives up ownership taken with Claim.
func (c *Conn) Release() {
	c.claimed.Store(false)
}

// Send transmits f. Invalid frames and adapter failures are reported as
// *TransportError.
func (c *Conn) Send(ctx context.Context, f Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isClosed() {
		return &TransportError{Op: "send", Err: ErrClosed}
	}
	if err := f.Validate(); err != nil {
		return &TransportError{Op: "send", Err: fmt.Errorf("frame %s: %w", f, err)}
	}

	if err := c.port.WriteFrame(f); err != nil {
		return &TransportError{Op: "send", Err: err}
	}

	c.logger.Debug("frame sent", zap.Stringer("frame", f))
	return nil
}

// Receive waits for a frame with identifier id. Unrelated frames are dropped.
func (c *Conn) Receive(ctx context.Context, id uint32, timeout time.Duration) (Frame, error) {
	deadline := time.Now().Add(timeout)
	discarded := 0

	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		if c.isClosed() {
			return Frame{}, &TransportError{Op: "receive", Err: ErrClosed}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Frame{}, &TimeoutError{ID: id, Timeout: timeout, Discarded: discarded}
		}
		wait := remaining
		if wait > c.pollInterval {
			wait = c.pollInterval
		}

		f, err := c.port.ReadFrame(wait)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				continue
			}
			return Frame{}, &TransportError{Op: "receive", Err: err}
		}

		if f.ID != id {
			discarded++
			c.logger.Debug("frame discarded",
				zap.Stringer("frame", f),
				zap.String("expected_id", fmt.Sprintf("0x%03X", id)),
			)
			continue
		}

		c.logger.Debug("frame received", zap.Stringer("frame", f))
		return f, nil
	}
}

// Close closes the underlying port. Further operations fail with ErrClosed.
func (c *Conn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.port.Close()
}

func (c *Conn) isClosed() bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closed
}
