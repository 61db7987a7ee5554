// Package wsgateway implements bus.Port against a remote CAN gateway reached
// over WebSocket. Every binary message carries one 13-byte gateway frame
// (see bus.MarshalGatewayFrame) in either direction.
package wsgateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/bamload/internal/bus"
)

const (
	// Time allowed to write one frame to the gateway
	writeWait = 5 * time.Second

	// Frames buffered between the reader goroutine and ReadFrame
	queueSize = 256
)

// Port is a WebSocket connection to a CAN gateway.
type Port struct {
	conn   *websocket.Conn
	logger *zap.Logger
	frames chan bus.Frame

	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// Dial connects to the gateway at rawURL (ws:// or wss://).
func Dial(ctx context.Context, rawURL string, logger *zap.Logger) (*Port, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("wsgateway: invalid URL %q: %w", rawURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("wsgateway: URL %q must use ws:// or wss://", rawURL)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("wsgateway: dial %s: %w", u.Redacted(), err)
	}
	logger = logger.With(zap.String("adapter", "ws"), zap.String("gateway", u.Host))
	logger.Info("Connected to CAN gateway")
	return newPort(conn, logger), nil
}

func newPort(conn *websocket.Conn, logger *zap.Logger) *Port {
	p := &Port{
		conn:   conn,
		logger: logger,
		frames: make(chan bus.Frame, queueSize),
		done:   make(chan struct{}),
	}
	go p.readLoop()
	return p
}

func (p *Port) readLoop() {
	defer p.shutdown(nil)
	for {
		mt, msg, err := p.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				p.logger.Debug("Gateway connection lost", zap.Error(err))
				p.shutdown(err)
			}
			return
		}
		if mt != websocket.BinaryMessage {
			p.logger.Debug("Ignoring non-binary message", zap.Int("type", mt))
			continue
		}
		f, err := bus.UnmarshalGatewayFrame(msg)
		if err != nil {
			p.logger.Debug("Ignoring malformed gateway frame", zap.Error(err))
			continue
		}
		select {
		case p.frames <- f:
		case <-p.done:
			return
		default:
			p.logger.Warn("Receive queue full, dropping frame", zap.Stringer("frame", f))
		}
	}
}

// WriteFrame sends f as one binary message.
func (p *Port) WriteFrame(f bus.Frame) error {
	raw, err := bus.MarshalGatewayFrame(f)
	if err != nil {
		return err
	}
	select {
	case <-p.done:
		return p.closedErr()
	default:
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("wsgateway: %w", err)
	}
	if err := p.conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
		return fmt.Errorf("wsgateway: write: %w", err)
	}
	return nil
}

// ReadFrame returns the next frame received from the gateway.
func (p *Port) ReadFrame(timeout time.Duration) (bus.Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-p.frames:
		return f, nil
	case <-p.done:
		// Frames that arrived before the connection dropped are still valid.
		select {
		case f := <-p.frames:
			return f, nil
		default:
		}
		return bus.Frame{}, p.closedErr()
	case <-timer.C:
		return bus.Frame{}, bus.ErrTimeout
	}
}

// Close sends a close message and tears down the connection.
func (p *Port) Close() error {
	p.writeMu.Lock()
	_ = p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	p.writeMu.Unlock()
	p.shutdown(nil)
	return nil
}

func (p *Port) shutdown(err error) {
	p.closeOnce.Do(func() {
		p.errMu.Lock()
		p.err = err
		p.errMu.Unlock()
		close(p.done)
		_ = p.conn.Close()
	})
}

func (p *Port) closedErr() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	if p.err != nil {
		return errors.Join(bus.ErrClosed, p.err)
	}
	return bus.ErrClosed
}
