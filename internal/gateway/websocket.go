package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/bamload/internal/bus"
	"github.com/muurk/bamload/internal/logging"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 5 * time.Second

	// Frames queued per client before new ones are dropped
	sendQueue = 256

	// Maximum message size allowed from peer
	maxMessageSize = 64
)

type client struct {
	conn       *websocket.Conn
	remoteAddr string
	send       chan []byte
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("WebSocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	c := &client{
		conn:       conn,
		remoteAddr: r.RemoteAddr,
		send:       make(chan []byte, sendQueue),
	}

	// Shutdown does not wait for hijacked connections, so registration and
	// wg.Add happen under mu and stop once closeClients has run.
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		logging.LogConnection(c.remoteAddr, "websocket_rejected")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "gateway shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	s.wg.Add(2)
	s.mu.Unlock()
	logging.LogConnection(c.remoteAddr, "websocket_upgraded")

	go func() {
		defer s.wg.Done()
		s.writeLoop(c)
	}()
	go func() {
		defer s.wg.Done()
		s.readLoop(c)
	}()
}

// readLoop forwards binary messages from one client to the bus.
func (s *Server) readLoop(c *client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		close(c.send)
		logging.LogConnection(c.remoteAddr, "websocket_closed")
	}()

	for {
		mt, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Info("Connection closed or error reading frame",
					zap.String("remote_addr", c.remoteAddr),
					zap.Error(err),
				)
			}
			return
		}
		if mt != websocket.BinaryMessage {
			logging.Debug("Ignoring non-binary message",
				zap.String("remote_addr", c.remoteAddr),
				zap.Int("type", mt),
			)
			continue
		}
		logging.LogRawBytes("gateway frame from client", msg)

		f, err := bus.UnmarshalGatewayFrame(msg)
		if err != nil {
			logging.Warn("Invalid gateway frame",
				zap.String("remote_addr", c.remoteAddr),
				zap.Error(err),
			)
			continue
		}
		if err := s.forward(c, f); err != nil {
			logging.Error("Bus write failed",
				zap.String("remote_addr", c.remoteAddr),
				zap.Stringer("frame", f),
				zap.Error(err),
			)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "bus write failed"),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (s *Server) writeLoop(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return
		}
		if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			logging.Debug("Client write failed",
				zap.String("remote_addr", c.remoteAddr),
				zap.Error(err),
			)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Stats()); err != nil {
		logging.Debug("Failed to write status", zap.Error(err))
	}
}
