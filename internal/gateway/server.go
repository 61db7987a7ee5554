package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/bamload/internal/bus"
	"github.com/muurk/bamload/internal/logging"
)

const (
	// Bounds each bus read so the pump notices shutdown
	pollInterval = 50 * time.Millisecond

	// Time allowed for graceful shutdown
	shutdownWait = 5 * time.Second
)

// Config holds the gateway configuration
type Config struct {
	Listen    string            // e.g. ":8765"
	Path      string            // WebSocket path, e.g. "/can"
	Name      string            // mDNS instance suffix (default: hostname)
	Advertise bool              // Register over mDNS
	Metadata  map[string]string // Extra TXT records (interface, channel, bitrate...)
}

// Server bridges one bus port to any number of WebSocket clients.
type Server struct {
	config   Config
	port     bus.Port
	upgrader websocket.Upgrader

	writeMu sync.Mutex // serializes port writes

	mu      sync.Mutex
	clients map[*client]struct{}
	closing bool // set once shutdown starts; guarded by mu
	wg      sync.WaitGroup

	framesFromBus    atomic.Uint64
	framesFromClient atomic.Uint64
}

// New creates a gateway for port.
func New(port bus.Port, config Config) *Server {
	if config.Path == "" {
		config.Path = "/can"
	}
	return &Server{
		config: config,
		port:   port,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Handler returns the HTTP handler serving the WebSocket endpoint and a
// JSON status page at /status.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.handleWS)
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	addr := ln.Addr().String()
	logging.Info("Starting CAN gateway",
		zap.String("addr", addr),
		zap.String("path", s.config.Path),
	)

	if s.config.Advertise {
		tcpAddr, ok := ln.Addr().(*net.TCPAddr)
		if !ok {
			return fmt.Errorf("cannot advertise non-TCP listener %s", addr)
		}
		adv, err := Advertise(s.config.Name, tcpAddr.Port, s.txt())
		if err != nil {
			// The gateway still works by URL.
			logging.Warn("mDNS advertisement failed", zap.Error(err))
		} else {
			defer adv.Shutdown()
		}
	}

	pumpDone := make(chan error, 1)
	go func() { pumpDone <- s.Pump(ctx) }()

	srv := &http.Server{Handler: s.Handler()}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	var result error
	select {
	case <-ctx.Done():
		logging.Info("Shutdown requested, stopping gateway...")
	case err := <-pumpDone:
		result = err
		pumpDone = nil
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			result = err
		}
		serveErr = nil
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), shutdownWait)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	s.closeClients()
	cancel()
	if pumpDone != nil {
		if err := <-pumpDone; err != nil && result == nil {
			result = err
		}
	}
	s.wg.Wait()
	logging.Sync()
	return result
}

// Pump forwards frames from the bus to every client until ctx is cancelled
// or the port fails.
func (s *Server) Pump(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		f, err := s.port.ReadFrame(pollInterval)
		if err != nil {
			if errors.Is(err, bus.ErrTimeout) {
				continue
			}
			if errors.Is(err, bus.ErrClosed) && ctx.Err() != nil {
				return nil
			}
			logging.Error("Bus read failed", zap.Error(err))
			return fmt.Errorf("bus read: %w", err)
		}
		s.framesFromBus.Add(1)
		logging.LogFrame("bus->clients", f)
		s.broadcast(nil, f)
	}
}

// forward writes a client frame to the bus and shows it to the other clients.
func (s *Server) forward(from *client, f bus.Frame) error {
	s.writeMu.Lock()
	err := s.port.WriteFrame(f)
	s.writeMu.Unlock()
	if err != nil {
		return err
	}
	s.framesFromClient.Add(1)
	logging.LogFrame("client->bus", f)
	s.broadcast(from, f)
	return nil
}

func (s *Server) broadcast(except *client, f bus.Frame) {
	raw, err := bus.MarshalGatewayFrame(f)
	if err != nil {
		logging.Warn("Cannot encode frame for clients", zap.Stringer("frame", f), zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		if c == except {
			continue
		}
		select {
		case c.send <- raw:
		default:
			logging.Warn("Client send queue full, dropping frame",
				zap.String("remote_addr", c.remoteAddr),
			)
		}
	}
}

// GetActiveConnections returns the number of connected clients
func (s *Server) GetActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Status is the body of /status.
type Status struct {
	Clients          int               `json:"clients"`
	FramesFromBus    uint64            `json:"frames_from_bus"`
	FramesFromClient uint64            `json:"frames_from_client"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Stats returns the current gateway status.
func (s *Server) Stats() Status {
	return Status{
		Clients:          s.GetActiveConnections(),
		FramesFromBus:    s.framesFromBus.Load(),
		FramesFromClient: s.framesFromClient.Load(),
		Metadata:         s.config.Metadata,
	}
}

// closeClients closes every connection and refuses new ones.
func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	for c := range s.clients {
		logging.Info("Closing active connection", zap.String("remote_addr", c.remoteAddr))
		_ = c.conn.Close()
	}
}
