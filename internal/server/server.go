// Package server implements the control-protocol server: it accepts one
// local client connection at a time, frames the byte stream, drives the
// read/dispatch/write loop, and once per iteration relays buffered session
// events to the client.
//
// The loop deliberately polls instead of blocking on reads: the read
// deadline is bounded by the poll interval so that inbound IM events reach
// the client even when it sends no commands. A second client connecting
// while one is served waits in the accept backlog; connections are never
// interleaved.
package server

import (
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/mfriedr/chatterd/internal/account"
	"github.com/mfriedr/chatterd/internal/dispatch"
	"github.com/mfriedr/chatterd/internal/event"
	"github.com/mfriedr/chatterd/internal/wire"
)

const (
	// DefaultPollInterval bounds the per-iteration socket wait so buffered
	// session events are relayed even with no client input.
	DefaultPollInterval = 100 * time.Millisecond

	writeTimeout   = 5 * time.Second
	readBufferSize = 4096
	socketFileMode = 0o600
)

// Config selects the transport and timing of the server.
type Config struct {
	// Network is "tcp" or "unix".
	Network string
	// Address is the bind address ("host:port") for tcp, or the socket
	// file path for unix.
	Address string
	// PollInterval bounds one iteration of the connection loop.
	PollInterval time.Duration
}

// Server is the control-protocol server.
type Server struct {
	cfg        Config
	registry   *account.Registry
	events     *event.Registry
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
	metrics    *Metrics

	ln        net.Listener
	readyCh   chan struct{}
	closeOnce sync.Once
}

// New creates a server. Call Listen before Serve.
func New(cfg Config, registry *account.Registry, events *event.Registry,
	dispatcher *dispatch.Dispatcher, logger *slog.Logger) *Server {

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Server{
		cfg:        cfg,
		registry:   registry,
		events:     events,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    NewMetrics(),
		readyCh:    make(chan struct{}),
	}
}

// Listen binds the configured endpoint. For the unix transport a stale
// socket file from a previous run is removed first and the new socket is
// restricted to the owner.
func (s *Server) Listen() error {
	switch s.cfg.Network {
	case "unix":
		if err := os.Remove(s.cfg.Address); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		ln, err := net.Listen("unix", s.cfg.Address)
		if err != nil {
			return err
		}
		if err := os.Chmod(s.cfg.Address, socketFileMode); err != nil {
			_ = ln.Close()
			return err
		}
		s.ln = ln

	default:
		ln, err := net.Listen("tcp", s.cfg.Address)
		if err != nil {
			return err
		}
		s.ln = ln
	}

	close(s.readyCh)
	s.logger.Info("server listening", "network", s.cfg.Network, "address", s.ln.Addr().String())
	return nil
}

// Ready is closed once the listener is bound. Tests use it to avoid racing
// the first dial against Listen.
func (s *Server) Ready() <-chan struct{} {
	return s.readyCh
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve accepts and handles connections until the listener is closed or a
// client issues the quit command. It returns nil on both shutdown paths.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("failed to accept connection", "error", err)
			continue
		}

		if shutdown := s.handleConn(conn); shutdown {
			return nil
		}
	}
}

// Close shuts the listener down and removes the unix socket file. Safe to
// call more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		if s.ln != nil {
			_ = s.ln.Close()
		}
		if s.cfg.Network == "unix" {
			_ = os.Remove(s.cfg.Address)
		}
		s.logger.Info("server stopped",
			"connections", s.metrics.TotalConnections.Load(),
			"frames", s.metrics.FramesDispatched.Load(),
			"events_relayed", s.metrics.EventsRelayed.Load())
	})
}

// handleConn drives one client connection. It returns true when the client
// requested full process shutdown.
func (s *Server) handleConn(conn net.Conn) (shutdown bool) {
	defer func() { _ = conn.Close() }()

	s.metrics.TotalConnections.Add(1)
	remoteAddr := conn.RemoteAddr().String()
	s.logger.Info("client connected", "remote_addr", remoteAddr)
	defer func() {
		s.logger.Info("client disconnected", "remote_addr", remoteAddr,
			"frames", s.metrics.FramesDispatched.Load(),
			"events_relayed", s.metrics.EventsRelayed.Load())
	}()

	var fb wire.FrameBuffer
	buf := make([]byte, readBufferSize)

	for {
		// Relay buffered session events before waiting for input, so
		// inbound messages flow even from an idle client's perspective.
		if err := s.relayEvents(conn); err != nil {
			s.logger.Error("failed to relay events", "error", err, "remote_addr", remoteAddr)
			return false
		}

		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.PollInterval)); err != nil {
			s.logger.Error("failed to set read deadline", "error", err, "remote_addr", remoteAddr)
			return false
		}

		n, err := conn.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			// EOF and socket errors both drop the connection, never the
			// process.
			return false
		}
		fb.Feed(buf[:n])

		for {
			frame, ok, err := fb.Next()
			if err != nil {
				// Undecodable bytes are fatal to the connection.
				s.logger.Error("dropping client", "error", err, "remote_addr", remoteAddr)
				return false
			}
			if !ok {
				break
			}

			reply, action := s.dispatcher.Handle(frame)
			s.metrics.FramesDispatched.Add(1)

			if reply != "" {
				if err := s.writeFrame(conn, reply); err != nil {
					s.logger.Error("failed to write reply", "error", err, "remote_addr", remoteAddr)
					return false
				}
			}

			switch action {
			case dispatch.ActionCloseConn:
				return false
			case dispatch.ActionShutdown:
				return true
			}
		}
	}
}

// relayEvents drains every session's buffered inbound events into the
// client stream, one account at a time in id order.
func (s *Server) relayEvents(conn net.Conn) error {
	for _, acct := range s.registry.List() {
		messages := s.events.Dispatch(acct, event.GetMessages, nil)
		if messages == "" {
			continue
		}
		if err := s.writeFrame(conn, messages); err != nil {
			return err
		}
		s.metrics.EventsRelayed.Add(1)
	}
	return nil
}

func (s *Server) writeFrame(conn net.Conn, reply string) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := conn.Write([]byte(reply + wire.EOM))
	return err
}
