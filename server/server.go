// Package server implements the listener lifecycle for maildock's protocol
// endpoints. Each Server owns exactly one listening socket for one protocol
// kind, runs a self-re-arming accept loop, and hands accepted connections to
// a ConnectionManager paired with a freshly built protocol handler.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/maildock/maildock/logger"
	"github.com/maildock/maildock/pkg/metrics"
)

// ListenBacklog is the accept backlog requested for managed listeners.
const ListenBacklog = 20

// Kind identifies the protocol a listener serves.
type Kind string

const (
	KindSMTP Kind = "SMTP"
	KindPOP3 Kind = "POP3"
)

// Protocol handles a single accepted connection. Serve runs until the
// connection is done; the ConnectionManager closes the connection afterwards.
type Protocol interface {
	Serve(ctx context.Context, conn net.Conn) error
}

// ProtocolFactory builds a fresh Protocol instance for each accepted
// connection.
type ProtocolFactory func() Protocol

// ConnectionManager takes ownership of accepted connections. Once a
// connection is forwarded via CreateConnection the Server holds no further
// reference to it.
type ConnectionManager interface {
	CreateConnection(conn net.Conn, proto Protocol)
	CloseAll()
	Close() error
}

// ErrServerClosed is returned when Configure or Start is called on a Server
// that has been closed.
var ErrServerClosed = errors.New("server closed")

// Options holds optional Server settings.
type Options struct {
	Logger  *slog.Logger // defaults to the process logger
	Backlog int          // defaults to ListenBacklog
}

// Server binds and unbinds the listening socket for one protocol endpoint.
// Configure/Start/Stop/Close are serialized by the ops mutex; accept
// completions run on their own goroutines, so the active flag and the
// listener reference are only touched under mu.
type Server struct {
	kind    Kind
	factory ProtocolFactory
	backlog int
	log     *slog.Logger

	ops sync.Mutex // serializes controlling operations

	mu       sync.Mutex
	active   bool
	closed   bool
	bindHost string // resolved IP literal, "" for all interfaces
	bindPort int
	listener net.Listener
	manager  ConnectionManager
}

// New creates a Server for the given protocol kind. The factory and manager
// are bound for the lifetime of the Server.
func New(kind Kind, factory ProtocolFactory, manager ConnectionManager, options Options) *Server {
	log := options.Logger
	if log == nil {
		log = logger.Get()
	}
	backlog := options.Backlog
	if backlog == 0 {
		backlog = ListenBacklog
	}
	return &Server{
		kind:    kind,
		factory: factory,
		manager: manager,
		backlog: backlog,
		log:     log.With("protocol", string(kind)),
	}
}

// Kind returns the protocol kind this Server serves.
func (s *Server) Kind() Kind {
	return s.kind
}

// Active reports whether the accept loop is expected to keep re-arming.
func (s *Server) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Addr returns the bound listener address, or nil while inactive.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Configure stores the bind endpoint for the next start. The address may be
// empty or "any" (any casing) for all interfaces, otherwise it must be an IP
// literal. Reconfiguring is only allowed while inactive.
func (s *Server) Configure(address string, port int) error {
	s.ops.Lock()
	defer s.ops.Unlock()
	return s.configure(address, port)
}

func (s *Server) configure(address string, port int) error {
	host, err := ResolveBindAddress(address)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	if s.active {
		return fmt.Errorf("%s listener is active, stop it before reconfiguring", s.kind)
	}
	s.bindHost = host
	s.bindPort = port
	return nil
}

// Start stops any existing listener, applies the new endpoint and begins
// listening. Rebinding to a new address or port never leaks a prior socket.
func (s *Server) Start(address string, port int) error {
	s.ops.Lock()
	defer s.ops.Unlock()
	s.stop()
	if err := s.configure(address, port); err != nil {
		return err
	}
	return s.beginListening()
}

func (s *Server) beginListening() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.active = true
	prev := s.listener
	s.listener = nil
	addr := net.JoinHostPort(s.bindHost, strconv.Itoa(s.bindPort))
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	s.log.Info("starting server", "addr", addr)

	ln, err := listenWithBacklog(context.Background(), "tcp", addr, s.backlog)
	if err != nil {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
		return fmt.Errorf("failed to create %s listener on %s: %w", s.kind, addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.armAccept(ln)
	metrics.ListenerActive.WithLabelValues(s.protoLabel()).Set(1)
	s.log.Info("server ready, listening", "addr", ln.Addr().String())
	return nil
}

// armAccept schedules the next asynchronous accept against ln. Each accept
// runs on its own goroutine so no lock is held across the blocking Accept
// call.
func (s *Server) armAccept(ln net.Listener) {
	go s.acceptOne(ln)
}

// acceptOne handles one accept completion. A completion observed after the
// listener went inactive, or after the socket was replaced, is discarded
// without touching the manager and without re-arming; this is the guard
// against use-after-teardown races with Stop.
func (s *Server) acceptOne(ln net.Listener) {
	conn, err := ln.Accept()

	s.mu.Lock()
	live := s.active && s.listener == ln
	manager := s.manager
	s.mu.Unlock()

	if !live {
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		// Accept faults caused by deliberate teardown surface as
		// net.ErrClosed and stay quiet; anything else is logged and the
		// loop keeps going.
		if !errors.Is(err, net.ErrClosed) {
			s.log.Error("accept failed", "error", err)
		}
	} else {
		manager.CreateConnection(conn, s.factory())
	}

	s.mu.Lock()
	rearm := s.active && s.listener == ln
	s.mu.Unlock()
	if rearm {
		s.armAccept(ln)
	}
}

// Stop halts the accept loop, closes the listening socket and closes every
// connection the manager tracks. Stop is idempotent and never fails;
// teardown errors are logged and absorbed.
func (s *Server) Stop() {
	s.ops.Lock()
	defer s.ops.Unlock()
	s.stop()
}

func (s *Server) stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	// Flip inactive before touching the socket so in-flight accept
	// completions take the discard path.
	s.active = false
	ln := s.listener
	s.listener = nil
	manager := s.manager
	s.mu.Unlock()

	s.log.Info("stopping server")
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Error("failed to close listener", "error", err)
		}
	}
	if manager != nil {
		manager.CloseAll()
	}
	metrics.ListenerActive.WithLabelValues(s.protoLabel()).Set(0)
}

// Close stops the Server and releases the connection manager. The Server
// cannot be restarted afterwards. Close never fails; release errors are
// logged as warnings and absorbed.
func (s *Server) Close() {
	s.ops.Lock()
	defer s.ops.Unlock()
	s.stop()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ln := s.listener
	s.listener = nil
	manager := s.manager
	s.manager = nil
	s.mu.Unlock()

	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Warn("failed to release listener", "error", err)
		}
	}
	if manager != nil {
		if err := manager.Close(); err != nil {
			s.log.Warn("failed to release connection manager", "error", err)
		}
	}
}

func (s *Server) protoLabel() string {
	return strings.ToLower(string(s.kind))
}
