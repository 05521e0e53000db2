package server

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/maildock/maildock/logger"
	"github.com/maildock/maildock/pkg/metrics"
	"github.com/maildock/maildock/server/idgen"
)

// DrainTimeout bounds how long Close waits for running handlers to finish.
const DrainTimeout = 30 * time.Second

// TrackingConnectionManager is the ConnectionManager used by the daemon. It
// tracks every forwarded connection in a map keyed by a generated ID, runs
// each protocol handler on its own goroutine with a per-connection context,
// and closes whatever is still live on CloseAll.
type TrackingConnectionManager struct {
	kind Kind
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	conns  map[string]net.Conn
	closed bool
}

// NewTrackingConnectionManager creates a manager for one protocol kind.
func NewTrackingConnectionManager(kind Kind) *TrackingConnectionManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &TrackingConnectionManager{
		kind:   kind,
		log:    logger.Get().With("protocol", string(kind)),
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[string]net.Conn),
	}
}

// CreateConnection takes ownership of conn and serves it with proto. The
// connection is closed when the handler returns or when CloseAll runs.
func (m *TrackingConnectionManager) CreateConnection(conn net.Conn, proto Protocol) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return
	}
	id := idgen.New()
	m.conns[id] = conn
	m.wg.Add(1)
	m.mu.Unlock()

	label := strings.ToLower(string(m.kind))
	metrics.ConnectionsTotal.WithLabelValues(label).Inc()
	metrics.ConnectionsCurrent.WithLabelValues(label).Inc()
	m.log.Debug("new connection", "id", id, "remote", conn.RemoteAddr())

	connCtx, connCancel := context.WithCancel(m.ctx)
	go func() {
		defer func() {
			connCancel()
			conn.Close()
			m.mu.Lock()
			delete(m.conns, id)
			m.mu.Unlock()
			metrics.ConnectionsCurrent.WithLabelValues(label).Dec()
			m.wg.Done()
		}()

		if err := proto.Serve(connCtx, conn); err != nil && !IsConnectionError(err) {
			m.log.Error("connection handler failed", "id", id, "error", err)
		}
		m.log.Debug("connection closed", "id", id)
	}()
}

// CloseAll closes every tracked connection. Handlers blocked on reads
// observe the closed connection and unwind on their own.
func (m *TrackingConnectionManager) CloseAll() {
	m.mu.Lock()
	conns := make([]net.Conn, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	if len(conns) == 0 {
		return
	}
	m.log.Debug("closing tracked connections", "count", len(conns))
	for _, conn := range conns {
		conn.Close()
	}
}

// Close shuts the manager down: cancels all handler contexts, closes live
// connections and waits for handlers to drain, bounded by DrainTimeout.
// Close is idempotent.
func (m *TrackingConnectionManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.CloseAll()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.log.Debug("all connections drained")
	case <-time.After(DrainTimeout):
		m.log.Debug("connection drain timeout, forcing shutdown", "timeout", DrainTimeout)
	}
	return nil
}

// Count returns the number of currently tracked connections.
func (m *TrackingConnectionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}
