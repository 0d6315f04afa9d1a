package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oszuidwest/zwfm-noisemonitor/internal/eventlog"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/metrics"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/state"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/types"
)

const (
	sendBufferSize = 16
	writeTimeout   = 10 * time.Second
	maxMessageSize = 4096 // control messages carry at most three short fields
)

// controlSession is one connected control client. The write loop is the only
// goroutine that writes to the connection.
type controlSession struct {
	conn       WebSocketConn
	remoteAddr string
	opened     time.Time

	send      chan any
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newControlSession(conn WebSocketConn, remoteAddr string) *controlSession {
	return &controlSession{
		conn:       conn,
		remoteAddr: remoteAddr,
		opened:     time.Now(),
		send:       make(chan any, sendBufferSize),
		done:       make(chan struct{}),
	}
}

// Publish implements state.Session. Events are dropped when the client is too
// slow to keep up or the session has been closed.
func (s *controlSession) Publish(event any) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- event:
		return true
	default:
		slog.Debug("control session buffer full, dropping event", "remote", s.remoteAddr)
		return false
	}
}

// Close implements state.Session. It is safe to call more than once.
func (s *controlSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *controlSession) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case event := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				slog.Debug("failed to set write deadline", "error", err)
			}
			if err := s.conn.WriteJSON(event); err != nil {
				slog.Debug("control session write failed", "remote", s.remoteAddr, "error", err)
				_ = s.Close()
				return
			}
		}
	}
}

// readLoop hands every inbound text frame to handle until the connection fails.
func (s *controlSession) readLoop(handle func(data []byte)) {
	s.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				slog.Warn("control message too large, closing session", "remote", s.remoteAddr, "limit", maxMessageSize)
			}
			return
		}
		handle(data)
	}
}

// Manager owns the lifecycle of control sessions. At most one session is
// active; a new connection displaces the current one.
type Manager struct {
	state    *state.State
	commands *CommandHandler
	metrics  *metrics.Metrics
	events   *eventlog.Logger

	wg sync.WaitGroup
}

// NewManager creates a session manager. events may be nil.
func NewManager(st *state.State, commands *CommandHandler, m *metrics.Metrics, events *eventlog.Logger) *Manager {
	return &Manager{
		state:    st,
		commands: commands,
		metrics:  m,
		events:   events,
	}
}

// HandleWebSocket upgrades the request and serves it as the active control session.
func (m *Manager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := UpgradeConnection(w, r)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	m.wg.Add(1)
	defer m.wg.Done()
	m.serve(conn, r.RemoteAddr)
}

// serve runs a session until its connection closes.
func (m *Manager) serve(conn WebSocketConn, remoteAddr string) {
	s := newControlSession(conn, remoteAddr)

	displaced := false
	if previous := m.state.SwapSession(s); previous != nil {
		displaced = true
		if err := previous.Close(); err != nil {
			slog.Debug("failed to close displaced session", "error", err)
		}
	}
	m.metrics.SessionsTotal.Inc()
	m.metrics.SessionsActive.Set(1)
	slog.Info("control session opened", "remote", remoteAddr, "displaced", displaced)
	m.logSession(eventlog.SessionOpened, s, displaced, 0)

	go s.writeLoop()
	s.readLoop(func(data []byte) { m.handleMessage(s, data) })
	_ = s.Close()

	if m.state.ClearSession(s) {
		m.metrics.SessionsActive.Set(0)
		slog.Info("control session closed, filter disabled", "remote", remoteAddr)
	} else {
		slog.Info("displaced control session closed", "remote", remoteAddr)
	}
	m.logSession(eventlog.SessionClosed, s, false, time.Since(s.opened))
}

func (m *Manager) handleMessage(s *controlSession, data []byte) {
	if m.state.ActiveSession() != s {
		return
	}

	msg, err := DecodeControlMessage(data)
	if err != nil {
		var verr *types.ValidationError
		if errors.As(err, &verr) {
			slog.Warn("ignored invalid control message", "errors", verr.Errors)
		} else {
			slog.Warn("ignored control message", "error", err)
		}
		return
	}

	m.commands.Apply(msg)
}

func (m *Manager) logSession(t eventlog.EventType, s *controlSession, displaced bool, d time.Duration) {
	if err := m.events.LogSession(t, s.remoteAddr, displaced, d); err != nil {
		slog.Warn("failed to log session event", "error", err)
	}
}

// Shutdown closes the active session and waits for session handlers and
// pending tone playback to finish, or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	if s := m.state.ActiveSession(); s != nil {
		_ = s.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		m.commands.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
