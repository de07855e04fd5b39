package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog"
	"github.com/simplenotes/notesync/internal/codec"
	"github.com/simplenotes/notesync/pkg/constants"
	"github.com/simplenotes/notesync/pkg/events"
	"github.com/simplenotes/notesync/pkg/notify"
)

// Manager owns the lifecycle of the realtime connection: authorization,
// heartbeats, bounded reconnection and routing of inbound frames.
//
// All state transitions happen on the goroutine running Run. Other goroutines
// talk to it through SetToken, Send, Close and the read-only accessors.
type Manager struct {
	cfg     *Config
	logger  zerolog.Logger
	retryer Retryer

	tokens  chan string
	dials   chan dialResult
	closing chan struct{}
	done    chan struct{}

	started   atomic.Bool
	closeOnce sync.Once

	mu     sync.RWMutex
	status Status
	// live is the open connection, shared with Send.
	live   Conn
	closed bool

	// revoked is written by the Run goroutine only.
	revoked string

	// Owned by the Run goroutine.
	state          State
	token          string
	fatal          bool
	terminal       bool
	attempts       int
	lastErr        error
	conn           Conn
	connID         string
	gen            uint64
	dialCancel     context.CancelFunc
	pingTimer      Timer
	deadTimer      Timer
	reconnectTimer Timer
}

type dialResult struct {
	gen  uint64
	conn Conn
	err  error
}

// NewManager validates cfg and returns an idle manager. Call Run to start it.
func NewManager(cfg *Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	retryer := cfg.Retryer
	if retryer == nil {
		retryer = NewFixedDelayRetryer(cfg.ReconnectInterval, 0)
	}

	m := &Manager{
		cfg:     cfg,
		logger:  cfg.Logger.With().Str("component", "connection").Logger(),
		retryer: retryer,
		tokens:  make(chan string, 1),
		dials:   make(chan dialResult),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	m.status = m.snapshot()
	if cfg.Token != "" {
		m.SetToken(cfg.Token)
	}
	return m, nil
}

// Run processes events until ctx ends or Close is called. It tears the
// connection down before returning. Run returns nil after Close and the
// context error otherwise.
func (m *Manager) Run(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("connection manager is already running")
	}
	defer close(m.done)

	select {
	case <-m.closing:
		m.teardown()
		return constants.ErrClosed
	default:
	}

	for {
		var frames <-chan []byte
		if m.conn != nil {
			frames = m.conn.Frames()
		}

		select {
		case <-ctx.Done():
			m.teardown()
			m.publishStatus()
			return ctx.Err()
		case <-m.closing:
			m.teardown()
			m.publishStatus()
			return nil
		case token := <-m.tokens:
			m.applyToken(token)
		case res := <-m.dials:
			m.onDial(res)
		case frame, ok := <-frames:
			if ok {
				m.onFrame(frame)
			} else {
				m.onConnEnd()
			}
		case <-timerC(m.pingTimer):
			m.onPing()
		case <-timerC(m.deadTimer):
			m.onDeadline()
		case <-timerC(m.reconnectTimer):
			m.reconnectTimer = nil
			m.dial()
		}
		m.publishStatus()
	}
}

// SetToken hands the manager a new authorization token. It never blocks;
// when several tokens are set before the loop picks them up, the last wins.
//
// An empty token tears down any connection. A token different from the
// current one clears a fatal condition, resets the attempt counter and
// (re)connects with it.
func (m *Manager) SetToken(token string) {
	for {
		select {
		case m.tokens <- token:
			return
		default:
		}
		select {
		case <-m.tokens:
		default:
		}
	}
}

// Send writes frame on the open connection.
func (m *Manager) Send(ctx context.Context, frame []byte) error {
	m.mu.RLock()
	conn, closed := m.live, m.closed
	m.mu.RUnlock()

	if closed {
		return constants.ErrClosed
	}
	if conn == nil {
		return constants.ErrNotOpen
	}
	return conn.Write(ctx, frame)
}

// Close stops the manager and waits for the teardown until ctx ends. It is
// safe to call more than once.
func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.closing)
	})

	if !m.started.Load() {
		return nil
	}
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the latest published status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) State() State {
	return m.Status().State
}

func (m *Manager) Fatal() bool {
	return m.Status().Fatal
}

// Revoked reports whether token is the one the server ended the session
// for. Such a token is ignored until a different one is supplied.
func (m *Manager) Revoked(token string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return token != "" && token == m.revoked
}

func (m *Manager) setRevoked(token string) {
	m.mu.Lock()
	m.revoked = token
	m.mu.Unlock()
}

func (m *Manager) applyToken(token string) {
	switch {
	case token == m.token:
		return
	case m.fatal && token == m.revoked:
		// The server ended the session for this token; only a new one revives it.
		m.logger.Debug().Msg("ignoring revoked token")
		return
	case token == "":
		m.token = ""
		m.logger.Info().Msg("token cleared, disconnecting")
		m.stopReconnect()
		m.dropConn()
		if m.state != StateUninstantiated {
			m.terminal = true
		}
		return
	}

	m.token = token
	m.fatal = false
	m.setRevoked("")
	m.terminal = false
	m.attempts = 0
	m.lastErr = nil
	m.stopReconnect()
	m.dropConn()
	m.dial()
}

func (m *Manager) dial() {
	m.transition(StateConnecting)

	u, err := m.cfg.dialURL(m.token)
	if err != nil {
		m.lastErr = err
		m.transition(StateClosed)
		m.scheduleReconnect()
		return
	}

	m.gen++
	gen := m.gen
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
	m.dialCancel = cancel

	m.logger.Debug().Int("attempt", m.attempts).Msg("dialing")

	go func() {
		defer cancel()
		conn, err := m.cfg.Transport.Dial(ctx, u)
		select {
		case m.dials <- dialResult{gen: gen, conn: conn, err: err}:
		case <-m.done:
			if conn != nil {
				_ = conn.Close(context.Background())
			}
		}
	}()
}

func (m *Manager) onDial(res dialResult) {
	if res.gen != m.gen || m.state != StateConnecting {
		// A dial that was superseded by a token change or teardown.
		if res.conn != nil {
			m.closeConn(res.conn)
		}
		return
	}
	m.dialCancel = nil

	if res.err != nil {
		m.lastErr = res.err
		m.logger.Warn().Err(res.err).Int("attempt", m.attempts).Msg("dial failed")
		m.transition(StateClosed)
		m.scheduleReconnect()
		return
	}

	m.conn = res.conn
	m.connID = uuid.Must(uuid.NewV4()).String()
	m.attempts = 0
	m.lastErr = nil
	m.transition(StateOpen)
	m.armHeartbeat()

	m.mu.Lock()
	m.live = res.conn
	m.mu.Unlock()

	m.logger.Info().Str("conn_id", m.connID).Msg("connection open")
}

func (m *Manager) onConnEnd() {
	err := m.conn.Err()
	m.forget()
	m.lastErr = err
	m.logger.Warn().Err(err).Str("conn_id", m.connID).Msg("connection lost")
	m.transition(StateClosed)
	m.scheduleReconnect()
}

func (m *Manager) onDeadline() {
	m.deadTimer = nil
	m.logger.Warn().
		Str("conn_id", m.connID).
		Dur("timeout", m.cfg.HeartbeatTimeout).
		Msg("no frame within heartbeat timeout, dropping connection")

	conn := m.conn
	m.forget()
	m.closeConn(conn)
	m.lastErr = fmt.Errorf("heartbeat: %w", constants.ErrTimeout)
	m.transition(StateClosed)
	m.scheduleReconnect()
}

func (m *Manager) onPing() {
	m.pingTimer = m.cfg.Clock.NewTimer(m.cfg.HeartbeatInterval)

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.WriteTimeout)
	defer cancel()
	if err := m.conn.Write(ctx, []byte(constants.HeartbeatPing)); err != nil {
		// The read side reports the broken connection.
		m.logger.Debug().Err(err).Str("conn_id", m.connID).Msg("heartbeat write failed")
	}
}

func (m *Manager) onFrame(frame []byte) {
	m.rearmDeadline()

	if t, ok := codec.FrameType(frame); ok && t == constants.HeartbeatAckType {
		return
	}

	env, err := m.cfg.Registry.Decode(frame)
	if err != nil {
		ev := m.logger.Warn().Err(err).Str("conn_id", m.connID)
		var verr *events.ValidationError
		if errors.As(err, &verr) && verr.Event != "" {
			ev = ev.Str("event", string(verr.Event))
		} else {
			ev = ev.Str("frame", codec.Snippet(frame, constants.MaxLoggedFrameBytes))
		}
		ev.Msg("inbound frame rejected")
		return
	}

	if m.cfg.Bus != nil {
		m.cfg.Bus.Publish(env.Type, env.Data)
	}

	switch env.Type {
	case events.SessionExpired:
		p, _ := events.Payload[events.SessionExpiredPayload](env)
		msg := p.Message
		if msg == "" {
			msg = "Your session has expired. Please sign in again."
		}
		m.endSession(func(n notify.Notifier) { n.Info("Session expired", msg) })
	case events.ConnectionKill:
		p, _ := events.Payload[events.ConnectionKillPayload](env)
		m.onKill(p)
	default:
		if m.cfg.Dispatcher != nil {
			m.cfg.Dispatcher.Dispatch(env)
		}
	}
}

func (m *Manager) onKill(p events.ConnectionKillPayload) {
	if !p.Code.Fatal() {
		m.logger.Info().Str("code", string(p.Code)).Msg("server will close idle connection")
		m.cfg.Notifier.Warn("Connection idle", "The server closed the connection due to inactivity. Reconnecting.")
		return
	}

	reason := p.Reason
	if reason == "" {
		if p.Code == events.KillCodeSuspended {
			reason = "Your account was suspended."
		} else {
			reason = "The server ended your session."
		}
	}
	m.logger.Warn().Str("code", string(p.Code)).Str("reason", p.Reason).Msg("connection killed by server")
	m.endSession(func(n notify.Notifier) { n.Error("Disconnected", reason) })
}

// endSession handles a session-ending signal: mark fatal, tell the user,
// close and log out.
func (m *Manager) endSession(notice func(notify.Notifier)) {
	m.fatal = true
	m.setRevoked(m.token)
	notice(m.cfg.Notifier)
	m.stopReconnect()
	m.dropConn()
	m.terminal = true
	if m.cfg.OnLogout != nil {
		m.cfg.OnLogout()
	}
}

func (m *Manager) scheduleReconnect() {
	switch {
	case m.fatal || m.token == "":
		m.terminal = true
		return
	case m.attempts >= m.cfg.MaxReconnectAttempts:
		m.terminal = true
		m.logger.Warn().Int("attempts", m.attempts).Msg("reconnect attempts exhausted")
		return
	}

	delay, ok := m.retryer.NextDelay(m.attempts, m.lastErr)
	if !ok {
		m.terminal = true
		m.logger.Warn().Int("attempts", m.attempts).Msg("retryer gave up")
		return
	}
	m.attempts++
	m.reconnectTimer = m.cfg.Clock.NewTimer(delay)
	m.logger.Info().Int("attempt", m.attempts).Dur("delay", delay).Msg("reconnect scheduled")
}

// teardown stops the heartbeat timers, then the pending reconnect, then the
// transport.
func (m *Manager) teardown() {
	m.stopHeartbeat()
	m.stopReconnect()
	m.dropConn()
	m.terminal = true
}

// dropConn closes the current connection or cancels a dial in progress as a
// client initiated close.
func (m *Manager) dropConn() {
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
		// Any late result is discarded by its generation.
		m.gen++
	}

	switch m.state {
	case StateOpen:
		conn := m.conn
		m.transition(StateClosing)
		m.forget()
		m.closeConn(conn)
		m.transition(StateClosed)
	case StateConnecting:
		m.transition(StateClosed)
	}
}

// forget detaches the current connection from the loop and from Send.
func (m *Manager) forget() {
	m.stopHeartbeat()
	m.conn = nil
	m.mu.Lock()
	m.live = nil
	m.mu.Unlock()
}

func (m *Manager) closeConn(conn Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.WriteTimeout)
	defer cancel()
	if err := conn.Close(ctx); err != nil {
		m.logger.Debug().Err(err).Msg("close failed")
	}
}

func (m *Manager) armHeartbeat() {
	if m.cfg.HeartbeatInterval <= 0 {
		return
	}
	m.pingTimer = m.cfg.Clock.NewTimer(m.cfg.HeartbeatInterval)
	m.deadTimer = m.cfg.Clock.NewTimer(m.cfg.HeartbeatTimeout)
}

func (m *Manager) rearmDeadline() {
	if m.deadTimer == nil {
		return
	}
	m.deadTimer.Stop()
	m.deadTimer = m.cfg.Clock.NewTimer(m.cfg.HeartbeatTimeout)
}

func (m *Manager) stopHeartbeat() {
	m.pingTimer = stop(m.pingTimer)
	m.deadTimer = stop(m.deadTimer)
}

func (m *Manager) stopReconnect() {
	m.reconnectTimer = stop(m.reconnectTimer)
}

func (m *Manager) transition(to State) {
	if m.state == to {
		return
	}
	if err := m.state.validateTransitionTo(to); err != nil {
		m.logger.Error().Err(err).Msg("BUG: unexpected state transition")
	}
	m.logger.Debug().Stringer("from", m.state).Stringer("to", to).Msg("state")
	m.state = to
}

func (m *Manager) snapshot() Status {
	s := Status{
		State:        m.state,
		Fatal:        m.fatal,
		Attempts:     m.attempts,
		Reconnecting: m.reconnectTimer != nil,
		Terminal:     m.terminal,
		ConnID:       m.connID,
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

func (m *Manager) publishStatus() {
	s := m.snapshot()

	m.mu.Lock()
	changed := s != m.status
	m.status = s
	m.mu.Unlock()

	if changed && m.cfg.OnStateChange != nil {
		m.cfg.OnStateChange(s)
	}
}

func stop(t Timer) Timer {
	if t != nil {
		t.Stop()
	}
	return nil
}

func timerC(t Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C()
}
