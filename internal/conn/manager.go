package conn

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/matheus3301/pairchat/internal/clock"
	"github.com/matheus3301/pairchat/internal/dispatch"
	"github.com/matheus3301/pairchat/internal/status"
	"github.com/matheus3301/pairchat/internal/transport"
	"github.com/matheus3301/pairchat/internal/wire"
	"go.uber.org/zap"
)

var (
	// ErrOpenTimeout is returned when the transport does not open in time.
	ErrOpenTimeout = errors.New("connection open timed out")
	// ErrConnectInProgress is returned when a dial is already running.
	ErrConnectInProgress = errors.New("connect already in progress")
	// ErrStopped is returned when Disconnect or StopReconnecting raced an in-flight dial.
	ErrStopped = errors.New("connection manager stopped")
	// ErrNoUser is returned by Connect without a user id.
	ErrNoUser = errors.New("user id is required")
	// ErrCredentialsRejected wraps an ERROR frame that rejected the session's credentials.
	ErrCredentialsRejected = errors.New("server rejected credentials")
)

// Config holds the connection timing knobs.
type Config struct {
	URL               string
	OpenTimeout       time.Duration
	HeartbeatInterval time.Duration
	HeartbeatCheck    time.Duration
	HeartbeatTimeout  time.Duration
	BackoffMin        time.Duration
	BackoffMax        time.Duration
	BackoffFactor     float64
}

// DefaultConfig returns the protocol defaults for the given gateway URL.
func DefaultConfig(rawURL string) Config {
	return Config{
		URL:               rawURL,
		OpenTimeout:       10 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		HeartbeatCheck:    time.Second,
		HeartbeatTimeout:  10 * time.Second,
		BackoffMin:        time.Second,
		BackoffMax:        30 * time.Second,
		BackoffFactor:     2,
	}
}

type notice struct {
	state status.State
	info  dispatch.Info
}

// Manager owns the single logical connection to the realtime gateway.
type Manager struct {
	cfg      Config
	dialer   transport.Dialer
	sched    clock.Scheduler
	machine  *status.Machine
	registry *dispatch.Registry
	token    func() string
	logger   *zap.Logger

	mu             sync.Mutex
	userID         string
	conn           transport.Conn
	gen            uint64
	dialing        bool
	reconnecting   bool
	stopped        bool
	backoff        *backoff.Backoff
	reconnectTimer clock.Timer
	heartbeatTimer clock.Timer
	checkTimer     clock.Timer
	pingSentAt     time.Time

	nmu      sync.Mutex
	queue    []notice
	draining bool
}

// NewManager creates a manager. token is read on every dial so refreshed
// credentials are picked up without rebuilding the manager.
func NewManager(
	cfg Config,
	dialer transport.Dialer,
	sched clock.Scheduler,
	machine *status.Machine,
	registry *dispatch.Registry,
	token func() string,
	logger *zap.Logger,
) *Manager {
	m := &Manager{
		cfg:      cfg,
		dialer:   dialer,
		sched:    sched,
		machine:  machine,
		registry: registry,
		token:    token,
		logger:   logger,
		backoff: &backoff.Backoff{
			Min:    cfg.BackoffMin,
			Max:    cfg.BackoffMax,
			Factor: cfg.BackoffFactor,
		},
	}
	registry.AddMessageHandler(wire.TypeHeartbeatAck, m)
	registry.AddMessageHandler(wire.TypeConnectionReplaced, m)
	registry.AddMessageHandler(wire.TypeError, m)
	return m
}

// Status returns the current connection state.
func (m *Manager) Status() status.State {
	return m.machine.Current()
}

// UserID returns the user the manager connects as.
func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

// Attempts returns the number of reconnect attempts since the last successful open.
func (m *Manager) Attempts() int {
	return int(m.backoff.Attempt())
}

// Connect opens the transport for userID. It returns immediately if already
// connected. A failed dial schedules background reconnects unless the
// credentials were rejected.
func (m *Manager) Connect(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrNoUser
	}
	m.mu.Lock()
	if m.conn != nil && m.machine.Current() == status.Connected {
		m.mu.Unlock()
		return nil
	}
	if m.dialing {
		m.mu.Unlock()
		return ErrConnectInProgress
	}
	m.userID = userID
	m.stopped = false
	m.stopReconnectTimerLocked()
	m.dialing = true
	m.setStateLocked(status.Connecting, dispatch.Info{Reason: "connect"})
	m.mu.Unlock()
	m.flush()

	return m.dial(ctx)
}

func (m *Manager) dial(ctx context.Context) error {
	m.mu.Lock()
	rawURL := m.buildURLLocked()
	m.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, m.cfg.OpenTimeout)
	c, err := m.dialer.Dial(dctx, rawURL)
	timedOut := errors.Is(dctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	cancel()

	m.mu.Lock()
	m.dialing = false
	if m.stopped {
		m.setStateLocked(status.Disconnected, dispatch.Info{Reason: "reconnect stopped"})
		m.mu.Unlock()
		if c != nil {
			_ = c.Close(transport.CloseNormal, "stopped")
		}
		m.flush()
		return ErrStopped
	}
	if err != nil {
		switch {
		case errors.Is(err, transport.ErrUnauthorized):
			m.stopped = true
			m.setStateLocked(status.Error, dispatch.Info{Reason: wire.ReasonAuthFailed, Err: err})
		case ctx.Err() != nil:
			err = ctx.Err()
			m.setStateLocked(status.Disconnected, dispatch.Info{Reason: "connect canceled", Err: err})
		default:
			if timedOut {
				err = fmt.Errorf("%w: %w", ErrOpenTimeout, err)
			}
			m.scheduleReconnectLocked("connect failed", err)
		}
		m.mu.Unlock()
		m.flush()
		m.logger.Warn("connect failed", zap.String("url", transport.Redact(rawURL)), zap.Error(err))
		return err
	}

	m.gen++
	gen := m.gen
	m.conn = c
	wasReconnecting := m.reconnecting
	m.reconnecting = false
	m.backoff.Reset()
	m.startHeartbeatLocked(gen)
	m.setStateLocked(status.Connected, dispatch.Info{WasReconnecting: wasReconnecting})
	m.mu.Unlock()

	m.logger.Info("connected", zap.String("url", transport.Redact(rawURL)), zap.Bool("reconnect", wasReconnecting))
	m.flush()
	go m.readLoop(c, gen)
	return nil
}

// Disconnect closes the transport cleanly. A clean close never reconnects.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopped = true
	m.reconnecting = false
	m.stopReconnectTimerLocked()
	m.backoff.Reset()
	c := m.detachLocked()
	m.setStateLocked(status.Disconnected, dispatch.Info{Reason: "disconnect"})
	m.mu.Unlock()

	if c != nil {
		_ = c.Close(transport.CloseNormal, "client disconnect")
	}
	m.flush()
}

// StopReconnecting cancels any scheduled reconnect and resets the backoff.
func (m *Manager) StopReconnecting() {
	m.mu.Lock()
	m.stopped = true
	m.reconnecting = false
	m.stopReconnectTimerLocked()
	m.backoff.Reset()
	if m.conn == nil && !m.dialing && m.machine.Current() == status.Connecting {
		m.setStateLocked(status.Disconnected, dispatch.Info{Reason: "reconnect stopped"})
	}
	m.mu.Unlock()
	m.flush()
}

// Send writes one raw frame. It returns false if the transport is not open.
// A write failure tears the connection down and schedules a reconnect.
func (m *Manager) Send(data []byte) bool {
	m.mu.Lock()
	c, gen := m.conn, m.gen
	open := c != nil && m.machine.Current() == status.Connected
	m.mu.Unlock()
	if !open {
		return false
	}
	if err := c.WriteMessage(data); err != nil {
		m.handleSendFailure(gen, err)
		return false
	}
	return true
}

// SendFrame encodes and writes a client frame.
func (m *Manager) SendFrame(f wire.Frame) bool {
	data, err := wire.Encode(f)
	if err != nil {
		m.logger.Error("encode frame", zap.String("type", string(f.Type())), zap.Error(err))
		return false
	}
	return m.Send(data)
}

// HandleFrame consumes the frames the manager itself reacts to.
func (m *Manager) HandleFrame(f wire.Frame) error {
	switch f := f.(type) {
	case *wire.HeartbeatAck:
		m.mu.Lock()
		m.pingSentAt = time.Time{}
		m.mu.Unlock()
	case *wire.ConnectionReplaced:
		m.logger.Warn("session replaced by another connection", zap.String("content", f.Content))
		m.Disconnect()
	case *wire.Error:
		if f.IsAuthFailure() {
			m.failAuth(fmt.Errorf("%w: %s", ErrCredentialsRejected, f.Content))
		}
	}
	return nil
}

func (m *Manager) failAuth(err error) {
	m.mu.Lock()
	m.stopped = true
	m.reconnecting = false
	m.stopReconnectTimerLocked()
	m.backoff.Reset()
	c := m.detachLocked()
	m.setStateLocked(status.Error, dispatch.Info{Reason: wire.ReasonAuthFailed, Err: err})
	m.mu.Unlock()

	m.logger.Error("authentication rejected", zap.Error(err))
	if c != nil {
		_ = c.Close(transport.CloseNormal, "auth failed")
	}
	m.flush()
}

func (m *Manager) readLoop(c transport.Conn, gen uint64) {
	for {
		data, err := c.ReadMessage()
		if err != nil {
			m.handleClosed(gen, err)
			return
		}
		m.registry.Dispatch(data)
	}
}

func (m *Manager) handleClosed(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen || m.conn == nil {
		m.mu.Unlock()
		return
	}
	m.detachLocked()
	if transport.IsCleanClose(err) {
		m.setStateLocked(status.Disconnected, dispatch.Info{Reason: "closed by server"})
		m.logger.Info("connection closed cleanly")
	} else {
		m.logger.Warn("connection lost", zap.Error(err))
		m.scheduleReconnectLocked("connection lost", err)
	}
	m.mu.Unlock()
	m.flush()
}

func (m *Manager) handleSendFailure(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen || m.conn == nil {
		m.mu.Unlock()
		return
	}
	c := m.detachLocked()
	m.setStateLocked(status.Disconnected, dispatch.Info{Reason: "send failed", Err: err})
	m.scheduleReconnectLocked("send failed", err)
	m.mu.Unlock()

	m.logger.Warn("send failed", zap.Error(err))
	_ = c.Close(transport.CloseHeartbeatTimeout, "send failed")
	m.flush()
}

func (m *Manager) startHeartbeatLocked(gen uint64) {
	m.pingSentAt = time.Time{}
	m.heartbeatTimer = m.sched.Every(m.cfg.HeartbeatInterval, func() { m.sendHeartbeat(gen) })
	m.checkTimer = m.sched.Every(m.cfg.HeartbeatCheck, func() { m.checkHeartbeat(gen) })
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatTimer != nil {
		m.heartbeatTimer.Stop()
		m.heartbeatTimer = nil
	}
	if m.checkTimer != nil {
		m.checkTimer.Stop()
		m.checkTimer = nil
	}
	m.pingSentAt = time.Time{}
}

func (m *Manager) sendHeartbeat(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.conn == nil {
		m.mu.Unlock()
		return
	}
	now := m.sched.Now()
	if m.pingSentAt.IsZero() {
		m.pingSentAt = now
	}
	m.mu.Unlock()

	m.SendFrame(&wire.Heartbeat{Timestamp: now.UnixMilli()})
}

func (m *Manager) checkHeartbeat(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.conn == nil || m.pingSentAt.IsZero() {
		m.mu.Unlock()
		return
	}
	elapsed := m.sched.Now().Sub(m.pingSentAt)
	if elapsed <= m.cfg.HeartbeatTimeout {
		m.mu.Unlock()
		return
	}
	c := m.detachLocked()
	m.scheduleReconnectLocked("heartbeat timeout", nil)
	m.mu.Unlock()

	m.logger.Warn("heartbeat timed out", zap.Duration("elapsed", elapsed))
	_ = c.Close(transport.CloseHeartbeatTimeout, "heartbeat timeout")
	m.flush()
}

// detachLocked forgets the live transport so its read loop's exit is ignored.
func (m *Manager) detachLocked() transport.Conn {
	c := m.conn
	m.conn = nil
	m.gen++
	m.stopHeartbeatLocked()
	return c
}

func (m *Manager) scheduleReconnectLocked(reason string, err error) {
	if m.stopped || m.reconnectTimer != nil {
		return
	}
	m.reconnecting = true
	delay := m.backoff.Duration()
	attempt := int(m.backoff.Attempt())
	m.setStateLocked(status.Connecting, dispatch.Info{Attempt: attempt, Reason: reason, Err: err})
	m.reconnectTimer = m.sched.AfterFunc(delay, m.attemptReconnect)
	m.logger.Info("reconnect scheduled", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.String("reason", reason))
}

func (m *Manager) stopReconnectTimerLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *Manager) attemptReconnect() {
	m.mu.Lock()
	m.reconnectTimer = nil
	if m.stopped || m.conn != nil || m.dialing {
		m.mu.Unlock()
		return
	}
	m.dialing = true
	m.mu.Unlock()

	_ = m.dial(context.Background())
}

func (m *Manager) buildURLLocked() string {
	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		return m.cfg.URL
	}
	q := u.Query()
	q.Set("userId", m.userID)
	if m.token != nil {
		if tok := m.token(); tok != "" {
			q.Set("token", tok)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// setStateLocked records a transition and queues its notification. Repeated
// CONNECTING is still announced so listeners see each reconnect attempt.
func (m *Manager) setStateLocked(to status.State, info dispatch.Info) {
	err := m.machine.Transition(to)
	switch {
	case errors.Is(err, status.ErrUnchanged):
		if to != status.Connecting {
			return
		}
	case err != nil:
		m.logger.Warn("rejected state transition", zap.Error(err))
		return
	}
	m.nmu.Lock()
	m.queue = append(m.queue, notice{state: to, info: info})
	m.nmu.Unlock()
}

// flush delivers queued notifications in order. A listener that calls back
// into the manager queues behind the notification being delivered.
func (m *Manager) flush() {
	m.nmu.Lock()
	if m.draining {
		m.nmu.Unlock()
		return
	}
	m.draining = true
	for len(m.queue) > 0 {
		n := m.queue[0]
		m.queue = m.queue[1:]
		m.nmu.Unlock()
		m.registry.NotifyConnection(n.state, n.info)
		m.nmu.Lock()
	}
	m.draining = false
	m.nmu.Unlock()
}
