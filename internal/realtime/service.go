package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/matheus3301/pairchat/internal/bus"
	"github.com/matheus3301/pairchat/internal/clock"
	"github.com/matheus3301/pairchat/internal/conn"
	"github.com/matheus3301/pairchat/internal/dispatch"
	"github.com/matheus3301/pairchat/internal/outbound"
	"github.com/matheus3301/pairchat/internal/status"
	"github.com/matheus3301/pairchat/internal/transport"
	"github.com/matheus3301/pairchat/internal/wire"
	"go.uber.org/zap"
)

// ErrNotStarted is returned by Connect before Start or after Stop.
var ErrNotStarted = errors.New("realtime service not started")

// Config configures the realtime service.
type Config struct {
	Conn       conn.Config
	AckTimeout time.Duration
}

// Service composes the connection manager, dispatch registry and outbound
// tracker behind one lifecycle.
type Service struct {
	registry *dispatch.Registry
	machine  *status.Machine
	manager  *conn.Manager
	tracker  *outbound.Tracker
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New wires a realtime service. token is consulted on every dial.
func New(cfg Config, dialer transport.Dialer, sched clock.Scheduler, b *bus.Bus, token func() string, logger *zap.Logger) *Service {
	registry := dispatch.New(logger.Named("dispatch"))
	machine := status.NewMachine(b)
	tracker := outbound.NewTracker(sched, cfg.AckTimeout, logger.Named("outbound"))
	registry.AddMessageHandler(wire.TypeMessageAck, tracker)
	registry.AddMessageHandler(wire.TypeError, tracker)

	return &Service{
		registry: registry,
		machine:  machine,
		manager:  conn.NewManager(cfg.Conn, dialer, sched, machine, registry, token, logger.Named("conn")),
		tracker:  tracker,
		logger:   logger,
	}
}

// Start enables Connect. The context bounds every connect issued later.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.logger.Info("realtime service started")
	return nil
}

// Stop closes the connection cleanly, cancels reconnects and drops pending sends.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.manager.StopReconnecting()
	s.manager.Disconnect()
	s.tracker.Stop()
	s.logger.Info("realtime service stopped")
}

// Connect opens the realtime connection for userID.
func (s *Service) Connect(ctx context.Context, userID string) error {
	s.mu.Lock()
	running, base := s.running, s.ctx
	s.mu.Unlock()
	if !running {
		return ErrNotStarted
	}
	ctx, cancel := mergeCancel(ctx, base)
	defer cancel()
	return s.manager.Connect(ctx, userID)
}

// Disconnect closes the connection cleanly. It does not reconnect.
func (s *Service) Disconnect() {
	s.manager.Disconnect()
}

// StopReconnecting cancels scheduled reconnect attempts.
func (s *Service) StopReconnecting() {
	s.manager.StopReconnecting()
}

// Status returns the connection state.
func (s *Service) Status() status.State {
	return s.manager.Status()
}

// Attempts returns the current reconnect attempt count.
func (s *Service) Attempts() int {
	return s.manager.Attempts()
}

// UserID returns the user the connection belongs to.
func (s *Service) UserID() string {
	return s.manager.UserID()
}

// SendChat tracks msg for acknowledgment and writes it. It returns false, with
// nothing left pending, when the transport is not open or the write fails.
func (s *Service) SendChat(msg *wire.ChatMessage) bool {
	if s.manager.Status() != status.Connected {
		return false
	}
	id := s.tracker.Track(msg)
	if !s.manager.SendFrame(msg) {
		s.tracker.Untrack(id)
		return false
	}
	return true
}

// SendReadReceipt writes a read receipt frame.
func (s *Service) SendReadReceipt(r *wire.ReadReceipt) bool {
	return s.manager.SendFrame(r)
}

// Registry exposes the frame and connection handler registry.
func (s *Service) Registry() *dispatch.Registry {
	return s.registry
}

// Tracker exposes the outbound tracker for ack listeners.
func (s *Service) Tracker() *outbound.Tracker {
	return s.tracker
}

// mergeCancel returns a context derived from ctx that is also canceled when base is.
func mergeCancel(ctx, base context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
