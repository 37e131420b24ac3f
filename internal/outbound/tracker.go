package outbound

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/pairchat/internal/clock"
	"github.com/matheus3301/pairchat/internal/wire"
	"go.uber.org/zap"
)

// DefaultAckTimeout is how long a send may stay unacknowledged.
const DefaultAckTimeout = 30 * time.Second

// Ack is emitted when the server confirms a send.
type Ack struct {
	TempID     string
	MessageID  string
	ChatID     string
	SenderID   string
	ReceiverID string
	Timestamp  int64
	// Late is set when the ack arrived after the send timed out or was never tracked.
	Late bool
}

// SendError is emitted when the server rejects a pending send.
type SendError struct {
	TempID string
	Reason string
}

// Listener receives the terminal outcome of each tracked send.
type Listener interface {
	OnAck(ack Ack)
	OnTimeout(tempID string)
	OnSendError(err SendError)
}

type entry struct {
	msg       *wire.ChatMessage
	createdAt time.Time
	timer     clock.Timer
}

// Tracker holds outbound chat messages awaiting acknowledgment.
type Tracker struct {
	mu        sync.Mutex
	pending   map[string]*entry
	listeners []Listener
	sched     clock.Scheduler
	timeout   time.Duration
	logger    *zap.Logger
}

// NewTracker creates a tracker that fails sends not acknowledged within timeout.
func NewTracker(sched clock.Scheduler, timeout time.Duration, logger *zap.Logger) *Tracker {
	if timeout <= 0 {
		timeout = DefaultAckTimeout
	}
	return &Tracker{
		pending: make(map[string]*entry),
		sched:   sched,
		timeout: timeout,
		logger:  logger,
	}
}

// NewTempID returns a process-unique placeholder id for an unacknowledged message.
func NewTempID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("temp_%d_%s", now.UnixMilli(), suffix)
}

// AddListener subscribes l to ack, timeout and error outcomes.
func (t *Tracker) AddListener(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// Track registers msg as pending and starts its ack timeout. A missing temp id
// is generated and written back to msg. Tracking an id that is already pending
// replaces the old entry and its timer.
func (t *Tracker) Track(msg *wire.ChatMessage) string {
	now := t.sched.Now()
	if msg.TempMessageID == "" {
		msg.TempMessageID = NewTempID(now)
	}
	id := msg.TempMessageID

	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.pending[id]; ok {
		old.timer.Stop()
	}
	e := &entry{msg: msg, createdAt: now}
	e.timer = t.sched.AfterFunc(t.timeout, func() { t.expire(id, e) })
	t.pending[id] = e
	return id
}

// Untrack drops a pending entry without emitting anything.
func (t *Tracker) Untrack(tempID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.pending[tempID]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(t.pending, tempID)
	return true
}

// IsPending reports whether tempID is awaiting acknowledgment.
func (t *Tracker) IsPending(tempID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[tempID]
	return ok
}

// Len returns the number of pending sends.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// HandleFrame consumes MESSAGE_ACK and ERROR frames.
func (t *Tracker) HandleFrame(f wire.Frame) error {
	switch f := f.(type) {
	case *wire.MessageAck:
		t.handleAck(f)
	case *wire.Error:
		t.handleError(f)
	}
	return nil
}

func (t *Tracker) handleAck(f *wire.MessageAck) {
	if f.TempMessageID == "" {
		return
	}
	t.mu.Lock()
	e, ok := t.pending[f.TempMessageID]
	if ok {
		e.timer.Stop()
		delete(t.pending, f.TempMessageID)
	}
	listeners := t.listeners
	t.mu.Unlock()

	ack := Ack{
		TempID:     f.TempMessageID,
		MessageID:  f.MessageID,
		ChatID:     f.ChatID,
		SenderID:   f.SenderID,
		ReceiverID: f.ReceiverID,
		Timestamp:  f.Timestamp,
		Late:       !ok,
	}
	if ack.Late {
		t.logger.Info("late ack for untracked send", zap.String("temp_id", f.TempMessageID), zap.String("message_id", f.MessageID))
	} else {
		t.logger.Debug("send acknowledged",
			zap.String("temp_id", f.TempMessageID),
			zap.String("message_id", f.MessageID),
			zap.Duration("latency", t.sched.Now().Sub(e.createdAt)))
	}
	for _, l := range listeners {
		l.OnAck(ack)
	}
}

func (t *Tracker) handleError(f *wire.Error) {
	if f.TempMessageID == "" {
		return
	}
	t.mu.Lock()
	e, ok := t.pending[f.TempMessageID]
	if ok {
		e.timer.Stop()
		delete(t.pending, f.TempMessageID)
	}
	listeners := t.listeners
	t.mu.Unlock()

	if !ok {
		t.logger.Debug("error for untracked send", zap.String("temp_id", f.TempMessageID))
		return
	}
	t.logger.Warn("send rejected", zap.String("temp_id", f.TempMessageID), zap.String("reason", f.Content))
	for _, l := range listeners {
		l.OnSendError(SendError{TempID: f.TempMessageID, Reason: f.Content})
	}
}

func (t *Tracker) expire(id string, e *entry) {
	t.mu.Lock()
	if cur, ok := t.pending[id]; !ok || cur != e {
		t.mu.Unlock()
		return
	}
	delete(t.pending, id)
	listeners := t.listeners
	t.mu.Unlock()

	t.logger.Warn("send timed out", zap.String("temp_id", id), zap.Duration("timeout", t.timeout))
	for _, l := range listeners {
		l.OnTimeout(id)
	}
}

// Stop cancels every pending timeout without emitting events.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, e := range t.pending {
		e.timer.Stop()
		delete(t.pending, id)
	}
}
