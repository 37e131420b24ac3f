package receipts

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/pairchat/internal/chat"
	"github.com/matheus3301/pairchat/internal/clock"
	"github.com/matheus3301/pairchat/internal/restapi"
	"github.com/matheus3301/pairchat/internal/wire"
	"go.uber.org/zap"
)

// Defaults for receipt emission.
const (
	DefaultDelay   = 100 * time.Millisecond
	DefaultTimeout = 10 * time.Second
)

// View exposes the state a receipt decision depends on. It is read at the
// moment of each decision, never cached.
type View interface {
	UserID() string
	OpenChatID() string
}

// Sender writes receipts over the live connection.
type Sender interface {
	SendReadReceipt(r *wire.ReadReceipt) bool
}

// Marker marks messages read over REST.
type Marker interface {
	MarkRead(ctx context.Context, req restapi.MarkReadRequest) error
}

// Coordinator emits read receipts for messages the local user has seen.
type Coordinator struct {
	view    View
	ws      Sender
	rest    Marker
	sched   clock.Scheduler
	delay   time.Duration
	timeout time.Duration
	logger  *zap.Logger

	wg sync.WaitGroup
}

// New creates a coordinator. rest may be nil, in which case a failed
// WebSocket send is dropped.
func New(view View, ws Sender, rest Marker, sched clock.Scheduler, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		view:    view,
		ws:      ws,
		rest:    rest,
		sched:   sched,
		delay:   DefaultDelay,
		timeout: DefaultTimeout,
		logger:  logger,
	}
}

// SetDelay overrides the pause between receiving a message and acknowledging it.
func (c *Coordinator) SetDelay(d time.Duration) {
	c.delay = d
}

// Eligible reports whether msg may be acknowledged now: it was written by
// someone else and belongs to the open conversation.
func (c *Coordinator) Eligible(msg chat.Message) bool {
	self := c.view.UserID()
	if self == "" || msg.SenderID == self {
		return false
	}
	if msg.ID == "" || strings.HasPrefix(msg.ID, "temp_") {
		return false
	}
	return msg.ChatID != "" && msg.ChatID == c.view.OpenChatID()
}

// Schedule emits a receipt for msg after the configured delay. It returns
// false if msg is not eligible.
func (c *Coordinator) Schedule(msg chat.Message) bool {
	if !c.Eligible(msg) {
		return false
	}
	c.sched.AfterFunc(c.delay, func() { c.Emit(msg) })
	return true
}

// Emit sends a receipt for msg, over the WebSocket when possible and over
// REST otherwise. Eligibility is checked again since the open conversation
// may have changed. The REST fallback runs in the background; its failure is
// logged and dropped.
func (c *Coordinator) Emit(msg chat.Message) bool {
	if !c.Eligible(msg) {
		return false
	}
	self := c.view.UserID()
	frame := &wire.ReadReceipt{
		ChatID:     msg.ChatID,
		SenderID:   self,
		ReceiverID: msg.SenderID,
		MessageID:  msg.ID,
		Timestamp:  c.sched.Now().UnixMilli(),
	}
	if c.ws.SendReadReceipt(frame) {
		c.logger.Debug("read receipt sent", zap.String("chat_id", msg.ChatID), zap.String("message_id", msg.ID))
		return true
	}
	if c.rest == nil {
		c.logger.Warn("read receipt dropped", zap.String("message_id", msg.ID))
		return false
	}

	req := restapi.MarkReadRequest{ChatID: msg.ChatID, UserID: self, MessageID: msg.ID}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if err := c.rest.MarkRead(ctx, req); err != nil {
			c.logger.Warn("read receipt fallback failed", zap.String("message_id", req.MessageID), zap.Error(err))
			return
		}
		c.logger.Debug("read receipt sent over rest", zap.String("message_id", req.MessageID))
	}()
	return true
}

// Wait blocks until every background REST fallback has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
