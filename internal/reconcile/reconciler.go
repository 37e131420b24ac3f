package reconcile

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/matheus3301/pairchat/internal/bus"
	"github.com/matheus3301/pairchat/internal/chat"
	"github.com/matheus3301/pairchat/internal/clock"
	"github.com/matheus3301/pairchat/internal/dispatch"
	"github.com/matheus3301/pairchat/internal/outbound"
	"github.com/matheus3301/pairchat/internal/restapi"
	"github.com/matheus3301/pairchat/internal/wire"
	"go.uber.org/zap"
)

var (
	// ErrNoOpenConversation is returned by operations that need an open conversation.
	ErrNoOpenConversation = errors.New("no conversation is open")
	// ErrSelfConversation is returned when starting a conversation with the local user.
	ErrSelfConversation = errors.New("cannot start a conversation with yourself")
	// ErrNoUser is returned before SetUser.
	ErrNoUser = errors.New("no user set")
	// ErrEmptyMessage is returned by Send without content or media.
	ErrEmptyMessage = errors.New("message has no content")
)

// Config holds paging and retry settings.
type Config struct {
	HistoryPageSize      int
	ConversationPageSize int
	ResyncMin            time.Duration
	ResyncMax            time.Duration
	TypingTTL            time.Duration
}

// DefaultConfig returns the standard paging and retry settings.
func DefaultConfig() Config {
	return Config{
		HistoryPageSize:      30,
		ConversationPageSize: 20,
		ResyncMin:            2 * time.Second,
		ResyncMax:            30 * time.Second,
		TypingTTL:            5 * time.Second,
	}
}

// API is the part of the REST client the reconciler reads from.
type API interface {
	Conversations(ctx context.Context, userID string, page, size int) (*restapi.Page[chat.Conversation], error)
	History(ctx context.Context, chatID, userID string, page, size int, force bool) (*restapi.Page[chat.Message], error)
	ClearCache()
}

// Sender hands chat frames to the realtime connection.
type Sender interface {
	SendChat(msg *wire.ChatMessage) bool
}

// ReceiptScheduler queues a read receipt for a displayed message.
type ReceiptScheduler interface {
	Schedule(msg chat.Message) bool
}

// StatusChange is the payload of a message status event.
type StatusChange struct {
	ChatID    string
	MessageID string
	Status    chat.Status
}

// Presence is the payload of a presence event.
type Presence struct {
	UserID string
	ChatID string
	Online bool
	Typing bool
}

// Reconciler merges server state with local optimistic state into the
// conversation list and the open conversation's timeline.
type Reconciler struct {
	cfg    Config
	api    API
	sender Sender
	sched  clock.Scheduler
	bus    *bus.Bus
	logger *zap.Logger

	mu            sync.Mutex
	userID        string
	conversations []chat.Conversation
	openChatID    string
	messages      []chat.Message
	index         map[string]chat.Status
	hasMore       bool
	gen           uint64
	online        map[string]bool
	typing        map[string]clock.Timer
	receipts      ReceiptScheduler
	onAuthFailure func(error)

	rmu           sync.Mutex
	resyncRunning bool
	resyncPending bool
	resyncBackoff *backoff.Backoff
	resyncTimer   clock.Timer
	baseCtx       context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// New creates a reconciler.
func New(cfg Config, api API, sender Sender, sched clock.Scheduler, b *bus.Bus, logger *zap.Logger) *Reconciler {
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = 30
	}
	if cfg.ConversationPageSize <= 0 {
		cfg.ConversationPageSize = 20
	}
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		cfg:    cfg,
		api:    api,
		sender: sender,
		sched:  sched,
		bus:    b,
		logger: logger,
		index:  make(map[string]chat.Status),
		online: make(map[string]bool),
		typing: make(map[string]clock.Timer),
		resyncBackoff: &backoff.Backoff{
			Min:    cfg.ResyncMin,
			Max:    cfg.ResyncMax,
			Factor: 2,
		},
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Register subscribes the reconciler to inbound frames, connection
// transitions and send outcomes.
func (r *Reconciler) Register(reg *dispatch.Registry, tracker *outbound.Tracker) {
	reg.AddMessageHandler(wire.TypeChatMessage, r)
	reg.AddMessageHandler(wire.TypeReadReceipt, r)
	reg.AddMessageHandler(wire.TypeTyping, r)
	reg.AddMessageHandler(wire.TypeOnlineStatus, r)
	reg.AddConnectionHandler(r)
	tracker.AddListener(r)
}

// SetReceipts installs the read receipt scheduler.
func (r *Reconciler) SetReceipts(s ReceiptScheduler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receipts = s
}

// OnAuthFailure installs the callback run when a backend rejects the credentials.
func (r *Reconciler) OnAuthFailure(fn func(error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onAuthFailure = fn
}

// Stop cancels background resyncs and waits for them to return.
func (r *Reconciler) Stop() {
	r.cancel()
	r.rmu.Lock()
	if r.resyncTimer != nil {
		r.resyncTimer.Stop()
		r.resyncTimer = nil
	}
	r.rmu.Unlock()
	r.wg.Wait()

	r.mu.Lock()
	for id, t := range r.typing {
		t.Stop()
		delete(r.typing, id)
	}
	r.mu.Unlock()
}

// SetUser switches the local user. Changing users discards all state.
func (r *Reconciler) SetUser(userID string) {
	r.mu.Lock()
	if r.userID == userID {
		r.mu.Unlock()
		return
	}
	r.userID = userID
	r.conversations = nil
	r.resetOpenLocked("")
	r.mu.Unlock()
	r.emitConversations()
	r.emitMessages("")
}

// Seed installs a persisted snapshot. Sends that were pending when the
// snapshot was taken can no longer be acknowledged and are loaded as FAILED.
func (r *Reconciler) Seed(convs []chat.Conversation, openChatID string, msgs []chat.Message) {
	r.mu.Lock()
	r.conversations = slices.Clone(convs)
	chat.SortConversations(r.conversations)
	r.resetOpenLocked(openChatID)
	if openChatID != "" {
		for _, m := range msgs {
			if m.ChatID != openChatID {
				continue
			}
			if m.Status == chat.StatusPending {
				m.Status = chat.StatusFailed
			}
			r.messages = append(r.messages, m)
			r.index[m.ID] = m.Status
		}
		chat.SortMessages(r.messages)
		r.hasMore = true
	}
	r.mu.Unlock()
	r.emitConversations()
	r.emitMessages(openChatID)
}

// UserID returns the local user.
func (r *Reconciler) UserID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userID
}

// OpenChatID returns the open conversation's chat id, or "".
func (r *Reconciler) OpenChatID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openChatID
}

// Conversations returns a copy of the conversation list, newest first.
func (r *Reconciler) Conversations() []chat.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.conversations)
}

// Conversation looks up a conversation by chat id.
func (r *Reconciler) Conversation(chatID string) (chat.Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.convIndexLocked(chatID); i >= 0 {
		return r.conversations[i], true
	}
	return chat.Conversation{}, false
}

// Messages returns a copy of the open conversation's timeline, oldest first.
func (r *Reconciler) Messages() []chat.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.messages)
}

// StatusOf returns the indexed status of a message id.
func (r *Reconciler) StatusOf(id string) (chat.Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.index[id]
	return s, ok
}

// HasMore reports whether older history can be loaded.
func (r *Reconciler) HasMore() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasMore
}

// Online reports the last known presence of a user.
func (r *Reconciler) Online(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online[userID]
}

// Typing reports whether the counterpart in chatID is typing.
func (r *Reconciler) Typing(chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.typing[chatID]
	return ok
}

// HandleFrame routes inbound frames.
func (r *Reconciler) HandleFrame(f wire.Frame) error {
	switch f := f.(type) {
	case *wire.ChatMessage:
		r.HandleChatMessage(f)
	case *wire.ReadReceipt:
		r.HandleReadReceipt(f)
	case *wire.Typing:
		r.handleTyping(f)
	case *wire.OnlineStatus:
		r.handleOnline(f)
	}
	return nil
}

// OnAck implements outbound.Listener.
func (r *Reconciler) OnAck(ack outbound.Ack) { r.HandleAck(ack) }

// OnTimeout implements outbound.Listener.
func (r *Reconciler) OnTimeout(tempID string) { r.HandleTimeout(tempID) }

// OnSendError implements outbound.Listener.
func (r *Reconciler) OnSendError(e outbound.SendError) { r.HandleError(e) }

func (r *Reconciler) resetOpenLocked(chatID string) {
	r.openChatID = chatID
	r.messages = nil
	r.index = make(map[string]chat.Status)
	r.hasMore = false
	r.gen++
}

func (r *Reconciler) convIndexLocked(chatID string) int {
	return slices.IndexFunc(r.conversations, func(c chat.Conversation) bool { return c.ChatID == chatID })
}

func (r *Reconciler) msgIndexLocked(id string) int {
	return slices.IndexFunc(r.messages, func(m chat.Message) bool { return m.ID == id })
}

func (r *Reconciler) authFailed(err error) bool {
	if !errors.Is(err, restapi.ErrUnauthorized) {
		return false
	}
	r.mu.Lock()
	fn := r.onAuthFailure
	r.mu.Unlock()
	if fn != nil {
		fn(err)
	}
	return true
}

func (r *Reconciler) emitConversations() {
	r.bus.Emit(bus.KindConversationsChanged, nil)
}

func (r *Reconciler) emitMessages(chatID string) {
	r.bus.Emit(bus.KindMessagesChanged, chatID)
}

func (r *Reconciler) emitStatus(chatID, id string, s chat.Status) {
	r.bus.Emit(bus.KindMessageStatus, StatusChange{ChatID: chatID, MessageID: id, Status: s})
}
