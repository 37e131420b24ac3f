package mirror

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/matheus3301/pairchat/internal/bus"
	"github.com/matheus3301/pairchat/internal/chat"
	"github.com/matheus3301/pairchat/internal/clock"
	"github.com/matheus3301/pairchat/internal/store"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the mirror waits after a change before writing.
const DefaultDebounce = 250 * time.Millisecond

// snapshotLimit caps the persisted timeline of the open conversation.
const snapshotLimit = 200

// Source is the live state the mirror persists.
type Source interface {
	UserID() string
	Conversations() []chat.Conversation
	OpenChatID() string
	Messages() []chat.Message
}

// Store is the persistence the mirror writes to.
type Store interface {
	ReplaceConversations(convs []chat.Conversation) error
	ListConversations(limit int) ([]chat.Conversation, error)
	ReplaceMessages(chatID string, msgs []chat.Message) error
	ListMessages(chatID string, beforeTs int64, limit int) ([]chat.Message, error)
	SetState(key, value string) error
	GetState(key string) (string, error)
	Reset() error
}

// Snapshot is the state recovered on a warm start.
type Snapshot struct {
	Conversations []chat.Conversation
	OpenChatID    string
	Messages      []chat.Message
}

// Mirror writes the conversation list and the open timeline to the store
// whenever the bus reports a change, so a restarted daemon can show them
// before the server answers.
type Mirror struct {
	src      Source
	db       Store
	bus      *bus.Bus
	sched    clock.Scheduler
	logger   *zap.Logger
	debounce time.Duration

	mu     sync.Mutex
	timer  clock.Timer
	convs  bool
	msgs   bool
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a mirror.
func New(src Source, db Store, b *bus.Bus, sched clock.Scheduler, logger *zap.Logger) *Mirror {
	return &Mirror{
		src:      src,
		db:       db,
		bus:      b,
		sched:    sched,
		logger:   logger,
		debounce: DefaultDebounce,
	}
}

// Load returns the stored snapshot for userID. A snapshot written for
// another user is discarded.
func (m *Mirror) Load(userID string) (Snapshot, error) {
	owner, err := m.db.GetState(store.KeyUserID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot owner: %w", err)
	}
	if owner != userID {
		if owner != "" {
			m.logger.Info("discarding snapshot of another user", zap.String("owner", owner))
		}
		if err := m.db.Reset(); err != nil {
			return Snapshot{}, fmt.Errorf("reset snapshot: %w", err)
		}
		if err := m.db.SetState(store.KeyUserID, userID); err != nil {
			return Snapshot{}, fmt.Errorf("write snapshot owner: %w", err)
		}
		return Snapshot{}, nil
	}

	var snap Snapshot
	if snap.Conversations, err = m.db.ListConversations(0); err != nil {
		return Snapshot{}, fmt.Errorf("load conversations: %w", err)
	}
	if snap.OpenChatID, err = m.db.GetState(store.KeyOpenChatID); err != nil {
		return Snapshot{}, fmt.Errorf("load open chat: %w", err)
	}
	if snap.OpenChatID != "" {
		if snap.Messages, err = m.db.ListMessages(snap.OpenChatID, 0, snapshotLimit); err != nil {
			return Snapshot{}, fmt.Errorf("load messages: %w", err)
		}
	}
	m.logger.Info("snapshot loaded",
		zap.Int("conversations", len(snap.Conversations)),
		zap.String("open_chat_id", snap.OpenChatID),
		zap.Int("messages", len(snap.Messages)))
	return snap, nil
}

// Start subscribes to conversation, message and sync events on the bus.
func (m *Mirror) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	ch, unsub := m.bus.Subscribe("", 256)

	go func() {
		defer close(m.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				m.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the subscription and writes any pending change.
func (m *Mirror) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()
	if err := m.Flush(); err != nil {
		m.logger.Warn("final snapshot write failed", zap.Error(err))
	}
}

func (m *Mirror) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindConversationsChanged, bus.KindMessageReceived:
		m.markDirty(true, false)
	case bus.KindMessagesChanged, bus.KindMessageStatus:
		m.markDirty(true, true)
	case bus.KindResyncDone:
		if err := m.db.SetState(store.KeyLastResync, strconv.FormatInt(evt.Timestamp.UnixMilli(), 10)); err != nil {
			m.logger.Warn("record resync time", zap.Error(err))
		}
	}
}

func (m *Mirror) markDirty(convs, msgs bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs = m.convs || convs
	m.msgs = m.msgs || msgs
	if m.timer != nil {
		return
	}
	m.timer = m.sched.AfterFunc(m.debounce, func() {
		m.mu.Lock()
		m.timer = nil
		m.mu.Unlock()
		if err := m.Flush(); err != nil {
			m.logger.Error("snapshot write failed", zap.Error(err))
		}
	})
}

// Flush writes the pending changes now.
func (m *Mirror) Flush() error {
	m.mu.Lock()
	convs, msgs := m.convs, m.msgs
	m.convs, m.msgs = false, false
	m.mu.Unlock()

	if m.src.UserID() == "" {
		return nil
	}
	if convs {
		if err := m.db.ReplaceConversations(m.src.Conversations()); err != nil {
			return fmt.Errorf("write conversations: %w", err)
		}
	}
	if msgs {
		chatID := m.src.OpenChatID()
		if err := m.db.SetState(store.KeyOpenChatID, chatID); err != nil {
			return fmt.Errorf("write open chat: %w", err)
		}
		if chatID != "" {
			timeline := m.src.Messages()
			if len(timeline) > snapshotLimit {
				timeline = timeline[len(timeline)-snapshotLimit:]
			}
			if err := m.db.ReplaceMessages(chatID, timeline); err != nil {
				return fmt.Errorf("write messages: %w", err)
			}
		}
	}
	if convs || msgs {
		m.logger.Debug("snapshot written", zap.Bool("conversations", convs), zap.Bool("messages", msgs))
	}
	return nil
}
