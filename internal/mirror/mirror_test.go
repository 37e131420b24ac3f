package mirror

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/pairchat/internal/bus"
	"github.com/matheus3301/pairchat/internal/chat"
	"github.com/matheus3301/pairchat/internal/clock"
	"github.com/matheus3301/pairchat/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSource struct {
	mu     sync.Mutex
	user   string
	convs  []chat.Conversation
	chatID string
	msgs   []chat.Message
}

func (s *fakeSource) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *fakeSource) Conversations() []chat.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convs
}

func (s *fakeSource) OpenChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatID
}

func (s *fakeSource) Messages() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msgs
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func populated() *fakeSource {
	return &fakeSource{
		user:   "alice",
		convs:  []chat.Conversation{{ChatID: "chat_alice_bob", CounterpartID: "bob", LastMessageAt: 20, LastMessagePreview: "yo"}},
		chatID: "chat_alice_bob",
		msgs: []chat.Message{
			{ID: "m1", ChatID: "chat_alice_bob", SenderID: "bob", Content: "hi", Type: chat.TypeText, Status: chat.StatusRead, Timestamp: 10},
			{ID: "temp_20_abc", ChatID: "chat_alice_bob", SenderID: "alice", Content: "yo", Type: chat.TypeText, Status: chat.StatusPending, Timestamp: 20},
		},
	}
}

func TestFlushThenLoad(t *testing.T) {
	db := testDB(t)
	src := populated()
	m := New(src, db, bus.New(), clock.NewFake(time.Now()), zaptest.NewLogger(t))

	snap, err := m.Load("alice")
	require.NoError(t, err)
	assert.Empty(t, snap.Conversations)

	m.markDirty(true, true)
	require.NoError(t, m.Flush())

	snap, err = m.Load("alice")
	require.NoError(t, err)
	require.Len(t, snap.Conversations, 1)
	assert.Equal(t, "yo", snap.Conversations[0].LastMessagePreview)
	assert.Equal(t, "chat_alice_bob", snap.OpenChatID)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, chat.StatusPending, snap.Messages[1].Status, "the snapshot keeps what was live")
}

func TestLoadDiscardsOtherUsersSnapshot(t *testing.T) {
	db := testDB(t)
	m := New(populated(), db, bus.New(), clock.NewFake(time.Now()), zaptest.NewLogger(t))
	_, err := m.Load("alice")
	require.NoError(t, err)
	m.markDirty(true, true)
	require.NoError(t, m.Flush())

	snap, err := m.Load("bob")
	require.NoError(t, err)
	assert.Empty(t, snap.Conversations)
	assert.Empty(t, snap.OpenChatID)

	owner, err := db.GetState(store.KeyUserID)
	require.NoError(t, err)
	assert.Equal(t, "bob", owner)
}

func TestEventsAreDebounced(t *testing.T) {
	db := testDB(t)
	fc := clock.NewFake(time.Now())
	m := New(populated(), db, bus.New(), fc, zaptest.NewLogger(t))

	m.handleEvent(bus.Event{Kind: bus.KindConversationsChanged})
	m.handleEvent(bus.Event{Kind: bus.KindMessageStatus})
	m.handleEvent(bus.Event{Kind: "connection.status_changed"})
	assert.Equal(t, 1, fc.Pending())

	convs, err := db.ListConversations(0)
	require.NoError(t, err)
	assert.Empty(t, convs, "nothing written before the debounce")

	fc.Advance(DefaultDebounce)
	convs, err = db.ListConversations(0)
	require.NoError(t, err)
	assert.Len(t, convs, 1)
	msgs, err := db.ListMessages("chat_alice_bob", 0, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	assert.Equal(t, 0, fc.Pending())
}

func TestNoWritesWithoutUser(t *testing.T) {
	db := testDB(t)
	src := populated()
	src.user = ""
	m := New(src, db, bus.New(), clock.NewFake(time.Now()), zaptest.NewLogger(t))

	m.markDirty(true, true)
	require.NoError(t, m.Flush())
	convs, _ := db.ListConversations(0)
	assert.Empty(t, convs)
}

func TestStopWritesPendingChanges(t *testing.T) {
	db := testDB(t)
	fc := clock.NewFake(time.Now())
	b := bus.New()
	m := New(populated(), db, b, fc, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m.Start(ctx)

	b.Emit(bus.KindMessagesChanged, "chat_alice_bob")
	require.Eventually(t, func() bool { return fc.Pending() == 1 }, time.Second, 5*time.Millisecond)

	m.Stop()
	assert.Equal(t, 0, fc.Pending())
	open, err := db.GetState(store.KeyOpenChatID)
	require.NoError(t, err)
	assert.Equal(t, "chat_alice_bob", open)
}

func TestResyncTimeRecorded(t *testing.T) {
	db := testDB(t)
	m := New(populated(), db, bus.New(), clock.NewFake(time.Now()), zaptest.NewLogger(t))
	at := time.UnixMilli(1_700_000_000_123)

	m.handleEvent(bus.Event{Kind: bus.KindResyncDone, Timestamp: at})
	v, err := db.GetState(store.KeyLastResync)
	require.NoError(t, err)
	assert.Equal(t, "1700000000123", v)
}
