package store

import (
	"path/filepath"
	"testing"

	"github.com/matheus3301/pairchat/internal/chat"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + timeline index)", result.Version)
	}
	if result.From != 2 {
		t.Errorf("from = %d, want 2", result.From)
	}
}

func TestMigrateRecoversDirtyVersion(t *testing.T) {
	db := testDB(t)
	if _, err := db.Exec(`UPDATE schema_migrations SET dirty = 1`); err != nil {
		t.Fatal(err)
	}

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if !result.Recovered || !result.Changed {
		t.Errorf("result = %+v, want Recovered and Changed", result)
	}
	if result.From != 1 || result.Version != 2 {
		t.Errorf("from %d to %d, want 1 to 2", result.From, result.Version)
	}
}

func TestMigrateSchemaHasRequiredColumns(t *testing.T) {
	db := testDB(t)

	requiredOps := []struct {
		desc  string
		query string
		args  []any
	}{
		{"save credentials", "INSERT INTO credentials (id, token, user_id, expires_at) VALUES (1, ?, ?, ?)", []any{"tok", "u1", 0}},
		{"insert conversation", "INSERT INTO conversations (chat_id, counterpart_id, counterpart_name, last_message_at, last_message_preview, unread_count, local_only) VALUES (?, ?, ?, ?, ?, ?, ?)", []any{"chat_a_b", "b", "Bee", 1000, "hi", 1, false}},
		{"insert message", "INSERT INTO messages (chat_id, msg_id, sender_id, receiver_id, content, message_type, media, status, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", []any{"chat_a_b", "m1", "a", "b", "hello", "TEXT", "", "DELIVERED", 1000}},
		{"set sync state", "INSERT INTO sync_state (key, value) VALUES (?, ?)", []any{"k", "v"}},
	}

	for _, op := range requiredOps {
		t.Run(op.desc, func(t *testing.T) {
			if _, err := db.Exec(op.query, op.args...); err != nil {
				t.Fatalf("%s failed: %v", op.desc, err)
			}
		})
	}
}

func TestCredentialsRoundTrip(t *testing.T) {
	db := testDB(t)

	c, err := db.LoadCredentials()
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Fatalf("expected no credentials, got %+v", c)
	}

	if err := db.SaveCredentials(&Credentials{Token: "t1", UserID: "alice", ExpiresAt: 5000}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveCredentials(&Credentials{Token: "t2", UserID: "alice", ExpiresAt: 9000}); err != nil {
		t.Fatal(err)
	}
	c, err = db.LoadCredentials()
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.Token != "t2" || c.ExpiresAt != 9000 {
		t.Fatalf("got %+v, want the second token", c)
	}

	if err := db.ClearCredentials(); err != nil {
		t.Fatal(err)
	}
	c, err = db.LoadCredentials()
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Errorf("credentials survived ClearCredentials: %+v", c)
	}
}

func TestReplaceConversations(t *testing.T) {
	db := testDB(t)

	first := []chat.Conversation{
		{ChatID: "chat_a_b", CounterpartID: "b", LastMessageAt: 100},
		{ChatID: "chat_a_c", CounterpartID: "c", LastMessageAt: 300, UnreadCount: 2, LocalOnly: true},
	}
	if err := db.ReplaceConversations(first); err != nil {
		t.Fatal(err)
	}
	if err := db.ReplaceConversations([]chat.Conversation{
		{ChatID: "chat_a_b", CounterpartID: "b", CounterpartName: "Bee", LastMessageAt: 500, LastMessagePreview: "new"},
		{ChatID: "chat_a_d", CounterpartID: "d", LastMessageAt: 200, Pinned: true},
	}); err != nil {
		t.Fatal(err)
	}

	convs, err := db.ListConversations(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 {
		t.Fatalf("got %d conversations, want 2", len(convs))
	}
	if convs[0].ChatID != "chat_a_b" || convs[0].CounterpartName != "Bee" {
		t.Errorf("first = %+v, want chat_a_b named Bee", convs[0])
	}
	if !convs[1].Pinned {
		t.Errorf("pinned flag lost: %+v", convs[1])
	}

	c, err := db.GetConversation("chat_a_c")
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Errorf("replaced conversation still stored: %+v", c)
	}
}

func TestReplaceMessagesKeepsOtherChats(t *testing.T) {
	db := testDB(t)

	if err := db.ReplaceMessages("chat_a_b", []chat.Message{
		{ID: "m1", ChatID: "chat_a_b", SenderID: "a", Content: "one", Type: chat.TypeText, Status: chat.StatusRead, Timestamp: 10},
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.ReplaceMessages("chat_a_c", []chat.Message{
		{ID: "m9", ChatID: "chat_a_c", SenderID: "c", Content: "other", Type: chat.TypeText, Status: chat.StatusDelivered, Timestamp: 5},
	}); err != nil {
		t.Fatal(err)
	}
	media := &chat.Media{URL: "https://cdn.test/cat.png", FileName: "cat.png", FileSize: 42}
	if err := db.ReplaceMessages("chat_a_b", []chat.Message{
		{ID: "m3", ChatID: "chat_a_b", SenderID: "b", Type: chat.TypeImage, Media: media, Status: chat.StatusDelivered, Timestamp: 30},
		{ID: "m2", ChatID: "chat_a_b", SenderID: "a", Content: "two", Type: chat.TypeText, Status: chat.StatusFailed, Timestamp: 20},
		{ID: "stray", ChatID: "chat_a_x", Timestamp: 1},
	}); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("chat_a_b", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != "m2" || msgs[1].ID != "m3" {
		t.Errorf("order = %s, %s, want m2, m3", msgs[0].ID, msgs[1].ID)
	}
	if msgs[0].Status != chat.StatusFailed {
		t.Errorf("status = %s, want FAILED", msgs[0].Status)
	}
	if msgs[1].Media == nil || msgs[1].Media.FileName != "cat.png" || msgs[1].Media.FileSize != 42 {
		t.Errorf("media = %+v, want cat.png", msgs[1].Media)
	}

	other, err := db.ListMessages("chat_a_c", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 1 {
		t.Errorf("other chat has %d messages, want 1", len(other))
	}
}

func TestListMessagesBefore(t *testing.T) {
	db := testDB(t)

	var msgs []chat.Message
	for i, id := range []string{"m1", "m2", "m3", "m4"} {
		msgs = append(msgs, chat.Message{ID: id, ChatID: "chat_a_b", Type: chat.TypeText, Status: chat.StatusDelivered, Timestamp: int64(100 * (i + 1))})
	}
	if err := db.ReplaceMessages("chat_a_b", msgs); err != nil {
		t.Fatal(err)
	}

	got, err := db.ListMessages("chat_a_b", 400, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "m2" || got[1].ID != "m3" {
		t.Errorf("got %+v, want m2 and m3", got)
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)

	if err := db.ReplaceMessages("chat_a_b", []chat.Message{
		{ID: "m1", ChatID: "chat_a_b", Content: "hello world", Type: chat.TypeText, Timestamp: 1000},
		{ID: "m2", ChatID: "chat_a_b", Content: "goodbye world", Type: chat.TypeText, Timestamp: 2000},
		{ID: "m3", ChatID: "chat_a_b", Content: "100% sure", Type: chat.TypeText, Timestamp: 3000},
	}); err != nil {
		t.Fatal(err)
	}

	results, err := db.SearchMessages("hello", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "m1" {
		t.Fatalf("got %+v, want m1", results)
	}

	results, err = db.SearchMessages("world", "chat_a_b", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].ID != "m2" {
		t.Errorf("got %+v, want m2 then m1", results)
	}

	results, err = db.SearchMessages("0%", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "m3" {
		t.Errorf("percent sign must match literally, got %+v", results)
	}

	results, err = db.SearchMessages("world", "chat_a_z", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results in another chat, want 0", len(results))
	}
}

func TestStateAndReset(t *testing.T) {
	db := testDB(t)

	if v, err := db.GetState(KeyOpenChatID); err != nil || v != "" {
		t.Fatalf("GetState on empty = %q, %v", v, err)
	}
	if err := db.SetState(KeyOpenChatID, "chat_a_b"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetState(KeyOpenChatID, "chat_a_c"); err != nil {
		t.Fatal(err)
	}
	if v, _ := db.GetState(KeyOpenChatID); v != "chat_a_c" {
		t.Errorf("state = %q, want chat_a_c", v)
	}

	if err := db.SaveCredentials(&Credentials{Token: "t", UserID: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := db.ReplaceConversations([]chat.Conversation{{ChatID: "chat_a_b"}}); err != nil {
		t.Fatal(err)
	}
	if err := db.Reset(); err != nil {
		t.Fatal(err)
	}
	if v, _ := db.GetState(KeyOpenChatID); v != "" {
		t.Errorf("state survived Reset: %q", v)
	}
	convs, _ := db.ListConversations(0)
	if len(convs) != 0 {
		t.Errorf("conversations survived Reset: %d", len(convs))
	}
	if c, _ := db.LoadCredentials(); c == nil {
		t.Error("Reset must keep credentials")
	}
}
