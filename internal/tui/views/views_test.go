package views

import (
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/pairchat/internal/api"
	"github.com/matheus3301/pairchat/internal/chat"
	"github.com/matheus3301/pairchat/internal/tui/ui"
)

func TestSanitizeForTerminal(t *testing.T) {
	cases := map[string]string{
		"plain":                      "plain",
		"\U0001F44D\U0001F3FD":       "\U0001F44D",
		"\U0001F468\u200d\U0001F469": "\U0001F468\U0001F469",
		"\u2764\uFE0F":               "\u2764",
	}
	for in, want := range cases {
		if got := sanitizeForTerminal(in); got != want {
			t.Errorf("sanitizeForTerminal(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestArrange(t *testing.T) {
	convs := []chat.Conversation{
		{ChatID: "a", CounterpartID: "zed", LastMessageAt: 300},
		{ChatID: "b", CounterpartID: "amy", CounterpartName: "Amy", LastMessageAt: 100, UnreadCount: 5},
		{ChatID: "c", CounterpartID: "bob", LastMessageAt: 200, Pinned: true},
		{ChatID: "d", CounterpartID: "cat", LastMessageAt: 400, UnreadCount: 1, LastMessagePreview: "see you"},
	}
	ids := func(cs []chat.Conversation) string {
		var b strings.Builder
		for _, c := range cs {
			b.WriteString(c.ChatID)
		}
		return b.String()
	}

	if got := ids(arrange(convs, "", SortRecent)); got != "cdab" {
		t.Errorf("recent order = %s, want cdab", got)
	}
	if got := ids(arrange(convs, "", SortUnread)); got != "cbda" {
		t.Errorf("unread order = %s, want cbda", got)
	}
	if got := ids(arrange(convs, "", SortName)); got != "cbda" {
		t.Errorf("name order = %s, want cbda", got)
	}
	if got := ids(arrange(convs, "SEE", SortRecent)); got != "d" {
		t.Errorf("filter by preview = %s, want d", got)
	}
	if got := ids(arrange(convs, "amy", SortRecent)); got != "b" {
		t.Errorf("filter by name = %s, want b", got)
	}
}

func TestConversationListKeepsSelection(t *testing.T) {
	cl := NewConversationList(ui.DefaultTheme())
	cl.Update([]chat.Conversation{
		{ChatID: "a", CounterpartID: "amy", LastMessageAt: 200},
		{ChatID: "b", CounterpartID: "bob", LastMessageAt: 100},
	})
	cl.Select(2, 0)
	if got := cl.SelectedChat(); got != "b" {
		t.Fatalf("SelectedChat() = %q, want b", got)
	}

	// b moves to the top after a new message.
	cl.Update([]chat.Conversation{
		{ChatID: "a", CounterpartID: "amy", LastMessageAt: 200},
		{ChatID: "b", CounterpartID: "bob", LastMessageAt: 300},
	})
	if got := cl.SelectedChat(); got != "b" {
		t.Errorf("SelectedChat() after reorder = %q, want b", got)
	}
	if got := cl.ChatByIndex(2); got != "a" {
		t.Errorf("ChatByIndex(2) = %q, want a", got)
	}
	if got := cl.ChatByIndex(9); got != "" {
		t.Errorf("ChatByIndex(9) = %q, want empty", got)
	}
}

func TestFormatTimestamp(t *testing.T) {
	now := time.Date(2026, 3, 10, 18, 0, 0, 0, time.Local)
	if got := formatTimestamp(time.Date(2026, 3, 10, 9, 5, 0, 0, time.Local).UnixMilli(), now); got != "09:05" {
		t.Errorf("same day = %q, want 09:05", got)
	}
	if got := formatTimestamp(time.Date(2026, 3, 9, 9, 5, 0, 0, time.Local).UnixMilli(), now); got != "03/09" {
		t.Errorf("earlier day = %q, want 03/09", got)
	}
	if got := formatTimestamp(0, now); got != "" {
		t.Errorf("zero = %q, want empty", got)
	}
}

func TestMessageLine(t *testing.T) {
	mt := NewMessageThread(ui.DefaultTheme())
	mt.SetConversation(chat.Conversation{ChatID: "chat_alice_bob", CounterpartID: "bob", CounterpartName: "Bob"}, "alice")

	mine := mt.line(chat.Message{SenderID: "alice", Content: "hi [there]", Type: chat.TypeText, Status: chat.StatusFailed}, time.Now())
	if !strings.Contains(mine, "You") || !strings.Contains(mine, "failed") {
		t.Errorf("own message line = %q", mine)
	}
	if !strings.Contains(mine, "hi [there[]") {
		t.Errorf("brackets not escaped: %q", mine)
	}

	theirs := mt.line(chat.Message{SenderID: "bob", Type: chat.TypeFile, Media: &chat.Media{FileName: "a.pdf", URL: "https://files/a.pdf"}}, time.Now())
	if !strings.Contains(theirs, "Bob") || !strings.Contains(theirs, "a.pdf") || strings.Contains(theirs, "failed") {
		t.Errorf("peer message line = %q", theirs)
	}
}

func TestSearchViewSelection(t *testing.T) {
	sv := NewSearchView(ui.DefaultTheme())
	sv.Update(&api.SearchResponse{Messages: []chat.Message{
		{ID: "m1", ChatID: "chat_alice_bob", SenderID: "bob", Content: "lunch?"},
	}, Total: 1})
	sv.Results().Select(1, 0)
	chatID, msgID := sv.SelectedResult()
	if chatID != "chat_alice_bob" || msgID != "m1" {
		t.Errorf("SelectedResult() = %q, %q", chatID, msgID)
	}
}

func TestHighlight(t *testing.T) {
	tests := []struct {
		text, query, want string
	}{
		{"Lunch at noon", "lunch", "[red::b]Lunch[-::-] at noon"},
		{"no match", "xyz", "no match"},
		{"a [tag] b", "b", "a [tag[] [red::b]b[-::-]"},
		{"one two one", "one", "[red::b]one[-::-] two [red::b]one[-::-]"},
		{"anything", "", "anything"},
	}
	for _, tt := range tests {
		if got := highlight(tt.text, tt.query, "red"); got != tt.want {
			t.Errorf("highlight(%q, %q) = %q, want %q", tt.text, tt.query, got, tt.want)
		}
	}
}
