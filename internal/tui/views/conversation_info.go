package views

import (
	"fmt"
	"time"

	"github.com/matheus3301/pairchat/internal/chat"
	"github.com/matheus3301/pairchat/internal/tui/model"
	"github.com/matheus3301/pairchat/internal/tui/ui"
	"github.com/rivo/tview"
)

// ConversationInfo displays detailed information about a conversation.
type ConversationInfo struct {
	*tview.TextView
	theme *ui.Theme
}

// NewConversationInfo creates a new conversation info view.
func NewConversationInfo(theme *ui.Theme) *ConversationInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Conversation Details ")
	tv.SetTitleColor(theme.TitleColor)

	return &ConversationInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Name implements Component.
func (ci *ConversationInfo) Name() string { return "details" }

// Hints implements Component.
func (ci *ConversationInfo) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "esc", Description: "Back"},
	}
}

// Update renders conversation details.
func (ci *ConversationInfo) Update(c chat.Conversation, p model.Presence) {
	ci.Clear()

	fg := ui.ColorName(ci.theme.FgColor)
	ct := ui.ColorName(ci.theme.CounterColor)

	presence := "offline"
	switch {
	case p.Typing:
		presence = "typing"
	case p.Online:
		presence = "online"
	}

	lastActive := "-"
	if c.LastMessageAt > 0 {
		lastActive = time.UnixMilli(c.LastMessageAt).Format("2006-01-02 15:04")
	}
	state := "synced"
	if c.LocalOnly {
		state = "local only (no messages yet)"
	}

	rows := []struct{ label, value string }{
		{"Name", displayName(c)},
		{"User ID", c.CounterpartID},
		{"Chat ID", c.ChatID},
		{"Presence", presence},
		{"Unread", fmt.Sprintf("%d", c.UnreadCount)},
		{"Pinned", yesNo(c.Pinned)},
		{"Muted", yesNo(c.Muted)},
		{"Last Active", lastActive},
		{"Last Message", c.LastMessagePreview},
		{"State", state},
	}
	_, _ = fmt.Fprintln(ci)
	for _, r := range rows {
		_, _ = fmt.Fprintf(ci, " [%s::b]%-13s[-:-:-] [%s]%s[-]\n", fg, r.label+":", ct, tview.Escape(sanitizeForTerminal(r.value)))
	}
	ci.SetTitle(fmt.Sprintf(" %s Details ", tview.Escape(displayName(c))))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
