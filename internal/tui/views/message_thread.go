package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/pairchat/internal/chat"
	"github.com/matheus3301/pairchat/internal/tui/model"
	"github.com/matheus3301/pairchat/internal/tui/ui"
	"github.com/rivo/tview"
)

// MessageThread displays the open conversation and a composer.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	composer *tview.InputField
	conv     chat.Conversation
	selfID   string
	onSend   func(text string)
}

// NewMessageThread creates a new message thread view.
func NewMessageThread(theme *ui.Theme) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Messages ")
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		composer: composer,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && mt.onSend != nil {
			text := composer.GetText()
			if text != "" {
				mt.onSend(text)
				composer.SetText("")
			}
		}
	})

	return mt
}

// Name implements Component.
func (mt *MessageThread) Name() string {
	if n := displayName(mt.conv); n != "" {
		return n
	}
	return "messages"
}

// Hints implements Component.
func (mt *MessageThread) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "i", Description: "Compose"},
		{Key: "esc", Description: "Back"},
	}
}

// SetConversation sets the conversation shown and who "You" is.
func (mt *MessageThread) SetConversation(c chat.Conversation, selfID string) {
	mt.conv = c
	mt.selfID = selfID
	mt.SetPresence(model.Presence{})
}

// ChatID returns the shown conversation.
func (mt *MessageThread) ChatID() string {
	return mt.conv.ChatID
}

// SetPresence shows the counterpart's presence in the title.
func (mt *MessageThread) SetPresence(p model.Presence) {
	name := tview.Escape(sanitizeForTerminal(displayName(mt.conv)))
	switch {
	case p.Typing:
		mt.messages.SetTitle(fmt.Sprintf(" %s [%s]typing…[-] ", name, ui.ColorName(mt.theme.OnlineColor)))
	case p.Online:
		mt.messages.SetTitle(fmt.Sprintf(" %s [%s]●[-] ", name, ui.ColorName(mt.theme.OnlineColor)))
	default:
		mt.messages.SetTitle(fmt.Sprintf(" %s ", name))
	}
}

// SetOnSend sets the callback when a message is sent.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// Update redraws the timeline. Messages arrive oldest first.
func (mt *MessageThread) Update(msgs []chat.Message, hasMore bool) {
	mt.messages.Clear()

	if hasMore {
		_, _ = fmt.Fprintf(mt.messages, "[%s]── older messages: :more ──[-]\n\n", ui.ColorName(mt.theme.OfflineColor))
	}
	now := time.Now()
	for _, m := range msgs {
		_, _ = fmt.Fprint(mt.messages, mt.line(m, now))
	}

	mt.messages.ScrollToEnd()
}

func (mt *MessageThread) line(m chat.Message, now time.Time) string {
	sender, color := m.SenderID, mt.theme.PeerColor
	if m.SenderID == mt.selfID {
		sender, color = "You", mt.theme.SelfColor
	} else if mt.conv.CounterpartName != "" && m.SenderID == mt.conv.CounterpartID {
		sender = mt.conv.CounterpartName
	}

	body := m.Content
	if m.Type != chat.TypeText {
		body = chat.Preview(m.Type, m.Content, m.Media)
		if m.Content != "" && m.Type != chat.TypeEmoji {
			body += " " + m.Content
		}
		if m.Media != nil && m.Media.URL != "" {
			body += "\n" + m.Media.URL
		}
	}

	mark := ""
	if m.SenderID == mt.selfID {
		mark = " " + mt.theme.StatusMark(m.Status)
	}
	return fmt.Sprintf("[%s::b]%s[-:-:-] [::d]%s[-:-:-]%s\n%s\n\n",
		ui.ColorName(color), tview.Escape(sanitizeForTerminal(sender)),
		formatTimestamp(m.Timestamp, now), mark,
		tview.Escape(sanitizeForTerminal(body)))
}

// Messages returns the messages text view (for focus management).
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// Composer returns the composer input field (for focus management).
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}
