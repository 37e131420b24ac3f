package views

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/pairchat/internal/chat"
	"github.com/matheus3301/pairchat/internal/tui/ui"
	"github.com/rivo/tview"
)

// SortMode orders the conversation list.
type SortMode int

const (
	SortRecent SortMode = iota
	SortUnread
	SortName
)

func (s SortMode) String() string {
	switch s {
	case SortUnread:
		return "unread"
	case SortName:
		return "name"
	default:
		return "recent"
	}
}

// ConversationList is the main chat list view.
type ConversationList struct {
	*tview.Table
	theme   *ui.Theme
	convs   []chat.Conversation
	visible []chat.Conversation
	filter  string
	sort    SortMode
}

// NewConversationList creates a new conversation list table.
func NewConversationList(theme *ui.Theme) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitle(" Conversations ")
	table.SetTitleColor(theme.TitleColor)

	return &ConversationList{
		Table: table,
		theme: theme,
	}
}

// Name implements Component.
func (cl *ConversationList) Name() string { return "conversations" }

// Hints implements Component.
func (cl *ConversationList) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "enter", Description: "Open"},
		{Key: "/", Description: "Filter"},
		{Key: "0-9", Description: "Jump", Numeric: true},
	}
}

// Update refreshes the list, keeping the selected conversation selected.
func (cl *ConversationList) Update(convs []chat.Conversation) {
	selected := cl.SelectedChat()
	cl.convs = convs
	cl.render()
	cl.selectChat(selected)
}

// SetFilter sets the active filter text and re-renders.
func (cl *ConversationList) SetFilter(filter string) {
	cl.filter = filter
	cl.render()
	cl.Select(1, 0)
}

// ClearFilter clears the active filter.
func (cl *ConversationList) ClearFilter() {
	cl.SetFilter("")
}

// Filter returns the active filter text.
func (cl *ConversationList) Filter() string { return cl.filter }

// CycleSort switches to the next sort mode and returns it.
func (cl *ConversationList) CycleSort() SortMode {
	selected := cl.SelectedChat()
	cl.sort = (cl.sort + 1) % 3
	cl.render()
	cl.selectChat(selected)
	return cl.sort
}

// Visible returns the rows as displayed, after filtering and sorting.
func (cl *ConversationList) Visible() []chat.Conversation {
	return slices.Clone(cl.visible)
}

func (cl *ConversationList) render() {
	cl.Clear()
	cl.visible = arrange(cl.convs, cl.filter, cl.sort)

	headers := []struct {
		text string
		exp  int
	}{
		{" #", 0},
		{" NAME", 1},
		{" LAST MESSAGE", 2},
		{" UNREAD", 0},
		{" TIME", 0},
	}
	for col, h := range headers {
		cell := tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetBackgroundColor(cl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp)
		cl.SetCell(0, col, cell)
	}

	for i, c := range cl.visible {
		row := i + 1
		name := displayName(c)
		if c.Pinned {
			name = "📌 " + name
		}
		fg := cl.theme.FgColor
		if c.UnreadCount > 0 {
			fg = cl.theme.CounterColor
		}
		unread := ""
		if c.UnreadCount > 0 {
			unread = fmt.Sprintf("%d", c.UnreadCount)
		}
		if c.Muted {
			unread += " ~"
		}
		preview := c.LastMessagePreview
		if c.LocalOnly && preview == "" {
			preview = "(new)"
		}

		cl.SetCell(row, 0, tview.NewTableCell(fmt.Sprintf(" %d", row)).SetTextColor(cl.theme.NumericKeyColor))
		cl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(name))).SetExpansion(1).SetTextColor(fg))
		cl.SetCell(row, 2, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(preview))).SetExpansion(2).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 3, tview.NewTableCell(unread).SetTextColor(cl.theme.CounterColor).SetAlign(tview.AlignRight))
		cl.SetCell(row, 4, tview.NewTableCell(formatTimestamp(c.LastMessageAt, time.Now())).SetTextColor(cl.theme.FgColor).SetAlign(tview.AlignRight))
	}

	title := fmt.Sprintf(" Conversations (%d) sort:%s ", len(cl.convs), cl.sort)
	if cl.filter != "" {
		title = fmt.Sprintf(" Conversations (%d/%d) sort:%s filter: %s ", len(cl.visible), len(cl.convs), cl.sort, tview.Escape(cl.filter))
	}
	cl.SetTitle(title)
}

func (cl *ConversationList) selectChat(chatID string) {
	for i, c := range cl.visible {
		if c.ChatID == chatID {
			cl.Select(i+1, 0)
			return
		}
	}
}

// SelectedChat returns the chat ID of the selected row.
func (cl *ConversationList) SelectedChat() string {
	row, _ := cl.GetSelection()
	return cl.ChatByIndex(row)
}

// ChatByIndex returns the chat ID of the Nth visible conversation (1-based).
func (cl *ConversationList) ChatByIndex(n int) string {
	if n < 1 || n > len(cl.visible) {
		return ""
	}
	return cl.visible[n-1].ChatID
}

// arrange filters and orders conversations. Pinned conversations stay on top
// in every mode.
func arrange(convs []chat.Conversation, filter string, mode SortMode) []chat.Conversation {
	out := make([]chat.Conversation, 0, len(convs))
	for _, c := range convs {
		if filter == "" || containsFold(displayName(c), filter) || containsFold(c.CounterpartID, filter) || containsFold(c.LastMessagePreview, filter) {
			out = append(out, c)
		}
	}
	slices.SortStableFunc(out, func(a, b chat.Conversation) int {
		if a.Pinned != b.Pinned {
			if a.Pinned {
				return -1
			}
			return 1
		}
		switch mode {
		case SortUnread:
			if c := cmp.Compare(b.UnreadCount, a.UnreadCount); c != 0 {
				return c
			}
		case SortName:
			if c := strings.Compare(strings.ToLower(displayName(a)), strings.ToLower(displayName(b))); c != 0 {
				return c
			}
		}
		return cmp.Compare(b.LastMessageAt, a.LastMessageAt)
	})
	return out
}

func displayName(c chat.Conversation) string {
	if c.CounterpartName != "" {
		return c.CounterpartName
	}
	return c.CounterpartID
}

func formatTimestamp(ms int64, now time.Time) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms)
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
