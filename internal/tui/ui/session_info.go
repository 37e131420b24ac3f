package ui

import (
	"fmt"
	"time"

	"github.com/matheus3301/pairchat/internal/status"
	"github.com/rivo/tview"
)

// SessionData holds session information for display.
type SessionData struct {
	Session        string
	UserID         string
	State          status.State
	Attempts       int
	ResyncAttempts int
	Conversations  int
	MessageService bool
	RealtimeHTTP   bool
	Uptime         time.Duration
}

// SessionInfo displays session metadata in the header.
type SessionInfo struct {
	*tview.TextView
	theme *Theme
}

// NewSessionInfo creates a new session info panel.
func NewSessionInfo(theme *Theme) *SessionInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)

	return &SessionInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders the session info.
func (si *SessionInfo) Update(data *SessionData) {
	si.Clear()
	if data == nil {
		return
	}

	fg := ColorName(si.theme.FgColor)
	ct := ColorName(si.theme.CounterColor)

	user := data.UserID
	if user == "" {
		user = "(login required)"
	}

	state := string(data.State)
	if data.Attempts > 0 {
		state = fmt.Sprintf("%s (retry %d)", state, data.Attempts)
	}
	if data.ResyncAttempts > 0 {
		state = fmt.Sprintf("%s (resync %d)", state, data.ResyncAttempts)
	}

	_, _ = fmt.Fprintf(si,
		"[%[1]s::b]Session:[-:-:-]  [%[2]s]%[3]s[-]\n"+
			"[%[1]s::b]User:[-:-:-]     [%[2]s]%[4]s[-]\n"+
			"[%[1]s::b]Link:[-:-:-]     [%[5]s]%[6]s[-]\n"+
			"[%[1]s::b]Chats:[-:-:-]    [%[2]s]%[7]d[-]\n"+
			"[%[1]s::b]Services:[-:-:-] %[8]s %[9]s\n"+
			"[%[1]s::b]Uptime:[-:-:-]   [%[2]s]%[10]s[-]",
		fg, ct, tview.Escape(data.Session),
		tview.Escape(user),
		ColorName(si.theme.StateColor(data.State)), state,
		data.Conversations,
		si.service("msg", data.MessageService),
		si.service("rt", data.RealtimeHTTP),
		formatDuration(data.Uptime),
	)
}

func (si *SessionInfo) service(name string, up bool) string {
	c := si.theme.OfflineColor
	if up {
		c = si.theme.OnlineColor
	}
	return fmt.Sprintf("[%s]%s[-]", ColorName(c), name)
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
