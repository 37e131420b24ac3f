package views

import (
	"fmt"
	"strings"

	"github.com/matheus3301/pairchat/internal/tui/ui"
	"github.com/rivo/tview"
)

// HelpView displays key binding reference.
type HelpView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewHelpView creates a new help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	hv := &HelpView{
		TextView: tv,
		theme:    theme,
	}
	hv.render()
	return hv
}

// Name implements Component.
func (hv *HelpView) Name() string { return "help" }

// Hints implements Component.
func (hv *HelpView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "esc", Description: "Back"},
	}
}

var helpSections = []struct {
	title string
	keys  [][2]string
}{
	{"Global", [][2]string{
		{":", "Command mode"},
		{"/", "Filter conversations"},
		{"?", "Help"},
		{"Esc", "Cancel / go back"},
		{"q", "Quit (back in a thread)"},
		{"Ctrl-C", "Quit immediately"},
	}},
	{"Conversation List", [][2]string{
		{"Enter", "Open conversation"},
		{"1-9", "Open the Nth conversation"},
		{"0", "Clear the filter"},
		{"s", "Cycle sort mode"},
		{"r", "Refresh from the server"},
	}},
	{"Message Thread", [][2]string{
		{"i", "Focus the composer"},
		{"Enter", "Send (in the composer)"},
		{"m", "Load older messages"},
		{"d", "Conversation details"},
	}},
	{"Commands", [][2]string{
		{":start <user> [name]", "Start a conversation"},
		{":open <user|chat>", "Open a conversation"},
		{":search <text>", "Search messages"},
		{":attach <path> [caption]", "Upload and send a file"},
		{":more", "Load older messages"},
		{":refresh", "Refresh conversations"},
		{":connect / :disconnect", "Realtime connection"},
		{":login / :logout", "Session credentials"},
		{":quit / :q", "Quit"},
	}},
}

func (hv *HelpView) render() {
	kc := ui.ColorName(hv.theme.MenuKeyColor)

	var b strings.Builder
	for _, s := range helpSections {
		fmt.Fprintf(&b, "\n  [::b]%s[-:-:-]\n\n", s.title)
		for _, k := range s.keys {
			fmt.Fprintf(&b, "  [%s]%-26s[-:-:-] %s\n", kc, tview.Escape(k[0]), k[1])
		}
	}
	_, _ = fmt.Fprint(hv, b.String())
}
