package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/pairchat/internal/api"
	"github.com/matheus3301/pairchat/internal/chat"
	"github.com/matheus3301/pairchat/internal/tui/ui"
	"github.com/rivo/tview"
)

// SearchView provides message search functionality.
type SearchView struct {
	*tview.Flex
	theme   *ui.Theme
	input   *tview.InputField
	results *tview.Table
	onQuery func(query string)
	data    []chat.Message
}

// NewSearchView creates a new search view.
func NewSearchView(theme *ui.Theme) *SearchView {
	input := tview.NewInputField().
		SetLabel(" Search: ").
		SetFieldWidth(0)
	input.SetBorderColor(theme.BorderColor)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)

	results := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	results.SetBorder(true)
	results.SetBorderColor(theme.BorderColor)
	results.SetBackgroundColor(theme.BgColor)
	results.SetTitle(" Results ")
	results.SetTitleColor(theme.TitleColor)
	results.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(input, 1, 0, true).
		AddItem(results, 0, 1, false)

	sv := &SearchView{
		Flex:    flex,
		theme:   theme,
		input:   input,
		results: results,
	}
	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && sv.onQuery != nil && sv.input.GetText() != "" {
			sv.onQuery(sv.input.GetText())
		}
	})

	return sv
}

// Name implements Component.
func (sv *SearchView) Name() string { return "search" }

// Hints implements Component.
func (sv *SearchView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "enter", Description: "Search/Open"},
		{Key: "tab", Description: "Results"},
		{Key: "esc", Description: "Back"},
	}
}

// SetOnQuery sets the callback when a search query is submitted.
func (sv *SearchView) SetOnQuery(fn func(query string)) {
	sv.onQuery = fn
}

// SetQuery fills the input, e.g. from the :search command.
func (sv *SearchView) SetQuery(q string) {
	sv.input.SetText(q)
}

// Update refreshes search results.
func (sv *SearchView) Update(resp *api.SearchResponse) {
	sv.data = resp.Messages
	sv.results.Clear()

	headers := []string{" CHAT", " FROM", " MESSAGE", " TIME"}
	for col, h := range headers {
		sv.results.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(sv.theme.TableHeaderFg).
			SetBackgroundColor(sv.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold))
	}

	query := strings.TrimSpace(sv.input.GetText())
	mark := ui.ColorName(sv.theme.TitleColor)
	now := time.Now()
	for i, m := range resp.Messages {
		row := i + 1
		text := m.Content
		if m.Type != chat.TypeText {
			text = chat.Preview(m.Type, m.Content, m.Media)
		}
		sv.results.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(m.ChatID)).SetMaxWidth(28).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(m.SenderID)).SetMaxWidth(16).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 2, tview.NewTableCell(" "+highlight(sanitizeForTerminal(text), query, mark)).SetExpansion(1).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 3, tview.NewTableCell(" "+formatTimestamp(m.Timestamp, now)).SetMaxWidth(12).SetTextColor(sv.theme.FgColor))
	}

	title := fmt.Sprintf(" Results (%d of %d) ", len(resp.Messages), resp.Total)
	if resp.Local {
		title = fmt.Sprintf(" Results (%d, stored messages) ", len(resp.Messages))
	}
	sv.results.SetTitle(title)
}

// SelectedResult returns the chat ID and message ID of the selected result.
func (sv *SearchView) SelectedResult() (string, string) {
	row, _ := sv.results.GetSelection()
	idx := row - 1
	if idx >= 0 && idx < len(sv.data) {
		return sv.data[idx].ChatID, sv.data[idx].ID
	}
	return "", ""
}

// Input returns the search input field.
func (sv *SearchView) Input() *tview.InputField {
	return sv.input
}

// Results returns the results table.
func (sv *SearchView) Results() *tview.Table {
	return sv.results
}

// highlight escapes text for a table cell and marks case-insensitive
// matches of query in bold.
func highlight(text, query, color string) string {
	lower, q := strings.ToLower(text), strings.ToLower(query)
	if q == "" || len(lower) != len(text) {
		return tview.Escape(text)
	}
	var b strings.Builder
	for {
		i := strings.Index(lower, q)
		if i < 0 {
			b.WriteString(tview.Escape(text))
			return b.String()
		}
		b.WriteString(tview.Escape(text[:i]))
		fmt.Fprintf(&b, "[%s::b]%s[-::-]", color, tview.Escape(text[i:i+len(q)]))
		text, lower = text[i+len(q):], lower[i+len(q):]
	}
}
