package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// menuRows is how many hints fit in one column of the header.
const menuRows = 5

// Menu displays keyboard shortcut hints in columns.
type Menu struct {
	*tview.TextView
	theme *Theme
}

// NewMenu creates a new menu hint bar.
func NewMenu(theme *Theme) *Menu {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 2, 0)

	return &Menu{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders the hints column by column.
func (m *Menu) Update(hints []MenuHint) {
	m.Clear()

	keyColor := ColorName(m.theme.MenuKeyColor)
	numColor := ColorName(m.theme.NumericKeyColor)

	rows := make([]strings.Builder, menuRows)
	for i, h := range hints {
		kc := keyColor
		if h.Numeric {
			kc = numColor
		}
		cell := fmt.Sprintf("<%s>", h.Key)
		_, _ = fmt.Fprintf(&rows[i%menuRows], "[%s::b]%-7s[-:-:-] %-14s", kc, cell, h.Description)
	}
	for i := range rows {
		if rows[i].Len() == 0 {
			break
		}
		_, _ = fmt.Fprintln(m, rows[i].String())
	}
}
