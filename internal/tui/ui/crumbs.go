package ui

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Crumbs is a breadcrumb bar showing the page stack.
type Crumbs struct {
	*tview.TextView
	theme  *Theme
	titles map[string]string
}

// NewCrumbs creates a new breadcrumb bar.
func NewCrumbs(theme *Theme) *Crumbs {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)

	return &Crumbs{
		TextView: tv,
		theme:    theme,
		titles:   make(map[string]string),
	}
}

// SetTitle overrides the label shown for a page, e.g. the open chat's name.
func (c *Crumbs) SetTitle(page, title string) {
	if title == "" {
		delete(c.titles, page)
		return
	}
	c.titles[page] = title
}

// Update renders the breadcrumb trail from the page stack.
func (c *Crumbs) Update(stack []string) {
	c.Clear()

	parts := make([]string, 0, len(stack))
	for i, page := range stack {
		name := page
		if t, ok := c.titles[page]; ok {
			name = t
		}
		name = tview.Escape(name)
		fg, bg, attr := c.theme.CrumbInactiveFg, c.theme.CrumbInactiveBg, ""
		if i == len(stack)-1 {
			fg, bg, attr = c.theme.CrumbActiveFg, c.theme.CrumbActiveBg, "b"
		}
		parts = append(parts, fmt.Sprintf("[%s:%s:%s] <%s> [-:-:-]", ColorName(fg), ColorName(bg), attr, name))
	}
	_, _ = fmt.Fprint(c, strings.Join(parts, " "))
}

// ColorName returns a tview color tag for c.
func ColorName(c tcell.Color) string {
	for name, val := range tcell.ColorNames {
		if val == c {
			return name
		}
	}
	return fmt.Sprintf("#%06x", c.Hex())
}
