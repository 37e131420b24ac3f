package ui

import (
	"slices"

	"github.com/rivo/tview"
)

// Pages keeps a navigation stack over tview.Pages. Only the top of the
// stack is visible.
type Pages struct {
	*tview.Pages
	stack    []string
	onChange func(stack []string)
}

func NewPages() *Pages {
	return &Pages{Pages: tview.NewPages()}
}

// SetOnChange registers fn to receive a copy of the stack after every change.
func (p *Pages) SetOnChange(fn func(stack []string)) {
	p.onChange = fn
}

// Push shows name on top. If name is already on the stack the pages above
// it are dropped, so the thread page is never stacked twice.
func (p *Pages) Push(name string) {
	if i := slices.Index(p.stack, name); i >= 0 {
		p.truncate(i + 1)
	} else {
		p.stack = append(p.stack, name)
	}
	p.raise()
}

// Pop drops the top page and returns its name. The root page stays.
func (p *Pages) Pop() string {
	if len(p.stack) < 2 {
		return ""
	}
	top := p.Current()
	p.truncate(len(p.stack) - 1)
	p.raise()
	return top
}

// Current returns the visible page, or "" before the first Push.
func (p *Pages) Current() string {
	if len(p.stack) == 0 {
		return ""
	}
	return p.stack[len(p.stack)-1]
}

func (p *Pages) Stack() []string {
	return slices.Clone(p.stack)
}

// Reset makes name the only page on the stack.
func (p *Pages) Reset(name string) {
	p.truncate(0)
	p.stack = append(p.stack, name)
	p.raise()
}

func (p *Pages) truncate(n int) {
	for _, name := range p.stack[n:] {
		p.HidePage(name)
	}
	p.stack = p.stack[:n]
}

func (p *Pages) raise() {
	top := p.Current()
	for _, name := range p.stack[:len(p.stack)-1] {
		p.HidePage(name)
	}
	p.ShowPage(top)
	p.SendToFront(top)
	if p.onChange != nil {
		p.onChange(p.Stack())
	}
}
