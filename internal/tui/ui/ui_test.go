package ui

import (
	"errors"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestPagesPushReturnsToExistingPage(t *testing.T) {
	p := NewPages()
	for _, name := range []string{"conversations", "thread", "details"} {
		p.AddPage(name, tview.NewBox(), true, false)
	}
	var last []string
	p.SetOnChange(func(stack []string) { last = stack })

	p.Reset("conversations")
	p.Push("thread")
	p.Push("details")
	p.Push("thread")

	if got := p.Current(); got != "thread" {
		t.Fatalf("Current() = %q, want thread", got)
	}
	if len(last) != 2 {
		t.Fatalf("stack = %v, want [conversations thread]", last)
	}
}

func TestPagesPopKeepsRoot(t *testing.T) {
	p := NewPages()
	p.AddPage("conversations", tview.NewBox(), true, false)
	p.AddPage("help", tview.NewBox(), true, false)
	p.Reset("conversations")
	p.Push("help")

	if got := p.Pop(); got != "help" {
		t.Errorf("Pop() = %q, want help", got)
	}
	if got := p.Pop(); got != "" {
		t.Errorf("Pop() on the root = %q, want empty", got)
	}
	if got := p.Current(); got != "conversations" {
		t.Errorf("Current() = %q, want conversations", got)
	}
}

func TestFlashExpires(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	f := NewFlashModel()
	f.now = func() time.Time { return now }

	f.Info("sent")
	if m := f.Current(); m == nil || m.Text != "sent" {
		t.Fatalf("Current() = %+v, want sent", m)
	}
	now = now.Add(6 * time.Second)
	if m := f.Current(); m != nil {
		t.Errorf("Current() after expiry = %+v, want nil", m)
	}
}

func TestFlashErrUsesStatusMessage(t *testing.T) {
	f := NewFlashModel()

	f.Err("send", status.Error(codes.FailedPrecondition, "no conversation is open"))
	m := f.Current()
	if m == nil || m.Text != "send: no conversation is open" || m.Level != FlashErr {
		t.Errorf("Current() = %+v", m)
	}

	f.Err("search", status.Error(codes.Unauthenticated, "token expired"))
	if m := f.Current(); m == nil || m.Level != FlashWarn {
		t.Errorf("an expired session should warn, got %+v", m)
	}

	f.Err("open", errors.New("boom"))
	if m := f.Current(); m == nil || m.Text != "open: boom" {
		t.Errorf("Current() = %+v", m)
	}
}

func TestColorName(t *testing.T) {
	if got := ColorName(tcell.ColorBlack); got != "black" {
		t.Errorf("ColorName(black) = %q", got)
	}
	if got := ColorName(tcell.NewRGBColor(1, 2, 3)); got != "#010203" {
		t.Errorf("ColorName(rgb) = %q", got)
	}
}
