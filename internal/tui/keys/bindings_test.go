package keys

import (
	"testing"

	"github.com/gdamore/tcell/v2"
)

func TestPageBindingShadowsGlobal(t *testing.T) {
	r := NewRegistry()
	var got string
	r.AddGlobal(&Action{Key: tcell.KeyRune, Rune: 'q', Description: "Quit", Visible: true, Handler: func() { got = "quit" }})
	r.AddPage("thread", &Action{Key: tcell.KeyRune, Rune: 'q', Description: "Back", Handler: func() { got = "back" }})

	if !r.HandleEvent("thread", tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)) || got != "back" {
		t.Errorf("thread page: handled %q, want back", got)
	}
	if !r.HandleEvent("conversations", tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)) || got != "quit" {
		t.Errorf("conversations page: handled %q, want quit", got)
	}
	if r.HandleEvent("conversations", tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone)) {
		t.Error("unbound key reported as handled")
	}
}

func TestHintsOrder(t *testing.T) {
	r := NewRegistry()
	r.AddGlobal(&Action{Key: tcell.KeyRune, Rune: '?', Description: "Help", Visible: true})
	r.AddPage("thread", &Action{Key: tcell.KeyRune, Rune: 'i', Description: "Compose", Visible: true})
	r.AddPage("thread", &Action{Key: tcell.KeyCtrlL, Label: "ctrl-l", Description: "Older", Visible: true})
	r.AddPage("thread", &Action{Key: tcell.KeyRune, Rune: 'x', Description: "hidden"})

	hints := r.Hints("thread")
	if len(hints) != 3 {
		t.Fatalf("Hints() = %+v, want 3 entries", hints)
	}
	want := []string{"i", "ctrl-l", "?"}
	for i, h := range hints {
		if h.Key != want[i] {
			t.Errorf("hint %d key = %q, want %q", i, h.Key, want[i])
		}
	}
}
