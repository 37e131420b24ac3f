package tui

import "testing"

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in   string
		want Command
	}{
		{"quit", Command{Name: "quit"}},
		{"  Search  lunch plans ", Command{Name: "search", Args: "lunch plans"}},
		{"start bob Bob Smith", Command{Name: "start", Args: "bob Bob Smith"}},
		{"", Command{}},
	}
	for _, c := range cases {
		if got := ParseCommand(c.in); got != c.want {
			t.Errorf("ParseCommand(%q) = %+v, want %+v", c.in, got, c.want)
		}
	}
}

func TestCommandSplit(t *testing.T) {
	first, rest := ParseCommand("start bob  Bob Smith").Split()
	if first != "bob" || rest != "Bob Smith" {
		t.Errorf("Split() = %q, %q", first, rest)
	}
	first, rest = ParseCommand("attach /tmp/a.png").Split()
	if first != "/tmp/a.png" || rest != "" {
		t.Errorf("Split() = %q, %q", first, rest)
	}
}
