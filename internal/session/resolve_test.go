package session

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolve(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("PAIRCHAT_DEFAULT_SESSION", "")

	if got := Resolve(""); got != DefaultSessionName {
		t.Errorf("Resolve() without config = %q, want %q", got, DefaultSessionName)
	}

	if err := os.MkdirAll(filepath.Join(home, ".pairchat"), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ConfigPath(), []byte("default_session = \"work\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := Resolve(""); got != "work" {
		t.Errorf("Resolve() with config = %q, want work", got)
	}

	t.Setenv("PAIRCHAT_DEFAULT_SESSION", "home")
	if got := Resolve(""); got != "home" {
		t.Errorf("Resolve() with env = %q, want home", got)
	}
	if got := Resolve("flag"); got != "flag" {
		t.Errorf("Resolve(flag) = %q, want flag", got)
	}
}
