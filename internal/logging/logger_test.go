package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"verbose", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "pairchatd.log")
	var console bytes.Buffer
	logger, err := New(Options{Path: path, Session: "work", Level: "warn", Console: &console})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if strings.Contains(out, "hidden") {
		t.Error("info entry written at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"session":"work"`) {
		t.Errorf("unexpected log file contents: %s", out)
	}
	if !strings.Contains(console.String(), "WARN") || strings.Contains(console.String(), "hidden") {
		t.Errorf("unexpected console output: %s", console.String())
	}
}

func TestNewDetachedHasNoConsole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairchatd.log")
	logger, err := New(Options{Path: path, Session: "work"})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("started")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"msg":"started"`) {
		t.Errorf("unexpected log file contents: %s", data)
	}
}
