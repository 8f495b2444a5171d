package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]bool{"debug": true, " WARNING ": true, "error": true, "": false, "loud": false}
	for in, ok := range cases {
		if _, got := ParseLevel(in); got != ok {
			t.Errorf("ParseLevel(%q) ok = %v, want %v", in, got, ok)
		}
	}
}

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "dispatch"))

	log.Debug("hidden")
	log.Info("fired", Int("id", 7), Err(errors.New("boom")), Err(nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec["message"] != "fired" || rec["comp"] != "dispatch" || rec["id"] != float64(7) || rec["err"] != "boom" {
		t.Fatalf("record = %v", rec)
	}
	if c, _ := rec["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %q", c)
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var log Logger
	if !log.IsZero() {
		t.Fatal("zero value should report IsZero")
	}
	log.Error("nothing", String("k", "v"))
	if log.Enabled(LevelError) {
		t.Fatal("nop logger should not be enabled")
	}
}

func TestNewConsoleLevel(t *testing.T) {
	if log := NewConsole("debug"); !log.Enabled(LevelDebug) {
		t.Fatal("debug console logger should log debug")
	}
	log := NewConsole("nonsense")
	if log.Enabled(LevelDebug) || !log.Enabled(LevelInfo) {
		t.Fatal("unknown level should fall back to info")
	}
}
