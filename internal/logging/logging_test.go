package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelError},
		{"error", slog.LevelError},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"info", slog.LevelInfo},
		{"verbose", LevelVerbose},
		{"debug", slog.LevelDebug},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLevel(%q) returned error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseLevel("silly"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.log")

	logger, closer, err := New(Options{Level: "verbose", Format: "json", File: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logger.Log(context.Background(), LevelVerbose, "panda resumed")
	logger.Debug("should be filtered")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"level":"VERBOSE"`) {
		t.Errorf("expected VERBOSE level in output, got %s", out)
	}
	if strings.Contains(out, "should be filtered") {
		t.Error("debug message should not be written at verbose level")
	}
}

func TestNew_RejectsUnknownFormat(t *testing.T) {
	if _, _, err := New(Options{Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
}
