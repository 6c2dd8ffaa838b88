package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-ems/internal/infrastructure/config"
)

func TestNew_Formats(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LoggingConfig
	}{
		{"json stdout", config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}},
		{"text stderr", config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"}},
		{"empty output", config.LoggingConfig{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if New(tt.cfg, "1.0.0") == nil {
				t.Fatal("expected non-nil logger")
			}
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ems.log")
	logger := New(config.LoggingConfig{Level: "info", Format: "json", Output: path}, "1.2.3")
	logger.Info("gateway connected", "url", "tcp://gw:7000")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "gateway connected") {
		t.Errorf("log file = %q, want entry", data)
	}
}

func TestNew_UnwritableFileFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "ems.log")
	if New(config.LoggingConfig{Output: path}, "1.0.0") == nil {
		t.Fatal("expected fallback logger")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestHandler_DefaultFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{Logger: slog.New(newHandler(&buf, config.LoggingConfig{Level: "warn"}, "test"))}

	logger.Info("filtered")
	logger.Component("ems").Warn("queue full", "device", "boiler")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1 (info filtered): %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}
	want := map[string]string{
		"msg":       "queue full",
		"service":   ServiceName,
		"version":   "test",
		"component": "ems",
		"device":    "boiler",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %q", k, entry[k], v)
		}
	}
}

func TestHandler_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{Logger: slog.New(newHandler(&buf, config.LoggingConfig{Format: "text"}, "v"))}
	logger.Info("hello")

	if !strings.Contains(buf.String(), "service="+ServiceName) {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestLogger_WithReturnsChild(t *testing.T) {
	logger := Default()
	child := logger.With("component", "mqtt")
	if child == nil || child == logger {
		t.Error("expected distinct child logger")
	}
}
