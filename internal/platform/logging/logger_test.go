package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"log/slog"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()

	dir := t.TempDir()
	logger, err := New(&Config{
		Level:    "debug",
		Dir:      dir,
		Filename: "gateway.log",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger
}

func TestNew_CreatesLogFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(&Config{
		Level:    "info",
		Dir:      filepath.Join(dir, "logs"),
		Filename: "gateway.log",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(filepath.Join(dir, "logs", "gateway.log")); err != nil {
		t.Errorf("log file not created: %v", err)
	}
}

func TestLogger_WritesJSONRecords(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(&Config{
		Level:    "debug",
		Dir:      dir,
		Filename: "gateway.log",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Info("device registered", map[string]interface{}{
		"serial": "FP-1001",
	})
	logger.Close()

	data, err := os.ReadFile(filepath.Join(dir, "gateway.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	content := string(data)
	if !strings.Contains(content, "device registered") {
		t.Errorf("log file missing message, got %q", content)
	}
	if !strings.Contains(content, "FP-1001") {
		t.Errorf("log file missing field value, got %q", content)
	}
}

func TestLogger_FormatPlaceholders(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(&Config{
		Level:    "info",
		Dir:      dir,
		Filename: "gateway.log",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Info("processed %d records for %s", 3, "FP-1001")
	logger.Close()

	data, _ := os.ReadFile(filepath.Join(dir, "gateway.log"))
	if !strings.Contains(string(data), "processed 3 records for FP-1001") {
		t.Errorf("format verbs not expanded, got %q", string(data))
	}
}

func TestFormatLog(t *testing.T) {
	tests := []struct {
		name     string
		tag      string
		message  string
		expected string
	}{
		{
			name:     "plain message gets tag",
			tag:      "Delivery",
			message:  "batch delivered",
			expected: "[Delivery] batch delivered",
		},
		{
			name:     "already tagged message unchanged",
			tag:      "Delivery",
			message:  "[Dispatch] handled frame",
			expected: "[Dispatch] handled frame",
		},
		{
			name:     "empty tag",
			tag:      "",
			message:  "no tag",
			expected: "no tag",
		},
		{
			name:     "whitespace trimmed",
			tag:      " Lock ",
			message:  " acquired ",
			expected: "[Lock] acquired",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatLog(tt.tag, tt.message); got != tt.expected {
				t.Errorf("FormatLog() = %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestConfigLevelToSlogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := configLevelToSlogLevel(tt.level); got != tt.expected {
			t.Errorf("configLevelToSlogLevel(%q) = %v, expected %v", tt.level, got, tt.expected)
		}
	}
}

func TestLogger_TagHelpersNilSafe(t *testing.T) {
	var logger *Logger
	logger.InfoTag("Bootstrap", "should not panic")
	logger.ErrorTag("Delivery", "should not panic")
}

func TestLogger_TagHelpers(t *testing.T) {
	logger := newTestLogger(t)
	logger.InfoTag("Registry", "device %s registered", "FP-2002")
	logger.WarnTag("Retry", "requeued record")

	data, err := os.ReadFile(filepath.Join(logger.config.Dir, logger.config.Filename))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	content := string(data)
	if !strings.Contains(content, "[Registry] device FP-2002 registered") {
		t.Errorf("tagged message missing, got %q", content)
	}
	if !strings.Contains(content, "[Retry] requeued record") {
		t.Errorf("tagged warning missing, got %q", content)
	}
}
