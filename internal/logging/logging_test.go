package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestNewLoggerLevelAndJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "warn", Format: "json"}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Str("component", "test").Msg("visible")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("expected exactly one log line, got %d: %s", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal(lines[0], &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["message"] != "visible" || entry["component"] != "test" {
		t.Fatalf("unexpected entry: %#v", entry)
	}
}

func TestNewLoggerUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "loud"}, &buf)

	logger.Debug().Msg("debug")
	logger.Info().Msg("info")

	if bytes.Contains(buf.Bytes(), []byte(`"debug"`)) {
		t.Fatalf("debug output should be filtered: %s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"info"`)) {
		t.Fatalf("info output missing: %s", buf.String())
	}
}

func TestNewLoggerWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "pricehub.log")
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "info", File: FileConfig{Enabled: true, Path: path, MaxSizeMB: 1}}, &buf)

	logger.Info().Msg("to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file should exist: %v", err)
	}
	if !bytes.Contains(data, []byte("to file")) {
		t.Fatalf("log file missing entry: %s", data)
	}
	if !bytes.Contains(buf.Bytes(), []byte("to file")) {
		t.Fatalf("stdout writer missing entry: %s", buf.String())
	}
}
