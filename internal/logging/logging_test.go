package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "warn", Writer: &buf})

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered at warn level, got: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("expected warn line in output, got: %s", out)
	}
}

func TestNew_UnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "chatty", Writer: &buf})

	logger.Debug().Msg("debug line")
	logger.Info().Msg("info line")

	out := buf.String()
	if strings.Contains(out, "debug line") {
		t.Errorf("debug should be filtered by default, got: %s", out)
	}
	if !strings.Contains(out, `"level":"info"`) {
		t.Errorf("expected JSON info line, got: %s", out)
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(New(Options{Writer: &buf}), "bus")
	logger.Info().Msg("hello")

	if !strings.Contains(buf.String(), `"component":"bus"`) {
		t.Errorf("expected component field, got: %s", buf.String())
	}
}

func TestFileLogger(t *testing.T) {
	path := MissionLogPath(t.TempDir(), "m-1")

	fl, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	logger := fl.Logger()
	logger.Info().Str("phase", "plan").Msg("transition")
	if err := fl.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"phase":"plan"`) {
		t.Errorf("expected phase field in log file, got: %s", data)
	}
	if filepath.Base(path) != "m-1.log" {
		t.Errorf("unexpected log file name %q", filepath.Base(path))
	}
}

func TestFileLogger_EmptyPathIsNop(t *testing.T) {
	fl, err := NewFileLogger("")
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	logger := fl.Logger()
	logger.Info().Msg("dropped")
	if err := fl.Close(); err != nil {
		t.Errorf("Close on nop logger returned %v", err)
	}

	var nilLogger *FileLogger
	if err := nilLogger.Close(); err != nil {
		t.Errorf("Close on nil logger returned %v", err)
	}
}
