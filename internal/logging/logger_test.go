package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "yaml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestConsoleHandlerRendersComponentPrefix(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "info", Format: "console", Output: &buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	NewComponentLogger(logger, "janitor").Info("sweep complete", Int64("freed", 42))

	line := buf.String()
	if !strings.Contains(line, "INFO janitor: sweep complete") {
		t.Errorf("unexpected console line: %q", line)
	}
	if !strings.Contains(line, "freed=42") {
		t.Errorf("missing attr in console line: %q", line)
	}
}

func TestConsoleHandlerQuotesValuesWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Format: "console", Output: &buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	logger.Info("msg", String("title", "two words"))

	if !strings.Contains(buf.String(), `title="two words"`) {
		t.Errorf("expected quoted value, got %q", buf.String())
	}
}

func TestConsoleHandlerHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "warn", Format: "console", Output: &buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	logger.Info("should be dropped")
	logger.Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should be dropped") {
		t.Error("info line leaked past warn level")
	}
	if !strings.Contains(out, "should appear") {
		t.Error("warn line missing")
	}
}

func TestJSONHandlerEmitsLowercaseLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	logger.Info("hello", String("k", "v"))

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode json log line: %v", err)
	}
	if decoded["level"] != "info" {
		t.Errorf("level = %v, want info", decoded["level"])
	}
	if decoded["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", decoded["msg"])
	}
	if _, ok := decoded["ts"]; !ok {
		t.Error("missing ts key")
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := NewNop()
	logger.Error("nothing should happen", Error(nil))
}

func TestOpenLogFileCreatesAndAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "daemon.log")

	first, err := OpenLogFile(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	fmt.Fprintln(first, "first line")
	if closer, ok := first.(io.Closer); ok {
		closer.Close()
	}

	second, err := OpenLogFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	fmt.Fprintln(second, "second line")
	if closer, ok := second.(io.Closer); ok {
		closer.Close()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !strings.Contains(string(data), "first line") || !strings.Contains(string(data), "second line") {
		t.Fatalf("log file lost appended output: %q", data)
	}
}
