package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWritesToStdoutAndLogFile(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "daemon.log")

	var buf bytes.Buffer
	closer, err := Init(Options{Level: slog.LevelInfo, LogFile: logFile, Stdout: &buf})
	if err != nil {
		t.Fatal(err)
	}
	defer closer.Close()

	slog.Info("hello", "k", "v")

	if !strings.Contains(buf.String(), "hello") {
		t.Fatalf("expected stdout buffer to contain log line, got %q", buf.String())
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "hello") || !strings.Contains(string(data), "k=v") {
		t.Fatalf("expected log file to contain structured attrs, got %q", data)
	}
}

func TestInitWithoutLogFileStillSetsDefault(t *testing.T) {
	var buf bytes.Buffer
	closer, err := Init(Options{Level: slog.LevelInfo, Stdout: &buf})
	if err != nil {
		t.Fatal(err)
	}
	defer closer.Close()

	slog.Info("no file configured")
	if !strings.Contains(buf.String(), "no file configured") {
		t.Fatalf("expected stdout to receive the log line")
	}
}
