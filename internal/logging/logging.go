// Package logging initializes the daemon's single global slog handle:
// colorized output to stdout via tint (color suppressed off a TTY) and a
// plain text stream to a log file truncated on every start. Called once
// at process start and never reconfigured. The daemon has no ACL-ready
// latch: internal/aclstaging keeps its state on a Manager value, not in a
// process-wide global.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Options controls where and how verbosely the daemon logs.
type Options struct {
	Level   slog.Level
	LogFile string // empty disables file logging
	Stdout  io.Writer
}

// Init sets the process-wide default slog logger and returns a closer for
// the underlying log file handle (a no-op if LogFile was empty).
func Init(opts Options) (io.Closer, error) {
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	noColor := true
	if f, ok := stdout.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
	}

	stdoutHandler := tint.NewHandler(stdout, &tint.Options{
		Level:      opts.Level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    noColor,
	})

	if opts.LogFile == "" {
		slog.SetDefault(slog.New(stdoutHandler))
		return nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.LogFile), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}

	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: opts.Level})
	slog.SetDefault(slog.New(newMultiHandler(stdoutHandler, fileHandler)))
	return file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
