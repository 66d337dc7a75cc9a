// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"

	"github.com/metapages/metaframe-bluetooth/internal/config"
)

const appName = "metaframe-bluetooth"

// New returns a logger writing to w: tint for the text format, JSON
// otherwise. color enables ANSI colors in text output.
func New(w io.Writer, cfg *config.Config, color bool) *slog.Logger {
	level := config.ParseLogLevel(cfg.LogLevel)
	if cfg.LogFormat == "json" {
		h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
		return slog.New(h).With("app", appName)
	}
	h := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    !color,
	})
	return slog.New(h)
}

// Open returns the logger for this run and a function that releases its
// destination. While the terminal UI owns the screen logs go to a file
// (log_file, or the default log file); otherwise to stderr, or to log_file
// when one is set.
func Open(cfg *config.Config, tui bool) (*slog.Logger, func() error, error) {
	path := cfg.LogFile
	if path == "" && tui {
		path = config.DefaultLogFile()
	}
	if path == "" {
		return New(os.Stderr, cfg, true), func() error { return nil }, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	return New(f, cfg, false), f.Close, nil
}
