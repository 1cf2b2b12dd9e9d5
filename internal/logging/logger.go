// Package logging builds the process logger: tinted console output, rotated
// file output, and credential masking on every sink.
package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kuhlman-labs/mgit/internal/config"
	"github.com/kuhlman-labs/mgit/internal/mask"
)

// Options configures the logger.
type Options struct {
	Level string // debug, info, warn, error
	// File enables rotated file logging when non-empty.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Quiet drops console output below warn, for progress-bar runs.
	Quiet bool
}

// DefaultOptions returns the standard CLI logging setup: console only.
func DefaultOptions() Options {
	return Options{Level: "info"}
}

// FileOptions enables file logging under the config directory.
func FileOptions(level string) Options {
	return Options{
		Level:      level,
		File:       filepath.Join(config.DefaultConfigDir(), "mgit.log"),
		MaxSizeMB:  50,
		MaxBackups: 3,
		MaxAgeDays: 28,
	}
}

// NewLogger builds a slog.Logger per opts. Every handler is wrapped with the
// credential masker, so nothing reaches a sink unmasked.
func NewLogger(opts Options) *slog.Logger {
	level := parseLevel(opts.Level)

	consoleLevel := level
	if opts.Quiet && consoleLevel < slog.LevelWarn {
		consoleLevel = slog.LevelWarn
	}

	console := tint.NewHandler(os.Stderr, &tint.Options{
		Level:   consoleLevel,
		NoColor: !shouldUseColors(),
	})

	var handler slog.Handler = console
	if opts.File != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		fileHandler := slog.NewJSONHandler(fileWriter, &slog.HandlerOptions{Level: level})
		handler = NewMultiHandler(console, fileHandler)
	}

	return slog.New(mask.NewHandler(handler))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// shouldUseColors determines if colored output should be used based on
// terminal capabilities and environment settings.
func shouldUseColors() bool {
	if !isTerminal(os.Stderr) {
		return false
	}

	// Respect NO_COLOR (https://no-color.org/)
	if os.Getenv("NO_COLOR") != "" {
		return false
	}

	term := os.Getenv("TERM")
	if term == "dumb" || term == "" {
		return false
	}

	return true
}

// MultiHandler writes to multiple handlers.
type MultiHandler struct {
	handlers []slog.Handler
}

func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	return &MultiHandler{handlers: handlers}
}

func (h *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newHandlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		newHandlers[i] = handler.WithAttrs(attrs)
	}
	return &MultiHandler{handlers: newHandlers}
}

func (h *MultiHandler) WithGroup(name string) slog.Handler {
	newHandlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		newHandlers[i] = handler.WithGroup(name)
	}
	return &MultiHandler{handlers: newHandlers}
}
