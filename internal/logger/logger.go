// Package logger owns the process-wide slog logger.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// L is the process logger. It is usable before Init and writes text to stderr.
var L = slog.New(slog.NewTextHandler(os.Stderr, nil))

// Init replaces L according to level ("debug", "info", "warn", "error")
// and format ("text" or "json").
func Init(level, format string) {
	L = New(os.Stderr, level, format)
	slog.SetDefault(L)
}

// New builds a logger writing to w.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Printer adapts a slog logger to the Println/Printf shape expected by
// libraries with their own logger hooks.
type Printer struct {
	Log *slog.Logger
}

func (p Printer) Println(v ...any) {
	p.Log.Debug(strings.TrimSpace(fmt.Sprint(v...)))
}

func (p Printer) Printf(format string, v ...any) {
	p.Log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
