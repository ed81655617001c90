// Package logging configures the process-wide slog logger: a plain
// append-only file log plus an ANSI-colorized console sibling. Records
// carry file:line source capture.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

var levelColors = map[slog.Level]*color.Color{
	slog.LevelDebug: color.New(color.FgHiBlack),
	slog.LevelInfo:  color.New(color.FgCyan),
	slog.LevelWarn:  color.New(color.FgYellow),
	slog.LevelError: color.New(color.FgRed, color.Bold),
}

// handler writes every record to the console (colorized) and, when a
// log file is configured, to the file (plain).
type handler struct {
	level   slog.Level
	console io.Writer
	file    io.Writer
	attrs   []slog.Attr
	mu      *sync.Mutex
}

// Setup installs the default slog logger. logPath may be empty for
// console-only logging (used by CLI subcommands).
func Setup(level string, logPath string) error {
	h := &handler{
		level:   parseLevel(level),
		console: os.Stderr,
		mu:      &sync.Mutex{},
	}
	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", logPath, err)
		}
		h.file = f
	}
	slog.SetDefault(slog.New(h))
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	caller := callerLocation(r.PC)

	var attrs strings.Builder
	appendAttr := func(a slog.Attr) bool {
		fmt.Fprintf(&attrs, " %s=%v", a.Key, a.Value)
		return true
	}
	for _, a := range h.attrs {
		appendAttr(a)
	}
	r.Attrs(appendAttr)

	plain := fmt.Sprintf("%s %-5s %s %s%s\n",
		r.Time.Format(time.RFC3339), r.Level.String(), caller, r.Message, attrs.String())

	lvl := r.Level.String()
	if c, ok := levelColors[r.Level]; ok {
		lvl = c.Sprint(lvl)
	}
	colored := fmt.Sprintf("%s %-5s %s %s%s\n",
		r.Time.Format("15:04:05"), lvl, color.HiBlackString(caller), r.Message, attrs.String())

	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprint(h.console, colored)
	if h.file != nil {
		fmt.Fprint(h.file, plain)
	}
	return nil
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *handler) WithGroup(name string) slog.Handler {
	// Groups are flattened; the log surface is small enough not to need them.
	return h
}

func callerLocation(pc uintptr) string {
	if pc == 0 {
		return "???"
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	frame, _ := frames.Next()
	if frame.File == "" {
		return "???"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
}
