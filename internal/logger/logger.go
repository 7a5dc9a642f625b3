// Package logger provides the process-wide structured logger.
// All packages log through it so output routing and level are
// controlled in one place.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"log/slog"
)

var (
	levelVar slog.LevelVar
	mu       sync.RWMutex
	base     *slog.Logger
)

func init() {
	levelVar.Set(slog.LevelInfo)
	base = build(os.Stdout)
}

func build(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar})
	return slog.New(h)
}

// SetOutput replaces the log destination. Callers typically pass an
// io.MultiWriter of stdout and a log file.
func SetOutput(w io.Writer) {
	mu.Lock()
	base = build(w)
	mu.Unlock()
}

// SetLevel accepts debug/info/warn/error; anything else falls back to info.
func SetLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "info":
		levelVar.Set(slog.LevelInfo)
	case "warn", "warning":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

func active() *slog.Logger {
	mu.RLock()
	l := base
	mu.RUnlock()
	if l != nil {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	if base == nil {
		base = build(os.Stdout)
	}
	return base
}

func Debugf(format string, v ...any) {
	active().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	active().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	active().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	active().Error(fmt.Sprintf(format, v...))
}

// NamedLogger prefixes every line with a component tag so interleaved
// output from the loop, the HTTP server, and the watcher stays readable.
type NamedLogger struct {
	tag string
}

// Named returns a logger tagged with the given component, e.g. [controller].
func Named(component string) *NamedLogger {
	return &NamedLogger{tag: "[" + component + "] "}
}

func (n *NamedLogger) Debugf(format string, v ...any) {
	if n == nil {
		Debugf(format, v...)
		return
	}
	active().Debug(n.tag + fmt.Sprintf(format, v...))
}

func (n *NamedLogger) Infof(format string, v ...any) {
	if n == nil {
		Infof(format, v...)
		return
	}
	active().Info(n.tag + fmt.Sprintf(format, v...))
}

func (n *NamedLogger) Warnf(format string, v ...any) {
	if n == nil {
		Warnf(format, v...)
		return
	}
	active().Warn(n.tag + fmt.Sprintf(format, v...))
}

func (n *NamedLogger) Errorf(format string, v ...any) {
	if n == nil {
		Errorf(format, v...)
		return
	}
	active().Error(n.tag + fmt.Sprintf(format, v...))
}
