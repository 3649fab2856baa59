package logging

import (
	"os"
	"sync/atomic"
)

var global atomic.Pointer[Logger]

func init() {
	global.Store(DefaultLogger())
}

// SetGlobal replaces the process-wide logger. A nil logger is ignored.
func SetGlobal(l *Logger) {
	if l != nil {
		global.Store(l)
	}
}

// Global returns the process-wide logger. Packages fall back to it when no
// logger is injected.
func Global() *Logger {
	return global.Load()
}

// Configure builds a stderr logger from the observability settings and
// installs it globally. Debug level also records the caller.
func Configure(level, format string) *Logger {
	lvl := ParseLevel(level)
	l := New(Config{
		Level:     lvl,
		Format:    ParseFormat(format),
		Output:    os.Stderr,
		AddCaller: lvl == LevelDebug,
	})
	SetGlobal(l)
	return l
}

func Infof(msg string, fields map[string]any)  { Global().Infof(msg, fields) }
func Warnf(msg string, fields map[string]any)  { Global().Warnf(msg, fields) }
func Errorf(msg string, fields map[string]any) { Global().Errorf(msg, fields) }
