// Package xlog provides a small embeddable logger used by flow.Flow and
// engine.Engine, generalizing the debug/trace/logerr trio pattern so it
// is written once instead of once per type.
package xlog

import (
	"log/slog"

	"github.com/soypat/tunflow/internal"
)

// Logger is embedded by value in types that want leveled, structured
// logging with a cheap disabled-check. The zero value discards all
// output.
type Logger struct {
	Log *slog.Logger
}

// Enabled reports whether a log record at lvl would actually be
// emitted, letting callers skip building attrs for a disabled level.
func (l Logger) Enabled(lvl slog.Level) bool {
	return internal.HeapAllocDebugging || internal.LogEnabled(l.Log, lvl)
}

func (l Logger) logAttrs(lvl slog.Level, msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.Log, lvl, msg, attrs...)
}

// Debug logs at slog.LevelDebug.
func (l Logger) Debug(msg string, attrs ...slog.Attr) {
	l.logAttrs(slog.LevelDebug, msg, attrs...)
}

// Trace logs at internal.LevelTrace, a level below Debug reserved for
// per-segment chatter that's too noisy for routine debugging.
func (l Logger) Trace(msg string, attrs ...slog.Attr) {
	l.logAttrs(internal.LevelTrace, msg, attrs...)
}

// Error logs at slog.LevelError.
func (l Logger) Error(msg string, attrs ...slog.Attr) {
	l.logAttrs(slog.LevelError, msg, attrs...)
}
