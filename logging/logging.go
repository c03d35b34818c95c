// Package logging builds the process logger from the verbosity flag.
package logging

import (
	"io"
	"log/slog"
)

// LevelTrace sits below debug and is used for per-chunk output.
const LevelTrace = slog.LevelDebug - 4

// LevelFor maps a repeated -v count to a level: none logs warnings, -v
// info, -vv debug and -vvv or more trace.
func LevelFor(verbosity int) slog.Level {
	switch {
	case verbosity <= 0:
		return slog.LevelWarn
	case verbosity == 1:
		return slog.LevelInfo
	case verbosity == 2:
		return slog.LevelDebug
	default:
		return LevelTrace
	}
}

// New returns a text logger writing to w. Timestamps are omitted since the
// service normally runs under a supervisor that adds its own.
func New(w io.Writer, verbosity int) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: LevelFor(verbosity),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				return slog.Attr{}
			case slog.LevelKey:
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
