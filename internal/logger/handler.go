package logger

import (
	"io"
	"log/slog"
	"os"
	"time"
)

const levelTraceName = "TRACE"

// newTextHandler returns the console handler: logfmt text, no timestamp,
// TRACE rendered by name.
func newTextHandler(w io.Writer, level slog.Level, _ *time.Location) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				return slog.Attr{}
			case slog.LevelKey:
				return renderLevel(a)
			}
			return a
		},
	})
}

// newJSONHandler returns the file handler: JSON with RFC3339 timestamps in tz
func newJSONHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	if tz == nil {
		tz = time.UTC
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.In(tz).Format(time.RFC3339))
				}
			case slog.LevelKey:
				return renderLevel(a)
			}
			return a
		},
	})
}

func renderLevel(a slog.Attr) slog.Attr {
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= traceLevelValue {
		return slog.String(slog.LevelKey, levelTraceName)
	}
	return a
}

// NewSlogLogger creates a standalone Logger writing JSON to w.
// A nil writer means stdout and a nil timezone means UTC. Intended for tests
// and for code paths that run before the central logger exists.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) Logger {
	if w == nil {
		w = os.Stdout
	}
	if tz == nil {
		tz = time.UTC
	}
	lvl := parseSlogLevel(level)
	return &moduleLogger{
		logger:   slog.New(newJSONHandler(w, lvl, tz)),
		level:    lvl,
		timezone: tz,
	}
}
