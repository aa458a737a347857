package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LevelVerbose sits below debug and carries the message logger's detailed
// diagnostics.
const LevelVerbose = slog.Level(-8)

// ParseLevel maps a LOG_LEVEL value to a slog level. Unknown values are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "verbose", "trace":
		return LevelVerbose
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// New creates the application logger: JSON on stdout at the given level.
func New(level string) *slog.Logger {
	return slog.New(NewHandler(os.Stdout, level))
}

// NewHandler returns the JSON handler New uses, writing to w. VERBOSE records
// are labelled as such instead of "DEBUG-4".
func NewHandler(w io.Writer, level string) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey && len(groups) == 0 {
				if l, ok := a.Value.Any().(slog.Level); ok && l <= LevelVerbose {
					a.Value = slog.StringValue("VERBOSE")
				}
			}
			return a
		},
	})
}

// NewNop returns a logger that discards everything.
func NewNop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
