package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Options selects the level, handler format ("json" or "text") and
// destination. An empty File logs to stderr, keeping stdout free for
// protocol traffic.
type Options struct {
	Level  string
	Format string
	File   string
}

// Logger bundles the slog logger with the level variable that session
// commands adjust at runtime.
type Logger struct {
	*slog.Logger
	Level  *slog.LevelVar
	closer io.Closer
}

// New returns a structured logger. format can be "json" or "text".
func New(level, format string) *slog.Logger {
	var lv slog.LevelVar
	lv.Set(ParseLevel(level))
	return slog.New(newHandler(os.Stdout, format, &lv))
}

// Open builds a Logger from opts, creating the log file if needed.
func Open(opts Options) (*Logger, error) {
	lv := new(slog.LevelVar)
	lv.Set(ParseLevel(opts.Level))

	var w io.Writer = os.Stderr
	var closer io.Closer
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o700); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		w, closer = f, f
	}
	return &Logger{Logger: slog.New(newHandler(w, opts.Format, lv)), Level: lv, closer: closer}, nil
}

func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func newHandler(w io.Writer, format string, level slog.Leveler) slog.Handler {
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

// ParseLevel maps a level name to slog; unknown names mean info.
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
