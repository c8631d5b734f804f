package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

var Log *slog.Logger

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

// Init initializes the global logger from the environment
// (CHATSYNC_LOG_LEVEL, CHATSYNC_LOG_FORMAT, CHATSYNC_LOG_SINK).
func Init() {
	InitWith("", "")
}

// InitWith initializes the global logger honoring the provided level and
// format ("text"|"json"); empty values fall back to environment settings.
// The sink may be redirected to a file via CHATSYNC_LOG_SINK=file:/path.
func InitWith(level, format string) {
	if level == "" {
		level = os.Getenv("CHATSYNC_LOG_LEVEL")
	}
	if format == "" {
		format = os.Getenv("CHATSYNC_LOG_FORMAT")
	}
	lv := parseLevel(level)

	out := os.Stdout
	if sink := os.Getenv("CHATSYNC_LOG_SINK"); strings.HasPrefix(sink, "file:") {
		path := strings.TrimPrefix(sink, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", path, err)
		} else {
			out = f
		}
	}

	opts := &slog.HandlerOptions{Level: lv}
	if strings.EqualFold(format, "json") {
		Log = slog.New(slog.NewJSONHandler(out, opts))
		return
	}
	Log = slog.New(slog.NewTextHandler(out, opts))
}

// Debug logs with slog-style key/value pairs.
func Debug(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Debug(msg, args...)
}

// Info logs with slog-style key/value pairs.
func Info(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Info(msg, args...)
}

// Warn logs with slog-style key/value pairs.
func Warn(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Warn(msg, args...)
}

// Error logs with slog-style key/value pairs.
func Error(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Error(msg, args...)
}
