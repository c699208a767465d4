// Package obslog configures the process-wide structured logger every
// other internal package reaches via slog.Default() (spec ambient
// stack: logging is slog-based throughout, the same library the
// teacher's utils package wraps).
package obslog

import (
	"log/slog"
	"os"
)

// Init installs a text-handler slog.Logger as the default, tagged with
// component="csopesy", at the given level ("debug", "info", "warn", or
// "error"; anything else falls back to info).
func Init(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler).With("component", "csopesy"))
}
