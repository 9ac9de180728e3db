package gratefultesting

import (
	"log/slog"
	"os"
)

// NewLogger returns a logger for tests. Logs are suppressed unless DEBUG is
// set (DEBUG=1 for info, DEBUG=2 for debug).
func NewLogger() *slog.Logger {
	var level slog.Level
	switch os.Getenv("DEBUG") {
	case "2":
		level = slog.LevelDebug
	case "1":
		level = slog.LevelInfo
	default:
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
