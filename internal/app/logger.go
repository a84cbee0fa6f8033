package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process-wide slog.Logger from APP_ENV. "prod" emits
// JSON at INFO for log shipping; any other value emits text at DEBUG, which
// also surfaces the per-frame ws.* debug lines during local runs.
func NewLogger(env string) *slog.Logger {
	var handler slog.Handler
	if env == "prod" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return slog.New(handler)
}
