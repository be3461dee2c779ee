package log

import (
	"io"
	"log/slog"
	"os"

	"github.com/diggerhq/credresolver/config"
)

// Configure sets up the default logger based on log configuration
func Configure(logConfig config.LogConfig) {
	slog.SetDefault(New(os.Stderr, logConfig))

	slog.Debug("Logger configured",
		"level", logConfig.Level.String(),
		"format", logConfig.Format)
}

// New builds a logger writing to w without installing it as the default.
func New(w io.Writer, logConfig config.LogConfig) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: logConfig.Level}

	if logConfig.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
