package commands

import (
	"io"
	"log/slog"

	"github.com/chaz8081/trionesctl/internal/config"
)

// setupLogger installs the default slog logger for the given level and
// format ("text" or "json").
func setupLogger(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(level)}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}
