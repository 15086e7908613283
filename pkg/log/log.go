// Package log configures the process-wide structured logger.
package log

import (
	"log/slog"
	"os"
)

// Setup installs the default text logger at the given level, tagged with the
// service name. Unknown levels fall back to info.
func Setup(logLevel string) {
	var level slog.Level

	err := level.UnmarshalText([]byte(logLevel))
	if err != nil {
		level = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler).With("service", "funneld"))
}

// WithModule returns the default logger tagged with a module name, one per
// binary or subsystem.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
