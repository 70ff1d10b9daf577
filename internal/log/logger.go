// Package log configures the process-wide JSON logger and derives the
// component and run scoped loggers busdispatch writes through.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup installs the JSON logger on stdout for the long-running service.
func Setup(level string) {
	SetupWriter(os.Stdout, level)
}

// SetupWriter is Setup with an explicit destination. CLI commands pass
// stderr so their stdout stays machine readable. Only the first call takes
// effect.
func SetupWriter(w io.Writer, level string) {
	once.Do(func() {
		logger = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
		slog.SetDefault(logger)
	})
}

// ParseLevel maps a config log level to slog. Unknown values are INFO.
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

// Get returns the process logger, installing an INFO stdout logger when
// nothing was configured yet.
func Get() *slog.Logger {
	if logger == nil {
		Setup("info")
	}
	return logger
}

// WithComponent tags log lines with the subsystem that wrote them.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithRun scopes l to one dispatch so every line of a run can be grepped by
// run_id.
func WithRun(l *slog.Logger, runID, day string) *slog.Logger {
	if l == nil {
		l = Get()
	}
	return l.With(slog.String("run_id", runID), slog.String("day", day))
}
