package loggingutil

import (
	"context"
	"strings"

	"pkt.systems/pslog"
)

// NoopLogger returns a logger that discards every entry.
func NoopLogger() pslog.Logger {
	return pslog.NoopLogger()
}

// EnsureLogger returns l, or a noop logger when l is nil.
func EnsureLogger(l pslog.Logger) pslog.Logger {
	if l != nil {
		return l
	}
	return NoopLogger()
}

// FromContext returns the logger attached to ctx with pslog.ContextWithLogger.
// ok is false when ctx carries none; pslog then hands back its noop logger.
func FromContext(ctx context.Context) (pslog.Logger, bool) {
	logger := pslog.LoggerFromContext(ctx)
	if logger == nil || logger == pslog.NoopLogger() {
		return nil, false
	}
	return logger, true
}

// Subsystem joins parts into a dot-delimited subsystem path, skipping empty
// fragments.
func Subsystem(parts ...string) string {
	filtered := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.Trim(part, ". "); part != "" {
			filtered = append(filtered, part)
		}
	}
	return strings.Join(filtered, ".")
}

// WithSubsystem tags every entry written through logger with sys=<path>.
func WithSubsystem(logger pslog.Logger, parts ...string) pslog.Logger {
	logger = EnsureLogger(logger)
	sys := Subsystem(parts...)
	if sys == "" {
		return logger
	}
	return logger.With("sys", sys)
}
