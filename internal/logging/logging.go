// Package logging provides a configured slog logger with:
// - TTY detection for human-readable vs JSON output
// - LOG_FORMAT env var override (text/json)
// - LOG_LEVEL env var (debug/info/warn/error)
// - Context-based run_id/payment_id extraction for filtering
// - Dynamic filter-based logging via slog-logfilter
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"

	logfilter "github.com/jmylchreest/slog-logfilter"
)

// ContextKey is a type for context keys used in logging.
type ContextKey string

const (
	// RunIDKey is the context key for the current run's identifier.
	RunIDKey ContextKey = "log_run_id"
	// PaymentIDKey is the context key for the check currently being
	// processed by a detail worker, used for filtering logs down to one
	// check during live debugging.
	PaymentIDKey ContextKey = "log_payment_id"
)

// WithRunID adds a run ID to the context for logging.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithPaymentID adds a payment ID to the context for logging.
func WithPaymentID(ctx context.Context, paymentID string) context.Context {
	return context.WithValue(ctx, PaymentIDKey, paymentID)
}

// GetRunID extracts the run ID from context.
func GetRunID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(RunIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetPaymentID extracts the payment ID from context.
func GetPaymentID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(PaymentIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// FromContext returns a logger with run_id and payment_id from context
// (each only when set) added as attributes, at every log level.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if ctx == nil {
		return logger
	}
	if runID := GetRunID(ctx); runID != "" {
		logger = logger.With("run_id", runID)
	}
	if paymentID := GetPaymentID(ctx); paymentID != "" {
		logger = logger.With("payment_id", paymentID)
	}
	return logger
}

// registerContextExtractors registers the context extractors for filtering.
func registerContextExtractors() {
	logfilter.RegisterContextExtractor("run_id", func(ctx context.Context) (string, bool) {
		if ctx == nil {
			return "", false
		}
		if v := ctx.Value(RunIDKey); v != nil {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
		return "", false
	})

	logfilter.RegisterContextExtractor("payment_id", func(ctx context.Context) (string, bool) {
		if ctx == nil {
			return "", false
		}
		if v := ctx.Value(PaymentIDKey); v != nil {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
		return "", false
	})
}

// New creates a new configured logger using slog-logfilter.
// Format is determined by:
//  1. LOG_FORMAT env var (text/json)
//  2. TTY detection (text for TTY, JSON otherwise)
//
// Level is determined by LOG_LEVEL env var (debug/info/warn/error, default: info).
func New() *slog.Logger {
	logFormat := os.Getenv("LOG_FORMAT")
	format := "json"
	if logFormat == "text" || (logFormat == "" && isatty(os.Stdout)) {
		format = "text"
	}

	level := parseLogLevel(os.Getenv("LOG_LEVEL"))

	registerContextExtractors()

	return logfilter.New(
		logfilter.WithLevel(level),
		logfilter.WithFormat(format),
		logfilter.WithOutput(os.Stdout),
		logfilter.WithSource(true),
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
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

// SetDefault creates a new logger and sets it as the default slog logger.
func SetDefault() *slog.Logger {
	logger := New()
	slog.SetDefault(logger)
	return logger
}

// SetLevel changes the global log level at runtime.
func SetLevel(level slog.Level) {
	logfilter.SetLevel(level)
}

// GetLevel returns the current global log level.
func GetLevel() slog.Level {
	return logfilter.GetLevel()
}

// SetFilters replaces all log filters.
func SetFilters(filters []logfilter.LogFilter) {
	logfilter.SetFilters(filters)
}

// GetFilters returns a copy of the current filters.
func GetFilters() []logfilter.LogFilter {
	return logfilter.GetFilters()
}

// isatty returns true if the file is a terminal.
func isatty(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// EventLogger emits the structured one-event-per-line log required by
// spec §6.4 (run_start, auth_attempt_*, order_details_pagination_*, ...).
// Every call attaches the run_id (and payment_id, if set) from context
// automatically.
type EventLogger struct {
	logger *slog.Logger
}

// NewEventLogger wraps a slog.Logger for event-shaped logging.
func NewEventLogger(logger *slog.Logger) *EventLogger {
	return &EventLogger{logger: logger}
}

// Event logs one structured event at Info level with the given key/value
// pairs, mirroring the Python original's log_event(event, **payload).
func (e *EventLogger) Event(ctx context.Context, event string, kv ...any) {
	logger := FromContext(ctx, e.logger)
	args := append([]any{"event", event}, kv...)
	logger.Info(event, args...)
}
