package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger wraps slog.Logger with additional functionality
type Logger struct {
	*slog.Logger
}

// New creates a new logger instance
func New() *Logger {
	return NewWithLevel(os.Getenv("LOG_LEVEL"))
}

// NewWithLevel creates a logger writing to stdout at the given level
func NewWithLevel(levelStr string) *Logger {
	level := getLogLevel(levelStr)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if gin.Mode() == gin.DebugMode {
		// Text handler for development (more readable)
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewDiscard creates a logger that drops every record
func NewDiscard() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// getLogLevel converts string to slog.Level
func getLogLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRequestID adds request ID to logger context
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.String("request_id", requestID)),
	}
}

// WithComponent tags every record with the emitting component
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.String("component", component)),
	}
}

// WithError adds error to logger context
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.String("error", err.Error())),
	}
}

// WithFields adds multiple fields to logger context
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, slog.Any(k, v))
	}
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// HTTP logging methods

// LogHTTPRequest logs an HTTP request
func (l *Logger) LogHTTPRequest(c *gin.Context, duration time.Duration) {
	l.Logger.InfoContext(c.Request.Context(),
		"HTTP Request",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
		slog.Int("status", c.Writer.Status()),
		slog.Duration("duration", duration),
		slog.String("ip", c.ClientIP()),
		slog.String("user_agent", c.Request.UserAgent()),
		slog.Int("size", c.Writer.Size()),
	)
}

// LogHTTPError logs an HTTP error
func (l *Logger) LogHTTPError(c *gin.Context, err error, statusCode int) {
	l.Logger.ErrorContext(c.Request.Context(),
		"HTTP Error",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.Int("status", statusCode),
		slog.String("error", err.Error()),
		slog.String("ip", c.ClientIP()),
	)
}

// Business logic logging methods

// LogEntryAdded logs when a customer joins the waitlist
func (l *Logger) LogEntryAdded(ctx context.Context, entryID, date, priority string, partySize int) {
	l.Logger.InfoContext(ctx,
		"Waitlist Entry Added",
		slog.String("entry_id", entryID),
		slog.String("date", date),
		slog.String("priority", priority),
		slog.Int("party_size", partySize),
	)
}

// LogOfferIssued logs when a slot is offered to an entry
func (l *Logger) LogOfferIssued(ctx context.Context, entryID, slotID string, deadline time.Time) {
	l.Logger.InfoContext(ctx,
		"Offer Issued",
		slog.String("entry_id", entryID),
		slog.String("slot_id", slotID),
		slog.Time("deadline", deadline),
	)
}

// LogOfferConfirmed logs when an offered customer accepts
func (l *Logger) LogOfferConfirmed(ctx context.Context, entryID, slotID string) {
	l.Logger.InfoContext(ctx,
		"Offer Confirmed",
		slog.String("entry_id", entryID),
		slog.String("slot_id", slotID),
	)
}

// LogOfferExpired logs when an offer lapses
func (l *Logger) LogOfferExpired(ctx context.Context, entryID, slotID, reason string) {
	l.Logger.InfoContext(ctx,
		"Offer Expired",
		slog.String("entry_id", entryID),
		slog.String("slot_id", slotID),
		slog.String("reason", reason),
	)
}

// LogEntryCancelled logs when an entry is cancelled
func (l *Logger) LogEntryCancelled(ctx context.Context, entryID, previousStatus, reason string) {
	l.Logger.InfoContext(ctx,
		"Waitlist Entry Cancelled",
		slog.String("entry_id", entryID),
		slog.String("previous_status", previousStatus),
		slog.String("reason", reason),
	)
}

// LogDeliveryFailure logs an offer that reached the customer on no channel
func (l *Logger) LogDeliveryFailure(ctx context.Context, entryID string, channels int, err error) {
	l.Logger.ErrorContext(ctx,
		"Offer Delivery Failed On All Channels",
		slog.String("entry_id", entryID),
		slog.Int("channels", channels),
		slog.String("error", err.Error()),
	)
}

// Security logging methods

// LogAuthFailure logs failed authentication
func (l *Logger) LogAuthFailure(ctx context.Context, reason, ip string) {
	l.Logger.WarnContext(ctx,
		"Authentication Failure",
		slog.String("reason", reason),
		slog.String("ip", ip),
	)
}

// LogRateLimitExceeded logs rate limit exceeded
func (l *Logger) LogRateLimitExceeded(ctx context.Context, ip, endpoint string) {
	l.Logger.WarnContext(ctx,
		"Rate Limit Exceeded",
		slog.String("ip", ip),
		slog.String("endpoint", endpoint),
	)
}

// Helper methods for common patterns

// InfoWithContext logs an info message with context
func (l *Logger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Logger.InfoContext(ctx, msg, fieldArgs(fields)...)
}

// WarnWithContext logs a warning message with context
func (l *Logger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Logger.WarnContext(ctx, msg, fieldArgs(fields)...)
}

// ErrorWithContext logs an error message with context
func (l *Logger) ErrorWithContext(ctx context.Context, msg string, err error, fields map[string]interface{}) {
	args := make([]interface{}, 0, len(fields)*2+2)
	args = append(args, slog.String("error", err.Error()))
	args = append(args, fieldArgs(fields)...)
	l.Logger.ErrorContext(ctx, msg, args...)
}

// DebugWithContext logs a debug message with context
func (l *Logger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Logger.DebugContext(ctx, msg, fieldArgs(fields)...)
}

func fieldArgs(fields map[string]interface{}) []interface{} {
	args := make([]interface{}, 0, len(fields))
	for k, v := range fields {
		args = append(args, slog.Any(k, v))
	}
	return args
}

// Global logger instance (can be replaced with dependency injection)
var defaultLogger = New()

// GetDefault returns the default logger instance
func GetDefault() *Logger {
	return defaultLogger
}

// SetDefault sets the default logger instance
func SetDefault(logger *Logger) {
	defaultLogger = logger
}
