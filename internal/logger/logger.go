// Package logger provides structured logging for the document session engine
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with engine-specific helpers
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// NewLogger creates a new structured logger
func NewLogger(cfg Config) *Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zlog := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", "docsession").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// GetZerolog returns the underlying zerolog logger
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

// Info logs an info message
func (l *Logger) Info(msg string) *zerolog.Event {
	return l.zlog.Info().Str("msg", msg)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) *zerolog.Event {
	return l.zlog.Debug().Str("msg", msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) *zerolog.Event {
	return l.zlog.Warn().Str("msg", msg)
}

// Error logs an error message
func (l *Logger) Error(msg string) *zerolog.Event {
	return l.zlog.Error().Str("msg", msg)
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// Component returns a logger tagged with an engine component (cache, bookmarks, ...)
func (l *Logger) Component(name string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", name).
			Logger(),
	}
}

// Document returns a logger tagged with a document id
func (l *Logger) Document(docID string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("document", docID).
			Logger(),
	}
}

// LogDecode logs a page decode with structured fields
func (l *Logger) LogDecode(key string, duration time.Duration, err error) {
	event := l.zlog.Debug().
		Str("key", key).
		Dur("duration_ms", duration)

	if err != nil {
		event = l.zlog.Warn().
			Str("key", key).
			Dur("duration_ms", duration).
			Err(err)
	}

	event.Msg("Page decode completed")
}

// LogStoreOperation logs a bookmark store operation with structured fields
func (l *Logger) LogStoreOperation(operation, docID string, duration time.Duration, err error) {
	event := l.zlog.Debug().
		Str("operation", operation).
		Str("document", docID).
		Dur("duration_ms", duration)

	if err != nil {
		event = l.zlog.Error().
			Str("operation", operation).
			Str("document", docID).
			Dur("duration_ms", duration).
			Err(err)
	}

	event.Msg("Bookmark store operation completed")
}

// LogNavigation logs a page change
func (l *Logger) LogNavigation(docID string, page int, zoom float64, cause string) {
	l.zlog.Debug().
		Str("event", "navigate").
		Str("document", docID).
		Int("page", page).
		Float64("zoom", zoom).
		Str("cause", cause).
		Msg("Page changed")
}

// LogSessionOpen logs a document being opened
func (l *Logger) LogSessionOpen(docID string, pages, restoredPage int) {
	l.zlog.Info().
		Str("event", "session_open").
		Str("document", docID).
		Int("pages", pages).
		Int("restored_page", restoredPage).
		Msg("Document session opened")
}

// LogSessionClose logs a document being closed
func (l *Logger) LogSessionClose(docID string) {
	l.zlog.Info().
		Str("event", "session_close").
		Str("document", docID).
		Msg("Document session closed")
}

// Global logger instance
var globalLogger *Logger

// InitGlobalLogger initializes the global logger
func InitGlobalLogger(cfg Config) {
	globalLogger = NewLogger(cfg)
	log.Logger = *globalLogger.GetZerolog()
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		InitGlobalLogger(Config{
			Level:  "info",
			Pretty: true,
		})
	}
	return globalLogger
}
