// Package logger provides structured logging utilities.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a wrapper around zap.Logger.
type Logger struct {
	*zap.Logger
}

// New creates a JSON logger on stderr. stdout belongs to the terminal UI
// and the send command. ENV=development switches to a colored console
// encoder.
func New(level string) (*Logger, error) {
	return build(level, "stderr", os.Getenv("ENV") == "development")
}

// NewFile creates a JSON logger appending to path, for the terminal UI
// which owns the screen.
func NewFile(level, path string) (*Logger, error) {
	return build(level, path, false)
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

func build(level, output string, console bool) (*Logger, error) {
	enc := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	encoding := "json"
	if console {
		encoding = "console"
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(parseLevel(level)),
		Development:      console,
		Encoding:         encoding,
		EncoderConfig:    enc,
		OutputPaths:      []string{output},
		ErrorOutputPaths: []string{output},
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: logger}, nil
}

// With creates a child logger with additional fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

// WithConversation creates a child logger scoped to one conversation.
func (l *Logger) WithConversation(conversationID string) *Logger {
	return l.With(zap.String("conversation_id", conversationID))
}

// WithSession creates a child logger scoped to one stream session.
func (l *Logger) WithSession(conversationID, sessionID string, epoch uint64) *Logger {
	return l.With(
		zap.String("conversation_id", conversationID),
		zap.String("session_id", sessionID),
		zap.Uint64("epoch", epoch),
	)
}

// parseLevel never returns fatal or panic; a log call must not end the
// process.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

var global = NewNop()

// Global returns the process logger. It discards output until SetGlobal
// is called.
func Global() *Logger {
	return global
}

// SetGlobal sets the process logger.
func SetGlobal(l *Logger) {
	if l != nil {
		global = l
	}
}
