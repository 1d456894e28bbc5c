// Package logger provides structured logging for the snackapp components.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a thin wrapper over zap's sugared logger exposing a
// message-plus-key-value call style.
type Logger struct {
	s *zap.SugaredLogger
}

// New creates a logger for the named component writing JSON to stderr.
func New(component string) *Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		levelFromEnv(),
	)

	return &Logger{s: zap.New(core).Sugar().With("component", component)}
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{s: zap.NewNop().Sugar()}
}

// FromZap wraps an existing zap logger. Used by tests to capture output.
func FromZap(z *zap.Logger) *Logger {
	return &Logger{s: z.Sugar()}
}

func levelFromEnv() zapcore.Level {
	switch os.Getenv("SNACKAPP_LOG_LEVEL") {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// With returns a logger with additional key-value context.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{s: l.s.With(kv...)}
}

// Debug logs at debug level with key-value pairs.
func (l *Logger) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }

// Info logs at info level with key-value pairs.
func (l *Logger) Info(msg string, kv ...any) { l.s.Infow(msg, kv...) }

// Warn logs at warn level with key-value pairs.
func (l *Logger) Warn(msg string, kv ...any) { l.s.Warnw(msg, kv...) }

// Error logs at error level with key-value pairs.
func (l *Logger) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }

// Sync flushes buffered log entries.
func (l *Logger) Sync() error { return l.s.Sync() }
