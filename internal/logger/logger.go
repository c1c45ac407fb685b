// Package logger is the structured logger shared by the backend, the
// engines and the HTTP surface. It is a thin layer over zap.
package logger

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is a zap field.
type Field = zap.Field

// Logger is the logging interface passed to every component.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	WithFields(fields ...Field) Logger
	// Named adds a sub-scope to the logger name, e.g. "backend.primary".
	Named(name string) Logger
}

// zapLogger gets its level methods from the embedded zap logger.
type zapLogger struct {
	*zap.Logger
}

// New builds a logger writing to stderr. format is "json" or "text"; an
// unknown level falls back to info.
func New(level, format string) Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.RFC3339TimeEncoder

	var encoder zapcore.Encoder
	if format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), parseLevel(level))
	return Wrap(zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)))
}

func parseLevel(s string) zapcore.Level {
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return Wrap(zap.NewNop())
}

// Wrap adapts an existing zap logger, e.g. one built on an observer core.
func Wrap(l *zap.Logger) Logger {
	return &zapLogger{Logger: l}
}

func (l *zapLogger) WithFields(fields ...Field) Logger {
	return &zapLogger{Logger: l.Logger.With(fields...)}
}

func (l *zapLogger) Named(name string) Logger {
	return &zapLogger{Logger: l.Logger.Named(name)}
}

func String(key, value string) Field { return zap.String(key, value) }

// ByteString logs a binary key or bucket name.
func ByteString(key string, value []byte) Field { return zap.ByteString(key, value) }

func Int(key string, value int) Field { return zap.Int(key, value) }

func Uint64(key string, value uint64) Field { return zap.Uint64(key, value) }

func Bool(key string, value bool) Field { return zap.Bool(key, value) }

func Duration(key string, value time.Duration) Field { return zap.Duration(key, value) }

func Error(err error) Field { return zap.Error(err) }

// RequestID tags a log line with the ID of the HTTP request it serves.
func RequestID(id string) Field { return zap.String("request_id", id) }

var defaultLogger = New("info", "text")

// SetDefault replaces the logger returned by GetDefault.
func SetDefault(l Logger) {
	defaultLogger = l
}

// GetDefault returns the process-wide logger.
func GetDefault() Logger {
	return defaultLogger
}
