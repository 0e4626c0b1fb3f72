package log

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format selects the encoding of emitted log lines.
type Format string

const (
	// Console emits tab-separated, human readable lines.
	Console Format = "console"
	// JSON emits one JSON object per line.
	JSON Format = "json"
)

// ZapLogger is a leveled logging engine backed by a zap sugared logger.
type ZapLogger struct {
	level Level
	sugar *zap.SugaredLogger
}

// NewZapLogger creates a logger writing to standard output, limited to the specified level. Only
// log messages that are less verbose than the specified level are logged.
func NewZapLogger(level Level, format Format) (*ZapLogger, error) {
	return NewWriterLogger(os.Stdout, level, format)
}

// NewWriterLogger creates a logger writing to an arbitrary sink.
func NewWriterLogger(w io.Writer, level Level, format Format) (*ZapLogger, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder

	switch format {
	case Console, "":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	case JSON:
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("log: unknown format: format=%s", format)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(w), level.zapLevel())

	return &ZapLogger{
		level: level,
		sugar: zap.New(core).Sugar(),
	}, nil
}

// NewNopLogger creates a logger that discards everything. It is mostly useful in tests.
func NewNopLogger() *ZapLogger {
	return &ZapLogger{
		level: Error,
		sugar: zap.NewNop().Sugar(),
	}
}

// Debug logs a debug message, if permitted by the current level.
func (l *ZapLogger) Debug(format string, v ...interface{}) {
	l.sugar.Debugf(format, v...)
}

// Info logs an informational message, if permitted by the current level.
func (l *ZapLogger) Info(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Warn logs a warning message, if permitted by the current level.
func (l *ZapLogger) Warn(format string, v ...interface{}) {
	l.sugar.Warnf(format, v...)
}

// Error logs an error message, if permitted by the current level.
func (l *ZapLogger) Error(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

// Log dispatches to the method matching level.
func (l *ZapLogger) Log(level Level, format string, v ...interface{}) {
	switch level {
	case Debug:
		l.Debug(format, v...)
	case Info:
		l.Info(format, v...)
	case Warn:
		l.Warn(format, v...)
	default:
		l.Error(format, v...)
	}
}

// Level reads the current logging level.
func (l *ZapLogger) Level() Level {
	return l.level
}

// Sync flushes any buffered log entries.
func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}
