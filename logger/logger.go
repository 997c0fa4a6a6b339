// Package logger provides a thread-safe, levelled logger backed by
// go.uber.org/zap.
//
// The printf-style methods cover the common case; Zap exposes the underlying
// *zap.Logger for call sites that want structured fields.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents a logging verbosity level.
type Level int

const (
	// LevelDebug emits all messages.
	LevelDebug Level = iota
	// LevelInfo emits INFO and ERROR messages.
	LevelInfo
	// LevelError emits only ERROR messages.
	LevelError
)

// ParseLevel maps "debug", "info" or "error" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("logger: unknown level %q", s)
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger is a levelled logger.
//
// Thread-safety: zap cores serialise writes, and the level is a
// zap.AtomicLevel so SetLevel may be called concurrently with logging
// methods.
type Logger struct {
	z     *zap.Logger
	level zap.AtomicLevel
}

// New creates a Logger that writes console-encoded lines to stderr at the
// given minimum level.
func New(level Level) *Logger {
	atom := zap.NewAtomicLevelAt(level.zapLevel())
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), atom)
	return &Logger{z: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)), level: atom}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{z: zap.NewNop(), level: zap.NewAtomicLevel()}
}

// Named returns a child logger whose entries carry name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{z: l.z.Named(name), level: l.level}
}

// Zap returns the underlying zap logger.
func (l *Logger) Zap() *zap.Logger { return l.z.WithOptions(zap.AddCallerSkip(-1)) }

// SetLevel changes the minimum log level at runtime.  Safe for concurrent use.
func (l *Logger) SetLevel(level Level) { l.level.SetLevel(level.zapLevel()) }

// Sync flushes buffered entries.
func (l *Logger) Sync() error { return l.z.Sync() }

// Info logs a message at INFO level.
func (l *Logger) Info(msg string, fields ...zap.Field) { l.z.Info(msg, fields...) }

// Infof logs a formatted message at INFO level.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.z.Info(fmt.Sprintf(format, args...))
}

// Error logs a message at ERROR level.
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }

// Errorf logs a formatted message at ERROR level.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.z.Error(fmt.Sprintf(format, args...))
}

// Debug logs a message at DEBUG level.
func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }

// Debugf logs a formatted message at DEBUG level.
func (l *Logger) Debugf(format string, args ...interface{}) {
	if !l.z.Core().Enabled(zapcore.DebugLevel) {
		return
	}
	l.z.Debug(fmt.Sprintf(format, args...))
}
