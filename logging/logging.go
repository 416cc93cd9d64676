// Package logging provides the leveled, structured logger used throughout
// the map-stitching core, wrapping go.uber.org/zap.
package logging

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a logging severity.
type Level int

// Severities this package understands, ordered low to high.
const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

// String renders level the way it appears in a config file or a log line.
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "Debug"
	case INFO:
		return "Info"
	case WARN:
		return "Warn"
	case ERROR:
		return "Error"
	default:
		return "Unknown"
	}
}

// LevelFromString parses a level name, case-insensitively, accepting
// "warning" as an alias for WARN.
func LevelFromString(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return DEBUG, nil
	case "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	default:
		return 0, errors.Errorf("unknown log level %q", s)
	}
}

// MarshalJSON renders l as its string name.
func (l Level) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// UnmarshalJSON parses l from its string name.
func (l *Level) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return errors.Errorf("log level must be a quoted string, got %s", s)
	}
	parsed, err := LevelFromString(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case INFO:
		return zapcore.InfoLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger is the structured logger every package in this module accepts,
// matching the teacher's convention of threading a logger through
// constructors instead of reaching for a package-level global.
type Logger struct {
	sugar *zap.SugaredLogger
	level Level
}

// NewLogger builds a Logger at the given level, writing to stderr in the
// teacher's usual console encoding.
func NewLogger(name string, level Level) *Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level.zapLevel())
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	z, err := cfg.Build()
	if err != nil {
		z = zap.NewNop()
	}
	return &Logger{sugar: z.Sugar().Named(name), level: level}
}

// NewTestLogger builds a Logger intended for test output at DEBUG level.
func NewTestLogger() *Logger {
	return NewLogger("test", DEBUG)
}

// Level returns the logger's configured minimum severity.
func (l *Logger) Level() Level { return l.level }

// Debugw logs at DEBUG with structured key/value pairs.
func (l *Logger) Debugw(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

// Infow logs at INFO with structured key/value pairs.
func (l *Logger) Infow(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

// Warnw logs at WARN with structured key/value pairs.
func (l *Logger) Warnw(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}

// Errorw logs at ERROR with structured key/value pairs.
func (l *Logger) Errorw(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}
