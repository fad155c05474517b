package logging

import (
	"fmt"
	"strings"
)

// Level orders log severities; the zero value is the most verbose
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"debug", "info", "warn", "error"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel accepts the level names used in configuration files and flags
func ParseLevel(name string) (Level, error) {
	for i, known := range levelNames {
		if strings.EqualFold(name, known) {
			return Level(i), nil
		}
	}
	return LevelInfo, fmt.Errorf("unknown log level %q, expected one of: %s", name, strings.Join(levelNames[:], ", "))
}

// Logger is the printf-style logging surface every component receives.
// Messages read "Something happened, key: value, other: value".
type Logger interface {
	Logf(level Level, format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type LogFunc func(format string, args ...interface{})

// LogFuncs are the sinks behind a Logger; a nil sink drops its level
type LogFuncs struct {
	Debugf LogFunc
	Infof  LogFunc
	Warnf  LogFunc
	Errorf LogFunc
}

func (f LogFuncs) at(level Level) LogFunc {
	switch level {
	case LevelDebug:
		return f.Debugf
	case LevelInfo:
		return f.Infof
	case LevelWarn:
		return f.Warnf
	case LevelError:
		return f.Errorf
	}
	return nil
}

type prefixLogger struct {
	prefix string
	sinks  LogFuncs
}

// NewLogger returns a Logger that prepends prefix to every message and forwards to sinks
func NewLogger(prefix string, sinks LogFuncs) Logger {
	return &prefixLogger{prefix: prefix, sinks: sinks}
}

// WithPrefix derives a component logger, e.g. "scheduler , " on top of the process logger
func WithPrefix(parent Logger, prefix string) Logger {
	return NewLogger(prefix, LogFuncs{
		Debugf: parent.Debugf,
		Infof:  parent.Infof,
		Warnf:  parent.Warnf,
		Errorf: parent.Errorf,
	})
}

// NewNopLogger discards everything
func NewNopLogger() Logger {
	return &prefixLogger{}
}

func (l *prefixLogger) Logf(level Level, format string, args ...interface{}) {
	sink := l.sinks.at(level)
	if sink == nil {
		return
	}
	sink(l.prefix+format, args...)
}

func (l *prefixLogger) Debugf(format string, args ...interface{}) {
	l.Logf(LevelDebug, format, args...)
}

func (l *prefixLogger) Infof(format string, args ...interface{}) {
	l.Logf(LevelInfo, format, args...)
}

func (l *prefixLogger) Warnf(format string, args ...interface{}) {
	l.Logf(LevelWarn, format, args...)
}

func (l *prefixLogger) Errorf(format string, args ...interface{}) {
	l.Logf(LevelError, format, args...)
}
