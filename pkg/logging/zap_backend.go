package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// BackendConfig configures the process-wide zap backend
type BackendConfig struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json", "console"
	// Stderr sends console output to stderr, keeping stdout for command output
	Stderr bool
	// File enables a rotating log file next to stdout; empty disables it
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// RecentLines is the capacity of the in-memory ring served to operators
	RecentLines int
}

func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		Level:       "info",
		Format:      "console",
		File:        "",
		MaxSizeMB:   10,
		MaxBackups:  5,
		MaxAgeDays:  28,
		RecentLines: 200,
	}
}

// Backend owns the zap logger and exposes it through the Logger interface
type Backend struct {
	zapLogger *zap.Logger
	sugar     *zap.SugaredLogger
	recent    *RecentLog
	file      *lumberjack.Logger
}

// NewBackend builds a zap logger writing to stdout, an optional rotating file and
// the recent-log ring
func NewBackend(config BackendConfig) (*Backend, error) {
	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", config.Level, err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	encoderConfig.LevelKey = "level"
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	var encoder zapcore.Encoder
	switch config.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	console := os.Stdout
	if config.Stderr {
		console = os.Stderr
	}
	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(console)), level),
	}

	backend := &Backend{}

	if config.File != "" {
		backend.file = &lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
			Compress:   true,
		}
		fileEncoder := zapcore.NewJSONEncoder(encoderConfig)
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(backend.file), level))
	}

	recentLines := config.RecentLines
	if recentLines <= 0 {
		recentLines = 200
	}
	backend.recent = NewRecentLog(recentLines)
	cores = append(cores, newRecentCore(backend.recent, level))

	backend.zapLogger = zap.New(zapcore.NewTee(cores...))
	backend.sugar = backend.zapLogger.Sugar()
	return backend, nil
}

// Logger returns a prefixed Logger on top of the backend
func (b *Backend) Logger(prefix string) Logger {
	return NewLogger(prefix, LogFuncs{
		Debugf: b.sugar.Debugf,
		Infof:  b.sugar.Infof,
		Warnf:  b.sugar.Warnf,
		Errorf: b.sugar.Errorf,
	})
}

func (b *Backend) Recent() *RecentLog {
	return b.recent
}

// Close flushes zap and closes the rotating file
func (b *Backend) Close() error {
	_ = b.zapLogger.Sync()
	if b.file != nil {
		return b.file.Close()
	}
	return nil
}
