package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_PrefixAndLevels(t *testing.T) {
	var got []string
	record := func(level string) LogFunc {
		return func(format string, args ...interface{}) {
			got = append(got, level+" "+fmt.Sprintf(format, args...))
		}
	}

	logger := NewLogger("scheduler , ", LogFuncs{
		Debugf: record("debug"),
		Infof:  record("info"),
		Warnf:  record("warn"),
		Errorf: record("error"),
	})

	logger.Debugf("cycle %d", 1)
	logger.Infof("started")
	logger.Warnf("slow")
	logger.Errorf("failed: %v", "boom")
	logger.Logf(LevelInfo, "via level")
	logger.Logf(Level(9), "dropped")

	assert.Equal(t, []string{
		"debug scheduler , cycle 1",
		"info scheduler , started",
		"warn scheduler , slow",
		"error scheduler , failed: boom",
		"info scheduler , via level",
	}, got)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		expected Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"WARN", LevelWarn},
		{"error", LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, err := ParseLevel(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
			assert.Equal(t, strings.ToLower(tt.name), level.String())
		})
	}

	_, err := ParseLevel("verbose")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "debug, info, warn, error")
	assert.Equal(t, "level(7)", Level(7).String())
}

func TestLogger_MissingSinkDropsLevel(t *testing.T) {
	var got []string
	logger := NewLogger("", LogFuncs{
		Errorf: func(format string, args ...interface{}) {
			got = append(got, fmt.Sprintf(format, args...))
		},
	})

	logger.Debugf("quiet")
	logger.Warnf("quiet too")
	logger.Errorf("loud %d", 1)

	assert.Equal(t, []string{"loud 1"}, got)
}

func TestWithPrefix(t *testing.T) {
	var got []string
	parent := NewLogger("iiswatch , ", LogFuncs{
		Infof: func(format string, args ...interface{}) {
			got = append(got, fmt.Sprintf(format, args...))
		},
	})

	WithPrefix(parent, "executor , ").Infof("enqueued %s", "recycle")

	assert.Equal(t, []string{"iiswatch , executor , enqueued recycle"}, got)
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	assert.NotPanics(t, func() {
		logger.Debugf("x")
		logger.Errorf("y %d", 1)
	})
}

func TestRecentLog_Wraps(t *testing.T) {
	recent := NewRecentLog(3)

	assert.Empty(t, recent.Last(10))

	for i := 1; i <= 5; i++ {
		recent.Add(fmt.Sprintf("line %d", i))
	}

	assert.Equal(t, []string{"line 3", "line 4", "line 5"}, recent.Last(0))
	assert.Equal(t, []string{"line 4", "line 5"}, recent.Last(2))
}

func TestBackend_WritesRecentAndFile(t *testing.T) {
	config := DefaultBackendConfig()
	config.Level = "debug"
	config.File = filepath.Join(t.TempDir(), "iiswatch.log")
	config.RecentLines = 10

	backend, err := NewBackend(config)
	require.NoError(t, err)

	logger := backend.Logger("test , ")
	logger.Infof("hello %s", "world")
	logger.Debugf("details")

	lines := backend.Recent().Last(0)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "[INFO] test , hello world")
	assert.Contains(t, lines[1], "[DEBUG] test , details")

	require.NoError(t, backend.Close())
	assert.FileExists(t, config.File)
}

func TestBackend_ConsoleOnStderr(t *testing.T) {
	reader, writer, err := os.Pipe()
	require.NoError(t, err)
	stderr := os.Stderr
	os.Stderr = writer
	defer func() { os.Stderr = stderr }()

	backend, err := NewBackend(BackendConfig{Level: "debug", Format: "console", Stderr: true, RecentLines: 1})
	os.Stderr = stderr
	require.NoError(t, err)

	backend.Logger("module: iiswatch-client , ").Debugf("GET %s", "/api/v1/stats")
	require.NoError(t, backend.Close())
	require.NoError(t, writer.Close())

	output, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Contains(t, string(output), "module: iiswatch-client , GET /api/v1/stats")
	assert.Contains(t, string(output), "debug")
}

func TestBackend_InvalidLevel(t *testing.T) {
	config := DefaultBackendConfig()
	config.Level = "loud"

	_, err := NewBackend(config)
	assert.Error(t, err)
}

func TestLogPathResolver(t *testing.T) {
	base := t.TempDir()
	resolver := LogPathResolver{BaseDirectory: base}

	assert.Equal(t, "", resolver.Resolve(""))
	assert.Equal(t, "custom.log", resolver.Resolve("custom.log"))

	path := resolver.Resolve(AutoLogFile)
	assert.Equal(t, filepath.Join(base, DefaultAppName, "logs", DefaultLogFileName), path)
	assert.DirExists(t, filepath.Dir(path))

	assert.Equal(t, filepath.Join(base, "other", "logs"), LogPathResolver{BaseDirectory: base, AppName: "other"}.LogDirectory(UserService))
	assert.NotEmpty(t, LogPathResolver{}.LogDirectory(SessionService))
}
