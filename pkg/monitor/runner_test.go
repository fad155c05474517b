package monitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/core-tools/hsu-iiswatch/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const runnerConfig = `
monitor:
  check_interval: 1h
  appcmd_path: /nonexistent/appcmd
  tool_timeout: 2s
control:
  listen: 127.0.0.1:0
sites:
  - name: S1
    url: http://127.0.0.1:1
  - name: S2
    enabled: false
app_pools:
  - name: P1
  - name: P2
    auto_restart: false
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "iiswatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValidateConfigFile(t *testing.T) {
	summary, err := ValidateConfigFile(writeConfig(t, runnerConfig))
	require.NoError(t, err)

	assert.Equal(t, time.Hour, summary.CheckInterval)
	assert.True(t, summary.AutoRestart)
	assert.Equal(t, 2, summary.TotalSites)
	assert.Equal(t, 1, summary.EnabledSites)
	assert.Equal(t, 2, summary.TotalAppPools)
	assert.Equal(t, 2, summary.EnabledAppPools)
	assert.Equal(t, []string{"P1"}, summary.AutoRestartPools)

	_, err = ValidateConfigFile(writeConfig(t, "sites:\n  - name: S1\n  - name: S1\n"))
	assert.True(t, errors.IsValidationError(err))
}

func TestRun_StopsAfterRunDuration(t *testing.T) {
	path := writeConfig(t, runnerConfig)

	started := time.Now()
	err := Run(RunOptions{
		ConfigFile:  path,
		RunDuration: 1,
		LogLevel:    "error",
		NoWatch:     true,
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(started), 20*time.Second)
}

func TestRun_MissingConfig(t *testing.T) {
	err := Run(RunOptions{ConfigFile: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.True(t, errors.IsIOError(err))
}
