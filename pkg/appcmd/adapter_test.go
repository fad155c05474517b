package appcmd

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/core-tools/hsu-iiswatch/pkg/domain"
	"github.com/core-tools/hsu-iiswatch/pkg/errors"
	"github.com/core-tools/hsu-iiswatch/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, args ...string) (Result, error) {
	callArgs := m.Called(args)
	return callArgs.Get(0).(Result), callArgs.Error(1)
}

func newTestAdapter() (*Adapter, *MockRunner) {
	runner := &MockRunner{}
	return NewAdapter(runner, logging.NewNopLogger()), runner
}

func TestAdapter_QueryState(t *testing.T) {
	tests := []struct {
		name      string
		result    Result
		runErr    error
		expected  RawState
		errorType errors.ErrorType
	}{
		{
			name:     "started",
			result:   Result{Output: `APPPOOL "P1" (MgdVersion:v4.0,MgdMode:Integrated,state:Started)` + "\r\n"},
			expected: StateRunning,
		},
		{
			name:     "stopped",
			result:   Result{Output: `APPPOOL "P1" (MgdVersion:v4.0,MgdMode:Integrated,state:Stopped)`},
			expected: StateStopped,
		},
		{
			name:     "transitional state is unknown",
			result:   Result{Output: `APPPOOL "P1" (MgdVersion:v4.0,MgdMode:Integrated,state:Stopping)`},
			expected: StateUnknown,
		},
		{
			name:     "unrecognized output is unknown without error",
			result:   Result{Output: "something unexpected"},
			expected: StateUnknown,
		},
		{
			name:      "access denied",
			result:    Result{Output: "ERROR ( hresult:80070005, message:Command execution failed.\r\nAccess is denied. )", ExitCode: 5},
			expected:  StateUnknown,
			errorType: errors.ErrorTypePermission,
		},
		{
			name:      "not found",
			result:    Result{Output: `ERROR ( message:Cannot find APPPOOL object with identifier "P1". )`, ExitCode: 1168},
			expected:  StateUnknown,
			errorType: errors.ErrorTypeNotFound,
		},
		{
			name:      "generic failure",
			result:    Result{Output: "ERROR ( hresult:80004005, message:Unspecified error )", ExitCode: 1},
			expected:  StateUnknown,
			errorType: errors.ErrorTypeProcess,
		},
		{
			name:      "tool unavailable",
			runErr:    errors.NewToolUnavailableError("administration tool not found", nil),
			expected:  StateUnknown,
			errorType: errors.ErrorTypeToolUnavailable,
		},
		{
			name:      "timeout",
			runErr:    errors.NewTimeoutError("tool invocation timed out", nil),
			expected:  StateUnknown,
			errorType: errors.ErrorTypeTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, runner := newTestAdapter()
			runner.On("Run", []string{"list", "apppool", "P1"}).Return(tt.result, tt.runErr)

			state, err := adapter.QueryState(context.Background(), domain.EntityKindAppPool, "P1")

			assert.Equal(t, tt.expected, state)
			if tt.errorType == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, tt.errorType, errors.TypeOf(err))
			}
			runner.AssertExpectations(t)
		})
	}
}

func TestAdapter_PermissionErrorCarriesRemediation(t *testing.T) {
	adapter, runner := newTestAdapter()
	runner.On("Run", []string{"stop", "apppool", "P1"}).
		Return(Result{Output: "ERROR ( hresult:80070005, message:Access denied )", ExitCode: 5}, nil)

	ok, err := adapter.Execute(context.Background(), domain.EntityKindAppPool, "P1", domain.OperationStop)

	assert.False(t, ok)
	require.True(t, errors.IsPermissionError(err))
	var domainErr *errors.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, errors.RemediationElevate, domainErr.Remediation())
	assert.Equal(t, "P1", domainErr.Context["name"])
}

func TestAdapter_Execute(t *testing.T) {
	ok := Result{Output: `"P1" successfully started.`}
	failed := Result{Output: "ERROR ( hresult:80070425, message:Command execution failed. )", ExitCode: 1}

	t.Run("start app pool", func(t *testing.T) {
		adapter, runner := newTestAdapter()
		runner.On("Run", []string{"start", "apppool", "P1"}).Return(ok, nil).Once()

		success, err := adapter.Execute(context.Background(), domain.EntityKindAppPool, "P1", domain.OperationStart)
		assert.NoError(t, err)
		assert.True(t, success)
		runner.AssertExpectations(t)
	})

	t.Run("recycle app pool", func(t *testing.T) {
		adapter, runner := newTestAdapter()
		runner.On("Run", []string{"recycle", "apppool", "P1"}).Return(ok, nil).Once()

		success, err := adapter.Execute(context.Background(), domain.EntityKindAppPool, "P1", domain.OperationRecycle)
		assert.NoError(t, err)
		assert.True(t, success)
		runner.AssertExpectations(t)
	})

	t.Run("recycle of stopped app pool falls back to start", func(t *testing.T) {
		adapter, runner := newTestAdapter()
		runner.On("Run", []string{"recycle", "apppool", "P1"}).Return(failed, nil).Once()
		runner.On("Run", []string{"start", "apppool", "P1"}).Return(ok, nil).Once()

		success, err := adapter.Execute(context.Background(), domain.EntityKindAppPool, "P1", domain.OperationRecycle)
		assert.NoError(t, err)
		assert.True(t, success)
		runner.AssertExpectations(t)
	})

	t.Run("recycle site is stop then start", func(t *testing.T) {
		adapter, runner := newTestAdapter()
		runner.On("Run", []string{"stop", "site", "S1"}).Return(failed, nil).Once()
		runner.On("Run", []string{"start", "site", "S1"}).Return(ok, nil).Once()

		success, err := adapter.Execute(context.Background(), domain.EntityKindSite, "S1", domain.OperationRecycle)
		assert.NoError(t, err)
		assert.True(t, success)
		runner.AssertExpectations(t)
	})

	t.Run("recycle site stops on timeout", func(t *testing.T) {
		adapter, runner := newTestAdapter()
		runner.On("Run", []string{"stop", "site", "S1"}).
			Return(Result{}, errors.NewTimeoutError("tool invocation timed out", nil)).Once()

		success, err := adapter.Execute(context.Background(), domain.EntityKindSite, "S1", domain.OperationRecycle)
		assert.True(t, errors.IsTimeoutError(err))
		assert.False(t, success)
		runner.AssertExpectations(t)
	})

	t.Run("invalid operation", func(t *testing.T) {
		adapter, _ := newTestAdapter()
		_, err := adapter.Execute(context.Background(), domain.EntityKindSite, "S1", domain.Operation("delete"))
		assert.True(t, errors.IsValidationError(err))
	})

	t.Run("invalid kind", func(t *testing.T) {
		adapter, _ := newTestAdapter()
		_, err := adapter.Execute(context.Background(), domain.EntityKind("vdir"), "S1", domain.OperationStart)
		assert.True(t, errors.IsValidationError(err))
	})
}

func TestAdapter_Listings(t *testing.T) {
	adapter, runner := newTestAdapter()
	runner.On("Run", []string{"list", "site"}).Return(Result{Output: "SITE \"Default Web Site\" (id:1,bindings:http/*:80:,state:Started)\r\n" +
		"SITE \"Shop\" (id:2,bindings:http/10.0.0.5:8080:,https/*:443:,state:Stopped)\r\n"}, nil)
	runner.On("Run", []string{"list", "apppool"}).Return(Result{Output: "APPPOOL \"DefaultAppPool\" (MgdVersion:v4.0,MgdMode:Integrated,state:Started)\n" +
		"APPPOOL \"Odd\" (state:Started)\n"}, nil)
	runner.On("Run", []string{"list", "site", "Shop"}).Return(Result{Output: "SITE \"Shop\" (id:2,bindings:https/*:443:,http/10.0.0.5:8080:,state:Stopped)"}, nil)
	runner.On("Run", []string{"list", "app", "/site.name:Shop"}).Return(Result{Output: `APP "Shop/" (applicationPool:ShopPool)`}, nil)

	sites, err := adapter.ListSites(context.Background())
	require.NoError(t, err)
	require.Len(t, sites, 2)
	assert.Equal(t, SiteInfo{Name: "Default Web Site", ID: "1", Bindings: "http/*:80:", State: StateRunning}, sites[0])
	assert.Equal(t, StateStopped, sites[1].State)

	pools, err := adapter.ListAppPools(context.Background())
	require.NoError(t, err)
	require.Len(t, pools, 2)
	assert.Equal(t, "v4.0", pools[0].RuntimeVersion)
	assert.Equal(t, AppPoolInfo{Name: "Odd", RuntimeVersion: "Unknown", PipelineMode: "Unknown", State: StateUnknown}, pools[1])

	url, err := adapter.SiteURL(context.Background(), "Shop")
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:8080", url)

	pool, err := adapter.SiteAppPool(context.Background(), "Shop")
	require.NoError(t, err)
	assert.Equal(t, "ShopPool", pool)
}

func TestParseBindingURL(t *testing.T) {
	tests := []struct {
		output   string
		expected string
		ok       bool
	}{
		{`SITE "A" (id:1,bindings:http/*:80:,state:Started)`, "http://localhost:80", true},
		{`SITE "A" (id:1,bindings:http/:8081:www.example.com,state:Started)`, "http://localhost:8081", true},
		{`SITE "A" (id:1,bindings:https/*:443:,state:Started)`, "https://localhost:443", true},
		{`SITE "A" (id:1,bindings:net.tcp/808:*,state:Started)`, "", false},
		{`no bindings here`, "", false},
	}
	for _, tt := range tests {
		url, ok := ParseBindingURL(tt.output)
		assert.Equal(t, tt.ok, ok, tt.output)
		assert.Equal(t, tt.expected, url, tt.output)
	}
}

func TestExecRunner_ToolUnavailable(t *testing.T) {
	runner := NewExecRunner(filepath.Join(t.TempDir(), "missing", "appcmd.exe"), time.Second, logging.NewNopLogger())

	_, err := runner.Run(context.Background(), "list", "apppool")

	assert.True(t, errors.IsToolUnavailableError(err))
}

func TestExpandWindowsEnv(t *testing.T) {
	t.Setenv("IISWATCH_TEST_ROOT", `C:\Windows`)

	assert.Equal(t, `C:\Windows\system32\inetsrv\appcmd.exe`, expandWindowsEnv(`%IISWATCH_TEST_ROOT%\system32\inetsrv\appcmd.exe`))
	assert.Equal(t, `%IISWATCH_UNSET_VAR%\appcmd.exe`, expandWindowsEnv(`%IISWATCH_UNSET_VAR%\appcmd.exe`))
}
