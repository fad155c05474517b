package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/core-tools/hsu-iiswatch/pkg/domain"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counters(t *testing.T) {
	recorder := NewRecorder()
	day := time.Date(2025, 3, 14, 10, 0, 0, 0, time.Local)
	recorder.now = func() time.Time { return day }

	recorder.CheckCompleted(domain.EntityKindSite, domain.EntityStateRunning)
	recorder.CheckCompleted(domain.EntityKindSite, domain.EntityStateError)
	recorder.CheckCompleted(domain.EntityKindAppPool, domain.EntityStateStopped)
	recorder.CheckCompleted(domain.EntityKindAppPool, domain.EntityStateUnknown)
	recorder.RestartIssued("P1")

	var stats domain.MonitorStats
	recorder.Fill(&stats)

	assert.Equal(t, int64(4), stats.TotalChecks)
	assert.Equal(t, int64(2), stats.TotalFailures)
	assert.Equal(t, int64(1), stats.TotalRestarts)
	assert.Equal(t, map[string]int64{"2025-03-14": 4}, stats.DailyChecks)
	assert.Equal(t, map[string]int64{"2025-03-14": 2}, stats.DailyFailures)
	assert.Equal(t, map[string]int64{"2025-03-14": 1}, stats.DailyRestarts)

	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.checks.WithLabelValues("site", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.failures.WithLabelValues("app_pool")))
	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.restarts.WithLabelValues("P1")))
}

func TestRecorder_DailyRetention(t *testing.T) {
	recorder := NewRecorder()
	day := time.Date(2025, 3, 1, 12, 0, 0, 0, time.Local)
	for i := 0; i < DailyRetention+3; i++ {
		current := day.AddDate(0, 0, i)
		recorder.now = func() time.Time { return current }
		recorder.CheckCompleted(domain.EntityKindSite, domain.EntityStateRunning)
	}

	var stats domain.MonitorStats
	recorder.Fill(&stats)

	assert.Len(t, stats.DailyChecks, DailyRetention)
	assert.NotContains(t, stats.DailyChecks, "2025-03-01")
	assert.Contains(t, stats.DailyChecks, "2025-03-10")
	assert.Equal(t, int64(DailyRetention+3), stats.TotalChecks)
}

func TestRecorder_EntityStateGauge(t *testing.T) {
	recorder := NewRecorder()

	recorder.SetEntityState(domain.EntityKindAppPool, "P1", domain.EntityStateStopped)
	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.entityState.WithLabelValues("app_pool", "P1", "stopped")))
	assert.Equal(t, 0.0, testutil.ToFloat64(recorder.entityState.WithLabelValues("app_pool", "P1", "running")))

	recorder.SetEntityState(domain.EntityKindAppPool, "P1", domain.EntityStateRunning)
	assert.Equal(t, 0.0, testutil.ToFloat64(recorder.entityState.WithLabelValues("app_pool", "P1", "stopped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.entityState.WithLabelValues("app_pool", "P1", "running")))

	recorder.RemoveEntity(domain.EntityKindAppPool, "P1")
	assert.Equal(t, 0, testutil.CollectAndCount(recorder.entityState))
}

func TestRecorder_Handler(t *testing.T) {
	recorder := NewRecorder()
	recorder.SetToolAvailable(false)
	recorder.CycleCompleted(120 * time.Millisecond)

	rec := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "iiswatch_tool_available 0")
	assert.Contains(t, rec.Body.String(), "iiswatch_cycle_duration_seconds_count 1")

	var stats domain.MonitorStats
	recorder.Fill(&stats)
	assert.False(t, stats.ToolAvailable)
	assert.False(t, stats.LastCycleAt.IsZero())
}
