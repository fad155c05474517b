package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityStatus_NeverCheckedOmitsTimestamp(t *testing.T) {
	data, err := json.Marshal(EntityStatus{Kind: EntityKindAppPool, Name: "P1", State: EntityStateUnknown})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "last_checked_at")
	assert.NotContains(t, string(data), "0001-01-01")
	assert.NotContains(t, string(data), "restart")

	checkedAt := time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC)
	data, err = json.Marshal(EntityStatus{
		Kind:          EntityKindAppPool,
		Name:          "P1",
		State:         EntityStateStopped,
		LastCheckedAt: checkedAt,
		Restart:       &RestartStatus{Phase: "pending_restart", ScheduledAt: checkedAt.Add(5 * time.Second)},
	})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"last_checked_at":"2025-03-10T08:30:00Z"`)
	assert.Contains(t, string(data), `"scheduled_at":"2025-03-10T08:30:05Z"`)
}

func TestPendingOperation_QueuedOmitsStartAndFinish(t *testing.T) {
	op := PendingOperation{
		ID:          "op-1",
		Kind:        EntityKindSite,
		Name:        "S1",
		Operation:   OperationStart,
		Source:      OperationSourceOperator,
		Status:      OperationStatusQueued,
		RequestedAt: time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC),
	}

	data, err := json.Marshal(op)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"requested_at"`)
	assert.NotContains(t, string(data), "started_at")
	assert.NotContains(t, string(data), "finished_at")
	assert.NotContains(t, string(data), "error_type")
}

func TestMonitorStats_StoppedOmitsTimestamps(t *testing.T) {
	data, err := json.Marshal(MonitorStats{})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "started_at")
	assert.NotContains(t, string(data), "last_cycle_at")
}
