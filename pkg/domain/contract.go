package domain

import (
	"context"
	"time"
)

// MonitorStats mirrors the operator dashboard counters
type MonitorStats struct {
	Running        bool             `json:"running"`
	StartedAt      time.Time        `json:"started_at,omitzero"`
	UptimeSeconds  float64          `json:"uptime_seconds"`
	LastCycleAt    time.Time        `json:"last_cycle_at,omitzero"`
	TotalChecks    int64            `json:"total_checks"`
	TotalFailures  int64            `json:"total_failures"`
	TotalRestarts  int64            `json:"total_restarts"`
	ToolAvailable  bool             `json:"tool_available"`
	DailyChecks    map[string]int64 `json:"daily_checks"`
	DailyFailures  map[string]int64 `json:"daily_failures"`
	DailyRestarts  map[string]int64 `json:"daily_restarts"`
	CheckInterval  time.Duration    `json:"check_interval"`
	AutoRestartsOn bool             `json:"auto_restart"`
}

// DiscoveredEntity is a site or app pool the host knows about, monitored or not
type DiscoveredEntity struct {
	Kind      EntityKind  `json:"kind"`
	Name      string      `json:"name"`
	State     EntityState `json:"state"`
	Detail    string      `json:"detail,omitempty"`
	AppPool   string      `json:"app_pool,omitempty"`
	Monitored bool        `json:"monitored"`
}

// Contract is the presentation boundary: State Model reads plus executor calls
type Contract interface {
	ListSites(ctx context.Context) ([]EntityStatus, error)
	ListAppPools(ctx context.Context) ([]EntityStatus, error)
	GetEntity(ctx context.Context, kind EntityKind, name string) (EntityStatus, error)
	Enqueue(ctx context.Context, kind EntityKind, name string, operation Operation) (string, error)
	OperationStatus(ctx context.Context, id string) (PendingOperation, error)
	ListOperations(ctx context.Context) ([]PendingOperation, error)
	Refresh(ctx context.Context) error
	Stats(ctx context.Context) (MonitorStats, error)
	RecentLogs(ctx context.Context, count int) ([]string, error)
	Discover(ctx context.Context, kind EntityKind) ([]DiscoveredEntity, error)
}
