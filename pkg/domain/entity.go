package domain

import (
	"fmt"
	"time"
)

// EntityKind distinguishes web sites from application pools
type EntityKind string

const (
	EntityKindSite    EntityKind = "site"
	EntityKindAppPool EntityKind = "app_pool"
)

func (k EntityKind) Valid() bool {
	return k == EntityKindSite || k == EntityKindAppPool
}

// ParseEntityKind accepts the API spellings of a kind
func ParseEntityKind(s string) (EntityKind, error) {
	switch s {
	case "site", "sites":
		return EntityKindSite, nil
	case "app_pool", "apppool", "apppools", "app_pools":
		return EntityKindAppPool, nil
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// EntityState is the last-known status of a monitored entity
type EntityState string

const (
	// EntityStateUnknown means the entity was never successfully checked
	EntityStateUnknown  EntityState = "unknown"
	EntityStateRunning  EntityState = "running"
	EntityStateStopped  EntityState = "stopped"
	EntityStateError    EntityState = "error"
	EntityStateChecking EntityState = "checking"
)

// EntityKey identifies one EntityStatus record
type EntityKey struct {
	Kind EntityKind
	Name string
}

func (k EntityKey) String() string {
	return string(k.Kind) + "/" + k.Name
}

// EntityStatus is the State Model record for one site or app pool
type EntityStatus struct {
	Kind                    EntityKind  `json:"kind"`
	Name                    string      `json:"name"`
	State                   EntityState `json:"state"`
	LastCheckedAt           time.Time   `json:"last_checked_at,omitzero"`
	LastError               string      `json:"last_error,omitempty"`
	ConsecutiveFailureCount int         `json:"consecutive_failure_count"`
	TotalChecks             int         `json:"total_checks"`

	// Restart is filled for app pools whose restart policy is not idle
	Restart *RestartStatus `json:"restart,omitempty"`
}

// RestartStatus is the auto-restart view of one app pool
type RestartStatus struct {
	Phase       string    `json:"phase"`
	ScheduledAt time.Time `json:"scheduled_at,omitzero"`
	Attempts    int       `json:"attempts_in_window"`
	BreakerOpen bool      `json:"breaker_open"`
}

func (s EntityStatus) Key() EntityKey {
	return EntityKey{Kind: s.Kind, Name: s.Name}
}

// Operation is an operator or policy issued control action
type Operation string

const (
	OperationStart   Operation = "start"
	OperationStop    Operation = "stop"
	OperationRecycle Operation = "recycle"
)

func ParseOperation(s string) (Operation, error) {
	switch Operation(s) {
	case OperationStart, OperationStop, OperationRecycle:
		return Operation(s), nil
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

type OperationStatus string

const (
	OperationStatusQueued    OperationStatus = "queued"
	OperationStatusRunning   OperationStatus = "running"
	OperationStatusSucceeded OperationStatus = "succeeded"
	OperationStatusFailed    OperationStatus = "failed"
)

// Active reports whether the operation still holds its entity
func (s OperationStatus) Active() bool {
	return s == OperationStatusQueued || s == OperationStatusRunning
}

// OperationSource records who asked for the operation
type OperationSource string

const (
	OperationSourceOperator    OperationSource = "operator"
	OperationSourceAutoRestart OperationSource = "auto_restart"
)

// PendingOperation tracks one control operation against one entity
type PendingOperation struct {
	ID          string          `json:"id"`
	Kind        EntityKind      `json:"kind"`
	Name        string          `json:"name"`
	Operation   Operation       `json:"operation"`
	Source      OperationSource `json:"source"`
	Status      OperationStatus `json:"status"`
	RequestedAt time.Time       `json:"requested_at"`
	StartedAt   time.Time       `json:"started_at,omitzero"`
	FinishedAt  time.Time       `json:"finished_at,omitzero"`
	Error       string          `json:"error,omitempty"`
	ErrorType   string          `json:"error_type,omitempty"`
	Remediation string          `json:"remediation,omitempty"`
}

func (o PendingOperation) Key() EntityKey {
	return EntityKey{Kind: o.Kind, Name: o.Name}
}
