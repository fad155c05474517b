package restart

import (
	"context"
	"sync"
	"time"

	"github.com/core-tools/hsu-iiswatch/pkg/config"
	"github.com/core-tools/hsu-iiswatch/pkg/domain"
	"github.com/core-tools/hsu-iiswatch/pkg/errors"
	"github.com/core-tools/hsu-iiswatch/pkg/logging"
)

// Executor is the part of the operation executor the policy needs
type Executor interface {
	Enqueue(ctx context.Context, kind domain.EntityKind, name string, operation domain.Operation, source domain.OperationSource) (string, error)
	Active(kind domain.EntityKind, name string) (domain.PendingOperation, bool)
	LastOperation(kind domain.EntityKind, name string) (domain.PendingOperation, bool)
}

type Phase string

const (
	PhaseStable         Phase = "stable"
	PhasePendingRestart Phase = "pending_restart"
)

// Settings are the engine-wide policy options
type Settings struct {
	Enabled bool
	// MaxAttempts within Window; negative means unlimited
	MaxAttempts int
	Window      time.Duration
}

// PoolPolicy is the per-pool part of the configuration
type PoolPolicy struct {
	Enabled     bool
	AutoRestart bool
	Delay       time.Duration
}

// PoolStatus describes the policy state of one pool
type PoolStatus struct {
	Phase       Phase     `json:"phase"`
	ScheduledAt time.Time `json:"scheduled_at,omitzero"`
	Attempts    int       `json:"attempts_in_window"`
	BreakerOpen bool      `json:"breaker_open"`
}

type poolState struct {
	phase         Phase
	timer         *time.Timer
	generation    uint64
	scheduledAt   time.Time
	attempts      []time.Time
	lastRunningAt time.Time
}

// Engine decides when an app pool that stopped or failed gets recycled.
// Per pool it moves Stable -> PendingRestart on a Stopped/Error observation
// and back to Stable when the delay fires (after enqueueing a recycle), when
// the pool is seen Running, or when the pool leaves the configuration.
type Engine struct {
	executor Executor
	logger   logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mutex     sync.Mutex
	settings  Settings
	pools     map[string]PoolPolicy
	states    map[string]*poolState
	paused    bool
	onRestart func(name string, operationID string)
}

func NewEngine(executor Executor, logger logging.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		executor: executor,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		pools:    make(map[string]PoolPolicy),
		states:   make(map[string]*poolState),
	}
}

// SetRestartHook registers a callback for every recycle the engine enqueues
func (e *Engine) SetRestartHook(hook func(name string, operationID string)) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.onRestart = hook
}

// Configure applies a configuration snapshot. Pending restarts of pools that
// were removed or are no longer eligible are cancelled.
func (e *Engine) Configure(snapshot *config.Config) {
	settings := Settings{
		Enabled:     snapshot.Monitor.IsAutoRestart(),
		MaxAttempts: snapshot.Monitor.MaxRestartAttempts,
		Window:      snapshot.Monitor.RestartWindow,
	}
	pools := make(map[string]PoolPolicy, len(snapshot.AppPools))
	for _, pool := range snapshot.AppPools {
		pools[pool.Name] = PoolPolicy{
			Enabled:     pool.IsEnabled(),
			AutoRestart: pool.IsAutoRestart(),
			Delay:       pool.Delay(),
		}
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.settings = settings
	e.pools = pools
	for name, state := range e.states {
		policy, ok := pools[name]
		if !ok {
			e.cancelLocked(name, state, "removed from configuration")
			delete(e.states, name)
			continue
		}
		if !e.eligibleLocked(policy) {
			e.cancelLocked(name, state, "auto-restart disabled")
		}
	}
}

func (e *Engine) eligibleLocked(policy PoolPolicy) bool {
	return e.settings.Enabled && policy.Enabled && policy.AutoRestart
}

func (e *Engine) stateLocked(name string) *poolState {
	state, ok := e.states[name]
	if !ok {
		state = &poolState{phase: PhaseStable}
		e.states[name] = state
	}
	return state
}

func (e *Engine) cancelLocked(name string, state *poolState, reason string) {
	if state.phase != PhasePendingRestart {
		return
	}
	state.timer.Stop()
	state.timer = nil
	state.generation++
	state.phase = PhaseStable
	state.scheduledAt = time.Time{}
	e.logger.Infof("Pending restart cancelled, app pool: %s, reason: %s", name, reason)
}

// Observe feeds one state transition of an app pool into the policy.
// Callers report transitions, not every check result.
func (e *Engine) Observe(name string, current domain.EntityState) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.paused {
		return
	}
	policy, ok := e.pools[name]
	if !ok {
		return
	}
	state := e.stateLocked(name)

	switch current {
	case domain.EntityStateRunning:
		state.lastRunningAt = time.Now()
		e.cancelLocked(name, state, "app pool recovered")
		return
	case domain.EntityStateStopped, domain.EntityStateError:
	default:
		return
	}

	if state.phase == PhasePendingRestart {
		e.logger.Debugf("Restart already pending, app pool: %s, scheduled at: %v", name, state.scheduledAt)
		return
	}
	if !e.eligibleLocked(policy) {
		e.logger.Debugf("Auto-restart not enabled, app pool: %s, state: %s", name, current)
		return
	}
	if reason, blocked := e.blockedLocked(name, state); blocked {
		e.logger.Infof("Auto-restart skipped, app pool: %s, state: %s, reason: %s", name, current, reason)
		return
	}

	state.generation++
	generation := state.generation
	state.phase = PhasePendingRestart
	state.scheduledAt = time.Now().Add(policy.Delay)
	state.timer = time.AfterFunc(policy.Delay, func() { e.fire(name, generation) })

	e.logger.Warnf("App pool down, restart scheduled, app pool: %s, state: %s, delay: %v", name, current, policy.Delay)
}

// blockedLocked checks the guards shared by scheduling and firing
func (e *Engine) blockedLocked(name string, state *poolState) (string, bool) {
	if op, busy := e.executor.Active(domain.EntityKindAppPool, name); busy {
		return "operation " + op.ID + " (" + string(op.Operation) + ") is " + string(op.Status), true
	}
	if last, ok := e.executor.LastOperation(domain.EntityKindAppPool, name); ok &&
		last.Source == domain.OperationSourceOperator &&
		last.Operation == domain.OperationStop &&
		last.Status == domain.OperationStatusSucceeded &&
		state.lastRunningAt.Before(last.FinishedAt) {
		return "stopped by operator", true
	}
	if e.breakerOpenLocked(state, time.Now()) {
		return "restart limit reached", true
	}
	return "", false
}

func (e *Engine) breakerOpenLocked(state *poolState, now time.Time) bool {
	if e.settings.MaxAttempts < 0 {
		return false
	}
	if e.settings.Window > 0 {
		cutoff := now.Add(-e.settings.Window)
		kept := state.attempts[:0]
		for _, at := range state.attempts {
			if at.After(cutoff) {
				kept = append(kept, at)
			}
		}
		state.attempts = kept
	}
	return len(state.attempts) >= e.settings.MaxAttempts
}

func (e *Engine) fire(name string, generation uint64) {
	e.mutex.Lock()
	state, ok := e.states[name]
	if e.paused || !ok || state.generation != generation || state.phase != PhasePendingRestart {
		e.mutex.Unlock()
		return
	}
	state.phase = PhaseStable
	state.timer = nil
	state.scheduledAt = time.Time{}

	policy, configured := e.pools[name]
	if !configured || !e.eligibleLocked(policy) {
		e.mutex.Unlock()
		return
	}
	if reason, blocked := e.blockedLocked(name, state); blocked {
		e.mutex.Unlock()
		e.logger.Infof("Auto-restart skipped at fire time, app pool: %s, reason: %s", name, reason)
		return
	}
	state.attempts = append(state.attempts, time.Now())
	hook := e.onRestart
	e.mutex.Unlock()

	id, err := e.executor.Enqueue(e.ctx, domain.EntityKindAppPool, name, domain.OperationRecycle, domain.OperationSourceAutoRestart)
	if err != nil {
		if errors.IsConflictError(err) {
			e.logger.Infof("Auto-restart deferred to active operation, app pool: %s", name)
		} else {
			e.logger.Errorf("Failed to enqueue auto-restart, app pool: %s, error: %v", name, err)
		}
		return
	}

	e.logger.Infof("Auto-restart enqueued, app pool: %s, operation id: %s", name, id)
	if hook != nil {
		hook(name, id)
	}
}

func (e *Engine) Status(name string) (PoolStatus, bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if _, ok := e.pools[name]; !ok {
		return PoolStatus{}, false
	}
	state := e.stateLocked(name)
	return PoolStatus{
		Phase:       state.phase,
		ScheduledAt: state.scheduledAt,
		Attempts:    len(state.attempts),
		BreakerOpen: e.breakerOpenLocked(state, time.Now()),
	}, true
}

// Pause cancels every pending restart and ignores observations until Resume
func (e *Engine) Pause() {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.paused = true
	for name, state := range e.states {
		e.cancelLocked(name, state, "monitor stopped")
	}
}

func (e *Engine) Resume() {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.paused = false
}

// Stop pauses the engine for good and cancels enqueue calls in progress
func (e *Engine) Stop() {
	e.Pause()
	e.cancel()
}
