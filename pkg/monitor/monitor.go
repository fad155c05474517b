package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/core-tools/hsu-iiswatch/pkg/appcmd"
	"github.com/core-tools/hsu-iiswatch/pkg/config"
	"github.com/core-tools/hsu-iiswatch/pkg/domain"
	"github.com/core-tools/hsu-iiswatch/pkg/errors"
	"github.com/core-tools/hsu-iiswatch/pkg/logging"
	"github.com/core-tools/hsu-iiswatch/pkg/metrics"
	"github.com/core-tools/hsu-iiswatch/pkg/operations"
	"github.com/core-tools/hsu-iiswatch/pkg/probe"
	"github.com/core-tools/hsu-iiswatch/pkg/restart"
	"github.com/core-tools/hsu-iiswatch/pkg/scheduler"
	"github.com/core-tools/hsu-iiswatch/pkg/state"

	"golang.org/x/time/rate"
)

const DefaultForceShutdownTimeout = 30 * time.Second

// MonitorState represents the lifecycle of the monitoring engine
type MonitorState string

const (
	MonitorStateNotStarted MonitorState = "not_started"
	MonitorStateRunning    MonitorState = "running"
	MonitorStateStopping   MonitorState = "stopping"
	MonitorStateStopped    MonitorState = "stopped"
	MonitorStateClosed     MonitorState = "closed"
)

type MonitorOptions struct {
	ForceShutdownTimeout time.Duration
	HistorySize          int
	// Runner overrides the appcmd subprocess runner, mainly for tests
	Runner appcmd.Runner
	// Prober overrides the HTTP prober, mainly for tests
	Prober scheduler.Prober
	// Recent serves RecentLogs; nil means no recent log lines
	Recent *logging.RecentLog
}

// Monitor wires the engine components together and implements domain.Contract
type Monitor struct {
	options MonitorOptions
	logger  logging.Logger

	store     *state.Store
	adapter   *appcmd.Adapter
	executor  *operations.Executor
	policy    *restart.Engine
	scheduler *scheduler.Scheduler
	recorder  *metrics.Recorder
	limiter   *rate.Limiter

	mutex        sync.Mutex
	monitorState MonitorState
	startedAt    time.Time
	snapshot     *config.Config
}

func NewMonitor(snapshot *config.Config, options MonitorOptions, logger logging.Logger) (*Monitor, error) {
	if snapshot == nil {
		return nil, errors.NewValidationError("configuration cannot be nil", nil)
	}
	if err := config.ValidateConfig(snapshot); err != nil {
		return nil, errors.NewValidationError("invalid configuration", err)
	}

	runner := options.Runner
	if runner == nil {
		runner = appcmd.NewExecRunner(snapshot.Monitor.AppcmdPath, snapshot.Monitor.ToolTimeout, logging.WithPrefix(logger, "appcmd , "))
	}
	prober := options.Prober
	if prober == nil {
		prober = probe.NewProber(probe.Options{InsecureSkipVerify: snapshot.Monitor.InsecureSkipVerify})
	}

	store := state.NewStore()
	adapter := appcmd.NewAdapter(runner, logging.WithPrefix(logger, "appcmd , "))
	executor := operations.NewExecutor(adapter, store, options.HistorySize, logging.WithPrefix(logger, "executor , "))
	policy := restart.NewEngine(executor, logging.WithPrefix(logger, "auto-restart , "))
	recorder := metrics.NewRecorder()
	sched := scheduler.NewScheduler(store, prober, adapter, policy, recorder, logging.WithPrefix(logger, "scheduler , "))

	executor.SetRecheck(sched.RecheckEntity)
	executor.SetFinished(func(op domain.PendingOperation) {
		recorder.OperationFinished(op)
		sched.OperationFinished(op)
	})
	policy.SetRestartHook(func(name string, operationID string) {
		recorder.RestartIssued(name)
	})

	m := &Monitor{
		options:      options,
		logger:       logger,
		store:        store,
		adapter:      adapter,
		executor:     executor,
		policy:       policy,
		scheduler:    sched,
		recorder:     recorder,
		limiter:      rate.NewLimiter(rate.Every(snapshot.Control.RefreshRateLimit), 1),
		monitorState: MonitorStateNotStarted,
	}
	m.ApplyConfig(snapshot)
	return m, nil
}

// ApplyConfig reconciles the engine with a new configuration snapshot.
// Tool path and timeout are read once at construction.
func (m *Monitor) ApplyConfig(snapshot *config.Config) {
	m.mutex.Lock()
	previous := m.snapshot
	m.snapshot = snapshot
	m.mutex.Unlock()

	if previous != nil && (previous.Monitor.AppcmdPath != snapshot.Monitor.AppcmdPath ||
		previous.Monitor.ToolTimeout != snapshot.Monitor.ToolTimeout) {
		m.logger.Warnf("Tool settings changed, restart required to apply, appcmd_path: %s, tool_timeout: %v",
			snapshot.Monitor.AppcmdPath, snapshot.Monitor.ToolTimeout)
	}

	result := m.store.Reconcile(snapshot)
	for _, key := range result.Removed {
		m.recorder.RemoveEntity(key.Kind, key.Name)
		m.executor.Forget(key.Kind, key.Name)
	}
	for _, key := range result.Added {
		m.recorder.SetEntityState(key.Kind, key.Name, domain.EntityStateUnknown)
	}
	m.policy.Configure(snapshot)
	m.scheduler.Configure(snapshot)
	if snapshot.Control.RefreshRateLimit > 0 {
		m.limiter.SetLimit(rate.Every(snapshot.Control.RefreshRateLimit))
	} else {
		m.limiter.SetLimit(rate.Inf)
	}

	m.logger.Infof("Configuration applied, sites: %d, app_pools: %d, added: %d, removed: %d",
		len(snapshot.Sites), len(snapshot.AppPools), len(result.Added), len(result.Removed))
}

func (m *Monitor) Snapshot() *config.Config {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.snapshot
}

func (m *Monitor) MetricsRecorder() *metrics.Recorder {
	return m.recorder
}

func (m *Monitor) State() MonitorState {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.monitorState
}

// Start begins periodic monitoring
func (m *Monitor) Start(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	switch m.monitorState {
	case MonitorStateRunning, MonitorStateStopping:
		return errors.NewConflictError("monitor is already running", nil).WithContext("state", m.monitorState)
	case MonitorStateClosed:
		return errors.NewConflictError("monitor is closed", nil)
	}

	m.logger.Infof("Starting monitor...")

	m.policy.Resume()
	// Monitoring outlives the caller's request; Stop ends it
	if err := m.scheduler.Start(context.WithoutCancel(ctx)); err != nil {
		return errors.NewInternalError("failed to start scheduler", err)
	}
	m.monitorState = MonitorStateRunning
	m.startedAt = time.Now()

	m.logger.Infof("Monitor started, check interval: %v, auto-restart: %t",
		m.snapshot.Monitor.CheckInterval, m.snapshot.Monitor.IsAutoRestart())
	return nil
}

// Stop halts periodic monitoring and cancels pending auto-restarts.
// Operator operations keep working while stopped.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mutex.Lock()
	if m.monitorState != MonitorStateRunning {
		m.mutex.Unlock()
		return errors.NewConflictError("monitor is not running", nil)
	}
	m.monitorState = MonitorStateStopping
	m.mutex.Unlock()

	m.logger.Infof("Stopping monitor...")

	m.scheduler.Stop()
	m.policy.Pause()

	m.mutex.Lock()
	m.monitorState = MonitorStateStopped
	m.startedAt = time.Time{}
	m.mutex.Unlock()

	m.logger.Infof("Monitor stopped")
	return nil
}

// Close stops monitoring if needed and waits for in-flight operations,
// up to the force shutdown timeout
func (m *Monitor) Close(ctx context.Context) error {
	collection := errors.NewErrorCollection()
	if m.State() == MonitorStateRunning {
		collection.Add(m.Stop(ctx))
	}

	m.mutex.Lock()
	if m.monitorState == MonitorStateClosed {
		m.mutex.Unlock()
		return nil
	}
	m.monitorState = MonitorStateClosed
	m.mutex.Unlock()

	timeout := m.options.ForceShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultForceShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	m.policy.Stop()
	if err := m.executor.Shutdown(ctx); err != nil {
		m.logger.Errorf("Operations did not finish before shutdown, error: %v", err)
		collection.Add(err)
	}

	if collection.HasErrors() {
		m.logger.Warnf("Monitor closed with errors, count: %d", len(collection.Errors))
		return collection.ToError()
	}
	m.logger.Infof("Monitor closed")
	return nil
}

// RunCycle runs one synchronous monitoring cycle regardless of lifecycle state
func (m *Monitor) RunCycle(ctx context.Context) scheduler.CycleResult {
	return m.scheduler.RunCycle(ctx)
}

func (m *Monitor) ListSites(ctx context.Context) ([]domain.EntityStatus, error) {
	return m.store.List(domain.EntityKindSite), nil
}

func (m *Monitor) ListAppPools(ctx context.Context) ([]domain.EntityStatus, error) {
	pools := m.store.List(domain.EntityKindAppPool)
	for i := range pools {
		m.attachRestart(&pools[i])
	}
	return pools, nil
}

// attachRestart adds the auto-restart view to an app pool that has a
// restart pending, recent attempts or an open breaker.
func (m *Monitor) attachRestart(status *domain.EntityStatus) {
	if status.Kind != domain.EntityKindAppPool {
		return
	}
	policy, ok := m.policy.Status(status.Name)
	if !ok {
		return
	}
	if policy.Phase == restart.PhaseStable && policy.Attempts == 0 && !policy.BreakerOpen {
		return
	}
	status.Restart = &domain.RestartStatus{
		Phase:       string(policy.Phase),
		ScheduledAt: policy.ScheduledAt,
		Attempts:    policy.Attempts,
		BreakerOpen: policy.BreakerOpen,
	}
}

func (m *Monitor) GetEntity(ctx context.Context, kind domain.EntityKind, name string) (domain.EntityStatus, error) {
	if !kind.Valid() {
		return domain.EntityStatus{}, errors.NewValidationError(fmt.Sprintf("invalid entity kind: %s", kind), nil)
	}
	status, ok := m.store.Get(kind, name)
	if !ok {
		return domain.EntityStatus{}, errors.NewNotFoundError(fmt.Sprintf("%s '%s' is not monitored", kind, name), nil).
			WithContext("kind", kind).WithContext("name", name)
	}
	m.attachRestart(&status)
	return status, nil
}

func (m *Monitor) Enqueue(ctx context.Context, kind domain.EntityKind, name string, operation domain.Operation) (string, error) {
	return m.executor.Enqueue(ctx, kind, name, operation, domain.OperationSourceOperator)
}

func (m *Monitor) OperationStatus(ctx context.Context, id string) (domain.PendingOperation, error) {
	return m.executor.Status(id)
}

func (m *Monitor) ListOperations(ctx context.Context) ([]domain.PendingOperation, error) {
	return m.executor.List(), nil
}

// Refresh requests an immediate cycle. Requests are rate limited.
func (m *Monitor) Refresh(ctx context.Context) error {
	if m.State() != MonitorStateRunning {
		return errors.NewConflictError("monitor is not running", nil)
	}
	if !m.limiter.Allow() {
		return errors.NewRateLimitedError("refresh requested too often", nil).
			WithContext("min_interval", m.Snapshot().Control.RefreshRateLimit.String())
	}
	m.logger.Infof("Refresh requested")
	m.scheduler.Trigger()
	return nil
}

func (m *Monitor) Stats(ctx context.Context) (domain.MonitorStats, error) {
	m.mutex.Lock()
	stats := domain.MonitorStats{
		Running:        m.monitorState == MonitorStateRunning,
		StartedAt:      m.startedAt,
		CheckInterval:  m.snapshot.Monitor.CheckInterval,
		AutoRestartsOn: m.snapshot.Monitor.IsAutoRestart(),
	}
	m.mutex.Unlock()

	if stats.Running {
		stats.UptimeSeconds = time.Since(stats.StartedAt).Seconds()
	}
	m.recorder.Fill(&stats)
	return stats, nil
}

func (m *Monitor) RecentLogs(ctx context.Context, count int) ([]string, error) {
	if m.options.Recent == nil {
		return []string{}, nil
	}
	return m.options.Recent.Last(count), nil
}

// Discover lists what the host's web server knows about, flagging monitored entities
func (m *Monitor) Discover(ctx context.Context, kind domain.EntityKind) ([]domain.DiscoveredEntity, error) {
	snapshot := m.Snapshot()

	switch kind {
	case domain.EntityKindSite:
		sites, err := m.adapter.ListSites(ctx)
		if err != nil {
			return nil, err
		}
		entities := make([]domain.DiscoveredEntity, 0, len(sites))
		for _, site := range sites {
			pool, err := m.adapter.SiteAppPool(ctx, site.Name)
			if err != nil {
				m.logger.Debugf("No app pool found for site, site: %s, error: %v", site.Name, err)
			}
			entities = append(entities, domain.DiscoveredEntity{
				Kind:      domain.EntityKindSite,
				Name:      site.Name,
				State:     site.State.EntityState(),
				Detail:    site.Bindings,
				AppPool:   pool,
				Monitored: snapshot.Contains(domain.EntityKey{Kind: domain.EntityKindSite, Name: site.Name}),
			})
		}
		return entities, nil

	case domain.EntityKindAppPool:
		pools, err := m.adapter.ListAppPools(ctx)
		if err != nil {
			return nil, err
		}
		entities := make([]domain.DiscoveredEntity, 0, len(pools))
		for _, pool := range pools {
			entities = append(entities, domain.DiscoveredEntity{
				Kind:      domain.EntityKindAppPool,
				Name:      pool.Name,
				State:     pool.State.EntityState(),
				Detail:    pool.RuntimeVersion + " " + pool.PipelineMode,
				Monitored: snapshot.Contains(domain.EntityKey{Kind: domain.EntityKindAppPool, Name: pool.Name}),
			})
		}
		return entities, nil
	}

	return nil, errors.NewValidationError(fmt.Sprintf("invalid entity kind: %s", kind), nil)
}
