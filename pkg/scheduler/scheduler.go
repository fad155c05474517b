package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/core-tools/hsu-iiswatch/pkg/appcmd"
	"github.com/core-tools/hsu-iiswatch/pkg/config"
	"github.com/core-tools/hsu-iiswatch/pkg/domain"
	"github.com/core-tools/hsu-iiswatch/pkg/errors"
	"github.com/core-tools/hsu-iiswatch/pkg/logging"
	"github.com/core-tools/hsu-iiswatch/pkg/probe"
	"github.com/core-tools/hsu-iiswatch/pkg/state"
)

// FallbackSiteURL is probed when a site has no url and no usable binding
const FallbackSiteURL = "http://localhost"

type Prober interface {
	Probe(ctx context.Context, url string, timeout time.Duration, expectedStatus int) probe.Result
}

// Querier reads app pool state and derives probe URLs from site bindings
type Querier interface {
	QueryState(ctx context.Context, kind domain.EntityKind, name string) (appcmd.RawState, error)
	SiteURL(ctx context.Context, name string) (string, error)
}

// Policy receives app pool transitions
type Policy interface {
	Observe(name string, current domain.EntityState)
}

type Recorder interface {
	CheckCompleted(kind domain.EntityKind, state domain.EntityState)
	SetEntityState(kind domain.EntityKind, name string, state domain.EntityState)
	SetToolAvailable(available bool)
	CycleCompleted(duration time.Duration)
}

// CycleResult summarizes one monitoring cycle
type CycleResult struct {
	Checked  int
	Failed   int
	Duration time.Duration
}

// Scheduler runs monitoring cycles on a fixed interval and on demand.
// Every check of one cycle runs concurrently with its own timeout; the
// cycle ends when the slowest check ends.
type Scheduler struct {
	store    *state.Store
	prober   Prober
	querier  Querier
	policy   Policy
	recorder Recorder
	logger   logging.Logger

	mutex    sync.RWMutex
	snapshot *config.Config

	inFlightMutex sync.Mutex
	inFlight      map[domain.EntityKey]struct{}
	requeued      map[domain.EntityKey]context.Context

	cycleMutex sync.Mutex

	toolMutex sync.Mutex
	toolDown  bool

	trigger     chan struct{}
	reconfigure chan struct{}
	stopChan    chan struct{}
	wg          sync.WaitGroup
	running     bool
}

func NewScheduler(store *state.Store, prober Prober, querier Querier, policy Policy, recorder Recorder, logger logging.Logger) *Scheduler {
	return &Scheduler{
		store:       store,
		prober:      prober,
		querier:     querier,
		policy:      policy,
		recorder:    recorder,
		logger:      logger,
		snapshot:    &config.Config{},
		inFlight:    make(map[domain.EntityKey]struct{}),
		requeued:    make(map[domain.EntityKey]context.Context),
		trigger:     make(chan struct{}, 1),
		reconfigure: make(chan struct{}, 1),
	}
}

// Configure swaps the configuration snapshot used by the next checks
func (s *Scheduler) Configure(snapshot *config.Config) {
	s.mutex.Lock()
	s.snapshot = snapshot
	s.mutex.Unlock()

	select {
	case s.reconfigure <- struct{}{}:
	default:
	}
}

func (s *Scheduler) currentSnapshot() *config.Config {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.snapshot
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running {
		return errors.NewConflictError("scheduler is already running", nil)
	}
	s.running = true
	s.stopChan = make(chan struct{})

	s.logger.Infof("Starting scheduler, interval: %v, sites: %d, app_pools: %d",
		s.snapshot.Monitor.CheckInterval, len(s.snapshot.Sites), len(s.snapshot.AppPools))

	s.wg.Add(1)
	go s.loop(ctx, s.stopChan)
	return nil
}

func (s *Scheduler) Stop() {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.mutex.Unlock()

	s.logger.Infof("Stopping scheduler")
	s.wg.Wait()
	s.logger.Infof("Scheduler stopped")
}

// Trigger requests a cycle as soon as possible; requests made while one is
// pending are coalesced.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context, stopChan chan struct{}) {
	defer s.wg.Done()

	// The loop owns cancellation of in-flight checks on stop
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	interval := s.currentSnapshot().Monitor.CheckInterval
	if interval <= 0 {
		interval = config.DefaultCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.RunCycle(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunCycle(ctx)
		case <-s.trigger:
			s.logger.Debugf("On-demand cycle requested")
			s.RunCycle(ctx)
			ticker.Reset(interval)
		case <-s.reconfigure:
			if next := s.currentSnapshot().Monitor.CheckInterval; next > 0 && next != interval {
				s.logger.Infof("Check interval changed, from: %v, to: %v", interval, next)
				interval = next
				ticker.Reset(interval)
			}
		case <-stopChan:
			s.logger.Debugf("Scheduler loop stopping")
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunCycle checks every enabled entity once and waits for all checks
func (s *Scheduler) RunCycle(ctx context.Context) CycleResult {
	s.cycleMutex.Lock()
	defer s.cycleMutex.Unlock()

	snapshot := s.currentSnapshot()
	start := time.Now()

	var wg sync.WaitGroup
	var resultMutex sync.Mutex
	result := CycleResult{}
	count := func(current domain.EntityState, ok bool) {
		if !ok {
			return
		}
		resultMutex.Lock()
		defer resultMutex.Unlock()
		result.Checked++
		if current != domain.EntityStateRunning {
			result.Failed++
		}
	}

	for _, site := range snapshot.Sites {
		if !site.IsEnabled() {
			continue
		}
		wg.Add(1)
		go func(site config.SiteConfig) {
			defer wg.Done()
			count(s.checkSite(ctx, site, false))
		}(site)
	}
	for _, pool := range snapshot.AppPools {
		if !pool.IsEnabled() {
			continue
		}
		wg.Add(1)
		go func(pool config.AppPoolConfig) {
			defer wg.Done()
			count(s.checkAppPool(ctx, pool.Name, false))
		}(pool)
	}
	wg.Wait()

	result.Duration = time.Since(start)
	s.recorder.CycleCompleted(result.Duration)
	s.logger.Debugf("Cycle completed, checked: %d, failed: %d, duration: %v", result.Checked, result.Failed, result.Duration)
	return result
}

// RecheckEntity checks one entity immediately, outside the cycle. When a
// check of the same entity is already in flight, its result predates the
// request, so the entity is checked again once that check ends.
func (s *Scheduler) RecheckEntity(ctx context.Context, kind domain.EntityKind, name string) {
	snapshot := s.currentSnapshot()
	switch kind {
	case domain.EntityKindSite:
		if site, ok := snapshot.Site(name); ok {
			s.checkSite(ctx, site, true)
		}
	case domain.EntityKindAppPool:
		if _, ok := snapshot.AppPool(name); ok {
			s.checkAppPool(ctx, name, true)
		}
	}
}

// OperationFinished feeds the outcome of a control operation into the
// tool availability alert.
func (s *Scheduler) OperationFinished(op domain.PendingOperation) {
	switch op.Status {
	case domain.OperationStatusSucceeded:
		s.trackTool(nil)
	case domain.OperationStatusFailed:
		if errors.ErrorType(op.ErrorType) == errors.ErrorTypeToolUnavailable {
			s.trackTool(errors.NewToolUnavailableError(op.Error, nil))
		}
	}
}

// begin marks the entity Checking and returns its previous state.
// It refuses when another check of the same entity is in flight; a refused
// recheck is queued behind the running check.
func (s *Scheduler) begin(ctx context.Context, key domain.EntityKey, recheck bool) (domain.EntityState, bool) {
	s.inFlightMutex.Lock()
	if _, busy := s.inFlight[key]; busy {
		if recheck {
			s.requeued[key] = ctx
		}
		s.inFlightMutex.Unlock()
		s.logger.Debugf("Check already in flight, entity: %s, requeued: %t", key, recheck)
		return "", false
	}
	s.inFlight[key] = struct{}{}
	s.inFlightMutex.Unlock()

	var previous domain.EntityState
	_, err := s.store.Upsert(key.Kind, key.Name, func(status *domain.EntityStatus) {
		previous = status.State
		status.State = domain.EntityStateChecking
	})
	if err != nil {
		s.end(key)
		return "", false
	}
	return previous, true
}

// end releases the entity and returns the context of a recheck queued while
// the check ran, or nil.
func (s *Scheduler) end(key domain.EntityKey) context.Context {
	s.inFlightMutex.Lock()
	defer s.inFlightMutex.Unlock()
	delete(s.inFlight, key)
	next := s.requeued[key]
	delete(s.requeued, key)
	return next
}

func (s *Scheduler) takeRequeued(key domain.EntityKey) context.Context {
	s.inFlightMutex.Lock()
	defer s.inFlightMutex.Unlock()
	next := s.requeued[key]
	delete(s.requeued, key)
	return next
}

func (s *Scheduler) restore(key domain.EntityKey, previous domain.EntityState) {
	s.store.Upsert(key.Kind, key.Name, func(status *domain.EntityStatus) {
		status.State = previous
	})
}

// settle writes the check result. A check abandoned because the monitor is
// stopping restores the previous state instead of recording a failure, and
// so does a check overtaken by a recheck request: its sample is stale.
// The returned context is non-nil when the entity must be checked again.
func (s *Scheduler) settle(ctx context.Context, key domain.EntityKey, previous, current domain.EntityState, message string) (domain.EntityState, bool, context.Context) {
	if next := s.takeRequeued(key); next != nil {
		s.restore(key, previous)
		s.end(key)
		s.logger.Debugf("Discarding sample taken before a recheck request, entity: %s, sampled: %s", key, current)
		return previous, false, next
	}

	if ctx.Err() != nil {
		s.restore(key, previous)
		return previous, false, s.end(key)
	}

	_, err := s.store.Upsert(key.Kind, key.Name, func(status *domain.EntityStatus) {
		status.State = current
		status.LastCheckedAt = time.Now()
		status.TotalChecks++
		switch current {
		case domain.EntityStateRunning:
			status.ConsecutiveFailureCount = 0
			status.LastError = ""
		case domain.EntityStateStopped, domain.EntityStateError:
			status.ConsecutiveFailureCount++
			status.LastError = message
		default:
			status.LastError = message
		}
	})
	if err != nil {
		// Removed from configuration while the check was running
		return current, false, s.end(key)
	}

	s.recorder.CheckCompleted(key.Kind, current)
	s.recorder.SetEntityState(key.Kind, key.Name, current)

	if previous != current {
		s.logger.Infof("Entity state changed, entity: %s, from: %s, to: %s, error: %s", key, previous, current, message)
	}
	return current, true, s.end(key)
}

func (s *Scheduler) siteURL(ctx context.Context, site config.SiteConfig) string {
	if site.URL != "" {
		return site.URL
	}
	url, err := s.querier.SiteURL(ctx, site.Name)
	if err != nil {
		s.logger.Debugf("No binding URL for site, using fallback, site: %s, error: %v", site.Name, err)
		return FallbackSiteURL
	}
	return url
}

func (s *Scheduler) checkSite(ctx context.Context, site config.SiteConfig, recheck bool) (domain.EntityState, bool) {
	key := domain.EntityKey{Kind: domain.EntityKindSite, Name: site.Name}
	previous, ok := s.begin(ctx, key, recheck)
	if !ok {
		return "", false
	}

	url := s.siteURL(ctx, site)
	result := s.prober.Probe(ctx, url, site.Timeout(), site.ExpectedStatus)

	current := domain.EntityStateRunning
	if result.Outcome != probe.OutcomeHealthy {
		current = domain.EntityStateError
		s.logger.Warnf("Site check failed, site: %s, url: %s, outcome: %s, message: %s", site.Name, url, result.Outcome, result.Message)
	} else {
		s.logger.Debugf("Site check passed, site: %s, url: %s, status: %d, latency: %v", site.Name, url, result.StatusCode, result.Latency)
	}

	current, settled, next := s.settle(ctx, key, previous, current, result.Message)
	if next != nil {
		return s.checkSite(next, site, false)
	}
	return current, settled
}

func (s *Scheduler) checkAppPool(ctx context.Context, name string, recheck bool) (domain.EntityState, bool) {
	key := domain.EntityKey{Kind: domain.EntityKindAppPool, Name: name}
	previous, ok := s.begin(ctx, key, recheck)
	if !ok {
		return "", false
	}

	raw, err := s.querier.QueryState(ctx, domain.EntityKindAppPool, name)
	s.trackTool(err)

	current := raw.EntityState()
	message := ""
	if err != nil {
		current = domain.EntityStateError
		message = err.Error()
		s.logger.Warnf("App pool query failed, app pool: %s, error: %v", name, err)
	}

	current, settled, next := s.settle(ctx, key, previous, current, message)
	if settled && previous != current {
		switch current {
		case domain.EntityStateRunning, domain.EntityStateStopped, domain.EntityStateError:
			s.policy.Observe(name, current)
		}
	}
	if next != nil {
		return s.checkAppPool(next, name, false)
	}
	return current, settled
}

// trackTool raises and clears the process-level alert for a missing tool
func (s *Scheduler) trackTool(err error) {
	down := errors.IsToolUnavailableError(err)
	if !down && err != nil {
		// Other failures say nothing about the tool itself
		return
	}

	s.toolMutex.Lock()
	changed := s.toolDown != down
	s.toolDown = down
	s.toolMutex.Unlock()

	if !changed {
		return
	}
	s.recorder.SetToolAvailable(!down)
	if down {
		s.logger.Errorf("ALERT: administration tool unavailable, app pool monitoring and control are disabled until the host is fixed, error: %v", err)
	} else {
		s.logger.Infof("Administration tool available again")
	}
}

