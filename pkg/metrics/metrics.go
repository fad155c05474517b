package metrics

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/core-tools/hsu-iiswatch/pkg/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DailyRetention is how many calendar days of daily counters are kept in memory
const DailyRetention = 7

const dayLayout = "2006-01-02"

var entityStates = []domain.EntityState{
	domain.EntityStateUnknown,
	domain.EntityStateRunning,
	domain.EntityStateStopped,
	domain.EntityStateError,
	domain.EntityStateChecking,
}

// Recorder feeds both the prometheus registry and the in-memory statistics
// shown by the stats endpoint.
type Recorder struct {
	registry *prometheus.Registry

	checks        *prometheus.CounterVec
	failures      *prometheus.CounterVec
	restarts      *prometheus.CounterVec
	operations    *prometheus.CounterVec
	entityState   *prometheus.GaugeVec
	toolAvailable prometheus.Gauge
	cycleDuration prometheus.Histogram

	mutex         sync.Mutex
	now           func() time.Time
	totalChecks   int64
	totalFailures int64
	totalRestarts int64
	daily         map[string]*dayCounters
	lastCycleAt   time.Time
	toolUp        bool
}

type dayCounters struct {
	checks   int64
	failures int64
	restarts int64
}

func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	r := &Recorder{
		registry: registry,
		checks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "iiswatch_checks_total",
			Help: "Health and status checks performed",
		}, []string{"kind", "result"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "iiswatch_check_failures_total",
			Help: "Checks that did not find the entity running",
		}, []string{"kind"}),
		restarts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "iiswatch_auto_restarts_total",
			Help: "Recycles enqueued by the auto-restart policy",
		}, []string{"app_pool"}),
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "iiswatch_operations_total",
			Help: "Control operations by final status",
		}, []string{"operation", "source", "status"}),
		entityState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "iiswatch_entity_state",
			Help: "1 for the current state of each monitored entity",
		}, []string{"kind", "name", "state"}),
		toolAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Name: "iiswatch_tool_available",
			Help: "1 while the administration tool can be launched",
		}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "iiswatch_cycle_duration_seconds",
			Help:    "Wall time of monitoring cycles",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		now:    time.Now,
		daily:  make(map[string]*dayCounters),
		toolUp: true,
	}
	r.toolAvailable.Set(1)
	return r
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) todayLocked() *dayCounters {
	day := r.now().Format(dayLayout)
	counters, ok := r.daily[day]
	if !ok {
		counters = &dayCounters{}
		r.daily[day] = counters
		r.pruneLocked()
	}
	return counters
}

func (r *Recorder) pruneLocked() {
	if len(r.daily) <= DailyRetention {
		return
	}
	days := make([]string, 0, len(r.daily))
	for day := range r.daily {
		days = append(days, day)
	}
	sort.Strings(days)
	for _, day := range days[:len(days)-DailyRetention] {
		delete(r.daily, day)
	}
}

// CheckCompleted counts one finished check; Stopped and Error results are failures
func (r *Recorder) CheckCompleted(kind domain.EntityKind, state domain.EntityState) {
	failed := state == domain.EntityStateStopped || state == domain.EntityStateError
	result := "ok"
	if failed {
		result = "failed"
		r.failures.WithLabelValues(string(kind)).Inc()
	}
	r.checks.WithLabelValues(string(kind), result).Inc()

	r.mutex.Lock()
	defer r.mutex.Unlock()
	today := r.todayLocked()
	r.totalChecks++
	today.checks++
	if failed {
		r.totalFailures++
		today.failures++
	}
}

func (r *Recorder) RestartIssued(pool string) {
	r.restarts.WithLabelValues(pool).Inc()

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.totalRestarts++
	r.todayLocked().restarts++
}

func (r *Recorder) OperationFinished(op domain.PendingOperation) {
	r.operations.WithLabelValues(string(op.Operation), string(op.Source), string(op.Status)).Inc()
}

func (r *Recorder) SetEntityState(kind domain.EntityKind, name string, current domain.EntityState) {
	for _, state := range entityStates {
		value := 0.0
		if state == current {
			value = 1
		}
		r.entityState.WithLabelValues(string(kind), name, string(state)).Set(value)
	}
}

func (r *Recorder) RemoveEntity(kind domain.EntityKind, name string) {
	for _, state := range entityStates {
		r.entityState.DeleteLabelValues(string(kind), name, string(state))
	}
}

func (r *Recorder) SetToolAvailable(available bool) {
	if available {
		r.toolAvailable.Set(1)
	} else {
		r.toolAvailable.Set(0)
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.toolUp = available
}

func (r *Recorder) CycleCompleted(duration time.Duration) {
	r.cycleDuration.Observe(duration.Seconds())

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.lastCycleAt = r.now()
}

// Fill copies the counters into stats; lifecycle fields are left to the caller
func (r *Recorder) Fill(stats *domain.MonitorStats) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stats.TotalChecks = r.totalChecks
	stats.TotalFailures = r.totalFailures
	stats.TotalRestarts = r.totalRestarts
	stats.LastCycleAt = r.lastCycleAt
	stats.ToolAvailable = r.toolUp
	stats.DailyChecks = make(map[string]int64, len(r.daily))
	stats.DailyFailures = make(map[string]int64, len(r.daily))
	stats.DailyRestarts = make(map[string]int64, len(r.daily))
	for day, counters := range r.daily {
		stats.DailyChecks[day] = counters.checks
		stats.DailyFailures[day] = counters.failures
		stats.DailyRestarts[day] = counters.restarts
	}
}
