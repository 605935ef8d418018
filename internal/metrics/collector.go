// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Collector holds the mailflow Prometheus instruments.
type Collector struct {
	workflowsStarted  *prometheus.CounterVec
	workflowsResumed  *prometheus.CounterVec
	workflowDuration  *prometheus.HistogramVec
	stateTransitions  *prometheus.CounterVec
	staleCallbacks    prometheus.Counter
	decisionsRecorded *prometheus.CounterVec
	dispatchesSent    *prometheus.CounterVec
	providerCalls     *prometheus.CounterVec
	providerDuration  *prometheus.HistogramVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec

	registry *prometheus.Registry
	logger   *zap.Logger
}

// NewCollector registers the mailflow instruments on a fresh registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	factory := func(name, help string, labels ...string) *prometheus.CounterVec {
		cv := prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help},
			labels,
		)
		reg.MustRegister(cv)
		return cv
	}

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.workflowsStarted = factory("workflows_started_total", "Workflows started", "result")
	c.workflowsResumed = factory("workflows_resumed_total", "Workflows resumed from callback", "result")
	c.stateTransitions = factory("workflow_state_transitions_total", "State transitions", "from", "to")
	c.decisionsRecorded = factory("decisions_recorded_total", "Approval decisions recorded", "action")
	c.dispatchesSent = factory("dispatches_sent_total", "Proposal messages dispatched", "mode")
	c.providerCalls = factory("provider_calls_total", "External collaborator calls", "provider", "op", "status")
	c.cacheHits = factory("cache_hits_total", "Cache hits", "cache")
	c.cacheMisses = factory("cache_misses_total", "Cache misses", "cache")

	c.staleCallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stale_callbacks_total",
		Help:      "Callbacks dropped because the workflow was terminal or unknown",
	})
	reg.MustRegister(c.staleCallbacks)

	c.workflowDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_phase_duration_seconds",
			Help:      "Duration of the synchronous start and resume phases",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"phase"},
	)
	reg.MustRegister(c.workflowDuration)

	c.providerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "External collaborator call duration",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "op"},
	)
	reg.MustRegister(c.providerDuration)

	return c
}

// Registry exposes the registry for the metrics HTTP handler.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// WorkflowStarted records one start attempt with its result label
// (ok, duplicate, error).
func (c *Collector) WorkflowStarted(result string) {
	c.workflowsStarted.WithLabelValues(result).Inc()
}

// WorkflowResumed records one resume attempt (ok, stale, error).
func (c *Collector) WorkflowResumed(result string) {
	c.workflowsResumed.WithLabelValues(result).Inc()
}

// PhaseDuration records how long a synchronous phase ran.
func (c *Collector) PhaseDuration(phase string, d time.Duration) {
	c.workflowDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// StateTransition records one workflow state transition.
func (c *Collector) StateTransition(from, to string) {
	c.stateTransitions.WithLabelValues(from, to).Inc()
}

// StaleCallback counts a dropped callback.
func (c *Collector) StaleCallback() { c.staleCallbacks.Inc() }

// DecisionRecorded counts one ledger append by action.
func (c *Collector) DecisionRecorded(action string) {
	c.decisionsRecorded.WithLabelValues(action).Inc()
}

// DispatchSent counts one proposal send by mode (immediate, batch).
func (c *Collector) DispatchSent(mode string) {
	c.dispatchesSent.WithLabelValues(mode).Inc()
}

// ProviderCall records one collaborator call.
func (c *Collector) ProviderCall(provider, op, status string, d time.Duration) {
	c.providerCalls.WithLabelValues(provider, op, status).Inc()
	c.providerDuration.WithLabelValues(provider, op).Observe(d.Seconds())
}

// CacheHit counts a hit on the named cache.
func (c *Collector) CacheHit(cache string) { c.cacheHits.WithLabelValues(cache).Inc() }

// CacheMiss counts a miss on the named cache.
func (c *Collector) CacheMiss(cache string) { c.cacheMisses.WithLabelValues(cache).Inc() }
