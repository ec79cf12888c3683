package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Decision outcomes.
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
)

// Block sources.
const (
	BlockSourceManual    = "manual"
	BlockSourcePermanent = "permanent"
	BlockSourceRateLimit = "auto_rate_limit"
	BlockSourceAnomaly   = "auto_anomaly"
)

// Tracked identity components.
const (
	ComponentRateLimiter  = "rate_limiter"
	ComponentMonitor      = "traffic_monitor"
	ComponentAccessFilter = "access_filter"
)

// Metrics holds the Prometheus collectors of the admission engine.
type Metrics struct {
	decisionsTotal    *prometheus.CounterVec
	decisionDuration  prometheus.Histogram
	alertsTotal       *prometheus.CounterVec
	blocksTotal       *prometheus.CounterVec
	trackedIdentities *prometheus.GaugeVec
	internalFaults    prometheus.Counter
	reapedTotal       *prometheus.CounterVec
	configReloads     *prometheus.CounterVec
	buildInfo         *prometheus.GaugeVec
	gatherer          prometheus.Gatherer
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// gets a private registry. Registering twice on the same registry panics,
// so every engine sharing a registry must share one Metrics.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "avaguard"
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	factory := promauto.With(reg)
	m := &Metrics{}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}

	m.decisionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Total number of admission decisions",
		},
		[]string{"outcome", "reason"},
	)

	m.decisionDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_duration_seconds",
			Help:      "Time spent evaluating an admission decision",
			Buckets: []float64{
				.00001, .00005, .0001, .00025, .0005,
				.001, .0025, .005, .01, .05,
			},
		},
	)

	m.alertsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Total number of traffic alerts by severity",
		},
		[]string{"severity"},
	)

	m.blocksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_total",
			Help:      "Total number of blocks installed by source",
		},
		[]string{"source"},
	)

	m.trackedIdentities = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_identities",
			Help:      "Number of identities with live state per component",
		},
		[]string{"component"},
	)

	m.internalFaults = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "internal_faults_total",
			Help:      "Total number of evaluation faults resolved by the failure mode",
		},
	)

	m.reapedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaped_identities_total",
			Help:      "Total number of idle identities evicted per component",
		},
		[]string{"component"},
	)

	m.configReloads = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Total number of configuration reloads by result",
		},
		[]string{"result"},
	)

	m.buildInfo = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)

	return m
}

// Init pre-populates label combinations so series appear before the first event.
func (m *Metrics) Init() {
	for _, s := range []string{"low", "medium", "high", "critical"} {
		m.alertsTotal.WithLabelValues(s)
	}
	for _, s := range []string{BlockSourceManual, BlockSourcePermanent, BlockSourceRateLimit, BlockSourceAnomaly} {
		m.blocksTotal.WithLabelValues(s)
	}
	for _, c := range []string{ComponentRateLimiter, ComponentMonitor, ComponentAccessFilter} {
		m.trackedIdentities.WithLabelValues(c)
		m.reapedTotal.WithLabelValues(c)
	}
	m.configReloads.WithLabelValues("success")
	m.configReloads.WithLabelValues("failure")
}

// RecordDecision records one admission decision and its evaluation time.
func (m *Metrics) RecordDecision(allowed bool, reason string, elapsed time.Duration) {
	outcome := OutcomeDenied
	if allowed {
		outcome = OutcomeAllowed
	}
	m.decisionsTotal.WithLabelValues(outcome, reason).Inc()
	m.decisionDuration.Observe(elapsed.Seconds())
}

// RecordAlert records an alert of the given lowercase severity.
func (m *Metrics) RecordAlert(severity string) {
	m.alertsTotal.WithLabelValues(severity).Inc()
}

// RecordBlock records a block installed by source.
func (m *Metrics) RecordBlock(source string) {
	m.blocksTotal.WithLabelValues(source).Inc()
}

// SetTrackedIdentities sets the live identity count for a component.
func (m *Metrics) SetTrackedIdentities(component string, n int) {
	m.trackedIdentities.WithLabelValues(component).Set(float64(n))
}

// RecordReaped records idle identities evicted from a component.
func (m *Metrics) RecordReaped(component string, n int) {
	if n > 0 {
		m.reapedTotal.WithLabelValues(component).Add(float64(n))
	}
}

// RecordInternalFault records an evaluation fault.
func (m *Metrics) RecordInternalFault() {
	m.internalFaults.Inc()
}

// RecordConfigReload records a configuration reload attempt.
func (m *Metrics) RecordConfigReload(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.configReloads.WithLabelValues(result).Inc()
}

// SetBuildInfo sets the build info gauge.
func (m *Metrics) SetBuildInfo(version, commit, buildTime string) {
	m.buildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

// RegisterRuntimeCollectors adds Go runtime and process collectors to reg.
func RegisterRuntimeCollectors(reg prometheus.Registerer) error {
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return err
	}
	return reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler serves the metrics of the registry the collectors were registered on.
func (m *Metrics) Handler() http.Handler {
	if m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
