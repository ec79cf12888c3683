package middleware

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the HTTP middleware. A nil
// *Metrics records nothing.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	rejectedTotal   *prometheus.CounterVec
	panicsRecovered prometheus.Counter
}

// NewMetrics registers the middleware collectors on reg. Collectors that
// are already registered are reused, so engines rebuilt on reload can
// share one registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "avaguard"
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{"method", "status"},
	)
	rejected := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "admission_rejected_total",
			Help: "Total number of requests rejected " +
				"by admission, by status code and denying component",
		},
		[]string{"status", "blocked_by"},
	)
	panics := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "panics_recovered_total",
			Help:      "Total number of handler panics recovered",
		},
	)

	return &Metrics{
		requestsTotal:   registerOrExisting(reg, requests),
		rejectedTotal:   registerOrExisting(reg, rejected),
		panicsRecovered: registerOrExisting(reg, panics),
	}
}

func registerOrExisting[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) recordRequest(method string, status int) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

func (m *Metrics) recordRejected(status int, blockedBy string) {
	if m == nil {
		return
	}
	m.rejectedTotal.WithLabelValues(strconv.Itoa(status), blockedBy).Inc()
}

func (m *Metrics) recordPanic() {
	if m == nil {
		return
	}
	m.panicsRecovered.Inc()
}
