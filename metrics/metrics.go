// Package metrics counts requests, TLS handshakes and fingerprint lookups.
//
// Counters are kept twice: as atomics for the cheap Snapshot used by the CLI
// summary, and as Prometheus counters registered on the instance's own
// registry for exposition.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics tracks aggregate statistics for one client.
//
// All methods are safe for concurrent use.
type Metrics struct {
	// TotalRequests is the number of HTTP requests dispatched since startup.
	TotalRequests uint64

	// Success is the number of requests that received a response.
	Success uint64

	// Failed is the number of requests that ended in a transport error.
	Failed uint64

	registry   *prometheus.Registry
	requests   *prometheus.CounterVec
	handshakes *prometheus.CounterVec
	lookups    *prometheus.CounterVec
	protocols  *prometheus.CounterVec

	startTime time.Time
}

// NewMetrics creates a Metrics instance with its own Prometheus registry and
// the start time set to now.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "impersonate_requests_total",
			Help: "HTTP requests by result.",
		}, []string{"result"}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "impersonate_handshakes_total",
			Help: "TLS handshakes by result.",
		}, []string{"result"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "impersonate_lookups_total",
			Help: "Fingerprint database lookups by result.",
		}, []string{"result"}),
		protocols: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "impersonate_negotiated_protocols_total",
			Help: "Connections by ALPN-negotiated protocol.",
		}, []string{"protocol"}),
		startTime: time.Now(),
	}
	m.registry.MustRegister(m.requests, m.handshakes, m.lookups, m.protocols)
	return m
}

// Registry returns the registry the counters are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// IncrementTotal atomically increments the total-requests counter.
func (m *Metrics) IncrementTotal() {
	atomic.AddUint64(&m.TotalRequests, 1)
}

// IncrementSuccess atomically increments the successful-requests counter.
func (m *Metrics) IncrementSuccess() {
	atomic.AddUint64(&m.Success, 1)
	m.requests.WithLabelValues(ResultSuccess).Inc()
}

// IncrementFailed atomically increments the failed-requests counter.
func (m *Metrics) IncrementFailed() {
	atomic.AddUint64(&m.Failed, 1)
	m.requests.WithLabelValues(ResultFailure).Inc()
}

// ObserveHandshake records the outcome of a TLS handshake and, on success,
// the negotiated protocol ("" is recorded as "none").
func (m *Metrics) ObserveHandshake(protocol string, err error) {
	if err != nil {
		m.handshakes.WithLabelValues(ResultFailure).Inc()
		return
	}
	m.handshakes.WithLabelValues(ResultSuccess).Inc()
	if protocol == "" {
		protocol = "none"
	}
	m.protocols.WithLabelValues(protocol).Inc()
}

// ObserveLookup records the outcome of a fingerprint lookup.
func (m *Metrics) ObserveLookup(err error) {
	if err != nil {
		m.lookups.WithLabelValues(ResultFailure).Inc()
		return
	}
	m.lookups.WithLabelValues(ResultSuccess).Inc()
}

// RequestsPerSecond returns the average request rate since the Metrics
// instance was created.
func (m *Metrics) RequestsPerSecond() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&m.TotalRequests)) / elapsed
}

// Snapshot returns a point-in-time copy of the request counters.
func (m *Metrics) Snapshot() (total, success, failed uint64) {
	return atomic.LoadUint64(&m.TotalRequests),
		atomic.LoadUint64(&m.Success),
		atomic.LoadUint64(&m.Failed)
}
