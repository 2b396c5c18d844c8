// Package metrics exposes Prometheus counters/histograms/gauges for
// one agent run: promise outcomes by type, lock-manager contention,
// and bundle/pass timing. This is ambient instrumentation, not part
// of the evaluation engine proper, carried the way every subsystem of
// a production agent gets instrumented.
//
// Grounded on internal/metrics/prometheus.go: package-level singleton,
// nil-guarded Record*/Set* free functions, promhttp.HandlerFor serving
// a dedicated registry (never the default global one).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type agentMetrics struct {
	registry *prometheus.Registry

	promisesTotal   *prometheus.CounterVec
	bundleDuration  *prometheus.HistogramVec
	passesPerBundle *prometheus.HistogramVec
	lockAcquires    *prometheus.CounterVec
	lockBusy        prometheus.Counter
	lockStaleSeized prometheus.Counter
	abortsTotal     *prometheus.CounterVec
	activePromises  prometheus.Gauge
}

var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

var m *agentMetrics

// Init installs the global metrics registry under namespace. buckets,
// if non-empty, overrides the default bundle-duration histogram
// buckets (milliseconds).
func Init(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m = &agentMetrics{
		registry: registry,

		promisesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promises_total",
			Help:      "Total promises dispatched, by promise type and outcome.",
		}, []string{"type", "outcome"}),

		bundleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bundle_duration_ms",
			Help:      "Wall-clock time to run one bundle to a fixed point.",
			Buckets:   buckets,
		}, []string{"bundle"}),

		passesPerBundle: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "depends_on_passes",
			Help:      "Number of fixed-point passes a bundle needed to resolve depends_on.",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
		}, []string{"bundle"}),

		lockAcquires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_acquires_total",
			Help:      "Lock manager acquire attempts by result.",
		}, []string{"result"}),

		lockBusy: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_busy_total",
			Help:      "Acquire attempts that found a live holder.",
		}),

		lockStaleSeized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_stale_seized_total",
			Help:      "Acquire attempts that recovered a stale lock.",
		}),

		abortsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aborts_total",
			Help:      "Agent and bundle aborts triggered by abort classes.",
		}, []string{"kind"}),

		activePromises: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_promises",
			Help:      "Promises currently dispatched (awaiting actuator return).",
		}),
	}

	registry.MustRegister(
		m.promisesTotal, m.bundleDuration, m.passesPerBundle,
		m.lockAcquires, m.lockBusy, m.lockStaleSeized,
		m.abortsTotal, m.activePromises,
	)
}

// RecordPromiseOutcome increments the per-type, per-outcome counter.
func RecordPromiseOutcome(promiseType, outcome string) {
	if m == nil {
		return
	}
	m.promisesTotal.WithLabelValues(promiseType, outcome).Inc()
}

// ObserveBundleDuration records how long one bundle took to reach a
// fixed point, in milliseconds.
func ObserveBundleDuration(bundle string, ms float64) {
	if m == nil {
		return
	}
	m.bundleDuration.WithLabelValues(bundle).Observe(ms)
}

// ObservePasses records how many depends_on fixed-point passes a
// bundle needed.
func ObservePasses(bundle string, passes int) {
	if m == nil {
		return
	}
	m.passesPerBundle.WithLabelValues(bundle).Observe(float64(passes))
}

// RecordLockAcquire counts one acquire attempt by its result: "ok",
// "duplicate", "rate-limited", "busy", "stale-seized",
// "could-not-expire", or "error". "busy" and "stale-seized" also
// increment their own counters.
func RecordLockAcquire(result string) {
	if m == nil {
		return
	}
	m.lockAcquires.WithLabelValues(result).Inc()
	switch result {
	case "busy":
		m.lockBusy.Inc()
	case "stale-seized":
		m.lockStaleSeized.Inc()
	}
}

// RecordAbort counts an abort event; kind is "agent" or "bundle".
func RecordAbort(kind string) {
	if m == nil {
		return
	}
	m.abortsTotal.WithLabelValues(kind).Inc()
}

// SetActivePromises sets the in-flight promise gauge.
func SetActivePromises(n int) {
	if m == nil {
		return
	}
	m.activePromises.Set(float64(n))
}

// Handler serves the registry in Prometheus exposition format.
func Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
