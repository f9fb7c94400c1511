// Package metrics exposes Prometheus collectors for the pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksClaimedTotal      *prometheus.CounterVec
	tasksReclaimedTotal    prometheus.Counter
	tasksRequeuedTotal     prometheus.Counter
	tasksCompletedTotal    *prometheus.CounterVec
	fetchDurationSeconds   *prometheus.HistogramVec
	throttleDelaysSeconds  *prometheus.HistogramVec
	fetchBytesTotal        *prometheus.CounterVec
	activeWorkers          prometheus.Gauge

	once sync.Once
)

// Init registers the collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		tasksClaimedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketsense_tasks_claimed_total",
				Help: "Claim attempts, labeled by outcome (granted, conflict).",
			},
			[]string{"outcome"},
		)
		tasksReclaimedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "marketsense_tasks_reclaimed_total",
				Help: "Running tasks returned to pending after lease expiry.",
			},
		)
		tasksRequeuedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "marketsense_tasks_requeued_total",
				Help: "Errored tasks returned to pending by maintenance.",
			},
		)
		tasksCompletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketsense_tasks_completed_total",
				Help: "Tasks finished by workers, labeled by status.",
			},
			[]string{"status"},
		)
		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketsense_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by domain.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
		throttleDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketsense_throttle_delays_seconds",
				Help:    "Histogram of per-domain throttle wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketsense_fetch_bytes_total",
				Help: "Total bytes fetched, labeled by domain.",
			},
			[]string{"domain"},
		)
		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketsense_active_workers",
				Help: "Workers currently processing a claimed batch.",
			},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveClaim counts one claim attempt by outcome.
func ObserveClaim(outcome string) {
	if tasksClaimedTotal != nil {
		tasksClaimedTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveReclaim counts reclaimed tasks.
func ObserveReclaim(n int) {
	if tasksReclaimedTotal != nil && n > 0 {
		tasksReclaimedTotal.Add(float64(n))
	}
}

// ObserveRequeue counts requeued error tasks.
func ObserveRequeue(n int) {
	if tasksRequeuedTotal != nil && n > 0 {
		tasksRequeuedTotal.Add(float64(n))
	}
}

// ObserveCompletion counts one finished task by final status.
func ObserveCompletion(status string) {
	if tasksCompletedTotal != nil {
		tasksCompletedTotal.WithLabelValues(status).Inc()
	}
}

// ObserveFetch records a fetch latency and size for a domain.
func ObserveFetch(domain string, duration time.Duration, bytes int) {
	if fetchDurationSeconds != nil {
		fetchDurationSeconds.WithLabelValues(domain).Observe(duration.Seconds())
	}
	if fetchBytesTotal != nil && bytes > 0 {
		fetchBytesTotal.WithLabelValues(domain).Add(float64(bytes))
	}
}

// ObserveThrottleDelay records a throttle wait for a domain.
func ObserveThrottleDelay(domain string, duration time.Duration) {
	if throttleDelaysSeconds != nil && duration > time.Millisecond {
		throttleDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}
