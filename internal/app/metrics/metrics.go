// Package metrics exposes the bridge layer's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bridge_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bridge_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	releases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge_layer",
			Subsystem: "engine",
			Name:      "releases_total",
			Help:      "Total number of release attempts by outcome.",
		},
		[]string{"status"},
	)

	releasedAmount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bridge_layer",
			Subsystem: "engine",
			Name:      "released_amount_total",
			Help:      "Total net amount released from the reserve.",
		},
	)

	collectedFees = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bridge_layer",
			Subsystem: "engine",
			Name:      "fees_total",
			Help:      "Total fees retained in the reserve.",
		},
	)

	reserveBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bridge_layer",
			Subsystem: "engine",
			Name:      "reserve_balance",
			Help:      "Last observed custodial reserve balance.",
		},
	)

	halted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bridge_layer",
			Subsystem: "engine",
			Name:      "halted",
			Help:      "1 when the circuit breaker is open, 0 otherwise.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		releases,
		releasedAmount,
		collectedFees,
		reserveBalance,
		halted,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveRelease records a release attempt.
func ObserveRelease(status string, netAmount, fee int64) {
	releases.WithLabelValues(status).Inc()
	if netAmount > 0 {
		releasedAmount.Add(float64(netAmount))
	}
	if fee > 0 {
		collectedFees.Add(float64(fee))
	}
}

// SetReserve records the last observed reserve balance.
func SetReserve(balance int64) {
	reserveBalance.Set(float64(balance))
}

// SetHalted records the breaker state.
func SetHalted(isHalted bool) {
	if isHalted {
		halted.Set(1)
	} else {
		halted.Set(0)
	}
}

// Instrument wraps an HTTP handler with request metrics. path should be the
// route template, not the raw URL, to bound label cardinality.
func Instrument(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(recorder.status)).Inc()
		httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
