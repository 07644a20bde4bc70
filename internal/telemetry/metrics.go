package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zkensemble",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zkensemble",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	// ---- Reconciliation ----
	PassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zkensemble",
			Name:      "reconcile_passes_total",
			Help:      "Reconciliation passes by trigger and result (ok, deferred, failed).",
		},
		[]string{"trigger", "result"},
	)

	PassDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zkensemble",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of reconciliation passes.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"trigger"},
	)

	RestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zkensemble",
			Name:      "workload_restarts_total",
			Help:      "Restart requests sent to the supervisor, by result (restarted, skipped).",
		},
		[]string{"result"},
	)

	PublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zkensemble",
			Name:      "client_publish_total",
			Help:      "Client endpoint publication attempts by outcome.",
		},
		[]string{"outcome"},
	)

	EnsembleSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "zkensemble",
			Name:      "ensemble_size",
			Help:      "Number of servers in the last rendered configuration.",
		},
	)

	ServerID = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "zkensemble",
			Name:      "server_id",
			Help:      "Local server ID in the last rendered configuration.",
		},
	)

	IsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "zkensemble",
			Name:      "is_leader",
			Help:      "1 if this replica held leadership during the last pass.",
		},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zkensemble",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "zkensemble",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		RequestsTotal, RequestDuration,
		PassesTotal, PassDuration, RestartsTotal, PublishTotal,
		EnsembleSize, ServerID, IsLeader,
		buildInfo, uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

// ---- Middleware instrumentation ----

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an http.Handler to record metrics under the provided "op" label.
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		start := time.Now()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(op, class).Inc()
		RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
