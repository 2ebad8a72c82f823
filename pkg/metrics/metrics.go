package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetforge_queue_depth",
			Help: "Number of queued jobs by priority",
		},
		[]string{"priority"},
	)

	QueueExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetforge_queue_expired_total",
			Help: "Total number of jobs observed past their deadline while still queued",
		},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetforge_jobs_enqueued_total",
			Help: "Total number of enqueue attempts by outcome",
		},
		[]string{"outcome"},
	)

	JobsTerminalTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetforge_jobs_terminal_total",
			Help: "Total number of jobs that reached a terminal status",
		},
		[]string{"status"},
	)

	// Pool / worker metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetforge_workers_total",
			Help: "Total number of workers by pool and status",
		},
		[]string{"pool", "status"},
	)

	PoolsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetforge_pools_total",
			Help: "Total number of pools",
		},
	)

	ScalingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetforge_scaling_latency_seconds",
			Help:    "Time taken to complete a pool scale action",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkersCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetforge_workers_created_total",
			Help: "Total number of workers created by the pool manager",
		},
	)

	WorkersCreateFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetforge_workers_create_failed_total",
			Help: "Total number of failed worker creations",
		},
	)

	// Auto-scaler metrics
	AutoscalerEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetforge_autoscaler_evaluations_total",
			Help: "Total number of auto-scaler evaluations by recommended action",
		},
		[]string{"action"},
	)

	// Channel hub / session metrics
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetforge_sessions_active",
			Help: "Number of live worker channel sessions",
		},
	)

	HeartbeatsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetforge_heartbeats_total",
			Help: "Total number of heartbeats received",
		},
	)

	DispatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetforge_dispatch_latency_seconds",
			Help:    "Time from job selection to JobRequest send",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Artifact transfer metrics
	ArtifactCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetforge_artifact_cache_hits_total",
			Help: "Total number of artifacts resolved via cache hit (no chunks sent)",
		},
	)

	ArtifactBytesTransferred = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetforge_artifact_bytes_transferred_total",
			Help: "Total number of artifact bytes streamed to workers",
		},
	)

	ArtifactTransferDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetforge_artifact_transfer_duration_seconds",
			Help:    "Time taken to stream all chunks of a single artifact",
			Buckets: prometheus.DefBuckets,
		},
	)

	ZstdFallbackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetforge_zstd_fallback_total",
			Help: "Total number of transfers that fell back from Zstd to Gzip",
		},
	)

	ProtocolViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetforge_protocol_violations_total",
			Help: "Total number of wire protocol violations by kind",
		},
		[]string{"kind"},
	)

	// Provider metrics
	ProviderCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetforge_provider_call_duration_seconds",
			Help:    "Provider adapter call duration by provider and operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)

	ProviderErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetforge_provider_errors_total",
			Help: "Total number of provider adapter errors by provider and kind",
		},
		[]string{"provider", "kind"},
	)
)

func init() {
	prometheus.MustRegister(
		QueueDepth,
		QueueExpiredTotal,
		JobsEnqueuedTotal,
		JobsTerminalTotal,
		WorkersTotal,
		PoolsTotal,
		ScalingLatency,
		WorkersCreatedTotal,
		WorkersCreateFailedTotal,
		AutoscalerEvaluationsTotal,
		SessionsActive,
		HeartbeatsTotal,
		DispatchLatency,
		ArtifactCacheHitsTotal,
		ArtifactBytesTransferred,
		ArtifactTransferDuration,
		ZstdFallbackTotal,
		ProtocolViolationsTotal,
		ProviderCallDuration,
		ProviderErrorsTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
