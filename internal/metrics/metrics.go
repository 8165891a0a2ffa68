// Package metrics holds the Prometheus metric families for the ingestion core.
// Emission is fire-and-forget: nothing here may block or influence an ingestion
// outcome, per the composition root's wiring contract.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ingestion core.
type Metrics struct {
	// Fetch Scheduler metrics
	FetchesTotal      *prometheus.CounterVec
	FetchDuration     *prometheus.HistogramVec
	FetchBytesTotal   *prometheus.CounterVec
	CadenceSkipsTotal *prometheus.CounterVec

	// Rate limiter metrics
	RateLimitThrottledTotal *prometheus.CounterVec

	// Circuit breaker metrics
	CircuitBreakerStateChanges *prometheus.CounterVec

	// Gateway metrics
	AcceptedTotal     *prometheus.CounterVec
	DeduplicatedTotal *prometheus.CounterVec
	RejectedTotal     *prometheus.CounterVec
	AcceptDuration    *prometheus.HistogramVec

	// CAS metrics
	CASWritesTotal  *prometheus.CounterVec
	CASBytesWritten prometheus.Counter

	// Ingest Log metrics
	LogAppendsTotal   prometheus.Counter
	LogAppendDuration prometheus.Histogram
	LogRotationsTotal prometheus.Counter

	// Reconciliation metrics
	ReconcileRunsTotal     prometheus.Counter
	ReconcileBackfillTotal prometheus.Counter

	// Metastore metrics
	MetastoreQueryDuration     *prometheus.HistogramVec
	MetastoreConnectionsActive prometheus.Gauge

	// Admin HTTP surface metrics
	AdminRateLimitedTotal *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		FetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_fetches_total",
				Help: "Total number of fetch attempts by source and outcome",
			},
			[]string{"source_id", "outcome"},
		),
		FetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_fetch_duration_seconds",
				Help:    "Time taken to perform a source fetch",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"source_id"},
		),
		FetchBytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_fetch_bytes_total",
				Help: "Total bytes received from source fetches",
			},
			[]string{"source_id"},
		),
		CadenceSkipsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_cadence_skips_total",
				Help: "Total fetches skipped because the cadence floor had not elapsed",
			},
			[]string{"source_id"},
		),

		RateLimitThrottledTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_rate_limit_throttled_total",
				Help: "Total fetches throttled by the per-source rate limiter",
			},
			[]string{"source_id", "bucket"},
		),

		CircuitBreakerStateChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_circuit_breaker_state_changes_total",
				Help: "Total circuit breaker state transitions by source",
			},
			[]string{"source_id", "from_state", "to_state"},
		),

		AcceptedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_gateway_accepted_total",
				Help: "Total envelopes accepted by the gateway",
			},
			[]string{"source_id"},
		),
		DeduplicatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_gateway_deduplicated_total",
				Help: "Total submissions rejected as duplicates of an existing envelope",
			},
			[]string{"source_id"},
		),
		RejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_gateway_rejected_total",
				Help: "Total submissions rejected by the gateway, by reason",
			},
			[]string{"source_id", "reason"},
		),
		AcceptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_gateway_accept_duration_seconds",
				Help:    "Time taken to run the full accept() pipeline",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
			},
			[]string{"source_id", "outcome"},
		),

		CASWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_cas_writes_total",
				Help: "Total CAS put() calls by whether the blob already existed",
			},
			[]string{"result"},
		),
		CASBytesWritten: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_cas_bytes_written_total",
				Help: "Total bytes actually written to the CAS (excludes idempotent no-ops)",
			},
		),

		LogAppendsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_log_appends_total",
				Help: "Total lines appended to the ingest log",
			},
		),
		LogAppendDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_log_append_duration_seconds",
				Help:    "Time taken for a single log append including fsync",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
			},
		),
		LogRotationsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_log_rotations_total",
				Help: "Total day-boundary rotations of the ingest log",
			},
		),

		ReconcileRunsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_reconcile_runs_total",
				Help: "Total startup/periodic reconciliation runs",
			},
		),
		ReconcileBackfillTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_reconcile_backfill_total",
				Help: "Total dedup rows backfilled by reconciliation",
			},
		),

		MetastoreQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_metastore_query_duration_seconds",
				Help:    "Metastore query duration by operation and backend",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
			},
			[]string{"operation", "backend"},
		),
		MetastoreConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_metastore_connections_active",
				Help: "Number of active metastore connections",
			},
		),

		AdminRateLimitedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_admin_rate_limited_total",
				Help: "Total requests rejected by the admin HTTP surface's rate limiter",
			},
			[]string{"limit_type"},
		),
	}
}

// ObserveFetch records a fetch attempt and its outcome.
func (m *Metrics) ObserveFetch(sourceID, outcome string, duration time.Duration, bytesRead int64) {
	m.FetchesTotal.WithLabelValues(sourceID, outcome).Inc()
	m.FetchDuration.WithLabelValues(sourceID).Observe(duration.Seconds())
	if bytesRead > 0 {
		m.FetchBytesTotal.WithLabelValues(sourceID).Add(float64(bytesRead))
	}
}

// ObserveCadenceSkip records a cadence-floor skip.
func (m *Metrics) ObserveCadenceSkip(sourceID string) {
	m.CadenceSkipsTotal.WithLabelValues(sourceID).Inc()
}

// ObserveThrottled records a rate-limiter rejection for the given bucket (rpm/rph).
func (m *Metrics) ObserveThrottled(sourceID, bucket string) {
	m.RateLimitThrottledTotal.WithLabelValues(sourceID, bucket).Inc()
}

// ObserveBreakerStateChange records a circuit breaker transition.
func (m *Metrics) ObserveBreakerStateChange(sourceID, from, to string) {
	m.CircuitBreakerStateChanges.WithLabelValues(sourceID, from, to).Inc()
}

// ObserveAccept records a gateway accept() outcome.
func (m *Metrics) ObserveAccept(sourceID, outcome string, duration time.Duration) {
	m.AcceptDuration.WithLabelValues(sourceID, outcome).Observe(duration.Seconds())
	switch outcome {
	case "accepted":
		m.AcceptedTotal.WithLabelValues(sourceID).Inc()
	case "deduplicated":
		m.DeduplicatedTotal.WithLabelValues(sourceID).Inc()
	}
}

// ObserveRejected records a permanent rejection with its reason.
func (m *Metrics) ObserveRejected(sourceID, reason string) {
	m.RejectedTotal.WithLabelValues(sourceID, reason).Inc()
}

// ObserveCASWrite records a CAS put(), distinguishing a fresh write from an
// idempotent no-op against an existing blob.
func (m *Metrics) ObserveCASWrite(alreadyExisted bool, bytesWritten int64) {
	if alreadyExisted {
		m.CASWritesTotal.WithLabelValues("existing").Inc()
		return
	}
	m.CASWritesTotal.WithLabelValues("written").Inc()
	m.CASBytesWritten.Add(float64(bytesWritten))
}

// ObserveLogAppend records a single ingest-log append.
func (m *Metrics) ObserveLogAppend(duration time.Duration) {
	m.LogAppendsTotal.Inc()
	m.LogAppendDuration.Observe(duration.Seconds())
}

// ObserveLogRotation records a day-boundary log rotation.
func (m *Metrics) ObserveLogRotation() {
	m.LogRotationsTotal.Inc()
}

// ObserveReconcile records a reconciliation pass and how many rows it backfilled.
func (m *Metrics) ObserveReconcile(backfilled int64) {
	m.ReconcileRunsTotal.Inc()
	m.ReconcileBackfillTotal.Add(float64(backfilled))
}

// ObserveMetastoreQuery records a metastore query's duration.
func (m *Metrics) ObserveMetastoreQuery(operation, backend string, duration time.Duration) {
	m.MetastoreQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// ObserveAdminRateLimit records a rejection from the admin HTTP surface's rate limiter.
func (m *Metrics) ObserveAdminRateLimit(limitType string) {
	m.AdminRateLimitedTotal.WithLabelValues(limitType).Inc()
}
