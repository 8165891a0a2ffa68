package observability

import (
	"context"

	"github.com/fetchwell/ingestcore/internal/metrics"
)

// PrometheusHook adapts the ingestion core's Prometheus metrics to the hook
// interfaces, so the gateway/scheduler/log code emits plain domain events and
// never touches a metrics client directly.
type PrometheusHook struct {
	metrics *metrics.Metrics
}

// NewPrometheusHook creates a hook that emits events to Prometheus metrics.
func NewPrometheusHook(m *metrics.Metrics) *PrometheusHook {
	return &PrometheusHook{metrics: m}
}

func (h *PrometheusHook) Name() string {
	return "prometheus"
}

// ===============================================
// FetchHook Implementation
// ===============================================

func (h *PrometheusHook) OnFetchCompleted(ctx context.Context, event FetchCompletedEvent) {
	outcome := "success"
	if !event.Success {
		outcome = event.ErrorKind
		if outcome == "" {
			outcome = "error"
		}
	}
	h.metrics.ObserveFetch(event.SourceID, outcome, event.Duration, event.BytesRead)
}

func (h *PrometheusHook) OnCadenceSkip(ctx context.Context, event CadenceSkipEvent) {
	h.metrics.ObserveCadenceSkip(event.SourceID)
}

func (h *PrometheusHook) OnThrottled(ctx context.Context, event ThrottledEvent) {
	h.metrics.ObserveThrottled(event.SourceID, event.Bucket)
}

// ===============================================
// GatewayHook Implementation
// ===============================================

func (h *PrometheusHook) OnAccepted(ctx context.Context, event AcceptedEvent) {
	h.metrics.ObserveAccept(event.SourceID, "accepted", event.Duration)
}

func (h *PrometheusHook) OnDeduplicated(ctx context.Context, event DeduplicatedEvent) {
	h.metrics.ObserveAccept(event.SourceID, "deduplicated", event.Duration)
}

func (h *PrometheusHook) OnRejected(ctx context.Context, event RejectedEvent) {
	h.metrics.ObserveAccept(event.SourceID, "rejected", event.Duration)
	h.metrics.ObserveRejected(event.SourceID, event.Reason)
}

// ===============================================
// LogHook Implementation
// ===============================================

func (h *PrometheusHook) OnLogAppend(ctx context.Context, event LogAppendEvent) {
	h.metrics.ObserveLogAppend(event.Duration)
}

func (h *PrometheusHook) OnLogRotation(ctx context.Context, event LogRotationEvent) {
	h.metrics.ObserveLogRotation()
}

// ===============================================
// ReconcileHook Implementation
// ===============================================

func (h *PrometheusHook) OnReconcileRun(ctx context.Context, event ReconcileRunEvent) {
	h.metrics.ObserveReconcile(event.BackfilledRows)
}

// ===============================================
// BreakerHook Implementation
// ===============================================

func (h *PrometheusHook) OnBreakerStateChange(ctx context.Context, event BreakerStateChangeEvent) {
	h.metrics.ObserveBreakerStateChange(event.SourceID, event.From, event.To)
}
