package metrics

import (
	"time"
)

// MeasureMetastoreQuery wraps a metastore operation with timing instrumentation.
// Usage:
//
//	defer metrics.MeasureMetastoreQuery(m, "dedup_lookup", "sqlite")()
func MeasureMetastoreQuery(m *Metrics, operation, backend string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.ObserveMetastoreQuery(operation, backend, time.Since(start))
	}
}

// RecordMetastoreQuery records a metastore query duration directly, for callers that
// already captured their own start time.
func RecordMetastoreQuery(m *Metrics, operation, backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ObserveMetastoreQuery(operation, backend, duration)
}
