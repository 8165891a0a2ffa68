package observability

import (
	"context"
	"time"
)

// Hook is the base interface for all envelope-lifecycle observability hooks.
// Implementations can emit events to Prometheus, a tracing backend, a log sink, etc.
type Hook interface {
	// Name returns the hook's identifier for logging/debugging.
	Name() string
}

// FetchHook receives events from the Fetch Scheduler.
type FetchHook interface {
	Hook

	// OnFetchCompleted is called after a fetch attempt, successful or not.
	OnFetchCompleted(ctx context.Context, event FetchCompletedEvent)

	// OnCadenceSkip is called when a fetch is skipped because the cadence floor has
	// not yet elapsed.
	OnCadenceSkip(ctx context.Context, event CadenceSkipEvent)

	// OnThrottled is called when the rate limiter rejects a fetch attempt.
	OnThrottled(ctx context.Context, event ThrottledEvent)
}

// GatewayHook receives events from the Ingestion Gateway's accept() pipeline.
type GatewayHook interface {
	Hook

	// OnAccepted is called when accept() seals a new envelope.
	OnAccepted(ctx context.Context, event AcceptedEvent)

	// OnDeduplicated is called when accept() finds an existing dedup record.
	OnDeduplicated(ctx context.Context, event DeduplicatedEvent)

	// OnRejected is called when accept() permanently rejects a submission.
	OnRejected(ctx context.Context, event RejectedEvent)
}

// LogHook receives events from the Ingest Log.
type LogHook interface {
	Hook

	// OnLogAppend is called after a line is appended (and fsynced) to the log.
	OnLogAppend(ctx context.Context, event LogAppendEvent)

	// OnLogRotation is called when a day-boundary rotation occurs.
	OnLogRotation(ctx context.Context, event LogRotationEvent)
}

// ReconcileHook receives events from startup and periodic reconciliation.
type ReconcileHook interface {
	Hook

	// OnReconcileRun is called after a reconciliation pass completes.
	OnReconcileRun(ctx context.Context, event ReconcileRunEvent)
}

// BreakerHook receives circuit breaker state transitions.
type BreakerHook interface {
	Hook

	// OnBreakerStateChange is called when a per-source circuit breaker transitions.
	OnBreakerStateChange(ctx context.Context, event BreakerStateChangeEvent)
}

// ===============================================
// Event Types
// ===============================================

// FetchCompletedEvent is emitted after a fetch attempt.
type FetchCompletedEvent struct {
	Timestamp time.Time
	SourceID  string
	URL       string
	Success   bool
	ErrorKind string // "", "transient_io", "internal_error" — empty when Success
	Duration  time.Duration
	BytesRead int64
	Attempt   int
}

// CadenceSkipEvent is emitted when a fetch is skipped due to cadence.
type CadenceSkipEvent struct {
	Timestamp    time.Time
	SourceID     string
	LastFetched  time.Time
	NextEligible time.Time
}

// ThrottledEvent is emitted when the rate limiter rejects a fetch.
type ThrottledEvent struct {
	Timestamp  time.Time
	SourceID   string
	Bucket     string // "rpm" or "rph"; empty when the emitter cannot tell which bucket throttled (the Scheduler always leaves it empty)
	RetryAfter time.Duration
}

// AcceptedEvent is emitted when the gateway accepts a new envelope.
type AcceptedEvent struct {
	Timestamp  time.Time
	SourceID   string
	EnvelopeID string
	PayloadRef string
	SizeBytes  int64
	Duration   time.Duration
}

// DeduplicatedEvent is emitted when the gateway finds an existing dedup record.
type DeduplicatedEvent struct {
	Timestamp      time.Time
	SourceID       string
	EnvelopeID     string
	IdempotencyKey string
	Duration       time.Duration
}

// RejectedEvent is emitted when the gateway permanently rejects a submission.
type RejectedEvent struct {
	Timestamp time.Time
	SourceID  string
	Reason    string // validation_error | policy_error | integrity_error | skew_error
	Detail    string
	Duration  time.Duration
}

// LogAppendEvent is emitted after a line is durably appended to the ingest log.
type LogAppendEvent struct {
	Timestamp  time.Time
	FileDate   string
	ByteOffset int64
	LineBytes  int
	Duration   time.Duration
}

// LogRotationEvent is emitted when the log rotates to a new day's file.
type LogRotationEvent struct {
	Timestamp   time.Time
	PreviousDay string
	NewDay      string
}

// ReconcileRunEvent is emitted after a reconciliation pass.
type ReconcileRunEvent struct {
	Timestamp      time.Time
	ScannedEntries int64
	BackfilledRows int64
	Duration       time.Duration
}

// BreakerStateChangeEvent is emitted on a per-source circuit breaker transition.
type BreakerStateChangeEvent struct {
	Timestamp time.Time
	SourceID  string
	From      string
	To        string
}
