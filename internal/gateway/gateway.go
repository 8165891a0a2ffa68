// Package gateway implements the Ingestion Gateway's accept() pipeline: the
// single place where a submission becomes either a newly sealed envelope, a
// duplicate of one already on record, or a permanent rejection.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fetchwell/ingestcore/internal/cas"
	"github.com/fetchwell/ingestcore/internal/envelope"
	"github.com/fetchwell/ingestcore/internal/ingesterr"
	"github.com/fetchwell/ingestcore/internal/metastore"
	"github.com/fetchwell/ingestcore/internal/observability"
	"github.com/fetchwell/ingestcore/internal/registry"
)

// Appender is the subset of the Ingest Log the Gateway writes to. Defined here
// instead of imported directly so ingestlog can depend on envelope without the
// gateway package needing to know about rotation, symlinks, or readers.
type Appender interface {
	Append(ctx context.Context, line []byte) (fileDate string, byteOffset int64, err error)
}

// Result is the outcome of a successful accept() call — Accepted or
// Deduplicated. Rejected outcomes are reported as an *ingesterr.Error instead,
// matching the Scheduler's error-return convention.
type Result struct {
	Outcome    string // "accepted" | "deduplicated"
	EnvelopeID string
	PayloadRef string
}

// Gateway runs the accept() pipeline described by the Ingestion Gateway's
// contract: schema validation, registry/policy check, integrity check, skew
// check, dedup probe, CAS write, seal, log append, dedup insert.
type Gateway struct {
	registry    registry.Lookup
	metastore   metastore.Store
	store       cas.Store
	appender    Appender
	hooks       *observability.Registry
	skewWindow  time.Duration
	maxEnvelope int64
	now         func() time.Time
}

// New builds a Gateway. skewWindow bounds the allowed delta between
// timing.fetched_at and gateway_received_at; maxEnvelopeBytes bounds the
// submitted envelope JSON, independent of the payload's own size ceiling.
func New(
	reg registry.Lookup,
	meta metastore.Store,
	store cas.Store,
	appender Appender,
	hooks *observability.Registry,
	skewWindow time.Duration,
	maxEnvelopeBytes int64,
) *Gateway {
	return &Gateway{
		registry:    reg,
		metastore:   meta,
		store:       store,
		appender:    appender,
		hooks:       hooks,
		skewWindow:  skewWindow,
		maxEnvelope: maxEnvelopeBytes,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Accept runs the full ten-step pipeline over a submission envelope and its
// payload bytes. raw is the envelope's own JSON encoding, used for step-1
// schema validation and size enforcement; submission is the parsed form the
// Scheduler already built in memory.
func (g *Gateway) Accept(ctx context.Context, submission *envelope.Envelope, payload []byte) (*Result, error) {
	start := time.Now()

	// Step 1: schema validation. The Scheduler builds submissions in memory rather
	// than handing the Gateway raw bytes, so re-marshal to run the same pure
	// validator a standalone submitter's JSON would go through.
	raw, err := marshalEnvelope(submission)
	if err != nil {
		return nil, g.reject(ctx, submission, "validation_error", err.Error(), start)
	}
	if int64(len(raw)) > g.maxEnvelope {
		return nil, g.reject(ctx, submission, "validation_error", "envelope exceeds max_envelope_bytes", start)
	}
	if reasons := envelope.Validate(raw, submission); len(reasons) > 0 {
		return nil, g.reject(ctx, submission, "validation_error", reasons.Error(), start)
	}

	// Step 2: registry & policy check.
	spec, err := g.registry.Get(submission.SourceID)
	if err != nil {
		return nil, g.reject(ctx, submission, "policy_error", "unknown source_id", start)
	}
	if !spec.Enabled {
		return nil, g.reject(ctx, submission, "policy_error", "source disabled", start)
	}
	if !spec.AcceptsMimeType(submission.PayloadMeta.MimeType) {
		return nil, g.reject(ctx, submission, "policy_error", "mime_type not allowed for source", start)
	}
	if submission.PayloadMeta.SizeBytes > spec.MaxPayloadBytes {
		return nil, g.reject(ctx, submission, "policy_error", "size_bytes exceeds max_payload_bytes", start)
	}
	if submission.Legal.LicenseID != spec.LicenseID {
		return nil, g.reject(ctx, submission, "policy_error", "license not allowed for source", start)
	}

	// Step 3: integrity check.
	digest := sha256Hex(payload)
	if digest != submission.PayloadMeta.Checksum.SHA256 {
		return nil, g.reject(ctx, submission, "integrity_error", "checksum mismatch", start)
	}
	if int64(len(payload)) != submission.PayloadMeta.SizeBytes {
		return nil, g.reject(ctx, submission, "integrity_error", "size_bytes mismatch", start)
	}
	if sniffed := http.DetectContentType(payload); sniffed != submission.PayloadMeta.MimeType {
		return nil, g.reject(ctx, submission, "policy_error", "mime_mismatch", start)
	}

	// Step 4: skew check.
	receivedAt := g.now()
	delta := receivedAt.Sub(submission.Timing.FetchedAt)
	if delta < 0 {
		delta = -delta
	}
	if delta > g.skewWindow {
		g.hooks.EmitRejected(ctx, observability.RejectedEvent{
			Timestamp: receivedAt,
			SourceID:  submission.SourceID,
			Reason:    "skew_error",
			Detail:    "fetched_at outside skew window",
			Duration:  time.Since(start),
		})
		return nil, ingesterr.Skew(delta)
	}

	// Step 5: dedup probe.
	if existing, found, err := g.metastore.DedupLookup(ctx, submission.IdempotencyKey); err != nil {
		return nil, ingesterr.Storage("dedup_lookup", err)
	} else if found {
		g.hooks.EmitDeduplicated(ctx, observability.DeduplicatedEvent{
			Timestamp:      receivedAt,
			SourceID:       submission.SourceID,
			EnvelopeID:     existing,
			IdempotencyKey: submission.IdempotencyKey,
			Duration:       time.Since(start),
		})
		return &Result{Outcome: "deduplicated", EnvelopeID: existing}, nil
	}

	// Step 6: CAS write. Idempotent regardless of how the dedup probe above
	// resolves, since a concurrent submission for the same bytes under a different
	// idempotency_key is a legitimate, separate envelope.
	if _, _, err := g.store.Put(ctx, payload); err != nil {
		return nil, ingesterr.Storage("cas_write", err)
	}

	// Step 7: seal envelope.
	sealed := *submission
	sealed.EnvelopeID = uuid.NewString()
	sealed.GatewayReceivedAt = &receivedAt
	sealed.PayloadRef = cas.PayloadRef(digest)
	if sealed.Trace == nil {
		sealed.Trace = &envelope.Trace{}
	}
	if sealed.Trace.TraceID == "" {
		sealed.Trace.TraceID = uuid.NewString()
	}

	sealedLine, err := marshalEnvelope(&sealed)
	if err != nil {
		return nil, ingesterr.Internal(err)
	}

	// Step 8: append to log. The sealed envelope is now durable even if the
	// process crashes before step 9; startup reconciliation backfills the dedup
	// index from the log in that case.
	if _, _, err := g.appender.Append(ctx, sealedLine); err != nil {
		return nil, ingesterr.Storage("log_append", err)
	}

	// Step 9: insert into dedup index. A losing race here means another goroutine
	// or process already sealed this key first; report its envelope_id as the
	// authoritative one rather than the one this call just minted, since the log
	// now holds two lines but only the first is reachable via the index.
	inserted, winningEnvelopeID, err := g.metastore.DedupInsert(ctx, submission.IdempotencyKey, sealed.EnvelopeID, receivedAt)
	if err != nil {
		return nil, ingesterr.Storage("dedup_insert", err)
	}
	if !inserted {
		return &Result{Outcome: "deduplicated", EnvelopeID: winningEnvelopeID}, nil
	}

	g.hooks.EmitAccepted(ctx, observability.AcceptedEvent{
		Timestamp:  receivedAt,
		SourceID:   submission.SourceID,
		EnvelopeID: sealed.EnvelopeID,
		PayloadRef: sealed.PayloadRef,
		SizeBytes:  submission.PayloadMeta.SizeBytes,
		Duration:   time.Since(start),
	})

	return &Result{Outcome: "accepted", EnvelopeID: sealed.EnvelopeID, PayloadRef: sealed.PayloadRef}, nil
}

func (g *Gateway) reject(ctx context.Context, submission *envelope.Envelope, reason, detail string, start time.Time) *ingesterr.Error {
	g.hooks.EmitRejected(ctx, observability.RejectedEvent{
		Timestamp: g.now(),
		SourceID:  submission.SourceID,
		Reason:    reason,
		Detail:    detail,
		Duration:  time.Since(start),
	})
	switch reason {
	case "policy_error":
		return ingesterr.Policy(detail)
	case "integrity_error":
		return ingesterr.Integrity(detail)
	default:
		return ingesterr.Validation("envelope", detail)
	}
}
