// Package scheduler implements the Fetch Scheduler: cadence-gated,
// rate-limited HTTP acquisition that hands a sealed submission envelope to the
// Gateway.
package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fetchwell/ingestcore/internal/circuitbreaker"
	"github.com/fetchwell/ingestcore/internal/envelope"
	"github.com/fetchwell/ingestcore/internal/httputil"
	"github.com/fetchwell/ingestcore/internal/ingesterr"
	"github.com/fetchwell/ingestcore/internal/metastore"
	"github.com/fetchwell/ingestcore/internal/observability"
	"github.com/fetchwell/ingestcore/internal/ratelimiter"
	"github.com/fetchwell/ingestcore/internal/registry"
)

// LogicalSliceFunc derives the per-source logical slice used to build a
// deterministic idempotency key (often a UTC date or a cursor). The default
// keys by UTC date, matching "often YYYY-MM-DD" from the Fetch Scheduler's
// idempotency-key contract.
type LogicalSliceFunc func(sourceID string, now time.Time) string

// DefaultLogicalSlice keys by the current UTC date.
func DefaultLogicalSlice(_ string, now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// Acceptor is the subset of the Gateway the Scheduler calls into. Defining it
// here (rather than importing the gateway package directly) keeps the
// dependency direction Scheduler -> Acceptor, Gateway implements Acceptor,
// avoiding an import cycle between scheduler and gateway.
type Acceptor interface {
	Accept(ctx context.Context, submission *envelope.Envelope, payload []byte) (*AcceptResult, error)
}

// AcceptResult mirrors the Gateway's accept() outcome, duplicated here instead
// of imported to keep this package's only gateway dependency the Acceptor
// interface above.
type AcceptResult struct {
	Outcome    string // "accepted" | "deduplicated"
	EnvelopeID string
	PayloadRef string
}

// Outcome describes what fetch_once actually did.
type Outcome struct {
	Status     string // "accepted" | "deduplicated" | "skipped_cadence" | "rejected"
	EnvelopeID string
	PayloadRef string
}

// Options controls a single fetch_once invocation.
type Options struct {
	BypassCadence bool
}

// Scheduler executes fetch_once for a given source, enforcing cadence and rate
// limits before issuing the HTTP request.
type Scheduler struct {
	registry      registry.Lookup
	metastore     metastore.Store
	limiter       *ratelimiter.Limiter
	breakers      *circuitbreaker.Manager
	acceptor      Acceptor
	hooks         *observability.Registry
	client        *http.Client
	logicalSlice  LogicalSliceFunc
	cadenceFloor  time.Duration
	throttleBudget time.Duration
}

// New builds a Scheduler. cadenceFloor is the global minimum inter-fetch
// interval (overridable per-source via SourceSpec.CadenceFloorSecs).
// throttleBudget bounds how long fetch_once will sleep across retries when the
// rate limiter reports Throttled before giving up.
func New(
	reg registry.Lookup,
	meta metastore.Store,
	limiter *ratelimiter.Limiter,
	breakers *circuitbreaker.Manager,
	acceptor Acceptor,
	hooks *observability.Registry,
	cadenceFloor, throttleBudget time.Duration,
) *Scheduler {
	return &Scheduler{
		registry:       reg,
		metastore:      meta,
		limiter:        limiter,
		breakers:       breakers,
		acceptor:       acceptor,
		hooks:          hooks,
		client:         httputil.NewClient(0), // per-request timeout set via context below
		logicalSlice:   DefaultLogicalSlice,
		cadenceFloor:   cadenceFloor,
		throttleBudget: throttleBudget,
	}
}

// WithLogicalSlice overrides the default UTC-date logical slice function, for
// sources whose idempotency key is cursor-based instead of date-based.
func (s *Scheduler) WithLogicalSlice(fn LogicalSliceFunc) *Scheduler {
	s.logicalSlice = fn
	return s
}

// FetchOnce runs one cadence-gated, rate-limited fetch+accept cycle for sourceID.
func (s *Scheduler) FetchOnce(ctx context.Context, sourceID string, opts Options) (*Outcome, *ingesterr.Error) {
	spec, err := s.registry.Get(sourceID)
	if err != nil {
		return nil, ingesterr.Validation("source_id", "unknown source: "+sourceID)
	}
	if !spec.Enabled {
		return nil, ingesterr.Policy("source_disabled")
	}

	if !opts.BypassCadence {
		skip, nextEligible, cadenceErr := s.checkCadence(ctx, spec)
		if cadenceErr != nil {
			return nil, cadenceErr
		}
		if skip {
			s.hooks.EmitCadenceSkip(ctx, observability.CadenceSkipEvent{
				Timestamp:    time.Now().UTC(),
				SourceID:     sourceID,
				NextEligible: nextEligible,
			})
			return &Outcome{Status: "skipped_cadence"}, nil
		}
	}

	if err := s.throttle(ctx, spec); err != nil {
		return nil, err
	}

	start := time.Now()
	payload, req, statusCode, fetchErr := s.doFetch(ctx, spec)
	duration := time.Since(start)

	s.hooks.EmitFetchCompleted(ctx, observability.FetchCompletedEvent{
		Timestamp: time.Now().UTC(),
		SourceID:  sourceID,
		URL:       spec.Endpoint,
		Success:   fetchErr == nil,
		ErrorKind: errorKind(fetchErr),
		Duration:  duration,
		BytesRead: int64(len(payload)),
	})
	if fetchErr != nil {
		return nil, fetchErr
	}

	now := time.Now().UTC()
	sum := sha256.Sum256(payload)
	checksum := hex.EncodeToString(sum[:])
	idempotencyKey := s.idempotencyKey(sourceID, req.URL.String(), now)

	submission := &envelope.Envelope{
		EnvelopeVersion: envelope.Version,
		SourceID:        sourceID,
		IdempotencyKey:  idempotencyKey,
		PayloadMeta: envelope.PayloadMeta{
			SizeBytes: int64(len(payload)),
			Checksum:  envelope.Checksum{SHA256: checksum},
			MimeType:  mimeTypeOf(payload, req),
		},
		Request: envelope.Request{URL: req.URL.String(), Method: req.Method, StatusCode: statusCode},
		Timing:  envelope.Timing{FetchedAt: now},
		Legal:   envelope.Legal{LicenseID: spec.LicenseID},
	}

	result, acceptErr := s.acceptor.Accept(ctx, submission, payload)
	if acceptErr != nil {
		if ierr, ok := acceptErr.(*ingesterr.Error); ok {
			return nil, ierr
		}
		return nil, ingesterr.Internal(acceptErr)
	}

	// Cadence only advances on successful acceptance, per the Scheduler's contract.
	if err := s.metastore.CadenceSet(ctx, sourceID, now); err != nil {
		return nil, ingesterr.Storage("cadence_update", err)
	}

	return &Outcome{
		Status:     result.Outcome,
		EnvelopeID: result.EnvelopeID,
		PayloadRef: result.PayloadRef,
	}, nil
}

// checkCadence reports whether the fetch should be skipped because the
// cadence floor has not yet elapsed.
func (s *Scheduler) checkCadence(ctx context.Context, spec *registry.SourceSpec) (bool, time.Time, *ingesterr.Error) {
	lastFetchedAt, found, err := s.metastore.CadenceGet(ctx, spec.SourceID)
	if err != nil {
		return false, time.Time{}, ingesterr.Storage("cadence_read", err)
	}
	if !found {
		return false, time.Time{}, nil
	}

	floor := s.cadenceFloor
	if spec.CadenceFloorSecs > 0 {
		floor = time.Duration(spec.CadenceFloorSecs) * time.Second
	}

	nextEligible := lastFetchedAt.Add(floor)
	if time.Now().UTC().Before(nextEligible) {
		return true, nextEligible, nil
	}
	return false, time.Time{}, nil
}

// throttle acquires rate-limiter tokens, sleeping within the scheduler's
// bounded retry budget rather than busy-waiting, per the Rate Limiter's
// non-blocking contract.
func (s *Scheduler) throttle(ctx context.Context, spec *registry.SourceSpec) *ingesterr.Error {
	deadline := time.Now().Add(s.throttleBudget)
	for {
		err := s.limiter.Reserve(spec.SourceID, spec.RateLimitRPM, spec.RateLimitRPH)
		if err == nil {
			return nil
		}
		s.hooks.EmitThrottled(ctx, observability.ThrottledEvent{
			Timestamp:  time.Now().UTC(),
			SourceID:   spec.SourceID,
			RetryAfter: err.RetryAfter,
		})
		if time.Now().Add(err.RetryAfter).After(deadline) {
			return err
		}
		ratelimiter.Wait(err.RetryAfter)
	}
}

// doFetch issues the HTTP request through the source's circuit breaker,
// streaming the body and aborting if it exceeds max_payload_bytes.
func (s *Scheduler) doFetch(ctx context.Context, spec *registry.SourceSpec) ([]byte, *http.Request, int, *ingesterr.Error) {
	fetchCtx, cancel := context.WithTimeout(ctx, time.Duration(spec.TimeoutMS)*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, spec.Method, spec.Endpoint, nil)
	if err != nil {
		return nil, nil, 0, ingesterr.Internal(err)
	}

	result, execErr := s.breakers.Execute(spec.SourceID, func() (interface{}, error) {
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		limited := io.LimitReader(resp.Body, spec.MaxPayloadBytes+1)
		body, readErr := io.ReadAll(limited)
		if readErr != nil {
			return nil, readErr
		}
		if int64(len(body)) > spec.MaxPayloadBytes {
			return nil, fmt.Errorf("payload exceeds max_payload_bytes (%d)", spec.MaxPayloadBytes)
		}
		return fetchResult{body: body, status: resp.StatusCode}, nil
	})
	if execErr != nil {
		return nil, req, 0, ingesterr.TransientIO(spec.SourceID, execErr)
	}

	fr := result.(fetchResult)
	return fr.body, req, fr.status, nil
}

type fetchResult struct {
	body   []byte
	status int
}

func (s *Scheduler) idempotencyKey(sourceID, url string, now time.Time) string {
	slice := s.logicalSlice(sourceID, now)
	return fmt.Sprintf("%s|%s|%s", sourceID, slice, url)
}

func mimeTypeOf(payload []byte, req *http.Request) string {
	return http.DetectContentType(payload)
}

func errorKind(err *ingesterr.Error) string {
	if err == nil {
		return ""
	}
	return string(err.Code)
}
