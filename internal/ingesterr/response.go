package ingesterr

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Error is the structured error type returned by the Scheduler and the Gateway. It
// carries enough context for both the CLI (exit code selection, one-line human
// message) and the admin HTTP surface (JSON body) to render it without re-deriving
// anything.
type Error struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"message"`
	Retryable  bool                   `json:"retryable"`
	RetryAfter time.Duration          `json:"retry_after,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: %s (retry after %s)", e.Code, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ExitCode forwards to the underlying code's CLI exit status.
func (e *Error) ExitCode() int { return e.Code.ExitCode() }

func newError(code Code, message string, details map[string]interface{}) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: code.Retryable(),
		Details:   details,
	}
}

// Validation builds a permanent envelope-validation failure.
func Validation(field, reason string) *Error {
	return newError(ErrCodeValidation, reason, map[string]interface{}{"field": field})
}

// Policy builds a permanent policy-rejection failure.
func Policy(policyName string) *Error {
	return newError(ErrCodePolicy, "rejected by policy", map[string]interface{}{"policy": policyName})
}

// Integrity builds a permanent checksum/size-mismatch failure.
func Integrity(kind string) *Error {
	return newError(ErrCodeIntegrity, "payload integrity check failed", map[string]interface{}{"kind": kind})
}

// Skew builds a permanent clock-skew failure.
func Skew(delta time.Duration) *Error {
	e := newError(ErrCodeSkew, "fetched_at outside skew window", map[string]interface{}{"delta_seconds": delta.Seconds()})
	return e
}

// Throttled builds a transient rate-limit rejection carrying the delay the caller
// should wait before retrying.
func Throttled(retryAfter time.Duration) *Error {
	e := newError(ErrCodeThrottled, "rate limit exceeded", nil)
	e.RetryAfter = retryAfter
	return e
}

// TransientIO builds a retriable network/disk failure, naming the offending source.
func TransientIO(source string, cause error) *Error {
	msg := "transient I/O failure"
	if cause != nil {
		msg = cause.Error()
	}
	return newError(ErrCodeTransientIO, msg, map[string]interface{}{"source": source})
}

// Storage builds a fatal storage failure (disk full, permission denied).
func Storage(kind string, cause error) *Error {
	msg := "storage failure"
	if cause != nil {
		msg = cause.Error()
	}
	return newError(ErrCodeStorage, msg, map[string]interface{}{"kind": kind})
}

// CadenceSkip builds the informational "skipped, cadence floor not elapsed" result.
func CadenceSkip(nextEligible time.Time) *Error {
	return newError(ErrCodeCadence, "cadence floor not yet elapsed", map[string]interface{}{"next_eligible_at": nextEligible})
}

// DuplicateAccepted builds the informational dedup-hit result naming the envelope
// already recorded under the submission's idempotency_key.
func DuplicateAccepted(envelopeID string) *Error {
	return newError(ErrCodeDuplicate, "duplicate of existing envelope", map[string]interface{}{"envelope_id": envelopeID})
}

// Internal builds an unexpected-failure error for invariant violations and bugs.
func Internal(cause error) *Error {
	msg := "internal error"
	if cause != nil {
		msg = cause.Error()
	}
	return newError(ErrCodeInternal, msg, nil)
}

// httpStatus maps a code to a status for JSON error responses. The push server
// uses it to report rate-limit and accept() failures to the pushing client.
func httpStatus(c Code) int {
	switch c {
	case ErrCodeDuplicate, ErrCodeCadence:
		return http.StatusOK
	case ErrCodeValidation, ErrCodePolicy, ErrCodeIntegrity, ErrCodeSkew:
		return http.StatusBadRequest
	case ErrCodeThrottled:
		return http.StatusTooManyRequests
	case ErrCodeStorage, ErrCodeInternal:
		return http.StatusInternalServerError
	case ErrCodeTransientIO:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes the error as a JSON body to w, used by the push server's HTTP surface.
func (e *Error) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(e.Code))
	json.NewEncoder(w).Encode(e)
}
