// Package ingesterr defines the error taxonomy shared by the Fetch Scheduler, the
// Ingestion Gateway, and the CLI commands that front them.
package ingesterr

// Code is a machine-readable error identifier used for CLI exit-code selection and
// structured logging.
type Code string

// Gateway/scheduler error codes.
const (
	// ErrCodeValidation marks a malformed envelope: missing field, bad timestamp,
	// unknown envelope_version, unparsable JSON.
	ErrCodeValidation Code = "validation_error"

	// ErrCodePolicy marks a policy rejection: disabled source, disallowed mime type,
	// payload over the source's configured size ceiling.
	ErrCodePolicy Code = "policy_error"

	// ErrCodeIntegrity marks a checksum or declared-size mismatch between the claimed
	// and received payload bytes.
	ErrCodeIntegrity Code = "integrity_error"

	// ErrCodeSkew marks a fetched_at/gateway_received_at delta outside the configured
	// skew window.
	ErrCodeSkew Code = "skew_error"

	// ErrCodeThrottled marks a rate-limiter rejection; the caller should back off for
	// the accompanying retry_after duration.
	ErrCodeThrottled Code = "throttled"

	// ErrCodeTransientIO marks a network, DNS, socket, or temporary-disk failure.
	ErrCodeTransientIO Code = "transient_io"

	// ErrCodeStorage marks a disk-full, permission-denied, or metastore-unavailable
	// failure. Not retried automatically; requires operator attention.
	ErrCodeStorage Code = "storage_error"

	// ErrCodeCadence marks a fetch skipped because the source's cadence floor has not
	// yet elapsed. Not an error condition.
	ErrCodeCadence Code = "cadence_skip"

	// ErrCodeDuplicate marks an envelope that matched an existing dedup record. Not an
	// error condition.
	ErrCodeDuplicate Code = "duplicate_accepted"

	// ErrCodeInternal marks an unexpected internal failure: invariant violation, bug.
	ErrCodeInternal Code = "internal_error"
)

// Retryable reports whether a caller should retry an operation that failed with this
// code. Validation, policy, integrity, and skew failures are permanent for the given
// input bytes; throttling and transient I/O are worth retrying with backoff; storage
// failures need operator intervention before a retry has any chance of succeeding.
func (c Code) Retryable() bool {
	switch c {
	case ErrCodeThrottled, ErrCodeTransientIO:
		return true
	default:
		return false
	}
}

// ExitCode maps a code to the CLI exit status contract: 0 for accepted or
// deduplicated, 2 for a cadence skip, 3 for a permanent rejection, 4 for a transient
// or internal error that merits a retry at the shell level.
func (c Code) ExitCode() int {
	switch c {
	case ErrCodeDuplicate:
		return 0
	case ErrCodeCadence:
		return 2
	case ErrCodeValidation, ErrCodePolicy, ErrCodeIntegrity, ErrCodeSkew, ErrCodeStorage:
		return 3
	case ErrCodeThrottled, ErrCodeTransientIO, ErrCodeInternal:
		return 4
	default:
		return 4
	}
}
